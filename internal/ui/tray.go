// Package ui is the system tray shown while the agent serves renders.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/heimdex/avatar-agent/internal/catalog"
	"github.com/heimdex/avatar-agent/internal/pipeline"
)

// RunnerControl is the part of the job runner the tray drives.
type RunnerControl interface {
	Pause()
	Resume()
	IsPaused() bool
}

type Tray struct {
	catalogSvc catalog.CatalogService
	runner     RunnerControl
	hub        *catalog.Hub
	logger     *slog.Logger

	statusItem *systray.MenuItem
	queueItem  *systray.MenuItem
	pauseItem  *systray.MenuItem

	mu         sync.Mutex
	status     trayStatus
	stopEvents context.CancelFunc

	onOpenInbox func() error
	onQuit      func()
}

type TrayConfig struct {
	CatalogService catalog.CatalogService
	Runner         RunnerControl
	Hub            *catalog.Hub
	Logger         *slog.Logger
	OnOpenInbox    func() error
	OnQuit         func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		catalogSvc:  cfg.CatalogService,
		runner:      cfg.Runner,
		hub:         cfg.Hub,
		logger:      cfg.Logger,
		onOpenInbox: cfg.OnOpenInbox,
		onQuit:      cfg.OnQuit,
	}
}

// Run blocks on the platform event loop until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(Icon())
	systray.SetTitle("Avatar")
	systray.SetTooltip("Avatar Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current render")
	t.statusItem.Disable()

	t.queueItem = systray.AddMenuItem("Queue: 0", "Jobs waiting to render")
	t.queueItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Stop starting new renders")
	inboxItem := systray.AddMenuItem("Open Inbox", "Drop request files here")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Avatar Agent")

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-inboxItem.ClickedCh:
				t.handleOpenInbox()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.stopEvents = cancel
	t.mu.Unlock()
	if t.hub != nil {
		go t.follow(ctx)
	}
	t.refreshQueue(ctx)

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.mu.Lock()
	if t.stopEvents != nil {
		t.stopEvents()
	}
	t.mu.Unlock()
	t.logger.Info("system tray exiting")
}

// follow keeps the status line in step with render events.
func (t *Tray) follow(ctx context.Context) {
	events, unsubscribe := t.hub.Subscribe("")
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			t.mu.Lock()
			t.status = t.status.apply(ev)
			t.render()
			t.mu.Unlock()
			if ev.State.Terminal() {
				t.refreshQueue(ctx)
			}
		}
	}
}

func (t *Tray) refreshQueue(ctx context.Context) {
	if t.catalogSvc == nil {
		return
	}
	counts, err := t.catalogSvc.Counts(ctx)
	if err != nil {
		t.logger.Debug("failed to count jobs", "error", err)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queueItem != nil {
		t.queueItem.SetTitle(queueTitle(counts))
	}
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.status.paused = false
		t.pauseItem.SetTitle("Pause")
	} else {
		t.runner.Pause()
		t.status.paused = true
		t.pauseItem.SetTitle("Resume")
	}
	t.render()
}

func (t *Tray) handleOpenInbox() {
	if t.onOpenInbox != nil {
		if err := t.onOpenInbox(); err != nil {
			t.logger.Error("failed to open inbox", "error", err)
		}
	}
}

// render must be called with mu held.
func (t *Tray) render() {
	if t.statusItem != nil {
		t.statusItem.SetTitle(t.status.title())
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

// trayStatus is what the status line shows.
type trayStatus struct {
	paused   bool
	jobID    string
	stage    string
	progress int
	lastErr  string
}

func (s trayStatus) apply(ev catalog.JobEvent) trayStatus {
	switch ev.State {
	case pipeline.StateDone:
		s.jobID, s.stage, s.progress, s.lastErr = "", "", 0, ""
	case pipeline.StateFailed:
		s.jobID, s.stage, s.progress = "", "", 0
		s.lastErr = ev.Kind
		if s.lastErr == "" {
			s.lastErr = "error"
		}
	default:
		s.jobID, s.stage, s.progress = ev.JobID, ev.Stage, ev.Progress
	}
	return s
}

func (s trayStatus) title() string {
	switch {
	case s.jobID != "":
		title := fmt.Sprintf("Status: Rendering %s (%d%%)", s.stage, s.progress)
		if s.paused {
			title += ", pausing"
		}
		return title
	case s.paused:
		return "Status: Paused"
	case s.lastErr != "":
		return "Status: Last render failed (" + s.lastErr + ")"
	}
	return "Status: Idle"
}

func queueTitle(counts map[string]int) string {
	return fmt.Sprintf("Queue: %d pending, %d done", counts[catalog.JobStatusPending], counts[catalog.JobStatusCompleted])
}
