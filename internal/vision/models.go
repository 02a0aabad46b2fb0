package vision

import (
	"context"
	_ "embed"
	"encoding/base64"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/heimdex/avatar-agent/internal/imaging"
)

//go:embed vision_helper.py
var helperScript []byte

// caller is the part of Worker the backends use.
type caller interface {
	Call(req, resp any) error
}

// Models is the process-wide handle to the face models. The helper process
// starts on first use, loads each model once, and is shared by every render
// until Close. A helper that dies is restarted on the next call.
type Models struct {
	python    string
	scriptDir string
	device    string
	logger    *slog.Logger

	timeout time.Duration

	mu     sync.Mutex
	worker *Worker
	start  func() (caller, error)
	cached caller
}

// NewModels creates an unstarted handle. scriptDir receives a copy of the
// embedded helper script.
func NewModels(python, scriptDir, device string, logger *slog.Logger) *Models {
	m := &Models{python: python, scriptDir: scriptDir, device: device, logger: logger}
	m.start = m.startWorker
	return m
}

// SetCallTimeout bounds each helper call. A call that overruns stops the
// helper; the next call starts a fresh one.
func (m *Models) SetCallTimeout(d time.Duration) { m.timeout = d }

func (m *Models) startWorker() (caller, error) {
	if err := os.MkdirAll(m.scriptDir, 0755); err != nil {
		return nil, err
	}
	script := filepath.Join(m.scriptDir, "vision_helper.py")
	if err := os.WriteFile(script, helperScript, 0644); err != nil {
		return nil, fmt.Errorf("install vision helper: %w", err)
	}

	w, err := StartWorker(m.python, script, nil)
	if err != nil {
		return nil, err
	}
	m.worker = w
	m.logger.Info("vision helper started", "python", m.python, "device", m.device)
	return w, nil
}

func (m *Models) get() (caller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		if m.worker == nil || m.worker.Alive() {
			return m.cached, nil
		}
		m.logger.Warn("vision helper died, restarting", "stderr_tail", m.worker.Stderr())
		m.worker.Kill()
		m.worker = nil
		m.cached = nil
	}

	c, err := m.start()
	if err != nil {
		return nil, err
	}
	m.cached = c
	return c, nil
}

func (m *Models) call(ctx context.Context, req, resp any) error {
	c, err := m.get()
	if err != nil {
		return err
	}
	if m.timeout <= 0 && ctx.Done() == nil {
		return c.Call(req, resp)
	}

	done := make(chan error, 1)
	go func() { done <- c.Call(req, resp) }()

	var expired <-chan time.Time
	if m.timeout > 0 {
		t := time.NewTimer(m.timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case err := <-done:
		return err
	case <-expired:
		m.logger.Warn("vision helper call timed out, stopping helper", "timeout", m.timeout)
		m.discard(c)
		return fmt.Errorf("vision helper timed out after %s", m.timeout)
	case <-ctx.Done():
		// the helper cannot abandon a frame midway
		m.discard(c)
		return ctx.Err()
	}
}

// discard kills the helper behind c, unless it was already replaced.
func (m *Models) discard(c caller) {
	m.mu.Lock()
	if m.cached != c {
		m.mu.Unlock()
		return
	}
	w := m.worker
	m.cached, m.worker = nil, nil
	m.mu.Unlock()

	if w != nil {
		w.Kill()
	}
}

// Close stops the helper if it was started.
func (m *Models) Close() error {
	m.mu.Lock()
	w := m.worker
	m.cached, m.worker = nil, nil
	m.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Close()
}

type frameRequest struct {
	Op     string `json:"op"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	RGB    string `json:"rgb"`
	Model  string `json:"model,omitempty"`
	Device string `json:"device,omitempty"`
}

func newFrameRequest(op string, img image.Image) frameRequest {
	rgba := imaging.ToRGBA(img)
	b := rgba.Bounds()
	raw := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := rgba.Pix[rgba.PixOffset(b.Min.X, y):rgba.PixOffset(b.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			raw = append(raw, row[i], row[i+1], row[i+2])
		}
	}
	return frameRequest{
		Op:     op,
		Width:  b.Dx(),
		Height: b.Dy(),
		RGB:    base64.StdEncoding.EncodeToString(raw),
	}
}
