package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/heimdex/avatar-agent/internal/api"
	"github.com/heimdex/avatar-agent/internal/catalog"
	"github.com/heimdex/avatar-agent/internal/config"
	"github.com/heimdex/avatar-agent/internal/db"
	"github.com/heimdex/avatar-agent/internal/logging"
	"github.com/heimdex/avatar-agent/internal/pipelines"
	"github.com/heimdex/avatar-agent/internal/playback"
	"github.com/heimdex/avatar-agent/internal/ui"
	"github.com/heimdex/avatar-agent/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local render service: HTTP API, inbox watcher and tray",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	f := serveCmd.Flags()
	f.Int("port", 0, "HTTP port on 127.0.0.1")
	f.Bool("headless", false, "run without the system tray")
	f.String("inbox", "", "directory watched for *.json render requests")

	_ = viper.BindPFlag("port", f.Lookup("port"))
	_ = viper.BindPFlag("headless", f.Lookup("headless"))
	_ = viper.BindPFlag("inbox_dir", f.Lookup("inbox"))
}

func runServe(ctx context.Context) error {
	startTime := time.Now()

	cfg, err := loadConfig(logging.FormatJSON)
	if err != nil {
		return err
	}
	for _, dir := range []string{cfg.DataDir(), cfg.WorkRoot()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel(), cfg.LogFormat())
	logger.Info("starting avatar agent", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}
	authToken, err := ensureAuthToken(ctx, repo, cfg.APIToken())
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if caps, err := st.doctor.Refresh(ctx); err != nil {
		logger.Warn("initial doctor probe failed", "error", err)
	} else if missing := caps.Missing(requiredTools...); len(missing) > 0 {
		logger.Warn("renders will fail until these tools are installed", "missing", missing)
	}

	hub := catalog.NewHub()
	catalogSvc := catalog.NewService(repo, st.orch, hub, logging.WithComponent(logger, "catalog"))
	runner := catalog.NewRunner(catalogSvc, repo, logging.WithComponent(logger, "runner"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go runner.Start(ctx)

	render := st.orch.Config()
	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Version:        config.Version,
		CatalogService: catalogSvc,
		PlaybackServer: playback.NewServer(logger),
		Repository:     repo,
		Runner:         runner,
		Doctor:         st.doctor,
		Hub:            hub,
		Render:         &render,
		UploadDir:      filepath.Join(cfg.DataDir(), "uploads"),
		Logger:         logging.WithComponent(logger, "api"),
		StartTime:      startTime,
		DeviceID:       deviceID,
	})
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	fw, err := watcher.NewFSWatcher(logger, watcher.DefaultSettle)
	if err != nil {
		return fmt.Errorf("failed to create inbox watcher: %w", err)
	}
	defer fw.Stop()
	inbox := watcher.NewInbox(cfg.InboxDir(), catalogSvc, fw, logging.WithComponent(logger, "inbox"))
	inbox.OnSubmit = func(*catalog.Job) { runner.Wake() }
	if err := inbox.Start(ctx); err != nil {
		logger.Warn("inbox disabled", "dir", cfg.InboxDir(), "error", err)
	}

	fmt.Println(banner("Avatar Agent "+config.Version, [][2]string{
		{"API URL", fmt.Sprintf("http://127.0.0.1:%d", cfg.Port())},
		{"Auth token", authToken},
		{"Device ID", deviceID[:16] + "..."},
		{"Inbox", cfg.InboxDir()},
	}))

	quitCh := make(chan struct{})
	var tray *ui.Tray
	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			CatalogService: catalogSvc,
			Runner:         runner,
			Hub:            hub,
			Logger:         logging.WithComponent(logger, "tray"),
			OnOpenInbox:    func() error { return openDir(cfg.InboxDir()) },
			OnQuit:         func() { close(quitCh) },
		})
		go tray.Run()
	}

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case <-quitCh:
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()
	if tray != nil {
		tray.Quit()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// requiredTools are needed by every render regardless of caption mode.
var requiredTools = []string{pipelines.ToolFFmpeg, pipelines.ToolFFprobe, pipelines.ToolRembg, pipelines.ToolPython}

func ensureDeviceID(ctx context.Context, repo catalog.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, "device_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	deviceID, err := randomHex(16)
	if err != nil {
		return "", err
	}
	if err := repo.SetConfig(ctx, "device_id", deviceID); err != nil {
		return "", err
	}
	return deviceID, nil
}

// ensureAuthToken returns the stored bearer token, generating one on first
// run. A configured token replaces whatever is stored.
func ensureAuthToken(ctx context.Context, repo catalog.Repository, configured string) (string, error) {
	if configured != "" {
		return configured, repo.SetConfig(ctx, api.AuthTokenKey, configured)
	}

	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	token, err := randomHex(32)
	if err != nil {
		return "", err
	}
	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}
	return token, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func openDir(dir string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", dir)
	case "windows":
		cmd = exec.Command("explorer", dir)
	default:
		cmd = exec.Command("xdg-open", dir)
	}
	return cmd.Start()
}
