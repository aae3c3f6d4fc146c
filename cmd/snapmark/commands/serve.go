package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/snapmark/internal/api"
	"github.com/bryanchriswhite/snapmark/internal/hotkey"
	"github.com/bryanchriswhite/snapmark/internal/logger"
	"github.com/bryanchriswhite/snapmark/internal/session"
	"github.com/bryanchriswhite/snapmark/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the snapmark server",
	Long: `Start the snapmark HTTP server.

The server owns one capture session and exposes it through a REST API, a
websocket of session events and a live MJPEG preview of the selected monitor.
When enabled in the config, a global hotkey captures the monitor under the
pointer.`,
	Example: `  # Start server on default port (8080)
  snapmark serve

  # Start server on custom port
  snapmark serve --port 9090

  # Start with debug logging
  snapmark serve --log-level debug`,
	RunE: runServe,
}

var serveNoHotkey bool

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveNoHotkey, "no-hotkey", false, "do not register the global capture hotkey")
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log := logger.WithComponent("main")
	log.Info().Str("path", configMgr.GetConfigPath()).Str("log_level", cfg.LogLevel).Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newServices(ctx, configMgr, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	mjpegOut := stream.NewMJPEGOutput(stream.Config{
		FPS:     cfg.Stream.FPS,
		Quality: cfg.Stream.JPEGQuality,
	})
	streamer := stream.NewStreamer(svc.router, mjpegOut, cfg.Stream.FPS)
	defer streamer.Stop()

	if cfg.Hotkey.Enabled && !serveNoHotkey {
		hk, err := startHotkey(ctx, cfg.Hotkey.Modifiers, cfg.Hotkey.Key, svc.session)
		if err != nil {
			log.Warn().Err(err).Msg("Global hotkey unavailable")
		} else {
			defer hk.Unregister()
		}
	}

	server := api.NewServer(svc.session, svc.gateway, streamer, mjpegOut)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ServerPort)
	}()

	fmt.Println()
	log.Info().Msg("snapmark is running")
	log.Info().Msgf("   - API: http://localhost:%d/api", cfg.ServerPort)
	log.Info().Msgf("   - Preview: http://localhost:%d/stream", cfg.ServerPort)
	log.Info().Msg("   - Press Ctrl+C to stop")
	fmt.Println()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// startHotkey registers the capture-at-cursor shortcut.
func startHotkey(ctx context.Context, mods []string, key string, sess *session.Session) (*hotkey.Manager, error) {
	binding, err := hotkey.Parse(mods, key)
	if err != nil {
		return nil, err
	}
	mgr := hotkey.NewManager()
	if err := mgr.Register(binding); err != nil {
		return nil, err
	}

	go mgr.Listen(ctx, func(ctx context.Context) {
		captureCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := sess.CaptureAtCursor(captureCtx); err != nil {
			st := session.Classify(err)
			logger.WithComponent("hotkey").Warn().Err(err).Str("kind", string(st.Kind)).Msg("Capture at cursor failed")
		}
	})
	return mgr, nil
}
