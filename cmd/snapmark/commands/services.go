package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/bryanchriswhite/snapmark/internal/capture"
	"github.com/bryanchriswhite/snapmark/internal/config"
	"github.com/bryanchriswhite/snapmark/internal/export"
	"github.com/bryanchriswhite/snapmark/internal/logger"
	"github.com/bryanchriswhite/snapmark/internal/recording"
	"github.com/bryanchriswhite/snapmark/internal/session"
)

// services is the collaborator graph shared by the subcommands.
type services struct {
	cfg      *config.Config
	router   *capture.Router
	recorder *recording.Recorder
	gateway  *export.Gateway
	session  *session.Session
	closers  []func() error
}

// askPrefs hides auto-save so every export goes through the chooser.
type askPrefs struct {
	*config.Manager
}

func (p askPrefs) Preferences() config.Preferences {
	prefs := p.Manager.Preferences()
	prefs.AutoSave = false
	return prefs
}

// newServices starts the capture backends and builds the session. A nil
// chooser uses the one named in the config; a non-nil one is always asked.
func newServices(ctx context.Context, configMgr *config.Manager, chooser export.Chooser) (*services, error) {
	cfg := configMgr.Get()
	log := logger.WithComponent("main")
	svc := &services{cfg: cfg}

	svc.router = capture.NewRouter(capture.RouterOptions{
		Preferred:     cfg.Capture.Backend,
		MinWindowSize: cfg.Capture.MinWindowSize,
	})
	if err := svc.router.Start(); err != nil {
		return nil, fmt.Errorf("failed to start capture backend: %w", err)
	}
	svc.closers = append(svc.closers, svc.router.Stop)
	log.Info().Str("backend", svc.router.Name()).Msg("Capture backend ready")

	if recording.Available() {
		src := recording.NewGstSource(recording.GstOptions{
			Encoder:   cfg.Recording.Encoder,
			ChunkSize: cfg.Recording.ChunkSize,
			FPS:       cfg.Recording.FPS,
			Portal:    cfg.Recording.Portal,
		})
		svc.recorder = recording.NewRecorder(src)
	} else {
		log.Warn().Msg("gst-launch-1.0 not found, recording disabled")
	}

	persister, err := newPersister(ctx, cfg.Export)
	if err != nil {
		svc.Close()
		return nil, err
	}
	var prefs export.PreferenceStore = configMgr
	if chooser != nil {
		prefs = askPrefs{configMgr}
	} else {
		chooser = export.NewChooser(cfg.Export.Chooser, os.Stdin, os.Stderr)
		if c, ok := chooser.(interface{ Close() error }); ok {
			svc.closers = append(svc.closers, c.Close)
		}
	}
	svc.gateway = export.NewGateway(persister, chooser, prefs)
	svc.session = session.New(svc.router, svc.recorder, svc.gateway)
	return svc, nil
}

func newPersister(ctx context.Context, cfg config.ExportConfig) (export.Persister, error) {
	switch cfg.Backend {
	case "", "file":
		return export.NewFileStore(), nil
	case "s3":
		store, err := export.NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to configure s3 export: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported export backend: %s (use 'file' or 's3')", cfg.Backend)
	}
}

// Close stops everything newServices started, last first.
func (s *services) Close() {
	if s.session != nil {
		s.session.Reset()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.WithComponent("main").Debug().Err(err).Msg("Shutdown step failed")
		}
	}
}

// reportStatus prints a classified outcome to stderr.
func reportStatus(err error) error {
	if err == nil {
		return nil
	}
	st := session.Classify(err)
	if st.Level == session.LevelInfo {
		fmt.Fprintf(os.Stderr, "%s\n", st.Message)
		return nil
	}
	return fmt.Errorf("%s (%s)", st.Message, st.Kind)
}
