// Package export persists finished artifacts to a destination that is either
// chosen interactively or derived from the saved base directory.
package export

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bryanchriswhite/snapmark/internal/config"
	"github.com/bryanchriswhite/snapmark/internal/logger"
)

var (
	// ErrCancelled is returned by a Chooser when the user dismissed it.
	ErrCancelled = errors.New("cancelled")
	// ErrIO wraps persistence failures.
	ErrIO = errors.New("i/o error")
)

// Kind is the artifact kind used in generated filenames.
type Kind string

const (
	KindScreenshot Kind = "screenshot"
	KindRecording  Kind = "recording"
)

// Ext returns the file extension for the kind.
func (k Kind) Ext() string {
	if k == KindRecording {
		return "webm"
	}
	return "png"
}

// Filter returns the chooser filter for the kind.
func (k Kind) Filter() Filter {
	if k == KindRecording {
		return Filter{Name: "WebM video", Extensions: []string{"webm"}}
	}
	return Filter{Name: "PNG image", Extensions: []string{"png"}}
}

// Filter restricts the files a save dialog offers.
type Filter struct {
	Name       string
	Extensions []string
}

// Artifact is a finished image or recording.
type Artifact struct {
	Kind Kind
	// Mode is the capture mode label; empty omits it from the filename.
	Mode string
	Data []byte
}

// FileName returns {kind}_{mode}_{timestamp}.{ext}, with the timestamp in UTC
// as ISO 8601 truncated to seconds and ':' replaced by '-'.
func FileName(kind Kind, mode string, t time.Time) string {
	parts := []string{string(kind)}
	if mode != "" {
		parts = append(parts, mode)
	}
	parts = append(parts, t.UTC().Format("2006-01-02T15-04-05"))
	return strings.Join(parts, "_") + "." + kind.Ext()
}

// Persister writes artifact bytes to a destination path.
type Persister interface {
	PersistImage(ctx context.Context, path string, data []byte) error
	PersistVideo(ctx context.Context, path string, data []byte) error
}

// Chooser asks the user for destinations. Both methods return ErrCancelled
// when the user dismisses the dialog.
type Chooser interface {
	ChooseSaveDestination(ctx context.Context, suggestedName string, filter Filter) (string, error)
	ChooseDirectory(ctx context.Context) (string, error)
}

// PreferenceStore loads and saves the export preferences.
type PreferenceStore interface {
	Preferences() config.Preferences
	SetPreferences(config.Preferences) error
}

// Result describes a finished export.
type Result struct {
	Path string `json:"path,omitempty"`
	// Auto is set when the destination was derived without asking.
	Auto bool `json:"auto"`
	// Cancelled is set when the user dismissed the chooser; nothing was written.
	Cancelled bool `json:"cancelled"`
}

// Gateway persists artifacts.
type Gateway struct {
	persister Persister
	chooser   Chooser
	prefs     PreferenceStore
	now       func() time.Time
}

// NewGateway creates a gateway.
func NewGateway(persister Persister, chooser Chooser, prefs PreferenceStore) *Gateway {
	return &Gateway{
		persister: persister,
		chooser:   chooser,
		prefs:     prefs,
		now:       time.Now,
	}
}

// Export writes a. With auto-save on and a base directory configured the
// destination is derived; otherwise the chooser is asked. A dismissed
// chooser returns Result{Cancelled: true} and a nil error.
func (g *Gateway) Export(ctx context.Context, a Artifact) (Result, error) {
	log := logger.WithComponent("export")
	prefs := g.prefs.Preferences()
	name := FileName(a.Kind, a.Mode, g.now())

	var res Result
	if prefs.AutoSave && prefs.SaveDirectory != "" {
		path, err := containedPath(prefs.SaveDirectory, name)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrIO, err)
		}
		res = Result{Path: path, Auto: true}
	} else {
		if prefs.AutoSave {
			log.Debug().Msg("Auto-save has no directory, asking for destination")
		}
		if g.chooser == nil {
			return Result{}, fmt.Errorf("%w: no destination chooser available", ErrIO)
		}
		path, err := g.chooser.ChooseSaveDestination(ctx, name, a.Kind.Filter())
		if errors.Is(err, ErrCancelled) {
			log.Info().Str("kind", string(a.Kind)).Msg("Export cancelled")
			return Result{Cancelled: true}, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("failed to choose destination: %w", err)
		}
		res = Result{Path: ensureExt(path, a.Kind.Ext())}
	}

	var err error
	switch a.Kind {
	case KindRecording:
		err = g.persister.PersistVideo(ctx, res.Path, a.Data)
	default:
		err = g.persister.PersistImage(ctx, res.Path, a.Data)
	}
	if err != nil {
		log.Error().Err(err).Str("path", res.Path).Msg("Failed to persist artifact")
		return Result{}, fmt.Errorf("%w: %v", ErrIO, err)
	}

	log.Info().
		Str("kind", string(a.Kind)).
		Str("path", res.Path).
		Int("bytes", len(a.Data)).
		Bool("auto", res.Auto).
		Msg("Artifact exported")
	return res, nil
}

// ChooseSaveDirectory asks for a base directory and saves it as the default.
func (g *Gateway) ChooseSaveDirectory(ctx context.Context) (string, error) {
	if g.chooser == nil {
		return "", fmt.Errorf("no directory chooser available")
	}
	dir, err := g.chooser.ChooseDirectory(ctx)
	if err != nil {
		return "", err
	}
	if err := g.SetSaveDirectory(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// SetSaveDirectory stores dir as the default save directory.
func (g *Gateway) SetSaveDirectory(dir string) error {
	prefs := g.prefs.Preferences()
	prefs.SaveDirectory = dir
	return g.SetPreferences(prefs)
}

// Preferences returns the current export preferences.
func (g *Gateway) Preferences() config.Preferences {
	return g.prefs.Preferences()
}

// SetPreferences saves the export preferences.
func (g *Gateway) SetPreferences(p config.Preferences) error {
	if p.SaveDirectory != "" {
		p.SaveDirectory = filepath.Clean(p.SaveDirectory)
	}
	if err := g.prefs.SetPreferences(p); err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	logger.WithComponent("export").Info().
		Str("save_directory", p.SaveDirectory).
		Bool("auto_save", p.AutoSave).
		Msg("Export preferences updated")
	return nil
}

func ensureExt(path, ext string) string {
	if strings.EqualFold(filepath.Ext(path), "."+ext) {
		return path
	}
	return path + "." + ext
}
