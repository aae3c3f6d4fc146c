// Package hotkey binds a global keyboard shortcut to a callback.
package hotkey

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.design/x/hotkey"
	"golang.design/x/hotkey/mainthread"

	"github.com/bryanchriswhite/snapmark/internal/logger"
)

// ErrInvalidBinding is returned for unknown modifier or key names.
var ErrInvalidBinding = errors.New("invalid hotkey binding")

var keys = map[string]hotkey.Key{
	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
	"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
	"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
	"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
	"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
	"y": hotkey.KeyY, "z": hotkey.KeyZ,

	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,

	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,

	"space":  hotkey.KeySpace,
	"return": hotkey.KeyReturn,
	"enter":  hotkey.KeyReturn,
	"escape": hotkey.KeyEscape,
	"esc":    hotkey.KeyEscape,
	"tab":    hotkey.KeyTab,
	"delete": hotkey.KeyDelete,
	"del":    hotkey.KeyDelete,
	"up":     hotkey.KeyUp,
	"down":   hotkey.KeyDown,
	"left":   hotkey.KeyLeft,
	"right":  hotkey.KeyRight,
}

// Binding is a parsed shortcut.
type Binding struct {
	Mods []hotkey.Modifier
	Key  hotkey.Key
	// Name is the normalized "mod+mod+key" form used in logs.
	Name string
}

// Parse resolves modifier and key names. Modifier names are
// platform-neutral: ctrl, shift, alt, super.
func Parse(modifiers []string, key string) (Binding, error) {
	var b Binding
	names := make([]string, 0, len(modifiers)+1)
	seen := make(map[string]bool)
	for _, raw := range modifiers {
		name := normalizeModifier(raw)
		mod, ok := modifierFor(name)
		if !ok {
			return Binding{}, fmt.Errorf("%w: modifier %q", ErrInvalidBinding, raw)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		b.Mods = append(b.Mods, mod)
		names = append(names, name)
	}
	sort.Strings(names)

	k := strings.ToLower(strings.TrimSpace(key))
	code, ok := keys[k]
	if !ok {
		return Binding{}, fmt.Errorf("%w: key %q", ErrInvalidBinding, key)
	}
	b.Key = code
	b.Name = strings.Join(append(names, k), "+")
	return b, nil
}

// ParseCombo parses a "ctrl+shift+f11" style string.
func ParseCombo(combo string) (Binding, error) {
	parts := strings.Split(combo, "+")
	if len(parts) == 0 || strings.TrimSpace(parts[len(parts)-1]) == "" {
		return Binding{}, fmt.Errorf("%w: %q", ErrInvalidBinding, combo)
	}
	return Parse(parts[:len(parts)-1], parts[len(parts)-1])
}

func normalizeModifier(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ctrl", "control":
		return "ctrl"
	case "shift":
		return "shift"
	case "alt", "option", "opt":
		return "alt"
	case "super", "win", "cmd", "command", "meta":
		return "super"
	default:
		return strings.ToLower(strings.TrimSpace(s))
	}
}

// Manager owns one registered shortcut.
type Manager struct {
	mu      sync.Mutex
	hk      *hotkey.Hotkey
	binding Binding
}

// NewManager creates a hotkey manager
func NewManager() *Manager {
	return &Manager{}
}

// Register grabs the binding system-wide.
func (m *Manager) Register(b Binding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hk != nil {
		return fmt.Errorf("hotkey %s already registered", m.binding.Name)
	}

	hk := hotkey.New(b.Mods, b.Key)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("failed to register hotkey %s: %w", b.Name, err)
	}
	m.hk = hk
	m.binding = b
	logger.WithComponent("hotkey").Info().Str("hotkey", b.Name).Msg("Hotkey registered")
	return nil
}

// Unregister releases the shortcut.
func (m *Manager) Unregister() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hk == nil {
		return nil
	}
	err := m.hk.Unregister()
	m.hk = nil
	return err
}

// Listen calls fn for each key press until ctx is done. Presses that
// arrive while fn runs are dropped.
func (m *Manager) Listen(ctx context.Context, fn func(context.Context)) {
	m.mu.Lock()
	hk := m.hk
	name := m.binding.Name
	m.mu.Unlock()
	if hk == nil {
		return
	}

	log := logger.WithComponent("hotkey")
	presses := hk.Keydown()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-presses:
			if !ok {
				return
			}
			log.Debug().Str("hotkey", name).Msg("Hotkey pressed")
			fn(ctx)
			drain(presses)
		}
	}
}

func drain(ch <-chan hotkey.Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// Run runs fn with the main thread available to the hotkey backend.
// macOS requires it; elsewhere it is a plain call.
func Run(fn func()) {
	mainthread.Init(fn)
}
