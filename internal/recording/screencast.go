package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bryanchriswhite/snapmark/internal/logger"
	"github.com/bryanchriswhite/snapmark/internal/portal"
	"github.com/godbus/dbus/v5"
)

const screenCastIface = "org.freedesktop.portal.ScreenCast"

// SelectSources option values
const (
	sourceTypeMonitor  = 1 << 0
	cursorModeEmbedded = 1 << 1
	persistModeSession = 2
)

// ScreenCast holds one xdg-desktop-portal screen cast session. The session
// owns a PipeWire node that a pipeline can read until Close is called.
type ScreenCast struct {
	conn      *dbus.Conn
	tokenPath string

	mu            sync.Mutex
	sessionHandle dbus.ObjectPath
	nodeID        uint32
	restoreToken  string
	closed        bool
}

// NewScreenCast connects to the session bus. tokenPath stores the restore
// token so later sessions skip the source selection dialog; empty disables it.
func NewScreenCast(tokenPath string) (*ScreenCast, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	s := &ScreenCast{conn: conn, tokenPath: tokenPath}
	s.restoreToken = loadRestoreToken(tokenPath)
	return s, nil
}

// DefaultTokenPath returns the restore token location under the user config dir.
func DefaultTokenPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.Getenv("HOME")
	}
	return filepath.Join(configDir, "snapmark", "portal_token")
}

// NodeID returns the PipeWire node of the started session.
func (s *ScreenCast) NodeID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodeID
}

// Start creates the session, selects a monitor source and starts the cast.
// The portal may show a dialog; ctx bounds the whole exchange.
func (s *ScreenCast) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logger.WithComponent("screencast")

	results, err := portal.Call(ctx, s.conn, screenCastIface+".CreateSession", map[string]dbus.Variant{
		"session_handle_token": dbus.MakeVariant(portal.Token("session")),
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	handle, err := sessionHandleFrom(results)
	if err != nil {
		return err
	}
	s.sessionHandle = handle
	log.Debug().Str("session", string(handle)).Msg("Created portal session")

	options := map[string]dbus.Variant{
		"types":        dbus.MakeVariant(uint32(sourceTypeMonitor)),
		"multiple":     dbus.MakeVariant(false),
		"cursor_mode":  dbus.MakeVariant(uint32(cursorModeEmbedded)),
		"persist_mode": dbus.MakeVariant(uint32(persistModeSession)),
	}
	if s.restoreToken != "" {
		options["restore_token"] = dbus.MakeVariant(s.restoreToken)
		log.Debug().Msg("Using saved restore token")
	}
	if _, err := portal.Call(ctx, s.conn, screenCastIface+".SelectSources", options, handle); err != nil {
		return fmt.Errorf("failed to select sources: %w", err)
	}

	// Start takes (session, parent_window, options)
	results, err = portal.Call(ctx, s.conn, screenCastIface+".Start", nil, handle, "")
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	if v, ok := results["restore_token"]; ok {
		if token, ok := v.Value().(string); ok && token != "" {
			s.restoreToken = token
			saveRestoreToken(s.tokenPath, token)
		}
	}
	nodeID, err := nodeIDFrom(results)
	if err != nil {
		return err
	}
	s.nodeID = nodeID

	log.Info().Uint32("node_id", nodeID).Msg("Screen cast started")
	return nil
}

func sessionHandleFrom(results map[string]dbus.Variant) (dbus.ObjectPath, error) {
	v, ok := results["session_handle"]
	if !ok {
		return "", fmt.Errorf("no session handle in response")
	}
	switch h := v.Value().(type) {
	case dbus.ObjectPath:
		return h, nil
	case string:
		return dbus.ObjectPath(h), nil
	default:
		return "", fmt.Errorf("unexpected session_handle type: %T", h)
	}
}

// nodeIDFrom extracts the first PipeWire node from the a(ua{sv}) streams result.
func nodeIDFrom(results map[string]dbus.Variant) (uint32, error) {
	streams, ok := results["streams"]
	if !ok {
		return 0, fmt.Errorf("no streams in response")
	}
	switch v := streams.Value().(type) {
	case [][]interface{}:
		if len(v) > 0 && len(v[0]) > 0 {
			if id, ok := v[0][0].(uint32); ok {
				return id, nil
			}
		}
	case []interface{}:
		if len(v) > 0 {
			if stream, ok := v[0].([]interface{}); ok && len(stream) > 0 {
				if id, ok := stream[0].(uint32); ok {
					return id, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("unexpected streams format %T", streams.Value())
}

// Close ends the portal session and the bus connection. Safe to call twice.
func (s *ScreenCast) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.sessionHandle != "" {
		s.conn.Object(portal.Service, s.sessionHandle).Call(portal.SessionIface+".Close", 0)
	}
	return s.conn.Close()
}

type restoreTokenFile struct {
	Token string `json:"token"`
}

func loadRestoreToken(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var f restoreTokenFile
	if err := json.Unmarshal(data, &f); err != nil {
		return ""
	}
	return f.Token
}

func saveRestoreToken(path, token string) {
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	data, err := json.Marshal(restoreTokenFile{Token: token})
	if err != nil {
		return
	}
	os.WriteFile(path, data, 0600)
}
