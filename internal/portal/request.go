// Package portal performs xdg-desktop-portal requests over D-Bus. A portal
// method returns a Request object path and delivers its result later through
// an org.freedesktop.portal.Request.Response signal.
package portal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/bryanchriswhite/snapmark/internal/logger"
	"github.com/godbus/dbus/v5"
)

// Portal D-Bus constants
const (
	Service      = "org.freedesktop.portal.Desktop"
	Path         = "/org/freedesktop/portal/desktop"
	RequestIface = "org.freedesktop.portal.Request"
	SessionIface = "org.freedesktop.portal.Session"
)

// Response codes
const (
	ResponseSuccess   uint32 = 0
	ResponseCancelled uint32 = 1
	ResponseOther     uint32 = 2
)

var (
	// ErrCancelled is returned when the user dismissed the portal dialog.
	ErrCancelled = errors.New("portal request cancelled")
	// ErrFailed is returned when the portal ended the request for another reason.
	ErrFailed = errors.New("portal request failed")
)

var seq atomic.Uint64

// Token returns a handle token unique to this process.
func Token(prefix string) string {
	return fmt.Sprintf("snapmark_%s%d_%d", prefix, os.Getpid(), seq.Add(1))
}

// Call invokes method on the portal object with args followed by options,
// then waits for the matching Response. A handle_token is added to options.
func Call(ctx context.Context, conn *dbus.Conn, method string, options map[string]dbus.Variant, args ...interface{}) (map[string]dbus.Variant, error) {
	log := logger.WithComponent("portal")
	if options == nil {
		options = map[string]dbus.Variant{}
	}
	options["handle_token"] = dbus.MakeVariant(Token("req"))

	// Subscribe before calling so the Response cannot be missed
	responseChan := make(chan *dbus.Signal, 10)
	conn.Signal(responseChan)
	defer conn.RemoveSignal(responseChan)

	matchRule := fmt.Sprintf("type='signal',interface='%s',member='Response'", RequestIface)
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, matchRule).Err; err != nil {
		log.Warn().Err(err).Msg("Failed to add match rule")
	}
	defer conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, matchRule)

	callArgs := append(args, options)
	var requestPath dbus.ObjectPath
	if err := conn.Object(Service, Path).CallWithContext(ctx, method, 0, callArgs...).Store(&requestPath); err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	log.Debug().Str("method", method).Str("request_path", string(requestPath)).Msg("Waiting for portal response")

	for {
		select {
		case <-ctx.Done():
			conn.Object(Service, requestPath).Call(RequestIface+".Close", 0)
			return nil, ctx.Err()
		case sig, ok := <-responseChan:
			if !ok {
				return nil, fmt.Errorf("%s: bus connection closed", method)
			}
			if sig.Path != requestPath || sig.Name != RequestIface+".Response" {
				continue
			}
			return ParseResponse(sig.Body)
		}
	}
}

// ParseResponse decodes a Response signal body (u response, a{sv} results).
func ParseResponse(body []interface{}) (map[string]dbus.Variant, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("invalid portal response")
	}
	code, _ := body[0].(uint32)
	switch code {
	case ResponseSuccess:
	case ResponseCancelled:
		return nil, ErrCancelled
	default:
		return nil, fmt.Errorf("%w (code %d)", ErrFailed, code)
	}
	results, _ := body[1].(map[string]dbus.Variant)
	if results == nil {
		results = map[string]dbus.Variant{}
	}
	return results, nil
}

// String extracts a string result.
func String(results map[string]dbus.Variant, key string) (string, error) {
	v, ok := results[key]
	if !ok {
		return "", fmt.Errorf("portal response has no %s", key)
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("unexpected %s type %T", key, v.Value())
	}
	return s, nil
}

// Strings extracts a string array result.
func Strings(results map[string]dbus.Variant, key string) ([]string, error) {
	v, ok := results[key]
	if !ok {
		return nil, fmt.Errorf("portal response has no %s", key)
	}
	s, ok := v.Value().([]string)
	if !ok {
		return nil, fmt.Errorf("unexpected %s type %T", key, v.Value())
	}
	return s, nil
}
