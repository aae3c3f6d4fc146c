package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bryanchriswhite/snapmark/internal/logger"
	"github.com/bryanchriswhite/snapmark/internal/portal"
	"github.com/godbus/dbus/v5"
)

const fileChooserIface = "org.freedesktop.portal.FileChooser"

// portalFilter mirrors the (sa(us)) filter struct of the FileChooser portal.
type portalFilter struct {
	Name     string
	Patterns []portalPattern
}

type portalPattern struct {
	// Kind is 0 for a glob, 1 for a MIME type
	Kind    uint32
	Pattern string
}

// PortalChooser shows the desktop's native file dialogs through
// xdg-desktop-portal.
type PortalChooser struct {
	conn *dbus.Conn
}

// NewPortalChooser connects to the session bus.
func NewPortalChooser() (*PortalChooser, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &PortalChooser{conn: conn}, nil
}

// Close closes the bus connection
func (c *PortalChooser) Close() error {
	return c.conn.Close()
}

// ChooseSaveDestination shows a save dialog pre-filled with suggestedName.
func (c *PortalChooser) ChooseSaveDestination(ctx context.Context, suggestedName string, filter Filter) (string, error) {
	options := map[string]dbus.Variant{
		"current_name": dbus.MakeVariant(suggestedName),
		"modal":        dbus.MakeVariant(true),
	}
	if f := toPortalFilter(filter); len(f.Patterns) > 0 {
		options["filters"] = dbus.MakeVariant([]portalFilter{f})
		options["current_filter"] = dbus.MakeVariant(f)
	}
	results, err := portal.Call(ctx, c.conn, fileChooserIface+".SaveFile", options, "", "Save "+suggestedName)
	if err != nil {
		return "", chooserError(err)
	}
	return firstPath(results)
}

// ChooseDirectory shows a folder picker.
func (c *PortalChooser) ChooseDirectory(ctx context.Context) (string, error) {
	options := map[string]dbus.Variant{
		"directory": dbus.MakeVariant(true),
		"modal":     dbus.MakeVariant(true),
	}
	results, err := portal.Call(ctx, c.conn, fileChooserIface+".OpenFile", options, "", "Choose save directory")
	if err != nil {
		return "", chooserError(err)
	}
	return firstPath(results)
}

func toPortalFilter(f Filter) portalFilter {
	pf := portalFilter{Name: f.Name}
	for _, ext := range f.Extensions {
		pf.Patterns = append(pf.Patterns, portalPattern{Kind: 0, Pattern: "*." + ext})
	}
	return pf
}

func chooserError(err error) error {
	if errors.Is(err, portal.ErrCancelled) {
		return ErrCancelled
	}
	return err
}

func firstPath(results map[string]dbus.Variant) (string, error) {
	uris, err := portal.Strings(results, "uris")
	if err != nil {
		return "", err
	}
	if len(uris) == 0 {
		return "", ErrCancelled
	}
	u, err := url.Parse(uris[0])
	if err != nil || u.Scheme != "file" {
		return "", fmt.Errorf("unexpected chooser uri %q", uris[0])
	}
	return u.Path, nil
}

// TerminalChooser prompts on a terminal. An empty answer to the save prompt
// accepts the suggested name in the current directory; "-" or end of input
// cancels.
type TerminalChooser struct {
	in  *bufio.Reader
	out io.Writer
	mu  sync.Mutex
}

// NewTerminalChooser reads answers from in and writes prompts to out.
func NewTerminalChooser(in io.Reader, out io.Writer) *TerminalChooser {
	return &TerminalChooser{in: bufio.NewReader(in), out: out}
}

func (c *TerminalChooser) ask(prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, prompt)
	line, err := c.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", ErrCancelled
	}
	line = strings.TrimSpace(line)
	if line == "-" {
		return "", ErrCancelled
	}
	return line, nil
}

// ChooseSaveDestination asks for a path.
func (c *TerminalChooser) ChooseSaveDestination(ctx context.Context, suggestedName string, filter Filter) (string, error) {
	answer, err := c.ask(fmt.Sprintf("Save %s as [%s]: ", filter.Name, suggestedName))
	if err != nil {
		return "", err
	}
	if answer == "" {
		answer = suggestedName
	}
	if info, err := os.Stat(answer); err == nil && info.IsDir() {
		answer = filepath.Join(answer, suggestedName)
	}
	return filepath.Abs(answer)
}

// ChooseDirectory asks for a directory; an empty answer cancels.
func (c *TerminalChooser) ChooseDirectory(ctx context.Context) (string, error) {
	answer, err := c.ask("Save directory: ")
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", ErrCancelled
	}
	return filepath.Abs(answer)
}

// StaticChooser answers with fixed paths. Path may name a file or an
// existing directory; empty values cancel.
type StaticChooser struct {
	Path string
	Dir  string
}

// ChooseSaveDestination returns Path, joined with suggestedName when Path
// is a directory.
func (c StaticChooser) ChooseSaveDestination(ctx context.Context, suggestedName string, filter Filter) (string, error) {
	if c.Path == "" {
		return "", ErrCancelled
	}
	if info, err := os.Stat(c.Path); err == nil && info.IsDir() {
		return filepath.Join(c.Path, suggestedName), nil
	}
	return c.Path, nil
}

// ChooseDirectory returns Dir.
func (c StaticChooser) ChooseDirectory(ctx context.Context) (string, error) {
	if c.Dir == "" {
		return "", ErrCancelled
	}
	return c.Dir, nil
}

// NewChooser builds the chooser named by kind (portal or terminal). The
// portal chooser falls back to the terminal when the session bus is missing.
func NewChooser(kind string, in io.Reader, out io.Writer) Chooser {
	if kind == "terminal" {
		return NewTerminalChooser(in, out)
	}
	c, err := NewPortalChooser()
	if err != nil {
		logger.WithComponent("export").Warn().Err(err).Msg("Portal chooser unavailable, using terminal prompts")
		return NewTerminalChooser(in, out)
	}
	return c
}
