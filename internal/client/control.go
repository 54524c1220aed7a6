package client

import (
	"context"
	"time"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/ipc"
	"github.com/pseudocoder/idelink/internal/protocol"
	"github.com/pseudocoder/idelink/internal/surface"
)

// LocalEditor is implemented by surfaces that can be driven from outside,
// such as the headless workspace behind the control socket.
type LocalEditor interface {
	Select(ctx context.Context, path string, ranges []protocol.Range) error
	Type(ctx context.Context, path string, rng protocol.Range, text string) error
	Save(path string) error
	Close(path string) error
}

var _ ipc.Controller = (*Client)(nil)

// Status is the snapshot served on GET /status.
type Status struct {
	// State is the transport state: connecting, open, or closed.
	State    string `json:"state"`
	Endpoint string `json:"endpoint"`
	// SessionID is empty until the openGUI handshake completes.
	SessionID         string   `json:"session_id,omitempty"`
	Workspace         string   `json:"workspace"`
	OpenFiles         []string `json:"open_files"`
	OutstandingEchoes int      `json:"outstanding_echoes"`
	Highlights        int      `json:"highlights"`
	PendingRequests   int      `json:"pending_requests"`
	// Handlers lists the request kinds this client answers.
	Handlers  []string               `json:"handlers"`
	Terminals []surface.TerminalInfo `json:"terminals"`
	// Decorations holds the decorations of each open file that has any.
	Decorations   map[string][]surface.DecorationInfo `json:"decorations,omitempty"`
	UptimeSeconds int64                               `json:"uptime_seconds"`
}

// Status reports the client's current state.
func (c *Client) Status() any {
	return c.Snapshot()
}

// Snapshot is Status with a concrete type.
func (c *Client) Snapshot() Status {
	st := Status{
		State:             c.transport.State().String(),
		Endpoint:          c.endpoint,
		SessionID:         c.SessionID(),
		Workspace:         c.workspaceDirectory(),
		OpenFiles:         []string{},
		OutstandingEchoes: c.edits.Outstanding(),
		Highlights:        len(c.highlights.Active()),
		Terminals:         []surface.TerminalInfo{},
		UptimeSeconds:     int64(time.Since(c.startedAt).Seconds()),
	}
	for _, k := range c.dispatcher.Kinds() {
		st.Handlers = append(st.Handlers, string(k))
	}
	if tl, ok := c.surface.(surface.TerminalLister); ok {
		st.Terminals = append(st.Terminals, tl.ListTerminals()...)
	}
	if p, ok := c.transport.(interface{ Pending() int }); ok {
		st.PendingRequests = p.Pending()
	}
	dl, listsDecorations := c.surface.(surface.DecorationLister)
	for _, v := range c.surface.VisibleViews() {
		if isPlaceholder(v) {
			continue
		}
		st.OpenFiles = append(st.OpenFiles, v.Path())
		if !listsDecorations {
			continue
		}
		if decos := dl.Decorations(v.Path()); len(decos) > 0 {
			if st.Decorations == nil {
				st.Decorations = make(map[string][]surface.DecorationInfo)
			}
			st.Decorations[v.Path()] = decos
		}
	}
	return st
}

// Open opens and reveals path on the surface.
func (c *Client) Open(ctx context.Context, path string, rng *protocol.Range) error {
	_, err := c.surface.OpenAndReveal(ctx, path, rng)
	return err
}

// Select moves the cursor in path.
func (c *Client) Select(ctx context.Context, path string, ranges []protocol.Range) error {
	local, err := c.local()
	if err != nil {
		return err
	}
	return local.Select(ctx, path, ranges)
}

// Type replaces rng in path as if the user typed text.
func (c *Client) Type(ctx context.Context, path string, rng protocol.Range, text string) error {
	local, err := c.local()
	if err != nil {
		return err
	}
	return local.Type(ctx, path, rng, text)
}

// Save writes path's view to disk.
func (c *Client) Save(path string) error {
	local, err := c.local()
	if err != nil {
		return err
	}
	return local.Save(path)
}

// CloseFile hides path's view.
func (c *Client) CloseFile(path string) error {
	local, err := c.local()
	if err != nil {
		return err
	}
	return local.Close(path)
}

func (c *Client) local() (LocalEditor, error) {
	local, ok := c.surface.(LocalEditor)
	if !ok {
		return nil, apperrors.New(apperrors.CodeInternal, "surface cannot be driven locally")
	}
	return local, nil
}
