// Package client connects an editing surface to the assistant backend.
//
// A Client owns one transport connection and everything that acts on it: the
// dispatch table for backend requests, the edit coordinator that keeps
// programmatic edits from echoing upstream, the GUI session handshake,
// timed highlights, and the command runner. All state lives on the Client;
// there are no package-level singletons.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pseudocoder/idelink/internal/config"
	"github.com/pseudocoder/idelink/internal/dispatch"
	"github.com/pseudocoder/idelink/internal/edits"
	"github.com/pseudocoder/idelink/internal/highlight"
	"github.com/pseudocoder/idelink/internal/protocol"
	"github.com/pseudocoder/idelink/internal/session"
	"github.com/pseudocoder/idelink/internal/surface"
	"github.com/pseudocoder/idelink/internal/terminal"
	"github.com/pseudocoder/idelink/internal/transport"
)

// Transport is the connection the Client drives. transport.Conn satisfies it.
type Transport interface {
	Send(kind protocol.Kind, payload any) error
	SendAndReceive(ctx context.Context, kind protocol.Kind, payload any) (*protocol.Message, error)
	State() transport.State
	OnMessage(fn func(*protocol.Message))
	Start(ctx context.Context)
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Options configures a Client.
type Options struct {
	Transport Transport
	Surface   surface.Surface
	Logger    logrus.FieldLogger
	// Config supplies timing and throttling. Nil uses defaults.
	Config *config.Config
	// Clock drives highlight timers. Nil uses the real clock.
	Clock highlight.Clock
	// Recorder persists established sessions. Optional.
	Recorder session.Recorder
	// Endpoint is reported in Status and recorded with the session.
	Endpoint string
}

// Client is one live connection between a surface and the backend.
type Client struct {
	transport Transport
	surface   surface.Surface
	cfg       *config.Config
	endpoint  string
	log       logrus.FieldLogger

	dispatcher  *dispatch.Dispatcher
	edits       *edits.Coordinator
	establisher *session.Establisher
	highlights  *highlight.Manager
	runner      *terminal.Runner

	startedAt time.Time
	unsubs    []func()
	closeOnce sync.Once
}

// New builds a Client and registers every request handler. It subscribes to
// the surface's change events immediately; call Run to connect.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.ApplyDefaults()

	logger := opts.Logger.WithField("component", "client")
	c := &Client{
		transport: opts.Transport,
		surface:   opts.Surface,
		cfg:       cfg,
		endpoint:  opts.Endpoint,
		log:       logger,
		startedAt: time.Now(),
	}

	c.dispatcher = dispatch.New(opts.Transport, opts.Logger, 0)
	c.edits = edits.NewCoordinator(opts.Transport, opts.Logger)
	if tp, ok := opts.Surface.(surface.TagPropagator); ok && tp.PropagatesTags() {
		c.edits.RequireTags(true)
	}
	c.establisher = session.NewEstablisher(opts.Transport, session.Options{
		PollInterval: cfg.ReadyPollInterval(),
		Endpoint:     opts.Endpoint,
		Recorder:     opts.Recorder,
		Logger:       opts.Logger,
	})
	c.highlights = highlight.NewManager(opts.Surface, opts.Surface, highlight.Options{
		Dwell:       cfg.HighlightDwell(),
		MaxLifetime: cfg.HighlightMaxLifetime(),
		Clock:       opts.Clock,
		Logger:      opts.Logger,
	})
	c.runner = terminal.NewRunner(opts.Surface, terminal.Options{
		RatePerSec: cfg.CommandRatePerSec,
		Settle:     cfg.CommandSettle(),
		Logger:     opts.Logger,
	})

	c.registerHandlers()

	c.unsubs = append(c.unsubs,
		opts.Surface.OnTextChanged(c.onTextChanged),
		opts.Surface.OnSelectionChanged(c.highlights.HandleSelection),
	)
	return c
}

func (c *Client) onTextChanged(ev surface.TextChangeEvent) {
	if c.edits.Observe(ev) && ev.View != nil {
		c.log.WithField("path", ev.View.Path()).Debug("Suppressed edit echo")
	}
}

// Run connects, serves backend requests, and establishes the GUI session.
// It returns when ctx ends (nil) or the connection closes (its cause).
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.transport.OnMessage(c.dispatcher.Enqueue)
	c.transport.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		c.establish(ctx)
	}()
	defer wg.Wait()

	select {
	case <-ctx.Done():
		return nil
	case <-c.transport.Done():
		return c.transport.Err()
	}
}

func (c *Client) establish(parent context.Context) {
	ctx := parent
	if timeout := c.cfg.HandshakeTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}
	// Shutdown is not a handshake failure.
	if _, err := c.establisher.SessionID(ctx); err != nil && parent.Err() == nil {
		c.log.WithError(err).Warn("GUI session not established")
	}
}

// SessionID returns the established GUI session id, or "" before the
// handshake completes.
func (c *Client) SessionID() string {
	return c.establisher.Current()
}

// WaitSession blocks until the GUI session is established.
func (c *Client) WaitSession(ctx context.Context) (string, error) {
	return c.establisher.SessionID(ctx)
}

// SendCommandOutput reports terminal output to the backend.
func (c *Client) SendCommandOutput(output string) error {
	return c.transport.Send(protocol.KindCommandOutput, protocol.CommandOutputNotification{Output: output})
}

// Close stops event handling, clears highlights, and closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for _, unsub := range c.unsubs {
			unsub()
		}
		c.dispatcher.Stop()
		c.highlights.Close()
		err = c.transport.Close()
	})
	return err
}
