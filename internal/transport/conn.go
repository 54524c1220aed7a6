// Package transport owns the single websocket connection to the assistant
// backend. It queues outbound frames, correlates responses with the requests
// that produced them, and hands every other inbound frame to one callback.
package transport

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 * 1024 * 1024

	defaultQueueSize = 256
)

// State is the connection lifecycle: Connecting -> Open -> Closed.
// Closed is terminal; a closed Conn is never reopened.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Options configures a Conn.
type Options struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Header is sent with the upgrade request (e.g. Authorization).
	Header http.Header

	// TLSConfig is used for wss:// endpoints.
	TLSConfig *tls.Config

	// MatchByKind lets an uncorrelated frame resolve the oldest pending
	// request of the same kind.
	MatchByKind bool

	// QueueSize bounds the outbound queue. Default 256.
	QueueSize int

	// NewBackOff builds the dial retry policy. Default: exponential, unbounded.
	NewBackOff func() backoff.BackOff

	Logger logrus.FieldLogger
}

type pendingRequest struct {
	id   string
	kind protocol.Kind
	// Buffered; receives exactly one response, or is closed when the
	// connection shuts down.
	ch chan *protocol.Message
}

// Conn is a websocket connection with request/response correlation.
type Conn struct {
	opts Options
	log  logrus.FieldLogger

	mu      sync.Mutex
	state   State
	cause   error
	pending map[string]*pendingRequest
	order   []*pendingRequest // oldest first, for kind matching
	handler func(*protocol.Message)
	cancel  context.CancelFunc

	send      chan *protocol.Message
	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Conn in the Connecting state. Call Start to dial.
func New(opts Options) *Conn {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = defaultBackOff
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Conn{
		opts:    opts,
		log:     logger.WithField("component", "transport"),
		state:   StateConnecting,
		pending: make(map[string]*pendingRequest),
		send:    make(chan *protocol.Message, opts.QueueSize),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready is closed when the connection opens.
func (c *Conn) Ready() <-chan struct{} { return c.ready }

// Done is closed when the connection reaches Closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection closed, or nil if it is still live or was
// closed with Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// OnMessage registers the callback for uncorrelated inbound frames. It runs
// on the read goroutine once per frame in arrival order and must not block.
func (c *Conn) OnMessage(fn func(*protocol.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

// Start dials in the background, retrying until the dial succeeds, ctx ends,
// or Close is called.
func (c *Conn) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.state != StateConnecting || c.cancel != nil {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Close moves the connection to Closed and rejects every pending request
// with transport.connection_closed.
func (c *Conn) Close() error {
	c.shutdown(nil)
	c.wg.Wait()
	return nil
}

// Send queues a frame. Frames sent while connecting are flushed once the
// connection opens. There is no delivery confirmation.
func (c *Conn) Send(kind protocol.Kind, payload any) error {
	msg, err := protocol.NewMessage(kind, payload)
	if err != nil {
		return err
	}
	return c.enqueue(msg)
}

// SendAndReceive sends a frame with a fresh correlation id and waits for the
// matching response. The pending entry is removed on every exit path.
func (c *Conn) SendAndReceive(ctx context.Context, kind protocol.Kind, payload any) (*protocol.Message, error) {
	p := &pendingRequest{
		id:   uuid.NewString(),
		kind: kind,
		ch:   make(chan *protocol.Message, 1),
	}

	msg, err := protocol.NewCorrelated(kind, payload, p.id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil, apperrors.ConnectionClosed()
	}
	c.pending[p.id] = p
	c.order = append(c.order, p)
	c.mu.Unlock()
	defer c.forget(p.id)

	if err := c.enqueue(msg); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-p.ch:
		if !ok {
			return nil, apperrors.ConnectionClosed()
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the number of requests awaiting a response.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Conn) enqueue(msg *protocol.Message) error {
	if c.State() == StateClosed {
		return apperrors.ConnectionClosed()
	}
	select {
	case <-c.done:
		return apperrors.ConnectionClosed()
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return apperrors.ConnectionClosed()
	default:
		return apperrors.SendFailed(string(msg.Kind), errQueueFull)
	}
}

// forget drops a pending entry without resolving it.
func (c *Conn) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(id)
}

func (c *Conn) removeLocked(id string) *pendingRequest {
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	for i, q := range c.order {
		if q == p {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return p
}

// resolve completes the pending request with the given id. Returns false if
// no such request exists.
func (c *Conn) resolve(id string, msg *protocol.Message) bool {
	c.mu.Lock()
	p := c.removeLocked(id)
	c.mu.Unlock()
	if p == nil {
		return false
	}
	p.ch <- msg
	return true
}

// resolveByKind completes the oldest pending request of msg's kind.
func (c *Conn) resolveByKind(msg *protocol.Message) bool {
	c.mu.Lock()
	var match *pendingRequest
	for _, p := range c.order {
		if p.kind == msg.Kind {
			match = c.removeLocked(p.id)
			break
		}
	}
	c.mu.Unlock()
	if match == nil {
		return false
	}
	match.ch <- msg
	return true
}

// shutdown runs once: it records the cause, rejects pending requests,
// and signals the pumps to exit.
func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.cause = cause
		pending := c.pending
		c.pending = make(map[string]*pendingRequest)
		c.order = nil
		cancel := c.cancel
		c.mu.Unlock()

		for _, p := range pending {
			close(p.ch)
		}
		close(c.done)
		if cancel != nil {
			cancel()
		}

		if len(pending) > 0 {
			c.log.WithField("pending", len(pending)).Info("Rejected pending requests on close")
		}
	})
}
