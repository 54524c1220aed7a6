// Package session obtains the backend's GUI session id once the connection
// is open.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/protocol"
	"github.com/pseudocoder/idelink/internal/transport"
)

// DefaultPollInterval is how often readiness is checked.
const DefaultPollInterval = time.Second

// Transport is the part of transport.Conn the establisher uses.
type Transport interface {
	State() transport.State
	SendAndReceive(ctx context.Context, kind protocol.Kind, payload any) (*protocol.Message, error)
}

// Recorder persists established sessions.
type Recorder interface {
	RecordSession(sessionID, endpoint string, startedAt time.Time) error
}

// Establisher performs the openGUI handshake at most once.
type Establisher struct {
	transport Transport
	interval  time.Duration
	endpoint  string
	recorder  Recorder
	log       logrus.FieldLogger
	now       func() time.Time

	mu       sync.Mutex
	id       string
	inflight chan struct{}
}

// Options configures an Establisher.
type Options struct {
	PollInterval time.Duration
	// Endpoint is recorded alongside the session id.
	Endpoint string
	Recorder Recorder
	Logger   logrus.FieldLogger
	Now      func() time.Time
}

// NewEstablisher creates an Establisher for t.
func NewEstablisher(t Transport, opts Options) *Establisher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Establisher{
		transport: t,
		interval:  opts.PollInterval,
		endpoint:  opts.Endpoint,
		recorder:  opts.Recorder,
		log:       opts.Logger.WithField("component", "session"),
		now:       opts.Now,
	}
}

// Current returns the established id, or "" before the handshake completes.
func (e *Establisher) Current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// SessionID waits for the connection to open, performs the handshake, and
// returns the session id. Later calls return the cached id; concurrent
// callers share one handshake. A failed handshake may be retried.
func (e *Establisher) SessionID(ctx context.Context) (string, error) {
	for {
		e.mu.Lock()
		if e.id != "" {
			id := e.id
			e.mu.Unlock()
			return id, nil
		}
		if ch := e.inflight; ch != nil {
			e.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		ch := make(chan struct{})
		e.inflight = ch
		e.mu.Unlock()

		id, err := e.establish(ctx)

		e.mu.Lock()
		if err == nil {
			e.id = id
		}
		e.inflight = nil
		close(ch)
		e.mu.Unlock()
		return id, err
	}
}

func (e *Establisher) establish(ctx context.Context) (string, error) {
	if err := e.waitOpen(ctx); err != nil {
		return "", err
	}

	resp, err := e.transport.SendAndReceive(ctx, protocol.KindOpenGUI, struct{}{})
	if err != nil {
		return "", err
	}

	var payload protocol.OpenGUIResponse
	if err := resp.Decode(&payload); err != nil {
		return "", apperrors.HandshakeFailed("invalid openGUI response", err)
	}
	if payload.SessionID == "" {
		return "", apperrors.HandshakeFailed("openGUI response has no sessionId", nil)
	}

	e.log.WithField("session_id", payload.SessionID).Info("GUI session established")
	if e.recorder != nil {
		if err := e.recorder.RecordSession(payload.SessionID, e.endpoint, e.now()); err != nil {
			e.log.WithError(err).Warn("Failed to record session")
		}
	}
	return payload.SessionID, nil
}

// waitOpen polls the transport state until it is open.
func (e *Establisher) waitOpen(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		switch e.transport.State() {
		case transport.StateOpen:
			return nil
		case transport.StateClosed:
			return apperrors.ConnectionClosed()
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
