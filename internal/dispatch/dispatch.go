// Package dispatch routes inbound request frames to their handlers.
//
// Each frame is handled in isolation: an unknown kind, a handler error, or a
// handler panic affects only that frame. Frames are processed sequentially in
// arrival order by Run, off the transport's read goroutine, so a handler that
// waits on the backend does not stall response correlation.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/protocol"
)

// Handler performs the action for one inbound frame. A nil reply means the
// kind expects no reply.
type Handler func(ctx context.Context, msg *protocol.Message) (reply any, err error)

// Sender delivers replies. transport.Conn satisfies it.
type Sender interface {
	Send(kind protocol.Kind, payload any) error
}

// Dispatcher is the kind -> handler table.
type Dispatcher struct {
	sender   Sender
	log      logrus.FieldLogger
	handlers map[protocol.Kind]Handler

	queue     chan *protocol.Message
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Dispatcher that replies through sender. queueSize bounds the
// number of frames waiting for Run.
func New(sender Sender, logger logrus.FieldLogger, queueSize int) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		sender:   sender,
		log:      logger.WithField("component", "dispatch"),
		handlers: make(map[protocol.Kind]Handler),
		queue:    make(chan *protocol.Message, queueSize),
		done:     make(chan struct{}),
	}
}

// Register binds a handler to a kind. Registration happens at construction;
// registering a kind twice panics.
func (d *Dispatcher) Register(kind protocol.Kind, h Handler) {
	if _, exists := d.handlers[kind]; exists {
		panic(fmt.Sprintf("dispatch: handler for %q registered twice", kind))
	}
	d.handlers[kind] = h
}

// Kinds returns the registered kinds in sorted order.
func (d *Dispatcher) Kinds() []protocol.Kind {
	kinds := make([]protocol.Kind, 0, len(d.handlers))
	for k := range d.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Dispatch runs the handler for msg and sends its reply, if any.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *protocol.Message) error {
	h, ok := d.handlers[msg.Kind]
	if !ok {
		return apperrors.UnknownKind(string(msg.Kind))
	}

	reply, err := d.invoke(ctx, h, msg)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	if err := d.sender.Send(msg.Kind, reply); err != nil {
		return err
	}
	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, msg *protocol.Message) (reply any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{
				"kind":  msg.Kind,
				"stack": string(debug.Stack()),
			}).Error("Handler panicked")
			reply = nil
			err = apperrors.Internal(fmt.Sprintf("handler for %s panicked", msg.Kind), fmt.Errorf("%v", r))
		}
	}()
	return h(ctx, msg)
}

// Enqueue hands a frame to Run. It never blocks; if the queue is full the
// frame is dropped and logged. Use it as the transport's inbound callback.
func (d *Dispatcher) Enqueue(msg *protocol.Message) {
	select {
	case <-d.done:
		return
	default:
	}
	select {
	case d.queue <- msg:
	default:
		d.log.WithField("kind", msg.Kind).Error("Dispatch queue full, dropping frame")
	}
}

// Run handles queued frames one at a time until ctx ends or Stop is called.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case msg := <-d.queue:
			if err := d.Dispatch(ctx, msg); err != nil {
				code, message := apperrors.ToCodeAndMessage(err)
				d.log.WithFields(logrus.Fields{
					"kind": msg.Kind,
					"code": code,
				}).Warn(message)
			}
		}
	}
}

// Stop makes Run return. Queued frames are discarded.
func (d *Dispatcher) Stop() {
	d.closeOnce.Do(func() { close(d.done) })
}
