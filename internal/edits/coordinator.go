// Package edits keeps programmatic edits from being echoed back to the
// backend as if the user had typed them.
//
// Every programmatic replace produces two change events on the surface (a
// deletion and an insertion). Before issuing one, the caller reserves those
// echoes with Begin. Observe then swallows each echo and forwards everything
// else as a fileEdits notification.
//
// Surfaces that propagate edit tags get exact matching per edit. For
// untagged surfaces the reservation acts as a counting semaphore, which is
// only correct while one programmatic edit per file is in flight.
package edits

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pseudocoder/idelink/internal/protocol"
	"github.com/pseudocoder/idelink/internal/surface"
)

// ReplaceEchoes is the number of change events one replace produces.
const ReplaceEchoes = 2

// Sender delivers notifications. transport.Conn satisfies it.
type Sender interface {
	Send(kind protocol.Kind, payload any) error
}

type expectation struct {
	tag       string
	remaining int
}

// Coordinator owns the suppression counter.
type Coordinator struct {
	sender Sender
	log    logrus.FieldLogger

	mu           sync.Mutex
	expectations []*expectation // oldest first
	outstanding  int
	requireTags  bool
}

// NewCoordinator creates a Coordinator that forwards user edits through sender.
func NewCoordinator(sender Sender, logger logrus.FieldLogger) *Coordinator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator{
		sender: sender,
		log:    logger.WithField("component", "edits"),
	}
}

// RequireTags declares that the surface tags every programmatic change
// event. Untagged events are then always treated as user edits.
func (c *Coordinator) RequireTags(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requireTags = v
}

// Begin reserves echoes for a programmatic edit about to be issued and
// returns the tag to pass to the surface.
func (c *Coordinator) Begin(echoes int) string {
	tag := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expectations = append(c.expectations, &expectation{tag: tag, remaining: echoes})
	c.outstanding += echoes
	return tag
}

// Cancel releases whatever echoes of tag were not consumed, e.g. because the
// surface rejected the edit.
func (c *Coordinator) Cancel(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.expectations {
		if e.tag == tag {
			c.outstanding -= e.remaining
			c.expectations = append(c.expectations[:i], c.expectations[i+1:]...)
			return
		}
	}
}

// Apply opens the edit's file and performs the replace with its echoes
// reserved. The result carries the document text after the edit.
func (c *Coordinator) Apply(ctx context.Context, editor surface.Editor, edit protocol.FileEdit) (*protocol.FileEditWithFullContents, error) {
	view, err := editor.OpenAndReveal(ctx, edit.Filepath, &edit.Range)
	if err != nil {
		return nil, err
	}

	tag := c.Begin(ReplaceEchoes)
	applied := false
	defer func() {
		// Also runs when ApplyEdit panics.
		if !applied {
			c.Cancel(tag)
		}
	}()
	if err := editor.ApplyEdit(ctx, view, edit.Range, edit.Replacement, tag); err != nil {
		return nil, err
	}
	applied = true

	return &protocol.FileEditWithFullContents{
		FileEdit:     edit,
		FileContents: view.Text(),
	}, nil
}

// Outstanding returns the number of echoes still expected.
func (c *Coordinator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstanding
}

// Observe handles one surface change event. It returns true when the event
// was an echo and was suppressed; otherwise the event is forwarded upstream.
func (c *Coordinator) Observe(ev surface.TextChangeEvent) bool {
	if c.consume(ev.Tag) {
		return true
	}
	c.forward(ev)
	return false
}

func (c *Coordinator) consume(tag string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tag != "" {
		for i, e := range c.expectations {
			if e.tag == tag {
				c.take(i)
				return true
			}
		}
		// A tag we never issued (or already drained) is not ours.
		return false
	}

	if c.requireTags || c.outstanding == 0 || len(c.expectations) == 0 {
		return false
	}
	c.take(0)
	return true
}

// take consumes one echo of expectations[i]. Caller holds mu.
func (c *Coordinator) take(i int) {
	e := c.expectations[i]
	e.remaining--
	c.outstanding--
	if e.remaining <= 0 {
		c.expectations = append(c.expectations[:i], c.expectations[i+1:]...)
	}
}

func (c *Coordinator) forward(ev surface.TextChangeEvent) {
	if ev.View == nil || len(ev.Changes) == 0 {
		return
	}
	path := ev.View.Path()
	contents := ev.View.Text()

	edits := make([]protocol.FileEditWithFullContents, 0, len(ev.Changes))
	for _, ch := range ev.Changes {
		edits = append(edits, protocol.FileEditWithFullContents{
			FileEdit: protocol.FileEdit{
				Filepath:    path,
				Range:       ch.Range,
				Replacement: ch.Text,
			},
			FileContents: contents,
		})
	}

	if err := c.sender.Send(protocol.KindFileEdits, protocol.FileEditsNotification{FileEdits: edits}); err != nil {
		c.log.WithError(err).WithField("path", path).Warn("Failed to forward user edit")
	}
}
