// Package highlight manages timed range highlights.
//
// A highlight is Active for a dwell period after it is applied, during which
// cursor moves are ignored so the user can see it. It then becomes Armed: the
// next cursor move in the same file clears it. Cursor moves in other files
// never clear a highlight. With a max lifetime configured, any highlight still
// present after that long is cleared as well.
package highlight

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/protocol"
	"github.com/pseudocoder/idelink/internal/surface"
)

// DefaultDwell is how long a new highlight ignores cursor moves.
const DefaultDwell = 2 * time.Second

// State is a highlight's lifecycle position.
type State int

const (
	StateActive State = iota
	StateArmed
	StateCleared
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateArmed:
		return "armed"
	case StateCleared:
		return "cleared"
	}
	return "unknown"
}

// Entry is one applied highlight.
type Entry struct {
	ID          string
	RangeInFile protocol.RangeInFile
	Color       string
	CreatedAt   time.Time

	m          *Manager
	state      State
	path       string
	decoration surface.Decoration
	timers     []Timer
}

// State returns the entry's current state.
func (e *Entry) State() State {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	return e.state
}

// Options configures a Manager.
type Options struct {
	Dwell time.Duration
	// MaxLifetime clears highlights that were never followed by a cursor
	// move. 0 keeps them until the next move.
	MaxLifetime time.Duration
	Clock       Clock
	Logger      logrus.FieldLogger
}

// Manager tracks live highlights.
type Manager struct {
	editor    surface.Editor
	decorator surface.Decorator
	clock     Clock
	dwell     time.Duration
	maxLife   time.Duration
	log       logrus.FieldLogger

	mu      sync.Mutex
	entries map[string]*Entry
	closed  bool
}

// NewManager creates a Manager that decorates through the given surface parts.
func NewManager(editor surface.Editor, decorator surface.Decorator, opts Options) *Manager {
	if opts.Dwell <= 0 {
		opts.Dwell = DefaultDwell
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Manager{
		editor:    editor,
		decorator: decorator,
		clock:     opts.Clock,
		dwell:     opts.Dwell,
		maxLife:   opts.MaxLifetime,
		log:       opts.Logger.WithField("component", "highlight"),
		entries:   make(map[string]*Entry),
	}
}

// Highlight reveals rif and decorates its lines with color.
func (m *Manager) Highlight(ctx context.Context, rif protocol.RangeInFile, color string) (*Entry, error) {
	view, err := m.editor.OpenAndReveal(ctx, rif.Filepath, &rif.Range)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeUnknown {
			err = apperrors.SurfaceNotFound(rif.Filepath, err)
		}
		return nil, err
	}

	dec, err := m.decorator.Decorate(view, rif.Range, surface.DecorationStyle{
		BackgroundColor: color,
		WholeLine:       true,
	})
	if err != nil {
		return nil, err
	}

	e := &Entry{
		ID:          uuid.NewString(),
		RangeInFile: rif,
		Color:       color,
		CreatedAt:   m.clock.Now(),
		m:           m,
		state:       StateActive,
		path:        cleanPath(view.Path()),
		decoration:  dec,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.decorator.ClearDecoration(dec)
		return nil, apperrors.Internal("highlight manager closed", nil)
	}
	m.entries[e.ID] = e
	e.timers = append(e.timers, m.clock.AfterFunc(m.dwell, func() { m.arm(e) }))
	if m.maxLife > 0 {
		e.timers = append(e.timers, m.clock.AfterFunc(m.maxLife, func() { m.clear(e) }))
	}
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"path":  rif.Filepath,
		"line":  rif.Range.Start.Line,
		"color": color,
	}).Debug("Highlight applied")
	return e, nil
}

// HandleSelection clears every armed highlight in the event's file.
func (m *Manager) HandleSelection(ev surface.SelectionChangeEvent) {
	if ev.View == nil {
		return
	}
	path := cleanPath(ev.View.Path())

	m.mu.Lock()
	var victims []*Entry
	for _, e := range m.entries {
		if e.state == StateArmed && e.path == path {
			victims = append(victims, e)
		}
	}
	m.mu.Unlock()

	for _, e := range victims {
		m.clear(e)
	}
}

// Active returns the highlights that have not been cleared.
func (m *Manager) Active() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// Close clears every highlight. Later Highlight calls fail.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	var all []*Entry
	for _, e := range m.entries {
		all = append(all, e)
	}
	m.mu.Unlock()

	for _, e := range all {
		m.clear(e)
	}
}

func (m *Manager) arm(e *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.state == StateActive {
		e.state = StateArmed
	}
}

// clear moves e to Cleared and removes its decoration exactly once.
func (m *Manager) clear(e *Entry) {
	m.mu.Lock()
	if e.state == StateCleared {
		m.mu.Unlock()
		return
	}
	e.state = StateCleared
	delete(m.entries, e.ID)
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
	m.mu.Unlock()

	m.decorator.ClearDecoration(e.decoration)
	m.log.WithField("path", e.RangeInFile.Filepath).Debug("Highlight cleared")
}

func cleanPath(p string) string {
	if p == "" {
		return p
	}
	return filepath.Clean(p)
}
