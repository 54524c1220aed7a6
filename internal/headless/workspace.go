// Package headless is a terminal-only editing surface: an in-memory set of
// documents loaded from a workspace directory, decorations kept as data,
// settings in SQLite, and PTY-backed terminals. It lets the client run
// without a GUI editor and is driven through the control socket.
package headless

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/protocol"
	"github.com/pseudocoder/idelink/internal/surface"
)

var errIsDir = errors.New("is a directory")

// SettingsStore persists settings, secrets, and the machine identity.
// storage.SQLiteStore satisfies it.
type SettingsStore interface {
	GetSetting(key string) (string, error)
	SetSecret(key, value string) error
	MachineID() (string, error)
}

// Options configures a Workspace.
type Options struct {
	// Root is the workspace directory. Empty means no folder is open.
	Root string
	// Store backs settings. Nil keeps settings in memory.
	Store SettingsStore
	// Prompter asks for secrets. Nil uses the controlling TTY.
	Prompter Prompter
	// Shell runs in new terminals. Empty uses $SHELL, then /bin/sh.
	Shell string
	// HistoryLines bounds each terminal's retained output.
	HistoryLines int
	// OnTerminalOutput receives every line any terminal prints.
	OnTerminalOutput func(terminal, line string)
	Logger           logrus.FieldLogger
}

// Workspace implements surface.Surface.
type Workspace struct {
	root     string
	store    SettingsStore
	prompter Prompter
	log      logrus.FieldLogger

	mu          sync.RWMutex
	buffers     map[string]*buffer
	order       []string // visible views, oldest first
	decorations map[string]*decoration
	textSubs    map[int]func(surface.TextChangeEvent)
	selSubs     map[int]func(surface.SelectionChangeEvent)
	nextSub     int
	nextDeco    int
	memSettings map[string]string
	machineID   string

	terms *terminals
}

var (
	_ surface.Surface          = (*Workspace)(nil)
	_ surface.TagPropagator    = (*Workspace)(nil)
	_ surface.TerminalLister   = (*Workspace)(nil)
	_ surface.DecorationLister = (*Workspace)(nil)
)

// New creates a Workspace.
func New(opts Options) *Workspace {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Prompter == nil {
		opts.Prompter = TTYPrompter{}
	}
	root := opts.Root
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}

	w := &Workspace{
		root:        root,
		store:       opts.Store,
		prompter:    opts.Prompter,
		log:         opts.Logger.WithField("component", "headless"),
		buffers:     make(map[string]*buffer),
		decorations: make(map[string]*decoration),
		textSubs:    make(map[int]func(surface.TextChangeEvent)),
		selSubs:     make(map[int]func(surface.SelectionChangeEvent)),
		memSettings: make(map[string]string),
	}
	w.terms = newTerminals(w, opts)
	return w
}

// resolve makes path absolute against the workspace root.
func (w *Workspace) resolve(path string) string {
	if !filepath.IsAbs(path) && w.root != "" {
		path = filepath.Join(w.root, path)
	}
	return filepath.Clean(path)
}

// OpenAndReveal opens path (loading it from disk on first open), makes it
// visible, and records rng as the revealed range.
func (w *Workspace) OpenAndReveal(_ context.Context, path string, rng *protocol.Range) (surface.View, error) {
	abs := w.resolve(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	b, ok := w.buffers[abs]
	if !ok {
		loaded, err := loadBuffer(abs)
		if err != nil {
			return nil, apperrors.SurfaceNotFound(abs, err)
		}
		b = loaded
		w.buffers[abs] = b
		w.order = append(w.order, abs)
		w.log.WithField("path", abs).Debug("Opened document")
	}

	if rng != nil {
		r := *rng
		b.mu.Lock()
		b.revealed = &r
		b.mu.Unlock()
	}
	return b, nil
}

// VisibleViews returns open views, oldest first.
func (w *Workspace) VisibleViews() []surface.View {
	w.mu.RLock()
	defer w.mu.RUnlock()

	views := make([]surface.View, 0, len(w.order))
	for _, p := range w.order {
		views = append(views, w.buffers[p])
	}
	return views
}

// PropagatesTags reports that every change event from ApplyEdit carries its tag.
func (w *Workspace) PropagatesTags() bool { return true }

// ApplyEdit replaces rng with text as two tagged events: the deletion of
// rng, then the insertion of text at rng.Start. Both are emitted even when
// one of them is empty.
func (w *Workspace) ApplyEdit(_ context.Context, view surface.View, rng protocol.Range, text string, tag string) error {
	b, err := w.owned(view)
	if err != nil {
		return apperrors.EditRejected(viewPath(view), err)
	}

	// Both halves land under one hold so nothing can edit between them.
	b.mu.Lock()
	start, end, err := spanOf(b.text, rng)
	if err != nil {
		b.mu.Unlock()
		return apperrors.EditRejected(b.path, err)
	}
	b.replace(start, end, "")
	b.replace(start, start, text)
	b.mu.Unlock()

	w.emitText(surface.TextChangeEvent{
		View:    b,
		Changes: []surface.ContentChange{{Range: rng, Text: ""}},
		Tag:     tag,
	})
	w.emitText(surface.TextChangeEvent{
		View:    b,
		Changes: []surface.ContentChange{{Range: protocol.Range{Start: rng.Start, End: rng.Start}, Text: text}},
		Tag:     tag,
	})
	return nil
}

// Type simulates a user edit: one untagged change event.
func (w *Workspace) Type(ctx context.Context, path string, rng protocol.Range, text string) error {
	view, err := w.OpenAndReveal(ctx, path, nil)
	if err != nil {
		return err
	}
	b := view.(*buffer)

	b.mu.Lock()
	start, end, err := spanOf(b.text, rng)
	if err != nil {
		b.mu.Unlock()
		return apperrors.EditRejected(b.path, err)
	}
	b.replace(start, end, text)
	b.mu.Unlock()

	w.emitText(surface.TextChangeEvent{
		View:    b,
		Changes: []surface.ContentChange{{Range: rng, Text: text}},
	})
	return nil
}

// Select moves the cursor or selection in path's view.
func (w *Workspace) Select(ctx context.Context, path string, ranges []protocol.Range) error {
	view, err := w.OpenAndReveal(ctx, path, nil)
	if err != nil {
		return err
	}
	b := view.(*buffer)

	b.mu.Lock()
	for _, r := range ranges {
		if _, _, err := spanOf(b.text, r); err != nil {
			b.mu.Unlock()
			return apperrors.Wrap(apperrors.CodeInvalidMessage, "invalid selection", err)
		}
	}
	b.selections = append([]protocol.Range(nil), ranges...)
	b.mu.Unlock()

	w.emitSelection(surface.SelectionChangeEvent{View: b, Selections: b.Selections()})
	return nil
}

// Save writes path's buffer to disk.
func (w *Workspace) Save(path string) error {
	b := w.lookup(path)
	if b == nil {
		return apperrors.SurfaceNotFound(w.resolve(path), nil)
	}
	if err := b.Save(); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "save "+b.path, err)
	}
	return nil
}

// Close hides path's view and discards its buffer and decorations.
func (w *Workspace) Close(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	abs := path
	if _, ok := w.buffers[abs]; !ok {
		abs = w.resolve(path)
	}
	if _, ok := w.buffers[abs]; !ok {
		return apperrors.SurfaceNotFound(abs, nil)
	}
	delete(w.buffers, abs)
	for i, p := range w.order {
		if p == abs {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	for id, d := range w.decorations {
		if d.path == abs {
			delete(w.decorations, id)
		}
	}
	return nil
}

// Placeholder adds a visible view that does not correspond to a file, the
// way editors show output channels and scratch panes.
func (w *Workspace) Placeholder(path, text, languageID string) surface.View {
	if languageID == "" {
		languageID = "plaintext"
	}
	b := &buffer{
		path:        path,
		languageID:  languageID,
		placeholder: true,
		text:        text,
		saved:       text,
		selections:  []protocol.Range{{}},
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.buffers[path]; !ok {
		w.order = append(w.order, path)
	}
	w.buffers[path] = b
	return b
}

// Dirty reports whether path has unsaved changes.
func (w *Workspace) Dirty(path string) bool {
	b := w.lookup(path)
	return b != nil && b.Dirty()
}

func (w *Workspace) lookup(path string) *buffer {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if b, ok := w.buffers[path]; ok {
		return b
	}
	return w.buffers[w.resolve(path)]
}

// owned returns view's buffer if it is still open in this workspace.
func (w *Workspace) owned(view surface.View) (*buffer, error) {
	b, ok := view.(*buffer)
	if !ok {
		return nil, errors.New("view does not belong to this workspace")
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.buffers[b.path] != b {
		return nil, errors.New("view is closed")
	}
	return b, nil
}

func viewPath(v surface.View) string {
	if v == nil {
		return ""
	}
	return v.Path()
}

// OnTextChanged subscribes to document changes.
func (w *Workspace) OnTextChanged(fn func(surface.TextChangeEvent)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextSub
	w.nextSub++
	w.textSubs[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.textSubs, id)
	}
}

// OnSelectionChanged subscribes to selection moves.
func (w *Workspace) OnSelectionChanged(fn func(surface.SelectionChangeEvent)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextSub
	w.nextSub++
	w.selSubs[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.selSubs, id)
	}
}

// emitText calls subscribers synchronously, without holding any lock.
func (w *Workspace) emitText(ev surface.TextChangeEvent) {
	w.mu.RLock()
	subs := make([]func(surface.TextChangeEvent), 0, len(w.textSubs))
	for _, fn := range w.textSubs {
		subs = append(subs, fn)
	}
	w.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (w *Workspace) emitSelection(ev surface.SelectionChangeEvent) {
	w.mu.RLock()
	subs := make([]func(surface.SelectionChangeEvent), 0, len(w.selSubs))
	for _, fn := range w.selSubs {
		subs = append(subs, fn)
	}
	w.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// WorkspaceRoot returns the workspace directory, if one is open.
func (w *Workspace) WorkspaceRoot() (string, bool) {
	return w.root, w.root != ""
}

// MachineID returns the persisted machine identity. Without a store, or if
// the store fails, a per-process UUID is used.
func (w *Workspace) MachineID() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.machineID != "" {
		return w.machineID
	}
	if w.store != nil {
		id, err := w.store.MachineID()
		if err == nil {
			w.machineID = id
			return id
		}
		w.log.WithError(err).Warn("Failed to load machine id, using an ephemeral one")
	}
	w.machineID = uuid.NewString()
	return w.machineID
}

// Terminals returns live terminals, oldest first.
func (w *Workspace) Terminals() []surface.Terminal {
	return w.terms.list()
}

// ListTerminals describes the terminals still tracked, in creation order.
func (w *Workspace) ListTerminals() []surface.TerminalInfo {
	return w.terms.info()
}

// CreateTerminal starts a new shell in the workspace directory.
func (w *Workspace) CreateTerminal() (surface.Terminal, error) {
	return w.terms.create()
}

// Shutdown stops all terminals.
func (w *Workspace) Shutdown() {
	w.terms.closeAll()
}
