// Package surface describes the editing surface the client drives: views,
// edits, decorations, events, settings, and terminals. The client depends
// only on these interfaces; internal/headless provides an implementation.
package surface

import (
	"context"
	"time"

	"github.com/pseudocoder/idelink/internal/protocol"
)

// View is a visible editor for one document.
type View interface {
	Path() string
	LanguageID() string
	Text() string
	Selections() []protocol.Range
	Save() error
}

// ContentChange is one replaced span within a TextChangeEvent.
type ContentChange struct {
	Range protocol.Range
	Text  string
}

// TextChangeEvent reports a change to a document. Tag carries the origin tag
// passed to ApplyEdit, or is empty for user edits and surfaces that cannot
// propagate tags.
type TextChangeEvent struct {
	View    View
	Changes []ContentChange
	Tag     string
}

// SelectionChangeEvent reports a cursor or selection move in a view.
type SelectionChangeEvent struct {
	View       View
	Selections []protocol.Range
}

// DecorationStyle describes a highlight.
type DecorationStyle struct {
	BackgroundColor string
	WholeLine       bool
}

// Decoration is a handle to an applied decoration.
type Decoration interface {
	ID() string
}

// Editor opens, lists, and edits views.
type Editor interface {
	// OpenAndReveal opens path and scrolls to rng (nil: no scroll). Fails
	// with surface.not_found when the file cannot be opened.
	OpenAndReveal(ctx context.Context, path string, rng *protocol.Range) (View, error)
	VisibleViews() []View
	// ApplyEdit replaces rng with text. The resulting change events carry tag.
	// Fails with edit.rejected.
	ApplyEdit(ctx context.Context, view View, rng protocol.Range, text string, tag string) error
}

// TagPropagator is implemented by editors whose change events always carry
// the tag passed to ApplyEdit.
type TagPropagator interface {
	PropagatesTags() bool
}

// Decorator applies and removes decorations.
type Decorator interface {
	Decorate(view View, rng protocol.Range, style DecorationStyle) (Decoration, error)
	ClearDecoration(d Decoration)
}

// Events delivers change notifications. The returned func unsubscribes.
type Events interface {
	OnTextChanged(fn func(TextChangeEvent)) (unsubscribe func())
	OnSelectionChanged(fn func(SelectionChangeEvent)) (unsubscribe func())
}

// Settings holds user configuration and secrets.
type Settings interface {
	ConfigValue(key string) (string, bool)
	SetConfigValue(key, value string) error
	// PromptSecret asks the user for a secret. ok is false when the user
	// supplied nothing.
	PromptSecret(ctx context.Context, prompt string) (value string, ok bool, err error)
}

// Environment exposes workspace and machine identity.
type Environment interface {
	WorkspaceRoot() (string, bool)
	MachineID() string
}

// Terminal is a shell the surface owns.
type Terminal interface {
	Name() string
	SendText(text string) error
	Show()
}

// TerminalInfo describes a terminal the surface started.
type TerminalInfo struct {
	Name      string    `json:"name"`
	Command   string    `json:"command"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
}

// DecorationInfo describes an applied decoration.
type DecorationInfo struct {
	ID              string         `json:"id"`
	Range           protocol.Range `json:"range"`
	BackgroundColor string         `json:"backgroundColor"`
	WholeLine       bool           `json:"wholeLine"`
}

// DecorationLister is implemented by surfaces that can report the
// decorations applied to a file.
type DecorationLister interface {
	Decorations(path string) []DecorationInfo
}

// TerminalLister is implemented by surfaces that can describe their terminals.
type TerminalLister interface {
	ListTerminals() []TerminalInfo
}

// OutputReader is implemented by terminals that can report what they print.
type OutputReader interface {
	// Mark returns a position in the output stream.
	Mark() int64
	// OutputSince returns the lines written after mark.
	OutputSince(mark int64) []string
}

// TerminalHost lists and creates terminals.
type TerminalHost interface {
	Terminals() []Terminal
	CreateTerminal() (Terminal, error)
}

// Surface is the full collaborator the client needs.
type Surface interface {
	Editor
	Decorator
	Events
	Settings
	Environment
	TerminalHost
}
