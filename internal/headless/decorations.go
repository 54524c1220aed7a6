package headless

import (
	"sort"

	"github.com/google/uuid"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/protocol"
	"github.com/pseudocoder/idelink/internal/surface"
)

type decoration struct {
	id    string
	path  string
	rng   protocol.Range
	style surface.DecorationStyle
	seq   int
}

func (d *decoration) ID() string { return d.id }

// Decorate records a decoration on view. Ranges are stored as given.
func (w *Workspace) Decorate(view surface.View, rng protocol.Range, style surface.DecorationStyle) (surface.Decoration, error) {
	b, err := w.owned(view)
	if err != nil {
		return nil, apperrors.SurfaceNotFound(viewPath(view), err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextDeco++
	d := &decoration{
		id:    uuid.NewString(),
		path:  b.path,
		rng:   rng,
		style: style,
		seq:   w.nextDeco,
	}
	w.decorations[d.id] = d
	return d, nil
}

// ClearDecoration removes d. Unknown or already-cleared decorations are ignored.
func (w *Workspace) ClearDecoration(d surface.Decoration) {
	if d == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.decorations, d.ID())
}

// Decorations lists path's decorations in the order they were applied.
func (w *Workspace) Decorations(path string) []surface.DecorationInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()

	abs := path
	if _, ok := w.buffers[abs]; !ok {
		abs = w.resolve(path)
	}

	var found []*decoration
	for _, d := range w.decorations {
		if d.path == abs {
			found = append(found, d)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })

	out := make([]surface.DecorationInfo, 0, len(found))
	for _, d := range found {
		out = append(out, surface.DecorationInfo{
			ID:              d.id,
			Range:           d.rng,
			BackgroundColor: d.style.BackgroundColor,
			WholeLine:       d.style.WholeLine,
		})
	}
	return out
}
