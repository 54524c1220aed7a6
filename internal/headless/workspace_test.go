package headless

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/protocol"
	"github.com/pseudocoder/idelink/internal/storage"
	"github.com/pseudocoder/idelink/internal/surface"
)

type fakePrompter struct {
	answer  string
	err     error
	prompts []string
}

func (f *fakePrompter) Prompt(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.answer, f.err
}

type recorder struct {
	mu   sync.Mutex
	text []surface.TextChangeEvent
	sel  []surface.SelectionChangeEvent
	// snapshots holds the view text at the moment each text event arrived.
	snapshots []string
}

func (r *recorder) onText(ev surface.TextChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = append(r.text, ev)
	r.snapshots = append(r.snapshots, ev.View.Text())
}

func (r *recorder) onSelection(ev surface.SelectionChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sel = append(r.sel, ev)
}

func newTestWorkspace(t *testing.T, files map[string]string) (*Workspace, *recorder, string) {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	logger, _ := logtest.NewNullLogger()
	w := New(Options{Root: root, Logger: logger, Shell: "/bin/sh", Prompter: &fakePrompter{}})
	t.Cleanup(w.Shutdown)

	rec := &recorder{}
	w.OnTextChanged(rec.onText)
	w.OnSelectionChanged(rec.onSelection)
	return w, rec, root
}

func TestOpenAndReveal(t *testing.T) {
	w, _, root := newTestWorkspace(t, map[string]string{"main.go": "package main\n"})

	view, err := w.OpenAndReveal(context.Background(), "main.go", &protocol.Range{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "main.go"), view.Path())
	assert.Equal(t, "go", view.LanguageID())
	assert.Equal(t, "package main\n", view.Text())

	// Second open returns the same view.
	again, err := w.OpenAndReveal(context.Background(), filepath.Join(root, "main.go"), nil)
	require.NoError(t, err)
	assert.Same(t, view, again)
	assert.Len(t, w.VisibleViews(), 1)
}

func TestOpenAndReveal_Missing(t *testing.T) {
	w, _, _ := newTestWorkspace(t, nil)

	_, err := w.OpenAndReveal(context.Background(), "nope.txt", nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSurfaceNotFound))

	_, err = w.OpenAndReveal(context.Background(), ".", nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSurfaceNotFound))
}

func TestApplyEdit_EmitsTaggedDeleteThenInsert(t *testing.T) {
	w, rec, _ := newTestWorkspace(t, map[string]string{"a.txt": "hello world\n"})
	view, err := w.OpenAndReveal(context.Background(), "a.txt", nil)
	require.NoError(t, err)

	err = w.ApplyEdit(context.Background(), view, rng(0, 6, 0, 11), "there", "tag-1")
	require.NoError(t, err)
	assert.Equal(t, "hello there\n", view.Text())

	require.Len(t, rec.text, 2)
	assert.Equal(t, "tag-1", rec.text[0].Tag)
	assert.Equal(t, "tag-1", rec.text[1].Tag)
	assert.Equal(t, []surface.ContentChange{{Range: rng(0, 6, 0, 11), Text: ""}}, rec.text[0].Changes)
	assert.Equal(t, []surface.ContentChange{{Range: rng(0, 6, 0, 6), Text: "there"}}, rec.text[1].Changes)
	// Both halves are applied before either event goes out.
	assert.Equal(t, []string{"hello there\n", "hello there\n"}, rec.snapshots)

	assert.True(t, w.Dirty("a.txt"))
	assert.True(t, w.PropagatesTags())
}

func TestApplyEdit_UserEditOnDeleteEventDoesNotTearInsert(t *testing.T) {
	w, rec, _ := newTestWorkspace(t, map[string]string{"a.ts": "abcdef"})
	view, err := w.OpenAndReveal(context.Background(), "a.ts", nil)
	require.NoError(t, err)

	var typeErr error
	typed := false
	w.OnTextChanged(func(ev surface.TextChangeEvent) {
		if ev.Tag == "t" && !typed {
			typed = true
			typeErr = w.Type(context.Background(), "a.ts", rng(0, 0, 0, 4), "")
		}
	})

	require.NoError(t, w.ApplyEdit(context.Background(), view, rng(0, 4, 0, 6), "XY", "t"))
	require.NoError(t, typeErr)
	assert.Equal(t, "XY", view.Text())

	tagged := 0
	for _, ev := range rec.text {
		if ev.Tag == "t" {
			tagged++
		}
	}
	assert.Equal(t, 2, tagged)
}

func TestApplyEdit_PureInsertStillTwoEvents(t *testing.T) {
	w, rec, _ := newTestWorkspace(t, map[string]string{"a.txt": "ac"})
	view, err := w.OpenAndReveal(context.Background(), "a.txt", nil)
	require.NoError(t, err)

	require.NoError(t, w.ApplyEdit(context.Background(), view, rng(0, 1, 0, 1), "b", "t"))
	assert.Equal(t, "abc", view.Text())
	assert.Len(t, rec.text, 2)
}

func TestApplyEdit_Rejected(t *testing.T) {
	w, rec, _ := newTestWorkspace(t, map[string]string{"a.txt": "short"})
	view, err := w.OpenAndReveal(context.Background(), "a.txt", nil)
	require.NoError(t, err)

	err = w.ApplyEdit(context.Background(), view, rng(3, 0, 3, 1), "x", "t")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeEditRejected))

	require.NoError(t, w.Close("a.txt"))
	err = w.ApplyEdit(context.Background(), view, rng(0, 0, 0, 0), "x", "t")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeEditRejected))

	err = w.ApplyEdit(context.Background(), nil, rng(0, 0, 0, 0), "x", "t")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeEditRejected))

	assert.Empty(t, rec.text)
	assert.Equal(t, "short", view.Text())
}

func TestType_EmitsOneUntaggedEvent(t *testing.T) {
	w, rec, _ := newTestWorkspace(t, map[string]string{"a.txt": "ab"})

	require.NoError(t, w.Type(context.Background(), "a.txt", rng(0, 1, 0, 1), "X"))
	require.Len(t, rec.text, 1)
	assert.Equal(t, "", rec.text[0].Tag)
	assert.Equal(t, "aXb", rec.text[0].View.Text())

	err := w.Type(context.Background(), "a.txt", rng(9, 0, 9, 0), "X")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeEditRejected))
}

func TestSelect(t *testing.T) {
	w, rec, _ := newTestWorkspace(t, map[string]string{"a.txt": "one\ntwo\n"})

	sel := []protocol.Range{rng(1, 0, 1, 3)}
	require.NoError(t, w.Select(context.Background(), "a.txt", sel))
	require.Len(t, rec.sel, 1)
	assert.Equal(t, sel, rec.sel[0].Selections)
	assert.Equal(t, sel, rec.sel[0].View.Selections())

	err := w.Select(context.Background(), "a.txt", []protocol.Range{rng(7, 0, 7, 0)})
	assert.Error(t, err)
	assert.Len(t, rec.sel, 1)
}

func TestSave(t *testing.T) {
	w, _, root := newTestWorkspace(t, map[string]string{"a.txt": "old"})
	require.NoError(t, w.Type(context.Background(), "a.txt", rng(0, 0, 0, 3), "new"))
	require.True(t, w.Dirty("a.txt"))

	require.NoError(t, w.Save("a.txt"))
	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	assert.False(t, w.Dirty("a.txt"))

	err = w.Save("unopened.txt")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSurfaceNotFound))
}

func TestCloseAndPlaceholder(t *testing.T) {
	w, _, _ := newTestWorkspace(t, map[string]string{"a.txt": "a"})
	_, err := w.OpenAndReveal(context.Background(), "a.txt", nil)
	require.NoError(t, err)

	ph := w.Placeholder("extension-output-#1", "log output", "")
	assert.Equal(t, "plaintext", ph.LanguageID())
	require.Len(t, w.VisibleViews(), 2)

	require.NoError(t, w.Close("a.txt"))
	views := w.VisibleViews()
	require.Len(t, views, 1)
	assert.Equal(t, "extension-output-#1", views[0].Path())

	require.NoError(t, w.Close("extension-output-#1"))
	assert.Empty(t, w.VisibleViews())

	err = w.Close("a.txt")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSurfaceNotFound))
}

func TestDecorations(t *testing.T) {
	w, _, _ := newTestWorkspace(t, map[string]string{"a.txt": "x\ny\n"})
	view, err := w.OpenAndReveal(context.Background(), "a.txt", nil)
	require.NoError(t, err)

	d1, err := w.Decorate(view, rng(0, 0, 0, 1), surface.DecorationStyle{BackgroundColor: "#ff0", WholeLine: true})
	require.NoError(t, err)
	_, err = w.Decorate(view, rng(1, 0, 1, 1), surface.DecorationStyle{BackgroundColor: "#0f0"})
	require.NoError(t, err)

	decos := w.Decorations("a.txt")
	require.Len(t, decos, 2)
	assert.Equal(t, d1.ID(), decos[0].ID)
	assert.True(t, decos[0].WholeLine)
	assert.Equal(t, "#0f0", decos[1].BackgroundColor)

	w.ClearDecoration(d1)
	w.ClearDecoration(d1)
	assert.Len(t, w.Decorations("a.txt"), 1)

	require.NoError(t, w.Close("a.txt"))
	assert.Empty(t, w.Decorations("a.txt"))

	_, err = w.Decorate(view, rng(0, 0, 0, 1), surface.DecorationStyle{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSurfaceNotFound))
}

func TestSettings_InMemory(t *testing.T) {
	w, _, _ := newTestWorkspace(t, nil)

	_, ok := w.ConfigValue("OPENAI_API_KEY")
	assert.False(t, ok)

	require.NoError(t, w.SetConfigValue("OPENAI_API_KEY", "sk-1"))
	v, ok := w.ConfigValue("OPENAI_API_KEY")
	assert.True(t, ok)
	assert.Equal(t, "sk-1", v)
}

func TestSettings_Store(t *testing.T) {
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	logger, _ := logtest.NewNullLogger()
	w := New(Options{Store: store, Logger: logger})

	require.NoError(t, w.SetConfigValue("k", "v"))
	v, ok := w.ConfigValue("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	// Stored as a secret.
	list, err := store.ListSettings()
	require.NoError(t, err)
	assert.Empty(t, list)

	id := w.MachineID()
	stored, err := store.MachineID()
	require.NoError(t, err)
	assert.Equal(t, stored, id)
}

func TestMachineID_WithoutStoreIsStable(t *testing.T) {
	w, _, _ := newTestWorkspace(t, nil)
	id := w.MachineID()
	assert.NotEmpty(t, id)
	assert.Equal(t, id, w.MachineID())
}

func TestPromptSecret(t *testing.T) {
	logger, _ := logtest.NewNullLogger()

	p := &fakePrompter{answer: "sk-typed"}
	w := New(Options{Prompter: p, Logger: logger})
	v, ok, err := w.PromptSecret(context.Background(), "Enter secret")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-typed", v)
	assert.Equal(t, []string{"Enter secret"}, p.prompts)

	w = New(Options{Prompter: &fakePrompter{}, Logger: logger})
	_, ok, err = w.PromptSecret(context.Background(), "Enter secret")
	require.NoError(t, err)
	assert.False(t, ok)

	w = New(Options{Prompter: &fakePrompter{err: errors.New("tty gone")}, Logger: logger})
	_, _, err = w.PromptSecret(context.Background(), "Enter secret")
	assert.Error(t, err)
}

func TestWorkspaceRoot(t *testing.T) {
	w, _, root := newTestWorkspace(t, nil)
	got, ok := w.WorkspaceRoot()
	assert.True(t, ok)
	assert.Equal(t, root, got)

	logger, _ := logtest.NewNullLogger()
	_, ok = New(Options{Logger: logger}).WorkspaceRoot()
	assert.False(t, ok)
}

func TestUnsubscribe(t *testing.T) {
	w, _, _ := newTestWorkspace(t, map[string]string{"a.txt": "a"})

	var count int
	unsub := w.OnTextChanged(func(surface.TextChangeEvent) { count++ })
	require.NoError(t, w.Type(context.Background(), "a.txt", rng(0, 0, 0, 0), "x"))
	unsub()
	require.NoError(t, w.Type(context.Background(), "a.txt", rng(0, 0, 0, 0), "y"))
	assert.Equal(t, 1, count)
}

func TestDecorate_SequenceIgnoresSubscriptions(t *testing.T) {
	w, _, _ := newTestWorkspace(t, map[string]string{"a.txt": "x\ny\n"})
	view, err := w.OpenAndReveal(context.Background(), "a.txt", nil)
	require.NoError(t, err)

	d1, err := w.Decorate(view, rng(0, 0, 0, 1), surface.DecorationStyle{})
	require.NoError(t, err)
	unsubscribe := w.OnTextChanged(func(surface.TextChangeEvent) {})
	defer unsubscribe()
	d2, err := w.Decorate(view, rng(1, 0, 1, 1), surface.DecorationStyle{})
	require.NoError(t, err)

	w.mu.RLock()
	defer w.mu.RUnlock()
	assert.Equal(t, 1, w.decorations[d1.ID()].seq)
	assert.Equal(t, 2, w.decorations[d2.ID()].seq)
}
