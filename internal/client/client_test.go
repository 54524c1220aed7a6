package client

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pseudocoder/idelink/internal/config"
	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/headless"
	"github.com/pseudocoder/idelink/internal/highlight"
	"github.com/pseudocoder/idelink/internal/protocol"
	"github.com/pseudocoder/idelink/internal/surface"
	"github.com/pseudocoder/idelink/internal/transport"
)

// fakeTransport records outbound frames and answers openGUI.
type fakeTransport struct {
	mu        sync.Mutex
	sent      []*protocol.Message
	state     transport.State
	handler   func(*protocol.Message)
	sessionID string
	handshake int
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: transport.StateOpen, sessionID: "sess-1", done: make(chan struct{})}
}

func (f *fakeTransport) Send(kind protocol.Kind, payload any) error {
	msg, err := protocol.NewMessage(kind, payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) SendAndReceive(_ context.Context, kind protocol.Kind, _ any) (*protocol.Message, error) {
	f.mu.Lock()
	f.handshake++
	f.mu.Unlock()
	return protocol.NewCorrelated(kind, protocol.OpenGUIResponse{SessionID: f.sessionID}, "c-1")
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) OnMessage(fn func(*protocol.Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

func (f *fakeTransport) Start(context.Context) {}
func (f *fakeTransport) Done() <-chan struct{} { return f.done }
func (f *fakeTransport) Err() error { return nil }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.state = transport.StateClosed
		f.mu.Unlock()
		close(f.done)
	})
	return nil
}

// messages returns the sent frames of kind.
func (f *fakeTransport) messages(kind protocol.Kind) []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.Message
	for _, m := range f.sent {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// stepClock runs timers only when fire is called.
type stepClock struct {
	mu      sync.Mutex
	pending []func()
}

type stepTimer struct{}

func (stepTimer) Stop() bool { return true }

func (c *stepClock) Now() time.Time { return time.Unix(0, 0) }

func (c *stepClock) AfterFunc(_ time.Duration, f func()) highlight.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, f)
	return stepTimer{}
}

func (c *stepClock) fire() {
	c.mu.Lock()
	fns := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, f := range fns {
		f()
	}
}

type fakePrompter struct {
	answer  string
	prompts []string
}

func (p *fakePrompter) Prompt(_ context.Context, prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	return p.answer, nil
}

type testEnv struct {
	client   *Client
	tr       *fakeTransport
	ws       *headless.Workspace
	root     string
	clock    *stepClock
	prompter *fakePrompter
	hook     *logtest.Hook
}

func newTestEnv(t *testing.T, files map[string]string) *testEnv {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	logger, hook := logtest.NewNullLogger()
	prompter := &fakePrompter{}
	ws := headless.New(headless.Options{Root: root, Logger: logger, Shell: "/bin/sh", Prompter: prompter})
	t.Cleanup(ws.Shutdown)

	tr := newFakeTransport()
	clock := &stepClock{}
	c := New(Options{
		Transport: tr,
		Surface:   ws,
		Logger:    logger,
		Config:    &config.Config{Workspace: root, CommandSettleMs: 800, Shell: "/bin/sh"},
		Clock:     clock,
		Endpoint:  "ws://backend.test/ide/ws",
	})
	t.Cleanup(func() { c.Close() })

	return &testEnv{client: c, tr: tr, ws: ws, root: root, clock: clock, prompter: prompter, hook: hook}
}

func (e *testEnv) path(name string) string {
	return filepath.Join(e.root, name)
}

// request dispatches one inbound frame and returns the reply sent for it.
func (e *testEnv) request(t *testing.T, kind protocol.Kind, payload any) *protocol.Message {
	t.Helper()
	before := len(e.tr.messages(kind))
	msg, err := protocol.NewMessage(kind, payload)
	require.NoError(t, err)
	require.NoError(t, e.client.dispatcher.Dispatch(context.Background(), msg))

	replies := e.tr.messages(kind)
	require.Len(t, replies, before+1, "expected one %s reply", kind)
	return replies[len(replies)-1]
}

func decode[T any](t *testing.T, msg *protocol.Message) T {
	t.Helper()
	var v T
	require.NoError(t, msg.Decode(&v))
	return v
}

func rng(sl, sc, el, ec int) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: sl, Character: sc},
		End:   protocol.Position{Line: el, Character: ec},
	}
}

func TestEditFile_RepliesAndSuppressesBothEchoes(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.ts": "foo"})

	reply := env.request(t, protocol.KindEditFile, protocol.EditFileRequest{Edit: protocol.FileEdit{
		Filepath:    env.path("a.ts"),
		Range:       rng(0, 0, 0, 3),
		Replacement: "bar",
	}})

	got := decode[protocol.EditFileReply](t, reply)
	require.NotNil(t, got.FileEdit)
	assert.Equal(t, "bar", got.FileEdit.FileContents)
	assert.Equal(t, "bar", got.FileEdit.FileEdit.Replacement)

	assert.Empty(t, env.tr.messages(protocol.KindFileEdits), "echoes of the edit must not be forwarded")
	assert.Equal(t, 0, env.client.edits.Outstanding())

	// The next user edit is forwarded.
	require.NoError(t, env.ws.Type(context.Background(), "a.ts", rng(0, 3, 0, 3), "!"))
	forwarded := env.tr.messages(protocol.KindFileEdits)
	require.Len(t, forwarded, 1)
	note := decode[protocol.FileEditsNotification](t, forwarded[0])
	require.Len(t, note.FileEdits, 1)
	assert.Equal(t, "!", note.FileEdits[0].FileEdit.Replacement)
	assert.Equal(t, "bar!", note.FileEdits[0].FileContents)
}

func TestEditFile_CounterReturnsToZeroAfterManyEdits(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": ""})

	const n = 10
	for i := 0; i < n; i++ {
		env.request(t, protocol.KindEditFile, protocol.EditFileRequest{Edit: protocol.FileEdit{
			Filepath:    env.path("a.txt"),
			Range:       rng(0, i, 0, i),
			Replacement: "x",
		}})
	}

	assert.Equal(t, 0, env.client.edits.Outstanding())
	assert.Empty(t, env.tr.messages(protocol.KindFileEdits))
	assert.Equal(t, "xxxxxxxxxx", readView(t, env, "a.txt"))
}

func TestEditFile_FailureRepliesNull(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": "abc"})

	reply := env.request(t, protocol.KindEditFile, protocol.EditFileRequest{Edit: protocol.FileEdit{
		Filepath:    env.path("a.txt"),
		Range:       rng(5, 0, 5, 1),
		Replacement: "x",
	}})

	assert.JSONEq(t, `{"fileEdit":null}`, string(reply.Payload))
	assert.Equal(t, 0, env.client.edits.Outstanding(), "a rejected edit must release its echoes")

	reply = env.request(t, protocol.KindEditFile, protocol.EditFileRequest{Edit: protocol.FileEdit{
		Filepath: env.path("missing.txt"),
	}})
	assert.JSONEq(t, `{"fileEdit":null}`, string(reply.Payload))
}

func TestEditFile_UserEditBetweenEchoes(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.ts": "abcdef"})

	typed := false
	env.ws.OnTextChanged(func(ev surface.TextChangeEvent) {
		if ev.Tag != "" && !typed {
			typed = true
			require.NoError(t, env.ws.Type(context.Background(), "a.ts", rng(0, 0, 0, 4), ""))
		}
	})

	reply := env.request(t, protocol.KindEditFile, protocol.EditFileRequest{Edit: protocol.FileEdit{
		Filepath:    env.path("a.ts"),
		Range:       rng(0, 4, 0, 6),
		Replacement: "XY",
	}})

	got := decode[protocol.EditFileReply](t, reply)
	require.NotNil(t, got.FileEdit)
	assert.Equal(t, "XY", got.FileEdit.FileContents)
	assert.Equal(t, 0, env.client.edits.Outstanding())

	// Only the user's deletion goes upstream.
	forwarded := env.tr.messages(protocol.KindFileEdits)
	require.Len(t, forwarded, 1)
	note := decode[protocol.FileEditsNotification](t, forwarded[0])
	require.Len(t, note.FileEdits, 1)
	assert.Equal(t, rng(0, 0, 0, 4), note.FileEdits[0].FileEdit.Range)
}

func TestReplyOnFailure_PanicRepliesWithFallback(t *testing.T) {
	env := newTestEnv(t, nil)

	h := env.client.replyOnFailure(protocol.KindReadFile, protocol.ReadFileReply{},
		func(context.Context, *protocol.Message) (any, error) {
			panic("boom")
		})

	reply, err := h(context.Background(), &protocol.Message{Kind: protocol.KindReadFile})
	require.NoError(t, err)
	assert.Equal(t, protocol.ReadFileReply{}, reply)
}

func TestOpenFiles_ExcludesPlaceholderViews(t *testing.T) {
	env := newTestEnv(t, map[string]string{"real.go": "package real\n"})
	_, err := env.ws.OpenAndReveal(context.Background(), "real.go", nil)
	require.NoError(t, err)
	env.ws.Placeholder("/output/1", "log output", "log")
	env.ws.Placeholder("/accessible", "accessible-buffer-accessible-buffer-", "plaintext")
	env.ws.Placeholder("/scratch", "accessible-buffer-accessible-buffer-", "markdown")

	reply := env.request(t, protocol.KindOpenFiles, nil)

	got := decode[protocol.OpenFilesReply](t, reply)
	assert.Equal(t, []string{env.path("real.go"), "/scratch"}, got.OpenFiles)
}

func TestOpenFiles_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t, nil)
	reply := env.request(t, protocol.KindOpenFiles, nil)
	assert.JSONEq(t, `{"openFiles":[]}`, string(reply.Payload))
}

func TestUnknownKind_IsIsolated(t *testing.T) {
	env := newTestEnv(t, nil)

	msg, err := protocol.NewMessage("doesNotExist", nil)
	require.NoError(t, err)
	err = env.client.dispatcher.Dispatch(context.Background(), msg)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeUnknownKind))

	reply := env.request(t, protocol.KindUniqueID, nil)
	assert.Equal(t, env.ws.MachineID(), decode[protocol.UniqueIDReply](t, reply).UniqueID)
}

func TestReadFile(t *testing.T) {
	env := newTestEnv(t, map[string]string{"open.txt": "saved", "closed.txt": "on disk"})
	ctx := context.Background()

	require.NoError(t, env.ws.Type(ctx, "open.txt", rng(0, 0, 0, 5), "unsaved"))

	reply := env.request(t, protocol.KindReadFile, protocol.ReadFileRequest{Filepath: env.path("open.txt")})
	assert.Equal(t, "unsaved", decode[protocol.ReadFileReply](t, reply).Contents)

	reply = env.request(t, protocol.KindReadFile, protocol.ReadFileRequest{Filepath: env.path("closed.txt")})
	assert.Equal(t, "on disk", decode[protocol.ReadFileReply](t, reply).Contents)

	reply = env.request(t, protocol.KindReadFile, protocol.ReadFileRequest{Filepath: "closed.txt"})
	assert.Equal(t, "on disk", decode[protocol.ReadFileReply](t, reply).Contents, "relative paths resolve against the workspace")

	reply = env.request(t, protocol.KindReadFile, protocol.ReadFileRequest{Filepath: env.path("missing.txt")})
	assert.JSONEq(t, `{"contents":""}`, string(reply.Payload))

	var warned bool
	for _, entry := range env.hook.AllEntries() {
		if entry.Data["code"] == apperrors.CodeSurfaceNotFound {
			warned = true
		}
	}
	assert.True(t, warned, "failure should be logged with its code")
}

func TestWorkspaceDirectory(t *testing.T) {
	env := newTestEnv(t, nil)
	reply := env.request(t, protocol.KindWorkspaceDirectory, nil)
	assert.Equal(t, env.root, decode[protocol.WorkspaceDirectoryReply](t, reply).WorkspaceDirectory)
}

func TestWorkspaceDirectory_FallsBackToHome(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	ws := headless.New(headless.Options{Logger: logger, Prompter: &fakePrompter{}})
	t.Cleanup(ws.Shutdown)
	c := New(Options{Transport: newFakeTransport(), Surface: ws, Logger: logger})
	t.Cleanup(func() { c.Close() })

	home := t.TempDir()
	t.Setenv("HOME", home)
	assert.Equal(t, home, c.workspaceDirectory())

	t.Setenv("HOME", "")
	t.Setenv("USERPROFILE", `C:\Users\dev`)
	assert.Equal(t, `C:\Users\dev`, c.workspaceDirectory())

	t.Setenv("USERPROFILE", "")
	assert.Equal(t, "/", c.workspaceDirectory())
}

func TestGetUserSecret(t *testing.T) {
	env := newTestEnv(t, nil)

	require.NoError(t, env.ws.SetConfigValue("OPENAI_API_KEY", "sk-stored"))
	reply := env.request(t, protocol.KindGetUserSecret, protocol.GetUserSecretRequest{Key: "OPENAI_API_KEY"})
	got := decode[protocol.GetUserSecretReply](t, reply)
	require.NotNil(t, got.Value)
	assert.Equal(t, "sk-stored", *got.Value)
	assert.Empty(t, env.prompter.prompts, "a stored secret needs no prompt")

	env.prompter.answer = "sk-typed"
	reply = env.request(t, protocol.KindGetUserSecret, protocol.GetUserSecretRequest{Key: "ANTHROPIC_API_KEY"})
	got = decode[protocol.GetUserSecretReply](t, reply)
	require.NotNil(t, got.Value)
	assert.Equal(t, "sk-typed", *got.Value)
	require.Len(t, env.prompter.prompts, 1)
	assert.Contains(t, env.prompter.prompts[0], "Enter secret for ANTHROPIC_API_KEY, OR press enter to try for free")

	stored, ok := env.ws.ConfigValue("ANTHROPIC_API_KEY")
	assert.True(t, ok)
	assert.Equal(t, "sk-typed", stored)
}

func TestGetUserSecret_NothingEnteredOmitsValue(t *testing.T) {
	env := newTestEnv(t, nil)

	reply := env.request(t, protocol.KindGetUserSecret, protocol.GetUserSecretRequest{Key: "TOKEN"})

	assert.JSONEq(t, `{}`, string(reply.Payload))
	_, ok := env.ws.ConfigValue("TOKEN")
	assert.False(t, ok)
}

func TestHighlightedCode_ReturnsNonEmptySelections(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.go": "line one\nline two\n", "b.go": "x\n"})
	ctx := context.Background()
	require.NoError(t, env.ws.Select(ctx, "a.go", []protocol.Range{rng(0, 0, 0, 4), rng(1, 2, 1, 2)}))
	require.NoError(t, env.ws.Select(ctx, "b.go", []protocol.Range{rng(0, 0, 0, 0)}))

	reply := env.request(t, protocol.KindHighlightedCode, nil)

	got := decode[protocol.HighlightedCodeReply](t, reply)
	assert.Equal(t, []protocol.RangeInFile{{Filepath: env.path("a.go"), Range: rng(0, 0, 0, 4)}}, got.HighlightedCode)
}

func TestHighlightCode_ClearsOnSameFileMoveAfterDwell(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.go": "one\ntwo\nthree\n", "b.go": "x\n"})
	ctx := context.Background()

	msg, err := protocol.NewMessage(protocol.KindHighlightCode, protocol.HighlightCodeRequest{
		RangeInFile: protocol.RangeInFile{Filepath: env.path("a.go"), Range: rng(1, 0, 1, 3)},
		Color:       "#ffff0033",
	})
	require.NoError(t, err)
	require.NoError(t, env.client.dispatcher.Dispatch(ctx, msg))
	assert.Empty(t, env.tr.messages(protocol.KindHighlightCode), "highlightCode has no reply")

	decorations := env.ws.Decorations(env.path("a.go"))
	require.Len(t, decorations, 1)
	assert.Equal(t, "#ffff0033", decorations[0].BackgroundColor)
	assert.True(t, decorations[0].WholeLine)
	assert.Equal(t, decorations, env.client.Snapshot().Decorations[env.path("a.go")])

	// Inside the dwell a cursor move is ignored.
	require.NoError(t, env.ws.Select(ctx, "a.go", []protocol.Range{rng(0, 0, 0, 0)}))
	assert.Len(t, env.ws.Decorations(env.path("a.go")), 1)

	env.clock.fire()

	require.NoError(t, env.ws.Select(ctx, "b.go", []protocol.Range{rng(0, 0, 0, 0)}))
	assert.Len(t, env.ws.Decorations(env.path("a.go")), 1, "moves in other files never clear")

	require.NoError(t, env.ws.Select(ctx, "a.go", []protocol.Range{rng(2, 0, 2, 0)}))
	assert.Empty(t, env.ws.Decorations(env.path("a.go")))
	assert.Empty(t, env.client.highlights.Active())
	assert.Empty(t, env.client.Snapshot().Decorations)
}

func TestHighlightCode_MissingFile(t *testing.T) {
	env := newTestEnv(t, nil)
	msg, err := protocol.NewMessage(protocol.KindHighlightCode, protocol.HighlightCodeRequest{
		RangeInFile: protocol.RangeInFile{Filepath: env.path("nope.go")},
	})
	require.NoError(t, err)

	err = env.client.dispatcher.Dispatch(context.Background(), msg)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSurfaceNotFound))
}

func TestSaveFile(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": "old"})
	ctx := context.Background()
	require.NoError(t, env.ws.Type(ctx, "a.txt", rng(0, 0, 0, 3), "new"))

	msg, err := protocol.NewMessage(protocol.KindSaveFile, protocol.SaveFileRequest{Filepath: env.path("a.txt")})
	require.NoError(t, err)
	require.NoError(t, env.client.dispatcher.Dispatch(ctx, msg))

	data, err := os.ReadFile(env.path("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	assert.False(t, env.ws.Dirty("a.txt"))

	// A file that is not open is ignored.
	msg, err = protocol.NewMessage(protocol.KindSaveFile, protocol.SaveFileRequest{Filepath: env.path("other.txt")})
	require.NoError(t, err)
	assert.NoError(t, env.client.dispatcher.Dispatch(ctx, msg))
}

func TestSetFileOpen(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": "a"})
	ctx := context.Background()

	msg, err := protocol.NewMessage(protocol.KindSetFileOpen, protocol.SetFileOpenRequest{Filepath: env.path("a.txt")})
	require.NoError(t, err)
	require.NoError(t, env.client.dispatcher.Dispatch(ctx, msg))
	require.Len(t, env.ws.VisibleViews(), 1)

	closed := false
	msg, err = protocol.NewMessage(protocol.KindSetFileOpen, protocol.SetFileOpenRequest{Filepath: env.path("a.txt"), Open: &closed})
	require.NoError(t, err)
	require.NoError(t, env.client.dispatcher.Dispatch(ctx, msg))
	assert.Empty(t, env.ws.VisibleViews())

	msg, err = protocol.NewMessage(protocol.KindSetFileOpen, protocol.SetFileOpenRequest{Filepath: env.path("missing.txt")})
	require.NoError(t, err)
	err = env.client.dispatcher.Dispatch(ctx, msg)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeSurfaceNotFound))
}

func TestIgnoredKinds(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, kind := range []protocol.Kind{protocol.KindOpenGUI, protocol.KindConnected} {
		msg, err := protocol.NewMessage(kind, nil)
		require.NoError(t, err)
		assert.NoError(t, env.client.dispatcher.Dispatch(context.Background(), msg))
		assert.Empty(t, env.tr.messages(kind))
	}
}

func TestRunCommand(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	env := newTestEnv(t, nil)

	reply := env.request(t, protocol.KindRunCommand, protocol.RunCommandRequest{Command: "echo idelink-$((40+2))"})

	assert.Contains(t, decode[protocol.RunCommandReply](t, reply).Output, "idelink-42")
	require.Len(t, env.ws.Terminals(), 1)

	// The same terminal is reused.
	env.request(t, protocol.KindRunCommand, protocol.RunCommandRequest{Command: "true"})
	assert.Len(t, env.ws.Terminals(), 1)
}

func TestRunCommand_InvalidRepliesEmpty(t *testing.T) {
	env := newTestEnv(t, nil)
	reply := env.request(t, protocol.KindRunCommand, protocol.RunCommandRequest{})
	assert.JSONEq(t, `{"output":""}`, string(reply.Payload))
}

func TestSendCommandOutput(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.client.SendCommandOutput("build ok"))

	sent := env.tr.messages(protocol.KindCommandOutput)
	require.Len(t, sent, 1)
	assert.Equal(t, "build ok", decode[protocol.CommandOutputNotification](t, sent[0]).Output)
}

func TestRun_EstablishesSessionAndStopsOnClose(t *testing.T) {
	env := newTestEnv(t, nil)

	errc := make(chan error, 1)
	go func() { errc <- env.client.Run(context.Background()) }()

	sid, err := env.client.WaitSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sid)
	assert.Equal(t, "sess-1", env.client.SessionID())

	// WaitSession can return before Run has registered its callback.
	var handler func(*protocol.Message)
	require.Eventually(t, func() bool {
		env.tr.mu.Lock()
		defer env.tr.mu.Unlock()
		handler = env.tr.handler
		return handler != nil
	}, 2*time.Second, 5*time.Millisecond)

	// Inbound frames reach the dispatcher through the transport callback.
	msg, err := protocol.NewMessage(protocol.KindUniqueID, nil)
	require.NoError(t, err)
	handler(msg)
	require.Eventually(t, func() bool {
		return len(env.tr.messages(protocol.KindUniqueID)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.client.Close())
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	env.tr.mu.Lock()
	assert.Equal(t, 1, env.tr.handshake)
	env.tr.mu.Unlock()
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": "a"})
	_, err := env.ws.OpenAndReveal(context.Background(), "a.txt", nil)
	require.NoError(t, err)
	env.ws.Placeholder("/output/1", "", "")

	st := env.client.Snapshot()
	assert.Equal(t, "open", st.State)
	assert.Equal(t, "ws://backend.test/ide/ws", st.Endpoint)
	assert.Equal(t, env.root, st.Workspace)
	assert.Equal(t, []string{env.path("a.txt")}, st.OpenFiles)
	assert.Zero(t, st.OutstandingEchoes)
	assert.Contains(t, st.Handlers, string(protocol.KindEditFile))
	assert.Contains(t, st.Handlers, string(protocol.KindRunCommand))
	assert.True(t, sort.StringsAreSorted(st.Handlers))
	assert.Empty(t, st.Terminals)

	_, err = env.ws.CreateTerminal()
	require.NoError(t, err)
	st = env.client.Snapshot()
	require.Len(t, st.Terminals, 1)
	assert.Equal(t, "idelink 1", st.Terminals[0].Name)

	data, err := json.Marshal(env.client.Status())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"open"`)
	assert.Contains(t, string(data), `"terminals":[{"name":"idelink 1"`)
}

func TestControl_DrivesHeadlessSurface(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": "abc"})
	ctx := context.Background()

	require.NoError(t, env.client.Open(ctx, "a.txt", nil))
	require.NoError(t, env.client.Type(ctx, "a.txt", rng(0, 3, 0, 3), "d"))
	require.Len(t, env.tr.messages(protocol.KindFileEdits), 1)

	require.NoError(t, env.client.Select(ctx, "a.txt", []protocol.Range{rng(0, 0, 0, 2)}))
	require.NoError(t, env.client.Save("a.txt"))
	data, err := os.ReadFile(env.path("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(data))

	require.NoError(t, env.client.CloseFile("a.txt"))
	assert.Empty(t, env.ws.VisibleViews())
}

func readView(t *testing.T, env *testEnv, name string) string {
	t.Helper()
	view, err := env.ws.OpenAndReveal(context.Background(), name, nil)
	require.NoError(t, err)
	return view.Text()
}
