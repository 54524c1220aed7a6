package headless

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/pty"
	"github.com/pseudocoder/idelink/internal/surface"
)

// terminal adapts a pty.Session to surface.Terminal and surface.OutputReader.
type terminal struct {
	session *pty.Session
	log     logrus.FieldLogger

	mu    sync.Mutex
	shown bool
}

var (
	_ surface.Terminal     = (*terminal)(nil)
	_ surface.OutputReader = (*terminal)(nil)
)

func (t *terminal) Name() string { return t.session.GetName() }

// SendText types text at the prompt and presses enter.
func (t *terminal) SendText(text string) error {
	return t.session.SendLine(text)
}

func (t *terminal) Show() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.shown {
		t.shown = true
		t.log.WithField("terminal", t.Name()).Info("Terminal shown")
	}
}

func (t *terminal) Mark() int64 { return t.session.Mark() }
func (t *terminal) OutputSince(mark int64) []string { return t.session.OutputSince(mark) }

// Lines returns the terminal's retained output.
func (t *terminal) Lines() []string { return t.session.Lines() }

type terminals struct {
	mgr      *pty.Manager
	shell    string
	dir      string
	history  int
	onOutput func(terminal, line string)
	log      logrus.FieldLogger

	mu      sync.Mutex
	byID    map[string]*terminal
	created int
}

func newTerminals(w *Workspace, opts Options) *terminals {
	shell := opts.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	return &terminals{
		mgr:      pty.NewManager(0),
		shell:    shell,
		dir:      w.root,
		history:  opts.HistoryLines,
		onOutput: opts.OnTerminalOutput,
		log:      w.log,
		byID:     make(map[string]*terminal),
	}
}

// list returns running terminals in creation order. Exited shells are
// forgotten.
func (ts *terminals) list() []surface.Terminal {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	var out []surface.Terminal
	for _, s := range ts.mgr.Sessions() {
		t := ts.byID[s.ID]
		if t == nil {
			continue
		}
		if !s.IsRunning() {
			delete(ts.byID, s.ID)
			_ = ts.mgr.Close(s.ID)
			continue
		}
		out = append(out, t)
	}
	return out
}

func (ts *terminals) info() []surface.TerminalInfo {
	sessions := ts.mgr.List()
	out := make([]surface.TerminalInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, surface.TerminalInfo{
			Name:      s.Name,
			Command:   s.Command,
			Running:   s.Running,
			StartedAt: s.CreatedAt,
		})
	}
	return out
}

func (ts *terminals) create() (surface.Terminal, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.created++
	name := fmt.Sprintf("idelink %d", ts.created)

	cfg := pty.SessionConfig{
		Name:         name,
		Dir:          ts.dir,
		HistoryLines: ts.history,
	}
	if ts.onOutput != nil {
		cfg.OnLine = func(_, line string) { ts.onOutput(name, line) }
	}

	session, err := ts.mgr.Create(cfg)
	if err != nil {
		return nil, apperrors.CommandFailed("failed to create terminal", err)
	}
	if err := session.Start(ts.shell); err != nil {
		_ = ts.mgr.Close(session.ID)
		return nil, apperrors.CommandFailed("failed to start "+ts.shell, err)
	}

	t := &terminal{session: session, log: ts.log}
	ts.byID[session.ID] = t
	ts.log.WithFields(logrus.Fields{"terminal": name, "shell": ts.shell}).Info("Terminal started")
	return t, nil
}

func (ts *terminals) closeAll() {
	ts.mu.Lock()
	ts.byID = make(map[string]*terminal)
	ts.mu.Unlock()
	ts.mgr.CloseAll()
}
