package pty

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
)

// Session is one command running attached to a PTY. Output is split into
// lines, kept in a RingBuffer, and optionally forwarded through OnLine.
type Session struct {
	// ID identifies the session within a Manager.
	ID string

	// Name is shown to users, e.g. "idelink 1".
	Name string

	// Command and Args are recorded by Start.
	Command string
	Args    []string

	// CreatedAt is set by Start.
	CreatedAt time.Time

	dir string
	env []string

	cmd  *exec.Cmd
	ptmx *os.File // master side; nil once closed

	buffer *RingBuffer

	done       chan struct{} // closed when the process has exited and output drained
	outputDone chan struct{}

	mu      sync.Mutex
	running bool
	err     error

	onLine func(sessionID, line string)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	ID           string
	Name         string
	Dir          string   // working directory; empty inherits ours
	Env          []string // appended to os.Environ()
	HistoryLines int      // ring buffer size; <= 0 means 5000
	// OnLine is called from the capture goroutine for every complete line.
	OnLine func(sessionID, line string)
}

// NewSession allocates a Session. Call Start to run a command.
func NewSession(cfg SessionConfig) *Session {
	return &Session{
		ID:         cfg.ID,
		Name:       cfg.Name,
		dir:        cfg.Dir,
		env:        cfg.Env,
		buffer:     NewRingBuffer(cfg.HistoryLines),
		done:       make(chan struct{}),
		outputDone: make(chan struct{}),
		onLine:     cfg.OnLine,
	}
}

// Start runs command attached to a new PTY.
func (s *Session) Start(command string, args ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.cmd != nil {
		return fmt.Errorf("session already started")
	}

	s.Command = command
	s.Args = args
	s.CreatedAt = time.Now()

	s.cmd = exec.Command(command, args...)
	s.cmd.Dir = s.dir
	s.cmd.Env = append(os.Environ(), s.env...)

	ptmx, err := pty.Start(s.cmd)
	if err != nil {
		return fmt.Errorf("failed to start PTY: %w", err)
	}

	s.ptmx = ptmx
	s.running = true

	go s.captureOutput(ptmx)
	go s.waitForExit()
	return nil
}

// captureOutput reads the PTY master until it fails. Complete lines go to
// the buffer and OnLine; a trailing partial line is flushed on exit.
func (s *Session) captureOutput(ptmx *os.File) {
	defer close(s.outputDone)

	buf := make([]byte, 4096)
	var pending strings.Builder

	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			s.splitLines(sanitizeUTF8(string(buf[:n])), &pending)
		}
		if err != nil {
			if pending.Len() > 0 {
				s.emit(pending.String())
			}
			// Linux reports EIO once the slave side is gone.
			if err != io.EOF && !isClosedPTY(err) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
	}
}

func (s *Session) splitLines(chunk string, pending *strings.Builder) {
	if pending.Len() > 0 {
		chunk = pending.String() + chunk
		pending.Reset()
	}
	for {
		idx := strings.IndexByte(chunk, '\n')
		if idx == -1 {
			pending.WriteString(chunk)
			return
		}
		s.emit(chunk[:idx])
		chunk = chunk[idx+1:]
	}
}

func (s *Session) emit(line string) {
	line = strings.TrimRight(line, "\r")
	s.buffer.Write(line)
	if s.onLine != nil {
		s.onLine(s.ID, line)
	}
}

func (s *Session) waitForExit() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Wait()
	}

	<-s.outputDone

	s.mu.Lock()
	s.running = false
	if s.ptmx != nil {
		s.ptmx.Close()
		s.ptmx = nil
	}
	s.mu.Unlock()
	close(s.done)
}

func isClosedPTY(err error) bool {
	return strings.Contains(err.Error(), "input/output error") ||
		strings.Contains(err.Error(), "file already closed")
}

// sanitizeUTF8 replaces invalid UTF-8 with U+FFFD so lines survive JSON.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, string(utf8.RuneError))
}

// Write sends raw input to the PTY.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()

	if ptmx == nil {
		return 0, fmt.Errorf("session not running")
	}
	return ptmx.Write(p)
}

// SendLine writes text followed by a carriage return, as if typed and
// submitted at the prompt.
func (s *Session) SendLine(text string) error {
	_, err := s.Write([]byte(text + "\r"))
	return err
}

// Lines returns the retained output lines.
func (s *Session) Lines() []string {
	return s.buffer.Lines()
}

// Mark returns an output cursor for OutputSince.
func (s *Session) Mark() int64 {
	return s.buffer.Mark()
}

// OutputSince returns the lines produced after mark.
func (s *Session) OutputSince(mark int64) []string {
	return s.buffer.Since(mark)
}

// Done is closed when the process has exited and its output is drained.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// IsRunning reports whether the process is still alive.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetName returns the session name.
func (s *Session) GetName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Name
}

// GetCommand returns the command passed to Start.
func (s *Session) GetCommand() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Command
}

// GetCreatedAt returns when Start ran.
func (s *Session) GetCreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CreatedAt
}

// Error returns an unexpected read error, if any.
func (s *Session) Error() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop closes the PTY and kills the process. Callers that need the exit to
// be complete should wait on Done.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	if s.ptmx != nil {
		s.ptmx.Close()
		s.ptmx = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	return nil
}
