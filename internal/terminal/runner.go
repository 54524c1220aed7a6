// Package terminal runs backend-requested commands in the surface's terminal.
package terminal

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/redact"
	"github.com/pseudocoder/idelink/internal/surface"
)

// Options configures a Runner.
type Options struct {
	// RatePerSec and Burst throttle commands. Defaults: 5 and 5.
	RatePerSec float64
	Burst      int
	// Settle is how long output is collected after a command is sent.
	// 0 returns immediately with empty output.
	Settle time.Duration
	Logger logrus.FieldLogger
}

// Runner sends commands to the first terminal, creating one if needed.
type Runner struct {
	host    surface.TerminalHost
	limiter *rate.Limiter
	settle  time.Duration
	log     logrus.FieldLogger

	// Serializes commands so output windows do not overlap.
	mu sync.Mutex
}

// NewRunner creates a Runner over host.
func NewRunner(host surface.TerminalHost, opts Options) *Runner {
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Runner{
		host:    host,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		settle:  opts.Settle,
		log:     opts.Logger.WithField("component", "terminal"),
	}
}

// Run sends command to a terminal and returns whatever output the terminal
// reports during the settle window. Output is best effort: terminals that
// cannot report output yield "".
func (r *Runner) Run(ctx context.Context, command string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	term, err := r.terminal()
	if err != nil {
		return "", err
	}

	reader, canRead := term.(surface.OutputReader)
	var mark int64
	if canRead {
		mark = reader.Mark()
	}

	r.log.WithFields(logrus.Fields{
		"terminal": term.Name(),
		"command":  redact.Command(command),
	}).Info("Running command")

	if err := term.SendText(command); err != nil {
		return "", apperrors.CommandFailed("failed to send command to "+term.Name(), err)
	}

	if !canRead || r.settle <= 0 {
		return "", nil
	}

	timer := time.NewTimer(r.settle)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return strings.Join(reader.OutputSince(mark), "\n"), nil
}

func (r *Runner) terminal() (surface.Terminal, error) {
	if terms := r.host.Terminals(); len(terms) > 0 {
		return terms[0], nil
	}
	term, err := r.host.CreateTerminal()
	if err != nil {
		return nil, apperrors.CommandFailed("failed to create terminal", err)
	}
	term.Show()
	return term, nil
}
