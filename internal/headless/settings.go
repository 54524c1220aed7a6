package headless

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/pseudocoder/idelink/internal/storage"
)

// Prompter asks the user for a secret. An empty answer means "nothing".
type Prompter interface {
	Prompt(ctx context.Context, prompt string) (string, error)
}

// TTYPrompter reads a secret from stdin without echo. When stdin is not a
// terminal it answers with nothing.
type TTYPrompter struct{}

// Prompt implements Prompter.
func (TTYPrompter) Prompt(ctx context.Context, prompt string) (string, error) {
	fd := os.Stdin.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return "", nil
	}

	fmt.Fprintf(os.Stderr, "%s\n> ", prompt)

	type result struct {
		value string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		b, err := term.ReadPassword(int(fd))
		fmt.Fprintln(os.Stderr)
		done <- result{strings.TrimSpace(string(b)), err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ConfigValue returns a stored setting or secret.
func (w *Workspace) ConfigValue(key string) (string, bool) {
	if w.store == nil {
		w.mu.RLock()
		defer w.mu.RUnlock()
		v, ok := w.memSettings[key]
		return v, ok
	}

	v, err := w.store.GetSetting(key)
	if err != nil {
		if !errors.Is(err, storage.ErrSettingNotFound) {
			w.log.WithError(err).WithField("key", key).Warn("Failed to read setting")
		}
		return "", false
	}
	return v, true
}

// SetConfigValue stores value under key. Values written through the
// surface are user secrets, so they are kept out of setting listings.
func (w *Workspace) SetConfigValue(key, value string) error {
	if w.store == nil {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.memSettings[key] = value
		return nil
	}
	return w.store.SetSecret(key, value)
}

// PromptSecret asks the user through the configured Prompter.
func (w *Workspace) PromptSecret(ctx context.Context, prompt string) (string, bool, error) {
	value, err := w.prompter.Prompt(ctx, prompt)
	if err != nil {
		return "", false, err
	}
	return value, value != "", nil
}
