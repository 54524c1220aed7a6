package headless

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pseudocoder/idelink/internal/surface"
)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	PollInterval time.Duration
	// OnError receives deduplicated stat/read failures.
	OnError func(error)
}

// Watcher notices files changed on disk behind open documents and replays
// the change into the buffer as a user edit, so the backend sees it.
// Documents with unsaved changes are left alone.
type Watcher struct {
	ws     *Workspace
	config WatcherConfig
	log    logrus.FieldLogger

	mu                 sync.Mutex
	stopCh             chan struct{}
	doneCh             chan struct{}
	running            bool
	scanning           bool
	lastErrorSignature string
}

// NewWatcher creates a watcher (not started).
func NewWatcher(ws *Workspace, config WatcherConfig) *Watcher {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	return &Watcher{
		ws:     ws,
		config: config,
		log:    ws.log.WithField("subcomponent", "watcher"),
	}
}

// Start begins polling in a background goroutine.
func (p *Watcher) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.running = true
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.pollLoop(stopCh, doneCh)
}

// Stop ends polling and waits for the loop to exit.
func (p *Watcher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (p *Watcher) pollLoop(stopCh <-chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.Tick()
		}
	}
}

// Tick runs one poll cycle. Overlapping calls are skipped.
func (p *Watcher) Tick() {
	p.mu.Lock()
	if p.scanning {
		p.mu.Unlock()
		return
	}
	p.scanning = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.scanning = false
		p.mu.Unlock()
	}()

	errPaths := make(map[string]error)
	for _, view := range p.ws.VisibleViews() {
		b := view.(*buffer)
		if b.placeholder {
			continue
		}
		if err := p.check(b); err != nil {
			errPaths[b.path] = err
		}
	}
	p.reportErrors(errPaths)
}

// check compares b with its file and replays an external change.
func (p *Watcher) check(b *buffer) error {
	info, err := os.Stat(b.path)
	if err != nil {
		return err
	}

	b.mu.RLock()
	unchanged := info.Size() == b.diskSize && info.ModTime().Equal(b.diskMod)
	dirty := b.text != b.saved
	b.mu.RUnlock()
	if unchanged {
		return nil
	}

	data, err := os.ReadFile(b.path)
	if err != nil {
		return err
	}
	updated := string(data)

	b.mu.Lock()
	b.diskMod = info.ModTime()
	b.diskSize = info.Size()
	if dirty {
		b.mu.Unlock()
		p.log.WithField("path", b.path).Warn("File changed on disk while buffer has unsaved changes; keeping buffer")
		return nil
	}
	rng, text, changed := diffSpan(b.text, updated)
	if !changed {
		b.saved = updated
		b.mu.Unlock()
		return nil
	}
	b.text = updated
	b.saved = updated
	b.mu.Unlock()

	p.log.WithField("path", b.path).Debug("Reloaded file changed on disk")
	p.ws.emitText(surface.TextChangeEvent{
		View:    b,
		Changes: []surface.ContentChange{{Range: rng, Text: text}},
	})
	return nil
}

// reportErrors calls OnError once per distinct set of failing paths. A clean
// cycle resets the signature.
func (p *Watcher) reportErrors(errPaths map[string]error) {
	if len(errPaths) == 0 {
		p.mu.Lock()
		p.lastErrorSignature = ""
		p.mu.Unlock()
		return
	}

	paths := make([]string, 0, len(errPaths))
	for path := range errPaths {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	signature := strings.Join(paths, "\x1f")

	p.mu.Lock()
	if signature == p.lastErrorSignature {
		p.mu.Unlock()
		return
	}
	p.lastErrorSignature = signature
	onError := p.config.OnError
	p.mu.Unlock()

	err := fmt.Errorf("watch failed on %d file(s): %s: %w", len(paths), strings.Join(paths, ", "), errPaths[paths[0]])
	if onError != nil {
		onError(err)
		return
	}
	p.log.WithError(err).Warn("File watch errors")
}
