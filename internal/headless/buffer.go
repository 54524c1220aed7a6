package headless

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pseudocoder/idelink/internal/protocol"
)

// buffer is one open document. It implements surface.View.
type buffer struct {
	path        string
	languageID  string
	placeholder bool

	mu         sync.RWMutex
	text       string
	saved      string // text as last read from or written to disk
	selections []protocol.Range
	revealed   *protocol.Range
	diskMod    time.Time
	diskSize   int64
}

func loadBuffer(path string) (*buffer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &os.PathError{Op: "open", Path: path, Err: errIsDir}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := string(data)
	return &buffer{
		path:       path,
		languageID: languageFor(path),
		text:       text,
		saved:      text,
		selections: []protocol.Range{{}},
		diskMod:    info.ModTime(),
		diskSize:   info.Size(),
	}, nil
}

func (b *buffer) Path() string { return b.path }
func (b *buffer) LanguageID() string { return b.languageID }

func (b *buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text
}

func (b *buffer) Selections() []protocol.Range {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]protocol.Range(nil), b.selections...)
}

// Dirty reports unsaved changes.
func (b *buffer) Dirty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.placeholder && b.text != b.saved
}

// Save writes the buffer to disk through a temp file and rename.
func (b *buffer) Save() error {
	if b.placeholder {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := writeFileAtomic(b.path, []byte(b.text)); err != nil {
		return err
	}
	b.saved = b.text
	if info, err := os.Stat(b.path); err == nil {
		b.diskMod = info.ModTime()
		b.diskSize = info.Size()
	}
	return nil
}

// replace swaps [start,end) for text. Caller holds mu.
func (b *buffer) replace(start, end int, text string) {
	b.text = b.text[:start] + text + b.text[end:]
}

// writeFileAtomic keeps the original permissions when the file exists.
func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".idelink-write-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

var languageIDs = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascriptreact",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".json": "json",
	".md":   "markdown",
	".rs":   "rust",
	".java": "java",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".rb":   "ruby",
	".sh":   "shellscript",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".html": "html",
	".css":  "css",
	".sql":  "sql",
}

func languageFor(path string) string {
	if id, ok := languageIDs[strings.ToLower(filepath.Ext(path))]; ok {
		return id
	}
	return "plaintext"
}
