package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/protocol"
	"github.com/pseudocoder/idelink/internal/surface"
)

// Views the host creates for its own purposes. They are never reported as
// open files.
const (
	placeholderSuffix   = "/1"
	placeholderLanguage = "plaintext"
	placeholderText     = "accessible-buffer-accessible-buffer-"
)

func isPlaceholder(v surface.View) bool {
	if strings.HasSuffix(v.Path(), placeholderSuffix) {
		return true
	}
	return v.LanguageID() == placeholderLanguage && v.Text() == placeholderText
}

// localPath resolves a backend path against the workspace root.
func (c *Client) localPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	if root, ok := c.surface.WorkspaceRoot(); ok && root != "" {
		return filepath.Join(root, p)
	}
	return filepath.Clean(p)
}

// viewsFor returns the visible views showing path.
func (c *Client) viewsFor(path string) []surface.View {
	want := c.localPath(path)
	var out []surface.View
	for _, v := range c.surface.VisibleViews() {
		if filepath.Clean(v.Path()) == want {
			out = append(out, v)
		}
	}
	return out
}

func (c *Client) handleHighlightedCode(context.Context, *protocol.Message) (any, error) {
	ranges := []protocol.RangeInFile{}
	for _, v := range c.surface.VisibleViews() {
		for _, sel := range v.Selections() {
			if sel.IsEmpty() {
				continue
			}
			ranges = append(ranges, protocol.RangeInFile{Filepath: v.Path(), Range: sel})
		}
	}
	return protocol.HighlightedCodeReply{HighlightedCode: ranges}, nil
}

func (c *Client) handleOpenFiles(context.Context, *protocol.Message) (any, error) {
	paths := []string{}
	for _, v := range c.surface.VisibleViews() {
		if isPlaceholder(v) {
			continue
		}
		paths = append(paths, v.Path())
	}
	return protocol.OpenFilesReply{OpenFiles: paths}, nil
}

// handleReadFile prefers the text of an open view, which may hold unsaved
// edits, and falls back to the file on disk.
func (c *Client) handleReadFile(_ context.Context, msg *protocol.Message) (any, error) {
	var req protocol.ReadFileRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	if req.Filepath == "" {
		return nil, apperrors.InvalidMessage("readFile requires a filepath", nil)
	}

	var contents string
	for _, v := range c.viewsFor(req.Filepath) {
		contents = v.Text()
	}
	if contents != "" {
		return protocol.ReadFileReply{Contents: contents}, nil
	}

	data, err := os.ReadFile(c.localPath(req.Filepath))
	if err != nil {
		return nil, apperrors.SurfaceNotFound(req.Filepath, err)
	}
	return protocol.ReadFileReply{Contents: string(data)}, nil
}

func (c *Client) handleEditFile(ctx context.Context, msg *protocol.Message) (any, error) {
	var req protocol.EditFileRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	if req.Edit.Filepath == "" {
		return nil, apperrors.InvalidMessage("editFile requires edit.filepath", nil)
	}

	result, err := c.edits.Apply(ctx, c.surface, req.Edit)
	if err != nil {
		return nil, err
	}
	return protocol.EditFileReply{FileEdit: result}, nil
}

func (c *Client) handleHighlightCode(ctx context.Context, msg *protocol.Message) (any, error) {
	var req protocol.HighlightCodeRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	if req.RangeInFile.Filepath == "" {
		return nil, apperrors.InvalidMessage("highlightCode requires rangeInFile.filepath", nil)
	}
	if _, err := c.highlights.Highlight(ctx, req.RangeInFile, req.Color); err != nil {
		return nil, err
	}
	return nil, nil
}

// handleSaveFile saves every visible view of the file. A file that is not
// open is left alone.
func (c *Client) handleSaveFile(_ context.Context, msg *protocol.Message) (any, error) {
	var req protocol.SaveFileRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	views := c.viewsFor(req.Filepath)
	if len(views) == 0 {
		c.log.WithField("path", req.Filepath).Debug("saveFile for a file that is not open")
		return nil, nil
	}
	var errs []error
	for _, v := range views {
		if err := v.Save(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, apperrors.Internal("save "+req.Filepath, errors.Join(errs...))
	}
	return nil, nil
}

// handleSetFileOpen opens and reveals the file. open=false closes it on
// surfaces that can close views.
func (c *Client) handleSetFileOpen(ctx context.Context, msg *protocol.Message) (any, error) {
	var req protocol.SetFileOpenRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	if req.Filepath == "" {
		return nil, apperrors.InvalidMessage("setFileOpen requires a filepath", nil)
	}

	if req.Open != nil && !*req.Open {
		if local, ok := c.surface.(LocalEditor); ok {
			return nil, local.Close(req.Filepath)
		}
		return nil, nil
	}
	if _, err := c.surface.OpenAndReveal(ctx, req.Filepath, nil); err != nil {
		return nil, err
	}
	return nil, nil
}
