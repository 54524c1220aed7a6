package protocol

// Position is a zero-based line/character location in a text document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Before reports whether p sorts strictly before o.
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// IsEmpty reports whether the range covers no text.
func (r Range) IsEmpty() bool {
	return r.Start == r.End
}

// RangeInFile locates a range in a specific file.
type RangeInFile struct {
	Filepath string `json:"filepath"`
	Range    Range  `json:"range"`
}

// FileEdit replaces Range in Filepath with Replacement.
type FileEdit struct {
	Filepath    string `json:"filepath"`
	Range       Range  `json:"range"`
	Replacement string `json:"replacement"`
}

// FileEditWithFullContents pairs an edit with the whole document text after it.
type FileEditWithFullContents struct {
	FileEdit     FileEdit `json:"fileEdit"`
	FileContents string   `json:"fileContents"`
}

// Request payloads.

// ReadFileRequest is the payload of readFile.
type ReadFileRequest struct {
	Filepath string `json:"filepath"`
}

// EditFileRequest is the payload of editFile.
type EditFileRequest struct {
	Edit FileEdit `json:"edit"`
}

// HighlightCodeRequest is the payload of highlightCode.
type HighlightCodeRequest struct {
	RangeInFile RangeInFile `json:"rangeInFile"`
	Color       string      `json:"color"`
}

// RunCommandRequest is the payload of runCommand.
type RunCommandRequest struct {
	Command string `json:"command"`
}

// SaveFileRequest is the payload of saveFile.
type SaveFileRequest struct {
	Filepath string `json:"filepath"`
}

// SetFileOpenRequest is the payload of setFileOpen.
type SetFileOpenRequest struct {
	Filepath string `json:"filepath"`
	Open     *bool  `json:"open,omitempty"`
}

// GetUserSecretRequest is the payload of getUserSecret.
type GetUserSecretRequest struct {
	Key string `json:"key"`
}

// Reply payloads.

// HighlightedCodeReply answers highlightedCode.
type HighlightedCodeReply struct {
	HighlightedCode []RangeInFile `json:"highlightedCode"`
}

// WorkspaceDirectoryReply answers workspaceDirectory.
type WorkspaceDirectoryReply struct {
	WorkspaceDirectory string `json:"workspaceDirectory"`
}

// UniqueIDReply answers uniqueId.
type UniqueIDReply struct {
	UniqueID string `json:"uniqueId"`
}

// GetUserSecretReply answers getUserSecret. Value is omitted when the user
// supplied nothing.
type GetUserSecretReply struct {
	Value *string `json:"value,omitempty"`
}

// OpenFilesReply answers openFiles.
type OpenFilesReply struct {
	OpenFiles []string `json:"openFiles"`
}

// ReadFileReply answers readFile.
type ReadFileReply struct {
	Contents string `json:"contents"`
}

// EditFileReply answers editFile. FileEdit is null when the edit failed.
type EditFileReply struct {
	FileEdit *FileEditWithFullContents `json:"fileEdit"`
}

// RunCommandReply answers runCommand.
type RunCommandReply struct {
	Output string `json:"output"`
}

// Notifications and handshake.

// FileEditsNotification reports user edits. One entry per content change.
type FileEditsNotification struct {
	FileEdits []FileEditWithFullContents `json:"fileEdits"`
}

// CommandOutputNotification reports terminal output.
type CommandOutputNotification struct {
	Output string `json:"output"`
}

// OpenGUIResponse is the backend's answer to the openGUI handshake.
type OpenGUIResponse struct {
	SessionID string `json:"sessionId"`
}
