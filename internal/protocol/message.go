// Package protocol defines the frames exchanged between the editing surface
// and the assistant backend. Every frame is a JSON object
// {"kind": ..., "payload": ..., "correlationId": ...}; correlationId is only
// present on requests that expect a correlated response and on those responses.
package protocol

import (
	"bytes"
	"encoding/json"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
)

// Kind identifies the message being sent over the websocket.
// Each kind has a specific payload structure defined in payloads.go.
type Kind string

const (
	// KindHighlightedCode asks for the current non-empty selections.
	// Request: {} Reply: HighlightedCodeReply
	KindHighlightedCode Kind = "highlightedCode"

	// KindWorkspaceDirectory asks for the workspace root.
	// Request: {} Reply: WorkspaceDirectoryReply
	KindWorkspaceDirectory Kind = "workspaceDirectory"

	// KindUniqueID asks for the stable machine identifier.
	// Request: {} Reply: UniqueIDReply
	KindUniqueID Kind = "uniqueId"

	// KindGetUserSecret asks for a named secret, prompting the user if unset.
	// Request: GetUserSecretRequest Reply: GetUserSecretReply
	KindGetUserSecret Kind = "getUserSecret"

	// KindOpenFiles asks for the paths of the visible views.
	// Request: {} Reply: OpenFilesReply
	KindOpenFiles Kind = "openFiles"

	// KindReadFile asks for a file's contents, preferring unsaved editor text.
	// Request: ReadFileRequest Reply: ReadFileReply
	KindReadFile Kind = "readFile"

	// KindEditFile applies an edit through the surface.
	// Request: EditFileRequest Reply: EditFileReply
	KindEditFile Kind = "editFile"

	// KindHighlightCode decorates a range until the next cursor move.
	// Request: HighlightCodeRequest Reply: none
	KindHighlightCode Kind = "highlightCode"

	// KindRunCommand sends a command to a terminal.
	// Request: RunCommandRequest Reply: RunCommandReply
	KindRunCommand Kind = "runCommand"

	// KindSaveFile saves every visible view of a file.
	// Request: SaveFileRequest Reply: none
	KindSaveFile Kind = "saveFile"

	// KindSetFileOpen opens and reveals a file.
	// Request: SetFileOpenRequest Reply: none
	KindSetFileOpen Kind = "setFileOpen"

	// KindOpenGUI is the session handshake. Sent by the client with
	// SendAndReceive; the backend answers with OpenGUIResponse. Ignored inbound.
	KindOpenGUI Kind = "openGUI"

	// KindConnected is an informational notice from the backend. Ignored.
	KindConnected Kind = "connected"

	// KindFileEdits reports user edits upstream. Outbound only.
	// Payload: FileEditsNotification
	KindFileEdits Kind = "fileEdits"

	// KindCommandOutput reports terminal output upstream. Outbound only.
	// Payload: CommandOutputNotification
	KindCommandOutput Kind = "commandOutput"
)

// Message is the envelope for all websocket frames.
type Message struct {
	Kind          Kind            `json:"kind"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// IsResponse reports whether the frame answers a request this side sent.
func (m *Message) IsResponse() bool {
	return m.CorrelationID != ""
}

// Decode unmarshals the payload into v. A missing or null payload decodes as {}.
func (m *Message) Decode(v any) error {
	data := bytes.TrimSpace(m.Payload)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.InvalidMessage("invalid "+string(m.Kind)+" payload", err)
	}
	return nil
}

// NewMessage builds an uncorrelated frame. A nil payload is sent as {}.
func NewMessage(kind Kind, payload any) (*Message, error) {
	return NewCorrelated(kind, payload, "")
}

// NewCorrelated builds a frame carrying the given correlation id.
func NewCorrelated(kind Kind, payload any, correlationID string) (*Message, error) {
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.InvalidMessage("cannot encode "+string(kind)+" payload", err)
	}
	return &Message{Kind: kind, Payload: data, CorrelationID: correlationID}, nil
}

// Parse decodes a raw frame. A frame without a kind is invalid.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, apperrors.InvalidMessage("malformed frame", err)
	}
	if msg.Kind == "" {
		return nil, apperrors.InvalidMessage("frame has no kind", nil)
	}
	return &msg, nil
}
