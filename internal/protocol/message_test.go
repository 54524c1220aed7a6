package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
)

func TestNewMessage_WireShape(t *testing.T) {
	msg, err := NewMessage(KindReadFile, ReadFileReply{Contents: "foo"})
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"readFile","payload":{"contents":"foo"}}`, string(data))
}

func TestNewCorrelated_CarriesID(t *testing.T) {
	msg, err := NewCorrelated(KindOpenGUI, nil, "abc")
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"openGUI","payload":{},"correlationId":"abc"}`, string(data))
	assert.True(t, msg.IsResponse())
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    Kind
		wantErr bool
	}{
		{"request", `{"kind":"readFile","payload":{"filepath":"/a.ts"}}`, KindReadFile, false},
		{"no payload", `{"kind":"openFiles"}`, KindOpenFiles, false},
		{"response", `{"kind":"openGUI","payload":{"sessionId":"s1"},"correlationId":"x"}`, KindOpenGUI, false},
		{"missing kind", `{"payload":{}}`, "", true},
		{"not json", `hello`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidMessage))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, msg.Kind)
		})
	}
}

func TestDecode_NullPayload(t *testing.T) {
	msg := &Message{Kind: KindOpenFiles, Payload: json.RawMessage("null")}
	var v struct{}
	require.NoError(t, msg.Decode(&v))

	msg = &Message{Kind: KindOpenFiles}
	require.NoError(t, msg.Decode(&v))
}

func TestDecode_TypeMismatch(t *testing.T) {
	msg := &Message{Kind: KindReadFile, Payload: json.RawMessage(`{"filepath": 12}`)}
	var req ReadFileRequest
	err := msg.Decode(&req)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidMessage, apperrors.GetCode(err))
}

func TestEditFileReply_NullOnFailure(t *testing.T) {
	data, err := json.Marshal(EditFileReply{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"fileEdit":null}`, string(data))
}

func TestGetUserSecretReply_OmitsUndefined(t *testing.T) {
	data, err := json.Marshal(GetUserSecretReply{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))

	v := ""
	data, err = json.Marshal(GetUserSecretReply{Value: &v})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":""}`, string(data))
}

func TestRange(t *testing.T) {
	empty := Range{Start: Position{1, 2}, End: Position{1, 2}}
	assert.True(t, empty.IsEmpty())

	r := Range{Start: Position{0, 0}, End: Position{0, 3}}
	assert.False(t, r.IsEmpty())
	assert.True(t, r.Start.Before(r.End))
	assert.False(t, r.End.Before(r.Start))
	assert.True(t, Position{0, 9}.Before(Position{1, 0}))
}
