package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/pseudocoder/idelink/internal/protocol"
)

var errNoClient = errors.New("no client connected")

// backend accepts one idelink client at a time. A newer connection replaces
// the older one.
type backend struct {
	path     string
	auth     *tokenCheck
	out      io.Writer
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	conn *websocket.Conn
	// writeMu serializes frames on conn.
	writeMu sync.Mutex
}

func newBackend(path string, auth *tokenCheck, out io.Writer, logger logrus.FieldLogger) *backend {
	return &backend{
		path: path,
		auth: auth,
		out:  out,
		log:  logger.WithField("component", "devbackend"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (b *backend) handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(b.path, b.serveWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return r
}

func (b *backend) serveWS(w http.ResponseWriter, r *http.Request) {
	if err := b.auth.validate(r); err != nil {
		b.log.WithError(err).Warn("connection rejected")
		http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.WithError(err).Warn("upgrade failed")
		return
	}

	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn = conn
	b.mu.Unlock()

	b.log.WithField("remote", r.RemoteAddr).Info("client connected")
	b.readLoop(conn)
}

func (b *backend) readLoop(conn *websocket.Conn) {
	defer func() {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.log.WithError(err).Warn("read failed")
			}
			b.log.Info("client disconnected")
			return
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			fmt.Fprintf(b.out, "<- invalid frame: %s\n", data)
			continue
		}
		fmt.Fprintf(b.out, "<- %s %s\n", msg.Kind, compact(msg.Payload))

		if msg.Kind == protocol.KindOpenGUI {
			sessionID := uuid.NewString()
			if err := b.write(conn, protocol.KindOpenGUI, protocol.OpenGUIResponse{SessionID: sessionID}, msg.CorrelationID); err != nil {
				b.log.WithError(err).Warn("openGUI reply failed")
				continue
			}
			b.log.WithField("session_id", sessionID).Info("session opened")
		}
	}
}

// send writes an uncorrelated request to the current client. Replies come
// back by kind and are printed by the read loop.
func (b *backend) send(kind protocol.Kind, payload json.RawMessage) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return errNoClient
	}
	if len(payload) == 0 {
		return b.write(conn, kind, nil, "")
	}
	return b.write(conn, kind, payload, "")
}

func (b *backend) write(conn *websocket.Conn, kind protocol.Kind, payload any, correlationID string) error {
	msg, err := protocol.NewCorrelated(kind, payload, correlationID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// parseCommand splits a stdin line of the form `kind [json]`.
func parseCommand(line string) (protocol.Kind, json.RawMessage, error) {
	line = strings.TrimSpace(line)
	kind, rest, _ := strings.Cut(line, " ")
	if kind == "" {
		return "", nil, errors.New("empty command")
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return protocol.Kind(kind), nil, nil
	}
	if !json.Valid([]byte(rest)) {
		return "", nil, fmt.Errorf("payload is not valid JSON: %s", rest)
	}
	return protocol.Kind(kind), json.RawMessage(rest), nil
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
