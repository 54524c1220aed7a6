package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/protocol"
)

var errQueueFull = errors.New("outbound queue full")

// run dials, then pumps frames until the connection ends.
func (c *Conn) run(ctx context.Context) {
	conn, err := c.dial(ctx)
	if err != nil {
		c.shutdown(apperrors.DialFailed(c.opts.URL, err))
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.state = StateOpen
	c.mu.Unlock()
	close(c.ready)
	c.log.WithField("url", c.opts.URL).Info("Connected to backend")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.writePump(conn)
	}()
	c.readPump(conn)
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := *websocket.DefaultDialer
	if c.opts.TLSConfig != nil {
		dialer.TLSClientConfig = c.opts.TLSConfig
	}

	var conn *websocket.Conn
	operation := func() error {
		ws, resp, err := dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return err
		}
		conn = ws
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.WithError(err).WithField("retry_in", wait).Debug("Dial failed")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(c.opts.NewBackOff(), ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

// writePump sends queued frames and periodic pings. It is the only writer
// on the connection.
func (c *Conn) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-c.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case msg := <-c.send:
			data, err := json.Marshal(msg)
			if err != nil {
				c.log.WithError(err).WithField("kind", msg.Kind).Error("Failed to marshal frame")
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.shutdown(apperrors.SendFailed(string(msg.Kind), err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(apperrors.SendFailed("ping", err))
				return
			}
		}
	}
}

// readPump routes inbound frames until the connection fails.
func (c *Conn) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				c.log.WithError(err).Warn("Read error")
			}
			// No-op when Close got there first.
			c.shutdown(apperrors.Wrap(apperrors.CodeConnectionClosed, "connection lost", err))
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Parse(data)
		if err != nil {
			c.log.WithError(err).Warn("Dropping frame")
			continue
		}
		c.route(msg)
	}
}

// route resolves a response or hands the frame to the inbound handler.
func (c *Conn) route(msg *protocol.Message) {
	if msg.IsResponse() {
		if !c.resolve(msg.CorrelationID, msg) {
			err := apperrors.UnmatchedResponse(string(msg.Kind), msg.CorrelationID)
			c.log.WithField("kind", msg.Kind).Warn(err.Error())
		}
		return
	}

	if c.opts.MatchByKind && c.resolveByKind(msg) {
		return
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		c.log.WithField("kind", msg.Kind).Debug("No inbound handler, dropping frame")
		return
	}
	handler(msg)
}
