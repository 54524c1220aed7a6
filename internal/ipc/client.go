package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
)

// Client calls the control API of a running idelink.
type Client struct {
	http *http.Client
}

// NewClient returns a client for the socket at path.
func NewClient(path string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var dialer net.Dialer
					return dialer.DialContext(ctx, "unix", path)
				},
			},
		},
	}
}

// Status decodes GET /status into out.
func (c *Client) Status(ctx context.Context, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/status", nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// Post sends body to route ("/open", "/type", ...). A non-2xx answer is
// returned as a coded error carrying the server's code and message.
func (c *Client) Post(ctx context.Context, route string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix"+route, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeConnectionClosed, "idelink is not running (control socket unreachable)", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode/100 != 2 {
		var e ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Code != "" {
			return apperrors.New(e.Code, e.Message)
		}
		return fmt.Errorf("control socket returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
