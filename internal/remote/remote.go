// Package remote carries participant requests to a coordinator over the
// network.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"badma/internal/participant"
	"badma/internal/protocol"
)

var (
	_ participant.Transport = (*HTTP)(nil)
	_ participant.Transport = (*WS)(nil)

	ErrClosed = errors.New("transport closed")
)

// HTTP posts each request to the session endpoint.
type HTTP struct {
	URL    string
	Client *http.Client
}

// NewHTTP targets the coordinator served at baseURL.
func NewHTTP(baseURL string) *HTTP {
	return &HTTP{
		URL:    strings.TrimRight(baseURL, "/") + "/api/session",
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *HTTP) Do(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	const op = "remote.HTTP.Do"

	body, err := json.Marshal(req)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("%s: %w", op, err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return protocol.Response{}, fmt.Errorf("%s: %w", op, err)
	}
	hreq.Header.Set("Content-Type", "application/json")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(hreq)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("%s: %w", op, err)
	}
	defer res.Body.Close()

	var resp protocol.Response
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return protocol.Response{}, fmt.Errorf("%s: status %d: %w", op, res.StatusCode, err)
	}
	return resp, nil
}

// WS keeps one websocket to the coordinator. Requests are serialized; the
// server answers in order.
type WS struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// DialWS opens a websocket to url (ws:// or wss://).
func DialWS(ctx context.Context, url string) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("remote.DialWS: %w", err)
	}
	return &WS{conn: conn}, nil
}

func (t *WS) Do(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	const op = "remote.WS.Do"

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return protocol.Response{}, fmt.Errorf("%s: %w", op, ErrClosed)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = t.conn.SetWriteDeadline(deadline)
	_ = t.conn.SetReadDeadline(deadline)

	if err := t.conn.WriteJSON(req); err != nil {
		return protocol.Response{}, fmt.Errorf("%s: %w", op, err)
	}
	var resp protocol.Response
	if err := t.conn.ReadJSON(&resp); err != nil {
		return protocol.Response{}, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

// Close says goodbye and drops the socket; the coordinator then leaves every
// game joined through it.
func (t *WS) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}
