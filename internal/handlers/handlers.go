package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"badma/internal/coordinator"
	"badma/internal/game"
	"badma/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next message or pong from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum request size allowed from peer.
	maxMessageSize = 4096
	// SSE heartbeat period.
	heartbeat = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatsSource is implemented by backends that can count games.
type StatsSource interface {
	FetchStats(ctx context.Context) (coordinator.Stats, error)
}

// BuildInfo is reported by /healthz.
type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Coord        *coordinator.Server
	Hub          *game.Hub
	Stats        StatsSource
	Logger       *zap.Logger
	AutoRegister bool
	Build        BuildInfo
}

// NewHandler creates a new handler instance
func NewHandler(coord *coordinator.Server, hub *game.Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Coord: coord, Hub: hub, Logger: logger}
}

// Routes wires every endpoint onto a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(h.Logger))

	r.Get("/healthz", h.HandleHealth)
	r.Get("/stats", h.HandleStats)
	r.Post("/api/session", h.HandleSession)
	r.Get("/ws", h.HandleWS)
	r.Get("/sse/{gameID}", h.HandleSSE)
	return r
}

// handle runs one envelope through the coordinator, registering the user
// first when the transport is trusted to do so.
func (h *Handler) handle(ctx context.Context, req protocol.Request) protocol.Response {
	if h.AutoRegister && req.UserID != "" {
		if err := h.Coord.RegisterUser(ctx, req.UserID); err != nil {
			h.Logger.Error("register user", zap.String("user_id", req.UserID), zap.Error(err))
			return protocol.Response{Error: protocol.MsgInternal}
		}
	}
	return h.Coord.Handle(ctx, req)
}

// HandleSession answers a single request envelope.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	var req protocol.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, protocol.Response{Error: "bad json"})
		return
	}
	WriteJSON(w, http.StatusOK, h.handle(r.Context(), req))
}

// HandleWS serves request envelopes over one websocket. Every clientId seen
// on the socket is disconnected from its games when the socket closes.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	clients := make(map[string]struct{})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		for id := range clients {
			if err := h.Coord.Disconnect(ctx, id); err != nil {
				h.Logger.Warn("disconnect", zap.String("client_id", id), zap.Error(err))
			}
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go ping(conn, done)

	for {
		var req protocol.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Logger.Debug("websocket read", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if req.ClientID != "" {
			clients[req.ClientID] = struct{}{}
		}

		resp := h.handle(r.Context(), req)

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func ping(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// HandleSSE handles Server-Sent Events for real-time game updates
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "gameID")

	resp := h.Coord.Handle(r.Context(), protocol.Request{
		Operation: protocol.OpSync,
		ClientID:  "sse:" + middleware.GetReqID(r.Context()),
		GameID:    id,
	})
	if !resp.OK() {
		WriteJSON(w, http.StatusNotFound, resp)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan []byte, 16)
	g := h.Hub.Watch(id, ch)
	defer g.RemoveWatcher(ch)

	initial, _ := json.Marshal(game.Event{Kind: "state", Data: *resp.Data, Watchers: g.Watchers()})
	_, _ = fmt.Fprintf(w, "data: %s\n\n", initial)
	flusher.Flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// heartbeat
			_, _ = w.Write([]byte("data: {}\n\n"))
			flusher.Flush()
		case msg := <-ch:
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(msg)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

// HandleHealth reports liveness and build info.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "build": h.Build})
}

// HandleStats reports game counts when the backend supports it.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if h.Stats == nil {
		WriteJSON(w, http.StatusNotImplemented, map[string]any{"ok": false, "error": "stats unavailable"})
		return
	}
	stats, err := h.Stats.FetchStats(r.Context())
	if err != nil {
		h.Logger.Error("fetch stats", zap.Error(err))
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": protocol.MsgInternal})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "stats": stats})
}
