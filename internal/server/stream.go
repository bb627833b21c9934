package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamBuffer     = 16
)

// StreamHandler pushes pass results, and the events published by any instance
// when an event source is configured, to websocket clients.
type StreamHandler struct {
	engine   Engine
	events   EventSource
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStreamHandler creates a new stream handler. events may be nil.
func NewStreamHandler(engine Engine, events EventSource, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		engine: engine,
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			// Origins are enforced by the CORS middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.Named("stream"),
	}
}

// RegisterRoutes registers the stream routes.
func (h *StreamHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/drs/stream", h.ServeHTTP)
	if h.events != nil {
		mux.HandleFunc("/api/v1/events/stream", h.serveEvents)
	}
}

// ServeHTTP upgrades the connection and streams local pass results until the client leaves.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	results, unsubscribe := h.engine.Subscribe(streamBuffer)
	defer unsubscribe()

	serveStream(h, w, r, results)
}

// serveEvents streams the events published on the event bus, so followers see the
// leader's passes.
func (h *StreamHandler) serveEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	serveStream(h, w, r, h.events.Subscribe(ctx))
}

func serveStream[T any](h *StreamHandler, w http.ResponseWriter, r *http.Request, items <-chan T) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade stream connection", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Debug("Stream client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("path", r.URL.Path),
	)

	// The read loop only handles control frames and detects the client leaving.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			h.logger.Debug("Stream client disconnected", zap.String("remote_addr", r.RemoteAddr))
			return

		case item, ok := <-items:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(item); err != nil {
				h.logger.Debug("Failed to write stream item", zap.Error(err))
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
