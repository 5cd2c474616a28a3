package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-catalog/pkg/core"
	"github.com/vango-go/vai-catalog/pkg/gateway/config"
	"github.com/vango-go/vai-catalog/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-catalog/pkg/gateway/mw"
	"github.com/vango-go/vai-catalog/pkg/gateway/uistream"
)

// EventStreamer pushes application events over an upgraded connection.
type EventStreamer interface {
	Serve(ctx context.Context, conn *websocket.Conn, snapshot any) error
}

// EventsHandler handles /v1/events websocket streams.
type EventsHandler struct {
	Config    config.Config
	App       Controller
	Hub       EventStreamer
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

func (h EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())
	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrUnavailable, Message: "server is draining", Code: "draining", RequestID: reqID}, http.StatusServiceUnavailable)
		return
	}
	if !mw.OriginAllowed(h.Config, r) {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "origin is not allowed", Param: "Origin", RequestID: reqID}, http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, release := h.Lifecycle.Track(r.Context())
	defer release()

	logger.Info("event stream opened", "request_id", reqID)
	err = h.Hub.Serve(ctx, conn, h.App.Snapshot())
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("event stream closed", "request_id", reqID)
	case errors.Is(err, uistream.ErrTooManySubscribers), errors.Is(err, uistream.ErrHubClosed):
		logger.Warn("event stream rejected", "request_id", reqID, "error", err)
	default:
		logger.Info("event stream ended", "request_id", reqID, "error", err)
	}
}
