package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-catalog/pkg/app"
	"github.com/vango-go/vai-catalog/pkg/catalog"
	"github.com/vango-go/vai-catalog/pkg/gateway/mw"
	"github.com/vango-go/vai-catalog/pkg/history"
)

// Controller is the application surface the control routes drive.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect()
	Reset()
	StartMic(ctx context.Context) error
	StopMic() error
	Snapshot() app.Snapshot
	History() []history.Item
	Search(ctx context.Context, category, color string, maxPrice *float64) ([]catalog.Product, catalog.Criteria, error)
}

type Action string

const (
	ActionConnect    Action = "connect"
	ActionDisconnect Action = "disconnect"
	ActionReset      Action = "reset"
	ActionMicStart   Action = "mic_start"
	ActionMicStop    Action = "mic_stop"
)

// ActionHandler runs one session control action and answers with the
// resulting snapshot.
type ActionHandler struct {
	App    Controller
	Action Action
	Logger *slog.Logger
}

func (h ActionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	var err error
	switch h.Action {
	case ActionConnect:
		err = h.App.Connect(r.Context())
	case ActionDisconnect:
		h.App.Disconnect()
	case ActionReset:
		h.App.Reset()
	case ActionMicStart:
		err = h.App.StartMic(r.Context())
	case ActionMicStop:
		err = h.App.StopMic()
	default:
		NotFoundHandler{}.ServeHTTP(w, r)
		return
	}
	if err != nil {
		logger.Warn("session action failed", "request_id", reqID, "action", string(h.Action), "error", err)
		writeError(w, r, err)
		return
	}

	snap := h.App.Snapshot()
	if snap.Session.SessionID != "" {
		w.Header().Set("X-Session-ID", snap.Session.SessionID)
	}
	writeJSON(w, http.StatusOK, snap)
}

type SnapshotHandler struct {
	App Controller
}

func (h SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.App.Snapshot())
}

type HistoryHandler struct {
	App Controller
}

func (h HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	items := h.App.History()
	if items == nil {
		items = []history.Item{}
	}
	writeJSON(w, http.StatusOK, struct {
		Items []history.Item `json:"items"`
	}{Items: items})
}
