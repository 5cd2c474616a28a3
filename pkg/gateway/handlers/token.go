package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-go/vai-catalog/pkg/core"
	"github.com/vango-go/vai-catalog/pkg/gateway/mw"
)

// TokenIssuer mints raw realtime session bodies.
type TokenIssuer interface {
	Configured() bool
	Issue(ctx context.Context) ([]byte, error)
}

// TokenHandler serves GET /api/session: it mints an ephemeral realtime
// credential with the server's API key and returns the upstream body as is.
type TokenHandler struct {
	Issuer  TokenIssuer
	Timeout time.Duration
	Logger  *slog.Logger
}

func (h TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())
	if h.Issuer == nil || !h.Issuer.Configured() {
		writeCoreErrorJSON(w, reqID, core.NewUnavailableError("realtime api key is not configured"), http.StatusServiceUnavailable)
		return
	}

	ctx := r.Context()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	body, err := h.Issuer.Issue(ctx)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("token issue failed", "request_id", reqID, "error", err)
		}
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
