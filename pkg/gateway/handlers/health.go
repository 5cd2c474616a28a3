package handlers

import (
	"net/http"

	"github.com/vango-go/vai-catalog/pkg/gateway/config"
	"github.com/vango-go/vai-catalog/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		Draining       bool     `json:"draining"`
		ConnectEnabled bool     `json:"connect_enabled"`
		CatalogSource  string   `json:"catalog_source"`
		EventStreams   int      `json:"event_streams"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "server is draining")
	}
	if h.Config.MaxLogs <= 0 {
		issues = append(issues, "max_logs must be > 0")
	}
	if h.Config.EventsPingInterval <= 0 || h.Config.EventsWriteTimeout <= 0 {
		issues = append(issues, "event stream timeouts must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}
	if h.Config.UpstreamConnectTimeout <= 0 || h.Config.UpstreamTimeout <= 0 {
		issues = append(issues, "upstream timeouts must be > 0")
	}

	source := "embedded"
	switch {
	case h.Config.DatabaseURL != "":
		source = "postgres"
	case h.Config.CatalogFile != "":
		source = "file"
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if draining {
		status = http.StatusServiceUnavailable
	} else if !ok {
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, readyResp{
		OK:             ok,
		Draining:       draining,
		ConnectEnabled: h.Config.CanConnect(),
		CatalogSource:  source,
		EventStreams:   h.Lifecycle.Streams(),
		Issues:         issues,
	})
}
