package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-catalog/pkg/realtime/credentials"
	"github.com/vango-go/vai-catalog/pkg/realtime/negotiate"
)

type Config struct {
	Addr string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Realtime upstream. When TokenURL is set, session credentials are
	// fetched from it; otherwise they are minted with OpenAIAPIKey.
	OpenAIAPIKey string
	TokenURL     string
	SessionsURL  string
	RealtimeURL  string
	Model        string
	Voice        string
	ICEServers   []string

	// Assistant behavior.
	InstructionsFile string
	MaxLogs          int

	// Catalog source. DatabaseURL wins over CatalogFile; with DatabaseSeed
	// the file (or embedded) catalog is upserted into the database at start.
	CatalogFile      string
	CatalogWatch     bool
	CatalogPredicate string
	DatabaseURL      string
	DatabaseSeed     bool
	PlaceholderImage string

	// Headless media.
	MicrophoneFile string
	RecordDir      string

	// UI event stream (/v1/events).
	EventsPingInterval   time.Duration
	EventsWriteTimeout   time.Duration
	EventsBuffer         int
	EventsMaxSubscribers int

	// Telemetry
	ServiceName string
	Environment string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	// Upstream HTTP client defaults
	UpstreamConnectTimeout time.Duration
	UpstreamTimeout        time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                   envOr("VAI_CATALOG_ADDR", "127.0.0.1:8080"),
		CORSAllowedOrigins:     make(map[string]struct{}),
		OpenAIAPIKey:           envOr("VAI_CATALOG_OPENAI_API_KEY", os.Getenv("OPENAI_API_KEY")),
		TokenURL:               envOr("VAI_CATALOG_TOKEN_URL", ""),
		SessionsURL:            envOr("VAI_CATALOG_SESSIONS_URL", credentials.DefaultSessionsURL),
		RealtimeURL:            envOr("VAI_CATALOG_REALTIME_URL", negotiate.DefaultBaseURL),
		Model:                  envOr("VAI_CATALOG_MODEL", credentials.DefaultModel),
		Voice:                  envOr("VAI_CATALOG_VOICE", credentials.DefaultVoice),
		ICEServers:             splitCSV(os.Getenv("VAI_CATALOG_ICE_SERVERS")),
		InstructionsFile:       envOr("VAI_CATALOG_INSTRUCTIONS_FILE", ""),
		MaxLogs:                envIntOr("VAI_CATALOG_MAX_LOGS", 200),
		CatalogFile:            envOr("VAI_CATALOG_FILE", ""),
		CatalogWatch:           envBoolOr("VAI_CATALOG_WATCH", false),
		CatalogPredicate:       envOr("VAI_CATALOG_PREDICATE", ""),
		DatabaseURL:            envOr("VAI_CATALOG_DATABASE_URL", ""),
		DatabaseSeed:           envBoolOr("VAI_CATALOG_DATABASE_SEED", false),
		PlaceholderImage:       envOr("VAI_CATALOG_PLACEHOLDER_IMAGE", "/images/default-product.jpg"),
		MicrophoneFile:         envOr("VAI_CATALOG_MIC_FILE", ""),
		RecordDir:              envOr("VAI_CATALOG_RECORD_DIR", ""),
		EventsPingInterval:     envDurationOr("VAI_CATALOG_EVENTS_PING_INTERVAL", 20*time.Second),
		EventsWriteTimeout:     envDurationOr("VAI_CATALOG_EVENTS_WRITE_TIMEOUT", 5*time.Second),
		EventsBuffer:           envIntOr("VAI_CATALOG_EVENTS_BUFFER", 64),
		EventsMaxSubscribers:   envIntOr("VAI_CATALOG_EVENTS_MAX_SUBSCRIBERS", 8),
		ServiceName:            envOr("VAI_CATALOG_SERVICE_NAME", "vai-catalog"),
		Environment:            envOr("VAI_CATALOG_ENVIRONMENT", "development"),
		ReadHeaderTimeout:      envDurationOr("VAI_CATALOG_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:            envDurationOr("VAI_CATALOG_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:         envDurationOr("VAI_CATALOG_HANDLER_TIMEOUT", 45*time.Second),
		ShutdownGracePeriod:    envDurationOr("VAI_CATALOG_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		UpstreamConnectTimeout: envDurationOr("VAI_CATALOG_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamTimeout:        envDurationOr("VAI_CATALOG_UPSTREAM_TIMEOUT", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("VAI_CATALOG_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxLogs <= 0 {
		return Config{}, fmt.Errorf("VAI_CATALOG_MAX_LOGS must be > 0")
	}
	if cfg.EventsPingInterval <= 0 {
		return Config{}, fmt.Errorf("VAI_CATALOG_EVENTS_PING_INTERVAL must be > 0")
	}
	if cfg.EventsWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_CATALOG_EVENTS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.EventsBuffer <= 0 {
		return Config{}, fmt.Errorf("VAI_CATALOG_EVENTS_BUFFER must be > 0")
	}
	if cfg.EventsMaxSubscribers <= 0 {
		return Config{}, fmt.Errorf("VAI_CATALOG_EVENTS_MAX_SUBSCRIBERS must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_CATALOG_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_CATALOG_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_CATALOG_HANDLER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VAI_CATALOG_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_CATALOG_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_CATALOG_UPSTREAM_TIMEOUT must be > 0")
	}
	if cfg.CatalogWatch && cfg.CatalogFile == "" {
		return Config{}, fmt.Errorf("VAI_CATALOG_WATCH requires VAI_CATALOG_FILE")
	}
	if cfg.CatalogWatch && cfg.DatabaseURL != "" {
		return Config{}, fmt.Errorf("VAI_CATALOG_WATCH cannot be combined with VAI_CATALOG_DATABASE_URL")
	}
	if cfg.TokenURL != "" && !hasHTTPScheme(cfg.TokenURL) {
		return Config{}, fmt.Errorf("VAI_CATALOG_TOKEN_URL must be an http(s) URL")
	}
	if !hasHTTPScheme(cfg.RealtimeURL) {
		return Config{}, fmt.Errorf("VAI_CATALOG_REALTIME_URL must be an http(s) URL")
	}
	if !hasHTTPScheme(cfg.SessionsURL) {
		return Config{}, fmt.Errorf("VAI_CATALOG_SESSIONS_URL must be an http(s) URL")
	}

	return cfg, nil
}

// CanConnect reports whether the server can obtain realtime credentials.
func (c Config) CanConnect() bool {
	return c.TokenURL != "" || c.OpenAIAPIKey != ""
}

func hasHTTPScheme(raw string) bool {
	raw = strings.ToLower(strings.TrimSpace(raw))
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return strings.TrimSpace(def)
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
