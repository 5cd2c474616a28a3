// Package app assembles the voice catalog assistant: one realtime session,
// its event channel, the tool dispatcher and search history, and the event
// feed for presentation clients.
package app

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-catalog/pkg/catalog"
	"github.com/vango-go/vai-catalog/pkg/dispatch"
	"github.com/vango-go/vai-catalog/pkg/history"
	"github.com/vango-go/vai-catalog/pkg/realtime/eventchannel"
	"github.com/vango-go/vai-catalog/pkg/realtime/media"
	"github.com/vango-go/vai-catalog/pkg/realtime/protocol"
	"github.com/vango-go/vai-catalog/pkg/realtime/session"
	"github.com/vango-go/vai-catalog/pkg/telemetry"
)

// DefaultInstructions is the Spanish shopping-assistant prompt.
//
//go:embed instructions.txt
var DefaultInstructions string

const DefaultMaxLogs = 200

// Event types published on the feed.
const (
	EventState      = "state"
	EventTranscript = "transcript"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventHistory    = "history"
	EventLog        = "log"
	EventReset      = "reset"
)

// Publisher receives UI events. *uistream.Hub satisfies it.
type Publisher interface {
	Publish(eventType string, data any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// LogEntry is one extracted response.done output.
type LogEntry struct {
	At     time.Time       `json:"at"`
	Output json.RawMessage `json:"output"`
}

type Config struct {
	Catalog     catalog.Provider
	Credentials session.CredentialSource
	Connections session.ConnectionFactory
	Negotiator  session.Negotiator
	Microphone  media.Microphone
	Silence     media.SilenceSource
	Sink        media.AudioSink

	Instructions     string
	Voice            string
	PlaceholderImage string
	MaxLogs          int

	Events    Publisher
	Logger    *slog.Logger
	Telemetry *telemetry.Manager
	Now       func() time.Time
}

type App struct {
	catalog    catalog.Provider
	channel    *eventchannel.Channel
	dispatcher *dispatch.Dispatcher
	history    *history.Recorder
	session    *session.Manager
	events     Publisher
	logger     *slog.Logger
	now        func() time.Time
	maxLogs    int

	mu         sync.Mutex
	logs       []LogEntry
	lastResult *dispatch.Result
}

func New(cfg Config) (*App, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("app: catalog is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	events := cfg.Events
	if events == nil {
		events = nopPublisher{}
	}
	instructions := strings.TrimSpace(cfg.Instructions)
	if instructions == "" {
		instructions = strings.TrimSpace(DefaultInstructions)
	}
	maxLogs := cfg.MaxLogs
	if maxLogs <= 0 {
		maxLogs = DefaultMaxLogs
	}

	a := &App{
		catalog: cfg.Catalog,
		events:  events,
		logger:  logger,
		now:     now,
		maxLogs: maxLogs,
	}

	a.history = history.NewRecorder(
		history.WithClock(now),
		history.WithNotify(func(it history.Item) { events.Publish(EventHistory, it) }),
	)

	sessionConfig := protocol.SessionConfig{
		Tools:        []protocol.Tool{protocol.FilterProductsTool()},
		Instructions: instructions,
		Voice:        strings.TrimSpace(cfg.Voice),
	}
	a.channel = eventchannel.New(eventchannel.Config{
		Logger:       logger.With("component", "eventchannel"),
		Telemetry:    cfg.Telemetry,
		Session:      func() protocol.SessionConfig { return sessionConfig },
		OnOutput:     a.appendLog,
		OnTranscript: func(t string) { events.Publish(EventTranscript, t) },
	})
	a.channel.OnOpen(a.clearSessionState)

	d, err := dispatch.New(dispatch.Config{
		Catalog:          cfg.Catalog,
		History:          a.history,
		Sender:           a.channel,
		Logger:           logger.With("component", "dispatch"),
		Telemetry:        cfg.Telemetry,
		PlaceholderImage: cfg.PlaceholderImage,
		Now:              now,
		OnPending:        func(p dispatch.PendingCall) { events.Publish(EventToolCall, p) },
		OnResult:         a.recordResult,
	})
	if err != nil {
		return nil, err
	}
	a.dispatcher = d
	a.channel.SetToolCallHandler(d)

	controller := media.NewController(cfg.Microphone, cfg.Silence, logger.With("component", "media"))
	m, err := session.NewManager(session.Config{
		Credentials: cfg.Credentials,
		Connections: cfg.Connections,
		Negotiator:  cfg.Negotiator,
		Media:       controller,
		Channel:     a.channel,
		Sink:        cfg.Sink,
		Logger:      logger.With("component", "session"),
		Telemetry:   cfg.Telemetry,
		OnState:     func(session.State) { a.publishStatus() },
	})
	if err != nil {
		return nil, err
	}
	a.session = m
	return a, nil
}

func (a *App) publishStatus() {
	a.events.Publish(EventState, a.session.Status())
}

// Connect starts a session. Logs, the pending tool call and the last results
// are cleared when its channel opens.
func (a *App) Connect(ctx context.Context) error {
	return a.session.Connect(ctx)
}

func (a *App) Disconnect() {
	a.session.Disconnect()
}

// Reset ends any session and forgets logs, the pending tool call, the last
// results, history and the transcript.
func (a *App) Reset() {
	a.session.Disconnect()
	a.clearSessionState()
	a.history.Reset()
	a.channel.ResetTranscript()
	a.logger.Info("application state reset")
	a.events.Publish(EventReset, nil)
}

func (a *App) StartMic(ctx context.Context) error {
	if err := a.session.StartRecording(ctx); err != nil {
		return err
	}
	a.publishStatus()
	return nil
}

func (a *App) StopMic() error {
	if err := a.session.StopRecording(); err != nil {
		return err
	}
	a.publishStatus()
	return nil
}

// Snapshot is everything a presentation client renders.
type Snapshot struct {
	Session    session.Status        `json:"session"`
	Transcript string                `json:"transcript"`
	Pending    *dispatch.PendingCall `json:"pending_tool_call,omitempty"`
	Results    *dispatch.Result      `json:"results,omitempty"`
	Logs       []LogEntry            `json:"logs"`
	History    int                   `json:"history_items"`
}

func (a *App) Snapshot() Snapshot {
	s := Snapshot{
		Session:    a.session.Status(),
		Transcript: a.channel.Transcript(),
		Logs:       a.Logs(),
		History:    a.history.Len(),
	}
	if p, ok := a.dispatcher.Pending(); ok {
		s.Pending = &p
	}
	a.mu.Lock()
	if a.lastResult != nil {
		r := *a.lastResult
		s.Results = &r
	}
	a.mu.Unlock()
	return s
}

// History returns search history, most recent first.
func (a *App) History() []history.Item {
	return a.history.Items()
}

// Logs returns response outputs, most recent first.
func (a *App) Logs() []LogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]LogEntry, len(a.logs))
	copy(out, a.logs)
	return out
}

// Search runs a catalog query with raw terms in either language, mapped
// the same way tool call arguments are.
func (a *App) Search(ctx context.Context, category, color string, maxPrice *float64) ([]catalog.Product, catalog.Criteria, error) {
	args := map[string]any{}
	if category != "" {
		args["category"] = category
	}
	if color != "" {
		args["color"] = color
	}
	if maxPrice != nil {
		args["max_price"] = *maxPrice
	}
	criteria := catalog.CriteriaFromArguments(args, a.catalog.Terms())
	products, err := a.catalog.FilterCatalog(ctx, criteria)
	if err != nil {
		return nil, criteria, err
	}
	return products, criteria, nil
}

func (a *App) appendLog(raw json.RawMessage) {
	entry := LogEntry{At: a.now().UTC(), Output: append(json.RawMessage(nil), raw...)}
	a.mu.Lock()
	a.logs = append([]LogEntry{entry}, a.logs...)
	if len(a.logs) > a.maxLogs {
		a.logs = a.logs[:a.maxLogs]
	}
	a.mu.Unlock()
	a.events.Publish(EventLog, entry)
}

func (a *App) clearLogs() {
	a.mu.Lock()
	a.logs = nil
	a.mu.Unlock()
}

// clearSessionState forgets what belongs to one session: logs, the pending
// tool call and the last results.
func (a *App) clearSessionState() {
	a.clearLogs()
	if a.dispatcher != nil {
		a.dispatcher.ClearPending()
	}
	a.mu.Lock()
	a.lastResult = nil
	a.mu.Unlock()
}

func (a *App) recordResult(r dispatch.Result) {
	a.mu.Lock()
	a.lastResult = &r
	a.mu.Unlock()
	a.events.Publish(EventToolResult, r)
}

// Channel exposes the event channel for diagnostics and tests.
func (a *App) Channel() *eventchannel.Channel { return a.channel }

// Session exposes the session manager.
func (a *App) Session() *session.Manager { return a.session }
