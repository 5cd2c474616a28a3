// Package eventchannel frames JSON client/server events over the realtime
// data channel and routes inbound events by type.
package eventchannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vango-go/vai-catalog/pkg/realtime/protocol"
	"github.com/vango-go/vai-catalog/pkg/telemetry"
)

// ErrChannelClosed is returned by Send when no channel is open. The event is
// dropped, not queued.
var ErrChannelClosed = errors.New("eventchannel: channel is not open")

// Transport is one message-framed, ordered, reliable text channel.
type Transport interface {
	SendText(text string) error
	OnOpen(func())
	OnMessage(func(data []byte))
	OnClose(func())
	Close() error
}

// ToolCallHandler receives function_call outputs. transcript is the
// accumulated text as of the moment the call arrived.
type ToolCallHandler interface {
	HandleToolCall(ctx context.Context, call protocol.ToolCall, transcript string)
}

// EventHandler handles one inbound event type.
type EventHandler func(ctx context.Context, ev protocol.ServerEvent)

type Config struct {
	Logger    *slog.Logger
	Telemetry *telemetry.Manager

	// Session is pushed as session.update every time the channel opens.
	Session func() protocol.SessionConfig

	// OnOutput sees every extracted response.done output, before routing.
	OnOutput func(raw json.RawMessage)
	// OnTranscript sees the transcript after each text append.
	OnTranscript func(transcript string)
}

type Channel struct {
	logger    *slog.Logger
	telemetry *telemetry.Manager
	cfg       Config

	mu         sync.Mutex
	transport  Transport
	generation uint64
	open       bool
	transcript strings.Builder
	openHooks  []func()
	toolCalls  ToolCallHandler

	// deliverMu serializes inbound processing so a tool call's replies are
	// sent before the next frame is looked at.
	deliverMu sync.Mutex
	handlers  map[string]EventHandler
}

func New(cfg Config) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Channel{
		logger:    logger,
		telemetry: cfg.Telemetry,
		cfg:       cfg,
		handlers:  make(map[string]EventHandler),
	}
	c.handlers[protocol.EventResponseDone] = c.handleResponseDone
	c.handlers["error"] = c.handleServerError
	return c
}

// Handle installs or replaces the handler for an inbound event type.
func (c *Channel) Handle(eventType string, h EventHandler) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if h == nil {
		delete(c.handlers, eventType)
		return
	}
	c.handlers[eventType] = h
}

func (c *Channel) SetToolCallHandler(h ToolCallHandler) {
	c.mu.Lock()
	c.toolCalls = h
	c.mu.Unlock()
}

// OnOpen registers a hook run each time a bound transport opens, after the
// transcript is cleared and before session.update is pushed.
func (c *Channel) OnOpen(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.openHooks = append(c.openHooks, fn)
	c.mu.Unlock()
}

// Bind attaches a transport. Callbacks from a previously bound transport are
// ignored from here on.
func (c *Channel) Bind(t Transport) {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.transport = t
	c.open = false
	c.mu.Unlock()

	t.OnOpen(func() { c.handleOpen(gen) })
	t.OnClose(func() { c.handleClose(gen) })
	t.OnMessage(func(data []byte) {
		if !c.current(gen) {
			return
		}
		c.Deliver(context.Background(), data)
	})
}

// Close closes and forgets the bound transport. Safe to call repeatedly.
func (c *Channel) Close() error {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.open = false
	c.generation++
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Close()
}

func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && c.transport != nil
}

func (c *Channel) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.String()
}

func (c *Channel) ResetTranscript() {
	c.mu.Lock()
	c.transcript.Reset()
	c.mu.Unlock()
}

func (c *Channel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen && c.transport != nil
}

func (c *Channel) handleOpen(gen uint64) {
	c.mu.Lock()
	if c.generation != gen || c.transport == nil {
		c.mu.Unlock()
		return
	}
	c.open = true
	c.transcript.Reset()
	hooks := append([]func(){}, c.openHooks...)
	c.mu.Unlock()

	c.logger.Info("event channel open")
	for _, fn := range hooks {
		fn()
	}

	var cfg protocol.SessionConfig
	if c.cfg.Session != nil {
		cfg = c.cfg.Session()
	}
	if err := c.Send(context.Background(), protocol.NewSessionUpdate(cfg)); err != nil {
		c.logger.Warn("session.update not sent", "error", err)
	}
}

func (c *Channel) handleClose(gen uint64) {
	c.mu.Lock()
	if c.generation == gen {
		c.open = false
	}
	c.mu.Unlock()
	c.logger.Info("event channel closed")
}

// Send stamps and transmits an outbound event. Without an open channel the
// event is dropped and ErrChannelClosed returned.
func (c *Channel) Send(ctx context.Context, ev protocol.ClientEvent) error {
	if ev == nil || ev.EventHeader() == nil {
		return errors.New("eventchannel: nil event")
	}
	typ := ev.EventHeader().Type
	data, err := protocol.Encode(ev, typ)
	if err != nil {
		return fmt.Errorf("eventchannel: %w", err)
	}

	c.mu.Lock()
	t := c.transport
	open := c.open
	c.mu.Unlock()
	if t == nil || !open {
		c.logger.Warn("dropping event, no open channel", "type", typ, "event_id", ev.EventHeader().EventID)
		return ErrChannelClosed
	}
	if err := t.SendText(string(data)); err != nil {
		c.logger.Warn("event send failed", "type", typ, "error", err)
		return fmt.Errorf("eventchannel: send %s: %w", typ, err)
	}
	c.telemetry.RecordEvent(ctx, telemetry.EventData{Type: typ, Outbound: true})
	return nil
}

// Deliver decodes and routes one inbound frame. Calls are serialized.
func (c *Channel) Deliver(ctx context.Context, data []byte) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	ev, err := protocol.DecodeServerEvent(data)
	if err != nil {
		c.logger.Warn("discarding inbound frame", "error", err)
		return
	}
	c.telemetry.RecordEvent(ctx, telemetry.EventData{Type: ev.Type})
	h, ok := c.handlers[ev.Type]
	if !ok {
		c.logger.Debug("unhandled event", "type", ev.Type)
		return
	}
	h(ctx, ev)
}

func (c *Channel) handleResponseDone(ctx context.Context, ev protocol.ServerEvent) {
	out, err := protocol.FirstOutput(ev.Raw)
	if err != nil {
		c.logger.Warn("discarding response.done", "event_id", ev.EventID, "error", err)
		return
	}
	if c.cfg.OnOutput != nil {
		if raw, ok := protocol.RawOutput(ev.Raw); ok {
			c.cfg.OnOutput(raw)
		}
	}

	switch out.Type {
	case protocol.OutputTypeText:
		c.mu.Lock()
		c.transcript.WriteString(out.Text)
		transcript := c.transcript.String()
		c.mu.Unlock()
		if c.cfg.OnTranscript != nil {
			c.cfg.OnTranscript(transcript)
		}
	case protocol.OutputTypeFunctionCall:
		c.mu.Lock()
		h := c.toolCalls
		transcript := c.transcript.String()
		c.mu.Unlock()
		if h == nil {
			c.logger.Warn("tool call received with no handler", "name", out.Name, "call_id", out.CallID)
			return
		}
		h.HandleToolCall(ctx, out.ToolCall(), transcript)
	default:
		c.logger.Debug("ignoring response output", "type", out.Type)
	}
}

func (c *Channel) handleServerError(_ context.Context, ev protocol.ServerEvent) {
	var msg struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(ev.Raw, &msg)
	c.logger.Warn("realtime server error", "type", msg.Error.Type, "code", msg.Error.Code, "message", msg.Error.Message)
}
