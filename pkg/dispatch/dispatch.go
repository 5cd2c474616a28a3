// Package dispatch executes model tool calls against the catalog and answers
// them on the event channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/vai-catalog/pkg/catalog"
	"github.com/vango-go/vai-catalog/pkg/history"
	"github.com/vango-go/vai-catalog/pkg/realtime/protocol"
	"github.com/vango-go/vai-catalog/pkg/telemetry"
)

// Sender transmits client events. *eventchannel.Channel satisfies it.
type Sender interface {
	Send(ctx context.Context, ev protocol.ClientEvent) error
}

// PendingCall is the most recent tool call, kept for display. A newer call
// replaces it.
type PendingCall struct {
	Name       string    `json:"name"`
	CallID     string    `json:"call_id"`
	Arguments  string    `json:"arguments"`
	ReceivedAt time.Time `json:"received_at"`
}

// Result describes one completed dispatch.
type Result struct {
	Call      PendingCall       `json:"call"`
	Criteria  catalog.Criteria  `json:"criteria"`
	Products  []catalog.Product `json:"products"`
	Malformed bool              `json:"malformed,omitempty"`
	Err       string            `json:"error,omitempty"`
}

type Config struct {
	Catalog   catalog.Provider
	History   *history.Recorder
	Sender    Sender
	Logger    *slog.Logger
	Telemetry *telemetry.Manager

	PlaceholderImage string
	Now              func() time.Time

	OnPending func(PendingCall)
	OnResult  func(Result)
}

type Dispatcher struct {
	catalog     catalog.Provider
	history     *history.Recorder
	sender      Sender
	logger      *slog.Logger
	telemetry   *telemetry.Manager
	placeholder string
	now         func() time.Time
	onPending   func(PendingCall)
	onResult    func(Result)
	validator   *protocol.ArgumentValidator

	mu      sync.Mutex
	pending *PendingCall
}

func New(cfg Config) (*Dispatcher, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("dispatch: catalog is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("dispatch: sender is required")
	}
	validator, err := protocol.NewArgumentValidator(protocol.FilterProductsTool())
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	placeholder := strings.TrimSpace(cfg.PlaceholderImage)
	if placeholder == "" {
		placeholder = catalog.DefaultPlaceholderImage
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		catalog:     cfg.Catalog,
		history:     cfg.History,
		sender:      cfg.Sender,
		logger:      logger,
		telemetry:   cfg.Telemetry,
		placeholder: placeholder,
		now:         now,
		onPending:   cfg.OnPending,
		onResult:    cfg.OnResult,
		validator:   validator,
	}, nil
}

func successMessage(name string) string {
	return fmt.Sprintf("Tool call %s executed successfully.", name)
}

// HandleToolCall runs one tool call and always answers it: a
// function_call_output for call.CallID followed by response.create, sent
// once each, even when arguments are malformed, the lookup fails, the tool
// is unknown or the handler panics.
func (d *Dispatcher) HandleToolCall(ctx context.Context, call protocol.ToolCall, transcript string) {
	ctx, span := d.telemetry.StartSpan(ctx, "tool.dispatch",
		trace.WithAttributes(attribute.String("tool.name", call.Name), attribute.String("tool.call_id", call.CallID)))

	var (
		replied  bool
		toolErr  error
		response = successMessage(call.Name)
		result   Result
	)
	defer func() {
		if r := recover(); r != nil {
			toolErr = fmt.Errorf("tool call %s panicked: %v", call.Name, r)
			d.logger.Error("tool call panicked", "name", call.Name, "call_id", call.CallID, "panic", r)
		}
		if !replied {
			d.reply(ctx, call.CallID, response)
		}
		d.telemetry.RecordToolCall(ctx, telemetry.ToolData{
			Name:      call.Name,
			Query:     transcript,
			Results:   len(result.Products),
			Malformed: result.Malformed,
			Error:     toolErr,
		})
		telemetry.EndSpan(span, toolErr)
	}()

	result.Call = d.setPending(call)
	args, ok := call.Arguments.Normalize()
	if !ok {
		result.Malformed = true
		d.logger.Warn("malformed tool arguments, using empty filter", "name", call.Name, "call_id", call.CallID)
	}

	switch call.Name {
	case protocol.ToolFilterProducts:
		if err := d.validator.Validate(args); err != nil && !result.Malformed {
			d.logger.Debug("tool arguments do not match schema", "name", call.Name, "error", err)
		}
		criteria := catalog.CriteriaFromArguments(args, d.catalog.Terms())
		result.Criteria = criteria
		products, err := d.catalog.FilterCatalog(ctx, criteria)
		if err != nil {
			toolErr = err
			result.Err = err.Error()
			response = fmt.Sprintf("Tool call %s failed: %v", call.Name, err)
			d.logger.Error("catalog lookup failed", "call_id", call.CallID, "criteria", criteria.String(), "error", err)
			break
		}
		result.Products = products
		d.history.Append(transcript, criteria, catalog.FirstImage(products, d.placeholder))
		d.logger.Info("catalog filtered", "call_id", call.CallID, "criteria", criteria.String(), "matches", len(products))
	default:
		toolErr = fmt.Errorf("unsupported tool %q", call.Name)
		result.Err = toolErr.Error()
		response = fmt.Sprintf("Tool call %s is not supported.", call.Name)
		d.logger.Warn("unsupported tool call", "name", call.Name, "call_id", call.CallID)
	}

	replied = true
	d.reply(ctx, call.CallID, response)
	if d.onResult != nil {
		d.onResult(result)
	}
}

func (d *Dispatcher) reply(ctx context.Context, callID, response string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool reply panicked", "call_id", callID, "panic", r)
		}
	}()
	item, err := protocol.NewFunctionCallOutput(callID, protocol.ToolOutput{Response: response})
	if err != nil {
		d.logger.Error("build tool output", "call_id", callID, "error", err)
		return
	}
	if err := d.sender.Send(ctx, item); err != nil {
		d.logger.Warn("function_call_output not sent", "call_id", callID, "error", err)
	}
	if err := d.sender.Send(ctx, protocol.NewResponseCreate()); err != nil {
		d.logger.Warn("response.create not sent", "call_id", callID, "error", err)
	}
}

func (d *Dispatcher) setPending(call protocol.ToolCall) PendingCall {
	p := PendingCall{
		Name:       call.Name,
		CallID:     call.CallID,
		Arguments:  call.Arguments.Canonical(),
		ReceivedAt: d.now(),
	}
	d.mu.Lock()
	d.pending = &p
	d.mu.Unlock()
	if d.onPending != nil {
		d.onPending(p)
	}
	return p
}

// Pending returns the most recent tool call.
func (d *Dispatcher) Pending() (PendingCall, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return PendingCall{}, false
	}
	return *d.pending, true
}

func (d *Dispatcher) ClearPending() {
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
}
