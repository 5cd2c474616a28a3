package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	EventSessionUpdate          = "session.update"
	EventConversationItemCreate = "conversation.item.create"
	EventResponseCreate         = "response.create"
	EventResponseDone           = "response.done"

	OutputTypeText         = "text"
	OutputTypeFunctionCall = "function_call"

	ItemTypeFunctionCallOutput = "function_call_output"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// Header carries the fields shared by every client event.
type Header struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

// ClientEvent is any message the application sends to the model.
type ClientEvent interface {
	EventHeader() *Header
}

func (h *Header) EventHeader() *Header { return h }

// NewEventID returns a fresh random event id.
func NewEventID() string {
	return uuid.NewString()
}

// Encode stamps the event with its type and an event id (when absent) and
// returns the JSON frame.
func Encode(ev ClientEvent, eventType string) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("encode: nil event")
	}
	h := ev.EventHeader()
	if h == nil {
		return nil, fmt.Errorf("encode: event has no header")
	}
	if strings.TrimSpace(h.Type) == "" {
		h.Type = eventType
	}
	if strings.TrimSpace(h.EventID) == "" {
		h.EventID = NewEventID()
	}
	return json.Marshal(ev)
}

type SessionConfig struct {
	Tools        []Tool `json:"tools,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Voice        string `json:"voice,omitempty"`
}

type SessionUpdate struct {
	Header
	Session SessionConfig `json:"session"`
}

func NewSessionUpdate(cfg SessionConfig) *SessionUpdate {
	return &SessionUpdate{Header: Header{Type: EventSessionUpdate}, Session: cfg}
}

type ConversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type ConversationItemCreate struct {
	Header
	Item ConversationItem `json:"item"`
}

// ToolOutput is the payload encoded into a function_call_output item.
type ToolOutput struct {
	Response string `json:"response"`
}

// NewFunctionCallOutput builds the conversation item that answers callID.
func NewFunctionCallOutput(callID string, out ToolOutput) (*ConversationItemCreate, error) {
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode tool output: %w", err)
	}
	return &ConversationItemCreate{
		Header: Header{Type: EventConversationItemCreate},
		Item: ConversationItem{
			Type:   ItemTypeFunctionCallOutput,
			CallID: callID,
			Output: string(payload),
		},
	}, nil
}

type ResponseCreate struct {
	Header
}

func NewResponseCreate() *ResponseCreate {
	return &ResponseCreate{Header: Header{Type: EventResponseCreate}}
}

// ServerEvent is the envelope of an inbound frame. Raw keeps the full frame
// for handlers that need fields beyond the type.
type ServerEvent struct {
	Type    string
	EventID string
	Raw     json.RawMessage
}

// Output is one entry of response.done's output list.
type Output struct {
	Type      string    `json:"type"`
	Text      string    `json:"text,omitempty"`
	Name      string    `json:"name,omitempty"`
	CallID    string    `json:"call_id,omitempty"`
	Arguments Arguments `json:"arguments"`
}

type ResponseDone struct {
	Type     string `json:"type"`
	EventID  string `json:"event_id,omitempty"`
	Response struct {
		ID     string            `json:"id,omitempty"`
		Status string            `json:"status,omitempty"`
		Output []json.RawMessage `json:"output"`
	} `json:"response"`
}

// DecodeServerEvent reads the envelope of an inbound frame.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var envelope struct {
		Type    string `json:"type"`
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ServerEvent{}, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return ServerEvent{}, badRequest("missing type", "type")
	}
	return ServerEvent{Type: typ, EventID: envelope.EventID, Raw: json.RawMessage(data)}, nil
}

// FirstOutput extracts response.output[0] from a response.done frame.
func FirstOutput(data []byte) (Output, error) {
	var msg ResponseDone
	if err := json.Unmarshal(data, &msg); err != nil {
		return Output{}, badRequest("invalid response.done frame", "")
	}
	if msg.Type != EventResponseDone {
		return Output{}, unsupported("not a response.done frame", "type")
	}
	if len(msg.Response.Output) == 0 {
		return Output{}, badRequest("response.done has no output", "response.output")
	}
	first := msg.Response.Output[0]
	trimmed := strings.TrimSpace(string(first))
	if !strings.HasPrefix(trimmed, "{") {
		return Output{}, badRequest("response.output[0] must be an object", "response.output[0]")
	}
	var out Output
	if err := json.Unmarshal(first, &out); err != nil {
		return Output{}, badRequest("invalid response.output[0]", "response.output[0]")
	}
	out.Type = strings.TrimSpace(out.Type)
	if out.Type == "" {
		return Output{}, badRequest("response.output[0].type is required", "response.output[0].type")
	}
	return out, nil
}

// RawOutput returns output[0] undecoded, used for session logs.
func RawOutput(data []byte) (json.RawMessage, bool) {
	var msg ResponseDone
	if err := json.Unmarshal(data, &msg); err != nil || len(msg.Response.Output) == 0 {
		return nil, false
	}
	return msg.Response.Output[0], true
}

// ToolCall is a function_call output addressed to the application.
type ToolCall struct {
	Name      string    `json:"name"`
	CallID    string    `json:"call_id"`
	Arguments Arguments `json:"arguments"`
}

func (o Output) ToolCall() ToolCall {
	return ToolCall{Name: strings.TrimSpace(o.Name), CallID: o.CallID, Arguments: o.Arguments}
}
