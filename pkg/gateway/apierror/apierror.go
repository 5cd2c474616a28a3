package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/vai-catalog/pkg/core"
	"github.com/vango-go/vai-catalog/pkg/realtime/credentials"
	"github.com/vango-go/vai-catalog/pkg/realtime/media"
	"github.com/vango-go/vai-catalog/pkg/realtime/session"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	// A connect that lost to a disconnect is not a failure of any resource.
	if errors.Is(err, session.ErrAborted) {
		return &core.Error{
			Type:      core.ErrConflict,
			Message:   "connect aborted by disconnect",
			Code:      "aborted",
			RequestID: requestID,
		}, http.StatusConflict
	}

	var connectErr *session.ConnectError
	if errors.As(err, &connectErr) && connectErr != nil {
		out := core.NewAcquisitionError(connectErr.Step, connectErr.Err)
		out.RequestID = requestID
		var status *credentials.StatusError
		if errors.As(connectErr.Err, &status) && status != nil {
			out.Upstream = status.Body
		}
		return out, http.StatusBadGateway
	}

	if errors.Is(err, session.ErrNotActive) || errors.Is(err, media.ErrNotAttached) {
		return &core.Error{
			Type:      core.ErrConflict,
			Message:   "session is not active",
			Code:      "not_active",
			RequestID: requestID,
		}, http.StatusConflict
	}

	var credErr *credentials.StatusError
	if errors.As(err, &credErr) && credErr != nil {
		return &core.Error{
			Type:      core.ErrUpstream,
			Message:   "realtime sessions endpoint rejected the request",
			Code:      http.StatusText(credErr.StatusCode),
			Upstream:  credErr.Body,
			RequestID: requestID,
		}, http.StatusBadGateway
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrAcquisition, core.ErrUpstream:
		return http.StatusBadGateway
	case core.ErrUnavailable:
		return http.StatusServiceUnavailable
	case core.ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
