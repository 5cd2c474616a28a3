package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/vango-go/vai-catalog/pkg/core"
	"github.com/vango-go/vai-catalog/pkg/realtime/credentials"
	"github.com/vango-go/vai-catalog/pkg/realtime/session"
)

func TestFromError_ContextCanceled_Is408Cancelled(t *testing.T) {
	ce, status := FromError(context.Canceled, "req_test")
	if status != 408 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrAPI {
		t.Fatalf("type=%q", ce.Type)
	}
	if ce.Code != "cancelled" {
		t.Fatalf("code=%q", ce.Code)
	}
	if ce.RequestID != "req_test" {
		t.Fatalf("request_id=%q", ce.RequestID)
	}
}

func TestFromError_ConnectError_Is502WithStep(t *testing.T) {
	err := fmt.Errorf("connect: %w", &session.ConnectError{
		Step: session.StepCredentials,
		Err:  &credentials.StatusError{StatusCode: 401, Body: "bad key"},
	})
	ce, status := FromError(err, "req_test")
	if status != http.StatusBadGateway {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrAcquisition || ce.Param != session.StepCredentials {
		t.Fatalf("error=%+v", ce)
	}
	if ce.Upstream != "bad key" {
		t.Fatalf("upstream=%v", ce.Upstream)
	}
}

func TestFromError_AbortedConnect_Is409(t *testing.T) {
	err := &session.ConnectError{Step: session.StepNegotiation, Err: session.ErrAborted}
	ce, status := FromError(err, "req_test")
	if status != http.StatusConflict || ce.Code != "aborted" {
		t.Fatalf("status=%d error=%+v", status, ce)
	}
}

func TestFromError_NotActive_Is409(t *testing.T) {
	ce, status := FromError(session.ErrNotActive, "req_test")
	if status != http.StatusConflict || ce.Type != core.ErrConflict {
		t.Fatalf("status=%d error=%+v", status, ce)
	}
}

func TestFromError_CoreErrorKeepsTypeStatus(t *testing.T) {
	ce, status := FromError(core.NewUnavailableError("no api key"), "req_test")
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", status)
	}
	if ce.RequestID != "req_test" {
		t.Fatalf("request_id=%q", ce.RequestID)
	}
}

func TestFromError_UnknownIsInternal(t *testing.T) {
	ce, status := FromError(errors.New("secret detail"), "req_test")
	if status != http.StatusInternalServerError || ce.Message != "internal error" {
		t.Fatalf("status=%d error=%+v", status, ce)
	}
}
