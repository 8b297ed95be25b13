package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ServiceError
		expected string
	}{
		{
			name: "error with cause",
			err: &ServiceError{
				Type:      ErrorTypeTransport,
				Operation: "getwork",
				Message:   "request failed",
				Cause:     errors.New("connection refused"),
			},
			expected: "transport operation 'getwork' failed: request failed (caused by: connection refused)",
		},
		{
			name: "error without cause",
			err: &ServiceError{
				Type:      ErrorTypeDecode,
				Operation: "gbt_decode",
				Message:   "missing height",
			},
			expected: "decode operation 'gbt_decode' failed: missing height",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ServiceError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestServiceError_WithContext(t *testing.T) {
	err := New(ErrorTypeDecode, "getwork_decode", "bad data").
		WithContext("pool", 1).
		WithContext("job_id", "abc")

	ctx := GetContext(err)
	if len(ctx) != 2 {
		t.Fatalf("GetContext() len = %d, want 2", len(ctx))
	}
	if ctx["pool"] != 1 || ctx["job_id"] != "abc" {
		t.Errorf("GetContext() = %v, want pool=1 job_id=abc", ctx)
	}
	if GetContext(errors.New("plain")) != nil {
		t.Errorf("GetContext(plain) = non-nil, want nil")
	}
}

func TestNewRetryableByType(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		want      bool
	}{
		{ErrorTypeTransport, true},
		{ErrorTypeSink, true},
		{ErrorTypeDecode, false},
		{ErrorTypeProtocol, false},
		{ErrorTypeDuplicate, false},
		{ErrorTypeExhausted, false},
		{ErrorTypeConfig, false},
		{ErrorTypeInternal, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.errorType), func(t *testing.T) {
			if got := New(tt.errorType, "op", "msg").Retryable; got != tt.want {
				t.Errorf("New(%s).Retryable = %v, want %v", tt.errorType, got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, ErrorTypeTransport, "op", "msg") != nil {
		t.Errorf("Wrap(nil) = non-nil, want nil")
	}

	cause := errors.New("http status 502")
	err := Wrap(cause, ErrorTypeTransport, "getwork", "request failed")
	if !err.Retryable {
		t.Errorf("Wrap(transport).Retryable = false, want true")
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(wrapped, cause) = false, want true")
	}

	canceled := Wrap(context.Canceled, ErrorTypeTransport, "getwork", "request failed")
	if canceled.Retryable {
		t.Errorf("Wrap(context.Canceled).Retryable = true, want false")
	}

	inner := New(ErrorTypeDecode, "decode", "bad")
	outer := Wrap(fmt.Errorf("fetch: %w", inner), ErrorTypeTransport, "fetch", "fetch failed")
	if outer.Retryable {
		t.Errorf("Wrap(decode error).Retryable = true, want false (inherited)")
	}
	if !IsType(outer, ErrorTypeTransport) {
		t.Errorf("IsType(outer, transport) = false, want true")
	}
}

func TestWithRetryable(t *testing.T) {
	err := New(ErrorTypeDecode, "op", "msg").WithRetryable(true)
	if !IsRetryable(err) {
		t.Errorf("IsRetryable() = false, want true after WithRetryable")
	}
}

func TestSentinels(t *testing.T) {
	err := Wrap(ErrSwitched, ErrorTypeTransport, "getwork", "abandoned")
	if !Is(err, ErrSwitched) {
		t.Errorf("Is(err, ErrSwitched) = false, want true")
	}
	var se *ServiceError
	if !As(err, &se) || se.Operation != "getwork" {
		t.Errorf("As() = %v, want ServiceError with operation getwork", se)
	}
}

func TestIsRetryableByDefault(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"context timeout", context.DeadlineExceeded, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"timeout error", errors.New("i/o timeout"), true},
		{"unexpected eof", errors.New("unexpected EOF"), true},
		{"unknown error", errors.New("unknown error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableByDefault(tt.err); got != tt.expected {
				t.Errorf("isRetryableByDefault() = %v, want %v", got, tt.expected)
			}
		})
	}
}
