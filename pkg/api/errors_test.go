package api

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{502, ErrorClassServer},
		{503, ErrorClassServer},
		{400, ErrorClassClient},
		{401, ErrorClassClient},
		{404, ErrorClassClient},
		{200, ""},
	}

	for _, tt := range tests {
		if got := ClassifyStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestAPIErrorRetryable(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassRateLimit, true},
		{ErrorClassServer, true},
		{ErrorClassNetwork, true},
		{ErrorClassDecode, true},
		{ErrorClassClient, false},
	}

	for _, tt := range tests {
		err := &APIError{Class: tt.class}
		if got := err.Retryable(); got != tt.want {
			t.Errorf("Retryable() for class %q = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestIsRetryableUnwrapsWrappedErrors(t *testing.T) {
	base := &APIError{StatusCode: 503, Class: ErrorClassServer, Message: "upstream down"}
	wrapped := fmt.Errorf("fetch page 3: %w", base)

	if !IsRetryable(wrapped) {
		t.Error("IsRetryable() = false for wrapped server error, want true")
	}
	if IsRetryable(errors.New("plain error")) {
		t.Error("IsRetryable() = true for non-API error, want false")
	}
}

func TestAPIErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &APIError{Class: ErrorClassNetwork, Message: "request failed", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("errors.Is() did not reach the wrapped cause")
	}
	if err.Error() == "" {
		t.Error("Error() returned empty string")
	}
}
