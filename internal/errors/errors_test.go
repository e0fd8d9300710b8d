package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewError(t *testing.T) {
	err := NewError(13001, "test error")

	if err.Code != 13001 {
		t.Errorf("Expected code 13001, got %d", err.Code)
	}
	if err.Message != "test error" {
		t.Errorf("Expected message 'test error', got '%s'", err.Message)
	}
	if err.Err != nil {
		t.Error("Expected Err to be nil")
	}
}

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			err:      NewError(13002, "conversation not found"),
			expected: "[13002] conversation not found",
		},
		{
			name:     "with wrapped error",
			err:      NewError(50004, "store down").Wrap(errors.New("dial tcp: refused")),
			expected: "[50004] store down: dial tcp: refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, got)
			}
		})
	}
}

func TestAppError_WrapKeepsIdentity(t *testing.T) {
	cause := errors.New("connection reset")
	err := ErrTransientStore.Wrap(cause)

	if !Is(err, ErrTransientStore) {
		t.Error("Expected wrapped error to match ErrTransientStore")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to reach the cause")
	}
	if ErrTransientStore.Err != nil {
		t.Error("Wrap must not mutate the predefined error")
	}
}

func TestIs_ThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("list conversations: %w", ErrForbidden)

	if !Is(err, ErrForbidden) {
		t.Error("Expected Is to see through fmt.Errorf wrapping")
	}
	if Is(err, ErrConversationNotFound) {
		t.Error("Expected Is to compare codes")
	}
	if Is(errors.New("plain"), ErrForbidden) {
		t.Error("Expected plain errors not to match")
	}
}

func TestGetCodeAndMessage(t *testing.T) {
	if got := GetCode(ErrUnauthorized); got != CodeUnauthorized {
		t.Errorf("Expected %d, got %d", CodeUnauthorized, got)
	}
	if got := GetCode(errors.New("boom")); got != CodeServerError {
		t.Errorf("Expected %d, got %d", CodeServerError, got)
	}
	if got := GetMessage(errors.New("boom")); got != "internal server error" {
		t.Errorf("Unexpected message %q", got)
	}
	if got := GetMessage(ErrMessageNotFound.Wrap(errors.New("x"))); got != "message not found" {
		t.Errorf("Unexpected message %q", got)
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []error{ErrUnauthorized, ErrForbidden, ErrConversationNotFound, ErrMessageNotFound}
	for _, err := range terminal {
		if !IsTerminal(err) {
			t.Errorf("Expected %v to be terminal", err)
		}
	}

	retryable := []error{ErrTransientStore, ErrSubscriptionError, errors.New("unknown")}
	for _, err := range retryable {
		if IsTerminal(err) {
			t.Errorf("Expected %v not to be terminal", err)
		}
	}
}
