package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", Validation("sort_by", "invalid sort field"), ErrValidation},
		{"not found", NotFound("attack", "atk_123"), ErrNotFound},
		{"conflict", Conflict("attack", "atk_123", "attack is not yet completed"), ErrConflict},
		{"upstream", Upstream("inference.predict", errors.New("connection refused")), ErrUpstream},
		{"internal", Internal("store.update", errors.New("disk full")), ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tt.err, tt.sentinel)
			}
		})
	}
}

func TestClassification_Wrapped(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("launch failed: %w", Validation("limit", "limit must be between 1 and 1000"))
	if !errors.Is(err, ErrValidation) {
		t.Error("wrapped validation error not classified")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("validation error misclassified as not found")
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation -> 400", Validation("skip", "skip must be >= 0"), http.StatusBadRequest},
		{"not found -> 404", NotFound("attack", "atk_unknown"), http.StatusNotFound},
		{"conflict -> 409", Conflict("attack", "atk_1", "not completed"), http.StatusConflict},
		{"upstream -> 502", Upstream("inference.predict", errors.New("timeout")), http.StatusBadGateway},
		{"internal -> 500", Internal("store.create", errors.New("broken")), http.StatusInternalServerError},
		{"plain -> 500", errors.New("mystery"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestErrorFields(t *testing.T) {
	t.Parallel()

	err := Validation("sort_order", "sort_order must be 'asc' or 'desc'")
	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected *Error")
	}
	if appErr.Field != "sort_order" {
		t.Errorf("Field = %q, want %q", appErr.Field, "sort_order")
	}

	cause := errors.New("dial tcp: connection refused")
	err = Upstream("inference.predict", cause)
	if !errors.As(err, &appErr) {
		t.Fatal("expected *Error")
	}
	if appErr.Cause != cause {
		t.Error("Cause not preserved")
	}
	if appErr.Op != "inference.predict" {
		t.Errorf("Op = %q, want %q", appErr.Op, "inference.predict")
	}
}
