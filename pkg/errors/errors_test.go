package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIncludesInternal(t *testing.T) {
	internal := stdErrors.New("boom")
	err := Wrap(internal, "failed")

	if err.Error() != "failed: boom" {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
}

func TestWithInternalCopies(t *testing.T) {
	base := New("TEST", "test", 400)
	with := base.WithInternal(stdErrors.New("oops"))

	if with == base {
		t.Fatal("expected WithInternal to return a copy")
	}
	if base.Internal != nil {
		t.Fatal("expected original error to remain unchanged")
	}
	if with.Internal == nil {
		t.Fatal("expected internal error to be set")
	}
}

func TestIsMatchesCopiesByCode(t *testing.T) {
	wrapped := fmt.Errorf("store: %w", ErrUnavailable.WithInternal(stdErrors.New("timeout")))

	if !stdErrors.Is(wrapped, ErrUnavailable) {
		t.Fatal("expected copy produced by WithInternal to match the sentinel")
	}
	if stdErrors.Is(wrapped, ErrNotFound) {
		t.Fatal("expected different codes not to match")
	}
}

func TestFromError(t *testing.T) {
	appErr := ErrNotFound
	if out := FromError(appErr); out != appErr {
		t.Fatal("expected FromError to return the same AppError instance")
	}

	raw := stdErrors.New("raw")
	out := FromError(raw)
	if out.Code != ErrInternalServer.Code {
		t.Fatalf("expected internal server code, got %s", out.Code)
	}
	if out.Internal == nil {
		t.Fatal("expected internal error to be attached")
	}
}

func TestConfirmationErrorsDoNotLeakState(t *testing.T) {
	if ErrConfirmationTokenInvalid.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", ErrConfirmationTokenInvalid.StatusCode)
	}
	if ErrConfirmationInvalidOrExpired.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", ErrConfirmationInvalidOrExpired.StatusCode)
	}
}

func TestNewBadRequestAndConflict(t *testing.T) {
	err := NewBadRequest("invalid payload")
	if err.Code != ErrBadRequest.Code || err.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected bad request error: %+v", err)
	}
	if err.Message != "invalid payload" {
		t.Fatalf("unexpected message: %s", err.Message)
	}

	conflict := NewConflict("already linked")
	if conflict.Code != ErrConflict.Code || conflict.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected conflict error: %+v", conflict)
	}
}
