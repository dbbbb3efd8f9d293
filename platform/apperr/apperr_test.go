package apperr

import (
	"fmt"
	"net/http"
	"testing"
)

func TestGetKindFindsWrappedError(t *testing.T) {
	base := Conflict("lease mismatch")
	wrapped := fmt.Errorf("complete job: %w", base)

	if got := GetKind(wrapped); got != KindConflict {
		t.Fatalf("expected conflict kind, got %s", got)
	}
	if !Is(wrapped, KindConflict) {
		t.Fatalf("expected Is to match wrapped conflict")
	}
	if GetKind(fmt.Errorf("plain")) != KindUnknown {
		t.Fatalf("expected unknown kind for plain error")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:     http.StatusNotFound,
		KindValidation:   http.StatusBadRequest,
		KindConflict:     http.StatusConflict,
		KindUnauthorized: http.StatusUnauthorized,
		KindUnavailable:  http.StatusServiceUnavailable,
	}
	for kind, want := range cases {
		if got := New(kind, "x").HTTPStatus(); got != want {
			t.Fatalf("kind %s: expected %d, got %d", kind, want, got)
		}
	}
}

func TestErrorMessageIncludesOpAndCause(t *testing.T) {
	err := Wrap(KindInternal, "claim failed", fmt.Errorf("connection reset")).WithOp("outbox.Claim")
	want := "outbox.Claim: claim failed: connection reset"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}
