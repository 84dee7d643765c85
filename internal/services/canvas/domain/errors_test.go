package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestPermanentRoundTrip(t *testing.T) {
	cause := errors.New("bad payload")
	err := fmt.Errorf("decode: %w", Permanent(cause))
	if !IsPermanent(err) {
		t.Fatal("expected wrapped permanent error to be detected")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected permanent error to unwrap to cause")
	}
	if Permanent(nil) != nil {
		t.Fatal("expected nil for nil cause")
	}
	if IsPermanent(ErrStoreUnavailable) {
		t.Fatal("store unavailable must stay retryable")
	}
}

func TestRejectionMessages(t *testing.T) {
	tests := []struct {
		rejection Rejection
		want      string
	}{
		{Rejection{Reason: RejectRateLimited, Count: 20, Max: 20}, "rejected: rate_limited (20/20)"},
		{Rejection{Reason: RejectOutOfBounds, Width: 100, Height: 100}, "rejected: out_of_bounds (100x100)"},
		{Rejection{Reason: RejectInvalidColor, Detail: "ZZZ"}, "rejected: invalid_color: ZZZ"},
		{Rejection{Reason: RejectNoSession}, "rejected: no_session"},
	}
	for _, tc := range tests {
		if got := tc.rejection.Error(); got != tc.want {
			t.Fatalf("Error() = %q, want %q", got, tc.want)
		}
	}
}

func TestAsRejection(t *testing.T) {
	err := fmt.Errorf("place: %w", &Rejection{Reason: RejectSessionInactive})
	rejection, ok := AsRejection(err)
	if !ok || rejection.Reason != RejectSessionInactive {
		t.Fatalf("AsRejection = %v, %v", rejection, ok)
	}
	if _, ok := AsRejection(errors.New("other")); ok {
		t.Fatal("expected plain error not to be a rejection")
	}
}
