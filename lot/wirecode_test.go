package lot

import "testing"

func TestWireCodeRoundTrip(t *testing.T) {
	kinds := []ErrorKind{
		ErrNoMemory, ErrInvalidParams, ErrInvalidFrame, ErrInvalidControl,
		ErrNetwork, ErrSessionNotFound, ErrSessionInProgress, ErrMaxSessions,
		ErrTimedOut, ErrExpired,
	}
	for _, k := range kinds {
		code := kindToWireCode(k)
		if code == wireOK {
			t.Fatalf("%v mapped to wireOK", k)
		}
		if got := wireCodeToKind(code); got != k {
			t.Errorf("round trip mismatch for %v: got %v via code %d", k, got, code)
		}
	}
}

func TestWireCodeUnknownDefaultsToInternal(t *testing.T) {
	if got := wireCodeToKind(255); got != ErrInternal {
		t.Fatalf("expected ErrInternal for unknown wire code, got %v", got)
	}
	if got := kindToWireCode(ErrInternal); got != wireInternal {
		t.Fatalf("expected wireInternal for ErrInternal, got %d", got)
	}
}
