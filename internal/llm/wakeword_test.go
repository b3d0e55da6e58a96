package llm

import (
	"testing"
	"time"
)

func TestGateAcceptsEverythingWhenModeIsOff(t *testing.T) {
	if got := Gate("Ada", "what's the weather", false, nil, time.Now()); got != Accepted {
		t.Fatalf("expected Accepted, got %v", got)
	}
}

func TestGateRejectsUtteranceMissingNameInFirstFiveWords(t *testing.T) {
	got := Gate("Ada", "what is the weather today in Seattle", true, nil, time.Now())
	if got != Rejected {
		t.Fatalf("expected Rejected, got %v", got)
	}
}

func TestGateAcknowledgesBareNameUtterance(t *testing.T) {
	got := Gate("Ada", "Hey Ada", true, nil, time.Now())
	if got != Acknowledge {
		t.Fatalf("expected Acknowledge, got %v", got)
	}
}

func TestGateAcceptsLongerUtteranceContainingName(t *testing.T) {
	got := Gate("Ada", "Ada what time is it right now", true, nil, time.Now())
	if got != Accepted {
		t.Fatalf("expected Accepted, got %v", got)
	}
}

func TestGateAcceptsAnythingWithinRecentWindow(t *testing.T) {
	recent := time.Now().Add(-2 * time.Second)
	got := Gate("Ada", "what's the weather", true, &recent, time.Now())
	if got != Accepted {
		t.Fatalf("expected Accepted within window, got %v", got)
	}
}

func TestGateRequiresFreshNameAfterWindowExpires(t *testing.T) {
	stale := time.Now().Add(-10 * time.Second)
	got := Gate("Ada", "what's the weather", true, &stale, time.Now())
	if got != Rejected {
		t.Fatalf("expected Rejected once window expires, got %v", got)
	}
}
