package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/ariavoice/aria/internal/state"
)

func TestStatusLineThinking(t *testing.T) {
	snap := &state.Snapshot{State: *state.New()}
	snap.LlmState = state.RunningInference
	if got := statusLine(snap, "Aria"); got != "Thinking…" {
		t.Fatalf("got %q", got)
	}
}

func TestStatusLineListeningForName(t *testing.T) {
	snap := &state.Snapshot{State: *state.New()}
	snap.IsOnlyRespondingAfterName = true
	if got := statusLine(snap, "Aria"); got != "Listening for Aria…" {
		t.Fatalf("got %q", got)
	}
}

func TestStatusLineListening(t *testing.T) {
	snap := &state.Snapshot{State: *state.New()}
	if got := statusLine(snap, "Aria"); got != "Listening…" {
		t.Fatalf("got %q", got)
	}
}

func TestStatusLineBlankWhenMuted(t *testing.T) {
	snap := &state.Snapshot{State: *state.New()}
	snap.SystemMute = true
	if got := statusLine(snap, "Aria"); got != "" {
		t.Fatalf("expected blank status while muted, got %q", got)
	}
}

func TestStatusLineArmedWakeWindowIsListening(t *testing.T) {
	snap := &state.Snapshot{State: *state.New()}
	snap.IsOnlyRespondingAfterName = true
	now := time.Now()
	snap.TimeSinceNameWasSaid = &now
	if got := statusLine(snap, "Aria"); got != "Listening…" {
		t.Fatalf("expected plain listening once the name was recently said, got %q", got)
	}
}

func TestStatusLineShutdownPhases(t *testing.T) {
	cases := []struct {
		phase state.ShutdownPhase
		want  string
	}{
		{state.ShutdownSummarizing, "Remembering conversation…"},
		{state.ShutdownPruning, "Pruning memories…"},
		{state.ShutdownDone, "See ya next time!"},
	}
	for _, tc := range cases {
		snap := &state.Snapshot{State: *state.New()}
		snap.LifeCycle = state.ShuttingDown
		snap.ShutdownPhase = tc.phase
		if got := statusLine(snap, "Aria"); got != tc.want {
			t.Errorf("phase %v: got %q, want %q", tc.phase, got, tc.want)
		}
	}
}

func TestEditorCursorPositionWithinOneLine(t *testing.T) {
	row, col := editorCursorPosition(3, 80)
	if row != 0 || col != 5 {
		t.Fatalf("expected row 0 col 5, got row=%d col=%d", row, col)
	}
}

func TestEditorCursorPositionWraps(t *testing.T) {
	row, col := editorCursorPosition(95, 10)
	// prefixLen(2) + cursor(95) = 97; 97/10=9, 97%10=7
	if row != 9 || col != 7 {
		t.Fatalf("expected row 9 col 7, got row=%d col=%d", row, col)
	}
}

func TestStripThinkTagsRemovesBlockAndTrims(t *testing.T) {
	got := stripThinkTags("  <think>internal reasoning</think>final answer  ")
	if got != "final answer" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderOrbReflectsStateAndIsStable(t *testing.T) {
	snap := &state.Snapshot{State: *state.New()}
	snap.LlmState = state.RunningTts

	frame := RenderOrb(snap, 3)
	if !strings.Contains(frame, "*") {
		t.Fatalf("expected speaking glyph in frame, got:\n%s", frame)
	}

	again := RenderOrb(snap, 3)
	if frame != again {
		t.Fatal("expected RenderOrb to be a pure function of (snap, tick)")
	}
}
