package memory

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadReturnsEmptyForMissingFile(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing_history.txt"))
	got, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty summary, got %q", got)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ada_history.txt")
	s := New(path)

	if err := s.Save("- likes tea\n- works on Go"); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != "- likes tea\n- works on Go" {
		t.Fatalf("unexpected round-trip: %q", got)
	}
}

func TestJoinWithEmptyPreviousReturnsFreshVerbatim(t *testing.T) {
	got := Join("", "fresh summary")
	if got != "fresh summary" {
		t.Fatalf("expected verbatim fresh summary, got %q", got)
	}
}

func TestJoinWithNonEmptyPreviousUsesNewline(t *testing.T) {
	got := Join("old stuff", "new stuff")
	if got != "old stuff\nnew stuff" {
		t.Fatalf("expected newline-joined summaries, got %q", got)
	}
}

func TestNeedsPruneThreshold(t *testing.T) {
	short := "short"
	long := make([]byte, PruneThreshold+1)
	if NeedsPrune(short) {
		t.Fatal("short text should not need pruning")
	}
	if !NeedsPrune(string(long)) {
		t.Fatal("text past the threshold should need pruning")
	}
}

func TestStripThinkTagsRemovesBlock(t *testing.T) {
	got := StripThinkTags("<think>reasoning here</think>final summary")
	if got != "final summary" {
		t.Fatalf("expected think block stripped, got %q", got)
	}
}

func TestSaveCreatesParentlessFileInExistingDir(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "x_history.txt"))
	if err := s.Save("hi"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "x_history.txt")); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}
