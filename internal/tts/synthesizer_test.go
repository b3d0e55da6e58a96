package tts

import "testing"

func TestCleanForSpeechStripsThinkTags(t *testing.T) {
	got := CleanForSpeech("<think>pondering life</think>Hello there.")
	if got != "Hello there." {
		t.Fatalf("expected think block stripped, got %q", got)
	}
}

func TestCleanForSpeechStripsMultilineThinkTags(t *testing.T) {
	got := CleanForSpeech("<think>\nline one\nline two\n</think>Done.")
	if got != "Done." {
		t.Fatalf("expected multiline think block stripped, got %q", got)
	}
}

func TestCleanForSpeechStripsMarkdownEmphasis(t *testing.T) {
	got := CleanForSpeech("That's *really* important, `literally`.")
	if got != "That's really important, literally." {
		t.Fatalf("expected emphasis markers stripped, got %q", got)
	}
}

func TestCleanForSpeechStripsStageDirections(t *testing.T) {
	got := CleanForSpeech("[laughs] That's funny [pauses] right?")
	if got != "That's funny  right?" {
		t.Fatalf("expected bracketed directions stripped, got %q", got)
	}
}

func TestCleanForSpeechTrimsSurroundingWhitespace(t *testing.T) {
	got := CleanForSpeech("  <think>skip</think>  Hi.  ")
	if got != "Hi." {
		t.Fatalf("expected trimmed result, got %q", got)
	}
}
