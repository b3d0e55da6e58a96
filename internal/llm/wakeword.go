package llm

import (
	"regexp"
	"strings"
	"time"
)

// WakeWindow is how long a spoken name stays "recent" before the gate
// requires it to be said again.
const WakeWindow = 5 * time.Second

// Acknowledgement is the fixed short-form reply spoken when an utterance is
// just the assistant's name (or close to it) with no further content.
const Acknowledgement = "Yes?"

var nonLetters = regexp.MustCompile(`[^a-z]+`)

// WakeWordDecision is the outcome of running an utterance through the gate.
type WakeWordDecision int

const (
	// Rejected means the utterance must be dropped entirely.
	Rejected WakeWordDecision = iota
	// Accepted means the utterance should proceed to ContinueConversation.
	Accepted
	// Acknowledge means the utterance was just the name: speak
	// Acknowledgement and arm the window, but do not start a conversation
	// turn.
	Acknowledge
)

// Gate decides what to do with a transcribed utterance when the assistant
// only responds after hearing its own name: accept it outright when the mode
// is off or the name was said recently, otherwise require the name among the
// utterance's first five words, with a short name-only utterance earning a
// spoken acknowledgement instead of a conversation turn.
func Gate(assistantName, utterance string, onlyAfterName bool, timeSinceNameWasSaid *time.Time, now time.Time) WakeWordDecision {
	if !onlyAfterName {
		return Accepted
	}
	if timeSinceNameWasSaid != nil && now.Sub(*timeSinceNameWasSaid) < WakeWindow {
		return Accepted
	}

	words := strings.Fields(utterance)
	name := lettersOnly(assistantName)

	firstFive := words
	if len(firstFive) > 5 {
		firstFive = firstFive[:5]
	}
	nameInFirstFive := false
	for _, w := range firstFive {
		if lettersOnly(w) == name {
			nameInFirstFive = true
			break
		}
	}
	if !nameInFirstFive {
		return Rejected
	}

	if len(words) <= 3 {
		return Acknowledge
	}
	return Accepted
}

func lettersOnly(word string) string {
	return nonLetters.ReplaceAllString(strings.ToLower(word), "")
}
