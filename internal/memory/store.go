// Package memory persists the assistant's long-term summary to a plain text
// file. Raw conversation text is never written; only the distilled summary
// produced by the shutdown protocol in internal/shutdown survives a restart.
package memory

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

// PruneThreshold is the combined-length trigger: once the previous summary
// joined with the new one exceeds this many characters, the shutdown
// protocol runs a second, pruning generation before persisting.
const PruneThreshold = 2000

var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkTags removes every <think>...</think> block from a summary
// before it is persisted.
func StripThinkTags(text string) string {
	return strings.TrimSpace(thinkTagPattern.ReplaceAllString(text, ""))
}

// Store reads and writes the per-assistant summary file.
type Store struct {
	path string
}

// New builds a Store over the summary file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load returns the persisted summary, or "" if no file exists yet.
func (s *Store) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read summary %q: %w", s.path, err)
	}
	return string(data), nil
}

// Join combines the previous summary with a freshly produced one: an empty
// previous summary is replaced verbatim; otherwise the two are joined with a
// single newline.
func Join(previous, fresh string) string {
	fresh = strings.TrimSpace(fresh)
	previous = strings.TrimSpace(previous)
	if previous == "" {
		return fresh
	}
	if fresh == "" {
		return previous
	}
	return previous + "\n" + fresh
}

// NeedsPrune reports whether combined exceeds PruneThreshold and therefore
// the shutdown protocol must run its prune pass before persisting.
func NeedsPrune(combined string) bool {
	return utf8.RuneCountInString(combined) > PruneThreshold
}

// Save writes text to the summary file, creating or truncating it.
func (s *Store) Save(text string) error {
	if err := os.WriteFile(s.path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write summary %q: %w", s.path, err)
	}
	return nil
}
