package shutdown

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ariavoice/aria/internal/logx"
	"github.com/ariavoice/aria/internal/memory"
	"github.com/ariavoice/aria/internal/state"
)

func testLogger() *logx.Logger {
	return logx.New(logx.LevelNormal, io.Discard)
}

// respondOnce watches for an LlmCommand and answers it by appending an
// assistant reply and clearing llm_state/llm_command, mimicking what
// internal/llm.Driver does once it finishes a generation.
func respondOnce(store *state.Store, reply string) {
	recv := store.Subscribe()
	defer recv.Close()
	for {
		snap := store.Read()
		if snap.LlmCommand != nil {
			store.Update(func(s *state.State) {
				switch s.LlmCommand.Kind {
				case state.ContinueConversation:
					if last := s.LastExchange(); last != nil {
						last.AssistantText = reply
					}
				case state.DestroyContextAndRunFromNothing:
					s.Conversation[len(s.Conversation)-1].AssistantText = reply
				}
				s.LlmState = state.AwaitingInput
				s.LlmCommand = nil
			})
			return
		}
		<-recv.C()
	}
}

func TestRunWithEmptyConversationJustSaysGoodbye(t *testing.T) {
	store := state.NewStore(state.New())
	mem := memory.New(filepath.Join(t.TempDir(), "x_history.txt"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	Run(ctx, store, mem, "Aria", testLogger())

	snap := store.Read()
	if len(snap.TtsQueue) != 1 || snap.TtsQueue[0] != goodbye {
		t.Fatalf("expected goodbye queued, got %+v", snap.TtsQueue)
	}
}

func TestRunSummarizesAndPersists(t *testing.T) {
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) {
		s.Conversation = []state.Exchange{{UserText: "what's the weather", AssistantText: "sunny"}}
	})
	path := filepath.Join(t.TempDir(), "aria_history.txt")
	mem := memory.New(path)

	go respondOnce(store, "User asked about the weather.")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	Run(ctx, store, mem, "Aria", testLogger())

	saved, err := mem.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if saved != "User asked about the weather." {
		t.Fatalf("unexpected saved summary: %q", saved)
	}

	snap := store.Read()
	if len(snap.TtsQueue) != 1 || snap.TtsQueue[0] != goodbye {
		t.Fatalf("expected goodbye queued after summarizing, got %+v", snap.TtsQueue)
	}
}

func TestRunJoinsWithPreviousSummary(t *testing.T) {
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) {
		s.Conversation = []state.Exchange{{UserText: "hi", AssistantText: "hello"}}
	})
	path := filepath.Join(t.TempDir(), "aria_history.txt")
	mem := memory.New(path)
	if err := mem.Save("previously: likes tea"); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	go respondOnce(store, "now: said hello")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	Run(ctx, store, mem, "Aria", testLogger())

	saved, err := mem.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if saved != "previously: likes tea\nnow: said hello" {
		t.Fatalf("unexpected joined summary: %q", saved)
	}
}

func TestRunPrunesWhenCombinedExceedsThreshold(t *testing.T) {
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) {
		s.Conversation = []state.Exchange{{UserText: "go on", AssistantText: "ok"}}
	})
	path := filepath.Join(t.TempDir(), "aria_history.txt")
	mem := memory.New(path)
	huge := strings.Repeat("x", memory.PruneThreshold)
	if err := mem.Save(huge); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	responses := []string{"fresh summary that pushes us over the threshold", "pruned down"}
	go func() {
		for _, r := range responses {
			respondOnce(store, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	Run(ctx, store, mem, "Aria", testLogger())

	saved, err := mem.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if saved != "pruned down" {
		t.Fatalf("expected pruned summary to replace the combined text, got %q", saved)
	}
}
