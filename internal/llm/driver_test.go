package llm

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ariavoice/aria/internal/logx"
	"github.com/ariavoice/aria/internal/state"
)

// fakeBackend replays a fixed sequence of text chunks for every Generate
// call, pausing briefly between each so a concurrently running test can
// observe RunningInference and inject a cancellation before the generation
// finishes. It hands back an incrementing fake context so successive turns
// get distinguishable checkpoints.
type fakeBackend struct {
	chunks  []string
	nextCtx int
}

func (f *fakeBackend) Generate(ctx context.Context, system, prompt string, ctxIn []int, onChunk func(Chunk) error) ([]int, error) {
	f.nextCtx++
	for _, c := range f.chunks {
		time.Sleep(15 * time.Millisecond)
		if err := onChunk(Chunk{Text: c}); err != nil {
			return nil, err
		}
	}
	final := []int{f.nextCtx}
	if err := onChunk(Chunk{Done: true, Context: final}); err != nil {
		return nil, err
	}
	return final, nil
}

func testLogger() *logx.Logger {
	return logx.New(logx.LevelNormal, io.Discard)
}

func waitForLlmState(t *testing.T, store *state.Store, want state.LlmState, timeout time.Duration) state.Snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		snap := store.Read()
		if snap.LlmState == want {
			return snap
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for llm_state=%v, last seen=%v", want, store.Read().LlmState)
	return state.Snapshot{}
}

func TestDriverSimpleTurnReachesRunningTtsWithReply(t *testing.T) {
	backend := &fakeBackend{chunks: []string{"Hello", " there."}}
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) {
		s.Conversation = append(s.Conversation, state.Exchange{UserText: "hi"})
		s.LlmCommand = &state.LlmCommand{Kind: state.ContinueConversation, Text: "hi"}
	})

	d := NewDriver(store, backend, testLogger(), DriverConfig{AssistantName: "Ada", SystemPrompt: "be terse"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	snap := waitForLlmState(t, store, state.RunningTts, time.Second)
	if len(snap.Conversation) != 1 {
		t.Fatalf("expected 1 exchange, got %d", len(snap.Conversation))
	}
	if snap.Conversation[0].AssistantText != "Hello there." {
		t.Fatalf("unexpected assistant text: %q", snap.Conversation[0].AssistantText)
	}
	if len(snap.TtsQueue) != 1 || snap.TtsQueue[0] != "Hello there." {
		t.Fatalf("expected whole reply queued for tts, got %v", snap.TtsQueue)
	}
}

func TestDriverCancelRollsBackConversationAndReturnsToAwaitingInput(t *testing.T) {
	backend := &fakeBackend{chunks: []string{"partial", "partial2", "partial3"}}
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) {
		s.Conversation = append(s.Conversation, state.Exchange{UserText: "hi"})
		s.LlmCommand = &state.LlmCommand{Kind: state.ContinueConversation, Text: "hi"}
	})

	d := NewDriver(store, backend, testLogger(), DriverConfig{AssistantName: "Ada", SystemPrompt: "be terse"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// Wait until generation starts, then cancel.
	for i := 0; i < 200; i++ {
		if store.Read().LlmState == state.RunningInference {
			break
		}
		time.Sleep(time.Millisecond)
	}
	store.Update(func(s *state.State) {
		s.LlmCommand = &state.LlmCommand{Kind: state.CancelInference}
	})

	snap := waitForLlmState(t, store, state.AwaitingInput, time.Second)
	if len(snap.Conversation) != 0 {
		t.Fatalf("expected conversation rolled back to empty, got %v", snap.Conversation)
	}
	if snap.SystemMute {
		t.Fatal("expected system_mute cleared after cancellation")
	}
}

func TestDriverWordByWordQueuesSentenceBeforeCompletion(t *testing.T) {
	backend := &fakeBackend{chunks: []string{"First sentence. ", "Second one."}}
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) {
		s.Conversation = append(s.Conversation, state.Exchange{UserText: "hi"})
		s.LlmCommand = &state.LlmCommand{Kind: state.ContinueConversation, Text: "hi"}
	})

	d := NewDriver(store, backend, testLogger(), DriverConfig{
		AssistantName: "Ada",
		SystemPrompt:  "be terse",
		WordByWord:    true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// The first sentence is queued while the second chunk is still pending.
	deadline := time.Now().Add(time.Second)
	for len(store.Read().TtsQueue) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	early := store.Read()
	if early.LlmState != state.RunningInference || len(early.TtsQueue) != 1 || early.TtsQueue[0] != "First sentence." {
		t.Fatalf("expected the first sentence queued mid-generation, got state=%v queue=%v", early.LlmState, early.TtsQueue)
	}

	snap := waitForLlmState(t, store, state.RunningTts, time.Second)
	if len(snap.TtsQueue) != 2 || snap.TtsQueue[0] != "First sentence." || snap.TtsQueue[1] != "Second one." {
		t.Fatalf("expected each completed sentence queued in order, got %v", snap.TtsQueue)
	}
}

func TestDriverToolCallRunsSecondGenerationAsVisibleReply(t *testing.T) {
	backend := &toolCallBackend{}
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) {
		s.Conversation = append(s.Conversation, state.Exchange{UserText: "add 2 and 3"})
		s.LlmCommand = &state.LlmCommand{Kind: state.ContinueConversation, Text: "add 2 and 3"}
	})

	d := NewDriver(store, backend, testLogger(), DriverConfig{
		AssistantName: "Ada",
		SystemPrompt:  "be terse",
		Executor:      fakeExecutor{result: "5"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	snap := waitForLlmState(t, store, state.RunningTts, time.Second)
	if snap.Conversation[0].AssistantText != "the answer is 5" {
		t.Fatalf("expected follow-up reply to win, got %q", snap.Conversation[0].AssistantText)
	}
}

func TestDriverShutdownTurnIsSilentAndReturnsToAwaitingInput(t *testing.T) {
	backend := &fakeBackend{chunks: []string{"User asked about the weather."}}
	store := state.NewStore(state.New())
	store.Update(func(s *state.State) {
		s.LifeCycle = state.ShuttingDown
		s.Conversation = append(s.Conversation, state.Exchange{UserText: "summarize"})
		s.LlmCommand = &state.LlmCommand{Kind: state.ContinueConversation, Text: "summarize"}
	})

	d := NewDriver(store, backend, testLogger(), DriverConfig{AssistantName: "Ada", SystemPrompt: "be terse"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// The store already starts in AwaitingInput; the turn is over once the
	// command has been consumed and the driver is back there.
	var snap state.Snapshot
	deadline := time.Now().Add(time.Second)
	for {
		snap = store.Read()
		if snap.LlmState == state.AwaitingInput && snap.LlmCommand == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the shutdown turn to finish, last seen=%v", snap.LlmState)
		}
		time.Sleep(time.Millisecond)
	}
	if snap.Conversation[len(snap.Conversation)-1].AssistantText == "" {
		t.Fatal("expected the summary reply recorded on the last exchange")
	}
	if len(snap.TtsQueue) != 0 {
		t.Fatalf("shutdown turns must not be spoken, got %v", snap.TtsQueue)
	}
}

// fakeExecutor stands in for a real Python subprocess so the driver's
// one-tool-round logic can be exercised without an interpreter present.
type fakeExecutor struct{ result string }

func (f fakeExecutor) Invoke(ctx context.Context, call ToolCall) (string, error) {
	return f.result, nil
}

// toolCallBackend returns a tool-call-shaped reply on its first Generate
// call and a plain follow-up reply on the second, exercising the driver's
// one-tool-round logic.
type toolCallBackend struct{ calls int }

func (b *toolCallBackend) Generate(ctx context.Context, system, prompt string, ctxIn []int, onChunk func(Chunk) error) ([]int, error) {
	b.calls++
	if b.calls == 1 {
		onChunk(Chunk{Text: `<tool_call>{"name":"add","arguments":{"a":2,"b":3}}</tool_call>`})
		onChunk(Chunk{Done: true, Context: []int{1}})
		return []int{1}, nil
	}
	onChunk(Chunk{Text: "the answer is 5"})
	onChunk(Chunk{Done: true, Context: []int{2}})
	return []int{2}, nil
}
