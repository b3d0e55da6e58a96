// Package shutdown implements the two-pass summarize/prune protocol that
// runs once life_cycle reaches ShuttingDown: ask the model to summarize the
// conversation, join the summary with the persisted one, compress the result
// if it has grown too large, and write it back out before saying goodbye.
package shutdown

import (
	"context"

	"github.com/ariavoice/aria/internal/logx"
	"github.com/ariavoice/aria/internal/memory"
	"github.com/ariavoice/aria/internal/state"
)

// summaryInstruction is the user-turn text that asks the model to produce a
// conversation summary in its own voice.
const summaryInstruction = "Summarize this conversation in a few sentences for your own future reference. Reply with only the summary."

// pruneSystemPrompt and pruneUserPrefix seed a fresh context (no prior
// conversation, no KV cache) asking the model to compress an already-large
// combined summary down below the prune threshold.
const pruneSystemPrompt = "You compress personal-assistant memory notes. Given a block of prior notes, produce a single shorter block that preserves every distinct fact and drops repetition."
const pruneUserPrefix = "Compress the following notes to well under 2000 characters, preserving every distinct fact:\n\n"

// goodbye is the fixed utterance spoken before the process exits, in both
// the empty-conversation and summarized-conversation cases.
const goodbye = "Goodbye."

// Run executes the shutdown protocol once life_cycle is ShuttingDown. It
// blocks until the final summary (if any) has been persisted and the
// goodbye utterance has been queued for TTS; it does not wait for playback
// to finish — the caller decides how long to let the TTS worker drain
// before exiting the process.
func Run(ctx context.Context, store *state.Store, mem *memory.Store, assistantName string, log *logx.Logger) {
	snap := store.Read()

	if len(snap.Conversation) == 0 {
		enqueueGoodbye(store)
		return
	}

	log.Info("💾 Remembering conversation for %s...", assistantName)
	store.Update(func(s *state.State) {
		s.ShutdownPhase = state.ShutdownSummarizing
		s.Conversation = append(s.Conversation, state.Exchange{UserText: summaryInstruction})
		s.LlmCommand = &state.LlmCommand{Kind: state.ContinueConversation, Text: summaryInstruction}
	})

	fresh, ok := awaitReply(ctx, store)
	if !ok {
		log.Warn("⚠️  shutdown: context cancelled while awaiting summary")
		return
	}

	previous, err := mem.Load()
	if err != nil {
		log.Error("❌ shutdown: failed to load previous summary: %v", err)
		previous = ""
	}

	combined := memory.Join(previous, fresh)

	if memory.NeedsPrune(combined) {
		store.Update(func(s *state.State) {
			s.ShutdownPhase = state.ShutdownPruning
			s.LlmCommand = &state.LlmCommand{Kind: state.DestroyContextAndRunFromNothing, Messages: []state.Message{
				{Role: "system", Content: pruneSystemPrompt},
				{Role: "user", Content: pruneUserPrefix + combined},
			}}
		})
		pruned, ok := awaitReply(ctx, store)
		if !ok {
			log.Warn("⚠️  shutdown: context cancelled while awaiting pruned summary")
			return
		}
		combined = pruned
	}

	final := memory.StripThinkTags(combined)
	if err := mem.Save(final); err != nil {
		log.Error("❌ shutdown: failed to persist summary: %v", err)
	}

	enqueueGoodbye(store)
}

func enqueueGoodbye(store *state.Store) {
	store.Update(func(s *state.State) {
		s.ShutdownPhase = state.ShutdownDone
		s.TtsQueue = append(s.TtsQueue, goodbye)
	})
}

// awaitReply subscribes and polls until llm_state returns to AwaitingInput
// with llm_command cleared, then returns the last exchange's assistant reply.
func awaitReply(ctx context.Context, store *state.Store) (string, bool) {
	recv := store.Subscribe()
	defer recv.Close()

	for {
		snap := store.Read()
		if snap.LlmState == state.AwaitingInput && snap.LlmCommand == nil {
			if last := snap.LastExchange(); last != nil {
				return last.AssistantText, true
			}
			return "", true
		}

		select {
		case <-ctx.Done():
			return "", false
		case <-recv.C():
		}
	}
}
