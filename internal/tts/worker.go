package tts

import (
	"context"

	"github.com/ariavoice/aria/internal/audio"
	"github.com/ariavoice/aria/internal/logx"
	"github.com/ariavoice/aria/internal/state"
)

// Player is the playback sink a Worker drives; *audio.Player implements it.
type Player interface {
	Play(buffer audio.AudioBuffer) error
}

// Worker wakes on state notifications and drains tts_queue head-first,
// synthesizing and playing one sentence at a time. Playback is never
// interrupted mid-sentence; cancellation only takes effect at the next
// dequeue, which happens naturally here because the queue is read fresh on
// every loop iteration.
type Worker struct {
	store       *state.Store
	synthesizer *Synthesizer
	player      Player
	log         *logx.Logger
}

// NewWorker builds a Worker. It does not start the main loop.
func NewWorker(store *state.Store, synthesizer *Synthesizer, player Player, log *logx.Logger) *Worker {
	return &Worker{store: store, synthesizer: synthesizer, player: player, log: log}
}

// Run blocks, draining tts_queue until ctx is cancelled, or until the
// shutdown protocol has finished and the queue has run dry — the goodbye
// utterance is queued at the very end of shutdown, so exiting on
// ShuttingDown alone would cut it off. Meant to run on its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	recv := w.store.Subscribe()
	defer recv.Close()

	for {
		w.drain(ctx)

		snap := w.store.Read()
		if snap.ShutdownPhase == state.ShutdownDone && len(snap.TtsQueue) == 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-recv.C():
		}
	}
}

// drain empties tts_queue one sentence at a time. New items pushed mid-drain
// (e.g. by word-by-word generation) are picked up naturally because each
// iteration re-reads the queue head rather than working off a stale copy.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		snap := w.store.Read()
		if len(snap.TtsQueue) == 0 {
			w.store.Update(func(s *state.State) {
				if len(s.TtsQueue) != 0 {
					return
				}
				switch {
				case s.LlmState == state.RunningTts:
					s.LlmState = state.AwaitingInput
					s.SystemMute = false
				case s.LlmState == state.AwaitingInput && s.LlmCommand == nil:
					// Utterances spoken outside a conversation turn (the
					// wake-word acknowledgement) mute the mic when queued;
					// nothing else will un-mute once they have played. A
					// pending command means a turn is about to start, so
					// the mute belongs to it and stays.
					s.SystemMute = false
				}
			})
			return
		}

		sentence := snap.TtsQueue[0]
		w.speak(sentence)

		w.store.Update(func(s *state.State) {
			if len(s.TtsQueue) > 0 && s.TtsQueue[0] == sentence {
				s.TtsQueue = s.TtsQueue[1:]
			}
		})
	}
}

// speak synthesizes and plays one sentence. A failed synthesis logs and
// drops the sentence; there is no retry beyond the synthesizer's own single
// internal one.
func (w *Worker) speak(sentence string) {
	audioOut, err := w.synthesizer.Synthesize(sentence)
	if err != nil {
		w.log.Error("❌ TTS synthesis failed, dropping sentence: %v", err)
		return
	}
	if err := w.player.Play(audio.AudioBuffer{Samples: audioOut.Samples, SampleRate: audioOut.SampleRate}); err != nil {
		w.log.Error("❌ TTS playback failed: %v", err)
	}
}
