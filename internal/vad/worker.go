package vad

import (
	"strings"
	"time"

	"github.com/ariavoice/aria/internal/llm"
	"github.com/ariavoice/aria/internal/logx"
	"github.com/ariavoice/aria/internal/state"
)

// Transcriber is the black-box transcribe(pcm) -> text primitive; *stt.
// Recognizer implements it.
type Transcriber interface {
	Transcribe(samples []float32) (string, error)
}

// blankAudioMarker is the literal Whisper produces for silence; transcripts
// equal to it are dropped like empty ones, regardless of which Transcriber
// produced them.
const blankAudioMarker = "[BLANK_AUDIO]"

// Worker owns a Segmenter and drives it from captured microphone samples,
// feeding every finalized utterance through transcription and the wake-word
// gate, and emitting ContinueConversation for whatever survives.
type Worker struct {
	store         *state.Store
	seg           *Segmenter
	transcriber   Transcriber
	assistantName string
	log           *logx.Logger
}

// NewWorker builds a Worker. detector may be nil to use the default
// RMS-energy detector.
func NewWorker(store *state.Store, nativeRate int, detector Detector, transcriber Transcriber, assistantName string, log *logx.Logger) *Worker {
	w := &Worker{
		store:         store,
		transcriber:   transcriber,
		assistantName: assistantName,
		log:           log,
	}
	w.seg = New(nativeRate, detector, w.onUtterance, log)
	return w
}

// Feed is the capture callback: it reads the current mute flags and passes
// the chunk (and mute state) straight to the segmenter. Meant to be called
// from the audio capturer's consumer goroutine.
func (w *Worker) Feed(samples []float32) {
	snap := w.store.Read()
	muted := snap.SystemMute || snap.UserMute
	w.seg.Feed(samples, muted)
}

// onUtterance is the segmenter's finalize callback: transcribe, drop blanks,
// run the wake-word gate, and emit ContinueConversation for whatever is
// accepted.
func (w *Worker) onUtterance(pcm []float32) {
	text, err := w.transcriber.Transcribe(pcm)
	if err != nil {
		w.log.Error("❌ transcription failed: %v", err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" || text == blankAudioMarker {
		return
	}

	snap := w.store.Read()
	if snap.LifeCycle == state.ShuttingDown {
		// No new user utterances are accepted once shutting down.
		return
	}

	now := time.Now()
	decision := llm.Gate(w.assistantName, text, snap.IsOnlyRespondingAfterName, snap.TimeSinceNameWasSaid, now)

	switch decision {
	case llm.Rejected:
		return
	case llm.Acknowledge:
		w.store.Update(func(s *state.State) {
			s.TtsQueue = append(s.TtsQueue, llm.Acknowledgement)
			s.TimeSinceNameWasSaid = &now
			// Gate the mic until the acknowledgement finishes playing, or
			// the armed window would accept our own "Yes?" as an utterance.
			s.SystemMute = true
		})
	case llm.Accepted:
		w.store.Update(func(s *state.State) {
			s.Conversation = append(s.Conversation, state.Exchange{UserText: text})
			s.LlmCommand = &state.LlmCommand{Kind: state.ContinueConversation, Text: text}
			s.SystemMute = true
			s.TimeSinceNameWasSaid = nil
		})
	}
}
