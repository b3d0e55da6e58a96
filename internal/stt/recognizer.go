// Package stt wraps sherpa-onnx's offline Whisper recognizer as the
// black-box transcribe(pcm) -> text primitive the voice-activity segmenter
// calls once it has a complete utterance. It owns no voice-activity logic
// of its own; utterance boundaries are internal/vad's job now.
package stt

import (
	"fmt"
	"strings"

	"github.com/ariavoice/aria/internal/sherpa"
)

// BlankAudioMarker is the literal Whisper emits for silence or noise that
// doesn't resolve to any words; callers drop it exactly like an empty
// string.
const BlankAudioMarker = "[BLANK_AUDIO]"

// Config holds Whisper recognizer configuration.
type Config struct {
	WhisperEncoder string
	WhisperDecoder string
	WhisperTokens  string
	SampleRate     int
	Provider       string
	Language       string
	NumThreads     int
	Verbose        bool

	// WakeWord, if set, is a cheap substring shortcut: transcripts not
	// containing it are rejected before they ever reach the wake-word gate
	// in internal/llm.
	WakeWord string
}

// Recognizer transcribes complete utterances with Whisper.
type Recognizer struct {
	recognizer *sherpa.OfflineRecognizer
	sampleRate int
	wakeWord   string
	verbose    bool
}

// NewRecognizer creates a Whisper-backed Recognizer.
func NewRecognizer(cfg *Config) (*Recognizer, error) {
	recognizerConfig := &sherpa.OfflineRecognizerConfig{}
	recognizerConfig.ModelConfig.Whisper.Encoder = cfg.WhisperEncoder
	recognizerConfig.ModelConfig.Whisper.Decoder = cfg.WhisperDecoder

	language := cfg.Language
	if strings.EqualFold(language, "auto") {
		language = ""
	}
	recognizerConfig.ModelConfig.Whisper.Language = language
	recognizerConfig.ModelConfig.Whisper.Task = "transcribe"
	recognizerConfig.ModelConfig.Whisper.TailPaddings = -1
	recognizerConfig.ModelConfig.Tokens = cfg.WhisperTokens
	recognizerConfig.ModelConfig.NumThreads = cfg.NumThreads
	recognizerConfig.ModelConfig.Provider = cfg.Provider
	recognizerConfig.DecodingMethod = "greedy_search"
	if cfg.Verbose {
		recognizerConfig.ModelConfig.Debug = 1
	}

	recognizer := sherpa.NewOfflineRecognizer(recognizerConfig)
	if recognizer == nil {
		return nil, fmt.Errorf("failed to create offline recognizer")
	}

	return &Recognizer{
		recognizer: recognizer,
		sampleRate: cfg.SampleRate,
		wakeWord:   strings.ToLower(cfg.WakeWord),
		verbose:    cfg.Verbose,
	}, nil
}

// Transcribe runs Whisper over a complete utterance. It returns "" (no
// error) for silence, blank audio, or a configured wake word that never
// appears in the result — all of which the caller treats identically to an
// empty transcript.
func (r *Recognizer) Transcribe(samples []float32) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	stream := sherpa.NewOfflineStream(r.recognizer)
	if stream == nil {
		return "", fmt.Errorf("failed to create offline stream")
	}
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(r.sampleRate, samples)
	r.recognizer.Decode(stream)

	text := strings.TrimSpace(stream.GetResult().Text)
	if text == "" || text == BlankAudioMarker {
		return "", nil
	}

	if r.wakeWord != "" {
		lowerText := strings.ToLower(text)
		if !strings.Contains(lowerText, r.wakeWord) {
			return "", nil
		}
		text = removeWakeWord(text, r.wakeWord)
	}

	return text, nil
}

// Close releases the underlying sherpa-onnx recognizer.
func (r *Recognizer) Close() {
	if r.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(r.recognizer)
		r.recognizer = nil
	}
}

// removeWakeWord strips wakeWord out of text, case-insensitively, and
// cleans up resulting leading punctuation.
func removeWakeWord(text, wakeWord string) string {
	lowerText := strings.ToLower(text)
	idx := strings.Index(lowerText, wakeWord)
	if idx == -1 {
		return text
	}
	result := text[:idx] + text[idx+len(wakeWord):]
	result = strings.TrimLeft(result, " ,.!?;:-'\"")
	return strings.TrimSpace(result)
}
