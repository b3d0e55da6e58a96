// Package tts wraps sherpa-onnx's offline Kokoro engine as the black-box
// synthesize_and_play(text) primitive the TTS worker drains tts_queue
// through, one sentence at a time.
package tts

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"

	"github.com/ariavoice/aria/internal/sherpa"
)

// Synthesizer produces audio from text using a Kokoro model.
type Synthesizer struct {
	tts        *sherpa.OfflineTts
	sampleRate int
	speakerID  int
	speed      float32
	verbose    bool
	mu         sync.Mutex
}

// Config holds TTS configuration.
type Config struct {
	Model      string
	Voices     string
	Tokens     string
	DataDir    string
	Lexicon    string
	Language   string
	SpeakerID  int
	Speed      float32
	Provider   string
	Verbose    bool
	TTSThreads int
}

// AudioOutput is generated audio.
type AudioOutput struct {
	Samples    []float32
	SampleRate int
}

// NewSynthesizer creates a Kokoro-backed Synthesizer.
func NewSynthesizer(cfg *Config) (*Synthesizer, error) {
	ttsConfig := &sherpa.OfflineTtsConfig{}

	ttsConfig.Model.Kokoro.Model = cfg.Model
	ttsConfig.Model.Kokoro.Voices = cfg.Voices
	ttsConfig.Model.Kokoro.Tokens = cfg.Tokens
	ttsConfig.Model.Kokoro.DataDir = cfg.DataDir
	ttsConfig.Model.Kokoro.Lexicon = cfg.Lexicon
	ttsConfig.Model.Kokoro.Lang = cfg.Language
	ttsConfig.Model.Kokoro.LengthScale = 1.0 / cfg.Speed
	ttsConfig.Model.NumThreads = cfg.TTSThreads
	ttsConfig.Model.Provider = cfg.Provider
	ttsConfig.MaxNumSentences = 1 // Kokoro only supports 1
	if cfg.Verbose {
		ttsConfig.Model.Debug = 1
	}

	tts := sherpa.NewOfflineTts(ttsConfig)
	if tts == nil {
		return nil, fmt.Errorf("failed to create TTS synthesizer")
	}

	return &Synthesizer{
		tts:        tts,
		sampleRate: 24000,
		speakerID:  cfg.SpeakerID,
		speed:      cfg.Speed,
		verbose:    cfg.Verbose,
	}, nil
}

var (
	thinkTagPattern   = regexp.MustCompile(`(?s)<think>.*?</think>`)
	markdownEmphasis  = regexp.MustCompile("[*_`]+")
	stageDirection    = regexp.MustCompile(`\[[^\]]*\]`)
)

// CleanForSpeech strips text that must never be spoken aloud: <think>
// reasoning blocks, Markdown emphasis markers, and bracketed stage
// directions like [laughs].
func CleanForSpeech(text string) string {
	text = thinkTagPattern.ReplaceAllString(text, "")
	text = stageDirection.ReplaceAllString(text, "")
	text = markdownEmphasis.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// Synthesize converts one piece of text (typically one sentence from
// tts_queue) to audio. On a zero-sample result it retries exactly once
// before giving up, matching the original implementation's empty-output
// recovery.
func (s *Synthesizer) Synthesize(text string) (*AudioOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text = CleanForSpeech(text)
	if text == "" {
		return nil, fmt.Errorf("empty text after cleanup")
	}

	if s.verbose {
		log.Printf("[TTS] Synthesizing: %q", text)
	}

	audio := s.tts.Generate(text, s.speakerID, s.speed)
	if audio == nil || len(audio.Samples) == 0 {
		audio = s.tts.Generate(text, s.speakerID, s.speed)
	}
	if audio == nil || len(audio.Samples) == 0 {
		return nil, fmt.Errorf("TTS generation failed")
	}

	log.Printf("🎵 Generated speech (%d samples)", len(audio.Samples))
	return &AudioOutput{
		Samples:    audio.Samples,
		SampleRate: int(audio.SampleRate),
	}, nil
}

// SampleRate returns the output sample rate.
func (s *Synthesizer) SampleRate() int {
	return s.sampleRate
}

// Close releases all resources.
func (s *Synthesizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tts != nil {
		sherpa.DeleteOfflineTts(s.tts)
		s.tts = nil
	}
}
