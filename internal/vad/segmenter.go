// Package vad implements the fixed-frame voice-activity segmenter that
// turns a stream of microphone samples into discrete utterances. It is the
// one part of the speech pipeline this module does not treat as a black
// box: everything downstream (transcription, synthesis) is an external
// collaborator, but deciding where an utterance starts and ends is not.
package vad

import "github.com/ariavoice/aria/internal/logx"

const (
	// FrameDurationMS is the fixed analysis window: 30ms.
	FrameDurationMS = 30
	// TargetSampleRate is the rate the segmenter always operates at,
	// regardless of the microphone's native rate.
	TargetSampleRate = 16000
	// FrameSamples is 30ms of audio at 16kHz.
	FrameSamples = TargetSampleRate * FrameDurationMS / 1000 // 480

	// StartFrames is the consecutive-voiced-frame count that must be
	// exceeded to declare "speaking" (~450ms).
	StartFrames = 15
	// MaxSilenceFrames is the number of consecutive unvoiced frames,
	// after speech has started, that ends the utterance (~1.5s).
	MaxSilenceFrames = 50
	// MinUtteranceSamples is the minimum length (1s at 16kHz) of a finalized
	// utterance, not counting the trailing silence that ended it, for it to
	// be delivered to the STT callback.
	MinUtteranceSamples = TargetSampleRate * 1
)

// Detector decides whether a single 30ms, 16kHz frame contains voice. A
// production assistant plugs in a model-backed detector (e.g. Silero via
// sherpa-onnx); RMSDetector in detector.go is the dependency-free default.
type Detector interface {
	IsVoiced(frame []float32) bool
}

// Segmenter runs the per-frame state machine from the design: accumulate
// while voiced, count trailing silence once speaking, and finalize an
// utterance when silence has run long enough.
type Segmenter struct {
	detector   Detector
	onUtterance func(pcm []float32)
	log        *logx.Logger

	nativeRate int
	carry      []float32 // leftover native-rate samples that didn't fill a full output frame

	speaking     bool
	speakingLen  uint32
	silence      uint32
	utterancePCM []float32
}

// New creates a Segmenter for a microphone delivering samples at nativeRate
// Hz. onUtterance is invoked (synchronously, from whatever goroutine calls
// Feed) once a finished utterance clears MinUtteranceSamples.
func New(nativeRate int, detector Detector, onUtterance func(pcm []float32), log *logx.Logger) *Segmenter {
	if detector == nil {
		detector = NewRMSDetector(DefaultRMSThreshold)
	}
	return &Segmenter{
		detector:    detector,
		onUtterance: onUtterance,
		log:         log,
		nativeRate:  nativeRate,
	}
}

// Feed accepts a chunk of native-rate samples. muted should reflect
// system_mute||user_mute from the shared state at call time: while true,
// any in-progress utterance is discarded and the chunk is dropped on the
// floor (it has already been drained from the capture ring by the caller).
func (seg *Segmenter) Feed(nativeSamples []float32, muted bool) {
	if muted {
		if seg.speaking || len(seg.utterancePCM) > 0 {
			seg.log.Debug("[VAD] muted mid-utterance, discarding %d buffered samples", len(seg.utterancePCM))
		}
		seg.reset()
		return
	}

	frames := seg.downsampleToFrames(nativeSamples)
	for _, frame := range frames {
		seg.processFrame(frame)
	}
}

func (seg *Segmenter) processFrame(frame []float32) {
	voiced := seg.detector.IsVoiced(frame)

	switch {
	case voiced:
		seg.utterancePCM = append(seg.utterancePCM, frame...)
		seg.silence = 0
		seg.speakingLen++
		if seg.speakingLen > StartFrames {
			seg.speaking = true
		}
	case seg.speaking:
		seg.utterancePCM = append(seg.utterancePCM, frame...)
		seg.silence++
		if seg.silence >= MaxSilenceFrames {
			seg.finalize()
		}
	default:
		seg.speakingLen = 0
	}
}

func (seg *Segmenter) finalize() {
	pcm := seg.utterancePCM
	seg.reset()

	// The buffer ends with the MaxSilenceFrames of silence that closed it;
	// only what precedes that counts toward the minimum.
	speech := len(pcm) - MaxSilenceFrames*FrameSamples
	if speech < MinUtteranceSamples {
		seg.log.Debug("[VAD] dropping short utterance (%d samples < %d)", speech, MinUtteranceSamples)
		return
	}
	if seg.onUtterance != nil {
		seg.onUtterance(pcm)
	}
}

func (seg *Segmenter) reset() {
	seg.speaking = false
	seg.speakingLen = 0
	seg.silence = 0
	seg.utterancePCM = nil
}

// downsampleToFrames box-average downsamples nativeSamples to 16kHz and
// returns as many exact FrameSamples-length frames as are now available,
// carrying the remainder forward to the next call so frame boundaries
// never drift.
func (seg *Segmenter) downsampleToFrames(nativeSamples []float32) [][]float32 {
	down := boxAverageDownsample(nativeSamples, seg.nativeRate, TargetSampleRate)
	seg.carry = append(seg.carry, down...)

	var frames [][]float32
	for len(seg.carry) >= FrameSamples {
		frame := make([]float32, FrameSamples)
		copy(frame, seg.carry[:FrameSamples])
		frames = append(frames, frame)
		seg.carry = seg.carry[FrameSamples:]
	}
	return frames
}

// boxAverageDownsample reduces the sample rate by averaging each run of
// fromRate/toRate source samples into one output sample. If the rates
// already match, the input is returned unchanged.
func boxAverageDownsample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen == 0 {
		return nil
	}

	out := make([]float32, outLen)
	for i := range out {
		start := int(float64(i) * ratio)
		end := int(float64(i+1) * ratio)
		if end > len(samples) {
			end = len(samples)
		}
		if end <= start {
			end = start + 1
		}
		var sum float32
		n := 0
		for j := start; j < end && j < len(samples); j++ {
			sum += samples[j]
			n++
		}
		if n > 0 {
			out[i] = sum / float32(n)
		}
	}
	return out
}
