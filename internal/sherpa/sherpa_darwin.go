//go:build darwin

// Package sherpa re-exports the platform-specific sherpa-onnx bindings so
// the rest of the module can import one package on every OS. On macOS the
// CoreML provider gives hardware acceleration via the Neural Engine.
package sherpa

import impl "github.com/k2-fsa/sherpa-onnx-go-macos"

// Offline recognizer (STT)

type OfflineRecognizer = impl.OfflineRecognizer
type OfflineRecognizerConfig = impl.OfflineRecognizerConfig
type OfflineStream = impl.OfflineStream
type OfflineRecognizerResult = impl.OfflineRecognizerResult

var NewOfflineRecognizer = impl.NewOfflineRecognizer
var DeleteOfflineRecognizer = impl.DeleteOfflineRecognizer
var NewOfflineStream = impl.NewOfflineStream
var DeleteOfflineStream = impl.DeleteOfflineStream

// TTS

type OfflineTts = impl.OfflineTts
type OfflineTtsConfig = impl.OfflineTtsConfig
type GeneratedAudio = impl.GeneratedAudio

var NewOfflineTts = impl.NewOfflineTts
var DeleteOfflineTts = impl.DeleteOfflineTts

// HasNvidiaGPU returns false on macOS; NVIDIA GPUs are not supported.
func HasNvidiaGPU() bool {
	return false
}
