//go:build linux

// Package sherpa re-exports the platform-specific sherpa-onnx bindings so
// the rest of the module can import one package on every OS. The pre-built
// Linux package is CPU-only; CUDA builds compile sherpa-onnx from source.
package sherpa

import (
	"os"
	"strings"

	impl "github.com/k2-fsa/sherpa-onnx-go-linux"
)

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

// HasNvidiaGPU checks for NVIDIA GPU availability on Linux, covering both
// discrete GPUs and Jetson SOC devices (Nano, Orin, etc.).
func HasNvidiaGPU() bool {
	nvidiaSmiPaths := []string{
		"/usr/bin/nvidia-smi",
		"/usr/local/bin/nvidia-smi",
		"/opt/nvidia/bin/nvidia-smi",
	}
	for _, path := range nvidiaSmiPaths {
		if fileExists(path) {
			return true
		}
	}

	if fileExists("/dev/nvidia0") {
		return true
	}

	// Jetson devices expose the GPU through /dev/nvhost-* and /dev/nvmap
	// rather than /dev/nvidia*.
	jetsonIndicators := []string{
		"/dev/nvhost-gpu",
		"/dev/nvhost-ctrl-gpu",
		"/dev/nvmap",
		"/etc/nv_tegra_release",
		"/sys/devices/gpu.0",
		"/sys/devices/17000000.ga10b", // Orin
		"/sys/devices/17000000.gv11b", // Xavier/Nano
	}
	for _, path := range jetsonIndicators {
		if fileExists(path) {
			return true
		}
	}

	if data, err := os.ReadFile("/proc/device-tree/compatible"); err == nil {
		compatible := string(data)
		if strings.Contains(compatible, "nvidia,tegra") || strings.Contains(compatible, "nvidia,jetson") {
			return true
		}
	}

	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
