package audio

import "math"

// polyphaseTaps is the FIR length used for anti-aliased downsampling; 64
// taps keeps the filter cheap enough for the capture consumer loop.
const polyphaseTaps = 64

// PolyphaseResampler downsamples through a windowed-sinc low-pass filter so
// the mic path (typically 48kHz device -> 16kHz segmenter) does not alias.
// It is downsample-only; the linear Resampler covers the upsampling case.
type PolyphaseResampler struct {
	ratio   float64   // toRate/fromRate, < 1
	filter  []float32 // low-pass FIR coefficients
	history []float32 // tail of the previous chunk, for filter continuity
}

// NewPolyphaseResampler creates a downsampling resampler from fromRate Hz to
// toRate Hz. fromRate must be greater than toRate.
func NewPolyphaseResampler(fromRate, toRate int) *PolyphaseResampler {
	ratio := float64(toRate) / float64(fromRate)
	return &PolyphaseResampler{
		ratio:   ratio,
		filter:  lowPassFIR(polyphaseTaps, ratio*0.5),
		history: make([]float32, polyphaseTaps),
	}
}

// lowPassFIR designs a normalized sinc low-pass filter of the given length,
// Hamming-windowed, with cutoff as a fraction of the input sample rate. The
// cutoff sits at the output Nyquist frequency so everything that would fold
// back into the downsampled band is attenuated first.
func lowPassFIR(taps int, cutoff float64) []float32 {
	filter := make([]float32, taps)
	for i := 0; i < taps; i++ {
		n := float64(i) - float64(taps-1)/2.0
		if n == 0 {
			filter[i] = float32(2.0 * cutoff)
			continue
		}
		sinc := math.Sin(2.0*math.Pi*cutoff*n) / (math.Pi * n)
		window := 0.54 - 0.46*math.Cos(2.0*math.Pi*float64(i)/float64(taps-1))
		filter[i] = float32(sinc * window)
	}

	var sum float32
	for _, f := range filter {
		sum += f
	}
	for i := range filter {
		filter[i] /= sum
	}
	return filter
}

// Resample filters and decimates one chunk. The last taps' worth of input is
// carried into the next call so chunk boundaries do not glitch.
func (r *PolyphaseResampler) Resample(input []float32) []float32 {
	if r.ratio >= 1.0 || len(input) == 0 {
		return input
	}

	inputLen := len(input)
	outputLen := int(float64(inputLen) * r.ratio)
	output := make([]float32, outputLen)

	combined := append(r.history, input...)
	taps := len(r.filter)

	for i := 0; i < outputLen; i++ {
		srcIdx := int(float64(i)/r.ratio) + len(r.history)

		var sample float32
		for j := 0; j < taps; j++ {
			idx := srcIdx - taps/2 + j
			if idx >= 0 && idx < len(combined) {
				sample += combined[idx] * r.filter[j]
			}
		}
		output[i] = sample
	}

	if inputLen >= taps {
		copy(r.history, input[inputLen-taps:])
	} else {
		shift := taps - inputLen
		copy(r.history, r.history[inputLen:])
		copy(r.history[shift:], input)
	}

	return output
}
