package codec

import (
	"encoding/binary"
	"math"
)

// upsampleKernel is a symmetric 4-tap linear-phase interpolation kernel used
// to double the sample rate (8kHz -> 16kHz).
var upsampleKernel = [4]float64{-0.0625, 0.5625, 0.5625, -0.0625}

// downsampleKernel is a 5-tap anti-aliasing FIR, used by the generic
// resampler for every rate pair other than the fixed 8kHz->16kHz doubling.
var downsampleKernel = [5]float64{-0.0234, 0.1563, 0.7344, 0.1563, -0.0234}

// Upsample2x doubles the sample rate of a little-endian PCM16 buffer using
// the 4-tap interpolation kernel: for every input sample s[i] it writes s[i]
// followed by one interpolated sample, so the output sample count is always
// 2x the input. Edge samples are clamped by repeating the boundary sample
// rather than reading out of range.
func Upsample2x(pcm []byte) []byte {
	in := bytesToSamples(pcm)
	n := len(in)
	if n == 0 {
		return nil
	}
	out := make([]int16, 0, n*2)
	for i := 0; i < n; i++ {
		out = append(out, in[i])
		s0 := sampleAt(in, i-1)
		s1 := in[i]
		s2 := sampleAt(in, i+1)
		s3 := sampleAt(in, i+2)
		interp := upsampleKernel[0]*float64(s0) +
			upsampleKernel[1]*float64(s1) +
			upsampleKernel[2]*float64(s2) +
			upsampleKernel[3]*float64(s3)
		out = append(out, clampSample(interp))
	}
	return samplesToBytes(out)
}

// Downsample2x halves the sample rate of a little-endian PCM16 buffer via
// the generic anti-aliased resampler at a fixed 2:1 ratio.
func Downsample2x(pcm []byte) []byte {
	return resampleFIR(pcm, 2, 1)
}

// ResampleRate converts a little-endian PCM16 buffer between arbitrary
// sample rates. The fixed 8kHz->16kHz doubling uses the dedicated
// upsample8kTo16k kernel (Upsample2x); every other rate pair — including
// rates outside the bridge's three nominal telephony/model rates — is
// routed through the generic anti-aliased FIR resampler, matching the
// spec's "used for all downsampling" generic `downsample(pcm, src, dst)`
// operation.
func ResampleRate(pcm []byte, fromHz, toHz int) []byte {
	if fromHz == toHz || fromHz <= 0 || toHz <= 0 {
		return pcm
	}
	if fromHz == 8000 && toHz == 16000 {
		return Upsample2x(pcm)
	}
	return resampleFIR(pcm, fromHz, toHz)
}

// resampleFIR implements the spec's generic resampler: ratio r = src/dst,
// output sample count = floor(in/r); for each output index j, center =
// round(j*r), apply the 5-tap anti-aliasing FIR centered on in[center],
// skipping taps that fall outside the input and renormalizing by the sum
// of the taps actually used.
func resampleFIR(pcm []byte, srcRate, dstRate int) []byte {
	in := bytesToSamples(pcm)
	n := len(in)
	if n == 0 {
		return nil
	}
	r := float64(srcRate) / float64(dstRate)
	outLen := int(float64(n) / r)
	if outLen <= 0 {
		outLen = 1
	}
	out := make([]int16, 0, outLen)
	for j := 0; j < outLen; j++ {
		center := int(math.Round(float64(j) * r))
		var acc, weight float64
		for k := -2; k <= 2; k++ {
			idx := center + k
			if idx < 0 || idx >= n {
				continue
			}
			coeff := downsampleKernel[k+2]
			acc += coeff * float64(in[idx])
			weight += coeff
		}
		if weight == 0 {
			out = append(out, sampleAt(in, center))
			continue
		}
		out = append(out, clampSample(acc/weight))
	}
	return samplesToBytes(out)
}

func sampleAt(s []int16, i int) int16 {
	if i < 0 {
		return s[0]
	}
	if i >= len(s) {
		return s[len(s)-1]
	}
	return s[i]
}

func clampSample(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func bytesToSamples(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

func samplesToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}
