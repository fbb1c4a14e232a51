package audio

import "math"

// RMS computes the root-mean-square amplitude of 16-bit little-endian PCM.
// Used as a cheap energy gate: segmentation falls back to it when no neural
// VAD is loaded, and STT providers skip inference below a silence threshold.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
