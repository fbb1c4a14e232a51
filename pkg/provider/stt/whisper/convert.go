package whisper

import "encoding/binary"

// pcmToFloat32 converts the bridge's 16-bit little-endian PCM into the
// normalised [-1.0, 1.0] float32 samples whisper.cpp expects. A trailing odd
// byte cannot form a sample and is dropped.
func pcmToFloat32(pcm []byte) []float32 {
	samples := make([]float32, 0, len(pcm)/2)
	for len(pcm) >= 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[:2]))
		samples = append(samples, float32(s)/32768.0)
		pcm = pcm[2:]
	}
	return samples
}
