package audio

// BytesPerMs returns the number of PCM bytes per millisecond for a format.
func BytesPerMs(f Format) int {
	return f.SampleRate * f.Channels * BytesPerSample / 1000
}

// ChunkBytes returns the size in bytes of a chunk of the given duration.
// For the wire format (16 kHz mono) a 10 ms chunk is 320 bytes.
func ChunkBytes(f Format, ms int) int {
	return BytesPerMs(f) * ms
}

// Split slices pcm into chunks of at most size bytes, preserving order.
// The final chunk may be shorter. Chunks alias the input slice; callers that
// retain them past the lifetime of pcm must copy.
func Split(pcm []byte, size int) [][]byte {
	if size <= 0 || len(pcm) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(pcm)+size-1)/size)
	for off := 0; off < len(pcm); off += size {
		end := off + size
		if end > len(pcm) {
			end = len(pcm)
		}
		chunks = append(chunks, pcm[off:end])
	}
	return chunks
}
