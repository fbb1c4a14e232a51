package audio

import (
	"encoding/binary"
	"errors"
)

// WAVInfo holds the format metadata extracted from a RIFF/WAVE header.
type WAVInfo struct {
	DataOffset int // byte offset of the first PCM sample
	DataSize   int // size of the data chunk in bytes
	SampleRate int // samples per second (e.g., 16000, 22050, 24000)
	Channels   int // 1 = mono, 2 = stereo
}

// EncodeWAV wraps raw 16-bit PCM in a minimal 44-byte RIFF/WAVE header.
// STT providers that speak multipart HTTP need a WAV container; everything
// else in the pipeline stays raw PCM.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := BytesPerSample * 8
	byteRate := sampleRate * channels * BytesPerSample
	blockAlign := channels * BytesPerSample
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// ParseWAV walks the RIFF chunk list of a WAV file and returns the location of
// the PCM payload along with its format. TTS engines return WAV with varying
// header layouts (extra LIST/fact chunks, streamed responses with placeholder
// sizes), so the data offset is discovered rather than assumed to be 44.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: WAV data too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("audio: WAV data missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: WAV data missing WAVE identifier")
	}

	var info WAVInfo
	foundFmt := false

	// Walk RIFF chunks starting immediately after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			info.DataSize = chunkSize
			// Streamed responses may declare a placeholder size; trust the
			// actual payload length instead.
			if info.DataSize <= 0 || info.DataOffset+info.DataSize > len(wav) {
				info.DataSize = len(wav) - info.DataOffset
			}
			if !foundFmt {
				// fmt chunk should appear before data, but be defensive.
				info.SampleRate = SampleRate
				info.Channels = Channels
			}
			return info, nil
		}

		// Advance past this chunk (chunks are word-aligned: pad by 1 if odd size).
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: WAV data missing data chunk")
}

// DecodeWAV extracts the raw PCM payload from a WAV file and converts it to
// the target format. Returns the converted PCM or an error if the container
// is malformed.
func DecodeWAV(wav []byte, target Format) ([]byte, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return nil, err
	}
	pcm := wav[info.DataOffset : info.DataOffset+info.DataSize]
	return Normalize(pcm, Format{SampleRate: info.SampleRate, Channels: info.Channels}, target), nil
}
