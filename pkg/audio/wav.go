// Package audio holds the small amount of PCM and WAV handling the voice
// pipeline needs: wrapping raw capture buffers in a WAV header, locating the
// sample data inside a WAV produced by a synthesis backend, and converting
// capture audio to the 16 kHz mono format transcription engines expect.
package audio

import (
	"encoding/binary"
	"errors"
	"time"
)

// BitsPerSample is the only PCM sample width this package produces.
const BitsPerSample = 16

// SpeechFormat is what whisper-style transcription engines expect.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// WAVInfo describes a parsed WAV file.
type WAVInfo struct {
	Format
	BitsPerSample int
	// DataOffset is the byte offset of the first PCM sample.
	DataOffset int
	// DataSize is the number of PCM bytes following DataOffset.
	DataSize int
}

// Duration returns the playback length of the PCM payload.
func (i WAVInfo) Duration() time.Duration {
	return PCMDuration(i.DataSize, i.Format)
}

// PCMDuration returns how long n bytes of 16-bit PCM in format f play for.
func PCMDuration(n int, f Format) time.Duration {
	bytesPerSec := f.SampleRate * f.Channels * BitsPerSample / 8
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bytesPerSec))
}

// IsWAV reports whether b starts with a RIFF/WAVE header.
func IsWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a canonical
// 44-byte RIFF/WAV header.
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.SampleRate * f.Channels * BitsPerSample / 8
	blockAlign := f.Channels * BitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// ParseWAV walks the RIFF chunks of wav and returns the format and the
// location of the data chunk. The fmt chunk size may vary, so the data offset
// is never assumed to be 44.
//
// A data chunk whose declared size runs past the end of wav (as written by
// streaming encoders that never patch the header) is clamped to what is
// present.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: WAV too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("audio: WAV missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: WAV missing WAVE identifier")
	}

	var info WAVInfo
	foundFmt := false

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
				info.BitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
				foundFmt = true
			}
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: WAV data chunk precedes fmt chunk")
			}
			info.DataOffset = offset + 8
			info.DataSize = chunkSize
			if rest := len(wav) - info.DataOffset; info.DataSize > rest || info.DataSize < 0 {
				info.DataSize = rest
			}
			return info, nil
		}

		// Chunks are word-aligned.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: WAV missing data chunk")
}
