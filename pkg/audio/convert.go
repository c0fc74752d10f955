package audio

import (
	"fmt"
	"log/slog"
)

// Format describes the sample rate and channel count of 16-bit PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// ConvertPCM converts little-endian int16 PCM from src to mono at dst's
// sample rate. Only mono and stereo sources are supported; other channel
// counts are returned unchanged. An odd byte count is truncated by one byte.
//
// Channel conversion happens before resampling so stereo input is never
// resampled.
func ConvertPCM(pcm []byte, src, dst Format) []byte {
	if len(pcm)%2 != 0 {
		slog.Warn("audio: odd byte count in PCM data, truncating", "bytes", len(pcm))
		pcm = pcm[:len(pcm)-1]
	}
	if src == dst {
		return pcm
	}
	if src.Channels == 2 && dst.Channels == 1 {
		pcm = StereoToMono(pcm)
	} else if src.Channels != dst.Channels {
		return pcm
	}
	return ResampleMono16(pcm, src.SampleRate, dst.SampleRate)
}

// NormalizeWAV re-encodes a WAV file so its PCM payload matches target.
// Files that already match are returned unchanged.
func NormalizeWAV(wav []byte, target Format) ([]byte, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return nil, err
	}
	if info.Format == target {
		return wav, nil
	}
	if info.BitsPerSample != BitsPerSample {
		return nil, fmt.Errorf("audio: unsupported bit depth %d", info.BitsPerSample)
	}
	pcm := ConvertPCM(wav[info.DataOffset:info.DataOffset+info.DataSize], info.Format, target)
	return EncodeWAV(pcm, target), nil
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		lSample := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		rSample := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (lSample + rSample) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}
