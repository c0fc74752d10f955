package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/talkback/pkg/audio"
)

func TestEncodeParseWAV(t *testing.T) {
	pcm := samplesToBytes([]int16{1, 2, 3, 4})
	wav := audio.EncodeWAV(pcm, audio.SpeechFormat)

	if !audio.IsWAV(wav) {
		t.Fatal("IsWAV = false for encoded output")
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	info, err := audio.ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.Format != audio.SpeechFormat {
		t.Errorf("format = %v", info.Format)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("bits = %d", info.BitsPerSample)
	}
	if info.DataOffset != 44 || info.DataSize != len(pcm) {
		t.Errorf("data = %d+%d", info.DataOffset, info.DataSize)
	}
}

func TestParseWAV_ExtraChunk(t *testing.T) {
	// Insert an odd-sized LIST chunk between fmt and data.
	base := audio.EncodeWAV([]byte{9, 9}, audio.SpeechFormat)
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	wav := append(append(append([]byte{}, base[:36]...), list...), base[36:]...)

	info, err := audio.ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.DataOffset != 44+len(list) {
		t.Errorf("DataOffset = %d, want %d", info.DataOffset, 44+len(list))
	}
}

func TestParseWAV_StreamingHeaderClamped(t *testing.T) {
	wav := audio.EncodeWAV([]byte{1, 2, 3, 4}, audio.SpeechFormat)
	binary.LittleEndian.PutUint32(wav[40:44], 0xFFFFFFF0)
	info, err := audio.ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.DataSize != 4 {
		t.Errorf("DataSize = %d, want 4", info.DataSize)
	}
}

func TestParseWAV_Invalid(t *testing.T) {
	tests := map[string][]byte{
		"short":   []byte("RIFF"),
		"no riff": []byte("RIFX0000WAVEfmt "),
		"no wave": []byte("RIFF0000AVI fmt "),
		"no data": audio.EncodeWAV(nil, audio.SpeechFormat)[:36],
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := audio.ParseWAV(in); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNormalizeWAV(t *testing.T) {
	src := audio.Format{SampleRate: 48000, Channels: 2}
	pcm := make([]byte, 48000*4/10) // 100 ms of stereo
	wav := audio.EncodeWAV(pcm, src)

	out, err := audio.NormalizeWAV(wav, audio.SpeechFormat)
	if err != nil {
		t.Fatalf("NormalizeWAV: %v", err)
	}
	info, err := audio.ParseWAV(out)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.Format != audio.SpeechFormat {
		t.Errorf("format = %v, want %v", info.Format, audio.SpeechFormat)
	}
	if d := info.Duration(); d != 100*time.Millisecond {
		t.Errorf("duration = %v, want 100ms", d)
	}

	same := audio.EncodeWAV(make([]byte, 32), audio.SpeechFormat)
	out, err = audio.NormalizeWAV(same, audio.SpeechFormat)
	if err != nil {
		t.Fatalf("NormalizeWAV: %v", err)
	}
	if &out[0] != &same[0] {
		t.Error("matching WAV should be returned unchanged")
	}
}

func TestPCMDuration(t *testing.T) {
	if d := audio.PCMDuration(32000, audio.SpeechFormat); d != time.Second {
		t.Errorf("duration = %v, want 1s", d)
	}
	if d := audio.PCMDuration(100, audio.Format{}); d != 0 {
		t.Errorf("zero format duration = %v", d)
	}
}
