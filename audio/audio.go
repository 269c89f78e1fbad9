package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

const WAVHeaderSize = 44

var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// Format describes interleaved signed 16-bit PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// Player plays PCM to the default output. Play blocks until the samples have
// drained or ctx is done.
type Player interface {
	Play(ctx context.Context, samples []int16, format Format) error
	Close()
}

// DecodeWAV extracts 16-bit PCM from a WAV stream. Chunk sizes written by
// streaming encoders are often placeholders, so the data chunk is clamped to
// what is actually present.
func DecodeWAV(data []byte) ([]int16, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var format Format
	var bits int
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return nil, Format{}, fmt.Errorf("audio: truncated fmt chunk")
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = int(binary.LittleEndian.Uint16(data[body+14:]))
		case "data":
			if bits != 16 {
				return nil, Format{}, fmt.Errorf("audio: unsupported sample width %d", bits)
			}
			end := body + size
			if size < 0 || end > len(data) || end < body {
				end = len(data)
			}
			pcm := data[body:end]
			samples := make([]int16, len(pcm)/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
			}
			return samples, format, nil
		}
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}
	return nil, Format{}, fmt.Errorf("audio: no data chunk")
}

// Scale applies a linear gain in [0,1] to samples in place.
func Scale(samples []int16, volume float64) {
	if volume >= 1 {
		return
	}
	if volume < 0 {
		volume = 0
	}
	for i, s := range samples {
		samples[i] = int16(float64(s) * volume)
	}
}
