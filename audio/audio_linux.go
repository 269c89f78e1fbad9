//go:build linux

package audio

import (
	"context"
	"fmt"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

type pulsePlayer struct {
	client *pulse.Client
}

func NewPlayer() (Player, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &pulsePlayer{client: c}, nil
}

func (p *pulsePlayer) Play(ctx context.Context, samples []int16, format Format) error {
	if len(samples) == 0 {
		return nil
	}

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})

	channels := pulse.PlaybackMono
	if format.Channels == 2 {
		channels = pulse.PlaybackStereo
	}
	stream, err := p.client.NewPlayback(reader,
		channels,
		pulse.PlaybackSampleRate(format.SampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(cs *proto.CreatePlaybackStream) {
			vols := make(proto.ChannelVolumes, max(format.Channels, 1))
			for i := range vols {
				vols[i] = uint32(proto.VolumeNorm)
			}
			cs.ChannelVolumes = vols
		}),
	)
	if err != nil {
		return fmt.Errorf("pulse playback: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	stream.Stop()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("pulse playback: %w", err)
	}
	return ctx.Err()
}

func (p *pulsePlayer) Close() {
	p.client.Close()
}
