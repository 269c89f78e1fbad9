//go:build !linux

package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

type malgoPlayer struct {
	ctx *malgo.AllocatedContext
}

func NewPlayer() (Player, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: %w", err)
	}
	return &malgoPlayer{ctx: ctx}, nil
}

func (m *malgoPlayer) Play(ctx context.Context, samples []int16, format Format) error {
	if len(samples) == 0 {
		return nil
	}

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = uint32(max(format.Channels, 1))
	config.SampleRate = uint32(format.SampleRate)

	var (
		mu       sync.Mutex
		pos      int
		done     = make(chan struct{})
		doneOnce sync.Once
	)
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			mu.Lock()
			defer mu.Unlock()
			i := 0
			for ; i+1 < len(out) && pos < len(samples); i += 2 {
				out[i] = byte(samples[pos])
				out[i+1] = byte(samples[pos] >> 8)
				pos++
			}
			for ; i < len(out); i++ {
				out[i] = 0
			}
			if pos >= len(samples) {
				doneOnce.Do(func() { close(done) })
			}
		},
	}

	device, err := malgo.InitDevice(m.ctx.Context, config, callbacks)
	if err != nil {
		return fmt.Errorf("malgo device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("malgo start: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	device.Stop()
	return ctx.Err()
}

func (m *malgoPlayer) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}
