package audio

import (
	"context"
	"sync"
	"time"
)

// FakePlayer records what it is asked to play. With Realtime set, Play blocks
// for the duration the samples would take.
type FakePlayer struct {
	Realtime bool

	mu    sync.Mutex
	plays [][]int16
}

func NewFakePlayer() *FakePlayer { return &FakePlayer{} }

func (f *FakePlayer) Play(ctx context.Context, samples []int16, format Format) error {
	f.mu.Lock()
	buf := make([]int16, len(samples))
	copy(buf, samples)
	f.plays = append(f.plays, buf)
	f.mu.Unlock()

	if !f.Realtime || format.SampleRate == 0 {
		return ctx.Err()
	}
	frames := len(samples) / max(format.Channels, 1)
	d := time.Duration(frames) * time.Second / time.Duration(format.SampleRate)
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FakePlayer) Plays() [][]int16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]int16, len(f.plays))
	copy(out, f.plays)
	return out
}

func (f *FakePlayer) Close() {}
