package speech

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	voiceEN  = Voice{ID: "en", Name: "English", Lang: "en-GB"}
	voiceDE  = Voice{ID: "de", Name: "German", Lang: "de-DE"}
	voiceDE2 = Voice{ID: "de-ch", Name: "Swiss German", Lang: "de-CH"}
)

func fastDriver(e Engine, opts ...Option) *Driver {
	base := []Option{WithLeadIn(5 * time.Millisecond), WithWaits(50*time.Millisecond, 20*time.Millisecond)}
	return NewDriver(e, append(base, opts...)...)
}

func texts(us []Utterance) []string {
	out := make([]string, len(us))
	for i, u := range us {
		out[i] = u.Text
	}
	return out
}

func TestItemRate(t *testing.T) {
	tests := []struct {
		text string
		rate float64
		want float64
	}{
		{"ba", 1.0, 0.9},
		{"BA", 1.0, 0.9},
		{"Ba", 0.35, 0.3},
		{"ba", 0.3, 0.3},
		{"1", 1.2, 1.2},
		{"Bein", 0.5, 0.5},
		{"1", 0, 1.0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, ItemRate(tt.text, tt.rate), 1e-9, "%q @ %v", tt.text, tt.rate)
	}
}

func TestUtteranceTimeout(t *testing.T) {
	tests := []struct {
		text string
		rate float64
		want time.Duration
	}{
		{"1", 1.0, 2500 * time.Millisecond},
		{"", 1.4, 1286 * time.Millisecond},
		{"", 1.0, 1800 * time.Millisecond},
		{"1", 10, 800 * time.Millisecond},
		{"Bein", 1.4, 2500 * time.Millisecond},
		{"ab", 2.0, 1800 * time.Millisecond},
		{"Universität", 1.0, 2500 * time.Millisecond},
		{"ä", 2.0, 1350 * time.Millisecond},
		{"🎵", 3.6, 1000 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UtteranceTimeout(tt.text, tt.rate), "%q @ %v", tt.text, tt.rate)
	}
}

func TestWarmUpWithoutEngineIsNoop(t *testing.T) {
	d := fastDriver(nil, WithWaits(time.Second, time.Second))
	start := time.Now()
	d.WarmUp(context.Background())
	d.WarmUp(context.Background())
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Empty(t, d.Voices())
	assert.Equal(t, -1, d.Selected())
	assert.False(t, d.Supported())
}

func TestWarmUpSelectsFirstLocaleVoice(t *testing.T) {
	f := NewFake(voiceEN, voiceDE, voiceDE2)
	d := fastDriver(f)
	d.WarmUp(context.Background())

	assert.Equal(t, []Voice{voiceDE, voiceDE2}, d.Voices())
	assert.Equal(t, 0, d.Selected())

	spoken := f.Spoken()
	require.Len(t, spoken, 1)
	assert.Equal(t, "bereit", spoken[0].Text)
	assert.Equal(t, 0.0, spoken[0].Volume)
	assert.Equal(t, 1.0, spoken[0].Rate)
	assert.Equal(t, DefaultLang, spoken[0].Lang)
}

func TestWarmUpKeepsExistingSelection(t *testing.T) {
	f := NewFake(voiceDE, voiceDE2)
	d := fastDriver(f)
	d.WarmUp(context.Background())
	d.SelectVoice(1)
	d.WarmUp(context.Background())
	assert.Equal(t, 1, d.Selected())
	assert.Len(t, d.Voices(), 2)
}

func TestWarmUpWaitsForAsyncVoices(t *testing.T) {
	f := NewFake()
	d := fastDriver(f, WithWaits(2*time.Second, 20*time.Millisecond))

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.SetVoices([]Voice{voiceEN, voiceDE})
	}()

	start := time.Now()
	d.WarmUp(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []Voice{voiceDE}, d.Voices())
}

func TestWarmUpBoundedWhenNothingArrives(t *testing.T) {
	f := NewFake()
	f.Hang = true
	d := fastDriver(f, WithWaits(30*time.Millisecond, 30*time.Millisecond))

	start := time.Now()
	d.WarmUp(context.Background())
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Empty(t, d.Voices())
	assert.Equal(t, -1, d.Selected())
}

func TestPresentSpeaksInOrderWithPauses(t *testing.T) {
	f := NewFake(voiceDE)
	d := fastDriver(f, WithLeadIn(30*time.Millisecond))

	start := time.Now()
	err := d.Present(context.Background(), []string{"3", "1", "4"}, Pacing{Pause: 10 * time.Millisecond, Rate: 1})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Equal(t, []string{"3", "1", "4"}, texts(f.Spoken()))
	assert.Equal(t, 1, f.Cancels())
	assert.False(t, d.Busy())
}

func TestPresentBusyWhileRunning(t *testing.T) {
	f := NewFake(voiceDE)
	d := fastDriver(f, WithLeadIn(150*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- d.Present(context.Background(), []string{"1"}, Pacing{Rate: 1}) }()

	require.Eventually(t, d.Busy, time.Second, 5*time.Millisecond)
	require.NoError(t, <-done)
	assert.False(t, d.Busy())
}

func TestPresentLeadInPrecedesFirstUtterance(t *testing.T) {
	f := NewFake(voiceDE)
	d := fastDriver(f, WithLeadIn(100*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- d.Present(context.Background(), []string{"1"}, Pacing{Rate: 1}) }()

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, f.Spoken())
	require.NoError(t, <-done)
	assert.Len(t, f.Spoken(), 1)
}

func TestPresentTimeoutForcesProgress(t *testing.T) {
	f := NewFake(voiceDE)
	f.Hang = true
	d := fastDriver(f)

	start := time.Now()
	err := d.Present(context.Background(), []string{"1"}, Pacing{Rate: 10})
	require.NoError(t, err)

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 800*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestPresentCancelled(t *testing.T) {
	f := NewFake(voiceDE)
	f.Hang = true
	d := fastDriver(f)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	err := d.Present(ctx, []string{"1", "2", "3"}, Pacing{Rate: 1})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Len(t, f.Spoken(), 1)
}

func TestPresentWithoutEngine(t *testing.T) {
	d := fastDriver(nil, WithLeadIn(20*time.Millisecond))
	start := time.Now()
	err := d.Present(context.Background(), []string{"1", "2"}, Pacing{Pause: 10 * time.Millisecond, Rate: 1})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestPresentUsesSelectedVoiceAndItemRate(t *testing.T) {
	f := NewFake(voiceDE, voiceDE2)
	d := fastDriver(f)
	d.WarmUp(context.Background())
	d.SelectVoice(1)

	require.NoError(t, d.Present(context.Background(), []string{"ba", "Bein"}, Pacing{Rate: 1.2}))

	spoken := f.Spoken()[1:]
	require.Len(t, spoken, 2)
	for _, u := range spoken {
		require.NotNil(t, u.Voice)
		assert.Equal(t, voiceDE2, *u.Voice)
		assert.Equal(t, 1.0, u.Volume)
		assert.Equal(t, DefaultLang, u.Lang)
	}
	assert.InDelta(t, 1.1, spoken[0].Rate, 1e-9)
	assert.InDelta(t, 1.2, spoken[1].Rate, 1e-9)
}

func TestPresentFallsBackToFirstLocaleVoice(t *testing.T) {
	f := NewFake(voiceEN, voiceDE2, voiceDE)
	d := fastDriver(f)

	require.NoError(t, d.Present(context.Background(), []string{"1"}, Pacing{Rate: 1}))

	spoken := f.Spoken()
	require.Len(t, spoken, 1)
	require.NotNil(t, spoken[0].Voice)
	assert.Equal(t, voiceDE2, *spoken[0].Voice)
}

func TestSelectVoice(t *testing.T) {
	f := NewFake(voiceDE, voiceDE2)
	d := fastDriver(f)
	d.WarmUp(context.Background())

	d.SelectVoice(5)
	assert.Equal(t, -1, d.Selected())

	assert.True(t, d.SelectVoiceByName("swiss german"))
	assert.Equal(t, 1, d.Selected())
	assert.True(t, d.SelectVoiceByName("de"))
	assert.Equal(t, 0, d.Selected())
	assert.False(t, d.SelectVoiceByName("fr"))
}
