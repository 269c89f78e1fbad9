package beep

import (
	"context"
	"math"
	"sync"
	"time"

	"phonoloop/audio"
)

const (
	sampleRate = 44100

	// Recall cue: high pitch, short
	recallFreq   = 1200
	recallVolume = 0.5
	recallDecay  = 60

	// Correct: medium pitch, slightly longer
	correctFreq   = 900
	correctVolume = 0.5
	correctDecay  = 40

	// Incorrect: low pitch double-beep
	incorrectFreq   = 350
	incorrectVolume = 0.6
	incorrectDecay  = 30

	playTimeout = 2 * time.Second
)

var (
	mu       sync.Mutex
	player   audio.Player
	disabled bool

	recallSamples    []int16
	correctSamples   []int16
	incorrectSamples []int16
	soundOnce        sync.Once
)

var format = audio.Format{SampleRate: sampleRate, Channels: 1}

// Init sets the output used for cues. A nil player keeps cues silent.
func Init(p audio.Player) {
	soundOnce.Do(initSound)
	mu.Lock()
	player = p
	mu.Unlock()
}

func Disable() {
	mu.Lock()
	disabled = true
	mu.Unlock()
}

func initSound() {
	recallSamples = generateTick(sampleRate, recallFreq, 0.2, recallVolume, recallDecay)
	correctSamples = generateTick(sampleRate, correctFreq, 0.2, correctVolume, correctDecay)
	incorrectSamples = generateDoubleBeep(sampleRate, incorrectFreq, 0.08, 0.05, incorrectVolume, incorrectDecay)
}

func generateTick(sampleRate int, freq float64, duration float64, volume float64, decay float64) []int16 {
	n := int(float64(sampleRate) * duration)
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func generateDoubleBeep(sampleRate int, freq float64, beepDur float64, gapDur float64, volume float64, decay float64) []int16 {
	beep := generateTick(sampleRate, freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(sampleRate)*gapDur))
	result := make([]int16, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}

func play(samples []int16) {
	mu.Lock()
	p, off := player, disabled
	mu.Unlock()
	if p == nil || off || len(samples) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
		defer cancel()
		p.Play(ctx, samples, format)
	}()
}

// PlayRecall marks the start of the recall phase.
func PlayRecall() {
	soundOnce.Do(initSound)
	play(recallSamples)
}

// PlayOutcome signals whether the last response was correct.
func PlayOutcome(correct bool) {
	soundOnce.Do(initSound)
	if correct {
		play(correctSamples)
	} else {
		play(incorrectSamples)
	}
}

// Check plays the correct-answer tone on p and waits for it to finish.
func Check(ctx context.Context, p audio.Player) error {
	soundOnce.Do(initSound)
	return p.Play(ctx, correctSamples, format)
}
