package speech

import (
	"sync"
	"time"
)

// Fake is an in-memory Engine. Utterances complete after Delay unless Hang is
// set, in which case their done channels are never closed.
type Fake struct {
	Delay time.Duration
	Hang  bool

	mu          sync.Mutex
	voices      []Voice
	changed     chan struct{}
	changedOnce sync.Once
	spoken      []Utterance
	cancels     int
}

// NewFake returns an engine whose voice list is already populated with voices.
// Pass no voices to simulate a platform that enumerates asynchronously, then
// call SetVoices later.
func NewFake(voices ...Voice) *Fake {
	f := &Fake{changed: make(chan struct{})}
	if len(voices) > 0 {
		f.SetVoices(voices)
	}
	return f
}

func (f *Fake) SetVoices(voices []Voice) {
	f.mu.Lock()
	f.voices = append([]Voice(nil), voices...)
	f.mu.Unlock()
	f.changedOnce.Do(func() { close(f.changed) })
}

func (f *Fake) Voices() []Voice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Voice(nil), f.voices...)
}

func (f *Fake) VoicesChanged() <-chan struct{} { return f.changed }

func (f *Fake) Speak(u Utterance) (<-chan struct{}, error) {
	f.mu.Lock()
	f.spoken = append(f.spoken, u)
	hang, delay := f.Hang, f.Delay
	f.mu.Unlock()

	done := make(chan struct{})
	switch {
	case hang:
	case delay <= 0:
		close(done)
	default:
		time.AfterFunc(delay, func() { close(done) })
	}
	return done, nil
}

func (f *Fake) Cancel() {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
}

// Spoken returns every utterance received so far, in order.
func (f *Fake) Spoken() []Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Utterance(nil), f.spoken...)
}

func (f *Fake) Cancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}
