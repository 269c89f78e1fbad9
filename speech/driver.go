package speech

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf16"

	"phonoloop/log"
)

const (
	DefaultLocale = "de"
	DefaultLang   = "de-DE"

	DefaultLeadIn    = 1500 * time.Millisecond
	DefaultVoiceWait = 1200 * time.Millisecond
	DefaultWarmWait  = 300 * time.Millisecond

	MinRate = 0.3
	MaxRate = 1.4

	warmUpText = "bereit"
)

// Pacing controls how a sequence is rendered.
type Pacing struct {
	Pause time.Duration // silence after each item; 0 skips it
	Rate  float64       // speech rate multiplier
}

type Option func(*Driver)

// WithLocale sets the voice filter prefix (e.g. "de") and the language tag
// attached to every utterance (e.g. "de-DE").
func WithLocale(prefix, lang string) Option {
	return func(d *Driver) {
		d.locale = prefix
		d.lang = lang
	}
}

func WithLeadIn(dur time.Duration) Option {
	return func(d *Driver) { d.leadIn = dur }
}

// WithWaits overrides how long WarmUp waits for the voice list and for the
// priming utterance.
func WithWaits(voices, warm time.Duration) Option {
	return func(d *Driver) {
		d.voiceWait = voices
		d.warmWait = warm
	}
}

// Driver presents sequences through an Engine. A nil engine is allowed: all
// speaking steps then resolve immediately, but lead-in and pauses still run.
type Driver struct {
	engine Engine

	locale    string
	lang      string
	leadIn    time.Duration
	voiceWait time.Duration
	warmWait  time.Duration

	busy atomic.Bool

	mu       sync.Mutex
	warmed   bool
	voices   []Voice
	selected int // index into voices, -1 for none
}

func NewDriver(engine Engine, opts ...Option) *Driver {
	d := &Driver{
		engine:    engine,
		locale:    DefaultLocale,
		lang:      DefaultLang,
		leadIn:    DefaultLeadIn,
		voiceWait: DefaultVoiceWait,
		warmWait:  DefaultWarmWait,
		selected:  -1,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Driver) Supported() bool { return d.engine != nil }

// Busy is true for the whole of a Present call.
func (d *Driver) Busy() bool { return d.busy.Load() }

// WarmUp waits for the engine's voice list (bounded), records the locale
// voices, selects the first one if nothing is selected yet and speaks a
// silent priming utterance. Repeated calls redo the bounded waits but never
// change an existing selection.
func (d *Driver) WarmUp(ctx context.Context) {
	if d.engine == nil {
		return
	}

	if len(d.engine.Voices()) == 0 {
		t := time.NewTimer(d.voiceWait)
		select {
		case <-d.engine.VoicesChanged():
		case <-t.C:
		case <-ctx.Done():
		}
		t.Stop()
	}

	usable := FilterLocale(d.engine.Voices(), d.locale)
	d.mu.Lock()
	d.voices = usable
	if d.selected < 0 && len(usable) > 0 {
		d.selected = 0
	}
	if d.selected >= len(usable) {
		d.selected = -1
	}
	first := !d.warmed
	d.warmed = true
	d.mu.Unlock()

	if first {
		log.Info(fmt.Sprintf("speech warm-up: %d %s voices", len(usable), d.locale))
	}

	done, err := d.engine.Speak(Utterance{
		Text:   warmUpText,
		Lang:   d.lang,
		Rate:   1.0,
		Volume: 0,
		Pitch:  1,
	})
	if err != nil {
		return
	}
	waitBounded(ctx, done, d.warmWait)
}

// Voices returns the locale voices found by the last WarmUp.
func (d *Driver) Voices() []Voice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Voice(nil), d.voices...)
}

// Selected returns the index of the selected voice, or -1.
func (d *Driver) Selected() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected
}

// SelectVoice picks voices[i]. Out-of-range indices clear the selection.
func (d *Driver) SelectVoice(i int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.voices) {
		d.selected = -1
		return
	}
	d.selected = i
}

// SelectVoiceByName selects the first locale voice whose ID or name equals
// name (case-insensitive). It reports whether one was found.
func (d *Driver) SelectVoiceByName(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range d.voices {
		if strings.EqualFold(v.ID, name) || strings.EqualFold(v.Name, name) {
			d.selected = i
			return true
		}
	}
	return false
}

func (d *Driver) voiceForItem() *Voice {
	d.mu.Lock()
	if len(d.voices) > 0 && d.selected >= 0 {
		v := d.voices[d.selected]
		d.mu.Unlock()
		return &v
	}
	d.mu.Unlock()
	for _, v := range d.engine.Voices() {
		if MatchesLocale(v, d.locale) {
			return &v
		}
	}
	return nil
}

// Present cancels pending speech, waits the lead-in, then speaks every item
// in order, each followed by the configured pause. It returns ctx.Err() if
// ctx is cancelled before the sequence finishes.
func (d *Driver) Present(ctx context.Context, items []string, p Pacing) error {
	d.busy.Store(true)
	defer d.busy.Store(false)

	if d.engine != nil {
		d.engine.Cancel()
	}

	if err := sleep(ctx, d.leadIn); err != nil {
		return err
	}
	for _, item := range items {
		d.speakItem(ctx, item, p.Rate)
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Pause > 0 {
			if err := sleep(ctx, p.Pause); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Driver) speakItem(ctx context.Context, text string, rate float64) {
	if d.engine == nil {
		return
	}
	r := ItemRate(text, rate)
	done, err := d.engine.Speak(Utterance{
		Text:   text,
		Lang:   d.lang,
		Voice:  d.voiceForItem(),
		Rate:   r,
		Volume: 1,
		Pitch:  1,
	})
	if err != nil {
		log.Warnf("speak %q: %v", text, err)
		return
	}
	waitBounded(ctx, done, UtteranceTimeout(text, r))
}

// ItemRate returns the rate used for text: "ba" is spoken slightly slower,
// never below MinRate. A non-positive rate means 1.0.
func ItemRate(text string, rate float64) float64 {
	if rate <= 0 {
		rate = 1.0
	}
	if strings.ToLower(text) == "ba" {
		return math.Max(MinRate, rate-0.1)
	}
	return rate
}

// UtteranceTimeout bounds the wait for one utterance:
// max(800, min(2500, round((n+2) * 900 / rate))) milliseconds, where n is the
// length of text in UTF-16 code units.
func UtteranceTimeout(text string, rate float64) time.Duration {
	if rate <= 0 {
		rate = 1.0
	}
	ms := math.Round(float64(len(utf16.Encode([]rune(text)))+2) * (900 / rate))
	ms = math.Max(800, math.Min(2500, ms))
	return time.Duration(ms) * time.Millisecond
}

func waitBounded(ctx context.Context, done <-chan struct{}, limit time.Duration) {
	t := time.NewTimer(limit)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
	case <-ctx.Done():
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
