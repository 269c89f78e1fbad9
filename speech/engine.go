// Package speech drives spoken presentation of stimulus sequences.
//
// An Engine is the speech output channel: it enumerates voices and speaks one
// utterance at a time. The Driver owns an Engine and layers pacing, voice
// choice, warm-up and bounded waits on top of it.
package speech

import (
	"errors"
	"strings"
)

var ErrNoEngine = errors.New("speech: no synthesis engine available")

type Voice struct {
	ID   string // engine-specific identifier
	Name string
	Lang string // BCP 47-ish tag, e.g. "de" or "de-DE"
}

func (v Voice) String() string {
	return v.Name + " (" + v.Lang + ")"
}

// Utterance is a single speak request. Rate, Volume and Pitch are
// multipliers around 1.0 (Volume is clamped to [0,1] by engines).
type Utterance struct {
	Text   string
	Lang   string
	Voice  *Voice
	Rate   float64
	Volume float64
	Pitch  float64
}

type Engine interface {
	// Voices returns the voices known so far. The list may be empty until
	// VoicesChanged fires.
	Voices() []Voice
	// VoicesChanged is closed once the voice list has been populated.
	VoicesChanged() <-chan struct{}
	// Speak queues u and returns a channel closed when it finishes. Engines
	// are not required to ever close it.
	Speak(u Utterance) (<-chan struct{}, error)
	// Cancel drops in-progress and queued utterances.
	Cancel()
}

// MatchesLocale reports whether v's language tag starts with locale.
func MatchesLocale(v Voice, locale string) bool {
	return strings.HasPrefix(strings.ToLower(v.Lang), strings.ToLower(locale))
}

// FilterLocale returns the voices matching locale, in engine order.
func FilterLocale(voices []Voice, locale string) []Voice {
	var out []Voice
	for _, v := range voices {
		if MatchesLocale(v, locale) {
			out = append(out, v)
		}
	}
	return out
}
