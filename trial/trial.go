// Package trial runs the present → recall → score cycle of the three
// phonological-loop tasks and keeps the session state they share.
package trial

import (
	"regexp"
	"strings"

	"phonoloop/results"
	"phonoloop/sequence"
)

// BaselineLength is the sequence length every task starts from and falls
// back to after a miss.
const BaselineLength = 2

type Phase int

const (
	Idle Phase = iota
	Presenting
	Recall
	Feedback
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Presenting:
		return "presenting"
	case Recall:
		return "recall"
	case Feedback:
		return "feedback"
	}
	return "unknown"
}

// InputMode is how a task collects its response during recall.
type InputMode int

const (
	// Buttons: one input per expected item, picked from the task's pool.
	Buttons InputMode = iota
	// Text: a single delimited free-text submission.
	Text
)

func ModeFor(t results.Task) InputMode {
	if t == results.WordLength {
		return Text
	}
	return Buttons
}

// Pool returns the item pool for a task. The condition only matters for the
// word-length task.
func Pool(t results.Task, c results.Condition) []string {
	switch t {
	case results.Digits:
		return sequence.Digits
	case results.Syllables:
		return sequence.Syllables
	}
	if c == results.Long {
		return sequence.LongWords
	}
	return sequence.ShortWords
}

var separators = regexp.MustCompile(`[\s,;]+`)

// Parse splits free text on runs of whitespace, commas and semicolons and
// drops empty tokens. The result is never nil.
func Parse(text string) []string {
	out := []string{}
	for _, tok := range separators.Split(text, -1) {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Score reports whether response matches target position by position,
// ignoring case.
func Score(target, response []string) bool {
	if len(target) != len(response) {
		return false
	}
	for i := range target {
		if strings.ToLower(response[i]) != strings.ToLower(target[i]) {
			return false
		}
	}
	return true
}

// NextLength is the adaptive rule: one longer after a hit, back to baseline
// after a miss.
func NextLength(current int, correct bool) int {
	if correct {
		return current + 1
	}
	return BaselineLength
}
