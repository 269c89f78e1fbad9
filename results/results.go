package results

import (
	"slices"
	"sync"
)

// MaxRecords bounds the in-session history.
const MaxRecords = 50

type Task string

const (
	Digits     Task = "digits"
	Syllables  Task = "syllables"
	WordLength Task = "wordlength"
)

// Tasks lists the paradigms in display order.
var Tasks = []Task{Digits, Syllables, WordLength}

func (t Task) Label() string {
	switch t {
	case Digits:
		return "Zahlenspanne"
	case Syllables:
		return "Ähnlichkeitseffekt"
	case WordLength:
		return "Wortlängeneffekt"
	}
	return string(t)
}

// Condition selects the word pool of the word-length task.
type Condition string

const (
	Short Condition = "short"
	Long  Condition = "long"
)

// Record is one completed trial. Duration is the recall time in seconds, nil
// when the recall start was never stamped.
type Record struct {
	Test      Task      `json:"test" validate:"required,oneof=digits syllables wordlength"`
	Target    []string  `json:"target"`
	Response  []string  `json:"response"`
	Correct   bool      `json:"correct"`
	Length    int       `json:"length" validate:"gte=0"`
	Condition Condition `json:"condition,omitempty" validate:"omitempty,oneof=short long"`
	Duration  *float64  `json:"duration"`
}

// Log keeps trial records most recent first.
type Log struct {
	mu      sync.Mutex
	records []Record
}

func (l *Log) Add(r Record) {
	if r.Target == nil {
		r.Target = []string{}
	}
	if r.Response == nil {
		r.Response = []string{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = slices.Insert(l.records, 0, r)
	if len(l.records) > MaxRecords {
		l.records = l.records[:MaxRecords]
	}
}

// Records returns a copy of the history, most recent first.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Correct counts correct trials of task t still held in the log.
func (l *Log) Correct(t Task) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.records {
		if r.Test == t && r.Correct {
			n++
		}
	}
	return n
}

// Summary holds per-task correct-trial counts.
type Summary map[Task]int

func (l *Log) Summary() Summary {
	s := make(Summary, len(Tasks))
	for _, t := range Tasks {
		s[t] = l.Correct(t)
	}
	return s
}
