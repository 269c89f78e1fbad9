package trial

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"phonoloop/results"
	"phonoloop/sequence"
	"phonoloop/speech"
)

const (
	DefaultRate  = 1.0
	DefaultPause = 400 * time.Millisecond
	MaxPause     = 1500 * time.Millisecond
)

// Presenter renders a sequence. *speech.Driver is the production
// implementation.
type Presenter interface {
	WarmUp(ctx context.Context)
	Present(ctx context.Context, items []string, p speech.Pacing) error
	Busy() bool
	Voices() []speech.Voice
	Selected() int
	SelectVoice(i int)
}

type EventKind int

const (
	PresentationStarted EventKind = iota
	RecallStarted
	Evaluated
	Aborted // presentation ended without reaching recall
	TaskChanged
	InputReceived
	SettingsChanged
)

// Event is delivered to subscribers after each state change. Record is set
// for Evaluated only.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	Record   *results.Record
}

// Snapshot is a copy of the session state; it shares nothing with the
// machine.
type Snapshot struct {
	Task      results.Task
	Condition results.Condition
	Phase     Phase
	Length    int // length of the next (or current) trial
	Sequence  []string
	Response  []string
	Rate      float64
	Pause     time.Duration
	Voices    []speech.Voice
	Voice     int
	Name      string
	Feedback  string
	Busy      bool
	Summary   results.Summary
	Trials    int
}

type Option func(*Machine)

func WithRand(r *rand.Rand) Option {
	return func(m *Machine) { m.rng = r }
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithGenerator replaces sequence.Make as the source of trial sequences.
func WithGenerator(gen func(n int, pool []string, rng *rand.Rand) []string) Option {
	return func(m *Machine) { m.gen = gen }
}

func WithLog(l *results.Log) Option {
	return func(m *Machine) { m.log = l }
}

func WithPacing(rate float64, pause time.Duration) Option {
	return func(m *Machine) {
		m.rate = ClampRate(rate)
		m.pause = ClampPause(pause)
	}
}

// Machine owns the session state. All exported methods are safe for
// concurrent use; Start blocks for the length of the presentation.
type Machine struct {
	presenter Presenter
	rng       *rand.Rand
	gen       func(n int, pool []string, rng *rand.Rand) []string
	now       func() time.Time
	log       *results.Log

	mu          sync.Mutex
	task        results.Task
	condition   results.Condition
	phase       Phase
	length      int
	seq         []string
	response    []string
	recallStart time.Time
	epoch       uint64
	running     bool // a Start call is in flight
	rate        float64
	pause       time.Duration
	name        string
	feedback    string

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

func New(p Presenter, opts ...Option) *Machine {
	m := &Machine{
		presenter: p,
		gen:       sequence.Make,
		now:       time.Now,
		log:       &results.Log{},
		task:      results.Digits,
		condition: results.Short,
		phase:     Idle,
		length:    BaselineLength,
		rate:      DefaultRate,
		pause:     DefaultPause,
		subs:      make(map[int]func(Event)),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it. fn runs on the goroutine that caused the change.
func (m *Machine) Subscribe(fn func(Event)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Machine) emit(kind EventKind, rec *results.Record) {
	ev := Event{Kind: kind, Snapshot: m.Snapshot(), Record: rec}
	m.subMu.Lock()
	fns := make([]func(Event), 0, len(m.subs))
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, m.subs[id])
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	running := m.running
	s := Snapshot{
		Task:      m.task,
		Condition: m.condition,
		Phase:     m.phase,
		Length:    m.length,
		Sequence:  slices.Clone(m.seq),
		Response:  slices.Clone(m.response),
		Rate:      m.rate,
		Pause:     m.pause,
		Name:      m.name,
		Feedback:  m.feedback,
	}
	m.mu.Unlock()
	s.Voices = m.presenter.Voices()
	s.Voice = m.presenter.Selected()
	s.Busy = running || m.presenter.Busy()
	s.Summary = m.log.Summary()
	s.Trials = m.log.Len()
	return s
}

// Records returns the trial history, most recent first.
func (m *Machine) Records() []results.Record {
	return m.log.Records()
}

// Start runs one trial up to recall: it warms up the presenter, draws a
// sequence for the active task and presents it. It is ignored (returns false)
// unless the phase is idle or feedback and no other trial is warming up or
// presenting. It returns true once recall has begun; false if the
// presentation was cancelled or the task changed meanwhile.
func (m *Machine) Start(ctx context.Context) bool {
	m.mu.Lock()
	if m.running || (m.phase != Idle && m.phase != Feedback) || m.presenter.Busy() {
		m.mu.Unlock()
		return false
	}
	seq := m.gen(m.length, Pool(m.task, m.condition), m.rng)
	m.seq = seq
	m.response = nil
	m.recallStart = time.Time{}
	m.phase = Presenting
	m.running = true
	m.epoch++
	epoch := m.epoch
	pacing := speech.Pacing{Pause: m.pause, Rate: m.rate}
	m.mu.Unlock()
	m.emit(PresentationStarted, nil)

	m.presenter.WarmUp(ctx)
	err := m.presenter.Present(ctx, slices.Clone(seq), pacing)

	m.mu.Lock()
	m.running = false
	if m.epoch != epoch {
		m.mu.Unlock()
		m.emit(Aborted, nil)
		return false
	}
	if err != nil {
		m.phase = Idle
		m.mu.Unlock()
		m.emit(Aborted, nil)
		return false
	}
	m.phase = Recall
	m.recallStart = m.now()
	m.mu.Unlock()
	m.emit(RecallStarted, nil)
	return true
}

// Input adds one discrete response item. Evaluation happens when the
// response reaches the target length. Ignored outside recall.
func (m *Machine) Input(item string) {
	m.mu.Lock()
	if m.phase != Recall {
		m.mu.Unlock()
		return
	}
	m.response = append(m.response, item)
	if len(m.response) < len(m.seq) {
		m.mu.Unlock()
		m.emit(InputReceived, nil)
		return
	}
	rec := m.evaluateLocked(m.response)
	m.mu.Unlock()
	m.emit(Evaluated, &rec)
}

// Submit evaluates a free-text response. Ignored outside recall.
func (m *Machine) Submit(text string) {
	m.mu.Lock()
	if m.phase != Recall {
		m.mu.Unlock()
		return
	}
	rec := m.evaluateLocked(Parse(text))
	m.mu.Unlock()
	m.emit(Evaluated, &rec)
}

func (m *Machine) evaluateLocked(resp []string) results.Record {
	target := slices.Clone(m.seq)
	if target == nil {
		target = []string{}
	}
	resp = slices.Clone(resp)
	if resp == nil {
		resp = []string{}
	}
	correct := Score(target, resp)

	rec := results.Record{
		Test:     m.task,
		Target:   target,
		Response: resp,
		Correct:  correct,
		Length:   len(target),
	}
	if m.task == results.WordLength {
		rec.Condition = m.condition
	}
	if !m.recallStart.IsZero() {
		d := m.now().Sub(m.recallStart).Seconds()
		rec.Duration = &d
	}

	m.log.Add(rec)
	m.response = resp
	m.length = NextLength(m.length, correct)
	m.phase = Feedback
	return rec
}

// SelectTask switches the active task. Any trial in flight is dropped on the
// spot: phase returns to idle, the length to baseline and the response is
// discarded. Selecting the active task does nothing.
func (m *Machine) SelectTask(t results.Task) {
	m.mu.Lock()
	if t == m.task {
		m.mu.Unlock()
		return
	}
	m.task = t
	m.phase = Idle
	m.length = BaselineLength
	m.seq = nil
	m.response = nil
	m.recallStart = time.Time{}
	m.epoch++
	m.mu.Unlock()
	m.emit(TaskChanged, nil)
}

// NextTask cycles through results.Tasks.
func (m *Machine) NextTask() {
	m.mu.Lock()
	cur := m.task
	m.mu.Unlock()
	i := slices.Index(results.Tasks, cur)
	m.SelectTask(results.Tasks[(i+1)%len(results.Tasks)])
}

// SetCondition picks the word pool for the next word-length trial.
func (m *Machine) SetCondition(c results.Condition) {
	m.update(func() { m.condition = c })
}

func (m *Machine) ToggleCondition() {
	m.update(func() {
		if m.condition == results.Short {
			m.condition = results.Long
		} else {
			m.condition = results.Short
		}
	})
}

func (m *Machine) SetRate(r float64) {
	m.update(func() { m.rate = ClampRate(r) })
}

func (m *Machine) SetPause(d time.Duration) {
	m.update(func() { m.pause = ClampPause(d) })
}

func (m *Machine) SetName(name string) {
	m.update(func() { m.name = name })
}

func (m *Machine) SetFeedback(text string) {
	m.update(func() { m.feedback = text })
}

// SelectVoice selects the i-th locale voice; out of range clears the choice.
func (m *Machine) SelectVoice(i int) {
	m.presenter.SelectVoice(i)
	m.emit(SettingsChanged, nil)
}

// CycleVoice moves to the next known voice, wrapping around.
func (m *Machine) CycleVoice() {
	n := len(m.presenter.Voices())
	if n == 0 {
		return
	}
	m.SelectVoice((m.presenter.Selected() + 1) % n)
}

func (m *Machine) update(fn func()) {
	m.mu.Lock()
	fn()
	m.mu.Unlock()
	m.emit(SettingsChanged, nil)
}

func ClampRate(r float64) float64 {
	if math.IsNaN(r) || r == 0 {
		return DefaultRate
	}
	return math.Max(speech.MinRate, math.Min(speech.MaxRate, r))
}

func ClampPause(d time.Duration) time.Duration {
	return max(0, min(MaxPause, d))
}
