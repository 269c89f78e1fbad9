package trial

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"phonoloop/results"
	"phonoloop/speech"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(1500 * time.Millisecond)
	return c.now
}

// fixedGen returns seqs in order and records the pools it was asked to draw
// from. Past the end it falls back to the first n pool items.
type fixedGen struct {
	mu    sync.Mutex
	seqs  [][]string
	pools [][]string
}

func (g *fixedGen) gen(n int, pool []string, _ *rand.Rand) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pools = append(g.pools, pool)
	if len(g.seqs) > 0 {
		s := g.seqs[0]
		g.seqs = g.seqs[1:]
		return s
	}
	out := make([]string, n)
	for i := range out {
		out[i] = pool[i%len(pool)]
	}
	return out
}

func newDriver(engine speech.Engine, leadIn time.Duration) *speech.Driver {
	return speech.NewDriver(engine,
		speech.WithLeadIn(leadIn),
		speech.WithWaits(10*time.Millisecond, 10*time.Millisecond))
}

func newMachine(t *testing.T, leadIn time.Duration, seqs ...[]string) (*Machine, *fixedGen, *speech.Fake) {
	t.Helper()
	engine := speech.NewFake(speech.Voice{ID: "de", Name: "German", Lang: "de-DE"})
	g := &fixedGen{seqs: seqs}
	clock := &fakeClock{now: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
	m := New(newDriver(engine, leadIn),
		WithGenerator(g.gen),
		WithClock(clock.Now),
		WithPacing(1.0, 0))
	return m, g, engine
}

func runTrial(t *testing.T, m *Machine) {
	t.Helper()
	require.True(t, m.Start(context.Background()))
	require.Equal(t, Recall, m.Snapshot().Phase)
}

func TestDigitSpanScenario(t *testing.T) {
	m, g, engine := newMachine(t, time.Millisecond, []string{"3", "7"})

	runTrial(t, m)
	s := m.Snapshot()
	assert.Equal(t, []string{"3", "7"}, s.Sequence)
	assert.Equal(t, 2, s.Length)

	spoken := engine.Spoken()
	require.Len(t, spoken, 3)
	assert.Equal(t, "bereit", spoken[0].Text)
	assert.Equal(t, "3", spoken[1].Text)
	assert.Equal(t, "7", spoken[2].Text)

	m.Input("3")
	s = m.Snapshot()
	assert.Equal(t, Recall, s.Phase)
	assert.Equal(t, []string{"3"}, s.Response)

	m.Input("7")
	s = m.Snapshot()
	assert.Equal(t, Feedback, s.Phase)
	assert.Equal(t, 3, s.Length)

	recs := m.Records()
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, results.Digits, r.Test)
	assert.True(t, r.Correct)
	assert.Equal(t, 2, r.Length)
	assert.Empty(t, r.Condition)
	require.NotNil(t, r.Duration)
	assert.InDelta(t, 1.5, *r.Duration, 1e-9)
	assert.Equal(t, Pool(results.Digits, ""), g.pools[0])
}

func TestWordLengthFreeTextScenario(t *testing.T) {
	m, g, _ := newMachine(t, time.Millisecond, []string{"Banane", "Melodie"})
	m.SelectTask(results.WordLength)
	m.SetCondition(results.Long)

	runTrial(t, m)
	require.Len(t, g.pools, 1)
	assert.Equal(t, Pool(results.WordLength, results.Long), g.pools[0])

	m.Submit("banane, MELODIE")

	recs := m.Records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Correct)
	assert.Equal(t, []string{"banane", "MELODIE"}, recs[0].Response)
	assert.Equal(t, results.Long, recs[0].Condition)
	assert.Equal(t, 3, m.Snapshot().Length)
}

func TestIncorrectResetsToBaseline(t *testing.T) {
	m, _, _ := newMachine(t, time.Millisecond,
		[]string{"1", "2"}, []string{"1", "2", "3"}, []string{"4", "5", "6", "7"})

	runTrial(t, m)
	m.Input("1")
	m.Input("2")
	runTrial(t, m)
	m.Input("1")
	m.Input("2")
	m.Input("3")
	require.Equal(t, 4, m.Snapshot().Length)

	runTrial(t, m)
	m.Input("4")
	m.Input("5")
	m.Input("7")
	m.Input("6")

	s := m.Snapshot()
	assert.Equal(t, BaselineLength, s.Length)
	assert.Equal(t, Feedback, s.Phase)
	assert.False(t, m.Records()[0].Correct)
	assert.Equal(t, 2, s.Summary[results.Digits])
}

func TestLengthMismatchIsIncorrect(t *testing.T) {
	m, _, _ := newMachine(t, time.Millisecond, []string{"1", "2"}, []string{"1", "2", "3"})
	m.SelectTask(results.WordLength)
	runTrial(t, m)
	m.Submit("1 2")
	runTrial(t, m)
	m.Submit("1 2")

	recs := m.Records()
	require.Len(t, recs, 2)
	assert.False(t, recs[0].Correct)
	assert.Equal(t, []string{"1", "2", "3"}, recs[0].Target)
	assert.True(t, recs[1].Correct)
}

func TestMalformedTextFailsComparison(t *testing.T) {
	m, _, _ := newMachine(t, time.Millisecond, []string{"Hund", "Boot"})
	m.SelectTask(results.WordLength)
	runTrial(t, m)
	m.Submit(" ,;; ")

	recs := m.Records()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Correct)
	assert.Equal(t, []string{}, recs[0].Response)
	assert.Equal(t, Feedback, m.Snapshot().Phase)
}

func TestInputIgnoredOutsideRecall(t *testing.T) {
	m, _, _ := newMachine(t, time.Millisecond, []string{"1", "2"})

	m.Input("1")
	m.Submit("1 2")
	s := m.Snapshot()
	assert.Equal(t, Idle, s.Phase)
	assert.Empty(t, s.Response)
	assert.Empty(t, m.Records())

	runTrial(t, m)
	m.Input("1")
	m.Input("2")
	require.Equal(t, Feedback, m.Snapshot().Phase)

	m.Input("9")
	m.Submit("9 9")
	assert.Len(t, m.Records(), 1)
	assert.Equal(t, []string{"1", "2"}, m.Snapshot().Response)
}

func TestStartIgnoredDuringRecall(t *testing.T) {
	m, _, _ := newMachine(t, time.Millisecond, []string{"1", "2"})
	runTrial(t, m)
	assert.False(t, m.Start(context.Background()))
	assert.Equal(t, []string{"1", "2"}, m.Snapshot().Sequence)
}

func TestStartIgnoredWhilePresenting(t *testing.T) {
	m, _, _ := newMachine(t, 100*time.Millisecond)

	done := make(chan bool, 1)
	go func() { done <- m.Start(context.Background()) }()
	require.Eventually(t, func() bool { return m.Snapshot().Phase == Presenting }, time.Second, time.Millisecond)

	assert.False(t, m.Start(context.Background()))
	assert.True(t, <-done)
}

func TestSelectTaskResetsFromAnyPhase(t *testing.T) {
	m, _, _ := newMachine(t, time.Millisecond, []string{"1", "2"}, []string{"1", "2", "3"})

	runTrial(t, m)
	m.Input("1")
	m.Input("2")
	runTrial(t, m)
	m.Input("1")
	require.Equal(t, 3, len(m.Snapshot().Sequence))

	m.SelectTask(results.Syllables)
	s := m.Snapshot()
	assert.Equal(t, results.Syllables, s.Task)
	assert.Equal(t, Idle, s.Phase)
	assert.Equal(t, BaselineLength, s.Length)
	assert.Empty(t, s.Response)
	assert.Empty(t, s.Sequence)

	m.Input("2")
	assert.Len(t, m.Records(), 1)
}

func TestSelectSameTaskIsNoop(t *testing.T) {
	m, _, _ := newMachine(t, time.Millisecond, []string{"1", "2"})
	runTrial(t, m)
	m.Input("1")

	var events int
	unsub := m.Subscribe(func(Event) { events++ })
	defer unsub()

	m.SelectTask(results.Digits)
	s := m.Snapshot()
	assert.Equal(t, Recall, s.Phase)
	assert.Equal(t, []string{"1"}, s.Response)
	assert.Zero(t, events)
}

func TestTaskChangeDuringPresentation(t *testing.T) {
	m, _, engine := newMachine(t, 150*time.Millisecond, []string{"1", "2"}, []string{"Bein", "Wein"})

	done := make(chan bool, 1)
	go func() { done <- m.Start(context.Background()) }()
	require.Eventually(t, func() bool { return m.Snapshot().Busy }, time.Second, time.Millisecond)

	m.SelectTask(results.Syllables)
	assert.Equal(t, Idle, m.Snapshot().Phase)

	// The old presentation still owns the speech channel.
	assert.False(t, m.Start(context.Background()))

	assert.False(t, <-done)
	s := m.Snapshot()
	assert.Equal(t, Idle, s.Phase)
	assert.Equal(t, results.Syllables, s.Task)
	assert.Empty(t, m.Records())

	runTrial(t, m)
	assert.Equal(t, []string{"Bein", "Wein"}, m.Snapshot().Sequence)
	assert.NotEmpty(t, engine.Spoken())
}

func TestTaskChangeDuringWarmUp(t *testing.T) {
	// No voices yet: warm-up waits out the full voice timeout before speaking.
	engine := speech.NewFake()
	driver := speech.NewDriver(engine,
		speech.WithLeadIn(time.Millisecond),
		speech.WithWaits(300*time.Millisecond, 10*time.Millisecond))
	m := New(driver, WithGenerator((&fixedGen{}).gen), WithPacing(1.0, 0))

	var mu sync.Mutex
	var kinds []EventKind
	unsub := m.Subscribe(func(e Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	})
	defer unsub()

	done := make(chan bool, 1)
	go func() { done <- m.Start(context.Background()) }()
	require.Eventually(t, func() bool { return m.Snapshot().Phase == Presenting }, time.Second, time.Millisecond)
	require.False(t, driver.Busy())

	m.SelectTask(results.Syllables)
	s := m.Snapshot()
	assert.Equal(t, Idle, s.Phase)
	assert.True(t, s.Busy)
	assert.False(t, m.Start(context.Background()))

	assert.False(t, <-done)
	assert.False(t, m.Snapshot().Busy)
	mu.Lock()
	assert.Equal(t, []EventKind{PresentationStarted, TaskChanged, Aborted}, kinds)
	mu.Unlock()

	runTrial(t, m)
	assert.Equal(t, results.Syllables, m.Snapshot().Task)
}

func TestCancelledPresentationReturnsToIdle(t *testing.T) {
	m, _, _ := newMachine(t, time.Second)

	var kinds []EventKind
	var mu sync.Mutex
	m.Subscribe(func(e Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, m.Start(ctx))
	assert.Equal(t, Idle, m.Snapshot().Phase)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventKind{PresentationStarted, Aborted}, kinds)
}

func TestConditionChangeKeepsTrial(t *testing.T) {
	m, _, _ := newMachine(t, time.Millisecond, []string{"Hund", "Boot"})
	m.SelectTask(results.WordLength)
	runTrial(t, m)

	m.ToggleCondition()
	s := m.Snapshot()
	assert.Equal(t, results.Long, s.Condition)
	assert.Equal(t, Recall, s.Phase)

	m.Submit("Hund Boot")
	recs := m.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, results.Long, recs[0].Condition)
}

func TestHistoryCapThroughMachine(t *testing.T) {
	m, _, _ := newMachine(t, 0)
	for i := 0; i < results.MaxRecords+1; i++ {
		runTrial(t, m)
		m.Input("x")
		m.Input("x")
	}
	assert.Len(t, m.Records(), results.MaxRecords)
	s := m.Snapshot()
	assert.Equal(t, results.MaxRecords, s.Trials)
	assert.Zero(t, s.Summary[results.Digits])
	assert.Equal(t, BaselineLength, s.Length)
}

func TestEventsAndUnsubscribe(t *testing.T) {
	m, _, _ := newMachine(t, time.Millisecond, []string{"1", "2"}, []string{"1", "2"})

	var got []Event
	unsub := m.Subscribe(func(e Event) { got = append(got, e) })

	runTrial(t, m)
	m.Input("1")
	m.Input("2")

	require.Len(t, got, 4)
	assert.Equal(t, PresentationStarted, got[0].Kind)
	assert.Equal(t, Presenting, got[0].Snapshot.Phase)
	assert.Equal(t, RecallStarted, got[1].Kind)
	assert.Equal(t, InputReceived, got[2].Kind)
	assert.Equal(t, Evaluated, got[3].Kind)
	require.NotNil(t, got[3].Record)
	assert.True(t, got[3].Record.Correct)
	assert.Equal(t, Feedback, got[3].Snapshot.Phase)

	unsub()
	m.SetName("Anna")
	assert.Len(t, got, 4)
}

func TestSettings(t *testing.T) {
	m, _, _ := newMachine(t, time.Millisecond)

	m.SetRate(2.0)
	assert.Equal(t, speech.MaxRate, m.Snapshot().Rate)
	m.SetRate(0.1)
	assert.Equal(t, speech.MinRate, m.Snapshot().Rate)
	m.SetRate(1.1)
	assert.Equal(t, 1.1, m.Snapshot().Rate)

	m.SetPause(3 * time.Second)
	assert.Equal(t, MaxPause, m.Snapshot().Pause)
	m.SetPause(-time.Second)
	assert.Equal(t, time.Duration(0), m.Snapshot().Pause)

	m.SetName("Anna")
	m.SetFeedback("zu schnell")
	s := m.Snapshot()
	assert.Equal(t, "Anna", s.Name)
	assert.Equal(t, "zu schnell", s.Feedback)
}

func TestVoiceSelection(t *testing.T) {
	engine := speech.NewFake(
		speech.Voice{ID: "de", Name: "German", Lang: "de-DE"},
		speech.Voice{ID: "de-ch", Name: "Swiss", Lang: "de-CH"},
		speech.Voice{ID: "en", Name: "English", Lang: "en-GB"},
	)
	m := New(newDriver(engine, 0))
	assert.Equal(t, -1, m.Snapshot().Voice)

	runTrial(t, m)
	s := m.Snapshot()
	assert.Len(t, s.Voices, 2)
	assert.Equal(t, 0, s.Voice)

	m.CycleVoice()
	assert.Equal(t, 1, m.Snapshot().Voice)
	m.CycleVoice()
	assert.Equal(t, 0, m.Snapshot().Voice)
}

func TestSnapshotIsACopy(t *testing.T) {
	m, _, _ := newMachine(t, time.Millisecond, []string{"1", "2"})
	runTrial(t, m)
	m.Input("1")

	s := m.Snapshot()
	s.Sequence[0] = "9"
	s.Response[0] = "9"

	s = m.Snapshot()
	assert.Equal(t, "1", s.Sequence[0])
	assert.Equal(t, "1", s.Response[0])
}

func TestDefaultGeneratorDrawsFromPool(t *testing.T) {
	m := New(newDriver(speech.NewFake(), 0), WithRand(rand.New(rand.NewPCG(1, 2))))
	m.SelectTask(results.Syllables)
	runTrial(t, m)
	seq := m.Snapshot().Sequence
	require.Len(t, seq, BaselineLength)
	for _, item := range seq {
		assert.Contains(t, Pool(results.Syllables, ""), item)
	}
	assert.NotEqual(t, seq[0], seq[1])
}
