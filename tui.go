package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"phonoloop/report"
	"phonoloop/results"
	"phonoloop/trial"
)

// TUI message types
type SessionMsg trial.Event
type StatusMsg struct{ Text string }
type SubmitDoneMsg struct {
	Ack report.Ack
	Err error
}
type VoicesReadyMsg struct{}

type tuiMode int

const (
	tuiModeMain tuiMode = iota
	tuiModeSummary
	tuiModeName
	tuiModeFeedback
)

const (
	rateStep  = 0.1
	pauseStep = 100 * time.Millisecond
)

type tuiModel struct {
	ctx      context.Context
	machine  *trial.Machine
	reporter *report.Client
	events   <-chan trial.Event
	prepare  func()

	snap       trial.Snapshot
	last       *results.Record
	mode       tuiMode
	status     string
	submitting bool

	spin     spinner.Model
	answer   textinput.Model
	name     textinput.Model
	feedback textarea.Model

	width, height int
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	activeTab     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231")).Background(lipgloss.Color("63")).Padding(0, 1)
	inactiveTab   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	buttonStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	overlayStyle  = lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("205")).Padding(1, 2)
	responseStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
)

// eventBridge queues machine events for the Bubble Tea loop. Machine
// operations invoked from Update emit synchronously, so sending to the
// program directly would block its own event loop.
type eventBridge struct {
	ch chan trial.Event
}

func newEventBridge() *eventBridge {
	return &eventBridge{ch: make(chan trial.Event, 64)}
}

func (b *eventBridge) Session(ev trial.Event) {
	select {
	case b.ch <- ev:
	default:
		// Full: every event carries a complete snapshot, the next one catches up.
	}
}

func waitForEvent(ch <-chan trial.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return SessionMsg(ev)
	}
}

func NewTUIProgram(ctx context.Context, m *trial.Machine, reporter *report.Client, events <-chan trial.Event, prepare func()) *tea.Program {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	answer := textinput.New()
	answer.Placeholder = "z.B. Hund, Boot, Haus"
	answer.CharLimit = 400
	answer.Width = 50

	name := textinput.New()
	name.Placeholder = "Name (optional)"
	name.CharLimit = 80
	name.Width = 40

	fb := textarea.New()
	fb.Placeholder = "Wie lief der Test? Was ist aufgefallen?"
	fb.SetWidth(60)
	fb.SetHeight(6)

	model := tuiModel{
		ctx:      ctx,
		machine:  m,
		reporter: reporter,
		events:   events,
		prepare:  prepare,
		snap:     m.Snapshot(),
		spin:     sp,
		answer:   answer,
		name:     name,
		feedback: fb,
	}
	return tea.NewProgram(model, tea.WithAltScreen())
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (m tuiModel) Init() tea.Cmd {
	cmds := []tea.Cmd{waitForEvent(m.events), m.spin.Tick}
	if m.prepare != nil {
		prepare := m.prepare
		cmds = append(cmds, func() tea.Msg {
			prepare()
			return VoicesReadyMsg{}
		})
	}
	return tea.Batch(cmds...)
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SessionMsg:
		m.applySnapshot(msg.Snapshot)
		if msg.Kind == trial.Evaluated && msg.Record != nil {
			rec := *msg.Record
			m.last = &rec
			m.answer.Reset()
		}
		if msg.Kind == trial.TaskChanged {
			m.last = nil
			m.answer.Reset()
		}
		return m, waitForEvent(m.events)

	case VoicesReadyMsg:
		m.applySnapshot(m.machine.Snapshot())
		if len(m.snap.Voices) == 0 {
			m.status = "Keine deutsche Stimme gefunden"
		}
		return m, nil

	case StatusMsg:
		m.status = msg.Text
		return m, nil

	case SubmitDoneMsg:
		m.submitting = false
		if msg.Err != nil {
			m.status = failStyle.Render("✗ Senden fehlgeschlagen") + dimStyle.Render(" ("+msg.Err.Error()+")")
		} else {
			m.status = okStyle.Render("✓ Feedback gesendet")
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.mode {
		case tuiModeSummary:
			return m.updateSummary(msg)
		case tuiModeName:
			return m.updateName(msg)
		case tuiModeFeedback:
			return m.updateFeedback(msg)
		}
		return m.updateMain(msg)
	}
	return m, nil
}

func (m *tuiModel) applySnapshot(s trial.Snapshot) {
	wasRecall := m.snap.Phase == trial.Recall
	m.snap = s
	if s.Phase == trial.Recall && trial.ModeFor(s.Task) == trial.Text {
		m.answer.Focus()
	} else {
		m.answer.Blur()
	}
	if wasRecall && s.Phase != trial.Recall {
		m.answer.Reset()
	}
}

func (m tuiModel) updateMain(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	// Recall input takes precedence over shortcuts.
	if m.snap.Phase == trial.Recall {
		if key == "tab" {
			m.machine.NextTask()
			m.applySnapshot(m.machine.Snapshot())
			return m, nil
		}
		if trial.ModeFor(m.snap.Task) == trial.Text {
			if key == "enter" {
				m.machine.Submit(m.answer.Value())
				m.applySnapshot(m.machine.Snapshot())
				return m, nil
			}
			var cmd tea.Cmd
			m.answer, cmd = m.answer.Update(msg)
			return m, cmd
		}
		if item, ok := buttonItem(m.snap.Task, key); ok {
			m.machine.Input(item)
			m.applySnapshot(m.machine.Snapshot())
		}
		return m, nil
	}

	switch key {
	case "1", "2", "3":
		i, _ := strconv.Atoi(key)
		m.machine.SelectTask(results.Tasks[i-1])
	case "tab":
		m.machine.NextTask()
	case "c":
		m.machine.ToggleCondition()
	case "enter", "s":
		if m.snap.Phase == trial.Presenting || m.snap.Busy {
			return m, nil
		}
		m.status = ""
		machine, ctx := m.machine, m.ctx
		return m, func() tea.Msg {
			machine.Start(ctx)
			return nil
		}
	case "+", "=":
		m.machine.SetRate(m.snap.Rate + rateStep)
	case "-":
		m.machine.SetRate(m.snap.Rate - rateStep)
	case "]":
		m.machine.SetPause(m.snap.Pause + pauseStep)
	case "[":
		m.machine.SetPause(m.snap.Pause - pauseStep)
	case "v":
		m.machine.CycleVoice()
	case "r":
		m.mode = tuiModeSummary
	case "n":
		m.mode = tuiModeName
		m.name.SetValue(m.snap.Name)
		m.name.CursorEnd()
		return m, m.name.Focus()
	case "f":
		m.mode = tuiModeFeedback
		m.feedback.SetValue(m.snap.Feedback)
		return m, m.feedback.Focus()
	case "p":
		return m.submit()
	case "y":
		m.status = copyResults(m.machine.Records())
	}
	m.applySnapshot(m.machine.Snapshot())
	return m, nil
}

func (m tuiModel) submit() (tea.Model, tea.Cmd) {
	if m.submitting {
		return m, nil
	}
	m.submitting = true
	m.status = dimStyle.Render("Sende Feedback…")
	ctx, client, machine := m.ctx, m.reporter, m.machine
	return m, func() tea.Msg {
		ack, err := submitFeedback(ctx, client, machine)
		return SubmitDoneMsg{Ack: ack, Err: err}
	}
}

func (m tuiModel) updateSummary(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "r", "esc", "q":
		m.mode = tuiModeMain
	case "p":
		m.mode = tuiModeMain
		return m.submit()
	}
	return m, nil
}

func (m tuiModel) updateName(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.machine.SetName(strings.TrimSpace(m.name.Value()))
		m.name.Blur()
		m.mode = tuiModeMain
		m.applySnapshot(m.machine.Snapshot())
		return m, nil
	case "esc":
		m.name.Blur()
		m.mode = tuiModeMain
		return m, nil
	}
	var cmd tea.Cmd
	m.name, cmd = m.name.Update(msg)
	return m, cmd
}

func (m tuiModel) updateFeedback(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+s":
		m.machine.SetFeedback(m.feedback.Value())
		m.feedback.Blur()
		m.mode = tuiModeMain
		m.applySnapshot(m.machine.Snapshot())
		return m, nil
	}
	var cmd tea.Cmd
	m.feedback, cmd = m.feedback.Update(msg)
	return m, cmd
}

// buttonItem maps a key to a response button: digits by value, syllables by
// 1-based position in the pool.
func buttonItem(t results.Task, key string) (string, bool) {
	pool := trial.Pool(t, "")
	if t == results.Digits {
		for _, d := range pool {
			if d == key {
				return d, true
			}
		}
		return "", false
	}
	i, err := strconv.Atoi(key)
	if err != nil || i < 1 || i > len(pool) {
		return "", false
	}
	return pool[i-1], true
}

func copyResults(recs []results.Record) string {
	if recs == nil {
		recs = []results.Record{}
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return failStyle.Render("✗ " + err.Error())
	}
	if err := clipboard.WriteAll(string(data)); err != nil {
		return failStyle.Render("✗ Zwischenablage: " + err.Error())
	}
	return okStyle.Render(fmt.Sprintf("✓ %d Ergebnisse kopiert", len(recs)))
}

func (m tuiModel) View() string {
	switch m.mode {
	case tuiModeSummary:
		return m.viewSummary()
	case tuiModeName:
		return m.frame(titleStyle.Render("Name") + "\n\n" + m.name.View() + "\n\n" +
			helpStyle.Render("enter speichern · esc abbrechen"))
	case tuiModeFeedback:
		return m.frame(titleStyle.Render("Feedback") + "\n\n" + m.feedback.View() + "\n\n" +
			helpStyle.Render("esc speichern"))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("phonoloop") + "  " + m.viewTabs() + "\n\n")

	s := m.snap
	info := fmt.Sprintf("Länge %d", s.Length)
	if s.Task == results.WordLength {
		info += " · Bedingung " + conditionLabel(s.Condition)
	}
	b.WriteString(dimStyle.Render(info) + "\n\n")

	switch s.Phase {
	case trial.Idle:
		b.WriteString("Bereit. " + keyStyle.Render("enter") + helpStyle.Render(" startet einen Durchgang.") + "\n")
	case trial.Presenting:
		b.WriteString(m.spin.View() + " Gut zuhören…\n")
	case trial.Recall:
		b.WriteString(m.viewRecall())
	case trial.Feedback:
		b.WriteString(m.viewOutcome())
	}

	b.WriteString("\n" + m.viewSettings() + "\n")
	if m.status != "" {
		b.WriteString(m.status + "\n")
	}
	b.WriteString("\n" + m.viewHelp())
	return m.frame(b.String())
}

func (m tuiModel) frame(body string) string {
	return lipgloss.NewStyle().Padding(1, 2).Render(body)
}

func (m tuiModel) viewTabs() string {
	tabs := make([]string, len(results.Tasks))
	for i, t := range results.Tasks {
		label := fmt.Sprintf("%d %s", i+1, t.Label())
		if t == m.snap.Task {
			tabs[i] = activeTab.Render(label)
		} else {
			tabs[i] = inactiveTab.Render(label)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m tuiModel) viewRecall() string {
	s := m.snap
	var b strings.Builder
	if trial.ModeFor(s.Task) == trial.Text {
		b.WriteString("Wörter in der gehörten Reihenfolge eingeben:\n\n")
		b.WriteString(m.answer.View() + "\n")
		return b.String()
	}

	b.WriteString(fmt.Sprintf("Antwort %d/%d:\n\n", len(s.Response), len(s.Sequence)))
	pool := trial.Pool(s.Task, "")
	buttons := make([]string, len(pool))
	for i, item := range pool {
		label := item
		if s.Task != results.Digits {
			label = fmt.Sprintf("%d·%s", i+1, item)
		}
		buttons[i] = buttonStyle.Render(label)
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, buttons...) + "\n")
	if len(s.Response) > 0 {
		b.WriteString(responseStyle.Render(strings.Join(s.Response, " ")) + "\n")
	}
	return b.String()
}

func (m tuiModel) viewOutcome() string {
	if m.last == nil {
		return ""
	}
	r := m.last
	var b strings.Builder
	if r.Correct {
		b.WriteString(okStyle.Render("✓ Richtig") + "\n")
	} else {
		b.WriteString(failStyle.Render("✗ Falsch") + "\n")
	}
	b.WriteString(dimStyle.Render("Ziel:    ") + strings.Join(r.Target, " ") + "\n")
	b.WriteString(dimStyle.Render("Antwort: ") + strings.Join(r.Response, " ") + "\n")
	if r.Duration != nil {
		b.WriteString(dimStyle.Render(fmt.Sprintf("Zeit:    %.1f s", *r.Duration)) + "\n")
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("Nächste Länge: %d", m.snap.Length)) + "\n")
	return b.String()
}

func (m tuiModel) viewSettings() string {
	s := m.snap
	voice := "Standard"
	if s.Voice >= 0 && s.Voice < len(s.Voices) {
		voice = s.Voices[s.Voice].String()
	}
	return dimStyle.Render(fmt.Sprintf("Tempo %.1fx · Pause %d ms · Stimme %s",
		s.Rate, s.Pause.Milliseconds(), voice))
}

func (m tuiModel) viewHelp() string {
	pairs := [][2]string{
		{"1/2/3", "Test"}, {"c", "Bedingung"}, {"enter", "Start"},
		{"+/-", "Tempo"}, {"[/]", "Pause"}, {"v", "Stimme"},
		{"r", "Übersicht"}, {"n", "Name"}, {"f", "Feedback"},
		{"p", "Senden"}, {"y", "Kopieren"}, {"ctrl+c", "Ende"},
	}
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = keyStyle.Render(p[0]) + helpStyle.Render(" "+p[1])
	}
	return strings.Join(parts, helpStyle.Render(" · ")) + "\n" + helpStyle.Render("phonoloop "+version)
}

func (m tuiModel) viewSummary() string {
	s := m.snap
	var b strings.Builder
	b.WriteString(titleStyle.Render("Übersicht") + "\n\n")
	for _, t := range results.Tasks {
		b.WriteString(fmt.Sprintf("%-20s %3d richtig\n", t.Label(), s.Summary[t]))
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("\n%d Durchgänge gespeichert (max. %d)", s.Trials, results.MaxRecords)) + "\n")

	recs := m.machine.Records()
	if len(recs) > 0 {
		b.WriteString("\n")
		for i, r := range recs {
			if i == 8 {
				b.WriteString(dimStyle.Render("…") + "\n")
				break
			}
			mark := okStyle.Render("✓")
			if !r.Correct {
				mark = failStyle.Render("✗")
			}
			b.WriteString(fmt.Sprintf("%s %-10s %2d  %s\n", mark, r.Test, r.Length, strings.Join(r.Target, " ")))
		}
	}

	b.WriteString("\n")
	if s.Name != "" {
		b.WriteString(dimStyle.Render("Name: ") + s.Name + "\n")
	}
	if s.Feedback != "" {
		b.WriteString(dimStyle.Render("Feedback:") + "\n" + s.Feedback + "\n")
	} else {
		b.WriteString(dimStyle.Render("Kein Feedback") + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("r schließen · p senden"))
	return m.frame(overlayStyle.Render(b.String()))
}

func conditionLabel(c results.Condition) string {
	if c == results.Long {
		return "lange Wörter"
	}
	return "kurze Wörter"
}
