package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"phonoloop/beep"
	"phonoloop/log"
	"phonoloop/report"
	"phonoloop/results"
	"phonoloop/speech"
	"phonoloop/trial"
)

// printSink writes one line per session event, for scripts driving -test.
type printSink struct {
	out io.Writer
}

func (p printSink) Session(ev trial.Event) {
	s := ev.Snapshot
	switch ev.Kind {
	case trial.PresentationStarted:
		fmt.Fprintf(p.out, "PRESENTING %s %d\n", s.Task, s.Length)
	case trial.RecallStarted:
		fmt.Fprintf(p.out, "RECALL %s\n", strings.Join(s.Sequence, " "))
	case trial.Aborted:
		fmt.Fprintln(p.out, "ABORTED")
	case trial.TaskChanged:
		fmt.Fprintf(p.out, "TASK %s\n", s.Task)
	case trial.Evaluated:
		r := ev.Record
		fmt.Fprintf(p.out, "RESULT %s correct=%t length=%d next=%d\n", r.Test, r.Correct, r.Length, s.Length)
	}
}

// runTestMode drives a session from stdin with a silent speech engine.
// Commands, one per line:
//
//	START | ECHO | INPUT <item> | SUBMIT <text> | TASK <task> | COND short|long
//	RATE <x> | PAUSE <ms> | NAME <text> | FEEDBACK <text> | SEND | STATE
//	SLEEP <ms> | QUIT
//
// ECHO answers the current recall correctly.
func runTestMode(ctx context.Context, in io.Reader, out io.Writer, m *trial.Machine, client *report.Client) {
	beep.Disable()
	defer attach(m, printSink{out: out})()

	s := m.Snapshot()
	log.SessionStart("fake", "", s.Rate, int(s.Pause/time.Millisecond))

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		switch strings.ToUpper(cmd) {
		case "":
		case "START":
			if !m.Start(ctx) {
				fmt.Fprintln(out, "IGNORED")
			}
		case "ECHO":
			echo(m)
		case "INPUT":
			m.Input(arg)
		case "SUBMIT":
			m.Submit(arg)
		case "TASK":
			m.SelectTask(results.Task(strings.ToLower(arg)))
		case "COND":
			m.SetCondition(results.Condition(strings.ToLower(arg)))
		case "RATE":
			if r, err := strconv.ParseFloat(arg, 64); err == nil {
				m.SetRate(r)
			}
		case "PAUSE":
			if ms, err := strconv.Atoi(arg); err == nil {
				m.SetPause(time.Duration(ms) * time.Millisecond)
			}
		case "NAME":
			m.SetName(arg)
		case "FEEDBACK":
			m.SetFeedback(arg)
		case "SEND":
			if _, err := submitFeedback(ctx, client, m); err != nil {
				fmt.Fprintf(out, "SEND fail: %v\n", err)
			} else {
				fmt.Fprintln(out, "SEND ok")
			}
		case "STATE":
			s := m.Snapshot()
			fmt.Fprintf(out, "STATE %s %s length=%d trials=%d rate=%.1f pause=%d\n",
				s.Task, s.Phase, s.Length, s.Trials, s.Rate, s.Pause.Milliseconds())
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "QUIT":
			endSession(m)
			return
		default:
			fmt.Fprintf(out, "UNKNOWN %s\n", cmd)
		}
	}
	endSession(m)
}

func echo(m *trial.Machine) {
	s := m.Snapshot()
	if s.Phase != trial.Recall {
		return
	}
	if trial.ModeFor(s.Task) == trial.Text {
		m.Submit(strings.Join(s.Sequence, ", "))
		return
	}
	for _, item := range s.Sequence[len(s.Response):] {
		m.Input(item)
	}
}

func endSession(m *trial.Machine) {
	s := m.Snapshot()
	correct := 0
	for _, n := range s.Summary {
		correct += n
	}
	log.SessionEnd(s.Trials, correct)
}

func newTestDriver(leadIn time.Duration) *speech.Driver {
	engine := speech.NewFake(speech.Voice{ID: "de", Name: "Test", Lang: "de-DE"})
	return speech.NewDriver(engine, speech.WithLeadIn(leadIn), speech.WithWaits(10*time.Millisecond, 10*time.Millisecond))
}
