package main

import (
	"context"
	"time"

	"phonoloop/beep"
	"phonoloop/log"
	"phonoloop/report"
	"phonoloop/results"
	"phonoloop/trial"
)

// EventSink abstracts the display layer so both the Bubble Tea TUI and the
// headless test mode receive the same session events.
type EventSink interface {
	Session(ev trial.Event)
}

// attach logs and cues every machine event and forwards it to sink.
func attach(m *trial.Machine, sink EventSink) func() {
	return m.Subscribe(func(ev trial.Event) {
		s := ev.Snapshot
		switch ev.Kind {
		case trial.PresentationStarted:
			log.Info("presentation_start: " + string(s.Task))
		case trial.RecallStarted:
			beep.PlayRecall()
		case trial.Aborted:
			log.Warn("presentation_aborted")
		case trial.TaskChanged:
			log.Info("task_changed: " + string(s.Task))
		case trial.Evaluated:
			if ev.Record != nil {
				logTrial(*ev.Record, s)
				beep.PlayOutcome(ev.Record.Correct)
			}
		}
		if sink != nil {
			sink.Session(ev)
		}
	})
}

func logTrial(r results.Record, s trial.Snapshot) {
	d := -1.0
	if r.Duration != nil {
		d = *r.Duration
	}
	voice := ""
	if s.Voice >= 0 && s.Voice < len(s.Voices) {
		voice = s.Voices[s.Voice].ID
	}
	log.Trial(log.TrialData{
		Test:      string(r.Test),
		Condition: string(r.Condition),
		Length:    r.Length,
		Correct:   r.Correct,
		DurationS: d,
		Rate:      s.Rate,
		PauseMs:   int(s.Pause / time.Millisecond),
		Voice:     voice,
	})
	log.TrialText(string(r.Test), r.Length, r.Correct, r.Target, r.Response)
}

// submitFeedback sends the session once. A nil client means no sink is
// configured.
func submitFeedback(ctx context.Context, client *report.Client, m *trial.Machine) (report.Ack, error) {
	if client == nil {
		return report.Ack{}, errNoSink
	}
	s := m.Snapshot()
	p := report.NewPayload(s.Name, s.Feedback, m.Records(), time.Now())
	ack, metrics, err := client.Submit(ctx, p)
	detail := ack.ID
	if err != nil {
		detail = err.Error()
	}
	log.Submission(err == nil, len(p.Results), float64(metrics.Total.Microseconds())/1000, detail)
	return ack, err
}
