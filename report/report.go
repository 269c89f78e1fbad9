// Package report sends a session's results and free-text feedback to the
// feedback sink.
package report

import (
	"strings"
	"time"

	"phonoloop/results"
)

// Path is where the sink accepts submissions.
const Path = "/api/log-feedback"

// Payload is the submission document. Absent name or feedback serialize as
// null.
type Payload struct {
	Name      *string          `json:"name"`
	Feedback  *string          `json:"feedback"`
	Results   []results.Record `json:"results" validate:"dive"`
	CreatedAt time.Time        `json:"createdAt"`
}

// NewPayload builds a submission. Blank name or feedback become null; a nil
// history becomes an empty list.
func NewPayload(name, feedback string, recs []results.Record, now time.Time) Payload {
	if recs == nil {
		recs = []results.Record{}
	}
	return Payload{
		Name:      optional(name),
		Feedback:  optional(feedback),
		Results:   recs,
		CreatedAt: now.UTC(),
	}
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// Ack is the sink's answer.
type Ack struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}
