// Package sink is the HTTP collaborator that receives feedback submissions
// and appends them to a log.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"phonoloop/report"
)

const maxBody = 1 << 20

var validate = validator.New()

// entry is one line of the feedback log.
type entry struct {
	ID         string         `json:"id"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Payload    report.Payload `json:"payload"`
}

type Sink struct {
	mu     sync.Mutex
	out    io.Writer
	logger zerolog.Logger
	now    func() time.Time
}

// New returns a sink appending one JSON line per accepted submission to out.
func New(out io.Writer, logger zerolog.Logger) *Sink {
	return &Sink{out: out, logger: logger, now: time.Now}
}

func (s *Sink) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post(report.Path, s.logFeedback)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			s.logger.Error().Err(err).Msg("health write")
		}
	})
	return r
}

func (s *Sink) logFeedback(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	var p report.Payload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(&p); err != nil {
		s.reject(w, reqID, fmt.Errorf("decode: %w", err))
		return
	}
	if err := validate.Struct(p); err != nil {
		s.reject(w, reqID, fmt.Errorf("validate: %w", err))
		return
	}

	e := entry{ID: uuid.NewString(), ReceivedAt: s.now().UTC(), Payload: p}
	line, err := json.Marshal(e)
	if err != nil {
		s.fail(w, reqID, err)
		return
	}
	s.mu.Lock()
	_, err = s.out.Write(append(line, '\n'))
	s.mu.Unlock()
	if err != nil {
		s.fail(w, reqID, err)
		return
	}

	ev := s.logger.Info().
		Str("req_id", reqID).
		Str("id", e.ID).
		Int("results", len(p.Results))
	if p.Name != nil {
		ev = ev.Str("name", *p.Name)
	}
	ev.Bool("has_feedback", p.Feedback != nil).Msg("feedback_received")

	writeJSON(w, http.StatusOK, report.Ack{OK: true, ID: e.ID})
}

func (s *Sink) reject(w http.ResponseWriter, reqID string, err error) {
	s.logger.Warn().Str("req_id", reqID).Err(err).Msg("feedback_rejected")
	writeJSON(w, http.StatusBadRequest, report.Ack{OK: false, Error: err.Error()})
}

func (s *Sink) fail(w http.ResponseWriter, reqID string, err error) {
	s.logger.Error().Str("req_id", reqID).Err(err).Msg("feedback_store")
	writeJSON(w, http.StatusInternalServerError, report.Ack{OK: false, Error: "storage failure"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Serve runs h on addr until ctx is done, then shuts down gracefully.
// ready, if non-nil, receives the bound address once listening.
func Serve(ctx context.Context, addr string, h http.Handler, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if ready != nil {
		ready(ln.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
