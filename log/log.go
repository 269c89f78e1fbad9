package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog     zerolog.Logger
	diagFile    *os.File
	resultsFile *os.File
	logMu       sync.Mutex
	logReady    bool
	pid         int
	dir         string
)

const (
	DiagnosticsFile = "diagnostics_log.txt"
	ResultsFile     = "results_log.txt"
	FeedbackFile    = "feedback_log.txt"
)

// TrialData is what gets recorded for every evaluated trial.
type TrialData struct {
	Test      string
	Condition string
	Length    int
	Correct   bool
	DurationS float64 // negative when unknown
	Rate      float64
	PauseMs   int
	Voice     string
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: PHONOLOOP_LOG_PATH environment variable
	if envPath := os.Getenv("PHONOLOOP_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

// OpenAppend opens name inside the log directory for appending.
func OpenAppend(name string) (*os.File, error) {
	if err := EnsureDir(); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	pid = os.Getpid()

	var err error
	diagFile, err = OpenAppend(DiagnosticsFile)
	if err != nil {
		return err
	}
	resultsFile, err = OpenAppend(ResultsFile)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if resultsFile != nil {
		resultsFile.Close()
		resultsFile = nil
	}
	logReady = false
}

// Logger returns the diagnostics logger, or a disabled one before Init.
func Logger() zerolog.Logger {
	if !logReady {
		return zerolog.Nop()
	}
	return diagLog
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Trial(d TrialData) {
	if !logReady {
		return
	}
	ev := diagLog.Info().
		Str("test", d.Test).
		Int("length", d.Length).
		Bool("correct", d.Correct)
	if d.Condition != "" {
		ev = ev.Str("condition", d.Condition)
	}
	if d.DurationS >= 0 {
		ev = ev.Float64("duration_s", d.DurationS)
	}
	if d.Voice != "" {
		ev = ev.Str("voice", d.Voice)
	}
	ev.Float64("rate", d.Rate).
		Int("pause_ms", d.PauseMs).
		Msg("trial")
}

// TrialText appends one tab-separated line per trial to results_log.txt:
// time, [pid], test, length, ok|miss, target, response.
func TrialText(test string, length int, correct bool, target, response []string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	outcome := "miss"
	if correct {
		outcome = "ok"
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\t%d\t%s\t%s\t%s\n",
		time.Now().Format("2006-01-02 15:04:05"), pid, test, length, outcome,
		strings.Join(target, " "), strings.Join(response, " "))
	resultsFile.WriteString(line)
}

func Submission(ok bool, results int, latencyMs float64, detail string) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if !ok {
		ev = diagLog.Warn()
	}
	ev.Bool("ok", ok).
		Int("results", results).
		Float64("latency_ms", latencyMs).
		Str("detail", detail).
		Msg("feedback_submit")
}

func SessionStart(engine, voice string, rate float64, pauseMs int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("engine", engine).
		Str("voice", voice).
		Float64("rate", rate).
		Int("pause_ms", pauseMs).
		Msg("session_start")
}

func SessionEnd(trials, correct int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("trials", trials).
		Int("correct", correct).
		Msg("session_end")
}
