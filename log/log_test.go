package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupLogDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	SetDir(tmp)
	t.Cleanup(func() { Close(); SetDir("") })
	return tmp
}

func TestResolveDirFlag(t *testing.T) {
	got, err := ResolveDir("/tmp/mylog")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/mylog" {
		t.Errorf("got %q, want /tmp/mylog", got)
	}
}

func TestResolveDirFlagRelative(t *testing.T) {
	got, err := ResolveDir("logs")
	if err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(wd, "logs")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveDirEnv(t *testing.T) {
	t.Setenv("PHONOLOOP_LOG_PATH", "/tmp/phonoloop-env-log")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/phonoloop-env-log" {
		t.Errorf("got %q, want /tmp/phonoloop-env-log", got)
	}
}

func TestResolveDirDefault(t *testing.T) {
	t.Setenv("PHONOLOOP_LOG_PATH", "")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "phonoloop") {
		t.Errorf("default dir %q should mention phonoloop", got)
	}
}

func TestInitCreatesFiles(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{DiagnosticsFile, ResultsFile} {
		path := filepath.Join(tmp, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}

func TestTrialText(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	TrialText("digits", 3, true, []string{"3", "1", "4"}, []string{"3", "1", "4"})
	TrialText("syllables", 2, false, []string{"Bein", "Wein"}, []string{"Wein"})

	data, err := os.ReadFile(filepath.Join(tmp, ResultsFile))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}
	fields := strings.Split(lines[0], "\t")
	if len(fields) != 7 {
		t.Fatalf("expected 7 tab-separated fields, got %d: %q", len(fields), lines[0])
	}
	if fields[2] != "digits" || fields[3] != "3" || fields[4] != "ok" || fields[5] != "3 1 4" {
		t.Errorf("unexpected fields: %q", fields)
	}
	if !strings.HasSuffix(lines[1], "\tmiss\tBein Wein\tWein") {
		t.Errorf("unexpected second line: %q", lines[1])
	}
}

func TestTrialDiagnostics(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	Trial(TrialData{Test: "wordlength", Condition: "long", Length: 4, Correct: false, DurationS: 2.5, Rate: 1, PauseMs: 400})
	Trial(TrialData{Test: "digits", Length: 2, Correct: true, DurationS: -1, Rate: 1.2})

	data, err := os.ReadFile(filepath.Join(tmp, DiagnosticsFile))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"trial", "test=wordlength", "condition=long", "duration_s=2.5", "pause_ms=400", "test=digits"} {
		if !strings.Contains(out, want) {
			t.Errorf("diagnostics missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "duration_s=") != 1 {
		t.Errorf("unknown duration should be omitted:\n%s", out)
	}
}

func TestNoopBeforeInit(t *testing.T) {
	tmp := setupLogDir(t)

	Info("ignored")
	TrialText("digits", 2, true, nil, nil)
	l := Logger()
	l.Info().Msg("ignored")

	if _, err := os.Stat(filepath.Join(tmp, DiagnosticsFile)); !os.IsNotExist(err) {
		t.Errorf("diagnostics file should not exist before Init, err=%v", err)
	}
}

func TestOpenAppend(t *testing.T) {
	tmp := setupLogDir(t)

	for i := 0; i < 2; i++ {
		f, err := OpenAppend(FeedbackFile)
		if err != nil {
			t.Fatal(err)
		}
		f.WriteString("{}\n")
		f.Close()
	}
	data, err := os.ReadFile(filepath.Join(tmp, FeedbackFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}\n{}\n" {
		t.Errorf("got %q", data)
	}
}

func TestCloseIdempotent(t *testing.T) {
	setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Close()
	Close() // should not panic
}
