package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"phonoloop/audio"
	"phonoloop/beep"
	"phonoloop/config"
	"phonoloop/doctor"
	"phonoloop/log"
	"phonoloop/report"
	"phonoloop/shutdown"
	"phonoloop/sink"
	"phonoloop/speech"
	"phonoloop/trial"
)

var version = "dev"

var errNoSink = errors.New("no report URL configured")

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"rate":    "rate",
	"pause":   "pause_ms",
	"leadin":  "lead_in_ms",
	"voice":   "voice",
	"report":  "report_url",
	"beep":    "beep",
	"logpath": "log_path",
}

func main() {
	os.Exit(run())
}

func run() int {
	rateFlag := flag.Float64("rate", 1.0, "Speech rate multiplier (0.3-1.4)")
	pauseFlag := flag.Int("pause", 400, "Pause after each item in ms (0-1500)")
	leadInFlag := flag.Int("leadin", 1500, "Silence before the first item in ms")
	voiceFlag := flag.String("voice", "", "Use named voice (ID or name, see -voices)")
	reportFlag := flag.String("report", "", "Feedback sink base URL (e.g. http://127.0.0.1:8787)")
	beepFlag := flag.Bool("beep", true, "Play cue tones at recall and after scoring")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	serveFlag := flag.String("serve", "", "Run the feedback sink on this address instead of the test (e.g. :8787)")
	setupFlag := flag.Bool("setup", false, "Pick a voice interactively before starting")
	voicesFlag := flag.Bool("voices", false, "List available voices and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven)")
	seedFlag := flag.Uint64("seed", 0, "Random seed for sequences (0 = random)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("phonoloop %s\n", version)
		return 0
	}

	values := map[string]any{
		"rate":    *rateFlag,
		"pause":   *pauseFlag,
		"leadin":  *leadInFlag,
		"voice":   *voiceFlag,
		"report":  *reportFlag,
		"beep":    *beepFlag,
		"logpath": *logPathFlag,
	}
	overrides := map[string]any{}
	flag.Visit(func(f *flag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			overrides[key] = values[f.Name]
		}
	})
	cfg, err := config.Load(overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *doctorFlag {
		return doctor.Run(cfg)
	}
	if *voicesFlag {
		return listVoices(cfg)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	ctx, cancel := shutdown.Context(context.Background())
	defer cancel()

	if *serveFlag != "" {
		return serve(ctx, *serveFlag)
	}

	var client *report.Client
	if cfg.ReportURL != "" {
		client = report.NewClient(cfg.ReportURL, cfg.ReportTimeout)
	}

	opts := []trial.Option{trial.WithPacing(cfg.Rate, cfg.Pause())}
	if *seedFlag != 0 {
		opts = append(opts, trial.WithRand(rand.New(rand.NewPCG(*seedFlag, *seedFlag))))
	}

	if *testFlag {
		m := trial.New(newTestDriver(cfg.LeadIn()), opts...)
		runTestMode(ctx, os.Stdin, os.Stdout, m, client)
		return 0
	}

	return runTUI(ctx, cfg, client, *setupFlag, opts)
}

func runTUI(ctx context.Context, cfg *config.Config, client *report.Client, setup bool, opts []trial.Option) int {
	player, err := audio.NewPlayer()
	if err != nil {
		log.Warnf("audio output: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: no audio output: %v\n", err)
	} else {
		defer player.Close()
	}

	if cfg.Beep {
		beep.Init(player)
	} else {
		beep.Disable()
	}

	var engine speech.Engine
	engineName := "none"
	if e, err := speech.NewEspeak(player); err == nil {
		engine = e
		engineName = filepath.Base(e.Bin())
	} else {
		log.Warnf("speech engine: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: %v (items will not be spoken)\n", err)
	}

	driver := speech.NewDriver(engine, speech.WithLocale(cfg.Locale, cfg.Lang), speech.WithLeadIn(cfg.LeadIn()))

	if setup && engine != nil {
		if v, err := pickVoice(ctx, cfg, engine, driver); err != nil {
			if errors.Is(err, speech.ErrAborted) {
				return 130
			}
			fmt.Fprintf(os.Stderr, "Warning: voice selection failed: %v\n", err)
		} else {
			cfg.Voice = v.ID
			fmt.Printf("Selected %s. Set PHONOLOOP_VOICE=%s to make this the default.\n", v, v.ID)
		}
	}

	m := trial.New(driver, opts...)
	bridge := newEventBridge()
	detach := attach(m, bridge)
	defer detach()

	log.SessionStart(engineName, cfg.Voice, cfg.Rate, cfg.PauseMs)
	defer endSession(m)

	prepare := func() {
		driver.WarmUp(ctx)
		if cfg.Voice != "" && !driver.SelectVoiceByName(cfg.Voice) {
			log.Warnf("voice %q not found", cfg.Voice)
		}
	}

	p := NewTUIProgram(ctx, m, client, bridge.ch, prepare)
	tuiMu.Lock()
	tuiProgram = p
	tuiMu.Unlock()

	if engine != nil {
		go func() {
			select {
			case <-engine.VoicesChanged():
				tuiSend(VoicesReadyMsg{})
			case <-ctx.Done():
			}
		}()
	}
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func pickVoice(ctx context.Context, cfg *config.Config, engine speech.Engine, d *speech.Driver) (speech.Voice, error) {
	d.WarmUp(ctx)
	voices := d.Voices()
	preview := func(v speech.Voice) {
		engine.Cancel()
		engine.Speak(speech.Utterance{Text: "drei sieben eins", Lang: cfg.Lang, Voice: &v, Rate: cfg.Rate, Volume: 1, Pitch: 1})
	}
	i, err := speech.SelectVoice(voices, d.Selected(), preview)
	if err != nil {
		return speech.Voice{}, err
	}
	d.SelectVoice(i)
	return voices[i], nil
}

func listVoices(cfg *config.Config) int {
	engine, err := speech.NewEspeak(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	select {
	case <-engine.VoicesChanged():
	case <-time.After(3 * time.Second):
		fmt.Fprintln(os.Stderr, "Error: timeout listing voices")
		return 1
	}
	voices := speech.FilterLocale(engine.Voices(), cfg.Locale)
	if len(voices) == 0 {
		fmt.Printf("No voices for locale %q\n", cfg.Locale)
		return 1
	}
	for i, v := range voices {
		fmt.Printf("%2d  %-12s %s\n", i, v.ID, v.Name)
	}
	return 0
}

func serve(ctx context.Context, addr string) int {
	f, err := log.OpenAppend(log.FeedbackFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer f.Close()

	s := sink.New(f, log.Logger())
	err = sink.Serve(ctx, addr, s.Handler(), func(a net.Addr) {
		log.Info("sink_listening: " + a.String())
		fmt.Printf("phonoloop sink listening on http://%s (log: %s)\n", a, f.Name())
	})
	if err != nil {
		log.Errorf("sink: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
