package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"

	"phonoloop/audio"
	"phonoloop/beep"
	"phonoloop/config"
	"phonoloop/speech"
)

const totalChecks = 5

// Run executes interactive diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(cfg *config.Config) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("phonoloop doctor - interactive system diagnostics")
	fmt.Println("=================================================")

	reader := bufio.NewReader(os.Stdin)
	allPass := true

	player, err := audio.NewPlayer()
	if err != nil {
		fmt.Printf("\n  audio output unavailable: %v\n", err)
	} else {
		defer player.Close()
	}

	engine, ok := checkEngine(player)
	if !ok {
		allPass = false
	}
	if !checkTone(player, reader) {
		allPass = false
	}
	if engine != nil && !checkSpeech(engine, cfg, reader) {
		allPass = false
	}
	if !checkClipboard() {
		allPass = false
	}
	if !checkSink(cfg) {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func step(n int, title string) {
	fmt.Println()
	fmt.Printf("[%d/%d] %s\n", n, totalChecks, title)
}

func confirm(reader *bufio.Reader, question string) bool {
	resetTerminal()
	fmt.Printf("%s [y/n]: ", question)
	answer, _ := reader.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes" || answer == "j" || answer == "ja"
}

func checkEngine(player audio.Player) (*speech.Espeak, bool) {
	step(1, "Speech engine")

	engine, err := speech.NewEspeak(player)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		fmt.Println("  Install espeak-ng (e.g. apt install espeak-ng / brew install espeak-ng)")
		return nil, false
	}
	fmt.Printf("  Using %s\n", engine.Bin())

	select {
	case <-engine.VoicesChanged():
	case <-time.After(3 * time.Second):
		fmt.Println("  FAIL: timeout listing voices")
		return engine, false
	}

	voices := engine.Voices()
	fmt.Printf("  PASS: %d voices available\n", len(voices))
	return engine, true
}

func checkTone(player audio.Player, reader *bufio.Reader) bool {
	step(2, "Audio output")

	if player == nil {
		fmt.Println("  FAIL: no audio output")
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := beep.Check(ctx, player); err != nil {
		fmt.Printf("  FAIL: playback: %v\n", err)
		return false
	}
	if !confirm(reader, "Did you hear a short tone?") {
		fmt.Println("  FAIL: tone not confirmed")
		return false
	}
	fmt.Println("  PASS: tone confirmed by user")
	return true
}

func checkSpeech(engine *speech.Espeak, cfg *config.Config, reader *bufio.Reader) bool {
	step(3, "Speech output ("+cfg.Locale+")")

	d := speech.NewDriver(engine, speech.WithLocale(cfg.Locale, cfg.Lang), speech.WithLeadIn(0))
	ctx := context.Background()
	d.WarmUp(ctx)

	voices := d.Voices()
	if len(voices) == 0 {
		fmt.Printf("  FAIL: no voices for locale %q\n", cfg.Locale)
		return false
	}
	if cfg.Voice != "" && !d.SelectVoiceByName(cfg.Voice) {
		fmt.Printf("  Warning: voice %q not found, using %s\n", cfg.Voice, voices[0])
	}
	fmt.Printf("  Speaking three digits with %s...\n", voices[max(d.Selected(), 0)])

	items := []string{"3", "7", "1"}
	if err := d.Present(ctx, items, speech.Pacing{Pause: cfg.Pause(), Rate: cfg.Rate}); err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	if !confirm(reader, "Did you hear \"3 7 1\"?") {
		fmt.Println("  FAIL: speech not confirmed")
		return false
	}
	fmt.Println("  PASS: speech confirmed by user")
	return true
}

func checkClipboard() bool {
	step(4, "Clipboard")

	if clipboard.Unsupported {
		fmt.Println("  FAIL: no clipboard utility found (install xclip, xsel or wl-clipboard)")
		return false
	}

	testStr := fmt.Sprintf("phonoloop-doctor-%d", time.Now().UnixNano())
	type cbResult struct {
		readback string
		err      error
		phase    string
	}
	ch := make(chan cbResult, 1)
	go func() {
		if err := clipboard.WriteAll(testStr); err != nil {
			ch <- cbResult{err: err, phase: "write"}
			return
		}
		got, err := clipboard.ReadAll()
		if err != nil {
			ch <- cbResult{err: err, phase: "read"}
			return
		}
		ch <- cbResult{readback: got}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			fmt.Printf("  FAIL: clipboard %s failed: %v\n", res.phase, res.err)
			return false
		}
		if res.readback != testStr {
			fmt.Printf("  FAIL: clipboard mismatch: wrote %q, got %q\n", testStr, res.readback)
			return false
		}
		fmt.Println("  PASS: clipboard write/read verified")
		return true
	case <-time.After(3 * time.Second):
		fmt.Println("  FAIL: clipboard timed out")
		return false
	}
}

func checkSink(cfg *config.Config) bool {
	step(5, "Feedback sink")

	if cfg.ReportURL == "" {
		fmt.Println("  SKIP: no report URL configured")
		return true
	}
	url := strings.TrimRight(cfg.ReportURL, "/") + "/health"
	client := &http.Client{Timeout: cfg.ReportTimeout}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		fmt.Println("  Start one with: phonoloop -serve " + cfg.ServeAddr)
		return false
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("  FAIL: %s answered %d: %s\n", url, resp.StatusCode, strings.TrimSpace(string(body)))
		return false
	}
	fmt.Printf("  PASS: %s is up\n", cfg.ReportURL)
	return true
}
