package speech

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"phonoloop/audio"
	"phonoloop/log"
)

const (
	espeakDefaultWPM   = 175
	espeakDefaultAmp   = 100
	espeakDefaultPitch = 50
)

// Espeak speaks through an espeak-ng (or espeak) binary, rendering each
// utterance to WAV and playing it on an audio.Player. Utterances are played
// strictly one after another.
type Espeak struct {
	bin    string
	player audio.Player

	mu      sync.Mutex
	voices  []Voice
	changed chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	speakMu sync.Mutex
}

// NewEspeak locates the synthesizer binary and starts enumerating voices in
// the background.
func NewEspeak(player audio.Player) (*Espeak, error) {
	bin, err := lookupEspeak()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Espeak{
		bin:     bin,
		player:  player,
		changed: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go e.loadVoices()
	return e, nil
}

func lookupEspeak() (string, error) {
	for _, name := range []string{"espeak-ng", "espeak"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", ErrNoEngine
}

func (e *Espeak) Bin() string { return e.bin }

func (e *Espeak) loadVoices() {
	defer close(e.changed)
	out, err := exec.Command(e.bin, "--voices").Output()
	if err != nil {
		log.Warnf("espeak voices: %v", err)
		return
	}
	voices := parseVoices(string(out))
	e.mu.Lock()
	e.voices = voices
	e.mu.Unlock()
}

// parseVoices reads the table printed by `espeak-ng --voices`:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  de              --/M      German             gmw/de
func parseVoices(out string) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 || fields[0] == "Pty" {
			continue
		}
		if _, err := strconv.Atoi(fields[0]); err != nil {
			continue
		}
		voices = append(voices, Voice{
			ID:   fields[1],
			Name: strings.ReplaceAll(fields[3], "_", " "),
			Lang: fields[1],
		})
	}
	return voices
}

func (e *Espeak) Voices() []Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Voice, len(e.voices))
	copy(out, e.voices)
	return out
}

func (e *Espeak) VoicesChanged() <-chan struct{} { return e.changed }

func (e *Espeak) Speak(u Utterance) (<-chan struct{}, error) {
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.speakMu.Lock()
		defer e.speakMu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if err := e.render(ctx, u); err != nil && ctx.Err() == nil {
			log.Warnf("espeak %q: %v", u.Text, err)
		}
	}()
	return done, nil
}

func (e *Espeak) render(ctx context.Context, u Utterance) error {
	cmd := exec.CommandContext(ctx, e.bin, espeakArgs(u)...)
	wav, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	samples, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return err
	}
	if e.player == nil {
		return nil
	}
	return e.player.Play(ctx, samples, format)
}

func espeakArgs(u Utterance) []string {
	voice := u.Lang
	if u.Voice != nil {
		voice = u.Voice.ID
	}
	rate, vol, pitch := u.Rate, u.Volume, u.Pitch
	if rate <= 0 {
		rate = 1
	}
	if pitch <= 0 {
		pitch = 1
	}
	vol = math.Max(0, math.Min(1, vol))
	args := []string{"--stdout"}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	return append(args,
		"-s", strconv.Itoa(int(math.Round(espeakDefaultWPM*rate))),
		"-a", strconv.Itoa(int(math.Round(espeakDefaultAmp*vol))),
		"-p", strconv.Itoa(int(math.Min(99, math.Round(espeakDefaultPitch*pitch)))),
		"--", u.Text,
	)
}

func (e *Espeak) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancel()
	e.ctx, e.cancel = context.WithCancel(context.Background())
}
