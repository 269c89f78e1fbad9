package speech

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

var ErrAborted = errors.New("voice selection aborted")

// SelectVoice presents an interactive voice picker on the terminal and returns
// the chosen index. Space calls preview (if non-nil) for the highlighted voice.
// With a single voice it returns 0 without prompting.
func SelectVoice(voices []Voice, current int, preview func(Voice)) (int, error) {
	if len(voices) == 0 {
		return -1, fmt.Errorf("no voices found")
	}
	if len(voices) == 1 {
		return 0, nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return -1, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := current
	if cursor < 0 || cursor >= len(voices) {
		cursor = 0
	}
	renderList := func() {
		fmt.Print("\r\x1b[J")
		fmt.Print("Select voice (↑/↓, Space to preview, Enter to confirm):\r\n\r\n")
		for i, v := range voices {
			if i == cursor {
				fmt.Printf("  \x1b[1;36m▶ %s\x1b[0m\r\n", v)
			} else {
				fmt.Printf("    %s\r\n", v)
			}
		}
	}

	renderList()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return -1, fmt.Errorf("reading input: %w", err)
		}

		if n == 1 {
			switch buf[0] {
			case 13: // Enter
				fmt.Print("\r\n")
				return cursor, nil
			case 3, 'q': // Ctrl+C
				fmt.Print("\r\n")
				return -1, ErrAborted
			case ' ':
				if preview != nil {
					preview(voices[cursor])
				}
			case 'j':
				if cursor < len(voices)-1 {
					cursor++
				}
			case 'k':
				if cursor > 0 {
					cursor--
				}
			}
		} else if n == 3 && buf[0] == 0x1b && buf[1] == '[' {
			switch buf[2] {
			case 'A':
				if cursor > 0 {
					cursor--
				}
			case 'B':
				if cursor < len(voices)-1 {
					cursor++
				}
			}
		}

		fmt.Printf("\x1b[%dA", len(voices)+2)
		renderList()
	}
}
