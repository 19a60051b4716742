package voice

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"medminder/internal/audio"
)

// Console prints prompts and reads typed replies, for running without the
// microphone and speaker.
type Console struct {
	arbiter *audio.Arbiter
	out     io.Writer
	lines   chan string
	timeout time.Duration
	// asked is set once a Listen has returned; from then on anything typed
	// between questions is stale.
	asked bool
}

func NewConsole(arb *audio.Arbiter, in io.Reader, out io.Writer, timeout time.Duration) *Console {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Console{
		arbiter: arb,
		out:     out,
		lines:   make(chan string),
		timeout: timeout,
	}
	go c.readLines(in)
	return c
}

func (c *Console) readLines(in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		c.lines <- sc.Text()
	}
	close(c.lines)
}

func (c *Console) Say(ctx context.Context, text string) error {
	return c.arbiter.Do(ctx, "playback", func() error {
		_, err := fmt.Fprintf(c.out, "\n🔊 ASSISTANT: %s\n", text)
		return err
	})
}

// Listen waits up to the configured timeout for one typed line. A timeout or
// closed input counts as silence. After the first question, lines typed while
// no Listen was waiting are thrown away.
func (c *Console) Listen(ctx context.Context) (string, error) {
	var line string
	err := c.arbiter.Do(ctx, "capture", func() error {
		defer func() { c.asked = true }()
		if c.asked {
			c.discardPending()
		}
		fmt.Fprint(c.out, "🎤 YOU: ")
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()

		select {
		case l, ok := <-c.lines:
			if ok {
				line = strings.TrimSpace(l)
			}
		case <-timer.C:
			fmt.Fprintln(c.out, "(no response)")
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	return line, err
}

func (c *Console) discardPending() {
	for {
		select {
		case _, ok := <-c.lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
