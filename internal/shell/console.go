package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/loqalabs/dyslu/internal/conversation"
	"github.com/loqalabs/dyslu/internal/pipeline"
)

// Console is the terminal front end: Enter toggles recording and replies
// are typed out as they reveal.
type Console struct {
	shell *Shell
	in    io.Reader
	out   io.Writer

	mu      sync.Mutex
	printed map[int]int
}

func NewConsole(shell *Shell, log *conversation.Log, in io.Reader, out io.Writer) *Console {
	c := &Console{shell: shell, in: in, out: out, printed: make(map[int]int)}
	log.Observe(c.render)
	return c
}

// Run reads lines until ctx is done or input ends. "q" quits.
func (c *Console) Run(ctx context.Context) error {
	c.printf("Press Enter to start recording, Enter again to send. Type q to quit.\n")
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			return err
		case line := <-lines:
			if line == "q" || line == "quit" {
				return nil
			}
			c.toggle()
		}
	}
}

func (c *Console) toggle() {
	recording := c.shell.State().Recording
	err := c.shell.Toggle()
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		c.printf("[still thinking, please wait]\n")
	case err != nil:
		if cur := c.shell.State().Error; cur != nil {
			c.printf("[%s]\n", cur.Message())
			return
		}
		c.printf("[%v]\n", err)
	case recording:
		c.printf("[processing...]\n")
	default:
		c.printf("[recording, press Enter to stop]\n")
	}
}

func (c *Console) render(ev conversation.Event) {
	rec := ev.Record
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec.Role == conversation.RoleUser {
		if ev.Kind == conversation.EventAppend {
			fmt.Fprintf(c.out, "You: %s\n", rec.Text)
		}
		return
	}

	shown := c.printed[ev.Index]
	display := []rune(rec.Display())
	if ev.Kind == conversation.EventAppend {
		fmt.Fprint(c.out, "Dyslu: ")
	}
	if len(display) > shown {
		fmt.Fprint(c.out, string(display[shown:]))
		c.printed[ev.Index] = len(display)
	}
	if rec.Reveal == conversation.Complete {
		fmt.Fprintln(c.out)
		delete(c.printed, ev.Index)
	}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
