// Package console is the operator's side of a chat node: a serialized
// terminal writer and the command dispatcher that drives the node.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

// DefaultPrompt precedes every operator input.
const DefaultPrompt = ">> "

// Console serializes output from the command loop and from connection
// events so lines never interleave, and re-issues the prompt after each
// asynchronous event.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	prompt string
}

func New(out io.Writer) *Console {
	return &Console{out: out, prompt: DefaultPrompt}
}

// Println writes each argument on its own line.
func (c *Console) Println(lines ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range lines {
		io.WriteString(c.out, line+"\n") //nolint:errcheck
	}
}

func (c *Console) Printf(format string, args ...any) {
	c.Println(fmt.Sprintf(format, args...))
}

// Prompt writes the input prompt.
func (c *Console) Prompt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.out, c.prompt) //nolint:errcheck
}

// Event reports something that happened outside the command loop. The text
// starts on a fresh line and is followed by a new prompt.
func (c *Console) Event(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.out, "\n"+msg+"\n"+c.prompt) //nolint:errcheck
}

// Run reads command lines from in and hands them to d until the operator
// exits, input ends or ctx is cancelled. The last two exit like the exit
// command does.
func (c *Console) Run(ctx context.Context, in io.Reader, d *Dispatcher) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	c.Prompt()
	for {
		select {
		case <-ctx.Done():
			d.Exit(context.Background())
			return nil
		case line, ok := <-lines:
			if !ok {
				d.Exit(context.Background())
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			if d.Dispatch(ctx, line) {
				return nil
			}
			c.Prompt()
		}
	}
}
