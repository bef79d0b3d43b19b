package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// TerminalPrompter asks on out and reads a y/N answer from in. Concurrent
// jobs are asked one at a time.
type TerminalPrompter struct {
	mu     sync.Mutex
	in     *bufio.Reader
	out    io.Writer
	start  sync.Once
	lines  chan answer
	closed error
}

// NewTerminalPrompter builds a prompter over in and out, usually stdin and
// stderr.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out, lines: make(chan answer)}
}

type answer struct {
	line string
	err  error
}

// readLines is the only reader of in, so an answer abandoned by a cancelled
// prompt goes to the next one.
func (p *TerminalPrompter) readLines() {
	for {
		line, err := p.in.ReadString('\n')
		p.lines <- answer{line: line, err: err}
		if err != nil {
			return
		}
	}
}

// Confirm prints the pending operation and waits for an answer. Anything
// other than y or yes declines, and so does a closed input.
func (p *TerminalPrompter) Confirm(ctx context.Context, result Result) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if p.closed != nil {
		return false, nil
	}
	p.start.Do(func() { go p.readLines() })

	req := result.Request
	fmt.Fprintf(p.out, "\n%s requests %s\n", toolName(req), describe(req))
	if result.Reason != "" {
		fmt.Fprintf(p.out, "  reason: %s\n", result.Reason)
	}
	fmt.Fprint(p.out, "Allow? [y/N] ")

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false, ctx.Err()
	case a := <-p.lines:
		if a.err != nil {
			p.closed = a.err
			if a.err != io.EOF {
				return false, a.err
			}
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

func toolName(req Request) string {
	if req.Tool != "" {
		return req.Tool
	}
	return "job"
}
