package tool

import "strings"

// capture is an io.Writer holding at most limit bytes of command output.
// Writes past the limit are counted and discarded so the command never
// blocks on a full pipe. A limit <= 0 keeps everything.
type capture struct {
	limit   int
	kept    strings.Builder
	dropped int64
}

func newCapture(limit int) *capture {
	return &capture{limit: limit}
}

func (c *capture) Write(p []byte) (int, error) {
	keep := len(p)
	if c.limit > 0 {
		keep = min(keep, max(c.limit-c.kept.Len(), 0))
	}
	c.kept.Write(p[:keep])
	c.dropped += int64(len(p) - keep)
	return len(p), nil
}

func (c *capture) String() string { return c.kept.String() }

func (c *capture) Truncated() bool { return c.dropped > 0 }
