package procbox

import (
	"bytes"
	"sync"
)

// collector is a bounded output buffer. Once the limit would be exceeded it
// stops retaining further bytes, reports success to the writer side so the
// pipe does not error, and fires the overflow callback exactly once so the
// executor can terminate the process group.
type collector struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	limit    int64
	exceeded bool
	onLimit  func()
	once     sync.Once
}

func newCollector(limit int64, onLimit func()) *collector {
	return &collector{limit: limit, onLimit: onLimit}
}

func (c *collector) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.limit - int64(c.buf.Len())
	if remaining <= 0 {
		c.overflow()
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		c.buf.Write(p[:remaining])
		c.overflow()
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *collector) overflow() {
	c.exceeded = true
	c.once.Do(c.onLimit)
}

func (c *collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *collector) Exceeded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exceeded
}
