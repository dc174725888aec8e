package source

import (
	"io"
	"sync/atomic"
	"time"
)

// Stats captures byte-level input metrics for a source.
type Stats struct {
	BytesRead  int64  `json:"bytesRead"`
	ReadCount  int64  `json:"readCount"`
	OpenedAt   int64  `json:"openedAt"`
	UptimeMs   int64  `json:"uptimeMs"`
	RemoteAddr string `json:"remoteAddr"`
}

// counter wraps the raw input and records every successful read.
type counter struct {
	r        io.Reader
	openedAt time.Time
	remote   string

	bytesRead atomic.Int64
	readCount atomic.Int64
}

func newCounter(r io.Reader, remote string) *counter {
	return &counter{r: r, openedAt: time.Now(), remote: remote}
}

func (c *counter) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.record(n)
	}
	return n, err
}

func (c *counter) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.r.(io.ReaderAt).ReadAt(p, off)
	if n > 0 {
		c.record(n)
	}
	return n, err
}

func (c *counter) record(n int) {
	c.bytesRead.Add(int64(n))
	c.readCount.Add(1)
}

// Stats returns a snapshot of the input counters.
func (c *counter) Stats() Stats {
	return Stats{
		BytesRead:  c.bytesRead.Load(),
		ReadCount:  c.readCount.Load(),
		OpenedAt:   c.openedAt.UnixMilli(),
		UptimeMs:   time.Since(c.openedAt).Milliseconds(),
		RemoteAddr: c.remote,
	}
}
