package source

import (
	"io"
	"sync"

	"github.com/zsiec/reel/internal/media"
)

type readResult struct {
	n   int
	err error
}

// interruptReader serves reads from a single pump goroutine so that Close
// returns a pending Read at once, even when the underlying reader (a
// terminal or pipe on stdin) cannot be woken. The abandoned read finishes
// into the pump's own buffer.
type interruptReader struct {
	r io.Reader

	want chan int
	res  chan readResult
	buf  []byte
	done chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

func newInterruptReader(r io.Reader) *interruptReader {
	return &interruptReader{
		r:    r,
		want: make(chan int),
		res:  make(chan readResult),
		done: make(chan struct{}),
	}
}

func (ir *interruptReader) pump() {
	for {
		var n int
		select {
		case n = <-ir.want:
		case <-ir.done:
			return
		}
		if cap(ir.buf) < n {
			ir.buf = make([]byte, n)
		}
		n, err := ir.r.Read(ir.buf[:n])
		select {
		case ir.res <- readResult{n, err}:
		case <-ir.done:
			return
		}
	}
}

// Read returns media.ErrClosed once Close has been called.
func (ir *interruptReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	ir.startOnce.Do(func() { go ir.pump() })

	select {
	case ir.want <- len(p):
	case <-ir.done:
		return 0, media.ErrClosed
	}
	select {
	case res := <-ir.res:
		// the pump waits for the next request before touching buf again
		return copy(p, ir.buf[:res.n]), res.err
	case <-ir.done:
		return 0, media.ErrClosed
	}
}

// Close releases a pending Read and closes the underlying reader when it
// is an io.Closer.
func (ir *interruptReader) Close() error {
	ir.closeOnce.Do(func() {
		close(ir.done)
		if c, ok := ir.r.(io.Closer); ok {
			ir.closeErr = c.Close()
		}
	})
	return ir.closeErr
}
