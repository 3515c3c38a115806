package models

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

var ErrWriterClosed = errors.New("async writer is closed")

// AsyncWriter batches writes to a slow sink on its own goroutine, so per-instruction
// trace logging does not stall the emulator. Buffered data is flushed every 25ms,
// when the buffer grows past 64KB, on Sync and on Close.
type AsyncWriter struct {
	w     io.WriteCloser
	write chan []byte
	sync  chan chan error
	close chan chan error
	done  chan struct{}

	// owned by run
	buffer [][]byte
	count  int
	err    error
}

func NewAsyncWriter(w io.WriteCloser) *AsyncWriter {
	a := &AsyncWriter{
		w:     w,
		write: make(chan []byte, 1000),
		sync:  make(chan chan error),
		close: make(chan chan error),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncWriter) flush() {
	for _, p := range a.buffer {
		if a.err != nil {
			break
		}
		_, a.err = a.w.Write(p)
	}
	a.buffer = a.buffer[:0]
	a.count = 0
}

// drain pulls writes that were queued before a sync or close request.
func (a *AsyncWriter) drain() {
	for {
		select {
		case p := <-a.write:
			a.buffer = append(a.buffer, p)
		default:
			return
		}
	}
}

func (a *AsyncWriter) run() {
	const interval = 25 * time.Millisecond
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			a.flush()
		case p := <-a.write:
			a.buffer = append(a.buffer, p)
			a.count += len(p)
			if len(a.buffer) > 1000 || a.count > 64000 {
				a.flush()
			}
		case ret := <-a.sync:
			a.drain()
			a.flush()
			ret <- a.err
		case ret := <-a.close:
			a.drain()
			a.flush()
			err := a.w.Close()
			if a.err != nil {
				err = a.err
			}
			close(a.done)
			ret <- err
			return
		}
	}
}

func (a *AsyncWriter) Write(p []byte) (int, error) {
	tmp := make([]byte, len(p))
	copy(tmp, p)
	select {
	case <-a.done:
		return 0, errors.WithStack(ErrWriterClosed)
	default:
	}
	select {
	case a.write <- tmp:
		return len(p), nil
	case <-a.done:
		return 0, errors.WithStack(ErrWriterClosed)
	}
}

func (a *AsyncWriter) request(ch chan chan error) error {
	ret := make(chan error, 1)
	select {
	case ch <- ret:
		return <-ret
	case <-a.done:
		return errors.WithStack(ErrWriterClosed)
	}
}

// Sync blocks until everything written so far reached the sink.
func (a *AsyncWriter) Sync() error {
	return a.request(a.sync)
}

func (a *AsyncWriter) Close() error {
	return a.request(a.close)
}
