// Package asyncbufio provides a buffered writer whose Write never blocks:
// data pass through a channel to a goroutine that owns the bufio.Writer.
package asyncbufio

import (
	"bufio"
	"io"
	"sync/atomic"
	"time"
)

// Writer provides asynchronous writing to an underlying io.Writer using a buffered channel.
type Writer struct {
	writer        *bufio.Writer // Buffered writer: this does the writing
	flushNow      chan struct{} // Channel to signal the underlying writer to flush itself
	flushComplete chan error    // Channel to report that a flush is complete
	datachannel   chan []byte   // Channel to hold data before writing it
	flushInterval time.Duration // Interval for flushing the writer periodically
	dropped       atomic.Int64  // Writes refused because datachannel was full
	lastErr       error         // Owned by writeLoop
}

// NewWriter creates a new Writer holding up to channelDepth pending writes.
func NewWriter(w io.Writer, channelDepth int, flushInterval time.Duration) *Writer {
	aw := &Writer{
		writer:        bufio.NewWriter(w),
		datachannel:   make(chan []byte, channelDepth),
		flushNow:      make(chan struct{}),
		flushComplete: make(chan error),
		flushInterval: flushInterval,
	}

	go aw.writeLoop()
	return aw
}

// Write queues a copy of p for later writing. If the queue is full, the data
// are dropped and io.ErrShortWrite is returned; Write never blocks.
func (aw *Writer) Write(p []byte) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)
	select {
	case aw.datachannel <- data:
		return len(p), nil
	default:
		aw.dropped.Add(1)
		return 0, io.ErrShortWrite
	}
}

// WriteString queues s for later writing.
func (aw *Writer) WriteString(s string) (int, error) {
	return aw.Write([]byte(s))
}

// Dropped returns how many writes were refused because the queue was full.
func (aw *Writer) Dropped() int64 {
	return aw.dropped.Load()
}

// Flush writes all queued data to the underlying writer.
// Blocks until the flush is complete.
func (aw *Writer) Flush() error {
	aw.flushNow <- struct{}{}
	return <-aw.flushComplete
}

// Close flushes remaining data and waits for the writeLoop to finish.
// It will cause a panic to call Flush() or Close() after Close().
func (aw *Writer) Close() error {
	close(aw.flushNow) // Closing the flushNow channel signals the writeLoop to exit
	return <-aw.flushComplete
}

// writeLoop is a goroutine that continuously moves data from the channel to the writer.
func (aw *Writer) writeLoop() {
	ticker := time.NewTicker(aw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-aw.datachannel:
			aw.write(data)

		case _, ok := <-aw.flushNow:
			aw.flush()
			err := aw.lastErr
			aw.lastErr = nil
			aw.flushComplete <- err
			if !ok {
				return
			}

		case <-ticker.C:
			aw.flush()
		}
	}
}

func (aw *Writer) write(data []byte) {
	if _, err := aw.writer.Write(data); err != nil && aw.lastErr == nil {
		aw.lastErr = err
	}
}

// flush empties aw.datachannel before calling the underlying Flush.
func (aw *Writer) flush() {
	for {
		select {
		case data := <-aw.datachannel:
			aw.write(data)
		default:
			if err := aw.writer.Flush(); err != nil && aw.lastErr == nil {
				aw.lastErr = err
			}
			return
		}
	}
}
