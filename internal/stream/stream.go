// Package stream provides the chunk stream primitive and the dual-consumer
// tee used to serve a caller while concurrently accounting the same
// response.
//
// DESIGN: A Stream is a single-producer ordered sequence of raw chunk
// payloads. Tee duplicates one stream into two branches with independent
// unbounded buffers, so the caller-facing consumer and the accounting
// consumer never block each other: a slow (or gone) consumer on one branch
// cannot stall the other, and the tee pump always drains the source to its
// end.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("stream: send on closed stream")

// Stream is an ordered, single-producer chunk sequence. Recv blocks until a
// chunk is available, the producer closes the stream, or the context is
// done. The internal buffer is unbounded: Send never blocks.
type Stream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool
	err    error
}

// New returns an open stream.
func New() *Stream {
	s := &Stream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Send appends one chunk. The payload is not copied; producers must not
// reuse the slice.
func (s *Stream) Send(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.queue = append(s.queue, chunk)
	s.cond.Broadcast()
	return nil
}

// Close ends the stream. A nil err means a normal end: consumers see io.EOF
// once the buffered chunks are drained. A non-nil err is delivered to
// consumers after the buffered chunks, so a stream that failed mid-way
// still yields everything that was generated before the failure.
func (s *Stream) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	s.cond.Broadcast()
}

// Recv returns the next chunk in order. At the end of the stream it returns
// io.EOF (normal close) or the producer's error. A cancelled context
// returns ctx.Err() without consuming a chunk.
func (s *Stream) Recv(ctx context.Context) ([]byte, error) {
	// Wake waiters when the context fires; cond.Wait alone cannot observe it.
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if len(s.queue) > 0 {
			chunk := s.queue[0]
			s.queue = s.queue[1:]
			return chunk, nil
		}
		if s.closed {
			if s.err != nil {
				return nil, s.err
			}
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.cond.Wait()
	}
}

// Drain consumes the remainder of the stream, returning the chunks read and
// the terminal error if the stream ended abnormally (nil on clean EOF).
func (s *Stream) Drain(ctx context.Context) ([][]byte, error) {
	var chunks [][]byte
	for {
		chunk, err := s.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return chunks, nil
			}
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}

// Tee splits src into two branches that each observe every chunk of src in
// order, exactly once. The pump goroutine reads src to completion
// regardless of either branch's consumption, so accounting still sees the
// full output when the caller disconnects mid-stream. Terminal state
// (EOF or error) is replicated to both branches after all chunks.
func Tee(src *Stream) (*Stream, *Stream) {
	a, b := New(), New()
	go func() {
		for {
			chunk, err := src.Recv(context.Background())
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				a.Close(err)
				b.Close(err)
				return
			}
			_ = a.Send(chunk)
			_ = b.Send(chunk)
		}
	}()
	return a, b
}
