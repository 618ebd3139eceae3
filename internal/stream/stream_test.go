package stream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_OrderedDelivery(t *testing.T) {
	s := New()
	require.NoError(t, s.Send([]byte("one")))
	require.NoError(t, s.Send([]byte("two")))
	require.NoError(t, s.Send([]byte("three")))
	s.Close(nil)

	ctx := context.Background()
	for _, want := range []string{"one", "two", "three"} {
		chunk, err := s.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(chunk))
	}
	_, err := s.Recv(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestStream_SendAfterClose(t *testing.T) {
	s := New()
	s.Close(nil)
	assert.Equal(t, ErrClosed, s.Send([]byte("late")))
}

func TestStream_ErrorDeliveredAfterBufferedChunks(t *testing.T) {
	s := New()
	require.NoError(t, s.Send([]byte("partial")))
	boom := errors.New("upstream reset")
	s.Close(boom)

	ctx := context.Background()
	chunk, err := s.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "partial", string(chunk))

	_, err = s.Recv(ctx)
	assert.Equal(t, boom, err)
}

func TestStream_RecvBlocksUntilSend(t *testing.T) {
	s := New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = s.Send([]byte("delayed"))
	}()

	chunk, err := s.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "delayed", string(chunk))
}

func TestStream_RecvContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := s.Recv(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("Recv did not observe context cancellation")
	}
}

func TestStream_Drain(t *testing.T) {
	s := New()
	_ = s.Send([]byte("a"))
	_ = s.Send([]byte("b"))
	s.Close(nil)

	chunks, err := s.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a", string(chunks[0]))
	assert.Equal(t, "b", string(chunks[1]))
}

func TestStream_DrainAbnormalEnd(t *testing.T) {
	s := New()
	_ = s.Send([]byte("a"))
	boom := errors.New("mid-stream failure")
	s.Close(boom)

	chunks, err := s.Drain(context.Background())
	assert.Equal(t, boom, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a", string(chunks[0]))
}

func TestTee_BothBranchesSeeEverything(t *testing.T) {
	src := New()
	a, b := Tee(src)

	for _, c := range []string{"1", "2", "3"} {
		_ = src.Send([]byte(c))
	}
	src.Close(nil)

	ctx := context.Background()
	aChunks, aErr := a.Drain(ctx)
	bChunks, bErr := b.Drain(ctx)
	require.NoError(t, aErr)
	require.NoError(t, bErr)
	assert.Len(t, aChunks, 3)
	assert.Len(t, bChunks, 3)
	assert.Equal(t, "2", string(aChunks[1]))
	assert.Equal(t, "2", string(bChunks[1]))
}

// An abandoned branch must not stall the other: the tee's unbounded
// buffers decouple the two consumers completely.
func TestTee_AbandonedBranchDoesNotStallTheOther(t *testing.T) {
	src := New()
	a, b := Tee(src)
	_ = a // never consumed

	for i := 0; i < 1000; i++ {
		_ = src.Send([]byte("chunk"))
	}
	src.Close(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	chunks, err := b.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, chunks, 1000)
}

func TestTee_ReplicatesTerminalError(t *testing.T) {
	src := New()
	a, b := Tee(src)

	_ = src.Send([]byte("partial"))
	boom := errors.New("connection reset")
	src.Close(boom)

	ctx := context.Background()
	aChunks, aErr := a.Drain(ctx)
	bChunks, bErr := b.Drain(ctx)

	require.EqualError(t, aErr, "connection reset")
	require.EqualError(t, bErr, "connection reset")
	assert.Len(t, aChunks, 1)
	assert.Len(t, bChunks, 1)
}
