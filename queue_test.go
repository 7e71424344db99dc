package gfx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreSignalAndWait(t *testing.T) {
	b, dev := newTestBackend(t)
	sem, err := b.CreateSemaphore(2)
	require.NoError(t, err)

	v, err := b.SemaphoreValue(sem)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	require.NoError(t, b.WaitSemaphore(context.Background(), sem, 1), "already reached")

	require.NoError(t, b.QueueSignal(b.GraphicsQueue(), sem, 5))
	require.NoError(t, b.WaitSemaphore(context.Background(), sem, 5))
	v, err = b.SemaphoreValue(sem)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)

	require.NoError(t, b.QueueWait(b.ComputeQueue(), sem, 5))
	assert.Equal(t, 1, dev.Log().Count("QueueWait"))
	require.NoError(t, b.DestroySemaphore(sem))
}

func TestWaitSemaphoreTimeout(t *testing.T) {
	b, dev := newTestBackend(t)
	sem, err := b.CreateSemaphore(0)
	require.NoError(t, err)

	dev.HoldSignals(true)
	require.NoError(t, b.QueueSignal(b.GraphicsQueue(), sem, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = b.WaitSemaphore(ctx, sem, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	dev.HoldSignals(false)
	require.NoError(t, b.WaitSemaphore(context.Background(), sem, 1))
}

func TestWaitSemaphoreCancel(t *testing.T) {
	b, dev := newTestBackend(t)
	sem, err := b.CreateSemaphore(0)
	require.NoError(t, err)
	dev.HoldSignals(true)
	require.NoError(t, b.QueueSignal(b.GraphicsQueue(), sem, 1))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	assert.ErrorIs(t, b.WaitSemaphore(ctx, sem, 1), context.Canceled)
}

func TestWaitSemaphoreWakesOnSignal(t *testing.T) {
	b, dev := newTestBackend(t)
	sem, err := b.CreateSemaphore(0)
	require.NoError(t, err)
	dev.HoldSignals(true)
	require.NoError(t, b.QueueSignal(b.TransferQueue(), sem, 3))

	go func() {
		time.Sleep(10 * time.Millisecond)
		dev.Flush()
	}()
	require.NoError(t, b.WaitSemaphore(context.Background(), sem, 3))
}

func TestWaitSemaphoreDoesNotHoldTheBackend(t *testing.T) {
	b, dev := newTestBackend(t)
	sem, err := b.CreateSemaphore(0)
	require.NoError(t, err)
	dev.HoldSignals(true)
	require.NoError(t, b.QueueSignal(b.GraphicsQueue(), sem, 1))

	done := make(chan error, 1)
	go func() { done <- b.WaitSemaphore(context.Background(), sem, 1) }()

	// Lifetime calls keep working while another goroutine waits.
	require.Eventually(t, func() bool {
		id, err := b.CreateSemaphore(0)
		if err != nil {
			return false
		}
		return b.DestroySemaphore(id) == nil
	}, time.Second, time.Millisecond)

	dev.Flush()
	require.NoError(t, <-done)
}

func TestWaitIdle(t *testing.T) {
	b, dev := newTestBackend(t)
	dev.HoldSignals(true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.WaitIdle(ctx), context.DeadlineExceeded)

	dev.HoldSignals(false)
	require.NoError(t, b.WaitIdle(context.Background()))
	assert.GreaterOrEqual(t, dev.Log().Count("Signal"), 6, "one idle signal per queue per call")
}

func TestQueues(t *testing.T) {
	b, dev := newTestBackend(t)

	assert.ErrorIs(t, b.DestroyQueue(b.GraphicsQueue()), ErrInvalidArgument)

	q, err := b.CreateQueue(QueueDesc{Name: "async copy", Kind: QueueTransfer})
	require.NoError(t, err)
	assert.Equal(t, 4, dev.Log().Count("CreateQueue"))

	cb := recordingBuffer(t, b, QueueTransfer)
	require.NoError(t, cb.Close())
	require.NoError(t, b.SubmitCommands(q, cb.ID()))
	require.NoError(t, b.SubmitCommands(q), "an empty submission is a no-op")
	assert.Equal(t, 1, dev.Log().Count("Submit"))

	require.NoError(t, b.DestroyQueue(q))
	assert.ErrorIs(t, b.SubmitCommands(q, cb.ID()), ErrInvalidHandle)
}

func TestQueueKindAccepts(t *testing.T) {
	tests := []struct {
		queue, cmds QueueKind
		want        bool
	}{
		{QueueGraphics, QueueGraphics, true},
		{QueueGraphics, QueueCompute, true},
		{QueueGraphics, QueueTransfer, true},
		{QueueCompute, QueueGraphics, false},
		{QueueCompute, QueueCompute, true},
		{QueueCompute, QueueTransfer, true},
		{QueueTransfer, QueueGraphics, false},
		{QueueTransfer, QueueCompute, false},
		{QueueTransfer, QueueTransfer, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.queue.accepts(tt.cmds), "%s queue, %s commands", tt.queue, tt.cmds)
	}
}
