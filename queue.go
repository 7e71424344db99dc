package gfx

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/gfx/internal/pool"
	"github.com/gogpu/gfx/native"
)

// QueueKind selects the engine a queue or command buffer targets.
type QueueKind uint8

const (
	QueueGraphics QueueKind = iota
	QueueTransfer
	QueueCompute
)

func (k QueueKind) String() string { return k.native().String() }

func (k QueueKind) native() native.QueueKind {
	switch k {
	case QueueTransfer:
		return native.QueueTransfer
	case QueueCompute:
		return native.QueueCompute
	default:
		return native.QueueGraphics
	}
}

// accepts reports whether a queue of kind k can execute command buffers
// recorded for kind c. Graphics queues run everything, compute queues run
// compute and transfer work.
func (k QueueKind) accepts(c QueueKind) bool {
	switch k {
	case QueueGraphics:
		return true
	case QueueCompute:
		return c != QueueGraphics
	default:
		return c == QueueTransfer
	}
}

// QueueDesc describes a queue.
type QueueDesc struct {
	Name string
	Kind QueueKind
}

type queue struct {
	q    native.Queue
	kind QueueKind

	// idle is signalled by WaitIdle.
	idle     native.Fence
	idleNext uint64
}

func (q *queue) Release() {
	if q.idle != nil {
		q.idle.Release()
	}
	if q.q != nil {
		q.q.Release()
	}
}

type semaphore struct {
	fence native.Fence
}

func (s *semaphore) Release() {
	if s.fence != nil {
		s.fence.Release()
	}
}

// createQueue is CreateQueue without the guard.
func (b *Backend) createQueue(desc QueueDesc) (QueueID, error) {
	h, row, err := b.queues.Add()
	if err != nil {
		return 0, exhausted(err)
	}
	row.kind = desc.Kind
	row.q, err = b.dev.CreateQueue(desc.Kind.native())
	if err != nil {
		_ = b.queues.Remove(h)
		return 0, b.deviceError("create "+desc.Kind.String()+" queue", err)
	}
	row.idle, err = b.dev.CreateFence(0)
	if err != nil {
		_ = b.queues.Remove(h)
		return 0, b.deviceError("create queue fence", err)
	}
	b.log().Debug("gfx: queue created", "name", desc.Name, "kind", desc.Kind, "id", h)
	return QueueID(h), nil
}

// CreateQueue creates an additional queue.
func (b *Backend) CreateQueue(desc QueueDesc) (QueueID, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()
	return b.createQueue(desc)
}

// DestroyQueue destroys a queue created with CreateQueue. The default
// queues are owned by the backend and released by Close.
func (b *Backend) DestroyQueue(id QueueID) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	for _, d := range b.defaultQueues {
		if d == id {
			return fmt.Errorf("%w: default queue %v cannot be destroyed", ErrInvalidArgument, pool.Handle(id))
		}
	}
	return remove(b.queues, "queue", pool.Handle(id))
}

// GraphicsQueue returns the default graphics queue.
func (b *Backend) GraphicsQueue() QueueID { return b.defaultQueues[0] }

// TransferQueue returns the default transfer queue.
func (b *Backend) TransferQueue() QueueID { return b.defaultQueues[1] }

// ComputeQueue returns the default compute queue.
func (b *Backend) ComputeQueue() QueueID { return b.defaultQueues[2] }

// CreateSemaphore creates a timeline semaphore starting at initial.
func (b *Backend) CreateSemaphore(initial uint64) (SemaphoreID, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()
	h, row, err := b.semaphores.Add()
	if err != nil {
		return 0, exhausted(err)
	}
	row.fence, err = b.dev.CreateFence(initial)
	if err != nil {
		_ = b.semaphores.Remove(h)
		return 0, b.deviceError("create fence", err)
	}
	return SemaphoreID(h), nil
}

// DestroySemaphore releases a semaphore. Work that still signals or waits
// on it must have completed.
func (b *Backend) DestroySemaphore(id SemaphoreID) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	return remove(b.semaphores, "semaphore", pool.Handle(id))
}

// SemaphoreValue returns the last value the GPU signalled.
func (b *Backend) SemaphoreValue(id SemaphoreID) (uint64, error) {
	if err := b.enter(); err != nil {
		return 0, err
	}
	defer b.exit()
	s, err := lookup(b.semaphores, "semaphore", pool.Handle(id))
	if err != nil {
		return 0, err
	}
	return s.fence.CompletedValue(), nil
}

// QueueSignal enqueues a signal of sem to value after all work previously
// submitted to q.
func (b *Backend) QueueSignal(q QueueID, sem SemaphoreID, value uint64) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	qr, err := lookup(b.queues, "queue", pool.Handle(q))
	if err != nil {
		return err
	}
	s, err := lookup(b.semaphores, "semaphore", pool.Handle(sem))
	if err != nil {
		return err
	}
	if err := qr.q.Signal(s.fence, value); err != nil {
		return b.deviceError("queue signal", err)
	}
	return nil
}

// QueueWait makes q wait on the GPU until sem reaches value. The host does
// not block.
func (b *Backend) QueueWait(q QueueID, sem SemaphoreID, value uint64) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	qr, err := lookup(b.queues, "queue", pool.Handle(q))
	if err != nil {
		return err
	}
	s, err := lookup(b.semaphores, "semaphore", pool.Handle(sem))
	if err != nil {
		return err
	}
	if err := qr.q.Wait(s.fence, value); err != nil {
		return b.deviceError("queue wait", err)
	}
	return nil
}

// SubmitCommands submits closed command buffers to q in the given order
// as one native submission.
func (b *Backend) SubmitCommands(q QueueID, cmds ...CommandBufferID) error {
	if err := b.enter(); err != nil {
		return err
	}
	defer b.exit()
	qr, err := lookup(b.queues, "queue", pool.Handle(q))
	if err != nil {
		return err
	}
	lists := make([]native.CommandList, 0, len(cmds))
	for _, id := range cmds {
		c, err := lookup(b.cmdbufs, "command buffer", pool.Handle(id))
		if err != nil {
			return err
		}
		if c.state != stateClosed {
			return fmt.Errorf("%w: submit: command buffer %v is %s", ErrRecordingState, pool.Handle(id), c.state)
		}
		if !qr.kind.accepts(c.kind) {
			return fmt.Errorf("%w: submit: %s commands on a %s queue", ErrInvalidArgument, c.kind, qr.kind)
		}
		lists = append(lists, c.list)
	}
	if len(lists) == 0 {
		return nil
	}
	if err := qr.q.Submit(lists); err != nil {
		return b.deviceError("submit", err)
	}
	for _, id := range cmds {
		c, _ := b.cmdbufs.Get(pool.Handle(id))
		c.state = stateSubmitted
	}
	return nil
}

// fenceWaitSlice bounds one native wait so that context cancellation is
// observed promptly.
const fenceWaitSlice = 100 * time.Millisecond

// waitFence blocks until fence reaches value, ctx is done or the device
// reports an error. It must be called outside the guard.
func (b *Backend) waitFence(ctx context.Context, fence native.Fence, value uint64) error {
	for {
		if fence.CompletedValue() >= value {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		slice := fenceWaitSlice
		if dl, ok := ctx.Deadline(); ok {
			slice = min(slice, max(time.Until(dl), time.Millisecond))
		}
		ok, err := b.dev.WaitFence(fence, value, slice)
		if err != nil {
			return b.deviceError("wait fence", err)
		}
		if ok {
			return nil
		}
	}
}

// WaitSemaphore blocks until sem reaches value or ctx is done.
func (b *Backend) WaitSemaphore(ctx context.Context, sem SemaphoreID, value uint64) error {
	if err := b.enter(); err != nil {
		return err
	}
	s, err := lookup(b.semaphores, "semaphore", pool.Handle(sem))
	b.exit()
	if err != nil {
		return err
	}
	return b.waitFence(ctx, s.fence, value)
}

// WaitIdle blocks until every queue has finished the work submitted so
// far.
func (b *Backend) WaitIdle(ctx context.Context) error {
	if err := b.enter(); err != nil {
		return err
	}
	type pending struct {
		fence native.Fence
		value uint64
	}
	var waits []pending
	var serr error
	b.queues.Each(func(_ pool.Handle, q *queue) {
		if serr != nil {
			return
		}
		q.idleNext++
		if err := q.q.Signal(q.idle, q.idleNext); err != nil {
			serr = err
			return
		}
		waits = append(waits, pending{q.idle, q.idleNext})
	})
	b.exit()
	if serr != nil {
		return b.deviceError("wait idle", serr)
	}
	for _, w := range waits {
		if err := b.waitFence(ctx, w.fence, w.value); err != nil {
			return err
		}
	}
	return nil
}
