package batch

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kbase/bo"
	"github.com/vkngwrapper/kbase/kbase"
	"golang.org/x/exp/slog"
)

// Queue is one command stream of a Context together with the ring it runs
// and the number of the last batch submitted to it
type Queue struct {
	CS     *kbase.CommandStream
	Ring   *bo.BO
	Seqnum uint64
}

// Slot is the event slot usages on this queue are recorded against
func (q *Queue) Slot() uint32 {
	return uint32(q.CS.EventSlot())
}

// Context submits batches. On CSF GPUs it owns a queue group with a vertex
// and a fragment command stream. On job manager GPUs batches go through the
// legacy atom interface and only the syncobj is used.
type Context struct {
	logger *slog.Logger
	dev    *kbase.Device
	alloc  *bo.Allocator

	kctx     *kbase.Context
	Vertex   *Queue
	Fragment *Queue

	syncobj   *kbase.Syncobj
	tilerHeap *bo.BO

	resets int
}

// NewContext creates a submission context with rings of ringSize bytes
func NewContext(dev *kbase.Device, alloc *bo.Allocator, ringSize uint32) (*Context, error) {
	c := &Context{
		logger: dev.Logger(),
		dev:    dev,
		alloc:  alloc,
	}
	c.logger.Debug("Context::New")

	if dev.API() != kbase.APICSF {
		c.syncobj = dev.SyncobjCreate()
		return c, nil
	}

	kctx, err := dev.ContextCreate()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create the GPU context")
	}
	c.kctx = kctx

	c.Vertex, err = c.newQueue(ringSize, "Vertex CS ring")
	if err != nil {
		c.Destroy()
		return nil, err
	}

	c.Fragment, err = c.newQueue(ringSize, "Fragment CS ring")
	if err != nil {
		c.Destroy()
		return nil, err
	}

	c.syncobj = dev.SyncobjCreate()
	return c, nil
}

func (c *Context) newQueue(ringSize uint32, label string) (*Queue, error) {
	ring, err := c.alloc.Create(int(ringSize), bo.Cacheable, label)
	if err != nil {
		return nil, err
	}

	cs, err := c.dev.CSBind(c.kctx, ring.GPU(), ringSize)
	if err != nil {
		ring.Unreference()
		return nil, errors.Wrapf(err, "failed to bind %s", label)
	}

	return &Queue{CS: cs, Ring: ring}, nil
}

func (c *Context) Device() *kbase.Device {
	return c.dev
}

// KbaseContext is nil on job manager GPUs
func (c *Context) KbaseContext() *kbase.Context {
	return c.kctx
}

func (c *Context) Syncobj() *kbase.Syncobj {
	return c.syncobj
}

// Resets counts the context resets after faults
func (c *Context) Resets() int {
	return c.resets
}

func (c *Context) TilerHeap() *bo.BO {
	return c.tilerHeap
}

// SetTilerHeap makes heap the tiler heap descriptor used by the following
// batches. Each batch then writes it from the fragment queue, so only one
// batch uses a heap at a time.
func (c *Context) SetTilerHeap(heap *bo.BO) {
	if heap != nil {
		heap.Reference()
	}
	if c.tilerHeap != nil {
		c.tilerHeap.Unreference()
	}
	c.tilerHeap = heap
}

// Reset recovers the context after a fault. Both streams are terminated and
// the queue group recreated. Unless the allocator runs synchronously the
// streams are bound again; otherwise they stay unbound and later submits
// fail, so the fault is noticed.
func (c *Context) Reset() error {
	c.logger.Debug("Context::Reset")

	if c.kctx == nil {
		return errors.Wrap(kbase.ErrUnsupported, "only CSF contexts are reset")
	}
	c.logger.Error("context reset", "resets", c.resets+1)
	c.resets++

	queues := []*Queue{c.Vertex, c.Fragment}

	for _, q := range queues {
		c.dev.CSTerm(q.CS)
	}

	recreated := c.dev.ContextRecreate(c.kctx)
	if recreated != nil {
		c.logger.Error("failed to recreate the GPU context", "error", recreated)
	}

	var err error
	if recreated == nil && !c.alloc.Options().Sync {
		for _, q := range queues {
			if rebindErr := c.dev.CSRebind(q.CS); rebindErr != nil {
				err = errors.CombineErrors(err, rebindErr)
			}
		}
	}

	for _, q := range queues {
		q.CS.SetLastInsert(0)

		// The faulted work never completes, so retire it
		slot := q.CS.EventSlot()
		_, lastSubmit := c.dev.SlotState(slot)
		c.dev.SetEventSeq(slot, lastSubmit)
		c.dev.Advance(slot, lastSubmit)
	}

	c.SetTilerHeap(nil)

	return errors.CombineErrors(recreated, err)
}

// FenceCreate returns a syncobj holding the fences of everything submitted
// so far. The caller owns it and releases it with FenceDestroy.
func (c *Context) FenceCreate() *kbase.Syncobj {
	return c.dev.SyncobjDup(c.syncobj)
}

// FenceWait waits for a fence from FenceCreate
func (c *Context) FenceWait(fence *kbase.Syncobj) bool {
	return c.dev.SyncobjWait(fence)
}

func (c *Context) FenceDestroy(fence *kbase.Syncobj) {
	c.dev.SyncobjDestroy(fence)
}

// Wait waits for everything submitted on the context
func (c *Context) Wait() bool {
	c.logger.Debug("Context::Wait")

	return c.dev.SyncobjWait(c.syncobj)
}

// Destroy releases the rings, the streams and the queue group
func (c *Context) Destroy() {
	c.logger.Debug("Context::Destroy")

	c.SetTilerHeap(nil)

	// Dropped before the streams are terminated, which releases the
	// deferred frees waiting on them
	for _, q := range []*Queue{c.Vertex, c.Fragment} {
		if q != nil {
			q.Ring.Unreference()
		}
	}
	for _, q := range []*Queue{c.Vertex, c.Fragment} {
		if q != nil {
			c.dev.CSTerm(q.CS)
		}
	}
	c.Vertex = nil
	c.Fragment = nil

	if c.kctx != nil {
		c.dev.ContextDestroy(c.kctx)
		c.kctx = nil
	}
	if c.syncobj != nil {
		c.dev.SyncobjDestroy(c.syncobj)
		c.syncobj = nil
	}
}
