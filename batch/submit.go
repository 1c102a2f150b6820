package batch

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kbase/bo"
	"github.com/vkngwrapper/kbase/kbase"
	"golang.org/x/exp/slices"
)

// ErrSubmitted is returned when a batch is submitted a second time
var ErrSubmitted = errors.New("batch was already submitted")

// Submit runs the batch on the command streams. vsInsert and fsInsert are
// the ring offsets the vertex and fragment streams run up to. Buffer usages
// are recorded against the new sequence numbers before the streams are
// kicked. A batch that must sync resets the context when it does not
// complete.
func (c *Context) Submit(b *Batch, vsInsert, fsInsert uint64) error {
	c.logger.Debug("Context::Submit")

	if c.kctx == nil {
		return errors.Wrap(kbase.ErrUnsupported, "command stream submission needs a CSF GPU")
	}
	if b.submitted {
		return ErrSubmitted
	}
	b.submitted = true

	c.Vertex.Seqnum++
	if b.hasFragment {
		c.Fragment.Seqnum++
	}

	c.alloc.UsageLock()
	for usage := ReadVertex; usage < usageTypeCount; usage++ {
		write := usage.writes()

		deps := &b.vertDeps
		queue := c.Vertex
		if usage.fragment() {
			deps = &b.fragDeps
			queue = c.Fragment
		}

		for _, buffer := range b.resources[usage] {
			*deps = bo.UpdateDeps(*deps, buffer, write)
			buffer.MarkUsedLocked(bo.Usage{
				Queue:  queue.Slot(),
				Write:  write,
				Seqnum: queue.Seqnum,
			})
		}
	}

	if c.tilerHeap != nil {
		b.vertDeps = bo.UpdateDeps(b.vertDeps, c.tilerHeap, true)
		c.tilerHeap.MarkUsedLocked(bo.Usage{
			Queue:  c.Fragment.Slot(),
			Write:  true,
			Seqnum: c.Fragment.Seqnum,
		})
	}
	c.alloc.UsageUnlock()

	c.dev.QueueLock()
	b.vertDeps = bo.CleanDeps(c.dev, b.vertDeps)
	b.fragDeps = bo.CleanDeps(c.dev, b.fragDeps)
	c.dev.QueueUnlock()

	var err error
	if !c.dev.CSSubmit(c.Vertex.CS, vsInsert, c.syncobj, c.Vertex.Seqnum) {
		err = errors.Wrap(kbase.ErrNotBound, "vertex stream")
	}
	if !c.dev.CSSubmit(c.Fragment.CS, fsInsert, c.syncobj, c.Fragment.Seqnum) {
		err = errors.CombineErrors(err, errors.Wrap(kbase.ErrNotBound, "fragment stream"))
	}
	if err != nil {
		c.logger.Error("failed to submit batch", "error", err)
		return err
	}

	if !b.needsSync {
		return nil
	}

	reset := false
	if !c.dev.CSWait(c.Vertex.CS, vsInsert, c.syncobj) {
		reset = true
	}
	if !c.dev.CSWait(c.Fragment.CS, fsInsert, c.syncobj) {
		reset = true
	}

	if reset {
		if resetErr := c.Reset(); resetErr != nil {
			return errors.Wrap(resetErr, "failed to reset context after a timed out batch")
		}
	}
	return nil
}

// SubmitJobs runs the batch as an atom on a job manager GPU. jc is the GPU
// address of the first job descriptor and req the requirement flags, which
// SubmitFragment selects the fragment slot with. It returns the atom number.
func (c *Context) SubmitJobs(b *Batch, jc uint64, req uint32) (int, error) {
	c.logger.Debug("Context::SubmitJobs")

	if c.kctx != nil {
		return -1, errors.Wrap(kbase.ErrUnsupported, "job chains need a job manager GPU")
	}
	if b.submitted {
		return -1, ErrSubmitted
	}
	b.submitted = true

	handles := make([]int, 0, b.bos.Count()+1)
	b.bos.Iter(func(handle int, access bo.Access) bool {
		handles = append(handles, handle)
		if buffer := c.alloc.Lookup(handle); buffer != nil {
			buffer.MarkAccess(access)
		}
		return false
	})

	if c.tilerHeap != nil {
		if _, found := b.bos.Get(c.tilerHeap.Handle()); !found {
			handles = append(handles, c.tilerHeap.Handle())
			c.tilerHeap.MarkAccess(bo.AccessRW)
		}
	}
	slices.Sort(handles)

	// Retire finished atoms first so their numbers can be reused
	c.dev.EnsureHandleEvents()

	atom, err := c.dev.Submit(jc, req, c.syncobj, handles)
	if err != nil {
		return -1, err
	}

	if b.needsSync && !c.dev.SyncobjWait(c.syncobj) {
		c.logger.Warn("job chain did not complete", "atom", atom, "jc", jc)
	}
	return atom, nil
}
