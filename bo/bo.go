package bo

import (
	"container/list"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kbase/kbase"
	"github.com/vkngwrapper/kbase/memutils"
)

// BO is a GPU buffer object. A BO with no references left is either waiting
// for the GPU to finish with it, sitting in its allocator's cache, or freed.
type BO struct {
	allocator *Allocator

	gpu    uint64
	cpu    []byte
	size   int
	flags  Flags
	label  string
	handle int

	refcnt    atomic.Int32
	gpuRefcnt atomic.Int32

	// guarded by the allocator's usage lock
	usage     []Usage
	gpuAccess atomic.Uint32

	// guarded by the cache lock
	lastUsed   int64
	cachedIn   int
	bucketElem *list.Element
	lruElem    *list.Element

	freeIoctl bool
	cached    bool
	dmabufFD  int
	freed     bool
}

func sliceAddress(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// GPU is the buffer's GPU virtual address
func (b *BO) GPU() uint64 {
	return b.gpu
}

// CPU is the buffer's CPU mapping
func (b *BO) CPU() []byte {
	if len(b.cpu) > b.size {
		return b.cpu[:b.size]
	}
	return b.cpu
}

func (b *BO) Size() int {
	return b.size
}

func (b *BO) Flags() Flags {
	return b.flags
}

func (b *BO) Label() string {
	return b.label
}

// Handle is the BO's GEM handle in the device's handle table
func (b *BO) Handle() int {
	return b.handle
}

// Cached reports whether the CPU mapping is cached and needs explicit
// cleaning and invalidation
func (b *BO) Cached() bool {
	return b.cached
}

func (b *BO) Refcount() int32 {
	return b.refcnt.Load()
}

// GPUAccess is the set of access kinds the GPU may still have pending
func (b *BO) GPUAccess() Access {
	return Access(b.gpuAccess.Load())
}

func (b *BO) orAccess(access Access) {
	for {
		old := b.gpuAccess.Load()
		if b.gpuAccess.CompareAndSwap(old, old|uint32(access)) {
			return
		}
	}
}

func (b *BO) maskAccess(access Access) {
	for {
		old := b.gpuAccess.Load()
		if b.gpuAccess.CompareAndSwap(old, old&uint32(access)) {
			return
		}
	}
}

// Reference takes another reference to a live BO
func (b *BO) Reference() {
	if b == nil {
		return
	}

	if count := b.refcnt.Add(1); count == 1 {
		panic(errors.Newf("buffer object %d (%s) was referenced after its release", b.handle, b.label))
	}
}

// Unreference drops a reference. When the last one goes, the BO returns to
// the cache, or is freed, once every queue that may be using it has drained
// the work submitted so far.
func (b *BO) Unreference() {
	if b == nil {
		return
	}

	count := b.refcnt.Add(-1)
	if count < 0 {
		panic(errors.Newf("buffer object %d (%s) was released more times than it was referenced", b.handle, b.label))
	}
	if count > 0 {
		return
	}

	a := b.allocator
	a.log.write("free", b, a.handleFD(b), nil)

	a.mapLock.Lock()
	defer a.mapLock.Unlock()

	// An import may have revived it while the lock was taken
	if b.refcnt.Load() != 0 {
		return
	}

	a.usageLock.Lock()
	b.usage = nil
	a.usageLock.Unlock()

	if a.dev.CallbackAllQueues(&b.gpuRefcnt, b.freeGPU) {
		return
	}

	a.log.write("immfree", b, a.handleFD(b), nil)
	a.fini(b)
}

// freeGPU runs once per queue the release waited for. The last one to run
// finishes the release.
func (b *BO) freeGPU() {
	if b.gpuRefcnt.Add(-1) != 0 {
		return
	}

	a := b.allocator
	a.mapLock.Lock()
	defer a.mapLock.Unlock()

	if b.refcnt.Load() != 0 {
		return
	}

	a.log.write("gpufree", b, a.handleFD(b), nil)
	a.fini(b)
}

// MarkUsedLocked records that u accesses b and adds the access to the pending
// GPU access set. The caller must hold the allocator's usage lock.
func (b *BO) MarkUsedLocked(u Usage) {
	b.usage, _ = AddUsageAfter(b.usage, u, 0)

	access := AccessRead
	if u.Write {
		access = AccessRW
	}
	b.orAccess(access)
}

// MarkAccess records a pending GPU access that the kernel tracks through
// the handle table, as legacy job submission does.
func (b *BO) MarkAccess(access Access) {
	b.orAccess(access & AccessRW)
}

// UsageLocked returns a copy of the usage list. The caller must hold the
// allocator's usage lock.
func (b *BO) UsageLocked() []Usage {
	return append([]Usage(nil), b.usage...)
}

// usageFinished reports whether every usage that matters has completed.
// Write usages always matter, reads only when readers is set.
func (b *BO) usageFinished(readers bool) bool {
	a := b.allocator

	a.usageLock.Lock()
	defer a.usageLock.Unlock()

	a.dev.QueueLock()
	defer a.dev.QueueUnlock()

	slots := a.dev.EventSlotUsage()
	for _, u := range b.usage {
		if !u.Write && !readers {
			continue
		}

		// Sorted by queue, so everything after this is unbound too
		if int(u.Queue) >= slots {
			break
		}

		last, lastSubmit := a.dev.SlotStateLocked(int(u.Queue))
		seqnum, ok := submittedSeqnum(u.Seqnum, lastSubmit)
		if !ok {
			continue
		}

		if last <= seqnum {
			return false
		}
	}

	return true
}

// Wait blocks until the GPU is done writing b, and reading it as well when
// waitReaders is set. It reports false if that did not happen in time.
func (b *BO) Wait(timeout time.Duration, waitReaders bool) bool {
	a := b.allocator
	a.logger.Debug("BO::Wait")

	// Imported and exported buffers may be used by someone else
	if b.flags&Shared == 0 {
		access := b.GPUAccess()
		if access == 0 {
			return true
		}
		if !waitReaders && access&AccessWrite == 0 {
			return true
		}
	}

	if !a.csf {
		if err := a.dev.Handles().WaitIdle(b.handle, timeout); err != nil {
			if !errors.Is(err, kbase.ErrTimeout) {
				a.logger.Error("failed to wait for buffer object", "handle", b.handle, "error", err)
			}
			return false
		}
		b.gpuAccess.Store(0)
		return true
	}

	wait := a.dev.NewWait(timeout)
	for wait.Next() {
		if b.usageFinished(waitReaders) {
			break
		}
	}
	wait.Done()

	ready := b.usageFinished(waitReaders)
	if ready && b.flags&Shared != 0 {
		ready = a.dev.PollFdUntil(b.dmabufFD, waitReaders, wait.Deadline())
	}

	if ready {
		if waitReaders {
			b.gpuAccess.Store(0)
		} else {
			b.maskAccess(AccessRead)
		}
	} else {
		a.logger.Warn("timed out waiting for buffer object", "handle", b.handle, "label", b.label)
	}
	return ready
}

func (b *BO) memOp(offset, length int, invalidate bool) error {
	if err := memutils.CheckRange(offset, length, b.size); err != nil {
		return err
	}

	if !b.cached {
		return nil
	}

	return b.allocator.dev.MemSync(b.gpu, b.cpu[offset:offset+length], invalidate)
}

// MemInvalidate drops stale CPU cache lines over a range, before the CPU
// reads what the GPU wrote
func (b *BO) MemInvalidate(offset, length int) error {
	return b.memOp(offset, length, true)
}

// MemClean writes back CPU cache lines over a range, before the GPU reads
// what the CPU wrote
func (b *BO) MemClean(offset, length int) error {
	return b.memOp(offset, length, false)
}

// Export returns a new descriptor for an imported buffer. kbase cannot
// export its own allocations.
func (b *BO) Export() (int, error) {
	a := b.allocator
	a.logger.Debug("BO::Export")

	if b.dmabufFD < 0 {
		return -1, errors.Wrapf(kbase.ErrUnsupported, "exporting buffer object %d", b.handle)
	}

	fd, err := a.dev.Kernel().Dup(b.dmabufFD)
	if err != nil {
		return -1, errors.Wrapf(err, "dup(%d)", b.dmabufFD)
	}
	return fd, nil
}
