package bo

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kbase/internal/utils"
	"github.com/vkngwrapper/kbase/kbase"
	"github.com/vkngwrapper/kbase/memutils"
	"golang.org/x/exp/slog"
)

// Allocator creates buffer objects on a kbase device. Released buffers are
// kept in a cache of power-of-two size buckets and handed out again to later
// requests with the same flags.
type Allocator struct {
	logger  *slog.Logger
	dev     *kbase.Device
	options Options
	csf     bool
	log     *eventLog

	// mapLock serializes releases against imports
	mapLock utils.OptionalMutex
	// usageLock guards every BO's usage list
	usageLock utils.OptionalMutex

	cache boCache
	arena *arena

	// now returns monotonic whole seconds
	now   func() int64
	epoch time.Time

	allocations atomic.Int64
	frees       atomic.Int64
	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
}

// New creates an allocator for dev
func New(logger *slog.Logger, dev *kbase.Device, options Options) *Allocator {
	options.setDefaults()

	// Deferred frees run on the CSF event poller
	csf := dev.API() == kbase.APICSF
	useMutex := csf || dev.Options().Flags&kbase.CreateExternallySynchronized == 0

	a := &Allocator{
		logger:    logger,
		dev:       dev,
		options:   options,
		csf:       csf,
		mapLock:   utils.OptionalMutex{UseMutex: useMutex},
		usageLock: utils.OptionalMutex{UseMutex: useMutex},
		arena:     newArena(useMutex),
		epoch:     time.Now(),
	}
	a.now = func() int64 {
		return int64(time.Since(a.epoch) / time.Second)
	}
	a.cache.init(options.bucketCount(), useMutex)

	if options.EventLog != nil {
		a.log = &eventLog{out: options.EventLog, logger: logger}
	}

	return a
}

func (a *Allocator) Device() *kbase.Device {
	return a.dev
}

func (a *Allocator) Options() Options {
	return a.options
}

// UsageLock takes the lock guarding every BO's usage list
func (a *Allocator) UsageLock() {
	a.usageLock.Lock()
}

func (a *Allocator) UsageUnlock() {
	a.usageLock.Unlock()
}

// Lookup returns the live BO owning handle, or nil
func (a *Allocator) Lookup(handle int) *BO {
	return a.arena.Lookup(handle)
}

func (a *Allocator) handleFD(b *BO) int {
	if !a.log.enabled() {
		return kbase.HandleNoFD
	}
	return a.dev.Handles().Get(b.handle).FD
}

// Create returns a BO of at least size bytes, taken from the cache when a
// suitable one is there. When the kernel is out of memory, Create processes
// GPU events so pending releases can finish, empties the cache, and tries
// again a few times with growing delays.
func (a *Allocator) Create(size int, flags Flags, label string) (*BO, error) {
	a.logger.Debug("Allocator::Create")

	if size <= 0 {
		return nil, errors.Newf("buffer object size %d is not positive", size)
	}
	if flags&Shared != 0 {
		return nil, errors.Wrapf(ErrShared, "creating %s", label)
	}
	if flags&Growable != 0 && flags&Invisible == 0 {
		return nil, errors.Newf("growable buffer object %s must be invisible", label)
	}

	// Tiny buffers would only fragment the cache
	size = memutils.AlignUp(size, pageAlign)

	b := a.cacheFetch(size, flags, label, false)
	var err error
	if b == nil {
		a.misses.Add(1)
		b, err = a.alloc(size, flags, label)
	}
	if b == nil {
		// Something may have been released while the allocation failed
		b = a.cacheFetch(size, flags, label, true)
	}
	if b == nil {
		err = backoff.Retry(func() error {
			a.dev.EnsureHandleEvents()
			a.EvictAll()

			var allocErr error
			b, allocErr = a.alloc(size, flags, label)
			return allocErr
		}, &retryBackOff{})
	}

	if b == nil {
		a.logger.Error("buffer object creation failed", "size", size, "flags", flags, "label", label, "error", err)
		return nil, errors.WithSecondaryError(errors.Wrapf(ErrOutOfMemory, "creating %s of %d bytes", label, size), err)
	}

	if a.options.ClearOnCreate && flags&Invisible == 0 {
		clear(b.cpu)
		if err := b.MemClean(0, b.size); err != nil {
			a.logger.Error("failed to clean cleared buffer object", "handle", b.handle, "error", err)
		}
	}

	b.refcnt.Store(1)
	b.usage = nil

	a.log.write("alloc", b, kbase.HandleNoFD, nil)
	return b, nil
}

// retryBackOff spaces the allocation retries quadratically. The first retry
// runs at once.
type retryBackOff struct {
	attempt int
}

func (r *retryBackOff) NextBackOff() time.Duration {
	r.attempt++
	if r.attempt >= createRetries {
		return backoff.Stop
	}
	return createRetryDelay * time.Duration(r.attempt*r.attempt)
}

func (r *retryBackOff) Reset() {
	r.attempt = 0
}

func (a *Allocator) alloc(size int, flags Flags, label string) (*BO, error) {
	var panFlags uint32
	if flags&Growable != 0 {
		panFlags |= kbase.AllocHeap
	}
	if flags&Execute == 0 {
		panFlags |= kbase.AllocNoExec
	}

	cached := false
	if flags&Cacheable != 0 {
		if !a.options.UncachedCPU {
			panFlags |= kbase.AllocCachedCPU
			cached = true
		}
		if a.options.UncachedGPU {
			panFlags |= kbase.AllocUncachedGPU
		}
	}

	var maliFlags uint64
	if flags&Event != 0 {
		maliFlags = kbase.AllocEventMem
	}

	ptr, err := a.dev.Alloc(size, panFlags, maliFlags)
	if err != nil {
		return nil, err
	}

	b := &BO{
		allocator: a,
		gpu:       ptr.GPU,
		cpu:       ptr.CPU,
		size:      size,
		flags:     flags,
		label:     label,
		freeIoctl: sliceAddress(ptr.CPU) != ptr.GPU,
		cached:    cached,
		dmabufFD:  -1,
		cachedIn:  -1,
	}
	b.handle = a.dev.Handles().Alloc(ptr.GPU, kbase.HandleNoFD)
	a.arena.Put(b.handle, b)

	a.allocations.Add(1)
	return b, nil
}

// free returns the BO's memory and handle to the kernel
func (a *Allocator) free(b *BO) {
	a.log.write("memfree", b, a.handleFD(b), nil)

	if b.cpu != nil {
		if err := a.dev.Kernel().Munmap(b.cpu); err != nil {
			a.logger.Error("failed to unmap buffer object", "handle", b.handle, "error", err)
		}
		b.cpu = nil
	}
	if b.freeIoctl {
		if err := a.dev.Free(b.gpu); err != nil {
			a.logger.Error("failed to free buffer object", "handle", b.handle, "va", b.gpu, "error", err)
		}
	}

	a.arena.Delete(b.handle)
	a.dev.Handles().Free(b.handle)

	b.usage = nil
	b.dmabufFD = -1
	b.freed = true
	a.frees.Add(1)
}

// fini caches a released BO, or frees it if it cannot be cached
func (a *Allocator) fini(b *BO) {
	if !a.cachePut(b) {
		a.free(b)
	}
}
