package bo

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/sys/unix"
)

// Import wraps the dma-buf behind fd in a BO. Importing a buffer that
// already has a live BO returns that BO with another reference.
func (a *Allocator) Import(fd int) (*BO, error) {
	a.logger.Debug("Allocator::Import")

	handle, err := a.dev.ImportDmabuf(fd)
	if err != nil {
		return nil, err
	}

	a.mapLock.Lock()

	b := a.arena.Lookup(handle)
	found := b != nil

	if found {
		// A release that lost the race for the map lock leaves the count
		// at zero and backs off once it sees it raised
		if b.refcnt.Load() == 0 {
			b.refcnt.Store(1)
		} else {
			b.Reference()
		}
	} else {
		b, err = a.wrapImport(fd, handle)
		if err != nil {
			a.mapLock.Unlock()
			return nil, err
		}
	}

	a.mapLock.Unlock()

	a.log.write("import", b, fd, func(obj *jwriter.ObjectState) {
		obj.Name("NewFD").Int(b.dmabufFD)
		obj.Name("Found").Bool(found)
	})
	return b, nil
}

// wrapImport builds the BO for a newly imported handle. On failure the
// handle and its mapping are released. The caller must hold the map lock.
func (a *Allocator) wrapImport(fd int, handle int) (*BO, error) {
	h := a.dev.Handles().Get(handle)

	release := func() {
		if h.CPU != nil {
			if err := a.dev.Kernel().Munmap(h.CPU); err != nil {
				a.logger.Error("failed to unmap imported buffer", "handle", handle, "error", err)
			}
		}
		a.dev.Handles().Free(handle)
	}

	size, err := a.dev.Kernel().Seek(fd, 0, unix.SEEK_END)
	if err != nil {
		release()
		return nil, errors.Wrapf(err, "lseek(%d)", fd)
	}
	if size <= 0 {
		release()
		return nil, errors.Wrapf(ErrInvalidImport, "fd %d has size %d", fd, size)
	}

	b := &BO{
		allocator: a,
		gpu:       h.VA,
		cpu:       h.CPU,
		size:      int(size),
		flags:     Shared,
		handle:    handle,
		// kbase always maps dma-bufs cached
		cached: true,
		// The handle owns the duplicate made by the import
		dmabufFD: h.FD,
		cachedIn: -1,
	}

	if b.cpu == nil {
		cpu, err := a.dev.MmapImport(h.VA, b.size)
		if err != nil {
			release()
			return nil, err
		}
		b.cpu = cpu
		b.freeIoctl = true
	}

	b.refcnt.Store(1)
	a.arena.Put(handle, b)
	return b, nil
}
