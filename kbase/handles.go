package kbase

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kbase/internal/utils"
	"github.com/vkngwrapper/kbase/memutils"
)

// SlotCount is the number of JM job slots tracked per handle
const SlotCount = 2

const (
	// HandleNoFD marks a handle without a file descriptor of its own
	HandleNoFD = -1
	// handleFreed marks a table slot available for reuse
	handleFreed = -2
)

// Handle is one entry of the GEM handle table. On JM, UseCount is the number
// of in-flight atoms referencing the buffer and LastAccess holds the newest
// atom number that touched it on each job slot. CPU is set for imported
// buffers the kernel required mapping.
type Handle struct {
	VA         uint64
	CPU        []byte
	FD         int
	UseCount   uint8
	LastAccess [SlotCount]uint8
}

// HandleTable maps small integer handles to GPU address ranges, the way a DRM
// driver maps GEM handles. Freed entries are reused before the table grows.
type HandleTable struct {
	device *Device
	lock   utils.OptionalMutex

	handles []Handle
}

var _ memutils.Validatable = &HandleTable{}

func newHandleTable(device *Device, useMutex bool) *HandleTable {
	return &HandleTable{
		device: device,
		lock:   utils.OptionalMutex{UseMutex: useMutex},
	}
}

// Alloc stores va and returns its handle. Unless fd is HandleNoFD, the table
// takes ownership of fd and closes it when the handle is freed.
func (t *HandleTable) Alloc(va uint64, fd int) int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.allocLocked(va, fd)
}

func (t *HandleTable) allocLocked(va uint64, fd int) int {
	h := Handle{VA: va, FD: fd}

	for i := range t.handles {
		if t.handles[i].FD == handleFreed {
			t.handles[i] = h
			return i
		}
	}

	t.handles = append(t.handles, h)
	memutils.DebugValidate(t)
	return len(t.handles) - 1
}

// Free releases a handle. Out of range handles are ignored.
func (t *HandleTable) Free(handle int) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if handle < 0 || handle >= len(t.handles) {
		return
	}

	fd := t.handles[handle].FD
	t.handles[handle] = Handle{FD: handleFreed}

	// Keep the tail live so a later Alloc never lands past a hole
	for len(t.handles) > 0 && t.handles[len(t.handles)-1].FD == handleFreed {
		t.handles = t.handles[:len(t.handles)-1]
	}
	memutils.DebugValidate(t)

	if fd >= 0 {
		if err := t.device.kernel.Close(fd); err != nil {
			t.device.logger.Error("failed to close handle fd", "handle", handle, "fd", fd, "error", err)
		}
	}
}

// Get returns a copy of the entry. An out of range handle reads as an
// entry without a file descriptor.
func (t *HandleTable) Get(handle int) Handle {
	t.lock.Lock()
	defer t.lock.Unlock()

	if handle < 0 || handle >= len(t.handles) {
		return Handle{FD: HandleNoFD}
	}
	h := t.handles[handle]
	if h.FD == handleFreed {
		h.FD = HandleNoFD
	}
	return h
}

func (t *HandleTable) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.handles)
}

func (t *HandleTable) Validate() error {
	if len(t.handles) > 0 && t.handles[len(t.handles)-1].FD == handleFreed {
		return errors.Newf("handle table ends with a freed slot (%d)", len(t.handles)-1)
	}

	for i, h := range t.handles {
		if h.FD == handleFreed && h.UseCount != 0 {
			return errors.Newf("freed handle %d still has %d users", i, h.UseCount)
		}
	}

	return nil
}

// findFileLocked returns the handle whose descriptor shares fd's open file
// description, or -1
func (t *HandleTable) findFileLocked(fd int) int {
	for i, h := range t.handles {
		if h.FD < 0 {
			continue
		}

		same, err := t.device.kernel.SameFile(h.FD, fd)
		if err != nil {
			t.device.logger.Error("failed to compare file descriptions", "fd1", h.FD, "fd2", fd, "error", err)
			continue
		}
		if same {
			return i
		}
	}

	return -1
}

// markUsedLocked records an atom on slot for every handle and returns the
// newest atoms the new one must be ordered after, per slot. External
// resources are the VAs of imported handles.
func (t *HandleTable) markUsedLocked(handles []int, slot int, nr uint8) (deps [SlotCount]uint8, extres []uint64) {
	for s := range deps {
		deps[s] = nr
	}

	for _, h := range handles {
		if h < 0 || h >= len(t.handles) {
			panic(errors.Newf("atom %d references invalid handle %d", nr, h))
		}
		entry := &t.handles[h]
		if entry.UseCount == 255 {
			panic(errors.Newf("handle %d is used by too many atoms", h))
		}

		// Implicit sync against whatever last touched the buffer
		if entry.UseCount > 0 {
			for s := range deps {
				deps[s] = latestSlot(deps[s], entry.LastAccess[s], nr)
			}
		}

		entry.LastAccess[slot] = nr
		entry.UseCount++

		if entry.FD != HandleNoFD {
			extres = append(extres, entry.VA)
		}
	}

	return deps, extres
}

// releaseLocked drops one use from each handle an atom held
func (t *HandleTable) releaseLocked(handles []int) {
	for _, h := range handles {
		if h < 0 || h >= len(t.handles) {
			continue
		}
		if t.handles[h].UseCount == 0 {
			panic(errors.Newf("handle %d released more times than it was used", h))
		}
		t.handles[h].UseCount--
	}
}

// WaitIdle blocks until no in-flight atom references handle
func (t *HandleTable) WaitIdle(handle int, timeout time.Duration) error {
	t.device.logger.Debug("HandleTable::WaitIdle")

	wait := t.device.wait.NewWait(timeout)
	defer wait.Done()

	for wait.Next() {
		t.lock.Lock()
		if handle < 0 || handle >= len(t.handles) {
			t.lock.Unlock()
			return errors.Wrapf(ErrInvalidHandle, "handle %d", handle)
		}
		idle := t.handles[handle].UseCount == 0
		t.lock.Unlock()

		if idle {
			return nil
		}
	}

	return errors.Wrapf(ErrTimeout, "handle %d", handle)
}

// latestSlot picks whichever of a and b was submitted most recently,
// counting atom numbers backwards from newest with uint8 wraparound
func latestSlot(a, b, newest uint8) uint8 {
	a -= newest
	b -= newest
	if b > a {
		a = b
	}
	return a + newest
}

// closeAll closes every descriptor the table still owns
func (t *HandleTable) closeAll() {
	if t == nil {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	for i, h := range t.handles {
		if h.FD >= 0 {
			if err := t.device.kernel.Close(h.FD); err != nil {
				t.device.logger.Error("failed to close handle fd", "handle", i, "fd", h.FD, "error", err)
			}
		}
	}
	t.handles = nil
}
