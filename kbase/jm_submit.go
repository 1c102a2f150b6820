package kbase

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kbase/kbase/internal/abi"
	"golang.org/x/sys/unix"
)

// SubmitFragment marks a job chain for the fragment slot. Other chains run
// on the vertex/tiler slot.
const SubmitFragment uint32 = 1 << 0

// Submit queues the job chain at va on a Job Manager device and returns its
// atom number. Buffers in handles are implicitly synchronized against the
// atoms that last touched them, and stay marked busy until the atom
// completes. If o is non-nil it gains a fence on the atom.
func (d *Device) Submit(va uint64, req uint32, o *Syncobj, handles []int) (int, error) {
	d.logger.Debug("Device::Submit")

	slot := 1
	if req&SubmitFragment != 0 {
		slot = 0
	}

	t := d.handles
	t.lock.Lock()

	nr := d.atomNumber
	d.atomNumber++

	atom := Atom{
		JC:         va,
		AtomNumber: nr,
	}
	atom.UData[0] = d.jobSeq
	d.jobSeq++

	if d.atomHandles[nr] != nil {
		t.lock.Unlock()
		panic(errors.Newf("atom %d is still in flight", nr))
	}
	d.atomHandles[nr] = append(make([]int, 0, len(handles)), handles...)

	deps, extres := t.markUsedLocked(handles, slot, nr)
	t.lock.Unlock()

	d.queueLock.Lock()
	d.submitLocked(int(nr), atom.UData[0])
	if o != nil {
		o.UpdateFence(uint32(nr), atom.UData[0])
	}
	d.queueLock.Unlock()

	for s, dep := range deps {
		if dep != nr {
			atom.PreDep[s] = abi.JDDependency{AtomID: dep, DependencyType: abi.JDDepTypeOrder}
		}
	}

	var pinner runtime.Pinner
	defer pinner.Unpin()

	if len(extres) > 0 {
		pinner.Pin(&extres[0])
		atom.CoreReq |= abi.JDReqExternalResources
		atom.NrExtres = uint16(len(extres))
		atom.ExtresList = uint64(uintptr(unsafe.Pointer(&extres[0])))
	}

	if slot == 0 {
		atom.CoreReq |= abi.JDReqFS
	} else {
		atom.CoreReq |= abi.JDReqCS | abi.JDReqT
	}

	if d.verbose() {
		d.logger.Debug("submitting atom", "atom", nr, "seq", atom.UData[0], "deps", deps, "extres", len(extres))
	}

	if err := d.driver.JobSubmit(&atom); err != nil {
		t.lock.Lock()
		t.releaseLocked(d.atomHandles[nr])
		d.atomHandles[nr] = nil
		t.lock.Unlock()
		return -1, err
	}

	return int(nr), nil
}

// handleJobEvents drains completed atoms, releasing their buffers
func (d *Device) handleJobEvents() bool {
	ok := true

	var event abi.JDEventV2
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&event)), unsafe.Sizeof(event))

	for {
		n, err := d.kernel.Read(d.fd, buf)
		if errors.Is(err, unix.EAGAIN) {
			return ok
		}
		if err != nil {
			d.logger.Error("failed to read kbase events", "error", err)
			return false
		}
		if n != len(buf) {
			d.logger.Error("short kbase event read", "size", n, "expected", len(buf))
			return false
		}

		if event.EventCode != abi.JDEventDone {
			d.logger.Error("atom reported an event", "atom", event.AtomNumber, "event", event.EventCode)
			ok = false
		}

		nr := event.AtomNumber

		t := d.handles
		t.lock.Lock()
		t.releaseLocked(d.atomHandles[nr])
		d.atomHandles[nr] = nil
		t.lock.Unlock()

		d.Advance(int(nr), event.UData[0]+1)
	}
}
