package kbase

import (
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kbase/kbase/internal/abi"
	"golang.org/x/sys/unix"
)

// Offsets into a queue's user I/O mapping. The first page is the doorbell,
// the second holds registers written by the CPU and the third registers
// written by the GPU.
const (
	csInputPage  = 1
	csOutputPage = 2

	csInsert  = 0
	csExtract = 0
	csActive  = 8
)

// CommandStream is a ring buffer bound to one interface of a Context's queue
// group. Its progress is tracked by a dedicated event slot.
type CommandStream struct {
	ctx  *Context
	va   uint64
	size uint32
	csi  uint8

	eventSlot int

	userIO     []byte
	lastInsert uint64
}

func (cs *CommandStream) Context() *Context {
	return cs.ctx
}

func (cs *CommandStream) VA() uint64 {
	return cs.va
}

func (cs *CommandStream) Size() uint32 {
	return cs.size
}

func (cs *CommandStream) CSI() uint8 {
	return cs.csi
}

// EventSlot is the index of the stream's event record
func (cs *CommandStream) EventSlot() int {
	return cs.eventSlot
}

func (cs *CommandStream) LastInsert() uint64 {
	return cs.lastInsert
}

// SetLastInsert overrides the insert offset a submit compares against.
// Resetting it to 0 after a fault makes the next submit write CS_INSERT
// again.
func (cs *CommandStream) SetLastInsert(insert uint64) {
	cs.lastInsert = insert
}

// Bound reports whether the stream has user I/O pages to submit through
func (cs *CommandStream) Bound() bool {
	return cs.userIO != nil
}

func (cs *CommandStream) register(page, offset int) unsafe.Pointer {
	return unsafe.Pointer(&cs.userIO[page*len(cs.userIO)/abi.QueueUserIOPages+offset])
}

// ReadRegisters samples CS_EXTRACT and CS_ACTIVE from the output page
func (cs *CommandStream) ReadRegisters() (extract uint64, active uint32) {
	if cs.userIO == nil {
		return 0, 0
	}
	extract = atomic.LoadUint64((*uint64)(cs.register(csOutputPage, csExtract)))
	active = atomic.LoadUint32((*uint32)(cs.register(csOutputPage, csActive)))
	return extract, active
}

// Insert reads back CS_INSERT from the input page
func (cs *CommandStream) Insert() uint64 {
	if cs.userIO == nil {
		return 0
	}
	return atomic.LoadUint64((*uint64)(cs.register(csInputPage, csInsert)))
}

func (d *Device) bindNoEvent(cs *CommandStream) error {
	if err := d.driver.QueueRegister(cs.va, cs.size, 1); err != nil {
		return err
	}

	cookie, err := d.driver.QueueBind(cs.va, cs.ctx.csgHandle, cs.csi)
	if err != nil {
		return err
	}

	userIO, err := d.kernel.Mmap(d.fd, int64(cookie), abi.QueueUserIOPages*d.options.PageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		d.logger.Error("failed to map CS user I/O", "csi", cs.csi, "error", err)
		return errors.Wrap(err, "mmap(CS USER IO)")
	}
	cs.userIO = userIO
	return nil
}

// CSBind registers the ring at va with the next free interface of ctx and
// gives it an event slot
func (d *Device) CSBind(ctx *Context, va uint64, size uint32) (*CommandStream, error) {
	d.logger.Debug("Device::CSBind")

	cs := &CommandStream{
		ctx:  ctx,
		va:   va,
		size: size,
		csi:  ctx.numCSI,
	}
	ctx.numCSI++

	if err := d.bindNoEvent(cs); err != nil {
		return nil, err
	}

	d.queueLock.Lock()
	defer d.queueLock.Unlock()

	if d.eventSlotUsage >= MaxEventSlots {
		// The stream shares the newest slot and will see its progress
		d.logger.Error("too many command streams bound", "error", ErrTooManySlots)
		d.eventSlotUsage--
	}
	cs.eventSlot = d.eventSlotUsage
	d.eventSlotUsage++

	// Waits use the "greater than" condition, so start at 1 to allow
	// waiting before the first write. The zero error word avoids
	// inheriting faults.
	offset := cs.eventSlot * eventRecordSize
	atomic.StoreUint64(d.eventWord(offset), 1)
	atomic.StoreUint64(d.eventWord(offset+8), 0)
	atomic.StoreUint64(d.kcpuEventWord(offset), 0)
	atomic.StoreUint64(d.kcpuEventWord(offset+8), 0)

	s := &d.eventSlots[cs.eventSlot]
	s.last = 1
	s.lastSubmit = 1

	return cs, nil
}

// CSTerm unbinds the stream. Everything waiting on its slot is released, and
// syncobjs forget their fences on it.
func (d *Device) CSTerm(cs *CommandStream) {
	d.logger.Debug("Device::CSTerm")

	if cs.userIO != nil {
		if err := d.kernel.Munmap(cs.userIO); err != nil {
			d.logger.Error("failed to unmap CS user I/O", "csi", cs.csi, "error", err)
		}
		cs.userIO = nil
	}

	_ = d.driver.QueueTerminate(cs.va)

	d.queueLock.Lock()
	s := &d.eventSlots[cs.eventSlot]

	ready := d.takeCallbacksLocked(cs.eventSlot, ^uint64(0), nil)
	s.last = ^uint64(0)

	d.syncobjs.Iter(func(id uint64, o *Syncobj) bool {
		d.syncobjUpdateLocked(o)
		return false
	})

	s.last = 0
	d.queueLock.Unlock()

	runCallbacks(ready)
}

// CSRebind binds the stream again to the same interface, after its context
// was recreated. The event slot is kept. On failure the stream is left
// without user I/O and submits report false.
func (d *Device) CSRebind(cs *CommandStream) error {
	d.logger.Debug("Device::CSRebind")

	if cs.userIO != nil {
		if err := d.kernel.Munmap(cs.userIO); err != nil {
			d.logger.Error("failed to unmap CS user I/O", "csi", cs.csi, "error", err)
		}
		cs.userIO = nil
	}
	if err := d.bindNoEvent(cs); err != nil {
		return err
	}

	d.logger.Debug("bound csi again", "csi", cs.csi)
	return nil
}

// CSSubmit publishes insert as the new CS_INSERT, so the GPU runs the ring up
// to it. The work is complete once the ring's final instruction stores a
// value above seqnum in the event record, and o gains a fence on seqnum. It
// returns false if the stream is not bound.
func (d *Device) CSSubmit(cs *CommandStream, insert uint64, o *Syncobj, seqnum uint64) bool {
	d.logger.Debug("CommandStream::Submit")

	if d.verbose() {
		d.logger.Debug("submit", "csi", cs.csi, "seq", seqnum, "from", cs.lastInsert, "to", insert)
	}

	if cs.userIO == nil {
		return false
	}
	if insert == cs.lastInsert {
		return true
	}

	d.queueLock.Lock()
	d.submitLocked(cs.eventSlot, seqnum)
	if o != nil {
		o.UpdateFence(uint32(cs.eventSlot), seqnum)
	}
	d.queueLock.Unlock()

	// Atomic stores order the ring contents written before them
	atomic.StoreUint64((*uint64)(cs.register(csInputPage, csInsert)), insert)
	cs.lastInsert = insert

	if d.options.RingDoorbell {
		atomic.StoreUint32((*uint32)(cs.register(0, 0)), 1)
	}
	_ = d.driver.QueueKick(cs.va)

	return true
}

// CSWait waits for o's fences. On timeout the stream's registers are logged
// against extract, the offset it was expected to reach.
func (d *Device) CSWait(cs *CommandStream, extract uint64, o *Syncobj) bool {
	d.logger.Debug("CommandStream::Wait")

	if cs.userIO == nil {
		return false
	}

	if d.SyncobjWait(o) {
		return true
	}

	e, active := cs.ReadRegisters()

	d.queueLock.Lock()
	fences := o.Fences()
	d.queueLock.Unlock()

	d.logger.Error("command stream did not reach its extract offset",
		"csi", cs.csi,
		"extract", e,
		"expected", extract,
		"active", active,
		"fences", fences,
	)
	return false
}
