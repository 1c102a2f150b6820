package kbase

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kbase/memutils"
)

// MaxEventSlots is the number of 16 byte event records in the event page
const MaxEventSlots = 256

// eventRecordSize is the stride of the event page: a sequence word and an
// error word per slot
const eventRecordSize = 16

type syncLink struct {
	seqnum   uint64
	callback func()
}

// EventSlot tracks the progress of one command stream (CSF) or one atom
// number (JM). Submitting work numbered s sets lastSubmit to s+1, and the
// GPU reports s+1 once it has finished, so work s is complete when
// last > s.
type EventSlot struct {
	last       uint64
	lastSubmit uint64

	// in registration order, which is also seqnum order
	links []syncLink
}

func (s *EventSlot) pending() int {
	return len(s.links)
}

func (s *EventSlot) appendLink(seqnum uint64, callback func()) {
	s.links = append(s.links, syncLink{seqnum: seqnum, callback: callback})
}

// take removes every link that seqnum has passed, stopping at the first one
// that is not ready yet, and appends their callbacks to ready
func (s *EventSlot) take(seqnum uint64, ready []func()) []func() {
	n := 0
	for n < len(s.links) && seqnum > s.links[n].seqnum {
		ready = append(ready, s.links[n].callback)
		s.links[n] = syncLink{}
		n++
	}

	if n == len(s.links) {
		s.links = s.links[:0]
	} else {
		s.links = s.links[n:]
	}
	return ready
}

func (s *EventSlot) Validate() error {
	if s.last > s.lastSubmit && s.last != ^uint64(0) {
		return errors.Newf("event slot completed %d past its last submit %d", s.last, s.lastSubmit)
	}
	for i := 1; i < len(s.links); i++ {
		if s.links[i].seqnum < s.links[i-1].seqnum {
			return errors.Newf("callback %d (%d) is ordered before %d", i, s.links[i].seqnum, s.links[i-1].seqnum)
		}
	}
	return nil
}

// Validate checks the handle table and every bound event slot
func (d *Device) Validate() error {
	if err := d.handles.Validate(); err != nil {
		return errors.Wrap(err, "handle table")
	}

	d.queueLock.Lock()
	defer d.queueLock.Unlock()

	for i := 0; i < d.eventSlotUsage; i++ {
		if err := d.eventSlots[i].Validate(); err != nil {
			return errors.Wrapf(err, "event slot %d", i)
		}
	}
	return nil
}

// QueueLock takes the lock guarding event slots and syncobjs
func (d *Device) QueueLock() {
	d.queueLock.Lock()
}

func (d *Device) QueueUnlock() {
	d.queueLock.Unlock()
}

// EventSlotUsage is the number of event slots bound so far. The caller must
// hold the queue lock.
func (d *Device) EventSlotUsage() int {
	return d.eventSlotUsage
}

// SlotStateLocked returns the completed and submitted sequence numbers of a
// slot. The caller must hold the queue lock.
func (d *Device) SlotStateLocked(slot int) (last uint64, lastSubmit uint64) {
	s := &d.eventSlots[slot]
	return s.last, s.lastSubmit
}

// SlotState is SlotStateLocked taking the queue lock
func (d *Device) SlotState(slot int) (last uint64, lastSubmit uint64) {
	d.queueLock.Lock()
	defer d.queueLock.Unlock()

	return d.SlotStateLocked(slot)
}

// UpdateQueueCallbacks fires the callbacks of slot that seqnum has passed
func (d *Device) UpdateQueueCallbacks(slot int, seqnum uint64) {
	d.queueLock.Lock()
	ready := d.takeCallbacksLocked(slot, seqnum, nil)
	d.queueLock.Unlock()

	runCallbacks(ready)
}

// takeCallbacksLocked collects the callbacks seqnum has released. They are
// run once the queue lock is dropped, since they may free buffers and take
// locks that are held by callers of CallbackAllQueues.
func (d *Device) takeCallbacksLocked(slot int, seqnum uint64, ready []func()) []func() {
	before := len(ready)
	ready = d.eventSlots[slot].take(seqnum, ready)
	if len(ready) > before && d.verbose() {
		d.logger.Debug("callbacks ready", "slot", slot, "seqnum", seqnum, "count", len(ready)-before)
	}
	return ready
}

func runCallbacks(ready []func()) {
	for _, cb := range ready {
		cb()
	}
}

// Advance records that the GPU reported seqnum on slot. Reports that go
// backwards are dropped, and nothing is considered complete past the last
// submission.
func (d *Device) Advance(slot int, seqnum uint64) {
	d.queueLock.Lock()
	ready := d.advanceLocked(slot, seqnum, nil)
	d.queueLock.Unlock()

	runCallbacks(ready)
}

func (d *Device) advanceLocked(slot int, seqnum uint64, ready []func()) []func() {
	s := &d.eventSlots[slot]

	if seqnum < s.last {
		if d.verbose() {
			d.logger.Debug("sequence number went backward", "slot", slot, "last", s.last, "seqnum", seqnum)
		}
		return ready
	}

	if seqnum > s.lastSubmit {
		seqnum = s.lastSubmit
	}

	ready = d.takeCallbacksLocked(slot, seqnum, ready)
	s.last = seqnum
	memutils.DebugValidate(s)
	return ready
}

// submitLocked notes that work numbered seqnum was queued on slot
func (d *Device) submitLocked(slot int, seqnum uint64) {
	s := &d.eventSlots[slot]
	if seqnum+1 > s.lastSubmit {
		s.lastSubmit = seqnum + 1
	}
}

// CallbackAllQueues arranges for cb to run once every busy slot has drained
// the work submitted so far. Each callback added is counted into count, and
// the return value reports whether any were added. When it returns false
// every slot was idle and cb will not run.
func (d *Device) CallbackAllQueues(count *atomic.Int32, cb func()) bool {
	d.queueLock.Lock()
	defer d.queueLock.Unlock()

	added := int32(0)
	for i := 0; i < d.eventSlotUsage; i++ {
		s := &d.eventSlots[i]

		if s.last == s.lastSubmit {
			continue
		}

		s.appendLink(s.lastSubmit-1, cb)
		added++
	}

	count.Add(added)
	return added != 0
}
