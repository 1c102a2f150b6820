package kbase

// Fence is satisfied once the event slot's completed sequence number passes Value
type Fence struct {
	Slot  uint32
	Value uint64
}

// Syncobj is a set of fences, at most one per event slot. Its fences are
// guarded by the device's queue lock.
type Syncobj struct {
	id     uint64
	fences []Fence
}

func (o *Syncobj) ID() uint64 {
	return o.id
}

// AddFence appends a fence without merging. The caller must hold the queue lock.
func (o *Syncobj) AddFence(slot uint32, value uint64) {
	o.fences = append(o.fences, Fence{Slot: slot, Value: value})
}

// UpdateFence raises the fence on slot to value, adding one if the slot has
// none. The caller must hold the queue lock.
func (o *Syncobj) UpdateFence(slot uint32, value uint64) {
	for i := range o.fences {
		if o.fences[i].Slot == slot {
			if value > o.fences[i].Value {
				o.fences[i].Value = value
			}
			return
		}
	}

	o.AddFence(slot, value)
}

// Fences returns a copy of the outstanding fences. The caller must hold the
// queue lock.
func (o *Syncobj) Fences() []Fence {
	return append([]Fence(nil), o.fences...)
}

func (d *Device) SyncobjCreate() *Syncobj {
	d.queueLock.Lock()
	defer d.queueLock.Unlock()

	d.nextSyncobj++
	o := &Syncobj{id: d.nextSyncobj}
	d.syncobjs.Put(o.id, o)
	return o
}

func (d *Device) SyncobjDestroy(o *Syncobj) {
	d.queueLock.Lock()
	defer d.queueLock.Unlock()

	d.syncobjs.Delete(o.id)
	o.fences = nil
}

// SyncobjDup creates a new syncobj holding a copy of o's fences
func (d *Device) SyncobjDup(o *Syncobj) *Syncobj {
	dup := d.SyncobjCreate()

	d.queueLock.Lock()
	defer d.queueLock.Unlock()

	for _, f := range o.fences {
		dup.AddFence(f.Slot, f.Value)
	}
	return dup
}

// SyncobjUpdate drops the fences whose slot has passed them
func (d *Device) SyncobjUpdate(o *Syncobj) {
	d.queueLock.Lock()
	defer d.queueLock.Unlock()

	d.syncobjUpdateLocked(o)
}

func (d *Device) syncobjUpdateLocked(o *Syncobj) {
	kept := o.fences[:0]
	for _, f := range o.fences {
		last := d.eventSlots[f.Slot].last
		if last > f.Value {
			if d.verbose() {
				d.logger.Debug("fence signalled", "syncobj", o.id, "slot", f.Slot, "value", f.Value, "last", last)
			}
			continue
		}
		kept = append(kept, f)
	}

	for i := len(kept); i < len(o.fences); i++ {
		o.fences[i] = Fence{}
	}
	o.fences = kept
}

// SyncobjWait waits up to the device's WaitTimeout for every fence of o to
// signal
func (d *Device) SyncobjWait(o *Syncobj) bool {
	d.queueLock.Lock()
	empty := len(o.fences) == 0
	d.queueLock.Unlock()

	if empty {
		return true
	}

	wait := d.NewWait(d.options.WaitTimeout)
	defer wait.Done()

	for wait.Next() {
		d.queueLock.Lock()
		d.syncobjUpdateLocked(o)
		empty = len(o.fences) == 0
		d.queueLock.Unlock()

		if empty {
			return true
		}
	}

	d.queueLock.Lock()
	remaining := o.Fences()
	d.queueLock.Unlock()

	d.logger.Warn("syncobj wait timeout", "syncobj", o.id, "fences", remaining)
	return false
}
