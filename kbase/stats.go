package kbase

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BuildStatsString describes the device as JSON: its interface, event slot
// progress, handle table and live syncobjs
func (d *Device) BuildStatsString() string {
	writer := jwriter.NewWriter()
	d.PrintStats(&writer)
	return string(writer.Bytes())
}

// PrintStats writes the BuildStatsString object to writer
func (d *Device) PrintStats(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	obj.Name("API").String(d.API().String())
	obj.Name("PageSize").Int(d.options.PageSize)
	obj.Name("Flags").String(d.options.Flags.String())
	obj.Name("Handles").Int(d.handles.Len())

	d.queueLock.Lock()
	defer d.queueLock.Unlock()

	slots := obj.Name("EventSlots").Array()
	for i := 0; i < d.eventSlotUsage; i++ {
		s := &d.eventSlots[i]

		slotObj := slots.Object()
		slotObj.Name("Slot").Int(i)
		slotObj.Name("Last").Float64(float64(s.last))
		slotObj.Name("LastSubmit").Float64(float64(s.lastSubmit))
		slotObj.Name("PendingCallbacks").Int(s.pending())
		slotObj.End()
	}
	slots.End()

	syncobjs := obj.Name("Syncobjs").Array()
	d.syncobjs.Iter(func(id uint64, o *Syncobj) bool {
		syncObj := syncobjs.Object()
		syncObj.Name("ID").Float64(float64(id))

		fences := syncObj.Name("Fences").Array()
		for _, f := range o.fences {
			fenceObj := fences.Object()
			fenceObj.Name("Slot").Int(int(f.Slot))
			fenceObj.Name("Value").Float64(float64(f.Value))
			fenceObj.End()
		}
		fences.End()

		syncObj.End()
		return false
	})
	syncobjs.End()
}
