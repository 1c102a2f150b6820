package kbase

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kbase/kbase/internal/abi"
	"golang.org/x/sys/unix"
)

// readNotification consumes one CSF notification. Reading clears the
// kernel's event count, so one read per pass is enough.
func (d *Device) readNotification() bool {
	var event abi.CSFNotification
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&event)), unsafe.Sizeof(event))

	n, err := d.kernel.Read(d.fd, buf)
	if errors.Is(err, unix.EAGAIN) {
		return true
	}
	if err != nil {
		d.logger.Error("failed to read kbase events", "error", err)
		return false
	}
	if n != len(buf) {
		d.logger.Error("short kbase event read", "size", n, "expected", len(buf))
		return false
	}

	switch event.Type {
	case abi.CSFNotificationEvent:
		if d.verbose() {
			d.logger.Debug("notification event")
		}
		return true
	case abi.CSFNotificationGroupError:
	case abi.CSFNotificationQueueDump:
		d.logger.Warn("CPU queue dump requested")
		return true
	default:
		d.logger.Warn("unknown notification", "type", event.Type)
		return true
	}

	switch event.ErrorType {
	case abi.GroupErrorFatal:
		d.logger.Error("queue group error", "group", event.Handle, "status", event.Status, "sideband", event.Sideband)
	case abi.GroupQueueErrorFatal:
		d.logger.Error("queue error", "group", event.Handle, "csi", event.CSIIndex, "status", event.Status, "sideband", event.Sideband)
	case abi.GroupErrorTimeout:
		d.logger.Error("command stream timeout", "group", event.Handle)
	case abi.GroupErrorTilerHeapOOM:
		d.logger.Error("command stream out of tiler heap memory", "group", event.Handle)
	default:
		d.logger.Error("unknown queue group error", "group", event.Handle, "error", event.ErrorType)
	}
	return false
}

// handleCSFEvents reads the pending notification, then advances every bound
// slot to the sequence number in its event record
func (d *Device) handleCSFEvents() bool {
	ok := d.readNotification()

	if d.eventMem == nil {
		return ok
	}

	var ready []func()

	d.queueLock.Lock()
	for i := 0; i < d.eventSlotUsage; i++ {
		seq := d.EventSeq(i)
		if d.verbose() {
			d.logger.Debug("event record", "slot", i, "seq", seq, "last", d.eventSlots[i].last)
		}
		ready = d.advanceLocked(i, seq, ready)
	}
	d.queueLock.Unlock()

	runCallbacks(ready)
	return ok
}
