package kbase

import (
	"runtime"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kbase/kbase/internal/abi"
	"golang.org/x/sys/unix"
)

// kcpuRetryTimeout bounds how long an enqueue waits for a full KCPU queue
const kcpuRetryTimeout = time.Second

func (d *Device) kcpuQueueCreate(c *Context) error {
	if c.kcpuInit {
		return nil
	}

	id, err := d.driver.KCPUQueueCreate()
	if err != nil {
		return err
	}
	c.kcpuID = id
	c.kcpuInit = true
	return nil
}

func (d *Device) kcpuQueueDestroy(c *Context) {
	if !c.kcpuInit {
		return
	}

	_ = d.driver.KCPUQueueDelete(c.kcpuID)
	c.kcpuInit = false
}

// kcpuCommand enqueues cmd on the context's KCPU queue, creating the queue on
// first use. The kernel limits a queue to 256 pending commands and reports
// EBUSY past that, so the enqueue is retried as events drain it.
func (d *Device) kcpuCommand(c *Context, cmd *KCPUCommand) error {
	if err := d.kcpuQueueCreate(c); err != nil {
		return err
	}

	err := d.driver.KCPUEnqueue(c.kcpuID, cmd)
	if err == nil {
		return nil
	}

	wait := d.NewWait(kcpuRetryTimeout)
	defer wait.Done()

	for errors.Is(err, unix.EBUSY) && wait.Next() {
		err = d.driver.KCPUEnqueue(c.kcpuID, cmd)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EBUSY):
		d.logger.Warn("KCPU queue stayed full", "queue", c.kcpuID)
		return errors.Wrapf(ErrTimeout, "ioctl(KCPU_QUEUE_ENQUEUE): %v", err)
	default:
		d.logger.Error("ioctl failed", "ioctl", "KCPU_QUEUE_ENQUEUE", "errno", err)
		return errors.Wrap(err, "ioctl(KCPU_QUEUE_ENQUEUE)")
	}
}

// KCPUFenceExport returns a sync file that signals once the GPU work queued
// on the context so far is done
func (d *Device) KCPUFenceExport(c *Context) (int, error) {
	d.logger.Debug("Device::KCPUFenceExport")

	fence := &abi.Fence{FD: -1}

	var pinner runtime.Pinner
	defer pinner.Unpin()
	pinner.Pin(fence)

	cmd := KCPUCommand{Type: abi.KCPUCommandFenceSignal}
	cmd.Info[0] = uint64(uintptr(unsafe.Pointer(fence)))

	if err := d.kcpuCommand(c, &cmd); err != nil {
		return -1, err
	}
	return int(fence.FD), nil
}

// KCPUFenceImport makes later work on the context wait for the sync file fd
func (d *Device) KCPUFenceImport(c *Context, fd int) error {
	d.logger.Debug("Device::KCPUFenceImport")

	fence := &abi.Fence{FD: int32(fd)}

	var pinner runtime.Pinner
	defer pinner.Unpin()
	pinner.Pin(fence)

	cmd := KCPUCommand{Type: abi.KCPUCommandFenceWait}
	cmd.Info[0] = uint64(uintptr(unsafe.Pointer(fence)))

	return d.kcpuCommand(c, &cmd)
}

func (d *Device) cqsCommand(c *Context, cmdType uint8, info *abi.CQSOperationInfo) error {
	var pinner runtime.Pinner
	defer pinner.Unpin()
	pinner.Pin(info)

	cmd := KCPUCommand{Type: cmdType}
	cmd.Info[0] = uint64(uintptr(unsafe.Pointer(info)))
	// One object, and for waits no inherited error flags
	cmd.Info[1] = 1

	return d.kcpuCommand(c, &cmd)
}

// KCPUCQSSet sets the 64 bit sync object at addr to value
func (d *Device) KCPUCQSSet(c *Context, addr uint64, value uint64) error {
	d.logger.Debug("Device::KCPUCQSSet")

	return d.cqsCommand(c, abi.KCPUCommandCQSSetOp, &abi.CQSOperationInfo{
		Addr:      addr,
		Val:       value,
		Operation: abi.CQSSetOperationSet,
		DataType:  abi.CQSDataTypeU64,
	})
}

// KCPUCQSWait blocks the KCPU queue until the 64 bit sync object at addr is
// greater than value
func (d *Device) KCPUCQSWait(c *Context, addr uint64, value uint64) error {
	d.logger.Debug("Device::KCPUCQSWait")

	return d.cqsCommand(c, abi.KCPUCommandCQSWaitOp, &abi.CQSOperationInfo{
		Addr:      addr,
		Val:       value,
		Operation: abi.CQSWaitOperationGT,
		DataType:  abi.CQSDataTypeU64,
	})
}
