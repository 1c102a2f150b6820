package kbase

import (
	"runtime"
	"unsafe"

	"github.com/vkngwrapper/kbase/kbase/internal/abi"
)

// CsfKernelDriver speaks the Command Stream Frontend interface (API 2)
type CsfKernelDriver struct {
	kbaseDriver
}

var _ KernelDriver = &CsfKernelDriver{}

func (d *CsfKernelDriver) API() API {
	return APICSF
}

func (d *CsfKernelDriver) GroupCreate(args GroupCreateArgs) (uint8, uint32, error) {
	c := abi.CSQueueGroupCreate{
		TilerMask:    args.TilerMask,
		FragmentMask: args.FragmentMask,
		ComputeMask:  args.ComputeMask,
		CSMin:        args.CSMin,
		Priority:     args.Priority,
		TilerMax:     args.TilerMax,
		FragmentMax:  args.FragmentMax,
		ComputeMax:   args.ComputeMax,
	}
	if _, err := d.ioctl("CS_QUEUE_GROUP_CREATE", abi.IoctlCSQueueGroupCreate, unsafe.Pointer(&c)); err != nil {
		return 0, 0, err
	}

	out := c.Out()
	return out.GroupHandle, out.GroupUID, nil
}

func (d *CsfKernelDriver) GroupTerm(handle uint8) error {
	t := abi.CSQueueGroupTerm{GroupHandle: handle}
	_, err := d.ioctl("CS_QUEUE_GROUP_TERMINATE", abi.IoctlCSQueueGroupTerm, unsafe.Pointer(&t))
	return err
}

func (d *CsfKernelDriver) TilerHeapInit(args TilerHeapArgs) (uint64, uint64, error) {
	h := abi.CSTilerHeapInit{
		ChunkSize:      args.ChunkSize,
		InitialChunks:  args.InitialChunks,
		MaxChunks:      args.MaxChunks,
		TargetInFlight: args.TargetInFlight,
	}
	if _, err := d.ioctl("CS_TILER_HEAP_INIT", abi.IoctlCSTilerHeapInit, unsafe.Pointer(&h)); err != nil {
		return 0, 0, err
	}

	out := h.Out()
	return out.GPUHeapVA, out.FirstChunkVA, nil
}

func (d *CsfKernelDriver) TilerHeapTerm(heapVA uint64) error {
	t := abi.CSTilerHeapTerm{GPUHeapVA: heapVA}
	_, err := d.ioctl("CS_TILER_HEAP_TERM", abi.IoctlCSTilerHeapTerm, unsafe.Pointer(&t))
	return err
}

func (d *CsfKernelDriver) QueueRegister(va uint64, size uint32, priority uint8) error {
	r := abi.CSQueueRegister{
		BufferGPUAddr: va,
		BufferSize:    size,
		Priority:      priority,
	}
	_, err := d.ioctl("CS_QUEUE_REGISTER", abi.IoctlCSQueueRegister, unsafe.Pointer(&r))
	return err
}

func (d *CsfKernelDriver) QueueBind(va uint64, group uint8, csi uint8) (uint64, error) {
	b := abi.CSQueueBind{
		BufferGPUAddr: va,
		GroupHandle:   group,
		CSIIndex:      csi,
	}
	if _, err := d.ioctl("CS_QUEUE_BIND", abi.IoctlCSQueueBind, unsafe.Pointer(&b)); err != nil {
		return 0, err
	}
	return b.Out().MmapHandle, nil
}

func (d *CsfKernelDriver) QueueTerminate(va uint64) error {
	t := abi.CSQueueTerminate{BufferGPUAddr: va}
	_, err := d.ioctl("CS_QUEUE_TERMINATE", abi.IoctlCSQueueTerminate, unsafe.Pointer(&t))
	return err
}

func (d *CsfKernelDriver) QueueKick(va uint64) error {
	k := abi.CSQueueKick{BufferGPUAddr: va}
	_, err := d.ioctl("CS_QUEUE_KICK", abi.IoctlCSQueueKick, unsafe.Pointer(&k))
	return err
}

func (d *CsfKernelDriver) KCPUQueueCreate() (uint8, error) {
	q := abi.KCPUQueueNew{}
	if _, err := d.ioctl("KCPU_QUEUE_CREATE", abi.IoctlKCPUQueueCreate, unsafe.Pointer(&q)); err != nil {
		return 0, err
	}
	return q.ID, nil
}

func (d *CsfKernelDriver) KCPUQueueDelete(id uint8) error {
	q := abi.KCPUQueueDelete{ID: id}
	_, err := d.ioctl("KCPU_QUEUE_DELETE", abi.IoctlKCPUQueueDelete, unsafe.Pointer(&q))
	return err
}

// KCPUEnqueue submits one command. Failures are not logged here since EBUSY
// is routine and retried by the caller.
func (d *CsfKernelDriver) KCPUEnqueue(id uint8, cmd *KCPUCommand) error {
	var pinner runtime.Pinner
	defer pinner.Unpin()
	pinner.Pin(cmd)

	e := abi.KCPUQueueEnqueue{
		Addr:       uint64(uintptr(unsafe.Pointer(cmd))),
		NrCommands: 1,
		ID:         id,
	}
	_, err := d.kernel.Ioctl(d.fd, abi.IoctlKCPUQueueEnqueue, unsafe.Pointer(&e))
	return err
}

func (d *CsfKernelDriver) HandleEvents(device *Device) bool {
	return device.handleCSFEvents()
}
