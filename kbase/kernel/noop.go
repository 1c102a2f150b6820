package kernel

import (
	"encoding/binary"
	"sync"
	"time"
	"unsafe"

	"github.com/vkngwrapper/kbase/kbase/internal/abi"
	"golang.org/x/sys/unix"
)

// Cookies handed out by the simulated kernel
const (
	NoopCookieAlloc    = 0x41000
	NoopCookieUserIO   = 0x42000
	NoopCookieMemAlloc = 0x43000

	NoopHeapVA       = 0x60000
	NoopFirstChunkVA = 0x61000
)

const noopPageSize = 4096

// NoopGPUProps is the property table reported for a Mali-G610 as used in RK3588
var NoopGPUProps = []struct {
	Name  uint32
	Value uint32
}{
	{abi.GPUPropRawGPUID, 0xa8670000},
	{abi.GPUPropProductID, 0xa867},
	{abi.GPUPropRawShaderPresent, 0x50005},
	{abi.GPUPropRawTextureFeatures0, 0xc1ffff9e},
	{abi.GPUPropTLSAlloc, 0x800},
	{abi.GPUPropRawTilerFeatures, 0x809},
}

type noopFailure struct {
	errno unix.Errno
	count int
}

// Noop is a simulated CSF kbase kernel. Memory is backed by anonymous
// mappings, every mmap cookie is fixed, and notification records are only
// produced when a caller queues one with Notify or Inject. Descriptor
// operations other than the device's own fall through to the real kernel.
type Noop struct {
	lock     sync.Mutex
	records  [][]byte
	ready    chan struct{}
	calls    map[uint32]int
	failures map[uint32]*noopFailure
	mapped   int
	groups   uint32
	kcpu     uint8
}

var _ Kernel = &Noop{}
var _ Simulated = &Noop{}

func NewNoop() *Noop {
	return &Noop{
		ready:    make(chan struct{}, 1),
		calls:    make(map[uint32]int),
		failures: make(map[uint32]*noopFailure),
	}
}

func (n *Noop) Simulated() bool { return true }

// Notify queues a CSF event notification, as the kernel does after a
// CQS or event write from the GPU
func (n *Noop) Notify() {
	rec := make([]byte, unsafe.Sizeof(abi.CSFNotification{}))
	rec[0] = abi.CSFNotificationEvent
	n.Inject(rec)
}

// Inject queues a raw notification record to be returned by the next Read
func (n *Noop) Inject(rec []byte) {
	n.lock.Lock()
	n.records = append(n.records, rec)
	n.lock.Unlock()

	select {
	case n.ready <- struct{}{}:
	default:
	}
}

// FailNext makes the next count calls of request fail with errno
func (n *Noop) FailNext(request uint32, errno unix.Errno, count int) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.failures[request] = &noopFailure{errno: errno, count: count}
}

// Calls returns how many times request was issued, failed calls included
func (n *Noop) Calls(request uint32) int {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.calls[request]
}

// FailAllocations makes the next count memory allocations fail with errno
func (n *Noop) FailAllocations(errno unix.Errno, count int) {
	n.FailNext(abi.IoctlMemAlloc, errno, count)
}

// Allocations returns how many memory allocations were issued
func (n *Noop) Allocations() int {
	return n.Calls(abi.IoctlMemAlloc)
}

// Mapped returns the number of live simulated mappings
func (n *Noop) Mapped() int {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.mapped
}

func (n *Noop) Ioctl(fd int, request uint32, arg unsafe.Pointer) (int, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.calls[request]++
	if f := n.failures[request]; f != nil && f.count > 0 {
		f.count--
		return -1, f.errno
	}

	switch request {
	case abi.IoctlGetGPUProps:
		props := (*abi.GetGPUProps)(arg)
		buf := make([]byte, 0, len(NoopGPUProps)*8)
		for _, p := range NoopGPUProps {
			buf = binary.LittleEndian.AppendUint32(buf, abi.GPUPropKey(p.Name, 2))
			buf = binary.LittleEndian.AppendUint32(buf, p.Value)
		}
		if props.Size > 0 {
			dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(props.Buffer))), props.Size)
			copy(dst, buf)
		}
		return len(buf), nil

	case abi.IoctlMemAlloc:
		out := (*abi.MemAlloc)(arg).Out()
		out.GPUVA = NoopCookieAlloc
		out.Flags = abi.MemSameVA

	case abi.IoctlCSQueueGroupCreate:
		out := (*abi.CSQueueGroupCreate)(arg).Out()
		out.GroupHandle = uint8(n.groups)
		n.groups++
		out.GroupUID = n.groups

	case abi.IoctlCSTilerHeapInit:
		out := (*abi.CSTilerHeapInit)(arg).Out()
		out.GPUHeapVA = NoopHeapVA
		out.FirstChunkVA = NoopFirstChunkVA

	case abi.IoctlCSQueueBind:
		(*abi.CSQueueBind)(arg).Out().MmapHandle = NoopCookieUserIO

	case abi.IoctlMemImport:
		in := (*abi.MemImport)(arg)
		if in.Type != abi.MemImportTypeUMM {
			return -1, unix.EINVAL
		}
		dmabuf := *(*int32)(unsafe.Pointer(uintptr(in.PHandle)))
		size, err := unix.Seek(int(dmabuf), 0, unix.SEEK_END)
		if err != nil {
			return -1, err
		}
		out := in.Out()
		out.Flags = abi.MemNeedMmap
		out.GPUVA = NoopCookieMemAlloc
		out.VAPages = uint64(size+noopPageSize-1) / noopPageSize

	case abi.IoctlKCPUQueueCreate:
		(*abi.KCPUQueueNew)(arg).ID = n.kcpu
		n.kcpu++

	case abi.IoctlKCPUQueueEnqueue:
		return 0, n.kcpuEnqueue((*abi.KCPUQueueEnqueue)(arg))

	case abi.IoctlSetFlags,
		abi.IoctlMemExecInit,
		abi.IoctlMemJITInit,
		abi.IoctlMemFree,
		abi.IoctlMemSync,
		abi.IoctlCSQueueRegister,
		abi.IoctlCSQueueKick,
		abi.IoctlCSQueueTerminate,
		abi.IoctlCSTilerHeapTerm,
		abi.IoctlCSQueueGroupTerm,
		abi.IoctlKCPUQueueDelete:

	default:
		return -1, unix.ENOSYS
	}

	return 0, nil
}

func (n *Noop) kcpuEnqueue(enqueue *abi.KCPUQueueEnqueue) error {
	cmds := unsafe.Slice((*abi.KCPUCommand)(unsafe.Pointer(uintptr(enqueue.Addr))), enqueue.NrCommands)
	for _, cmd := range cmds {
		switch cmd.Type {
		case abi.KCPUCommandFenceSignal:
			fence := (*abi.Fence)(unsafe.Pointer(uintptr(cmd.Info[0])))
			fd, err := unix.Eventfd(1, unix.EFD_CLOEXEC)
			if err != nil {
				return err
			}
			fence.FD = int32(fd)
		case abi.KCPUCommandCQSSetOp:
			ops := unsafe.Slice((*abi.CQSOperationInfo)(unsafe.Pointer(uintptr(cmd.Info[0]))), uint32(cmd.Info[1]))
			for _, op := range ops {
				// SAME_VA memory: the GPU address is the CPU address
				word := (*uint64)(unsafe.Pointer(uintptr(op.Addr)))
				if op.Operation == abi.CQSSetOperationAdd {
					*word += op.Val
				} else {
					*word = op.Val
				}
			}
		case abi.KCPUCommandFenceWait, abi.KCPUCommandCQSWaitOp:
		default:
			return unix.EINVAL
		}
	}
	return nil
}

func (n *Noop) Mmap(fd int, offset int64, length int, prot int, flags int) ([]byte, error) {
	switch offset {
	case abi.MemMapTrackingHandle,
		abi.MemCSFUserRegPageHandle,
		NoopCookieAlloc,
		NoopCookieUserIO,
		NoopCookieMemAlloc:
	default:
		return nil, unix.ENOSYS
	}

	b, err := unix.Mmap(-1, 0, length, prot, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}

	n.lock.Lock()
	n.mapped++
	n.lock.Unlock()
	return b, nil
}

func (n *Noop) Munmap(b []byte) error {
	if err := unix.Munmap(b); err != nil {
		return err
	}

	n.lock.Lock()
	n.mapped--
	n.lock.Unlock()
	return nil
}

// Poll on the device waits for a queued record. Any other descriptor is
// treated as an idle dma-buf.
func (n *Noop) Poll(fd int, events int16, timeout time.Duration) (bool, error) {
	if fd >= 0 {
		return true, nil
	}

	if n.pending() {
		return true, nil
	}
	if timeout <= 0 {
		return false, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-n.ready:
		return true, nil
	case <-timer.C:
		return n.pending(), nil
	}
}

func (n *Noop) pending() bool {
	n.lock.Lock()
	defer n.lock.Unlock()

	return len(n.records) > 0
}

func (n *Noop) Read(fd int, p []byte) (int, error) {
	if fd >= 0 {
		return unix.Read(fd, p)
	}

	n.lock.Lock()
	defer n.lock.Unlock()

	if len(n.records) == 0 {
		return -1, unix.EAGAIN
	}

	rec := n.records[0]
	n.records = n.records[1:]
	return copy(p, rec), nil
}

func (n *Noop) Dup(fd int) (int, error) {
	return Unix{}.Dup(fd)
}

func (n *Noop) Close(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

func (n *Noop) Seek(fd int, offset int64, whence int) (int64, error) {
	return unix.Seek(fd, offset, whence)
}

func (n *Noop) SameFile(fd1, fd2 int) (bool, error) {
	return sameFile(fd1, fd2)
}

func (n *Noop) PageSize() int {
	return noopPageSize
}
