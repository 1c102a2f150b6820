package kbase

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kbase/kbase/internal/abi"
	"github.com/vkngwrapper/kbase/kbase/kernel"
	"golang.org/x/exp/slog"
)

// Atom is a JM job chain submission (base_jd_atom_v2)
type Atom = abi.JDAtomV2

// KCPUCommand is one command for a CSF KCPU queue (base_kcpu_command)
type KCPUCommand = abi.KCPUCommand

type MemAllocArgs struct {
	VAPages     uint64
	CommitPages uint64
	Extension   uint64
	Flags       uint64
}

type MemAllocResult struct {
	Flags uint64
	// GPUVA is the mmap cookie for SAME_VA allocations
	GPUVA uint64
}

type MemImportResult struct {
	Flags   uint64
	GPUVA   uint64
	VAPages uint64
}

type GroupCreateArgs struct {
	TilerMask    uint64
	FragmentMask uint64
	ComputeMask  uint64
	CSMin        uint8
	Priority     uint8
	TilerMax     uint8
	FragmentMax  uint8
	ComputeMax   uint8
}

type TilerHeapArgs struct {
	ChunkSize      uint32
	InitialChunks  uint32
	MaxChunks      uint32
	TargetInFlight uint16
}

// KernelDriver marshals requests for one generation of the kbase interface.
// Requests a generation has no equivalent for fail with ErrUnsupported.
type KernelDriver interface {
	API() API

	SetFlags(flags uint32) error
	GPUProps() (GPUProps, error)

	MemAlloc(args MemAllocArgs) (MemAllocResult, error)
	MemFree(va uint64) error
	MemImport(fd int, flags uint64) (MemImportResult, error)
	MemSync(handle uint64, cpu uintptr, size uint64, invalidate bool) error
	MemExecInit(vaPages uint64) error
	MemJITInit(vaPages uint64, maxAllocations uint8, physPages uint64) error

	// HandleEvents drains pending notifications and advances event slots.
	// It returns false if the GPU reported a fault.
	HandleEvents(d *Device) bool
	JobSubmit(atom *Atom) error

	GroupCreate(args GroupCreateArgs) (handle uint8, uid uint32, err error)
	GroupTerm(handle uint8) error
	TilerHeapInit(args TilerHeapArgs) (heapVA uint64, firstChunkVA uint64, err error)
	TilerHeapTerm(heapVA uint64) error
	QueueRegister(va uint64, size uint32, priority uint8) error
	QueueBind(va uint64, group uint8, csi uint8) (cookie uint64, err error)
	QueueTerminate(va uint64) error
	QueueKick(va uint64) error
	KCPUQueueCreate() (uint8, error)
	KCPUQueueDelete(id uint8) error
	KCPUEnqueue(id uint8, cmd *KCPUCommand) error
}

// driverBase carries what every generation needs to talk to the kernel and
// rejects every request. Generations override what they support.
type driverBase struct {
	kernel kernel.Kernel
	fd     int
	logger *slog.Logger
}

func (b *driverBase) ioctl(name string, request uint32, arg unsafe.Pointer) (int, error) {
	r, err := b.kernel.Ioctl(b.fd, request, arg)
	if err != nil {
		b.logger.Error("ioctl failed", "ioctl", name, "errno", err)
		return r, errors.Wrapf(err, "ioctl(%s)", name)
	}
	return r, nil
}

func unsupported(name string) error {
	return errors.Wrapf(ErrUnsupported, "%s", name)
}

func (b *driverBase) SetFlags(flags uint32) error { return unsupported("SetFlags") }
func (b *driverBase) GPUProps() (GPUProps, error) { return nil, unsupported("GPUProps") }
func (b *driverBase) MemAlloc(args MemAllocArgs) (MemAllocResult, error) {
	return MemAllocResult{}, unsupported("MemAlloc")
}
func (b *driverBase) MemFree(va uint64) error { return unsupported("MemFree") }
func (b *driverBase) MemImport(fd int, flags uint64) (MemImportResult, error) {
	return MemImportResult{}, unsupported("MemImport")
}
func (b *driverBase) MemSync(handle uint64, cpu uintptr, size uint64, invalidate bool) error {
	return unsupported("MemSync")
}
func (b *driverBase) MemExecInit(vaPages uint64) error { return unsupported("MemExecInit") }
func (b *driverBase) MemJITInit(vaPages uint64, maxAllocations uint8, physPages uint64) error {
	return unsupported("MemJITInit")
}
func (b *driverBase) HandleEvents(d *Device) bool { return true }
func (b *driverBase) JobSubmit(atom *Atom) error  { return unsupported("JobSubmit") }
func (b *driverBase) GroupCreate(args GroupCreateArgs) (uint8, uint32, error) {
	return 0, 0, unsupported("GroupCreate")
}
func (b *driverBase) GroupTerm(handle uint8) error { return unsupported("GroupTerm") }
func (b *driverBase) TilerHeapInit(args TilerHeapArgs) (uint64, uint64, error) {
	return 0, 0, unsupported("TilerHeapInit")
}
func (b *driverBase) TilerHeapTerm(heapVA uint64) error { return unsupported("TilerHeapTerm") }
func (b *driverBase) QueueRegister(va uint64, size uint32, priority uint8) error {
	return unsupported("QueueRegister")
}
func (b *driverBase) QueueBind(va uint64, group uint8, csi uint8) (uint64, error) {
	return 0, unsupported("QueueBind")
}
func (b *driverBase) QueueTerminate(va uint64) error     { return unsupported("QueueTerminate") }
func (b *driverBase) QueueKick(va uint64) error          { return unsupported("QueueKick") }
func (b *driverBase) KCPUQueueCreate() (uint8, error)    { return 0, unsupported("KCPUQueueCreate") }
func (b *driverBase) KCPUQueueDelete(id uint8) error     { return unsupported("KCPUQueueDelete") }
func (b *driverBase) KCPUEnqueue(id uint8, cmd *KCPUCommand) error {
	return unsupported("KCPUEnqueue")
}
