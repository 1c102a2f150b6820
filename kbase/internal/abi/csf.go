package abi

import "unsafe"

type CSQueueRegister struct {
	BufferGPUAddr uint64
	BufferSize    uint32
	Priority      uint8
	_             [3]uint8
}

type CSQueueKick struct {
	BufferGPUAddr uint64
}

// CSQueueBind is the input half of kbase_ioctl_cs_queue_bind
type CSQueueBind struct {
	BufferGPUAddr uint64
	GroupHandle   uint8
	CSIIndex      uint8
	_             [6]uint8
}

type CSQueueBindOut struct {
	MmapHandle uint64
}

func (b *CSQueueBind) Out() *CSQueueBindOut {
	return (*CSQueueBindOut)(unsafe.Pointer(b))
}

type CSQueueTerminate struct {
	BufferGPUAddr uint64
}

// CSQueueGroupCreate is the input half of kbase_ioctl_cs_queue_group_create_1_6
type CSQueueGroupCreate struct {
	TilerMask    uint64
	FragmentMask uint64
	ComputeMask  uint64
	CSMin        uint8
	Priority     uint8
	TilerMax     uint8
	FragmentMax  uint8
	ComputeMax   uint8
	_            [3]uint8
}

type CSQueueGroupCreateOut struct {
	GroupHandle uint8
	_           [3]uint8
	GroupUID    uint32
}

func (c *CSQueueGroupCreate) Out() *CSQueueGroupCreateOut {
	return (*CSQueueGroupCreateOut)(unsafe.Pointer(c))
}

type CSQueueGroupTerm struct {
	GroupHandle uint8
	_           [7]uint8
}

type KCPUQueueNew struct {
	ID uint8
	_  [7]uint8
}

type KCPUQueueDelete struct {
	ID uint8
	_  [7]uint8
}

type KCPUQueueEnqueue struct {
	Addr       uint64
	NrCommands uint32
	ID         uint8
	_          [3]uint8
}

// CSTilerHeapInit is the input half of kbase_ioctl_cs_tiler_heap_init
type CSTilerHeapInit struct {
	ChunkSize      uint32
	InitialChunks  uint32
	MaxChunks      uint32
	TargetInFlight uint16
	GroupID        uint8
	_              uint8
}

type CSTilerHeapInitOut struct {
	GPUHeapVA    uint64
	FirstChunkVA uint64
}

func (t *CSTilerHeapInit) Out() *CSTilerHeapInitOut {
	return (*CSTilerHeapInitOut)(unsafe.Pointer(t))
}

type CSTilerHeapTerm struct {
	GPUHeapVA uint64
}

var (
	IoctlCSQueueRegister    = IOW(Type, 36, uint32(unsafe.Sizeof(CSQueueRegister{})))
	IoctlCSQueueKick        = IOW(Type, 37, uint32(unsafe.Sizeof(CSQueueKick{})))
	IoctlCSQueueBind        = IOWR(Type, 39, uint32(unsafe.Sizeof(CSQueueBind{})))
	IoctlCSQueueTerminate   = IOW(Type, 41, uint32(unsafe.Sizeof(CSQueueTerminate{})))
	IoctlCSQueueGroupCreate = IOWR(Type, 42, uint32(unsafe.Sizeof(CSQueueGroupCreate{})))
	IoctlCSQueueGroupTerm   = IOW(Type, 43, uint32(unsafe.Sizeof(CSQueueGroupTerm{})))
	IoctlKCPUQueueCreate    = IOR(Type, 45, uint32(unsafe.Sizeof(KCPUQueueNew{})))
	IoctlKCPUQueueDelete    = IOW(Type, 46, uint32(unsafe.Sizeof(KCPUQueueDelete{})))
	IoctlKCPUQueueEnqueue   = IOW(Type, 47, uint32(unsafe.Sizeof(KCPUQueueEnqueue{})))
	IoctlCSTilerHeapInit    = IOWR(Type, 48, uint32(unsafe.Sizeof(CSTilerHeapInit{})))
	IoctlCSTilerHeapTerm    = IOW(Type, 49, uint32(unsafe.Sizeof(CSTilerHeapTerm{})))
)

// Notification types delivered through read() on a CSF kbase file
const (
	CSFNotificationEvent      uint8 = 0
	CSFNotificationGroupError uint8 = 1
	CSFNotificationQueueDump  uint8 = 2
)

// Queue group error types
const (
	GroupErrorFatal        uint8 = 0
	GroupQueueErrorFatal   uint8 = 1
	GroupErrorTimeout      uint8 = 2
	GroupErrorTilerHeapOOM uint8 = 3
)

// CSFNotification is base_csf_notification with the csg_error payload
// flattened. CSIIndex is only meaningful for GroupQueueErrorFatal.
type CSFNotification struct {
	Type      uint8
	_         [7]uint8
	Handle    uint8
	_         [7]uint8
	ErrorType uint8
	_         [7]uint8
	Sideband  uint64
	Status    uint32
	CSIIndex  uint8
	_         [3]uint8
	_         [24]uint8
}

// KCPU command types
const (
	KCPUCommandFenceSignal  uint8 = 0
	KCPUCommandFenceWait    uint8 = 1
	KCPUCommandCQSWait      uint8 = 2
	KCPUCommandCQSSet       uint8 = 3
	KCPUCommandCQSWaitOp    uint8 = 4
	KCPUCommandCQSSetOp     uint8 = 5
	KCPUCommandMapImport    uint8 = 6
	KCPUCommandUnmapImport  uint8 = 7
	KCPUCommandErrorBarrier uint8 = 12
)

const (
	CQSWaitOperationLE uint8 = 0
	CQSWaitOperationGT uint8 = 1

	CQSSetOperationAdd uint8 = 0
	CQSSetOperationSet uint8 = 1

	CQSDataTypeU32 uint8 = 0
	CQSDataTypeU64 uint8 = 1
)

// KCPUCommand is base_kcpu_command. Info holds the type specific payload:
// a fence pointer, or an objs pointer followed by a count.
type KCPUCommand struct {
	Type uint8
	_    [7]uint8
	Info [2]uint64
}

// Fence is base_fence
type Fence struct {
	FD       int32
	StreamFD int32
}

// CQSOperationInfo is shared by base_cqs_wait_operation_info and base_cqs_set_operation_info
type CQSOperationInfo struct {
	Addr      uint64
	Val       uint64
	Operation uint8
	DataType  uint8
	_         [6]uint8
}
