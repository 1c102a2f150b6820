package abi

// Memory allocation flags shared by all kbase generations (base_mem_alloc_flags)
const (
	MemProtCPURead  uint64 = 1 << 0
	MemProtCPUWrite uint64 = 1 << 1
	MemProtGPURead  uint64 = 1 << 2
	MemProtGPUWrite uint64 = 1 << 3
	MemProtGPUExec  uint64 = 1 << 4

	MemGrowOnGPF      uint64 = 1 << 9
	MemCoherentSystem uint64 = 1 << 10
	MemCoherentLocal  uint64 = 1 << 11
	MemCachedCPU      uint64 = 1 << 12
	MemSameVA         uint64 = 1 << 13
	MemNeedMmap       uint64 = 1 << 14
	MemCSFEvent       uint64 = 1 << 19
	MemUncachedGPU    uint64 = 1 << 21
)

// EventMemFlags is used for the shared event page
const EventMemFlags = MemProtCPURead | MemProtCPUWrite | MemProtGPURead | MemProtGPUWrite | MemSameVA | MemCSFEvent

// Fixed mmap offsets understood by the kbase file
const (
	MemMapTrackingHandle    int64 = 3 << 12
	MemCSFUserRegPageHandle int64 = 47 << 12
	MemCSFUserIOPagesHandle int64 = 48 << 12
)

// QueueUserIOPages is the number of pages mapped for a bound queue: doorbell, input and output
const QueueUserIOPages = 3

const (
	// MemCookieLimit bounds the mmap cookie returned for a SAME_VA allocation
	MemCookieLimit uint64 = 0x80000
	// OldMemAllocCookie is the cookie the UK 10 driver uses for every SAME_VA allocation
	OldMemAllocCookie uint64 = 0x41000

	MemHeapAlignment   uint64 = 2 * 1024 * 1024
	MemOldExecAlign    uint64 = 1 << 24
	MemExecInitVAPages uint64 = 0x100000

	MemJITInitVAPages   uint64 = 1 << 25
	MemJITInitPhysPages uint64 = 1 << 25
	MemJITInitMaxAllocs uint8  = 255
)

const (
	MemImportTypeUMM uint32 = 2
	MemImportFlags   uint64 = 0xf
)

// MemSyncBase is the MEM_SYNC type for a clean on the JM and CSF ABIs. An
// invalidate is one higher, and the UK 10 driver numbers both one lower.
const MemSyncBase uint8 = 1

// Allocation request flags accepted by the device allocator, in the panfrost namespace
const (
	PanBONoExec uint32 = 1 << 0
	PanBOHeap   uint32 = 1 << 1

	MaliBOCachedCPU   uint32 = 1 << 16
	MaliBOUncachedGPU uint32 = 1 << 17
)
