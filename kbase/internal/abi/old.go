package abi

import "unsafe"

// OldType is the ioctl type used by UK 10 (API 0) requests other than GET_VERSION
const OldType = 0x82

// UK function return codes carried back in OldHeader
const (
	OldErrorNone uint32 = iota
	OldErrorOutOfGPUMemory
	OldErrorOutOfMemory
	OldErrorFunctionFailed
)

// OldHeader prefixes every UK 10 request. The kernel overwrites ID with the
// return code of the UK function.
type OldHeader struct {
	ID uint32
	_  uint32
}

// OldHeaderID computes the UK function id for a request number
func OldHeaderID(request uint32) uint32 {
	return (IOCType(request)-0x80)*256 + IOCNR(request)
}

// OldGetVersion is kbase_ioctl_get_version
type OldGetVersion struct {
	Header OldHeader
	Major  uint16
	Minor  uint16
	_      uint32
}

// OldMemAlloc is the UK 10 mem_alloc union. Flags is in/out, GPUVA and
// VAAlignment are out only and overlay nothing the kernel reads.
type OldMemAlloc struct {
	Header      OldHeader
	VAPages     uint64
	CommitPages uint64
	Extension   uint64
	Flags       uint64
	GPUVA       uint64
	VAAlignment uint16
	_           [6]uint8
}

// OldMemImport is the UK 10 mem_import union
type OldMemImport struct {
	Header  OldHeader
	PHandle uint64
	Type    uint32
	_       uint32
	Flags   uint64
	GPUVA   uint64
	VAPages uint64
}

type OldMemFree struct {
	Header  OldHeader
	GPUAddr uint64
}

type OldMemSync struct {
	Header   OldHeader
	Handle   uint64
	UserAddr uint64
	Size     uint64
	Type     uint8
	_        [7]uint8
}

type OldSetFlags struct {
	Header      OldHeader
	CreateFlags uint32
	_           uint32
}

type OldJobSubmit struct {
	Header  OldHeader
	Addr    uint64
	NrAtoms uint32
	Stride  uint32
}

// OldCoreProps is mali_gpu_core_props
type OldCoreProps struct {
	ProductID              uint32
	VersionStatus          uint16
	MinorRevision          uint16
	MajorRevision          uint16
	_                      uint16
	GPUSpeedMHz            uint32
	GPUFreqKHzMax          uint32
	GPUFreqKHzMin          uint32
	Log2ProgramCounterSize uint32
	TextureFeatures        [3]uint32
	GPUAvailableMemorySize uint64
}

// OldRawProps is mali_gpu_raw_props
type OldRawProps struct {
	ShaderPresent          uint64
	TilerPresent           uint64
	L2Present              uint64
	StackPresent           uint64
	L2Features             uint32
	SuspendSize            uint32
	MemFeatures            uint32
	MMUFeatures            uint32
	ASPresent              uint32
	JSPresent              uint32
	JSFeatures             [16]uint32
	TilerFeatures          uint32
	TextureFeatures        [3]uint32
	GPUID                  uint32
	ThreadMaxThreads       uint32
	ThreadMaxWorkgroupSize uint32
	ThreadMaxBarrierSize   uint32
	ThreadFeatures         uint32
	CoherencyMode          uint32
}

// OldGPUPropsRegDump is kbase_ioctl_gpu_props_reg_dump. Only the core and
// raw blocks are decoded.
type OldGPUPropsRegDump struct {
	Header    OldHeader
	Core      OldCoreProps
	L2        [8]uint8
	_         uint64
	Tiler     [2]uint32
	Thread    [24]uint8
	Raw       OldRawProps
	Coherency [272]uint8
}

var (
	OldIoctlGetVersion      = IOWR(0x80, 0, uint32(unsafe.Sizeof(OldGetVersion{})))
	OldIoctlMemAlloc        = IOWR(OldType, 0, uint32(unsafe.Sizeof(OldMemAlloc{})))
	OldIoctlMemImport       = IOWR(OldType, 1, uint32(unsafe.Sizeof(OldMemImport{})))
	OldIoctlMemFree         = IOWR(OldType, 4, uint32(unsafe.Sizeof(OldMemFree{})))
	OldIoctlMemSync         = IOWR(OldType, 8, uint32(unsafe.Sizeof(OldMemSync{})))
	OldIoctlGPUPropsRegDump = IOWR(OldType, 14, uint32(unsafe.Sizeof(OldGPUPropsRegDump{})))
	OldIoctlSetFlags        = IOWR(OldType, 18, uint32(unsafe.Sizeof(OldSetFlags{})))
	OldIoctlJobSubmit       = IOWR(OldType, 28, uint32(unsafe.Sizeof(OldJobSubmit{})))
)
