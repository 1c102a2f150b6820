package abi

import "unsafe"

// Type is the ioctl type of the JM (API 1) and CSF (API 2) kbase interfaces
const Type = 0x80

type VersionCheck struct {
	Major uint16
	Minor uint16
}

type SetFlags struct {
	CreateFlags uint32
}

type GetGPUProps struct {
	Buffer uint64
	Size   uint32
	Flags  uint32
}

// MemAlloc is the input half of the kbase_ioctl_mem_alloc union
type MemAlloc struct {
	VAPages     uint64
	CommitPages uint64
	Extension   uint64
	Flags       uint64
}

// MemAllocOut overlays MemAlloc once the ioctl returns
type MemAllocOut struct {
	Flags uint64
	GPUVA uint64
}

func (m *MemAlloc) Out() *MemAllocOut {
	return (*MemAllocOut)(unsafe.Pointer(m))
}

type MemFree struct {
	GPUAddr uint64
}

type MemExecInit struct {
	VAPages uint64
}

type MemJITInit struct {
	VAPages        uint64
	MaxAllocations uint8
	Trim           uint8
	Group          uint8
	_              [5]uint8
	PhysPages      uint64
}

type MemSync struct {
	Handle   uint64
	UserAddr uint64
	Size     uint64
	Type     uint8
	_        [7]uint8
}

// MemImport is the input half of the kbase_ioctl_mem_import union. PHandle
// points at the int holding the file descriptor.
type MemImport struct {
	PHandle uint64
	Type    uint32
	_       uint32
	Flags   uint64
}

type MemImportOut struct {
	Flags   uint64
	GPUVA   uint64
	VAPages uint64
}

func (m *MemImport) Out() *MemImportOut {
	return (*MemImportOut)(unsafe.Pointer(m))
}

type JobSubmit struct {
	Addr    uint64
	NrAtoms uint32
	Stride  uint32
}

var (
	IoctlVersionCheck         = IOWR(Type, 0, uint32(unsafe.Sizeof(VersionCheck{})))
	IoctlSetFlags             = IOW(Type, 1, uint32(unsafe.Sizeof(SetFlags{})))
	IoctlJobSubmit            = IOW(Type, 2, uint32(unsafe.Sizeof(JobSubmit{})))
	IoctlGetGPUProps          = IOW(Type, 3, uint32(unsafe.Sizeof(GetGPUProps{})))
	IoctlMemAlloc             = IOWR(Type, 5, uint32(unsafe.Sizeof(MemAlloc{})))
	IoctlMemFree              = IOW(Type, 7, uint32(unsafe.Sizeof(MemFree{})))
	IoctlMemJITInit           = IOW(Type, 14, uint32(unsafe.Sizeof(MemJITInit{})))
	IoctlMemSync              = IOW(Type, 15, uint32(unsafe.Sizeof(MemSync{})))
	IoctlMemImport            = IOWR(Type, 22, uint32(unsafe.Sizeof(MemImport{})))
	IoctlMemExecInit          = IOW(Type, 38, uint32(unsafe.Sizeof(MemExecInit{})))
	IoctlVersionCheckReserved = IOWR(Type, 52, uint32(unsafe.Sizeof(VersionCheck{})))
)
