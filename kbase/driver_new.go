package kbase

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kbase/kbase/internal/abi"
)

// kbaseDriver holds the requests the JM and CSF interfaces share
type kbaseDriver struct {
	driverBase
}

// VersionCheck negotiates the interface version. reserved selects the CSF
// numbering, which only CSF kernels implement.
func (d *kbaseDriver) VersionCheck(reserved bool) (major, minor uint16, err error) {
	v := abi.VersionCheck{}
	if reserved {
		_, err = d.kernel.Ioctl(d.fd, abi.IoctlVersionCheckReserved, unsafe.Pointer(&v))
	} else {
		_, err = d.kernel.Ioctl(d.fd, abi.IoctlVersionCheck, unsafe.Pointer(&v))
	}
	return v.Major, v.Minor, err
}

func (d *kbaseDriver) SetFlags(flags uint32) error {
	f := abi.SetFlags{CreateFlags: flags}
	_, err := d.ioctl("SET_FLAGS", abi.IoctlSetFlags, unsafe.Pointer(&f))
	return err
}

func (d *kbaseDriver) GPUProps() (GPUProps, error) {
	query := abi.GetGPUProps{}
	size, err := d.ioctl("GET_GPUPROPS", abi.IoctlGetGPUProps, unsafe.Pointer(&query))
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, errors.Newf("GET_GPUPROPS reported a %d byte buffer", size)
	}

	buf := make([]byte, size)

	var pinner runtime.Pinner
	defer pinner.Unpin()
	pinner.Pin(&buf[0])

	query = abi.GetGPUProps{
		Buffer: uint64(uintptr(unsafe.Pointer(&buf[0]))),
		Size:   uint32(size),
	}
	n, err := d.ioctl("GET_GPUPROPS", abi.IoctlGetGPUProps, unsafe.Pointer(&query))
	if err != nil {
		return nil, err
	}
	if n < size {
		buf = buf[:n]
	}

	return tlvProps(buf), nil
}

func (d *kbaseDriver) MemAlloc(args MemAllocArgs) (MemAllocResult, error) {
	a := abi.MemAlloc{
		VAPages:     args.VAPages,
		CommitPages: args.CommitPages,
		Extension:   args.Extension,
		Flags:       args.Flags,
	}
	if _, err := d.ioctl("MEM_ALLOC", abi.IoctlMemAlloc, unsafe.Pointer(&a)); err != nil {
		return MemAllocResult{}, err
	}

	out := a.Out()
	return MemAllocResult{Flags: out.Flags, GPUVA: out.GPUVA}, nil
}

func (d *kbaseDriver) MemFree(va uint64) error {
	f := abi.MemFree{GPUAddr: va}
	_, err := d.ioctl("MEM_FREE", abi.IoctlMemFree, unsafe.Pointer(&f))
	return err
}

func (d *kbaseDriver) MemImport(fd int, flags uint64) (MemImportResult, error) {
	handle := int32(fd)

	var pinner runtime.Pinner
	defer pinner.Unpin()
	pinner.Pin(&handle)

	imp := abi.MemImport{
		PHandle: uint64(uintptr(unsafe.Pointer(&handle))),
		Type:    abi.MemImportTypeUMM,
		Flags:   flags,
	}
	if _, err := d.ioctl("MEM_IMPORT", abi.IoctlMemImport, unsafe.Pointer(&imp)); err != nil {
		return MemImportResult{}, err
	}

	out := imp.Out()
	return MemImportResult{Flags: out.Flags, GPUVA: out.GPUVA, VAPages: out.VAPages}, nil
}

func (d *kbaseDriver) MemSync(handle uint64, cpu uintptr, size uint64, invalidate bool) error {
	s := abi.MemSync{
		Handle:   handle,
		UserAddr: uint64(cpu),
		Size:     size,
		Type:     abi.MemSyncBase,
	}
	if invalidate {
		s.Type++
	}
	_, err := d.ioctl("MEM_SYNC", abi.IoctlMemSync, unsafe.Pointer(&s))
	return err
}

func (d *kbaseDriver) MemExecInit(vaPages uint64) error {
	e := abi.MemExecInit{VAPages: vaPages}
	_, err := d.ioctl("MEM_EXEC_INIT", abi.IoctlMemExecInit, unsafe.Pointer(&e))
	return err
}

func (d *kbaseDriver) MemJITInit(vaPages uint64, maxAllocations uint8, physPages uint64) error {
	j := abi.MemJITInit{
		VAPages:        vaPages,
		MaxAllocations: maxAllocations,
		PhysPages:      physPages,
	}
	_, err := d.ioctl("MEM_JIT_INIT", abi.IoctlMemJITInit, unsafe.Pointer(&j))
	return err
}

// NewKernelDriver speaks the Job Manager interface (API 1)
type NewKernelDriver struct {
	kbaseDriver
}

var _ KernelDriver = &NewKernelDriver{}

func (d *NewKernelDriver) API() API {
	return APINew
}

func (d *NewKernelDriver) JobSubmit(atom *Atom) error {
	var pinner runtime.Pinner
	defer pinner.Unpin()
	pinner.Pin(atom)

	s := abi.JobSubmit{
		Addr:    uint64(uintptr(unsafe.Pointer(atom))),
		NrAtoms: 1,
		Stride:  uint32(unsafe.Sizeof(*atom)),
	}
	_, err := d.ioctl("JOB_SUBMIT", abi.IoctlJobSubmit, unsafe.Pointer(&s))
	return err
}

func (d *NewKernelDriver) HandleEvents(device *Device) bool {
	return device.handleJobEvents()
}
