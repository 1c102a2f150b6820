package kbase

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kbase/kbase/internal/abi"
	"golang.org/x/sys/unix"
)

// OldKernelDriver speaks the UK 10 interface (API 0). Every request starts
// with a header the kernel overwrites with a return code.
type OldKernelDriver struct {
	driverBase
}

var _ KernelDriver = &OldKernelDriver{}

func (d *OldKernelDriver) API() API {
	return APIOld
}

var oldReturnCodes = map[uint32]unix.Errno{
	abi.OldErrorOutOfGPUMemory: unix.ENOSPC,
	abi.OldErrorOutOfMemory:    unix.ENOMEM,
	abi.OldErrorFunctionFailed: unix.EINVAL,
}

// ukIoctl issues a request whose first field is an abi.OldHeader
func (d *OldKernelDriver) ukIoctl(name string, request uint32, arg unsafe.Pointer) error {
	header := (*abi.OldHeader)(arg)
	header.ID = abi.OldHeaderID(request)

	if _, err := d.ioctl(name, request, arg); err != nil {
		return err
	}

	if header.ID == abi.OldErrorNone {
		return nil
	}

	errno, ok := oldReturnCodes[header.ID]
	if !ok {
		errno = unix.EINVAL
	}
	d.logger.Error("ioctl failed", "ioctl", name, "rc", header.ID, "errno", errno)
	return errors.Wrapf(errno, "ioctl(%s) rc %d", name, header.ID)
}

// GetVersion must be the first request on a UK 10 file
func (d *OldKernelDriver) GetVersion() (major, minor uint16, err error) {
	v := abi.OldGetVersion{}
	err = d.ukIoctl("GET_VERSION", abi.OldIoctlGetVersion, unsafe.Pointer(&v))
	return v.Major, v.Minor, err
}

func (d *OldKernelDriver) SetFlags(flags uint32) error {
	f := abi.OldSetFlags{CreateFlags: flags}
	return d.ukIoctl("SET_FLAGS", abi.OldIoctlSetFlags, unsafe.Pointer(&f))
}

func (d *OldKernelDriver) GPUProps() (GPUProps, error) {
	dump := &abi.OldGPUPropsRegDump{}
	if err := d.ukIoctl("GPU_PROPS_REG_DUMP", abi.OldIoctlGPUPropsRegDump, unsafe.Pointer(dump)); err != nil {
		return nil, err
	}
	return (*regDumpProps)(dump), nil
}

func (d *OldKernelDriver) MemAlloc(args MemAllocArgs) (MemAllocResult, error) {
	a := abi.OldMemAlloc{
		VAPages:     args.VAPages,
		CommitPages: args.CommitPages,
		Extension:   args.Extension,
		Flags:       args.Flags,
	}
	if err := d.ukIoctl("MEM_ALLOC", abi.OldIoctlMemAlloc, unsafe.Pointer(&a)); err != nil {
		return MemAllocResult{}, err
	}

	// The kernel never reports the cookie, it is always the same one
	return MemAllocResult{Flags: a.Flags, GPUVA: abi.OldMemAllocCookie}, nil
}

func (d *OldKernelDriver) MemFree(va uint64) error {
	f := abi.OldMemFree{GPUAddr: va}
	return d.ukIoctl("MEM_FREE", abi.OldIoctlMemFree, unsafe.Pointer(&f))
}

func (d *OldKernelDriver) MemImport(fd int, flags uint64) (MemImportResult, error) {
	handle := int32(fd)

	var pinner runtime.Pinner
	defer pinner.Unpin()
	pinner.Pin(&handle)

	imp := abi.OldMemImport{
		PHandle: uint64(uintptr(unsafe.Pointer(&handle))),
		Type:    abi.MemImportTypeUMM,
		Flags:   flags,
	}
	if err := d.ukIoctl("MEM_IMPORT", abi.OldIoctlMemImport, unsafe.Pointer(&imp)); err != nil {
		return MemImportResult{}, err
	}

	return MemImportResult{Flags: imp.Flags, GPUVA: imp.GPUVA, VAPages: imp.VAPages}, nil
}

func (d *OldKernelDriver) MemSync(handle uint64, cpu uintptr, size uint64, invalidate bool) error {
	s := abi.OldMemSync{
		Handle:   handle,
		UserAddr: uint64(cpu),
		Size:     size,
	}
	if invalidate {
		s.Type = 1
	}
	return d.ukIoctl("MEM_SYNC", abi.OldIoctlMemSync, unsafe.Pointer(&s))
}

func (d *OldKernelDriver) JobSubmit(atom *Atom) error {
	var pinner runtime.Pinner
	defer pinner.Unpin()
	pinner.Pin(atom)

	s := abi.OldJobSubmit{
		Addr:    uint64(uintptr(unsafe.Pointer(atom))),
		NrAtoms: 1,
		Stride:  uint32(unsafe.Sizeof(*atom)),
	}
	return d.ukIoctl("JOB_SUBMIT", abi.OldIoctlJobSubmit, unsafe.Pointer(&s))
}

func (d *OldKernelDriver) HandleEvents(device *Device) bool {
	return device.handleJobEvents()
}
