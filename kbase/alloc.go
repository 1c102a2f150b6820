package kbase

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kbase/kbase/internal/abi"
	"golang.org/x/sys/unix"
)

// Ptr is a GPU allocation mapped into the process
type Ptr struct {
	CPU []byte
	GPU uint64
}

// Allocation flags for Alloc, in the panfrost namespace
const (
	AllocNoExec      = abi.PanBONoExec
	AllocHeap        = abi.PanBOHeap
	AllocCachedCPU   = abi.MaliBOCachedCPU
	AllocUncachedGPU = abi.MaliBOUncachedGPU
)

// AllocEventMem are the kbase flags for memory the GPU signals events through
const AllocEventMem = abi.EventMemFlags

func alignPot(v, alignment uint64) uint64 {
	return (v + alignment - 1) &^ (alignment - 1)
}

func sliceAddress(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// Alloc creates a GPU memory region of size bytes and maps it. maliFlags,
// when nonzero, replace the default kbase flags. panFlags select heap,
// caching and executable behavior on top of them.
func (d *Device) Alloc(size int, panFlags uint32, maliFlags uint64) (Ptr, error) {
	d.logger.Debug("Device::Alloc")

	api := d.API()
	pageSize := d.options.PageSize
	pages := uint64((size + pageSize - 1) / pageSize)

	args := MemAllocArgs{
		VAPages:     pages,
		CommitPages: pages,
	}
	mapSize := size

	flags := maliFlags
	if flags == 0 {
		flags = abi.MemProtCPURead | abi.MemProtCPUWrite |
			abi.MemProtGPURead | abi.MemProtGPUWrite |
			abi.MemSameVA

		// Keeps GPU cores coherent with each other
		if api >= APINew {
			flags |= abi.MemCoherentLocal
		}
	}

	if panFlags&AllocHeap != 0 {
		alignPages := abi.MemHeapAlignment / uint64(pageSize)

		args.VAPages = alignPot(args.VAPages, alignPages)
		args.CommitPages = 0
		args.Extension = alignPages
		flags |= abi.MemGrowOnGPF
	}

	if api >= APINew && panFlags&AllocCachedCPU != 0 {
		flags |= abi.MemCachedCPU
	}
	if api >= APICSF && panFlags&AllocUncachedGPU != 0 {
		flags |= abi.MemUncachedGPU
	}

	execAlign := false
	if panFlags&AllocNoExec == 0 {
		// SAME_VA would put shaders too close to a 4GB boundary
		flags |= abi.MemProtGPUExec
		flags &^= abi.MemProtGPUWrite | abi.MemSameVA

		if api == APIOld {
			// Reserve four times the 16MB shader alignment and map the
			// aligned part of it below
			args.VAPages = 0x1000
			mapSize = 1 << 26
			execAlign = true
		}
	}
	args.Flags = flags

	res, err := d.driver.MemAlloc(args)
	if err != nil {
		return Ptr{}, err
	}

	if flags&abi.MemSameVA != 0 && !(res.Flags&abi.MemSameVA != 0 && res.GPUVA < abi.MemCookieLimit) {
		d.logger.Error("unusable SAME_VA allocation", "flags", res.Flags, "va", res.GPUVA)
		return Ptr{}, errors.Wrapf(unix.EINVAL, "MEM_ALLOC returned flags 0x%x va 0x%x", res.Flags, res.GPUVA)
	}

	cpu, err := d.kernel.Mmap(d.fd, int64(res.GPUVA), mapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		d.logger.Error("failed to map GPU BO", "va", res.GPUVA, "size", mapSize, "error", err)
		d.driver.MemFree(res.GPUVA)
		return Ptr{}, errors.Wrap(err, "mmap(GPU BO)")
	}

	gpuVA := res.GPUVA
	if res.Flags&abi.MemSameVA != 0 {
		gpuVA = sliceAddress(cpu)
	}

	if execAlign {
		gpuVA = alignPot(gpuVA, abi.MemOldExecAlign)

		cpu, err = d.kernel.Mmap(d.fd, int64(gpuVA), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			d.logger.Error("failed to map GPU exec BO", "va", gpuVA, "size", size, "error", err)
			d.driver.MemFree(gpuVA)
			return Ptr{}, errors.Wrap(err, "mmap(GPU EXEC BO)")
		}
	}

	d.callbacks.Allocate(gpuVA, size)
	return Ptr{CPU: cpu, GPU: gpuVA}, nil
}

// Free releases the GPU region at va. The CPU mapping is left to the caller.
func (d *Device) Free(va uint64) error {
	d.logger.Debug("Device::Free")

	if err := d.driver.MemFree(va); err != nil {
		return err
	}
	d.callbacks.Free(va)
	return nil
}

// ImportDmabuf returns a handle for the buffer behind fd. A buffer that is
// already imported, through any descriptor for the same open file, reuses
// its handle. Otherwise the handle owns a duplicate of fd, and its CPU field
// holds the mapping when the kernel asked for one.
func (d *Device) ImportDmabuf(fd int) (int, error) {
	d.logger.Debug("Device::ImportDmabuf")

	t := d.handles
	t.lock.Lock()
	defer t.lock.Unlock()

	if handle := t.findFileLocked(fd); handle >= 0 {
		return handle, nil
	}

	dup, err := d.kernel.Dup(fd)
	if err != nil {
		return -1, errors.Wrapf(err, "dup(%d)", fd)
	}

	res, err := d.driver.MemImport(dup, abi.MemImportFlags)
	if err != nil {
		d.closeImportFD(fd, dup)
		return -1, err
	}

	va := res.GPUVA
	var mapping []byte
	if res.Flags&abi.MemNeedMmap != 0 {
		size := int(res.VAPages) * d.options.PageSize
		mapping, err = d.kernel.Mmap(d.fd, int64(res.GPUVA), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			d.logger.Error("failed to map imported BO", "fd", fd, "size", size, "error", err)
			if freeErr := d.driver.MemFree(res.GPUVA); freeErr != nil {
				d.logger.Error("failed to free imported BO", "fd", fd, "va", res.GPUVA, "error", freeErr)
			}
			d.closeImportFD(fd, dup)
			return -1, errors.Wrap(err, "mmap(IMPORTED BO)")
		}
		va = sliceAddress(mapping)
	}

	handle := t.allocLocked(va, dup)
	t.handles[handle].CPU = mapping
	return handle, nil
}

func (d *Device) closeImportFD(fd, dup int) {
	if err := d.kernel.Close(dup); err != nil {
		d.logger.Error("failed to close imported fd", "fd", fd, "dup", dup, "error", err)
	}
}

// MmapImport maps an imported buffer for CPU access
func (d *Device) MmapImport(va uint64, size int) ([]byte, error) {
	d.logger.Debug("Device::MmapImport")

	mapping, err := d.kernel.Mmap(d.fd, int64(va), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "mmap(import)")
	}
	return mapping, nil
}

// MemSync cleans cpu, the CPU mapping of the region at gpu, out of the CPU
// caches, or invalidates it
func (d *Device) MemSync(gpu uint64, cpu []byte, invalidate bool) error {
	if len(cpu) == 0 {
		return nil
	}
	return d.driver.MemSync(gpu, uintptr(sliceAddress(cpu)), uint64(len(cpu)), invalidate)
}
