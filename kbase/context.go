package kbase

import (
	"github.com/cockroachdb/errors"
)

// TilerHeapChunkSize is the chunk size of every context's tiler heap
const TilerHeapChunkSize = 1 << 21

// Context is a CSF queue group with its tiler heap. Command streams bind to
// one of the group's command stream interfaces.
type Context struct {
	device *Device

	csgHandle uint8
	csgUID    uint32

	tilerHeapVA     uint64
	tilerHeapHeader uint64

	// numCSI counts the interfaces bound so far
	numCSI uint8

	kcpuID   uint8
	kcpuInit bool
}

func (c *Context) GroupHandle() uint8 {
	return c.csgHandle
}

// TilerHeapVA is the GPU address of the heap context, or 0 once torn down
func (c *Context) TilerHeapVA() uint64 {
	return c.tilerHeapVA
}

// TilerHeapHeader is the address of the heap's first chunk
func (c *Context) TilerHeapHeader() uint64 {
	return c.tilerHeapHeader
}

// ContextCreate creates a queue group and its tiler heap
func (d *Device) ContextCreate() (*Context, error) {
	d.logger.Debug("Device::ContextCreate")

	c := &Context{device: d}
	if err := c.create(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Context) create() error {
	d := c.device

	handle, uid, err := d.driver.GroupCreate(GroupCreateArgs{
		// Mali has a single tiler unit
		TilerMask:    1,
		FragmentMask: ^uint64(0),
		ComputeMask:  ^uint64(0),
		CSMin:        uint8(d.options.CSQueueCount),
		Priority:     1,
		TilerMax:     1,
		FragmentMax:  64,
		ComputeMax:   64,
	})
	if err != nil {
		return err
	}
	if uid == 0 {
		return errors.Newf("queue group %d was created with uid 0", handle)
	}
	c.csgHandle = handle
	c.csgUID = uid

	heapVA, header, err := d.driver.TilerHeapInit(TilerHeapArgs{
		ChunkSize:      TilerHeapChunkSize,
		InitialChunks:  5,
		MaxChunks:      200,
		TargetInFlight: 65535,
	})
	if err != nil {
		c.termGroup()
		return err
	}
	c.tilerHeapVA = heapVA
	c.tilerHeapHeader = header

	return nil
}

func (c *Context) termGroup() {
	if c.csgUID == 0 {
		return
	}
	// Failures are logged by the driver; there is nothing else to undo
	_ = c.device.driver.GroupTerm(c.csgHandle)
	c.csgUID = 0
}

func (c *Context) termTilerHeap() {
	if c.tilerHeapVA == 0 {
		return
	}
	_ = c.device.driver.TilerHeapTerm(c.tilerHeapVA)
	c.tilerHeapVA = 0
	c.tilerHeapHeader = 0
}

func (c *Context) destroy() {
	c.device.kcpuQueueDestroy(c)
	c.termTilerHeap()
	c.termGroup()
}

// ContextDestroy releases the KCPU queue, the tiler heap and the group
func (d *Device) ContextDestroy(c *Context) {
	d.logger.Debug("Device::ContextDestroy")

	c.destroy()
}

// ContextRecreate replaces the context's group and heap with fresh ones,
// typically after a GPU fault killed the group. Bound command streams must
// be rebound afterwards.
func (d *Device) ContextRecreate(c *Context) error {
	d.logger.Debug("Device::ContextRecreate")

	c.destroy()
	return c.create()
}
