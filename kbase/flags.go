package kbase

import (
	"time"

	"github.com/vkngwrapper/kbase/internal/utils"
	"github.com/vkngwrapper/kbase/memutils"
)

// CreateFlags indicates specific behavior to be used when opening a Device
type CreateFlags int32

var createFlagsMapping = utils.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized means the caller promises that the GEM handle
	// table is only touched from one goroutine at a time. The table's mutex is
	// dropped on CSF devices, where event handling never reads it. JM devices
	// keep it, since completed atoms release their handles from the poller.
	CreateExternallySynchronized CreateFlags = 1 << iota
	// CreateVerbose adds Debug traces for sequence numbers and callbacks
	CreateVerbose
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
	CreateVerbose.Register("CreateVerbose")
}

// API is the generation of kbase interface a Device speaks
type API int

const (
	// APIOld is the UK 10 interface of early Midgard kernels
	APIOld API = iota
	// APINew is the Job Manager interface
	APINew
	// APICSF is the Command Stream Frontend interface of Valhall and later
	APICSF
)

var apiNames = map[API]string{
	APIOld: "old",
	APINew: "jm",
	APICSF: "csf",
}

func (a API) String() string {
	return apiNames[a]
}

type AllocateMemoryCallback func(
	device *Device,
	gpuVA uint64,
	size int,
	userData interface{},
)

type FreeMemoryCallback func(
	device *Device,
	gpuVA uint64,
	userData interface{},
)

// MemoryCallbackOptions is called on every kernel memory allocation and free
type MemoryCallbackOptions struct {
	Allocate AllocateMemoryCallback
	Free     FreeMemoryCallback
	UserData interface{}
}

type memoryCallbacks struct {
	Callbacks *MemoryCallbackOptions
	Device    *Device
}

func (c *memoryCallbacks) Allocate(gpuVA uint64, size int) {
	if c.Callbacks != nil && c.Callbacks.Allocate != nil {
		c.Callbacks.Allocate(c.Device, gpuVA, size, c.Callbacks.UserData)
	}
}

func (c *memoryCallbacks) Free(gpuVA uint64) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Device, gpuVA, c.Callbacks.UserData)
	}
}

// CreateOptions configures Open. Zero fields take their defaults.
type CreateOptions struct {
	Flags CreateFlags

	// CSQueueCount is the minimum number of command stream interfaces a
	// context's queue group asks for. Defaults to 2, one for vertex and
	// tiling work and one for fragment work.
	CSQueueCount int
	// PageSize defaults to the kernel's page size
	PageSize int
	// WaitTimeout bounds a single syncobj wait. Defaults to 1s.
	WaitTimeout time.Duration
	// PollInterval is the longest the event poller blocks before rechecking
	// for new waiters. Defaults to 100ms.
	PollInterval time.Duration
	// RingDoorbell writes the user doorbell page after a submit in addition
	// to issuing CS_QUEUE_KICK
	RingDoorbell bool

	Callbacks *MemoryCallbackOptions
}

func (o *CreateOptions) setDefaults(pageSize int) {
	if o.CSQueueCount <= 0 {
		o.CSQueueCount = 2
	}
	if o.PageSize <= 0 {
		o.PageSize = pageSize
	}
	memutils.DebugCheckPow2(o.PageSize, "page size")
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
}
