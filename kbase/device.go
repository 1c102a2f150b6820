package kbase

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/kbase/kbase/internal/abi"
	"github.com/vkngwrapper/kbase/kbase/kernel"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// Device is an open Mali kbase file. It owns the GEM handle table, the event
// slots tracking GPU progress, and the poller that reads kernel
// notifications. A Device is safe for concurrent use.
type Device struct {
	logger  *slog.Logger
	kernel  kernel.Kernel
	fd      int
	driver  KernelDriver
	options CreateOptions

	setupDone int

	handles  *HandleTable
	gpuProps GPUProps

	trackingRegion []byte
	userRegPage    []byte
	// eventMem is two pages: CSF event records then KCPU event records
	eventMem   []byte
	eventMemVA uint64

	queueLock      sync.Mutex
	eventSlots     [MaxEventSlots]EventSlot
	eventSlotUsage int
	syncobjs       *swiss.Map[uint64, *Syncobj]
	nextSyncobj    uint64

	// JM submission state, guarded by the handle table lock
	atomNumber  uint8
	jobSeq      uint64
	atomHandles [256][]int

	wait      *waitEngine
	callbacks memoryCallbacks
}

type setupStep struct {
	name    string
	api     func(api API) bool
	setup   func(d *Device) error
	cleanup func(d *Device) error
}

func allAPIs(api API) bool  { return true }
func oldAPI(api API) bool   { return api == APIOld }
func kbaseAPI(api API) bool { return api >= APINew }
func csfAPI(api API) bool   { return api == APICSF }

var setupSteps = []setupStep{
	{"allocate handle table", allAPIs, (*Device).allocHandles, (*Device).freeHandles},
	{"set flags", kbaseAPI, (*Device).setFlags, nil},
	{"map tracking handle", allAPIs, (*Device).mmapTracking, (*Device).munmapTracking},
	{"set flags", oldAPI, (*Device).setFlags, nil},
	{"get GPU properties", allAPIs, (*Device).getGPUProps, (*Device).freeGPUProps},
	{"map user register page", csfAPI, (*Device).mmapUserReg, (*Device).munmapUserReg},
	{"initialise EXEC_VA zone", kbaseAPI, (*Device).initMemExec, nil},
	{"initialise JIT allocator", kbaseAPI, (*Device).initMemJIT, nil},
	{"allocate event memory", csfAPI, (*Device).allocEventMem, (*Device).freeEventMem},
}

// Open detects the kbase interface fd speaks and prepares it for use. An fd
// of -1, or a simulated kernel, opens a CSF device backed by the Noop
// kernel. Open takes ownership of fd: on success the Device closes it, and
// on failure it is closed before Open returns.
func Open(logger *slog.Logger, k kernel.Kernel, fd int, options CreateOptions) (*Device, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("Device::Open")

	simulated := fd == -1
	if sim, ok := k.(kernel.Simulated); ok && sim.Simulated() {
		simulated = true
	} else if simulated {
		k = kernel.NewNoop()
	}
	if simulated {
		fd = -1
	}

	options.setDefaults(k.PageSize())

	d := &Device{
		logger:   logger,
		kernel:   k,
		fd:       fd,
		options:  options,
		syncobjs: swiss.NewMap[uint64, *Syncobj](16),
	}
	d.callbacks = memoryCallbacks{Callbacks: options.Callbacks, Device: d}
	d.wait = newWaitEngine(d)

	driver, err := d.detectDriver(simulated)
	if err != nil {
		logger.Error("kbase interface detection failed", "fd", fd, "error", err)
		d.Close()
		return nil, err
	}
	d.driver = driver
	logger.Debug("detected kbase interface", "api", driver.API(), "simulated", simulated)

	if old, ok := driver.(*OldKernelDriver); ok {
		// The version is not checked, but the kernel refuses anything
		// else until it has been asked
		if _, _, err := old.GetVersion(); err != nil {
			logger.Warn("GET_VERSION failed", "error", err)
		}
	}

	for _, step := range setupSteps {
		d.setupDone++
		if !step.api(driver.API()) {
			continue
		}

		if err := step.setup(d); err != nil {
			logger.Error("kbase setup failed", "step", step.name, "error", err)
			d.Close()
			return nil, errors.Wrapf(err, "kbase setup: %s", step.name)
		}
	}

	return d, nil
}

func (d *Device) detectDriver(simulated bool) (KernelDriver, error) {
	base := driverBase{kernel: d.kernel, fd: d.fd, logger: d.logger}

	if simulated {
		return &CsfKernelDriver{kbaseDriver{base}}, nil
	}

	probe := kbaseDriver{base}
	if _, _, err := probe.VersionCheck(true); err == nil {
		return &CsfKernelDriver{probe}, nil
	}

	major, minor, err := probe.VersionCheck(false)
	if err != nil {
		return nil, errors.Wrap(err, "no kbase interface answered VERSION_CHECK")
	}
	d.logger.Debug("kbase version", "major", major, "minor", minor)

	if major == 3 {
		return &OldKernelDriver{base}, nil
	}
	return &NewKernelDriver{probe}, nil
}

// Close stops the poller and undoes every setup step that ran, newest first,
// then closes the kbase file
func (d *Device) Close() error {
	d.logger.Debug("Device::Close")

	d.wait.close()
	err := d.teardown()

	if d.fd >= 0 {
		if closeErr := d.kernel.Close(d.fd); closeErr != nil {
			err = errors.CombineErrors(err, errors.Wrap(closeErr, "close(mali fd)"))
		}
		d.fd = -1
	}
	return err
}

func (d *Device) teardown() error {
	var err error
	for d.setupDone > 0 {
		step := setupSteps[d.setupDone-1]
		d.setupDone--

		if step.cleanup == nil || !step.api(d.driver.API()) {
			continue
		}
		if stepErr := step.cleanup(d); stepErr != nil {
			d.logger.Error("kbase cleanup failed", "step", step.name, "error", stepErr)
			err = errors.CombineErrors(err, stepErr)
		}
	}
	return err
}

func (d *Device) allocHandles() error {
	// Only JM event handling reads the table from the poller
	useMutex := d.options.Flags&CreateExternallySynchronized == 0 || d.API() != APICSF
	d.handles = newHandleTable(d, useMutex)
	return nil
}

func (d *Device) freeHandles() error {
	d.handles.closeAll()
	return nil
}

func (d *Device) setFlags() error {
	return d.driver.SetFlags(0)
}

func (d *Device) mmapTracking() error {
	region, err := d.kernel.Mmap(d.fd, abi.MemMapTrackingHandle, d.options.PageSize, unix.PROT_NONE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrap(err, "mmap(BASE_MEM_MAP_TRACKING_HANDLE)")
	}
	d.trackingRegion = region
	return nil
}

func (d *Device) munmapTracking() error {
	if d.trackingRegion == nil {
		return nil
	}
	err := d.kernel.Munmap(d.trackingRegion)
	d.trackingRegion = nil
	return err
}

func (d *Device) getGPUProps() error {
	props, err := d.driver.GPUProps()
	if err != nil {
		return err
	}
	d.gpuProps = props
	return nil
}

func (d *Device) freeGPUProps() error {
	d.gpuProps = nil
	return nil
}

func (d *Device) mmapUserReg() error {
	page, err := d.kernel.Mmap(d.fd, abi.MemCSFUserRegPageHandle, d.options.PageSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrap(err, "mmap(BASEP_MEM_CSF_USER_REG_PAGE_HANDLE)")
	}
	d.userRegPage = page
	return nil
}

func (d *Device) munmapUserReg() error {
	if d.userRegPage == nil {
		return nil
	}
	err := d.kernel.Munmap(d.userRegPage)
	d.userRegPage = nil
	return err
}

func (d *Device) initMemExec() error {
	return d.driver.MemExecInit(abi.MemExecInitVAPages)
}

func (d *Device) initMemJIT() error {
	return d.driver.MemJITInit(abi.MemJITInitVAPages, abi.MemJITInitMaxAllocs, abi.MemJITInitPhysPages)
}

func (d *Device) allocEventMem() error {
	ptr, err := d.Alloc(2*d.options.PageSize, abi.PanBONoExec, abi.EventMemFlags)
	if err != nil {
		return err
	}
	d.eventMem = ptr.CPU
	d.eventMemVA = ptr.GPU
	return nil
}

func (d *Device) freeEventMem() error {
	if d.eventMem == nil {
		return nil
	}
	err := d.kernel.Munmap(d.eventMem)
	d.eventMem = nil
	return err
}

func (d *Device) verbose() bool {
	return d.options.Flags&CreateVerbose != 0
}

func (d *Device) API() API {
	return d.driver.API()
}

func (d *Device) Kernel() kernel.Kernel {
	return d.kernel
}

func (d *Device) Logger() *slog.Logger {
	return d.logger
}

func (d *Device) Options() CreateOptions {
	return d.options
}

func (d *Device) PageSize() int {
	return d.options.PageSize
}

func (d *Device) Handles() *HandleTable {
	return d.handles
}

// FD is the kbase file, or -1 on a simulated device
func (d *Device) FD() int {
	return d.fd
}

// UserRegPage is the read-only CSF user register page, holding LATEST_FLUSH
func (d *Device) UserRegPage() []byte {
	return d.userRegPage
}

func (d *Device) eventWord(offset int) *uint64 {
	return (*uint64)(unsafe.Pointer(&d.eventMem[offset]))
}

// EventSeq reads the sequence number the GPU last wrote to slot's event
// record
func (d *Device) EventSeq(slot int) uint64 {
	return atomic.LoadUint64(d.eventWord(slot * eventRecordSize))
}

// SetEventSeq writes slot's event record the way the GPU does on completion.
// Simulated devices use it to make progress.
func (d *Device) SetEventSeq(slot int, seq uint64) {
	atomic.StoreUint64(d.eventWord(slot*eventRecordSize), seq)
}

// EventAddress is the GPU address of slot's event record
func (d *Device) EventAddress(slot int) uint64 {
	return d.eventMemVA + uint64(slot*eventRecordSize)
}

// KCPUEventAddress is the GPU address of slot's record in the KCPU event page
func (d *Device) KCPUEventAddress(slot int) uint64 {
	return d.eventMemVA + uint64(d.options.PageSize+slot*eventRecordSize)
}

func (d *Device) kcpuEventWord(offset int) *uint64 {
	return d.eventWord(d.options.PageSize + offset)
}
