package batch

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kbase/bo"
	"github.com/vkngwrapper/kbase/kbase"
	"github.com/vkngwrapper/kbase/kbase/kernel"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout))
}

func newContext(t *testing.T, waitTimeout time.Duration, options bo.Options) (*Context, *bo.Allocator, *kbase.Device, *kernel.Noop) {
	k := kernel.NewNoop()

	d, err := kbase.Open(testLogger(), k, -1, kbase.CreateOptions{
		PollInterval: 5 * time.Millisecond,
		WaitTimeout:  waitTimeout,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, d.Close())
	})

	a := bo.New(testLogger(), d, options)
	t.Cleanup(a.EvictAll)

	c, err := NewContext(d, a, 4096)
	require.NoError(t, err)
	t.Cleanup(c.Destroy)

	return c, a, d, k
}

func createBO(t *testing.T, a *bo.Allocator, label string) *bo.BO {
	b, err := a.Create(4096, 0, label)
	require.NoError(t, err)
	t.Cleanup(b.Unreference)
	return b
}

func usageOf(a *bo.Allocator, b *bo.BO) []bo.Usage {
	a.UsageLock()
	defer a.UsageUnlock()

	return b.UsageLocked()
}

// complete makes both streams report everything submitted so far
func complete(c *Context, k *kernel.Noop) {
	d := c.Device()
	for _, q := range []*Queue{c.Vertex, c.Fragment} {
		_, lastSubmit := d.SlotState(q.CS.EventSlot())
		d.SetEventSeq(q.CS.EventSlot(), lastSubmit)
	}
	k.Notify()
}

func TestNewContext(t *testing.T) {
	c, a, d, _ := newContext(t, time.Second, bo.Options{})

	require.NotNil(t, c.KbaseContext())
	require.True(t, c.Vertex.CS.Bound())
	require.True(t, c.Fragment.CS.Bound())
	require.NotEqual(t, c.Vertex.Slot(), c.Fragment.Slot())

	require.Equal(t, c.Vertex.Ring.GPU(), c.Vertex.CS.VA())
	require.Equal(t, bo.Cacheable, c.Vertex.Ring.Flags())
	require.Same(t, c.Fragment.Ring, a.Lookup(c.Fragment.Ring.Handle()))

	d.QueueLock()
	require.Equal(t, 2, d.EventSlotUsage())
	d.QueueUnlock()
}

func TestSubmitRecordsUsage(t *testing.T) {
	c, a, d, _ := newContext(t, time.Second, bo.Options{})

	target := createBO(t, a, "render target")
	texture := createBO(t, a, "texture")

	b := c.NewBatch()
	defer b.Close()

	b.Use(target, ReadVertex)
	b.Use(target, WriteVertex)
	b.Use(texture, ReadFragment)

	require.Equal(t, 2, b.BOCount())
	require.True(t, b.HasFragment())
	require.False(t, b.NeedsSync())
	require.Equal(t, int32(2), target.Refcount())

	require.NoError(t, c.Submit(b, 64, 64))
	require.Equal(t, uint64(1), c.Vertex.Seqnum)
	require.Equal(t, uint64(1), c.Fragment.Seqnum)

	// The read and the write on one queue merge into one entry
	require.Equal(t, []bo.Usage{{Queue: c.Vertex.Slot(), Write: true, Seqnum: 1}}, usageOf(a, target))
	require.Equal(t, []bo.Usage{{Queue: c.Fragment.Slot(), Seqnum: 1}}, usageOf(a, texture))
	require.Equal(t, bo.AccessRW, target.GPUAccess())
	require.Equal(t, bo.AccessRead, texture.GPUAccess())

	vertex, fragment := b.Deps()
	// The write follows the read recorded just before it, which maps to
	// the batch before this one
	require.Equal(t, []bo.Usage{{Queue: c.Vertex.Slot(), Seqnum: 0}}, vertex)
	require.Empty(t, fragment)

	_, lastSubmit := d.SlotState(c.Vertex.CS.EventSlot())
	require.Equal(t, uint64(2), lastSubmit)
	require.Equal(t, uint64(64), c.Fragment.CS.LastInsert())

	require.ErrorIs(t, c.Submit(b, 128, 128), ErrSubmitted)
}

func TestSubmitCrossQueueDeps(t *testing.T) {
	c, a, _, _ := newContext(t, time.Second, bo.Options{})

	target := createBO(t, a, "render target")
	stale := createBO(t, a, "stale")

	first := c.NewBatch()
	first.Use(target, WriteVertex)
	require.False(t, first.HasFragment())
	require.NoError(t, c.Submit(first, 64, 0))
	first.Close()
	require.Zero(t, c.Fragment.Seqnum)

	// A usage from work the streams never saw
	a.UsageLock()
	stale.MarkUsedLocked(bo.Usage{Queue: c.Vertex.Slot(), Write: true, Seqnum: 10})
	a.UsageUnlock()

	second := c.NewBatch()
	defer second.Close()
	second.Use(target, ReadFragment)
	second.Use(stale, ReadVertex)
	require.NoError(t, c.Submit(second, 128, 64))

	vertex, fragment := second.Deps()
	require.Empty(t, vertex)
	require.Equal(t, []bo.Usage{{Queue: c.Vertex.Slot(), Write: true, Seqnum: 1}}, fragment)

	require.Equal(t, []bo.Usage{
		{Queue: c.Vertex.Slot(), Write: true, Seqnum: 1},
		{Queue: c.Fragment.Slot(), Seqnum: 1},
	}, usageOf(a, target))
}

func TestSubmitTilerHeap(t *testing.T) {
	c, a, _, _ := newContext(t, time.Second, bo.Options{})

	heap := createBO(t, a, "tiler heap")
	c.SetTilerHeap(heap)
	require.Equal(t, int32(2), heap.Refcount())

	first := c.NewBatch()
	first.AddFragment()
	require.NoError(t, c.Submit(first, 64, 64))
	first.Close()

	require.Equal(t, []bo.Usage{{Queue: c.Fragment.Slot(), Write: true, Seqnum: 1}}, usageOf(a, heap))

	// The next batch's vertex job waits for the previous fragment job
	second := c.NewBatch()
	defer second.Close()
	second.AddFragment()
	require.NoError(t, c.Submit(second, 128, 128))

	vertex, _ := second.Deps()
	require.Equal(t, []bo.Usage{{Queue: c.Fragment.Slot(), Write: true, Seqnum: 1}}, vertex)
}

func TestSubmitSync(t *testing.T) {
	c, a, _, k := newContext(t, 2*time.Second, bo.Options{Sync: true})

	buffer := createBO(t, a, "synced")

	b := c.NewBatch()
	defer b.Close()
	b.Use(buffer, WriteFragment)
	require.True(t, b.NeedsSync())

	go func() {
		time.Sleep(20 * time.Millisecond)
		complete(c, k)
	}()

	require.NoError(t, c.Submit(b, 64, 64))
	require.Zero(t, c.Resets())
	require.True(t, buffer.Wait(0, true))
}

func TestSubmitResetAfterTimeout(t *testing.T) {
	c, a, _, _ := newContext(t, 30*time.Millisecond, bo.Options{})

	heap := createBO(t, a, "tiler heap")
	c.SetTilerHeap(heap)

	buffer := createBO(t, a, "faulted")

	b := c.NewBatch()
	defer b.Close()
	b.Use(buffer, WriteFragment)
	b.RequireSync()

	require.NoError(t, c.Submit(b, 64, 64))
	require.Equal(t, 1, c.Resets())

	require.True(t, c.Vertex.CS.Bound())
	require.True(t, c.Fragment.CS.Bound())
	require.Zero(t, c.Vertex.CS.LastInsert())
	require.Zero(t, c.Fragment.CS.LastInsert())

	require.Nil(t, c.TilerHeap())
	require.Equal(t, int32(1), heap.Refcount())

	// The faulted work is retired
	require.True(t, c.Wait())
	require.True(t, buffer.Wait(0, true))

	// Submitting again starts the rings over
	next := c.NewBatch()
	defer next.Close()
	next.AddFragment()
	require.NoError(t, c.Submit(next, 64, 64))
	require.Equal(t, uint64(64), c.Vertex.CS.LastInsert())
}

func TestResetWithoutRecovery(t *testing.T) {
	c, _, _, _ := newContext(t, 30*time.Millisecond, bo.Options{Sync: true})

	b := c.NewBatch()
	defer b.Close()
	b.AddFragment()

	require.NoError(t, c.Submit(b, 64, 64))
	require.Equal(t, 1, c.Resets())
	require.False(t, c.Vertex.CS.Bound())
	require.False(t, c.Fragment.CS.Bound())

	next := c.NewBatch()
	defer next.Close()
	require.ErrorIs(t, c.Submit(next, 128, 128), kbase.ErrNotBound)
}

func TestFence(t *testing.T) {
	c, _, _, k := newContext(t, 2*time.Second, bo.Options{})

	b := c.NewBatch()
	defer b.Close()
	b.AddFragment()
	require.NoError(t, c.Submit(b, 64, 64))

	fence := c.FenceCreate()
	defer c.FenceDestroy(fence)

	d := c.Device()
	d.QueueLock()
	require.Len(t, fence.Fences(), 2)
	d.QueueUnlock()

	go func() {
		time.Sleep(20 * time.Millisecond)
		complete(c, k)
	}()

	require.True(t, c.FenceWait(fence))
	require.True(t, c.Wait())
}

func TestBatchReferences(t *testing.T) {
	c, a, _, _ := newContext(t, time.Second, bo.Options{})

	buffer := createBO(t, a, "referenced")

	b := c.NewBatch()
	b.Use(buffer, ReadVertex)
	b.Use(buffer, ReadFragment)
	require.Equal(t, 1, b.BOCount())
	require.Equal(t, int32(2), buffer.Refcount())

	b.Close()
	require.Equal(t, int32(1), buffer.Refcount())
	require.Zero(t, b.BOCount())

	// A closed batch starts over with an empty set
	b.Use(buffer, WriteVertex)
	require.Equal(t, 1, b.BOCount())
	require.Equal(t, int32(2), buffer.Refcount())

	b.Close()
	require.Equal(t, int32(1), buffer.Refcount())
}

func TestSharedForcesSync(t *testing.T) {
	c, a, _, _ := newContext(t, time.Second, bo.Options{})

	f, err := os.CreateTemp(t.TempDir(), "dmabuf")
	require.NoError(t, err)
	t.Cleanup(func() {
		f.Close()
	})
	require.NoError(t, f.Truncate(4096))

	imported, err := a.Import(int(f.Fd()))
	require.NoError(t, err)
	t.Cleanup(imported.Unreference)

	b := c.NewBatch()
	defer b.Close()

	b.Use(createBO(t, a, "local"), ReadVertex)
	require.False(t, b.NeedsSync())

	b.Use(imported, ReadFragment)
	require.True(t, b.NeedsSync())
}

func TestSubmitJobsNeedsJobManager(t *testing.T) {
	c, _, _, _ := newContext(t, time.Second, bo.Options{})

	b := c.NewBatch()
	defer b.Close()

	_, err := c.SubmitJobs(b, 0x1000, kbase.SubmitFragment)
	require.ErrorIs(t, err, kbase.ErrUnsupported)
}

func TestUsageTypeString(t *testing.T) {
	require.Equal(t, "WriteFragment", WriteFragment.String())
	require.Equal(t, "UsageType(invalid)", UsageType(7).String())
}
