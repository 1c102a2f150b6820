package kbase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kbase/kbase/kernel"
)

func testHandleTable() *HandleTable {
	d := &Device{logger: testLogger(), kernel: kernel.NewNoop()}
	d.handles = newHandleTable(d, true)
	return d.handles
}

func TestHandleReuse(t *testing.T) {
	table := testHandleTable()

	a := table.Alloc(0x1000, HandleNoFD)
	b := table.Alloc(0x2000, HandleNoFD)
	c := table.Alloc(0x3000, HandleNoFD)
	require.Equal(t, []int{0, 1, 2}, []int{a, b, c})

	table.Free(b)
	require.Equal(t, HandleNoFD, table.Get(b).FD)
	require.Zero(t, table.Get(b).VA)
	require.Equal(t, 3, table.Len())

	// The freed slot is the next one handed out
	reused := table.Alloc(0x4000, HandleNoFD)
	require.Equal(t, b, reused)
	require.Equal(t, uint64(0x4000), table.Get(reused).VA)

	require.NoError(t, table.Validate())
}

func TestHandleFreeTail(t *testing.T) {
	table := testHandleTable()

	a := table.Alloc(0x1000, HandleNoFD)
	b := table.Alloc(0x2000, HandleNoFD)
	c := table.Alloc(0x3000, HandleNoFD)

	table.Free(b)
	table.Free(c)
	// Popping c exposes the freed b, which goes too
	require.Equal(t, 1, table.Len())
	require.NoError(t, table.Validate())

	require.Equal(t, 1, table.Alloc(0x5000, HandleNoFD))
	table.Free(a)
	require.Equal(t, 2, table.Len())
	require.Equal(t, 0, table.Alloc(0x6000, HandleNoFD))
}

func TestHandleGetOutOfRange(t *testing.T) {
	table := testHandleTable()

	require.Equal(t, Handle{FD: HandleNoFD}, table.Get(-1))
	require.Equal(t, Handle{FD: HandleNoFD}, table.Get(10))

	// Freeing something that does not exist is harmless
	table.Free(10)
	table.Free(-3)
	require.Zero(t, table.Len())
}

func TestLatestSlot(t *testing.T) {
	require.Equal(t, uint8(5), latestSlot(5, 5, 5))
	require.Equal(t, uint8(4), latestSlot(3, 4, 10))
	require.Equal(t, uint8(4), latestSlot(4, 3, 10))
	// 3 was submitted after 250 once the atom numbers wrapped
	require.Equal(t, uint8(3), latestSlot(250, 3, 5))
	require.Equal(t, uint8(3), latestSlot(3, 250, 5))
}

func TestMarkUsedImplicitSync(t *testing.T) {
	table := testHandleTable()

	local := table.Alloc(0x1000, HandleNoFD)
	imported := table.Alloc(0x2000, 100)

	table.lock.Lock()
	deps, extres := table.markUsedLocked([]int{local}, 1, 7)
	table.lock.Unlock()

	// Nothing was using the buffer, so the atom only depends on itself
	require.Equal(t, [SlotCount]uint8{7, 7}, deps)
	require.Empty(t, extres)
	require.Equal(t, uint8(1), table.Get(local).UseCount)
	require.Equal(t, uint8(7), table.Get(local).LastAccess[1])

	table.lock.Lock()
	deps, extres = table.markUsedLocked([]int{local, imported}, 0, 8)
	table.lock.Unlock()

	require.Equal(t, [SlotCount]uint8{0, 7}, deps)
	require.Equal(t, []uint64{0x2000}, extres)
	require.Equal(t, uint8(2), table.Get(local).UseCount)
	require.Equal(t, uint8(8), table.Get(local).LastAccess[0])
	require.Equal(t, uint8(7), table.Get(local).LastAccess[1])

	table.lock.Lock()
	table.releaseLocked([]int{local, imported})
	table.releaseLocked([]int{local})
	table.lock.Unlock()

	require.Zero(t, table.Get(local).UseCount)
	require.Zero(t, table.Get(imported).UseCount)

	require.Panics(t, func() {
		table.releaseLocked([]int{local})
	})
	require.Panics(t, func() {
		table.markUsedLocked([]int{12}, 0, 9)
	})

	// The table does not own fd 100, so drop it before anything closes it
	table.handles[imported].FD = HandleNoFD
}

func TestHandleWaitIdle(t *testing.T) {
	d, _ := openNoop(t, CreateOptions{})
	table := d.Handles()

	handle := table.Alloc(0x1000, HandleNoFD)

	table.lock.Lock()
	table.markUsedLocked([]int{handle}, 0, 0)
	table.lock.Unlock()

	require.ErrorIs(t, table.WaitIdle(handle, 20*time.Millisecond), ErrTimeout)
	require.ErrorIs(t, table.WaitIdle(handle+1, time.Second), ErrInvalidHandle)

	go func() {
		time.Sleep(20 * time.Millisecond)
		table.lock.Lock()
		table.releaseLocked([]int{handle})
		table.lock.Unlock()
	}()

	require.NoError(t, table.WaitIdle(handle, 2*time.Second))
}
