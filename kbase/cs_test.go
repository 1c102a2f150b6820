package kbase

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kbase/kbase/internal/abi"
	"github.com/vkngwrapper/kbase/kbase/kernel"
	"golang.org/x/sys/unix"
)

func bindStream(t *testing.T, d *Device, size uint32) (*Context, *CommandStream) {
	ctx, err := d.ContextCreate()
	require.NoError(t, err)

	ring, err := d.Alloc(int(size), AllocNoExec, 0)
	require.NoError(t, err)

	cs, err := d.CSBind(ctx, ring.GPU, size)
	require.NoError(t, err)

	t.Cleanup(func() {
		d.CSTerm(cs)
		d.ContextDestroy(ctx)
		require.NoError(t, d.Free(ring.GPU))
		require.NoError(t, d.Kernel().Munmap(ring.CPU))
	})

	return ctx, cs
}

func TestCSEndToEnd(t *testing.T) {
	d, k := openNoop(t, CreateOptions{})
	_, cs := bindStream(t, d, 65536)

	require.Equal(t, uint8(0), cs.CSI())
	require.Equal(t, 0, cs.EventSlot())
	require.Equal(t, uint64(1), d.EventSeq(cs.EventSlot()))

	o := d.SyncobjCreate()
	defer d.SyncobjDestroy(o)

	require.True(t, d.CSSubmit(cs, 64, o, 5))
	require.Equal(t, uint64(64), cs.Insert())
	require.Equal(t, uint64(64), cs.LastInsert())
	require.Equal(t, 1, k.Calls(abi.IoctlCSQueueKick))

	_, lastSubmit := d.SlotState(cs.EventSlot())
	require.Equal(t, uint64(6), lastSubmit)

	var released atomic.Bool
	go func() {
		time.Sleep(30 * time.Millisecond)
		released.Store(true)
		// What the ring's final instruction does
		d.SetEventSeq(cs.EventSlot(), 6)
		k.Notify()
	}()

	require.True(t, d.CSWait(cs, 64, o))
	require.True(t, released.Load())

	last, _ := d.SlotState(cs.EventSlot())
	require.Greater(t, last, uint64(5))

	// The fences are gone, so the second wait is immediate
	start := time.Now()
	require.True(t, d.CSWait(cs, 64, o))
	require.Less(t, time.Since(start), time.Second)

	require.NoError(t, d.Validate())
}

func TestCSSubmitSameInsert(t *testing.T) {
	d, k := openNoop(t, CreateOptions{})
	_, cs := bindStream(t, d, 4096)

	o := d.SyncobjCreate()
	defer d.SyncobjDestroy(o)

	require.True(t, d.CSSubmit(cs, 128, o, 1))
	require.True(t, d.CSSubmit(cs, 128, o, 2))
	require.Equal(t, 1, k.Calls(abi.IoctlCSQueueKick))

	// The repeated submit recorded nothing
	d.QueueLock()
	require.Equal(t, []Fence{{Slot: uint32(cs.EventSlot()), Value: 1}}, o.Fences())
	d.QueueUnlock()
}

func TestCSSubmitDoorbell(t *testing.T) {
	d, _ := openNoop(t, CreateOptions{RingDoorbell: true})
	_, cs := bindStream(t, d, 4096)

	require.True(t, d.CSSubmit(cs, 64, nil, 1))
	require.Equal(t, uint32(1), atomic.LoadUint32((*uint32)(cs.register(0, 0))))
}

func TestCSWaitTimeout(t *testing.T) {
	d, _ := openNoop(t, CreateOptions{WaitTimeout: 30 * time.Millisecond})
	_, cs := bindStream(t, d, 4096)

	o := d.SyncobjCreate()
	defer d.SyncobjDestroy(o)

	require.True(t, d.CSSubmit(cs, 64, o, 1))
	require.False(t, d.CSWait(cs, 64, o))

	extract, active := cs.ReadRegisters()
	require.Zero(t, extract)
	require.Zero(t, active)
}

func TestCSTermReleasesWaiters(t *testing.T) {
	d, _ := openNoop(t, CreateOptions{})

	ctx, err := d.ContextCreate()
	require.NoError(t, err)
	defer d.ContextDestroy(ctx)

	cs, err := d.CSBind(ctx, 0x100000, 4096)
	require.NoError(t, err)

	o := d.SyncobjCreate()
	defer d.SyncobjDestroy(o)

	require.True(t, d.CSSubmit(cs, 64, o, 3))

	var count atomic.Int32
	var fired atomic.Bool
	require.True(t, d.CallbackAllQueues(&count, func() {
		fired.Store(true)
	}))

	d.CSTerm(cs)

	require.True(t, fired.Load())
	last, _ := d.SlotState(cs.EventSlot())
	require.Zero(t, last)
	require.False(t, cs.Bound())

	d.QueueLock()
	require.Empty(t, o.Fences())
	d.QueueUnlock()

	require.False(t, d.CSSubmit(cs, 128, o, 4))
	require.False(t, d.CSWait(cs, 128, o))
}

func TestCSRebind(t *testing.T) {
	d, k := openNoop(t, CreateOptions{})
	ctx, cs := bindStream(t, d, 4096)

	require.True(t, d.CSSubmit(cs, 64, nil, 1))

	d.CSTerm(cs)
	require.NoError(t, d.ContextRecreate(ctx))
	require.Equal(t, uint8(1), ctx.GroupHandle())

	require.NoError(t, d.CSRebind(cs))
	require.True(t, cs.Bound())
	require.Equal(t, 0, cs.EventSlot())
	require.Equal(t, 2, k.Calls(abi.IoctlCSQueueBind))

	// The slot kept its history
	_, lastSubmit := d.SlotState(cs.EventSlot())
	require.Equal(t, uint64(2), lastSubmit)

	cs.SetLastInsert(0)
	require.True(t, d.CSSubmit(cs, 64, nil, 2))
	require.Equal(t, uint64(64), cs.Insert())
}

func TestCSBindFailure(t *testing.T) {
	d, k := openNoop(t, CreateOptions{})

	ctx, err := d.ContextCreate()
	require.NoError(t, err)
	defer d.ContextDestroy(ctx)

	k.FailNext(abi.IoctlCSQueueBind, unix.EINVAL, 1)
	_, err = d.CSBind(ctx, 0x100000, 4096)
	require.ErrorIs(t, err, unix.EINVAL)

	d.QueueLock()
	require.Zero(t, d.EventSlotUsage())
	d.QueueUnlock()
}

func TestContextCreate(t *testing.T) {
	d, k := openNoop(t, CreateOptions{})

	ctx, err := d.ContextCreate()
	require.NoError(t, err)
	require.Equal(t, uint64(kernel.NoopHeapVA), ctx.TilerHeapVA())
	require.Equal(t, uint64(kernel.NoopFirstChunkVA), ctx.TilerHeapHeader())

	d.ContextDestroy(ctx)
	require.Zero(t, ctx.TilerHeapVA())
	require.Equal(t, 1, k.Calls(abi.IoctlCSTilerHeapTerm))
	require.Equal(t, 1, k.Calls(abi.IoctlCSQueueGroupTerm))

	// Already torn down
	d.ContextDestroy(ctx)
	require.Equal(t, 1, k.Calls(abi.IoctlCSQueueGroupTerm))
}

func TestContextCreateHeapFailure(t *testing.T) {
	d, k := openNoop(t, CreateOptions{})
	k.FailNext(abi.IoctlCSTilerHeapInit, unix.ENOMEM, 1)

	_, err := d.ContextCreate()
	require.ErrorIs(t, err, unix.ENOMEM)
	require.Equal(t, 1, k.Calls(abi.IoctlCSQueueGroupTerm))
}
