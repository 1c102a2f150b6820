package kbase

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kbase/kbase/internal/abi"
	"golang.org/x/sys/unix"
)

func TestKCPUFenceExport(t *testing.T) {
	d, k := openNoop(t, CreateOptions{})

	ctx, err := d.ContextCreate()
	require.NoError(t, err)

	fd, err := d.KCPUFenceExport(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, fd, 0)

	require.NoError(t, d.KCPUFenceImport(ctx, fd))
	require.NoError(t, unix.Close(fd))

	// The queue is created on first use and reused after that
	require.Equal(t, 1, k.Calls(abi.IoctlKCPUQueueCreate))
	require.Equal(t, 2, k.Calls(abi.IoctlKCPUQueueEnqueue))

	d.ContextDestroy(ctx)
	require.Equal(t, 1, k.Calls(abi.IoctlKCPUQueueDelete))
}

func TestKCPUCQSSet(t *testing.T) {
	d, _ := openNoop(t, CreateOptions{})

	ctx, err := d.ContextCreate()
	require.NoError(t, err)
	defer d.ContextDestroy(ctx)

	ptr, err := d.Alloc(4096, AllocNoExec, 0)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, d.Free(ptr.GPU))
		require.NoError(t, d.Kernel().Munmap(ptr.CPU))
	}()

	require.NoError(t, d.KCPUCQSSet(ctx, ptr.GPU+8, 42))
	require.Equal(t, uint64(42), binary.LittleEndian.Uint64(ptr.CPU[8:]))

	require.NoError(t, d.KCPUCQSWait(ctx, ptr.GPU+8, 41))
}

func TestKCPURetryBusy(t *testing.T) {
	d, k := openNoop(t, CreateOptions{})

	ctx, err := d.ContextCreate()
	require.NoError(t, err)
	defer d.ContextDestroy(ctx)

	k.FailNext(abi.IoctlKCPUQueueEnqueue, unix.EBUSY, 3)

	fd, err := d.KCPUFenceExport(ctx)
	require.NoError(t, err)
	require.NoError(t, unix.Close(fd))
	require.Equal(t, 4, k.Calls(abi.IoctlKCPUQueueEnqueue))
}

func TestKCPURetryTimeout(t *testing.T) {
	d, k := openNoop(t, CreateOptions{})

	ctx, err := d.ContextCreate()
	require.NoError(t, err)
	defer d.ContextDestroy(ctx)

	k.FailNext(abi.IoctlKCPUQueueEnqueue, unix.EBUSY, 1<<20)

	_, err = d.KCPUFenceExport(ctx)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestKCPUEnqueueError(t *testing.T) {
	d, k := openNoop(t, CreateOptions{})

	ctx, err := d.ContextCreate()
	require.NoError(t, err)
	defer d.ContextDestroy(ctx)

	k.FailNext(abi.IoctlKCPUQueueEnqueue, unix.EINVAL, 1)

	err = d.KCPUFenceImport(ctx, 0)
	require.ErrorIs(t, err, unix.EINVAL)
	require.Equal(t, 1, k.Calls(abi.IoctlKCPUQueueEnqueue))
}
