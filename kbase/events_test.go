package kbase

import (
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func slotDevice(slots int) *Device {
	d := &Device{logger: testLogger()}
	d.eventSlotUsage = slots
	for i := 0; i < slots; i++ {
		d.eventSlots[i].last = 1
		d.eventSlots[i].lastSubmit = 1
	}
	return d
}

func TestCallbackOrder(t *testing.T) {
	d := slotDevice(1)

	d.queueLock.Lock()
	d.submitLocked(0, 10)
	d.queueLock.Unlock()

	var fired []uint64
	for _, seq := range []uint64{2, 5, 7} {
		seq := seq
		d.eventSlots[0].appendLink(seq, func() {
			fired = append(fired, seq)
		})
	}

	// One report passing all three
	d.Advance(0, 9)
	require.Equal(t, []uint64{2, 5, 7}, fired)
	require.Zero(t, d.eventSlots[0].pending())

	d.Advance(0, 11)
	require.Equal(t, []uint64{2, 5, 7}, fired)
}

func TestCallbackStopsAtFirstPending(t *testing.T) {
	d := slotDevice(1)

	d.queueLock.Lock()
	d.submitLocked(0, 10)
	d.queueLock.Unlock()

	var fired []uint64
	for _, seq := range []uint64{2, 5, 7} {
		seq := seq
		d.eventSlots[0].appendLink(seq, func() {
			fired = append(fired, seq)
		})
	}

	d.Advance(0, 5)
	require.Equal(t, []uint64{2}, fired)
	require.Equal(t, 2, d.eventSlots[0].pending())

	d.UpdateQueueCallbacks(0, 7)
	require.Equal(t, []uint64{2, 5}, fired)

	d.Advance(0, 8)
	require.Equal(t, []uint64{2, 5, 7}, fired)
	require.NoError(t, d.eventSlots[0].Validate())
}

func TestAdvanceMonotonic(t *testing.T) {
	d := slotDevice(1)

	r := rand.New(rand.NewSource(1))
	prev := uint64(0)

	for i := 0; i < 1000; i++ {
		if r.Intn(3) == 0 {
			d.queueLock.Lock()
			d.submitLocked(0, d.eventSlots[0].lastSubmit+uint64(r.Intn(4)))
			d.queueLock.Unlock()
		}

		d.Advance(0, uint64(r.Intn(int(d.eventSlots[0].lastSubmit)+8)))

		last, lastSubmit := d.SlotState(0)
		require.GreaterOrEqual(t, last, prev)
		require.LessOrEqual(t, last, lastSubmit)
		require.NoError(t, d.eventSlots[0].Validate())
		prev = last
	}
}

func TestAdvanceClampsToSubmit(t *testing.T) {
	d := slotDevice(1)

	d.queueLock.Lock()
	d.submitLocked(0, 3)
	d.queueLock.Unlock()

	d.Advance(0, 100)
	last, lastSubmit := d.SlotState(0)
	require.Equal(t, uint64(4), last)
	require.Equal(t, uint64(4), lastSubmit)

	// Going backwards is ignored
	d.Advance(0, 2)
	last, _ = d.SlotState(0)
	require.Equal(t, uint64(4), last)
}

func TestCallbackAllQueues(t *testing.T) {
	d := slotDevice(3)

	d.queueLock.Lock()
	d.submitLocked(1, 3)
	d.submitLocked(2, 2)
	d.queueLock.Unlock()
	d.Advance(2, 2)

	var count atomic.Int32
	var fired atomic.Int32
	cb := func() {
		fired.Add(1)
		count.Add(-1)
	}

	require.True(t, d.CallbackAllQueues(&count, cb))
	require.Equal(t, int32(2), count.Load())

	d.Advance(1, 3)
	require.Zero(t, fired.Load())

	d.Advance(1, 4)
	require.Equal(t, int32(1), fired.Load())

	d.Advance(2, 3)
	require.Equal(t, int32(2), fired.Load())
	require.Zero(t, count.Load())
}

func TestCallbackAllQueuesIdle(t *testing.T) {
	d := slotDevice(4)

	var count atomic.Int32
	require.False(t, d.CallbackAllQueues(&count, func() {
		t.Fatal("callback on idle queues")
	}))
	require.Zero(t, count.Load())
}

func TestCallbackTakesQueueLock(t *testing.T) {
	d := slotDevice(1)

	d.queueLock.Lock()
	d.submitLocked(0, 1)
	d.queueLock.Unlock()

	var count atomic.Int32
	var seen uint64
	d.CallbackAllQueues(&count, func() {
		// Callbacks run with the queue lock released
		seen, _ = d.SlotState(0)
	})

	d.Advance(0, 2)
	require.Equal(t, uint64(2), seen)
}

func TestWaitContext(t *testing.T) {
	d, _ := openNoop(t, CreateOptions{})

	start := time.Now()
	wait := d.NewWait(30 * time.Millisecond)
	defer wait.Done()

	// The first call never blocks
	require.True(t, wait.Next())

	passes := 0
	for wait.Next() {
		passes++
	}
	require.NotZero(t, passes)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.False(t, wait.Next())
}

func TestWaitContextDoneStopsPoller(t *testing.T) {
	d, _ := openNoop(t, CreateOptions{})

	for i := 0; i < 3; i++ {
		wait := d.NewWait(10 * time.Millisecond)
		for wait.Next() {
		}
		wait.Done()
		wait.Done()
	}

	d.wait.lock.Lock()
	waiters := d.wait.waiters
	stop := d.wait.stop
	d.wait.lock.Unlock()

	require.Zero(t, waiters)
	require.Nil(t, stop)
}

func TestEnsureHandleEvents(t *testing.T) {
	d, k := openNoop(t, CreateOptions{})

	ctx, err := d.ContextCreate()
	require.NoError(t, err)
	defer d.ContextDestroy(ctx)

	cs, err := d.CSBind(ctx, 0x100000, 4096)
	require.NoError(t, err)
	defer d.CSTerm(cs)

	d.queueLock.Lock()
	d.submitLocked(cs.EventSlot(), 1)
	d.queueLock.Unlock()

	d.SetEventSeq(cs.EventSlot(), 2)
	k.Notify()
	d.EnsureHandleEvents()

	last, _ := d.SlotState(cs.EventSlot())
	require.Equal(t, uint64(2), last)
}

func TestPollFdUntil(t *testing.T) {
	d, _ := openNoop(t, CreateOptions{})

	// The simulated kernel treats every dma-buf as idle
	require.True(t, d.PollFdUntil(0, true, time.Now().Add(time.Millisecond)))
	require.True(t, d.PollFdUntil(0, false, time.Now().Add(time.Millisecond)))
}
