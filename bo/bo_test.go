package bo

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDeferredFreeTwoQueues(t *testing.T) {
	a, d, k := newAllocator(t, Options{NoCache: true})
	queues := bindQueues(t, d, 2)
	vertex, fragment := queues[0], queues[1]

	b, err := a.Create(4096, 0, "shared by queues")
	require.NoError(t, err)

	a.UsageLock()
	b.MarkUsedLocked(Usage{Queue: uint32(vertex.EventSlot()), Write: true, Seqnum: 1})
	b.MarkUsedLocked(Usage{Queue: uint32(fragment.EventSlot()), Seqnum: 1})
	a.UsageUnlock()
	require.Equal(t, AccessRW, b.GPUAccess())

	require.True(t, d.CSSubmit(vertex, 64, nil, 1))
	require.True(t, d.CSSubmit(fragment, 64, nil, 1))

	mapped := k.Mapped()
	b.Unreference()
	require.Equal(t, int32(2), b.gpuRefcnt.Load())
	require.Same(t, b, a.Lookup(b.Handle()))
	require.Equal(t, mapped, k.Mapped())

	d.Advance(vertex.EventSlot(), 2)
	require.Same(t, b, a.Lookup(b.Handle()))
	require.Equal(t, mapped, k.Mapped())
	require.False(t, b.freed)

	d.Advance(fragment.EventSlot(), 2)
	require.Nil(t, a.Lookup(b.Handle()))
	require.Equal(t, mapped-1, k.Mapped())
	require.True(t, b.freed)
}

func TestDeferredFreeRevived(t *testing.T) {
	a, d, _ := newAllocator(t, Options{})
	queue := bindQueues(t, d, 1)[0]

	b, err := a.Create(4096, 0, "revived")
	require.NoError(t, err)
	require.True(t, d.CSSubmit(queue, 64, nil, 1))

	b.Unreference()
	require.Equal(t, int32(1), b.gpuRefcnt.Load())

	// Picked up again before the queue drained, as an import would
	b.refcnt.Store(1)
	d.Advance(queue.EventSlot(), 2)
	require.Zero(t, a.CachedCount())
	require.False(t, b.freed)

	b.Unreference()
	require.Equal(t, 1, a.CachedCount())
}

func TestWaitForWriter(t *testing.T) {
	a, d, k := newAllocator(t, Options{})
	queue := bindQueues(t, d, 1)[0]

	b, err := a.Create(4096, 0, "written")
	require.NoError(t, err)
	defer b.Unreference()

	// Idle buffers never wait
	require.True(t, b.Wait(0, true))

	a.UsageLock()
	b.MarkUsedLocked(Usage{Queue: uint32(queue.EventSlot()), Write: true, Seqnum: 1})
	a.UsageUnlock()
	require.True(t, d.CSSubmit(queue, 64, nil, 1))

	require.False(t, b.Wait(20*time.Millisecond, false))
	require.Equal(t, AccessRW, b.GPUAccess())

	go func() {
		time.Sleep(20 * time.Millisecond)
		d.SetEventSeq(queue.EventSlot(), 2)
		k.Notify()
	}()

	require.True(t, b.Wait(2*time.Second, false))
	require.Equal(t, AccessRead, b.GPUAccess())

	// Only reads are left, which a writer wait ignores
	require.True(t, b.Wait(0, false))
	require.True(t, b.Wait(0, true))
	require.Zero(t, b.GPUAccess())
}

func TestWaitUnsubmitted(t *testing.T) {
	a, d, _ := newAllocator(t, Options{})
	queue := bindQueues(t, d, 1)[0]

	b, err := a.Create(4096, 0, "pending")
	require.NoError(t, err)
	defer b.Unreference()

	// Recorded for the batch being built, which was never submitted
	a.UsageLock()
	b.MarkUsedLocked(Usage{Queue: uint32(queue.EventSlot()), Write: true, Seqnum: 1})
	b.MarkUsedLocked(Usage{Queue: 7, Write: true, Seqnum: 3})
	a.UsageUnlock()

	require.True(t, b.Wait(0, true))
}

func writeDmabuf(t *testing.T, size int64) *os.File {
	f, err := os.CreateTemp(t.TempDir(), "dmabuf")
	require.NoError(t, err)
	t.Cleanup(func() {
		f.Close()
	})
	require.NoError(t, f.Truncate(size))
	return f
}

func TestImport(t *testing.T) {
	a, d, k := newAllocator(t, Options{})
	f := writeDmabuf(t, 3*4096)

	mapped := k.Mapped()
	handles := d.Handles().Len()

	b, err := a.Import(int(f.Fd()))
	require.NoError(t, err)
	require.Equal(t, Shared, b.Flags())
	require.Equal(t, 3*4096, b.Size())
	require.Len(t, b.CPU(), 3*4096)
	require.True(t, b.Cached())
	require.Equal(t, int32(1), b.Refcount())
	require.Equal(t, mapped+1, k.Mapped())

	again, err := a.Import(int(f.Fd()))
	require.NoError(t, err)
	require.Same(t, b, again)
	require.Equal(t, int32(2), b.Refcount())

	fd, err := b.Export()
	require.NoError(t, err)
	require.GreaterOrEqual(t, fd, 0)
	same, err := d.Kernel().SameFile(fd, int(f.Fd()))
	require.NoError(t, err)
	require.True(t, same)
	require.NoError(t, unix.Close(fd))

	// The dma-buf poll agrees with the empty usage list
	require.True(t, b.Wait(time.Second, true))

	b.Unreference()
	again.Unreference()

	// Shared buffers are never cached
	require.Zero(t, a.CachedCount())
	require.Nil(t, a.Lookup(b.Handle()))
	require.Equal(t, mapped, k.Mapped())
	require.Equal(t, handles, d.Handles().Len())
}

func TestImportEmpty(t *testing.T) {
	a, d, k := newAllocator(t, Options{})
	f := writeDmabuf(t, 0)

	mapped := k.Mapped()

	_, err := a.Import(int(f.Fd()))
	require.Error(t, err)
	require.Zero(t, d.Handles().Len())
	require.Equal(t, mapped, k.Mapped())
}

func readEvents(t *testing.T, log string) []map[string]string {
	var events []map[string]string

	for _, line := range strings.Split(strings.TrimSpace(log), "\n") {
		event := map[string]string{}

		r := jreader.NewReader([]byte(line))
		for obj := r.Object(); obj.Next(); {
			name := string(obj.Name())
			switch name {
			case "Event", "Label", "Start":
				event[name] = r.String()
			default:
				r.SkipValue()
			}
		}
		require.NoError(t, r.Error())

		events = append(events, event)
	}

	return events
}

func TestEventLog(t *testing.T) {
	var log bytes.Buffer
	a, _, _ := newAllocator(t, Options{EventLog: &log})

	b, err := a.Create(4096, 0, "logged")
	require.NoError(t, err)
	b.Unreference()
	a.EvictAll()

	events := readEvents(t, log.String())
	require.Len(t, events, 4)

	var names []string
	for _, event := range events {
		names = append(names, event["Event"])
	}
	require.Equal(t, []string{"alloc", "free", "immfree", "memfree"}, names)

	require.Equal(t, "logged", events[0]["Label"])
	require.Equal(t, hexAddress(b.GPU()), events[0]["Start"])
	require.Equal(t, cachedLabel, events[3]["Label"])
}

func TestBuildStatsString(t *testing.T) {
	a, _, _ := newAllocator(t, Options{})

	live, err := a.Create(8192, 0, "live")
	require.NoError(t, err)
	defer live.Unreference()

	cached, err := a.Create(4096, 0, "cached")
	require.NoError(t, err)
	cached.Unreference()

	hit, err := a.Create(4096, 0, "hit")
	require.NoError(t, err)
	hit.Unreference()

	r := jreader.NewReader([]byte(a.BuildStatsString(true)))

	total := map[string]int{}
	var buckets []int
	var lastUsed []float64

	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "Total":
			for field := r.Object(); field.Next(); {
				total[string(field.Name())] = r.Int()
			}
		case "Buckets":
			for arr := r.Array(); arr.Next(); {
				for bucket := r.Object(); bucket.Next(); {
					switch string(bucket.Name()) {
					case "Count":
						buckets = append(buckets, r.Int())
					case "BOs":
						for bos := r.Array(); bos.Next(); {
							for boObj := r.Object(); boObj.Next(); {
								if string(boObj.Name()) == "LastUsed" {
									lastUsed = append(lastUsed, r.Float64())
								} else {
									r.SkipValue()
								}
							}
						}
					default:
						r.SkipValue()
					}
				}
			}
		default:
			r.SkipValue()
		}
	}
	require.NoError(t, r.Error())

	require.Equal(t, 11, total["BucketCount"])
	require.Equal(t, 2, total["BOCount"])
	require.Equal(t, 8192+4096, total["BOBytes"])
	require.Equal(t, 1, total["CachedCount"])
	require.Equal(t, 4096, total["CachedBytes"])
	require.Equal(t, 4096, total["SizeMin"])
	require.Equal(t, 8192, total["SizeMax"])
	require.Equal(t, 1, total["Hits"])
	require.Equal(t, 2, total["Misses"])

	require.Len(t, buckets, 11)
	require.Equal(t, 1, buckets[0])
	require.Len(t, lastUsed, 1)
}
