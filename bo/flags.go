package bo

import (
	"io"
	"time"

	"github.com/vkngwrapper/kbase/internal/utils"
)

// Flags describe how a buffer object is created and used
type Flags uint32

var flagsMapping = utils.NewFlagStringMapping[Flags]()

func (f Flags) Register(str string) {
	flagsMapping.Register(f, str)
}

func (f Flags) String() string {
	return flagsMapping.FlagsToString(f)
}

const (
	// Execute buffers may hold shader code
	Execute Flags = 1 << iota
	// Growable buffers are backed on GPU page faults and must be Invisible
	Growable
	// Invisible buffers are never read or written by the CPU
	Invisible
	// DelayMmap buffers are mapped lazily
	DelayMmap
	// Cacheable buffers get a CPU-cached mapping that is kept coherent by
	// MemClean and MemInvalidate
	Cacheable
	// Shared buffers came from Import and are never returned to the cache
	Shared
	// Event buffers hold CSF event records the GPU signals through
	Event
)

func init() {
	Execute.Register("Execute")
	Growable.Register("Growable")
	Invisible.Register("Invisible")
	DelayMmap.Register("DelayMmap")
	Cacheable.Register("Cacheable")
	Shared.Register("Shared")
	Event.Register("Event")
}

// Access records which kinds of GPU access may still be pending on a buffer
type Access uint32

const (
	AccessRead Access = 1 << iota
	AccessWrite

	AccessRW = AccessRead | AccessWrite
)

const (
	pageAlign        = 4096
	defaultStaleAge  = 2 * time.Second
	defaultMinBucket = 12
	defaultMaxBucket = 22

	createRetries    = 5
	createRetryDelay = 20 * time.Millisecond

	cachedLabel = "Unused (BO cache)"
)

// Options configure an Allocator. The zero value caches every buffer with
// default bucket bounds.
type Options struct {
	// NoCache frees buffers as soon as they are released
	NoCache bool
	// UncachedCPU ignores Cacheable and maps every buffer write-combined
	UncachedCPU bool
	// UncachedGPU asks for Cacheable buffers to skip the GPU caches
	UncachedGPU bool
	// ClearOnCreate zeroes the CPU mapping of every visible buffer handed out
	ClearOnCreate bool
	// Sync waits for every batch and leaves contexts unrecovered after a fault
	Sync bool

	// EventLog receives one JSON object per line for every buffer
	// allocation, release, free and import
	EventLog io.Writer

	// StaleAge is how long a cached buffer may stay unused before it is
	// evicted. It is compared in whole seconds.
	StaleAge time.Duration

	// MinBucket and MaxBucket bound the log2 sizes of the cache buckets.
	// Smaller or larger buffers share the first or last bucket.
	MinBucket int
	MaxBucket int
}

func (o *Options) setDefaults() {
	if o.StaleAge == 0 {
		o.StaleAge = defaultStaleAge
	}
	if o.MinBucket == 0 {
		o.MinBucket = defaultMinBucket
	}
	if o.MaxBucket == 0 {
		o.MaxBucket = defaultMaxBucket
	}
	if o.MaxBucket < o.MinBucket {
		o.MaxBucket = o.MinBucket
	}
}

func (o *Options) bucketCount() int {
	return o.MaxBucket - o.MinBucket + 1
}

// minBucketSize is the smallest size of the bucket at index
func (o *Options) minBucketSize(index int) int {
	return 1 << uint(o.MinBucket+index)
}
