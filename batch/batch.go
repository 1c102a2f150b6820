package batch

import (
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/kbase/bo"
)

// UsageType is how a batch accesses a buffer
type UsageType int

const (
	ReadVertex UsageType = iota
	WriteVertex
	ReadFragment
	WriteFragment

	usageTypeCount
)

var usageTypeNames = [usageTypeCount]string{"ReadVertex", "WriteVertex", "ReadFragment", "WriteFragment"}

func (t UsageType) String() string {
	if t < 0 || t >= usageTypeCount {
		return "UsageType(invalid)"
	}
	return usageTypeNames[t]
}

func (t UsageType) writes() bool {
	return t == WriteVertex || t == WriteFragment
}

func (t UsageType) fragment() bool {
	return t == ReadFragment || t == WriteFragment
}

func (t UsageType) access() bo.Access {
	if t.writes() {
		return bo.AccessRW
	}
	return bo.AccessRead
}

// Batch collects the buffers one submission uses. Every buffer is
// referenced once by the batch until Close.
type Batch struct {
	ctx *Context

	resources [usageTypeCount][]*bo.BO
	// GEM handle to the accumulated access
	bos *swiss.Map[int, bo.Access]

	vertDeps []bo.Usage
	fragDeps []bo.Usage

	needsSync   bool
	hasFragment bool
	submitted   bool
}

func newBOSet() *swiss.Map[int, bo.Access] {
	return swiss.NewMap[int, bo.Access](16)
}

// NewBatch starts an empty batch. Batches wait for their own completion
// when the allocator runs synchronously.
func (c *Context) NewBatch() *Batch {
	return &Batch{
		ctx:       c,
		bos:       newBOSet(),
		needsSync: c.alloc.Options().Sync,
	}
}

// Use records that the batch accesses b. Shared buffers have no implicit
// fences on this kernel interface, so they force the batch to sync.
func (b *Batch) Use(buffer *bo.BO, usage UsageType) {
	b.resources[usage] = append(b.resources[usage], buffer)

	access, found := b.bos.Get(buffer.Handle())
	if !found {
		buffer.Reference()
	}
	b.bos.Put(buffer.Handle(), access|usage.access())

	if usage.fragment() {
		b.hasFragment = true
	}
	if buffer.Flags()&bo.Shared != 0 {
		b.needsSync = true
	}
}

// AddFragment marks the batch as having a fragment job even when no
// buffer is used from the fragment queue, such as a plain clear
func (b *Batch) AddFragment() {
	b.hasFragment = true
}

func (b *Batch) HasFragment() bool {
	return b.hasFragment
}

// RequireSync makes the submit wait for the batch to complete
func (b *Batch) RequireSync() {
	b.needsSync = true
}

func (b *Batch) NeedsSync() bool {
	return b.needsSync
}

// Deps returns the queue positions the vertex and the fragment jobs must
// wait for. They are final once the batch is submitted.
func (b *Batch) Deps() (vertex, fragment []bo.Usage) {
	return b.vertDeps, b.fragDeps
}

// BOCount is the number of distinct buffers used
func (b *Batch) BOCount() int {
	return b.bos.Count()
}

// Close drops the batch's buffer references
func (b *Batch) Close() {
	b.bos.Iter(func(handle int, _ bo.Access) bool {
		if buffer := b.ctx.alloc.Lookup(handle); buffer != nil {
			buffer.Unreference()
		}
		return false
	})
	b.bos = newBOSet()

	for i := range b.resources {
		b.resources[i] = nil
	}

	// Keep completion events flowing so the deferred frees run
	b.ctx.dev.EnsureHandleEvents()
}
