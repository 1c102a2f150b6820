package bo

import (
	"container/list"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kbase/internal/utils"
	"github.com/vkngwrapper/kbase/memutils"
)

// boCache keeps the GEM handles of released BOs in buckets by size class,
// and in one LRU list across all buckets so stale entries can be evicted
// oldest first. The BOs themselves stay in the arena.
type boCache struct {
	lock    utils.OptionalMutex
	buckets []*list.List
	lru     *list.List
}

func (c *boCache) init(bucketCount int, useMutex bool) {
	c.lock = utils.OptionalMutex{UseMutex: useMutex}
	c.buckets = make([]*list.List, bucketCount)
	for i := range c.buckets {
		c.buckets[i] = list.New()
	}
	c.lru = list.New()
}

var _ memutils.Validatable = &Allocator{}

// BucketIndex is the cache bucket for a buffer of size bytes. Sizes are
// rounded up to a power of two, so 2^k and 2^k+1 never share a bucket, and
// sizes outside the bucket range share the first or last bucket.
func (a *Allocator) BucketIndex(size int) int {
	index := 0
	if size > 1 {
		index = memutils.Log2(uint64(size-1)) + 1
	}
	index = memutils.Clamp(index, a.options.MinBucket, a.options.MaxBucket)
	return index - a.options.MinBucket
}

func (a *Allocator) cachedBO(e *list.Element) *BO {
	handle := e.Value.(int)
	b := a.arena.Lookup(handle)
	if b == nil {
		panic(errors.Newf("cached handle %d has no buffer object", handle))
	}
	return b
}

// uncacheLocked takes b off its bucket and the LRU. The caller must hold
// the cache lock.
func (a *Allocator) uncacheLocked(b *BO) {
	c := &a.cache
	c.buckets[b.cachedIn].Remove(b.bucketElem)
	c.lru.Remove(b.lruElem)
	b.bucketElem = nil
	b.lruElem = nil
	b.cachedIn = -1
}

// cacheFetch takes the oldest cached BO of the bucket for size that is large
// enough and has the same flags. On JM the GPU may still be using a cached
// BO, and wait decides whether that is waited out or ends the search.
func (a *Allocator) cacheFetch(size int, flags Flags, label string, wait bool) *BO {
	c := &a.cache
	c.lock.Lock()
	defer c.lock.Unlock()

	bucket := c.buckets[a.BucketIndex(size)]

	for e := bucket.Front(); e != nil; e = e.Next() {
		entry := a.cachedBO(e)
		if entry.size < size || entry.flags != flags {
			continue
		}

		// CSF only caches BOs the GPU is done with
		if !a.csf {
			timeout := a.dev.Options().WaitTimeout
			if !wait {
				timeout = 0
			}

			// Newer entries are likely busy as well
			if !entry.Wait(timeout, true) {
				break
			}
		}

		a.uncacheLocked(entry)
		memutils.DebugValidate(a)

		if !memutils.CheckPoison(entry.cpu) {
			a.logger.Error("cached buffer object was written while unused", "handle", entry.handle, "label", entry.label)
		}

		entry.label = label
		a.hits.Add(1)
		return entry
	}

	return nil
}

// cachePut adds a released BO to the cache, reporting false if it may not
// be cached
func (a *Allocator) cachePut(b *BO) bool {
	if b.flags&Shared != 0 || a.options.NoCache {
		return false
	}

	c := &a.cache
	c.lock.Lock()
	defer c.lock.Unlock()

	index := a.BucketIndex(max(b.size, pageAlign))
	b.cachedIn = index
	b.bucketElem = c.buckets[index].PushBack(b.handle)
	b.lruElem = c.lru.PushBack(b.handle)
	b.lastUsed = a.now()

	// On CSF the release waited for every queue
	if a.csf {
		b.gpuAccess.Store(0)
	}

	a.evictStaleLocked()

	b.label = cachedLabel
	if b.flags&Invisible == 0 {
		memutils.Poison(b.cpu)
	}
	memutils.DebugValidate(a)
	return true
}

// evictLocked frees a cached BO. The caller must hold the cache lock.
func (a *Allocator) evictLocked(b *BO) {
	a.uncacheLocked(b)
	a.evictions.Add(1)
	a.free(b)
}

func (a *Allocator) evictStaleLocked() {
	now := a.now()
	maxAge := int64(a.options.StaleAge.Seconds())

	c := &a.cache
	for e := c.lru.Front(); e != nil; {
		entry := a.cachedBO(e)

		// Only whole seconds are compared, so entries are kept up to a
		// second past StaleAge
		if now-entry.lastUsed <= maxAge {
			break
		}

		next := e.Next()
		a.evictLocked(entry)
		e = next
	}
}

// EvictStale frees every cached BO that has been unused for longer than
// the StaleAge option
func (a *Allocator) EvictStale() {
	a.logger.Debug("Allocator::EvictStale")

	a.cache.lock.Lock()
	defer a.cache.lock.Unlock()

	a.evictStaleLocked()
}

// EvictAll empties the cache, as on context destruction or when the kernel
// is out of memory
func (a *Allocator) EvictAll() {
	a.logger.Debug("Allocator::EvictAll")

	c := &a.cache
	c.lock.Lock()
	defer c.lock.Unlock()

	for _, bucket := range c.buckets {
		for e := bucket.Front(); e != nil; {
			next := e.Next()
			a.evictLocked(a.cachedBO(e))
			e = next
		}
	}
}

// CachedCount is the number of BOs waiting in the cache
func (a *Allocator) CachedCount() int {
	a.cache.lock.Lock()
	defer a.cache.lock.Unlock()

	return a.cache.lru.Len()
}

func (a *Allocator) Validate() error {
	c := &a.cache

	total := 0
	for i, bucket := range c.buckets {
		for e := bucket.Front(); e != nil; e = e.Next() {
			handle := e.Value.(int)
			b := a.arena.Lookup(handle)
			if b == nil {
				return errors.Newf("bucket %d holds handle %d with no buffer object", i, handle)
			}
			if b.cachedIn != i || b.bucketElem != e {
				return errors.Newf("buffer object %d in bucket %d records bucket %d", handle, i, b.cachedIn)
			}
			if b.lruElem == nil {
				return errors.Newf("cached buffer object %d is missing from the LRU", handle)
			}
			if len(b.usage) > 0 {
				return errors.Newf("cached buffer object %d still has usage", handle)
			}
		}
		total += bucket.Len()
	}

	if total != c.lru.Len() {
		return errors.Newf("the buckets hold %d buffer objects but the LRU holds %d", total, c.lru.Len())
	}

	return nil
}
