package bo

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/kbase/memutils"
)

// CalculateStatistics fills stats with the live BOs and the cache counters
func (a *Allocator) CalculateStatistics(stats *memutils.DetailedStatistics) {
	stats.Clear()
	stats.BucketCount = len(a.cache.buckets)

	a.cache.lock.Lock()
	defer a.cache.lock.Unlock()

	a.arena.Each(func(b *BO) bool {
		stats.AddAllocation(b.size)
		if b.cachedIn >= 0 {
			stats.AddCached(b.size)
		}
		return false
	})

	stats.Hits = int(a.hits.Load())
	stats.Misses = int(a.misses.Load())
	stats.Evictions = int(a.evictions.Load())
}

func printStatistics(obj *jwriter.ObjectState, stats *memutils.DetailedStatistics, detailed bool) {
	obj.Name("BucketCount").Int(stats.BucketCount)
	obj.Name("BOCount").Int(stats.BOCount)
	obj.Name("BOBytes").Int(stats.BOBytes)
	obj.Name("CachedCount").Int(stats.CachedCount)
	obj.Name("CachedBytes").Int(stats.CachedBytes)

	if !detailed {
		return
	}

	if stats.BOCount > 0 {
		obj.Name("SizeMin").Int(stats.SizeMin)
		obj.Name("SizeMax").Int(stats.SizeMax)
	}
	obj.Name("Hits").Int(stats.Hits)
	obj.Name("Misses").Int(stats.Misses)
	obj.Name("Evictions").Int(stats.Evictions)
}

func (b *BO) printParameters(obj *jwriter.ObjectState) {
	obj.Name("Handle").Int(b.handle)
	obj.Name("VA").String(hexAddress(b.gpu))
	obj.Name("Size").Int(b.size)
	obj.Name("Flags").String(b.flags.String())
	obj.Name("LastUsed").Float64(float64(b.lastUsed))
}

// BuildStatsString describes the allocator as JSON. A detailed string adds
// the cache counters and lists every cached BO per bucket.
func (a *Allocator) BuildStatsString(detailed bool) string {
	var stats memutils.DetailedStatistics
	a.CalculateStatistics(&stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()

	total := obj.Name("Total").Object()
	printStatistics(&total, &stats, detailed)
	total.End()

	obj.Name("Allocations").Int(int(a.allocations.Load()))
	obj.Name("Frees").Int(int(a.frees.Load()))

	a.cache.lock.Lock()
	buckets := obj.Name("Buckets").Array()
	for i, bucket := range a.cache.buckets {
		bucketObj := buckets.Object()
		bucketObj.Name("MinSize").Int(a.options.minBucketSize(i))
		bucketObj.Name("Count").Int(bucket.Len())

		bytes := 0
		for e := bucket.Front(); e != nil; e = e.Next() {
			bytes += a.cachedBO(e).size
		}
		bucketObj.Name("Bytes").Int(bytes)

		if detailed {
			bos := bucketObj.Name("BOs").Array()
			for e := bucket.Front(); e != nil; e = e.Next() {
				boObj := bos.Object()
				a.cachedBO(e).printParameters(&boObj)
				boObj.End()
			}
			bos.End()
		}

		bucketObj.End()
	}
	buckets.End()
	a.cache.lock.Unlock()

	obj.End()
	return string(writer.Bytes())
}
