package memutils

import "math"

// Statistics holds basic counts for a set of buffer objects
type Statistics struct {
	BucketCount int
	BOCount     int
	BOBytes     int
	CachedCount int
	CachedBytes int
}

func (s *Statistics) Clear() {
	s.BucketCount = 0
	s.BOCount = 0
	s.BOBytes = 0
	s.CachedCount = 0
	s.CachedBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BucketCount += other.BucketCount
	s.BOCount += other.BOCount
	s.BOBytes += other.BOBytes
	s.CachedCount += other.CachedCount
	s.CachedBytes += other.CachedBytes
}

// DetailedStatistics extends Statistics with size extremes and cache effectiveness counters
type DetailedStatistics struct {
	Statistics
	SizeMin   int
	SizeMax   int
	Hits      int
	Misses    int
	Evictions int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.SizeMin = math.MaxInt
	s.SizeMax = 0
	s.Hits = 0
	s.Misses = 0
	s.Evictions = 0
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.BOCount++
	s.BOBytes += size

	if size < s.SizeMin {
		s.SizeMin = size
	}

	if size > s.SizeMax {
		s.SizeMax = size
	}
}

func (s *DetailedStatistics) AddCached(size int) {
	s.CachedCount++
	s.CachedBytes += size
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.Hits += other.Hits
	s.Misses += other.Misses
	s.Evictions += other.Evictions

	if other.SizeMin < s.SizeMin {
		s.SizeMin = other.SizeMin
	}

	if other.SizeMax > s.SizeMax {
		s.SizeMax = other.SizeMax
	}
}
