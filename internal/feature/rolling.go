package feature

import (
	"time"

	"elbetl/internal/types"
)

// addRollingFeatures computes, per IP group, the trailing request count and
// the trailing mean of total processing time. Input must be sorted by
// (client IP, time).
//
// Windows are time-indexed and right-closed: a record at time T sees every
// record of the same IP with timestamp in (T-w, T]. Records sharing a
// timestamp are treated as simultaneous, so they all see each other
// regardless of sort order.
func addRollingFeatures(records []*types.EnrichedRecord, opts Options) {
	for lo := 0; lo < len(records); {
		hi := lo + 1
		for hi < len(records) && records[hi].ClientIP == records[lo].ClientIP {
			hi++
		}
		group := records[lo:hi]
		rollingCount(group, opts.RollingCountWindow)
		rollingMean(group, opts.RollingAvgWindow)
		lo = hi
	}
}

// windowBounds returns [start, end] for record k: start is the first index
// inside (T-w, T], end the last index sharing k's timestamp. start is
// maintained by the caller across iterations (it only moves forward).
func windowBounds(group []*types.EnrichedRecord, k, start int, window time.Duration) (int, int) {
	threshold := group[k].Time.Add(-window)
	for !group[start].Time.After(threshold) {
		start++
	}
	end := k
	for end+1 < len(group) && group[end+1].Time.Equal(group[k].Time) {
		end++
	}
	return start, end
}

func rollingCount(group []*types.EnrichedRecord, window time.Duration) {
	start := 0
	for k := range group {
		var end int
		start, end = windowBounds(group, k, start, window)
		group[k].Rolling5mRequestCount = end - start + 1
	}
}

func rollingMean(group []*types.EnrichedRecord, window time.Duration) {
	start := 0
	for k := range group {
		var end int
		start, end = windowBounds(group, k, start, window)

		var sum float64
		for i := start; i <= end; i++ {
			sum += group[i].TotalProcessingTime
		}
		group[k].Rolling1hAvgProcessing = sum / float64(end-start+1)
	}
}
