package feature

import (
	"sort"
	"strings"
	"time"

	"elbetl/internal/types"
)

// Options tunes the stateful feature stages.
type Options struct {
	SessionGap         time.Duration // gap that starts a new session
	RollingCountWindow time.Duration // trailing request-count window
	RollingAvgWindow   time.Duration // trailing processing-time mean window
}

// DefaultOptions are 30-minute sessions, 5-minute request counts and 1-hour
// processing-time means.
func DefaultOptions() Options {
	return Options{
		SessionGap:         30 * time.Minute,
		RollingCountWindow: 5 * time.Minute,
		RollingAvgWindow:   time.Hour,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SessionGap <= 0 {
		o.SessionGap = d.SessionGap
	}
	if o.RollingCountWindow <= 0 {
		o.RollingCountWindow = d.RollingCountWindow
	}
	if o.RollingAvgWindow <= 0 {
		o.RollingAvgWindow = d.RollingAvgWindow
	}
	return o
}

// Apply derives every analytical feature in place. Each stage is total over
// its input: no records are dropped. The slice is left stably sorted by
// (client IP, time), which the session and rolling stages rely on.
func Apply(records []*types.EnrichedRecord, opts Options) {
	opts = opts.withDefaults()

	sortByIPTime(records)

	for _, r := range records {
		addTimeFeatures(r)
		addTotalProcessingTime(r)
		addPathFeatures(r)
	}

	sessionize(records, opts.SessionGap)
	addRollingFeatures(records, opts)
}

// sortByIPTime orders records by client IP then timestamp, stable so that
// records sharing a timestamp keep their parse order.
func sortByIPTime(records []*types.EnrichedRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].ClientIP != records[j].ClientIP {
			return records[i].ClientIP < records[j].ClientIP
		}
		return records[i].Time.Before(records[j].Time)
	})
}

// addTimeFeatures breaks the primary timestamp (already in the display
// timezone) into calendar buckets. Weekday numbering is 0=Monday.
func addTimeFeatures(r *types.EnrichedRecord) {
	t := r.Time
	r.RequestYear = t.Year()
	r.RequestMonth = int(t.Month())
	r.RequestDay = t.Day()
	r.RequestHour = t.Hour()
	r.RequestDayOfWeek = t.Weekday().String()
	r.RequestDayOfWeekNum = (int(t.Weekday()) + 6) % 7
	_, r.RequestWeekOfYear = t.ISOWeek()
}

// addTotalProcessingTime sums the three processing-time components, treating
// missing components as zero. The result is always present.
func addTotalProcessingTime(r *types.EnrichedRecord) {
	var total float64
	for _, p := range []*float64{
		r.RequestProcessingTime,
		r.TargetProcessingTime,
		r.ResponseProcessingTime,
	} {
		if p != nil {
			total += *p
		}
	}
	r.TotalProcessingTime = total
}

// addPathFeatures computes path depth (non-empty segment count) and the
// first non-empty segment, empty for root or absent paths.
func addPathFeatures(r *types.EnrichedRecord) {
	r.PathDepth = 0
	r.PathMainSegment = ""
	for _, seg := range strings.Split(r.Path, "/") {
		if seg == "" {
			continue
		}
		if r.PathDepth == 0 {
			r.PathMainSegment = seg
		}
		r.PathDepth++
	}
}
