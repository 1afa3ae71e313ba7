package export

import (
	"sort"

	"elbetl/internal/types"
)

// HourlyRow is one row of the hourly traffic aggregate, grouped by
// (year, month, day, hour, country, city).
type HourlyRow struct {
	Year        int
	Month       int
	Day         int
	Hour        int
	CountryName string
	City        string

	RequestCount          int
	UniqueClientIPs       int
	AvgTotalProcessing    float64
	MedianTotalProcessing float64
	SumSentBytes          int64
	SumReceivedBytes      int64
	Count2xx              int
	Count4xx              int
	Count5xx              int
}

type hourlyKey struct {
	year, month, day, hour int
	country, city          string
}

// AggregateHourly computes the hourly traffic rollup. Records without a geo
// entry have no group key and are excluded, mirroring how a grouped rollup
// drops null keys. Output order is deterministic (sorted by group key).
func AggregateHourly(records []*types.EnrichedRecord) []HourlyRow {
	type bucket struct {
		ips    map[string]struct{}
		totals []float64
		row    HourlyRow
	}
	buckets := make(map[hourlyKey]*bucket)

	for _, r := range records {
		if r.Geo == nil {
			continue
		}
		key := hourlyKey{r.RequestYear, r.RequestMonth, r.RequestDay, r.RequestHour,
			r.Geo.CountryName, r.Geo.City}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{
				ips: make(map[string]struct{}),
				row: HourlyRow{
					Year: key.year, Month: key.month, Day: key.day, Hour: key.hour,
					CountryName: key.country, City: key.city,
				},
			}
			buckets[key] = b
		}

		b.row.RequestCount++
		b.ips[r.ClientIP] = struct{}{}
		b.totals = append(b.totals, r.TotalProcessingTime)
		if r.SentBytes != nil {
			b.row.SumSentBytes += *r.SentBytes
		}
		if r.ReceivedBytes != nil {
			b.row.SumReceivedBytes += *r.ReceivedBytes
		}
		switch r.StatusCodeType {
		case types.Status2xx:
			b.row.Count2xx++
		case types.Status4xx:
			b.row.Count4xx++
		case types.Status5xx:
			b.row.Count5xx++
		}
	}

	rows := make([]HourlyRow, 0, len(buckets))
	for _, b := range buckets {
		b.row.UniqueClientIPs = len(b.ips)
		b.row.AvgTotalProcessing = mean(b.totals)
		b.row.MedianTotalProcessing = median(b.totals)
		rows = append(rows, b.row)
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.Hour != b.Hour {
			return a.Hour < b.Hour
		}
		if a.CountryName != b.CountryName {
			return a.CountryName < b.CountryName
		}
		return a.City < b.City
	})
	return rows
}

// BotOriginRow is one row of the bot traffic summary, grouped by
// (country, ISP).
type BotOriginRow struct {
	CountryName     string
	ISP             string
	BotRequestCount int
}

// SummarizeBotOrigins counts bot-flagged requests per (country, ISP).
// Records without a geo entry are excluded for the same null-key reason as
// AggregateHourly.
func SummarizeBotOrigins(records []*types.EnrichedRecord) []BotOriginRow {
	type originKey struct{ country, isp string }
	counts := make(map[originKey]int)
	for _, r := range records {
		if !r.IsBot || r.Geo == nil {
			continue
		}
		counts[originKey{r.Geo.CountryName, r.Geo.ISP}]++
	}

	rows := make([]BotOriginRow, 0, len(counts))
	for key, n := range counts {
		rows = append(rows, BotOriginRow{CountryName: key.country, ISP: key.isp, BotRequestCount: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CountryName != rows[j].CountryName {
			return rows[i].CountryName < rows[j].CountryName
		}
		return rows[i].ISP < rows[j].ISP
	})
	return rows
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
