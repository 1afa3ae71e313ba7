package enrich

import (
	"strings"

	"elbetl/internal/types"
)

// DefaultHealthCheckAgents are user-agent fragments that mark synthetic
// monitoring traffic. Matching records are dropped before analysis.
var DefaultHealthCheckAgents = []string{"datadog", "healthchecker", "kube-probe", "aws-elb"}

// wafKeywords mark a classification reason as a WAF block.
var wafKeywords = []string{"waf", "blocked", "deny"}

// Options tunes the drop filters.
type Options struct {
	// HealthCheckAgents overrides DefaultHealthCheckAgents when non-empty.
	HealthCheckAgents []string
}

// Enrich left-joins parsed records with the geo cache, applies the noise
// filters and derives the status/WAF categorizations. Records without a geo
// entry are kept with a nil Geo; records without a client IP or request, or
// from health-check agents, are dropped.
func Enrich(records []*types.LogRecord, cache map[string]types.GeoEntry, opts Options) []*types.EnrichedRecord {
	agents := opts.HealthCheckAgents
	if len(agents) == 0 {
		agents = DefaultHealthCheckAgents
	}

	out := make([]*types.EnrichedRecord, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if isMissing(rec.ClientIP) || isMissing(rec.Request) {
			continue
		}
		if isHealthCheckAgent(rec.UserAgent, agents) {
			continue
		}

		enriched := &types.EnrichedRecord{
			LogRecord:      *rec,
			StatusCodeType: CategorizeStatus(rec.ELBStatusCode),
			WAFBlocked:     isWAFBlocked(rec.ClassificationReason),
		}
		if entry, ok := cache[rec.ClientIP]; ok {
			geoCopy := entry
			enriched.Geo = &geoCopy
		}
		out = append(out, enriched)
	}
	return out
}

// CategorizeStatus buckets a status code. Unknown when the code is absent,
// Other when it falls outside 100-599.
func CategorizeStatus(code *int) types.StatusCodeType {
	if code == nil {
		return types.StatusUnknown
	}
	switch c := *code; {
	case c >= 100 && c < 200:
		return types.Status1xx
	case c >= 200 && c < 300:
		return types.Status2xx
	case c >= 300 && c < 400:
		return types.Status3xx
	case c >= 400 && c < 500:
		return types.Status4xx
	case c >= 500 && c < 600:
		return types.Status5xx
	default:
		return types.StatusOther
	}
}

// isWAFBlocked is false (never absent) when the reason is missing.
func isWAFBlocked(reason string) bool {
	if isMissing(reason) {
		return false
	}
	lower := strings.ToLower(reason)
	for _, kw := range wafKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isHealthCheckAgent(ua string, agents []string) bool {
	lower := strings.ToLower(ua)
	for _, agent := range agents {
		if strings.Contains(lower, agent) {
			return true
		}
	}
	return false
}

// isMissing treats the empty string and the log's "-" placeholder as absent.
func isMissing(s string) bool {
	return s == "" || s == "-"
}
