package geo

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"elbetl/internal/types"
)

// Resolver paces lookups against the provider's rate limit and degrades
// every failure to a cached "Error" entry. It never returns an error for an
// individual IP: a failed lookup must still produce an entry so the IP is
// not retried on the next run.
type Resolver struct {
	provider Provider
	limiter  *rate.Limiter
	log      *slog.Logger
	now      func() time.Time
}

// NewResolver wraps a provider with a token-rate limiter. rps is the
// sustained lookups-per-second budget; the free ip-api.com tier tolerates
// one call per second.
func NewResolver(provider Provider, rps float64, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		log:      log,
		now:      time.Now,
	}
}

// ResolveAll looks up each IP in order, one at a time. Context cancellation
// stops early and returns what has been resolved so far.
func (r *Resolver) ResolveAll(ctx context.Context, ips []string) []types.GeoEntry {
	entries := make([]types.GeoEntry, 0, len(ips))
	for i, ip := range ips {
		if err := r.limiter.Wait(ctx); err != nil {
			r.log.Warn("geolocation lookups interrupted", "resolved", len(entries), "err", err)
			return entries
		}

		r.log.Info("looking up geolocation", "ip", ip, "n", i+1, "total", len(ips))

		entry, err := r.provider.Lookup(ctx, ip)
		if err != nil {
			// Cache the failure so the IP is not retried this run or the
			// next.
			r.log.Warn("geolocation lookup failed", "ip", ip, "err", err)
			entry = types.ErrorGeoEntry(ip, r.now())
		}
		entries = append(entries, entry)
	}
	return entries
}
