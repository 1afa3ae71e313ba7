package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"elbetl/internal/blob"
	"elbetl/internal/config"
	"elbetl/internal/enrich"
	"elbetl/internal/export"
	"elbetl/internal/feature"
	"elbetl/internal/geo"
	"elbetl/internal/parser"
	"elbetl/internal/types"
)

// Runner executes one batch run end to end: list and parse the compressed
// log blobs, resolve new client IPs against the geo cache, enrich, derive
// features and write every output.
type Runner struct {
	cfg      *config.Config
	source   blob.Source
	parser   *parser.ELBParser
	cache    *geo.Cache
	resolver *geo.Resolver
	exporter *export.Exporter
	manifest *export.ManifestWriter
	log      *slog.Logger
	now      func() time.Time
}

func NewRunner(cfg *config.Config, source blob.Source, p *parser.ELBParser,
	cache *geo.Cache, resolver *geo.Resolver, exporter *export.Exporter,
	manifest *export.ManifestWriter, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		cfg:      cfg,
		source:   source,
		parser:   p,
		cache:    cache,
		resolver: resolver,
		exporter: exporter,
		manifest: manifest,
		log:      log,
		now:      time.Now,
	}
}

// Run executes the pipeline and appends a manifest line describing the run.
// Individual blob failures are logged and skipped; any error past parsing
// aborts the run.
func (r *Runner) Run(ctx context.Context) (export.RunManifest, error) {
	m := export.RunManifest{StartedAt: r.now()}

	records, err := r.ingest(ctx, &m)
	if err != nil {
		return m, err
	}
	m.RecordsParsed = len(records)
	r.log.Info("ingest complete",
		"files", m.FilesProcessed, "lines", m.LinesRead,
		"discarded", m.LinesDiscarded, "records", len(records))

	merged, err := r.refreshGeo(ctx, records, &m)
	if err != nil {
		return m, err
	}

	enriched := enrich.Enrich(records, merged, enrich.Options{
		HealthCheckAgents: r.cfg.Enrich.HealthCheckAgents,
	})
	m.RecordsEnriched = len(enriched)

	feature.Apply(enriched, feature.Options{
		SessionGap:         r.cfg.Features.SessionGap(),
		RollingCountWindow: r.cfg.Features.RollingCountWindow(),
		RollingAvgWindow:   r.cfg.Features.RollingAvgWindow(),
	})

	if err := r.exportAll(enriched, &m); err != nil {
		return m, err
	}

	m.FinishedAt = r.now()
	m.DurationMS = m.FinishedAt.Sub(m.StartedAt).Milliseconds()
	if err := r.manifest.Append(m); err != nil {
		return m, fmt.Errorf("append run manifest: %w", err)
	}
	return m, nil
}

// ingest streams every listed blob through the line parser. A blob that
// cannot be fetched or read is logged and skipped; its lines do not abort
// the run.
func (r *Runner) ingest(ctx context.Context, m *export.RunManifest) ([]*types.LogRecord, error) {
	keys, err := r.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list log blobs: %w", err)
	}
	m.FilesListed = len(keys)

	var records []*types.LogRecord
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.ingestOne(ctx, key, m, &records); err != nil {
			r.log.Warn("skipping log blob", "key", key, "err", err)
			m.FilesFailed++
			continue
		}
		m.FilesProcessed++
	}
	return records, nil
}

func (r *Runner) ingestOne(ctx context.Context, key string, m *export.RunManifest, records *[]*types.LogRecord) error {
	body, err := r.source.Fetch(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()

	return blob.Lines(body, func(line string) error {
		m.LinesRead++
		rec := r.parser.Parse(line, key)
		if rec == nil {
			m.LinesDiscarded++
			return nil
		}
		*records = append(*records, rec)
		return nil
	})
}

// refreshGeo resolves every client IP not yet in the cache (first-seen
// order) and persists the merged population, returning it for the join.
func (r *Runner) refreshGeo(ctx context.Context, records []*types.LogRecord, m *export.RunManifest) (map[string]types.GeoEntry, error) {
	cached, err := r.cache.Load()
	if err != nil {
		return nil, err
	}
	m.CachedIPs = len(cached)

	seen := make(map[string]struct{}, len(cached))
	var newIPs []string
	for _, rec := range records {
		ip := rec.ClientIP
		if ip == "" || ip == "-" {
			continue
		}
		if _, ok := cached[ip]; ok {
			continue
		}
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		newIPs = append(newIPs, ip)
	}

	if len(newIPs) == 0 {
		r.log.Info("geo cache already covers every client IP", "cached", len(cached))
		return cached, nil
	}

	r.log.Info("resolving new client IPs", "count", len(newIPs))
	entries := r.resolver.ResolveAll(ctx, newIPs)
	m.NewIPsResolved = len(entries)
	for _, e := range entries {
		if e.IsError() {
			m.LookupFailures++
		}
	}

	merged, err := r.cache.Refresh(entries)
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (r *Runner) exportAll(enriched []*types.EnrichedRecord, m *export.RunManifest) error {
	if err := r.exporter.ExportCleaned(enriched); err != nil {
		return err
	}
	if err := r.exporter.ExportHourly(export.AggregateHourly(enriched)); err != nil {
		return err
	}
	if err := r.exporter.ExportErrorSummary(enriched); err != nil {
		return err
	}
	if err := r.exporter.ExportBotTraffic(enriched); err != nil {
		return err
	}
	m.RecordsExported = len(enriched)
	return nil
}
