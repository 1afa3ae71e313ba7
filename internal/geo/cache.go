package geo

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"elbetl/internal/types"
)

// Cache is the durable IP → GeoEntry mapping, backed by a sqlite file.
// An absent file is the empty cache, not an error. Entries never expire by
// age; cached "Error" results are kept and never retried automatically.
type Cache struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenCache opens (or creates) the cache file and ensures the schema exists.
func OpenCache(path string, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open geo cache %s: %w", path, err)
	}

	query := `
	CREATE TABLE IF NOT EXISTS geo_cache (
		client_ip    TEXT PRIMARY KEY,
		country_code TEXT,
		country_name TEXT,
		region_name  TEXT,
		city         TEXT,
		lat          REAL,
		lon          REAL,
		isp          TEXT,
		fetched_at   DATETIME
	);`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("create geo cache schema: %w", err)
	}

	return &Cache{db: db, log: log}, nil
}

// Load reads the full cache into memory.
func (c *Cache) Load() (map[string]types.GeoEntry, error) {
	rows, err := c.db.Query(`SELECT client_ip, country_code, country_name, region_name,
		city, lat, lon, isp, fetched_at FROM geo_cache`)
	if err != nil {
		return nil, fmt.Errorf("load geo cache: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]types.GeoEntry)
	for rows.Next() {
		var e types.GeoEntry
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&e.ClientIP, &e.CountryCode, &e.CountryName, &e.RegionName,
			&e.City, &lat, &lon, &e.ISP, &e.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan geo cache row: %w", err)
		}
		if lat.Valid {
			e.Lat = &lat.Float64
		}
		if lon.Valid {
			e.Lon = &lon.Float64
		}
		entries[e.ClientIP] = e
	}
	return entries, rows.Err()
}

// Lookup returns the cached entry for an IP, if any.
func (c *Cache) Lookup(ip string) (types.GeoEntry, bool, error) {
	entries, err := c.Load()
	if err != nil {
		return types.GeoEntry{}, false, err
	}
	e, ok := entries[ip]
	return e, ok, nil
}

// Refresh merges new entries into the cache and persists the entire merged
// population in one transaction. When the same IP appears more than once
// (across the stored cache and the new batch), only the entry with the
// newest fetch timestamp survives; on an exact timestamp tie the earlier
// entry wins. Idempotent under repeated refreshes of the same batch.
func (c *Cache) Refresh(newEntries []types.GeoEntry) (map[string]types.GeoEntry, error) {
	merged, err := c.Load()
	if err != nil {
		return nil, err
	}

	for _, e := range newEntries {
		existing, ok := merged[e.ClientIP]
		if !ok || e.FetchedAt.After(existing.FetchedAt) {
			merged[e.ClientIP] = e
		}
	}

	tx, err := c.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin geo cache refresh: %w", err)
	}
	defer tx.Rollback()

	// Full rewrite: the persisted cache is always the total population.
	if _, err := tx.Exec(`DELETE FROM geo_cache`); err != nil {
		return nil, fmt.Errorf("clear geo cache: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO geo_cache
		(client_ip, country_code, country_name, region_name, city, lat, lon, isp, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare geo cache insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range merged {
		var lat, lon any
		if e.Lat != nil {
			lat = *e.Lat
		}
		if e.Lon != nil {
			lon = *e.Lon
		}
		if _, err := stmt.Exec(e.ClientIP, e.CountryCode, e.CountryName, e.RegionName,
			e.City, lat, lon, e.ISP, e.FetchedAt); err != nil {
			return nil, fmt.Errorf("insert geo cache entry %s: %w", e.ClientIP, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit geo cache refresh: %w", err)
	}

	c.log.Info("geo cache refreshed", "total", len(merged), "new", len(newEntries))
	return merged, nil
}

// Count returns the cached entry population.
func (c *Cache) Count() (int, error) {
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM geo_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count geo cache: %w", err)
	}
	return n, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}
