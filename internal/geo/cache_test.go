package geo

import (
	"path/filepath"
	"testing"
	"time"

	"elbetl/internal/types"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(filepath.Join(t.TempDir(), "geo.db"), nil)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_EmptyOnFirstUse(t *testing.T) {
	c := openTestCache(t)

	entries, err := c.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty cache, got %d entries", len(entries))
	}
}

func TestCache_RefreshAndLookup(t *testing.T) {
	c := openTestCache(t)

	lat, lon := 45.5, -122.7
	entry := types.GeoEntry{
		ClientIP:    "34.217.80.200",
		CountryCode: "US",
		CountryName: "United States",
		RegionName:  "Oregon",
		City:        "Portland",
		Lat:         &lat,
		Lon:         &lon,
		ISP:         "Amazon.com",
		FetchedAt:   time.Date(2025, 5, 27, 10, 0, 0, 0, time.UTC),
	}

	merged, err := c.Refresh([]types.GeoEntry{entry})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(merged))
	}

	got, ok, err := c.Lookup("34.217.80.200")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if got.CountryCode != "US" || got.City != "Portland" {
		t.Errorf("Unexpected entry: %+v", got)
	}
	if got.Lat == nil || *got.Lat != 45.5 {
		t.Errorf("Expected lat 45.5, got %v", got.Lat)
	}
	if !got.FetchedAt.Equal(entry.FetchedAt) {
		t.Errorf("Expected fetched_at %v, got %v", entry.FetchedAt, got.FetchedAt)
	}
}

func TestCache_RefreshIdempotent(t *testing.T) {
	c := openTestCache(t)

	entry := types.GeoEntry{
		ClientIP:    "1.2.3.4",
		CountryCode: "DE",
		CountryName: "Germany",
		City:        "Berlin",
		ISP:         "Example",
		FetchedAt:   time.Date(2025, 5, 27, 10, 0, 0, 0, time.UTC),
	}

	if _, err := c.Refresh([]types.GeoEntry{entry}); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	merged, err := c.Refresh([]types.GeoEntry{entry})
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}

	if len(merged) != 1 {
		t.Errorf("Expected 1 entry after duplicate refresh, got %d", len(merged))
	}
	n, err := c.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 persisted row, got %d", n)
	}
}

func TestCache_RefreshKeepsNewestEntry(t *testing.T) {
	c := openTestCache(t)

	older := types.GeoEntry{
		ClientIP:    "1.2.3.4",
		CountryCode: "Error",
		CountryName: "Error",
		City:        "Error",
		ISP:         "Error",
		FetchedAt:   time.Date(2025, 5, 27, 10, 0, 0, 0, time.UTC),
	}
	newer := types.GeoEntry{
		ClientIP:    "1.2.3.4",
		CountryCode: "DE",
		CountryName: "Germany",
		City:        "Berlin",
		ISP:         "Example",
		FetchedAt:   time.Date(2025, 5, 28, 10, 0, 0, 0, time.UTC),
	}

	if _, err := c.Refresh([]types.GeoEntry{older}); err != nil {
		t.Fatalf("Refresh older: %v", err)
	}
	merged, err := c.Refresh([]types.GeoEntry{newer})
	if err != nil {
		t.Fatalf("Refresh newer: %v", err)
	}

	got := merged["1.2.3.4"]
	if got.CountryCode != "DE" {
		t.Errorf("Expected newest entry to win, got %+v", got)
	}

	// Replaying the stale entry must not resurrect it.
	merged, err = c.Refresh([]types.GeoEntry{older})
	if err != nil {
		t.Fatalf("Refresh stale replay: %v", err)
	}
	if merged["1.2.3.4"].CountryCode != "DE" {
		t.Errorf("Stale entry overwrote newer one: %+v", merged["1.2.3.4"])
	}
}

func TestCache_ErrorEntriesAreCached(t *testing.T) {
	c := openTestCache(t)

	errEntry := types.ErrorGeoEntry("10.0.0.1", time.Date(2025, 5, 27, 10, 0, 0, 0, time.UTC))
	if _, err := c.Refresh([]types.GeoEntry{errEntry}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	got, ok, err := c.Lookup("10.0.0.1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatal("Expected error entry to be cached")
	}
	if !got.IsError() {
		t.Errorf("Expected error placeholder, got %+v", got)
	}
	if got.Lat != nil || got.Lon != nil {
		t.Errorf("Expected nil coordinates on error entry, got %v %v", got.Lat, got.Lon)
	}
}
