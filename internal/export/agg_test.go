package export

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"elbetl/internal/types"
)

func hourRecord(ip, country, city string, hour int, total float64, statusType types.StatusCodeType) *types.EnrichedRecord {
	r := &types.EnrichedRecord{
		Geo: &types.GeoEntry{ClientIP: ip, CountryName: country, City: city},
	}
	r.ClientIP = ip
	r.RequestYear = 2025
	r.RequestMonth = 5
	r.RequestDay = 26
	r.RequestHour = hour
	r.TotalProcessingTime = total
	r.StatusCodeType = statusType
	return r
}

func TestAggregateHourly_GroupsAndCounts(t *testing.T) {
	sent := int64(100)
	recv := int64(40)
	a := hourRecord("1.1.1.1", "United States", "Ashburn", 19, 0.1, types.Status2xx)
	a.SentBytes = &sent
	a.ReceivedBytes = &recv
	b := hourRecord("1.1.1.1", "United States", "Ashburn", 19, 0.3, types.Status4xx)
	c := hourRecord("2.2.2.2", "United States", "Ashburn", 19, 0.2, types.Status5xx)
	other := hourRecord("3.3.3.3", "Germany", "Berlin", 20, 1.0, types.Status2xx)

	rows := AggregateHourly([]*types.EnrichedRecord{a, b, c, other})
	if len(rows) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(rows))
	}

	us := rows[0]
	if us.CountryName != "United States" || us.City != "Ashburn" || us.Hour != 19 {
		t.Fatalf("Unexpected first group: %+v", us)
	}
	if us.RequestCount != 3 {
		t.Errorf("Expected 3 requests, got %d", us.RequestCount)
	}
	if us.UniqueClientIPs != 2 {
		t.Errorf("Expected 2 unique IPs, got %d", us.UniqueClientIPs)
	}
	if diff := us.AvgTotalProcessing - 0.2; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected mean 0.2, got %f", us.AvgTotalProcessing)
	}
	if diff := us.MedianTotalProcessing - 0.2; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected median 0.2, got %f", us.MedianTotalProcessing)
	}
	if us.SumSentBytes != 100 || us.SumReceivedBytes != 40 {
		t.Errorf("Unexpected byte sums: sent=%d received=%d", us.SumSentBytes, us.SumReceivedBytes)
	}
	if us.Count2xx != 1 || us.Count4xx != 1 || us.Count5xx != 1 {
		t.Errorf("Unexpected status counts: %d/%d/%d", us.Count2xx, us.Count4xx, us.Count5xx)
	}

	de := rows[1]
	if de.CountryName != "Germany" || de.RequestCount != 1 {
		t.Errorf("Unexpected second group: %+v", de)
	}
}

func TestAggregateHourly_MedianEvenCount(t *testing.T) {
	recs := []*types.EnrichedRecord{
		hourRecord("1.1.1.1", "US", "A", 1, 0.1, types.Status2xx),
		hourRecord("1.1.1.1", "US", "A", 1, 0.2, types.Status2xx),
		hourRecord("1.1.1.1", "US", "A", 1, 0.4, types.Status2xx),
		hourRecord("1.1.1.1", "US", "A", 1, 0.8, types.Status2xx),
	}
	rows := AggregateHourly(recs)
	if len(rows) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(rows))
	}
	if diff := rows[0].MedianTotalProcessing - 0.3; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected median 0.3, got %f", rows[0].MedianTotalProcessing)
	}
}

func TestAggregateHourly_SkipsRecordsWithoutGeo(t *testing.T) {
	withGeo := hourRecord("1.1.1.1", "US", "A", 1, 0.1, types.Status2xx)
	noGeo := hourRecord("2.2.2.2", "US", "A", 1, 0.1, types.Status2xx)
	noGeo.Geo = nil

	rows := AggregateHourly([]*types.EnrichedRecord{withGeo, noGeo})
	if len(rows) != 1 || rows[0].RequestCount != 1 {
		t.Fatalf("Expected only the geolocated record to aggregate, got %+v", rows)
	}
}

func TestSummarizeBotOrigins(t *testing.T) {
	bot := func(ip, country, isp string) *types.EnrichedRecord {
		r := hourRecord(ip, country, "X", 1, 0, types.Status2xx)
		r.Geo.ISP = isp
		r.IsBot = true
		return r
	}
	human := hourRecord("9.9.9.9", "US", "X", 1, 0, types.Status2xx)
	botNoGeo := bot("8.8.8.8", "", "")
	botNoGeo.Geo = nil

	rows := SummarizeBotOrigins([]*types.EnrichedRecord{
		bot("1.1.1.1", "US", "CompanyA"),
		bot("2.2.2.2", "US", "CompanyA"),
		bot("3.3.3.3", "DE", "CompanyB"),
		human,
		botNoGeo,
	})
	if len(rows) != 2 {
		t.Fatalf("Expected 2 origin rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].CountryName != "DE" || rows[0].BotRequestCount != 1 {
		t.Errorf("Unexpected first row: %+v", rows[0])
	}
	if rows[1].CountryName != "US" || rows[1].ISP != "CompanyA" || rows[1].BotRequestCount != 2 {
		t.Errorf("Unexpected second row: %+v", rows[1])
	}
}

func TestManifestWriter_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	w := NewManifestWriter(path)

	m := RunManifest{
		StartedAt:      time.Date(2025, 5, 26, 10, 0, 0, 0, time.UTC),
		FinishedAt:     time.Date(2025, 5, 26, 10, 1, 0, 0, time.UTC),
		DurationMS:     60000,
		FilesProcessed: 3,
		RecordsParsed:  120,
	}
	if err := w.Append(m); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append(m); err != nil {
		t.Fatalf("Append: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	if lines != 2 {
		t.Errorf("Expected 2 manifest lines, got %d", lines)
	}
}
