package enrich

import (
	"testing"
	"time"

	"elbetl/internal/types"
)

func intPtr(n int) *int { return &n }

func baseRecord(ip string) *types.LogRecord {
	return &types.LogRecord{
		Time:          time.Date(2025, 5, 26, 19, 55, 12, 0, time.UTC),
		ClientIPPort:  ip + ":44256",
		ClientIP:      ip,
		Request:       "GET https://example.com:443/ HTTP/1.1",
		UserAgent:     "Mozilla/5.0",
		ELBStatusCode: intPtr(200),
	}
}

func TestCategorizeStatus(t *testing.T) {
	cases := []struct {
		code *int
		want types.StatusCodeType
	}{
		{intPtr(100), types.Status1xx},
		{intPtr(200), types.Status2xx},
		{intPtr(300), types.Status3xx},
		{intPtr(404), types.Status4xx},
		{intPtr(500), types.Status5xx},
		{intPtr(999), types.StatusOther},
		{intPtr(42), types.StatusOther},
		{nil, types.StatusUnknown},
	}
	for _, c := range cases {
		if got := CategorizeStatus(c.code); got != c.want {
			t.Errorf("CategorizeStatus(%v) = %s, want %s", c.code, got, c.want)
		}
	}
}

func TestEnrich_LeftJoin(t *testing.T) {
	cache := map[string]types.GeoEntry{
		"34.217.80.200": {ClientIP: "34.217.80.200", CountryCode: "US", CountryName: "United States", City: "Portland"},
	}
	records := []*types.LogRecord{
		baseRecord("34.217.80.200"),
		baseRecord("203.0.113.9"), // not in cache
	}

	out := Enrich(records, cache, Options{})
	if len(out) != 2 {
		t.Fatalf("Expected 2 enriched records, got %d", len(out))
	}
	if out[0].Geo == nil || out[0].Geo.CountryCode != "US" {
		t.Errorf("Expected joined geo entry, got %+v", out[0].Geo)
	}
	if out[1].Geo != nil {
		t.Errorf("Expected nil geo for unmatched IP, got %+v", out[1].Geo)
	}
}

func TestEnrich_DropFilters(t *testing.T) {
	noIP := baseRecord("-")
	noIP.ClientIP = "-"

	noRequest := baseRecord("1.2.3.4")
	noRequest.Request = "-"

	healthCheck := baseRecord("5.6.7.8")
	healthCheck.UserAgent = "ELB-HealthChecker/2.0"

	kubeProbe := baseRecord("5.6.7.9")
	kubeProbe.UserAgent = "kube-probe/1.27"

	keep := baseRecord("9.9.9.9")

	out := Enrich([]*types.LogRecord{noIP, noRequest, healthCheck, kubeProbe, keep}, nil, Options{})
	if len(out) != 1 {
		t.Fatalf("Expected 1 surviving record, got %d", len(out))
	}
	if out[0].ClientIP != "9.9.9.9" {
		t.Errorf("Wrong record survived: %q", out[0].ClientIP)
	}
}

func TestEnrich_WAFFlag(t *testing.T) {
	blocked := baseRecord("1.1.1.1")
	blocked.ClassificationReason = "WafDeny"

	acceptable := baseRecord("2.2.2.2")
	acceptable.ClassificationReason = "Acceptable"

	absent := baseRecord("3.3.3.3")
	absent.ClassificationReason = "-"

	out := Enrich([]*types.LogRecord{blocked, acceptable, absent}, nil, Options{})
	if len(out) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(out))
	}
	if !out[0].WAFBlocked {
		t.Error("Expected WAF flag for WafDeny reason")
	}
	if out[1].WAFBlocked {
		t.Error("Did not expect WAF flag for Acceptable reason")
	}
	if out[2].WAFBlocked {
		t.Error("Expected false (not absent) WAF flag for missing reason")
	}
}

func TestEnrich_StatusTypeOnRecords(t *testing.T) {
	missing := baseRecord("4.4.4.4")
	missing.ELBStatusCode = nil

	out := Enrich([]*types.LogRecord{missing}, nil, Options{})
	if len(out) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(out))
	}
	if out[0].StatusCodeType != types.StatusUnknown {
		t.Errorf("Expected Unknown status type, got %s", out[0].StatusCodeType)
	}
}
