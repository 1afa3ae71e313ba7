package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"elbetl/internal/types"
)

func TestClient_Lookup_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/34.217.80.200" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"status":"success","country":"United States","countryCode":"US",
			"region":"OR","regionName":"Oregon","city":"Portland",
			"lat":45.5235,"lon":-122.676,"isp":"Amazon.com, Inc.","query":"34.217.80.200"}`))
	}))
	defer srv.Close()

	c := NewClientWithConfig(nil, ClientConfig{BaseURL: srv.URL})

	entry, err := c.Lookup(context.Background(), "34.217.80.200")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if entry.ClientIP != "34.217.80.200" {
		t.Errorf("Expected query IP echoed back, got %q", entry.ClientIP)
	}
	if entry.CountryCode != "US" || entry.City != "Portland" {
		t.Errorf("Unexpected entry: %+v", entry)
	}
	if entry.Lat == nil || *entry.Lat != 45.5235 {
		t.Errorf("Expected lat 45.5235, got %v", entry.Lat)
	}
	if entry.FetchedAt.IsZero() {
		t.Error("Expected fetch timestamp to be set")
	}
}

func TestClient_Lookup_ProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"fail","message":"private range","query":"192.168.0.1"}`))
	}))
	defer srv.Close()

	c := NewClientWithConfig(nil, ClientConfig{BaseURL: srv.URL})

	if _, err := c.Lookup(context.Background(), "192.168.0.1"); err == nil {
		t.Fatal("Expected error for provider-reported failure")
	}
}

func TestClient_Lookup_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := NewClientWithConfig(nil, ClientConfig{BaseURL: srv.URL})

	if _, err := c.Lookup(context.Background(), "1.2.3.4"); err == nil {
		t.Fatal("Expected error for transport failure")
	}
}

type fakeProvider struct {
	entries map[string]types.GeoEntry
}

func (f *fakeProvider) Lookup(_ context.Context, ip string) (types.GeoEntry, error) {
	e, ok := f.entries[ip]
	if !ok {
		return types.GeoEntry{}, errors.New("unknown ip")
	}
	return e, nil
}

func TestResolver_DegradesFailuresToErrorEntries(t *testing.T) {
	provider := &fakeProvider{entries: map[string]types.GeoEntry{
		"1.1.1.1": {ClientIP: "1.1.1.1", CountryCode: "AU", CountryName: "Australia"},
	}}
	// High rate so the test does not sleep.
	r := NewResolver(provider, 1000, nil)

	entries := r.ResolveAll(context.Background(), []string{"1.1.1.1", "9.9.9.9"})
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].CountryCode != "AU" {
		t.Errorf("Expected AU, got %+v", entries[0])
	}
	if !entries[1].IsError() {
		t.Errorf("Expected error placeholder for failed lookup, got %+v", entries[1])
	}
	if entries[1].ClientIP != "9.9.9.9" {
		t.Errorf("Expected failed IP preserved, got %q", entries[1].ClientIP)
	}
}
