package geo

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"elbetl/internal/types"
)

const (
	defaultBaseURL = "http://ip-api.com/json"

	// Field selection for the ip-api.com JSON endpoint.
	lookupFields = "status,message,country,countryCode,region,regionName,city,lat,lon,isp,query"

	// Per-lookup network timeout. A slow provider degrades a single IP, not
	// the batch.
	lookupTimeout = 5 * time.Second
)

// Provider resolves one IP to a geolocation entry. Implementations return an
// error for transport failures and provider-reported failures alike; the
// caller decides how a failure degrades.
type Provider interface {
	Lookup(ctx context.Context, ip string) (types.GeoEntry, error)
}

// Client is the ip-api.com Provider.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
	now        func() time.Time
}

// ClientConfig overrides Client defaults, mainly for tests.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a Client talking to ip-api.com with the default timeout.
func NewClient(log *slog.Logger) *Client {
	return NewClientWithConfig(log, ClientConfig{})
}

func NewClientWithConfig(log *slog.Logger, cfg ClientConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: lookupTimeout}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		log:        log,
		now:        time.Now,
	}
}

type lookupResponse struct {
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	Country     string   `json:"country"`
	CountryCode string   `json:"countryCode"`
	Region      string   `json:"region"`
	RegionName  string   `json:"regionName"`
	City        string   `json:"city"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	ISP         string   `json:"isp"`
	Query       string   `json:"query"`
}

// Lookup resolves a single IP. Provider-reported failures (status !=
// "success") are returned as errors, same as transport errors.
func (c *Client) Lookup(ctx context.Context, ip string) (types.GeoEntry, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=%s", c.baseURL, url.PathEscape(ip), lookupFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return types.GeoEntry{}, fmt.Errorf("build lookup request for %s: %w", ip, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.GeoEntry{}, fmt.Errorf("lookup %s: %w", ip, err)
	}
	defer resp.Body.Close()

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return types.GeoEntry{}, fmt.Errorf("decode lookup response for %s: %w", ip, err)
	}

	if body.Status != "success" {
		return types.GeoEntry{}, fmt.Errorf("lookup %s: provider returned %q: %s", ip, body.Status, body.Message)
	}

	c.log.Debug("geolocation resolved", "ip", body.Query, "country", body.CountryCode, "city", body.City)

	return types.GeoEntry{
		ClientIP:    body.Query,
		CountryCode: body.CountryCode,
		CountryName: body.Country,
		RegionName:  body.RegionName,
		City:        body.City,
		Lat:         body.Lat,
		Lon:         body.Lon,
		ISP:         body.ISP,
		FetchedAt:   c.now(),
	}, nil
}
