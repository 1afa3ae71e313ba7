package types

import "time"

// StatusCodeType buckets an ELB status code into a coarse class for
// aggregation and reporting.
type StatusCodeType string

const (
	Status1xx     StatusCodeType = "1xx_Informational"
	Status2xx     StatusCodeType = "2xx_Success"
	Status3xx     StatusCodeType = "3xx_Redirection"
	Status4xx     StatusCodeType = "4xx_ClientError"
	Status5xx     StatusCodeType = "5xx_ServerError"
	StatusOther   StatusCodeType = "Other"
	StatusUnknown StatusCodeType = "Unknown"
)

// LogRecord is one fully parsed ELB access-log line. Numeric fields that the
// log marks absent ("-" or non-numeric) are nil pointers, never zero.
// A LogRecord only exists if the whole line tokenized and decoded; there are
// no partially populated records.
type LogRecord struct {
	Type         string
	Time         time.Time // primary timestamp, converted to US/Eastern
	ELB          string
	ClientIPPort string
	TargetIPPort string

	RequestProcessingTime  *float64
	TargetProcessingTime   *float64
	ResponseProcessingTime *float64

	ELBStatusCode    *int
	TargetStatusCode *int
	ReceivedBytes    *int64
	SentBytes        *int64

	Request   string
	UserAgent string

	SSLCipher   string
	SSLProtocol string

	TargetGroupARN      string
	TraceID             string
	DomainName          string
	ChosenCertARN       string
	MatchedRulePriority string

	RequestCreationTime *time.Time // nil when the log carried an unparseable value

	ActionsExecuted      string
	RedirectURL          string
	ErrorReason          string
	TargetPortList       string
	TargetStatusCodeList string
	Classification       string
	ClassificationReason string

	// Derived at parse time.
	ClientIP string // host part of ClientIPPort

	// Decomposed from the embedded request string. All zero when the
	// request string did not sub-parse.
	HTTPMethod  string
	FullURL     string
	HTTPVersion string
	Protocol    string
	Hostname    string
	Port        *int
	Path        string
	QueryParams string

	// User-agent classification.
	UABrowserFamily string
	UAOSFamily      string
	IsBot           bool

	// Originating blob key, for traceability.
	LogSourceFile string
}

// GeoEntry is one cached geolocation result, keyed by client IP. Failed
// lookups are cached with "Error" placeholders and are never retried.
type GeoEntry struct {
	ClientIP    string
	CountryCode string
	CountryName string
	RegionName  string
	City        string
	Lat         *float64
	Lon         *float64
	ISP         string
	FetchedAt   time.Time
}

// ErrorGeoEntry builds the placeholder entry cached when a lookup fails,
// so the IP is not retried on subsequent runs.
func ErrorGeoEntry(ip string, fetchedAt time.Time) GeoEntry {
	return GeoEntry{
		ClientIP:    ip,
		CountryCode: "Error",
		CountryName: "Error",
		RegionName:  "Error",
		City:        "Error",
		ISP:         "Error",
		FetchedAt:   fetchedAt,
	}
}

// IsError reports whether the entry is a cached lookup failure.
func (g GeoEntry) IsError() bool {
	return g.CountryCode == "Error"
}

// EnrichedRecord is a LogRecord left-joined with its GeoEntry plus every
// derived analytical feature. Geo is nil when the IP has no cache entry;
// records are never dropped for missing geolocation.
type EnrichedRecord struct {
	LogRecord

	Geo *GeoEntry

	StatusCodeType StatusCodeType
	WAFBlocked     bool

	// Missing processing-time components count as zero, so this is never
	// absent.
	TotalProcessingTime float64

	RequestYear         int
	RequestMonth        int
	RequestDay          int
	RequestHour         int
	RequestDayOfWeek    string
	RequestDayOfWeekNum int // 0 = Monday
	RequestWeekOfYear   int

	SessionNumber int
	SessionID     string

	Rolling5mRequestCount  int
	Rolling1hAvgProcessing float64

	PathDepth       int
	PathMainSegment string
}

// CountryCode returns the joined country code or "" when no geo entry
// exists. Used for output partitioning.
func (r *EnrichedRecord) CountryCode() string {
	if r.Geo == nil {
		return ""
	}
	return r.Geo.CountryCode
}
