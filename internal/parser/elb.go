package parser

import (
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"elbetl/internal/types"
)

// The fixed ALB access-log schema, per the AWS documentation. A line must
// tokenize into at least this many fields to produce a record.
const schemaWidth = 29

// elbTimeLayout matches the primary timestamp column, UTC with microsecond
// precision ("2025-05-26T23:55:12.664047Z").
const elbTimeLayout = "2006-01-02T15:04:05.000000Z"

// DisplayTimeZone is the timezone every parsed timestamp is converted to.
// All downstream time features (hour buckets, sessions, windows) are
// computed in this zone.
const DisplayTimeZone = "US/Eastern"

// ELBParser decodes raw ALB access-log lines into typed records.
// Parsing is all-or-nothing at the line level: a line either yields a fully
// decoded record or nil. The two documented exceptions (request_creation_time
// and the embedded request string) degrade their own fields instead.
type ELBParser struct {
	log *slog.Logger
	tz  *time.Location
}

// NewELBParser loads the display timezone and returns a ready parser.
func NewELBParser(log *slog.Logger) (*ELBParser, error) {
	tz, err := time.LoadLocation(DisplayTimeZone)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &ELBParser{log: log, tz: tz}, nil
}

// Parse decodes one log line. sourceKey is the originating blob key and is
// carried on the record for traceability. Returns nil when the line cannot
// produce a complete record.
func (p *ELBParser) Parse(line, sourceKey string) *types.LogRecord {
	if line == "" {
		return nil
	}

	parts, err := shlex.Split(line)
	if err != nil {
		p.log.Debug("discarding unparseable line", "source", sourceKey, "err", err)
		return nil
	}
	if len(parts) < schemaWidth {
		return nil
	}

	ts, err := time.Parse(elbTimeLayout, parts[1])
	if err != nil {
		p.log.Debug("discarding line with bad timestamp", "source", sourceKey, "value", parts[1])
		return nil
	}

	rec := &types.LogRecord{
		Type:                 parts[0],
		Time:                 ts.In(p.tz),
		ELB:                  parts[2],
		ClientIPPort:         parts[3],
		TargetIPPort:         parts[4],
		Request:              parts[12],
		UserAgent:            parts[13],
		SSLCipher:            parts[14],
		SSLProtocol:          parts[15],
		TargetGroupARN:       parts[16],
		TraceID:              parts[17],
		DomainName:           parts[18],
		ChosenCertARN:        parts[19],
		MatchedRulePriority:  parts[20],
		ActionsExecuted:      parts[22],
		RedirectURL:          parts[23],
		ErrorReason:          parts[24],
		TargetPortList:       parts[25],
		TargetStatusCodeList: parts[26],
		Classification:       parts[27],
		ClassificationReason: parts[28],
		LogSourceFile:        sourceKey,
	}

	// A bad request_creation_time is non-fatal: the record survives with a
	// nil timestamp.
	if rct, err := parseRequestCreationTime(parts[21], p.tz); err == nil {
		rec.RequestCreationTime = &rct
	}

	// Processing-time floats: "-" means absent; any other non-numeric value
	// poisons the whole line.
	var ok bool
	if rec.RequestProcessingTime, ok = parseFloatField(parts[5]); !ok {
		return nil
	}
	if rec.TargetProcessingTime, ok = parseFloatField(parts[6]); !ok {
		return nil
	}
	if rec.ResponseProcessingTime, ok = parseFloatField(parts[7]); !ok {
		return nil
	}

	// Integer columns: anything that is not all digits maps to absent.
	rec.ELBStatusCode = parseIntField(parts[8])
	rec.TargetStatusCode = parseIntField(parts[9])
	rec.ReceivedBytes = parseInt64Field(parts[10])
	rec.SentBytes = parseInt64Field(parts[11])

	rec.ClientIP = strings.SplitN(rec.ClientIPPort, ":", 2)[0]

	// Request sub-parse failure leaves the HTTP-detail fields unset.
	decodeRequest(rec)

	browser, osFamily := classifyUserAgent(rec.UserAgent)
	rec.UABrowserFamily = browser
	rec.UAOSFamily = osFamily
	rec.IsBot = isBotUserAgent(rec.UserAgent)

	return rec
}

// decodeRequest splits the embedded request string ("GET https://host/ HTTP/1.1")
// into method, URL and version, then decomposes the URL. Any failure leaves
// the record's HTTP-detail fields at their zero values.
func decodeRequest(rec *types.LogRecord) {
	tokens, err := shlex.Split(rec.Request)
	if err != nil || len(tokens) != 3 {
		return
	}
	u, err := url.Parse(tokens[1])
	if err != nil {
		return
	}

	rec.HTTPMethod = tokens[0]
	rec.FullURL = tokens[1]
	rec.HTTPVersion = tokens[2]

	rec.Protocol = u.Scheme
	rec.Hostname = strings.ToLower(u.Hostname())
	if portStr := u.Port(); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			rec.Port = &port
		}
	}
	rec.Path = u.Path
	rec.QueryParams = u.RawQuery
}

// parseRequestCreationTime accepts the ALB microsecond layout as well as
// plain RFC3339 variants, converted into the display timezone.
func parseRequestCreationTime(s string, tz *time.Location) (time.Time, error) {
	t, err := time.Parse(elbTimeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
	}
	return t.In(tz), nil
}

func parseFloatField(s string) (*float64, bool) {
	if s == "-" {
		return nil, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	return &f, true
}

func parseIntField(s string) *int {
	if !isDigits(s) {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func parseInt64Field(s string) *int64 {
	if !isDigits(s) {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
