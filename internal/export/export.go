package export

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"elbetl/internal/types"
)

// timestampLayout is how staged timestamps are serialized for DuckDB's
// TIMESTAMPTZ columns: local wall time plus offset, microsecond precision.
const timestampLayout = "2006-01-02 15:04:05.000000-07:00"

// Dirs are the output roots. They are created on construction.
type Dirs struct {
	Cleaned    string // partitioned parquet dataset
	Aggregates string // hourly rollup
	Reports    string // error/bot reports and the run manifest
}

// Exporter serializes the final outputs. Parquet is written through an
// in-memory DuckDB instance (rows staged to CSV, loaded into a typed table,
// then COPY ... TO); flat reports are plain CSV.
type Exporter struct {
	db   *sql.DB
	dirs Dirs
	log  *slog.Logger
}

func NewExporter(dirs Dirs, log *slog.Logger) (*Exporter, error) {
	if log == nil {
		log = slog.Default()
	}
	for _, dir := range []string{dirs.Cleaned, dirs.Aggregates, dirs.Reports} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Exporter{db: db, dirs: dirs, log: log}, nil
}

func (e *Exporter) Close() error {
	return e.db.Close()
}

// cleanedSchema maps the cleaned-logs output columns to DuckDB types, in
// output order. The four partition columns are part of the table.
var cleanedSchema = [][2]string{
	{"time", "TIMESTAMPTZ"},
	{"log_type", "VARCHAR"},
	{"elb", "VARCHAR"},
	{"client_ip", "VARCHAR"},
	{"client_ip_port", "VARCHAR"},
	{"target_ip_port", "VARCHAR"},
	{"request_processing_time", "DOUBLE"},
	{"target_processing_time", "DOUBLE"},
	{"response_processing_time", "DOUBLE"},
	{"elb_status_code", "INTEGER"},
	{"target_status_code", "INTEGER"},
	{"received_bytes", "BIGINT"},
	{"sent_bytes", "BIGINT"},
	{"request", "VARCHAR"},
	{"user_agent", "VARCHAR"},
	{"ssl_cipher", "VARCHAR"},
	{"ssl_protocol", "VARCHAR"},
	{"target_group_arn", "VARCHAR"},
	{"trace_id", "VARCHAR"},
	{"domain_name", "VARCHAR"},
	{"chosen_cert_arn", "VARCHAR"},
	{"matched_rule_priority", "VARCHAR"},
	{"request_creation_time", "TIMESTAMPTZ"},
	{"actions_executed", "VARCHAR"},
	{"redirect_url", "VARCHAR"},
	{"error_reason", "VARCHAR"},
	{"target_port_list", "VARCHAR"},
	{"target_status_code_list", "VARCHAR"},
	{"classification", "VARCHAR"},
	{"classification_reason", "VARCHAR"},
	{"http_method", "VARCHAR"},
	{"full_url", "VARCHAR"},
	{"http_version", "VARCHAR"},
	{"protocol", "VARCHAR"},
	{"hostname", "VARCHAR"},
	{"port", "INTEGER"},
	{"path", "VARCHAR"},
	{"query_params", "VARCHAR"},
	{"ua_browser_family", "VARCHAR"},
	{"ua_os_family", "VARCHAR"},
	{"is_bot", "BOOLEAN"},
	{"log_source_file", "VARCHAR"},
	{"country_code", "VARCHAR"},
	{"country_name", "VARCHAR"},
	{"region_name", "VARCHAR"},
	{"city", "VARCHAR"},
	{"lat", "DOUBLE"},
	{"lon", "DOUBLE"},
	{"isp", "VARCHAR"},
	{"status_code_type", "VARCHAR"},
	{"waf_blocked", "BOOLEAN"},
	{"total_processing_time", "DOUBLE"},
	{"request_year", "INTEGER"},
	{"request_month", "INTEGER"},
	{"request_day", "INTEGER"},
	{"request_hour", "INTEGER"},
	{"request_day_of_week", "VARCHAR"},
	{"request_day_of_week_num", "INTEGER"},
	{"request_week_of_year", "INTEGER"},
	{"session_number", "INTEGER"},
	{"session_id", "VARCHAR"},
	{"rolling_5min_request_count", "INTEGER"},
	{"rolling_1h_avg_processing", "DOUBLE"},
	{"path_depth", "INTEGER"},
	{"path_main_segment", "VARCHAR"},
}

func cleanedRow(r *types.EnrichedRecord) []string {
	geo := r.Geo
	geoStr := func(f func(*types.GeoEntry) string) string {
		if geo == nil {
			return ""
		}
		return f(geo)
	}
	return []string{
		r.Time.Format(timestampLayout),
		r.Type,
		r.ELB,
		r.ClientIP,
		r.ClientIPPort,
		r.TargetIPPort,
		floatField(r.RequestProcessingTime),
		floatField(r.TargetProcessingTime),
		floatField(r.ResponseProcessingTime),
		intField(r.ELBStatusCode),
		intField(r.TargetStatusCode),
		int64Field(r.ReceivedBytes),
		int64Field(r.SentBytes),
		r.Request,
		r.UserAgent,
		r.SSLCipher,
		r.SSLProtocol,
		r.TargetGroupARN,
		r.TraceID,
		r.DomainName,
		r.ChosenCertARN,
		r.MatchedRulePriority,
		timeField(r.RequestCreationTime),
		r.ActionsExecuted,
		r.RedirectURL,
		r.ErrorReason,
		r.TargetPortList,
		r.TargetStatusCodeList,
		r.Classification,
		r.ClassificationReason,
		r.HTTPMethod,
		r.FullURL,
		r.HTTPVersion,
		r.Protocol,
		r.Hostname,
		intField(r.Port),
		r.Path,
		r.QueryParams,
		r.UABrowserFamily,
		r.UAOSFamily,
		strconv.FormatBool(r.IsBot),
		r.LogSourceFile,
		geoStr(func(g *types.GeoEntry) string { return g.CountryCode }),
		geoStr(func(g *types.GeoEntry) string { return g.CountryName }),
		geoStr(func(g *types.GeoEntry) string { return g.RegionName }),
		geoStr(func(g *types.GeoEntry) string { return g.City }),
		geoFloat(geo, func(g *types.GeoEntry) *float64 { return g.Lat }),
		geoFloat(geo, func(g *types.GeoEntry) *float64 { return g.Lon }),
		geoStr(func(g *types.GeoEntry) string { return g.ISP }),
		string(r.StatusCodeType),
		strconv.FormatBool(r.WAFBlocked),
		strconv.FormatFloat(r.TotalProcessingTime, 'f', -1, 64),
		strconv.Itoa(r.RequestYear),
		strconv.Itoa(r.RequestMonth),
		strconv.Itoa(r.RequestDay),
		strconv.Itoa(r.RequestHour),
		r.RequestDayOfWeek,
		strconv.Itoa(r.RequestDayOfWeekNum),
		strconv.Itoa(r.RequestWeekOfYear),
		strconv.Itoa(r.SessionNumber),
		r.SessionID,
		strconv.Itoa(r.Rolling5mRequestCount),
		strconv.FormatFloat(r.Rolling1hAvgProcessing, 'f', -1, 64),
		strconv.Itoa(r.PathDepth),
		r.PathMainSegment,
	}
}

// ExportCleaned writes the enriched records as a parquet dataset partitioned
// by request_year/request_month/request_day/country_code.
func (e *Exporter) ExportCleaned(records []*types.EnrichedRecord) error {
	staging, err := e.stageCSV("cleaned", cleanedSchema, len(records), func(i int) []string {
		return cleanedRow(records[i])
	})
	if err != nil {
		return err
	}
	defer os.Remove(staging)

	if err := e.loadTable("cleaned_logs", cleanedSchema, staging); err != nil {
		return err
	}
	defer e.dropTable("cleaned_logs")

	copyStmt := fmt.Sprintf(
		`COPY cleaned_logs TO %s (FORMAT PARQUET, PARTITION_BY (request_year, request_month, request_day, country_code), OVERWRITE_OR_IGNORE)`,
		quoteLiteral(e.dirs.Cleaned))
	if _, err := e.db.Exec(copyStmt); err != nil {
		return fmt.Errorf("write cleaned parquet dataset: %w", err)
	}

	e.log.Info("cleaned logs exported", "rows", len(records), "path", e.dirs.Cleaned)
	return nil
}

var hourlySchema = [][2]string{
	{"request_year", "INTEGER"},
	{"request_month", "INTEGER"},
	{"request_day", "INTEGER"},
	{"request_hour", "INTEGER"},
	{"country_name", "VARCHAR"},
	{"city", "VARCHAR"},
	{"request_count", "BIGINT"},
	{"unique_client_ips_count", "BIGINT"},
	{"average_total_processing_time", "DOUBLE"},
	{"median_total_processing_time", "DOUBLE"},
	{"sum_sent_bytes", "BIGINT"},
	{"sum_received_bytes", "BIGINT"},
	{"count_2xx", "BIGINT"},
	{"count_4xx", "BIGINT"},
	{"count_5xx", "BIGINT"},
}

// ExportHourly writes the hourly traffic rollup as a single parquet file.
func (e *Exporter) ExportHourly(rows []HourlyRow) error {
	staging, err := e.stageCSV("hourly", hourlySchema, len(rows), func(i int) []string {
		r := rows[i]
		return []string{
			strconv.Itoa(r.Year),
			strconv.Itoa(r.Month),
			strconv.Itoa(r.Day),
			strconv.Itoa(r.Hour),
			r.CountryName,
			r.City,
			strconv.Itoa(r.RequestCount),
			strconv.Itoa(r.UniqueClientIPs),
			strconv.FormatFloat(r.AvgTotalProcessing, 'f', -1, 64),
			strconv.FormatFloat(r.MedianTotalProcessing, 'f', -1, 64),
			strconv.FormatInt(r.SumSentBytes, 10),
			strconv.FormatInt(r.SumReceivedBytes, 10),
			strconv.Itoa(r.Count2xx),
			strconv.Itoa(r.Count4xx),
			strconv.Itoa(r.Count5xx),
		}
	})
	if err != nil {
		return err
	}
	defer os.Remove(staging)

	if err := e.loadTable("hourly_traffic", hourlySchema, staging); err != nil {
		return err
	}
	defer e.dropTable("hourly_traffic")

	target := filepath.Join(e.dirs.Aggregates, "hourly_traffic_by_geo.parquet")
	copyStmt := fmt.Sprintf(`COPY hourly_traffic TO %s (FORMAT PARQUET)`, quoteLiteral(target))
	if _, err := e.db.Exec(copyStmt); err != nil {
		return fmt.Errorf("write hourly aggregate parquet: %w", err)
	}

	e.log.Info("hourly aggregate exported", "rows", len(rows), "path", target)
	return nil
}

var botDetailSchema = [][2]string{
	{"time", "TIMESTAMPTZ"},
	{"client_ip", "VARCHAR"},
	{"city", "VARCHAR"},
	{"country_name", "VARCHAR"},
	{"isp", "VARCHAR"},
	{"full_url", "VARCHAR"},
	{"user_agent", "VARCHAR"},
}

// ExportBotTraffic writes the bot detail parquet and the (country, ISP)
// summary CSV.
func (e *Exporter) ExportBotTraffic(records []*types.EnrichedRecord) error {
	var bots []*types.EnrichedRecord
	for _, r := range records {
		if r.IsBot {
			bots = append(bots, r)
		}
	}

	staging, err := e.stageCSV("bots", botDetailSchema, len(bots), func(i int) []string {
		r := bots[i]
		var city, country, isp string
		if r.Geo != nil {
			city, country, isp = r.Geo.City, r.Geo.CountryName, r.Geo.ISP
		}
		return []string{
			r.Time.Format(timestampLayout),
			r.ClientIP,
			city,
			country,
			isp,
			r.FullURL,
			r.UserAgent,
		}
	})
	if err != nil {
		return err
	}
	defer os.Remove(staging)

	if err := e.loadTable("bot_traffic", botDetailSchema, staging); err != nil {
		return err
	}
	defer e.dropTable("bot_traffic")

	target := filepath.Join(e.dirs.Reports, "bot_traffic_details.parquet")
	copyStmt := fmt.Sprintf(`COPY bot_traffic TO %s (FORMAT PARQUET)`, quoteLiteral(target))
	if _, err := e.db.Exec(copyStmt); err != nil {
		return fmt.Errorf("write bot detail parquet: %w", err)
	}

	summaryPath := filepath.Join(e.dirs.Reports, "bot_traffic_by_origin_summary.csv")
	summary := SummarizeBotOrigins(records)
	header := []string{"country_name", "isp", "bot_request_count"}
	if err := writeCSV(summaryPath, header, len(summary), func(i int) []string {
		return []string{summary[i].CountryName, summary[i].ISP, strconv.Itoa(summary[i].BotRequestCount)}
	}); err != nil {
		return fmt.Errorf("write bot summary csv: %w", err)
	}

	e.log.Info("bot traffic exported", "detail_rows", len(bots), "summary_rows", len(summary))
	return nil
}

// errorSummaryHeader is the fixed projection of the error report.
var errorSummaryHeader = []string{
	"time", "client_ip", "city", "country_name", "isp", "http_method", "full_url",
	"elb_status_code", "target_status_code_list", "user_agent",
	"ua_browser_family", "ua_os_family", "error_reason",
}

// ExportErrorSummary writes the 4xx/5xx records as a flat CSV report.
func (e *Exporter) ExportErrorSummary(records []*types.EnrichedRecord) error {
	var errs []*types.EnrichedRecord
	for _, r := range records {
		if r.StatusCodeType == types.Status4xx || r.StatusCodeType == types.Status5xx {
			errs = append(errs, r)
		}
	}

	target := filepath.Join(e.dirs.Reports, "error_summary_geo.csv")
	err := writeCSV(target, errorSummaryHeader, len(errs), func(i int) []string {
		r := errs[i]
		var city, country, isp string
		if r.Geo != nil {
			city, country, isp = r.Geo.City, r.Geo.CountryName, r.Geo.ISP
		}
		return []string{
			r.Time.Format(timestampLayout),
			r.ClientIP,
			city,
			country,
			isp,
			r.HTTPMethod,
			r.FullURL,
			intField(r.ELBStatusCode),
			r.TargetStatusCodeList,
			r.UserAgent,
			r.UABrowserFamily,
			r.UAOSFamily,
			r.ErrorReason,
		}
	})
	if err != nil {
		return fmt.Errorf("write error summary csv: %w", err)
	}

	e.log.Info("error summary exported", "rows", len(errs), "path", target)
	return nil
}

// stageCSV writes rows to a temp CSV (header included, empty cell = NULL)
// and returns its path.
func (e *Exporter) stageCSV(name string, schema [][2]string, n int, row func(i int) []string) (string, error) {
	f, err := os.CreateTemp("", "elbetl-"+name+"-*.csv")
	if err != nil {
		return "", fmt.Errorf("create staging csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := make([]string, len(schema))
	for i, col := range schema {
		header[i] = col[0]
	}
	if err := w.Write(header); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write staging header: %w", err)
	}
	for i := 0; i < n; i++ {
		if err := w.Write(row(i)); err != nil {
			os.Remove(f.Name())
			return "", fmt.Errorf("write staging row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("flush staging csv: %w", err)
	}
	return f.Name(), nil
}

// loadTable (re)creates a typed table and bulk-loads the staged CSV into it.
func (e *Exporter) loadTable(table string, schema [][2]string, csvPath string) error {
	ddl := fmt.Sprintf(`CREATE OR REPLACE TABLE %s (`, table)
	for i, col := range schema {
		if i > 0 {
			ddl += ", "
		}
		ddl += col[0] + " " + col[1]
	}
	ddl += ")"
	if _, err := e.db.Exec(ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	load := fmt.Sprintf(`COPY %s FROM %s (FORMAT CSV, HEADER, NULLSTR '')`, table, quoteLiteral(csvPath))
	if _, err := e.db.Exec(load); err != nil {
		return fmt.Errorf("load table %s: %w", table, err)
	}
	return nil
}

func (e *Exporter) dropTable(table string) {
	if _, err := e.db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
		e.log.Warn("drop staging table failed", "table", table, "err", err)
	}
}

// quoteLiteral single-quotes a SQL string literal.
func quoteLiteral(s string) string {
	escaped := ""
	for _, r := range s {
		if r == '\'' {
			escaped += "''"
		} else {
			escaped += string(r)
		}
	}
	return "'" + escaped + "'"
}

func writeCSV(path string, header []string, n int, row func(i int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := w.Write(row(i)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func floatField(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

func intField(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func int64Field(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

func timeField(p *time.Time) string {
	if p == nil {
		return ""
	}
	return p.Format(timestampLayout)
}

func geoFloat(g *types.GeoEntry, f func(*types.GeoEntry) *float64) string {
	if g == nil {
		return ""
	}
	return floatField(f(g))
}
