package export

import (
	"fmt"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// RunManifest summarizes one pipeline run. Appended as a JSON line so the
// manifest file doubles as a run history.
type RunManifest struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`

	FilesListed    int `json:"files_listed"`
	FilesProcessed int `json:"files_processed"`
	FilesFailed    int `json:"files_failed"`

	LinesRead      int `json:"lines_read"`
	LinesDiscarded int `json:"lines_discarded"`

	RecordsParsed   int `json:"records_parsed"`
	RecordsEnriched int `json:"records_enriched"`
	RecordsExported int `json:"records_exported"`

	CachedIPs      int `json:"cached_ips"`
	NewIPsResolved int `json:"new_ips_resolved"`
	LookupFailures int `json:"lookup_failures"`
}

// ManifestWriter appends run manifests to a JSON-lines file in a thread-safe
// manner.
type ManifestWriter struct {
	mu       sync.Mutex
	filePath string
}

func NewManifestWriter(filePath string) *ManifestWriter {
	return &ManifestWriter{filePath: filePath}
}

// Append writes one manifest line.
func (w *ManifestWriter) Append(m RunManifest) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open run manifest: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	if err := encoder.Encode(m); err != nil {
		return fmt.Errorf("failed to encode run manifest: %w", err)
	}
	return nil
}
