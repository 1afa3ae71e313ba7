package blob

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// maxLineBytes bounds a single log line. ALB lines are well under this; the
// cap protects against a corrupt blob.
const maxLineBytes = 1 << 20

// Lines gunzips a blob and calls fn once per trimmed line. A non-nil error
// from fn stops iteration and is returned.
func Lines(r io.Reader, fn func(line string) error) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := fn(strings.TrimSpace(scanner.Text())); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read gzip stream: %w", err)
	}
	return nil
}
