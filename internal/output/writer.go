// Package output renders probe records as reports and console lines.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	apierrors "github.com/PentesterFlow/APIFuzz/internal/errors"
)

// Writer renders records. WriteResult appends one record; WriteRun writes a
// whole run. Streaming writers emit records as they arrive and ignore the
// record list of WriteRun.
type Writer interface {
	WriteResult(res *ProbeResult) error
	WriteRun(run *RunResult) error
	Flush() error
	Close() error
}

// Report formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Layout selects the CSV column set.
type Layout int

const (
	// LayoutREST carries request and response detail per row.
	LayoutREST Layout = iota
	// LayoutSOAP carries service, operation and timing per row.
	LayoutSOAP
)

// LayoutFor returns the column layout used for a dialect name.
func LayoutFor(dialect string) Layout {
	switch dialect {
	case "wsdl", "asmx":
		return LayoutSOAP
	default:
		return LayoutREST
	}
}

// Config holds output configuration.
type Config struct {
	Format   string
	Layout   Layout
	Pretty   bool
	Stream   bool
	FilePath string
}

// NewWriter creates the writer for config.Format.
func NewWriter(w io.Writer, config Config) (Writer, error) {
	switch strings.ToLower(config.Format) {
	case FormatCSV, "":
		return NewCSVWriter(w, config.Layout), nil
	case FormatJSON:
		return NewJSONWriter(w, config.Pretty, config.Stream), nil
	default:
		return nil, apierrors.NewConfigError("output", fmt.Sprintf("unsupported output format %q", config.Format))
	}
}

// ValidFormat reports whether f names a supported report format.
func ValidFormat(f string) bool {
	switch strings.ToLower(f) {
	case FormatCSV, FormatJSON:
		return true
	}
	return false
}

// DefaultFileName returns the timestamped report name for a dialect, e.g.
// fuzzer_results_1700000000.csv or soap_fuzzer_results_1700000000.json.
func DefaultFileName(dialect, format string, now time.Time) string {
	prefix := "fuzzer_results"
	switch dialect {
	case "wsdl":
		prefix = "soap_fuzzer_results"
	case "asmx":
		prefix = "asmx_fuzzer_results"
	}
	if format == "" {
		format = FormatCSV
	}
	return fmt.Sprintf("%s_%d.%s", prefix, now.Unix(), strings.ToLower(format))
}
