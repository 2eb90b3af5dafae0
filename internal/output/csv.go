package output

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"
)

var (
	restColumns = []string{
		"Method", "URL", "Status", "Length", "Content-Type",
		"Request Headers", "Request Body", "Response Headers", "Response Snippet",
	}
	soapColumns = []string{
		"Method", "URL", "Service", "Operation", "Status",
		"Response Time", "Content Length", "Error",
	}
)

// CSVWriter writes one row per record under a header row.
type CSVWriter struct {
	mu     sync.Mutex
	writer *csv.Writer
	closer io.Writer
	layout Layout
	header bool
	closed bool
}

// NewCSVWriter creates a CSV writer with the given column layout.
func NewCSVWriter(w io.Writer, layout Layout) *CSVWriter {
	return &CSVWriter{writer: csv.NewWriter(w), closer: w, layout: layout}
}

// Columns returns the header row of layout.
func Columns(layout Layout) []string {
	if layout == LayoutSOAP {
		return append([]string(nil), soapColumns...)
	}
	return append([]string(nil), restColumns...)
}

// Row renders res in layout column order.
func Row(layout Layout, res *ProbeResult) []string {
	if layout == LayoutSOAP {
		operation := res.Operation
		if res.Namespace != "" {
			operation += " [ns:" + res.Namespace + "]"
		}
		return []string{
			res.Method,
			res.URL,
			res.Service,
			operation,
			res.Status,
			strconv.FormatFloat(res.Elapsed.Seconds(), 'f', 3, 64),
			strconv.Itoa(res.Length),
			res.Error,
		}
	}
	snippet := res.Snippet
	if res.Failed() && snippet == "" {
		snippet = res.Error
	}
	return []string{
		res.Method,
		res.URL,
		res.Status,
		strconv.Itoa(res.Length),
		res.ContentType,
		res.RequestHeaders,
		res.RequestBody,
		res.ResponseHeaders,
		snippet,
	}
}

// WriteResult appends one row, writing the header first if needed.
func (c *CSVWriter) WriteResult(res *ProbeResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if err := c.writeHeader(); err != nil {
		return err
	}
	return c.writer.Write(Row(c.layout, res))
}

// WriteRun writes every record of run.
func (c *CSVWriter) WriteRun(run *RunResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if err := c.writeHeader(); err != nil {
		return err
	}
	for _, res := range run.Results {
		if err := c.writer.Write(Row(c.layout, res)); err != nil {
			return err
		}
	}
	c.writer.Flush()
	return c.writer.Error()
}

func (c *CSVWriter) writeHeader() error {
	if c.header {
		return nil
	}
	c.header = true
	return c.writer.Write(Columns(c.layout))
}

// Flush flushes buffered rows.
func (c *CSVWriter) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying writer when it is a Closer.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return err
	}
	if closer, ok := c.closer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
