package output

import (
	"encoding/json"
	"io"
	"sync"
)

// JSONWriter writes records as a JSON array, or as one object per line when
// streaming.
type JSONWriter struct {
	mu     sync.Mutex
	writer io.Writer
	pretty bool
	stream bool
	closed bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, pretty, stream bool) *JSONWriter {
	return &JSONWriter{
		writer: w,
		pretty: pretty,
		stream: stream,
	}
}

// WriteRun writes the run's records as one array. In streaming mode records
// were already written by WriteResult and nothing is emitted.
func (j *JSONWriter) WriteRun(run *RunResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed || j.stream {
		return nil
	}
	results := run.Results
	if results == nil {
		results = []*ProbeResult{}
	}
	return j.write(results, j.pretty)
}

// WriteResult writes a single record in streaming mode.
func (j *JSONWriter) WriteResult(res *ProbeResult) error {
	if !j.stream {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	// one object per line regardless of Pretty
	return j.write(res, false)
}

func (j *JSONWriter) write(v any, pretty bool) error {
	var data []byte
	var err error

	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}

	if _, err = j.writer.Write(data); err != nil {
		return err
	}
	_, err = j.writer.Write([]byte("\n"))
	return err
}

// Flush flushes the writer.
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if flusher, ok := j.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close closes the writer.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if closer, ok := j.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
