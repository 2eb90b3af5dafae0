package apifuzz

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/PentesterFlow/APIFuzz/internal/output"
	"github.com/PentesterFlow/APIFuzz/internal/state"
)

// WriteReport renders run to a file and returns its path. An empty cfg.Path
// picks the timestamped default name for the run's dialect.
func WriteReport(run *output.RunResult, cfg OutputConfig, now time.Time) (string, error) {
	p := reportPath(run, cfg, now)
	file, err := os.Create(p)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	if err := Render(file, run, cfg); err != nil {
		file.Close()
		return p, err
	}
	return p, file.Close()
}

// Render writes run to w in cfg.Format without closing w.
func Render(w io.Writer, run *output.RunResult, cfg OutputConfig) error {
	ow, err := output.NewWriter(nopCloser{w}, output.Config{
		Format: cfg.Format,
		Layout: output.LayoutFor(run.Dialect),
		Pretty: cfg.Pretty,
	})
	if err != nil {
		return err
	}
	if err := ow.WriteRun(run); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return ow.Close()
}

func reportPath(run *output.RunResult, cfg OutputConfig, now time.Time) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return output.DefaultFileName(run.Dialect, cfg.Format, now)
}

// Export re-renders a stored run. id may be a unique prefix of the run ID.
func Export(m *state.Manager, id string, cfg OutputConfig) (string, error) {
	run, err := m.Lookup(id)
	if err != nil {
		return "", fmt.Errorf("run %s: %w", id, err)
	}
	return WriteReport(run, cfg, time.Now())
}

// OpenManager opens the run store at path. An empty path is an error: there is
// nothing to list or export from a memory store of a finished process.
func OpenManager(path string) (*state.Manager, error) {
	if path == "" {
		return nil, fmt.Errorf("state database path is required")
	}
	store, err := state.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return state.NewManager(store), nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
