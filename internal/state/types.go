package state

import (
	"errors"
	"time"

	"github.com/PentesterFlow/APIFuzz/internal/output"
)

// ErrNotFound is returned when no run is stored under an ID.
var ErrNotFound = errors.New("run not found")

// Store persists completed runs.
type Store interface {
	Save(run *output.RunResult) error
	Get(id string) (*output.RunResult, error)
	// List returns summaries newest first.
	List() ([]RunSummary, error)
	Delete(id string) error
	Close() error
}

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	ID          string        `json:"id"`
	Target      string        `json:"target"`
	Dialect     string        `json:"dialect"`
	Title       string        `json:"title,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Endpoints   int           `json:"endpoints"`
	Stats       output.Stats  `json:"stats"`
	Duration    time.Duration `json:"duration"`
}

// Summarize builds the listing view of run.
func Summarize(run *output.RunResult) RunSummary {
	return RunSummary{
		ID:          run.ID,
		Target:      run.Target,
		Dialect:     run.Dialect,
		Title:       run.Title,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Endpoints:   run.Endpoints,
		Stats:       run.Stats,
		Duration:    run.CompletedAt.Sub(run.StartedAt),
	}
}
