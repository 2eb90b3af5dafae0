package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/PentesterFlow/APIFuzz/internal/output"
)

func sampleRun(id string, started time.Time) *output.RunResult {
	results := []*output.ProbeResult{
		{Index: 0, Method: "GET", URL: "http://api.local/users/1", Status: "200", Length: 9},
		{Index: 1, Method: "POST", URL: "http://api.local/users", Status: "500", RequestBody: `{"name":"test"}`},
		{Index: 2, Method: "PUT", URL: "http://api.local/users/1", Status: output.StatusError, Error: "timeout", ErrorKind: "timeout"},
	}
	return &output.RunResult{
		ID:          id,
		Target:      "http://api.local/openapi.json",
		Dialect:     "openapi3",
		Title:       "Users",
		StartedAt:   started,
		CompletedAt: started.Add(3 * time.Second),
		Endpoints:   3,
		Stats:       output.ComputeStats(results),
		Results:     results,
	}
}

// storeFactories builds each Store implementation against a fresh location.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"bolt": func() Store {
			s, err := NewBoltStore(filepath.Join(t.TempDir(), "nested", "runs.db"))
			if err != nil {
				t.Fatalf("NewBoltStore() error = %v", err)
			}
			return s
		},
		"file": func() Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "runs"), false)
			if err != nil {
				t.Fatalf("NewFileStore() error = %v", err)
			}
			return s
		},
		"file-gzip": func() Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "runs"), true)
			if err != nil {
				t.Fatalf("NewFileStore() error = %v", err)
			}
			return s
		},
		"memory": func() Store { return NewMemoryStore() },
	}
}

// =============================================================================
// Store Tests
// =============================================================================

func TestStore_SaveAndGet(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			run := sampleRun(uuid.NewString(), time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
			if err := s.Save(run); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			got, err := s.Get(run.ID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.Target != run.Target || got.Dialect != run.Dialect {
				t.Errorf("Get() = %s/%s, want %s/%s", got.Target, got.Dialect, run.Target, run.Dialect)
			}
			if len(got.Results) != 3 {
				t.Fatalf("len(Results) = %d, want 3", len(got.Results))
			}
			if got.Results[1].RequestBody != `{"name":"test"}` {
				t.Errorf("RequestBody = %q", got.Results[1].RequestBody)
			}
			if got.Stats != run.Stats {
				t.Errorf("Stats = %+v, want %+v", got.Stats, run.Stats)
			}
			if !got.StartedAt.Equal(run.StartedAt) {
				t.Errorf("StartedAt = %v, want %v", got.StartedAt, run.StartedAt)
			}
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			if _, err := s.Get("nope"); err != ErrNotFound {
				t.Errorf("Get() error = %v, want ErrNotFound", err)
			}
			if err := s.Delete("nope"); err != ErrNotFound {
				t.Errorf("Delete() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			ids := []string{"aaaa-old", "bbbb-new", "cccc-mid"}
			offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
			for i, id := range ids {
				if err := s.Save(sampleRun(id, base.Add(offsets[i]))); err != nil {
					t.Fatalf("Save() error = %v", err)
				}
			}

			list, err := s.List()
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(list) != 3 {
				t.Fatalf("len(List()) = %d, want 3", len(list))
			}
			want := []string{"bbbb-new", "cccc-mid", "aaaa-old"}
			for i, rs := range list {
				if rs.ID != want[i] {
					t.Errorf("List()[%d].ID = %q, want %q", i, rs.ID, want[i])
				}
			}
			if list[0].Duration != 3*time.Second {
				t.Errorf("Duration = %v, want 3s", list[0].Duration)
			}
			if list[0].Stats.Total != 3 {
				t.Errorf("Stats.Total = %d, want 3", list[0].Stats.Total)
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			run := sampleRun("run-1", time.Now())
			s.Save(run)
			if err := s.Delete(run.ID); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := s.Get(run.ID); err != ErrNotFound {
				t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
			}
			list, _ := s.List()
			if len(list) != 0 {
				t.Errorf("len(List()) = %d, want 0", len(list))
			}
		})
	}
}

func TestStore_RejectsEmptyID(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()
			if err := s.Save(&output.RunResult{}); err == nil {
				t.Error("Save() error = nil, want missing ID error")
			}
		})
	}
}

func TestBoltStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	run := sampleRun("persisted", time.Now())
	if err := s.Save(run); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
	s.Close()

	s, err = NewBoltStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	if _, err := s.Get("persisted"); err != nil {
		t.Errorf("Get() after reopen error = %v", err)
	}
}

func TestFileStore_Compressed(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir, true)
	s.Save(sampleRun("zipped", time.Now()))

	if _, err := os.Stat(filepath.Join(dir, "zipped.json.gz")); err != nil {
		t.Errorf("compressed file missing: %v", err)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open(dir) error = %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Errorf("Open(dir) = %T, want *FileStore", s)
	}

	s, err = Open(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("Open(file) error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*BoltStore); !ok {
		t.Errorf("Open(file) = %T, want *BoltStore", s)
	}
}

// =============================================================================
// Manager Tests
// =============================================================================

func TestManager_StartAndFinish(t *testing.T) {
	m := NewManager(nil)
	defer m.Close()

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	run := m.Start("http://svc.local/Calc.asmx", "asmx", "Calc")
	if _, err := uuid.Parse(run.ID); err != nil {
		t.Errorf("run ID %q is not a UUID: %v", run.ID, err)
	}
	if !run.StartedAt.Equal(clock) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, clock)
	}

	clock = clock.Add(2 * time.Second)
	results := sampleRun("", clock).Results
	if err := m.Finish(run, 2, results); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if run.Stats.Total != 3 || run.Stats.Failed != 1 {
		t.Errorf("Stats = %+v", run.Stats)
	}
	if run.Stats.Duration != 2*time.Second {
		t.Errorf("Stats.Duration = %v, want 2s", run.Stats.Duration)
	}

	got, err := m.Lookup(run.ID)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.Endpoints != 2 {
		t.Errorf("Endpoints = %d, want 2", got.Endpoints)
	}
}

func TestManager_StartUniqueIDs(t *testing.T) {
	m := NewManager(NewMemoryStore())
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := m.Start("t", "openapi3", "").ID
		if seen[id] {
			t.Fatalf("duplicate run ID %s", id)
		}
		seen[id] = true
	}
}

func TestManager_LookupPrefix(t *testing.T) {
	store := NewMemoryStore()
	store.Save(sampleRun("12345678-aaaa", time.Now()))
	store.Save(sampleRun("12345678-bbbb", time.Now()))
	store.Save(sampleRun("87654321-cccc", time.Now()))
	m := NewManager(store)

	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{"12345678-aaaa", "12345678-aaaa", false},
		{"87654321", "87654321-cccc", false},
		{"12345678", "", true},
		{"1234", "", true},
		{"ffffffff", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			run, err := m.Lookup(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Lookup(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err == nil && run.ID != tt.want {
				t.Errorf("Lookup(%q) = %q, want %q", tt.id, run.ID, tt.want)
			}
		})
	}
}
