package state

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/PentesterFlow/APIFuzz/internal/output"
)

var (
	bucketRuns      = []byte("runs")
	bucketSummaries = []byte("summaries")
)

// Open returns a FileStore when path names a directory (existing, or ending
// in a separator) and a BoltStore otherwise.
func Open(path string) (Store, error) {
	if strings.HasSuffix(path, string(os.PathSeparator)) || strings.HasSuffix(path, "/") {
		return NewFileStore(path, true)
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return NewFileStore(path, true)
	}
	return NewBoltStore(path)
}

// BoltStore implements Store using BoltDB. Runs are stored gzip-compressed
// under their ID, with a separate uncompressed summary for listing.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore creates a new BoltDB-backed run store.
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRuns, bucketSummaries} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Save stores run under run.ID, replacing any previous run with that ID.
func (s *BoltStore) Save(run *output.RunResult) error {
	if run.ID == "" {
		return fmt.Errorf("run has no ID")
	}
	data, err := compress(run)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(Summarize(run))
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketRuns).Put([]byte(run.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketSummaries).Put([]byte(run.ID), summary)
	})
}

// Get loads the run stored under id.
func (s *BoltStore) Get(id string) (*output.RunResult, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRuns).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		// bolt values are only valid inside the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decompress(data)
}

// List returns every stored run summary, newest first.
func (s *BoltStore) List() ([]RunSummary, error) {
	var out []RunSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSummaries).ForEach(func(_, v []byte) error {
			var rs RunSummary
			if err := json.Unmarshal(v, &rs); err != nil {
				return fmt.Errorf("failed to unmarshal summary: %w", err)
			}
			out = append(out, rs)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortSummaries(out)
	return out, nil
}

// Delete removes the run stored under id.
func (s *BoltStore) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketRuns).Get([]byte(id)) == nil {
			return ErrNotFound
		}
		if err := tx.Bucket(bucketRuns).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketSummaries).Delete([]byte(id))
	})
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// FileStore implements Store with one JSON file per run in a directory.
type FileStore struct {
	dir        string
	compressed bool
}

// NewFileStore creates a file-based run store rooted at dir.
func NewFileStore(dir string, compressed bool) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &FileStore{dir: dir, compressed: compressed}, nil
}

func (s *FileStore) file(id string) string {
	name := filepath.Base(id) + ".json"
	if s.compressed {
		name += ".gz"
	}
	return filepath.Join(s.dir, name)
}

// Save writes run to <dir>/<id>.json, gzip-compressed when configured.
func (s *FileStore) Save(run *output.RunResult) error {
	if run.ID == "" {
		return fmt.Errorf("run has no ID")
	}
	var (
		data []byte
		err  error
	)
	if s.compressed {
		data, err = compress(run)
	} else {
		data, err = json.MarshalIndent(run, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	return os.WriteFile(s.file(run.ID), data, 0644)
}

// Get reads the run stored under id.
func (s *FileStore) Get(id string) (*output.RunResult, error) {
	data, err := os.ReadFile(s.file(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if s.compressed {
		return decompress(data)
	}
	var run output.RunResult
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// List reads every run in the directory, newest first.
func (s *FileStore) List() ([]RunSummary, error) {
	pattern := "*.json"
	if s.compressed {
		pattern += ".gz"
	}
	files, err := filepath.Glob(filepath.Join(s.dir, pattern))
	if err != nil {
		return nil, err
	}
	var out []RunSummary
	for _, f := range files {
		id := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(f), ".gz"), ".json")
		run, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, Summarize(run))
	}
	sortSummaries(out)
	return out, nil
}

// Delete removes the run file.
func (s *FileStore) Delete(id string) error {
	err := os.Remove(s.file(id))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

// Close is a no-op for FileStore.
func (s *FileStore) Close() error {
	return nil
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*output.RunResult
}

// NewMemoryStore creates a new in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*output.RunResult)}
}

// Save keeps run in memory.
func (s *MemoryStore) Save(run *output.RunResult) error {
	if run.ID == "" {
		return fmt.Errorf("run has no ID")
	}
	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()
	return nil
}

// Get returns the run stored under id.
func (s *MemoryStore) Get(id string) (*output.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return run, nil
}

// List returns every run summary, newest first.
func (s *MemoryStore) List() ([]RunSummary, error) {
	s.mu.RLock()
	out := make([]RunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, Summarize(run))
	}
	s.mu.RUnlock()
	sortSummaries(out)
	return out, nil
}

// Delete forgets the run stored under id.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return ErrNotFound
	}
	delete(s.runs, id)
	return nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

func sortSummaries(list []RunSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].StartedAt.After(list[j].StartedAt)
	})
}

func compress(run *output.RunResult) ([]byte, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run: %w", err)
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) (*output.RunResult, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, err
	}
	var run output.RunResult
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}
