package routines

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// FileStore persists a Store document to a single JSON file, rewriting it
// atomically (temp file + rename) on every mutation.
type FileStore struct {
	path string

	mu   sync.Mutex
	jobs map[string]*Routine
}

// NewFileStore loads path if it exists, or starts empty.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, jobs: make(map[string]*Routine)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, fmt.Errorf("routines: read store: %w", err)
	}
	var doc Store
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("routines: parse store: %w", err)
	}
	for i := range doc.Jobs {
		j := doc.Jobs[i]
		fs.jobs[j.ID] = &j
	}
	return fs, nil
}

// All returns every routine, ordered by next-run time then id, matching
// the order the scheduler consumes them in.
func (fs *FileStore) All() []Routine {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]Routine, 0, len(fs.jobs))
	for _, j := range fs.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].State.NextRunAt.Equal(out[k].State.NextRunAt) {
			return out[i].State.NextRunAt.Before(out[k].State.NextRunAt)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

// Get returns a copy of the routine with id, if present.
func (fs *FileStore) Get(id string) (Routine, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	j, ok := fs.jobs[id]
	if !ok {
		return Routine{}, false
	}
	return *j, true
}

// Add assigns a new id and persists r.
func (fs *FileStore) Add(r Routine) (Routine, error) {
	fs.mu.Lock()
	r.ID = uuid.NewString()
	fs.jobs[r.ID] = &r
	err := fs.persistLocked()
	fs.mu.Unlock()
	return r, err
}

// Update applies mutate to the stored routine with id and persists the
// result. Returns false if id is unknown.
func (fs *FileStore) Update(id string, mutate func(*Routine)) (Routine, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	j, ok := fs.jobs[id]
	if !ok {
		return Routine{}, false, nil
	}
	original := *j
	mutate(j)
	if err := fs.persistLocked(); err != nil {
		*j = original
		return Routine{}, true, err
	}
	return *j, true, nil
}

// Remove deletes the routine with id. Returns false if it wasn't present.
func (fs *FileStore) Remove(id string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.jobs[id]; !ok {
		return false, nil
	}
	delete(fs.jobs, id)
	return true, fs.persistLocked()
}

// persistLocked writes the whole document atomically. Caller must hold fs.mu.
func (fs *FileStore) persistLocked() error {
	doc := Store{Version: 1}
	for _, j := range fs.jobs {
		doc.Jobs = append(doc.Jobs, *j)
	}
	sort.Slice(doc.Jobs, func(i, k int) bool { return doc.Jobs[i].ID < doc.Jobs[k].ID })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".jobs-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, fs.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
