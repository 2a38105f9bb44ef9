package database

import (
	"bufio"
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// EnrollmentIndexMetadata stores metadata for validating a cached index.
type EnrollmentIndexMetadata struct {
	Count     int       `json:"count"`
	BuildTime time.Time `json:"build_time"`
	Version   int       `json:"version"`
}

const enrollmentIndexVersion = 1

// EnrollmentIndex is an in-memory HNSW graph over enrolled face encodings,
// used to detect one face enrolled under two employees. Candidates returned by
// the graph are re-checked with the exact distance.
type EnrollmentIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[string]
	vectors map[string][]float64
	active  map[string]bool
}

// NewEnrollmentIndex creates an empty index.
func NewEnrollmentIndex() *EnrollmentIndex {
	return &EnrollmentIndex{
		graph:   newGraph(),
		vectors: make(map[string][]float64),
		active:  make(map[string]bool),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Rebuild replaces the index content.
func (h *EnrollmentIndex) Rebuild(entries map[string][]float64, inactive map[string]bool) {
	g := newGraph()
	vectors := make(map[string][]float64, len(entries))
	active := make(map[string]bool, len(entries))
	for id, vec := range entries {
		if len(vec) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(id, toFloat32(vec)))
		vectors[id] = vec
		active[id] = !inactive[id]
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = g
	h.vectors = vectors
	h.active = active
}

// Upsert adds or replaces an employee's encoding. An empty vector removes it.
func (h *EnrollmentIndex) Upsert(id string, vector []float64, active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(id)
	if len(vector) == 0 {
		return
	}
	h.graph.Add(hnsw.MakeNode(id, toFloat32(vector)))
	h.vectors[id] = vector
	h.active[id] = active
}

// Remove deletes an employee from the index.
func (h *EnrollmentIndex) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

func (h *EnrollmentIndex) removeLocked(id string) {
	if _, ok := h.vectors[id]; !ok {
		return
	}
	delete(h.vectors, id)
	delete(h.active, id)
	if len(h.vectors) == 0 {
		// Deleting the last node leaves the graph without an entry point.
		h.graph = newGraph()
		return
	}
	h.graph.Delete(id)
}

// Len returns the number of indexed employees.
func (h *EnrollmentIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.vectors)
}

// FindDuplicate implements DuplicateFinder.
func (h *EnrollmentIndex) FindDuplicate(_ context.Context, employeeID string, vector []float64, maxDistance float64) (*Duplicate, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.vectors) == 0 || len(vector) == 0 {
		return nil, nil
	}

	k := min(HNSWSearchCandidates, len(h.vectors))
	var best *Duplicate
	for _, n := range h.graph.Search(toFloat32(vector), k) {
		if n.Key == employeeID || !h.active[n.Key] {
			continue
		}
		d := EuclideanDistance(vector, h.vectors[n.Key])
		if d <= maxDistance && (best == nil || d < best.Distance) {
			best = &Duplicate{EmployeeID: n.Key, Distance: d}
		}
	}
	return best, nil
}

// Save persists the graph, its metadata and the exact vectors next to path.
func (h *EnrollmentIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.vectors) == 0 {
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".vectors")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create enrollment index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export enrollment graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close enrollment index file: %w", err)
	}

	meta, err := json.Marshal(EnrollmentIndexMetadata{
		Count:     len(h.vectors),
		BuildTime: time.Now().UTC(),
		Version:   enrollmentIndexVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", meta, 0o600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(indexSnapshot{Vectors: h.vectors, Active: h.active}); err != nil {
		return fmt.Errorf("failed to encode vectors: %w", err)
	}
	if err := os.WriteFile(path+".vectors", buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write vectors file: %w", err)
	}
	return nil
}

type indexSnapshot struct {
	Vectors map[string][]float64
	Active  map[string]bool
}

// ErrIndexNotFound is returned by Load when no saved index exists.
var ErrIndexNotFound = errors.New("enrollment index not found")

// LoadEnrollmentIndexMetadata reads the .meta file written by Save.
func LoadEnrollmentIndexMetadata(path string) (EnrollmentIndexMetadata, error) {
	var meta EnrollmentIndexMetadata
	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return meta, nil
}

// Load replaces the index content with a saved one.
func (h *EnrollmentIndex) Load(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if errors.Is(err, os.ErrNotExist) {
		return ErrIndexNotFound
	}
	if err != nil {
		return fmt.Errorf("open enrollment index: %w", err)
	}
	defer f.Close()

	g := newGraph()
	if err := g.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("failed to import enrollment graph: %w", err)
	}

	data, err := os.ReadFile(path + ".vectors") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to read vectors file: %w", err)
	}
	var snap indexSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode vectors: %w", err)
	}
	if g.Len() != len(snap.Vectors) {
		return fmt.Errorf("enrollment index is inconsistent: %d nodes, %d vectors", g.Len(), len(snap.Vectors))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = g
	h.vectors = snap.Vectors
	h.active = snap.Active
	if h.active == nil {
		h.active = make(map[string]bool)
	}
	return nil
}
