// Package history keeps the most recent successful readings per utility
// for dashboard charts. Nothing is persisted.
package history

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of points kept per utility when none is configured.
const DefaultCapacity = 60

// Point is one successful reading.
type Point struct {
	Timestamp time.Time          `json:"timestamp"`
	Values    map[uint16]float64 `json:"values"`
}

// ring is a fixed-capacity FIFO. head is the index of the oldest point.
type ring struct {
	points []Point
	head   int
	size   int
}

func (r *ring) push(p Point) {
	if r.size < len(r.points) {
		r.points[(r.head+r.size)%len(r.points)] = p
		r.size++
		return
	}
	r.points[r.head] = p
	r.head = (r.head + 1) % len(r.points)
}

func (r *ring) snapshot() []Point {
	out := make([]Point, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.points[(r.head+i)%len(r.points)]
	}
	return out
}

// Store holds a bounded series per utility id.
//
// Thread Safety: all methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	capacity int
	series   map[string]*ring
}

// NewStore creates a Store keeping capacity points per utility.
// A capacity below 1 uses DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		series:   make(map[string]*ring),
	}
}

// Capacity returns the per-utility limit.
func (s *Store) Capacity() int {
	return s.capacity
}

// Append adds p to the series of id, evicting the oldest point when full.
// The series is created on first use.
func (s *Store) Append(id string, p Point) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.series[id]
	if !ok {
		r = &ring{points: make([]Point, s.capacity)}
		s.series[id] = r
	}
	r.push(p)
}

// Get returns the series of id oldest first, or false when id has never
// been appended to.
func (s *Store) Get(id string) ([]Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.series[id]
	if !ok {
		return nil, false
	}
	return r.snapshot(), true
}

// Len returns the number of points held for id.
func (s *Store) Len(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.series[id]; ok {
		return r.size
	}
	return 0
}
