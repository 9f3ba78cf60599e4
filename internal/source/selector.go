package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Logger defines the logging interface used by the selector.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Selector tracks the available sources and which one is active.
//
// Sources are discovered in a directory: every sub-directory holding
// utilities.csv and registers.csv, every directory (the scanned one
// included) holding a Utenze.xlsx/registri.xlsx pair, and every other .xlsx
// workbook. Fixed sources (the SQLite database) are always listed first.
//
// Thread Safety: all methods are safe for concurrent use.
type Selector struct {
	dir    string
	fixed  []Source
	logger Logger

	mu      sync.RWMutex
	sources []Source
	active  string
}

// NewSelector scans dir and selects defaultID, or the first source found
// when defaultID is empty. An unknown defaultID is reported but leaves the
// first source selected.
func NewSelector(dir, defaultID string, fixed ...Source) (*Selector, error) {
	s := &Selector{
		dir:    dir,
		fixed:  fixed,
		logger: noopLogger{},
	}
	s.Refresh()

	s.mu.Lock()
	if len(s.sources) > 0 {
		s.active = s.sources[0].ID()
	}
	s.mu.Unlock()

	if defaultID != "" {
		if err := s.Select(defaultID); err != nil {
			return s, err
		}
	}
	return s, nil
}

// SetLogger sets the logger.
func (s *Selector) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Refresh rescans the sources directory.
func (s *Selector) Refresh() {
	found := append([]Source(nil), s.fixed...)
	found = append(found, s.scan()...)

	s.mu.Lock()
	s.sources = found
	s.mu.Unlock()
}

func (s *Selector) scan() []Source {
	if s.dir == "" {
		return nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("cannot scan sources directory", "dir", s.dir, "error", err)
		return nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []Source

	// The directory itself may hold the Utenze.xlsx/registri.xlsx pair.
	paired := make(map[string]bool)
	if pair, ok := FindWorkbookPair(s.dir); ok {
		out = append(out, pair)
		u, r := pair.Files()
		paired[u], paired[r] = true, true
	}

	for _, e := range entries {
		path := filepath.Join(s.dir, e.Name())
		if e.IsDir() {
			if IsCSVDir(path) {
				out = append(out, NewCSVDir(path))
			} else if pair, ok := FindWorkbookPair(path); ok {
				out = append(out, pair)
			}
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".xlsx") && !strings.HasPrefix(e.Name(), "~$") && !paired[path] {
			out = append(out, NewWorkbook(path))
		}
	}
	return out
}

// List rescans the directory and describes every source.
func (s *Selector) List() []Descriptor {
	s.Refresh()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Descriptor, len(s.sources))
	for i, src := range s.sources {
		out[i] = describe(src, src.ID() == s.active)
	}
	return out
}

// Select makes id the active source.
func (s *Selector) Select(id string) error {
	if _, ok := s.lookup(id); !ok {
		s.Refresh()
		if _, ok := s.lookup(id); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSource, id)
		}
	}

	s.mu.Lock()
	prev := s.active
	s.active = id
	s.mu.Unlock()

	if prev != id {
		s.logger.Info("configuration source selected", "source", id, "previous", prev)
	}
	return nil
}

// Active returns the selected source.
func (s *Selector) Active() (Source, error) {
	s.mu.RLock()
	id := s.active
	s.mu.RUnlock()

	if id == "" {
		return nil, ErrNoSource
	}
	src, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return src, nil
}

// ActiveID returns the identifier of the selected source, or "".
func (s *Selector) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Selector) lookup(id string) (Source, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, src := range s.sources {
		if src.ID() == id {
			return src, true
		}
	}
	return nil, false
}
