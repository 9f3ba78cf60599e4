package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/meterpoll/internal/catalog"
	"github.com/nerrad567/meterpoll/internal/fieldbus"
	"github.com/nerrad567/meterpoll/internal/utility"
)

// ErrUnknownUtility is returned when refreshing an id that is not in the
// loaded utility table.
var ErrUnknownUtility = errors.New("poller: unknown utility")

// Changes is the difference between two loads of the configuration tables.
// Registers are identified by their start address.
type Changes struct {
	At               time.Time `json:"at"`
	Utilities        int       `json:"utilities"`
	Registers        int       `json:"registers"`
	UtilitiesAdded   []string  `json:"utilities_added"`
	UtilitiesRemoved []string  `json:"utilities_removed"`
	RegistersAdded   []uint16  `json:"registers_added"`
	RegistersRemoved []uint16  `json:"registers_removed"`
}

// Empty reports whether nothing was added or removed.
func (c Changes) Empty() bool {
	return len(c.UtilitiesAdded) == 0 && len(c.UtilitiesRemoved) == 0 &&
		len(c.RegistersAdded) == 0 && len(c.RegistersRemoved) == 0
}

// Summary renders the changes as one line for operators.
func (c Changes) Summary() string {
	var parts []string
	if n := len(c.UtilitiesAdded); n > 0 {
		parts = append(parts, fmt.Sprintf("added %d utilities: %s", n, strings.Join(c.UtilitiesAdded, ", ")))
	}
	if n := len(c.UtilitiesRemoved); n > 0 {
		parts = append(parts, fmt.Sprintf("removed %d utilities: %s", n, strings.Join(c.UtilitiesRemoved, ", ")))
	}
	if n := len(c.RegistersAdded); n > 0 {
		parts = append(parts, fmt.Sprintf("added %d registers", n))
	}
	if n := len(c.RegistersRemoved); n > 0 {
		parts = append(parts, fmt.Sprintf("removed %d registers", n))
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, "; ")
}

// diff returns the keys only in after and the keys only in before, each
// in the order of its own slice.
func diff[K comparable](before, after []K) (added, removed []K) {
	in := func(keys []K) map[K]bool {
		m := make(map[K]bool, len(keys))
		for _, k := range keys {
			m[k] = true
		}
		return m
	}
	had, has := in(before), in(after)
	for _, k := range after {
		if !had[k] {
			added = append(added, k)
		}
	}
	for _, k := range before {
		if !has[k] {
			removed = append(removed, k)
		}
	}
	return added, removed
}

func utilityIDs(us []utility.Utility) []string {
	out := make([]string, len(us))
	for i, u := range us {
		out[i] = u.ID
	}
	return out
}

func registerAddresses(rs []catalog.Register) []uint16 {
	out := make([]uint16, len(rs))
	for i, r := range rs {
		out[i] = r.Address
	}
	return out
}

type reloadReply struct {
	changes Changes
	err     error
}

type refreshRequest struct {
	id   string
	done chan refreshReply
}

type refreshReply struct {
	result fieldbus.Result
	err    error
}

// Reload makes the loop re-read the configuration at once, abandoning the
// running cycle, and returns what changed.
func (s *Scheduler) Reload(ctx context.Context) (Changes, error) {
	select {
	case r := <-s.enqueueReload():
		return r.changes, r.err
	case <-ctx.Done():
		return Changes{}, ctx.Err()
	}
}

func (s *Scheduler) enqueueReload() <-chan reloadReply {
	done := make(chan reloadReply, 1)
	s.mu.Lock()
	s.st.reloadWaiters = append(s.st.reloadWaiters, done)
	s.st.reload = true
	s.mu.Unlock()
	s.signal()
	return done
}

// RefreshUtility polls one utility out of turn and returns its result. The
// poll runs on the loop goroutine at its next checkpoint, so it never
// overlaps another device session. Filters and pause do not apply.
func (s *Scheduler) RefreshUtility(ctx context.Context, id string) (fieldbus.Result, error) {
	done, err := s.enqueueRefresh(id)
	if err != nil {
		return fieldbus.Result{}, err
	}
	select {
	case r := <-done:
		return r.result, r.err
	case <-ctx.Done():
		return fieldbus.Result{}, ctx.Err()
	}
}

func (s *Scheduler) enqueueRefresh(id string) (<-chan refreshReply, error) {
	s.mu.Lock()
	if _, ok := s.st.utility(id); !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownUtility, id)
	}
	done := make(chan refreshReply, 1)
	s.st.refresh = append(s.st.refresh, refreshRequest{id: id, done: done})
	s.mu.Unlock()

	s.logger.Info("utility refresh requested", "utility", id)
	s.signal()
	return done, nil
}

// serveRefreshes polls every queued utility in request order.
func (s *Scheduler) serveRefreshes(ctx context.Context) {
	s.mu.Lock()
	queue := s.st.refresh
	if len(queue) == 0 {
		s.mu.Unlock()
		return
	}
	s.st.refresh = nil
	registers := append([]catalog.Register(nil), s.st.registers...)
	opts := optionsFrom(s.st.settings)
	s.mu.Unlock()

	for _, req := range queue {
		s.mu.Lock()
		u, ok := s.st.utility(req.id)
		s.mu.Unlock()

		switch {
		case !ok:
			req.done <- refreshReply{err: fmt.Errorf("%w: %s", ErrUnknownUtility, req.id)}
		case ctx.Err() != nil:
			req.done <- refreshReply{err: ctx.Err()}
		default:
			req.done <- refreshReply{result: s.pollOne(ctx, u, registers, opts)}
		}
	}
}
