package poller

import (
	"github.com/nerrad567/meterpoll/internal/history"
	"github.com/nerrad567/meterpoll/internal/source"
	"github.com/nerrad567/meterpoll/internal/utility"
)

// TogglePause flips the pause flag and returns the new value.
// An in-progress cycle is not interrupted.
func (s *Scheduler) TogglePause() bool {
	s.mu.Lock()
	s.st.paused = !s.st.paused
	paused := s.st.paused
	s.mu.Unlock()

	s.logger.Info("pause toggled", "paused", paused)
	s.signal()
	s.publish(EventCommand, nil)
	return paused
}

// Paused reports the pause flag.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.paused
}

// SetFilter replaces the whole filter.
func (s *Scheduler) SetFilter(f utility.Filter) (utility.Filter, error) {
	return s.updateFilter(func(utility.Filter) (utility.Filter, error) {
		return f, f.Validate()
	})
}

// PatchFilter updates only the fields present in p.
func (s *Scheduler) PatchFilter(p utility.Patch) (utility.Filter, error) {
	return s.updateFilter(func(current utility.Filter) (utility.Filter, error) {
		return current.Apply(p)
	})
}

// updateFilter derives and stores the new filter under one lock, so
// concurrent patches of different fields all land. The utility list is
// re-filtered at once and the running cycle is abandoned so the new
// selection is polled straight away.
func (s *Scheduler) updateFilter(next func(utility.Filter) (utility.Filter, error)) (utility.Filter, error) {
	s.mu.Lock()
	f, err := next(s.st.filter)
	if err != nil {
		s.mu.Unlock()
		return utility.Filter{}, err
	}
	s.st.filter = f
	s.st.refilter()
	s.st.reload = true
	visible := len(s.st.visible)
	s.mu.Unlock()

	s.signal()
	s.logger.Info("filter updated", "visible", visible, "min_current", int(f.MinCurrent), "only_errors", f.OnlyErrors)
	s.publish(EventCommand, nil)
	return f, nil
}

// Filter returns the current filter.
func (s *Scheduler) Filter() utility.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.filter
}

// History returns the buffered readings of a utility.
func (s *Scheduler) History(id string) ([]history.Point, bool) {
	return s.history.Get(id)
}

// ListSources describes the available configuration sources.
func (s *Scheduler) ListSources() []source.Descriptor {
	return s.sources.List()
}

// SelectSource switches the configuration source; the next iteration
// loads from it.
func (s *Scheduler) SelectSource(id string) error {
	if err := s.sources.Select(id); err != nil {
		return err
	}
	s.RequestReload()
	s.publish(EventCommand, nil)
	return nil
}
