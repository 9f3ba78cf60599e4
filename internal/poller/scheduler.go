package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/meterpoll/internal/catalog"
	"github.com/nerrad567/meterpoll/internal/fieldbus"
	"github.com/nerrad567/meterpoll/internal/history"
	"github.com/nerrad567/meterpoll/internal/infrastructure/config"
	"github.com/nerrad567/meterpoll/internal/source"
	"github.com/nerrad567/meterpoll/internal/utility"
)

// Wait durations for the states without polling work.
const (
	IdleDelay   = time.Second
	PausedDelay = 500 * time.Millisecond
)

// Reader polls a single utility.
type Reader interface {
	Poll(ctx context.Context, u utility.Utility, registers []catalog.Register, opts fieldbus.Options) fieldbus.Result
}

// Sources provides the active configuration source and source selection.
type Sources interface {
	Active() (source.Source, error)
	ActiveID() string
	List() []source.Descriptor
	Select(id string) error
}

// Publisher receives every state change. Implementations must not block
// for long; the polling loop waits for them.
type Publisher interface {
	Publish(Event)
}

// SettingsLoader returns the runtime settings for the next cycle.
type SettingsLoader func() (config.Settings, error)

// Logger defines the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// Deps holds the scheduler's collaborators.
type Deps struct {
	Reader    Reader
	Sources   Sources
	Registry  *utility.Registry
	History   *history.Store
	Settings  SettingsLoader
	Publisher Publisher
	Logger    Logger
	Clock     Clock
}

// Scheduler is the polling state machine.
type Scheduler struct {
	reader    Reader
	sources   Sources
	registry  *utility.Registry
	history   *history.Store
	settings  SettingsLoader
	publisher Publisher
	logger    Logger
	clock     Clock

	startedAt time.Time
	wake      chan struct{}

	mu sync.Mutex
	st state

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Scheduler. Reader, Sources, Registry and History are required.
func New(deps Deps) (*Scheduler, error) {
	if deps.Reader == nil || deps.Sources == nil || deps.Registry == nil || deps.History == nil {
		return nil, errors.New("poller: reader, sources, registry and history are required")
	}

	s := &Scheduler{
		reader:    deps.Reader,
		sources:   deps.Sources,
		registry:  deps.Registry,
		history:   deps.History,
		settings:  deps.Settings,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		clock:     deps.Clock,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if s.settings == nil {
		s.settings = func() (config.Settings, error) { return config.DefaultSettings(), nil }
	}
	if s.publisher == nil {
		s.publisher = noopPublisher{}
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.clock == nil {
		s.clock = realClock{}
	}

	s.startedAt = s.clock.Now()
	s.st = state{
		settings: config.DefaultSettings(),
		latest:   make(map[string]fieldbus.Result),
		mode:     ModeReloading,
		filter:   utility.Filter{},
	}
	return s, nil
}

// Start runs the polling loop in a goroutine until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
	s.logger.Info("poller started")
}

// Stop cancels the loop and waits for the current device poll to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		<-s.done
		s.logger.Info("poller stopped")
	})
}

// Run executes iterations until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for ctx.Err() == nil {
		delay := s.step(ctx)
		s.sleep(ctx, delay)
	}
}

// step runs one iteration and returns how long to wait before the next.
func (s *Scheduler) step(ctx context.Context) time.Duration {
	s.mu.Lock()
	s.st.reload = false
	s.st.mode = ModeReloading
	waiters := s.st.reloadWaiters
	s.st.reloadWaiters = nil
	s.mu.Unlock()

	// This iteration serves every request made so far.
	s.drainWake()

	changes, err := s.reload(ctx)
	for _, w := range waiters {
		w <- reloadReply{changes: changes, err: err}
	}
	s.serveRefreshes(ctx)

	s.mu.Lock()
	visible := append([]utility.Utility(nil), s.st.visible...)
	registers := append([]catalog.Register(nil), s.st.registers...)
	settings := s.st.settings
	filter := s.st.filter
	paused := s.st.paused
	cycle := s.st.cycles + 1

	switch {
	case len(visible) == 0 || len(registers) == 0:
		s.st.mode = ModeIdle
		s.mu.Unlock()
		return IdleDelay
	case paused:
		s.st.mode = ModePaused
		s.mu.Unlock()
		s.publish(EventPaused, nil)
		return PausedDelay
	}

	full := cycle%settings.FullScanInterval == 0
	if full {
		s.st.mode = ModeFullScan
	} else {
		s.st.mode = ModeIncremental
	}
	s.mu.Unlock()

	abandoned := s.runCycle(ctx, visible, registers, settings, filter, full)

	s.mu.Lock()
	s.st.cycles++
	s.mu.Unlock()
	s.publish(EventCycle, nil)

	if abandoned {
		s.logger.Debug("cycle abandoned", "cycle", cycle)
		return 0
	}
	s.settleWake(paused)
	return settings.PollInterval()
}

// runCycle polls the utilities in order. It returns true when the cycle
// was cut short by a reload request or cancellation.
func (s *Scheduler) runCycle(ctx context.Context, visible []utility.Utility, registers []catalog.Register,
	settings config.Settings, filter utility.Filter, full bool) bool {
	limits := LimitsFrom(settings)
	opts := optionsFrom(settings)

	for _, u := range visible {
		if ctx.Err() != nil || s.reloadPending() {
			return true
		}
		s.serveRefreshes(ctx)

		if !full {
			last, known := s.lastValues(u.ID)
			if !ShouldPoll(last, known, registers, filter, limits) {
				continue
			}
		}

		s.pollOne(ctx, u, registers, opts)
	}
	return false
}

func optionsFrom(settings config.Settings) fieldbus.Options {
	return fieldbus.Options{Timeout: settings.Timeout(), Decimals: settings.Decimals}
}

// pollOne polls u and records the outcome as the latest result.
func (s *Scheduler) pollOne(ctx context.Context, u utility.Utility, registers []catalog.Register, opts fieldbus.Options) fieldbus.Result {
	s.mu.Lock()
	reading := s.st.latest[u.ID].Clone()
	reading.UtilityID = u.ID
	reading.Status = fieldbus.StatusReading
	reading.Error = ""
	s.st.latest[u.ID] = reading
	s.mu.Unlock()
	s.publish(EventReading, &reading)

	res := s.safePoll(ctx, u, registers, opts)

	s.mu.Lock()
	s.st.latest[u.ID] = res
	s.mu.Unlock()

	if res.Status == fieldbus.StatusOK {
		s.history.Append(u.ID, history.Point{Timestamp: res.Timestamp, Values: res.Clone().Values})
	} else {
		s.logger.Debug("poll failed", "utility", u.ID, "error", res.Error)
	}
	s.publish(EventResult, &res)
	return res
}

// safePoll shields the loop from a Reader that panics.
func (s *Scheduler) safePoll(ctx context.Context, u utility.Utility, registers []catalog.Register, opts fieldbus.Options) (res fieldbus.Result) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("reader panicked", "utility", u.ID, "panic", p)
			res = fieldbus.Result{
				UtilityID: u.ID,
				Status:    fieldbus.StatusError,
				Values:    map[uint16]float64{},
				Error:     fmt.Sprintf("internal error: %v", p),
				Timestamp: s.clock.Now(),
			}
		}
	}()
	return s.reader.Poll(ctx, u, registers, opts)
}

// reload refreshes settings, registers and utilities and returns what
// changed. A table that cannot be loaded keeps its previous value and its
// error is returned.
func (s *Scheduler) reload(ctx context.Context) (Changes, error) {
	settings, err := s.settings()
	switch {
	case err == nil:
	case errors.Is(err, config.ErrInvalidSetting):
		s.logger.Warn("invalid runtime settings, using defaults for bad keys", "error", err)
	default:
		s.logger.Warn("runtime settings unavailable, keeping previous", "error", err)
		s.mu.Lock()
		settings = s.st.settings
		s.mu.Unlock()
	}

	if settings.FullScanInterval < 1 {
		settings.FullScanInterval = config.DefaultSettings().FullScanInterval
	}

	var (
		registers    []catalog.Register
		utilities    []utility.Utility
		regRejected  []source.Rejected
		utilRejected []source.Rejected
		regsOK       bool
		utilsOK      bool
	)

	var loadErrs []error
	src, err := s.sources.Active()
	if err != nil {
		s.logger.Warn("no configuration source, keeping previous tables", "error", err)
		loadErrs = append(loadErrs, err)
	} else {
		if rows, err := src.RegisterRows(ctx); err != nil {
			s.logger.Warn("loading registers failed, keeping previous", "source", src.ID(), "error", err)
			loadErrs = append(loadErrs, err)
		} else {
			registers, regRejected = catalog.Load(rows)
			regsOK = true
		}
		if rows, err := src.UtilityRows(ctx); err != nil {
			s.logger.Warn("loading utilities failed, keeping previous", "source", src.ID(), "error", err)
			loadErrs = append(loadErrs, err)
		} else {
			utilities, utilRejected = s.registry.Load(rows)
			utilsOK = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changes := Changes{At: s.clock.Now()}
	if regsOK {
		changes.RegistersAdded, changes.RegistersRemoved = diff(registerAddresses(s.st.registers), registerAddresses(registers))
	}
	if utilsOK {
		changes.UtilitiesAdded, changes.UtilitiesRemoved = diff(utilityIDs(s.st.utilities), utilityIDs(utilities))
	}

	s.st.settings = settings
	if regsOK {
		s.st.registers = registers
		s.st.rejected.Registers = regRejected
	}
	if utilsOK {
		s.st.utilities = utilities
		s.st.rejected.Utilities = utilRejected
		s.st.facets = utility.DeriveFacets(utilities)

		present := make(map[string]bool, len(utilities))
		for _, u := range utilities {
			present[u.ID] = true
		}
		for id := range s.st.latest {
			if !present[id] {
				delete(s.st.latest, id)
			}
		}
	}
	s.st.refilter()

	changes.Utilities = len(s.st.utilities)
	changes.Registers = len(s.st.registers)
	if s.st.loaded && !changes.Empty() {
		s.logger.Info("configuration changed", "changes", changes.Summary())
		c := changes
		s.st.changes = &c
	}
	s.st.loaded = s.st.loaded || (regsOK && utilsOK)

	return changes, errors.Join(loadErrs...)
}

func (s *Scheduler) lastValues(id string) (map[uint16]float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.latest[id]
	if !ok {
		return nil, false
	}
	return r.Values, true
}

func (s *Scheduler) reloadPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.reload
}

// RequestReload asks the loop to abandon the current cycle and start over
// without waiting.
func (s *Scheduler) RequestReload() {
	s.mu.Lock()
	s.st.reload = true
	s.mu.Unlock()
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) drainWake() {
	select {
	case <-s.wake:
	default:
	}
}

// settleWake drops wake signals already served by the finished cycle. A
// request still waiting keeps the signal so the next sleep ends early.
func (s *Scheduler) settleWake(paused bool) {
	s.drainWake()
	s.mu.Lock()
	pending := s.st.wakePending(paused)
	s.mu.Unlock()
	if pending {
		s.signal()
	}
}

// sleep waits for d, a wake signal or cancellation, whichever comes first.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-s.wake:
	case <-s.clock.After(d):
	}
}

func (s *Scheduler) publish(kind EventKind, res *fieldbus.Result) {
	ev := Event{Kind: kind, Snapshot: s.Snapshot()}
	if res != nil {
		r := res.Clone()
		ev.Result = &r
	}
	s.publisher.Publish(ev)
}

// Snapshot returns a copy of the current state.
func (s *Scheduler) Snapshot() Snapshot {
	activeSource := s.sources.ActiveID()

	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[string]fieldbus.Result, len(s.st.latest))
	for id, r := range s.st.latest {
		latest[id] = r.Clone()
	}
	visible := make([]string, len(s.st.visible))
	for i, u := range s.st.visible {
		visible[i] = u.ID
	}

	return Snapshot{
		Utilities: append([]utility.Utility(nil), s.st.utilities...),
		Visible:   visible,
		Registers: append([]catalog.Register(nil), s.st.registers...),
		Latest:    latest,
		Settings:  s.st.settings,
		StartedAt: s.startedAt,
		Paused:    s.st.paused,
		Facets:    s.st.facets,
		Filter:    s.st.filter,
		Cycle:     s.st.cycles,
		Mode:      s.st.mode,
		Source:    activeSource,
		Rejected:  s.st.rejected,
		Changes:   s.st.changes,
	}
}
