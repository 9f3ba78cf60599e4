package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/meterpoll/internal/catalog"
	"github.com/nerrad567/meterpoll/internal/fieldbus"
	"github.com/nerrad567/meterpoll/internal/history"
	"github.com/nerrad567/meterpoll/internal/infrastructure/config"
	"github.com/nerrad567/meterpoll/internal/source"
	"github.com/nerrad567/meterpoll/internal/utility"
)

// fakeSource serves in-memory tables; set err to simulate a broken source.
type fakeSource struct {
	mu        sync.Mutex
	utilities []source.Row
	registers []source.Row
	err       error
}

func (f *fakeSource) ID() string        { return "csv:test" }
func (f *fakeSource) Kind() source.Kind { return source.KindCSV }
func (f *fakeSource) Location() string  { return "memory" }
func (f *fakeSource) setErr(err error)  { f.mu.Lock(); f.err = err; f.mu.Unlock() }
func (f *fakeSource) rows(r []source.Row) ([]source.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return r, nil
}

func (f *fakeSource) UtilityRows(context.Context) ([]source.Row, error) { return f.rows(f.utilities) }
func (f *fakeSource) RegisterRows(context.Context) ([]source.Row, error) {
	return f.rows(f.registers)
}

type fakeSources struct {
	src      *fakeSource
	selected string
}

func (f *fakeSources) Active() (source.Source, error) { return f.src, nil }
func (f *fakeSources) ActiveID() string               { return f.src.ID() }
func (f *fakeSources) List() []source.Descriptor {
	return []source.Descriptor{{ID: f.src.ID(), Kind: source.KindCSV, Active: true}}
}
func (f *fakeSources) Select(id string) error {
	if id != f.src.ID() {
		return source.ErrUnknownSource
	}
	f.selected = id
	return nil
}

// fakeReader returns a fixed result per utility and counts polls.
type fakeReader struct {
	mu     sync.Mutex
	values map[uint16]float64
	calls  []string
	onPoll func(n int)
	panics bool
}

func (r *fakeReader) Poll(_ context.Context, u utility.Utility, _ []catalog.Register, _ fieldbus.Options) fieldbus.Result {
	r.mu.Lock()
	r.calls = append(r.calls, u.ID)
	n := len(r.calls)
	hook := r.onPoll
	r.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if r.panics {
		panic("boom")
	}
	vals := make(map[uint16]float64, len(r.values))
	for k, v := range r.values {
		vals[k] = v
	}
	return fieldbus.Result{UtilityID: u.ID, Status: fieldbus.StatusOK, Values: vals, Timestamp: time.Unix(1, 0)}
}

func (r *fakeReader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time                       { return c.now }
func (c fixedClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

func utilityRows(n int) []source.Row {
	rows := make([]source.Row, n)
	for i := range rows {
		rows[i] = source.Row{"Cabinet": "1", "Nodo": string(rune('1' + i))}
	}
	return rows
}

var floatRegisterRows = []source.Row{{"Registro": "390", "Lenght": "float", "Lettura": "Voltage L1-N", "Convert to": "V"}}

type fixture struct {
	s        *Scheduler
	src      *fakeSource
	reader   *fakeReader
	pub      *recorder
	history  *history.Store
	settings config.Settings
}

func newFixture(t *testing.T, utilities int) *fixture {
	t.Helper()
	f := &fixture{
		src:      &fakeSource{utilities: utilityRows(utilities), registers: floatRegisterRows},
		reader:   &fakeReader{values: map[uint16]float64{389: 230}},
		pub:      &recorder{},
		history:  history.NewStore(60),
		settings: config.DefaultSettings(),
	}
	s, err := New(Deps{
		Reader:    f.reader,
		Sources:   &fakeSources{src: f.src},
		Registry:  utility.NewRegistry(config.DefaultCabinets(), 502),
		History:   f.history,
		Settings:  func() (config.Settings, error) { return f.settings, nil },
		Publisher: f.pub,
		Clock:     fixedClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.s = s
	return f
}

// oneShotDialer serves the same words for every register.
type oneShotDialer struct{ words []uint16 }

func (d oneShotDialer) Dial(context.Context, utility.Address, time.Duration) (fieldbus.Session, error) {
	return oneShotSession(d), nil
}

type oneShotSession oneShotDialer

func (s oneShotSession) ReadRegisters(context.Context, uint8, uint16, uint16) ([]uint16, error) {
	return s.words, nil
}
func (s oneShotSession) Close() error { return nil }

func TestScheduler_EndToEnd(t *testing.T) {
	f := newFixture(t, 1)
	f.s.reader = fieldbus.NewReader(oneShotDialer{words: []uint16{0x0000, 0x4348}})

	delay := f.s.step(context.Background())
	if delay != time.Second {
		t.Errorf("step() delay = %v, want poll interval 1s", delay)
	}

	snap := f.s.Snapshot()
	res, ok := snap.Latest["cab1_node1"]
	if !ok {
		t.Fatalf("no result for cab1_node1; latest = %v", snap.Latest)
	}
	if res.Status != fieldbus.StatusOK || res.Values[389] != 200.0 {
		t.Errorf("result = %+v, want OK with 389 = 200.0", res)
	}
	if snap.Registers[0].Address != 389 {
		t.Errorf("register start = %d, want 389", snap.Registers[0].Address)
	}
	if f.history.Len("cab1_node1") != 1 {
		t.Errorf("history length = %d, want 1", f.history.Len("cab1_node1"))
	}
	if snap.Cycle != 1 {
		t.Errorf("Cycle = %d, want 1", snap.Cycle)
	}

	want := []EventKind{EventReading, EventResult, EventCycle}
	got := f.pub.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if r := f.pub.events[0].Result; r == nil || r.Status != fieldbus.StatusReading {
		t.Errorf("first event result = %+v, want READING", r)
	}
}

func TestScheduler_FullScanOverridesFilters(t *testing.T) {
	f := newFixture(t, 1)
	f.settings.FullScanInterval = 20
	if _, err := f.s.SetFilter(utility.Filter{OnlyErrors: true}); err != nil {
		t.Fatalf("SetFilter() error = %v", err)
	}

	for cycle := 1; cycle <= 40; cycle++ {
		f.s.step(context.Background())
		want := 1 + cycle/20
		if got := f.reader.count(); got != want {
			t.Fatalf("after cycle %d polls = %d, want %d", cycle, got, want)
		}
	}
}

func TestScheduler_ReloadAbandonsCycle(t *testing.T) {
	f := newFixture(t, 5)
	f.reader.onPoll = func(n int) {
		if n == 2 {
			threshold := utility.ThresholdOff
			if _, err := f.s.PatchFilter(utility.Patch{MinCurrent: &threshold}); err != nil {
				t.Errorf("PatchFilter() error = %v", err)
			}
		}
	}

	delay := f.s.step(context.Background())
	if delay != 0 {
		t.Errorf("step() delay = %v, want 0 after abandonment", delay)
	}
	if got := f.reader.count(); got != 2 {
		t.Errorf("polls = %d, want 2", got)
	}
	if f.s.Snapshot().Cycle != 1 {
		t.Error("abandoned cycle should still advance the counter")
	}

	f.reader.onPoll = nil
	f.s.step(context.Background())
	if got := f.reader.count(); got != 2+5 {
		t.Errorf("polls after next cycle = %d, want 7", got)
	}
}

func TestScheduler_Idle(t *testing.T) {
	f := newFixture(t, 0)

	if delay := f.s.step(context.Background()); delay != IdleDelay {
		t.Errorf("step() delay = %v, want %v", delay, IdleDelay)
	}
	if len(f.pub.kinds()) != 0 {
		t.Errorf("idle published %v, want nothing", f.pub.kinds())
	}
	if snap := f.s.Snapshot(); snap.Mode != ModeIdle || snap.Cycle != 0 {
		t.Errorf("snapshot mode = %s cycle = %d, want idle 0", snap.Mode, snap.Cycle)
	}

	f2 := newFixture(t, 2)
	f2.src.registers = nil
	if delay := f2.s.step(context.Background()); delay != IdleDelay {
		t.Errorf("no registers: step() delay = %v, want %v", delay, IdleDelay)
	}
}

func TestScheduler_Paused(t *testing.T) {
	f := newFixture(t, 2)
	if !f.s.TogglePause() {
		t.Fatal("TogglePause() = false, want true")
	}

	if delay := f.s.step(context.Background()); delay != PausedDelay {
		t.Errorf("step() delay = %v, want %v", delay, PausedDelay)
	}
	if f.reader.count() != 0 {
		t.Error("paused scheduler polled a device")
	}
	kinds := f.pub.kinds()
	if kinds[len(kinds)-1] != EventPaused {
		t.Errorf("last event = %s, want paused", kinds[len(kinds)-1])
	}

	if f.s.TogglePause() {
		t.Fatal("second TogglePause() = true, want false")
	}
	f.s.step(context.Background())
	if f.reader.count() != 2 {
		t.Errorf("polls after resume = %d, want 2", f.reader.count())
	}
}

func TestScheduler_IncrementalSkipsBelowThreshold(t *testing.T) {
	f := newFixture(t, 1)
	f.src.registers = []source.Row{{"Registro": "10", "Lenght": "float", "Lettura": "Current L1", "Convert to": "A"}}
	f.reader.values = map[uint16]float64{9: 12}
	if _, err := f.s.SetFilter(utility.Filter{MinCurrent: utility.Threshold20}); err != nil {
		t.Fatalf("SetFilter() error = %v", err)
	}

	f.s.step(context.Background())
	f.s.step(context.Background())
	if got := f.reader.count(); got != 1 {
		t.Errorf("polls = %d, want 1 (second cycle skips 12 A under 20 A)", got)
	}

	f.reader.values = map[uint16]float64{9: 30}
	if _, err := f.s.SetFilter(utility.Filter{MinCurrent: utility.Threshold5}); err != nil {
		t.Fatalf("SetFilter() error = %v", err)
	}
	f.s.step(context.Background())
	if got := f.reader.count(); got != 2 {
		t.Errorf("polls = %d, want 2 after lowering threshold", got)
	}
}

func TestScheduler_KeepsPreviousTablesOnSourceError(t *testing.T) {
	f := newFixture(t, 3)
	f.s.step(context.Background())

	f.src.setErr(errors.New("file locked"))
	f.s.step(context.Background())

	snap := f.s.Snapshot()
	if len(snap.Utilities) != 3 || len(snap.Registers) != 1 {
		t.Errorf("snapshot has %d utilities, %d registers; want previous 3 and 1", len(snap.Utilities), len(snap.Registers))
	}
	if f.reader.count() != 6 {
		t.Errorf("polls = %d, want 6", f.reader.count())
	}
}

func TestScheduler_KeepsPreviousSettingsWhenUnavailable(t *testing.T) {
	f := newFixture(t, 1)
	f.settings.PollIntervalMS = 250
	f.s.step(context.Background())

	f.s.settings = func() (config.Settings, error) {
		return config.DefaultSettings(), config.ErrSettingsUnavailable
	}
	if delay := f.s.step(context.Background()); delay != 250*time.Millisecond {
		t.Errorf("step() delay = %v, want previous 250ms", delay)
	}
}

func TestScheduler_ReaderPanicBecomesError(t *testing.T) {
	f := newFixture(t, 2)
	f.reader.panics = true

	f.s.step(context.Background())

	snap := f.s.Snapshot()
	for _, id := range []string{"cab1_node1", "cab1_node2"} {
		if snap.Latest[id].Status != fieldbus.StatusError {
			t.Errorf("%s status = %s, want ERROR", id, snap.Latest[id].Status)
		}
	}
	if f.history.Len("cab1_node1") != 0 {
		t.Error("error results must not reach history")
	}
}

func TestScheduler_RemovedUtilitiesDropResults(t *testing.T) {
	f := newFixture(t, 2)
	f.s.step(context.Background())

	f.src.utilities = utilityRows(1)
	f.s.step(context.Background())

	if _, ok := f.s.Snapshot().Latest["cab1_node2"]; ok {
		t.Error("result of removed utility still published")
	}
}

func TestScheduler_CommandsAndSnapshot(t *testing.T) {
	f := newFixture(t, 2)
	f.src.utilities = []source.Row{
		{"Cabinet": "1", "Nodo": "1", "Gruppo": "A", "Tags": "hvac"},
		{"Cabinet": "1", "Nodo": "2", "Gruppo": "B", "Tags": "light"},
	}
	f.s.step(context.Background())

	if _, err := f.s.SetFilter(utility.Filter{MinCurrent: 7}); !errors.Is(err, utility.ErrInvalidThreshold) {
		t.Errorf("SetFilter(7) error = %v, want ErrInvalidThreshold", err)
	}

	group := []string{"B"}
	filter, err := f.s.PatchFilter(utility.Patch{Group1: &group})
	if err != nil {
		t.Fatalf("PatchFilter() error = %v", err)
	}
	if len(filter.Group1) != 1 {
		t.Errorf("PatchFilter() = %+v", filter)
	}

	snap := f.s.Snapshot()
	if len(snap.Visible) != 1 || snap.Visible[0] != "cab1_node2" {
		t.Errorf("Visible = %v, want [cab1_node2] immediately after filter change", snap.Visible)
	}
	if len(snap.Facets.Group1) != 2 || len(snap.Facets.Tags) != 1 {
		t.Errorf("Facets = %+v", snap.Facets)
	}
	if !snap.StartedAt.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("StartedAt = %v", snap.StartedAt)
	}
	if snap.Source != "csv:test" {
		t.Errorf("Source = %q", snap.Source)
	}

	points, ok := f.s.History("cab1_node1")
	if !ok || len(points) != 1 {
		t.Errorf("History() = %v, %v; want one point", points, ok)
	}
	if _, ok := f.s.History("nope"); ok {
		t.Error("History() of unknown id returned ok")
	}

	if err := f.s.SelectSource("csv:other"); !errors.Is(err, source.ErrUnknownSource) {
		t.Errorf("SelectSource() error = %v, want ErrUnknownSource", err)
	}
	if err := f.s.SelectSource("csv:test"); err != nil {
		t.Errorf("SelectSource() error = %v", err)
	}
	if !f.s.reloadPending() {
		t.Error("SelectSource() should request a reload")
	}
	if len(f.s.ListSources()) != 1 {
		t.Error("ListSources() should list the fake source")
	}
}

func TestScheduler_SleepInterruptedByReload(t *testing.T) {
	f := newFixture(t, 1)
	f.s.clock = realClock{}

	done := make(chan struct{})
	go func() {
		f.s.sleep(context.Background(), time.Hour)
		close(done)
	}()

	f.s.RequestReload()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sleep was not interrupted by RequestReload")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t, 1)
	f.s.clock = realClock{}
	f.settings.PollIntervalMS = 1

	polled := make(chan struct{}, 1)
	f.reader.onPoll = func(int) {
		select {
		case polled <- struct{}{}:
		default:
		}
	}

	f.s.Start(context.Background())
	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not poll after Start")
	}
	f.s.Stop()
	f.s.Stop()
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no dependencies should fail")
	}
}

// sleepBlocks reports whether sleep waits out its duration rather than
// returning on a wake signal. The fixture clock never fires, so a blocking
// sleep ends only through the context deadline.
func sleepBlocks(s *Scheduler) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.sleep(ctx, time.Second)
	return ctx.Err() != nil
}

func TestScheduler_AbandonedCycleSkipsOnlyOneDelay(t *testing.T) {
	f := newFixture(t, 3)
	f.reader.onPoll = func(n int) {
		if n == 1 {
			only := true
			if _, err := f.s.PatchFilter(utility.Patch{OnlyErrors: &only}); err != nil {
				t.Errorf("PatchFilter() error = %v", err)
			}
		}
	}

	if delay := f.s.step(context.Background()); delay != 0 {
		t.Fatalf("abandoned step() delay = %v, want 0", delay)
	}
	f.s.sleep(context.Background(), 0)

	f.reader.onPoll = nil
	delay := f.s.step(context.Background())
	if delay != time.Second {
		t.Fatalf("step() delay = %v, want 1s", delay)
	}
	if !sleepBlocks(f.s) {
		t.Error("inter-cycle sleep returned early after an ordinary cycle")
	}
}

func TestScheduler_PauseToggledDuringCycle(t *testing.T) {
	tests := []struct {
		name       string
		toggles    int
		wantBlocks bool
	}{
		{"paused mid-cycle wakes the loop", 1, false},
		{"toggled back mid-cycle keeps the delay", 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 2)
			f.reader.onPoll = func(n int) {
				if n == 1 {
					for i := 0; i < tt.toggles; i++ {
						f.s.TogglePause()
					}
				}
			}

			if delay := f.s.step(context.Background()); delay != time.Second {
				t.Fatalf("step() delay = %v, want 1s", delay)
			}
			if f.reader.count() != 2 {
				t.Errorf("polls = %d, want the cycle to finish with 2", f.reader.count())
			}
			if got := sleepBlocks(f.s); got != tt.wantBlocks {
				t.Errorf("sleep blocked = %v, want %v", got, tt.wantBlocks)
			}
		})
	}
}

func TestScheduler_ConcurrentPatchesKeepEveryField(t *testing.T) {
	f := newFixture(t, 2)

	for i := 0; i < 100; i++ {
		if _, err := f.s.SetFilter(utility.Filter{}); err != nil {
			t.Fatalf("SetFilter() error = %v", err)
		}

		group := []string{"HVAC"}
		only := true
		threshold := utility.Threshold40
		patches := []utility.Patch{{Group1: &group}, {OnlyErrors: &only}, {MinCurrent: &threshold}}

		var wg sync.WaitGroup
		for _, p := range patches {
			wg.Add(1)
			go func(p utility.Patch) {
				defer wg.Done()
				if _, err := f.s.PatchFilter(p); err != nil {
					t.Errorf("PatchFilter() error = %v", err)
				}
			}(p)
		}
		wg.Wait()

		got := f.s.Filter()
		if len(got.Group1) != 1 || !got.OnlyErrors || got.MinCurrent != utility.Threshold40 {
			t.Fatalf("round %d: Filter() = %+v, want every patched field", i, got)
		}
	}
}
