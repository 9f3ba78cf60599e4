package poller

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/meterpoll/internal/fieldbus"
	"github.com/nerrad567/meterpoll/internal/source"
	"github.com/nerrad567/meterpoll/internal/utility"
)

func (r *fakeReader) polled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestScheduler_RefreshServedAtNextCheckpoint(t *testing.T) {
	f := newFixture(t, 3)
	f.s.step(context.Background())

	var reply <-chan refreshReply
	f.reader.onPoll = func(n int) {
		if n == 4 {
			var err error
			if reply, err = f.s.enqueueRefresh("cab1_node3"); err != nil {
				t.Errorf("enqueueRefresh() error = %v", err)
			}
		}
	}
	if delay := f.s.step(context.Background()); delay != time.Second {
		t.Errorf("step() delay = %v, want 1s", delay)
	}

	want := []string{
		"cab1_node1", "cab1_node2", "cab1_node3",
		"cab1_node1", "cab1_node3", "cab1_node2", "cab1_node3",
	}
	if got := f.reader.polled(); !reflect.DeepEqual(got, want) {
		t.Errorf("poll order = %v, want %v", got, want)
	}

	select {
	case r := <-reply:
		if r.err != nil || r.result.UtilityID != "cab1_node3" || r.result.Status != fieldbus.StatusOK {
			t.Errorf("refresh reply = %+v", r)
		}
	default:
		t.Fatal("refresh was not answered within the cycle")
	}
	if !sleepBlocks(f.s) {
		t.Error("a refresh served mid-cycle should not cut the inter-cycle delay")
	}
}

func TestScheduler_RefreshIgnoresFilterAndPause(t *testing.T) {
	f := newFixture(t, 2)
	f.s.step(context.Background())

	group := []string{"nobody"}
	if _, err := f.s.PatchFilter(utility.Patch{Group1: &group}); err != nil {
		t.Fatalf("PatchFilter() error = %v", err)
	}
	f.s.TogglePause()

	reply, err := f.s.enqueueRefresh("cab1_node2")
	if err != nil {
		t.Fatalf("enqueueRefresh() error = %v", err)
	}
	if delay := f.s.step(context.Background()); delay != IdleDelay {
		t.Errorf("step() delay = %v, want idle", delay)
	}

	r := <-reply
	if r.err != nil || r.result.Status != fieldbus.StatusOK {
		t.Fatalf("refresh reply = %+v", r)
	}
	if got := f.s.Snapshot().Latest["cab1_node2"].Values[389]; got != 230 {
		t.Errorf("latest value = %v, want 230", got)
	}
	if f.history.Len("cab1_node2") != 2 {
		t.Errorf("history length = %d, want 2", f.history.Len("cab1_node2"))
	}
}

func TestScheduler_RefreshUnknownUtility(t *testing.T) {
	f := newFixture(t, 1)

	if _, err := f.s.RefreshUtility(context.Background(), "cab1_node1"); !errors.Is(err, ErrUnknownUtility) {
		t.Errorf("RefreshUtility() before first load error = %v, want ErrUnknownUtility", err)
	}

	f.s.step(context.Background())
	reply, err := f.s.enqueueRefresh("cab1_node1")
	if err != nil {
		t.Fatalf("enqueueRefresh() error = %v", err)
	}

	// Removed before the loop got to it.
	f.src.utilities = nil
	f.s.step(context.Background())
	if r := <-reply; !errors.Is(r.err, ErrUnknownUtility) {
		t.Errorf("refresh of removed utility error = %v, want ErrUnknownUtility", r.err)
	}
}

func TestScheduler_ReloadReportsChanges(t *testing.T) {
	f := newFixture(t, 2)
	f.s.step(context.Background())
	if f.s.Snapshot().Changes != nil {
		t.Error("first load should not be reported as a change")
	}

	f.src.utilities = []source.Row{
		{"Cabinet": "1", "Nodo": "2"},
		{"Cabinet": "2", "Nodo": "5"},
	}
	f.src.registers = append(append([]source.Row(nil), floatRegisterRows...),
		source.Row{"Registro": "100", "Lenght": "short", "Lettura": "Frequency"})

	reply := f.s.enqueueReload()
	if !f.s.reloadPending() {
		t.Error("enqueueReload() should abandon the running cycle")
	}
	f.s.step(context.Background())

	r := <-reply
	if r.err != nil {
		t.Fatalf("reload error = %v", r.err)
	}
	want := Changes{
		At:               time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Utilities:        2,
		Registers:        2,
		UtilitiesAdded:   []string{"cab2_node5"},
		UtilitiesRemoved: []string{"cab1_node1"},
		RegistersAdded:   []uint16{100},
	}
	if !reflect.DeepEqual(r.changes, want) {
		t.Errorf("changes = %+v, want %+v", r.changes, want)
	}
	if got := r.changes.Summary(); got != "added 1 utilities: cab2_node5; removed 1 utilities: cab1_node1; added 1 registers" {
		t.Errorf("Summary() = %q", got)
	}

	f.s.step(context.Background())
	snap := f.s.Snapshot()
	if snap.Changes == nil || !reflect.DeepEqual(snap.Changes.UtilitiesAdded, []string{"cab2_node5"}) {
		t.Errorf("snapshot changes = %+v, want the last non-empty diff", snap.Changes)
	}
}

func TestScheduler_ReloadReportsSourceError(t *testing.T) {
	f := newFixture(t, 1)
	f.s.step(context.Background())

	f.src.setErr(errors.New("file locked"))
	reply := f.s.enqueueReload()
	f.s.step(context.Background())

	r := <-reply
	if r.err == nil {
		t.Fatal("reload error = nil, want the source error")
	}
	if !r.changes.Empty() || r.changes.Summary() != "no changes" {
		t.Errorf("changes = %+v, want none", r.changes)
	}
}

func TestScheduler_RefreshAndReloadWhileRunning(t *testing.T) {
	f := newFixture(t, 1)
	f.s.clock = realClock{}
	f.settings.PollIntervalMS = 60_000

	polled := make(chan struct{}, 1)
	f.reader.onPoll = func(int) {
		select {
		case polled <- struct{}{}:
		default:
		}
	}
	f.s.Start(context.Background())
	defer f.s.Stop()

	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not poll after Start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := f.s.RefreshUtility(ctx, "cab1_node1")
	if err != nil {
		t.Fatalf("RefreshUtility() error = %v", err)
	}
	if res.Status != fieldbus.StatusOK {
		t.Errorf("RefreshUtility() status = %s, want OK", res.Status)
	}

	changes, err := f.s.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if changes.Utilities != 1 || !changes.Empty() {
		t.Errorf("Reload() = %+v, want one utility and no changes", changes)
	}
}
