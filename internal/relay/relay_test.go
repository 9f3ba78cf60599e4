package relay

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/meterpoll/internal/catalog"
	"github.com/nerrad567/meterpoll/internal/fieldbus"
	"github.com/nerrad567/meterpoll/internal/infrastructure/influxdb"
	"github.com/nerrad567/meterpoll/internal/infrastructure/mqtt"
	"github.com/nerrad567/meterpoll/internal/poller"
	"github.com/nerrad567/meterpoll/internal/utility"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeBroker struct {
	mu       sync.Mutex
	messages []published
	handlers map[string]mqtt.MessageHandler
	fail     error
}

func newBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) PublishJSON(topic string, v any, retained bool) error {
	if b.fail != nil {
		return b.fail
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.messages = append(b.messages, published{topic, payload, retained})
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	b.handlers[topic] = h
	return nil
}

func (b *fakeBroker) Topics() mqtt.Topics { return mqtt.Topics{Prefix: "plant"} }
func (b *fakeBroker) QoS() byte           { return 1 }

type fakeDispatcher struct {
	action  string
	payload json.RawMessage
	err     error
}

func (d *fakeDispatcher) Dispatch(action string, payload json.RawMessage) (any, error) {
	d.action, d.payload = action, payload
	if d.err != nil {
		return nil, d.err
	}
	return map[string]bool{"paused": true}, nil
}

func testSnapshot() poller.Snapshot {
	return poller.Snapshot{
		Utilities: []utility.Utility{
			{ID: "cab1_node1", Name: "Chiller", Cabinet: "1", Group1: "HVAC"},
			{ID: "cab1_node2", Name: "Lights", Cabinet: "1"},
		},
		Visible: []string{"cab1_node1", "cab1_node2"},
		Registers: []catalog.Register{
			{Address: 389, Category: "voltage_l1_n"},
			{Address: 391, Category: "current_l1"},
			{Address: 393, Category: "current_l1"},
		},
		Latest: map[string]fieldbus.Result{
			"cab1_node1": {Status: fieldbus.StatusOK},
			"cab1_node2": {Status: fieldbus.StatusError},
		},
		Cycle:  7,
		Mode:   poller.ModeIncremental,
		Source: "csv:plant",
	}
}

func okEvent() poller.Event {
	return poller.Event{
		Kind: poller.EventResult,
		Result: &fieldbus.Result{
			UtilityID: "cab1_node1",
			Status:    fieldbus.StatusOK,
			Values:    map[uint16]float64{389: 231.4, 391: 12, 393: 13},
			Timestamp: time.Unix(1700000000, 0),
		},
		Snapshot: testSnapshot(),
	}
}

func TestNamedValues(t *testing.T) {
	got := namedValues(testSnapshot().Registers, map[uint16]float64{389: 230, 391: 1, 393: 2, 999: 5})

	want := map[string]float64{"voltage_l1_n": 230, "current_l1": 1, "current_l1_393": 2}
	if len(got) != len(want) {
		t.Fatalf("namedValues() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("namedValues()[%q] = %v, want %v", k, got[k], v)
		}
	}
}

func TestMQTT_PublishState(t *testing.T) {
	b := newBroker()
	m := NewMQTT(b, nil)

	m.Publish(okEvent())
	m.Publish(poller.Event{Kind: poller.EventReading, Result: okEvent().Result, Snapshot: testSnapshot()})

	if len(b.messages) != 1 {
		t.Fatalf("published %d messages, want 1 (reading events stay local)", len(b.messages))
	}
	msg := b.messages[0]
	if msg.topic != "plant/state/cab1_node1" || !msg.retained {
		t.Errorf("topic = %q retained = %v", msg.topic, msg.retained)
	}

	var state StateMessage
	if err := json.Unmarshal(msg.payload, &state); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if state.Name != "Chiller" || state.Status != fieldbus.StatusOK || state.Values["voltage_l1_n"] != 231.4 {
		t.Errorf("state = %+v", state)
	}
}

func TestMQTT_PublishCycle(t *testing.T) {
	b := newBroker()
	m := NewMQTT(b, nil)
	m.now = func() time.Time { return time.Unix(1700000000, 0) }

	m.Publish(poller.Event{Kind: poller.EventCycle, Snapshot: testSnapshot()})

	if len(b.messages) != 1 || b.messages[0].topic != "plant/cycle" || b.messages[0].retained {
		t.Fatalf("messages = %+v", b.messages)
	}
	var c CycleMessage
	if err := json.Unmarshal(b.messages[0].payload, &c); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if c.Cycle != 7 || c.Visible != 2 || c.OK != 1 || c.Errors != 1 || c.Source != "csv:plant" {
		t.Errorf("cycle = %+v", c)
	}
}

func TestMQTT_PublishErrorIsSwallowed(t *testing.T) {
	b := newBroker()
	b.fail = mqtt.ErrNotConnected
	m := NewMQTT(b, nil)

	m.Publish(okEvent())
}

func TestMQTT_ServeCommands(t *testing.T) {
	b := newBroker()
	d := &fakeDispatcher{}
	m := NewMQTT(b, nil)

	if err := m.ServeCommands(d); err != nil {
		t.Fatalf("ServeCommands() error = %v", err)
	}
	h, ok := b.handlers["plant/command/+"]
	if !ok {
		t.Fatalf("subscriptions = %v", b.handlers)
	}

	if err := h("plant/command/update_filters", []byte(`{"request_id":"r1","payload":{"min_current":5}}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if d.action != "update_filters" || string(d.payload) != `{"min_current":5}` {
		t.Errorf("dispatched %q %s", d.action, d.payload)
	}

	last := b.messages[len(b.messages)-1]
	if last.topic != "plant/response/r1" {
		t.Errorf("reply topic = %q", last.topic)
	}
	var resp ResponseMessage
	if err := json.Unmarshal(last.payload, &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !resp.OK || resp.Action != "update_filters" {
		t.Errorf("response = %+v", resp)
	}
}

func TestMQTT_CommandFailures(t *testing.T) {
	b := newBroker()
	d := &fakeDispatcher{err: errors.New("command: unknown action")}
	m := NewMQTT(b, nil)
	if err := m.ServeCommands(d); err != nil {
		t.Fatalf("ServeCommands() error = %v", err)
	}
	h := b.handlers["plant/command/+"]

	if err := h("plant/command/reboot", nil); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	var resp ResponseMessage
	last := b.messages[len(b.messages)-1]
	if err := json.Unmarshal(last.payload, &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if resp.OK || resp.Error == "" || resp.RequestID == "" {
		t.Errorf("response = %+v, want failure with generated id", resp)
	}
	if !strings.HasSuffix(last.topic, "/"+resp.RequestID) {
		t.Errorf("reply topic %q does not carry request id %q", last.topic, resp.RequestID)
	}

	if err := h("plant/command/toggle_pause", []byte("{")); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if err := json.Unmarshal(b.messages[len(b.messages)-1].payload, &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if resp.OK || !strings.Contains(resp.Error, "invalid command message") {
		t.Errorf("response = %+v", resp)
	}

	if err := h("plant/state/cab1_node1", nil); err == nil {
		t.Error("handler accepted a non-command topic")
	}
}

type gatedDispatcher struct {
	release chan struct{}
}

func (d *gatedDispatcher) Dispatch(action string, _ json.RawMessage) (any, error) {
	<-d.release
	return map[string]string{"summary": "no changes"}, nil
}

func (b *fakeBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

func TestMQTT_LoopCommandsDoNotBlockHandler(t *testing.T) {
	b := newBroker()
	d := &gatedDispatcher{release: make(chan struct{})}
	m := NewMQTT(b, nil)
	if err := m.ServeCommands(d); err != nil {
		t.Fatalf("ServeCommands() error = %v", err)
	}
	h := b.handlers["plant/command/+"]

	returned := make(chan error, 1)
	go func() { returned <- h("plant/command/reload", []byte(`{"request_id":"r9"}`)) }()
	select {
	case err := <-returned:
		if err != nil {
			t.Fatalf("handler error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("handler blocked while the reload was pending")
	}
	if n := b.count(); n != 0 {
		t.Fatalf("published %d messages before the reload finished", n)
	}

	close(d.release)
	deadline := time.Now().Add(time.Second)
	for b.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no reply after the reload finished")
		}
		time.Sleep(5 * time.Millisecond)
	}
	b.mu.Lock()
	last := b.messages[0]
	b.mu.Unlock()
	if last.topic != "plant/response/r9" {
		t.Errorf("reply topic = %q", last.topic)
	}
}

type fakeWriter struct{ readings []influxdb.Reading }

func (w *fakeWriter) WriteReading(r influxdb.Reading) { w.readings = append(w.readings, r) }

func TestInflux_WritesOnlyOKResults(t *testing.T) {
	w := &fakeWriter{}
	i := NewInflux(w)

	i.Publish(okEvent())

	failed := okEvent()
	failed.Result.Status = fieldbus.StatusError
	i.Publish(failed)
	i.Publish(poller.Event{Kind: poller.EventCycle, Snapshot: testSnapshot()})

	if len(w.readings) != 1 {
		t.Fatalf("wrote %d readings, want 1", len(w.readings))
	}
	r := w.readings[0]
	if r.UtilityID != "cab1_node1" || r.Cabinet != "1" || r.Group1 != "HVAC" {
		t.Errorf("reading tags = %+v", r)
	}
	if r.Fields["current_l1"] != 12 || !r.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("reading = %+v", r)
	}
}

type countingPublisher struct{ n int }

func (c *countingPublisher) Publish(poller.Event) { c.n++ }

type panickingPublisher struct{}

func (panickingPublisher) Publish(poller.Event) { panic("broken relay") }

func TestFanout(t *testing.T) {
	a, b := &countingPublisher{}, &countingPublisher{}
	f := NewFanout(nil, a, nil, panickingPublisher{}, b)

	if f.Len() != 3 {
		t.Errorf("Len() = %d, want 3", f.Len())
	}

	f.Publish(poller.Event{Kind: poller.EventCycle})
	f.Publish(poller.Event{Kind: poller.EventCycle})

	if a.n != 2 || b.n != 2 {
		t.Errorf("deliveries = %d, %d; want 2, 2", a.n, b.n)
	}
}
