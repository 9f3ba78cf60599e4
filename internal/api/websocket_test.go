package api

import (
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/meterpoll/internal/fieldbus"
	"github.com/nerrad567/meterpoll/internal/infrastructure/config"
	"github.com/nerrad567/meterpoll/internal/infrastructure/logging"
	"github.com/nerrad567/meterpoll/internal/poller"
)

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func subscribe(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "sub-1", Payload: WSSubscribePayload{Channels: []string{ChannelState}}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeResponse || msg.ID != "sub-1" {
		t.Fatalf("subscribe reply = %+v", msg)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeEvent || msg.EventType != ChannelState {
		t.Fatalf("greeting = %+v, want state snapshot", msg)
	}
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocket_SnapshotOnSubscribe(t *testing.T) {
	srv, _, ts := testServer(t)
	ws := dialWS(t, ts.URL)
	waitForClients(t, srv.Hub(), 1)

	if err := ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "s", Payload: WSSubscribePayload{Channels: []string{ChannelState}}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	readMessage(t, ws)

	msg := readMessage(t, ws)
	raw, _ := json.Marshal(msg.Payload)
	var ev struct {
		Kind     string `json:"kind"`
		Snapshot struct {
			Cycle int `json:"cycle"`
		} `json:"snapshot"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if ev.Kind != string(EventSnapshot) || ev.Snapshot.Cycle != 3 {
		t.Errorf("greeting event = %+v", ev)
	}
}

func TestWebSocket_ReceivesPublishedEvents(t *testing.T) {
	srv, p, ts := testServer(t)
	ws := dialWS(t, ts.URL)
	waitForClients(t, srv.Hub(), 1)
	subscribe(t, ws)

	res := fieldbus.Result{UtilityID: "cab1_node1", Status: fieldbus.StatusReading}
	srv.Hub().Publish(poller.Event{Kind: poller.EventReading, Result: &res, Snapshot: p.Snapshot()})

	msg := readMessage(t, ws)
	raw, _ := json.Marshal(msg.Payload)
	if !strings.Contains(string(raw), `"kind":"reading"`) || !strings.Contains(string(raw), `"status":"READING"`) {
		t.Errorf("event payload = %s", raw)
	}
}

func TestWebSocket_Commands(t *testing.T) {
	srv, p, ts := testServer(t)
	ws := dialWS(t, ts.URL)
	waitForClients(t, srv.Hub(), 1)

	if err := ws.WriteJSON(WSMessage{Type: WSTypeCommand, ID: "c1", Payload: WSCommandPayload{Action: "toggle_pause"}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	msg := readMessage(t, ws)
	if msg.Type != WSTypeResponse || msg.ID != "c1" {
		t.Fatalf("reply = %+v", msg)
	}
	if !p.Snapshot().Paused {
		t.Error("toggle_pause command did not reach the poller")
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypeCommand, ID: "c2", Payload: WSCommandPayload{Action: "update_filters", Payload: json.RawMessage(`{"min_current":7}`)}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeError || msg.ID != "c2" {
		t.Errorf("invalid threshold reply = %+v, want error", msg)
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypeCommand, ID: "c3", Payload: map[string]string{}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeError {
		t.Errorf("missing action reply = %+v, want error", msg)
	}
}

func TestWebSocket_PingAndUnknownType(t *testing.T) {
	srv, _, ts := testServer(t)
	ws := dialWS(t, ts.URL)
	waitForClients(t, srv.Hub(), 1)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypePong {
		t.Errorf("ping reply = %+v", msg)
	}

	if err := ws.WriteJSON(WSMessage{Type: "reboot", ID: "x"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeError {
		t.Errorf("unknown type reply = %+v", msg)
	}
}

func TestHub_UnsubscribedClientsGetNothing(t *testing.T) {
	srv, p, ts := testServer(t)
	ws := dialWS(t, ts.URL)
	waitForClients(t, srv.Hub(), 1)

	srv.Hub().Publish(poller.Event{Kind: poller.EventCycle, Snapshot: p.Snapshot()})

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "after"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypePong {
		t.Errorf("first message = %+v, want pong (no event for unsubscribed client)", msg)
	}
}

func TestNew_ExternalHubGetsDispatcher(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)
	hub := NewHub(config.WebSocketConfig{}, log, nil)
	if hub.commands() != nil {
		t.Fatal("NewHub(nil) has a dispatcher")
	}

	srv, err := New(Deps{Logger: log, Poller: &fakePoller{}, Hub: hub})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if srv.Hub() != hub || hub.commands() == nil {
		t.Error("external hub not wired with a dispatcher")
	}
}
