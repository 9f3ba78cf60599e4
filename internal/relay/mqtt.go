package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/meterpoll/internal/command"
	"github.com/nerrad567/meterpoll/internal/fieldbus"
	"github.com/nerrad567/meterpoll/internal/infrastructure/mqtt"
	"github.com/nerrad567/meterpoll/internal/poller"
)

// Broker is the subset of the MQTT client the relay needs.
// *mqtt.Client implements it.
type Broker interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Topics() mqtt.Topics
	QoS() byte
}

// Dispatcher applies a command. *command.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(action string, payload json.RawMessage) (any, error)
}

// StateMessage is published retained on {prefix}/state/{utility_id}.
type StateMessage struct {
	UtilityID string             `json:"utility_id"`
	Name      string             `json:"name,omitempty"`
	Status    fieldbus.Status    `json:"status"`
	Values    map[string]float64 `json:"values"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// CycleMessage is published on {prefix}/cycle.
type CycleMessage struct {
	Cycle     int         `json:"cycle"`
	Mode      poller.Mode `json:"mode"`
	Paused    bool        `json:"paused"`
	Source    string      `json:"source"`
	Visible   int         `json:"visible"`
	OK        int         `json:"ok"`
	Errors    int         `json:"errors"`
	Timestamp time.Time   `json:"timestamp"`
}

// CommandMessage is the body expected on {prefix}/command/{action}.
type CommandMessage struct {
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ResponseMessage is published on {prefix}/response/{request_id}.
type ResponseMessage struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	OK        bool   `json:"ok"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// MQTT mirrors poller events onto the broker and serves commands.
type MQTT struct {
	broker Broker
	logger Logger
	now    func() time.Time
}

// NewMQTT creates an MQTT relay.
func NewMQTT(broker Broker, logger Logger) *MQTT {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTT{broker: broker, logger: logger, now: time.Now}
}

// Publish implements poller.Publisher. Only final results and cycle
// boundaries reach the broker; READING transitions stay local.
func (m *MQTT) Publish(ev poller.Event) {
	switch ev.Kind {
	case poller.EventResult:
		if ev.Result != nil {
			m.publishState(ev)
		}
	case poller.EventCycle, poller.EventPaused:
		m.publishCycle(ev.Snapshot)
	}
}

func (m *MQTT) publishState(ev poller.Event) {
	res := ev.Result
	msg := StateMessage{
		UtilityID: res.UtilityID,
		Status:    res.Status,
		Values:    namedValues(ev.Snapshot.Registers, res.Values),
		Error:     res.Error,
		Timestamp: res.Timestamp,
	}
	if u, ok := findUtility(ev.Snapshot, res.UtilityID); ok {
		msg.Name = u.Name
	}
	m.send(m.broker.Topics().State(res.UtilityID), msg, true)
}

func (m *MQTT) publishCycle(snap poller.Snapshot) {
	msg := CycleMessage{
		Cycle:     snap.Cycle,
		Mode:      snap.Mode,
		Paused:    snap.Paused,
		Source:    snap.Source,
		Visible:   len(snap.Visible),
		Timestamp: m.now().UTC(),
	}
	for _, id := range snap.Visible {
		switch snap.Latest[id].Status {
		case fieldbus.StatusOK:
			msg.OK++
		case fieldbus.StatusError:
			msg.Errors++
		}
	}
	m.send(m.broker.Topics().Cycle(), msg, false)
}

func (m *MQTT) send(topic string, v any, retained bool) {
	if err := m.broker.PublishJSON(topic, v, retained); err != nil {
		m.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

// ServeCommands subscribes to {prefix}/command/+ and applies every command
// through d. Replies go to {prefix}/response/{request_id}; a request
// without an id gets a generated one. Refresh and reload wait on the poll
// loop, so they are answered from their own goroutine and never hold up
// the subscription callback.
func (m *MQTT) ServeCommands(d Dispatcher) error {
	topics := m.broker.Topics()
	if err := m.broker.Subscribe(topics.AllCommands(), m.broker.QoS(), func(topic string, payload []byte) error {
		return m.handleCommand(d, topic, payload)
	}); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	return nil
}

func (m *MQTT) handleCommand(d Dispatcher, topic string, payload []byte) error {
	action, ok := m.broker.Topics().CommandAction(topic)
	if !ok {
		return fmt.Errorf("unexpected command topic %q", topic)
	}

	var msg CommandMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &msg); err != nil {
			return m.reply(ResponseMessage{
				RequestID: uuid.NewString(),
				Action:    action,
				Error:     "invalid command message: " + err.Error(),
			})
		}
	}
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}

	if waitsOnLoop(action) {
		go func() {
			if err := m.dispatch(d, action, msg); err != nil {
				m.logger.Warn("mqtt command reply failed", "action", action, "request_id", msg.RequestID, "error", err)
			}
		}()
		return nil
	}
	return m.dispatch(d, action, msg)
}

func waitsOnLoop(action string) bool {
	return action == command.ActionRefresh || action == command.ActionReload
}

func (m *MQTT) dispatch(d Dispatcher, action string, msg CommandMessage) error {
	resp := ResponseMessage{RequestID: msg.RequestID, Action: action}
	result, err := d.Dispatch(action, msg.Payload)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.OK = true
		resp.Result = result
	}
	m.logger.Debug("mqtt command handled", "action", action, "request_id", msg.RequestID, "ok", resp.OK)
	return m.reply(resp)
}

func (m *MQTT) reply(resp ResponseMessage) error {
	return m.broker.PublishJSON(m.broker.Topics().Response(resp.RequestID), resp, false)
}

var _ Broker = (*mqtt.Client)(nil)
