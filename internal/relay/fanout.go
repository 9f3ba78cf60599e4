package relay

import (
	"github.com/nerrad567/meterpoll/internal/poller"
)

// Logger defines the logging interface used by relays.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Fanout delivers every event to each publisher in order. A publisher that
// panics is logged and skipped; the rest still receive the event.
type Fanout struct {
	publishers []poller.Publisher
	logger     Logger
}

// NewFanout combines publishers. Nil entries are ignored.
func NewFanout(logger Logger, publishers ...poller.Publisher) *Fanout {
	if logger == nil {
		logger = noopLogger{}
	}
	f := &Fanout{logger: logger}
	for _, p := range publishers {
		if p != nil {
			f.publishers = append(f.publishers, p)
		}
	}
	return f
}

// Len returns the number of publishers.
func (f *Fanout) Len() int {
	return len(f.publishers)
}

// Publish implements poller.Publisher.
func (f *Fanout) Publish(ev poller.Event) {
	for _, p := range f.publishers {
		f.deliver(p, ev)
	}
}

func (f *Fanout) deliver(p poller.Publisher, ev poller.Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("publisher panicked", "event", string(ev.Kind), "panic", r)
		}
	}()
	p.Publish(ev)
}

var (
	_ poller.Publisher = (*Fanout)(nil)
	_ poller.Publisher = (*MQTT)(nil)
	_ poller.Publisher = (*Influx)(nil)
)
