package relay

import (
	"github.com/nerrad567/meterpoll/internal/fieldbus"
	"github.com/nerrad567/meterpoll/internal/infrastructure/influxdb"
	"github.com/nerrad567/meterpoll/internal/poller"
)

// ReadingWriter stores meter readings. *influxdb.Client implements it.
type ReadingWriter interface {
	WriteReading(r influxdb.Reading)
}

// Influx exports every OK result as a meter_reading point.
type Influx struct {
	w ReadingWriter
}

// NewInflux creates an Influx relay.
func NewInflux(w ReadingWriter) *Influx {
	return &Influx{w: w}
}

// Publish implements poller.Publisher.
func (i *Influx) Publish(ev poller.Event) {
	if ev.Kind != poller.EventResult || ev.Result == nil || ev.Result.Status != fieldbus.StatusOK {
		return
	}
	res := ev.Result
	reading := influxdb.Reading{
		UtilityID: res.UtilityID,
		Fields:    namedValues(ev.Snapshot.Registers, res.Values),
		Timestamp: res.Timestamp,
	}
	if u, ok := findUtility(ev.Snapshot, res.UtilityID); ok {
		reading.Cabinet = u.Cabinet
		reading.Group1 = u.Group1
		reading.Group2 = u.Group2
	}
	i.w.WriteReading(reading)
}

var _ ReadingWriter = (*influxdb.Client)(nil)
