package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementReading is the measurement meter readings are written to.
const MeasurementReading = "meter_reading"

// Reading is one successful poll of a meter.
type Reading struct {
	UtilityID string
	Cabinet   string
	Group1    string
	Group2    string

	// Fields maps register categories (e.g. "voltage_l1_n") to scaled values.
	Fields    map[string]float64
	Timestamp time.Time
}

// Tags returns the indexed tags of the reading. Empty values are left out.
func (r Reading) Tags() map[string]string {
	tags := map[string]string{"utility_id": r.UtilityID}
	if r.Cabinet != "" {
		tags["cabinet"] = r.Cabinet
	}
	if r.Group1 != "" {
		tags["group1"] = r.Group1
	}
	if r.Group2 != "" {
		tags["group2"] = r.Group2
	}
	return tags
}

// NewReadingPoint converts a reading into a line protocol point.
// It returns nil when the reading has no fields.
func NewReadingPoint(r Reading) *write.Point {
	if len(r.Fields) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(MeasurementReading, r.Tags(), fields, ts)
}

// WriteReading queues a meter reading. The write is non-blocking; data is
// batched and sent asynchronously.
func (c *Client) WriteReading(r Reading) {
	if !c.IsConnected() {
		return
	}
	if p := NewReadingPoint(r); p != nil {
		c.writeAPI.WritePoint(p)
	}
}
