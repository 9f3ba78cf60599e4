package fieldbus

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/meterpoll/internal/catalog"
	"github.com/nerrad567/meterpoll/internal/utility"
)

// Status is the outcome of polling one utility.
type Status string

// Poll statuses. Reading is published while a poll is in progress.
const (
	StatusOK      Status = "OK"
	StatusError   Status = "ERROR"
	StatusReading Status = "READING"
)

// Result is the outcome of one poll. Values are keyed by register start
// address and already scaled.
type Result struct {
	UtilityID string             `json:"utility_id"`
	Status    Status             `json:"status"`
	Values    map[uint16]float64 `json:"values"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Clone returns a copy that does not share the Values map.
func (r Result) Clone() Result {
	vals := make(map[uint16]float64, len(r.Values))
	for k, v := range r.Values {
		vals[k] = v
	}
	r.Values = vals
	return r
}

// Options control a single poll.
type Options struct {
	Timeout time.Duration

	// Decimals rounds scaled values; negative disables rounding.
	// A register's own rounding takes precedence.
	Decimals int
}

// Logger defines the logging interface used by the reader.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Reader polls one utility at a time.
//
// Each Poll opens a single session, reads the registers sequentially with
// one request each and always closes the session. A register that fails
// to read or decode is left out of the result; the poll only fails when
// nothing could be read.
type Reader struct {
	dialer    Dialer
	simulator Dialer
	logger    Logger
	now       func() time.Time
}

// NewReader creates a Reader using dialer for real meters.
func NewReader(dialer Dialer) *Reader {
	return &Reader{
		dialer: dialer,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger.
func (r *Reader) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetSimulator routes utilities in the simulated group to d.
func (r *Reader) SetSimulator(d Dialer) {
	r.simulator = d
}

// Poll reads every register of u and returns the outcome.
// It never panics; a failure anywhere becomes an ERROR result.
func (r *Reader) Poll(ctx context.Context, u utility.Utility, registers []catalog.Register, opts Options) (res Result) {
	res = Result{
		UtilityID: u.ID,
		Values:    make(map[uint16]float64, len(registers)),
		Timestamp: r.now(),
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("poll panicked", "utility", u.ID, "panic", p)
			res.Status = StatusError
			res.Error = fmt.Sprintf("internal error: %v", p)
			res.Values = map[uint16]float64{}
		}
	}()

	dialer := r.dialer
	if r.simulator != nil && u.Simulated() {
		dialer = r.simulator
	}

	session, err := dialer.Dial(ctx, u.Address, opts.Timeout)
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		return res
	}
	defer func() {
		if err := session.Close(); err != nil {
			r.logger.Debug("closing session", "utility", u.ID, "error", err)
		}
	}()

	for _, reg := range registers {
		if ctx.Err() != nil {
			break
		}
		v, err := r.readRegister(ctx, session, u.NodeID, reg)
		if err != nil {
			r.logger.Debug("register read failed", "utility", u.ID, "address", reg.Address, "error", err)
			continue
		}
		res.Values[reg.Address] = Scale(reg, v, opts.Decimals)
	}

	if len(res.Values) == 0 {
		res.Status = StatusError
		res.Error = ErrNoData.Error()
		return res
	}

	res.Status = StatusOK
	return res
}

func (r *Reader) readRegister(ctx context.Context, s Session, node uint8, reg catalog.Register) (float64, error) {
	words, err := s.ReadRegisters(ctx, node, reg.Address, uint16(reg.WordCount))
	if err != nil {
		return 0, err
	}
	v, err := Decode(reg.DataType, words)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNotFinite
	}
	return v, nil
}
