package influxdb

import "errors"

// Sentinel errors. Write failures are not among them: writes are
// asynchronous and reported through SetOnError.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
)
