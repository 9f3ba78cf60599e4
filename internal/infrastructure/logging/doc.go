// Package logging provides structured logging for meterpoll.
//
// It wraps log/slog with JSON (default) or text output, level filtering
// and the service/version fields on every entry.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("poller").Info("cycle complete", "cycle", n)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
