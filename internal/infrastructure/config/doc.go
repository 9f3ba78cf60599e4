// Package config handles loading and validating meterpoll configuration.
//
// Two kinds of configuration live here:
//   - Config: the static YAML file loaded once at startup, with
//     METERPOLL_* environment overrides and validation of required fields.
//   - Settings: a flat key/value file re-read by the poller at the start of
//     every cycle. Missing keys fall back to DefaultSettings.
//
// Sensitive values (MQTT password, InfluxDB token) should be set via
// environment variables rather than committed to the YAML file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	settings, err := config.LoadSettings(cfg.Poller.SettingsFile)
package config
