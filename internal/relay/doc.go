// Package relay forwards poller events to external systems.
//
// MQTT mirrors each final meter result and cycle summaries, and accepts
// commands; Influx exports successful readings; Fanout combines several
// publishers behind the single poller.Publisher the scheduler accepts.
// A relay never blocks or fails the polling loop: errors are logged.
package relay
