// Package api implements the HTTP REST API and WebSocket server for meterpoll.
//
// This package provides:
//   - REST endpoints for the live state, filters, pause, history and sources
//   - WebSocket hub streaming every poller event and accepting commands
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The dashboard reads the scheduler snapshot and sends commands. The hub is
// the poller's publisher: every READING, result and cycle event reaches
// clients subscribed to the "state" channel. Commands sent over the socket
// use the same actions as the MQTT relay (see package command).
//
// Authentication is out of scope; deploy behind a trusted network or proxy.
package api
