// Package command decodes client commands and applies them to the poller.
//
// The WebSocket hub and the MQTT relay receive the same actions as an
// action name plus a JSON payload; Dispatcher turns them into calls on a
// Commander and returns a JSON-ready reply.
package command
