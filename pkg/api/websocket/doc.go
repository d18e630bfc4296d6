// Package websocket streams run and task lifecycle events to clients
// watching a specific run.
package websocket
