// Package events groups the event bus adapters: Redis Streams for
// multi-process deployments and an in-memory bus for tests and
// single-process setups.
package events
