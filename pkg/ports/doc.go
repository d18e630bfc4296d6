// Package ports defines the boundary interfaces between the orchestration
// engine and its external collaborators: executors, tools, memory stores,
// storage, events and metrics. Adapters under pkg/adapters provide the
// concrete implementations.
package ports
