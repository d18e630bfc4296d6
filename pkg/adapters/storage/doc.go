// Package storage groups the run report persistence adapters: a Redis
// implementation for deployments and an in-memory one for tests and
// single-process setups.
package storage
