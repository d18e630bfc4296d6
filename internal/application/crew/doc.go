// Package crew implements the orchestration engine: it turns a submitted
// task graph into an executed run, sequentially or through a delegating
// manager over a bounded worker pool, with resilient executor invocation,
// a global rate limit and cooperative cancellation.
package crew
