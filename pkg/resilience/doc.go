// Package resilience wraps external calls with retry, exponential backoff
// with jitter, and per-key circuit breaking. The orchestrator routes every
// executor and tool invocation through an Invoker; it never retries at the
// task level itself.
package resilience
