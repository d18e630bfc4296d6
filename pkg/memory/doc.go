// Package memory provides the interchangeable MemoryStore variants used by
// executors: an unbounded buffer, a bounded window, a summarizing store that
// compresses history through an external executor, and a retrieval store
// backed by a similarity index.
package memory
