// Package metrics provides the engine's in-process counter and latency
// histogram set. Counters are lock-free and safe for concurrent use.
package metrics
