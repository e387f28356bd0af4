// Package engine interprets effect descriptors. The Engine walks a
// descriptor tree against an execution context and owns every concurrency
// combinator: sequencing, parallel fan-out, racing, retries, timeouts,
// compensation and circuit breaking.
//
// Execute is reentrant and safe for concurrent callers. External services
// (reasoning, language models, learning) are injected at construction; the
// engine never looks anything up by name.
package engine
