// Package jsonldb provides the file primitives behind the step store.
//
// # Overview
//
// [Log] is an append-only JSONL (JSON Lines) file where every line holds one
// compact JSON object. [Counter] is a tiny JSON document holding a single
// integer that mirrors how many rows were appended since the last reset.
//
// # Concurrency
//
// Neither type locks. Both are meant to be owned by a single higher level
// store that holds one mutex across a log write and the matching counter
// update, so the pair is observed as one unit by other goroutines.
//
// # File Format
//
// The log has no header. Each non-empty line is an independent JSON object.
// Lines that fail to decode are skipped on read, which tolerates a torn
// write left behind by a crash.
package jsonldb
