// Package engine implements the incremental dimensional loader.
//
// The engine turns cleaned bug-tracker snapshots into warehouse rows with
// Slowly-Changing-Dimension Type 2 semantics: dimensions grow additively with
// stable surrogate keys, and the fact table keeps every historical version of
// every bug by closing superseded rows instead of overwriting them.
//
// ARCHITECTURE:
//
// Registry:
// In-memory natural key -> surrogate key mapping per dimension plus the set
// of known calendar keys. Restored once per run from the Gateway, then the
// single source of truth for key assignment. Deltas are planned against it,
// persisted, and only then applied, so an aborted write never leaves the
// registry ahead of storage.
//
// Loaders:
//   - DimensionLoader: simple (1-tuple) and composite (n-tuple) dimensions
//   - CalendarLoader: YYYYMMDD keys for every referenced date, including the
//     day before the snapshot (the snapshot_end of superseded rows)
//   - FactLoader: close current rows, insert new versions, one transaction
//
// Snapshot Processing Flow:
//  1. Warm start: read every dimension and the calendar
//  2. Order sources by snapshot date
//  3. Per snapshot: dimension deltas, calendar, then facts
//  4. Record the outcome in the run journal when the gateway keeps one
//
// CRITICAL PATTERNS:
//
// Sentinel keys:
// Surrogate key 0 is "Unknown" in every dimension; DateID 0 is 1900-01-01.
// Unresolved attributes map to 0, never to a missing reference.
//
// Deterministic key assignment:
// New natural keys receive max+1, max+2, ... in sorted natural-key order, so
// two runs over the same input produce identical tables.
//
// Single writer:
// No concurrency. Snapshots are processed one at a time in ascending date
// order; one engine per warehouse.
package engine
