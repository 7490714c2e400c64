// Package store provides the SQLite-backed persistence gateway of the bug
// warehouse.
//
// The store holds:
//   - Dimensions: one table per dimension, surrogate key 0 is "Unknown"
//   - Calendar: dim_calendar keyed by YYYYMMDD date_id, 0 is 1900-01-01
//   - Facts: fact_bug, SCD2 versioned, at most one current row per bug
//   - Journal: etl_runs and etl_snapshot_loads
//
// # Unit of Work
//
// Begin returns a Tx implementing engine.Tx. Every dimension delta, calendar
// merge and fact close+insert pair runs in exactly one Tx. Sentinel rows are
// written with ON CONFLICT DO NOTHING; delta inserts use plain INSERT so a
// registry that diverged from storage fails loudly instead of skipping rows.
//
// # Stage and Merge
//
// Set-based steps stage their input in a TEMP table, run one INSERT ... SELECT
// or UPDATE against it, and drop the staging table on every path.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce journal integrity
//
// Read models (DimensionCounts, FactCounts, BugHistory, ListRuns, Dump)
// serve the CLI and golden-file tests.
package store
