// Package harness runs load scenarios against a fresh in-memory warehouse.
//
// A scenario describes one or more loader runs, each over a list of CSV
// snapshots, and what the warehouse must look like afterwards. Every run
// uses a new engine over the same store, so later runs exercise the warm
// start path.
//
// # Scenario Format
//
//	name: scd2_status_change
//	description: "A status change closes the previous version"
//	runs:
//	  - snapshots:
//	      - date: "2025-09-30"
//	        csv: |
//	          Id,Project,Status
//	          42,Scribus,new
//	      - date: "2025-10-24"
//	        csv_file: snapshots/scribus-2025-10-24.csv
//	        fail:
//	          dimensions: [user]
//	    expect:
//	      - snapshot: "2025-10-24"
//	        status: partial
//	        closed: 1
//	        inserted: 1
//	assertions:
//	  - type: row_count
//	    table: fact_bug
//	    where: { is_current: 1 }
//	    count: 1
//	  - type: final_state
//	    table: fact_bug
//	    where: { bug_id: 42, is_current: 1 }
//	    expect: { snapshot_start: 20251024 }
//	  - type: history
//	    bug: 42
//	    versions:
//	      - { start: "2025-09-30", end: "2025-10-23", expect: { status: new } }
//	      - { start: "2025-10-24", expect: { status: confirmed } }
//
// # Assertion Types
//
//   - final_state: exactly one row of table matches where; expect is a subset
//     of its columns
//   - row_count: the number of rows of table matching where
//   - history: the SCD2 versions of one bug, oldest first
//
// # Fault Injection
//
// A snapshot's fail block makes the gateway fail the named dimension deltas,
// the calendar merge, the fact insert, or the file read while that snapshot
// is processed. This drives the partial and failed paths end to end.
//
// # Deterministic Output
//
// Run ids are run-1, run-2, ... and the journal clock is a
// testutil.DeterministicClock, so two executions of one scenario produce
// byte-identical traces and dumps for golden comparison. A scenario file
// x.yaml is compared with golden/x.golden next to it.
package harness
