// Package model defines the warehouse data model shared by the loader engine,
// the persistence gateways and the snapshot readers.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Surrogate key 0 is reserved for the "Unknown" sentinel in every dimension
//   - Calendar keys are YYYYMMDD integers; DateID 0 is the 1900-01-01 sentinel
//   - Natural keys are ordered string tuples compared as a unit
//   - Dates carry no time-of-day and no location (always UTC midnight)
package model
