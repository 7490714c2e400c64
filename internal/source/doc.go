// Package source finds, downloads and parses bug-tracker CSV snapshots.
//
// A snapshot file is a Mantis CSV export whose name carries the snapshot
// date, e.g. scribus-dump-2025-10-24.csv. Discover lists the files of a
// directory in date order, Fetcher downloads the ones published on an index
// page that are not present locally, and ReadSnapshot turns one file into a
// cleaned model.Snapshot:
//
//   - missing or blank attributes become "Unknown"
//   - categorical attributes (priority, severity, reproducibility, category,
//     status, resolution, view status) are lower-cased
//   - text is NFC-normalized so visually equal names share one natural key
//   - unparseable timestamps become missing
//   - exact duplicate rows are dropped
package source
