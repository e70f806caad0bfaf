// Package index builds the catalogue index: every story and docs entry found
// under the configured stories specifiers, keyed by id.
//
// A Generator scans once on Initialize, caches per-file results and rebuilds
// the snapshot lazily after Invalidate. Snapshots are immutable.
package index
