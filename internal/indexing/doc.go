// Package indexing owns the optional index pipeline of a dev server run.
//
// Start gates on the feature flags, builds the generator synchronously so
// construction errors surface before the listener binds, and initializes it
// in the background. The returned Future resolves exactly once, to the
// generator or to absent (nil, nil) when indexing is disabled.
//
// After a successful initialization a detached task reads the first snapshot
// and sends the start report. Later file changes invalidate the generator and
// trigger a debounced regeneration that is announced on the server channel.
package indexing
