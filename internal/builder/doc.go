// Package builder declares the contract both build subsystems implement and
// the orchestrator that starts them side by side.
//
// The orchestrator runs the preview and manager handles concurrently. When
// one Start fails, the sibling is bailed before the error surfaces; the bail
// is bounded by BailTimeout and its own failure is only logged. A skipped
// preview resolves to an empty Result and is never bailed.
//
// When both handles fail, whichever failure path completes first wins. This
// is a race and callers must not depend on which error they get.
package builder
