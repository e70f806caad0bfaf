// Package preview is the build subsystem that serves the story preview
// iframe. It renders iframe.html around the user's head and body fragments,
// serves the preview source directories, and announces rebuilds on the
// channel whenever those directories change.
package preview
