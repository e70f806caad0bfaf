// Package watch turns filesystem activity into debounced callbacks. It backs
// both index re-generation and preview rebuild notifications.
package watch
