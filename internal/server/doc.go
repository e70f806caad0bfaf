// Package server is the HTTP transport of the dev server: a chi router with
// the shared middleware stack, the live channel endpoints, index and project
// routes, static directories, and a route table the build subsystems can add
// to while the listener is already serving.
package server
