// Package telemetry delivers startup reports. Reporting is fire-and-forget:
// Report returns at once, sinks run in a detached goroutine, and every sink
// failure is logged at debug level and dropped.
package telemetry
