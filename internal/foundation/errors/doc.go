// Package errors provides the classified error primitives used across storydev.
//
// Errors carry a category (config, network, index, build, ...), a severity and
// a retry strategy. The CLI adapter turns them into exit codes and the HTTP
// adapter into JSON responses.
//
//	err := errors.NetworkError("listen failed").
//		WithContext("address", addr).
//		WithCause(sysErr).
//		Build()
package errors
