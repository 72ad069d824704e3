// Package memory provides an in-process KV backend with TTL support.
// It is used for local development and throughout the test suite.
package memory
