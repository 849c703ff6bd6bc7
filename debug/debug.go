//go:build !debug

// Package debug exposes the build-time debug flag.
//
// Building with -tags=debug keeps logging on under go test, where it is
// otherwise disabled. Outside tests the tag does not change logging.
package debug

const Debug = false
