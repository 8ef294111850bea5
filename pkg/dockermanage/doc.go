// Package dockermanage provides lightweight container lifecycle helpers for integration testing.
//
// A [Manager] drives the container runtime command line (docker by default) through a [Runner]. It
// exposes [Manager.Start], which runs a container described by a [ContainerSpec] and blocks until
// it is ready, and [Manager.Stop], which force removes it and is safe to call more than once.
//
// [BuildArgs] turns a [ContainerSpec] into the exact "docker run" argument list. It is pure, so the
// resulting command line can be asserted on directly in tests.
//
// Readiness is polled every 500ms by default. The wait is not bounded unless the caller cancels the
// context or sets [WithReadyTimeout].
package dockermanage
