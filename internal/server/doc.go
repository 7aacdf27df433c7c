// Package server implements the HTTP and WebSocket transport for the
// SalaChat room service.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, protocol framing, routing, and HTTP handlers to
// keep the codebase maintainable and testable as the project grows. The
// room semantics themselves live in the registry package; this package only
// moves frames between connections and the coordinator.
package server
