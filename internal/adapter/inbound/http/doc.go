// Package http provides the reference HTTP driver for hookengine: a push
// evaluation endpoint backed by the Hook Manager, admin endpoints guarded by
// a hashed admin token, and the health/metrics endpoints operators expect
// alongside them. Construction uses functional options, requests flow
// through a request-ID/logger middleware chain, and liveness is exposed by a
// standalone health checker.
package http
