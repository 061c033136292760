// Package flurry drives a bounded pool of non-blocking TCP connect attempts
// from a single goroutine.
//
// Each ConnectionSlot cycles Idle → Connecting → Established|Failed → Idle.
// The pool reacts to epoll readiness in Tick, reclaims attempts wedged past
// the staleness threshold in Sweep, and rotates source addresses across
// attempts with an AddressRotator keyed on the global attempt counter.
// Registry events carry a slot index and generation, never a pointer.
package flurry
