// Package straw owns one TCP leg of the relay.
//
// A straw is either a client (dials out) or a server (accepts exactly one
// peer). Every Endpoint walks Disconnected -> Connecting -> Connected ->
// Closed exactly once; reconnecting always means building a new Endpoint.
//
// Ownership boundary:
// - establishment and outcome classification (no retries here)
// - chunked reads and unbuffered writes on the connected socket
// - idempotent, concurrency-safe close
package straw
