// Package tunnel drives the relay lifecycle.
//
// One iteration establishes the inbound straw, signals readiness, then
// establishes the outbound straw and runs a relay.Session over the pair.
// With Reestablish set the loop starts a new iteration with fresh endpoints
// whenever a session ends; otherwise the first session is the last.
//
// Canonical references:
// - internal/straw (endpoint state machine)
// - internal/retry (establishment policy)
// - internal/relay (pumps and teardown policy)
package tunnel
