// Package partner propagates logouts to the partner service.
//
// Delivery is best effort: one attempt, bounded by a timeout, never retried.
// The Dispatcher runs each notification on its own goroutine after the caller
// has committed its state change, and swallows every failure after logging it.
// The partner receives a scoped revocation token, never the account credential.
package partner
