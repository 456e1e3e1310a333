// Package traffic gates outgoing actions behind global rate-limit backoff
// and provides the serialized queue for actions that must never run
// concurrently with themselves.
//
// The controller is the only retry policy for rate-limit errors in the
// engine: callers report a 429, then block on WaitUntilAllowed until the
// backoff window clears. Consecutive hits double the delay up to a cap; a
// success resets the counter so transient congestion does not permanently
// inflate future delays. After a backoff clears, traffic ramps back through
// a token-bucket limiter instead of thundering at the server.
package traffic
