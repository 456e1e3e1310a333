// Package session is the single source of truth for identity and session
// state, exposed as a finite state machine with subscribable transitions.
//
// Every write path in the engine asks the authority for permission first:
// RequireWritable fails fast with a typed error while identity is not yet
// resolvable, and callers must treat that error as "never started", not as
// a failed write. Forced logout, whether from a 401 or a user action, tears
// the session down in a fixed order and is safe to trigger from any number
// of goroutines at once.
package session
