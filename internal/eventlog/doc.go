// Package eventlog is the durable per-origin record of processed push
// events and per-stream cursors.
//
// The log answers "has this event id been applied?" in O(1) and owns the
// crash-safety ordering of the engine: an event is recorded as
// processed before the stream's cursor advances past it. A crash between the
// two writes replays the event on the next catchup, where the processed
// record makes the re-apply a no-op. At-least-once delivery, idempotent
// apply.
//
// Storage is an embedded badger DB. Processed records carry an entry TTL so
// the log stays age-bounded without a compaction pass; a ttlcache front
// absorbs the hot duplicate checks from the live stream.
package eventlog
