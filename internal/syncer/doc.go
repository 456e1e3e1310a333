// Package syncer orchestrates push-channel consistency per stream: live
// events and catchup deltas funnel through one idempotent apply path, so an
// event delivered twice, or delivered both live and in a delta, lands in
// the consumer exactly once.
//
// Each stream runs a small recovery machine. A reconnect triggers a
// cursor-based catchup; a gone cursor escalates to a full resync that
// clears the local log, invalidates the consumer's state for the stream,
// and rehydrates from a canonical snapshot. Deltas are applied in the
// (effective time, id) total order so every client converges on the same
// final state regardless of arrival order.
package syncer
