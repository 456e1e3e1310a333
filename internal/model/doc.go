// Package model defines the core data types shared across the sync engine:
// push-stream events, per-stream cursors, and the session snapshot.
//
// Events carry microsecond-precision effective timestamps. Two events can
// share a timestamp, so every ordering decision in the engine goes through
// the (EffectiveAt, ID) total order defined here, never through timestamps
// alone.
package model
