// Package connpool implements the Connection Pool component.
//
// The pool:
//   - Maintains one physical push connection per distinct endpoint URL
//   - Shares each connection across many logical subscribers (ref-counted)
//   - Tears down a connection the moment its last subscriber leaves
//   - Handles reconnection with exponential backoff
//   - Distinguishes an initial open from a re-open, so reconnect hooks fire
//     exactly when consumers must run gap recovery
//   - Exposes sleep/wake so the bootstrap manager can suspend transports
//     while the host is backgrounded without dropping subscriptions
//
// Transports are pluggable: server-sent events by default, WebSocket as a
// configuration choice.
package connpool
