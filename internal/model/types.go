package model

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// EventType identifies the kind of domain change a push event announces.
// The engine treats payloads opaquely; types exist so listeners can filter.
type EventType string

const (
	TypeReportCreated      EventType = "report-create"
	TypeReportUpdated      EventType = "report-update"
	TypeReportDeleted      EventType = "report-delete"
	TypeCommentCreated     EventType = "comment-create"
	TypeCommentUpdated     EventType = "comment-update"
	TypeCommentDeleted     EventType = "comment-delete"
	TypeVoteUpdated        EventType = "vote-update"
	TypeNotificationCreate EventType = "notification-create"
)

// Event is a single server-announced domain change.
type Event struct {
	ID             string          `json:"id"`
	Type           EventType       `json:"type"`
	Stream         string          `json:"stream"`
	EffectiveAt    int64           `json:"ts"`        // µs since epoch, server authority
	OriginClientID string          `json:"origin_id"` // client instance that issued the write
	Payload        json.RawMessage `json:"payload"`
	ReceivedAt     time.Time       `json:"-"` // local receive time
}

// Valid reports whether the event carries the fields the engine needs to
// order and deduplicate it. Malformed events are skipped, never fatal.
func (e Event) Valid() bool {
	return e.ID != "" && e.EffectiveAt > 0
}

// CompareEvents orders a before b in the engine's total order:
// by EffectiveAt, ties broken by bytewise ID comparison. The tie-break is
// what makes merges deterministic across clients when two events share a
// millisecond.
func CompareEvents(a, b Event) int {
	if a.EffectiveAt != b.EffectiveAt {
		if a.EffectiveAt < b.EffectiveAt {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}

// SortEvents sorts events in place into (EffectiveAt, ID) total order.
func SortEvents(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		return CompareEvents(events[i], events[j]) < 0
	})
}

// Cursor is the last successfully processed position in one stream.
// It advances only after the corresponding event is durably recorded as
// processed.
type Cursor struct {
	Stream    string `json:"stream"`
	AfterTime int64  `json:"after_time"` // µs since epoch
	AfterID   string `json:"after_id"`
}

// Zero reports whether the cursor has never advanced.
func (c Cursor) Zero() bool {
	return c.AfterTime == 0 && c.AfterID == ""
}

// Covers reports whether ev sorts at or before the cursor position, meaning
// catchup should not re-deliver it.
func (c Cursor) Covers(ev Event) bool {
	if c.Zero() {
		return false
	}
	if ev.EffectiveAt != c.AfterTime {
		return ev.EffectiveAt < c.AfterTime
	}
	return ev.ID <= c.AfterID
}

// Advance returns the cursor moved forward to ev's position if ev sorts
// after the current position, otherwise the cursor unchanged.
func (c Cursor) Advance(ev Event) Cursor {
	if c.Covers(ev) {
		return c
	}
	return Cursor{Stream: c.Stream, AfterTime: ev.EffectiveAt, AfterID: ev.ID}
}

// Session is the per-tab identity snapshot. It is created by the bootstrap
// manager and mutated only through the session authority.
type Session struct {
	AnonymousID string            `json:"anonymous_id"`
	UserID      string            `json:"user_id,omitempty"`
	Token       string            `json:"token,omitempty"`
	IssuedAt    int64             `json:"issued_at"`  // µs since epoch
	ExpiresAt   int64             `json:"expires_at"` // µs since epoch, 0 = no expiry
	Meta        map[string]string `json:"meta,omitempty"`
}

// Authenticated reports whether the session carries verified credentials.
func (s Session) Authenticated() bool {
	return s.UserID != "" && s.Token != ""
}

// Expired reports whether the session's token material is past its expiry.
func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && now.UnixMicro() >= s.ExpiresAt
}

// LogoutReason is carried on the forced-logout broadcast so consuming
// surfaces can distinguish an expiry redirect from a user action.
type LogoutReason string

const (
	LogoutSessionExpired LogoutReason = "SESSION_EXPIRED"
	LogoutManual         LogoutReason = "MANUAL_LOGOUT"
)
