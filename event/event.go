// Package event defines the typed chat event model and the classifier that
// turns raw transport frames into ChatEvents. Events are immutable once
// constructed; downstream components never mutate them.
package event

import (
	"time"
)

// Kind is the closed set of chat event categories.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindJoin
	KindLike
	KindFollow
	KindGift
	KindSystem
)

// String returns the lowercase name used in logs, metrics labels and preset keys.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindJoin:
		return "join"
	case KindLike:
		return "like"
	case KindFollow:
		return "follow"
	case KindGift:
		return "gift"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// ParseKind maps a lowercase kind name back to a Kind. Unrecognized names
// yield KindUnknown.
func ParseKind(s string) Kind {
	switch s {
	case "text":
		return KindText
	case "join":
		return KindJoin
	case "like":
		return KindLike
	case "follow":
		return KindFollow
	case "gift":
		return KindGift
	case "system":
		return KindSystem
	default:
		return KindUnknown
	}
}

// Payload is the kind-dependent data carried by a ChatEvent. It is a closed
// union: each Kind has exactly one payload type, and consumers switch on the
// concrete type rather than poking at loose fields.
type Payload interface{ isPayload() }

// TextPayload carries the message body of a text event.
type TextPayload struct {
	Message string
}

// GiftPayload carries gift metadata. Count is 1 when the source omits it.
type GiftPayload struct {
	GiftID string
	Count  int
}

// SystemPayload carries streamer/system announcement text.
type SystemPayload struct {
	Message string
}

// UnknownPayload preserves what little could be read from a frame that did
// not match any known content type, so operators can inspect format drift.
type UnknownPayload struct {
	ContentType int
	Raw         string
}

func (TextPayload) isPayload()    {}
func (GiftPayload) isPayload()    {}
func (SystemPayload) isPayload()  {}
func (UnknownPayload) isPayload() {}

// ChatEvent is one normalized inbound chat event.
type ChatEvent struct {
	// ID is the source-assigned comment id, or a deterministic synthesized
	// id when the source omits one.
	ID          string
	Kind        Kind
	UserID      string
	DisplayName string
	Payload     Payload
	// Self marks events originating from the bot's own account.
	Self bool
	// Timestamp is the source-reported creation time (UTC); falls back to
	// ReceivedAt when absent or unparseable.
	Timestamp time.Time
	// ReceivedAt is the local arrival time. Arrival order, not Timestamp
	// order, is authoritative for causality within a connection.
	ReceivedAt time.Time
}

// Text returns the human-readable body of the event, empty for kinds that
// carry none.
func (e ChatEvent) Text() string {
	switch p := e.Payload.(type) {
	case TextPayload:
		return p.Message
	case SystemPayload:
		return p.Message
	case UnknownPayload:
		return p.Raw
	default:
		return ""
	}
}
