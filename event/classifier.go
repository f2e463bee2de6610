package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Wire content types observed on the comment stream.
const (
	contentTypeStreamer = 0
	contentTypeText     = 1
	contentTypeLike     = 2
	contentTypeGift     = 3
	contentTypeFollow   = 4
	contentTypeJoin     = 8
	contentTypeSystem   = 9
)

// flexID accepts the comment id as either a JSON string or a number; the
// stream has emitted both over time.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// rawFrame mirrors the JSON shape of one comment-stream frame. All fields
// are optional on the wire; absent fields decode to zero values.
type rawFrame struct {
	CommentID   flexID `json:"comment_id"`
	Content     string `json:"content"`
	ContentType *int   `json:"content_type"`
	Nickname    string `json:"nickname"`
	VLiveID     string `json:"vlive_id"`
	CreatedAt   string `json:"created_at"`
	IsSelf      bool   `json:"is_self"`
	GiftID      string `json:"gift_id"`
	GiftCount   int    `json:"num"`
}

// eventIDSpace namespaces synthesized event ids so that classifying the same
// frame twice yields the same id (and therefore a structurally equal event).
var eventIDSpace = uuid.MustParse("b1a4d5ce-0e05-47c5-93c4-2b35b3587b18")

// Classify turns one raw transport frame into a ChatEvent. It never fails:
// malformed or unrecognized frames become KindUnknown events so the policy
// layer can see (and count) transport-format drift instead of it being
// silently dropped here.
func Classify(raw []byte, receivedAt time.Time) ChatEvent {
	var f rawFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return ChatEvent{
			ID:          uuid.NewSHA1(eventIDSpace, raw).String(),
			Kind:        KindUnknown,
			DisplayName: "Unknown User",
			Payload:     UnknownPayload{ContentType: -1, Raw: string(raw)},
			Timestamp:   receivedAt,
			ReceivedAt:  receivedAt,
		}
	}

	ev := ChatEvent{
		ID:          string(f.CommentID),
		UserID:      f.VLiveID,
		DisplayName: f.Nickname,
		Self:        f.IsSelf,
		Timestamp:   parseCreatedAt(f.CreatedAt, receivedAt),
		ReceivedAt:  receivedAt,
	}
	if ev.ID == "" {
		ev.ID = uuid.NewSHA1(eventIDSpace, raw).String()
	}
	if ev.DisplayName == "" {
		ev.DisplayName = "Unknown User"
	}

	ct := contentTypeText
	if f.ContentType != nil {
		ct = *f.ContentType
	}
	switch ct {
	case contentTypeText:
		ev.Kind = KindText
		ev.Payload = TextPayload{Message: f.Content}
	case contentTypeJoin:
		ev.Kind = KindJoin
	case contentTypeLike:
		ev.Kind = KindLike
	case contentTypeFollow:
		ev.Kind = KindFollow
	case contentTypeGift:
		count := f.GiftCount
		if count <= 0 {
			count = 1
		}
		ev.Kind = KindGift
		ev.Payload = GiftPayload{GiftID: f.GiftID, Count: count}
	case contentTypeStreamer, contentTypeSystem:
		ev.Kind = KindSystem
		ev.Payload = SystemPayload{Message: f.Content}
	default:
		ev.Kind = KindUnknown
		ev.Payload = UnknownPayload{ContentType: ct, Raw: f.Content}
	}
	return ev
}

// parseCreatedAt parses the source timestamp, falling back to the arrival
// time. The stream emits RFC3339 with either "Z" or a numeric offset.
func parseCreatedAt(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC()
	}
	return fallback
}
