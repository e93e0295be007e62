package courier

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"detail"`
}

func (e *APIError) Error() string {
	return e.Message
}

// DeliveryStatus is the local acknowledgment status of an own message.
// Read implies Delivered; the status never moves backwards.
type DeliveryStatus int

const (
	StatusSent DeliveryStatus = iota
	StatusDelivered
	StatusRead
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "sent"
	}
}

// ============================================================================
// Message
// ============================================================================

// Message is a single chat message as the server describes it.
// IDs are server-issued and strictly increasing across the whole account,
// which makes them usable as a resume cursor.
type Message struct {
	ID              int64          `json:"id"`
	ChatID          string         `json:"chat_id"`
	Sender          string         `json:"sender"`
	SenderAvatarURL string         `json:"sender_avatar_url,omitempty"`
	Text            string         `json:"text"`
	CreatedAt       int64          `json:"created_at"`
	UpdatedAt       int64          `json:"updated_at,omitempty"`
	IsEdited        bool           `json:"is_edited"`
	DeletedForAll   bool           `json:"deleted_for_all"`
	MediaKind       string         `json:"media_kind,omitempty"`
	MediaURL        string         `json:"media_url,omitempty"`
	MediaMime       string         `json:"media_mime,omitempty"`
	MediaName       string         `json:"media_name,omitempty"`
	ReplyToID       int64          `json:"reply_to_id,omitempty"`
	ReplySender     string         `json:"reply_sender,omitempty"`
	ReplyText       string         `json:"reply_text,omitempty"`
	Reactions       map[string]int `json:"reactions,omitempty"`
	MyReactions     []string       `json:"my_reactions,omitempty"`

	// Status is local acknowledgment state for own messages. Not wire data.
	Status DeliveryStatus `json:"-"`
}

// ============================================================================
// Chats
// ============================================================================

// Chat is a conversation summary from the chat list endpoint.
type Chat struct {
	ID            string `json:"id"`
	Type          string `json:"type"` // "group" | "dm"
	Title         string `json:"title"`
	CreatedBy     string `json:"created_by"`
	CreatedAt     int64  `json:"created_at"`
	LastSender    string `json:"last_sender,omitempty"`
	LastText      string `json:"last_text,omitempty"`
	LastCreatedAt int64  `json:"last_created_at,omitempty"`
	MutedUntil    int64  `json:"muted_until,omitempty"`
	Unread        int    `json:"unread"`
}

// ChatMember is one member row of a chat overview.
type ChatMember struct {
	Username    string `json:"username"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Online      bool   `json:"online"`
}

// Pin is a pinned-message record.
type Pin struct {
	MessageID int64  `json:"message_id"`
	PinnedBy  string `json:"pinned_by"`
	PinnedAt  int64  `json:"pinned_at"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
}

// ============================================================================
// Calls
// ============================================================================

// CallState is the lifecycle state of a call session.
type CallState int

const (
	CallIdle CallState = iota
	CallDialing
	CallRinging
	CallConnected
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallDialing:
		return "dialing"
	case CallRinging:
		return "ringing"
	case CallConnected:
		return "connected"
	case CallEnded:
		return "ended"
	default:
		return "idle"
	}
}

// CallEndReason says why a call session reached the Ended state.
type CallEndReason string

const (
	EndHangup     CallEndReason = "hangup"
	EndRejected   CallEndReason = "rejected"
	EndMissed     CallEndReason = "missed"
	EndDeclined   CallEndReason = "declined"
	EndRemote     CallEndReason = "remote_end"
	EndMediaError CallEndReason = "media_error"
	EndReplaced   CallEndReason = "replaced"
)

// CallSession tracks a single voice/video call. At most one session is
// non-Idle at any time; the ID is minted by the initiator and echoed on
// every signaling frame so overlapping historical calls stay distinct.
type CallSession struct {
	ID          string
	ChatID      string
	Mode        string // "voice" | "video"
	State       CallState
	Initiator   string
	Peer        string
	StartedAt   int64
	ConnectedAt int64
	EndedAt     int64
	EndReason   CallEndReason
}

// Duration returns the connected duration in seconds, zero if never connected.
func (c *CallSession) Duration() int64 {
	if c.ConnectedAt == 0 || c.EndedAt < c.ConnectedAt {
		return 0
	}
	return c.EndedAt - c.ConnectedAt
}

// ============================================================================
// REST payloads
// ============================================================================

// AuthResult is the response of register/login/refresh.
type AuthResult struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	Username     string `json:"username"`
}

// Profile is the authenticated user's own profile.
type Profile struct {
	Username    string `json:"username"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

// HistoryPage is one page of message history, ordered oldest-to-newest.
type HistoryPage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// SendOptions are optional fields of a text message send.
type SendOptions struct {
	ReplyToID int64
}

// SendResult is the acknowledgment of a message send or upload.
type SendResult struct {
	OK        bool   `json:"ok"`
	ID        int64  `json:"id"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaKind string `json:"media_kind,omitempty"`
}

// MessageStatus is the per-member delivery/read breakdown of one message.
type MessageStatus struct {
	OK              bool                 `json:"ok"`
	MessageID       int64                `json:"message_id"`
	ChatID          string               `json:"chat_id"`
	Sender          string               `json:"sender"`
	MembersTotal    int                  `json:"members_total"`
	DeliveredCount  int                  `json:"delivered_count"`
	ReadCount       int                  `json:"read_count"`
	DeliveredLatest int64                `json:"delivered_latest,omitempty"`
	ReadLatest      int64                `json:"read_latest,omitempty"`
	Members         []MemberReceiptState `json:"members"`
}

// MemberReceiptState is one member's receipt timestamps for a message.
type MemberReceiptState struct {
	Username    string `json:"username"`
	DeliveredAt int64  `json:"delivered_at,omitempty"`
	ReadAt      int64  `json:"read_at,omitempty"`
}

// decodeJSON unmarshals a response body into T.
func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
