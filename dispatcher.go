package courier

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// Wire frame types
// ============================================================================

// The server sends flat JSON frames: a "type" discriminator next to the
// payload fields, not a nested payload object. Frames decode into the
// structs below; unknown fields are ignored so protocol additions stay
// backward compatible.

// MessageEditedEvent announces a text replacement on an existing message.
type MessageEditedEvent struct {
	ChatID string `json:"chat_id"`
	ID     int64  `json:"id"`
	Text   string `json:"text"`
}

// MessageDeletedEvent announces a for-everyone deletion (tombstone).
type MessageDeletedEvent struct {
	ChatID string `json:"chat_id"`
	ID     int64  `json:"id"`
}

// DeliveredEvent says a recipient's device received one of our messages.
type DeliveredEvent struct {
	ChatID    string `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Username  string `json:"username"`
}

// ReadEvent says a recipient advanced their read marker in a chat.
type ReadEvent struct {
	ChatID     string `json:"chat_id"`
	Username   string `json:"username"`
	LastReadID int64  `json:"last_read_id"`
}

// TypingEvent is a remote user's typing on/off signal.
type TypingEvent struct {
	ChatID   string `json:"chat_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// ReactionEvent is one user adding or removing one emoji on one message.
type ReactionEvent struct {
	ChatID    string `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
	Username  string `json:"username"`
}

// PinEvent announces a message pinned or unpinned in a chat.
type PinEvent struct {
	ChatID    string `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Username  string `json:"username"`
}

// MemberEvent covers membership changes: removal, role updates, invites.
type MemberEvent struct {
	ChatID   string `json:"chat_id"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
	Title    string `json:"title,omitempty"`
}

// ChatDeletedEvent announces that a whole chat was removed.
type ChatDeletedEvent struct {
	ChatID string `json:"chat_id"`
}

// CallEvent is the shared shape of every call signaling frame
// (call_offer, call_answer, call_reject, call_timeout, call_end).
type CallEvent struct {
	ChatID    string `json:"chat_id"`
	CallID    string `json:"call_id"`
	Mode      string `json:"mode,omitempty"` // "voice" | "video"
	Username  string `json:"username"`
	StartedAt int64  `json:"started_at,omitempty"`
	Duration  int64  `json:"duration,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// FrameHandler is the generic raw-frame callback type.
type FrameHandler func(frameType string, data json.RawMessage)

// ============================================================================
// Dispatcher
// ============================================================================

// dispatcher fans a decoded frame out to its typed handlers. Handlers run
// synchronously on the socket read goroutine so that state transitions apply
// in arrival order; anything slow belongs behind the caller's own queue.
//
// Delivery is at-least-once and unordered across frame types, so every
// handler must be idempotent.
type dispatcher struct {
	mu sync.RWMutex

	onMessage         []func(Message)
	onMessageEdited   []func(MessageEditedEvent)
	onMessageDeleted  []func(MessageDeletedEvent)
	onDelivered       []func(DeliveredEvent)
	onRead            []func(ReadEvent)
	onTyping          []func(TypingEvent)
	onReactionAdded   []func(ReactionEvent)
	onReactionRemoved []func(ReactionEvent)
	onPinAdded        []func(PinEvent)
	onPinRemoved      []func(PinEvent)
	onMemberRemoved   []func(MemberEvent)
	onRoleUpdated     []func(MemberEvent)
	onInvited         []func(MemberEvent)
	onChatDeleted     []func(ChatDeletedEvent)
	onCallOffer       []func(CallEvent)
	onCallAnswer      []func(CallEvent)
	onCallReject      []func(CallEvent)
	onCallTimeout     []func(CallEvent)
	onCallEnd         []func(CallEvent)

	generic   map[string][]FrameHandler
	onUnknown []FrameHandler

	log *zap.Logger
}

func newDispatcher(log *zap.Logger) *dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &dispatcher{
		generic: make(map[string][]FrameHandler),
		log:     log,
	}
}

// dispatch decodes and routes one raw frame. A frame whose payload does not
// decode into its expected shape is dropped with a log line; a frame whose
// type is not recognized goes to the unknown hook only.
func (d *dispatcher) dispatch(frameType string, data json.RawMessage) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	known := true
	switch frameType {
	case "message":
		dispatchTo(d, data, frameType, d.onMessage)
	case "message_edited":
		dispatchTo(d, data, frameType, d.onMessageEdited)
	case "message_deleted_all":
		dispatchTo(d, data, frameType, d.onMessageDeleted)
	case "delivered":
		dispatchTo(d, data, frameType, d.onDelivered)
	case "read":
		dispatchTo(d, data, frameType, d.onRead)
	case "typing":
		dispatchTo(d, data, frameType, d.onTyping)
	case "reaction_added":
		dispatchTo(d, data, frameType, d.onReactionAdded)
	case "reaction_removed":
		dispatchTo(d, data, frameType, d.onReactionRemoved)
	case "pin_added":
		dispatchTo(d, data, frameType, d.onPinAdded)
	case "pin_removed":
		dispatchTo(d, data, frameType, d.onPinRemoved)
	case "member_removed":
		dispatchTo(d, data, frameType, d.onMemberRemoved)
	case "role_updated":
		dispatchTo(d, data, frameType, d.onRoleUpdated)
	case "invited":
		dispatchTo(d, data, frameType, d.onInvited)
	case "chat_deleted":
		dispatchTo(d, data, frameType, d.onChatDeleted)
	case "call_offer":
		dispatchTo(d, data, frameType, d.onCallOffer)
	case "call_answer":
		dispatchTo(d, data, frameType, d.onCallAnswer)
	case "call_reject":
		dispatchTo(d, data, frameType, d.onCallReject)
	case "call_timeout":
		dispatchTo(d, data, frameType, d.onCallTimeout)
	case "call_end":
		dispatchTo(d, data, frameType, d.onCallEnd)
	default:
		known = false
	}

	if !known {
		for _, h := range d.onUnknown {
			h(frameType, data)
		}
	}
	for _, h := range d.generic[frameType] {
		h(frameType, data)
	}
}

// ============================================================================
// Typed registration
// ============================================================================

// OnMessage registers a handler for new messages.
func (s *Socket) OnMessage(h func(Message)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onMessage = append(s.dispatcher.onMessage, h)
	s.dispatcher.mu.Unlock()
}

// OnMessageEdited registers a handler for message edits.
func (s *Socket) OnMessageEdited(h func(MessageEditedEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onMessageEdited = append(s.dispatcher.onMessageEdited, h)
	s.dispatcher.mu.Unlock()
}

// OnMessageDeleted registers a handler for for-everyone deletions.
func (s *Socket) OnMessageDeleted(h func(MessageDeletedEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onMessageDeleted = append(s.dispatcher.onMessageDeleted, h)
	s.dispatcher.mu.Unlock()
}

// OnDelivered registers a handler for delivery receipts.
func (s *Socket) OnDelivered(h func(DeliveredEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onDelivered = append(s.dispatcher.onDelivered, h)
	s.dispatcher.mu.Unlock()
}

// OnRead registers a handler for read-marker advances.
func (s *Socket) OnRead(h func(ReadEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onRead = append(s.dispatcher.onRead, h)
	s.dispatcher.mu.Unlock()
}

// OnTyping registers a handler for remote typing signals.
func (s *Socket) OnTyping(h func(TypingEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onTyping = append(s.dispatcher.onTyping, h)
	s.dispatcher.mu.Unlock()
}

// OnReactionAdded registers a handler for added reactions.
func (s *Socket) OnReactionAdded(h func(ReactionEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onReactionAdded = append(s.dispatcher.onReactionAdded, h)
	s.dispatcher.mu.Unlock()
}

// OnReactionRemoved registers a handler for removed reactions.
func (s *Socket) OnReactionRemoved(h func(ReactionEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onReactionRemoved = append(s.dispatcher.onReactionRemoved, h)
	s.dispatcher.mu.Unlock()
}

// OnPinAdded registers a handler for new pins.
func (s *Socket) OnPinAdded(h func(PinEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onPinAdded = append(s.dispatcher.onPinAdded, h)
	s.dispatcher.mu.Unlock()
}

// OnPinRemoved registers a handler for removed pins.
func (s *Socket) OnPinRemoved(h func(PinEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onPinRemoved = append(s.dispatcher.onPinRemoved, h)
	s.dispatcher.mu.Unlock()
}

// OnMemberRemoved registers a handler for member removals.
func (s *Socket) OnMemberRemoved(h func(MemberEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onMemberRemoved = append(s.dispatcher.onMemberRemoved, h)
	s.dispatcher.mu.Unlock()
}

// OnRoleUpdated registers a handler for role changes.
func (s *Socket) OnRoleUpdated(h func(MemberEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onRoleUpdated = append(s.dispatcher.onRoleUpdated, h)
	s.dispatcher.mu.Unlock()
}

// OnInvited registers a handler for chat invitations.
func (s *Socket) OnInvited(h func(MemberEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onInvited = append(s.dispatcher.onInvited, h)
	s.dispatcher.mu.Unlock()
}

// OnChatDeleted registers a handler for chat deletions.
func (s *Socket) OnChatDeleted(h func(ChatDeletedEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onChatDeleted = append(s.dispatcher.onChatDeleted, h)
	s.dispatcher.mu.Unlock()
}

// OnCallOffer registers a handler for incoming call offers.
func (s *Socket) OnCallOffer(h func(CallEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onCallOffer = append(s.dispatcher.onCallOffer, h)
	s.dispatcher.mu.Unlock()
}

// OnCallAnswer registers a handler for call answers.
func (s *Socket) OnCallAnswer(h func(CallEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onCallAnswer = append(s.dispatcher.onCallAnswer, h)
	s.dispatcher.mu.Unlock()
}

// OnCallReject registers a handler for call rejections.
func (s *Socket) OnCallReject(h func(CallEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onCallReject = append(s.dispatcher.onCallReject, h)
	s.dispatcher.mu.Unlock()
}

// OnCallTimeout registers a handler for ring timeouts.
func (s *Socket) OnCallTimeout(h func(CallEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onCallTimeout = append(s.dispatcher.onCallTimeout, h)
	s.dispatcher.mu.Unlock()
}

// OnCallEnd registers a handler for call hangups.
func (s *Socket) OnCallEnd(h func(CallEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onCallEnd = append(s.dispatcher.onCallEnd, h)
	s.dispatcher.mu.Unlock()
}

// dispatchTo decodes data into P and calls each handler with it.
func dispatchTo[P any](d *dispatcher, data json.RawMessage, frameType string, handlers []func(P)) {
	var p P
	if err := json.Unmarshal(data, &p); err != nil {
		d.log.Warn("dropping malformed frame",
			zap.String("type", frameType),
			zap.Error(err))
		return
	}
	for _, h := range handlers {
		h(p)
	}
}
