package courier

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// Acknowledger
// ============================================================================

// Acknowledger tracks delivery state in both directions.
//
// Outbound (our receipts): every message that arrives from another user gets
// an immediate fire-and-forget delivered frame, and the read marker advances
// over REST when the viewer is actually looking at the bottom of the
// conversation. The read ack is monotonic per chat: an id at or below the
// last acked value never produces a request.
//
// Inbound (their receipts): delivered and read events upgrade the status of
// our own messages. Read implies delivered and the status never downgrades.
// Events for background conversations are recorded the same way; there is no
// active-conversation filter here.
type Acknowledger struct {
	mu sync.Mutex

	username string
	socket   FrameSender
	client   *Client

	// delivered holds per-message delivered receipts from any recipient.
	delivered map[int64]bool
	// readWatermark is, per chat, the highest read marker any other member
	// has reported. Own messages at or below it count as read.
	readWatermark map[string]int64
	// lastAcked is, per chat, the highest read ack we have sent.
	lastAcked map[string]int64

	log *zap.Logger
}

// NewAcknowledger wires an acknowledger to the socket (delivered frames) and
// REST client (read marker).
func NewAcknowledger(username string, socket FrameSender, client *Client, log *zap.Logger) *Acknowledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Acknowledger{
		username:      username,
		socket:        socket,
		client:        client,
		delivered:     make(map[int64]bool),
		readWatermark: make(map[string]int64),
		lastAcked:     make(map[string]int64),
		log:           log,
	}
}

// ============================================================================
// Outbound receipts
// ============================================================================

// AckDelivered sends the delivery receipt for an inbound message. Own
// messages never get one. Fire-and-forget: a lost frame is reconciled by
// the server on the next resume.
func (a *Acknowledger) AckDelivered(ctx context.Context, m Message) {
	if m.Sender == a.username {
		return
	}
	a.socket.SendDelivered(ctx, m.ChatID, m.ID)
}

// MaybeAckRead advances the chat's read marker to candidateID if the viewer
// is near the bottom and the candidate is above everything already acked.
// Returns whether a request was issued.
func (a *Acknowledger) MaybeAckRead(ctx context.Context, chatID string, candidateID int64, nearBottom bool) bool {
	if !nearBottom || candidateID <= 0 {
		return false
	}

	a.mu.Lock()
	if candidateID <= a.lastAcked[chatID] {
		a.mu.Unlock()
		return false
	}
	prev := a.lastAcked[chatID]
	a.lastAcked[chatID] = candidateID
	a.mu.Unlock()

	if err := a.client.MarkRead(ctx, chatID, candidateID); err != nil {
		a.log.Warn("read ack failed",
			zap.String("chat_id", chatID),
			zap.Int64("last_id", candidateID),
			zap.Error(err))
		// Reset the marker so a later trigger retries, unless something
		// higher was acked in the meantime. This is request bookkeeping,
		// not rendered state.
		a.mu.Lock()
		if a.lastAcked[chatID] == candidateID {
			a.lastAcked[chatID] = prev
		}
		a.mu.Unlock()
		return false
	}
	return true
}

// LastAcked returns the highest read marker sent for a chat.
func (a *Acknowledger) LastAcked(chatID string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastAcked[chatID]
}

// ============================================================================
// Inbound receipts
// ============================================================================

// HandleDelivered records a recipient's delivery receipt for one of our
// messages. Returns the resulting status of that message.
func (a *Acknowledger) HandleDelivered(ev DeliveredEvent) DeliveryStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delivered[ev.MessageID] = true
	return a.statusLocked(ev.ChatID, ev.MessageID)
}

// HandleRead records a recipient's read-marker advance. Every own message in
// the chat with id <= ev.LastReadID is now read. Returns the previous
// watermark so callers can tell which range changed.
func (a *Acknowledger) HandleRead(ev ReadEvent) (prevWatermark int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.readWatermark[ev.ChatID]
	if ev.LastReadID > prev {
		a.readWatermark[ev.ChatID] = ev.LastReadID
	}
	return prev
}

// Status returns the acknowledgment status of an own message.
func (a *Acknowledger) Status(chatID string, messageID int64) DeliveryStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusLocked(chatID, messageID)
}

func (a *Acknowledger) statusLocked(chatID string, messageID int64) DeliveryStatus {
	if messageID <= a.readWatermark[chatID] {
		return StatusRead
	}
	if a.delivered[messageID] {
		return StatusDelivered
	}
	return StatusSent
}
