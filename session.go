package courier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Session
// ============================================================================

// Session is the live synchronization engine for one signed-in account. It
// owns the socket, the active-conversation timeline, and the receipt /
// typing / reaction / call state machines, and funnels every inbound frame
// through a single application path so state transitions happen in arrival
// order.
//
// The resume cursor is the highest message id ever observed, kept both in
// memory and in the Store when one is configured. Reconnecting resumes from
// it, so the server replays exactly the events the client missed.
type Session struct {
	client   *Client
	socket   *Socket
	timeline *Timeline
	acks     *Acknowledger
	typing   *TypingTracker
	reacts   *ReactionReconciler
	calls    *CallManager
	store    *Store

	username  string
	pageLimit int
	log       *zap.Logger

	mu         sync.Mutex
	cursor     int64 // in-memory high-water mark
	nearBottom bool
	hidden     map[int64]bool

	onMessage  []func(Message)
	onStatus   []func(chatID string, messageID int64, status DeliveryStatus)
	onTypers   []func([]string)
	onTimeline []func()
	onConn     []func(ConnState)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// Username is the signed-in account; used to tell own messages and
	// event echoes apart.
	Username string
	// Store persists the resume cursor, call log, and hidden ids. Nil
	// keeps everything in memory for the process lifetime.
	Store *Store
	// Scheduler drives the typing debounce and call ring timer; nil
	// selects the wall clock.
	Scheduler Scheduler
	// Media acquires call devices; nil selects NopMediaProvider.
	Media MediaProvider
	// TypingIdle is the typing-stop debounce; zero selects
	// DefaultTypingIdle.
	TypingIdle time.Duration
	// RingTimeout is the unanswered-call timeout; zero selects
	// DefaultRingTimeout.
	RingTimeout time.Duration
	// PageLimit is the history page size; zero selects the client default.
	PageLimit int
	// Logger is optional; nil means no logging.
	Logger *zap.Logger
}

// NewSession builds a session over an authenticated REST client.
func NewSession(client *Client, config SessionConfig) *Session {
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sched := config.Scheduler
	if sched == nil {
		sched = NewScheduler()
	}

	s := &Session{
		client:    client,
		timeline:  NewTimeline(log),
		store:     config.Store,
		username:  config.Username,
		pageLimit: config.PageLimit,
		log:       log,
		hidden:    make(map[int64]bool),
	}
	if s.store != nil {
		s.cursor = s.store.Cursor(config.Username)
		if ids, err := s.store.HiddenIDs(config.Username); err == nil {
			for _, id := range ids {
				s.hidden[id] = true
			}
		}
	}

	s.socket = NewSocket(SocketConfig{
		BaseURL: client.BaseURL(),
		Token:   client.Token,
		Resume:  s.ResumeCursor,
		Logger:  log,
	})
	s.acks = NewAcknowledger(config.Username, s.socket, client, log)
	s.typing = NewTypingTracker(config.Username, s.socket, sched, config.TypingIdle)
	s.reacts = NewReactionReconciler(config.Username, s.timeline, client, log)
	s.calls = NewCallManager(CallConfig{
		Username:    config.Username,
		Socket:      s.socket,
		Scheduler:   sched,
		Media:       config.Media,
		RingTimeout: config.RingTimeout,
		Logger:      log,
	})
	s.calls.OnState(s.callEnded)

	s.wireSocket()
	return s
}

// wireSocket registers the frame application path. Handlers run on the
// socket read goroutine, one frame at a time.
func (s *Session) wireSocket() {
	s.socket.OnMessage(s.applyMessage)
	s.socket.OnMessageEdited(func(ev MessageEditedEvent) {
		if s.timeline.ApplyEdit(ev) {
			s.notifyTimeline()
		}
	})
	s.socket.OnMessageDeleted(func(ev MessageDeletedEvent) {
		if s.timeline.ApplyDelete(ev) {
			s.notifyTimeline()
		}
	})
	s.socket.OnDelivered(func(ev DeliveredEvent) {
		status := s.acks.HandleDelivered(ev)
		// Receipts for background conversations update the watermark
		// only; the rendered timeline and its observers are scoped to
		// the active conversation.
		if ev.ChatID != s.timeline.ChatID() {
			return
		}
		s.upgradeStatus(ev.ChatID, ev.MessageID, status)
	})
	s.socket.OnRead(func(ev ReadEvent) {
		s.acks.HandleRead(ev)
		if ev.ChatID != s.timeline.ChatID() {
			return
		}
		s.timeline.UpdateRange(ev.LastReadID, func(m *Message) {
			if m.Sender == s.username && m.Status < StatusRead {
				m.Status = StatusRead
			}
		})
		s.notifyStatus(ev.ChatID, ev.LastReadID, StatusRead)
	})
	s.socket.OnTyping(func(ev TypingEvent) {
		if s.typing.HandleRemote(ev) {
			s.notifyTypers()
		}
	})
	s.socket.OnReactionAdded(func(ev ReactionEvent) {
		if s.reacts.HandleAdded(ev) {
			s.notifyTimeline()
		}
	})
	s.socket.OnReactionRemoved(func(ev ReactionEvent) {
		if s.reacts.HandleRemoved(ev) {
			s.notifyTimeline()
		}
	})
	s.socket.OnCallOffer(s.calls.HandleOffer)
	s.socket.OnCallAnswer(s.calls.HandleAnswer)
	s.socket.OnCallReject(s.calls.HandleReject)
	s.socket.OnCallTimeout(s.calls.HandleTimeout)
	s.socket.OnCallEnd(s.calls.HandleEnd)

	s.socket.OnConnected(func() { s.notifyConn(StateConnected) })
	s.socket.OnDisconnected(func(string) { s.notifyConn(StateDisconnected) })
}

// applyMessage is the single entry point for inbound message frames, both
// live and replayed after a resume. Applying the same message twice changes
// nothing.
func (s *Session) applyMessage(m Message) {
	s.advanceCursor(m.ID)

	s.mu.Lock()
	hidden := s.hidden[m.ID]
	nearBottom := s.nearBottom
	s.mu.Unlock()
	if hidden {
		return
	}

	if m.Sender == s.username {
		m.Status = s.acks.Status(m.ChatID, m.ID)
	} else {
		s.acks.AckDelivered(context.Background(), m)
	}

	changed := s.timeline.Apply(m)
	if changed {
		s.notifyTimeline()
	}

	s.mu.Lock()
	handlers := append([]func(Message){}, s.onMessage...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(m)
	}

	if changed && m.Sender != s.username && m.ChatID == s.timeline.ChatID() {
		s.acks.MaybeAckRead(context.Background(), m.ChatID, m.ID, nearBottom)
	}
}

// ============================================================================
// Connectivity
// ============================================================================

// Connect opens the event socket, resuming from the durable cursor. The
// session does not retry on its own; pair with a Reconnector.
func (s *Session) Connect(ctx context.Context) error {
	return s.socket.Connect(ctx)
}

// Disconnect closes the event socket.
func (s *Session) Disconnect() error {
	return s.socket.Disconnect()
}

// ConnState returns the socket state.
func (s *Session) ConnState() ConnState {
	return s.socket.State()
}

// ResumeCursor returns the id the next connection should resume from: the
// maximum of the in-memory high-water mark and the persisted cursor.
func (s *Session) ResumeCursor() int64 {
	s.mu.Lock()
	cur := s.cursor
	s.mu.Unlock()
	if s.store != nil {
		if d := s.store.Cursor(s.username); d > cur {
			cur = d
		}
	}
	return cur
}

// advanceCursor raises the high-water mark. Anything at or below the
// current value is ignored, so the cursor never moves backwards.
func (s *Session) advanceCursor(id int64) {
	s.mu.Lock()
	if id <= s.cursor {
		s.mu.Unlock()
		return
	}
	s.cursor = id
	s.mu.Unlock()
	if s.store != nil {
		s.store.SetCursor(s.username, id) //nolint:errcheck // best-effort, logged inside
	}
}

// ============================================================================
// Conversation
// ============================================================================

// OpenConversation makes chatID the active conversation: the timeline is
// cleared and reseeded with the newest history page, typing state rebinds,
// and, if the viewer is at the bottom, the newest message is acked read.
// Events that arrive during the seed fetch are replayed on top of the page.
func (s *Session) OpenConversation(ctx context.Context, chatID string) error {
	s.typing.SetConversation(ctx, chatID)
	epoch := s.timeline.SwitchTo(chatID)
	s.notifyTypers()

	page, err := s.client.History(ctx, chatID, 0, s.pageLimit)
	if err != nil {
		return err
	}
	if !s.timeline.Seed(epoch, page) {
		// The user has already switched away; nothing to show.
		return nil
	}
	s.filterHidden()
	s.notifyTimeline()

	s.mu.Lock()
	nearBottom := s.nearBottom
	s.mu.Unlock()
	if msgs := s.timeline.Messages(); nearBottom && len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		if last.Sender != s.username {
			s.acks.MaybeAckRead(ctx, chatID, last.ID, true)
		}
	}
	return nil
}

// LoadOlder fetches the next older history page for the active
// conversation. measure, if non-nil, receives the prepended messages so the
// caller can compute a scroll-anchor offset. Returns ok=false when no fetch
// ran: one is already in flight, history is exhausted, or the conversation
// changed mid-flight.
func (s *Session) LoadOlder(ctx context.Context, measure func([]Message) int) (PrependResult, bool, error) {
	beforeID, epoch, ok := s.timeline.BeginOlderFetch()
	if !ok {
		return PrependResult{}, false, nil
	}
	page, err := s.client.History(ctx, s.timeline.ChatID(), beforeID, s.pageLimit)
	if err != nil {
		s.timeline.AbortOlderFetch(epoch)
		return PrependResult{}, false, err
	}
	res, applied := s.timeline.CompleteOlderFetch(epoch, page, measure)
	if applied && res.Added > 0 {
		s.filterHidden()
		s.notifyTimeline()
	}
	return res, applied, nil
}

// Timeline returns the active-conversation cache.
func (s *Session) Timeline() *Timeline {
	return s.timeline
}

// SetNearBottom records whether the viewer is scrolled to the bottom of the
// conversation. Arriving at the bottom acks the newest inbound message read.
func (s *Session) SetNearBottom(ctx context.Context, nearBottom bool) {
	s.mu.Lock()
	s.nearBottom = nearBottom
	s.mu.Unlock()
	if !nearBottom {
		return
	}
	chatID := s.timeline.ChatID()
	if chatID == "" {
		return
	}
	msgs := s.timeline.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender != s.username {
			s.acks.MaybeAckRead(ctx, chatID, msgs[i].ID, true)
			return
		}
	}
}

// filterHidden drops locally hidden messages from the freshly seeded or
// extended timeline.
func (s *Session) filterHidden() {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.hidden))
	for id := range s.hidden {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.timeline.Hide(id)
	}
}

// ============================================================================
// Messaging
// ============================================================================

// Send posts a text message to the active conversation. The message itself
// arrives back over the socket like any other event; sending also stops the
// local typing signal.
func (s *Session) Send(ctx context.Context, text string, opts *SendOptions) (*SendResult, error) {
	chatID := s.timeline.ChatID()
	res, err := s.client.SendMessage(ctx, chatID, text, opts)
	if err != nil {
		return nil, err
	}
	s.typing.StopTyping(ctx)
	return res, nil
}

// Keystroke records local typing activity (debounced signaling).
func (s *Session) Keystroke(ctx context.Context) {
	s.typing.Keystroke(ctx)
}

// Typers returns the users currently typing in the active conversation.
func (s *Session) Typers() []string {
	return s.typing.Typers()
}

// ToggleReaction flips the viewer's reaction on a message.
func (s *Session) ToggleReaction(ctx context.Context, messageID int64, emoji string) (bool, error) {
	added, err := s.reacts.Toggle(ctx, messageID, emoji)
	s.notifyTimeline()
	return added, err
}

// DeleteForMe hides a message locally and on the server for this account
// only. The resume cursor is untouched: the id stays observed.
func (s *Session) DeleteForMe(ctx context.Context, messageID int64) error {
	if err := s.client.DeleteMessage(ctx, messageID, "me"); err != nil {
		return err
	}
	s.mu.Lock()
	s.hidden[messageID] = true
	s.mu.Unlock()
	if s.store != nil {
		s.store.HideMessage(s.username, messageID) //nolint:errcheck // best-effort, logged inside
	}
	if s.timeline.Hide(messageID) {
		s.notifyTimeline()
	}
	return nil
}

// DeleteForAll tombstones an own message for every member. The tombstone
// arrives back as a message_deleted_all event.
func (s *Session) DeleteForAll(ctx context.Context, messageID int64) error {
	return s.client.DeleteMessage(ctx, messageID, "all")
}

// ============================================================================
// Calls
// ============================================================================

// Dial starts an outbound call in a chat.
func (s *Session) Dial(ctx context.Context, chatID, mode string) (*CallSession, error) {
	return s.calls.Dial(ctx, chatID, mode)
}

// AnswerCall accepts the ringing inbound call.
func (s *Session) AnswerCall(ctx context.Context) error {
	return s.calls.Answer(ctx)
}

// RejectCall declines the ringing inbound call.
func (s *Session) RejectCall(ctx context.Context) {
	s.calls.Reject(ctx)
}

// HangUp ends the active call.
func (s *Session) HangUp(ctx context.Context) {
	s.calls.HangUp(ctx)
}

// CallState returns the current call state.
func (s *Session) CallState() CallState {
	return s.calls.State()
}

// OnCallState registers a call state observer.
func (s *Session) OnCallState(h func(CallSession)) {
	s.calls.OnState(h)
}

// callEnded persists finished calls to the local call log and posts the
// call-log chat message. The server only relays call frames, so the entry
// visible in the conversation has to come from a participant; the caller
// side posts it to keep it single-sourced.
func (s *Session) callEnded(sess CallSession) {
	if sess.State != CallEnded {
		return
	}
	if s.store != nil {
		s.store.AppendCallLog(CallRecord{ //nolint:errcheck // best-effort, logged inside
			CallID:    sess.ID,
			ChatID:    sess.ChatID,
			Mode:      sess.Mode,
			Initiator: sess.Initiator,
			Peer:      sess.Peer,
			StartedAt: sess.StartedAt,
			Duration:  sess.Duration(),
			Reason:    sess.EndReason,
		})
	}

	if sess.Initiator != s.username {
		return
	}
	text := callLogText(sess)
	if text == "" {
		return
	}
	go func() {
		if _, err := s.client.SendMessage(context.Background(), sess.ChatID, text, nil); err != nil {
			s.log.Warn("call log message failed",
				zap.String("call_id", sess.ID),
				zap.Error(err))
		}
	}()
}

// callLogText renders the conversation entry for a finished call. Media
// failures and replaced calls leave no entry.
func callLogText(sess CallSession) string {
	mode := sess.Mode
	if mode == "" {
		mode = "voice"
	}
	if sess.ConnectedAt > 0 {
		return fmt.Sprintf("📞 %s call · %ds", mode, sess.Duration())
	}
	switch sess.EndReason {
	case EndMissed:
		return "📞 Missed " + mode + " call"
	case EndRejected, EndDeclined:
		return "📞 Declined " + mode + " call"
	case EndHangup:
		return "📞 Cancelled " + mode + " call"
	}
	return ""
}

// ============================================================================
// Observers
// ============================================================================

// OnMessage registers an observer for every applied message event,
// regardless of conversation.
func (s *Session) OnMessage(h func(Message)) {
	s.mu.Lock()
	s.onMessage = append(s.onMessage, h)
	s.mu.Unlock()
}

// OnStatusChanged registers an observer for own-message status upgrades.
// For read upgrades messageID is the read watermark: every own message at
// or below it is read.
func (s *Session) OnStatusChanged(h func(chatID string, messageID int64, status DeliveryStatus)) {
	s.mu.Lock()
	s.onStatus = append(s.onStatus, h)
	s.mu.Unlock()
}

// OnTypersChanged registers an observer for the active conversation's
// typers set.
func (s *Session) OnTypersChanged(h func([]string)) {
	s.mu.Lock()
	s.onTypers = append(s.onTypers, h)
	s.mu.Unlock()
}

// OnTimelineChanged registers an observer fired whenever the rendered
// timeline content changes.
func (s *Session) OnTimelineChanged(h func()) {
	s.mu.Lock()
	s.onTimeline = append(s.onTimeline, h)
	s.mu.Unlock()
}

// OnConnectionState registers an observer for socket state changes.
func (s *Session) OnConnectionState(h func(ConnState)) {
	s.mu.Lock()
	s.onConn = append(s.onConn, h)
	s.mu.Unlock()
}

func (s *Session) upgradeStatus(chatID string, messageID int64, status DeliveryStatus) {
	s.timeline.Update(messageID, func(m *Message) {
		if m.Sender == s.username && m.Status < status {
			m.Status = status
		}
	})
	s.notifyStatus(chatID, messageID, status)
}

func (s *Session) notifyStatus(chatID string, messageID int64, status DeliveryStatus) {
	s.mu.Lock()
	handlers := append([]func(string, int64, DeliveryStatus){}, s.onStatus...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(chatID, messageID, status)
	}
}

func (s *Session) notifyTypers() {
	typers := s.typing.Typers()
	s.mu.Lock()
	handlers := append([]func([]string){}, s.onTypers...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(typers)
	}
}

func (s *Session) notifyTimeline() {
	s.mu.Lock()
	handlers := append([]func(){}, s.onTimeline...)
	s.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

func (s *Session) notifyConn(state ConnState) {
	s.mu.Lock()
	handlers := append([]func(ConnState){}, s.onConn...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(state)
	}
}
