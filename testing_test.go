package courier

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ============================================================================
// Fake scheduler
// ============================================================================

// fakeScheduler is a manual clock. Advance moves time forward and fires due
// timers in order.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Unix(1_700_000_000, 0)}
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeScheduler) After(d time.Duration, fn func()) func() {
	s.mu.Lock()
	t := &fakeTimer{at: s.now.Add(d), fn: fn}
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		t.stopped = true
		s.mu.Unlock()
	}
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && !t.at.After(s.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	s.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// ============================================================================
// Frame recorder
// ============================================================================

type sentCallFrame struct {
	Type string
	Ev   CallEvent
}

// frameRecorder captures outbound frames instead of writing to a socket.
type frameRecorder struct {
	mu        sync.Mutex
	typing    []TypingEvent
	delivered []DeliveredEvent
	calls     []sentCallFrame
}

func (r *frameRecorder) SendTyping(ctx context.Context, chatID string, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing = append(r.typing, TypingEvent{ChatID: chatID, IsTyping: isTyping})
}

func (r *frameRecorder) SendDelivered(ctx context.Context, chatID string, messageID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, DeliveredEvent{ChatID: chatID, MessageID: messageID})
}

func (r *frameRecorder) SendCallFrame(ctx context.Context, frameType string, ev CallEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sentCallFrame{Type: frameType, Ev: ev})
}

func (r *frameRecorder) typingFrames() []TypingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TypingEvent{}, r.typing...)
}

func (r *frameRecorder) callFrames(frameType string) []sentCallFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentCallFrame
	for _, f := range r.calls {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

// ============================================================================
// Fake media
// ============================================================================

// fakeMedia counts acquisitions and releases, optionally failing.
type fakeMedia struct {
	mu       sync.Mutex
	fail     bool
	acquired int
	released int
}

type fakeMediaHandle struct{ m *fakeMedia }

func (h fakeMediaHandle) Release() {
	h.m.mu.Lock()
	h.m.released++
	h.m.mu.Unlock()
}

func (m *fakeMedia) Acquire(ctx context.Context, mode string) (MediaHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, context.DeadlineExceeded
	}
	m.acquired++
	return fakeMediaHandle{m: m}, nil
}

func (m *fakeMedia) counts() (acquired, released int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired, m.released
}

// ============================================================================
// Message helpers
// ============================================================================

func testMessage(id int64, chatID, sender, text string) Message {
	return Message{
		ID:        id,
		ChatID:    chatID,
		Sender:    sender,
		Text:      text,
		CreatedAt: 1_700_000_000 + id,
	}
}
