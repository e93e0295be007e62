package courier

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultTypingIdle is how long after the last keystroke the stop signal
// goes out.
const DefaultTypingIdle = 900 * time.Millisecond

// ============================================================================
// TypingTracker
// ============================================================================

// TypingTracker debounces the local typing signal and mirrors the remote
// typers of the active conversation.
//
// Local: the first keystroke of an idle period sends exactly one
// typing=true; each further keystroke just pushes the stop timer out. When
// the idle window elapses with no keystroke, one typing=false goes out.
//
// Remote: a plain per-user boolean set, active conversation only. Entries
// have no TTL; they clear on an explicit stop signal or a conversation
// switch.
type TypingTracker struct {
	mu sync.Mutex

	username string
	socket   FrameSender
	sched    Scheduler
	idle     time.Duration

	chatID      string
	active      bool // a typing=true is outstanding
	cancelTimer func()

	remote map[string]bool
}

// NewTypingTracker builds a tracker. idle <= 0 selects DefaultTypingIdle.
func NewTypingTracker(username string, socket FrameSender, sched Scheduler, idle time.Duration) *TypingTracker {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	if sched == nil {
		sched = NewScheduler()
	}
	return &TypingTracker{
		username: username,
		socket:   socket,
		sched:    sched,
		idle:     idle,
		remote:   make(map[string]bool),
	}
}

// SetConversation rebinds the tracker on a conversation switch: the old
// chat gets a final stop signal if one is pending, and the remote set is
// cleared.
func (t *TypingTracker) SetConversation(ctx context.Context, chatID string) {
	t.mu.Lock()
	prev := t.chatID
	wasActive := t.active
	if t.cancelTimer != nil {
		t.cancelTimer()
		t.cancelTimer = nil
	}
	t.chatID = chatID
	t.active = false
	t.remote = make(map[string]bool)
	t.mu.Unlock()

	if wasActive && prev != "" {
		t.socket.SendTyping(ctx, prev, false)
	}
}

// Keystroke records local typing activity. Only the first keystroke of an
// idle period emits a frame; the rest merely reset the stop timer.
func (t *TypingTracker) Keystroke(ctx context.Context) {
	t.mu.Lock()
	chatID := t.chatID
	if chatID == "" {
		t.mu.Unlock()
		return
	}
	first := !t.active
	t.active = true
	if t.cancelTimer != nil {
		t.cancelTimer()
	}
	t.cancelTimer = t.sched.After(t.idle, func() {
		t.idleElapsed(chatID)
	})
	t.mu.Unlock()

	if first {
		t.socket.SendTyping(ctx, chatID, true)
	}
}

// StopTyping emits the stop signal immediately, e.g. right after a message
// is sent. No-op when no typing=true is outstanding.
func (t *TypingTracker) StopTyping(ctx context.Context) {
	t.mu.Lock()
	chatID := t.chatID
	wasActive := t.active
	t.active = false
	if t.cancelTimer != nil {
		t.cancelTimer()
		t.cancelTimer = nil
	}
	t.mu.Unlock()

	if wasActive && chatID != "" {
		t.socket.SendTyping(ctx, chatID, false)
	}
}

func (t *TypingTracker) idleElapsed(chatID string) {
	t.mu.Lock()
	// The timer may race a conversation switch; only the bound chat counts.
	stillActive := t.active && t.chatID == chatID
	if stillActive {
		t.active = false
		t.cancelTimer = nil
	}
	t.mu.Unlock()

	if stillActive {
		t.socket.SendTyping(context.Background(), chatID, false)
	}
}

// HandleRemote applies a remote typing event. Events for other
// conversations and our own echoes are discarded. Returns whether the
// typers set changed.
func (t *TypingTracker) HandleRemote(ev TypingEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.ChatID != t.chatID || ev.Username == t.username {
		return false
	}
	if ev.IsTyping {
		if t.remote[ev.Username] {
			return false
		}
		t.remote[ev.Username] = true
		return true
	}
	if !t.remote[ev.Username] {
		return false
	}
	delete(t.remote, ev.Username)
	return true
}

// Typers returns the users currently typing in the active conversation,
// sorted for stable rendering.
func (t *TypingTracker) Typers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.remote))
	for u := range t.remote {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
