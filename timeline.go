package courier

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// Timeline
// ============================================================================

// Timeline caches the messages of the active conversation, and only those:
// switching conversations empties it. Messages are kept ordered by id with
// no duplicates, so replays and at-least-once delivery are harmless.
//
// Every asynchronous result (seed page, older page) is tagged with the epoch
// that was current when the request started; a result arriving after the
// user has switched away carries a stale epoch and is discarded.
type Timeline struct {
	mu sync.Mutex

	chatID   string
	epoch    uint64
	messages []Message // ascending by ID
	index    map[int64]int

	hasMore  bool // false latches: no further older-page fetches
	seeded   bool
	fetching bool // single-flight guard for older-page fetches

	// Events that arrive between SwitchTo and Seed are buffered and
	// replayed on top of the seed page.
	pending []Message

	log *zap.Logger
}

// PrependResult reports the outcome of an older-page merge.
type PrependResult struct {
	Added int
	// HeightDelta is the measured height of the prepended block, for
	// scroll-anchor preservation. Zero when no measure func was supplied.
	HeightDelta int
	HasMore     bool
}

// NewTimeline returns an empty timeline bound to no conversation.
func NewTimeline(log *zap.Logger) *Timeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Timeline{
		index: make(map[int64]int),
		log:   log,
	}
}

// ChatID returns the active conversation id, "" when none.
func (t *Timeline) ChatID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatID
}

// Epoch returns the current epoch token. Results computed under an older
// epoch must be discarded.
func (t *Timeline) Epoch() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

// Messages returns a copy of the cached messages, oldest first.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of cached messages.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Get returns the cached message with the given id.
func (t *Timeline) Get(id int64) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok {
		return Message{}, false
	}
	return t.messages[i], true
}

// SwitchTo makes chatID the active conversation: the cache is cleared, the
// epoch advances, and pagination state resets. Returns the new epoch for
// tagging the seed fetch.
func (t *Timeline) SwitchTo(chatID string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chatID = chatID
	t.epoch++
	t.messages = nil
	t.index = make(map[int64]int)
	t.pending = nil
	t.hasMore = true
	t.seeded = false
	t.fetching = false
	return t.epoch
}

// Seed installs the newest history page for the active conversation, then
// replays any live events that arrived while the fetch was in flight.
// A page fetched under a stale epoch is discarded.
func (t *Timeline) Seed(epoch uint64, page *HistoryPage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if epoch != t.epoch {
		t.log.Debug("discarding stale seed page",
			zap.Uint64("epoch", epoch),
			zap.Uint64("current", t.epoch))
		return false
	}
	t.messages = nil
	t.index = make(map[int64]int)
	for _, m := range page.Messages {
		t.insertLocked(m)
	}
	for _, m := range t.pending {
		t.insertLocked(m)
	}
	t.pending = nil
	t.hasMore = page.HasMore
	t.seeded = true
	return true
}

// Apply merges a live message into the cache. Messages for other
// conversations are ignored; a duplicate id is a no-op. Returns whether the
// cache changed.
func (t *Timeline) Apply(m Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m.ChatID != t.chatID || t.chatID == "" {
		return false
	}
	if !t.seeded {
		// Seed fetch still in flight; hold the event for replay.
		for _, p := range t.pending {
			if p.ID == m.ID {
				return false
			}
		}
		t.pending = append(t.pending, m)
		return true
	}
	return t.insertLocked(m)
}

// ApplyEdit replaces the text of a cached message in place.
func (t *Timeline) ApplyEdit(ev MessageEditedEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.ChatID != t.chatID {
		return false
	}
	i, ok := t.index[ev.ID]
	if !ok {
		return false
	}
	t.messages[i].Text = ev.Text
	t.messages[i].IsEdited = true
	return true
}

// ApplyDelete tombstones a cached message (deleted for everyone). The entry
// stays in the timeline so ordering and pagination keys are unaffected.
func (t *Timeline) ApplyDelete(ev MessageDeletedEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.ChatID != t.chatID {
		return false
	}
	i, ok := t.index[ev.ID]
	if !ok {
		return false
	}
	t.messages[i].DeletedForAll = true
	t.messages[i].Text = ""
	t.messages[i].MediaURL = ""
	t.messages[i].MediaKind = ""
	return true
}

// Hide drops a message from the cache without tombstoning ("delete for me").
func (t *Timeline) Hide(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok {
		return false
	}
	t.messages = append(t.messages[:i], t.messages[i+1:]...)
	t.reindexLocked()
	return true
}

// Update applies fn to the cached message with the given id.
// Used for reaction and delivery-status mutations.
func (t *Timeline) Update(id int64, fn func(*Message)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok {
		return false
	}
	fn(&t.messages[i])
	return true
}

// UpdateRange applies fn to every cached message with id <= maxID.
// Used to mark a prefix of own messages read.
func (t *Timeline) UpdateRange(maxID int64, fn func(*Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.messages {
		if t.messages[i].ID > maxID {
			break
		}
		fn(&t.messages[i])
	}
}

// ============================================================================
// Older-page pagination
// ============================================================================

// BeginOlderFetch reserves the single older-page fetch slot. It returns the
// pagination key (the smallest loaded id), the epoch to tag the request
// with, and whether a fetch should proceed. It returns ok=false while a
// fetch is already in flight, before the seed page has landed, or once the
// server has said there is nothing older.
func (t *Timeline) BeginOlderFetch() (beforeID int64, epoch uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.seeded || t.fetching || !t.hasMore || len(t.messages) == 0 {
		return 0, 0, false
	}
	t.fetching = true
	return t.messages[0].ID, t.epoch, true
}

// AbortOlderFetch releases the fetch slot after a failed request so the
// caller may retry.
func (t *Timeline) AbortOlderFetch(epoch uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if epoch == t.epoch {
		t.fetching = false
	}
}

// CompleteOlderFetch merges an older page fetched under epoch. measure, if
// non-nil, is called with the messages actually prepended and its result is
// reported back so the caller can restore the scroll anchor. A stale-epoch
// page is discarded wholesale.
func (t *Timeline) CompleteOlderFetch(epoch uint64, page *HistoryPage, measure func([]Message) int) (PrependResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if epoch != t.epoch {
		t.log.Debug("discarding stale older page",
			zap.Uint64("epoch", epoch),
			zap.Uint64("current", t.epoch))
		return PrependResult{}, false
	}
	t.fetching = false
	t.hasMore = page.HasMore

	var added []Message
	for _, m := range page.Messages {
		if _, dup := t.index[m.ID]; dup {
			continue
		}
		added = append(added, m)
	}
	for _, m := range added {
		t.insertLocked(m)
	}

	res := PrependResult{Added: len(added), HasMore: t.hasMore}
	if measure != nil && len(added) > 0 {
		res.HeightDelta = measure(added)
	}
	return res, true
}

// HasMore reports whether older history may still exist server-side.
func (t *Timeline) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMore
}

// ============================================================================
// internals
// ============================================================================

// insertLocked places m at its sorted position. Duplicate ids are no-ops.
func (t *Timeline) insertLocked(m Message) bool {
	if _, dup := t.index[m.ID]; dup {
		return false
	}
	pos := sort.Search(len(t.messages), func(i int) bool {
		return t.messages[i].ID > m.ID
	})
	t.messages = append(t.messages, Message{})
	copy(t.messages[pos+1:], t.messages[pos:])
	t.messages[pos] = m
	if pos == len(t.messages)-1 {
		t.index[m.ID] = pos
	} else {
		t.reindexLocked()
	}
	return true
}

func (t *Timeline) reindexLocked() {
	t.index = make(map[int64]int, len(t.messages))
	for i, m := range t.messages {
		t.index[m.ID] = i
	}
}
