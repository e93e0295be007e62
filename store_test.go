package courier

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "state"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreCursorMonotonic(t *testing.T) {
	s := openTestStore(t)

	if got := s.Cursor("alice"); got != 0 {
		t.Fatalf("fresh cursor = %d, want 0", got)
	}

	s.SetCursor("alice", 100)
	if got := s.Cursor("alice"); got != 100 {
		t.Fatalf("cursor = %d, want 100", got)
	}

	// Replays and races can only raise the cursor.
	s.SetCursor("alice", 40)
	s.SetCursor("alice", 100)
	if got := s.Cursor("alice"); got != 100 {
		t.Fatalf("cursor = %d, want 100 after lower writes", got)
	}
	s.SetCursor("alice", 101)
	if got := s.Cursor("alice"); got != 101 {
		t.Fatalf("cursor = %d, want 101", got)
	}

	// Cursors are per account.
	if got := s.Cursor("bob"); got != 0 {
		t.Fatalf("bob's cursor = %d, want 0", got)
	}
}

func TestStoreHiddenMessages(t *testing.T) {
	s := openTestStore(t)

	s.HideMessage("alice", 7)
	s.HideMessage("alice", 3)
	s.HideMessage("bob", 99)

	if !s.IsHidden("alice", 7) {
		t.Fatal("7 should be hidden for alice")
	}
	if s.IsHidden("alice", 99) {
		t.Fatal("bob's hidden id must not leak to alice")
	}

	ids, err := s.HiddenIDs("alice")
	if err != nil {
		t.Fatalf("hidden ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 7 {
		t.Fatalf("hidden ids = %v, want [3 7]", ids)
	}
}

func TestStoreCallLogNewestFirst(t *testing.T) {
	s := openTestStore(t)

	for i, started := range []int64{1000, 2000, 3000} {
		err := s.AppendCallLog(CallRecord{
			CallID:    string(rune('a' + i)),
			ChatID:    "chat-1",
			Mode:      "voice",
			StartedAt: started,
			Reason:    EndHangup,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	records, err := s.CallLog(2)
	if err != nil {
		t.Fatalf("call log: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 (limit)", len(records))
	}
	if records[0].StartedAt != 3000 || records[1].StartedAt != 2000 {
		t.Fatalf("order wrong: %v, %v", records[0].StartedAt, records[1].StartedAt)
	}
}
