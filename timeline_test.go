package courier

import (
	"testing"
)

func TestTimelineApplyIdempotent(t *testing.T) {
	tl := NewTimeline(nil)
	epoch := tl.SwitchTo("chat-1")
	tl.Seed(epoch, &HistoryPage{HasMore: false})

	m := testMessage(10, "chat-1", "bob", "hi")
	if !tl.Apply(m) {
		t.Fatal("first apply should change the timeline")
	}
	if tl.Apply(m) {
		t.Fatal("second apply of the same id should be a no-op")
	}
	if got := tl.Len(); got != 1 {
		t.Fatalf("len = %d, want 1", got)
	}
}

func TestTimelineOrdering(t *testing.T) {
	tl := NewTimeline(nil)
	epoch := tl.SwitchTo("chat-1")
	tl.Seed(epoch, &HistoryPage{HasMore: false})

	for _, id := range []int64{5, 2, 9, 7} {
		tl.Apply(testMessage(id, "chat-1", "bob", "x"))
	}
	msgs := tl.Messages()
	want := []int64{2, 5, 7, 9}
	for i, m := range msgs {
		if m.ID != want[i] {
			t.Fatalf("position %d has id %d, want %d", i, m.ID, want[i])
		}
	}
}

func TestTimelineIgnoresOtherConversations(t *testing.T) {
	tl := NewTimeline(nil)
	epoch := tl.SwitchTo("chat-1")
	tl.Seed(epoch, &HistoryPage{HasMore: false})

	if tl.Apply(testMessage(1, "chat-2", "bob", "elsewhere")) {
		t.Fatal("message for another conversation must not apply")
	}
	if tl.Len() != 0 {
		t.Fatal("timeline should stay empty")
	}
}

func TestTimelineSwitchClearsAndBumpsEpoch(t *testing.T) {
	tl := NewTimeline(nil)
	e1 := tl.SwitchTo("chat-1")
	tl.Seed(e1, &HistoryPage{Messages: []Message{testMessage(1, "chat-1", "bob", "a")}})

	e2 := tl.SwitchTo("chat-2")
	if e2 <= e1 {
		t.Fatalf("epoch must advance: %d -> %d", e1, e2)
	}
	if tl.Len() != 0 {
		t.Fatal("switch must clear the cache")
	}

	// The seed page for chat-1 finally arrives. Stale epoch, discarded.
	if tl.Seed(e1, &HistoryPage{Messages: []Message{testMessage(2, "chat-1", "bob", "b")}}) {
		t.Fatal("stale seed must be discarded")
	}
	if tl.Len() != 0 {
		t.Fatal("stale seed must not populate the cache")
	}
}

func TestTimelinePendingReplayAfterSeed(t *testing.T) {
	tl := NewTimeline(nil)
	epoch := tl.SwitchTo("chat-1")

	// Live events land while the seed fetch is still in flight.
	tl.Apply(testMessage(11, "chat-1", "bob", "live"))
	tl.Apply(testMessage(11, "chat-1", "bob", "live")) // duplicate

	tl.Seed(epoch, &HistoryPage{Messages: []Message{
		testMessage(9, "chat-1", "bob", "old"),
		testMessage(10, "chat-1", "alice", "older"),
	}})

	msgs := tl.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[2].ID != 11 {
		t.Fatalf("replayed event should be last, got id %d", msgs[2].ID)
	}
}

func TestTimelineOlderFetchSingleFlight(t *testing.T) {
	tl := NewTimeline(nil)
	epoch := tl.SwitchTo("chat-1")
	tl.Seed(epoch, &HistoryPage{
		Messages: []Message{testMessage(50, "chat-1", "bob", "x")},
		HasMore:  true,
	})

	beforeID, fetchEpoch, ok := tl.BeginOlderFetch()
	if !ok {
		t.Fatal("first fetch should be allowed")
	}
	if beforeID != 50 {
		t.Fatalf("beforeID = %d, want 50", beforeID)
	}
	if _, _, ok := tl.BeginOlderFetch(); ok {
		t.Fatal("second concurrent fetch must be refused")
	}

	res, applied := tl.CompleteOlderFetch(fetchEpoch, &HistoryPage{
		Messages: []Message{testMessage(49, "chat-1", "bob", "y")},
		HasMore:  false,
	}, nil)
	if !applied || res.Added != 1 {
		t.Fatalf("applied=%v added=%d, want true/1", applied, res.Added)
	}

	// has_more=false latches.
	if _, _, ok := tl.BeginOlderFetch(); ok {
		t.Fatal("fetch after has_more=false must be refused")
	}
}

func TestTimelineOlderFetchStaleEpochDiscarded(t *testing.T) {
	tl := NewTimeline(nil)
	epoch := tl.SwitchTo("chat-1")
	tl.Seed(epoch, &HistoryPage{
		Messages: []Message{testMessage(50, "chat-1", "bob", "x")},
		HasMore:  true,
	})

	_, fetchEpoch, ok := tl.BeginOlderFetch()
	if !ok {
		t.Fatal("fetch should start")
	}

	newEpoch := tl.SwitchTo("chat-2")
	tl.Seed(newEpoch, &HistoryPage{HasMore: false})

	if _, applied := tl.CompleteOlderFetch(fetchEpoch, &HistoryPage{
		Messages: []Message{testMessage(49, "chat-1", "bob", "y")},
	}, nil); applied {
		t.Fatal("page fetched for the old conversation must be discarded")
	}
	if tl.Len() != 0 {
		t.Fatal("stale page must not leak into the new conversation")
	}
}

func TestTimelineOlderFetchAbortAllowsRetry(t *testing.T) {
	tl := NewTimeline(nil)
	epoch := tl.SwitchTo("chat-1")
	tl.Seed(epoch, &HistoryPage{
		Messages: []Message{testMessage(50, "chat-1", "bob", "x")},
		HasMore:  true,
	})

	_, fetchEpoch, _ := tl.BeginOlderFetch()
	tl.AbortOlderFetch(fetchEpoch)
	if _, _, ok := tl.BeginOlderFetch(); !ok {
		t.Fatal("retry after abort should be allowed")
	}
}

func TestTimelinePrependMeasure(t *testing.T) {
	tl := NewTimeline(nil)
	epoch := tl.SwitchTo("chat-1")
	tl.Seed(epoch, &HistoryPage{
		Messages: []Message{testMessage(50, "chat-1", "bob", "x")},
		HasMore:  true,
	})

	_, fetchEpoch, _ := tl.BeginOlderFetch()
	res, _ := tl.CompleteOlderFetch(fetchEpoch, &HistoryPage{
		Messages: []Message{
			testMessage(48, "chat-1", "bob", "a"),
			testMessage(49, "chat-1", "bob", "b"),
		},
		HasMore: true,
	}, func(added []Message) int {
		return len(added) * 20
	})
	if res.HeightDelta != 40 {
		t.Fatalf("height delta = %d, want 40", res.HeightDelta)
	}
}

func TestTimelineEditDeleteHide(t *testing.T) {
	tl := NewTimeline(nil)
	epoch := tl.SwitchTo("chat-1")
	tl.Seed(epoch, &HistoryPage{Messages: []Message{
		testMessage(1, "chat-1", "bob", "one"),
		testMessage(2, "chat-1", "bob", "two"),
		testMessage(3, "chat-1", "bob", "three"),
	}})

	t.Run("edit", func(t *testing.T) {
		if !tl.ApplyEdit(MessageEditedEvent{ChatID: "chat-1", ID: 2, Text: "TWO"}) {
			t.Fatal("edit should apply")
		}
		m, _ := tl.Get(2)
		if m.Text != "TWO" || !m.IsEdited {
			t.Fatalf("edit not applied: %+v", m)
		}
	})

	t.Run("delete for all keeps the slot", func(t *testing.T) {
		if !tl.ApplyDelete(MessageDeletedEvent{ChatID: "chat-1", ID: 1}) {
			t.Fatal("delete should apply")
		}
		m, ok := tl.Get(1)
		if !ok || !m.DeletedForAll || m.Text != "" {
			t.Fatalf("tombstone wrong: %+v", m)
		}
		if tl.Len() != 3 {
			t.Fatal("tombstoned message must stay in the timeline")
		}
	})

	t.Run("hide removes the slot", func(t *testing.T) {
		if !tl.Hide(3) {
			t.Fatal("hide should apply")
		}
		if _, ok := tl.Get(3); ok {
			t.Fatal("hidden message must be gone")
		}
		if tl.Len() != 2 {
			t.Fatalf("len = %d, want 2", tl.Len())
		}
	})
}
