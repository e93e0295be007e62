package courier

import (
	"context"

	"go.uber.org/zap"
)

// ============================================================================
// ReactionReconciler
// ============================================================================

// ReactionReconciler keeps a message's rendered reaction state consistent
// between local toggles and the event stream.
//
// Rendered state per message is an emoji→count map plus the viewer's own
// emoji set. The two move independently: a local toggle flips the viewer set
// synchronously and issues the REST call, while the count map is driven by
// inbound reaction events alone — the server echoes the viewer's own
// add/remove back over the socket, and that echo is what bumps the count.
// Every event applies a ±1 delta, clamped at zero, with zero-count entries
// removed.
type ReactionReconciler struct {
	username string
	timeline *Timeline
	client   *Client
	log      *zap.Logger
}

// NewReactionReconciler builds a reconciler over the active timeline.
func NewReactionReconciler(username string, timeline *Timeline, client *Client, log *zap.Logger) *ReactionReconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReactionReconciler{
		username: username,
		timeline: timeline,
		client:   client,
		log:      log,
	}
}

// Toggle flips the viewer's reaction on a message: adds the emoji if the
// viewer has not reacted with it, removes it otherwise. Only the viewer set
// changes here; the rendered count follows when the event echo arrives. A
// failed request is surfaced and the viewer set is left as toggled — the
// caller decides whether to retry or flip back.
func (r *ReactionReconciler) Toggle(ctx context.Context, messageID int64, emoji string) (added bool, err error) {
	found := r.timeline.Update(messageID, func(m *Message) {
		if viewerHas(m, emoji) {
			viewerRemove(m, emoji)
			added = false
		} else {
			viewerAdd(m, emoji)
			added = true
		}
	})
	if !found {
		return false, nil
	}

	if added {
		err = r.client.AddReaction(ctx, messageID, emoji)
	} else {
		err = r.client.RemoveReaction(ctx, messageID, emoji)
	}
	if err != nil {
		r.log.Warn("reaction request failed",
			zap.Int64("message_id", messageID),
			zap.String("emoji", emoji),
			zap.Error(err))
	}
	return added, err
}

// HandleAdded applies an inbound reaction_added event as a +1 delta. The
// viewer's own echo additionally keeps the viewer set in step (covers adds
// made from another device). Returns whether rendered state changed.
func (r *ReactionReconciler) HandleAdded(ev ReactionEvent) bool {
	changed := false
	r.timeline.Update(ev.MessageID, func(m *Message) {
		if ev.Username == r.username {
			viewerAdd(m, ev.Emoji)
		}
		applyDelta(m, ev.Emoji, +1)
		changed = true
	})
	return changed
}

// HandleRemoved applies an inbound reaction_removed event as a -1 delta,
// clamped at zero.
func (r *ReactionReconciler) HandleRemoved(ev ReactionEvent) bool {
	changed := false
	r.timeline.Update(ev.MessageID, func(m *Message) {
		if ev.Username == r.username {
			viewerRemove(m, ev.Emoji)
		}
		applyDelta(m, ev.Emoji, -1)
		changed = true
	})
	return changed
}

// ============================================================================
// rendered-state helpers
// ============================================================================

func applyDelta(m *Message, emoji string, delta int) {
	if m.Reactions == nil {
		if delta <= 0 {
			return
		}
		m.Reactions = make(map[string]int)
	}
	n := m.Reactions[emoji] + delta
	if n <= 0 {
		delete(m.Reactions, emoji)
		return
	}
	m.Reactions[emoji] = n
}

func viewerHas(m *Message, emoji string) bool {
	for _, e := range m.MyReactions {
		if e == emoji {
			return true
		}
	}
	return false
}

func viewerAdd(m *Message, emoji string) {
	if !viewerHas(m, emoji) {
		m.MyReactions = append(m.MyReactions, emoji)
	}
}

func viewerRemove(m *Message, emoji string) {
	for i, e := range m.MyReactions {
		if e == emoji {
			m.MyReactions = append(m.MyReactions[:i], m.MyReactions[i+1:]...)
			return
		}
	}
}
