package courier

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRingTimeout is how long an unanswered call rings before it is
// recorded as missed.
const DefaultRingTimeout = 30 * time.Second

// ============================================================================
// Media
// ============================================================================

// MediaProvider acquires capture devices for a call. Implementations wrap
// whatever the host application uses for audio/video.
type MediaProvider interface {
	// Acquire obtains the devices for the given mode ("voice" or "video").
	Acquire(ctx context.Context, mode string) (MediaHandle, error)
}

// MediaHandle is an acquired device set. Release must be idempotent.
type MediaHandle interface {
	Release()
}

// NopMediaProvider satisfies MediaProvider with no real devices, for
// headless clients that still want call signaling.
type NopMediaProvider struct{}

type nopMediaHandle struct{}

func (nopMediaHandle) Release() {}

func (NopMediaProvider) Acquire(ctx context.Context, mode string) (MediaHandle, error) {
	return nopMediaHandle{}, nil
}

// ============================================================================
// CallManager
// ============================================================================

// CallManager runs the signaling state machine for one-at-a-time calls.
//
// Lifecycle: Idle → Dialing (outbound) or Ringing (inbound), then Connected
// on answer, then Ended. Every path into Ended releases the media handle
// exactly once and cancels the ring timer. A session that has reached Ended
// is inert; the manager returns to Idle state tracking with the next Dial
// or offer.
type CallManager struct {
	mu sync.Mutex

	username    string
	socket      FrameSender
	sched       Scheduler
	media       MediaProvider
	ringTimeout time.Duration
	log         *zap.Logger

	current    *CallSession
	handle     MediaHandle
	cancelRing func()

	onState []func(CallSession)
}

// CallConfig configures a CallManager.
type CallConfig struct {
	Username string
	Socket   FrameSender
	// Scheduler drives the ring timer; nil selects the wall clock.
	Scheduler Scheduler
	// Media acquires devices; nil selects NopMediaProvider.
	Media MediaProvider
	// RingTimeout defaults to DefaultRingTimeout when zero.
	RingTimeout time.Duration
	Logger      *zap.Logger
}

// NewCallManager builds an idle call manager.
func NewCallManager(config CallConfig) *CallManager {
	sched := config.Scheduler
	if sched == nil {
		sched = NewScheduler()
	}
	media := config.Media
	if media == nil {
		media = NopMediaProvider{}
	}
	timeout := config.RingTimeout
	if timeout <= 0 {
		timeout = DefaultRingTimeout
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &CallManager{
		username:    config.Username,
		socket:      config.Socket,
		sched:       sched,
		media:       media,
		ringTimeout: timeout,
		log:         log,
	}
}

// OnState registers an observer invoked on every state transition with a
// snapshot of the session.
func (c *CallManager) OnState(h func(CallSession)) {
	c.mu.Lock()
	c.onState = append(c.onState, h)
	c.mu.Unlock()
}

// Current returns a snapshot of the tracked call session, or a zero session
// in the Idle state.
func (c *CallManager) Current() CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return CallSession{State: CallIdle}
	}
	return *c.current
}

// State returns the current call state.
func (c *CallManager) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return CallIdle
	}
	return c.current.State
}

// ============================================================================
// Local actions
// ============================================================================

// Dial starts an outbound call in a chat. An active call is ended first.
// Media is acquired before any signaling goes out; an acquisition failure
// ends the session locally without ever ringing the peer.
func (c *CallManager) Dial(ctx context.Context, chatID, mode string) (*CallSession, error) {
	c.mu.Lock()
	replaced := c.current != nil && c.current.State != CallIdle && c.current.State != CallEnded
	var prev CallSession
	if replaced {
		c.endLocked(EndReplaced)
		prev = *c.current
	}
	c.mu.Unlock()
	if replaced {
		c.socket.SendCallFrame(ctx, "call_end", CallEvent{
			ChatID:   prev.ChatID,
			CallID:   prev.ID,
			Duration: prev.Duration(),
		})
		c.notify(prev)
	}

	handle, err := c.media.Acquire(ctx, mode)
	if err != nil {
		c.log.Warn("media acquisition failed", zap.String("mode", mode), zap.Error(err))
		c.mu.Lock()
		c.current = &CallSession{
			ID:        uuid.NewString(),
			ChatID:    chatID,
			Mode:      mode,
			Initiator: c.username,
			StartedAt: c.sched.Now().Unix(),
		}
		c.endLocked(EndMediaError)
		sess := *c.current
		c.mu.Unlock()
		c.notify(sess)
		return &sess, err
	}

	c.mu.Lock()
	callID := uuid.NewString()
	c.current = &CallSession{
		ID:        callID,
		ChatID:    chatID,
		Mode:      mode,
		State:     CallDialing,
		Initiator: c.username,
		StartedAt: c.sched.Now().Unix(),
	}
	c.handle = handle
	c.armRingTimerLocked(callID)
	sess := *c.current
	c.mu.Unlock()

	c.socket.SendCallFrame(ctx, "call_offer", CallEvent{
		ChatID: chatID,
		CallID: callID,
		Mode:   mode,
	})
	c.notify(sess)
	return &sess, nil
}

// Answer accepts the ringing inbound call. A media failure rejects the call
// best-effort and ends the session locally.
func (c *CallManager) Answer(ctx context.Context) error {
	c.mu.Lock()
	if c.current == nil || c.current.State != CallRinging {
		c.mu.Unlock()
		return nil
	}
	mode := c.current.Mode
	chatID := c.current.ChatID
	callID := c.current.ID
	c.mu.Unlock()

	handle, err := c.media.Acquire(ctx, mode)
	if err != nil {
		c.log.Warn("media acquisition failed", zap.String("mode", mode), zap.Error(err))
		c.socket.SendCallFrame(ctx, "call_reject", CallEvent{
			ChatID: chatID,
			CallID: callID,
			Reason: string(EndMediaError),
		})
		c.mu.Lock()
		if c.current != nil && c.current.ID == callID {
			c.endLocked(EndMediaError)
		}
		sess := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(sess)
		return err
	}

	c.mu.Lock()
	if c.current == nil || c.current.ID != callID || c.current.State != CallRinging {
		// The call went away while media was coming up.
		c.mu.Unlock()
		handle.Release()
		return nil
	}
	c.handle = handle
	c.cancelRingLocked()
	c.current.State = CallConnected
	c.current.ConnectedAt = c.sched.Now().Unix()
	sess := *c.current
	c.mu.Unlock()

	c.socket.SendCallFrame(ctx, "call_answer", CallEvent{ChatID: chatID, CallID: callID})
	c.notify(sess)
	return nil
}

// Reject declines the ringing inbound call.
func (c *CallManager) Reject(ctx context.Context) {
	c.mu.Lock()
	if c.current == nil || c.current.State != CallRinging {
		c.mu.Unlock()
		return
	}
	chatID := c.current.ChatID
	callID := c.current.ID
	c.endLocked(EndDeclined)
	sess := *c.current
	c.mu.Unlock()

	c.socket.SendCallFrame(ctx, "call_reject", CallEvent{ChatID: chatID, CallID: callID})
	c.notify(sess)
}

// HangUp ends the active call: cancels an outbound dial or terminates a
// connected call, emitting call_end with the connected duration.
func (c *CallManager) HangUp(ctx context.Context) {
	c.mu.Lock()
	if c.current == nil || c.current.State == CallIdle || c.current.State == CallEnded {
		c.mu.Unlock()
		return
	}
	chatID := c.current.ChatID
	callID := c.current.ID
	c.endLocked(EndHangup)
	sess := *c.current
	c.mu.Unlock()

	c.socket.SendCallFrame(ctx, "call_end", CallEvent{
		ChatID:   chatID,
		CallID:   callID,
		Duration: sess.Duration(),
	})
	c.notify(sess)
}

// ============================================================================
// Inbound signaling
// ============================================================================

// HandleOffer processes an inbound call_offer. While a call is already
// tracked, offers for any other call id are ignored (glare: both sides keep
// their own view; the frames for the tracked id resolve it).
func (c *CallManager) HandleOffer(ev CallEvent) {
	c.mu.Lock()
	if c.current != nil && c.current.State != CallIdle && c.current.State != CallEnded {
		busy := c.current.ID != ev.CallID
		c.mu.Unlock()
		if busy {
			c.log.Debug("ignoring call offer while busy", zap.String("call_id", ev.CallID))
		}
		return
	}
	c.current = &CallSession{
		ID:        ev.CallID,
		ChatID:    ev.ChatID,
		Mode:      ev.Mode,
		State:     CallRinging,
		Initiator: ev.Username,
		Peer:      ev.Username,
		StartedAt: c.sched.Now().Unix(),
	}
	c.armRingTimerLocked(ev.CallID)
	sess := *c.current
	c.mu.Unlock()
	c.notify(sess)
}

// HandleAnswer processes the peer accepting our outbound call.
func (c *CallManager) HandleAnswer(ev CallEvent) {
	c.mu.Lock()
	if c.current == nil || c.current.ID != ev.CallID || c.current.State != CallDialing {
		c.mu.Unlock()
		return
	}
	c.cancelRingLocked()
	c.current.State = CallConnected
	c.current.ConnectedAt = c.sched.Now().Unix()
	c.current.Peer = ev.Username
	sess := *c.current
	c.mu.Unlock()
	c.notify(sess)
}

// HandleReject processes the peer declining our outbound call.
func (c *CallManager) HandleReject(ev CallEvent) {
	c.mu.Lock()
	if c.current == nil || c.current.ID != ev.CallID || c.current.State != CallDialing {
		c.mu.Unlock()
		return
	}
	c.endLocked(EndRejected)
	sess := *c.current
	c.mu.Unlock()
	c.notify(sess)
}

// HandleTimeout processes a remote ring-timeout notification.
func (c *CallManager) HandleTimeout(ev CallEvent) {
	c.mu.Lock()
	if c.current == nil || c.current.ID != ev.CallID || c.current.State == CallEnded {
		c.mu.Unlock()
		return
	}
	c.endLocked(EndMissed)
	sess := *c.current
	c.mu.Unlock()
	c.notify(sess)
}

// HandleEnd processes the peer hanging up.
func (c *CallManager) HandleEnd(ev CallEvent) {
	c.mu.Lock()
	if c.current == nil || c.current.ID != ev.CallID || c.current.State == CallEnded {
		c.mu.Unlock()
		return
	}
	c.endLocked(EndRemote)
	sess := *c.current
	c.mu.Unlock()
	c.notify(sess)
}

// ============================================================================
// internals
// ============================================================================

// ringExpired fires when the ring timer elapses with the call unanswered.
// The caller side notifies the peer with call_timeout; the callee side just
// stops ringing.
func (c *CallManager) ringExpired(callID string) {
	c.mu.Lock()
	if c.current == nil || c.current.ID != callID ||
		(c.current.State != CallDialing && c.current.State != CallRinging) {
		c.mu.Unlock()
		return
	}
	wasDialing := c.current.State == CallDialing
	chatID := c.current.ChatID
	c.endLocked(EndMissed)
	sess := *c.current
	c.mu.Unlock()

	if wasDialing {
		c.socket.SendCallFrame(context.Background(), "call_timeout", CallEvent{
			ChatID: chatID,
			CallID: callID,
		})
	}
	c.notify(sess)
}

func (c *CallManager) armRingTimerLocked(callID string) {
	c.cancelRingLocked()
	c.cancelRing = c.sched.After(c.ringTimeout, func() {
		c.ringExpired(callID)
	})
}

func (c *CallManager) cancelRingLocked() {
	if c.cancelRing != nil {
		c.cancelRing()
		c.cancelRing = nil
	}
}

// endLocked moves the session into Ended, cancels the ring timer, and
// releases the media handle. Reaching Ended twice is impossible: callers
// check the state first, and the handle is nilled out here.
func (c *CallManager) endLocked(reason CallEndReason) {
	c.cancelRingLocked()
	if c.current != nil {
		c.current.State = CallEnded
		c.current.EndedAt = c.sched.Now().Unix()
		c.current.EndReason = reason
	}
	if c.handle != nil {
		c.handle.Release()
		c.handle = nil
	}
}

func (c *CallManager) snapshotLocked() CallSession {
	if c.current == nil {
		return CallSession{State: CallIdle}
	}
	return *c.current
}

func (c *CallManager) notify(sess CallSession) {
	c.mu.Lock()
	handlers := append([]func(CallSession){}, c.onState...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(sess)
	}
}
