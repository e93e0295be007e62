package courier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Connection state
// ============================================================================

// ConnState is the socket connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// ============================================================================
// Socket
// ============================================================================

// Socket maintains the single multiplexed event connection for an account.
//
// It never retries on its own: a lost connection surfaces as a state change
// plus the disconnected callback, and the owner decides when to call Connect
// again (see Reconnector for a ready-made backoff policy). At most one
// connection exists at a time — Connect tears down the previous one first.
type Socket struct {
	baseURL string
	token   func() string
	resume  func() int64

	mu       sync.Mutex
	conn     *websocket.Conn
	state    ConnState
	cancelFn context.CancelFunc

	dispatcher *dispatcher
	log        *zap.Logger

	onConnected    []func()
	onDisconnected []func(reason string)
}

// SocketConfig configures a Socket.
type SocketConfig struct {
	// BaseURL is the http(s) server base; it is rewritten to ws(s) for dialing.
	BaseURL string
	// Token yields the current bearer token at dial time, so a refreshed
	// token is picked up on the next reconnect.
	Token func() string
	// Resume yields the resume cursor at dial time. The server replays
	// events with id strictly greater than this value.
	Resume func() int64
	// Logger is optional; nil means no logging.
	Logger *zap.Logger
}

// NewSocket creates a socket manager in the Disconnected state.
func NewSocket(config SocketConfig) *Socket {
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	resume := config.Resume
	if resume == nil {
		resume = func() int64 { return 0 }
	}
	token := config.Token
	if token == nil {
		token = func() string { return "" }
	}
	return &Socket{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		token:      token,
		resume:     resume,
		state:      StateDisconnected,
		dispatcher: newDispatcher(log),
		log:        log,
	}
}

// State returns the current connection state.
func (s *Socket) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnConnected registers a handler invoked after each successful dial.
func (s *Socket) OnConnected(h func()) {
	s.mu.Lock()
	s.onConnected = append(s.onConnected, h)
	s.mu.Unlock()
}

// OnDisconnected registers a handler invoked when the connection is lost
// or closed.
func (s *Socket) OnDisconnected(h func(reason string)) {
	s.mu.Lock()
	s.onDisconnected = append(s.onDisconnected, h)
	s.mu.Unlock()
}

// On registers a raw handler for one frame type. Frames whose type has no
// typed decoding still arrive here.
func (s *Socket) On(frameType string, h FrameHandler) {
	s.dispatcher.mu.Lock()
	s.dispatcher.generic[frameType] = append(s.dispatcher.generic[frameType], h)
	s.dispatcher.mu.Unlock()
}

// OnUnknown registers a handler for frames of unrecognized type. Unknown
// frames are otherwise ignored.
func (s *Socket) OnUnknown(h FrameHandler) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onUnknown = append(s.dispatcher.onUnknown, h)
	s.dispatcher.mu.Unlock()
}

// Connect dials the event socket, resuming from the current cursor.
// A live previous connection is closed first so two sessions never run
// concurrently for one account.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.cancelFn != nil {
		s.cancelFn()
		s.cancelFn = nil
	}
	old := s.conn
	s.conn = nil
	s.state = StateConnecting
	s.mu.Unlock()

	if old != nil {
		old.Close(websocket.StatusNormalClosure, "replaced")
	}

	wsURL := strings.Replace(s.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += fmt.Sprintf("/ws?token=%s&since=%d", s.token(), s.resume())

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}
	// History replay frames can exceed the library default.
	conn.SetReadLimit(1 << 20)

	connCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.cancelFn = cancel
	connected := append([]func(){}, s.onConnected...)
	s.mu.Unlock()

	s.log.Info("socket connected", zap.Int64("since", s.resume()))
	for _, h := range connected {
		h()
	}

	go s.readLoop(connCtx, conn)
	return nil
}

// Disconnect closes the connection deliberately. Safe to call when already
// disconnected.
func (s *Socket) Disconnect() error {
	s.mu.Lock()
	if s.cancelFn != nil {
		s.cancelFn()
		s.cancelFn = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			// A replaced or deliberately closed connection is not a loss.
			current := s.conn == conn
			if current {
				s.conn = nil
				s.state = StateDisconnected
			}
			handlers := append([]func(string){}, s.onDisconnected...)
			s.mu.Unlock()

			if current {
				s.log.Info("socket disconnected", zap.Error(err))
				for _, h := range handlers {
					h(err.Error())
				}
			}
			return
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil || head.Type == "" {
			s.log.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}

		// Application-level liveness probe.
		if head.Type == "ping" {
			s.send(ctx, map[string]string{"type": "pong"})
			continue
		}

		s.dispatcher.dispatch(head.Type, data)
	}
}

// ============================================================================
// Outbound frames
// ============================================================================

// FrameSender is the outbound signaling surface the receipt, typing, and
// call trackers depend on. *Socket implements it; tests substitute a
// recorder.
type FrameSender interface {
	SendTyping(ctx context.Context, chatID string, isTyping bool)
	SendDelivered(ctx context.Context, chatID string, messageID int64)
	SendCallFrame(ctx context.Context, frameType string, ev CallEvent)
}

// send writes one JSON frame. Sending while disconnected is a no-op: the
// frames sent this way (typing, delivered, call signaling) are all safe to
// lose, and the session reconciles state on reconnect.
func (s *Socket) send(ctx context.Context, v interface{}) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.log.Debug("frame send failed", zap.Error(err))
	}
}

// SendTyping emits a typing on/off signal for a chat.
func (s *Socket) SendTyping(ctx context.Context, chatID string, isTyping bool) {
	s.send(ctx, map[string]interface{}{
		"type":      "typing",
		"chat_id":   chatID,
		"is_typing": isTyping,
	})
}

// SendDelivered emits a fire-and-forget delivery receipt for a message.
func (s *Socket) SendDelivered(ctx context.Context, chatID string, messageID int64) {
	s.send(ctx, map[string]interface{}{
		"type":       "delivered",
		"chat_id":    chatID,
		"message_id": messageID,
	})
}

// SendCallFrame emits one call signaling frame. frameType is one of
// call_offer, call_answer, call_reject, call_timeout, call_end.
func (s *Socket) SendCallFrame(ctx context.Context, frameType string, ev CallEvent) {
	frame := map[string]interface{}{
		"type":    frameType,
		"chat_id": ev.ChatID,
		"call_id": ev.CallID,
	}
	if ev.Mode != "" {
		frame["mode"] = ev.Mode
	}
	if ev.Reason != "" {
		frame["reason"] = ev.Reason
	}
	if ev.Duration > 0 {
		frame["duration"] = ev.Duration
	}
	s.send(ctx, frame)
}

// ============================================================================
// Reconnector
// ============================================================================

// Reconnector computes reconnect delays: exponential backoff with jitter,
// capped at MaxDelay, with the attempt counter reset once a connection has
// held for a minute. The Socket never reconnects by itself; loop over
// NextDelay and Connect in the owner:
//
//	for {
//		if err := sock.Connect(ctx); err == nil {
//			recon.MarkConnected()
//			<-lost // wait for OnDisconnected
//		}
//		if !recon.ShouldRetry() {
//			break
//		}
//		time.Sleep(recon.NextDelay())
//	}
type Reconnector struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int // 0 means unlimited

	attempt     int
	connectedAt time.Time
}

// NewReconnector returns a Reconnector with 1s base, 30s cap, unlimited
// attempts.
func NewReconnector() *Reconnector {
	return &Reconnector{
		BaseDelay: 1 * time.Second,
		MaxDelay:  30 * time.Second,
	}
}

// ShouldRetry reports whether another attempt is allowed.
func (r *Reconnector) ShouldRetry() bool {
	return r.MaxAttempts == 0 || r.attempt < r.MaxAttempts
}

// MarkConnected records a successful connection.
func (r *Reconnector) MarkConnected() {
	r.connectedAt = time.Now()
}

// Attempt returns the number of delays handed out since the last stable
// connection.
func (r *Reconnector) Attempt() int {
	return r.attempt
}

// NextDelay returns the next backoff delay and advances the attempt counter.
func (r *Reconnector) NextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.BaseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.BaseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.MaxDelay),
	))
	r.attempt++
	return delay
}

// Reset clears the backoff state.
func (r *Reconnector) Reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}
