package courier

import (
	"encoding/json"
	"testing"
)

func TestDispatcherRoutesTypedFrames(t *testing.T) {
	s := NewSocket(SocketConfig{})

	var gotMessage *Message
	var gotTyping *TypingEvent
	var gotCall *CallEvent
	s.OnMessage(func(m Message) { gotMessage = &m })
	s.OnTyping(func(ev TypingEvent) { gotTyping = &ev })
	s.OnCallOffer(func(ev CallEvent) { gotCall = &ev })

	s.dispatcher.dispatch("message", json.RawMessage(
		`{"type":"message","id":42,"chat_id":"chat-1","sender":"bob","text":"hi","created_at":1700000042}`))
	s.dispatcher.dispatch("typing", json.RawMessage(
		`{"type":"typing","chat_id":"chat-1","username":"bob","is_typing":true}`))
	s.dispatcher.dispatch("call_offer", json.RawMessage(
		`{"type":"call_offer","chat_id":"chat-1","call_id":"c-1","mode":"video","username":"bob"}`))

	if gotMessage == nil || gotMessage.ID != 42 || gotMessage.Sender != "bob" {
		t.Fatalf("message = %+v", gotMessage)
	}
	if gotTyping == nil || !gotTyping.IsTyping || gotTyping.Username != "bob" {
		t.Fatalf("typing = %+v", gotTyping)
	}
	if gotCall == nil || gotCall.CallID != "c-1" || gotCall.Mode != "video" {
		t.Fatalf("call = %+v", gotCall)
	}
}

func TestDispatcherUnknownType(t *testing.T) {
	s := NewSocket(SocketConfig{})

	var unknownType string
	s.OnUnknown(func(frameType string, data json.RawMessage) { unknownType = frameType })

	typedCalled := false
	s.OnMessage(func(Message) { typedCalled = true })

	s.dispatcher.dispatch("presence_wave", json.RawMessage(`{"type":"presence_wave"}`))

	if unknownType != "presence_wave" {
		t.Fatalf("unknown hook got %q", unknownType)
	}
	if typedCalled {
		t.Fatal("typed handlers must not fire for unknown frames")
	}
}

func TestDispatcherMalformedFrameDropped(t *testing.T) {
	s := NewSocket(SocketConfig{})

	called := false
	s.OnRead(func(ReadEvent) { called = true })

	// last_read_id has the wrong JSON type; the frame is dropped.
	s.dispatcher.dispatch("read", json.RawMessage(
		`{"type":"read","chat_id":"chat-1","username":"bob","last_read_id":"not-a-number"}`))

	if called {
		t.Fatal("malformed frame must not reach handlers")
	}
}

func TestDispatcherGenericHandler(t *testing.T) {
	s := NewSocket(SocketConfig{})

	var raw json.RawMessage
	s.On("pin_added", func(frameType string, data json.RawMessage) { raw = data })

	var typed *PinEvent
	s.OnPinAdded(func(ev PinEvent) { typed = &ev })

	s.dispatcher.dispatch("pin_added", json.RawMessage(
		`{"type":"pin_added","chat_id":"chat-1","message_id":7,"username":"bob"}`))

	if typed == nil || typed.MessageID != 7 {
		t.Fatalf("typed pin = %+v", typed)
	}
	if len(raw) == 0 {
		t.Fatal("generic handler should receive the raw frame")
	}
}
