package chat_test

import (
	"testing"

	"github.com/amora-labs/amora/client/internal/model/chat"
)

func TestDecodeInboundAIChat(t *testing.T) {
	raw := []byte(`{"aiChat":{"id":"m1","userId":"u1","assistantId":"c1","channelId":"ch1","message":"hello","sender":"AI","createdAt":"2026-01-02T15:04:05Z"}}`)

	payload := chat.DecodeInbound(raw)
	ai, ok := payload.(chat.AIChatPayload)
	if !ok {
		t.Fatalf("payload type %T", payload)
	}
	if ai.ID != "m1" || ai.Message != "hello" || ai.Sender != chat.SenderAI {
		t.Fatalf("unexpected payload: %+v", ai)
	}

	msg := ai.ToMessage()
	if msg.Content != "hello" || msg.CreatedAt.IsZero() {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestDecodeInboundError(t *testing.T) {
	payload := chat.DecodeInbound([]byte(`{"error":"Bad Request","status":400}`))
	errPayload, ok := payload.(chat.ErrorPayload)
	if !ok {
		t.Fatalf("payload type %T", payload)
	}
	if errPayload.Error != "Bad Request" || errPayload.Status != 400 {
		t.Fatalf("unexpected payload: %+v", errPayload)
	}
}

func TestDecodeInboundPlainText(t *testing.T) {
	payload := chat.DecodeInbound([]byte(`{"message":"just text"}`))
	plain, ok := payload.(chat.PlainPayload)
	if !ok {
		t.Fatalf("payload type %T", payload)
	}
	if plain.Message != "just text" {
		t.Fatalf("unexpected payload: %+v", plain)
	}
}

func TestDecodeInboundMalformedDegrades(t *testing.T) {
	raw := "this is not json"
	payload := chat.DecodeInbound([]byte(raw))
	plain, ok := payload.(chat.PlainPayload)
	if !ok {
		t.Fatalf("payload type %T", payload)
	}
	if plain.Message != raw {
		t.Fatalf("raw text lost: %q", plain.Message)
	}
}

func TestToMessageDefaults(t *testing.T) {
	msg := chat.AIChatPayload{ID: "m2", Message: "hi"}.ToMessage()
	if msg.Sender != chat.SenderAI {
		t.Fatalf("sender default: %q", msg.Sender)
	}
	if msg.CreatedAt.IsZero() {
		t.Fatal("createdAt not defaulted")
	}
}
