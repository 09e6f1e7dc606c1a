package events

import (
	"io"
	"log/slog"
	"testing"

	chatModels "sandchat/internal/domain/models/chat"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHub_PublishRoutesByChat(t *testing.T) {
	h := newTestHub()
	a, unsubA := h.Subscribe("a")
	defer unsubA()
	b, unsubB := h.Subscribe("b")
	defer unsubB()

	h.Publish(chatModels.Event{Type: chatModels.EventConsole, ChatID: "a"})

	select {
	case evt := <-a:
		if evt.Type != chatModels.EventConsole {
			t.Errorf("got type %q", evt.Type)
		}
	default:
		t.Fatal("subscriber of chat a received nothing")
	}
	select {
	case evt := <-b:
		t.Fatalf("subscriber of chat b received %+v", evt)
	default:
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := newTestHub()
	ch, unsub := h.Subscribe("a")
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	if n := h.Subscribers("a"); n != 0 {
		t.Errorf("Subscribers = %d, want 0", n)
	}
	// Publishing to a chat without subscribers is a no-op
	h.Publish(chatModels.Event{Type: chatModels.EventConsole, ChatID: "a"})
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := newTestHub()
	ch, unsub := h.Subscribe("a")
	defer unsub()

	for i := 0; i < subscriberBuffer*2; i++ {
		h.Publish(chatModels.Event{Type: chatModels.EventConsole, ChatID: "a"})
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("buffered %d events, want %d", len(ch), subscriberBuffer)
	}
}

func TestHub_CloseChat(t *testing.T) {
	h := newTestHub()
	ch, unsub := h.Subscribe("a")
	h.CloseChat("a")
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after CloseChat")
	}
	unsub()
}
