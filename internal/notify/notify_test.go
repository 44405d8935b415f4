package notify

import (
	"testing"

	"github.com/mmeshcher/khatapos-system/internal/model"
)

func TestBroadcaster_PublishToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()

	first := b.Subscribe()
	second := b.Subscribe()

	b.Publish(model.EventSuccess, "sale completed")

	for i, ch := range []<-chan model.Event{first, second} {
		select {
		case e := <-ch:
			if e.Type != model.EventSuccess || e.Message != "sale completed" {
				t.Fatalf("subscriber %d got %+v", i, e)
			}
		default:
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestBroadcaster_Invalidate(t *testing.T) {
	b := NewBroadcaster()

	ch := b.SubscribeInvalidations()
	b.Invalidate("products")

	select {
	case scope := <-ch:
		if scope != "products" {
			t.Fatalf("scope = %q, want %q", scope, "products")
		}
	default:
		t.Fatalf("no invalidation received")
	}
}

func TestBroadcaster_SlowSubscriberDropped(t *testing.T) {
	b := NewBroadcaster()

	ch := b.Subscribe()
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(model.EventInfo, "tick")
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}

	if received != subscriberBuffer {
		t.Fatalf("received = %d, want %d", received, subscriberBuffer)
	}
}

func TestBroadcaster_PublishWithoutSubscribers(t *testing.T) {
	b := NewBroadcaster()

	// Не должно блокироваться и паниковать.
	b.Publish(model.EventError, "nobody listens")
	b.Invalidate("customers")
}
