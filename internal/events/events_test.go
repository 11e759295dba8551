package events

import (
	"testing"
	"time"

	"github.com/harborchat/harbor/internal/models"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(Broadcast{Sub: GuildSub(42), Kind: "SentMessage"})

	select {
	case got := <-sub.C():
		if got.Kind != "SentMessage" {
			t.Fatalf("got kind %q, want SentMessage", got.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	b := New(nil)
	subs := make([]*Subscription, 3)
	for i := range subs {
		subs[i] = b.Subscribe()
		defer subs[i].Close()
	}

	b.Publish(Broadcast{Sub: ActionsSub, Kind: "Ping"})

	for _, s := range subs {
		select {
		case got := <-s.C():
			if got.Kind != "Ping" {
				t.Fatalf("got %q, want Ping", got.Kind)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive broadcast")
		}
	}
}

func TestCloseUnregisters(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe()
	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", b.Len())
	}
	sub.Close()
	if b.Len() != 0 {
		t.Fatalf("Len() after Close = %d, want 0", b.Len())
	}
}

func TestLaggingSubscriberIsDropped(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe()
	defer sub.Close()

	// Fill the subscriber's buffer past capacity without draining it.
	for i := 0; i < subscriberCapacity+1; i++ {
		b.Publish(Broadcast{Sub: GuildSub(models.ID(1)), Kind: "Filler"})
	}

	select {
	case <-sub.Lagged():
	case <-time.After(time.Second):
		t.Fatal("expected Lagged channel to close after exceeding capacity")
	}
}

func TestGuildSubCarriesGuildID(t *testing.T) {
	s := GuildSub(models.ID(7))
	if s.Kind != SubGuild || s.Guild != models.ID(7) {
		t.Fatalf("got %+v", s)
	}
}
