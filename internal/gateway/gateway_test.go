package gateway

import (
	"testing"

	"github.com/harborchat/harbor/internal/events"
	"github.com/harborchat/harbor/internal/models"
)

type alwaysPass struct{}

func (alwaysPass) Recheck(user models.ID, check *events.PermCheck) bool { return true }

type alwaysFail struct{}

func (alwaysFail) Recheck(user models.ID, check *events.PermCheck) bool { return false }

func newTestLoop(user models.ID, perms PermissionRechecker, subs ...events.Sub) *Loop {
	l := &Loop{
		user:          user,
		perms:         perms,
		subscriptions: make(map[events.Sub]bool),
	}
	for _, s := range subs {
		l.subscriptions[s] = true
	}
	return l
}

func TestShouldDeliverRequiresSubscription(t *testing.T) {
	l := newTestLoop(1, alwaysPass{})
	ev := events.Broadcast{Sub: events.GuildSub(42), Kind: "SentMessage"}
	if l.shouldDeliver(ev) {
		t.Fatal("should not deliver an event for a sub the connection never subscribed to")
	}
}

func TestShouldDeliverMatchingSubscription(t *testing.T) {
	l := newTestLoop(1, alwaysPass{}, events.GuildSub(42))
	ev := events.Broadcast{Sub: events.GuildSub(42), Kind: "SentMessage"}
	if !l.shouldDeliver(ev) {
		t.Fatal("should deliver an event matching a subscribed sub")
	}
}

func TestShouldDeliverContextFiltersToListedUsers(t *testing.T) {
	l := newTestLoop(1, alwaysPass{}, events.GuildSub(42))
	ev := events.Broadcast{Sub: events.GuildSub(42), Kind: "EquippedPack", Context: []models.ID{2, 3}}
	if l.shouldDeliver(ev) {
		t.Fatal("user not in Context should not receive the broadcast")
	}

	ev.Context = []models.ID{1, 2}
	if !l.shouldDeliver(ev) {
		t.Fatal("user listed in Context should receive the broadcast")
	}
}

func TestShouldDeliverPermCheckFailureBlocksDelivery(t *testing.T) {
	l := newTestLoop(1, alwaysFail{}, events.GuildSub(42))
	ev := events.Broadcast{
		Sub:       events.GuildSub(42),
		Kind:      "SentMessage",
		PermCheck: &events.PermCheck{Permission: "messages.view"},
	}
	if l.shouldDeliver(ev) {
		t.Fatal("a failing perm recheck must block delivery")
	}
}
