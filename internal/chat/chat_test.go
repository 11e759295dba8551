package chat

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/harborchat/harbor/internal/events"
	"github.com/harborchat/harbor/internal/models"
	"github.com/harborchat/harbor/internal/store"
	"github.com/harborchat/harbor/internal/store/keys"
)

type fakeFederator struct {
	mu    sync.Mutex
	calls []struct {
		guild, user models.ID
	}
}

func (f *fakeFederator) DispatchGuildLeave(guild, user models.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct{ guild, user models.ID }{guild, user})
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeFederator) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	fed := &fakeFederator{}
	return New(st, events.New(nil), fed, nil), fed
}

func mustID(t *testing.T) models.ID {
	t.Helper()
	id, err := models.NewID()
	if err != nil {
		t.Fatalf("generating id: %v", err)
	}
	return id
}

func TestOwnerSendsMessageAndSubscriberReceivesIt(t *testing.T) {
	svc, _ := newTestService(t)
	owner := mustID(t)

	g, err := svc.CreateGuild(owner, "test guild")
	if err != nil {
		t.Fatalf("CreateGuild: %v", err)
	}
	ch, err := svc.CreateChannel(owner, g.ID, "general", models.ChannelKindText)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	sub := svc.bus.Subscribe()
	defer sub.Close()

	msg, err := svc.SendMessage(owner, g.ID, ch.ID, "hello", nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	select {
	case ev := <-sub.C():
		if ev.Kind != "SentMessage" {
			t.Fatalf("expected SentMessage, got %s", ev.Kind)
		}
	default:
		t.Fatal("subscriber did not receive the SentMessage broadcast")
	}

	if msg.ID == 0 {
		t.Fatal("message id should be nonzero")
	}
}

func TestSelfKickReturnsCantKickOrBanYourself(t *testing.T) {
	svc, _ := newTestService(t)
	owner := mustID(t)
	g, err := svc.CreateGuild(owner, "test guild")
	if err != nil {
		t.Fatalf("CreateGuild: %v", err)
	}

	err = svc.KickUser(owner, g.ID, owner)
	se, ok := err.(*ServerError)
	if !ok || se.Kind != KindCantKickOrBanYourself {
		t.Fatalf("expected CantKickOrBanYourself, got %v", err)
	}

	if mErr := svc.CheckGuildUser(g.ID, owner); mErr != nil {
		t.Fatalf("owner should still be a member after a rejected self-kick: %v", mErr)
	}
}

func TestGetMessageDeniedWithoutMessagesView(t *testing.T) {
	svc, _ := newTestService(t)
	owner := mustID(t)
	other := mustID(t)

	g, err := svc.CreateGuild(owner, "test guild")
	if err != nil {
		t.Fatalf("CreateGuild: %v", err)
	}
	ch, err := svc.CreateChannel(owner, g.ID, "general", models.ChannelKindText)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	msg, err := svc.SendMessage(owner, g.ID, ch.ID, "hi", nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	everyone, err := svc.everyoneRole(g.ID)
	if err != nil {
		t.Fatalf("everyoneRole: %v", err)
	}
	if err := svc.chat.Insert(
		keys.Member(uint64(g.ID), uint64(other)),
		encode(models.Member{Guild: g.ID, User: other, Roles: []models.ID{everyone}}),
	); err != nil {
		t.Fatalf("inserting member: %v", err)
	}
	if err := svc.SetPermissionNode(owner, g.ID, &ch.ID, everyone, "messages.view", false); err != nil {
		t.Fatalf("SetPermissionNode: %v", err)
	}

	_, err = svc.GetMessage(other, g.ID, ch.ID, msg.ID)
	se, ok := err.(*ServerError)
	if !ok || se.Kind != KindPermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
	if se.Permission != "messages.view" {
		t.Fatalf("expected denied permission messages.view, got %q", se.Permission)
	}
}

func TestConcurrentSendMessageAssignsDistinctIDs(t *testing.T) {
	svc, _ := newTestService(t)
	owner := mustID(t)
	g, err := svc.CreateGuild(owner, "test guild")
	if err != nil {
		t.Fatalf("CreateGuild: %v", err)
	}
	ch, err := svc.CreateChannel(owner, g.ID, "general", models.ChannelKindText)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	const n = 20
	ids := make([]models.ID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, err := svc.SendMessage(owner, g.ID, ch.ID, "concurrent", nil)
			if err != nil {
				t.Errorf("SendMessage: %v", err)
				return
			}
			ids[i] = msg.ID
		}(i)
	}
	wg.Wait()

	seen := make(map[models.ID]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate message id %v assigned under concurrent send", id)
		}
		seen[id] = true
	}
}

func TestLeaveGuildRemovesMembershipAndDispatchesFederation(t *testing.T) {
	svc, fed := newTestService(t)
	owner := mustID(t)
	other := mustID(t)

	g, err := svc.CreateGuild(owner, "test guild")
	if err != nil {
		t.Fatalf("CreateGuild: %v", err)
	}
	everyone, err := svc.everyoneRole(g.ID)
	if err != nil {
		t.Fatalf("everyoneRole: %v", err)
	}
	if err := svc.chat.Insert(
		keys.Member(uint64(g.ID), uint64(other)),
		encode(models.Member{Guild: g.ID, User: other, Roles: []models.ID{everyone}}),
	); err != nil {
		t.Fatalf("inserting member: %v", err)
	}

	if err := svc.LeaveGuild(other, g.ID); err != nil {
		t.Fatalf("LeaveGuild: %v", err)
	}

	if err := svc.CheckGuildUser(g.ID, other); err == nil {
		t.Fatal("expected UserNotInGuild after leaving")
	}

	fed.mu.Lock()
	defer fed.mu.Unlock()
	if len(fed.calls) != 1 || fed.calls[0].guild != g.ID || fed.calls[0].user != other {
		t.Fatalf("expected one federation leave dispatch for (guild,user), got %v", fed.calls)
	}

	if err := svc.LeaveGuild(other, g.ID); err == nil {
		t.Fatal("leaving a guild twice should return UserNotInGuild")
	}
}

func TestDeleteGuildCascadesInvitesAndPermissionNodes(t *testing.T) {
	svc, _ := newTestService(t)
	owner := mustID(t)
	g, err := svc.CreateGuild(owner, "test guild")
	if err != nil {
		t.Fatalf("CreateGuild: %v", err)
	}
	everyone, err := svc.everyoneRole(g.ID)
	if err != nil {
		t.Fatalf("everyoneRole: %v", err)
	}
	if err := svc.SetPermissionNode(owner, g.ID, nil, everyone, "messages.view", true); err != nil {
		t.Fatalf("SetPermissionNode: %v", err)
	}
	inv, err := svc.CreateInvite(owner, g.ID, nil)
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	if err := svc.DeleteGuild(owner, g.ID); err != nil {
		t.Fatalf("DeleteGuild: %v", err)
	}

	permSeq, err := svc.chat.ScanPrefix(keys.PermNodeGuildPrefix(uint64(g.ID)))
	if err != nil {
		t.Fatalf("ScanPrefix permnodes: %v", err)
	}
	for range permSeq {
		t.Fatal("DeleteGuild should remove every permission node scoped to the guild")
	}

	if _, err := svc.GetInvite(inv.ID); err == nil {
		t.Fatal("DeleteGuild should remove the guild's invites")
	}
}

func TestUseInviteAfterGuildDeletedIsRejected(t *testing.T) {
	svc, _ := newTestService(t)
	owner := mustID(t)
	joiner := mustID(t)
	g, err := svc.CreateGuild(owner, "test guild")
	if err != nil {
		t.Fatalf("CreateGuild: %v", err)
	}
	inv, err := svc.CreateInvite(owner, g.ID, nil)
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	// Simulate an invite that outlived guild deletion despite the cascade,
	// e.g. a concurrently-minted invite: UseInvite must still refuse it.
	if err := svc.chat.Remove(keys.Guild(uint64(g.ID))); err != nil {
		t.Fatalf("removing guild record: %v", err)
	}

	if _, err := svc.UseInvite(joiner, inv.ID); err == nil {
		t.Fatal("UseInvite should reject an invite whose guild no longer exists")
	} else if se, ok := err.(*ServerError); !ok || se.Kind != KindNoSuchInvite {
		t.Fatalf("expected NoSuchInvite, got %v", err)
	}
}

func TestReorderChannelsSucceedsAndRejectsNonPermutation(t *testing.T) {
	svc, _ := newTestService(t)
	owner := mustID(t)
	g, err := svc.CreateGuild(owner, "test guild")
	if err != nil {
		t.Fatalf("CreateGuild: %v", err)
	}
	var order []models.ID
	for i := 0; i < 3; i++ {
		ch, err := svc.CreateChannel(owner, g.ID, "c", models.ChannelKindText)
		if err != nil {
			t.Fatalf("CreateChannel: %v", err)
		}
		order = append(order, ch.ID)
	}

	reordered := []models.ID{order[2], order[0], order[1]}
	if err := svc.ReorderChannels(owner, g.ID, reordered); err != nil {
		t.Fatalf("ReorderChannels: %v", err)
	}
	got, err := svc.channelOrder(g.ID)
	if err != nil {
		t.Fatalf("channelOrder: %v", err)
	}
	for i, id := range reordered {
		if got[i] != id {
			t.Fatalf("channel order mismatch at %d: want %v got %v", i, id, got[i])
		}
	}

	bad := []models.ID{order[0], order[1]}
	err = svc.ReorderChannels(owner, g.ID, bad)
	se, ok := err.(*ServerError)
	if !ok || se.Kind != KindNotAPermutation {
		t.Fatalf("expected NotAPermutation, got %v", err)
	}
}
