package chat

import (
	"testing"

	"github.com/harborchat/harbor/internal/store/keys"
)

func TestDeleteEmoteFromPackNotifiesEquippedUsers(t *testing.T) {
	svc, _ := newTestService(t)
	owner := mustID(t)
	equipped := mustID(t)
	notEquipped := mustID(t)

	pack, err := svc.CreateEmotePack(owner, "pack")
	if err != nil {
		t.Fatalf("CreateEmotePack: %v", err)
	}
	pack.Emotes["pog"] = "https://example.test/pog.png"
	if err := svc.emote.Insert(keys.EmotePack(uint64(pack.ID)), encode(pack)); err != nil {
		t.Fatalf("seeding pack emote: %v", err)
	}

	otherPack, err := svc.CreateEmotePack(owner, "other pack")
	if err != nil {
		t.Fatalf("CreateEmotePack: %v", err)
	}

	if err := svc.EquipEmotePack(equipped, pack.ID); err != nil {
		t.Fatalf("EquipEmotePack: %v", err)
	}
	if err := svc.EquipEmotePack(notEquipped, otherPack.ID); err != nil {
		t.Fatalf("EquipEmotePack other pack: %v", err)
	}

	sub := svc.bus.Subscribe()
	defer sub.Close()

	if err := svc.DeleteEmoteFromPack(owner, pack.ID, "pog"); err != nil {
		t.Fatalf("DeleteEmoteFromPack: %v", err)
	}

	found := false
	for {
		select {
		case ev := <-sub.C():
			if ev.Kind != "EmotePackEmotesUpdated" {
				continue
			}
			found = true
			if len(ev.Context) != 1 || ev.Context[0] != equipped {
				t.Fatalf("expected broadcast targeted at %v, got %v", equipped, ev.Context)
			}
		default:
			if !found {
				t.Fatal("DeleteEmoteFromPack did not publish EmotePackEmotesUpdated")
			}
			return
		}
	}
}

func TestDeleteEmoteFromPackRejectsNonOwner(t *testing.T) {
	svc, _ := newTestService(t)
	owner := mustID(t)
	other := mustID(t)

	pack, err := svc.CreateEmotePack(owner, "pack")
	if err != nil {
		t.Fatalf("CreateEmotePack: %v", err)
	}

	err = svc.DeleteEmoteFromPack(other, pack.ID, "pog")
	se, ok := err.(*ServerError)
	if !ok || se.Kind != KindPermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}
