package chat

import (
	"encoding/binary"

	"github.com/harborchat/harbor/internal/events"
	"github.com/harborchat/harbor/internal/models"
	"github.com/harborchat/harbor/internal/store"
	"github.com/harborchat/harbor/internal/store/keys"
)

// CreateEmotePack creates a new, empty emote pack owned by owner.
func (s *Service) CreateEmotePack(owner models.ID, name string) (models.EmotePack, error) {
	if name == "" {
		return models.EmotePack{}, errInvalidField("name")
	}
	pid, err := models.NewID()
	if err != nil {
		return models.EmotePack{}, errInternal(err)
	}
	pack := models.EmotePack{ID: pid, Owner: owner, Name: name, Emotes: map[string]string{}}
	if err := s.emote.Insert(keys.EmotePack(uint64(pid)), encode(pack)); err != nil {
		return models.EmotePack{}, errInternal(err)
	}
	return pack, nil
}

func (s *Service) getEmotePack(pid models.ID) (models.EmotePack, error) {
	v, err := s.emote.Get(keys.EmotePack(uint64(pid)))
	if err != nil {
		if err == store.ErrNotFound {
			return models.EmotePack{}, &ServerError{Kind: KindInvalidField, msg: "no such emote pack"}
		}
		return models.EmotePack{}, errInternal(err)
	}
	return decode[models.EmotePack](v)
}

func (s *Service) equippedPacks(user models.ID) ([]models.ID, error) {
	v, err := s.emote.Get(keys.EquippedPacks(uint64(user)))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, errInternal(err)
	}
	return decode[[]models.ID](v)
}

// EquipEmotePack adds pack to user's equipped-packs list.
func (s *Service) EquipEmotePack(user, pack models.ID) error {
	if _, err := s.getEmotePack(pack); err != nil {
		return err
	}
	packs, err := s.equippedPacks(user)
	if err != nil {
		return err
	}
	for _, p := range packs {
		if p == pack {
			return nil // already equipped: idempotent
		}
	}
	packs = append(packs, pack)
	if err := s.emote.Insert(keys.EquippedPacks(uint64(user)), encode(packs)); err != nil {
		return errInternal(err)
	}
	s.bus.Publish(events.Broadcast{
		Sub:     events.ActionsSub,
		Kind:    "EquippedPack",
		Context: []models.ID{user},
		Payload: encode(struct{ PackID models.ID }{pack}),
	})
	return nil
}

// DequipEmotePack removes pack from user's equipped-packs list.
func (s *Service) DequipEmotePack(user, pack models.ID) error {
	packs, err := s.equippedPacks(user)
	if err != nil {
		return err
	}
	out := packs[:0]
	for _, p := range packs {
		if p != pack {
			out = append(out, p)
		}
	}
	if err := s.emote.Insert(keys.EquippedPacks(uint64(user)), encode(out)); err != nil {
		return errInternal(err)
	}
	s.bus.Publish(events.Broadcast{
		Sub:     events.ActionsSub,
		Kind:    "DequippedPack",
		Context: []models.ID{user},
		Payload: encode(struct{ PackID models.ID }{pack}),
	})
	return nil
}

// DeleteEmoteFromPack removes a single named emote from a pack the caller
// owns, then notifies every user who currently has the pack equipped.
func (s *Service) DeleteEmoteFromPack(actor, pack models.ID, name string) error {
	p, err := s.getEmotePack(pack)
	if err != nil {
		return err
	}
	if p.Owner != actor {
		return errPermissionDenied("emote.manage.delete", pack.String())
	}
	delete(p.Emotes, name)
	if err := s.emote.Insert(keys.EmotePack(uint64(pack)), encode(p)); err != nil {
		return errInternal(err)
	}
	if err := s.emote.Remove(keys.EmotePackEmote(uint64(pack), name)); err != nil {
		return errInternal(err)
	}

	equipped, err := s.usersWithPackEquipped(pack)
	if err != nil {
		return errInternal(err)
	}
	if len(equipped) > 0 {
		s.bus.Publish(events.Broadcast{
			Sub:     events.ActionsSub,
			Kind:    "EmotePackEmotesUpdated",
			Context: equipped,
			Payload: encode(struct {
				PackID models.ID
				Name   string
			}{pack, name}),
		})
	}
	return nil
}

// usersWithPackEquipped scans every user's equipped-pack list and returns
// the ids of those who have pack equipped. There is no reverse index from
// pack to equipping users, so this is a linear scan of the equipped-packs
// tree; acceptable since pack deletions are rare.
func (s *Service) usersWithPackEquipped(pack models.ID) ([]models.ID, error) {
	seq, err := s.emote.ScanPrefix(keys.EquippedPacksPrefix())
	if err != nil {
		return nil, err
	}
	var out []models.ID
	for k, v := range seq {
		packs, err := decode[[]models.ID](v)
		if err != nil {
			continue
		}
		for _, p := range packs {
			if p == pack {
				uid := binary.BigEndian.Uint64(k[len(k)-8:])
				out = append(out, models.ID(uid))
				break
			}
		}
	}
	return out, nil
}
