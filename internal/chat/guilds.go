package chat

import (
	"github.com/harborchat/harbor/internal/events"
	"github.com/harborchat/harbor/internal/models"
	"github.com/harborchat/harbor/internal/store"
	"github.com/harborchat/harbor/internal/store/keys"
)

// CreateGuild creates a guild owned by owner, with a default "everyone"
// role and the owner as its sole member.
func (s *Service) CreateGuild(owner models.ID, name string) (models.Guild, error) {
	if name == "" {
		return models.Guild{}, errInvalidField("name")
	}
	gid, err := models.NewID()
	if err != nil {
		return models.Guild{}, errInternal(err)
	}
	everyoneID, err := models.NewID()
	if err != nil {
		return models.Guild{}, errInternal(err)
	}

	g := models.Guild{ID: gid, Owners: []models.ID{owner}, Name: name, Kind: models.GuildKindNormal}
	everyone := models.Role{ID: everyoneID, Guild: gid, Name: models.EveryoneRoleName, Position: 0}
	member := models.Member{Guild: gid, User: owner, Roles: []models.ID{everyoneID}}

	if err := s.chat.ApplyBatch(func(b store.Batch) error {
		if err := b.Insert(keys.Guild(uint64(gid)), encode(g)); err != nil {
			return err
		}
		if err := b.Insert(keys.Role(uint64(gid), uint64(everyoneID)), encode(everyone)); err != nil {
			return err
		}
		if err := b.Insert(keys.RolePosition(uint64(gid)), encode([]models.ID{everyoneID})); err != nil {
			return err
		}
		return b.Insert(keys.Member(uint64(gid), uint64(owner)), encode(member))
	}); err != nil {
		return models.Guild{}, errInternal(err)
	}
	return g, nil
}

// GetGuild returns the guild record, requiring the caller to already be a
// member.
func (s *Service) GetGuild(actor, guild models.ID) (models.Guild, error) {
	if err := s.CheckGuildUser(guild, actor); err != nil {
		return models.Guild{}, err
	}
	return s.getGuild(guild)
}

// DeleteGuild removes a guild and every key scoped beneath it. Only an
// owner may delete a guild.
func (s *Service) DeleteGuild(actor, guild models.ID) error {
	g, err := s.getGuild(guild)
	if err != nil {
		return err
	}
	isOwner := false
	for _, o := range g.Owners {
		if o == actor {
			isOwner = true
			break
		}
	}
	if !isOwner {
		return errPermissionDenied("guild.manage.delete", guild.String())
	}

	members, err := s.GetGuildMembers(actor, guild)
	if err != nil {
		return err
	}

	if err := s.chat.ApplyBatch(func(b store.Batch) error {
		if err := b.Remove(keys.Guild(uint64(guild))); err != nil {
			return err
		}
		if err := b.Remove(keys.RolePosition(uint64(guild))); err != nil {
			return err
		}
		if err := b.Remove(keys.ChannelPosition(uint64(guild))); err != nil {
			return err
		}
		for _, m := range members {
			if err := b.Remove(keys.Member(uint64(guild), uint64(m))); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return errInternal(err)
	}

	chans, err := s.listChannels(guild)
	if err == nil {
		for _, ch := range chans {
			_ = s.chat.Remove(keys.Channel(uint64(guild), uint64(ch.ID)))
			msgSeq, _ := s.chat.ScanPrefix(keys.MessagePrefix(uint64(guild), uint64(ch.ID)))
			for k := range msgSeq {
				_ = s.chat.Remove(k)
			}
		}
	}
	roleSeq, _ := s.chat.ScanPrefix(keys.RolePrefix(uint64(guild)))
	for k := range roleSeq {
		_ = s.chat.Remove(k)
	}
	permSeq, _ := s.chat.ScanPrefix(keys.PermNodeGuildPrefix(uint64(guild)))
	for k := range permSeq {
		_ = s.chat.Remove(k)
	}
	inviteSeq, _ := s.chat.ScanPrefix(keys.InvitePrefix())
	for k, v := range inviteSeq {
		inv, err := decode[models.Invite](v)
		if err != nil || inv.Guild != guild {
			continue
		}
		_ = s.chat.Remove(k)
	}

	s.bus.Publish(events.Broadcast{Sub: events.GuildSub(guild), Kind: "DeletedGuild", Payload: encode(g)})
	return nil
}

// GetGuildMembers lists every user id belonging to guild.
func (s *Service) GetGuildMembers(actor, guild models.ID) ([]models.ID, error) {
	if err := s.CheckGuildUser(guild, actor); err != nil {
		return nil, err
	}
	seq, err := s.chat.ScanPrefix(keys.MemberPrefix(uint64(guild)))
	if err != nil {
		return nil, errInternal(err)
	}
	var out []models.ID
	for _, v := range seq {
		m, err := decode[models.Member](v)
		if err != nil {
			continue
		}
		out = append(out, m.User)
	}
	return out, nil
}

func (s *Service) listChannels(guild models.ID) ([]models.Channel, error) {
	seq, err := s.chat.ScanPrefix(keys.ChannelPrefix(uint64(guild)))
	if err != nil {
		return nil, err
	}
	var out []models.Channel
	for _, v := range seq {
		ch, err := decode[models.Channel](v)
		if err != nil {
			continue
		}
		out = append(out, ch)
	}
	return out, nil
}

// CreateChannel creates a new channel in guild, appending it to the
// guild's channel ordering. Requires guild.manage.channels.
func (s *Service) CreateChannel(actor, guild models.ID, name, kind string) (models.Channel, error) {
	if err := s.CheckGuildUser(guild, actor); err != nil {
		return models.Channel{}, err
	}
	if err := s.checkPermission(guild, nil, actor, "guild.manage.channels", true); err != nil {
		return models.Channel{}, err
	}
	if name == "" {
		return models.Channel{}, errInvalidField("name")
	}
	switch kind {
	case models.ChannelKindText, models.ChannelKindVoice, models.ChannelKindCategory:
	default:
		return models.Channel{}, errInvalidField("kind")
	}

	cid, err := models.NewID()
	if err != nil {
		return models.Channel{}, errInternal(err)
	}
	ch := models.Channel{ID: cid, Guild: guild, Name: name, Kind: kind}

	order, err := s.channelOrder(guild)
	if err != nil {
		return models.Channel{}, err
	}
	order = append(order, cid)

	if err := s.chat.ApplyBatch(func(b store.Batch) error {
		if err := b.Insert(keys.Channel(uint64(guild), uint64(cid)), encode(ch)); err != nil {
			return err
		}
		return b.Insert(keys.ChannelPosition(uint64(guild)), encode(order))
	}); err != nil {
		return models.Channel{}, errInternal(err)
	}

	s.bus.Publish(events.Broadcast{Sub: events.GuildSub(guild), Kind: "CreatedChannel", Payload: encode(ch)})
	return ch, nil
}

func (s *Service) channelOrder(guild models.ID) ([]models.ID, error) {
	v, err := s.chat.Get(keys.ChannelPosition(uint64(guild)))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, errInternal(err)
	}
	return decode[[]models.ID](v)
}

// ReorderChannels replaces the guild's channel ordering with newOrder,
// which must be a permutation of the current ordering.
func (s *Service) ReorderChannels(actor, guild models.ID, newOrder []models.ID) error {
	if err := s.checkPermission(guild, nil, actor, "guild.manage.channels", true); err != nil {
		return err
	}
	current, err := s.channelOrder(guild)
	if err != nil {
		return err
	}
	if !isPermutation(current, newOrder) {
		return errNotAPermutation()
	}
	if err := s.chat.Insert(keys.ChannelPosition(uint64(guild)), encode(newOrder)); err != nil {
		return errInternal(err)
	}
	s.bus.Publish(events.Broadcast{
		Sub:     events.GuildSub(guild),
		Kind:    "ReorderedChannels",
		Payload: encode(newOrder),
	})
	return nil
}

func isPermutation(a, b []models.ID) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[models.ID]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		seen[id]--
		if seen[id] < 0 {
			return false
		}
	}
	return true
}
