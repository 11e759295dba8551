package chat

import (
	"crypto/rand"
	"encoding/base32"
	"time"

	"github.com/harborchat/harbor/internal/events"
	"github.com/harborchat/harbor/internal/models"
	"github.com/harborchat/harbor/internal/store"
	"github.com/harborchat/harbor/internal/store/keys"
)

const inviteIDLength = 10

var inviteEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// CreateInvite mints a new invite code for guild. remainingUses of nil
// means unlimited. Requires guild.manage.invites.
func (s *Service) CreateInvite(actor, guild models.ID, remainingUses *int) (models.Invite, error) {
	if err := s.checkPermission(guild, nil, actor, "guild.manage.invites", true); err != nil {
		return models.Invite{}, err
	}
	id, err := randomInviteID()
	if err != nil {
		return models.Invite{}, errInternal(err)
	}
	inv := models.Invite{ID: id, Guild: guild, RemainingUses: remainingUses, CreatedAt: time.Now()}
	if err := s.chat.Insert(keys.Invite(id), encode(inv)); err != nil {
		return models.Invite{}, errInternal(err)
	}
	s.bus.Publish(events.Broadcast{Sub: events.GuildSub(guild), Kind: "CreatedInvite", Payload: encode(inv)})
	return inv, nil
}

func randomInviteID() (string, error) {
	buf := make([]byte, inviteIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return inviteEncoding.EncodeToString(buf), nil
}

// GetInvite returns an invite record by id.
func (s *Service) GetInvite(id string) (models.Invite, error) {
	v, err := s.chat.Get(keys.Invite(id))
	if err != nil {
		if err == store.ErrNotFound {
			return models.Invite{}, errNoSuchInvite(id)
		}
		return models.Invite{}, errInternal(err)
	}
	return decode[models.Invite](v)
}

// UseInvite consumes one use of an invite and adds actor to its guild.
// Decrements RemainingUses if finite; deletes the invite once exhausted.
func (s *Service) UseInvite(actor models.ID, id string) (models.ID, error) {
	inv, err := s.GetInvite(id)
	if err != nil {
		return 0, err
	}
	if _, err := s.getGuild(inv.Guild); err != nil {
		return 0, errNoSuchInvite(id)
	}
	banned, err := s.chat.ContainsKey(keys.Ban(uint64(inv.Guild), uint64(actor)))
	if err != nil {
		return 0, errInternal(err)
	}
	if banned {
		return 0, errUserBanned()
	}
	already, err := s.chat.ContainsKey(keys.Member(uint64(inv.Guild), uint64(actor)))
	if err != nil {
		return 0, errInternal(err)
	}
	if already {
		return 0, errUserAlreadyInGuild()
	}

	if inv.RemainingUses != nil {
		if *inv.RemainingUses <= 0 {
			return 0, errNoSuchInvite(id)
		}
		remaining := *inv.RemainingUses - 1
		inv.RemainingUses = &remaining
	}

	everyone, err := s.everyoneRole(inv.Guild)
	if err != nil {
		return 0, err
	}
	member := models.Member{Guild: inv.Guild, User: actor, Roles: []models.ID{everyone}}

	if err := s.chat.ApplyBatch(func(b store.Batch) error {
		if err := b.Insert(keys.Member(uint64(inv.Guild), uint64(actor)), encode(member)); err != nil {
			return err
		}
		if inv.RemainingUses != nil && *inv.RemainingUses == 0 {
			return b.Remove(keys.Invite(id))
		}
		return b.Insert(keys.Invite(id), encode(inv))
	}); err != nil {
		return 0, errInternal(err)
	}

	s.bus.Publish(events.Broadcast{
		Sub:  events.GuildSub(inv.Guild),
		Kind: "JoinedMember",
		Payload: encode(struct {
			Guild, User models.ID
		}{inv.Guild, actor}),
	})
	return inv.Guild, nil
}

func (s *Service) everyoneRole(guild models.ID) (models.ID, error) {
	seq, err := s.chat.ScanPrefix(keys.RolePrefix(uint64(guild)))
	if err != nil {
		return 0, errInternal(err)
	}
	for _, v := range seq {
		r, err := decode[models.Role](v)
		if err != nil {
			continue
		}
		if r.Name == models.EveryoneRoleName {
			return r.ID, nil
		}
	}
	return 0, errNoSuchGuild(guild.String())
}
