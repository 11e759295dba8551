package chat

import (
	"time"

	"github.com/harborchat/harbor/internal/events"
	"github.com/harborchat/harbor/internal/models"
	"github.com/harborchat/harbor/internal/store"
	"github.com/harborchat/harbor/internal/store/keys"
)

// LeaveReason values, carried on LeftMember broadcasts.
const (
	LeaveReasonWillingly = "willingly_unspecified"
	LeaveReasonKicked    = "kicked"
	LeaveReasonBanned    = "banned"
)

type leftMemberEvent struct {
	Guild  models.ID `json:"guild_id"`
	Member models.ID `json:"member_id"`
	Reason string    `json:"leave_reason"`
}

// LeaveGuild removes actor's membership from guild and dispatches the
// federation leave notice for any cross-host effects.
func (s *Service) LeaveGuild(actor, guild models.ID) error {
	if err := s.CheckGuildUser(guild, actor); err != nil {
		return err
	}
	if err := s.removeMember(guild, actor); err != nil {
		return err
	}
	s.bus.Publish(events.Broadcast{
		Sub:     events.GuildSub(guild),
		Kind:    "LeftMember",
		Payload: encode(leftMemberEvent{guild, actor, LeaveReasonWillingly}),
	})
	if s.fed != nil {
		if err := s.fed.DispatchGuildLeave(guild, actor); err != nil {
			s.logger.Error("federation guild-leave dispatch failed", "guild", guild, "user", actor, "error", err)
		}
	}
	return nil
}

// KickUser removes userToKick's membership, requiring actor to hold
// user.manage.kick. Self-kicks are rejected.
func (s *Service) KickUser(actor, guild, userToKick models.ID) error {
	if actor == userToKick {
		return errCantKickOrBanYourself()
	}
	if err := s.CheckGuildUser(guild, actor); err != nil {
		return err
	}
	if err := s.CheckGuildUser(guild, userToKick); err != nil {
		return err
	}
	if err := s.checkPermission(guild, nil, actor, "user.manage.kick", false); err != nil {
		return err
	}
	if err := s.removeMember(guild, userToKick); err != nil {
		return err
	}
	s.bus.Publish(events.Broadcast{
		Sub:     events.GuildSub(guild),
		Kind:    "LeftMember",
		Payload: encode(leftMemberEvent{guild, userToKick, LeaveReasonKicked}),
	})
	if s.fed != nil {
		if err := s.fed.DispatchGuildLeave(guild, userToKick); err != nil {
			s.logger.Error("federation guild-leave dispatch failed", "guild", guild, "user", userToKick, "error", err)
		}
	}
	return nil
}

// BanUser kicks userToBan (if present) and records a durable ban entry
// preventing rejoin. Requires user.manage.ban.
func (s *Service) BanUser(actor, guild, userToBan models.ID, reason string) error {
	if actor == userToBan {
		return errCantKickOrBanYourself()
	}
	if err := s.checkPermission(guild, nil, actor, "user.manage.ban", false); err != nil {
		return err
	}
	banned, err := s.chat.ContainsKey(keys.Ban(uint64(guild), uint64(userToBan)))
	if err != nil {
		return errInternal(err)
	}
	if banned {
		return errUserBanned()
	}

	isMember, err := s.chat.ContainsKey(keys.Member(uint64(guild), uint64(userToBan)))
	if err != nil {
		return errInternal(err)
	}
	ban := models.Ban{Guild: guild, User: userToBan, Reason: reason, CreatedAt: time.Now()}

	if err := s.chat.ApplyBatch(func(b store.Batch) error {
		if err := b.Insert(keys.Ban(uint64(guild), uint64(userToBan)), encode(ban)); err != nil {
			return err
		}
		if isMember {
			return b.Remove(keys.Member(uint64(guild), uint64(userToBan)))
		}
		return nil
	}); err != nil {
		return errInternal(err)
	}

	if isMember {
		s.bus.Publish(events.Broadcast{
			Sub:     events.GuildSub(guild),
			Kind:    "LeftMember",
			Payload: encode(leftMemberEvent{guild, userToBan, LeaveReasonBanned}),
		})
		if s.fed != nil {
			if err := s.fed.DispatchGuildLeave(guild, userToBan); err != nil {
				s.logger.Error("federation guild-leave dispatch failed", "guild", guild, "user", userToBan, "error", err)
			}
		}
	}
	s.bus.Publish(events.Broadcast{Sub: events.GuildSub(guild), Kind: "Banned", Payload: encode(ban)})
	return nil
}

// UnbanUser removes a guild's ban entry for user. Returns UserNotBanned
// if no entry exists. Requires user.manage.ban.
func (s *Service) UnbanUser(actor, guild, user models.ID) error {
	if err := s.checkPermission(guild, nil, actor, "user.manage.ban", false); err != nil {
		return err
	}
	banned, err := s.chat.ContainsKey(keys.Ban(uint64(guild), uint64(user)))
	if err != nil {
		return errInternal(err)
	}
	if !banned {
		return errUserNotBanned()
	}
	if err := s.chat.Remove(keys.Ban(uint64(guild), uint64(user))); err != nil {
		return errInternal(err)
	}
	s.bus.Publish(events.Broadcast{
		Sub:  events.GuildSub(guild),
		Kind: "Unbanned",
		Payload: encode(struct {
			Guild models.ID `json:"guild_id"`
			User  models.ID `json:"user_id"`
		}{guild, user}),
	})
	return nil
}

func (s *Service) removeMember(guild, user models.ID) error {
	if err := s.chat.Remove(keys.Member(uint64(guild), uint64(user))); err != nil {
		return errInternal(err)
	}
	return nil
}
