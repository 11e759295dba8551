package chat

import (
	"github.com/harborchat/harbor/internal/events"
	"github.com/harborchat/harbor/internal/models"
	"github.com/harborchat/harbor/internal/permissions"
	"github.com/harborchat/harbor/internal/store"
	"github.com/harborchat/harbor/internal/store/keys"
)

func (s *Service) rolePositions(guild models.ID) ([]models.ID, error) {
	v, err := s.chat.Get(keys.RolePosition(uint64(guild)))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, errInternal(err)
	}
	return decode[[]models.ID](v)
}

// CreateRole creates a role in guild at the lowest priority (end of the
// position order) and requires user.manage.roles.
func (s *Service) CreateRole(actor, guild models.ID, name string) (models.Role, error) {
	if err := s.checkPermission(guild, nil, actor, "user.manage.roles", true); err != nil {
		return models.Role{}, err
	}
	if name == "" {
		return models.Role{}, errInvalidField("name")
	}
	rid, err := models.NewID()
	if err != nil {
		return models.Role{}, errInternal(err)
	}

	order, err := s.rolePositions(guild)
	if err != nil {
		return models.Role{}, err
	}
	role := models.Role{ID: rid, Guild: guild, Name: name, Position: len(order)}
	order = append(order, rid)

	if err := s.chat.ApplyBatch(func(b store.Batch) error {
		if err := b.Insert(keys.Role(uint64(guild), uint64(rid)), encode(role)); err != nil {
			return err
		}
		return b.Insert(keys.RolePosition(uint64(guild)), encode(order))
	}); err != nil {
		return models.Role{}, errInternal(err)
	}

	s.bus.Publish(events.Broadcast{Sub: events.GuildSub(guild), Kind: "CreatedRole", Payload: encode(role)})
	return role, nil
}

// ReorderRoles replaces the guild's role priority order. newOrder[0] is
// the highest-priority role. Must be a permutation of the current roles.
func (s *Service) ReorderRoles(actor, guild models.ID, newOrder []models.ID) error {
	if err := s.checkPermission(guild, nil, actor, "user.manage.roles", true); err != nil {
		return err
	}
	current, err := s.rolePositions(guild)
	if err != nil {
		return err
	}
	if !isPermutation(current, newOrder) {
		return errNotAPermutation()
	}

	roles := make([]models.Role, len(newOrder))
	for i, rid := range newOrder {
		r, err := s.getRole(guild, rid)
		if err != nil {
			return err
		}
		r.Position = i
		roles[i] = r
	}

	if err := s.chat.ApplyBatch(func(b store.Batch) error {
		for _, r := range roles {
			if err := b.Insert(keys.Role(uint64(guild), uint64(r.ID)), encode(r)); err != nil {
				return err
			}
		}
		return b.Insert(keys.RolePosition(uint64(guild)), encode(newOrder))
	}); err != nil {
		return errInternal(err)
	}

	s.bus.Publish(events.Broadcast{Sub: events.GuildSub(guild), Kind: "ReorderedRoles", Payload: encode(newOrder)})
	return nil
}

// SetPermissionNode inserts or overwrites a permission node at the given
// scope, appending to the scope's insertion-order sequence unless pattern
// already exists in it, in which case that entry's bit is replaced
// in-place. Requires permissions.manage.set.
func (s *Service) SetPermissionNode(actor, guild models.ID, channel *models.ID, role models.ID, pattern string, allow bool) error {
	if err := s.checkPermission(guild, channel, actor, "permissions.manage.set", true); err != nil {
		return err
	}
	if pattern == "" {
		return errInvalidField("pattern")
	}
	if _, err := s.getRole(guild, role); err != nil {
		return err
	}

	cidOrZero := models.ID(0)
	if channel != nil {
		cidOrZero = *channel
	}

	s.permSeqMu.Lock()
	defer s.permSeqMu.Unlock()

	existing, err := s.Nodes(guild, cidOrZero, role)
	if err != nil {
		return err
	}
	node := models.PermissionNode{
		Guild:     guild,
		ChannelID: channel,
		Role:      role,
		Pattern:   pattern,
		Bit:       models.PermissionBit(allow),
	}
	for i, n := range existing {
		if n.Pattern == pattern {
			node.Seq = n.Seq
			existing[i] = node
			if err := s.chat.Insert(keys.PermNode(uint64(guild), uint64(cidOrZero), uint64(role), node.Seq, pattern), encode(node)); err != nil {
				return errInternal(err)
			}
			s.publishPermChange(guild, channel, role)
			return nil
		}
	}
	node.Seq = uint64(len(existing))
	if err := s.chat.Insert(keys.PermNode(uint64(guild), uint64(cidOrZero), uint64(role), node.Seq, pattern), encode(node)); err != nil {
		return errInternal(err)
	}
	s.publishPermChange(guild, channel, role)
	return nil
}

func (s *Service) publishPermChange(guild models.ID, channel *models.ID, role models.ID) {
	s.bus.Publish(events.Broadcast{
		Sub:  events.GuildSub(guild),
		Kind: "PermissionsChanged",
		Payload: encode(struct {
			Guild   models.ID  `json:"guild_id"`
			Channel *models.ID `json:"channel_id,omitempty"`
			Role    models.ID  `json:"role_id"`
		}{guild, channel, role}),
	})
}

var _ permissions.Source = (*Service)(nil)
