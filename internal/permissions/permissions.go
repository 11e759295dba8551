// Package permissions implements the permission engine: role-ordered
// resolution of dot-segment wildcard patterns (e.g. "messages.*",
// "user.manage.kick"), scoped first to a channel and then to a guild.
package permissions

import (
	"fmt"
	"strings"

	"github.com/harborchat/harbor/internal/models"
)

// Source is the read-only data the engine needs to resolve a check. It is
// satisfied by internal/chat's store-backed reader; the engine itself
// never mutates anything.
type Source interface {
	// IsOwner reports whether user owns guild.
	IsOwner(guild, user models.ID) (bool, error)
	// RolesOf returns the user's roles in guild, sorted by ascending
	// position (lowest index = highest priority, evaluated first).
	RolesOf(guild, user models.ID) ([]models.Role, error)
	// Nodes returns the permission nodes for role at the given scope, in
	// insertion order. cidOrZero is 0 for a guild-scope lookup.
	Nodes(guild models.ID, cidOrZero models.ID, role models.ID) ([]models.PermissionNode, error)
}

// EveryoneRole is the reserved role id assigned to every guild member
// implicitly; callers ensure it is included in RolesOf's result as the
// lowest-priority (last) entry.
//
// Check resolves (guild, optional channel, user) -> allow|deny for
// permission name, following this order:
//
//  1. Unless mustBeGuildOwnerIfMissing, a guild owner is allowed outright.
//  2. Collect the user's roles in guild, ascending position order.
//  3. For each role in that order, look up nodes at (guild, channel) first,
//     then at (guild, none); within a scope, nodes are tried in insertion
//     order and the first pattern that matches permission decides the
//     outcome.
//  4. If nothing matched: deny, unless mustBeGuildOwnerIfMissing, in which
//     case the result falls back to guild ownership.
func Check(src Source, guild models.ID, channel *models.ID, user models.ID, permission string, mustBeGuildOwnerIfMissing bool) (bool, error) {
	if !mustBeGuildOwnerIfMissing {
		owner, err := src.IsOwner(guild, user)
		if err != nil {
			return false, fmt.Errorf("checking guild ownership: %w", err)
		}
		if owner {
			return true, nil
		}
	}

	roles, err := src.RolesOf(guild, user)
	if err != nil {
		return false, fmt.Errorf("loading roles: %w", err)
	}

	for _, role := range roles {
		if channel != nil {
			nodes, err := src.Nodes(guild, *channel, role.ID)
			if err != nil {
				return false, fmt.Errorf("loading channel-scope nodes: %w", err)
			}
			if allow, ok := firstMatch(nodes, permission); ok {
				return allow, nil
			}
		}
		nodes, err := src.Nodes(guild, 0, role.ID)
		if err != nil {
			return false, fmt.Errorf("loading guild-scope nodes: %w", err)
		}
		if allow, ok := firstMatch(nodes, permission); ok {
			return allow, nil
		}
	}

	if mustBeGuildOwnerIfMissing {
		owner, err := src.IsOwner(guild, user)
		if err != nil {
			return false, fmt.Errorf("checking guild ownership: %w", err)
		}
		return owner, nil
	}
	return false, nil
}

func firstMatch(nodes []models.PermissionNode, permission string) (allow bool, ok bool) {
	for _, n := range nodes {
		if Matches(n.Pattern, permission) {
			return bool(n.Bit), true
		}
	}
	return false, false
}

// Matches reports whether pattern matches name, segment by segment on ".".
// A "*" segment matches exactly one arbitrary segment. A pattern with more
// segments than name never matches. A pattern with fewer segments than name
// matches only if its last segment is "*", in which case that "*" absorbs
// every remaining name segment (so "messages.*" covers "messages.manage.pin"
// as well as "messages.view") — matches is deterministic and depends only
// on the two strings, never on role iteration order.
func Matches(pattern, name string) bool {
	pSegs := strings.Split(pattern, ".")
	nSegs := strings.Split(name, ".")
	if len(pSegs) > len(nSegs) {
		return false
	}
	trailingWildcard := len(pSegs) < len(nSegs)
	if trailingWildcard && pSegs[len(pSegs)-1] != "*" {
		return false
	}
	for i, p := range pSegs {
		if trailingWildcard && i == len(pSegs)-1 {
			break
		}
		if p != "*" && p != nSegs[i] {
			return false
		}
	}
	return true
}
