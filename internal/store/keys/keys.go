// Package keys implements the pure key-composition functions shared by every
// tree in internal/store. Every composite key is a concatenation of a
// one-byte tag, fixed-width big-endian uint64 ids, and (for variable-length
// suffixes such as patterns or hostnames) a length-prefixed byte string, so
// that lexicographic key order equals numeric/child order and bbolt's
// Cursor.Seek prefix scans return children in ascending id order.
//
// Reserved tag bytes are listed below; this block is the source of truth
// for on-disk compatibility across versions. Never reuse a tag.
package keys

import "encoding/binary"

const (
	tagGuild          byte = 0x01
	tagChannel        byte = 0x02
	tagMessage        byte = 0x03
	tagMember         byte = 0x04
	tagRole           byte = 0x05
	tagRolePosition   byte = 0x06
	tagChannelPos     byte = 0x07
	tagInvite         byte = 0x08
	tagUserProfile    byte = 0x09
	tagLocalToForeign byte = 0x0A
	tagForeignToLocal byte = 0x0B
	tagPermNode       byte = 0x0C
	tagEmotePack      byte = 0x0D
	tagEmotePackEmote byte = 0x0E
	tagEquippedPacks  byte = 0x0F
	tagUserMetadata   byte = 0x10
	tagPinnedList     byte = 0x11
	tagBan            byte = 0x12
	tagSession        byte = 0x13
	tagFederationPeer byte = 0x14
	tagFederationSeq  byte = 0x15
	tagMessageSeq     byte = 0x16
)

func u64(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func lenPrefixed(s string) []byte {
	b := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(b, uint16(len(s)))
	copy(b[2:], s)
	return b
}

func cat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Guild returns the key for a guild record.
func Guild(gid uint64) []byte { return cat([]byte{tagGuild}, u64(gid)) }

// GuildPrefix returns the scan prefix matching every guild record, for the
// admin shell's instance-wide listings.
func GuildPrefix() []byte { return []byte{tagGuild} }

// Channel returns the key for a channel record within a guild.
func Channel(gid, cid uint64) []byte { return cat([]byte{tagChannel}, u64(gid), u64(cid)) }

// ChannelPrefix returns the scan prefix for every channel of a guild.
func ChannelPrefix(gid uint64) []byte { return cat([]byte{tagChannel}, u64(gid)) }

// Message returns the key for a single message. Big-endian mid encoding
// makes ScanPrefix(Channel(gid,cid)) on the message tag yield messages in
// ascending id order.
func Message(gid, cid, mid uint64) []byte {
	return cat([]byte{tagMessage}, u64(gid), u64(cid), u64(mid))
}

// MessagePrefix returns the scan prefix for every message of a channel.
func MessagePrefix(gid, cid uint64) []byte { return cat([]byte{tagMessage}, u64(gid), u64(cid)) }

// Member returns the key recording that a user belongs to a guild.
func Member(gid, uid uint64) []byte { return cat([]byte{tagMember}, u64(gid), u64(uid)) }

// MemberPrefix returns the scan prefix for every member of a guild.
func MemberPrefix(gid uint64) []byte { return cat([]byte{tagMember}, u64(gid)) }

// AllMembersPrefix returns the scan prefix matching every membership record
// across every guild, for the admin shell's instance-wide listings.
func AllMembersPrefix() []byte { return []byte{tagMember} }

// Role returns the key for a role record.
func Role(gid, rid uint64) []byte { return cat([]byte{tagRole}, u64(gid), u64(rid)) }

// RolePrefix returns the scan prefix for every role of a guild.
func RolePrefix(gid uint64) []byte { return cat([]byte{tagRole}, u64(gid)) }

// RolePosition returns the key holding the guild's ordered role-id sequence.
func RolePosition(gid uint64) []byte { return cat([]byte{tagRolePosition}, u64(gid)) }

// ChannelPosition returns the key holding the guild's ordered channel-id sequence.
func ChannelPosition(gid uint64) []byte { return cat([]byte{tagChannelPos}, u64(gid)) }

// Invite returns the key for an invite record, keyed by its string id.
func Invite(id string) []byte { return cat([]byte{tagInvite}, lenPrefixed(id)) }

// InvitePrefix returns the scan prefix matching every invite record, for
// the admin shell's instance-wide listings.
func InvitePrefix() []byte { return []byte{tagInvite} }

// UserProfile returns the key for a user's profile record.
func UserProfile(uid uint64) []byte { return cat([]byte{tagUserProfile}, u64(uid)) }

// LocalToForeign returns the key mapping a local user id to its foreign
// (id, host) pair.
func LocalToForeign(uid uint64) []byte { return cat([]byte{tagLocalToForeign}, u64(uid)) }

// ForeignToLocal returns the key mapping a foreign (id, host) pair to a
// local user id.
func ForeignToLocal(fid uint64, host string) []byte {
	return cat([]byte{tagForeignToLocal}, u64(fid), lenPrefixed(host))
}

// PermNode returns the key for a permission node. cidOrZero is 0 for a
// guild-scope node. Within a (gid, cidOrZero, rid) scope, nodes sort by
// pattern bytes, which PermissionEngine treats as insertion order by
// storing nodes with a monotonic sequence prefix on the pattern — callers
// append an 8-byte sequence before the pattern text to preserve insertion
// order across re-opens.
func PermNode(gid, cidOrZero, rid uint64, seq uint64, pattern string) []byte {
	return cat([]byte{tagPermNode}, u64(gid), u64(cidOrZero), u64(rid), u64(seq), lenPrefixed(pattern))
}

// PermNodeGuildPrefix returns the scan prefix for every permission node
// belonging to a guild, across every channel scope and role.
func PermNodeGuildPrefix(gid uint64) []byte {
	return cat([]byte{tagPermNode}, u64(gid))
}

// PermNodeScope returns the scan prefix for every node in a (guild, channel-or-zero, role) scope.
func PermNodeScope(gid, cidOrZero, rid uint64) []byte {
	return cat([]byte{tagPermNode}, u64(gid), u64(cidOrZero), u64(rid))
}

// EmotePack returns the key for an emote pack record.
func EmotePack(pid uint64) []byte { return cat([]byte{tagEmotePack}, u64(pid)) }

// EmotePackEmote returns the key for a single emote within a pack.
func EmotePackEmote(pid uint64, name string) []byte {
	return cat([]byte{tagEmotePackEmote}, u64(pid), lenPrefixed(name))
}

// EmotePackEmotePrefix returns the scan prefix for every emote in a pack.
func EmotePackEmotePrefix(pid uint64) []byte { return cat([]byte{tagEmotePackEmote}, u64(pid)) }

// EquippedPacks returns the key holding a user's equipped emote-pack id list.
func EquippedPacks(uid uint64) []byte { return cat([]byte{tagEquippedPacks}, u64(uid)) }

// EquippedPacksPrefix returns the scan prefix for every user's
// equipped-pack list, used to compute who has a given pack equipped.
func EquippedPacksPrefix() []byte { return []byte{tagEquippedPacks} }

// UserMetadata returns the key for an opaque per-(user, app) metadata blob.
func UserMetadata(uid uint64, appID string) []byte {
	return cat([]byte{tagUserMetadata}, u64(uid), lenPrefixed(appID))
}

// PinnedList returns the key holding a channel's ordered pinned-message-id list.
func PinnedList(gid, cid uint64) []byte { return cat([]byte{tagPinnedList}, u64(gid), u64(cid)) }

// Ban returns the key recording that a user is banned from a guild.
func Ban(gid, uid uint64) []byte { return cat([]byte{tagBan}, u64(gid), u64(uid)) }

// Session returns the key for a session token record in the auth tree.
func Session(token string) []byte { return cat([]byte{tagSession}, lenPrefixed(token)) }

// FederationPeer returns the key for a cached remote-peer record, keyed by host.
func FederationPeer(host string) []byte { return cat([]byte{tagFederationPeer}, lenPrefixed(host)) }

// FederationSeq returns the key holding the next outbound sequence number for a host.
func FederationSeq(host string) []byte { return cat([]byte{tagFederationSeq}, lenPrefixed(host)) }

// MessageSeq returns the key holding the next monotonic message id counter
// for a channel.
func MessageSeq(gid, cid uint64) []byte { return cat([]byte{tagMessageSeq}, u64(gid), u64(cid)) }
