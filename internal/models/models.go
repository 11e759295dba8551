package models

import (
	"encoding/json"
	"time"
)

// User represents an account, local or federated. Foreign users carry a
// non-empty Host naming the remote homeserver that authoritatively owns
// them; local users have an empty Host.
type User struct {
	ID          ID      `json:"id"`
	Host        string  `json:"host,omitempty"`
	Username    string  `json:"username"`
	DisplayName *string `json:"display_name,omitempty"`
	AvatarID    *string `json:"avatar_id,omitempty"`
	StatusText  *string `json:"status_text,omitempty"`
	Presence    string  `json:"presence"`
	IsBot       bool    `json:"is_bot"`
	CreatedAt   time.Time `json:"created_at"`
}

// Presence values for User.Presence.
const (
	PresenceOnline  = "online"
	PresenceIdle    = "idle"
	PresenceBusy    = "busy"
	PresenceOffline = "offline"
)

// Guild is a multi-channel chat group. Kind distinguishes a normal guild
// from a "room" (lightweight, invite-only) or a direct-message pairing.
type Guild struct {
	ID      ID       `json:"id"`
	Owners  []ID     `json:"owners"`
	Name    string   `json:"name"`
	Picture *string  `json:"picture,omitempty"`
	Kind    string   `json:"kind"`
}

// Guild.Kind values.
const (
	GuildKindNormal  = "normal"
	GuildKindRoom    = "room"
	GuildKindDirect  = "direct_message"
)

// Channel is an ordered message stream inside a guild.
type Channel struct {
	ID   ID     `json:"id"`
	Guild ID    `json:"guild_id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Channel.Kind values.
const (
	ChannelKindText     = "text"
	ChannelKindVoice    = "voice"
	ChannelKindCategory = "category"
)

// Reaction aggregates one emote's vote count on a message.
type Reaction struct {
	Emote string `json:"emote"`
	Count int    `json:"count"`
	Users []ID   `json:"users"`
}

// Message is an append-only record in a channel. IDs are assigned
// monotonically per (guild, channel) under a write-exclusive region (see
// internal/chat).
type Message struct {
	ID        ID              `json:"id"`
	Guild     ID              `json:"guild_id"`
	Channel   ID              `json:"channel_id"`
	Author    ID              `json:"author_id"`
	Content   string          `json:"content"`
	Embeds    json.RawMessage `json:"embeds,omitempty"`
	ReplyTo   *ID             `json:"reply_to,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	EditedAt  *time.Time      `json:"edited_at,omitempty"`
	Reactions []Reaction      `json:"reactions,omitempty"`
}

// Role is a named permission bundle assignable to users within a guild,
// totally ordered by Position (lower index = higher priority). The
// everyone-role always occupies the last position.
type Role struct {
	ID       ID     `json:"id"`
	Guild    ID     `json:"guild_id"`
	Name     string `json:"name"`
	Color    string `json:"color,omitempty"`
	Hoist    bool   `json:"hoist"`
	Pingable bool   `json:"pingable"`
	Position int    `json:"position"`
}

// EveryoneRoleName is the reserved name of the guild's always-present
// default role.
const EveryoneRoleName = "everyone"

// PermissionBit selects allow or deny for a PermissionNode.
type PermissionBit bool

const (
	Deny  PermissionBit = false
	Allow PermissionBit = true
)

// PermissionNode is an allow/deny rule for a dot-segment wildcard pattern,
// scoped to a role within a guild and optionally a single channel.
// ChannelID is nil for a guild-scope node.
type PermissionNode struct {
	Guild     ID            `json:"guild_id"`
	ChannelID *ID           `json:"channel_id,omitempty"`
	Role      ID            `json:"role_id"`
	Pattern   string        `json:"pattern"`
	Bit       PermissionBit `json:"allow"`
	Seq       uint64        `json:"-"` // insertion-order tiebreak, not client-visible
}

// Member records that a user belongs to a guild and which roles they hold.
type Member struct {
	Guild ID   `json:"guild_id"`
	User  ID   `json:"user_id"`
	Roles []ID `json:"roles"`
}

// Invite is a string-id token granting guild membership.
type Invite struct {
	ID             string     `json:"id"`
	Guild          ID         `json:"guild_id"`
	RemainingUses  *int       `json:"remaining_uses,omitempty"` // nil = unlimited
	CreatedAt      time.Time  `json:"created_at"`
}

// EmotePack is a named collection of custom emotes owned by a user.
type EmotePack struct {
	ID     ID                `json:"id"`
	Owner  ID                `json:"owner_id"`
	Name   string            `json:"name"`
	Emotes map[string]string `json:"emotes"` // name -> image id
}

// Ban records that a user is prevented from rejoining a guild.
type Ban struct {
	Guild     ID        `json:"guild_id"`
	User      ID        `json:"user_id"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a minted bearer token mapping to its owning user.
type Session struct {
	Token     string    `json:"-"`
	UserID    ID        `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// EventDispatch is a federation-outbound record: a signed event queued for
// delivery to a remote host.
type EventDispatch struct {
	ID       ULID            `json:"id"`
	Host     string          `json:"host"`
	Sequence uint64          `json:"sequence"`
	Payload  json.RawMessage `json:"payload"`
	Signature string         `json:"signature"`
}
