package keys

import (
	"bytes"
	"testing"
)

func TestScanPrefixesAreActualPrefixesOfTheirRecordKeys(t *testing.T) {
	cases := []struct {
		name   string
		prefix []byte
		full   []byte
	}{
		{"guild", GuildPrefix(), Guild(5)},
		{"invite", InvitePrefix(), Invite("abc123")},
		{"all members", AllMembersPrefix(), Member(1, 2)},
		{"channel", ChannelPrefix(1), Channel(1, 2)},
		{"role", RolePrefix(1), Role(1, 2)},
		{"message", MessagePrefix(1, 2), Message(1, 2, 3)},
		{"member", MemberPrefix(1), Member(1, 2)},
		{"perm node scope", PermNodeScope(1, 0, 2), PermNode(1, 0, 2, 0, "foo")},
		{"perm node guild", PermNodeGuildPrefix(1), PermNode(1, 0, 2, 0, "foo")},
		{"emote pack emote", EmotePackEmotePrefix(1), EmotePackEmote(1, "pog")},
		{"equipped packs", EquippedPacksPrefix(), EquippedPacks(1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !bytes.HasPrefix(tc.full, tc.prefix) {
				t.Errorf("%x is not a prefix of %x", tc.prefix, tc.full)
			}
		})
	}
}

func TestKeysPreserveNumericOrderLexicographically(t *testing.T) {
	if bytes.Compare(Guild(1), Guild(2)) >= 0 {
		t.Error("Guild(1) should sort before Guild(2)")
	}
	if bytes.Compare(Message(1, 1, 9), Message(1, 1, 10)) >= 0 {
		t.Error("Message mid=9 should sort before mid=10 despite fewer decimal digits")
	}
	if bytes.Compare(Channel(1, 5), Channel(2, 1)) >= 0 {
		t.Error("Channel keys should sort by guild id first")
	}
}

func TestDistinctEntitiesNeverShareAKey(t *testing.T) {
	if bytes.Equal(Guild(1), Channel(0, 1)) {
		t.Error("Guild and Channel keys must not collide")
	}
	if bytes.Equal(Role(1, 2), Member(1, 2)) {
		t.Error("Role and Member keys must not collide")
	}
}
