package admin

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harborchat/harbor/internal/models"
	"github.com/harborchat/harbor/internal/session"
	"github.com/harborchat/harbor/internal/store"
	"github.com/harborchat/harbor/internal/store/keys"
)

func newTestShell(t *testing.T) (*Shell, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "admin.db"), nil)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, session.New(), "harbor-test", t.TempDir()), st
}

func putJSON(t *testing.T, tree *store.Tree, key []byte, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling fixture: %v", err)
	}
	if err := tree.Insert(key, data); err != nil {
		t.Fatalf("inserting fixture: %v", err)
	}
}

func TestHelpAndVersion(t *testing.T) {
	shell, _ := newTestShell(t)
	var out bytes.Buffer

	shell.dispatch("version", &out)
	if strings.TrimSpace(out.String()) != "harbor-test" {
		t.Errorf("version output = %q", out.String())
	}

	out.Reset()
	shell.dispatch("help", &out)
	if !strings.Contains(out.String(), "clear_sessions") {
		t.Error("help text should mention clear_sessions")
	}
}

func TestGetGuildsListsInsertedGuild(t *testing.T) {
	shell, st := newTestShell(t)
	chat := st.Tree(store.TreeChat)
	putJSON(t, chat, keys.Guild(42), models.Guild{ID: 42, Name: "Test Guild"})

	var out bytes.Buffer
	shell.dispatch("get_guild 42", &out)
	if !strings.Contains(out.String(), "Test Guild") {
		t.Errorf("get_guild output = %q", out.String())
	}
}

func TestGetGuildUnknownReportsError(t *testing.T) {
	shell, _ := newTestShell(t)
	var out bytes.Buffer
	shell.dispatch("get_guild 999", &out)
	if !strings.Contains(out.String(), "error") {
		t.Errorf("expected error output, got %q", out.String())
	}
}

func TestGetGuildInvitesFiltersByGuild(t *testing.T) {
	shell, st := newTestShell(t)
	chat := st.Tree(store.TreeChat)
	putJSON(t, chat, keys.Invite("aaa"), models.Invite{ID: "aaa", Guild: 1})
	putJSON(t, chat, keys.Invite("bbb"), models.Invite{ID: "bbb", Guild: 2})

	var out bytes.Buffer
	shell.dispatch("get_guild_invites 1", &out)
	if !strings.Contains(out.String(), "aaa") || strings.Contains(out.String(), "bbb") {
		t.Errorf("get_guild_invites output = %q", out.String())
	}
}

func TestGetChannelMessagesRespectsBeforeMid(t *testing.T) {
	shell, st := newTestShell(t)
	chat := st.Tree(store.TreeChat)
	for mid := uint64(1); mid <= 3; mid++ {
		putJSON(t, chat, keys.Message(1, 1, mid), models.Message{ID: models.ID(mid), Guild: 1, Channel: 1, Content: "msg"})
	}

	var out bytes.Buffer
	shell.dispatch("get_channel_messages 1 1 3", &out)
	lines := strings.Count(out.String(), "\n")
	if lines != 2 {
		t.Errorf("expected 2 messages before mid 3, got %d lines: %q", lines, out.String())
	}
}

func TestChangeMotdUpdatesMOTD(t *testing.T) {
	shell, _ := newTestShell(t)
	var out bytes.Buffer
	shell.dispatch("change_motd welcome to the guild", &out)
	if shell.MOTD() != "welcome to the guild" {
		t.Errorf("MOTD() = %q", shell.MOTD())
	}
}

func TestClearSessionsPurgesRegistry(t *testing.T) {
	shell, _ := newTestShell(t)
	if _, err := shell.sessions.Mint(models.ID(1)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if shell.sessions.Count() != 1 {
		t.Fatalf("expected one session before clear")
	}

	var out bytes.Buffer
	shell.dispatch("clear_sessions", &out)
	if shell.sessions.Count() != 0 {
		t.Error("expected clear_sessions to purge the registry")
	}
}

func TestInvalidCommandReportsInvalid(t *testing.T) {
	shell, _ := newTestShell(t)
	var out bytes.Buffer
	shell.dispatch("not_a_real_command", &out)
	if !strings.Contains(out.String(), "invalid cmd") {
		t.Errorf("output = %q", out.String())
	}
}

func TestShowLogMissingFileReportsNotCreated(t *testing.T) {
	shell, _ := newTestShell(t)
	var out bytes.Buffer
	shell.dispatch("show_log", &out)
	if !strings.Contains(out.String(), "not yet created") {
		t.Errorf("output = %q", out.String())
	}
}
