// Package admin implements the instance operator's line-oriented command
// shell: a small set of read-only introspection commands plus a handful of
// operator actions (MOTD, session purge), read straight off the store with
// no permission check, since this shell only runs against trusted local
// stdin.
package admin

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harborchat/harbor/internal/models"
	"github.com/harborchat/harbor/internal/session"
	"github.com/harborchat/harbor/internal/store"
	"github.com/harborchat/harbor/internal/store/keys"
)

const helpText = `help key: command <argument: default> -> description

help -> shows this help text
version -> shows the running version
get_invites -> lists every invite on this instance
get_guilds -> lists every guild on this instance
get_members -> lists every guild membership on this instance
get_guild <id> -> shows a single guild
get_guild_members <id> -> lists a guild's members
get_guild_roles <id> -> lists a guild's roles
get_guild_channels <id> -> lists a guild's channels
get_guild_invites <id> -> lists a guild's invites
get_channel_messages <gid> <cid> [before_mid] -> lists a channel's messages
get_message <gid> <cid> <mid> -> shows a single message
get_member <id> -> shows the guilds a user belongs to
get_invite <id> -> shows a single invite
get_role_perms <gid> <rid> [cid] -> lists a role's permission nodes
change_motd <new motd> -> changes the message of the day
show_log <max_lines: 20> -> shows the last lines of the current log file
clear_sessions -> clears all valid sessions from memory (not from storage)
`

// Shell is the admin REPL. It reads commands from an io.Reader (normally
// os.Stdin) and writes results to an io.Writer (normally os.Stdout).
type Shell struct {
	chat     *store.Tree
	sessions *session.Registry
	version  string
	logDir   string

	motdMu sync.Mutex
	motd   string
}

// New builds a Shell bound to the given store and session registry. logDir
// is the directory show_log reads hourly-rotated log files from.
func New(st *store.Store, sessions *session.Registry, version, logDir string) *Shell {
	return &Shell{
		chat:     st.Tree(store.TreeChat),
		sessions: sessions,
		version:  version,
		logDir:   logDir,
	}
}

// MOTD returns the current message of the day, set via change_motd.
func (s *Shell) MOTD() string {
	s.motdMu.Lock()
	defer s.motdMu.Unlock()
	return s.motd
}

// Run drives the REPL until in is exhausted (EOF, e.g. Ctrl-D).
func (s *Shell) Run(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "(%d valid sessions)> ", s.sessions.Count())
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.dispatch(line, out)
	}
}

func (s *Shell) dispatch(line string, out io.Writer) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		fmt.Fprint(out, helpText)
	case "version":
		fmt.Fprintln(out, s.version)
	case "get_invites":
		s.getInvites(out)
	case "get_guilds":
		s.getGuilds(out)
	case "get_members":
		s.getMembers(out)
	case "get_guild":
		s.getGuild(args, out)
	case "get_guild_members":
		s.getGuildMembers(args, out)
	case "get_guild_roles":
		s.getGuildRoles(args, out)
	case "get_guild_channels":
		s.getGuildChannels(args, out)
	case "get_guild_invites":
		s.getGuildInvites(args, out)
	case "get_channel_messages":
		s.getChannelMessages(args, out)
	case "get_message":
		s.getMessage(args, out)
	case "get_member":
		s.getMember(args, out)
	case "get_invite":
		s.getInvite(args, out)
	case "get_role_perms":
		s.getRolePerms(args, out)
	case "change_motd":
		s.changeMotd(args, out)
	case "show_log":
		s.showLog(args, out)
	case "clear_sessions":
		s.sessions.PurgeAll()
		fmt.Fprintln(out, "cleared")
	default:
		fmt.Fprintf(out, "invalid cmd: %s\n", cmd)
	}
}

func argU64(args []string, i int) (uint64, bool) {
	if i >= len(args) {
		return 0, false
	}
	n, err := strconv.ParseUint(args[i], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func decodeEach[T any](seq func(func([]byte, []byte) bool), fn func(key []byte, v T)) {
	seq(func(k, v []byte) bool {
		var val T
		if err := json.Unmarshal(v, &val); err != nil {
			return true
		}
		fn(k, val)
		return true
	})
}

func (s *Shell) getInvites(out io.Writer) {
	seq, err := s.chat.ScanPrefix(keys.InvitePrefix())
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	decodeEach(seq, func(_ []byte, inv models.Invite) {
		fmt.Fprintf(out, "%+v\n", inv)
	})
}

func (s *Shell) getGuilds(out io.Writer) {
	seq, err := s.chat.ScanPrefix(keys.GuildPrefix())
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	decodeEach(seq, func(_ []byte, g models.Guild) {
		fmt.Fprintf(out, "%+v\n", g)
	})
}

// getMembers lists every membership record across every guild. Unlike
// scherzo's own get_members (a listing of locally registered user
// profiles), this instance keeps no standalone profile table: identity is
// just a user id, so the closest faithful listing is every (guild, user)
// pair currently on record.
func (s *Shell) getMembers(out io.Writer) {
	seq, err := s.chat.ScanPrefix(keys.AllMembersPrefix())
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	decodeEach(seq, func(_ []byte, m models.Member) {
		fmt.Fprintf(out, "%+v\n", m)
	})
}

func (s *Shell) getGuild(args []string, out io.Writer) {
	gid, ok := argU64(args, 0)
	if !ok {
		fmt.Fprintln(out, "usage: get_guild <id>")
		return
	}
	v, err := s.chat.Get(keys.Guild(gid))
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	var g models.Guild
	json.Unmarshal(v, &g)
	fmt.Fprintf(out, "%+v\n", g)
}

func (s *Shell) getGuildMembers(args []string, out io.Writer) {
	gid, ok := argU64(args, 0)
	if !ok {
		fmt.Fprintln(out, "usage: get_guild_members <id>")
		return
	}
	seq, err := s.chat.ScanPrefix(keys.MemberPrefix(gid))
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	decodeEach(seq, func(_ []byte, m models.Member) {
		fmt.Fprintf(out, "%+v\n", m)
	})
}

func (s *Shell) getGuildRoles(args []string, out io.Writer) {
	gid, ok := argU64(args, 0)
	if !ok {
		fmt.Fprintln(out, "usage: get_guild_roles <id>")
		return
	}
	seq, err := s.chat.ScanPrefix(keys.RolePrefix(gid))
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	var roles []models.Role
	decodeEach(seq, func(_ []byte, r models.Role) { roles = append(roles, r) })
	sort.Slice(roles, func(i, j int) bool { return roles[i].Position < roles[j].Position })
	for _, r := range roles {
		fmt.Fprintf(out, "%+v\n", r)
	}
}

func (s *Shell) getGuildChannels(args []string, out io.Writer) {
	gid, ok := argU64(args, 0)
	if !ok {
		fmt.Fprintln(out, "usage: get_guild_channels <id>")
		return
	}
	seq, err := s.chat.ScanPrefix(keys.ChannelPrefix(gid))
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	decodeEach(seq, func(_ []byte, c models.Channel) {
		fmt.Fprintf(out, "%+v\n", c)
	})
}

func (s *Shell) getGuildInvites(args []string, out io.Writer) {
	gid, ok := argU64(args, 0)
	if !ok {
		fmt.Fprintln(out, "usage: get_guild_invites <id>")
		return
	}
	seq, err := s.chat.ScanPrefix(keys.InvitePrefix())
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	decodeEach(seq, func(_ []byte, inv models.Invite) {
		if uint64(inv.Guild) == gid {
			fmt.Fprintf(out, "%+v\n", inv)
		}
	})
}

func (s *Shell) getChannelMessages(args []string, out io.Writer) {
	gid, ok1 := argU64(args, 0)
	cid, ok2 := argU64(args, 1)
	if !ok1 || !ok2 {
		fmt.Fprintln(out, "usage: get_channel_messages <gid> <cid> [before_mid]")
		return
	}
	beforeMid, hasBefore := argU64(args, 2)

	seq, err := s.chat.ScanPrefix(keys.MessagePrefix(gid, cid))
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	decodeEach(seq, func(_ []byte, m models.Message) {
		if hasBefore && uint64(m.ID) >= beforeMid {
			return
		}
		fmt.Fprintf(out, "%+v\n", m)
	})
}

func (s *Shell) getMessage(args []string, out io.Writer) {
	gid, ok1 := argU64(args, 0)
	cid, ok2 := argU64(args, 1)
	mid, ok3 := argU64(args, 2)
	if !ok1 || !ok2 || !ok3 {
		fmt.Fprintln(out, "usage: get_message <gid> <cid> <mid>")
		return
	}
	v, err := s.chat.Get(keys.Message(gid, cid, mid))
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	var m models.Message
	json.Unmarshal(v, &m)
	fmt.Fprintf(out, "%+v\n", m)
}

func (s *Shell) getMember(args []string, out io.Writer) {
	uid, ok := argU64(args, 0)
	if !ok {
		fmt.Fprintln(out, "usage: get_member <id>")
		return
	}
	seq, err := s.chat.ScanPrefix(keys.AllMembersPrefix())
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	decodeEach(seq, func(_ []byte, m models.Member) {
		if uint64(m.User) == uid {
			fmt.Fprintf(out, "%+v\n", m)
		}
	})
}

func (s *Shell) getInvite(args []string, out io.Writer) {
	if len(args) < 1 {
		fmt.Fprintln(out, "usage: get_invite <id>")
		return
	}
	v, err := s.chat.Get(keys.Invite(args[0]))
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	var inv models.Invite
	json.Unmarshal(v, &inv)
	fmt.Fprintf(out, "%+v\n", inv)
}

func (s *Shell) getRolePerms(args []string, out io.Writer) {
	gid, ok1 := argU64(args, 0)
	rid, ok2 := argU64(args, 1)
	if !ok1 || !ok2 {
		fmt.Fprintln(out, "usage: get_role_perms <gid> <rid> [cid]")
		return
	}
	cid, _ := argU64(args, 2)

	seq, err := s.chat.ScanPrefix(keys.PermNodeScope(gid, cid, rid))
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	decodeEach(seq, func(_ []byte, n models.PermissionNode) {
		fmt.Fprintf(out, "%+v\n", n)
	})
}

func (s *Shell) changeMotd(args []string, out io.Writer) {
	if len(args) < 1 {
		fmt.Fprintln(out, "usage: change_motd <text>")
		return
	}
	s.motdMu.Lock()
	s.motd = strings.Join(args, " ")
	s.motdMu.Unlock()
}

func (s *Shell) showLog(args []string, out io.Writer) {
	maxLines := 20
	if n, ok := argU64(args, 0); ok {
		maxLines = int(n)
	}

	logPath := filepath.Join(s.logDir, "log."+time.Now().Format("2006-01-02-15"))
	data, err := os.ReadFile(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(out, "log file %s not yet created\n", logPath)
			return
		}
		fmt.Fprintf(out, "log file %s can't be read: %v\n", logPath, err)
		return
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	for i := len(lines) - 1; i >= 0; i-- {
		fmt.Fprintln(out, lines[i])
	}
}
