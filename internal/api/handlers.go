package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/harborchat/harbor/internal/models"
)

// --- guilds -----------------------------------------------------------

type createGuildRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateGuild(w http.ResponseWriter, r *http.Request) {
	var req createGuildRequest
	if !decodeBody(w, r, &req) {
		return
	}
	g, err := s.Chat.CreateGuild(actorFrom(r), req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, g)
}

func (s *Server) handleGetGuild(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	g, err := s.Chat.GetGuild(actorFrom(r), gid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGuild(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	if err := s.Chat.DeleteGuild(actorFrom(r), gid); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

func (s *Server) handleLeaveGuild(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	if err := s.Chat.LeaveGuild(actorFrom(r), gid); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

func (s *Server) handleGetGuildMembers(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	members, err := s.Chat.GetGuildMembers(actorFrom(r), gid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, members)
}

func (s *Server) handleKickUser(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	uid, ok := urlID(w, r, "userID")
	if !ok {
		return
	}
	if err := s.Chat.KickUser(actorFrom(r), gid, uid); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

type banRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleBanUser(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	uid, ok := urlID(w, r, "userID")
	if !ok {
		return
	}
	var req banRequest
	_ = decodeBodyOptional(r, &req)
	if err := s.Chat.BanUser(actorFrom(r), gid, uid, req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

func (s *Server) handleUnbanUser(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	uid, ok := urlID(w, r, "userID")
	if !ok {
		return
	}
	if err := s.Chat.UnbanUser(actorFrom(r), gid, uid); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

// --- channels -----------------------------------------------------------

type createChannelRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	var req createChannelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ch, err := s.Chat.CreateChannel(actorFrom(r), gid, req.Name, req.Kind)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleReorderChannels(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	var order []models.ID
	if !decodeBody(w, r, &order) {
		return
	}
	if err := s.Chat.ReorderChannels(actorFrom(r), gid, order); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

// --- roles --------------------------------------------------------------

type createRoleRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	var req createRoleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	role, err := s.Chat.CreateRole(actorFrom(r), gid, req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, role)
}

func (s *Server) handleReorderRoles(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	var order []models.ID
	if !decodeBody(w, r, &order) {
		return
	}
	if err := s.Chat.ReorderRoles(actorFrom(r), gid, order); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

func (s *Server) handleGetRolePermissions(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	rid, ok := urlID(w, r, "roleID")
	if !ok {
		return
	}
	cidOrZero := models.ID(0)
	if v := r.URL.Query().Get("channel_id"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_field", "invalid channel_id")
			return
		}
		cidOrZero = models.ID(parsed)
	}
	nodes, err := s.Chat.Nodes(gid, cidOrZero, rid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, nodes)
}

type setPermissionRequest struct {
	ChannelID *models.ID `json:"channel_id,omitempty"`
	Pattern   string     `json:"pattern"`
	Allow     bool       `json:"allow"`
}

func (s *Server) handleSetRolePermission(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	rid, ok := urlID(w, r, "roleID")
	if !ok {
		return
	}
	var req setPermissionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Chat.SetPermissionNode(actorFrom(r), gid, req.ChannelID, rid, req.Pattern, req.Allow); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

// --- messages -------------------------------------------------------------

type sendMessageRequest struct {
	Content string     `json:"content"`
	ReplyTo *models.ID `json:"reply_to,omitempty"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	cid, ok := urlID(w, r, "channelID")
	if !ok {
		return
	}
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := s.Chat.SendMessage(actorFrom(r), gid, cid, req.Content, req.ReplyTo)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	cid, ok := urlID(w, r, "channelID")
	if !ok {
		return
	}
	mid, ok := urlID(w, r, "messageID")
	if !ok {
		return
	}
	msg, err := s.Chat.GetMessage(actorFrom(r), gid, cid, mid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, msg)
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	cid, ok := urlID(w, r, "channelID")
	if !ok {
		return
	}
	mid, ok := urlID(w, r, "messageID")
	if !ok {
		return
	}
	var req editMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := s.Chat.EditMessage(actorFrom(r), gid, cid, mid, req.Content)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	cid, ok := urlID(w, r, "channelID")
	if !ok {
		return
	}
	mid, ok := urlID(w, r, "messageID")
	if !ok {
		return
	}
	if err := s.Chat.DeleteMessage(actorFrom(r), gid, cid, mid); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

func (s *Server) handlePinMessage(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	cid, ok := urlID(w, r, "channelID")
	if !ok {
		return
	}
	mid, ok := urlID(w, r, "messageID")
	if !ok {
		return
	}
	if err := s.Chat.Pin(actorFrom(r), gid, cid, mid); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

func (s *Server) handleGetPinnedMessages(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	cid, ok := urlID(w, r, "channelID")
	if !ok {
		return
	}
	pinned, err := s.Chat.GetPinnedMessages(actorFrom(r), gid, cid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, pinned)
}

// --- invites --------------------------------------------------------------

type createInviteRequest struct {
	RemainingUses *int `json:"remaining_uses,omitempty"`
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	gid, ok := urlID(w, r, "guildID")
	if !ok {
		return
	}
	var req createInviteRequest
	_ = decodeBodyOptional(r, &req)
	inv, err := s.Chat.CreateInvite(actorFrom(r), gid, req.RemainingUses)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, inv)
}

func (s *Server) handleGetInvite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "inviteID")
	inv, err := s.Chat.GetInvite(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inv)
}

func (s *Server) handleUseInvite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "inviteID")
	gid, err := s.Chat.UseInvite(actorFrom(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]models.ID{"guild_id": gid})
}

// --- emotes -----------------------------------------------------------

type createEmotePackRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateEmotePack(w http.ResponseWriter, r *http.Request) {
	var req createEmotePackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pack, err := s.Chat.CreateEmotePack(actorFrom(r), req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, pack)
}

func (s *Server) handleEquipEmotePack(w http.ResponseWriter, r *http.Request) {
	pid, ok := urlID(w, r, "packID")
	if !ok {
		return
	}
	if err := s.Chat.EquipEmotePack(actorFrom(r), pid); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

func (s *Server) handleDequipEmotePack(w http.ResponseWriter, r *http.Request) {
	pid, ok := urlID(w, r, "packID")
	if !ok {
		return
	}
	if err := s.Chat.DequipEmotePack(actorFrom(r), pid); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

func (s *Server) handleDeleteEmote(w http.ResponseWriter, r *http.Request) {
	pid, ok := urlID(w, r, "packID")
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.Chat.DeleteEmoteFromPack(actorFrom(r), pid, name); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

// --- profile app data -----------------------------------------------------

func (s *Server) handleGetAppData(w http.ResponseWriter, r *http.Request) {
	uid, ok := urlID(w, r, "userID")
	if !ok {
		return
	}
	appID := chi.URLParam(r, "appID")
	data, err := s.Chat.GetAppData(actorFrom(r), uid, appID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleSetAppData(w http.ResponseWriter, r *http.Request) {
	uid, ok := urlID(w, r, "userID")
	if !ok {
		return
	}
	appID := chi.URLParam(r, "appID")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
		return
	}
	if err := s.Chat.SetAppData(actorFrom(r), uid, appID, data); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteNoContent(w)
}

// decodeBodyOptional decodes a JSON body into v if one was sent, leaving v
// at its zero value (rather than failing the request) when the body is
// empty — used by endpoints whose request payload is entirely optional.
func decodeBodyOptional(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}
