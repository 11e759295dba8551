// Package api implements Harbor's HTTP surface: a thin chi-routed RPC
// layer that authenticates a bearer token, delegates to internal/chat for
// every guild/channel/role/message/invite/emote operation, upgrades the
// event-stream endpoint into an internal/gateway.Loop, and accepts signed
// inbound federation envelopes on behalf of internal/federation. It holds
// no business logic of its own — every handler is a thin translation
// between HTTP and one of those three packages.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/harborchat/harbor/internal/auth"
	"github.com/harborchat/harbor/internal/chat"
	"github.com/harborchat/harbor/internal/config"
	"github.com/harborchat/harbor/internal/events"
	"github.com/harborchat/harbor/internal/federation"
	"github.com/harborchat/harbor/internal/gateway"
	"github.com/harborchat/harbor/internal/models"
	"github.com/harborchat/harbor/internal/session"
)

// InboxVerifier is the subset of internal/federation's Dispatcher the
// inbound federation endpoint needs. Declared here so tests can exercise
// the handler without standing up a live NATS connection.
type InboxVerifier interface {
	VerifyInbound(senderHost string, signed federation.SignedPayload) ([]byte, error)
}

// Server is Harbor's HTTP/WebSocket API server: the chi router plus the
// services every handler delegates to.
type Server struct {
	Router     *chi.Mux
	Chat       *chat.Service
	Auth       *auth.Service
	Federation InboxVerifier
	Sessions   *session.Registry
	EventBus   *events.Bus
	Config     *config.Config
	Version    string
	Logger     *slog.Logger

	limiters *limiterSet
	server   *http.Server
}

// NewServer wires every route onto a fresh chi router.
func NewServer(chatSvc *chat.Service, authSvc *auth.Service, fed InboxVerifier, sessions *session.Registry, bus *events.Bus, cfg *config.Config, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Router:     chi.NewRouter(),
		Chat:       chatSvc,
		Auth:       authSvc,
		Federation: fed,
		Sessions:   sessions,
		EventBus:   bus,
		Config:     cfg,
		Version:    version,
		Logger:     logger,
		limiters:   newLimiterSet(cfg.RateLimit.Burst, time.Duration(cfg.RateLimit.RefillSeconds)*time.Second),
	}
	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// ListenAndServe starts the HTTP server on Config.HTTP.Listen, blocking
// until the context is canceled or a fatal error occurs.
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{Addr: s.Config.HTTP.Listen, Handler: s.Router}
	s.Logger.Info("http server listening", "addr", s.Config.HTTP.Listen)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) registerMiddleware() {
	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.RealIP)
	s.Router.Use(slogMiddleware(s.Logger))
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(corsMiddleware(s.Config.HTTP.CORSOrigins))
	s.Router.Use(maxBodySize(1 << 20))
	s.Router.Use(s.rateLimit(rateLimitKeyByIP))
}

func (s *Server) registerRoutes() {
	s.Router.Get("/healthz", s.handleHealth)
	s.Router.Get("/version", s.handleVersion)

	s.Router.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.With(auth.RequireAuth(s.Sessions)).Post("/logout", s.handleLogout)
	})

	s.Router.Post("/federation/v1/inbox", s.handleFederationInbox)

	s.Router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(s.Sessions))
		r.Use(s.rateLimit(rateLimitKeyByUser))
		r.Get("/gateway", s.handleGatewayUpgrade)

		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/guilds", s.handleCreateGuild)
			r.Route("/guilds/{guildID}", func(r chi.Router) {
				r.Get("/", s.handleGetGuild)
				r.Delete("/", s.handleDeleteGuild)
				r.Post("/leave", s.handleLeaveGuild)
				r.Get("/members", s.handleGetGuildMembers)
				r.Post("/members/{userID}/kick", s.handleKickUser)
				r.Post("/members/{userID}/ban", s.handleBanUser)
				r.Delete("/members/{userID}/ban", s.handleUnbanUser)

				r.Post("/channels", s.handleCreateChannel)
				r.Put("/channels/order", s.handleReorderChannels)

				r.Post("/roles", s.handleCreateRole)
				r.Put("/roles/order", s.handleReorderRoles)
				r.Get("/roles/{roleID}/permissions", s.handleGetRolePermissions)
				r.Put("/roles/{roleID}/permissions", s.handleSetRolePermission)

				r.Post("/invites", s.handleCreateInvite)

				r.Route("/channels/{channelID}/messages", func(r chi.Router) {
					r.Post("/", s.handleSendMessage)
					r.Get("/pins", s.handleGetPinnedMessages)
					r.Route("/{messageID}", func(r chi.Router) {
						r.Get("/", s.handleGetMessage)
						r.Patch("/", s.handleEditMessage)
						r.Delete("/", s.handleDeleteMessage)
						r.Post("/pin", s.handlePinMessage)
					})
				})
			})

			r.Get("/invites/{inviteID}", s.handleGetInvite)
			r.Post("/invites/{inviteID}/use", s.handleUseInvite)

			r.Post("/emotes", s.handleCreateEmotePack)
			r.Post("/emotes/{packID}/equip", s.handleEquipEmotePack)
			r.Post("/emotes/{packID}/dequip", s.handleDequipEmotePack)
			r.Delete("/emotes/{packID}/emotes/{name}", s.handleDeleteEmote)

			r.Route("/users/{userID}/appdata/{appID}", func(r chi.Router) {
				r.Get("/", s.handleGetAppData)
				r.Put("/", s.handleSetAppData)
			})
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"version": s.Version})
}

// --- auth ---------------------------------------------------------------

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	UserID models.ID `json:"user_id"`
	Token  string    `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	uid, token, err := s.Auth.Register(req.Username, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, sessionResponse{UserID: uid, Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	uid, token, err := s.Auth.Login(req.Username, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sessionResponse{UserID: uid, Token: token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.Logout(auth.SessionTokenFromContext(r.Context()))
	WriteNoContent(w)
}

// --- federation -----------------------------------------------------------

func (s *Server) handleFederationInbox(w http.ResponseWriter, r *http.Request) {
	senderHost := r.Header.Get("X-Harbor-Sender-Host")
	if senderHost == "" {
		WriteError(w, http.StatusBadRequest, "invalid_field", "X-Harbor-Sender-Host header is required")
		return
	}
	var signed federation.SignedPayload
	if !decodeBody(w, r, &signed) {
		return
	}
	payload, err := s.Federation.VerifyInbound(senderHost, signed)
	if err != nil {
		WriteError(w, http.StatusUnauthorized, "invalid_signature", err.Error())
		return
	}
	WriteJSONRaw(w, http.StatusOK, json.RawMessage(payload))
}

// --- gateway upgrade --------------------------------------------------------

func (s *Server) handleGatewayUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.Logger.Debug("websocket accept failed", "error", err)
		return
	}
	user := auth.UserIDFromContext(r.Context())
	heartbeat, err := s.Config.WebSocket.HeartbeatIntervalParsed()
	if err != nil {
		heartbeat = 0
	}
	loop := gateway.New(conn, s.EventBus, user, s.Chat, s.Chat, heartbeat, s.Logger)
	if err := loop.Run(r.Context()); err != nil {
		s.Logger.Debug("gateway loop ended", "user", user, "error", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// --- helpers --------------------------------------------------------------

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", fmt.Sprintf("malformed request body: %v", err))
		return false
	}
	return true
}

func actorFrom(r *http.Request) models.ID { return auth.UserIDFromContext(r.Context()) }

func urlID(w http.ResponseWriter, r *http.Request, param string) (models.ID, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, param), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_field", fmt.Sprintf("invalid %s", param))
		return 0, false
	}
	return models.ID(v), true
}

// writeServiceError translates a *chat.ServerError or *auth.AuthError into
// the API's error envelope at the appropriate HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	var chatErr *chat.ServerError
	if errors.As(err, &chatErr) {
		WriteError(w, chatStatus(chatErr.Kind), chatCode(chatErr.Kind), chatErr.Error())
		return
	}
	var authErr *auth.AuthError
	if errors.As(err, &authErr) {
		WriteError(w, authErr.Status, authErr.Code, authErr.Message)
		return
	}
	WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func chatStatus(k chat.Kind) int {
	switch k {
	case chat.KindUnauthenticated, chat.KindSessionExpired:
		return http.StatusUnauthorized
	case chat.KindNoSuchUser, chat.KindNoSuchGuild, chat.KindNoSuchChannel, chat.KindNoSuchMessage, chat.KindNoSuchRole, chat.KindNoSuchInvite:
		return http.StatusNotFound
	case chat.KindUserNotInGuild, chat.KindUserNotBanned:
		return http.StatusNotFound
	case chat.KindUserAlreadyInGuild, chat.KindUserBanned:
		return http.StatusConflict
	case chat.KindPermissionDenied, chat.KindCantKickOrBanYourself:
		return http.StatusForbidden
	case chat.KindNotAPermutation, chat.KindInvalidField:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func chatCode(k chat.Kind) string {
	names := map[chat.Kind]string{
		chat.KindUnauthenticated:         "unauthenticated",
		chat.KindSessionExpired:          "session_expired",
		chat.KindNoSuchUser:              "no_such_user",
		chat.KindNoSuchGuild:             "no_such_guild",
		chat.KindNoSuchChannel:           "no_such_channel",
		chat.KindNoSuchMessage:           "no_such_message",
		chat.KindNoSuchRole:              "no_such_role",
		chat.KindNoSuchInvite:            "no_such_invite",
		chat.KindUserNotInGuild:          "user_not_in_guild",
		chat.KindUserAlreadyInGuild:      "user_already_in_guild",
		chat.KindPermissionDenied:        "permission_denied",
		chat.KindCantKickOrBanYourself:   "cant_kick_or_ban_yourself",
		chat.KindUserBanned:              "user_banned",
		chat.KindUserNotBanned:           "user_not_banned",
		chat.KindNotAPermutation:         "not_a_permutation",
		chat.KindInvalidField:            "invalid_field",
		chat.KindDbError:                 "internal_error",
		chat.KindInternalServerError:     "internal_error",
	}
	if name, ok := names[k]; ok {
		return name
	}
	return "internal_error"
}

// ErrorResponse is the standard error envelope returned by the API.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody contains the error code and human-readable message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse is the standard success envelope returned by the API.
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// WriteJSON writes data wrapped in the standard success envelope {"data": ...}.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(SuccessResponse{Data: data})
}

// WriteJSONRaw writes data without wrapping it in the success envelope.
func WriteJSONRaw(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes the standard error envelope {"error": {"code", "message"}}.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// WriteNoContent writes a 204 No Content response with no body.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// slogMiddleware logs every request at Info once it completes.
func slogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			}
			if uid := auth.UserIDFromContext(r.Context()); uid != 0 {
				attrs = append(attrs, slog.String("user_id", uid.String()))
			}
			logger.LogAttrs(r.Context(), slog.LevelInfo, "http request", attrs...)
		})
	}
}

// maxBodySize limits the request body to n bytes. Skips multipart
// requests, which set their own limit.
func maxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ct := r.Header.Get("Content-Type")
			if r.Body != nil && !strings.HasPrefix(ct, "multipart/form-data") {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware sets CORS headers for the configured allowed origins.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allowed := false
			for _, o := range origins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
				isWildcard := len(origins) == 1 && origins[0] == "*"
				if !isWildcard {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
