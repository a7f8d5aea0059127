package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/atvirokodosprendimai/curator/internal/application"
	"github.com/atvirokodosprendimai/curator/internal/domain"
	"github.com/atvirokodosprendimai/curator/internal/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const actAsHeader = "X-Act-As"

type contextKey string

const (
	userKey  contextKey = "user"
	actorKey contextKey = "actor"
)

type Handler struct {
	service *application.CurationService
	log     *logger.Logger
}

// NewRouter mounts the node, permission, group and auth endpoints. metrics is
// served at /metrics when non-nil.
func NewRouter(service *application.CurationService, log *logger.Logger, metrics http.Handler) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	h := &Handler{service: service, log: log.With("adapter", "http")}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/login", h.handleAPILogin)
		api.With(h.requireAuth).Get("/auth/whoami", h.handleAPIWhoAmI)
		api.With(h.requireAuth).Get("/audit/logs", h.handleAPIListAuditLogs)
	})

	r.Group(func(auth chi.Router) {
		auth.Use(h.requireAuth)

		auth.Get("/permission/{uuid}/{category}", h.handleGetPermissions)
		auth.Put("/permission/{uuid}/{category}", h.handleUpdatePermissions)
		auth.Get("/group/{group}", h.handleGroup)

		auth.Post("/{type}", h.handleCreate)
		auth.Post("/{type}/import", h.handleImport)
		auth.Put("/{type}/{uuid}", h.handleUpdate)
		auth.Get("/{type}/{uuid}/draft", h.handleDraft)
		auth.Delete("/{type}/{uuid}/draft", h.handleDeleteDraft)
		auth.Get("/{type}/{uuid}/last_update", h.handleLastUpdate)
		auth.Post("/{type}/{uuid}/persist", h.handlePersist)
		auth.Get("/{type}/{uuid}/latest_persisted", h.handleLatestPersisted)
		auth.Get("/{type}/{uuid}/draft_existing", h.handleDraftExisting)
		auth.Post("/{type}/{uuid}/duplicate", h.handleDuplicate)
		auth.Post("/{type}/{uuid}/publish", h.handlePublish)
		auth.Get("/{type}/{uuid}/published/{name}", h.handlePublished)
		auth.Get("/{type}/{uuid}/{at}", h.handleLatestPersistedBefore)
	})

	return r
}

// requireAuth resolves the bearer token to an engine actor. Super-users may
// name another user in X-Act-As.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		u, err := h.service.AuthenticateBearerToken(r.Context(), strings.TrimSpace(authHeader[7:]))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		actor, err := h.service.ActorFor(r.Context(), u, r.Header.Get(actAsHeader))
		if err != nil {
			h.writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, u)
		ctx = context.WithValue(ctx, actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFromContext(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorKey).(domain.Actor)
	return actor
}

func userFromContext(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(userKey).(domain.User)
	return u, ok
}

type apiLoginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	TokenName string `json:"token_name"`
}

func (h *Handler) handleAPILogin(w http.ResponseWriter, r *http.Request) {
	var req apiLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	u, token, err := h.service.LoginWithAPIToken(r.Context(), req.Email, req.Password, req.TokenName, nil)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": u.ID, "email": u.Email, "token": token})
}

func (h *Handler) handleAPIWhoAmI(w http.ResponseWriter, r *http.Request) {
	u, ok := userFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	actor := actorFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         u.ID,
		"email":      u.Email,
		"super_user": u.SuperUser,
		"acting_as":  actor.ActingAs,
	})
}

func (h *Handler) handleAPIListAuditLogs(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListAuditLogs(r.Context(), actorFromContext(r.Context()), 500)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps engine errors onto their status. Internal failures are
// logged and reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := domain.StatusCode(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "error", err)
		writeJSON(w, status, map[string]any{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func decodeBody(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInput, err)
	}
	return nil
}
