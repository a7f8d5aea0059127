package http

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atvirokodosprendimai/curator/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/ohler55/ojg/oj"
)

const maxImportBytes = 16 << 20

func kindParam(r *http.Request) (domain.Kind, error) {
	raw := chi.URLParam(r, "type")
	kind, ok := domain.ParseKind(raw)
	if !ok {
		return "", fmt.Errorf("%w: unknown node type %q", domain.ErrNotFound, raw)
	}
	return kind, nil
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body domain.Node
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	id, err := h.service.Create(r.Context(), actorFromContext(r.Context()), kind, &body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"uuid": id})
}

func (h *Handler) handleDraft(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	n, err := h.service.Draft(r.Context(), actorFromContext(r.Context()), kind, chi.URLParam(r, "uuid"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body domain.Node
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.service.Update(r.Context(), actorFromContext(r.Context()), kind, chi.URLParam(r, "uuid"), &body); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.service.DeleteDraft(r.Context(), actorFromContext(r.Context()), kind, chi.URLParam(r, "uuid")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleLastUpdate(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	t, err := h.service.LastUpdate(r.Context(), actorFromContext(r.Context()), kind, chi.URLParam(r, "uuid"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t.UTC().Format(time.RFC3339Nano))
}

type persistRequest struct {
	LastUpdate time.Time `json:"last_update"`
	Name       string    `json:"name,omitempty"`
}

func (h *Handler) handlePersist(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req persistRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	versionID, err := h.service.Persist(r.Context(), actorFromContext(r.Context()), kind, chi.URLParam(r, "uuid"), req.LastUpdate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": versionID})
}

func (h *Handler) handleLatestPersisted(w http.ResponseWriter, r *http.Request) {
	h.latestPersisted(w, r, nil)
}

func (h *Handler) handleLatestPersistedBefore(w http.ResponseWriter, r *http.Request) {
	at, err := time.Parse(time.RFC3339Nano, chi.URLParam(r, "at"))
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: %q is not an ISO-8601 timestamp", domain.ErrInput, chi.URLParam(r, "at")))
		return
	}
	h.latestPersisted(w, r, &at)
}

func (h *Handler) latestPersisted(w http.ResponseWriter, r *http.Request, before *time.Time) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	n, err := h.service.LatestPersisted(r.Context(), actorFromContext(r.Context()), kind, chi.URLParam(r, "uuid"), before)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *Handler) handleDraftExisting(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	exists, err := h.service.DraftExisting(r.Context(), actorFromContext(r.Context()), kind, chi.URLParam(r, "uuid"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exists)
}

func (h *Handler) handleDuplicate(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	id, err := h.service.Duplicate(r.Context(), actorFromContext(r.Context()), kind, chi.URLParam(r, "uuid"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"uuid": id})
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", domain.ErrInput, err))
		return
	}
	doc, err := oj.Parse(raw)
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", domain.ErrInput, err))
		return
	}
	id, err := h.service.Import(r.Context(), actorFromContext(r.Context()), kind, doc)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uuid": id})
}

func recordOnly(r *http.Request) error {
	kind, err := kindParam(r)
	if err != nil {
		return err
	}
	if kind != domain.KindRecord {
		return fmt.Errorf("%w: only records are published", domain.ErrNotFound)
	}
	return nil
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	if err := recordOnly(r); err != nil {
		h.writeError(w, err)
		return
	}
	var req persistRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	versionID, err := h.service.Publish(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "uuid"), req.LastUpdate, req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": versionID, "name": req.Name})
}

func (h *Handler) handlePublished(w http.ResponseWriter, r *http.Request) {
	if err := recordOnly(r); err != nil {
		h.writeError(w, err)
		return
	}
	n, err := h.service.Published(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "uuid"), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *Handler) handleGetPermissions(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.Permissions(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "uuid"), chi.URLParam(r, "category"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type permissionRequest struct {
	Users []string `json:"users"`
}

func (h *Handler) handleUpdatePermissions(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Users == nil {
		req.Users = []string{}
	}
	users, err := h.service.UpdatePermissions(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "uuid"), chi.URLParam(r, "category"), req.Users)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) handleGroup(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.Group(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "group"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}
