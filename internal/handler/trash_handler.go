package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"survey-platform/internal/model"
	"survey-platform/internal/service"
	"survey-platform/pkg/apierror"
)

type TrashHandler struct {
	service *service.TrashService
}

func NewTrashHandler(service *service.TrashService) *TrashHandler {
	return &TrashHandler{service: service}
}

func (h *TrashHandler) MoveAccountToTrash(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.AccountTrashRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.New("BAD_REQUEST", "invalid JSON body", "", http.StatusBadRequest))
		return
	}

	if strings.TrimSpace(payload.UserID) == "" {
		writeError(w, apierror.New("BAD_REQUEST", "user_id is required", "user_id", http.StatusBadRequest))
		return
	}

	rec, err := h.service.MoveAccountToTrash(r.Context(), payload, actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, rec, nil)
}

func (h *TrashHandler) MoveProjectsToTrash(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.ProjectTrashRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.New("BAD_REQUEST", "invalid JSON body", "", http.StatusBadRequest))
		return
	}

	if len(payload.ProjectIDs) == 0 {
		writeError(w, apierror.New("BAD_REQUEST", "project_ids is required", "project_ids", http.StatusBadRequest))
		return
	}

	records, err := h.service.MoveProjectsToTrash(r.Context(), payload, actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, records, nil)
}

func (h *TrashHandler) ListAccountTrash(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListAccountTrash(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, records, nil)
}

func (h *TrashHandler) ListProjectTrash(w http.ResponseWriter, r *http.Request) {
	includeCompleted := strings.EqualFold(r.URL.Query().Get("include_completed"), "true")

	records, err := h.service.ListProjectTrash(r.Context(), includeCompleted)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, records, nil)
}

func (h *TrashHandler) PutBackAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.service.PutBackAccount(r.Context(), chi.URLParam(r, "trash_id"), actorFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"restored": true}, nil)
}

func (h *TrashHandler) PutBackProject(w http.ResponseWriter, r *http.Request) {
	if err := h.service.PutBackProject(r.Context(), chi.URLParam(r, "trash_id"), actorFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"restored": true}, nil)
}

func (h *TrashHandler) RetryAccountPurge(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RetryAccountPurge(r.Context(), chi.URLParam(r, "trash_id")); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, map[string]any{"requeued": true}, nil)
}

func (h *TrashHandler) RetryProjectPurge(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RetryProjectPurge(r.Context(), chi.URLParam(r, "trash_id")); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, map[string]any{"requeued": true}, nil)
}
