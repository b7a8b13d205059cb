package handler

import (
	"net/http"
	"strings"

	"survey-platform/internal/model"
	"survey-platform/internal/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(service *service.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	items, meta, err := h.service.Query(r.Context(), model.AuditQuery{
		Action:     strings.TrimSpace(query.Get("action")),
		ActorID:    strings.TrimSpace(query.Get("actor_id")),
		TargetType: strings.TrimSpace(query.Get("target_type")),
		TargetID:   strings.TrimSpace(query.Get("target_id")),
		Page:       parseIntOrDefault(query.Get("page"), 1),
		Limit:      parseIntOrDefault(query.Get("limit"), 50),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, items, &meta)
}
