package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"kolab/internal/resource/model"
	"kolab/internal/resource/service"
	"kolab/pkg/logger"
)

type ResourceHandler struct {
	Service *service.ResourceService
}

func NewResourceHandler(s *service.ResourceService) *ResourceHandler {
	return &ResourceHandler{Service: s}
}

type notifyRequest struct {
	Domain     model.Domain `json:"domain"`
	ResourceID string       `json:"resource_id,omitempty"`
}

func (h *ResourceHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	domain := model.Domain(r.URL.Query().Get("domain"))
	nodes, err := h.Service.GetTree(domain)
	if errors.Is(err, service.ErrUnknownDomain) {
		http.Error(w, "Unknown domain", http.StatusBadRequest)
		return
	}
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to get %s tree: %v", domain, err)
		http.Error(w, "Failed to get tree", http.StatusInternalServerError)
		return
	}
	if nodes == nil {
		nodes = []model.ResourceNode{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(nodes)
}

func (h *ResourceHandler) GetResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return
	}

	res, err := h.Service.GetResource(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Resource not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to get resource", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func (h *ResourceHandler) GetLocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	domain := model.Domain(r.URL.Query().Get("domain"))
	byResource, err := h.Service.Locks(domain)
	if errors.Is(err, service.ErrUnknownDomain) {
		http.Error(w, "Unknown domain", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(byResource)
}

// NotifyChanged is called by the storage collaborator after a write. It is
// the only inbound REST mutation: the coordination layer itself never writes
// resources.
func (h *ResourceHandler) NotifyChanged(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.Service.NotifyChanged(req.Domain, req.ResourceID); err != nil {
		http.Error(w, "Unknown domain", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}
