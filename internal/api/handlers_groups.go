package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/transfa/peer-network-service/internal/app"
	"github.com/transfa/peer-network-service/internal/domain"
)

type createGroupRequest struct {
	Name    string                `json:"name"`
	Type    string                `json:"type"`
	Members []string              `json:"members"`
	Rules   *domain.RuleOverrides `json:"rules,omitempty"`
}

type addMemberRequest struct {
	CustomerID string `json:"customer_id"`
}

// CreateGroupHandler creates a group with the caller as creator.
func (h *Handlers) CreateGroupHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeServiceError(w, r, "create_group", err)
		return
	}

	group, err := h.service.CreateGroup(r.Context(), app.CreateGroupInput{
		CreatorID: customerID,
		Name:      req.Name,
		Type:      req.Type,
		Members:   req.Members,
		Overrides: req.Rules,
	})
	if err != nil {
		h.writeServiceError(w, r, "create_group", err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

// ListMyGroupsHandler lists the caller's groups.
func (h *Handlers) ListMyGroupsHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	groups, err := h.service.Groups().GroupsOf(r.Context(), customerID)
	if err != nil {
		h.writeServiceError(w, r, "list_groups", err)
		return
	}
	if groups == nil {
		groups = []*domain.PeerGroup{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"groups": groups})
}

// GetGroupHandler returns a group the caller belongs to. Other groups read as not found.
func (h *Handlers) GetGroupHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	groupID := strings.TrimSpace(chi.URLParam(r, "groupID"))
	group, err := h.service.Groups().Get(r.Context(), groupID)
	if err == nil && !group.HasMember(customerID) {
		err = domain.NewNotFound("group", groupID, domain.ErrGroupNotFound)
	}
	if err != nil {
		h.writeServiceError(w, r, "get_group", err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// AddGroupMemberHandler lets an existing member invite another customer.
func (h *Handlers) AddGroupMemberHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	groupID := strings.TrimSpace(chi.URLParam(r, "groupID"))
	var req addMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeServiceError(w, r, "add_group_member", err)
		return
	}

	group, err := h.service.Groups().Get(r.Context(), groupID)
	if err == nil && !group.HasMember(customerID) {
		err = domain.NewNotFound("group", groupID, domain.ErrGroupNotFound)
	}
	if err == nil {
		group, err = h.service.Groups().AddMember(r.Context(), groupID, req.CustomerID)
	}
	if err != nil {
		h.writeServiceError(w, r, "add_group_member", err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}
