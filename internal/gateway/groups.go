package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type registerGroupRequest struct {
	ID          string         `json:"group_id"`
	Description string         `json:"description"`
	Creator     string         `json:"creator"`
	Metadata    map[string]any `json:"metadata"`
}

func (g *Gateway) handleListGroups() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := g.svc.ListGroups(r.Context(), queryBool(r, "include_protected"), queryBool(r, "include_stats"))
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, groups)
	}
}

func (g *Gateway) handleRegisterGroup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerGroupRequest
		if !g.decode(w, r, &req) {
			return
		}
		group, err := g.svc.RegisterGroup(r.Context(), req.ID, req.Description, req.Creator, req.Metadata)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, group)
	}
}

func (g *Gateway) handleGetGroup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, err := g.svc.GetGroup(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, group)
	}
}

func (g *Gateway) handleDeleteGroup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.svc.DeleteGroup(r.Context(), chi.URLParam(r, "id")); err != nil {
			g.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
