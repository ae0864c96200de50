package gateway

import (
	"net/http"
	"strconv"

	"github.com/flemzord/ingestd/internal/ingest"
	"github.com/go-chi/chi/v5"
)

func (g *Gateway) handleSubmitEpisode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingest.EpisodeRequest
		if !g.decode(w, r, &req) {
			return
		}
		job, err := req.Job()
		if err != nil {
			g.fail(w, r, err)
			return
		}
		res, err := g.svc.Submit(r.Context(), job)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

func (g *Gateway) handleSubmitDocument() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingest.DocumentRequest
		if !g.decode(w, r, &req) {
			return
		}
		res, err := g.svc.SubmitDocument(r.Context(), req)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

type confirmRequest struct {
	Group string `json:"group_id"`
}

func (g *Gateway) handleConfirmPending() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req confirmRequest
		if !g.decode(w, r, &req) {
			return
		}
		c, err := g.svc.Confirm(r.Context(), chi.URLParam(r, "id"), req.Group)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func (g *Gateway) handleListPending() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := g.svc.ListPending(r.Context())
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func (g *Gateway) handleQueueStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := g.svc.QueueStats(r.Context(), chi.URLParam(r, "group"))
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func (g *Gateway) handlePeekJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "index must be an integer")
			return
		}
		job, err := g.svc.PeekJob(chi.URLParam(r, "group"), index)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}
