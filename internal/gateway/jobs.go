package gateway

import (
	"errors"
	"net/http"

	"github.com/flemzord/ingestd/internal/cron"
	"github.com/go-chi/chi/v5"
)

func (g *Gateway) handleListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		jobs := []cron.JobStatus{}
		if g.scheduler != nil {
			jobs = g.scheduler.Jobs()
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

// handleRunJob runs a maintenance job synchronously.
func (g *Gateway) handleRunJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.scheduler == nil {
			writeError(w, http.StatusNotFound, "no scheduler")
			return
		}
		name := chi.URLParam(r, "name")
		err := g.scheduler.RunNow(name)
		switch {
		case errors.Is(err, cron.ErrUnknownJob):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, cron.ErrBusy):
			writeError(w, http.StatusConflict, err.Error())
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			writeJSON(w, http.StatusOK, map[string]string{"job": name, "status": "completed"})
		}
	}
}
