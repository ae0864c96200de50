package gateway

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// limitQuery wraps a limited telemetry query. A zero limit lets the store
// apply its default.
func (g *Gateway) limitQuery(query func(ctx context.Context, r *http.Request, limit int) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		v, err := query(r.Context(), r, limit)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func (g *Gateway) handleTelemetryStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := g.svc.Telemetry().Stats(r.Context())
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func (g *Gateway) handleRecentErrors() http.HandlerFunc {
	return g.limitQuery(func(ctx context.Context, _ *http.Request, limit int) (any, error) {
		return g.svc.Telemetry().RecentErrors(ctx, limit)
	})
}

func (g *Gateway) handleErrorPatterns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patterns, err := g.svc.Telemetry().ErrorPatterns(r.Context())
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, patterns)
	}
}

type identitiesResponse struct {
	ErrorType  string   `json:"error_type"`
	Identities []string `json:"identities"`
}

func (g *Gateway) handleEpisodesWithError() http.HandlerFunc {
	return g.limitQuery(func(ctx context.Context, r *http.Request, limit int) (any, error) {
		typ := chi.URLParam(r, "type")
		ids, err := g.svc.Telemetry().IdentitiesByErrorType(ctx, typ, limit)
		if err != nil {
			return nil, err
		}
		if ids == nil {
			ids = []string{}
		}
		return identitiesResponse{ErrorType: typ, Identities: ids}, nil
	})
}

func (g *Gateway) handleTrace() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trace, err := g.svc.Telemetry().Trace(r.Context(), chi.URLParam(r, "identity"))
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, trace)
	}
}

func (g *Gateway) handleSearch() http.HandlerFunc {
	search := g.limitQuery(func(ctx context.Context, r *http.Request, limit int) (any, error) {
		return g.svc.Telemetry().Search(ctx, r.URL.Query().Get("q"), limit)
	})
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "" {
			writeError(w, http.StatusBadRequest, "q is required")
			return
		}
		search(w, r)
	}
}

func (g *Gateway) handleStepTimings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timings, err := g.svc.Telemetry().StepTimings(r.Context())
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, timings)
	}
}

func (g *Gateway) handleFailedEpisodes() http.HandlerFunc {
	return g.limitQuery(func(ctx context.Context, _ *http.Request, limit int) (any, error) {
		return g.svc.Telemetry().FailedEpisodes(ctx, limit)
	})
}

func (g *Gateway) handlePurgeTelemetry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := g.svc.PurgeTelemetry(r.Context())
		if err != nil {
			g.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"purged": n})
	}
}
