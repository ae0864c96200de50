package gateway

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/flemzord/ingestd/internal/cron"
	"github.com/shirou/gopsutil/v3/process"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime  int64            `json:"uptime_seconds"`
	Queues  QueueSummary     `json:"queues"`
	Pending int              `json:"pending_episodes"`
	Jobs    []cron.JobStatus `json:"jobs"`
	Events  EventSummary     `json:"events"`
	Process *ProcessStats    `json:"process,omitempty"`
}

// QueueSummary totals the group queues.
type QueueSummary struct {
	Groups        int `json:"groups"`
	Waiting       int `json:"waiting"`
	ActiveWorkers int `json:"active_workers"`
}

// EventSummary describes the live event stream.
type EventSummary struct {
	Subscribers int    `json:"subscribers"`
	Dropped     uint64 `json:"dropped"`
}

// ProcessStats is read from the OS for this process.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
	Goroutines int     `json:"goroutines"`
}

func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Uptime: int64(time.Since(g.startedAt).Seconds()),
			Jobs:   []cron.JobStatus{},
		}

		if stats, err := g.svc.QueueStats(r.Context(), ""); err == nil {
			resp.Queues.Groups = len(stats)
			for _, st := range stats {
				resp.Queues.Waiting += st.Depth
				if st.Active {
					resp.Queues.ActiveWorkers++
				}
			}
		}
		if recs, err := g.svc.ListPending(r.Context()); err == nil {
			resp.Pending = len(recs)
		}
		if g.scheduler != nil {
			resp.Jobs = g.scheduler.Jobs()
		}
		if g.hub != nil {
			resp.Events = EventSummary{Subscribers: g.hub.Subscribers(), Dropped: g.hub.Dropped()}
		}
		resp.Process = processStats(r)

		writeJSON(w, http.StatusOK, resp)
	}
}

// processStats returns nil when the OS refuses to describe the process.
func processStats(r *http.Request) *ProcessStats {
	p, err := process.NewProcessWithContext(r.Context(), int32(os.Getpid()))
	if err != nil {
		return nil
	}
	st := &ProcessStats{PID: p.Pid, Goroutines: runtime.NumGoroutine()}
	if mem, err := p.MemoryInfoWithContext(r.Context()); err == nil {
		st.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercentWithContext(r.Context()); err == nil {
		st.CPUPercent = cpu
	}
	if n, err := p.NumThreadsWithContext(r.Context()); err == nil {
		st.Threads = n
	}
	return st
}
