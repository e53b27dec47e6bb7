package api

import (
	"net/http"
	"time"

	"numera-bot/internal/stories/reportjobs"
)

// Имя воркера в таблице service_heartbeats.
const reportWorkerService = "report_jobs_worker"

type workerHealthResponse struct {
	Service    string     `json:"service"`
	Alive      bool       `json:"alive"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	Host       string     `json:"host,omitempty"`
	PID        int        `json:"pid,omitempty"`
	TTLSeconds float64    `json:"ttl_seconds"`
	Reason     string     `json:"reason,omitempty"`
	// Jobs отдаётся всегда, при ошибке запроса — нулевые счётчики с
	// jobs_reason: мониторингу нужна стабильная форма ответа.
	Jobs       reportjobs.Counts `json:"jobs"`
	JobsReason string            `json:"jobs_reason,omitempty"`
}

// handleReportWorkerHealth всегда отвечает 200: падение БД деградирует в
// alive=false с reason, чтобы мониторинг видел причину, а не голую 500.
func (h *Handler) handleReportWorkerHealth(w http.ResponseWriter, r *http.Request) {
	ttl := 3 * h.cfg.Worker.PollInterval
	if ttl < 30*time.Second {
		ttl = 30 * time.Second
	}

	resp := workerHealthResponse{
		Service:    reportWorkerService,
		TTLSeconds: ttl.Seconds(),
	}

	hb, err := h.storage.GetHeartbeat(r.Context(), reportWorkerService)
	switch {
	case err != nil:
		resp.Reason = "heartbeat query failed"
	case hb == nil:
		resp.Reason = "no heartbeat recorded"
	default:
		resp.LastSeenAt = &hb.UpdatedAt
		resp.Host = hb.Host
		resp.PID = hb.PID
		if time.Since(hb.UpdatedAt) <= ttl {
			resp.Alive = true
		} else {
			resp.Reason = "heartbeat expired"
		}
	}

	counts, err := h.jobs.Counts(r.Context())
	if err != nil {
		resp.JobsReason = "jobs query failed"
	} else {
		resp.Jobs = counts
	}

	writeJSON(w, http.StatusOK, resp)
}
