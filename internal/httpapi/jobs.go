package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/openclaw/flux/internal/auth"
	"github.com/openclaw/flux/internal/backup"
	"github.com/openclaw/flux/internal/jobs"
	"github.com/openclaw/flux/pkg/models"
)

// handleJobGet returns the current state of a queued/running/finished job.
func (h *Handler) handleJobGet(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Jobs == nil {
		writeError(w, http.StatusNotImplemented, "job store not configured")
		return
	}
	id := r.PathValue("id")
	job, err := h.cfg.Jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleBackupCreate enqueues a backup.Create run as a Job instead of
// blocking the request on the archive write (SPEC_FULL.md §3's rationale
// for the Job entity: "file backups ... without blocking a turn").
// Requires at least the "admin" role.
func (h *Handler) handleBackupCreate(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Jobs == nil {
		writeError(w, http.StatusNotImplemented, "job store not configured")
		return
	}
	uc := userFromContext(r.Context())
	if !auth.CanAccess(uc.Role, models.RoleAdmin) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}

	job, err := jobs.Run(r.Context(), h.cfg.Jobs, "backup.create", "", func(ctx context.Context) (string, error) {
		manifest, err := backup.Create(h.cfg.DataDir, h.cfg.BackupDir)
		if err != nil {
			return "", err
		}
		encoded, err := json.Marshal(manifest)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue backup job")
		return
	}
	h.audit(r, "backup_job_queued", uc, map[string]any{"job_id": job.ID})
	writeJSON(w, http.StatusAccepted, job)
}

// handleMarketplaceVerify enqueues a marketplace integrity sweep as a Job
// (SPEC_FULL.md §3: "marketplace verification sweeps ... without blocking a
// turn"). Requires at least the "admin" role.
func (h *Handler) handleMarketplaceVerify(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Jobs == nil {
		writeError(w, http.StatusNotImplemented, "job store not configured")
		return
	}
	if h.cfg.Marketplace == nil {
		writeError(w, http.StatusNotImplemented, "marketplace not configured")
		return
	}
	uc := userFromContext(r.Context())
	if !auth.CanAccess(uc.Role, models.RoleAdmin) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}

	job, err := jobs.Run(r.Context(), h.cfg.Jobs, "marketplace.verify", "", func(ctx context.Context) (string, error) {
		statuses, err := h.cfg.Marketplace.VerifyIntegrity(ctx)
		if err != nil {
			return "", err
		}
		encoded, err := json.Marshal(statuses)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue verification job")
		return
	}
	h.audit(r, "marketplace_verify_job_queued", uc, map[string]any{"job_id": job.ID})
	writeJSON(w, http.StatusAccepted, job)
}
