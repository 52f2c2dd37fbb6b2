package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/openclaw/flux/internal/jobs"
	"github.com/openclaw/flux/internal/marketplace"
	"github.com/openclaw/flux/pkg/models"
)

func adminRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	ctx := context.WithValue(req.Context(), userContextKey, models.UserContext{UserID: "u1", Role: models.RoleAdmin})
	return req.WithContext(ctx)
}

func TestHandleBackupCreate_NotImplementedWithoutJobStore(t *testing.T) {
	h, _ := newTestHandler(t)
	req := adminRequest(http.MethodPost, "/api/backup")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleBackupCreate_RequiresAdminRole(t *testing.T) {
	h, _ := newTestHandler(t)
	h.cfg.Jobs = jobs.NewMemoryStore()
	h.cfg.DataDir = t.TempDir()
	h.cfg.BackupDir = t.TempDir()

	req := httptest.NewRequest(http.MethodPost, "/api/backup", nil)
	ctx := context.WithValue(req.Context(), userContextKey, models.UserContext{UserID: "u1", Role: models.RoleUserRank})
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin role, got %d", rec.Code)
	}
}

func TestHandleBackupCreate_EnqueuesPollableJob(t *testing.T) {
	h, _ := newTestHandler(t)
	h.cfg.Jobs = jobs.NewMemoryStore()
	h.cfg.DataDir = t.TempDir()
	h.cfg.BackupDir = t.TempDir()

	req := adminRequest(http.MethodPost, "/api/backup")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var job models.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || job.ToolName != "backup.create" {
		t.Fatalf("unexpected job payload: %+v", job)
	}
	if job.Status != models.JobQueued && job.Status != models.JobRunning && job.Status != models.JobSucceeded {
		t.Fatalf("unexpected initial job status: %q", job.Status)
	}

	getReq := adminRequest(http.MethodGet, "/api/jobs/"+job.ID)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 polling job, got %d: %s", getRec.Code, getRec.Body.String())
	}
}

func TestHandleJobGet_UnknownIDReturnsNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	h.cfg.Jobs = jobs.NewMemoryStore()

	req := adminRequest(http.MethodGet, "/api/jobs/does-not-exist")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleMarketplaceVerify_EnqueuesJob(t *testing.T) {
	h, _ := newTestHandler(t)
	h.cfg.Jobs = jobs.NewMemoryStore()
	dir := t.TempDir()
	h.cfg.Marketplace = marketplace.New(
		filepath.Join(dir, "registry.json"),
		filepath.Join(dir, "cache"),
		filepath.Join(dir, "tools"),
		filepath.Join(dir, "installed.json"),
	)

	req := adminRequest(http.MethodPost, "/api/marketplace/verify")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var job models.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.ToolName != "marketplace.verify" {
		t.Fatalf("unexpected job tool name: %q", job.ToolName)
	}
}
