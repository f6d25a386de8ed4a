package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-scan/internal/catalog"
	"github.com/kozaktomas/face-scan/internal/detector"
	"github.com/kozaktomas/face-scan/internal/facematch"
	"github.com/kozaktomas/face-scan/internal/metrics"
	"github.com/kozaktomas/face-scan/internal/scanner"
	"github.com/kozaktomas/face-scan/internal/worker"
)

// ScansHandler runs pooled scans of candidate sets as async jobs.
type ScansHandler struct {
	catalog    *catalog.Catalog
	detector   scanner.Detector
	config     scanner.Config
	workers    int
	jobManager *JobManager
	logger     *zap.Logger
}

// NewScansHandler creates a new scans handler. workers is the default pool size.
func NewScansHandler(c *catalog.Catalog, det scanner.Detector, cfg scanner.Config, workers int, jm *JobManager, logger *zap.Logger) *ScansHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	return &ScansHandler{
		catalog:    c,
		detector:   det,
		config:     cfg,
		workers:    workers,
		jobManager: jm,
		logger:     logger,
	}
}

// StartScanRequest starts a scan. Exactly one of ProbeImage and ProbeFeature is used;
// ProbeFeature wins when both are present.
type StartScanRequest struct {
	Set          string               `json:"set"`
	ProbeImage   []byte               `json:"probe_image"`
	ProbeFeature map[string][]float64 `json:"probe_feature"`
	Workers      int                  `json:"workers"`
}

// Start validates the request, resolves the probe and starts a scan job.
func (h *ScansHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartScanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Set == "" {
		respondError(w, http.StatusBadRequest, "set is required")
		return
	}

	set, err := h.catalog.Get(req.Set)
	if err != nil {
		respondError(w, http.StatusNotFound, "set not found")
		return
	}

	probe, status, msg := h.resolveProbe(r.Context(), req)
	if status != 0 {
		respondError(w, status, msg)
		return
	}

	workers := req.Workers
	if workers <= 0 {
		workers = h.workers
	}

	job := h.jobManager.CreateJob(uuid.New().String(), set.Name(), workers, set.Len())
	go h.runScanJob(job, set, probe)

	respondJSON(w, http.StatusAccepted, map[string]any{
		"job_id":  job.ID,
		"set":     set.Name(),
		"workers": workers,
		"status":  string(JobStatusPending),
	})
}

// resolveProbe returns the probe feature, or a non-zero HTTP status with a message.
func (h *ScansHandler) resolveProbe(ctx context.Context, req StartScanRequest) (facematch.FeatureVector, int, string) {
	if len(req.ProbeFeature) > 0 {
		fv, err := facematch.FromMap(req.ProbeFeature)
		if err != nil || len(fv) == 0 {
			return nil, http.StatusBadRequest, "invalid probe_feature"
		}
		return fv, 0, ""
	}
	if len(req.ProbeImage) == 0 {
		return nil, http.StatusBadRequest, "probe_image or probe_feature is required"
	}
	if h.detector == nil {
		return nil, http.StatusServiceUnavailable, "detector not configured"
	}

	l, err := h.detector.Detect(ctx, req.ProbeImage)
	if errors.Is(err, detector.ErrNoFace) || (err == nil && l == nil) {
		return nil, http.StatusUnprocessableEntity, "no face found in probe image"
	}
	if err != nil {
		h.logger.Warn("probe detection failed", zap.Error(err))
		return nil, http.StatusBadGateway, "probe detection failed"
	}
	fv := facematch.NewFace(l, h.config.UnitScale).Feature()
	if len(fv) == 0 {
		return nil, http.StatusUnprocessableEntity, "probe face has no usable landmarks"
	}
	return fv, 0, ""
}

// Status returns the status of a scan job.
func (h *ScansHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, job.View())
}

// List returns every known scan job.
func (h *ScansHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobManager.ListJobs()
	views := make([]ScanJobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, job.View())
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

// Events streams job events via SSE.
func (h *ScansHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobManager.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			return job.(*ScanJob).View()
		},
	)
}

// Cancel stops a scan job.
func (h *ScansHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// runScanJob runs the pooled scan in the background. Every resolved item is
// forwarded to listeners and persisted through the catalog.
func (h *ScansHandler) runScanJob(job *ScanJob, set *catalog.Set, probe facematch.FeatureVector) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job.setRunning(cancel)

	metrics.ScanJobsActive.Inc()
	defer metrics.ScanJobsActive.Dec()

	job.SendEvent(JobEvent{Type: "started", Message: "Scan started"})

	pool := worker.NewPool(job.Workers, h.detector, h.config, h.logger.With(zap.String("job", job.ID)))
	defer pool.Close()

	out, err := pool.Scan(ctx, job.ID, probe, set, func(e worker.Event) {
		if e.Type == worker.EventUpdate {
			job.addResolved()
			// persistence must finish even when the scan is being stopped
			if perr := h.catalog.Persist(context.WithoutCancel(ctx), set, e.Index, e.Slot); perr != nil {
				h.logger.Warn("failed to persist template", zap.String("job", job.ID), zap.Error(perr))
			}
		}
		job.SendEvent(JobEvent{Type: e.Type, Data: e})
	})

	status := JobStatusCompleted
	errMsg := ""
	switch {
	case err != nil:
		status = JobStatusFailed
		errMsg = err.Error()
	case out.Status == worker.StatusCancelled:
		status = JobStatusCancelled
	case out.Status != worker.StatusCompleted:
		status = JobStatusFailed
		errMsg = "one or more partitions failed"
	}
	job.finish(status, out, errMsg)

	h.logger.Info("scan job finished",
		zap.String("job", job.ID),
		zap.String("set", set.Name()),
		zap.String("status", string(status)))
	job.SendEvent(JobEvent{Type: string(status), Data: job.View()})
}
