package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/dispatcher"
	"github.com/iantaiahn/topicscraper/internal/id/uuid"
	"github.com/iantaiahn/topicscraper/internal/jobs"
	"github.com/iantaiahn/topicscraper/internal/pipeline"
	"github.com/iantaiahn/topicscraper/internal/policy/ratelimit"
	"github.com/iantaiahn/topicscraper/internal/scraper"
	"github.com/iantaiahn/topicscraper/internal/telemetry"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
	storeTimeout    = 3 * time.Second
)

const invalidURLMessage = "Invalid URL. Must start with http:// or https:// and contain a domain."

// JobHandler serves the asynchronous job endpoints.
type JobHandler struct {
	deps           Dependencies
	timeout        time.Duration
	enqueueTimeout time.Duration
	logger         *zap.Logger
}

// NewJobHandler wires the job store, queue and policies.
func NewJobHandler(deps Dependencies, enqueueTimeout time.Duration) *JobHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobHandler{
		deps:           deps,
		timeout:        storeTimeout,
		enqueueTimeout: enqueueTimeout,
		logger:         logger.Named("jobs"),
	}
}

type startRequest struct {
	URL              string  `json:"url"`
	Headless         *bool   `json:"headless,omitempty"`
	MemoryLimitMB    float64 `json:"memory_limit_mb,omitempty"`
	MaxContentLength int     `json:"max_content_length,omitempty"`
}

type startResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type statusResponse struct {
	JobID     string    `json:"job_id"`
	URL       string    `json:"url"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	MemoryMB  *float64  `json:"memory_mb,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type resultResponse struct {
	Success   bool             `json:"success"`
	Result    *pipeline.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorKind string           `json:"error_kind,omitempty"`
}

// Start handles POST /start-process/. It validates the URL, records a
// pending job and queues it. Returns 202 with the job ID, 400 for invalid
// input, 403 for disallowed hosts, 429 when the client is throttled and 503
// when the queue is full.
func (h *JobHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if status, msg := h.admit(r, req.URL); status != 0 {
		writeError(w, status, msg)
		return
	}
	if req.MemoryLimitMB < 0 || req.MaxContentLength < 0 {
		writeError(w, http.StatusBadRequest, "limits must be positive")
		return
	}

	jobID, err := h.deps.IDs.NewID()
	if err != nil {
		h.logger.Error("generate job id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	now := h.deps.Clock.Now()
	job := jobs.Job{
		ID:        jobID,
		URL:       strings.TrimSpace(req.URL),
		Status:    jobs.StatusPending,
		Message:   "Job created",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.deps.Jobs.Create(r.Context(), job); err != nil {
		h.logger.Error("create job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	item := jobs.QueueItem{
		JobID: jobID,
		URL:   job.URL,
		Options: jobs.Options{
			Headless:         req.Headless,
			MemoryLimitMB:    req.MemoryLimitMB,
			MaxContentLength: req.MaxContentLength,
		},
		Submitted: now.Unix(),
		Trace:     map[string]string{},
	}
	telemetry.Inject(r.Context(), item.Trace)
	if err := h.enqueue(r.Context(), item); err != nil {
		status := http.StatusInternalServerError
		msg := "failed to queue job"
		if errors.Is(err, dispatcher.ErrBusy) || errors.Is(err, jobs.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
			msg = "job queue is full, try again later"
		}
		h.logger.Warn("enqueue failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, status, msg)
		return
	}
	h.logger.Info("job queued", zap.String("job_id", jobID), zap.String("url", job.URL))
	writeJSON(w, http.StatusAccepted, startResponse{JobID: jobID, Status: "started"})
}

// admit runs the URL checks shared by every endpoint that fetches. A zero
// status means the request may proceed.
func (h *JobHandler) admit(r *http.Request, rawURL string) (int, string) {
	if _, err := scraper.ValidateURL(rawURL); err != nil {
		return http.StatusBadRequest, invalidURLMessage
	}
	if h.deps.Hosts != nil {
		if err := h.deps.Hosts.Check(rawURL); err != nil {
			return http.StatusForbidden, "url host is not allowed"
		}
	}
	if h.deps.Limiter != nil {
		if err := h.deps.Limiter.Allow(clientKey(r)); err != nil {
			if errors.Is(err, ratelimit.ErrLimited) {
				return http.StatusTooManyRequests, "too many requests"
			}
			return http.StatusInternalServerError, "rate limiter failed"
		}
	}
	return 0, ""
}

// enqueue queues item, removing the job record when the queue refuses it.
func (h *JobHandler) enqueue(ctx context.Context, item jobs.QueueItem) error {
	queueCtx, cancel := context.WithTimeout(ctx, h.enqueueTimeout)
	defer cancel()
	err := h.deps.Dispatcher.Enqueue(queueCtx, item)
	if err == nil {
		return nil
	}
	cleanupCtx, cleanupCancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cleanupCancel()
	if delErr := h.deps.Jobs.Delete(cleanupCtx, item.JobID); delErr != nil && !errors.Is(delErr, jobs.ErrNotFound) {
		h.logger.Warn("remove unqueued job failed", zap.String("job_id", item.JobID), zap.Error(delErr))
	}
	return fmt.Errorf("enqueue job: %w", err)
}

// Status handles GET /status/{job_id}. It returns the job's progress, 400 for
// malformed IDs and 404 for unknown or expired jobs.
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	job, ok := h.load(w, r)
	if !ok {
		return
	}
	resp := statusResponse{
		JobID:     job.ID,
		URL:       job.URL,
		Status:    string(job.Status),
		Progress:  job.Progress,
		Message:   job.Message,
		UpdatedAt: job.UpdatedAt,
	}
	if job.MemoryMB > 0 {
		mb := roundMB(job.MemoryMB)
		resp.MemoryMB = &mb
	}
	writeJSON(w, http.StatusOK, resp)
}

// Result handles GET /result/{job_id}. Completed jobs return the pipeline
// result, failed jobs the error; anything else is 400 until it finishes.
func (h *JobHandler) Result(w http.ResponseWriter, r *http.Request) {
	job, ok := h.load(w, r)
	if !ok {
		return
	}
	switch job.Status {
	case jobs.StatusCompleted:
		writeJSON(w, http.StatusOK, resultResponse{Success: true, Result: job.Result})
	case jobs.StatusFailed:
		writeJSON(w, http.StatusOK, resultResponse{Success: false, Error: job.Error, ErrorKind: job.ErrorKind})
	default:
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Job not completed yet. Current status: %s (%d%%)", job.Status, job.Progress))
	}
}

// Report handles GET /reports/{job_id} by streaming the stored HTML report.
func (h *JobHandler) Report(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reports == nil {
		writeError(w, http.StatusNotFound, "reports are not served by this store")
		return
	}
	job, ok := h.load(w, r)
	if !ok {
		return
	}
	if job.Status != jobs.StatusCompleted || job.Result == nil || job.Result.ReportPath == "" {
		writeError(w, http.StatusNotFound, "report not available")
		return
	}
	body, err := h.deps.Reports.GetObject(r.Context(), job.Result.ReportPath)
	if err != nil {
		if errors.Is(err, jobs.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "report not available")
			return
		}
		h.logger.Error("read report failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read report")
		return
	}
	defer func() { _ = body.Close() }()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("stream report failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Delete handles DELETE /jobs/{job_id}.
func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	if err := h.deps.Jobs.Delete(ctx, jobID); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("delete job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Job %s deleted successfully", jobID)})
}

// List handles GET /jobs?status=&limit=&offset=. It returns
// {"jobs": [...], "count": n} ordered by creation time, or 400 for invalid
// filters.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status jobs.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		if status, err = parseStatus(raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	all, err := h.deps.Jobs.List(ctx)
	if err != nil {
		h.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	summaries := make([]jobs.Summary, 0, len(all))
	for _, job := range all {
		if status != "" && job.Status != status {
			continue
		}
		summaries = append(summaries, job.Summary())
	}
	total := len(summaries)
	if offset >= len(summaries) {
		summaries = summaries[:0]
	} else {
		summaries = summaries[offset:min(offset+limit, len(summaries))]
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": summaries, "count": len(summaries), "total": total})
}

func (h *JobHandler) load(w http.ResponseWriter, r *http.Request) (jobs.Job, bool) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return jobs.Job{}, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	job, err := h.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Job not found")
			return jobs.Job{}, false
		}
		h.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return jobs.Job{}, false
	}
	return job, true
}

func parseJobID(r *http.Request) (string, error) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		return "", errors.New("job_id is required")
	}
	if !uuid.Valid(jobID) {
		return "", errors.New("invalid job_id")
	}
	return strings.ToLower(jobID), nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (jobs.Status, error) {
	switch s := jobs.Status(strings.ToLower(input)); s {
	case jobs.StatusPending, jobs.StatusProcessing, jobs.StatusCompleted, jobs.StatusFailed:
		return s, nil
	default:
		return "", errors.New("invalid status")
	}
}

// clientKey identifies the caller for rate limiting by remote IP.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
