package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/pixelconv/internal/domain"
	"github.com/dunamismax/pixelconv/internal/format"
	"github.com/dunamismax/pixelconv/internal/id"
	"github.com/dunamismax/pixelconv/internal/queue"
	"github.com/dunamismax/pixelconv/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultUserIDHeader = "X-User-ID"

type Server struct {
	logger                *log.Logger
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	storage               objectStorage
	presignTTL            time.Duration
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

// Options carries the optional collaborators of a Server.
type Options struct {
	PresignTTL   time.Duration
	RateLimiter  RateLimiter
	UserIDHeader string
}

type queueEnqueuer interface {
	EnqueueConvertImage(ctx context.Context, payload queue.ConvertImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

func NewServer(logger *log.Logger, queueClient queueEnqueuer, jobStore store.JobStore, storage objectStorage, opts Options) *Server {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if strings.TrimSpace(opts.UserIDHeader) == "" {
		opts.UserIDHeader = defaultUserIDHeader
	}
	if storage == nil {
		storage = unavailableObjectStorage{}
	}

	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		jobStore:              jobStore,
		storage:               storage,
		presignTTL:            opts.PresignTTL,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: opts.UserIDHeader,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("pixelconv/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

// Handler wraps the routes in tracing, metrics and rate limiting, outermost
// first.
func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /v1/formats", s.handleListFormats)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type formatView struct {
	Name        string `json:"name"`
	Extension   string `json:"extension"`
	ContentType string `json:"content_type"`
	Decode      bool   `json:"decode"`
	Encode      bool   `json:"encode"`
}

func (s *Server) handleListFormats(w http.ResponseWriter, _ *http.Request) {
	tags := format.Tags()
	views := make([]formatView, 0, len(tags))
	for _, tag := range tags {
		capability, ok := format.CapabilityFor(tag)
		views = append(views, formatView{
			Name:        tag.String(),
			Extension:   format.Extension(tag),
			ContentType: format.ContentType(tag),
			Decode:      ok && capability.Decode != nil,
			Encode:      ok && capability.Encode != nil,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"formats": views})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	sourceFormat := req.ResolveSourceFormat()
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = fmt.Sprintf("uploads/%s/source.%s", jobID, format.Extension(sourceFormat))
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed for job %s: %v", jobID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.Job{
		ID:           jobID,
		UserID:       strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader)),
		Status:       domain.JobStatusCreated,
		SourceType:   sourceType,
		SourceFormat: sourceFormat.String(),
		WebhookURL:   req.WebhookURL,
		Targets:      domain.NormalizeTargets(req.Targets),
		ObjectKey:    objectKey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed for job %s: %v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}
	annotateJob(r.Context(), job)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":        job.ID,
		"status":        job.Status,
		"source_format": job.SourceFormat,
		"targets":       job.Targets,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

type jobView struct {
	ID           string    `json:"job_id"`
	Status       string    `json:"status"`
	SourceType   string    `json:"source_type"`
	SourceFormat string    `json:"source_format"`
	ObjectKey    string    `json:"object_key"`
	Targets      []string  `json:"targets"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, jobView{
		ID:           job.ID,
		Status:       job.Status,
		SourceType:   job.SourceType,
		SourceFormat: job.SourceFormat,
		ObjectKey:    job.ObjectKey,
		Targets:      job.Targets,
		Error:        job.Error,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeJSON(w, http.StatusConflict, map[string]string{"error": fmt.Sprintf("job is already %s", job.Status)})
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	payload := queue.ConvertImagePayload{
		JobID:        job.ID,
		SourceType:   job.SourceType,
		SourceFormat: job.SourceFormat,
		WebhookURL:   job.WebhookURL,
		ObjectKey:    job.ObjectKey,
		Targets:      job.Targets,
		RequestedAt:  time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueConvertImage(r.Context(), payload)
	if errors.Is(err, queue.ErrAlreadyQueued) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Printf("enqueue failed for job %s: %v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed for job %s: %v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

// loadJob writes the error response itself and reports false when the job
// cannot be served.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id is required"})
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed for job %s: %v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return domain.Job{}, false
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return domain.Job{}, false
	}
	annotateJob(r.Context(), job)
	return job, true
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
