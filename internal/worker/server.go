package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelconv/internal/codec"
	"github.com/dunamismax/pixelconv/internal/config"
	"github.com/dunamismax/pixelconv/internal/convert"
	"github.com/dunamismax/pixelconv/internal/domain"
	"github.com/dunamismax/pixelconv/internal/format"
	"github.com/dunamismax/pixelconv/internal/pipeline"
	"github.com/dunamismax/pixelconv/internal/queue"
	"github.com/dunamismax/pixelconv/internal/storage"
	"github.com/dunamismax/pixelconv/internal/store"
	"github.com/dunamismax/pixelconv/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  processor
	objectProcessor processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if storageClient == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(workerCfg.LocalOutputDir) == "" {
		return nil, fmt.Errorf("local output dir is required")
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:            make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor: pipeline.NewLocalProcessor(workerCfg.LocalOutputDir),
		objectProcessor: pipeline.NewObjectStoreProcessor(
			pipeline.ObjectStoreFetcher{Storage: storageClient},
			pipeline.ObjectStoreEmitter{Storage: storageClient, OutputPrefix: "outputs"},
		),
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
		tracer:     otel.Tracer("pixelconv/worker"),
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	return s, nil
}

func (s *Server) Run() error {
	return s.server.Run(s.ServeMux())
}

// ServeMux routes conversion tasks to the handler.
func (s *Server) ServeMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeConvertImage, s.handleConvertImage)
	return mux
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleConvertImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseConvertImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.convert_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.source_format", payload.SourceFormat),
		attribute.StringSlice("job.targets", payload.Targets),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s source_format=%s targets=%s object_key=%s",
		payload.JobID,
		payload.SourceType,
		payload.SourceFormat,
		strings.Join(payload.Targets, ","),
		payload.ObjectKey,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	request := pipeline.Request{
		JobID:        payload.JobID,
		SourceType:   payload.SourceType,
		SourceFormat: payload.SourceFormat,
		ObjectKey:    payload.ObjectKey,
		Targets:      payload.Targets,
	}

	var result pipeline.Result
	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		result, err = s.localProcessor.Process(ctx, request)
	default:
		result, err = s.objectProcessor.Process(ctx, request)
	}
	if err != nil {
		kind := failureKind(err)
		permanent := isPermanent(err)
		s.metrics.failuresTotal.WithLabelValues(kind).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")
		s.logger.Printf("conversion failed job_id=%s kind=%s permanent=%t err=%v", payload.JobID, kind, permanent, err)

		if !permanent && !isFinalAttempt(ctx) {
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
			return fmt.Errorf("convert image: %w", err)
		}

		s.markFailed(ctx, payload.JobID, err)
		s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"source_type":  payload.SourceType,
			"object_key":   payload.ObjectKey,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"failure_kind": kind,
			"error":        err.Error(),
		})
		if permanent {
			return fmt.Errorf("convert image: %w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("convert image: %w", err)
	}

	s.logger.Printf("Converted job_id=%s outputs=%d", payload.JobID, len(result.Outputs))
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	for _, output := range result.Outputs {
		s.metrics.outputsTotal.WithLabelValues(output.Target).Inc()
	}
	s.recordUsage(ctx, payload.JobID, result, time.Since(startedAt))

	s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"source_bytes": result.SourceBytes,
		"outputs":      result.Outputs,
	})

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "converted")
	return nil
}

// isPermanent reports whether retrying err can never succeed: the input or
// the requested format is wrong rather than the environment.
func isPermanent(err error) bool {
	for _, target := range []error{
		convert.ErrUnknownInput,
		convert.ErrUnknownOutput,
		pipeline.ErrUnknownTarget,
		pipeline.ErrUnsupportedSourceType,
		format.ErrUnknownFormat,
		codec.ErrFormat,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrUnknownTarget):
		return "unknown_output"
	case errors.Is(err, pipeline.ErrUnsupportedSourceType):
		return "unsupported_source"
	default:
		return convert.FailureKind(err)
	}
}

// isFinalAttempt is true when asynq will not retry the task again. Outside
// of asynq there is no retry metadata and every attempt is final.
func isFinalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) markFailed(ctx context.Context, jobID string, cause error) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.MarkFailed(ctx, jobID, cause.Error()); err != nil {
		s.logger.Printf("job failure update failed job_id=%s err=%v", jobID, err)
	}
}

// dispatchWebhook never fails the task: the converted outputs are already
// published and the webhook client retries on its own.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ConvertImagePayload, event string, body map[string]any) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailuresTotal.WithLabelValues(event).Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
	}
}

func (s *Server) recordUsage(ctx context.Context, jobID string, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := "anonymous"
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, jobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", jobID, err)
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			userID = job.UserID
		}
	}

	var pixelsProcessed, bytesWritten int64
	for _, output := range result.Outputs {
		pixelsProcessed += int64(output.Width) * int64(output.Height)
		bytesWritten += output.Bytes
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           jobID,
		PixelsProcessed: pixelsProcessed,
		BytesWritten:    bytesWritten,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", jobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.bytesWrittenTotal.Add(float64(bytesWritten))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
