package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/superwebpros/content-generation-service/internal/domain/entity"
	"github.com/superwebpros/content-generation-service/internal/domain/port"
	"github.com/superwebpros/content-generation-service/internal/infra/ffmpeg"
	"github.com/superwebpros/content-generation-service/internal/infra/metrics"
	"github.com/superwebpros/content-generation-service/internal/infra/postgres"
	"github.com/superwebpros/content-generation-service/internal/infra/webhook"
)

// Progress checkpoints persisted before each pipeline stage runs, so a
// restarted worker can tell how far a job got.
const (
	progressStarted    = 10
	progressDownloaded = 20
	progressExtracted  = 35
	progressDataset    = 50
	progressSubmitted  = 60
	progressTrained    = 85
	progressPersisted  = 95
)

// TrainLoraUseCase drives one training job end to end: download the source
// video, extract and filter frames, assemble the captioned dataset, train
// remotely, persist the versioned artifact and notify.
type TrainLoraUseCase struct {
	jobs      port.JobStore
	blob      port.BlobStorage
	extractor port.FrameExtractor
	builder   port.DatasetBuilder
	trainer   port.TrainingProvider
	models    port.ModelStore
	publisher port.StatusPublisher
	dlq       port.DLQPublisher
	notifier  port.WebhookNotifier
	logger    *zap.Logger
	cfg       TrainLoraConfig
}

type TrainLoraConfig struct {
	TempDir             string
	DefaultSteps        int
	DefaultLearningRate float64
	DefaultTrigger      string
}

func NewTrainLoraUseCase(
	jobs port.JobStore,
	blob port.BlobStorage,
	extractor port.FrameExtractor,
	builder port.DatasetBuilder,
	trainer port.TrainingProvider,
	models port.ModelStore,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.WebhookNotifier,
	logger *zap.Logger,
	cfg TrainLoraConfig,
) *TrainLoraUseCase {
	return &TrainLoraUseCase{
		jobs:      jobs,
		blob:      blob,
		extractor: extractor,
		builder:   builder,
		trainer:   trainer,
		models:    models,
		publisher: publisher,
		dlq:       dlq,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
	}
}

func (uc *TrainLoraUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "TrainLoraUseCase.Execute")
	defer span.End()

	var msg entity.TrainingJobMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_url", msg.VideoURL),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("user_id", msg.UserID))

	job, err := uc.jobs.Get(ctx, msg.JobID)
	if errors.Is(err, postgres.ErrJobNotFound) {
		log.Warn("job record does not exist, sending to DLQ")
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "job_not_found")
		return nil
	}
	if err != nil {
		log.Error("failed to load job", zap.Error(err))
		return fmt.Errorf("load job: %w", err)
	}

	if job.IsTerminal() {
		log.Warn("job already terminal, ignoring duplicate delivery", zap.String("status", string(job.Status)))
		return nil
	}

	params := uc.resolveParams(msg)

	if err := uc.jobs.UpdateStatus(ctx, job.ID, entity.JobStatusProcessing, progressStarted, ""); err != nil {
		log.Error("failed to mark job processing", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}
	job.Status = entity.JobStatusProcessing
	job.Progress = progressStarted
	uc.publishStatus(ctx, job, 0, "", log)

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()
	totalTimer := time.Now()

	if err := uc.runPipeline(ctx, job, msg, params, log); err != nil {
		return err
	}

	metrics.StageDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())
	return nil
}

type trainingParams struct {
	loraName      string
	trigger       string
	steps         int
	learningRate  float64
	filterQuality bool
}

func (uc *TrainLoraUseCase) resolveParams(msg entity.TrainingJobMessage) trainingParams {
	p := trainingParams{
		loraName:      msg.LoraName,
		trigger:       msg.Trigger,
		steps:         msg.Steps,
		learningRate:  msg.LearningRate,
		filterQuality: true,
	}
	if p.loraName == "" {
		p.loraName = "lora_" + msg.JobID.String()
	}
	if p.trigger == "" {
		p.trigger = uc.cfg.DefaultTrigger
	}
	if p.steps <= 0 {
		p.steps = uc.cfg.DefaultSteps
	}
	if p.learningRate <= 0 {
		p.learningRate = uc.cfg.DefaultLearningRate
	}
	if msg.FilterQuality != nil {
		p.filterQuality = *msg.FilterQuality
	}
	return p
}

func (uc *TrainLoraUseCase) runPipeline(
	ctx context.Context,
	job *entity.Job,
	msg entity.TrainingJobMessage,
	params trainingParams,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.cfg.TempDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Download source video
	dlStart := time.Now()
	dlCtx, spanDl := tracer.Start(ctx, "download_video")
	videoPath := filepath.Join(workDir, "input.mp4")
	if err := uc.blob.Download(dlCtx, msg.VideoURL, videoPath); err != nil {
		spanDl.End()
		perr := &ffmpeg.VideoProcessingError{Stage: "download", Err: err}
		log.Error("video download failed", zap.Error(perr))
		return uc.failJob(ctx, job, perr.Error(), log)
	}
	spanDl.End()
	metrics.StageDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())
	if err := uc.checkpoint(ctx, job, progressDownloaded, log); err != nil {
		return err
	}

	// Extract frames
	exStart := time.Now()
	exCtx, spanEx := tracer.Start(ctx, "extract_frames")
	framesDir := filepath.Join(workDir, "frames")
	frames, err := uc.extractor.Extract(exCtx, videoPath, framesDir)
	if err != nil {
		spanEx.End()
		log.Error("frame extraction failed", zap.Error(err))
		return uc.failJob(ctx, job, err.Error(), log)
	}
	spanEx.End()
	metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(exStart).Seconds())
	metrics.FramesExtractedTotal.Add(float64(len(frames)))
	log.Info("frames extracted", zap.Int("count", len(frames)))
	if err := uc.checkpoint(ctx, job, progressExtracted, log); err != nil {
		return err
	}

	// Assemble captioned dataset
	dsStart := time.Now()
	dsCtx, spanDs := tracer.Start(ctx, "build_dataset")
	dataset, err := uc.builder.Build(dsCtx, frames, params.loraName, params.trigger, params.filterQuality)
	if err != nil {
		spanDs.End()
		log.Error("dataset build failed", zap.Error(err))
		return uc.failJob(ctx, job, err.Error(), log)
	}
	spanDs.End()
	metrics.StageDuration.WithLabelValues("dataset").Observe(time.Since(dsStart).Seconds())
	if stats := dataset.Metadata.QualityStats; stats != nil {
		metrics.FramesRejectedTotal.Add(float64(stats.Rejected))
	}
	log.Info("dataset assembled",
		zap.Int("image_count", dataset.ImageCount),
		zap.Bool("filter_quality", params.filterQuality))
	if err := uc.checkpoint(ctx, job, progressDataset, log); err != nil {
		return err
	}

	// Upload dataset bundle
	upStart := time.Now()
	upCtx, spanUp := tracer.Start(ctx, "upload_dataset")
	datasetPrefix := fmt.Sprintf("datasets/%s/%s", job.UserID, job.ID)
	if _, err := uc.blob.UploadTree(upCtx, dataset.Dir, datasetPrefix); err != nil {
		spanUp.End()
		log.Error("dataset upload failed", zap.Error(err))
		return uc.failJob(ctx, job, "upload dataset: "+err.Error(), log)
	}
	spanUp.End()
	metrics.StageDuration.WithLabelValues("upload_dataset").Observe(time.Since(upStart).Seconds())
	log.Info("dataset uploaded", zap.String("prefix", datasetPrefix))

	// Remote training
	if err := uc.checkpoint(ctx, job, progressSubmitted, log); err != nil {
		return err
	}
	trStart := time.Now()
	trCtx, spanTr := tracer.Start(ctx, "train_remote")
	result := uc.trainer.Train(trCtx, dataset, entity.TrainingConfig{
		Steps:                   params.steps,
		LearningRate:            params.learningRate,
		TriggerPhrase:           params.trigger,
		CreateMasks:             true,
		SubjectCrop:             true,
		MultiresolutionTraining: true,
	})
	spanTr.End()
	metrics.StageDuration.WithLabelValues("train").Observe(time.Since(trStart).Seconds())

	if !result.Success {
		metrics.TrainingFailuresTotal.WithLabelValues(result.Provider).Inc()
		log.Error("remote training failed",
			zap.String("provider", result.Provider),
			zap.String("reason", result.Error))
		return uc.failJob(ctx, job, "training failed: "+result.Error, log)
	}
	log.Info("remote training completed",
		zap.String("provider", result.Provider),
		zap.String("training_id", result.TrainingID))
	if err := uc.checkpoint(ctx, job, progressTrained, log); err != nil {
		return err
	}

	// Persist versioned artifact
	saveStart := time.Now()
	saveCtx, spanSave := tracer.Start(ctx, "persist_artifact")
	versionNumber, modelURL, err := uc.persistArtifact(saveCtx, job, params, dataset, result)
	if err != nil {
		spanSave.End()
		log.Error("artifact persistence failed", zap.Error(err))
		return uc.failJob(ctx, job, "persist artifact: "+err.Error(), log)
	}
	spanSave.End()
	metrics.StageDuration.WithLabelValues("persist").Observe(time.Since(saveStart).Seconds())
	if err := uc.checkpoint(ctx, job, progressPersisted, log); err != nil {
		return err
	}

	// Mark completed
	if err := uc.jobs.UpdateStatus(ctx, job.ID, entity.JobStatusCompleted, 100, ""); err != nil {
		log.Error("failed to mark job completed", zap.Error(err))
		return fmt.Errorf("update job completed: %w", err)
	}
	job.Status = entity.JobStatusCompleted
	job.Progress = 100
	now := time.Now().UTC()
	job.CompletedAt = &now

	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
	uc.publishStatus(ctx, job, versionNumber, modelURL, log)

	if job.WebhookURL != "" {
		res := uc.notifier.Notify(ctx, job.WebhookURL,
			webhook.CompletionPayload(job, modelURL, versionNumber, params.trigger))
		uc.recordWebhook(res, log)
	}

	log.Info("job completed successfully",
		zap.Int("version", versionNumber),
		zap.Int("image_count", dataset.ImageCount),
		zap.String("model_url", modelURL),
	)
	return nil
}

func (uc *TrainLoraUseCase) persistArtifact(
	ctx context.Context,
	job *entity.Job,
	params trainingParams,
	dataset *entity.TrainingDataset,
	result *entity.TrainingResult,
) (int, string, error) {
	saved, err := uc.models.Save(ctx, params.loraName, result.ModelURL, result.ConfigURL, map[string]any{
		"job_id":      job.ID.String(),
		"user_id":     job.UserID,
		"trigger":     params.trigger,
		"provider":    result.Provider,
		"training_id": result.TrainingID,
	})
	if err != nil {
		return 0, "", fmt.Errorf("save model: %w", err)
	}

	key := fmt.Sprintf("loras/%s/%s/v%d/model.safetensors", job.UserID, job.ID, job.NextVersion())
	modelURL, err := uc.blob.Upload(ctx, saved.ModelPath, key)
	if err != nil {
		return 0, "", fmt.Errorf("upload model: %w", err)
	}

	// The trainer config lives beside the model for the API front-end;
	// the model itself is the artifact, so a config upload failure is
	// recoverable.
	if saved.ConfigPath != "" {
		configKey := fmt.Sprintf("loras/%s/%s/v%d/config.json", job.UserID, job.ID, job.NextVersion())
		if _, err := uc.blob.Upload(ctx, saved.ConfigPath, configKey); err != nil {
			uc.logger.Warn("config upload failed", zap.String("key", configKey), zap.Error(err))
		}
	}

	number, err := uc.jobs.AppendVersion(ctx, job.ID, entity.Version{
		StorageKey: key,
		ModelURL:   modelURL,
		SizeBytes:  saved.SizeBytes,
		Config: entity.VersionConfig{
			Trigger:      params.trigger,
			Steps:        params.steps,
			LearningRate: params.learningRate,
			FrameCount:   dataset.ImageCount,
		},
	})
	if err != nil {
		return 0, "", fmt.Errorf("append version: %w", err)
	}
	return number, modelURL, nil
}

// failJob marks a job permanently failed, emits the status event and the
// failure webhook, and acks the message by returning nil.
func (uc *TrainLoraUseCase) failJob(ctx context.Context, job *entity.Job, errMsg string, log *zap.Logger) error {
	if err := uc.jobs.UpdateStatus(ctx, job.ID, entity.JobStatusFailed, -1, errMsg); err != nil {
		log.Error("failed to mark job failed", zap.Error(err))
		return fmt.Errorf("update job failed: %w", err)
	}
	job.Status = entity.JobStatusFailed
	job.ErrorMessage = errMsg
	now := time.Now().UTC()
	job.CompletedAt = &now

	metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()
	uc.publishStatus(ctx, job, 0, "", log)

	if job.WebhookURL != "" {
		res := uc.notifier.Notify(ctx, job.WebhookURL, webhook.FailurePayload(job, errMsg))
		uc.recordWebhook(res, log)
	}
	return nil
}

// checkpoint persists progress before the next stage. A checkpoint write
// failure is an infrastructure error, so the message requeues.
func (uc *TrainLoraUseCase) checkpoint(ctx context.Context, job *entity.Job, progress int, log *zap.Logger) error {
	if err := uc.jobs.UpdateStatus(ctx, job.ID, entity.JobStatusProcessing, progress, ""); err != nil {
		log.Error("failed to checkpoint progress", zap.Int("progress", progress), zap.Error(err))
		return fmt.Errorf("checkpoint progress %d: %w", progress, err)
	}
	job.Progress = progress
	uc.publishStatus(ctx, job, 0, "", log)
	return nil
}

func (uc *TrainLoraUseCase) publishStatus(ctx context.Context, job *entity.Job, version int, modelURL string, log *zap.Logger) {
	statusMsg := entity.JobStatusMessage{
		JobID:        job.ID,
		UserID:       job.UserID,
		Status:       job.Status,
		Progress:     job.Progress,
		Version:      version,
		ModelURL:     modelURL,
		ErrorMessage: job.ErrorMessage,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}

func (uc *TrainLoraUseCase) recordWebhook(res port.NotifyResult, log *zap.Logger) {
	if res.Success {
		metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
		log.Info("webhook delivered", zap.Int("attempts", res.Attempts))
		return
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
	log.Warn("webhook delivery failed",
		zap.Int("attempts", res.Attempts),
		zap.String("error", res.Error))
}
