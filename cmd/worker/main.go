package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/superwebpros/content-generation-service/internal/infra/config"
	"github.com/superwebpros/content-generation-service/internal/infra/dataset"
	"github.com/superwebpros/content-generation-service/internal/infra/falai"
	"github.com/superwebpros/content-generation-service/internal/infra/ffmpeg"
	"github.com/superwebpros/content-generation-service/internal/infra/lorastore"
	"github.com/superwebpros/content-generation-service/internal/infra/metrics"
	miniostorage "github.com/superwebpros/content-generation-service/internal/infra/minio"
	"github.com/superwebpros/content-generation-service/internal/infra/postgres"
	"github.com/superwebpros/content-generation-service/internal/infra/rabbitmq"
	"github.com/superwebpros/content-generation-service/internal/infra/tracing"
	"github.com/superwebpros/content-generation-service/internal/infra/vision"
	"github.com/superwebpros/content-generation-service/internal/infra/webhook"
	"github.com/superwebpros/content-generation-service/internal/usecase"
	"github.com/superwebpros/content-generation-service/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting lora-training-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// Database
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// MinIO
	blob, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		UseSSL:    cfg.MinIOUseSSL,
		Bucket:    cfg.MinIOBucket,
		URLExpiry: time.Duration(cfg.MinIOURLExpiryHrs) * time.Hour,
	}, log)
	fatalOnErr(err, "create minio storage")
	fatalOnErr(blob.EnsureBucket(ctx), "ensure minio bucket")

	// RabbitMQ
	rmqConn, err := rabbitmq.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	statusPub := rabbitmq.NewStatusPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	// Pipeline adapters
	jobs := postgres.NewJobStore(pool)
	extractor := ffmpeg.NewExtractor(ffmpeg.ExtractorConfig{
		Mode:            cfg.ExtractionMode,
		SceneThreshold:  cfg.SceneThreshold,
		IntervalSeconds: cfg.IntervalSeconds,
		FrameQuality:    cfg.FrameQuality,
		DetectTimeout:   time.Duration(cfg.SceneDetectTimeoutSec) * time.Second,
		FrameTimeout:    time.Duration(cfg.FrameExtractTimeoutSec) * time.Second,
	}, log)
	detector := vision.NewExecDetector(cfg.FaceDetectCmd, 30*time.Second)
	assessor := vision.NewAssessor(detector, vision.AssessorConfig{
		MinFaceConfidence: cfg.MinFaceConfidence,
		MinSharpness:      cfg.BlurThreshold,
	}, log)
	builder := dataset.NewBuilder(assessor, dataset.BuilderConfig{
		OutputDir: cfg.TempDir,
		MinFrames: cfg.MinFrames,
		MaxFrames: cfg.MaxFrames,
	}, log)
	trainer := falai.NewProvider(falai.ProviderConfig{
		BaseURL:      cfg.FalBaseURL,
		Endpoint:     cfg.FalTrainerEndpoint,
		APIKey:       cfg.FalAPIKey,
		PollInterval: time.Duration(cfg.FalPollIntervalSec) * time.Second,
		TrainTimeout: time.Duration(cfg.FalTrainTimeoutMin) * time.Minute,
	}, log)
	models := lorastore.NewStore(cfg.LoraOutputDir, log)
	notifier := webhook.NewNotifier(webhook.NotifierConfig{}, log)

	// Use case
	uc := usecase.NewTrainLoraUseCase(
		jobs, blob, extractor, builder, trainer, models,
		statusPub, dlqPub, notifier,
		log,
		usecase.TrainLoraConfig{
			TempDir:             cfg.TempDir,
			DefaultSteps:        cfg.DefaultSteps,
			DefaultLearningRate: cfg.DefaultLearningRate,
			DefaultTrigger:      cfg.DefaultTrigger,
		},
	)

	// Metrics server
	metricsSrv := metrics.StartServer(ctx, cfg.MetricsPort, log)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rmqConn, rabbitmq.ConsumerConfig{
		Queue:       cfg.RabbitMQTrainingQueue,
		Exchange:    cfg.RabbitMQExchange,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusQueue,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.WorkerCount,
		BaseDelayMs: cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("lora-training-worker started, consuming messages",
		zap.String("queue", cfg.RabbitMQTrainingQueue),
		zap.Int("workers", cfg.WorkerCount),
	)

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("lora-training-worker stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
