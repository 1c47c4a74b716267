package falai

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/superwebpros/content-generation-service/internal/domain/entity"
)

const providerName = "fal_ai"

type ProviderConfig struct {
	BaseURL      string
	Endpoint     string
	APIKey       string
	PollInterval time.Duration
	TrainTimeout time.Duration
}

// Provider trains LoRA models through the fal.ai queue API: package the
// dataset images into an archive, upload it to fal storage, submit a
// training request and poll until the queue reports a terminal state.
// Provider-side failures are returned as data inside the TrainingResult.
type Provider struct {
	cfg    ProviderConfig
	client *http.Client
	logger *zap.Logger
}

func NewProvider(cfg ProviderConfig, logger *zap.Logger) *Provider {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.TrainTimeout == 0 {
		cfg.TrainTimeout = 90 * time.Minute
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 2 * time.Minute},
		logger: logger,
	}
}

func (p *Provider) Train(ctx context.Context, dataset *entity.TrainingDataset, cfg entity.TrainingConfig) *entity.TrainingResult {
	if err := p.validateDataset(dataset); err != nil {
		return p.failure("", err)
	}

	zipPath, err := p.packageImages(ctx, dataset)
	if err != nil {
		return p.failure("", fmt.Errorf("package dataset: %w", err))
	}
	defer os.Remove(zipPath)

	datasetURL, err := p.uploadArchive(ctx, zipPath)
	if err != nil {
		return p.failure("", fmt.Errorf("upload dataset: %w", err))
	}
	p.logger.Info("dataset archive uploaded", zap.String("url", datasetURL))

	args := trainingArguments{
		Steps:                   cfg.Steps,
		LearningRate:            cfg.LearningRate,
		TriggerPhrase:           cfg.TriggerPhrase,
		ImagesDataURL:           datasetURL,
		CreateMasks:             cfg.CreateMasks,
		SubjectCrop:             cfg.SubjectCrop,
		MultiresolutionTraining: cfg.MultiresolutionTraining,
	}
	p.logger.Info("submitting training request",
		zap.Int("steps", args.Steps),
		zap.Float64("learning_rate", args.LearningRate),
		zap.String("trigger", args.TriggerPhrase),
	)

	queued, err := p.submit(ctx, args)
	if err != nil {
		return p.failure("", fmt.Errorf("submit training: %w", err))
	}

	result, err := p.awaitCompletion(ctx, queued)
	if err != nil {
		return p.failure(queued.RequestID, err)
	}

	modelURL := result.DiffusersLoraFile.URL
	if modelURL == "" {
		return p.failure(queued.RequestID, fmt.Errorf("training result missing model artifact URL"))
	}

	return &entity.TrainingResult{
		Success:    true,
		ModelURL:   modelURL,
		ConfigURL:  result.ConfigFile.URL,
		TrainingID: queued.RequestID,
		Provider:   providerName,
		Metadata: map[string]any{
			"dataset_url":     datasetURL,
			"steps":           cfg.Steps,
			"learning_rate":   cfg.LearningRate,
			"model_file_size": result.DiffusersLoraFile.FileSize,
		},
	}
}

func (p *Provider) failure(trainingID string, err error) *entity.TrainingResult {
	p.logger.Error("training failed", zap.String("training_id", trainingID), zap.Error(err))
	return &entity.TrainingResult{
		Success:    false,
		TrainingID: trainingID,
		Provider:   providerName,
		Error:      err.Error(),
	}
}

// validateDataset checks bundle structure before any network traffic.
// A caption/image count mismatch is tolerated with a warning; the trainer
// consumes only the images.
func (p *Provider) validateDataset(dataset *entity.TrainingDataset) error {
	images, err := listImages(dataset.ImagesDir)
	if err != nil {
		return fmt.Errorf("images directory: %w", err)
	}
	if len(images) == 0 {
		return fmt.Errorf("no images in dataset %s", dataset.Dir)
	}

	captions, err := filepath.Glob(filepath.Join(dataset.CaptionsDir, "*.txt"))
	if err == nil && len(captions) != len(images) {
		p.logger.Warn("caption count does not match image count",
			zap.Int("captions", len(captions)),
			zap.Int("images", len(images)),
		)
	}

	p.logger.Info("dataset validated", zap.Int("images", len(images)))
	return nil
}

// packageImages zips the dataset images flat at the archive root, which is
// the layout the portrait trainer expects. Captions are not shipped.
func (p *Provider) packageImages(ctx context.Context, dataset *entity.TrainingDataset) (string, error) {
	images, err := listImages(dataset.ImagesDir)
	if err != nil {
		return "", err
	}

	zipFile, err := os.CreateTemp("", "lora-dataset-*.zip")
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	zipPath := zipFile.Name()

	zw := zip.NewWriter(zipFile)
	for _, img := range images {
		select {
		case <-ctx.Done():
			zw.Close()
			zipFile.Close()
			os.Remove(zipPath)
			return "", ctx.Err()
		default:
		}

		if err := addToZip(zw, img); err != nil {
			zw.Close()
			zipFile.Close()
			os.Remove(zipPath)
			return "", fmt.Errorf("add %s: %w", img, err)
		}
	}
	if err := zw.Close(); err != nil {
		zipFile.Close()
		os.Remove(zipPath)
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		os.Remove(zipPath)
		return "", err
	}

	info, _ := os.Stat(zipPath)
	p.logger.Info("dataset archive created",
		zap.Int("images", len(images)),
		zap.Int64("size_bytes", info.Size()),
	)
	return zipPath, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var images []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			images = append(images, filepath.Join(dir, e.Name()))
		}
	}
	return images, nil
}

func addToZip(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

type trainingArguments struct {
	Steps                   int     `json:"steps"`
	LearningRate            float64 `json:"learning_rate"`
	TriggerPhrase           string  `json:"trigger_phrase"`
	ImagesDataURL           string  `json:"images_data_url"`
	CreateMasks             bool    `json:"create_masks"`
	SubjectCrop             bool    `json:"subject_crop"`
	MultiresolutionTraining bool    `json:"multiresolution_training"`
}

type queuedRequest struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type queueStatus struct {
	Status string `json:"status"`
	Logs   []struct {
		Message string `json:"message"`
	} `json:"logs"`
	Error string `json:"error"`
}

type trainerOutput struct {
	DiffusersLoraFile struct {
		URL      string `json:"url"`
		FileSize int64  `json:"file_size"`
	} `json:"diffusers_lora_file"`
	ConfigFile struct {
		URL string `json:"url"`
	} `json:"config_file"`
}

// uploadArchive pushes the archive through fal storage: an initiate call
// returns a signed upload URL plus the final file URL, then the bytes go up
// with a plain PUT.
func (p *Provider) uploadArchive(ctx context.Context, zipPath string) (string, error) {
	initiateURL := fmt.Sprintf("%s/storage/upload/initiate?file_name=%s&content_type=application/zip",
		p.cfg.BaseURL, url.QueryEscape(filepath.Base(zipPath)))

	var initiated struct {
		UploadURL string `json:"upload_url"`
		FileURL   string `json:"file_url"`
	}
	if err := p.doJSON(ctx, http.MethodPost, initiateURL, nil, &initiated); err != nil {
		return "", fmt.Errorf("initiate upload: %w", err)
	}

	f, err := os.Open(zipPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, initiated.UploadURL, f)
	if err != nil {
		return "", err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/zip")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("put archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("put archive: status %d", resp.StatusCode)
	}

	return initiated.FileURL, nil
}

func (p *Provider) submit(ctx context.Context, args trainingArguments) (*queuedRequest, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	submitURL := fmt.Sprintf("%s/%s", p.cfg.BaseURL, p.cfg.Endpoint)
	var queued queuedRequest
	if err := p.doJSON(ctx, http.MethodPost, submitURL, bytes.NewReader(body), &queued); err != nil {
		return nil, err
	}
	if queued.RequestID == "" {
		return nil, fmt.Errorf("queue response missing request_id")
	}
	return &queued, nil
}

// awaitCompletion polls the queue status endpoint, streaming provider logs
// as an observability side effect only; completion and failure are decided
// by the status field alone.
func (p *Provider) awaitCompletion(ctx context.Context, queued *queuedRequest) (*trainerOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.TrainTimeout)
	defer cancel()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	seenLogs := 0
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("training did not complete: %w", ctx.Err())
		case <-ticker.C:
		}

		var status queueStatus
		if err := p.doJSON(ctx, http.MethodGet, queued.StatusURL+"?logs=1", nil, &status); err != nil {
			p.logger.Warn("status poll failed, retrying", zap.Error(err))
			continue
		}

		for ; seenLogs < len(status.Logs); seenLogs++ {
			p.logger.Info("trainer log", zap.String("message", status.Logs[seenLogs].Message))
		}

		switch status.Status {
		case "COMPLETED":
			var output trainerOutput
			if err := p.doJSON(ctx, http.MethodGet, queued.ResponseURL, nil, &output); err != nil {
				return nil, fmt.Errorf("fetch training result: %w", err)
			}
			return &output, nil
		case "FAILED", "ERROR":
			msg := status.Error
			if msg == "" {
				msg = "provider reported failure"
			}
			return nil, fmt.Errorf("remote training failed: %s", msg)
		}
	}
}

func (p *Provider) doJSON(ctx context.Context, method, rawURL string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Key "+p.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, rawURL, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
