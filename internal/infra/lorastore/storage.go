package lorastore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/superwebpros/content-generation-service/internal/domain/port"
)

// Store keeps trained LoRA artifacts on local disk, one directory per model:
//
//	{root}/{name}/{name}.safetensors
//	{root}/{name}/{name}_config.json   (when the trainer produced one)
//	{root}/{name}/metadata.json
type Store struct {
	root   string
	http   *http.Client
	logger *zap.Logger
}

func NewStore(root string, logger *zap.Logger) *Store {
	return &Store{
		root:   root,
		http:   &http.Client{Timeout: 10 * time.Minute},
		logger: logger,
	}
}

func (s *Store) Save(ctx context.Context, name, modelURL, configURL string, metadata map[string]any) (*port.SavedModel, error) {
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}

	modelPath := filepath.Join(dir, name+".safetensors")
	if err := s.download(ctx, modelURL, modelPath); err != nil {
		return nil, fmt.Errorf("download model: %w", err)
	}

	info, err := os.Stat(modelPath)
	if err != nil {
		return nil, fmt.Errorf("stat model: %w", err)
	}

	saved := &port.SavedModel{
		Name:      name,
		ModelPath: modelPath,
		SizeBytes: info.Size(),
	}

	if configURL != "" {
		configPath := filepath.Join(dir, name+"_config.json")
		if err := s.download(ctx, configURL, configPath); err != nil {
			// The model itself is the artifact; a missing trainer config
			// is recoverable.
			s.logger.Warn("config download failed",
				zap.String("model", name),
				zap.Error(err))
		} else {
			saved.ConfigPath = configPath
		}
	}

	meta := map[string]any{
		"name":       name,
		"model_url":  modelURL,
		"config_url": configURL,
		"model_path": modelPath,
		"size_bytes": saved.SizeBytes,
		"saved_at":   time.Now().UTC().Format(time.RFC3339),
	}
	if saved.ConfigPath != "" {
		meta["config_path"] = saved.ConfigPath
	}
	for k, v := range metadata {
		meta[k] = v
	}

	metaPath := filepath.Join(dir, "metadata.json")
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}
	saved.MetadataPath = metaPath

	s.logger.Info("model saved",
		zap.String("model", name),
		zap.Int64("size_bytes", saved.SizeBytes))
	return saved, nil
}

func (s *Store) Get(name string) (map[string]any, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, name, "metadata.json"))
	if err != nil {
		return nil, fmt.Errorf("read metadata for %s: %w", name, err)
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", name, err)
	}
	return meta, nil
}

func (s *Store) List() ([]map[string]any, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store root: %w", err)
	}

	var models []map[string]any
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.Get(e.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable model entry",
				zap.String("model", e.Name()),
				zap.Error(err))
			continue
		}
		models = append(models, meta)
	}
	return models, nil
}

func (s *Store) Delete(name string) error {
	dir := filepath.Join(s.root, name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("model %s not found", name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete model %s: %w", name, err)
	}
	return nil
}

func (s *Store) download(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}
