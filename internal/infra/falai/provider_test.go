package falai

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/superwebpros/content-generation-service/internal/domain/entity"
)

func writeDataset(t *testing.T, images int) *entity.TrainingDataset {
	t.Helper()
	dir := t.TempDir()
	imagesDir := filepath.Join(dir, "images")
	captionsDir := filepath.Join(dir, "captions")
	require.NoError(t, os.MkdirAll(imagesDir, 0755))
	require.NoError(t, os.MkdirAll(captionsDir, 0755))

	for i := 1; i <= images; i++ {
		imgPath := filepath.Join(imagesDir, fmt.Sprintf("%04d.jpg", i))
		require.NoError(t, os.WriteFile(imgPath, []byte(fmt.Sprintf("jpeg-%d", i)), 0644))
		capPath := filepath.Join(captionsDir, fmt.Sprintf("%04d.txt", i))
		require.NoError(t, os.WriteFile(capPath, []byte("a photo of person"), 0644))
	}

	return &entity.TrainingDataset{
		Dir:           dir,
		ImagesDir:     imagesDir,
		CaptionsDir:   captionsDir,
		ImageCount:    images,
		TriggerPhrase: "person",
	}
}

// fakeFal implements enough of the fal queue API for the adapter: storage
// initiate + PUT, submit, status polling and result retrieval.
type fakeFal struct {
	t           *testing.T
	mux         *http.ServeMux
	server      *httptest.Server
	polls       atomic.Int32
	pollsToDone int32
	failStatus  string
	failError   string
	uploaded    atomic.Int64
	submitted   atomic.Value // trainingArguments
}

func newFakeFal(t *testing.T, pollsToDone int32) *fakeFal {
	f := &fakeFal{t: t, mux: http.NewServeMux(), pollsToDone: pollsToDone}
	f.server = httptest.NewServer(f.mux)
	t.Cleanup(f.server.Close)

	f.mux.HandleFunc("/storage/upload/initiate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"upload_url": f.server.URL + "/storage/put/archive.zip",
			"file_url":   f.server.URL + "/files/archive.zip",
		})
	})
	f.mux.HandleFunc("/storage/put/archive.zip", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.uploaded.Store(int64(len(body)))
		os.WriteFile(filepath.Join(t.TempDir(), "received.zip"), body, 0644)
		w.WriteHeader(http.StatusOK)
	})
	f.mux.HandleFunc("/fal-ai/flux-lora-portrait-trainer", func(w http.ResponseWriter, r *http.Request) {
		var args trainingArguments
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		f.submitted.Store(args)
		json.NewEncoder(w).Encode(queuedRequest{
			RequestID:   "req-123",
			StatusURL:   f.server.URL + "/requests/req-123/status",
			ResponseURL: f.server.URL + "/requests/req-123",
		})
	})
	f.mux.HandleFunc("/requests/req-123/status", func(w http.ResponseWriter, r *http.Request) {
		n := f.polls.Add(1)
		status := "IN_PROGRESS"
		if n >= f.pollsToDone {
			status = "COMPLETED"
			if f.failStatus != "" {
				status = f.failStatus
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"error":  f.failError,
			"logs":   []map[string]string{{"message": fmt.Sprintf("step %d", n)}},
		})
	})
	f.mux.HandleFunc("/requests/req-123", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"diffusers_lora_file": map[string]any{
				"url":       f.server.URL + "/files/model.safetensors",
				"file_size": 4096,
			},
			"config_file": map[string]any{"url": f.server.URL + "/files/config.json"},
		})
	})
	return f
}

func newTestProvider(f *fakeFal) *Provider {
	return NewProvider(ProviderConfig{
		BaseURL:      f.server.URL,
		Endpoint:     "fal-ai/flux-lora-portrait-trainer",
		APIKey:       "test-key",
		PollInterval: 10 * time.Millisecond,
		TrainTimeout: 5 * time.Second,
	}, zap.NewNop())
}

func TestTrainSuccess(t *testing.T) {
	fake := newFakeFal(t, 3)
	p := newTestProvider(fake)
	ds := writeDataset(t, 12)

	result := p.Train(context.Background(), ds, entity.TrainingConfig{
		Steps:         2500,
		LearningRate:  0.00009,
		TriggerPhrase: "person",
		SubjectCrop:   true,
	})

	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, fake.server.URL+"/files/model.safetensors", result.ModelURL)
	assert.Equal(t, fake.server.URL+"/files/config.json", result.ConfigURL)
	assert.Equal(t, "req-123", result.TrainingID)
	assert.Equal(t, "fal_ai", result.Provider)

	args := fake.submitted.Load().(trainingArguments)
	assert.Equal(t, 2500, args.Steps)
	assert.InDelta(t, 0.00009, args.LearningRate, 1e-12)
	assert.Equal(t, "person", args.TriggerPhrase)
	assert.True(t, args.SubjectCrop)
	assert.Equal(t, fake.server.URL+"/files/archive.zip", args.ImagesDataURL)
	assert.Greater(t, fake.uploaded.Load(), int64(0))
}

func TestTrainProviderFailureIsData(t *testing.T) {
	fake := newFakeFal(t, 2)
	fake.failStatus = "FAILED"
	fake.failError = "out of GPU capacity"
	p := newTestProvider(fake)
	ds := writeDataset(t, 5)

	result := p.Train(context.Background(), ds, entity.TrainingConfig{Steps: 100, LearningRate: 0.0002, TriggerPhrase: "person"})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "out of GPU capacity")
	assert.Equal(t, "req-123", result.TrainingID)
}

func TestTrainEmptyDatasetFails(t *testing.T) {
	fake := newFakeFal(t, 1)
	p := newTestProvider(fake)
	ds := writeDataset(t, 0)

	result := p.Train(context.Background(), ds, entity.TrainingConfig{})
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "no images")
}

func TestPackageImagesFlatLayout(t *testing.T) {
	fake := newFakeFal(t, 1)
	p := newTestProvider(fake)
	ds := writeDataset(t, 3)

	zipPath, err := p.packageImages(context.Background(), ds)
	require.NoError(t, err)
	defer os.Remove(zipPath)

	zr, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer zr.Close()

	require.Len(t, zr.File, 3)
	for _, zf := range zr.File {
		// Images sit at the archive root, no captions shipped.
		assert.NotContains(t, zf.Name, "/")
		assert.Equal(t, ".jpg", filepath.Ext(zf.Name))
	}
}

func TestValidateDatasetCaptionMismatchIsWarning(t *testing.T) {
	fake := newFakeFal(t, 1)
	p := newTestProvider(fake)
	ds := writeDataset(t, 4)
	require.NoError(t, os.Remove(filepath.Join(ds.CaptionsDir, "0004.txt")))

	assert.NoError(t, p.validateDataset(ds))
}
