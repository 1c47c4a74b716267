package minio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(StorageConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "content-generation-assets",
	}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestDownloadHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video-bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "nested", "input.mp4")
	err := testStorage(t).Download(context.Background(), srv.URL+"/v.mp4", dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))
}

func TestDownloadHTTPNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "input.mp4")
	err := testStorage(t).Download(context.Background(), srv.URL+"/missing.mp4", dest)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestDownloadLocalFileSource(t *testing.T) {
	src := filepath.Join(t.TempDir(), "local.mp4")
	require.NoError(t, os.WriteFile(src, []byte("local-bytes"), 0o644))

	dest := filepath.Join(t.TempDir(), "copy.mp4")
	err := testStorage(t).Download(context.Background(), src, dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "local-bytes", string(data))
}
