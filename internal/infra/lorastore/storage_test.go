package lorastore

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

func artifactServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/model.safetensors":
			w.Write([]byte("safetensors-bytes"))
		case "/config.json":
			w.Write([]byte(`{"steps": 2500}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSaveLaysOutVersionedDir(t *testing.T) {
	srv := artifactServer(t)
	store := NewStore(t.TempDir(), zap.NewNop())

	saved, err := store.Save(context.Background(), "alice_v1",
		srv.URL+"/model.safetensors", srv.URL+"/config.json",
		map[string]any{"trigger": "alice person"})
	require.NoError(t, err)

	assert.Equal(t, "alice_v1", saved.Name)
	assert.FileExists(t, saved.ModelPath)
	assert.Equal(t, "alice_v1.safetensors", filepath.Base(saved.ModelPath))
	assert.FileExists(t, saved.ConfigPath)
	assert.Equal(t, "alice_v1_config.json", filepath.Base(saved.ConfigPath))
	assert.FileExists(t, saved.MetadataPath)
	assert.Equal(t, int64(len("safetensors-bytes")), saved.SizeBytes)

	meta, err := store.Get("alice_v1")
	require.NoError(t, err)
	assert.Equal(t, "alice person", meta["trigger"])
	assert.Equal(t, srv.URL+"/model.safetensors", meta["model_url"])
	assert.NotEmpty(t, meta["saved_at"])
}

func TestSaveWithoutConfigURL(t *testing.T) {
	srv := artifactServer(t)
	store := NewStore(t.TempDir(), zap.NewNop())

	saved, err := store.Save(context.Background(), "bob", srv.URL+"/model.safetensors", "", nil)
	require.NoError(t, err)
	assert.Empty(t, saved.ConfigPath)

	meta, err := store.Get("bob")
	require.NoError(t, err)
	_, hasConfig := meta["config_path"]
	assert.False(t, hasConfig)
}

func TestSaveModelDownloadFailure(t *testing.T) {
	srv := artifactServer(t)
	store := NewStore(t.TempDir(), zap.NewNop())

	_, err := store.Save(context.Background(), "broken", srv.URL+"/missing", "", nil)
	assert.Error(t, err)
}

func TestSaveConfigFailureIsNonFatal(t *testing.T) {
	srv := artifactServer(t)
	store := NewStore(t.TempDir(), zap.NewNop())

	saved, err := store.Save(context.Background(), "carol",
		srv.URL+"/model.safetensors", srv.URL+"/missing-config", nil)
	require.NoError(t, err)
	assert.Empty(t, saved.ConfigPath)
	assert.FileExists(t, saved.ModelPath)
}

func TestListAndDelete(t *testing.T) {
	srv := artifactServer(t)
	root := t.TempDir()
	store := NewStore(root, zap.NewNop())

	for _, name := range []string{"m1", "m2"} {
		_, err := store.Save(context.Background(), name, srv.URL+"/model.safetensors", "", nil)
		require.NoError(t, err)
	}
	// Stray files in the root are not models.
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	models, err := store.List()
	require.NoError(t, err)
	assert.Len(t, models, 2)

	require.NoError(t, store.Delete("m1"))
	models, err = store.List()
	require.NoError(t, err)
	assert.Len(t, models, 1)

	assert.Error(t, store.Delete("m1"))
}

func TestListEmptyRoot(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nowhere"), zap.NewNop())
	models, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, models)
}
