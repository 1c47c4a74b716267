package port

import "context"

// SavedModel describes a model persisted in the local versioned store.
type SavedModel struct {
	Name         string
	ModelPath    string
	ConfigPath   string
	MetadataPath string
	SizeBytes    int64
}

// ModelStore keeps trained artifacts on local disk, one directory per named
// model with {name}.safetensors, optional {name}_config.json and
// metadata.json.
type ModelStore interface {
	Save(ctx context.Context, name, modelURL, configURL string, metadata map[string]any) (*SavedModel, error)
	Get(name string) (map[string]any, error)
	List() ([]map[string]any, error)
	Delete(name string) error
}
