package port

import "context"

// BlobStorage is the content-addressable upload/download service.
type BlobStorage interface {
	// Upload puts a local file at key and returns a public URL for it.
	Upload(ctx context.Context, localPath, key string) (string, error)

	// UploadTree uploads every file under localDir with keys rooted at
	// keyPrefix, returning the URLs in upload order.
	UploadTree(ctx context.Context, localDir, keyPrefix string) ([]string, error)

	// Download fetches urlOrKey into destPath. It accepts an http(s) URL,
	// an existing local file path, or a plain object key.
	Download(ctx context.Context, urlOrKey, destPath string) error
}
