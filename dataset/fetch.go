package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
)

// Fetcher downloads dataset matrix files from an S3-compatible bucket into
// a local cache directory. Objects with a .zst suffix are decompressed on
// the way down; the cached file is always the raw matrix.
type Fetcher struct {
	client   *minio.Client
	bucket   string
	cacheDir string
}

// NewFetcher creates a Fetcher backed by the given MinIO client.
func NewFetcher(client *minio.Client, bucket, cacheDir string) *Fetcher {
	return &Fetcher{client: client, bucket: bucket, cacheDir: cacheDir}
}

// Fetch ensures the named object is present in the cache and returns the
// local path. Already-cached files are reused without touching the bucket.
func (f *Fetcher) Fetch(ctx context.Context, name string) (string, error) {
	local := filepath.Join(f.cacheDir, strings.TrimSuffix(filepath.Base(name), ".zst"))
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("dataset: create cache dir: %w", err)
	}

	obj, err := f.client.GetObject(ctx, f.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("dataset: fetch %s: %w", name, err)
	}
	defer obj.Close()

	var src io.Reader = obj
	if strings.HasSuffix(name, ".zst") {
		dec, err := zstd.NewReader(obj)
		if err != nil {
			return "", fmt.Errorf("dataset: decompress %s: %w", name, err)
		}
		defer dec.Close()
		src = dec
	}

	// Write to a temp file first so a partial download never looks like a
	// valid cached dataset.
	tmp, err := os.CreateTemp(f.cacheDir, ".download-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fmt.Errorf("dataset: download %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmp.Name(), local); err != nil {
		return "", err
	}

	return local, nil
}
