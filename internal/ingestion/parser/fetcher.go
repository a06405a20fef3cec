package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
)

// Fetcher opens the bytes behind an opaque storage reference.
type Fetcher interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// DirFetcher resolves storage references as paths under Root.
type DirFetcher struct {
	Root string
}

func (f DirFetcher) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "file://")
	if ref == "" {
		return nil, fmt.Errorf("%w: empty storage ref", apperr.ErrInvalidArgument)
	}
	root, err := filepath.Abs(f.Root)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(root, filepath.Clean("/"+ref))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: storage ref escapes root", apperr.ErrInvalidArgument)
	}
	fh, err := os.Open(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, apperr.Permanent("parse", fmt.Errorf("document %q not found: %w", ref, err))
	case err != nil:
		return nil, apperr.Transient("fetch", err)
	}
	return fh, nil
}

// ObjectReader opens one object of a bucket.
type ObjectReader interface {
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// GCSObjects reads objects through a Cloud Storage client.
type GCSObjects struct {
	Client *storage.Client
}

func (g GCSObjects) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return g.Client.Bucket(bucket).Object(object).NewReader(ctx)
}

// BucketFetcher resolves storage references as bucket objects. A
// gs://bucket/key reference names its own bucket; a bare key lives in Bucket.
type BucketFetcher struct {
	Bucket  string
	Objects ObjectReader
}

func (f BucketFetcher) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bucket, key, err := f.locate(ref)
	if err != nil {
		return nil, err
	}
	rc, err := f.Objects.NewReader(ctx, bucket, key)
	switch {
	case errors.Is(err, storage.ErrObjectNotExist), errors.Is(err, storage.ErrBucketNotExist):
		return nil, apperr.Permanent("parse", fmt.Errorf("document %q not found: %w", ref, err))
	case err != nil:
		return nil, apperr.Transient("fetch", err)
	}
	return rc, nil
}

func (f BucketFetcher) locate(ref string) (bucket, key string, err error) {
	ref = strings.TrimSpace(ref)
	bucket = f.Bucket
	if rest, ok := strings.CutPrefix(ref, "gs://"); ok {
		bucket, ref, _ = strings.Cut(rest, "/")
	}
	key = strings.TrimLeft(ref, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: storage ref %q names no object", apperr.ErrInvalidArgument, ref)
	}
	return bucket, key, nil
}
