package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/realestate-ai/enhance-pipeline/internal/pkg/dbctx"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

// ArtifactCategory selects which bucket an image artifact lives in. Inputs
// and candidates churn constantly and are cheap to regenerate; debug
// overlays are operator-facing and can live somewhere with a shorter
// retention policy, so we keep them on separate buckets rather than a
// shared prefix.
type ArtifactCategory string

const (
	CategoryInput     ArtifactCategory = "input"
	CategoryCandidate ArtifactCategory = "candidate"
	CategoryDebug     ArtifactCategory = "debug"
)

type bucketConfig struct {
	name      string
	cdnDomain string
}

// Store is the object-storage facade used by the upload handler to persist
// input images, by the stage executor to persist per-attempt candidates,
// and by both to hand back public URLs. The debug category has a bucket
// but nothing writes overlays to it.
type Store interface {
	UploadFile(dbc dbctx.Context, category ArtifactCategory, key string, file io.Reader) error
	DeleteFile(dbc dbctx.Context, category ArtifactCategory, key string) error
	ReplaceFile(dbc dbctx.Context, category ArtifactCategory, key string, newFile io.Reader) error
	DownloadFile(ctx context.Context, category ArtifactCategory, key string) (io.ReadCloser, error)
	CopyObject(ctx context.Context, category ArtifactCategory, srcKey, dstKey string) error
	ListKeys(ctx context.Context, category ArtifactCategory, prefix string) ([]string, error)
	DeletePrefix(ctx context.Context, category ArtifactCategory, prefix string) error
	GetPublicURL(category ArtifactCategory, key string) string
}

type store struct {
	log             *logger.Logger
	storageClient   *storage.Client
	inputBucket     bucketConfig
	candidateBucket bucketConfig
	debugBucket     bucketConfig
}

// NewStore builds a Store from GCS buckets named by environment. Candidate
// and input imagery are allowed to share a bucket in smaller deployments by
// pointing both env vars at the same name; debug overlays always get their
// own so a misconfigured retention policy can't quietly delete job inputs.
func NewStore(log *logger.Logger) (Store, error) {
	serviceLog := log.With("service", "ObjectStore")

	inputBucketName := os.Getenv("INPUT_GCS_BUCKET_NAME")
	candidateBucketName := os.Getenv("CANDIDATE_GCS_BUCKET_NAME")
	debugBucketName := os.Getenv("DEBUG_GCS_BUCKET_NAME")
	if inputBucketName == "" {
		return nil, fmt.Errorf("missing env var INPUT_GCS_BUCKET_NAME")
	}
	if candidateBucketName == "" {
		return nil, fmt.Errorf("missing env var CANDIDATE_GCS_BUCKET_NAME")
	}
	if debugBucketName == "" {
		debugBucketName = candidateBucketName
	}

	inputCDN := os.Getenv("INPUT_CDN_DOMAIN")
	candidateCDN := os.Getenv("CANDIDATE_CDN_DOMAIN")
	debugCDN := os.Getenv("DEBUG_CDN_DOMAIN")

	ctx := context.Background()
	opts := ClientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	stClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &store{
		log:           serviceLog,
		storageClient: stClient,
		inputBucket: bucketConfig{
			name:      inputBucketName,
			cdnDomain: inputCDN,
		},
		candidateBucket: bucketConfig{
			name:      candidateBucketName,
			cdnDomain: candidateCDN,
		},
		debugBucket: bucketConfig{
			name:      debugBucketName,
			cdnDomain: debugCDN,
		},
	}, nil
}

func (s *store) getBucketConfig(category ArtifactCategory) (bucketConfig, error) {
	switch category {
	case CategoryInput:
		return s.inputBucket, nil
	case CategoryCandidate:
		return s.candidateBucket, nil
	case CategoryDebug:
		return s.debugBucket, nil
	default:
		return bucketConfig{}, fmt.Errorf("unknown artifact category: %s", category)
	}
}

// ArtifactKey builds the canonical key for a stage attempt's candidate
// image: jobs/{jobId}/{stage}/attempt-{n}{ext}. The baseline for a stage is
// just the committed candidate of the previous stage, so there is no
// separate "baseline" key shape.
func ArtifactKey(jobID, stage string, attempt int, ext string) string {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("jobs/%s/%s/attempt-%02d%s", jobID, stage, attempt, ext)
}

// DebugOverlayKey builds the key for a stage attempt's trigger overlay PNG.
func DebugOverlayKey(jobID, stage string, attempt int) string {
	return fmt.Sprintf("jobs/%s/%s/attempt-%02d.debug.png", jobID, stage, attempt)
}

func (s *store) UploadFile(dbc dbctx.Context, category ArtifactCategory, key string, file io.Reader) error {
	cfg, err := s.getBucketConfig(category)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(dbc.Ctx, 2*time.Minute)
	defer cancel()

	w := s.storageClient.Bucket(cfg.name).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	default:
		return ""
	}
}

func (s *store) DeleteFile(dbc dbctx.Context, category ArtifactCategory, key string) error {
	cfg, err := s.getBucketConfig(category)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(dbc.Ctx, 30*time.Second)
	defer cancel()
	o := s.storageClient.Bucket(cfg.name).Object(key)
	if err := o.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, cfg.name, err)
	}
	return nil
}

func (s *store) ReplaceFile(dbc dbctx.Context, category ArtifactCategory, key string, newFile io.Reader) error {
	if err := s.DeleteFile(dbc, category, key); err != nil {
		return fmt.Errorf("failed deleting old file: %w", err)
	}
	if err := s.UploadFile(dbc, category, key, newFile); err != nil {
		return fmt.Errorf("failed uploading new file: %w", err)
	}
	return nil
}

func (s *store) CopyObject(ctx context.Context, category ArtifactCategory, srcKey, dstKey string) error {
	cfg, err := s.getBucketConfig(category)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	src := s.storageClient.Bucket(cfg.name).Object(srcKey)
	dst := s.storageClient.Bucket(cfg.name).Object(dstKey)
	_, err = dst.CopierFrom(src).Run(ctx)
	if err != nil {
		return fmt.Errorf("copy %s->%s: %w", srcKey, dstKey, err)
	}
	return nil
}

func (s *store) ListKeys(ctx context.Context, category ArtifactCategory, prefix string) ([]string, error) {
	cfg, err := s.getBucketConfig(category)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := s.storageClient.Bucket(cfg.name).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (s *store) DeletePrefix(ctx context.Context, category ArtifactCategory, prefix string) error {
	keys, err := s.ListKeys(ctx, category, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		_ = s.DeleteFile(dbctx.Context{Ctx: ctx}, category, k)
	}
	return nil
}

func (s *store) GetPublicURL(category ArtifactCategory, key string) string {
	cfg, err := s.getBucketConfig(category)
	if err != nil {
		return key
	}
	if cfg.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", cfg.cdnDomain, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", cfg.name, key)
}

// readCloserWithCancel defers context cancellation to Close so the reader
// isn't torn down the instant the download's timeout context would
// otherwise fire.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (s *store) DownloadFile(ctx context.Context, category ArtifactCategory, key string) (io.ReadCloser, error) {
	cfg, err := s.getBucketConfig(category)
	if err != nil {
		return nil, err
	}
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)

	r, err := s.storageClient.Bucket(cfg.name).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}

	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}
