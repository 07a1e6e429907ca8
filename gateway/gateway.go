// Package gateway maps the viewer's storage, translation and browsing
// operations onto the APS REST APIs.
package gateway

import (
	"context"
	"io"

	"github.com/jrsteele09/aps-viewer-server/aps"
	apperrors "github.com/jrsteele09/aps-viewer-server/internal/errors"
	"github.com/rs/zerolog/log"
)

// Upstream is the subset of the APS client the gateway calls.
type Upstream interface {
	ListBuckets(ctx context.Context) ([]aps.Bucket, error)
	CreateBucket(ctx context.Context, bucketKey, policyKey string) (*aps.Bucket, error)
	DeleteBucket(ctx context.Context, bucketKey string) error
	ListObjects(ctx context.Context, bucketKey string) ([]aps.Object, error)
	ListObjectsPage(ctx context.Context, bucketKey string, limit int, startAt string) (aps.ObjectsPage, error)
	DeleteObject(ctx context.Context, bucketKey, objectKey string) error
	UploadObject(ctx context.Context, bucketKey, objectKey string, r io.ReaderAt, size int64) (*aps.Object, error)
	StartJob(ctx context.Context, payload aps.JobPayload) (*aps.Job, error)
	GetManifest(ctx context.Context, urn string) (*aps.Manifest, error)

	Hubs(ctx context.Context, accessToken string) ([]aps.Resource, error)
	Projects(ctx context.Context, accessToken, hubID string) ([]aps.Resource, error)
	TopFolders(ctx context.Context, accessToken, hubID, projectID string) ([]aps.Resource, error)
	FolderContents(ctx context.Context, accessToken, projectID, folderID string) ([]aps.Resource, error)
	ItemVersions(ctx context.Context, accessToken, projectID, itemID string) ([]aps.Resource, error)
}

var _ Upstream = (*aps.Client)(nil)

// Gateway exposes bucket, object, translation and hub operations.
type Gateway struct {
	upstream      Upstream
	defaultBucket string
}

// Option configures the gateway
type Option func(*Gateway)

// WithDefaultBucket enables the deprecated fallback to a fixed bucket when a
// caller does not name one.
func WithDefaultBucket(bucketKey string) Option {
	return func(g *Gateway) {
		g.defaultBucket = bucketKey
	}
}

func New(upstream Upstream, opts ...Option) *Gateway {
	g := &Gateway{upstream: upstream}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DefaultBucket returns the configured fallback bucket, if any.
func (g *Gateway) DefaultBucket() string {
	return g.defaultBucket
}

// ResolveBucket turns a bucket urn supplied by the browser into a bucket key.
// When bucketURN is empty the deprecated default bucket is used if configured.
func (g *Gateway) ResolveBucket(bucketURN string) (string, error) {
	if bucketURN == "" {
		if g.defaultBucket == "" {
			return "", apperrors.New(apperrors.ErrValidation, "Bucket parameter is required. Provide ?bucket=<bucketKey>")
		}
		log.Warn().Str("bucket", g.defaultBucket).Msg("No bucket supplied, falling back to APS_BUCKET; this fallback is deprecated")
		return g.defaultBucket, nil
	}
	bucketKey, err := aps.Deurnify(bucketURN)
	if err != nil || bucketKey == "" {
		return "", apperrors.New(apperrors.ErrValidation, "Invalid bucket urn '%s'", bucketURN)
	}
	return bucketKey, nil
}
