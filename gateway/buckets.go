package gateway

import (
	"context"
	"strings"

	"github.com/jrsteele09/aps-viewer-server/aps"
	apperrors "github.com/jrsteele09/aps-viewer-server/internal/errors"
	"github.com/rs/zerolog/log"
)

const (
	MinBucketNameLength = 3
	MaxBucketNameLength = 128

	cleanupPageSize = 100
)

// Bucket is a bucket as returned to the browser.
type Bucket struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CreatedDate int64  `json:"createdDate"`
	URN         string `json:"urn,omitempty"`
}

// DeleteResult is the outcome of a successful bucket deletion.
type DeleteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func newBucket(b aps.Bucket) Bucket {
	return Bucket{
		ID:          b.BucketKey,
		Name:        b.BucketKey,
		CreatedDate: b.CreatedDate,
		URN:         aps.Urnify(b.BucketKey),
	}
}

// SanitizeBucketName lowercases name, drops every character outside
// [a-z0-9-], trims leading and trailing hyphens and caps the length at
// MaxBucketNameLength. The result is stable under repeated application.
func SanitizeBucketName(name string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return -1
		}
	}, strings.ToLower(name))
	s = strings.Trim(s, "-")
	if len(s) > MaxBucketNameLength {
		s = strings.TrimRight(s[:MaxBucketNameLength], "-")
	}
	return s
}

// ListBuckets returns every bucket visible to the application.
func (g *Gateway) ListBuckets(ctx context.Context) ([]Bucket, error) {
	buckets, err := g.upstream.ListBuckets(ctx)
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to list buckets")
	}
	out := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, newBucket(b))
	}
	return out, nil
}

// CreateBucket sanitizes name and creates a persistent bucket with it. Names
// that sanitize to fewer than MinBucketNameLength characters are rejected
// without calling upstream.
func (g *Gateway) CreateBucket(ctx context.Context, name string) (Bucket, error) {
	if name == "" {
		return Bucket{}, apperrors.New(apperrors.ErrValidation, "Bucket name is required.")
	}
	key := SanitizeBucketName(name)
	if len(key) < MinBucketNameLength {
		return Bucket{}, apperrors.New(apperrors.ErrValidation, "Bucket name must be at least %d characters long after sanitization.", MinBucketNameLength)
	}

	created, err := g.upstream.CreateBucket(ctx, key, aps.PolicyPersistent)
	switch {
	case err == nil:
	case apperrors.Is(err, apperrors.ErrConflict):
		return Bucket{}, apperrors.New(apperrors.ErrConflict, "Bucket name '%s' already exists. Please choose a different name.", key)
	case apperrors.Is(err, apperrors.ErrValidation):
		return Bucket{}, apperrors.New(apperrors.ErrValidation,
			"Invalid bucket name '%s'. Bucket names must be 3-128 characters, lowercase, alphanumeric with hyphens allowed.", key)
	default:
		log.Err(err).Str("bucket", key).Msg("Failed to create bucket")
		return Bucket{}, apperrors.Wrapf(err, "failed to create bucket '%s'", key)
	}

	log.Info().Str("bucket", key).Msg("Bucket created")
	b := newBucket(*created)
	b.ID, b.Name = key, key
	return b, nil
}

// EnsureBucket creates bucketKey if it does not exist yet. An existing bucket
// is not an error.
func (g *Gateway) EnsureBucket(ctx context.Context, bucketKey string) error {
	if bucketKey == "" {
		return apperrors.New(apperrors.ErrValidation, "Bucket key is required")
	}
	_, err := g.upstream.CreateBucket(ctx, bucketKey, aps.PolicyPersistent)
	switch {
	case err == nil:
		log.Info().Str("bucket", bucketKey).Msg("Bucket created")
		return nil
	case apperrors.Is(err, apperrors.ErrConflict):
		log.Debug().Str("bucket", bucketKey).Msg("Bucket already exists")
		return nil
	default:
		log.Err(err).Str("bucket", bucketKey).Msg("Failed to ensure bucket exists")
		return apperrors.Wrapf(err, "failed to ensure bucket '%s'", bucketKey)
	}
}

// DeleteBucket removes every object in the bucket, then the bucket itself.
// Object deletion is best effort; the bucket delete outcome is what is
// reported.
func (g *Gateway) DeleteBucket(ctx context.Context, name string) (DeleteResult, error) {
	key := SanitizeBucketName(name)
	if key == "" {
		return DeleteResult{}, apperrors.New(apperrors.ErrValidation, "Bucket name is required.")
	}

	g.clearBucketObjects(ctx, key)

	if err := g.upstream.DeleteBucket(ctx, key); err != nil {
		return DeleteResult{}, deletionError(err, key)
	}

	log.Info().Str("bucket", key).Msg("Bucket deleted")
	return DeleteResult{Success: true, Message: "Bucket '" + key + "' deleted successfully."}, nil
}

// clearBucketObjects walks the object listing with its cursor and deletes
// each object. The walk stops after aps.MaxPages pages.
func (g *Gateway) clearBucketObjects(ctx context.Context, bucketKey string) {
	startAt := ""
	deleted, failed := 0, 0
	for page := 0; page < aps.MaxPages; page++ {
		p, err := g.upstream.ListObjectsPage(ctx, bucketKey, cleanupPageSize, startAt)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				log.Info().Str("bucket", bucketKey).Msg("Bucket not found during object cleanup")
			} else {
				log.Warn().Err(err).Str("bucket", bucketKey).Msg("Could not list objects during cleanup")
			}
			return
		}

		for _, obj := range p.Items {
			if err := g.upstream.DeleteObject(ctx, bucketKey, obj.ObjectKey); err != nil {
				failed++
				log.Err(err).Str("bucket", bucketKey).Str("object", obj.ObjectKey).Msg("Failed to delete object")
				continue
			}
			deleted++
		}

		next, ok := p.NextStartAt()
		if !ok {
			log.Debug().Str("bucket", bucketKey).Int("deleted", deleted).Int("failed", failed).Msg("Bucket object cleanup finished")
			return
		}
		startAt = next
	}
	log.Warn().Str("bucket", bucketKey).Int("pages", aps.MaxPages).Msg("Object cleanup stopped at page limit")
}

func deletionError(err error, bucketKey string) error {
	log.Err(err).Str("bucket", bucketKey).Int("status", apperrors.StatusCode(err)).Msg("Bucket deletion failed")

	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		return apperrors.New(apperrors.ErrNotFound, "Bucket '%s' not found.", bucketKey)
	case apperrors.Is(err, apperrors.ErrPermission):
		msg := "Permission denied. Cannot delete bucket '" + bucketKey + "'. "
		var ue *apperrors.UpstreamError
		apperrors.As(err, &ue)
		switch {
		case ue != nil && ue.Reason == "Bucket owner mismatch":
			msg += "This bucket was created by a different application or user."
		case ue != nil && ue.ErrorCode == "AUTH-003":
			msg += "Your access token doesn't have sufficient permissions."
		default:
			msg += "Common causes: 1) Bucket created by another app, 2) Missing delete permissions, 3) Hidden objects exist."
		}
		return apperrors.New(apperrors.ErrPermission, "%s", msg)
	case apperrors.Is(err, apperrors.ErrConflict):
		return apperrors.New(apperrors.ErrConflict, "Bucket '%s' is not empty or has active operations.", bucketKey)
	default:
		return apperrors.Wrapf(err, "Failed to delete bucket '%s'", bucketKey)
	}
}
