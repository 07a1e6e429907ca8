package aps

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	apperrors "github.com/jrsteele09/aps-viewer-server/internal/errors"
)

const (
	defaultUploadChunkSize = 100 << 20
	minUploadChunkSize     = 5 << 20
	maxSignedURLsPerCall   = 25
)

func bucketPath(bucketKey string) string {
	return "/oss/v2/buckets/" + url.PathEscape(bucketKey)
}

func objectPath(bucketKey, objectKey string) string {
	return bucketPath(bucketKey) + "/objects/" + url.PathEscape(objectKey)
}

// ListBuckets walks every page of the bucket listing.
func (c *Client) ListBuckets(ctx context.Context) ([]Bucket, error) {
	token, err := c.serviceToken()
	if err != nil {
		return nil, err
	}

	var buckets []Bucket
	startAt := ""
	for page := 0; ; page++ {
		if page >= MaxPages {
			return nil, fmt.Errorf("%w: bucket listing exceeded %d pages", apperrors.ErrUpstream, MaxPages)
		}
		q := url.Values{"limit": {"64"}, "region": {c.region}}
		if startAt != "" {
			q.Set("startAt", startAt)
		}
		req, err := c.newJSONRequest(ctx, http.MethodGet, c.endpoint("/oss/v2/buckets", q), nil)
		if err != nil {
			return nil, err
		}
		var p bucketsPage
		if err := c.send(req, token, &p); err != nil {
			return nil, err
		}
		buckets = append(buckets, p.Items...)

		next, ok := startAtFromNext(p.Next)
		if !ok {
			return buckets, nil
		}
		startAt = next
	}
}

// CreateBucket creates a bucket in the configured region.
func (c *Client) CreateBucket(ctx context.Context, bucketKey, policyKey string) (*Bucket, error) {
	token, err := c.serviceToken()
	if err != nil {
		return nil, err
	}
	body := map[string]string{"bucketKey": bucketKey, "policyKey": policyKey}
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.endpoint("/oss/v2/buckets", nil), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-ads-region", c.region)

	var b Bucket
	if err := c.send(req, token, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// DeleteBucket deletes an empty bucket.
func (c *Client) DeleteBucket(ctx context.Context, bucketKey string) error {
	token, err := c.serviceToken()
	if err != nil {
		return err
	}
	req, err := c.newJSONRequest(ctx, http.MethodDelete, c.endpoint(bucketPath(bucketKey), nil), nil)
	if err != nil {
		return err
	}
	return c.send(req, token, nil)
}

// ListObjectsPage fetches a single page of objects starting at startAt.
func (c *Client) ListObjectsPage(ctx context.Context, bucketKey string, limit int, startAt string) (ObjectsPage, error) {
	token, err := c.serviceToken()
	if err != nil {
		return ObjectsPage{}, err
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if startAt != "" {
		q.Set("startAt", startAt)
	}
	req, err := c.newJSONRequest(ctx, http.MethodGet, c.endpoint(bucketPath(bucketKey)+"/objects", q), nil)
	if err != nil {
		return ObjectsPage{}, err
	}
	var p ObjectsPage
	if err := c.send(req, token, &p); err != nil {
		return ObjectsPage{}, err
	}
	return p, nil
}

// ListObjects walks every page of a bucket's objects.
func (c *Client) ListObjects(ctx context.Context, bucketKey string) ([]Object, error) {
	var objects []Object
	startAt := ""
	for page := 0; page < MaxPages; page++ {
		p, err := c.ListObjectsPage(ctx, bucketKey, 64, startAt)
		if err != nil {
			return nil, err
		}
		objects = append(objects, p.Items...)
		next, ok := p.NextStartAt()
		if !ok {
			return objects, nil
		}
		startAt = next
	}
	return nil, fmt.Errorf("%w: object listing for %s exceeded %d pages", apperrors.ErrUpstream, bucketKey, MaxPages)
}

// DeleteObject removes a single object.
func (c *Client) DeleteObject(ctx context.Context, bucketKey, objectKey string) error {
	token, err := c.serviceToken()
	if err != nil {
		return err
	}
	req, err := c.newJSONRequest(ctx, http.MethodDelete, c.endpoint(objectPath(bucketKey, objectKey), nil), nil)
	if err != nil {
		return err
	}
	return c.send(req, token, nil)
}

type signedUpload struct {
	UploadKey string   `json:"uploadKey"`
	URLs      []string `json:"urls"`
}

// UploadObject streams size bytes from r into bucketKey/objectKey using the
// signed S3 upload flow: request presigned part URLs, PUT each part, then
// complete the upload.
func (c *Client) UploadObject(ctx context.Context, bucketKey, objectKey string, r io.ReaderAt, size int64) (*Object, error) {
	token, err := c.serviceToken()
	if err != nil {
		return nil, err
	}

	chunk := c.uploadChunkSize
	if chunk < minUploadChunkSize && size > chunk {
		chunk = minUploadChunkSize
	}
	parts := int((size + chunk - 1) / chunk)
	if parts == 0 {
		parts = 1
	}

	uploadKey := ""
	for first := 1; first <= parts; first += maxSignedURLsPerCall {
		n := min(maxSignedURLsPerCall, parts-first+1)
		signed, err := c.signedUploadURLs(ctx, token, bucketKey, objectKey, uploadKey, first, n)
		if err != nil {
			return nil, err
		}
		if len(signed.URLs) < n {
			return nil, fmt.Errorf("%w: expected %d signed urls, got %d", apperrors.ErrUpstream, n, len(signed.URLs))
		}
		uploadKey = signed.UploadKey

		for i := 0; i < n; i++ {
			offset := int64(first-1+i) * chunk
			length := min(chunk, size-offset)
			if err := c.putPart(ctx, signed.URLs[i], io.NewSectionReader(r, offset, length), length); err != nil {
				return nil, err
			}
		}
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, c.endpoint(objectPath(bucketKey, objectKey)+"/signeds3upload", nil),
		map[string]string{"uploadKey": uploadKey})
	if err != nil {
		return nil, err
	}
	var obj Object
	if err := c.send(req, token, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func (c *Client) signedUploadURLs(ctx context.Context, token, bucketKey, objectKey, uploadKey string, firstPart, parts int) (*signedUpload, error) {
	q := url.Values{"parts": {strconv.Itoa(parts)}, "firstPart": {strconv.Itoa(firstPart)}}
	if uploadKey != "" {
		q.Set("uploadKey", uploadKey)
	}
	req, err := c.newJSONRequest(ctx, http.MethodGet, c.endpoint(objectPath(bucketKey, objectKey)+"/signeds3upload", q), nil)
	if err != nil {
		return nil, err
	}
	var s signedUpload
	if err := c.send(req, token, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// putPart uploads one part to a presigned URL; the URL carries its own
// credentials so no bearer token is sent.
func (c *Client) putPart(ctx context.Context, signedURL string, body io.Reader, length int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = length
	return c.send(req, "", nil)
}
