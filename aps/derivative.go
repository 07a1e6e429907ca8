package aps

import (
	"context"
	"net/http"
)

const derivativeBasePath = "/modelderivative/v2/designdata"

// StartJob submits a translation job. It returns as soon as the job is queued.
func (c *Client) StartJob(ctx context.Context, payload JobPayload) (*Job, error) {
	token, err := c.serviceToken()
	if err != nil {
		return nil, err
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.endpoint(derivativeBasePath+"/job", nil), payload)
	if err != nil {
		return nil, err
	}
	var job Job
	if err := c.send(req, token, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetManifest fetches the translation manifest for urn. A missing manifest is
// reported as an error matching errors.ErrNotFound.
func (c *Client) GetManifest(ctx context.Context, urn string) (*Manifest, error) {
	token, err := c.serviceToken()
	if err != nil {
		return nil, err
	}
	req, err := c.newJSONRequest(ctx, http.MethodGet, c.endpoint(derivativeBasePath+"/"+SafeURN(urn)+"/manifest", nil), nil)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := c.send(req, token, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
