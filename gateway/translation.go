package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jrsteele09/aps-viewer-server/aps"
	apperrors "github.com/jrsteele09/aps-viewer-server/internal/errors"
	"github.com/rs/zerolog/log"
)

// Translation states reported by the manifest.
const (
	StatusPending      = "pending"
	StatusInProgress   = "inprogress"
	StatusSuccess      = "success"
	StatusFailed       = "failed"
	StatusTimeout      = "timeout"
	StatusNotAvailable = "n/a"
)

// DerivativeFailure summarises one derivative of a failed translation.
type DerivativeFailure struct {
	Status     string        `json:"status"`
	Progress   string        `json:"progress,omitempty"`
	Messages   []aps.Message `json:"messages,omitempty"`
	OutputType string        `json:"outputType,omitempty"`
}

// FailureDetails is attached to a failed ManifestStatus.
type FailureDetails struct {
	Derivatives []DerivativeFailure `json:"derivatives"`
}

// ManifestStatus is the polled translation state of a model.
type ManifestStatus struct {
	Status       string          `json:"status"`
	Progress     string          `json:"progress"`
	Messages     []aps.Message   `json:"messages"`
	ErrorDetails *FailureDetails `json:"errorDetails,omitempty"`
}

// MarshalJSON renders a model that was never translated as just its status.
func (m ManifestStatus) MarshalJSON() ([]byte, error) {
	if m.Status == StatusNotAvailable {
		return json.Marshal(struct {
			Status string `json:"status"`
		}{m.Status})
	}
	type manifestStatus ManifestStatus
	if m.Messages == nil {
		m.Messages = []aps.Message{}
	}
	return json.Marshal(manifestStatus(m))
}

// TranslateObject submits an SVF2 translation job with 2D and 3D views. Archives
// are translated from rootFilename. It returns as soon as the job is queued.
func (g *Gateway) TranslateObject(ctx context.Context, urn, rootFilename string) (string, error) {
	objectID, err := aps.Deurnify(urn)
	if err != nil || objectID == "" {
		return "", apperrors.New(apperrors.ErrValidation, "Invalid urn '%s'", urn)
	}
	source := strings.ToLower(objectID)

	payload := aps.JobPayload{
		Input: aps.JobInput{
			URN:           urn,
			CompressedURN: rootFilename != "" || strings.HasSuffix(source, ".zip"),
			RootFilename:  rootFilename,
			SwitchLoader:  strings.HasSuffix(source, ".rvt"),
		},
	}
	payload.Output.Formats = []aps.JobFormat{{Type: aps.OutputSVF2, Views: []string{aps.View2D, aps.View3D}}}

	job, err := g.upstream.StartJob(ctx, payload)
	if err != nil {
		log.Err(err).Str("urn", urn).Msg("Translation failed")
		return "", apperrors.Wrapf(err, "Translation failed")
	}

	log.Info().Str("urn", urn).Str("result", job.Result).Bool("compressed", payload.Input.CompressedURN).Msg("Translation job started")
	return job.Result, nil
}

// GetManifest returns the upstream manifest of urn, or nil when no
// translation has been submitted.
func (g *Gateway) GetManifest(ctx context.Context, urn string) (*aps.Manifest, error) {
	if urn == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "URN is required")
	}
	m, err := g.upstream.GetManifest(ctx, urn)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			log.Debug().Str("urn", urn).Msg("Manifest not found, translation may not have started yet")
			return nil, nil
		}
		return nil, apperrors.Wrapf(err, "failed to get manifest")
	}
	return m, nil
}

// ManifestStatus flattens the manifest of urn into the status polled by the
// viewer.
func (g *Gateway) ManifestStatus(ctx context.Context, urn string) (ManifestStatus, error) {
	m, err := g.GetManifest(ctx, urn)
	if err != nil {
		return ManifestStatus{}, err
	}
	if m == nil {
		return ManifestStatus{Status: StatusNotAvailable}, nil
	}
	return summarise(urn, m), nil
}

func summarise(urn string, m *aps.Manifest) ManifestStatus {
	status := ManifestStatus{
		Status:   m.Status,
		Progress: m.Progress,
		Messages: []aps.Message{},
	}
	for _, d := range m.Derivatives {
		status.Messages = append(status.Messages, d.Messages...)
		for _, child := range d.Children {
			status.Messages = append(status.Messages, child.Messages...)
		}
	}

	if m.Status == StatusFailed {
		details := &FailureDetails{Derivatives: make([]DerivativeFailure, 0, len(m.Derivatives))}
		for _, d := range m.Derivatives {
			details.Derivatives = append(details.Derivatives, DerivativeFailure{
				Status:     d.Status,
				Progress:   d.Progress,
				Messages:   d.Messages,
				OutputType: d.OutputType,
			})
		}
		status.ErrorDetails = details
		log.Error().Str("urn", urn).Interface("messages", status.Messages).Msg("Translation failed")
	}
	return status
}
