package server

import (
	"net/http"

	"github.com/jrsteele09/aps-viewer-server/gateway"
	apperrors "github.com/jrsteele09/aps-viewer-server/internal/errors"
)

const (
	formModelFile     = "model-file"
	formBucketURN     = "bucket-urn"
	formZipEntrypoint = "model-zip-entrypoint"
)

type modelResponse struct {
	Name string `json:"name"`
	URN  string `json:"urn"`
}

func (s *Server) ListModelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bucketKey, err := s.gateway.ResolveBucket(r.URL.Query().Get("bucket"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		objects, err := s.gateway.ListObjects(r.Context(), bucketKey)
		if err != nil {
			writeError(w, r, err)
			return
		}
		models := make([]modelResponse, 0, len(objects))
		for _, o := range objects {
			models = append(models, modelResponse{Name: o.Name, URN: o.URN})
		}
		writeJSON(w, http.StatusOK, models)
	}
}

// UploadModelHandler accepts a multipart upload, stores it and starts its
// translation. The part is streamed to storage without a local copy beyond
// what the multipart reader spills to disk.
func (s *Server) UploadModelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(s.config.GetUploadMaxMemory()); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Request must be multipart/form-data"})
			return
		}
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}

		file, header, err := r.FormFile(formModelFile)
		if err != nil {
			writeError(w, r, gateway.ValidateUpload("", ""))
			return
		}
		defer file.Close()

		zipEntrypoint := r.FormValue(formZipEntrypoint)
		if err := gateway.ValidateUpload(header.Filename, zipEntrypoint); err != nil {
			writeError(w, r, err)
			return
		}

		bucketURN := r.FormValue(formBucketURN)
		if bucketURN == "" && s.gateway.DefaultBucket() == "" {
			writeError(w, r, apperrors.New(apperrors.ErrValidation, "The required field '%s' is missing.", formBucketURN))
			return
		}
		bucketKey, err := s.gateway.ResolveBucket(bucketURN)
		if err != nil {
			writeError(w, r, err)
			return
		}

		obj, err := s.gateway.UploadModel(r.Context(), bucketKey, header.Filename, zipEntrypoint, file, header.Size)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, modelResponse{Name: obj.Name, URN: obj.URN})
	}
}

func (s *Server) ModelStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := s.gateway.ManifestStatus(r.Context(), r.PathValue("urn"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// ModelManifestHandler returns the raw manifest for debugging.
func (s *Server) ModelManifestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		manifest, err := s.gateway.GetManifest(r.Context(), r.PathValue("urn"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if manifest == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "Manifest not found"})
			return
		}
		writeJSON(w, http.StatusOK, manifest)
	}
}
