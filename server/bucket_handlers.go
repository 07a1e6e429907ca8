package server

import (
	"encoding/json"
	"net/http"
)

type createBucketRequest struct {
	BucketName string `json:"bucketName"`
}

type createBucketResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CreatedDate int64  `json:"createdDate"`
}

func (s *Server) ListBucketsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buckets, err := s.gateway.ListBuckets(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, buckets)
	}
}

func (s *Server) CreateBucketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBucketRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Request body must be JSON with a bucketName field."})
			return
		}

		bucket, err := s.gateway.CreateBucket(r.Context(), req.BucketName)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, createBucketResponse{ID: bucket.ID, Name: bucket.Name, CreatedDate: bucket.CreatedDate})
	}
}

func (s *Server) DeleteBucketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.gateway.DeleteBucket(r.Context(), r.PathValue("name"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
