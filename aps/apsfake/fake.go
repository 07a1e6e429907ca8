// Package apsfake is an in-memory stand-in for the APS endpoints used by the
// viewer backend. It is meant for tests only.
package apsfake

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/aps-viewer-server/aps"
)

const (
	ClientID     = "fake-client-id"
	ClientSecret = "fake-client-secret"
	ValidCode    = "valid-code"
)

type bucket struct {
	meta    aps.Bucket
	objects map[string]aps.Object
}

type pendingUpload struct {
	bucket string
	object string
	parts  map[int][]byte
}

// Fake records every interesting call so tests can assert on upstream traffic.
type Fake struct {
	Server *httptest.Server

	mu       sync.Mutex
	buckets  map[string]*bucket
	uploads  map[string]*pendingUpload
	manifest map[string]*aps.Manifest
	jobs     []aps.JobPayload
	calls    map[string]int
	codes    map[string]bool
	refresh  map[string]bool
	seq      int

	// PageSize caps listing pages regardless of the requested limit.
	PageSize int
	// TokenExpiresIn is the lifetime reported for issued tokens, in seconds.
	TokenExpiresIn int
	// RefreshDelay is slept inside the refresh grant to widen race windows.
	RefreshDelay time.Duration
	// FailObjectDeletes lists object keys whose deletion returns 500.
	FailObjectDeletes map[string]bool
	// ForeignBuckets lists bucket keys owned by another application.
	ForeignBuckets map[string]bool
	// EndlessObjectPages makes every object page advertise a next cursor.
	EndlessObjectPages bool
}

// New starts a fake APS server. Close it with t.Cleanup(f.Close).
func New() *Fake {
	f := &Fake{
		buckets:           map[string]*bucket{},
		uploads:           map[string]*pendingUpload{},
		manifest:          map[string]*aps.Manifest{},
		calls:             map[string]int{},
		codes:             map[string]bool{ValidCode: true},
		refresh:           map[string]bool{},
		TokenExpiresIn:    3600,
		FailObjectDeletes: map[string]bool{},
		ForeignBuckets:    map[string]bool{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /authentication/v2/token", f.token)
	mux.HandleFunc("GET /userinfo", f.userInfo)
	mux.HandleFunc("GET /oss/v2/buckets", f.authed(f.listBuckets))
	mux.HandleFunc("POST /oss/v2/buckets", f.authed(f.createBucket))
	mux.HandleFunc("DELETE /oss/v2/buckets/{bucket}", f.authed(f.deleteBucket))
	mux.HandleFunc("GET /oss/v2/buckets/{bucket}/objects", f.authed(f.listObjects))
	mux.HandleFunc("DELETE /oss/v2/buckets/{bucket}/objects/{object}", f.authed(f.deleteObject))
	mux.HandleFunc("GET /oss/v2/buckets/{bucket}/objects/{object}/signeds3upload", f.authed(f.signUpload))
	mux.HandleFunc("POST /oss/v2/buckets/{bucket}/objects/{object}/signeds3upload", f.authed(f.completeUpload))
	mux.HandleFunc("PUT /s3/{upload}/{part}", f.putPart)
	mux.HandleFunc("POST /modelderivative/v2/designdata/job", f.authed(f.startJob))
	mux.HandleFunc("GET /modelderivative/v2/designdata/{urn}/manifest", f.authed(f.getManifest))
	mux.HandleFunc("GET /project/v1/hubs", f.authed(f.hubs))
	mux.HandleFunc("GET /project/v1/hubs/{hub}/projects", f.authed(f.projects))
	mux.HandleFunc("GET /project/v1/hubs/{hub}/projects/{project}/topFolders", f.authed(f.topFolders))
	mux.HandleFunc("GET /data/v1/projects/{project}/folders/{folder}/contents", f.authed(f.folderContents))
	mux.HandleFunc("GET /data/v1/projects/{project}/items/{item}/versions", f.authed(f.versions))

	f.Server = httptest.NewServer(mux)
	return f
}

func (f *Fake) URL() string { return f.Server.URL }

func (f *Fake) Close() { f.Server.Close() }

// Calls returns how many times the named operation was hit.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

// AddBucket seeds a bucket.
func (f *Fake) AddBucket(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[key] = &bucket{
		meta:    aps.Bucket{BucketKey: key, BucketOwner: ClientID, CreatedDate: 1700000000000, PolicyKey: aps.PolicyPersistent},
		objects: map[string]aps.Object{},
	}
}

// AddObject seeds an object, creating the bucket when needed.
func (f *Fake) AddObject(bucketKey, objectKey string, size int64) {
	f.mu.Lock()
	b, ok := f.buckets[bucketKey]
	f.mu.Unlock()
	if !ok {
		f.AddBucket(bucketKey)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b = f.buckets[bucketKey]
	b.objects[objectKey] = aps.Object{
		BucketKey: bucketKey,
		ObjectKey: objectKey,
		ObjectID:  aps.ObjectID(bucketKey, objectKey),
		Size:      size,
	}
}

// HasBucket reports whether the bucket exists.
func (f *Fake) HasBucket(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.buckets[key]
	return ok
}

// Objects returns the object keys stored in a bucket, sorted.
func (f *Fake) Objects(bucketKey string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[bucketKey]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetManifest stores a manifest for urn.
func (f *Fake) SetManifest(urn string, m aps.Manifest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.URN = urn
	f.manifest[aps.SafeURN(urn)] = &m
}

// Jobs returns the translation jobs submitted so far.
func (f *Fake) Jobs() []aps.JobPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]aps.JobPayload(nil), f.jobs...)
}

// IssueRefreshToken registers a refresh token that the token endpoint will
// accept exactly once.
func (f *Fake) IssueRefreshToken(rt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[rt] = true
}

func (f *Fake) next() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *Fake) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"developerMessage": "missing bearer token", "errorCode": "AUTH-001"})
			return
		}
		next(w, r)
	}
}

func (f *Fake) token(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	if ok {
		id, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(secret)
	}
	if !ok || id != ClientID || secret != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client", "error_description": "client authentication failed"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	scope := r.PostForm.Get("scope")
	switch r.PostForm.Get("grant_type") {
	case "client_credentials":
		f.count("token.client_credentials")
	case "authorization_code":
		f.count("token.authorization_code")
		code := r.PostForm.Get("code")
		f.mu.Lock()
		valid := f.codes[code]
		delete(f.codes, code)
		f.mu.Unlock()
		if !valid {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "authorization code is invalid or expired"})
			return
		}
	case "refresh_token":
		f.count("token.refresh_token")
		if f.RefreshDelay > 0 {
			time.Sleep(f.RefreshDelay)
		}
		rt := r.PostForm.Get("refresh_token")
		f.mu.Lock()
		valid := f.refresh[rt]
		delete(f.refresh, rt)
		f.mu.Unlock()
		if !valid {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "refresh token is invalid"})
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	n := f.next()
	prefix := "internal"
	if scope != "" && !strings.Contains(scope, "data:") {
		prefix = "public"
	}
	resp := map[string]any{
		"access_token": fmt.Sprintf("%s-token-%d", prefix, n),
		"token_type":   "Bearer",
		"expires_in":   f.TokenExpiresIn,
	}
	if r.PostForm.Get("grant_type") != "client_credentials" {
		rt := fmt.Sprintf("refresh-%d", n)
		f.IssueRefreshToken(rt)
		resp["refresh_token"] = rt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *Fake) userInfo(w http.ResponseWriter, r *http.Request) {
	f.count("userinfo")
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sub":                "user-1",
		"name":               "Ada Lovelace",
		"given_name":         "Ada",
		"family_name":        "Lovelace",
		"preferred_username": "ada",
		"email":              "ada@example.com",
		"email_verified":     true,
	})
}

func (f *Fake) pageSize(r *http.Request, def int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = def
	}
	if f.PageSize > 0 && f.PageSize < limit {
		limit = f.PageSize
	}
	return limit
}

func (f *Fake) nextLink(r *http.Request, startAt string) string {
	q := r.URL.Query()
	q.Set("startAt", startAt)
	return f.Server.URL + r.URL.Path + "?" + q.Encode()
}

func (f *Fake) listBuckets(w http.ResponseWriter, r *http.Request) {
	f.count("buckets.list")
	f.mu.Lock()
	keys := make([]string, 0, len(f.buckets))
	for k := range f.buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	start := sort.SearchStrings(keys, r.URL.Query().Get("startAt"))
	end := min(start+f.pageSize(r, 10), len(keys))
	items := make([]aps.Bucket, 0, end-start)
	for _, k := range keys[start:end] {
		items = append(items, f.buckets[k].meta)
	}
	f.mu.Unlock()

	resp := map[string]any{"items": items}
	if end < len(keys) {
		resp["next"] = f.nextLink(r, keys[end])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *Fake) createBucket(w http.ResponseWriter, r *http.Request) {
	f.count("buckets.create")
	var body struct {
		BucketKey string `json:"bucketKey"`
		PolicyKey string `json:"policyKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.BucketKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "Invalid bucket key"})
		return
	}
	if r.Header.Get("x-ads-region") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "Missing region"})
		return
	}
	f.mu.Lock()
	_, exists := f.buckets[body.BucketKey]
	f.mu.Unlock()
	if exists {
		writeJSON(w, http.StatusConflict, map[string]string{"reason": "Bucket already exists"})
		return
	}
	f.AddBucket(body.BucketKey)
	f.mu.Lock()
	meta := f.buckets[body.BucketKey].meta
	meta.PolicyKey = body.PolicyKey
	f.buckets[body.BucketKey].meta = meta
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, meta)
}

func (f *Fake) deleteBucket(w http.ResponseWriter, r *http.Request) {
	f.count("buckets.delete")
	key := r.PathValue("bucket")
	if f.ForeignBuckets[key] {
		writeJSON(w, http.StatusForbidden, map[string]string{"reason": "Bucket owner mismatch"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[key]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "Bucket not found"})
		return
	}
	if len(b.objects) > 0 {
		writeJSON(w, http.StatusConflict, map[string]string{"reason": "Bucket is not empty"})
		return
	}
	delete(f.buckets, key)
	w.WriteHeader(http.StatusOK)
}

func (f *Fake) listObjects(w http.ResponseWriter, r *http.Request) {
	f.count("objects.list")
	key := r.PathValue("bucket")
	f.mu.Lock()
	b, ok := f.buckets[key]
	if !ok {
		f.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "Bucket not found"})
		return
	}
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	start := sort.SearchStrings(keys, r.URL.Query().Get("startAt"))
	end := min(start+f.pageSize(r, 10), len(keys))
	items := make([]aps.Object, 0, end-start)
	for _, k := range keys[start:end] {
		items = append(items, b.objects[k])
	}
	f.mu.Unlock()

	resp := map[string]any{"items": items}
	switch {
	case f.EndlessObjectPages:
		resp["next"] = f.nextLink(r, "a")
	case end < len(keys):
		resp["next"] = f.nextLink(r, keys[end])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *Fake) deleteObject(w http.ResponseWriter, r *http.Request) {
	f.count("objects.delete")
	bucketKey, objectKey := r.PathValue("bucket"), r.PathValue("object")
	if f.FailObjectDeletes[objectKey] {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"reason": "Internal failure"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[bucketKey]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "Bucket not found"})
		return
	}
	if _, ok := b.objects[objectKey]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "Object not found"})
		return
	}
	delete(b.objects, objectKey)
	w.WriteHeader(http.StatusOK)
}

func (f *Fake) signUpload(w http.ResponseWriter, r *http.Request) {
	f.count("objects.sign")
	bucketKey, objectKey := r.PathValue("bucket"), r.PathValue("object")
	if !f.HasBucket(bucketKey) {
		writeJSON(w, http.StatusNotFound, map[string]string{"reason": "Bucket not found"})
		return
	}
	parts, _ := strconv.Atoi(r.URL.Query().Get("parts"))
	first, _ := strconv.Atoi(r.URL.Query().Get("firstPart"))
	if parts <= 0 {
		parts = 1
	}
	if first <= 0 {
		first = 1
	}

	uploadKey := r.URL.Query().Get("uploadKey")
	f.mu.Lock()
	if uploadKey == "" {
		f.seq++
		uploadKey = fmt.Sprintf("upload-%d", f.seq)
		f.uploads[uploadKey] = &pendingUpload{bucket: bucketKey, object: objectKey, parts: map[int][]byte{}}
	}
	f.mu.Unlock()

	urls := make([]string, 0, parts)
	for i := 0; i < parts; i++ {
		urls = append(urls, fmt.Sprintf("%s/s3/%s/%d", f.Server.URL, uploadKey, first+i))
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploadKey": uploadKey, "urls": urls})
}

func (f *Fake) putPart(w http.ResponseWriter, r *http.Request) {
	f.count("s3.put")
	if r.Header.Get("Authorization") != "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	part, _ := strconv.Atoi(r.PathValue("part"))
	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	up, ok := f.uploads[r.PathValue("upload")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	up.parts[part] = data
	w.WriteHeader(http.StatusOK)
}

func (f *Fake) completeUpload(w http.ResponseWriter, r *http.Request) {
	f.count("objects.complete")
	var body struct {
		UploadKey string `json:"uploadKey"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	up, ok := f.uploads[body.UploadKey]
	delete(f.uploads, body.UploadKey)
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "Unknown upload key"})
		return
	}
	var size int64
	for _, p := range up.parts {
		size += int64(len(p))
	}
	f.AddObject(up.bucket, up.object, size)
	writeJSON(w, http.StatusOK, aps.Object{
		BucketKey: up.bucket,
		ObjectKey: up.object,
		ObjectID:  aps.ObjectID(up.bucket, up.object),
		Size:      size,
	})
}

// UploadedSize returns the stored size of an object, or -1 when the bucket is missing.
func (f *Fake) UploadedSize(bucketKey, objectKey string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.buckets[bucketKey]; ok {
		return b.objects[objectKey].Size
	}
	return -1
}

func (f *Fake) startJob(w http.ResponseWriter, r *http.Request) {
	f.count("jobs.start")
	var payload aps.JobPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Input.URN == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"diagnostic": "Invalid job payload"})
		return
	}
	if _, err := base64.RawStdEncoding.DecodeString(payload.Input.URN); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"diagnostic": "Invalid urn"})
		return
	}
	f.mu.Lock()
	f.jobs = append(f.jobs, payload)
	f.manifest[aps.SafeURN(payload.Input.URN)] = &aps.Manifest{URN: payload.Input.URN, Status: "pending", Progress: "0% complete"}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, aps.Job{Result: "created", URN: payload.Input.URN})
}

func (f *Fake) getManifest(w http.ResponseWriter, r *http.Request) {
	f.count("manifest.get")
	f.mu.Lock()
	m, ok := f.manifest[aps.SafeURN(r.PathValue("urn"))]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"diagnostic": "Manifest not found"})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func resource(id, typ, name string) map[string]any {
	attrs := map[string]any{"name": name, "displayName": name}
	if typ == "versions" {
		attrs = map[string]any{"displayName": name, "createTime": name}
	}
	return map[string]any{"id": id, "type": typ, "attributes": attrs}
}

func (f *Fake) hubs(w http.ResponseWriter, r *http.Request) {
	f.count("dm.hubs")
	writeJSON(w, http.StatusOK, map[string]any{"data": []any{resource("b.hub-1", "hubs", "Hub One")}})
}

func (f *Fake) projects(w http.ResponseWriter, r *http.Request) {
	f.count("dm.projects")
	if r.URL.Query().Get("page") == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"data":  []any{resource("b.project-1", "projects", "Project One")},
			"links": map[string]any{"next": map[string]string{"href": f.Server.URL + r.URL.Path + "?page=2"}},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": []any{resource("b.project-2", "projects", "Project Two")}})
}

func (f *Fake) topFolders(w http.ResponseWriter, r *http.Request) {
	f.count("dm.topFolders")
	writeJSON(w, http.StatusOK, map[string]any{"data": []any{resource("urn:folder-root", "folders", "Project Files")}})
}

func (f *Fake) folderContents(w http.ResponseWriter, r *http.Request) {
	f.count("dm.contents")
	writeJSON(w, http.StatusOK, map[string]any{"data": []any{
		resource("urn:folder-sub", "folders", "Plans"),
		resource("urn:item-1", "items", "house.rvt"),
	}})
}

func (f *Fake) versions(w http.ResponseWriter, r *http.Request) {
	f.count("dm.versions")
	writeJSON(w, http.StatusOK, map[string]any{"data": []any{
		resource("urn:adsk.wipprod:fs.file:vf.abc?version=1", "versions", "2024-01-01T00:00:00.000Z"),
	}})
}
