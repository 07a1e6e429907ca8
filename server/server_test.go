package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/aps-viewer-server/aps"
	"github.com/jrsteele09/aps-viewer-server/aps/apsfake"
	"github.com/jrsteele09/aps-viewer-server/broker"
	"github.com/jrsteele09/aps-viewer-server/gateway"
	"github.com/jrsteele09/aps-viewer-server/internal/config"
	"github.com/jrsteele09/aps-viewer-server/server"
	"github.com/jrsteele09/aps-viewer-server/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const frontendURL = "http://localhost:3000"

var (
	internalScopes = []string{"data:read", "data:write", "data:create", "bucket:read", "bucket:create", "bucket:delete"}
	publicScopes   = []string{"viewables:read"}
)

type testEnv struct {
	fake    *apsfake.Fake
	repo    sessions.Repo
	server  *server.Server
	handler http.Handler
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	return newTestServerWithRepo(t, sessions.NewInMemoryRepo())
}

func newTestServerWithRepo(t *testing.T, repo sessions.Repo) *testEnv {
	t.Helper()

	t.Setenv("ENV", "TEST")
	t.Setenv("SESSION_SECRET", "test-secret")
	t.Setenv("FRONTEND_URL", frontendURL)
	t.Setenv("CORS_ALLOWED_ORIGINS", frontendURL)
	t.Setenv("SESSION_MAX_AGE", "1h")
	t.Setenv("UPLOAD_MAX_MEMORY_MB", "1")

	fake := apsfake.New()
	t.Cleanup(fake.Close)

	auth := aps.NewAuthClient(aps.AuthConfig{
		BaseURL:        fake.URL(),
		ClientID:       apsfake.ClientID,
		ClientSecret:   apsfake.ClientSecret,
		CallbackURL:    "http://localhost:8080/api/auth/callback",
		UserInfoURL:    fake.URL() + "/userinfo",
		InternalScopes: internalScopes,
	})
	b := broker.New(auth, repo, internalScopes, publicScopes)
	client := aps.NewClient(b.ServiceTokenSource(), aps.WithBaseURL(fake.URL()), aps.WithRateLimit(1000))

	s, err := server.New(config.New(), b, gateway.New(client))
	require.NoError(t, err)
	return &testEnv{fake: fake, repo: repo, server: s, handler: s}
}

func (e *testEnv) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func findCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

// login runs the browser side of the three-legged flow and returns the
// session cookie.
func (e *testEnv) login(t *testing.T) *http.Cookie {
	t.Helper()

	rec := e.do(httptest.NewRequest(http.MethodGet, server.RouteAuthLogin, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)
	stateCookie := findCookie(t, rec, "aps_auth_state")

	callback := server.RouteAuthCallback + "?code=" + apsfake.ValidCode + "&state=" + url.QueryEscape(state)
	rec = e.do(httptest.NewRequest(http.MethodGet, callback, nil), stateCookie)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, frontendURL, rec.Header().Get("Location"))
	return findCookie(t, rec, "aps_session")
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func uploadRequest(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("model-file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, server.RouteModels, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, server.RouteHealth, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestLoginFlow(t *testing.T) {
	env := newTestServer(t)
	session := env.login(t)
	require.True(t, session.HttpOnly)
	require.Equal(t, 1, env.repo.Count())

	rec := env.do(httptest.NewRequest(http.MethodGet, server.RouteAuthToken, nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode[broker.AccessToken](t, rec)
	require.True(t, strings.HasPrefix(token.AccessToken, "public-token-"))
	require.Positive(t, token.ExpiresIn)

	rec = env.do(httptest.NewRequest(http.MethodGet, server.RouteAuthProfile, nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"name":"Ada Lovelace"}`, rec.Body.String())
}

func TestCallback_StateMismatch(t *testing.T) {
	env := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, server.RouteAuthCallback+"?code="+apsfake.ValidCode+"&state=forged", nil)
	rec := env.do(req, &http.Cookie{Name: "aps_auth_state", Value: "expected"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, env.fake.Calls("token.authorization_code"))

	rec = env.do(httptest.NewRequest(http.MethodGet, server.RouteAuthCallback+"?code="+apsfake.ValidCode+"&state=x", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, env.fake.Calls("token.authorization_code"))
}

func TestCallback_BadCode(t *testing.T) {
	env := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, server.RouteAuthCallback+"?code=bogus&state=s1", nil)
	rec := env.do(req, &http.Cookie{Name: "aps_auth_state", Value: "s1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, decode[map[string]string](t, rec), "error")
	require.Zero(t, env.repo.Count())
}

func TestRequireSession(t *testing.T) {
	env := newTestServer(t)

	t.Run("no cookie", func(t *testing.T) {
		rec := env.do(httptest.NewRequest(http.MethodGet, server.RouteAuthToken, nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		require.Contains(t, decode[map[string]string](t, rec), "error")
	})

	t.Run("tampered cookie", func(t *testing.T) {
		session := env.login(t)
		session.Value += "x"
		rec := env.do(httptest.NewRequest(http.MethodGet, server.RouteAuthToken, nil), session)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unsigned cookie", func(t *testing.T) {
		rec := env.do(httptest.NewRequest(http.MethodGet, server.RouteBuckets, nil), &http.Cookie{Name: "aps_session", Value: "some-session-id"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogout(t *testing.T) {
	env := newTestServer(t)
	session := env.login(t)

	rec := env.do(httptest.NewRequest(http.MethodPost, server.RouteAuthLogout, nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true}`, rec.Body.String())
	require.Negative(t, findCookie(t, rec, "aps_session").MaxAge)
	require.Zero(t, env.repo.Count())

	// the still-signed cookie no longer maps to a session
	rec = env.do(httptest.NewRequest(http.MethodGet, server.RouteAuthToken, nil), session)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, server.RouteAuthLogout, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, frontendURL, rec.Header().Get("Location"))
}

func TestBuckets(t *testing.T) {
	env := newTestServer(t)
	session := env.login(t)

	create := func(name string) *httptest.ResponseRecorder {
		body := strings.NewReader(`{"bucketName":"` + name + `"}`)
		return env.do(httptest.NewRequest(http.MethodPost, server.RouteBucketCreate, body), session)
	}

	rec := create("My Models!")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[map[string]any](t, rec)
	require.Equal(t, "mymodels", created["id"])
	require.Equal(t, "mymodels", created["name"])
	require.Contains(t, created, "createdDate")
	require.True(t, env.fake.HasBucket("mymodels"))

	rec = create("mymodels")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = create("!!")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPost, server.RouteBucketCreate, strings.NewReader("not json")), session)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, server.RouteBuckets, nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	buckets := decode[[]gateway.Bucket](t, rec)
	require.Len(t, buckets, 1)
	require.Equal(t, aps.Urnify("mymodels"), buckets[0].URN)

	env.fake.AddObject("mymodels", "a.rvt", 10)
	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/buckets/mymodels", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[gateway.DeleteResult](t, rec).Success)
	require.False(t, env.fake.HasBucket("mymodels"))

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/buckets/mymodels", nil), session)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListModels(t *testing.T) {
	env := newTestServer(t)
	session := env.login(t)
	env.fake.AddBucket("models")
	env.fake.AddObject("models", "house.rvt", 42)

	rec := env.do(httptest.NewRequest(http.MethodGet, server.RouteModels, nil), session)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decode[map[string]string](t, rec)["error"], "?bucket=")

	rec = env.do(httptest.NewRequest(http.MethodGet, server.RouteModels+"?bucket="+aps.Urnify("models"), nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t,
		`[{"name":"house.rvt","urn":"`+aps.Urnify(aps.ObjectID("models", "house.rvt"))+`"}]`,
		rec.Body.String())
}

func TestUploadModel(t *testing.T) {
	env := newTestServer(t)
	session := env.login(t)
	bucketURN := aps.Urnify("models")

	t.Run("unsupported type", func(t *testing.T) {
		req := uploadRequest(t, map[string]string{"bucket-urn": bucketURN}, "notes.abc", []byte("x"))
		rec := env.do(req, session)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, decode[map[string]string](t, rec)["error"], "Unsupported file type")
		require.False(t, env.fake.HasBucket("models"))
	})

	t.Run("zip without entrypoint", func(t *testing.T) {
		req := uploadRequest(t, map[string]string{"bucket-urn": bucketURN}, "site.zip", []byte("PK"))
		rec := env.do(req, session)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Zero(t, len(env.fake.Jobs()))
	})

	t.Run("missing file", func(t *testing.T) {
		rec := env.do(uploadRequest(t, map[string]string{"bucket-urn": bucketURN}, "", nil), session)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, decode[map[string]string](t, rec)["error"], "model-file")
	})

	t.Run("missing bucket", func(t *testing.T) {
		rec := env.do(uploadRequest(t, nil, "house.rvt", []byte("rvt")), session)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, decode[map[string]string](t, rec)["error"], "bucket-urn")
	})

	t.Run("uploads and translates", func(t *testing.T) {
		content := bytes.Repeat([]byte("m"), 2048)
		rec := env.do(uploadRequest(t, map[string]string{"bucket-urn": bucketURN}, "house.rvt", content), session)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		want := aps.Urnify(aps.ObjectID("models", "house.rvt"))
		require.JSONEq(t, `{"name":"house.rvt","urn":"`+want+`"}`, rec.Body.String())
		require.Equal(t, int64(len(content)), env.fake.UploadedSize("models", "house.rvt"))

		jobs := env.fake.Jobs()
		require.Len(t, jobs, 1)
		require.Equal(t, want, jobs[0].Input.URN)
	})
}

func TestModelStatusAndManifest(t *testing.T) {
	env := newTestServer(t)
	session := env.login(t)
	urn := aps.Urnify(aps.ObjectID("models", "house.rvt"))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/models/"+urn+"/status", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"n/a"}`, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/models/"+urn+"/manifest", nil), session)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"Manifest not found"}`, rec.Body.String())

	env.fake.SetManifest(urn, aps.Manifest{URN: urn, Status: "inprogress", Progress: "50% complete"})

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/models/"+urn+"/status", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[map[string]any](t, rec)
	require.Equal(t, "inprogress", status["status"])
	require.Equal(t, "50% complete", status["progress"])
	require.Equal(t, []any{}, status["messages"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/models/"+urn+"/manifest", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "inprogress", decode[aps.Manifest](t, rec).Status)
}

func TestHubBrowsing(t *testing.T) {
	env := newTestServer(t)
	session := env.login(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, server.RouteHubs, nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[{"id":"b.hub-1","name":"Hub One"}]`, rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/hubs/b.hub-1/projects", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]gateway.Project](t, rec), 2)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/hubs/b.hub-1/projects/b.project-1/contents", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []gateway.Entry{{ID: "urn:folder-root", Name: "Project Files", Folder: true}}, decode[[]gateway.Entry](t, rec))
	require.Equal(t, 1, env.fake.Calls("dm.topFolders"))
}

func TestCors(t *testing.T) {
	env := newTestServer(t)

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, server.RouteBuckets, nil)
		req.Header.Set("Origin", frontendURL)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rec := env.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, frontendURL, rec.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	})

	t.Run("actual request from unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, server.RouteAuthToken, nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := env.do(req)
		require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("request id is echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, server.RouteAuthToken, nil)
		req.Header.Set("X-Request-ID", "req-42")
		rec := env.do(req)
		require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	})
}

func TestExpiredSessionIsRefreshedThroughTheCookie(t *testing.T) {
	env := newTestServer(t)
	session := env.login(t)

	var claims jwt.MapClaims
	_, _, err := jwt.NewParser().ParseUnverified(session.Value, &claims)
	require.NoError(t, err)
	sessionID, _ := claims["sid"].(string)

	ctx := context.Background()
	s, err := env.repo.Get(ctx, sessionID)
	require.NoError(t, err)
	s.Tokens.ExpiresAt = s.CreatedAt.Add(-time.Second)
	require.NoError(t, env.repo.Upsert(ctx, s))
	before := env.fake.Calls("token.refresh_token")

	rec := env.do(httptest.NewRequest(http.MethodGet, server.RouteAuthToken, nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, before+2, env.fake.Calls("token.refresh_token"))
}

func TestSessionStoreOutageKeepsTheCookie(t *testing.T) {
	mr := miniredis.RunT(t)
	repo := sessions.NewRedisRepoFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	t.Cleanup(func() { _ = repo.Close() })
	env := newTestServerWithRepo(t, repo)
	session := env.login(t)
	require.Equal(t, 1, repo.Count())

	mr.Close()

	rec := env.do(httptest.NewRequest(http.MethodGet, server.RouteAuthToken, nil), session)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	for _, c := range rec.Result().Cookies() {
		require.NotEqual(t, "aps_session", c.Name)
	}
}

func TestRoutes(t *testing.T) {
	env := newTestServer(t)
	routes := env.server.Routes()

	for _, route := range []string{
		"GET " + server.RouteHealth,
		"OPTIONS " + server.RouteAPIPrefix,
		"GET " + server.RouteAuthLogin,
		"GET " + server.RouteAuthCallback,
		"GET " + server.RouteAuthToken,
		"POST " + server.RouteAuthLogout,
		"GET " + server.RouteBuckets,
		"POST " + server.RouteModels,
		"GET " + server.RouteModelStatus,
	} {
		require.Contains(t, routes, route)
	}

	// callers get a copy
	routes[0] = "changed"
	require.NotEqual(t, "changed", env.server.Routes()[0])
}
