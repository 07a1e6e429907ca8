package aps_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/jrsteele09/aps-viewer-server/aps"
	"github.com/jrsteele09/aps-viewer-server/aps/apsfake"
	apperrors "github.com/jrsteele09/aps-viewer-server/internal/errors"
	"github.com/stretchr/testify/require"
)

func newTestClients(t *testing.T, opts ...aps.ClientOption) (*apsfake.Fake, *aps.AuthClient, *aps.Client) {
	t.Helper()

	fake := apsfake.New()
	t.Cleanup(fake.Close)

	auth := aps.NewAuthClient(aps.AuthConfig{
		BaseURL:        fake.URL(),
		ClientID:       apsfake.ClientID,
		ClientSecret:   apsfake.ClientSecret,
		CallbackURL:    "http://localhost:8080/api/auth/callback",
		UserInfoURL:    fake.URL() + "/userinfo",
		InternalScopes: []string{"data:read", "bucket:read"},
	})
	opts = append([]aps.ClientOption{aps.WithBaseURL(fake.URL()), aps.WithRateLimit(1000)}, opts...)
	client := aps.NewClient(auth.ServiceTokenSource(context.Background()), opts...)
	return fake, auth, client
}

func TestListBuckets_FollowsPagination(t *testing.T) {
	fake, _, client := newTestClients(t)
	fake.PageSize = 2
	for _, key := range []string{"a-bucket", "b-bucket", "c-bucket", "d-bucket", "e-bucket"} {
		fake.AddBucket(key)
	}

	buckets, err := client.ListBuckets(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 5)
	require.Equal(t, "e-bucket", buckets[4].BucketKey)
	require.Equal(t, 3, fake.Calls("buckets.list"))
	require.Equal(t, 1, fake.Calls("token.client_credentials"), "service token should be cached")
}

func TestListObjects_EndlessCursorIsBounded(t *testing.T) {
	fake, _, client := newTestClients(t)
	fake.AddObject("bucket-1", "a.rvt", 1)
	fake.EndlessObjectPages = true

	_, err := client.ListObjects(context.Background(), "bucket-1")
	require.ErrorIs(t, err, apperrors.ErrUpstream)
	require.Equal(t, aps.MaxPages, fake.Calls("objects.list"))
}

func TestCreateBucket_ConflictCarriesReason(t *testing.T) {
	fake, _, client := newTestClients(t)
	fake.AddBucket("taken")

	_, err := client.CreateBucket(context.Background(), "taken", aps.PolicyPersistent)
	require.ErrorIs(t, err, apperrors.ErrConflict)

	var ue *apperrors.UpstreamError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, "Bucket already exists", ue.Reason)
}

func TestGetManifest_NotFound(t *testing.T) {
	_, _, client := newTestClients(t)

	_, err := client.GetManifest(context.Background(), aps.Urnify("urn:adsk.objects:os.object:b/missing.rvt"))
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUploadObject_SplitsIntoParts(t *testing.T) {
	fake, _, client := newTestClients(t, aps.WithUploadChunkSize(4))
	fake.AddBucket("bucket-1")

	// chunk sizes below the S3 minimum are raised to 5MiB, so use a payload
	// just over that to force two parts
	payload := bytes.Repeat([]byte("x"), 5<<20+10)
	obj, err := client.UploadObject(context.Background(), "bucket-1", "big model.ifc", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, "big model.ifc", obj.ObjectKey)
	require.Equal(t, aps.ObjectID("bucket-1", "big model.ifc"), obj.ObjectID)
	require.Equal(t, int64(len(payload)), fake.UploadedSize("bucket-1", "big model.ifc"))
	require.Equal(t, 2, fake.Calls("s3.put"))
	require.Equal(t, 1, fake.Calls("objects.sign"))
}

func TestUploadObject_SmallFileSinglePart(t *testing.T) {
	fake, _, client := newTestClients(t)
	fake.AddBucket("bucket-1")

	payload := []byte("solid data")
	_, err := client.UploadObject(context.Background(), "bucket-1", "part.stl", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, 1, fake.Calls("s3.put"))
	require.Equal(t, []string{"part.stl"}, fake.Objects("bucket-1"))
}

func TestRefreshToken_RotatesAndIsSingleUse(t *testing.T) {
	fake, auth, _ := newTestClients(t)
	fake.IssueRefreshToken("rt-1")

	tok, err := auth.RefreshToken(context.Background(), "rt-1", []string{"viewables:read"})
	require.NoError(t, err)
	require.Contains(t, tok.AccessToken, "public-token")
	require.NotEmpty(t, tok.RefreshToken)
	require.Equal(t, int64(3600), int64(aps.ExpiresIn(tok).Seconds()))

	_, err = auth.RefreshToken(context.Background(), "rt-1", []string{"viewables:read"})
	require.Error(t, err)
	require.ErrorIs(t, aps.TokenError(err), apperrors.ErrAuth)
}

func TestExchangeCode_InvalidCode(t *testing.T) {
	_, auth, _ := newTestClients(t)

	_, err := auth.ExchangeCode(context.Background(), "bogus")
	require.Error(t, err)
	require.ErrorIs(t, aps.TokenError(err), apperrors.ErrAuth)
}

func TestServiceToken_BadCredentials(t *testing.T) {
	fake := apsfake.New()
	t.Cleanup(fake.Close)

	auth := aps.NewAuthClient(aps.AuthConfig{BaseURL: fake.URL(), ClientID: "wrong", ClientSecret: "nope"})
	client := aps.NewClient(auth.ServiceTokenSource(context.Background()), aps.WithBaseURL(fake.URL()))

	_, err := client.ListBuckets(context.Background())
	require.ErrorIs(t, err, apperrors.ErrAuth)
	require.Zero(t, fake.Calls("buckets.list"))
}

func TestUserInfo(t *testing.T) {
	_, auth, _ := newTestClients(t)

	profile, err := auth.UserInfo(context.Background(), "internal-token-1")
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", profile.Name)
	require.Equal(t, "user-1", profile.Subject)
}

func TestAuthorizationURL(t *testing.T) {
	fake, auth, _ := newTestClients(t)

	u := auth.AuthorizationURL("state-123")
	require.Contains(t, u, fake.URL()+"/authentication/v2/authorize?")
	require.Contains(t, u, "client_id="+apsfake.ClientID)
	require.Contains(t, u, "response_type=code")
	require.Contains(t, u, "state=state-123")
	require.Contains(t, u, "scope=data%3Aread+bucket%3Aread")
}

func TestDataManagement_FollowsLinks(t *testing.T) {
	fake, _, client := newTestClients(t)

	projects, err := client.Projects(context.Background(), "user-token", "b.hub-1")
	require.NoError(t, err)
	require.Len(t, projects, 2)
	require.Equal(t, "Project Two", projects[1].Attributes.Name)
	require.Equal(t, 2, fake.Calls("dm.projects"))
}
