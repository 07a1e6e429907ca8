package sessions_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/jrsteele09/aps-viewer-server/internal/errors"
	"github.com/jrsteele09/aps-viewer-server/sessions"
	"github.com/stretchr/testify/require"
)

func TestTokenPair(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("expired at the boundary", func(t *testing.T) {
		tp := sessions.TokenPair{ExpiresAt: now}
		require.True(t, tp.IsExpired(now))
		require.Equal(t, 0, tp.ExpiresIn(now))
	})

	t.Run("valid", func(t *testing.T) {
		tp := sessions.TokenPair{ExpiresAt: now.Add(3599600 * time.Millisecond)}
		require.False(t, tp.IsExpired(now))
		require.Equal(t, 3600, tp.ExpiresIn(now))
	})

	t.Run("never negative", func(t *testing.T) {
		tp := sessions.TokenPair{ExpiresAt: now.Add(-time.Hour)}
		require.Equal(t, 0, tp.ExpiresIn(now))
	})
}

func TestInMemoryRepo_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := sessions.NewInMemoryRepo()

	_, err := repo.Get(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	require.Error(t, repo.Upsert(ctx, sessions.Session{}))

	s := sessions.Session{ID: "s1", Tokens: sessions.TokenPair{InternalAccessToken: "i1", PublicAccessToken: "p1", RefreshToken: "r1"}}
	require.NoError(t, repo.Upsert(ctx, s))
	require.Equal(t, 1, repo.Count())

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, s, got)

	// mutating the returned value must not leak into the store
	got.Tokens.RefreshToken = "changed"
	again, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "r1", again.Tokens.RefreshToken)

	require.NoError(t, repo.Delete(ctx, "s1"))
	require.NoError(t, repo.Delete(ctx, "s1"))
	require.Zero(t, repo.Count())
}

func TestInMemoryRepo_ConcurrentReadersSeeWholePairs(t *testing.T) {
	ctx := context.Background()
	repo := sessions.NewInMemoryRepo()
	require.NoError(t, repo.Upsert(ctx, sessions.Session{ID: "s1", Tokens: sessions.TokenPair{InternalAccessToken: "i0", PublicAccessToken: "p0", RefreshToken: "r0"}}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 500; i++ {
			n := fmt.Sprint(i)
			_ = repo.Upsert(ctx, sessions.Session{ID: "s1", Tokens: sessions.TokenPair{InternalAccessToken: "i" + n, PublicAccessToken: "p" + n, RefreshToken: "r" + n}})
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s, err := repo.Get(ctx, "s1")
				if err != nil {
					t.Error(err)
					return
				}
				if s.Tokens.InternalAccessToken[1:] != s.Tokens.PublicAccessToken[1:] || s.Tokens.PublicAccessToken[1:] != s.Tokens.RefreshToken[1:] {
					t.Errorf("torn token pair: %+v", s.Tokens)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestInMemoryRepo_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sessions.NowTimeFunc = func() time.Time { return now }
	t.Cleanup(func() { sessions.NowTimeFunc = time.Now })

	repo := sessions.NewInMemoryRepo()
	require.NoError(t, repo.Upsert(ctx, sessions.Session{ID: "old", UpdatedAt: now.Add(-25 * time.Hour)}))
	require.NoError(t, repo.Upsert(ctx, sessions.Session{ID: "new", UpdatedAt: now.Add(-time.Hour)}))

	require.Equal(t, 1, repo.Sweep(24*time.Hour))

	_, err := repo.Get(ctx, "old")
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	_, err = repo.Get(ctx, "new")
	require.NoError(t, err)
}

func TestInMemoryRepo_StartCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := sessions.NewInMemoryRepo()
	require.NoError(t, repo.Upsert(ctx, sessions.Session{ID: "stale", UpdatedAt: time.Now().Add(-time.Hour)}))

	repo.StartCleanup(ctx, 10*time.Millisecond, time.Minute)
	require.Eventually(t, func() bool { return repo.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestInMemoryRepo_UpdateRequiresExistingSession(t *testing.T) {
	ctx := context.Background()
	repo := sessions.NewInMemoryRepo()

	require.ErrorIs(t, repo.Update(ctx, sessions.Session{ID: "s1"}), apperrors.ErrSessionNotFound)
	require.Zero(t, repo.Count())

	require.NoError(t, repo.Upsert(ctx, sessions.Session{ID: "s1", Tokens: sessions.TokenPair{RefreshToken: "r1"}}))
	require.NoError(t, repo.Update(ctx, sessions.Session{ID: "s1", Tokens: sessions.TokenPair{RefreshToken: "r2"}}))
	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "r2", got.Tokens.RefreshToken)

	require.NoError(t, repo.Delete(ctx, "s1"))
	require.ErrorIs(t, repo.Update(ctx, sessions.Session{ID: "s1"}), apperrors.ErrSessionNotFound)
	require.Zero(t, repo.Count())
}
