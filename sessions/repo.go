package sessions

import "context"

// Repo stores sessions by id. Implementations must be safe for concurrent use
// and must never expose a partially written TokenPair.
type Repo interface {
	Upsert(ctx context.Context, session Session) error
	// Update replaces an existing session and returns ErrSessionNotFound when
	// it has been deleted.
	Update(ctx context.Context, session Session) error
	Get(ctx context.Context, sessionID string) (Session, error)
	Delete(ctx context.Context, sessionID string) error
	Count() int
}
