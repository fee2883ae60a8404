package entitlement

import "context"

// Store persists user entitlement records. Update applies the mutation to
// the current (or default-initialized) record as one atomic per-user
// read-modify-write; concurrent updates for the same user are serialized by
// the implementation. Any error is a storage failure and must be treated as
// retryable, never as an implicit allow or deny.
type Store interface {
	Get(ctx context.Context, userID string) (UserRecord, bool, error)
	Update(ctx context.Context, userID string, mutate func(*UserRecord)) (UserRecord, error)
}
