package entitlement

import (
	"context"
	"fmt"
	"time"

	"serena/app/config"

	"github.com/samber/do"
)

// Quota decides whether a conversational turn is permitted for a user.
// Subscription status is checked before free-tier counting; an expired
// subscription is cleared and falls through to the free tier in the same
// store write. Charging is split off into CommitTurn so a turn whose
// completion or delivery failed is never counted.
type Quota struct {
	store     Store
	freeLimit int
}

func New(di *do.Injector) (*Quota, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewQuota(do.MustInvoke[Store](di), cfg.Quota.FreeLimit), nil
}

func NewQuota(store Store, freeLimit int) *Quota {
	return &Quota{
		store:     store,
		freeLimit: freeLimit,
	}
}

func (q *Quota) EvaluateTurn(ctx context.Context, userID string, now time.Time) (Decision, error) {
	var decision Decision

	_, err := q.store.Update(ctx, userID, func(rec *UserRecord) {
		if rec.Subscription != nil {
			if rec.Subscription.ActiveAt(now) {
				decision = Decision{Allowed: true, Tier: TierSubscriber}
				rec.LastMessageAt = now
				return
			}

			// expired: written back cleared so subsequent reads agree
			rec.Subscription = nil
		}

		if rec.FreeUsed < q.freeLimit {
			decision = Decision{Allowed: true, Tier: TierFree}
			rec.LastMessageAt = now
			return
		}

		decision = Decision{Allowed: false, Tier: TierFree}
	})
	if err != nil {
		return Decision{}, fmt.Errorf("store.Update: %w", err)
	}

	return decision, nil
}

// CommitTurn charges one free-tier turn. Called after the reply has been
// delivered; subscribers are never charged.
func (q *Quota) CommitTurn(ctx context.Context, userID string, now time.Time) error {
	_, err := q.store.Update(ctx, userID, func(rec *UserRecord) {
		if rec.Subscription != nil {
			if rec.Subscription.ActiveAt(now) {
				return
			}

			rec.Subscription = nil
		}

		rec.FreeUsed++
	})
	if err != nil {
		return fmt.Errorf("store.Update: %w", err)
	}

	return nil
}

// Grant activates a subscription window, replacing any existing one.
func (q *Quota) Grant(ctx context.Context, userID string, startedAt time.Time, durationDays int) error {
	_, err := q.store.Update(ctx, userID, func(rec *UserRecord) {
		rec.Subscription = &Subscription{
			StartedAt:    startedAt,
			DurationDays: durationDays,
		}
	})
	if err != nil {
		return fmt.Errorf("store.Update: %w", err)
	}

	return nil
}

// Register makes sure a record exists for the user, creating the default
// free-tier one on first contact.
func (q *Quota) Register(ctx context.Context, userID string) (UserRecord, error) {
	rec, err := q.store.Update(ctx, userID, func(*UserRecord) {})
	if err != nil {
		return UserRecord{}, fmt.Errorf("store.Update: %w", err)
	}

	return rec, nil
}

func (q *Quota) Record(ctx context.Context, userID string) (UserRecord, bool, error) {
	rec, ok, err := q.store.Get(ctx, userID)
	if err != nil {
		return UserRecord{}, false, fmt.Errorf("store.Get: %w", err)
	}

	return rec, ok, nil
}

func (q *Quota) FreeLimit() int {
	return q.freeLimit
}
