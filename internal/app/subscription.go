package app

import (
	"context"

	"quorum/api/internal/store"
)

func (s *Service) Subscribe(ctx context.Context, actorID, releaseID string) (store.Subscription, error) {
	var created store.Subscription
	var entry store.AuditEntry
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		release, err := s.loadReleaseForUpdate(ctx, tx, releaseID)
		if err != nil {
			return err
		}
		if err := checkForClosed(release); err != nil {
			return err
		}
		if _, err := tx.GetSubscription(ctx, releaseID, actorID); err == nil {
			return conflict("User is already subscribed", map[string]any{"releaseId": releaseID, "userId": actorID})
		} else if !isNoRows(err) {
			return err
		}

		sub := store.Subscription{UserID: actorID, ReleaseID: releaseID}
		if err := tx.InsertSubscription(ctx, sub); err != nil {
			return err
		}
		entry = auditEntry("subscription", actorID, release, nil, snapshotSubscription(sub), actorID, store.AuditCreate)
		if err := appendAudit(ctx, tx, &entry); err != nil {
			return err
		}
		created = sub
		return nil
	})
	if err != nil {
		return store.Subscription{}, err
	}
	s.indexAuditAfterCommit(entry)
	return created, nil
}

// Unsubscribe works on closed releases too: leaving a notification list is
// not a mutation of the release itself.
func (s *Service) Unsubscribe(ctx context.Context, actorID, releaseID string) error {
	var entry store.AuditEntry
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		release, err := s.loadReleaseForUpdate(ctx, tx, releaseID)
		if err != nil {
			return err
		}
		removed, err := tx.DeleteSubscription(ctx, releaseID, actorID)
		if err != nil {
			return err
		}
		if !removed {
			return notFound("Subscription not found", map[string]any{"releaseId": releaseID, "userId": actorID})
		}
		sub := store.Subscription{UserID: actorID, ReleaseID: releaseID}
		entry = auditEntry("subscription", actorID, release, snapshotSubscription(sub), nil, actorID, store.AuditDelete)
		return appendAudit(ctx, tx, &entry)
	})
	if err != nil {
		return err
	}
	s.indexAuditAfterCommit(entry)
	return nil
}

func (s *Service) ListSubscriptions(ctx context.Context, releaseID string) ([]store.Subscription, error) {
	if _, err := s.GetRelease(ctx, releaseID); err != nil {
		return nil, err
	}
	return s.store.ListSubscriptions(ctx, releaseID)
}
