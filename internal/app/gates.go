package app

import (
	"context"

	"quorum/api/internal/gatestore"
	"quorum/api/internal/store"
)

// UpdateGateConfig commits a new quality-gate configuration snapshot for the
// release. The snapshot lives in the gate store, not the database, so only
// the audit entry goes through the transaction.
func (s *Service) UpdateGateConfig(ctx context.Context, actorID, releaseID string, snapshot []byte) error {
	if len(snapshot) == 0 {
		return badRequest("Gate configuration must not be empty", nil)
	}
	release, err := s.GetRelease(ctx, releaseID)
	if err != nil {
		return err
	}
	if err := checkForClosed(release); err != nil {
		return err
	}
	if s.gates == nil {
		return badRequest("Gate configuration storage is not configured", nil)
	}
	if err := s.gates.CommitSnapshot(releaseID, snapshot, actorID, "update gate configuration"); err != nil {
		return upstream("commit gate configuration", err)
	}

	var entry store.AuditEntry
	err = s.store.RunInTx(ctx, func(tx store.Txn) error {
		entry = auditEntry("gateconfig", releaseID, release, nil, nil, actorID, store.AuditUpdate)
		return appendAudit(ctx, tx, &entry)
	})
	if err != nil {
		return err
	}
	s.indexAuditAfterCommit(entry)
	return nil
}

func (s *Service) GetGateConfig(ctx context.Context, releaseID string) ([]byte, error) {
	if _, err := s.GetRelease(ctx, releaseID); err != nil {
		return nil, err
	}
	if s.gates == nil {
		return nil, badRequest("Gate configuration storage is not configured", nil)
	}
	snapshot, err := s.gates.Snapshot(releaseID)
	if err != nil {
		return nil, upstream("read gate configuration", err)
	}
	return snapshot, nil
}

func (s *Service) GateHistory(ctx context.Context, releaseID string) ([]gatestore.Revision, error) {
	if _, err := s.GetRelease(ctx, releaseID); err != nil {
		return nil, err
	}
	if s.gates == nil {
		return nil, badRequest("Gate configuration storage is not configured", nil)
	}
	revisions, err := s.gates.History(releaseID)
	if err != nil {
		return nil, upstream("read gate configuration history", err)
	}
	return revisions, nil
}

// ListAuditTrail returns the full append-only trail of a release, oldest
// first. Entries survive deletion of the entities they describe.
func (s *Service) ListAuditTrail(ctx context.Context, releaseID string) ([]store.AuditEntry, error) {
	if _, err := s.GetRelease(ctx, releaseID); err != nil {
		return nil, err
	}
	return s.store.ListAuditEntries(ctx, releaseID)
}
