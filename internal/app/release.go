package app

import (
	"context"
	"log"
	"time"

	"quorum/api/internal/notify"
	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

type CreateReleaseInput struct {
	NamespaceID  string
	Name         string
	ApprovalMode store.ApprovalMode
	PlannedDate  *time.Time
	GateConfig   []byte
}

type UpdateReleaseInput struct {
	Name         *string
	ApprovalMode *store.ApprovalMode
	PlannedDate  *time.Time
	ClearDate    bool
}

func validApprovalMode(mode store.ApprovalMode) bool {
	return mode == store.ApprovalModeOne || mode == store.ApprovalModeAll
}

// computeApprovalState derives the release approval state from the approver
// set. Mode one: a single approval suffices. Mode all: every approver must
// have approved and at least one approver must exist.
func computeApprovalState(mode store.ApprovalMode, approvers []store.Approver) store.ApprovalState {
	if len(approvers) == 0 {
		return store.ApprovalPending
	}
	approved := 0
	for _, approver := range approvers {
		if approver.State == store.ApprovalApproved {
			approved++
		}
	}
	if mode == store.ApprovalModeOne {
		if approved >= 1 {
			return store.ApprovalApproved
		}
		return store.ApprovalPending
	}
	if approved == len(approvers) {
		return store.ApprovalApproved
	}
	return store.ApprovalPending
}

func (s *Service) CreateRelease(ctx context.Context, actorID string, input CreateReleaseInput) (store.Release, error) {
	if input.NamespaceID == "" || input.Name == "" {
		return store.Release{}, badRequest("Namespace and name are required", nil)
	}
	if !validApprovalMode(input.ApprovalMode) {
		return store.Release{}, badRequest("Approval mode must be one or all", map[string]any{"approvalMode": input.ApprovalMode})
	}

	release := store.Release{
		ID:             util.NewID("rel"),
		NamespaceID:    input.NamespaceID,
		Name:           input.Name,
		ApprovalMode:   input.ApprovalMode,
		ApprovalState:  store.ApprovalPending,
		PlannedDate:    input.PlannedDate,
		CreatedBy:      actorID,
		LastModifiedBy: actorID,
	}

	var entry store.AuditEntry
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		if err := tx.InsertRelease(ctx, release); err != nil {
			return err
		}
		entry = auditEntry("release", release.ID, release, nil, snapshotRelease(release), actorID, store.AuditCreate)
		return appendAudit(ctx, tx, &entry)
	})
	if err != nil {
		return store.Release{}, err
	}

	if s.gates != nil {
		// The release row is already committed; a gate repository failure
		// is logged rather than surfaced as a failed create.
		if err := s.gates.EnsureReleaseRepo(release.ID, input.GateConfig, actorID); err != nil {
			log.Printf("gates: store gate configuration for %s: %v", release.ID, err)
		}
	}
	s.indexAuditAfterCommit(entry)
	return release, nil
}

func (s *Service) GetRelease(ctx context.Context, releaseID string) (store.Release, error) {
	release, err := s.store.GetRelease(ctx, releaseID)
	if err != nil {
		return store.Release{}, mapNoRows(err, "Release not found", map[string]any{"releaseId": releaseID})
	}
	return release, nil
}

func (s *Service) ListReleases(ctx context.Context, namespaceID string) ([]store.Release, error) {
	return s.store.ListReleases(ctx, namespaceID)
}

func (s *Service) ListApprovers(ctx context.Context, releaseID string) ([]store.Approver, error) {
	if _, err := s.GetRelease(ctx, releaseID); err != nil {
		return nil, err
	}
	return s.store.ListApprovers(ctx, releaseID)
}

func (s *Service) UpdateRelease(ctx context.Context, actorID, releaseID string, input UpdateReleaseInput) (store.Release, error) {
	if input.Name == nil && input.ApprovalMode == nil && input.PlannedDate == nil && !input.ClearDate {
		return store.Release{}, badRequest("At least one field must be provided", nil)
	}
	if input.ApprovalMode != nil && !validApprovalMode(*input.ApprovalMode) {
		return store.Release{}, badRequest("Approval mode must be one or all", map[string]any{"approvalMode": *input.ApprovalMode})
	}

	var updated store.Release
	var entry store.AuditEntry
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		release, err := s.loadReleaseForUpdate(ctx, tx, releaseID)
		if err != nil {
			return err
		}
		if err := checkForClosed(release); err != nil {
			return err
		}

		before := snapshotRelease(release)
		if input.Name != nil {
			if *input.Name == "" {
				return badRequest("Name must not be empty", nil)
			}
			release.Name = *input.Name
		}
		if input.PlannedDate != nil {
			release.PlannedDate = input.PlannedDate
		}
		if input.ClearDate {
			release.PlannedDate = nil
		}
		if input.ApprovalMode != nil && *input.ApprovalMode != release.ApprovalMode {
			release.ApprovalMode = *input.ApprovalMode
			approvers, err := tx.ListApprovers(ctx, releaseID)
			if err != nil {
				return err
			}
			release.ApprovalState = computeApprovalState(release.ApprovalMode, approvers)
		}
		release.LastModifiedBy = actorID

		if err := tx.UpdateRelease(ctx, release); err != nil {
			return err
		}
		entry = auditEntry("release", release.ID, release, before, snapshotRelease(release), actorID, store.AuditUpdate)
		if err := appendAudit(ctx, tx, &entry); err != nil {
			return err
		}
		updated = release
		return nil
	})
	if err != nil {
		return store.Release{}, err
	}
	s.indexAuditAfterCommit(entry)
	return updated, nil
}

// CloseRelease flips the one-way closed guard. Closing an already closed
// release is a no-op that neither fails nor appends an audit entry.
func (s *Service) CloseRelease(ctx context.Context, actorID, releaseID string) (store.Release, error) {
	var updated store.Release
	var entry store.AuditEntry
	alreadyClosed := false
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		release, err := s.loadReleaseForUpdate(ctx, tx, releaseID)
		if err != nil {
			return err
		}
		if release.Closed {
			alreadyClosed = true
			updated = release
			return nil
		}

		before := snapshotRelease(release)
		release.Closed = true
		release.LastModifiedBy = actorID
		if err := tx.UpdateRelease(ctx, release); err != nil {
			return err
		}
		entry = auditEntry("release", release.ID, release, before, snapshotRelease(release), actorID, store.AuditUpdate)
		if err := appendAudit(ctx, tx, &entry); err != nil {
			return err
		}
		updated = release
		return nil
	})
	if err != nil {
		return store.Release{}, err
	}
	if alreadyClosed {
		return updated, nil
	}

	if s.gates != nil {
		tag := "closed-" + time.Now().UTC().Format("2006-01-02")
		if err := s.gates.TagClosed(releaseID, tag); err != nil {
			log.Printf("gates: tag gate configuration for %s: %v", releaseID, err)
		}
	}
	s.indexAuditAfterCommit(entry)
	return updated, nil
}

// DeleteRelease removes the release and all of its children. Tasks are
// audited individually; approvers and subscriptions go with the release
// entry itself.
func (s *Service) DeleteRelease(ctx context.Context, actorID, releaseID string) error {
	var entries []store.AuditEntry
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		release, err := s.loadReleaseForUpdate(ctx, tx, releaseID)
		if err != nil {
			return err
		}
		if err := checkForClosed(release); err != nil {
			return err
		}

		tasks, err := tx.ListTasks(ctx, releaseID)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if err := tx.DeleteTask(ctx, task.ID); err != nil {
				return err
			}
			entry := auditEntry("task", task.ID, release, snapshotTask(task), nil, actorID, store.AuditDelete)
			if err := appendAudit(ctx, tx, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}

		if err := tx.DeleteCommentsByRelease(ctx, releaseID); err != nil {
			return err
		}
		if err := tx.DeleteApproversByRelease(ctx, releaseID); err != nil {
			return err
		}
		if err := tx.DeleteSubscriptionsByRelease(ctx, releaseID); err != nil {
			return err
		}
		if err := tx.DeleteRelease(ctx, releaseID); err != nil {
			return err
		}
		entry := auditEntry("release", release.ID, release, snapshotRelease(release), nil, actorID, store.AuditDelete)
		if err := appendAudit(ctx, tx, &entry); err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return err
	}

	if s.gates != nil {
		if err := s.gates.RemoveReleaseRepo(releaseID); err != nil {
			log.Printf("gates: remove gate configuration for %s: %v", releaseID, err)
		}
	}
	for _, entry := range entries {
		s.indexAuditAfterCommit(entry)
	}
	return nil
}

// AddApprover registers a new approver and notifies them. The new approver
// is notified even when they also subscribe to the release; the Approval
// channel is not deduplicated against anything.
func (s *Service) AddApprover(ctx context.Context, actorID, releaseID, userID string) (store.Release, error) {
	var updated store.Release
	var entry store.AuditEntry
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		release, err := s.loadReleaseForUpdate(ctx, tx, releaseID)
		if err != nil {
			return err
		}
		if err := checkForClosed(release); err != nil {
			return err
		}
		if err := s.requireMembers(ctx, release.NamespaceID, []string{userID}); err != nil {
			return err
		}
		if _, err := tx.GetApprover(ctx, releaseID, userID); err == nil {
			return conflict("User is already an approver", map[string]any{"releaseId": releaseID, "userId": userID})
		} else if !isNoRows(err) {
			return err
		}

		approver := store.Approver{ReleaseID: releaseID, UserID: userID, State: store.ApprovalPending}
		if err := tx.InsertApprover(ctx, approver); err != nil {
			return err
		}

		approvers, err := tx.ListApprovers(ctx, releaseID)
		if err != nil {
			return err
		}
		if state := computeApprovalState(release.ApprovalMode, approvers); state != release.ApprovalState {
			release.ApprovalState = state
			release.LastModifiedBy = actorID
			if err := tx.UpdateRelease(ctx, release); err != nil {
				return err
			}
		}

		entry = auditEntry("approver", userID, release, nil, snapshotApprover(approver, release.ApprovalState), actorID, store.AuditCreate)
		if err := appendAudit(ctx, tx, &entry); err != nil {
			return err
		}

		data := map[string]any{"releaseId": releaseID, "releaseName": release.Name}
		if err := s.notifyEach(ctx, actorID, []string{userID}, notify.KindApproval, notify.TitleApproval, data); err != nil {
			return err
		}
		updated = release
		return nil
	})
	if err != nil {
		return store.Release{}, err
	}
	s.indexAuditAfterCommit(entry)
	return updated, nil
}

// Approve records the acting approver's approval and recomputes the quorum.
func (s *Service) Approve(ctx context.Context, actorID, releaseID, comment string) (store.Release, error) {
	return s.setApproval(ctx, actorID, releaseID, comment, store.ApprovalApproved)
}

// Reset withdraws the acting approver's approval. Any reset forces the
// release back to pending regardless of the remaining approvals.
func (s *Service) Reset(ctx context.Context, actorID, releaseID, comment string) (store.Release, error) {
	return s.setApproval(ctx, actorID, releaseID, comment, store.ApprovalPending)
}

func (s *Service) setApproval(ctx context.Context, actorID, releaseID, comment string, state store.ApprovalState) (store.Release, error) {
	var updated store.Release
	var entry store.AuditEntry
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		release, err := s.loadReleaseForUpdate(ctx, tx, releaseID)
		if err != nil {
			return err
		}
		if err := checkForClosed(release); err != nil {
			return err
		}

		approver, err := tx.GetApprover(ctx, releaseID, actorID)
		if isNoRows(err) {
			return notFound("User is not an approver of this release", map[string]any{"releaseId": releaseID, "userId": actorID})
		}
		if err != nil {
			return err
		}

		before := snapshotApprover(approver, release.ApprovalState)
		approver.State = state
		approver.Comment = comment
		if err := tx.UpdateApproverState(ctx, releaseID, actorID, state, comment); err != nil {
			return err
		}

		approvers, err := tx.ListApprovers(ctx, releaseID)
		if err != nil {
			return err
		}
		next := computeApprovalState(release.ApprovalMode, approvers)
		if state == store.ApprovalPending {
			// A reset forces the release back to pending even when the
			// quorum rule still holds over the remaining approvals.
			next = store.ApprovalPending
		}
		changed := next != release.ApprovalState
		if changed {
			release.ApprovalState = next
			release.LastModifiedBy = actorID
			if err := tx.UpdateRelease(ctx, release); err != nil {
				return err
			}
		}

		entry = auditEntry("approver", actorID, release, before, snapshotApprover(approver, release.ApprovalState), actorID, store.AuditUpdate)
		if err := appendAudit(ctx, tx, &entry); err != nil {
			return err
		}

		if changed {
			subs, err := tx.ListSubscriptions(ctx, releaseID)
			if err != nil {
				return err
			}
			data := map[string]any{
				"releaseId":     releaseID,
				"releaseName":   release.Name,
				"approvalState": release.ApprovalState,
			}
			if err := s.notifyEach(ctx, actorID, subscriberIDs(subs), notify.KindApprovalState, notify.TitleApprovalState, data); err != nil {
				return err
			}
		}
		updated = release
		return nil
	})
	if err != nil {
		return store.Release{}, err
	}
	s.indexAuditAfterCommit(entry)
	return updated, nil
}
