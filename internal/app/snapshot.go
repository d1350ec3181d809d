package app

import (
	"context"
	"encoding/json"
	"time"

	"quorum/api/internal/store"
)

// Audit snapshots are explicit per-entity structs captured by value before
// and after a mutation. The audit contract stays type-safe this way; there
// is no reflective deep copy anywhere.

type releaseSnapshot struct {
	ID            string              `json:"id"`
	NamespaceID   string              `json:"namespaceId"`
	Name          string              `json:"name"`
	ApprovalMode  store.ApprovalMode  `json:"approvalMode"`
	ApprovalState store.ApprovalState `json:"approvalState"`
	Closed        bool                `json:"closed"`
	PlannedDate   *time.Time          `json:"plannedDate,omitempty"`
}

func snapshotRelease(release store.Release) json.RawMessage {
	encoded, _ := json.Marshal(releaseSnapshot{
		ID:            release.ID,
		NamespaceID:   release.NamespaceID,
		Name:          release.Name,
		ApprovalMode:  release.ApprovalMode,
		ApprovalState: release.ApprovalState,
		Closed:        release.Closed,
		PlannedDate:   release.PlannedDate,
	})
	return encoded
}

type approverSnapshot struct {
	ReleaseID            string              `json:"releaseId"`
	UserID               string              `json:"userId"`
	State                store.ApprovalState `json:"state"`
	Comment              string              `json:"comment,omitempty"`
	ReleaseApprovalState store.ApprovalState `json:"releaseApprovalState"`
}

func snapshotApprover(approver store.Approver, releaseState store.ApprovalState) json.RawMessage {
	encoded, _ := json.Marshal(approverSnapshot{
		ReleaseID:            approver.ReleaseID,
		UserID:               approver.UserID,
		State:                approver.State,
		Comment:              approver.Comment,
		ReleaseApprovalState: releaseState,
	})
	return encoded
}

type commentSnapshot struct {
	ID              string              `json:"id"`
	ReleaseID       string              `json:"releaseId"`
	AuthorID        string              `json:"authorId"`
	RawContent      string              `json:"rawContent"`
	RenderedContent string              `json:"renderedContent"`
	Reference       refSnapshot         `json:"reference"`
	Status          store.CommentStatus `json:"status"`
	Todo            bool                `json:"todo"`
	Mentions        []string            `json:"mentions"`
	ResolvedBy      *string             `json:"resolvedBy,omitempty"`
}

type refSnapshot struct {
	Kind        store.RefKind `json:"kind"`
	Chapter     string        `json:"chapter,omitempty"`
	Requirement string        `json:"requirement,omitempty"`
	Check       string        `json:"check,omitempty"`
	ParentID    string        `json:"parentId,omitempty"`
}

func snapshotComment(comment store.Comment) json.RawMessage {
	mentions := comment.Mentions
	if mentions == nil {
		mentions = []string{}
	}
	encoded, _ := json.Marshal(commentSnapshot{
		ID:              comment.ID,
		ReleaseID:       comment.ReleaseID,
		AuthorID:        comment.AuthorID,
		RawContent:      comment.RawContent,
		RenderedContent: comment.RenderedContent,
		Reference: refSnapshot{
			Kind:        comment.Reference.Kind,
			Chapter:     comment.Reference.Chapter,
			Requirement: comment.Reference.Requirement,
			Check:       comment.Reference.Check,
			ParentID:    comment.Reference.ParentID,
		},
		Status:     comment.Status,
		Todo:       comment.Todo,
		Mentions:   mentions,
		ResolvedBy: comment.ResolvedBy,
	})
	return encoded
}

type taskSnapshot struct {
	ID          string             `json:"id"`
	ReleaseID   string             `json:"releaseId"`
	Chapter     string             `json:"chapter,omitempty"`
	Requirement string             `json:"requirement,omitempty"`
	Check       string             `json:"check,omitempty"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	DueDate     *time.Time         `json:"dueDate,omitempty"`
	Reminder    store.ReminderMode `json:"reminder"`
	Closed      bool               `json:"closed"`
	Assignees   []string           `json:"assignees"`
}

func snapshotTask(task store.Task) json.RawMessage {
	assignees := task.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	encoded, _ := json.Marshal(taskSnapshot{
		ID:          task.ID,
		ReleaseID:   task.ReleaseID,
		Chapter:     task.Chapter,
		Requirement: task.Requirement,
		Check:       task.Check,
		Title:       task.Title,
		Description: task.Description,
		DueDate:     task.DueDate,
		Reminder:    task.Reminder,
		Closed:      task.Closed,
		Assignees:   assignees,
	})
	return encoded
}

type subscriptionSnapshot struct {
	UserID    string `json:"userId"`
	ReleaseID string `json:"releaseId"`
}

func snapshotSubscription(sub store.Subscription) json.RawMessage {
	encoded, _ := json.Marshal(subscriptionSnapshot{UserID: sub.UserID, ReleaseID: sub.ReleaseID})
	return encoded
}

// appendAudit writes the entry inside the transaction and backfills the
// database-assigned id so that post-commit indexing sees the real key.
func appendAudit(ctx context.Context, tx store.Txn, entry *store.AuditEntry) error {
	id, err := tx.InsertAuditEntry(ctx, *entry)
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

func auditEntry(entityType, entityID string, release store.Release, before, after json.RawMessage, actor string, action store.AuditAction) store.AuditEntry {
	return store.AuditEntry{
		EntityType:  entityType,
		EntityID:    entityID,
		NamespaceID: release.NamespaceID,
		ReleaseID:   release.ID,
		Before:      before,
		After:       after,
		Actor:       actor,
		Action:      action,
	}
}
