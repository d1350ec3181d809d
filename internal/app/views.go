package app

import (
	"encoding/json"
	"time"

	"quorum/api/internal/store"
)

// Wire views. Store rows stay transport-agnostic; these structs fix the JSON
// shape of every response.

type ReleaseView struct {
	ID             string     `json:"id"`
	NamespaceID    string     `json:"namespaceId"`
	Name           string     `json:"name"`
	ApprovalMode   string     `json:"approvalMode"`
	ApprovalState  string     `json:"approvalState"`
	Closed         bool       `json:"closed"`
	PlannedDate    *time.Time `json:"plannedDate,omitempty"`
	CreatedBy      string     `json:"createdBy"`
	LastModifiedBy string     `json:"lastModifiedBy"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func releaseView(release store.Release) ReleaseView {
	return ReleaseView{
		ID:             release.ID,
		NamespaceID:    release.NamespaceID,
		Name:           release.Name,
		ApprovalMode:   string(release.ApprovalMode),
		ApprovalState:  string(release.ApprovalState),
		Closed:         release.Closed,
		PlannedDate:    release.PlannedDate,
		CreatedBy:      release.CreatedBy,
		LastModifiedBy: release.LastModifiedBy,
		CreatedAt:      release.CreatedAt,
		UpdatedAt:      release.UpdatedAt,
	}
}

func releaseViews(releases []store.Release) []ReleaseView {
	views := make([]ReleaseView, 0, len(releases))
	for _, release := range releases {
		views = append(views, releaseView(release))
	}
	return views
}

type ApproverView struct {
	ReleaseID string    `json:"releaseId"`
	UserID    string    `json:"userId"`
	State     string    `json:"state"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func approverViews(approvers []store.Approver) []ApproverView {
	views := make([]ApproverView, 0, len(approvers))
	for _, approver := range approvers {
		views = append(views, ApproverView{
			ReleaseID: approver.ReleaseID,
			UserID:    approver.UserID,
			State:     string(approver.State),
			Comment:   approver.Comment,
			CreatedAt: approver.CreatedAt,
			UpdatedAt: approver.UpdatedAt,
		})
	}
	return views
}

// refBody is the JSON form of a comment reference. The tagged union travels
// flat; toRef rebuilds the typed reference which Validate then checks.
type refBody struct {
	Kind        string `json:"kind"`
	Chapter     string `json:"chapter,omitempty"`
	Requirement string `json:"requirement,omitempty"`
	Check       string `json:"check,omitempty"`
	ParentID    string `json:"parentId,omitempty"`
}

func (b refBody) toRef() store.CommentRef {
	return store.CommentRef{
		Kind:        store.RefKind(b.Kind),
		Chapter:     b.Chapter,
		Requirement: b.Requirement,
		Check:       b.Check,
		ParentID:    b.ParentID,
	}
}

type CommentView struct {
	ID              string     `json:"id"`
	ReleaseID       string     `json:"releaseId"`
	AuthorID        string     `json:"authorId"`
	RawContent      string     `json:"rawContent"`
	RenderedContent string     `json:"renderedContent"`
	Reference       refBody    `json:"reference"`
	Status          string     `json:"status"`
	Todo            bool       `json:"todo"`
	Mentions        []string   `json:"mentions"`
	ResolvedBy      *string    `json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func commentView(comment store.Comment) CommentView {
	mentions := comment.Mentions
	if mentions == nil {
		mentions = []string{}
	}
	return CommentView{
		ID:              comment.ID,
		ReleaseID:       comment.ReleaseID,
		AuthorID:        comment.AuthorID,
		RawContent:      comment.RawContent,
		RenderedContent: comment.RenderedContent,
		Reference: refBody{
			Kind:        string(comment.Reference.Kind),
			Chapter:     comment.Reference.Chapter,
			Requirement: comment.Reference.Requirement,
			Check:       comment.Reference.Check,
			ParentID:    comment.Reference.ParentID,
		},
		Status:     string(comment.Status),
		Todo:       comment.Todo,
		Mentions:   mentions,
		ResolvedBy: comment.ResolvedBy,
		ResolvedAt: comment.ResolvedAt,
		CreatedAt:  comment.CreatedAt,
		UpdatedAt:  comment.UpdatedAt,
	}
}

func commentViews(comments []store.Comment) []CommentView {
	views := make([]CommentView, 0, len(comments))
	for _, comment := range comments {
		views = append(views, commentView(comment))
	}
	return views
}

type TaskView struct {
	ID             string     `json:"id"`
	ReleaseID      string     `json:"releaseId"`
	Chapter        string     `json:"chapter,omitempty"`
	Requirement    string     `json:"requirement,omitempty"`
	Check          string     `json:"check,omitempty"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	Reminder       string     `json:"reminder"`
	Closed         bool       `json:"closed"`
	Assignees      []string   `json:"assignees"`
	CreatedBy      string     `json:"createdBy"`
	LastModifiedBy string     `json:"lastModifiedBy"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func taskView(task store.Task) TaskView {
	assignees := task.Assignees
	if assignees == nil {
		assignees = []string{}
	}
	return TaskView{
		ID:             task.ID,
		ReleaseID:      task.ReleaseID,
		Chapter:        task.Chapter,
		Requirement:    task.Requirement,
		Check:          task.Check,
		Title:          task.Title,
		Description:    task.Description,
		DueDate:        task.DueDate,
		Reminder:       string(task.Reminder),
		Closed:         task.Closed,
		Assignees:      assignees,
		CreatedBy:      task.CreatedBy,
		LastModifiedBy: task.LastModifiedBy,
		CreatedAt:      task.CreatedAt,
		UpdatedAt:      task.UpdatedAt,
	}
}

func taskViews(tasks []store.Task) []TaskView {
	views := make([]TaskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, taskView(task))
	}
	return views
}

type SubscriptionView struct {
	UserID    string    `json:"userId"`
	ReleaseID string    `json:"releaseId"`
	CreatedAt time.Time `json:"createdAt"`
}

func subscriptionView(sub store.Subscription) SubscriptionView {
	return SubscriptionView{UserID: sub.UserID, ReleaseID: sub.ReleaseID, CreatedAt: sub.CreatedAt}
}

func subscriptionViews(subs []store.Subscription) []SubscriptionView {
	views := make([]SubscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, subscriptionView(sub))
	}
	return views
}

type AuditView struct {
	ID          int64           `json:"id"`
	EntityType  string          `json:"entityType"`
	EntityID    string          `json:"entityId"`
	NamespaceID string          `json:"namespaceId"`
	ReleaseID   string          `json:"releaseId"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	Actor       string          `json:"actor"`
	Action      string          `json:"action"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func auditViews(entries []store.AuditEntry) []AuditView {
	views := make([]AuditView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, AuditView{
			ID:          entry.ID,
			EntityType:  entry.EntityType,
			EntityID:    entry.EntityID,
			NamespaceID: entry.NamespaceID,
			ReleaseID:   entry.ReleaseID,
			Before:      entry.Before,
			After:       entry.After,
			Actor:       entry.Actor,
			Action:      string(entry.Action),
			CreatedAt:   entry.CreatedAt,
		})
	}
	return views
}
