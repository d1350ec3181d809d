package store

import (
	"encoding/json"
	"fmt"
	"time"
)

type ApprovalMode string

const (
	ApprovalModeOne ApprovalMode = "one"
	ApprovalModeAll ApprovalMode = "all"
)

type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
)

type Release struct {
	ID             string
	NamespaceID    string
	Name           string
	ApprovalMode   ApprovalMode
	ApprovalState  ApprovalState
	Closed         bool
	PlannedDate    *time.Time
	CreatedBy      string
	LastModifiedBy string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Approver struct {
	ReleaseID string
	UserID    string
	State     ApprovalState
	Comment   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type RefKind string

const (
	RefRelease RefKind = "release"
	RefCheck   RefKind = "check"
	RefComment RefKind = "comment"
)

// CommentRef is the tagged reference of a comment: the release itself, a
// single check, or a parent comment (reply). The non-matching fields stay
// empty; Validate rejects mixed references.
type CommentRef struct {
	Kind        RefKind
	Chapter     string
	Requirement string
	Check       string
	ParentID    string
}

func ReleaseRef() CommentRef {
	return CommentRef{Kind: RefRelease}
}

func CheckRef(chapter, requirement, check string) CommentRef {
	return CommentRef{Kind: RefCheck, Chapter: chapter, Requirement: requirement, Check: check}
}

func ReplyRef(parentID string) CommentRef {
	return CommentRef{Kind: RefComment, ParentID: parentID}
}

func (r CommentRef) Validate() error {
	switch r.Kind {
	case RefRelease:
		if r.Chapter != "" || r.Requirement != "" || r.Check != "" || r.ParentID != "" {
			return fmt.Errorf("release reference must not carry check or parent fields")
		}
	case RefCheck:
		if r.Chapter == "" || r.Requirement == "" || r.Check == "" {
			return fmt.Errorf("check reference requires chapter, requirement and check")
		}
		if r.ParentID != "" {
			return fmt.Errorf("check reference must not carry a parent comment")
		}
	case RefComment:
		if r.ParentID == "" {
			return fmt.Errorf("comment reference requires a parent comment id")
		}
		if r.Chapter != "" || r.Requirement != "" || r.Check != "" {
			return fmt.Errorf("comment reference must not carry check fields")
		}
	default:
		return fmt.Errorf("unknown reference kind %q", r.Kind)
	}
	return nil
}

type CommentStatus string

const (
	CommentCreated  CommentStatus = "created"
	CommentResolved CommentStatus = "resolved"
)

type Comment struct {
	ID              string
	ReleaseID       string
	AuthorID        string
	RawContent      string
	RenderedContent string
	Reference       CommentRef
	Status          CommentStatus
	Todo            bool
	Mentions        []string
	ResolvedBy      *string
	ResolvedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ReminderMode string

const (
	ReminderDisabled ReminderMode = "disabled"
	ReminderOverdue  ReminderMode = "overdue"
	ReminderAlways   ReminderMode = "always"
)

type Task struct {
	ID             string
	ReleaseID      string
	Chapter        string
	Requirement    string
	Check          string
	Title          string
	Description    string
	DueDate        *time.Time
	Reminder       ReminderMode
	Closed         bool
	Assignees      []string
	CreatedBy      string
	LastModifiedBy string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Subscription struct {
	UserID    string
	ReleaseID string
	CreatedAt time.Time
}

type AuditAction string

const (
	AuditCreate AuditAction = "create"
	AuditUpdate AuditAction = "update"
	AuditDelete AuditAction = "delete"
)

// AuditEntry is the append-only before/after record of one state-changing
// operation. ReleaseID locates all entries belonging to one release trail;
// the entry itself outlives the entities it describes.
type AuditEntry struct {
	ID          int64
	EntityType  string
	EntityID    string
	NamespaceID string
	ReleaseID   string
	Before      json.RawMessage
	After       json.RawMessage
	Actor       string
	Action      AuditAction
	CreatedAt   time.Time
}
