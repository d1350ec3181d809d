// Package notify defines the notification gateway contract consumed by the
// fan-out engine, and ships the SMTP transport behind it.
package notify

import "context"

// Kind tags the semantic bucket of a notification.
type Kind string

const (
	KindComment       Kind = "Comment"
	KindMention       Kind = "Mention"
	KindApproval      Kind = "Approval"
	KindApprovalState Kind = "ApprovalState"
	KindTaskAssigned  Kind = "TaskAssigned"
)

// Titles per kind. The fan-out engine sends these verbatim.
const (
	TitleComment       = "A new comment was added to your discussion"
	TitleMention       = "You have been mentioned in a comment related to a release approval"
	TitleApproval      = "You have been added as an approver"
	TitleApprovalState = "The approval state of a release you are subscribed to has changed"
	TitleTaskAssigned  = "You have been assigned to a task"
)

// Payload is the typed body of one notification.
type Payload struct {
	Kind Kind           `json:"type"`
	Data map[string]any `json:"data"`
}

// Event is one computed notification: ephemeral, produced and dispatched
// within a single use-case execution, never queued or retried.
type Event struct {
	RecipientID string
	Title       string
	Payload     Payload
}

// Gateway delivers one notification to one recipient. A send failure
// propagates to the caller; the engine does not retry.
type Gateway interface {
	Send(ctx context.Context, recipientID, title string, payload Payload) error
}
