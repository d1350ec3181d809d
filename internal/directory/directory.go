// Package directory resolves namespace members for mention resolution and
// notification fan-out. The gateway is injected everywhere it is needed;
// nothing in the engine reaches for a shared lookup service directly.
package directory

import (
	"context"
	"errors"
)

// Member is one namespace member. Deleted marks a member that existed
// historically but has since been removed; such members resolve but can no
// longer be notified or mentioned.
type Member struct {
	ID                 string `json:"id"`
	NamespaceID        string `json:"namespaceId"`
	Email              string `json:"email"`
	DisplayName        string `json:"displayName"`
	EmailNotifications bool   `json:"emailNotifications"`
	Deleted            bool   `json:"deleted"`
}

// ErrNotFound means no current or historical member matches.
var ErrNotFound = errors.New("member not found")

type Gateway interface {
	// ResolveMember matches by member id or canonical email.
	ResolveMember(ctx context.Context, idOrEmail string) (Member, error)
	ListMembers(ctx context.Context, namespaceID string) ([]Member, error)
}
