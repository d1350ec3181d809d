package app

import (
	"context"
	"database/sql"
	"errors"

	"quorum/api/internal/directory"
	"quorum/api/internal/gatestore"
	"quorum/api/internal/mention"
	"quorum/api/internal/notify"
	"quorum/api/internal/store"
)

type dataStore interface {
	RunInTx(ctx context.Context, fn func(tx store.Txn) error) error
	GetRelease(ctx context.Context, releaseID string) (store.Release, error)
	ListReleases(ctx context.Context, namespaceID string) ([]store.Release, error)
	ListApprovers(ctx context.Context, releaseID string) ([]store.Approver, error)
	ListComments(ctx context.Context, releaseID string) ([]store.Comment, error)
	ListTasks(ctx context.Context, releaseID string) ([]store.Task, error)
	ListSubscriptions(ctx context.Context, releaseID string) ([]store.Subscription, error)
	ListAuditEntries(ctx context.Context, releaseID string) ([]store.AuditEntry, error)
	Ping(ctx context.Context) error
}

type mentionResolver interface {
	Rewrite(ctx context.Context, content string) (mention.Result, error)
}

// gateStore keeps the versioned quality-gate configuration snapshot of each
// release.
type gateStore interface {
	EnsureReleaseRepo(releaseID string, snapshot []byte, author string) error
	CommitSnapshot(releaseID string, snapshot []byte, author, message string) error
	Snapshot(releaseID string) ([]byte, error)
	History(releaseID string) ([]gatestore.Revision, error)
	TagClosed(releaseID, tagName string) error
	RemoveReleaseRepo(releaseID string) error
}

// indexer feeds the search backend after a use case commits. Best effort:
// indexing never participates in the transaction.
type indexer interface {
	IndexComment(comment store.Comment)
	IndexAuditEntry(entry store.AuditEntry)
}

type Service struct {
	store    dataStore
	dir      directory.Gateway
	mentions mentionResolver
	notifier notify.Gateway
	gates    gateStore
	index    indexer
}

func New(dataStore dataStore, dir directory.Gateway, resolver mentionResolver, notifier notify.Gateway, gates gateStore, index indexer) *Service {
	return &Service{
		store:    dataStore,
		dir:      dir,
		mentions: resolver,
		notifier: notifier,
		gates:    gates,
		index:    index,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// checkForClosed is the guard every mutating operation consults before
// touching a release or any of its children.
func checkForClosed(release store.Release) error {
	if release.Closed {
		return errReleaseClosed(release.ID)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func mapNoRows(err error, message string, details any) error {
	if isNoRows(err) {
		return notFound(message, details)
	}
	return err
}

func (s *Service) loadReleaseForUpdate(ctx context.Context, tx store.Txn, releaseID string) (store.Release, error) {
	release, err := tx.GetReleaseForUpdate(ctx, releaseID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Release{}, notFound("Release not found", map[string]any{"releaseId": releaseID})
	}
	if err != nil {
		return store.Release{}, err
	}
	return release, nil
}

func (s *Service) indexCommentAfterCommit(comment store.Comment) {
	if s.index != nil {
		s.index.IndexComment(comment)
	}
}

func (s *Service) indexAuditAfterCommit(entry store.AuditEntry) {
	if s.index != nil {
		s.index.IndexAuditEntry(entry)
	}
}

// requireMembers validates that every id names a current namespace member.
func (s *Service) requireMembers(ctx context.Context, namespaceID string, userIDs []string) error {
	for _, userID := range userIDs {
		member, err := s.dir.ResolveMember(ctx, userID)
		if errors.Is(err, directory.ErrNotFound) {
			return notFound("User not found in namespace", map[string]any{"userId": userID, "namespaceId": namespaceID})
		}
		if err != nil {
			return upstream("directory lookup failed", err)
		}
		if member.Deleted || member.NamespaceID != namespaceID {
			return notFound("User not found in namespace", map[string]any{"userId": userID, "namespaceId": namespaceID})
		}
	}
	return nil
}
