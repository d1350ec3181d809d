package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"quorum/api/internal/directory"
	"quorum/api/internal/mention"
	"quorum/api/internal/notify"
	"quorum/api/internal/store"
)

// fakeStore is an in-memory store implementing both the service's dataStore
// and store.Txn. RunInTx snapshots the state up front and restores it when
// the callback fails, matching the rollback contract of the real store.
type fakeStore struct {
	releases  map[string]store.Release
	approvers map[string][]store.Approver
	comments  []store.Comment
	tasks     []store.Task
	subs      map[string][]store.Subscription
	audit     []store.AuditEntry
	clock     time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		releases:  make(map[string]store.Release),
		approvers: make(map[string][]store.Approver),
		subs:      make(map[string][]store.Subscription),
		clock:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) snapshot() *fakeStore {
	copied := newFakeStore()
	copied.clock = f.clock
	for id, release := range f.releases {
		copied.releases[id] = release
	}
	for id, list := range f.approvers {
		copied.approvers[id] = append([]store.Approver(nil), list...)
	}
	for id, list := range f.subs {
		copied.subs[id] = append([]store.Subscription(nil), list...)
	}
	copied.comments = append([]store.Comment(nil), f.comments...)
	copied.tasks = append([]store.Task(nil), f.tasks...)
	copied.audit = append([]store.AuditEntry(nil), f.audit...)
	return copied
}

func (f *fakeStore) restore(from *fakeStore) {
	f.releases = from.releases
	f.approvers = from.approvers
	f.subs = from.subs
	f.comments = from.comments
	f.tasks = from.tasks
	f.audit = from.audit
	f.clock = from.clock
}

func (f *fakeStore) RunInTx(_ context.Context, fn func(tx store.Txn) error) error {
	before := f.snapshot()
	if err := fn(f); err != nil {
		f.restore(before)
		return err
	}
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetRelease(_ context.Context, releaseID string) (store.Release, error) {
	release, ok := f.releases[releaseID]
	if !ok {
		return store.Release{}, sql.ErrNoRows
	}
	return release, nil
}

func (f *fakeStore) GetReleaseForUpdate(ctx context.Context, releaseID string) (store.Release, error) {
	return f.GetRelease(ctx, releaseID)
}

func (f *fakeStore) ListReleases(_ context.Context, namespaceID string) ([]store.Release, error) {
	items := make([]store.Release, 0)
	for _, release := range f.releases {
		if release.NamespaceID == namespaceID {
			items = append(items, release)
		}
	}
	return items, nil
}

func (f *fakeStore) InsertRelease(_ context.Context, release store.Release) error {
	release.CreatedAt = f.tick()
	release.UpdatedAt = release.CreatedAt
	f.releases[release.ID] = release
	return nil
}

func (f *fakeStore) UpdateRelease(_ context.Context, release store.Release) error {
	release.UpdatedAt = f.tick()
	f.releases[release.ID] = release
	return nil
}

func (f *fakeStore) DeleteRelease(_ context.Context, releaseID string) error {
	delete(f.releases, releaseID)
	return nil
}

func (f *fakeStore) GetApprover(_ context.Context, releaseID, userID string) (store.Approver, error) {
	for _, approver := range f.approvers[releaseID] {
		if approver.UserID == userID {
			return approver, nil
		}
	}
	return store.Approver{}, sql.ErrNoRows
}

func (f *fakeStore) ListApprovers(_ context.Context, releaseID string) ([]store.Approver, error) {
	return append([]store.Approver(nil), f.approvers[releaseID]...), nil
}

func (f *fakeStore) InsertApprover(_ context.Context, approver store.Approver) error {
	approver.CreatedAt = f.tick()
	f.approvers[approver.ReleaseID] = append(f.approvers[approver.ReleaseID], approver)
	return nil
}

func (f *fakeStore) UpdateApproverState(_ context.Context, releaseID, userID string, state store.ApprovalState, comment string) error {
	list := f.approvers[releaseID]
	for i := range list {
		if list[i].UserID == userID {
			list[i].State = state
			list[i].Comment = comment
			list[i].UpdatedAt = f.tick()
		}
	}
	return nil
}

func (f *fakeStore) DeleteApproversByRelease(_ context.Context, releaseID string) error {
	delete(f.approvers, releaseID)
	return nil
}

func (f *fakeStore) GetComment(_ context.Context, commentID string) (store.Comment, error) {
	for _, comment := range f.comments {
		if comment.ID == commentID {
			return comment, nil
		}
	}
	return store.Comment{}, sql.ErrNoRows
}

func (f *fakeStore) ListComments(_ context.Context, releaseID string) ([]store.Comment, error) {
	items := make([]store.Comment, 0)
	for _, comment := range f.comments {
		if comment.ReleaseID == releaseID {
			items = append(items, comment)
		}
	}
	return items, nil
}

func (f *fakeStore) InsertComment(_ context.Context, comment store.Comment) error {
	comment.CreatedAt = f.tick()
	f.comments = append(f.comments, comment)
	return nil
}

func (f *fakeStore) UpdateCommentContent(_ context.Context, commentID, rawContent, renderedContent string, mentions []string) error {
	for i := range f.comments {
		if f.comments[i].ID == commentID {
			f.comments[i].RawContent = rawContent
			f.comments[i].RenderedContent = renderedContent
			f.comments[i].Mentions = mentions
			f.comments[i].UpdatedAt = f.tick()
		}
	}
	return nil
}

func (f *fakeStore) ResolveCommentRow(_ context.Context, commentID, resolvedBy string) (bool, error) {
	for i := range f.comments {
		if f.comments[i].ID == commentID && f.comments[i].Status != store.CommentResolved {
			now := f.tick()
			f.comments[i].Status = store.CommentResolved
			f.comments[i].ResolvedBy = &resolvedBy
			f.comments[i].ResolvedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) DeleteCommentsByRelease(_ context.Context, releaseID string) error {
	kept := f.comments[:0]
	for _, comment := range f.comments {
		if comment.ReleaseID != releaseID {
			kept = append(kept, comment)
		}
	}
	f.comments = kept
	return nil
}

func (f *fakeStore) GetTask(_ context.Context, taskID string) (store.Task, error) {
	for _, task := range f.tasks {
		if task.ID == taskID {
			return task, nil
		}
	}
	return store.Task{}, sql.ErrNoRows
}

func (f *fakeStore) ListTasks(_ context.Context, releaseID string) ([]store.Task, error) {
	items := make([]store.Task, 0)
	for _, task := range f.tasks {
		if task.ReleaseID == releaseID {
			items = append(items, task)
		}
	}
	return items, nil
}

func (f *fakeStore) InsertTask(_ context.Context, task store.Task) error {
	task.CreatedAt = f.tick()
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeStore) UpdateTask(_ context.Context, task store.Task) error {
	for i := range f.tasks {
		if f.tasks[i].ID == task.ID {
			task.UpdatedAt = f.tick()
			f.tasks[i] = task
		}
	}
	return nil
}

func (f *fakeStore) DeleteTask(_ context.Context, taskID string) error {
	kept := f.tasks[:0]
	for _, task := range f.tasks {
		if task.ID != taskID {
			kept = append(kept, task)
		}
	}
	f.tasks = kept
	return nil
}

func (f *fakeStore) GetSubscription(_ context.Context, releaseID, userID string) (store.Subscription, error) {
	for _, sub := range f.subs[releaseID] {
		if sub.UserID == userID {
			return sub, nil
		}
	}
	return store.Subscription{}, sql.ErrNoRows
}

func (f *fakeStore) ListSubscriptions(_ context.Context, releaseID string) ([]store.Subscription, error) {
	return append([]store.Subscription(nil), f.subs[releaseID]...), nil
}

func (f *fakeStore) InsertSubscription(_ context.Context, sub store.Subscription) error {
	sub.CreatedAt = f.tick()
	f.subs[sub.ReleaseID] = append(f.subs[sub.ReleaseID], sub)
	return nil
}

func (f *fakeStore) DeleteSubscription(_ context.Context, releaseID, userID string) (bool, error) {
	list := f.subs[releaseID]
	for i, sub := range list {
		if sub.UserID == userID {
			f.subs[releaseID] = append(append([]store.Subscription(nil), list[:i]...), list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) DeleteSubscriptionsByRelease(_ context.Context, releaseID string) error {
	delete(f.subs, releaseID)
	return nil
}

func (f *fakeStore) InsertAuditEntry(_ context.Context, entry store.AuditEntry) (int64, error) {
	entry.ID = int64(len(f.audit) + 1)
	entry.CreatedAt = f.tick()
	f.audit = append(f.audit, entry)
	return entry.ID, nil
}

func (f *fakeStore) ListAuditEntries(_ context.Context, releaseID string) ([]store.AuditEntry, error) {
	items := make([]store.AuditEntry, 0)
	for _, entry := range f.audit {
		if entry.ReleaseID == releaseID {
			items = append(items, entry)
		}
	}
	return items, nil
}

var _ store.Txn = (*fakeStore)(nil)
var _ dataStore = (*fakeStore)(nil)

type fakeDirectory struct {
	members map[string]directory.Member
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{members: make(map[string]directory.Member)}
}

func (f *fakeDirectory) add(member directory.Member) {
	f.members[member.ID] = member
	f.members[member.Email] = member
}

func (f *fakeDirectory) ResolveMember(_ context.Context, idOrEmail string) (directory.Member, error) {
	member, ok := f.members[idOrEmail]
	if !ok {
		return directory.Member{}, directory.ErrNotFound
	}
	return member, nil
}

func (f *fakeDirectory) ListMembers(_ context.Context, namespaceID string) ([]directory.Member, error) {
	items := make([]directory.Member, 0)
	seen := make(map[string]struct{})
	for _, member := range f.members {
		if member.NamespaceID != namespaceID || member.Deleted {
			continue
		}
		if _, ok := seen[member.ID]; ok {
			continue
		}
		seen[member.ID] = struct{}{}
		items = append(items, member)
	}
	return items, nil
}

type sentNotification struct {
	recipientID string
	title       string
	payload     notify.Payload
}

type fakeNotifier struct {
	sent   []sentNotification
	failOn string
}

func (f *fakeNotifier) Send(_ context.Context, recipientID, title string, payload notify.Payload) error {
	if f.failOn != "" && recipientID == f.failOn {
		return errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, sentNotification{recipientID: recipientID, title: title, payload: payload})
	return nil
}

type testEnv struct {
	svc      *Service
	store    *fakeStore
	dir      *fakeDirectory
	notifier *fakeNotifier
}

func newTestEnv() *testEnv {
	fs := newFakeStore()
	dir := newFakeDirectory()
	notifier := &fakeNotifier{}
	svc := New(fs, dir, mention.NewResolver(dir), notifier, nil, nil)
	return &testEnv{svc: svc, store: fs, dir: dir, notifier: notifier}
}

func (e *testEnv) addMember(id, email string, optIn bool) {
	e.dir.add(directory.Member{
		ID:                 id,
		NamespaceID:        "ns-1",
		Email:              email,
		DisplayName:        id,
		EmailNotifications: optIn,
	})
}

func (e *testEnv) addDeletedMember(id, email string) {
	e.dir.add(directory.Member{
		ID:          id,
		NamespaceID: "ns-1",
		Email:       email,
		DisplayName: id,
		Deleted:     true,
	})
}

func (e *testEnv) seedRelease(id string, mode store.ApprovalMode, closed bool) store.Release {
	release := store.Release{
		ID:            id,
		NamespaceID:   "ns-1",
		Name:          "Release " + id,
		ApprovalMode:  mode,
		ApprovalState: store.ApprovalPending,
		Closed:        closed,
		CreatedBy:     "user-owner",
	}
	e.store.releases[id] = release
	return release
}

func (e *testEnv) recipients() []string {
	ids := make([]string, 0, len(e.notifier.sent))
	for _, item := range e.notifier.sent {
		ids = append(ids, item.recipientID)
	}
	return ids
}
