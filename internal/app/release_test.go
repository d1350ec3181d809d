package app

import (
	"context"
	"errors"
	"testing"

	"quorum/api/internal/gatestore"
	"quorum/api/internal/mention"
	"quorum/api/internal/notify"
	"quorum/api/internal/store"
)

func TestComputeApprovalState(t *testing.T) {
	approver := func(state store.ApprovalState) store.Approver {
		return store.Approver{State: state}
	}
	tests := []struct {
		name      string
		mode      store.ApprovalMode
		approvers []store.Approver
		want      store.ApprovalState
	}{
		{name: "no approvers mode one", mode: store.ApprovalModeOne, want: store.ApprovalPending},
		{name: "no approvers mode all", mode: store.ApprovalModeAll, want: store.ApprovalPending},
		{
			name:      "one approval suffices in mode one",
			mode:      store.ApprovalModeOne,
			approvers: []store.Approver{approver(store.ApprovalApproved), approver(store.ApprovalPending)},
			want:      store.ApprovalApproved,
		},
		{
			name:      "partial approval stays pending in mode all",
			mode:      store.ApprovalModeAll,
			approvers: []store.Approver{approver(store.ApprovalApproved), approver(store.ApprovalPending)},
			want:      store.ApprovalPending,
		},
		{
			name:      "unanimous approval in mode all",
			mode:      store.ApprovalModeAll,
			approvers: []store.Approver{approver(store.ApprovalApproved), approver(store.ApprovalApproved)},
			want:      store.ApprovalApproved,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := computeApprovalState(tt.mode, tt.approvers); got != tt.want {
				t.Fatalf("computeApprovalState() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQuorumModeOneApproveAndReset(t *testing.T) {
	env := newTestEnv()
	env.addMember("user-a", "a@acme.test", true)
	env.addMember("user-b", "b@acme.test", true)
	env.seedRelease("rel-1", store.ApprovalModeOne, false)
	ctx := context.Background()

	if _, err := env.svc.AddApprover(ctx, "user-owner", "rel-1", "user-a"); err != nil {
		t.Fatalf("AddApprover(user-a) error = %v", err)
	}
	if _, err := env.svc.AddApprover(ctx, "user-owner", "rel-1", "user-b"); err != nil {
		t.Fatalf("AddApprover(user-b) error = %v", err)
	}

	release, err := env.svc.Approve(ctx, "user-a", "rel-1", "looks good")
	if err != nil {
		t.Fatalf("Approve(user-a) error = %v", err)
	}
	if release.ApprovalState != store.ApprovalApproved {
		t.Fatalf("after first approval state = %v, want approved", release.ApprovalState)
	}

	release, err = env.svc.Approve(ctx, "user-b", "rel-1", "")
	if err != nil {
		t.Fatalf("Approve(user-b) error = %v", err)
	}
	if release.ApprovalState != store.ApprovalApproved {
		t.Fatalf("after second approval state = %v, want approved", release.ApprovalState)
	}

	release, err = env.svc.Reset(ctx, "user-a", "rel-1", "found a blocker")
	if err != nil {
		t.Fatalf("Reset(user-a) error = %v", err)
	}
	if release.ApprovalState != store.ApprovalPending {
		t.Fatalf("after reset state = %v, want pending", release.ApprovalState)
	}
}

func TestQuorumModeAllRequiresEveryone(t *testing.T) {
	env := newTestEnv()
	env.addMember("user-a", "a@acme.test", true)
	env.addMember("user-b", "b@acme.test", true)
	env.seedRelease("rel-1", store.ApprovalModeAll, false)
	ctx := context.Background()

	if _, err := env.svc.AddApprover(ctx, "user-owner", "rel-1", "user-a"); err != nil {
		t.Fatalf("AddApprover(user-a) error = %v", err)
	}
	release, err := env.svc.Approve(ctx, "user-a", "rel-1", "")
	if err != nil {
		t.Fatalf("Approve(user-a) error = %v", err)
	}
	if release.ApprovalState != store.ApprovalApproved {
		t.Fatalf("single approver approved, state = %v, want approved", release.ApprovalState)
	}

	// adding a pending approver flips the release back to pending
	release, err = env.svc.AddApprover(ctx, "user-owner", "rel-1", "user-b")
	if err != nil {
		t.Fatalf("AddApprover(user-b) error = %v", err)
	}
	if release.ApprovalState != store.ApprovalPending {
		t.Fatalf("after adding pending approver state = %v, want pending", release.ApprovalState)
	}

	release, err = env.svc.Approve(ctx, "user-b", "rel-1", "")
	if err != nil {
		t.Fatalf("Approve(user-b) error = %v", err)
	}
	if release.ApprovalState != store.ApprovalApproved {
		t.Fatalf("unanimous state = %v, want approved", release.ApprovalState)
	}
}

func TestAddApproverDuplicateConflict(t *testing.T) {
	env := newTestEnv()
	env.addMember("user-a", "a@acme.test", true)
	env.seedRelease("rel-1", store.ApprovalModeOne, false)
	ctx := context.Background()

	if _, err := env.svc.AddApprover(ctx, "user-owner", "rel-1", "user-a"); err != nil {
		t.Fatalf("AddApprover() error = %v", err)
	}
	_, err := env.svc.AddApprover(ctx, "user-owner", "rel-1", "user-a")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "CONFLICT" {
		t.Fatalf("duplicate AddApprover error = %v, want CONFLICT", err)
	}
}

func TestAddApproverNotifiesNewApproverOnly(t *testing.T) {
	env := newTestEnv()
	env.addMember("user-a", "a@acme.test", true)
	env.addMember("user-sub", "sub@acme.test", true)
	env.seedRelease("rel-1", store.ApprovalModeOne, false)
	ctx := context.Background()

	if _, err := env.svc.Subscribe(ctx, "user-sub", "rel-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	env.notifier.sent = nil

	if _, err := env.svc.AddApprover(ctx, "user-owner", "rel-1", "user-a"); err != nil {
		t.Fatalf("AddApprover() error = %v", err)
	}
	if len(env.notifier.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1: %+v", len(env.notifier.sent), env.notifier.sent)
	}
	sent := env.notifier.sent[0]
	if sent.recipientID != "user-a" || sent.payload.Kind != notify.KindApproval {
		t.Fatalf("unexpected notification: %+v", sent)
	}
	if sent.title != notify.TitleApproval {
		t.Fatalf("title = %q", sent.title)
	}
}

func TestApprovalStateChangeNotifiesSubscribersExceptActor(t *testing.T) {
	env := newTestEnv()
	env.addMember("user-a", "a@acme.test", true)
	env.addMember("user-sub", "sub@acme.test", true)
	env.seedRelease("rel-1", store.ApprovalModeOne, false)
	ctx := context.Background()

	if _, err := env.svc.AddApprover(ctx, "user-owner", "rel-1", "user-a"); err != nil {
		t.Fatalf("AddApprover() error = %v", err)
	}
	if _, err := env.svc.Subscribe(ctx, "user-sub", "rel-1"); err != nil {
		t.Fatalf("Subscribe(user-sub) error = %v", err)
	}
	if _, err := env.svc.Subscribe(ctx, "user-a", "rel-1"); err != nil {
		t.Fatalf("Subscribe(user-a) error = %v", err)
	}
	env.notifier.sent = nil

	if _, err := env.svc.Approve(ctx, "user-a", "rel-1", ""); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if len(env.notifier.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1: %+v", len(env.notifier.sent), env.notifier.sent)
	}
	if env.notifier.sent[0].recipientID != "user-sub" || env.notifier.sent[0].payload.Kind != notify.KindApprovalState {
		t.Fatalf("unexpected notification: %+v", env.notifier.sent[0])
	}

	// approving again changes nothing and stays silent
	env.notifier.sent = nil
	if _, err := env.svc.Approve(ctx, "user-a", "rel-1", "still fine"); err != nil {
		t.Fatalf("second Approve() error = %v", err)
	}
	if len(env.notifier.sent) != 0 {
		t.Fatalf("no-op approval sent notifications: %+v", env.notifier.sent)
	}
}

func TestClosedReleaseRejectsMutations(t *testing.T) {
	env := newTestEnv()
	env.addMember("user-a", "a@acme.test", true)
	env.seedRelease("rel-closed", store.ApprovalModeOne, true)
	ctx := context.Background()
	name := "renamed"

	tests := []struct {
		name string
		op   func() error
	}{
		{"update release", func() error {
			_, err := env.svc.UpdateRelease(ctx, "user-a", "rel-closed", UpdateReleaseInput{Name: &name})
			return err
		}},
		{"delete release", func() error {
			return env.svc.DeleteRelease(ctx, "user-a", "rel-closed")
		}},
		{"add approver", func() error {
			_, err := env.svc.AddApprover(ctx, "user-owner", "rel-closed", "user-a")
			return err
		}},
		{"approve", func() error {
			_, err := env.svc.Approve(ctx, "user-a", "rel-closed", "")
			return err
		}},
		{"add comment", func() error {
			_, err := env.svc.AddComment(ctx, "user-a", "rel-closed", AddCommentInput{Content: "hi", Reference: store.ReleaseRef()})
			return err
		}},
		{"add task", func() error {
			_, err := env.svc.AddTask(ctx, "user-a", "rel-closed", AddTaskInput{Title: "t"})
			return err
		}},
		{"subscribe", func() error {
			_, err := env.svc.Subscribe(ctx, "user-a", "rel-closed")
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			var domainErr *DomainError
			if !errors.As(err, &domainErr) || domainErr.Code != "BAD_REQUEST" {
				t.Fatalf("error = %v, want BAD_REQUEST", err)
			}
			if domainErr.Message != "Release has been closed" {
				t.Fatalf("message = %q", domainErr.Message)
			}
		})
	}
	if len(env.store.audit) != 0 {
		t.Fatalf("rejected mutations left audit entries: %+v", env.store.audit)
	}
	if len(env.notifier.sent) != 0 {
		t.Fatalf("rejected mutations sent notifications: %+v", env.notifier.sent)
	}
}

func TestCloseReleaseIsIdempotent(t *testing.T) {
	env := newTestEnv()
	env.seedRelease("rel-1", store.ApprovalModeOne, false)
	ctx := context.Background()

	release, err := env.svc.CloseRelease(ctx, "user-owner", "rel-1")
	if err != nil {
		t.Fatalf("CloseRelease() error = %v", err)
	}
	if !release.Closed {
		t.Fatal("release not closed")
	}
	if len(env.store.audit) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(env.store.audit))
	}

	release, err = env.svc.CloseRelease(ctx, "user-owner", "rel-1")
	if err != nil {
		t.Fatalf("second CloseRelease() error = %v", err)
	}
	if !release.Closed {
		t.Fatal("release reopened")
	}
	if len(env.store.audit) != 1 {
		t.Fatalf("idempotent close appended audit entries: %d", len(env.store.audit))
	}
}

func TestDeleteReleaseAuditsEachTask(t *testing.T) {
	env := newTestEnv()
	env.addMember("user-a", "a@acme.test", true)
	env.seedRelease("rel-1", store.ApprovalModeOne, false)
	ctx := context.Background()

	for _, title := range []string{"first", "second"} {
		if _, err := env.svc.AddTask(ctx, "user-a", "rel-1", AddTaskInput{Title: title}); err != nil {
			t.Fatalf("AddTask(%s) error = %v", title, err)
		}
	}
	if _, err := env.svc.Subscribe(ctx, "user-a", "rel-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	auditBefore := len(env.store.audit)

	if err := env.svc.DeleteRelease(ctx, "user-owner", "rel-1"); err != nil {
		t.Fatalf("DeleteRelease() error = %v", err)
	}
	if len(env.store.tasks) != 0 {
		t.Fatalf("tasks survived deletion: %+v", env.store.tasks)
	}
	if _, ok := env.store.releases["rel-1"]; ok {
		t.Fatal("release survived deletion")
	}

	deletes := 0
	taskDeletes := 0
	for _, entry := range env.store.audit[auditBefore:] {
		if entry.Action != store.AuditDelete {
			t.Fatalf("unexpected audit action %q", entry.Action)
		}
		deletes++
		if entry.EntityType == "task" {
			taskDeletes++
		}
	}
	if taskDeletes != 2 {
		t.Fatalf("task delete entries = %d, want 2", taskDeletes)
	}
	if deletes != 3 {
		t.Fatalf("delete entries = %d, want 3 (2 tasks + release)", deletes)
	}
}

func TestApproveNotAnApprover(t *testing.T) {
	env := newTestEnv()
	env.seedRelease("rel-1", store.ApprovalModeOne, false)

	_, err := env.svc.Approve(context.Background(), "user-x", "rel-1", "")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("error = %v, want NOT_FOUND", err)
	}
}

func TestReleaseNotFound(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.GetRelease(context.Background(), "rel-missing")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("error = %v, want NOT_FOUND", err)
	}
}

// failingGates errors on every call, standing in for an unreachable git
// backend.
type failingGates struct {
	err error
}

func (g *failingGates) EnsureReleaseRepo(string, []byte, string) error { return g.err }

func (g *failingGates) CommitSnapshot(string, []byte, string, string) error { return g.err }

func (g *failingGates) Snapshot(string) ([]byte, error) { return nil, g.err }

func (g *failingGates) History(string) ([]gatestore.Revision, error) { return nil, g.err }

func (g *failingGates) TagClosed(string, string) error { return g.err }

func (g *failingGates) RemoveReleaseRepo(string) error { return g.err }

func TestGateStoreFailureDoesNotFailCommittedWrites(t *testing.T) {
	fs := newFakeStore()
	dir := newFakeDirectory()
	notifier := &fakeNotifier{}
	gates := &failingGates{err: errors.New("git backend unavailable")}
	svc := New(fs, dir, mention.NewResolver(dir), notifier, gates, nil)
	ctx := context.Background()

	release, err := svc.CreateRelease(ctx, "user-owner", CreateReleaseInput{
		NamespaceID:  "ns-1",
		Name:         "Payments 2.4",
		ApprovalMode: store.ApprovalModeOne,
		GateConfig:   []byte("gates: []"),
	})
	if err != nil {
		t.Fatalf("CreateRelease() error = %v", err)
	}
	if _, ok := fs.releases[release.ID]; !ok {
		t.Fatalf("release %s missing from store after create", release.ID)
	}

	closed, err := svc.CloseRelease(ctx, "user-owner", release.ID)
	if err != nil {
		t.Fatalf("CloseRelease() error = %v", err)
	}
	if !closed.Closed {
		t.Fatal("release still open after close")
	}

	if err := svc.DeleteRelease(ctx, "user-owner", release.ID); err != nil {
		t.Fatalf("DeleteRelease() error = %v", err)
	}
	if _, ok := fs.releases[release.ID]; ok {
		t.Fatalf("release %s still in store after delete", release.ID)
	}
}
