package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"quorum/api/internal/mention"
	"quorum/api/internal/notify"
	"quorum/api/internal/store"
)

func TestCommentFanoutOrderingAndOptOut(t *testing.T) {
	env := newTestEnv()
	env.addMember("user0", "u0@acme.test", true)
	env.addMember("user1", "u1@acme.test", false)
	env.addMember("user2", "u2@acme.test", true)
	env.addMember("user3", "u3@acme.test", true)
	env.addMember("user5", "u5@acme.test", true)
	env.seedRelease("rel-1", store.ApprovalModeOne, false)
	ctx := context.Background()

	if _, err := env.svc.Subscribe(ctx, "user5", "rel-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	env.notifier.sent = nil

	comment, err := env.svc.AddComment(ctx, "user0", "rel-1", AddCommentInput{
		Content:   "please review @user1 @user2 @user3",
		Reference: store.ReleaseRef(),
	})
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if !strings.Contains(comment.RenderedContent, "@u2@acme.test") {
		t.Fatalf("mentions not normalized: %q", comment.RenderedContent)
	}

	want := []sentNotification{
		{recipientID: "user5", title: notify.TitleComment},
		{recipientID: "user2", title: notify.TitleMention},
		{recipientID: "user3", title: notify.TitleMention},
	}
	if len(env.notifier.sent) != len(want) {
		t.Fatalf("sent %d notifications, want %d: %+v", len(env.notifier.sent), len(want), env.notifier.sent)
	}
	for i, sent := range env.notifier.sent {
		if sent.recipientID != want[i].recipientID || sent.title != want[i].title {
			t.Fatalf("notification %d = {%s %q}, want {%s %q}", i, sent.recipientID, sent.title, want[i].recipientID, want[i].title)
		}
	}
}

func TestMentionedParticipantGetsOnlyMention(t *testing.T) {
	env := newTestEnv()
	env.addMember("user-a", "a@acme.test", true)
	env.addMember("user-b", "b@acme.test", true)
	env.seedRelease("rel-1", store.ApprovalModeOne, false)
	ctx := context.Background()

	root, err := env.svc.AddComment(ctx, "user-a", "rel-1", AddCommentInput{
		Content:   "opening the discussion",
		Reference: store.ReleaseRef(),
	})
	if err != nil {
		t.Fatalf("AddComment(root) error = %v", err)
	}
	env.notifier.sent = nil

	if _, err := env.svc.AddComment(ctx, "user-b", "rel-1", AddCommentInput{
		Content:   "agreed @user-a",
		Reference: store.ReplyRef(root.ID),
	}); err != nil {
		t.Fatalf("AddComment(reply) error = %v", err)
	}

	if len(env.notifier.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1: %+v", len(env.notifier.sent), env.notifier.sent)
	}
	sent := env.notifier.sent[0]
	if sent.recipientID != "user-a" || sent.payload.Kind != notify.KindMention {
		t.Fatalf("notification = {%s %v}, want user-a Mention", sent.recipientID, sent.payload.Kind)
	}
}

func TestReplyNotifiesParentChainAuthors(t *testing.T) {
	env := newTestEnv()
	env.addMember("user-a", "a@acme.test", true)
	env.addMember("user-b", "b@acme.test", true)
	env.addMember("user-c", "c@acme.test", true)
	env.seedRelease("rel-1", store.ApprovalModeOne, false)
	ctx := context.Background()

	root, err := env.svc.AddComment(ctx, "user-a", "rel-1", AddCommentInput{
		Content:   "root",
		Reference: store.CheckRef("security", "req-1", "check-1"),
	})
	if err != nil {
		t.Fatalf("AddComment(root) error = %v", err)
	}
	reply, err := env.svc.AddComment(ctx, "user-b", "rel-1", AddCommentInput{
		Content:   "first reply",
		Reference: store.ReplyRef(root.ID),
	})
	if err != nil {
		t.Fatalf("AddComment(reply) error = %v", err)
	}
	env.notifier.sent = nil

	if _, err := env.svc.AddComment(ctx, "user-c", "rel-1", AddCommentInput{
		Content:   "second reply",
		Reference: store.ReplyRef(reply.ID),
	}); err != nil {
		t.Fatalf("AddComment(second reply) error = %v", err)
	}

	got := env.recipients()
	if len(got) != 2 || got[0] != "user-a" || got[1] != "user-b" {
		t.Fatalf("recipients = %v, want [user-a user-b]", got)
	}
	for _, sent := range env.notifier.sent {
		if sent.payload.Kind != notify.KindComment {
			t.Fatalf("kind = %v, want Comment", sent.payload.Kind)
		}
	}
}

func TestEditNotifiesOnlyNewlyIntroducedMentions(t *testing.T) {
	env := newTestEnv()
	env.addMember("user-a", "a@acme.test", true)
	env.addMember("user-b", "b@acme.test", true)
	env.addMember("user-c", "c@acme.test", true)
	env.seedRelease("rel-1", store.ApprovalModeOne, false)
	ctx := context.Background()

	comment, err := env.svc.AddComment(ctx, "user-a", "rel-1", AddCommentInput{
		Content:   "ping @user-b",
		Reference: store.ReleaseRef(),
	})
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	env.notifier.sent = nil

	updated, err := env.svc.UpdateComment(ctx, "user-a", comment.ID, "ping @user-b and also @user-c")
	if err != nil {
		t.Fatalf("UpdateComment() error = %v", err)
	}
	if len(updated.Mentions) != 2 {
		t.Fatalf("mentions = %v, want both ids", updated.Mentions)
	}

	got := env.recipients()
	if len(got) != 1 || got[0] != "user-c" {
		t.Fatalf("recipients = %v, want [user-c]", got)
	}
	if env.notifier.sent[0].payload.Kind != notify.KindMention {
		t.Fatalf("kind = %v, want Mention", env.notifier.sent[0].payload.Kind)
	}
}

func TestDeletedMemberMentionBecomesToken(t *testing.T) {
	env := newTestEnv()
	env.addMember("user-a", "a@acme.test", true)
	env.addDeletedMember("user-ghost", "ghost@acme.test")
	env.seedRelease("rel-1", store.ApprovalModeOne, false)
	ctx := context.Background()

	comment, err := env.svc.AddComment(ctx, "user-a", "rel-1", AddCommentInput{
		Content:   "this was owned by @user-ghost",
		Reference: store.ReleaseRef(),
	})
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if !strings.Contains(comment.RenderedContent, mention.DeletedUserToken) {
		t.Fatalf("rendered = %q, want %s token", comment.RenderedContent, mention.DeletedUserToken)
	}
	if len(comment.Mentions) != 0 {
		t.Fatalf("mentions = %v, want empty", comment.Mentions)
	}
	if len(env.notifier.sent) != 0 {
		t.Fatalf("deleted member notified: %+v", env.notifier.sent)
	}
}

func TestNotificationFailureRollsBackComment(t *testing.T) {
	env := newTestEnv()
	env.addMember("user-a", "a@acme.test", true)
	env.addMember("user-b", "b@acme.test", true)
	env.seedRelease("rel-1", store.ApprovalModeOne, false)
	env.notifier.failOn = "user-b"
	ctx := context.Background()

	_, err := env.svc.AddComment(ctx, "user-a", "rel-1", AddCommentInput{
		Content:   "ping @user-b",
		Reference: store.ReleaseRef(),
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "UPSTREAM_ERROR" {
		t.Fatalf("error = %v, want UPSTREAM_ERROR", err)
	}
	if len(env.store.comments) != 0 {
		t.Fatalf("comment retained after rollback: %+v", env.store.comments)
	}
	if len(env.store.audit) != 0 {
		t.Fatalf("audit retained after rollback: %+v", env.store.audit)
	}
}

func TestResolveCommentRules(t *testing.T) {
	env := newTestEnv()
	env.addMember("user-a", "a@acme.test", true)
	env.addMember("user-b", "b@acme.test", true)
	env.seedRelease("rel-1", store.ApprovalModeOne, false)
	ctx := context.Background()

	root, err := env.svc.AddComment(ctx, "user-a", "rel-1", AddCommentInput{
		Content:   "root",
		Reference: store.ReleaseRef(),
	})
	if err != nil {
		t.Fatalf("AddComment(root) error = %v", err)
	}
	reply, err := env.svc.AddComment(ctx, "user-b", "rel-1", AddCommentInput{
		Content:   "reply",
		Reference: store.ReplyRef(root.ID),
	})
	if err != nil {
		t.Fatalf("AddComment(reply) error = %v", err)
	}

	var domainErr *DomainError
	if _, err := env.svc.ResolveComment(ctx, "user-a", reply.ID); !errors.As(err, &domainErr) || domainErr.Code != "BAD_REQUEST" {
		t.Fatalf("resolving a reply: error = %v, want BAD_REQUEST", err)
	}
	if _, err := env.svc.ResolveComment(ctx, "user-a", "com-missing"); !errors.As(err, &domainErr) || domainErr.Code != "BAD_REQUEST" {
		t.Fatalf("resolving missing comment: error = %v, want BAD_REQUEST", err)
	}

	resolved, err := env.svc.ResolveComment(ctx, "user-b", root.ID)
	if err != nil {
		t.Fatalf("ResolveComment() error = %v", err)
	}
	if resolved.Status != store.CommentResolved || resolved.ResolvedBy == nil || *resolved.ResolvedBy != "user-b" {
		t.Fatalf("unexpected resolved comment: %+v", resolved)
	}

	if _, err := env.svc.ResolveComment(ctx, "user-a", root.ID); !errors.As(err, &domainErr) || domainErr.Code != "BAD_REQUEST" {
		t.Fatalf("resolving twice: error = %v, want BAD_REQUEST", err)
	}
}

func TestUpdateCommentAuthorOnly(t *testing.T) {
	env := newTestEnv()
	env.addMember("user-a", "a@acme.test", true)
	env.seedRelease("rel-1", store.ApprovalModeOne, false)
	ctx := context.Background()

	comment, err := env.svc.AddComment(ctx, "user-a", "rel-1", AddCommentInput{
		Content:   "mine",
		Reference: store.ReleaseRef(),
	})
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}

	_, err = env.svc.UpdateComment(ctx, "user-b", comment.ID, "stolen")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "BAD_REQUEST" {
		t.Fatalf("error = %v, want BAD_REQUEST", err)
	}
}

func TestAddCommentRejectsInvalidReference(t *testing.T) {
	env := newTestEnv()
	env.seedRelease("rel-1", store.ApprovalModeOne, false)
	ctx := context.Background()

	_, err := env.svc.AddComment(ctx, "user-a", "rel-1", AddCommentInput{
		Content:   "mixed",
		Reference: store.CommentRef{Kind: store.RefRelease, ParentID: "com-1"},
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "BAD_REQUEST" {
		t.Fatalf("error = %v, want BAD_REQUEST", err)
	}

	_, err = env.svc.AddComment(ctx, "user-a", "rel-1", AddCommentInput{
		Content:   "orphan reply",
		Reference: store.ReplyRef("com-missing"),
	})
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("error = %v, want NOT_FOUND", err)
	}
}
