package app

import (
	"context"

	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

type AddCommentInput struct {
	Content   string
	Reference store.CommentRef
	Todo      bool
}

func (s *Service) AddComment(ctx context.Context, actorID, releaseID string, input AddCommentInput) (store.Comment, error) {
	if input.Content == "" {
		return store.Comment{}, badRequest("Comment content must not be empty", nil)
	}
	if err := input.Reference.Validate(); err != nil {
		return store.Comment{}, badRequest(err.Error(), nil)
	}

	var created store.Comment
	var entry store.AuditEntry
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		release, err := s.loadReleaseForUpdate(ctx, tx, releaseID)
		if err != nil {
			return err
		}
		if err := checkForClosed(release); err != nil {
			return err
		}
		if input.Reference.Kind == store.RefComment {
			parent, err := tx.GetComment(ctx, input.Reference.ParentID)
			if isNoRows(err) {
				return notFound("Parent comment not found", map[string]any{"commentId": input.Reference.ParentID})
			}
			if err != nil {
				return err
			}
			if parent.ReleaseID != releaseID {
				return badRequest("Parent comment belongs to a different release", map[string]any{"commentId": parent.ID})
			}
		}

		result, err := s.mentions.Rewrite(ctx, input.Content)
		if err != nil {
			return upstream("resolve mentions", err)
		}

		comment := store.Comment{
			ID:              util.NewID("com"),
			ReleaseID:       releaseID,
			AuthorID:        actorID,
			RawContent:      input.Content,
			RenderedContent: result.Content,
			Reference:       input.Reference,
			Status:          store.CommentCreated,
			Todo:            input.Todo,
			Mentions:        result.Mentioned,
		}
		if err := tx.InsertComment(ctx, comment); err != nil {
			return err
		}
		entry = auditEntry("comment", comment.ID, release, nil, snapshotComment(comment), actorID, store.AuditCreate)
		if err := appendAudit(ctx, tx, &entry); err != nil {
			return err
		}

		if err := s.fanOutComment(ctx, tx, release, comment, result.Mentioned); err != nil {
			return err
		}
		created = comment
		return nil
	})
	if err != nil {
		return store.Comment{}, err
	}
	s.indexCommentAfterCommit(created)
	s.indexAuditAfterCommit(entry)
	return created, nil
}

// UpdateComment rewrites the full new content; the reference is immutable.
// Only mentions absent from the previous version fan out again.
func (s *Service) UpdateComment(ctx context.Context, actorID, commentID, content string) (store.Comment, error) {
	if content == "" {
		return store.Comment{}, badRequest("Comment content must not be empty", nil)
	}

	var updated store.Comment
	var entry store.AuditEntry
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		comment, err := tx.GetComment(ctx, commentID)
		if isNoRows(err) {
			return notFound("Comment not found", map[string]any{"commentId": commentID})
		}
		if err != nil {
			return err
		}
		if comment.AuthorID != actorID {
			return badRequest("Only the author can edit a comment", map[string]any{"commentId": commentID})
		}
		release, err := s.loadReleaseForUpdate(ctx, tx, comment.ReleaseID)
		if err != nil {
			return err
		}
		if err := checkForClosed(release); err != nil {
			return err
		}

		result, err := s.mentions.Rewrite(ctx, content)
		if err != nil {
			return upstream("resolve mentions", err)
		}
		introduced := newMentions(comment.Mentions, result.Mentioned)

		before := snapshotComment(comment)
		comment.RawContent = content
		comment.RenderedContent = result.Content
		comment.Mentions = result.Mentioned
		if err := tx.UpdateCommentContent(ctx, commentID, content, result.Content, result.Mentioned); err != nil {
			return err
		}
		entry = auditEntry("comment", comment.ID, release, before, snapshotComment(comment), actorID, store.AuditUpdate)
		if err := appendAudit(ctx, tx, &entry); err != nil {
			return err
		}

		if err := s.fanOutComment(ctx, tx, release, comment, introduced); err != nil {
			return err
		}
		updated = comment
		return nil
	})
	if err != nil {
		return store.Comment{}, err
	}
	s.indexCommentAfterCommit(updated)
	s.indexAuditAfterCommit(entry)
	return updated, nil
}

// ResolveComment closes a discussion thread. Valid only on the thread root.
func (s *Service) ResolveComment(ctx context.Context, actorID, commentID string) (store.Comment, error) {
	var resolved store.Comment
	var entry store.AuditEntry
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		comment, err := tx.GetComment(ctx, commentID)
		if isNoRows(err) {
			return badRequest("Comment does not exist", map[string]any{"commentId": commentID})
		}
		if err != nil {
			return err
		}
		release, err := s.loadReleaseForUpdate(ctx, tx, comment.ReleaseID)
		if err != nil {
			return err
		}
		if err := checkForClosed(release); err != nil {
			return err
		}
		if comment.Reference.Kind == store.RefComment {
			return badRequest("Only a thread root comment can be resolved", map[string]any{"commentId": commentID})
		}

		before := snapshotComment(comment)
		ok, err := tx.ResolveCommentRow(ctx, commentID, actorID)
		if err != nil {
			return err
		}
		if !ok {
			return badRequest("Comment has already been resolved", map[string]any{"commentId": commentID})
		}
		comment.Status = store.CommentResolved
		comment.ResolvedBy = &actorID
		entry = auditEntry("comment", comment.ID, release, before, snapshotComment(comment), actorID, store.AuditUpdate)
		if err := appendAudit(ctx, tx, &entry); err != nil {
			return err
		}
		resolved = comment
		return nil
	})
	if err != nil {
		return store.Comment{}, err
	}
	s.indexCommentAfterCommit(resolved)
	s.indexAuditAfterCommit(entry)
	return resolved, nil
}

func (s *Service) ListComments(ctx context.Context, releaseID string) ([]store.Comment, error) {
	if _, err := s.GetRelease(ctx, releaseID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, releaseID)
}

func (s *Service) fanOutComment(ctx context.Context, tx store.Txn, release store.Release, comment store.Comment, mentions []string) error {
	all, err := tx.ListComments(ctx, release.ID)
	if err != nil {
		return err
	}
	subs, err := tx.ListSubscriptions(ctx, release.ID)
	if err != nil {
		return err
	}
	return s.notifyCommentEvent(ctx, commentEvent{
		release:      release,
		actorID:      comment.AuthorID,
		participants: threadParticipants(all, comment),
		subscribers:  subscriberIDs(subs),
		mentions:     mentions,
		data: map[string]any{
			"releaseId":   release.ID,
			"releaseName": release.Name,
			"commentId":   comment.ID,
			"authorId":    comment.AuthorID,
		},
	})
}

// threadParticipants lists the authors of the prior comments in the same
// thread, ordered by first appearance. For a reply that is the parent chain
// up to the root; for a root comment it is every earlier comment sharing the
// same reference.
func threadParticipants(all []store.Comment, target store.Comment) []string {
	authors := make([]string, 0)
	if target.Reference.Kind == store.RefComment {
		byID := make(map[string]store.Comment, len(all))
		for _, comment := range all {
			byID[comment.ID] = comment
		}
		chain := make([]string, 0)
		parentID := target.Reference.ParentID
		for parentID != "" {
			parent, ok := byID[parentID]
			if !ok {
				break
			}
			chain = append(chain, parent.AuthorID)
			parentID = parent.Reference.ParentID
		}
		// chain runs child-first; thread order is root-first
		for i := len(chain) - 1; i >= 0; i-- {
			authors = append(authors, chain[i])
		}
	} else {
		// all is ordered by creation; everything before the target is prior
		for _, comment := range all {
			if comment.ID == target.ID {
				break
			}
			if sameRootRef(comment.Reference, target.Reference) {
				authors = append(authors, comment.AuthorID)
			}
		}
	}
	return dedupeOrdered(authors)
}

func sameRootRef(a, b store.CommentRef) bool {
	return a.Kind == b.Kind &&
		a.Chapter == b.Chapter &&
		a.Requirement == b.Requirement &&
		a.Check == b.Check
}

func newMentions(previous, current []string) []string {
	known := make(map[string]struct{}, len(previous))
	for _, id := range previous {
		known[id] = struct{}{}
	}
	introduced := make([]string, 0)
	for _, id := range current {
		if _, ok := known[id]; !ok {
			introduced = append(introduced, id)
		}
	}
	return introduced
}

func dedupeOrdered(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
