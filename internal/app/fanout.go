package app

import (
	"context"
	"errors"

	"quorum/api/internal/directory"
	"quorum/api/internal/notify"
	"quorum/api/internal/store"
)

// commentEvent is one comment created/edited mutation feeding the fan-out
// engine. The three recipient lists arrive ordered; the engine owns
// deduplication, opt-out skipping and dispatch ordering.
type commentEvent struct {
	release      store.Release
	actorID      string
	participants []string
	subscribers  []string
	mentions     []string
	data         map[string]any
}

// notifyCommentEvent dispatches all Comment-kind notifications (thread
// participants, then release subscribers), then all Mention-kind ones.
// A recipient placed in the mention bucket is claimed by it up front, so a
// mentioned participant receives exactly one notification: the Mention.
// Opted-out and removed recipients are skipped at every step but still
// count for deduplication.
func (s *Service) notifyCommentEvent(ctx context.Context, event commentEvent) error {
	mentioned := make(map[string]struct{}, len(event.mentions))
	for _, id := range event.mentions {
		mentioned[id] = struct{}{}
	}

	claimed := make(map[string]struct{})
	events := make([]notify.Event, 0)

	appendBucket := func(ids []string, kind notify.Kind, title string, skipMentioned bool) error {
		for _, id := range ids {
			if id == event.actorID {
				continue
			}
			if skipMentioned {
				if _, ok := mentioned[id]; ok {
					continue
				}
			}
			if _, ok := claimed[id]; ok {
				continue
			}
			claimed[id] = struct{}{}

			deliverable, err := s.canNotify(ctx, id)
			if err != nil {
				return err
			}
			if !deliverable {
				continue
			}
			events = append(events, notify.Event{
				RecipientID: id,
				Title:       title,
				Payload:     notify.Payload{Kind: kind, Data: event.data},
			})
		}
		return nil
	}

	if err := appendBucket(event.participants, notify.KindComment, notify.TitleComment, true); err != nil {
		return err
	}
	if err := appendBucket(event.subscribers, notify.KindComment, notify.TitleComment, true); err != nil {
		return err
	}
	if err := appendBucket(event.mentions, notify.KindMention, notify.TitleMention, false); err != nil {
		return err
	}

	return s.dispatch(ctx, events)
}

// notifyEach sends one notification of the given kind to every listed
// recipient except the actor, in order, without cross-channel dedup. Used
// for Approval, ApprovalState and TaskAssigned events.
func (s *Service) notifyEach(ctx context.Context, actorID string, recipients []string, kind notify.Kind, title string, data map[string]any) error {
	events := make([]notify.Event, 0, len(recipients))
	seen := make(map[string]struct{}, len(recipients))
	for _, id := range recipients {
		if id == actorID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		deliverable, err := s.canNotify(ctx, id)
		if err != nil {
			return err
		}
		if !deliverable {
			continue
		}
		events = append(events, notify.Event{
			RecipientID: id,
			Title:       title,
			Payload:     notify.Payload{Kind: kind, Data: data},
		})
	}
	return s.dispatch(ctx, events)
}

// canNotify reports whether a recipient can actually be delivered to:
// removed members and members with email notifications disabled cannot.
func (s *Service) canNotify(ctx context.Context, userID string) (bool, error) {
	member, err := s.dir.ResolveMember(ctx, userID)
	if errors.Is(err, directory.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, upstream("directory lookup failed", err)
	}
	if member.Deleted || !member.EmailNotifications {
		return false, nil
	}
	return true, nil
}

// dispatch invokes the gateway once per event, in order. The first failure
// aborts: the caller's transaction rolls back and nothing is retried.
func (s *Service) dispatch(ctx context.Context, events []notify.Event) error {
	for _, event := range events {
		if err := s.notifier.Send(ctx, event.RecipientID, event.Title, event.Payload); err != nil {
			return upstream("notification dispatch failed", err)
		}
	}
	return nil
}

func subscriberIDs(subs []store.Subscription) []string {
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.UserID)
	}
	return ids
}
