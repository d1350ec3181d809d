package app

import (
	"context"
	"time"

	"quorum/api/internal/notify"
	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

type AddTaskInput struct {
	Chapter     string
	Requirement string
	Check       string
	Title       string
	Description string
	DueDate     *time.Time
	Reminder    store.ReminderMode
	Assignees   []string
}

type UpdateTaskInput struct {
	Title        *string
	Description  *string
	DueDate      *time.Time
	ClearDueDate bool
	Reminder     *store.ReminderMode
}

func validReminderMode(mode store.ReminderMode) bool {
	switch mode {
	case store.ReminderDisabled, store.ReminderOverdue, store.ReminderAlways:
		return true
	}
	return false
}

func (s *Service) AddTask(ctx context.Context, actorID, releaseID string, input AddTaskInput) (store.Task, error) {
	if input.Title == "" {
		return store.Task{}, badRequest("Task title must not be empty", nil)
	}
	if input.Reminder == "" {
		input.Reminder = store.ReminderDisabled
	}
	if !validReminderMode(input.Reminder) {
		return store.Task{}, badRequest("Reminder must be disabled, overdue or always", map[string]any{"reminder": input.Reminder})
	}

	var created store.Task
	var entry store.AuditEntry
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		release, err := s.loadReleaseForUpdate(ctx, tx, releaseID)
		if err != nil {
			return err
		}
		if err := checkForClosed(release); err != nil {
			return err
		}
		assignees := dedupeOrdered(input.Assignees)
		if err := s.requireMembers(ctx, release.NamespaceID, assignees); err != nil {
			return err
		}

		task := store.Task{
			ID:             util.NewID("tsk"),
			ReleaseID:      releaseID,
			Chapter:        input.Chapter,
			Requirement:    input.Requirement,
			Check:          input.Check,
			Title:          input.Title,
			Description:    input.Description,
			DueDate:        input.DueDate,
			Reminder:       input.Reminder,
			Assignees:      assignees,
			CreatedBy:      actorID,
			LastModifiedBy: actorID,
		}
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		entry = auditEntry("task", task.ID, release, nil, snapshotTask(task), actorID, store.AuditCreate)
		if err := appendAudit(ctx, tx, &entry); err != nil {
			return err
		}

		if err := s.notifyEach(ctx, actorID, assignees, notify.KindTaskAssigned, notify.TitleTaskAssigned, taskEventData(release, task)); err != nil {
			return err
		}
		created = task
		return nil
	})
	if err != nil {
		return store.Task{}, err
	}
	s.indexAuditAfterCommit(entry)
	return created, nil
}

func (s *Service) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	var task store.Task
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		loaded, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return mapNoRows(err, "Task not found", map[string]any{"taskId": taskID})
		}
		task = loaded
		return nil
	})
	return task, err
}

func (s *Service) ListTasks(ctx context.Context, releaseID string) ([]store.Task, error) {
	if _, err := s.GetRelease(ctx, releaseID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, releaseID)
}

// UpdateTask changes the descriptive fields. At least one field must be
// provided and actually differ from the current value.
func (s *Service) UpdateTask(ctx context.Context, actorID, taskID string, input UpdateTaskInput) (store.Task, error) {
	if input.Title == nil && input.Description == nil && input.DueDate == nil && !input.ClearDueDate && input.Reminder == nil {
		return store.Task{}, badRequest("At least one field must be provided", nil)
	}
	if input.Reminder != nil && !validReminderMode(*input.Reminder) {
		return store.Task{}, badRequest("Reminder must be disabled, overdue or always", map[string]any{"reminder": *input.Reminder})
	}

	var updated store.Task
	var entry store.AuditEntry
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		release, task, err := s.loadTaskForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := checkForClosed(release); err != nil {
			return err
		}

		before := snapshotTask(task)
		changed := false
		if input.Title != nil && *input.Title != task.Title {
			if *input.Title == "" {
				return badRequest("Task title must not be empty", nil)
			}
			task.Title = *input.Title
			changed = true
		}
		if input.Description != nil && *input.Description != task.Description {
			task.Description = *input.Description
			changed = true
		}
		if input.DueDate != nil && !equalTimePtr(input.DueDate, task.DueDate) {
			task.DueDate = input.DueDate
			changed = true
		}
		if input.ClearDueDate && task.DueDate != nil {
			task.DueDate = nil
			changed = true
		}
		if input.Reminder != nil && *input.Reminder != task.Reminder {
			task.Reminder = *input.Reminder
			changed = true
		}
		if !changed {
			return badRequest("No field differs from the current value", map[string]any{"taskId": taskID})
		}

		task.LastModifiedBy = actorID
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		entry = auditEntry("task", task.ID, release, before, snapshotTask(task), actorID, store.AuditUpdate)
		if err := appendAudit(ctx, tx, &entry); err != nil {
			return err
		}
		updated = task
		return nil
	})
	if err != nil {
		return store.Task{}, err
	}
	s.indexAuditAfterCommit(entry)
	return updated, nil
}

func (s *Service) CloseTask(ctx context.Context, actorID, taskID string) (store.Task, error) {
	return s.setTaskClosed(ctx, actorID, taskID, true)
}

func (s *Service) ReopenTask(ctx context.Context, actorID, taskID string) (store.Task, error) {
	return s.setTaskClosed(ctx, actorID, taskID, false)
}

func (s *Service) setTaskClosed(ctx context.Context, actorID, taskID string, closed bool) (store.Task, error) {
	var updated store.Task
	var entry store.AuditEntry
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		release, task, err := s.loadTaskForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := checkForClosed(release); err != nil {
			return err
		}
		if task.Closed == closed {
			if closed {
				return badRequest("Task has already been closed", map[string]any{"taskId": taskID})
			}
			return badRequest("Task is not closed", map[string]any{"taskId": taskID})
		}

		before := snapshotTask(task)
		task.Closed = closed
		task.LastModifiedBy = actorID
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		entry = auditEntry("task", task.ID, release, before, snapshotTask(task), actorID, store.AuditUpdate)
		if err := appendAudit(ctx, tx, &entry); err != nil {
			return err
		}
		updated = task
		return nil
	})
	if err != nil {
		return store.Task{}, err
	}
	s.indexAuditAfterCommit(entry)
	return updated, nil
}

func (s *Service) DeleteTask(ctx context.Context, actorID, taskID string) error {
	var entry store.AuditEntry
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		release, task, err := s.loadTaskForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := checkForClosed(release); err != nil {
			return err
		}
		if err := tx.DeleteTask(ctx, taskID); err != nil {
			return err
		}
		entry = auditEntry("task", task.ID, release, snapshotTask(task), nil, actorID, store.AuditDelete)
		return appendAudit(ctx, tx, &entry)
	})
	if err != nil {
		return err
	}
	s.indexAuditAfterCommit(entry)
	return nil
}

// AddAssignees adds the requested users to the task. Only users not already
// assigned receive a TaskAssigned notification.
func (s *Service) AddAssignees(ctx context.Context, actorID, taskID string, userIDs []string) (store.Task, error) {
	if len(userIDs) == 0 {
		return store.Task{}, badRequest("At least one assignee must be provided", nil)
	}

	var updated store.Task
	var entry store.AuditEntry
	audited := false
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		release, task, err := s.loadTaskForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := checkForClosed(release); err != nil {
			return err
		}
		if task.Closed {
			return badRequest("Task has been closed", map[string]any{"taskId": taskID})
		}
		if err := s.requireMembers(ctx, release.NamespaceID, userIDs); err != nil {
			return err
		}

		added := newMentions(task.Assignees, dedupeOrdered(userIDs))
		if len(added) == 0 {
			updated = task
			return nil
		}

		before := snapshotTask(task)
		task.Assignees = append(task.Assignees, added...)
		task.LastModifiedBy = actorID
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		entry = auditEntry("task", task.ID, release, before, snapshotTask(task), actorID, store.AuditUpdate)
		if err := appendAudit(ctx, tx, &entry); err != nil {
			return err
		}
		audited = true

		if err := s.notifyEach(ctx, actorID, added, notify.KindTaskAssigned, notify.TitleTaskAssigned, taskEventData(release, task)); err != nil {
			return err
		}
		updated = task
		return nil
	})
	if err != nil {
		return store.Task{}, err
	}
	if audited {
		s.indexAuditAfterCommit(entry)
	}
	return updated, nil
}

func (s *Service) RemoveAssignees(ctx context.Context, actorID, taskID string, userIDs []string) (store.Task, error) {
	if len(userIDs) == 0 {
		return store.Task{}, badRequest("At least one assignee must be provided", nil)
	}

	var updated store.Task
	var entry store.AuditEntry
	audited := false
	err := s.store.RunInTx(ctx, func(tx store.Txn) error {
		release, task, err := s.loadTaskForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := checkForClosed(release); err != nil {
			return err
		}
		if task.Closed {
			return badRequest("Task has been closed", map[string]any{"taskId": taskID})
		}

		remove := make(map[string]struct{}, len(userIDs))
		for _, id := range userIDs {
			remove[id] = struct{}{}
		}
		remaining := make([]string, 0, len(task.Assignees))
		for _, id := range task.Assignees {
			if _, ok := remove[id]; !ok {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == len(task.Assignees) {
			updated = task
			return nil
		}

		before := snapshotTask(task)
		task.Assignees = remaining
		task.LastModifiedBy = actorID
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		entry = auditEntry("task", task.ID, release, before, snapshotTask(task), actorID, store.AuditUpdate)
		if err := appendAudit(ctx, tx, &entry); err != nil {
			return err
		}
		audited = true
		updated = task
		return nil
	})
	if err != nil {
		return store.Task{}, err
	}
	if audited {
		s.indexAuditAfterCommit(entry)
	}
	return updated, nil
}

func (s *Service) loadTaskForUpdate(ctx context.Context, tx store.Txn, taskID string) (store.Release, store.Task, error) {
	task, err := tx.GetTask(ctx, taskID)
	if isNoRows(err) {
		return store.Release{}, store.Task{}, notFound("Task not found", map[string]any{"taskId": taskID})
	}
	if err != nil {
		return store.Release{}, store.Task{}, err
	}
	release, err := s.loadReleaseForUpdate(ctx, tx, task.ReleaseID)
	if err != nil {
		return store.Release{}, store.Task{}, err
	}
	return release, task, nil
}

func taskEventData(release store.Release, task store.Task) map[string]any {
	return map[string]any{
		"releaseId":   release.ID,
		"releaseName": release.Name,
		"taskId":      task.ID,
		"taskTitle":   task.Title,
	}
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
