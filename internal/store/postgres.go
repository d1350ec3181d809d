package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Txn is the set of operations available inside one use-case transaction.
// Implemented by *Tx; the service layer depends on this interface only.
type Txn interface {
	GetRelease(ctx context.Context, releaseID string) (Release, error)
	GetReleaseForUpdate(ctx context.Context, releaseID string) (Release, error)
	InsertRelease(ctx context.Context, release Release) error
	UpdateRelease(ctx context.Context, release Release) error
	DeleteRelease(ctx context.Context, releaseID string) error

	GetApprover(ctx context.Context, releaseID, userID string) (Approver, error)
	ListApprovers(ctx context.Context, releaseID string) ([]Approver, error)
	InsertApprover(ctx context.Context, approver Approver) error
	UpdateApproverState(ctx context.Context, releaseID, userID string, state ApprovalState, comment string) error
	DeleteApproversByRelease(ctx context.Context, releaseID string) error

	GetComment(ctx context.Context, commentID string) (Comment, error)
	ListComments(ctx context.Context, releaseID string) ([]Comment, error)
	InsertComment(ctx context.Context, comment Comment) error
	UpdateCommentContent(ctx context.Context, commentID, rawContent, renderedContent string, mentions []string) error
	ResolveCommentRow(ctx context.Context, commentID, resolvedBy string) (bool, error)
	DeleteCommentsByRelease(ctx context.Context, releaseID string) error

	GetTask(ctx context.Context, taskID string) (Task, error)
	ListTasks(ctx context.Context, releaseID string) ([]Task, error)
	InsertTask(ctx context.Context, task Task) error
	UpdateTask(ctx context.Context, task Task) error
	DeleteTask(ctx context.Context, taskID string) error

	GetSubscription(ctx context.Context, releaseID, userID string) (Subscription, error)
	ListSubscriptions(ctx context.Context, releaseID string) ([]Subscription, error)
	InsertSubscription(ctx context.Context, sub Subscription) error
	DeleteSubscription(ctx context.Context, releaseID, userID string) (bool, error)
	DeleteSubscriptionsByRelease(ctx context.Context, releaseID string) error

	InsertAuditEntry(ctx context.Context, entry AuditEntry) (int64, error)
}

type PostgresStore struct {
	queries
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{queries: queries{q: db}, db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type Tx struct {
	queries
	tx *sql.Tx
}

var _ Txn = (*Tx)(nil)

// RunInTx executes fn inside a READ COMMITTED transaction. Any error from fn
// rolls the whole transaction back, audit entries included.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx Txn) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Tx{queries: queries{q: tx}, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type queries struct {
	q querier
}

const releaseColumns = `id, namespace_id, name, approval_mode, approval_state, closed, planned_date, created_by, last_modified_by, created_at, updated_at`

func scanRelease(row interface{ Scan(...any) error }) (Release, error) {
	var item Release
	err := row.Scan(
		&item.ID,
		&item.NamespaceID,
		&item.Name,
		&item.ApprovalMode,
		&item.ApprovalState,
		&item.Closed,
		&item.PlannedDate,
		&item.CreatedBy,
		&item.LastModifiedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *queries) GetRelease(ctx context.Context, releaseID string) (Release, error) {
	item, err := scanRelease(s.q.QueryRowContext(ctx, `
		SELECT `+releaseColumns+` FROM releases WHERE id=$1
	`, releaseID))
	if err != nil {
		return Release{}, err
	}
	return item, nil
}

// GetReleaseForUpdate takes a row lock so that concurrent approve/reset
// cannot interleave their quorum recomputation.
func (s *queries) GetReleaseForUpdate(ctx context.Context, releaseID string) (Release, error) {
	item, err := scanRelease(s.q.QueryRowContext(ctx, `
		SELECT `+releaseColumns+` FROM releases WHERE id=$1 FOR UPDATE
	`, releaseID))
	if err != nil {
		return Release{}, err
	}
	return item, nil
}

func (s *queries) ListReleases(ctx context.Context, namespaceID string) ([]Release, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+releaseColumns+` FROM releases
		WHERE namespace_id=$1
		ORDER BY created_at DESC
	`, namespaceID)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	defer rows.Close()

	items := make([]Release, 0)
	for rows.Next() {
		item, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate releases: %w", err)
	}
	return items, nil
}

func (s *queries) InsertRelease(ctx context.Context, release Release) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO releases (id, namespace_id, name, approval_mode, approval_state, closed, planned_date, created_by, last_modified_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, release.ID, release.NamespaceID, release.Name, release.ApprovalMode, release.ApprovalState, release.Closed, release.PlannedDate, release.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert release: %w", err)
	}
	return nil
}

func (s *queries) UpdateRelease(ctx context.Context, release Release) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE releases
		SET name=$2, approval_mode=$3, approval_state=$4, closed=$5, planned_date=$6, last_modified_by=$7, updated_at=NOW()
		WHERE id=$1
	`, release.ID, release.Name, release.ApprovalMode, release.ApprovalState, release.Closed, release.PlannedDate, release.LastModifiedBy)
	if err != nil {
		return fmt.Errorf("update release: %w", err)
	}
	return nil
}

func (s *queries) DeleteRelease(ctx context.Context, releaseID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM releases WHERE id=$1`, releaseID)
	if err != nil {
		return fmt.Errorf("delete release: %w", err)
	}
	return nil
}

func (s *queries) GetApprover(ctx context.Context, releaseID, userID string) (Approver, error) {
	var item Approver
	err := s.q.QueryRowContext(ctx, `
		SELECT release_id, user_id, state, COALESCE(comment, ''), created_at, updated_at
		FROM approvers
		WHERE release_id=$1 AND user_id=$2
	`, releaseID, userID).Scan(&item.ReleaseID, &item.UserID, &item.State, &item.Comment, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Approver{}, err
	}
	return item, nil
}

func (s *queries) ListApprovers(ctx context.Context, releaseID string) ([]Approver, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT release_id, user_id, state, COALESCE(comment, ''), created_at, updated_at
		FROM approvers
		WHERE release_id=$1
		ORDER BY created_at ASC
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list approvers: %w", err)
	}
	defer rows.Close()

	items := make([]Approver, 0)
	for rows.Next() {
		var item Approver
		if err := rows.Scan(&item.ReleaseID, &item.UserID, &item.State, &item.Comment, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan approver: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvers: %w", err)
	}
	return items, nil
}

func (s *queries) InsertApprover(ctx context.Context, approver Approver) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO approvers (release_id, user_id, state)
		VALUES ($1, $2, $3)
	`, approver.ReleaseID, approver.UserID, approver.State)
	if err != nil {
		return fmt.Errorf("insert approver: %w", err)
	}
	return nil
}

func (s *queries) UpdateApproverState(ctx context.Context, releaseID, userID string, state ApprovalState, comment string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE approvers
		SET state=$3, comment=NULLIF($4, ''), updated_at=NOW()
		WHERE release_id=$1 AND user_id=$2
	`, releaseID, userID, state, comment)
	if err != nil {
		return fmt.Errorf("update approver state: %w", err)
	}
	return nil
}

func (s *queries) DeleteApproversByRelease(ctx context.Context, releaseID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM approvers WHERE release_id=$1`, releaseID)
	if err != nil {
		return fmt.Errorf("delete approvers: %w", err)
	}
	return nil
}

const commentColumns = `id, release_id, author_id, raw_content, rendered_content, ref_kind, COALESCE(ref_chapter, ''), COALESCE(ref_requirement, ''), COALESCE(ref_check, ''), COALESCE(ref_parent_id, ''), status, todo, mentions, resolved_by, resolved_at, created_at, updated_at`

func scanComment(row interface{ Scan(...any) error }) (Comment, error) {
	var item Comment
	var mentionsRaw []byte
	err := row.Scan(
		&item.ID,
		&item.ReleaseID,
		&item.AuthorID,
		&item.RawContent,
		&item.RenderedContent,
		&item.Reference.Kind,
		&item.Reference.Chapter,
		&item.Reference.Requirement,
		&item.Reference.Check,
		&item.Reference.ParentID,
		&item.Status,
		&item.Todo,
		&mentionsRaw,
		&item.ResolvedBy,
		&item.ResolvedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Comment{}, err
	}
	_ = json.Unmarshal(mentionsRaw, &item.Mentions)
	return item, nil
}

func (s *queries) GetComment(ctx context.Context, commentID string) (Comment, error) {
	return scanComment(s.q.QueryRowContext(ctx, `
		SELECT `+commentColumns+` FROM comments WHERE id=$1
	`, commentID))
}

func (s *queries) ListComments(ctx context.Context, releaseID string) ([]Comment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+commentColumns+` FROM comments
		WHERE release_id=$1
		ORDER BY created_at ASC
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *queries) InsertComment(ctx context.Context, comment Comment) error {
	mentions, err := encodeStringList(comment.Mentions)
	if err != nil {
		return fmt.Errorf("marshal comment mentions: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO comments (id, release_id, author_id, raw_content, rendered_content, ref_kind, ref_chapter, ref_requirement, ref_check, ref_parent_id, status, todo, mentions)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13::jsonb)
	`, comment.ID, comment.ReleaseID, comment.AuthorID, comment.RawContent, comment.RenderedContent,
		comment.Reference.Kind, comment.Reference.Chapter, comment.Reference.Requirement, comment.Reference.Check, comment.Reference.ParentID,
		comment.Status, comment.Todo, mentions)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *queries) UpdateCommentContent(ctx context.Context, commentID, rawContent, renderedContent string, mentions []string) error {
	encoded, err := encodeStringList(mentions)
	if err != nil {
		return fmt.Errorf("marshal comment mentions: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		UPDATE comments
		SET raw_content=$2, rendered_content=$3, mentions=$4::jsonb, updated_at=NOW()
		WHERE id=$1
	`, commentID, rawContent, renderedContent, encoded)
	if err != nil {
		return fmt.Errorf("update comment content: %w", err)
	}
	return nil
}

func (s *queries) ResolveCommentRow(ctx context.Context, commentID, resolvedBy string) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE comments
		SET status='resolved', resolved_by=$2, resolved_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status <> 'resolved'
	`, commentID, resolvedBy)
	if err != nil {
		return false, fmt.Errorf("resolve comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve comment rows: %w", err)
	}
	return affected > 0, nil
}

func (s *queries) DeleteCommentsByRelease(ctx context.Context, releaseID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM comments WHERE release_id=$1`, releaseID)
	if err != nil {
		return fmt.Errorf("delete comments: %w", err)
	}
	return nil
}

const taskColumns = `id, release_id, COALESCE(chapter, ''), COALESCE(requirement, ''), COALESCE("check", ''), title, description, due_date, reminder, closed, assignees, created_by, last_modified_by, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var item Task
	var assigneesRaw []byte
	err := row.Scan(
		&item.ID,
		&item.ReleaseID,
		&item.Chapter,
		&item.Requirement,
		&item.Check,
		&item.Title,
		&item.Description,
		&item.DueDate,
		&item.Reminder,
		&item.Closed,
		&assigneesRaw,
		&item.CreatedBy,
		&item.LastModifiedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	_ = json.Unmarshal(assigneesRaw, &item.Assignees)
	return item, nil
}

func (s *queries) GetTask(ctx context.Context, taskID string) (Task, error) {
	return scanTask(s.q.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id=$1
	`, taskID))
}

func (s *queries) ListTasks(ctx context.Context, releaseID string) ([]Task, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE release_id=$1
		ORDER BY created_at ASC
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *queries) InsertTask(ctx context.Context, task Task) error {
	assignees, err := encodeStringList(task.Assignees)
	if err != nil {
		return fmt.Errorf("marshal task assignees: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO tasks (id, release_id, chapter, requirement, "check", title, description, due_date, reminder, closed, assignees, created_by, last_modified_by)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11::jsonb, $12, $12)
	`, task.ID, task.ReleaseID, task.Chapter, task.Requirement, task.Check, task.Title, task.Description, task.DueDate, task.Reminder, task.Closed, assignees, task.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *queries) UpdateTask(ctx context.Context, task Task) error {
	assignees, err := encodeStringList(task.Assignees)
	if err != nil {
		return fmt.Errorf("marshal task assignees: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		UPDATE tasks
		SET title=$2, description=$3, due_date=$4, reminder=$5, closed=$6, assignees=$7::jsonb, last_modified_by=$8, updated_at=NOW()
		WHERE id=$1
	`, task.ID, task.Title, task.Description, task.DueDate, task.Reminder, task.Closed, assignees, task.LastModifiedBy)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (s *queries) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *queries) GetSubscription(ctx context.Context, releaseID, userID string) (Subscription, error) {
	var item Subscription
	err := s.q.QueryRowContext(ctx, `
		SELECT user_id, release_id, created_at
		FROM subscriptions
		WHERE release_id=$1 AND user_id=$2
	`, releaseID, userID).Scan(&item.UserID, &item.ReleaseID, &item.CreatedAt)
	if err != nil {
		return Subscription{}, err
	}
	return item, nil
}

func (s *queries) ListSubscriptions(ctx context.Context, releaseID string) ([]Subscription, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT user_id, release_id, created_at
		FROM subscriptions
		WHERE release_id=$1
		ORDER BY created_at ASC
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	items := make([]Subscription, 0)
	for rows.Next() {
		var item Subscription
		if err := rows.Scan(&item.UserID, &item.ReleaseID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return items, nil
}

func (s *queries) InsertSubscription(ctx context.Context, sub Subscription) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, release_id)
		VALUES ($1, $2)
	`, sub.UserID, sub.ReleaseID)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *queries) DeleteSubscription(ctx context.Context, releaseID, userID string) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		DELETE FROM subscriptions WHERE release_id=$1 AND user_id=$2
	`, releaseID, userID)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete subscription rows: %w", err)
	}
	return affected > 0, nil
}

func (s *queries) DeleteSubscriptionsByRelease(ctx context.Context, releaseID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM subscriptions WHERE release_id=$1`, releaseID)
	if err != nil {
		return fmt.Errorf("delete subscriptions: %w", err)
	}
	return nil
}

func (s *queries) InsertAuditEntry(ctx context.Context, entry AuditEntry) (int64, error) {
	before := entry.Before
	if before == nil {
		before = json.RawMessage(`null`)
	}
	after := entry.After
	if after == nil {
		after = json.RawMessage(`null`)
	}
	var id int64
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, namespace_id, release_id, before_snapshot, after_snapshot, actor, action)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8)
		RETURNING id
	`, entry.EntityType, entry.EntityID, entry.NamespaceID, entry.ReleaseID, string(before), string(after), entry.Actor, entry.Action).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit entry: %w", err)
	}
	return id, nil
}

func (s *queries) ListAuditEntries(ctx context.Context, releaseID string) ([]AuditEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, namespace_id, release_id, before_snapshot, after_snapshot, actor, action, created_at
		FROM audit_log
		WHERE release_id=$1
		ORDER BY id ASC
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEntry, 0)
	for rows.Next() {
		var item AuditEntry
		var before, after []byte
		if err := rows.Scan(
			&item.ID,
			&item.EntityType,
			&item.EntityID,
			&item.NamespaceID,
			&item.ReleaseID,
			&before,
			&after,
			&item.Actor,
			&item.Action,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		item.Before = json.RawMessage(before)
		item.After = json.RawMessage(after)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return items, nil
}

func encodeStringList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
