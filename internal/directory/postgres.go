package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresDirectory reads the members table, including soft-deleted rows so
// that once-valid members still resolve (as Deleted) for mention rewriting.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) ResolveMember(ctx context.Context, idOrEmail string) (Member, error) {
	var item Member
	err := d.db.QueryRowContext(ctx, `
		SELECT id, namespace_id, email, display_name, email_notifications, deleted_at IS NOT NULL
		FROM members
		WHERE id=$1 OR email=$1
	`, idOrEmail).Scan(&item.ID, &item.NamespaceID, &item.Email, &item.DisplayName, &item.EmailNotifications, &item.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, ErrNotFound
	}
	if err != nil {
		return Member{}, fmt.Errorf("resolve member: %w", err)
	}
	return item, nil
}

func (d *PostgresDirectory) ListMembers(ctx context.Context, namespaceID string) ([]Member, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, namespace_id, email, display_name, email_notifications, deleted_at IS NOT NULL
		FROM members
		WHERE namespace_id=$1 AND deleted_at IS NULL
		ORDER BY email ASC
	`, namespaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		var item Member
		if err := rows.Scan(&item.ID, &item.NamespaceID, &item.Email, &item.DisplayName, &item.EmailNotifications, &item.Deleted); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}
