package postgres

import (
	"context"
	"fmt"
	"strings"

	"example.com/userexports/internal/domain"
)

const userColumns = "id, name, email, created_at, updated_at, is_deleted"

// whereClause renders the filter of a selection with $n placeholders.
func whereClause(sel domain.Selection) (string, []any) {
	var conds []string
	var args []any

	if !sel.IncludeDeleted {
		conds = append(conds, "is_deleted = FALSE")
	}
	if sel.Since != nil {
		args = append(args, *sel.Since)
		conds = append(conds, fmt.Sprintf("updated_at > $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// selectUsersSQL orders by updated_at so the last row carries the maximum;
// id breaks ties to keep the order stable.
func selectUsersSQL(sel domain.Selection) (string, []any) {
	where, args := whereClause(sel)
	return "SELECT " + userColumns + " FROM users" + where + " ORDER BY updated_at ASC, id ASC", args
}

func (s *Store) SelectUsers(ctx context.Context, sel domain.Selection) ([]domain.User, error) {
	sql, args := selectUsersSQL(sel)
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt, &u.IsDeleted); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.CreatedAt = u.CreatedAt.UTC()
		u.UpdatedAt = u.UpdatedAt.UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountUsers returns how many rows SelectUsers would return.
func (s *Store) CountUsers(ctx context.Context, sel domain.Selection) (int64, error) {
	where, args := whereClause(sel)
	var n int64
	if err := s.q.QueryRow(ctx, "SELECT COUNT(*)::bigint FROM users"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
