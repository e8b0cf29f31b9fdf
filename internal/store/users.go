package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GetUser fetches a cached Zoom user by id.
func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	var (
		u  User
		ts int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, first_name, last_name, email, updated FROM user WHERE user_id = ?`, id).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: get user: %w", err)
	}
	u.Updated = time.Unix(ts, 0).UTC()
	return u, nil
}

// EnsureUser inserts the user or refreshes its details when they changed.
func (s *Store) EnsureUser(ctx context.Context, u User) error {
	u.Updated = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user (user_id, first_name, last_name, email, updated) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET first_name = excluded.first_name,
		   last_name = excluded.last_name, email = excluded.email, updated = excluded.updated
		 WHERE first_name != excluded.first_name OR last_name != excluded.last_name OR email != excluded.email`,
		u.ID, u.FirstName, u.LastName, u.Email, u.Updated.Unix())
	if err != nil {
		return fmt.Errorf("store: ensure user: %w", err)
	}
	return nil
}

// FindUsersMatching searches the cached users by name or email fragments.
func (s *Store) FindUsersMatching(ctx context.Context, query string) ([]User, error) {
	patterns := wildcard(query)
	if len(patterns) == 0 {
		return nil, nil
	}
	var (
		conds []string
		args  []any
	)
	for _, w := range patterns {
		conds = append(conds,
			`(LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ?)`)
		args = append(args, w, w, w)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, first_name, last_name, email, updated FROM user WHERE `+
			strings.Join(conds, " OR ")+` ORDER BY last_name, first_name`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: find users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var (
			u  User
			ts int64
		)
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &ts); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		u.Updated = time.Unix(ts, 0).UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}
