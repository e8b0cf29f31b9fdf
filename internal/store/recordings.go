package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/zingest/zingest/internal/sanitize"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

func scanRecording(row interface{ Scan(...any) error }) (Recording, error) {
	var r Recording
	err := row.Scan(&r.ID, &r.UUID, &r.HostID, &r.StartTime, &r.Title, &r.Duration)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, ErrNotFound
	}
	if err != nil {
		return Recording{}, fmt.Errorf("store: scan recording: %w", err)
	}
	return r, nil
}

// GetRecording fetches a recording by uuid.
func (s *Store) GetRecording(ctx context.Context, uuid string) (Recording, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, uuid, host_id, start_time, title, duration FROM recording WHERE uuid = ?`, uuid)
	return scanRecording(row)
}

// UpsertRecording creates the recording if it is not yet known. Existing rows
// are left untouched apart from the title, which follows renames. The title
// is sanitized before it reaches the table.
func (s *Store) UpsertRecording(ctx context.Context, r Recording) (Recording, error) {
	r.Title = sanitize.String(r.Title)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertRecordingTx(tx, &r)
	})
	if err != nil {
		return Recording{}, err
	}
	return r, nil
}

func upsertRecordingTx(tx *sql.Tx, r *Recording) error {
	row := tx.QueryRow(`SELECT id, uuid, host_id, start_time, title, duration FROM recording WHERE uuid = ?`, r.UUID)
	existing, err := scanRecording(row)
	switch {
	case errors.Is(err, ErrNotFound):
		res, err := tx.Exec(
			`INSERT INTO recording (uuid, host_id, start_time, title, duration) VALUES (?, ?, ?, ?, ?)`,
			r.UUID, r.HostID, r.StartTime, r.Title, r.Duration)
		if err != nil {
			return fmt.Errorf("store: insert recording: %w", err)
		}
		r.ID, _ = res.LastInsertId()
		return nil
	case err != nil:
		return err
	default:
		if r.Title != "" && r.Title != existing.Title {
			if _, err := tx.Exec(`UPDATE recording SET title = ? WHERE uuid = ?`, r.Title, r.UUID); err != nil {
				return fmt.Errorf("store: update recording title: %w", err)
			}
			existing.Title = r.Title
		}
		*r = existing
		return nil
	}
}

// RenameRecording updates the stored title. Missing rows report ErrNotFound.
func (s *Store) RenameRecording(ctx context.Context, uuid, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recording SET title = ? WHERE uuid = ?`, sanitize.String(title), uuid)
	if err != nil {
		return fmt.Errorf("store: rename recording: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRecording removes a recording and all of its ingests. Used by the
// administrative reconciliation path when Zoom no longer knows the uuid.
func (s *Store) DeleteRecording(ctx context.Context, uuid string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM ingest WHERE uuid = ?`, uuid); err != nil {
			return fmt.Errorf("store: delete ingests: %w", err)
		}
		res, err := tx.Exec(`DELETE FROM recording WHERE uuid = ?`, uuid)
		if err != nil {
			return fmt.Errorf("store: delete recording: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SearchRecordings matches recordings against free-text title, user, and date
// queries. Every word of every populated query must match. A query with only
// a user term joins through the cached user table.
func (s *Store) SearchRecordings(ctx context.Context, title, user, date string) ([]Recording, error) {
	var (
		conds []string
		args  []any
	)
	for _, w := range wildcard(title) {
		conds = append(conds, `LOWER(r.title) LIKE ?`)
		args = append(args, w)
	}
	for _, w := range wildcard(date) {
		conds = append(conds, `LOWER(r.start_time) LIKE ?`)
		args = append(args, w)
	}
	join := ""
	if user != "" {
		join = `JOIN user u ON u.user_id = r.host_id`
		var userConds []string
		for _, w := range wildcard(user) {
			userConds = append(userConds,
				`(LOWER(u.first_name) LIKE ? OR LOWER(u.last_name) LIKE ? OR LOWER(u.email) LIKE ?)`)
			args = append(args, w, w, w)
		}
		conds = append(conds, "("+strings.Join(userConds, " AND ")+")")
	}
	if len(conds) == 0 {
		return nil, nil
	}

	query := `SELECT r.id, r.uuid, r.host_id, r.start_time, r.title, r.duration FROM recording r ` +
		join + ` WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY r.start_time DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
