package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateWebhook is returned when a second webhook-created ingest is
// attempted for the same recording uuid.
var ErrDuplicateWebhook = errors.New("store: webhook ingest already exists")

func scanIngest(row interface{ Scan(...any) error }) (Ingest, error) {
	var (
		i       Ingest
		status  int
		ts      int64
		mpID    sql.NullString
		wfID    sql.NullString
		webhook int
	)
	err := row.Scan(&i.ID, &i.UUID, &status, &ts, &webhook, &i.Params, &mpID, &wfID)
	if errors.Is(err, sql.ErrNoRows) {
		return Ingest{}, ErrNotFound
	}
	if err != nil {
		return Ingest{}, fmt.Errorf("store: scan ingest: %w", err)
	}
	i.Status = Status(status)
	i.Timestamp = time.Unix(ts, 0).UTC()
	i.IsWebhook = webhook != 0
	i.MediaPackageID = mpID.String
	i.WorkflowID = wfID.String
	return i, nil
}

const ingestColumns = `id, uuid, status, timestamp, is_webhook, zingest_params, mediapackage_id, workflow_id`

// GetIngest fetches an ingest by id.
func (s *Store) GetIngest(ctx context.Context, id int64) (Ingest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ingestColumns+` FROM ingest WHERE id = ?`, id)
	return scanIngest(row)
}

// IngestsForRecording lists all ingests for a recording, newest first.
func (s *Store) IngestsForRecording(ctx context.Context, uuid string) ([]Ingest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ingestColumns+` FROM ingest WHERE uuid = ? ORDER BY id DESC`, uuid)
	if err != nil {
		return nil, fmt.Errorf("store: ingests for recording: %w", err)
	}
	defer rows.Close()
	return collectIngests(rows)
}

func collectIngests(rows *sql.Rows) ([]Ingest, error) {
	var out []Ingest
	for rows.Next() {
		i, err := scanIngest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// HasWebhookIngest reports whether the recording already has a webhook-created
// ingest row.
func (s *Store) HasWebhookIngest(ctx context.Context, uuid string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM ingest WHERE uuid = ? AND is_webhook = 1`, uuid).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: webhook lookup: %w", err)
	}
	return n > 0, nil
}

// CreateIngest atomically upserts the recording and inserts a NEW ingest row.
// The (uuid, is_webhook=true) uniqueness is enforced by a query-then-insert
// inside the same transaction.
func (s *Store) CreateIngest(ctx context.Context, rec Recording, params []byte, isWebhook bool) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertRecordingTx(tx, &rec); err != nil {
			return err
		}
		if isWebhook {
			var n int
			if err := tx.QueryRow(
				`SELECT COUNT(1) FROM ingest WHERE uuid = ? AND is_webhook = 1`, rec.UUID).Scan(&n); err != nil {
				return fmt.Errorf("store: webhook uniqueness check: %w", err)
			}
			if n > 0 {
				return ErrDuplicateWebhook
			}
		}
		webhook := 0
		if isWebhook {
			webhook = 1
		}
		res, err := tx.Exec(
			`INSERT INTO ingest (uuid, status, timestamp, is_webhook, zingest_params) VALUES (?, ?, ?, ?, ?)`,
			rec.UUID, int(StatusNew), time.Now().UTC().Unix(), webhook, params)
		if err != nil {
			return fmt.Errorf("store: insert ingest: %w", err)
		}
		id, _ = res.LastInsertId()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ClaimIngest transitions the ingest to IN_PROGRESS if it is currently in a
// claimable state. It reports false when the row is already in progress,
// terminal, or gone; the caller must then skip the job.
func (s *Store) ClaimIngest(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest SET status = ?, timestamp = ? WHERE id = ? AND status NOT IN (?, ?, ?)`,
		int(StatusInProgress), time.Now().UTC().Unix(), id,
		int(StatusInProgress), int(StatusFinished), int(StatusWarning))
	if err != nil {
		return false, fmt.Errorf("store: claim ingest: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReleaseIngest returns an IN_PROGRESS row to NEW so the reaper can re-drive
// it after a retryable failure.
func (s *Store) ReleaseIngest(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingest SET status = ?, timestamp = ? WHERE id = ? AND status = ?`,
		int(StatusNew), time.Now().UTC().Unix(), id, int(StatusInProgress))
	if err != nil {
		return fmt.Errorf("store: release ingest: %w", err)
	}
	return nil
}

// FinishIngest records a terminal state together with the Opencast identifiers.
func (s *Store) FinishIngest(ctx context.Context, id int64, status Status, mediapackageID, workflowID string) error {
	if !status.Terminal() {
		return fmt.Errorf("store: finish ingest %d with non-terminal status %s", id, status)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingest SET status = ?, timestamp = ?, mediapackage_id = ?, workflow_id = ? WHERE id = ?`,
		int(status), time.Now().UTC().Unix(), mediapackageID, workflowID, id)
	if err != nil {
		return fmt.Errorf("store: finish ingest: %w", err)
	}
	return nil
}

// CancelIngest deletes an ingest that is not being worked on. Rows in
// IN_PROGRESS or FINISHED state are left alone.
func (s *Store) CancelIngest(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ingest WHERE id = ? AND status IN (?, ?)`,
		id, int(StatusNew), int(StatusWarning))
	if err != nil {
		return fmt.Errorf("store: cancel ingest: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// StaleIngests returns rows the reaper should re-drive: not terminal, not
// currently in progress, and untouched since the cutoff.
func (s *Store) StaleIngests(ctx context.Context, cutoff time.Time) ([]Ingest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ingestColumns+` FROM ingest WHERE status NOT IN (?, ?, ?) AND timestamp <= ? ORDER BY timestamp ASC`,
		int(StatusFinished), int(StatusWarning), int(StatusInProgress), cutoff.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("store: stale ingests: %w", err)
	}
	defer rows.Close()
	return collectIngests(rows)
}
