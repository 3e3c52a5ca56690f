package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/mbd888/walletrisk/internal/pagination"
	"github.com/mbd888/walletrisk/internal/scoring"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed run store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

// CreateRun stores a new run
func (p *PostgresStore) CreateRun(ctx context.Context, run *Run) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO scoring_runs (id, status, wallets, wallet_count, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ID, run.Status, pq.StringArray(run.Wallets), run.WalletCount, run.CreatedAt)
	return err
}

// GetRun retrieves a run by ID
func (p *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	var wallets pq.StringArray
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT id, status, wallets, wallet_count, error_message,
		       created_at, started_at, completed_at
		FROM scoring_runs WHERE id = $1
	`, id).Scan(
		&run.ID, &run.Status, &wallets, &run.WalletCount, &errMsg,
		&run.CreatedAt, &startedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Wallets = []string(wallets)
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// UpdateRun updates a run's status fields
func (p *PostgresStore) UpdateRun(ctx context.Context, run *Run) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE scoring_runs SET
			status = $2, error_message = NULLIF($3, ''),
			started_at = $4, completed_at = $5
		WHERE id = $1
	`, run.ID, run.Status, run.Error, run.StartedAt, run.CompletedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrRunNotFound
	}
	return err
}

// ListRuns returns runs newest first, starting after the cursor.
func (p *PostgresStore) ListRuns(ctx context.Context, limit int, after *pagination.Cursor) ([]*Run, error) {
	query := `
		SELECT id, status, wallet_count, error_message,
		       created_at, started_at, completed_at
		FROM scoring_runs`
	args := []interface{}{}

	if after != nil {
		query += ` WHERE (created_at, id) < ($1, $2)`
		args = append(args, after.CreatedAt, after.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		run := &Run{}
		var errMsg sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(
			&run.ID, &run.Status, &run.WalletCount, &errMsg,
			&run.CreatedAt, &startedAt, &completedAt,
		); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			run.Error = errMsg.String
		}
		if startedAt.Valid {
			run.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

// SaveScores stores a run's scores in a single transaction, preserving
// batch input order through the position column.
func (p *PostgresStore) SaveScores(ctx context.Context, runID string, scores []scoring.ScoreRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO wallet_scores (run_id, position, address, score, factors, scored_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, sc := range scores {
		factors, err := json.Marshal(sc.Factors)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, runID, i, sc.WalletID, sc.Score, factors, sc.ScoredAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListScores returns a run's scores in input order
func (p *PostgresStore) ListScores(ctx context.Context, runID string) ([]scoring.ScoreRecord, error) {
	if _, err := p.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT address, score, factors, scored_at
		FROM wallet_scores
		WHERE run_id = $1
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []scoring.ScoreRecord
	for rows.Next() {
		var sc scoring.ScoreRecord
		var factors []byte
		if err := rows.Scan(&sc.WalletID, &sc.Score, &factors, &sc.ScoredAt); err != nil {
			return nil, err
		}
		if len(factors) > 0 {
			if err := json.Unmarshal(factors, &sc.Factors); err != nil {
				return nil, err
			}
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

// ListWalletScores returns a wallet's score history across runs, newest first
func (p *PostgresStore) ListWalletScores(ctx context.Context, address string, limit int) ([]WalletScore, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT run_id, address, score, scored_at
		FROM wallet_scores
		WHERE address = $1
		ORDER BY scored_at DESC
		LIMIT $2
	`, strings.ToLower(address), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []WalletScore
	for rows.Next() {
		var ws WalletScore
		if err := rows.Scan(&ws.RunID, &ws.Address, &ws.Score, &ws.ScoredAt); err != nil {
			return nil, err
		}
		history = append(history, ws)
	}
	return history, rows.Err()
}
