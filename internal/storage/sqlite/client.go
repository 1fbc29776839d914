package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/aws-agent/verity/internal/audit"
	"github.com/aws-agent/verity/internal/storage/models"
	"github.com/aws-agent/verity/pkg/logger"
)

var ErrNotFound = errors.New("evaluation not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS evaluations (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		query_hash TEXT NOT NULL,
		final_status TEXT NOT NULL,
		final_quality REAL NOT NULL,
		epistemic TEXT,
		rounds_used INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		error TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_status ON evaluations(final_status);
	CREATE INDEX IF NOT EXISTS idx_evaluations_created ON evaluations(created_at);

	CREATE TABLE IF NOT EXISTS evaluation_rounds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		evaluation_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		status TEXT NOT NULL,
		quality REAL NOT NULL,
		epistemic TEXT,
		rule INTEGER NOT NULL,
		action TEXT NOT NULL,
		reason TEXT,
		verdicts TEXT,
		FOREIGN KEY (evaluation_id) REFERENCES evaluations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_rounds_evaluation ON evaluation_rounds(evaluation_id);

	CREATE TABLE IF NOT EXISTS evaluation_reasons (
		evaluation_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (evaluation_id, reason),
		FOREIGN KEY (evaluation_id) REFERENCES evaluations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_reasons_reason ON evaluation_reasons(reason);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// Record persists one audit event in a single transaction.
func (c *Client) Record(ctx context.Context, e *audit.Event) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO evaluations (id, mode, query_hash, final_status, final_quality, epistemic,
			rounds_used, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID,
		string(e.Mode),
		e.QueryHash,
		string(e.FinalStatus),
		e.FinalQuality,
		string(e.Epistemic),
		e.RoundsUsed,
		e.Duration.Milliseconds(),
		e.Error,
		e.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}

	// Transitions outnumber rounds by one when regeneration ran out of time;
	// the last decision for a round wins.
	decisions := make(map[int]audit.Transition, len(e.Transitions))
	for _, t := range e.Transitions {
		decisions[t.Round] = t
	}
	for _, out := range e.Rounds {
		verdicts, err := json.Marshal(out.Verdicts)
		if err != nil {
			return fmt.Errorf("failed to marshal verdicts: %w", err)
		}
		t := decisions[out.Round]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO evaluation_rounds (evaluation_id, round, status, quality, epistemic, rule, action, reason, verdicts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.RequestID, out.Round, string(out.Status), out.Quality, string(out.Epistemic),
			t.Rule, string(t.Action), t.Reason, string(verdicts),
		)
		if err != nil {
			return fmt.Errorf("failed to insert round: %w", err)
		}
	}

	for _, reason := range e.SortedReasons() {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO evaluation_reasons (evaluation_id, reason, count) VALUES (?, ?, ?)`,
			e.RequestID, reason, e.ReasonCounts[reason],
		)
		if err != nil {
			return fmt.Errorf("failed to insert reason count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit evaluation: %w", err)
	}

	logger.Debug("Evaluation recorded",
		zap.String("request_id", e.RequestID),
		zap.String("final_status", string(e.FinalStatus)),
	)
	return nil
}

func (c *Client) GetEvaluation(ctx context.Context, id string) (*models.EvaluationRecord, error) {
	query := `SELECT id, mode, query_hash, final_status, final_quality, epistemic, rounds_used,
		duration_ms, error, created_at FROM evaluations WHERE id = ?`

	rec, err := scanEvaluation(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation: %w", err)
	}
	return rec, nil
}

func (c *Client) ListEvaluations(ctx context.Context, f models.EvaluationFilter) ([]models.EvaluationRecord, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "final_status = ?")
		args = append(args, f.Status)
	}
	if f.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, f.Mode)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.Unix())
	}

	query := `SELECT id, mode, query_hash, final_status, final_quality, epistemic, rounds_used,
		duration_ms, error, created_at FROM evaluations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	var records []models.EvaluationRecord
	for rows.Next() {
		rec, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (c *Client) GetRounds(ctx context.Context, evaluationID string) ([]models.RoundRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT evaluation_id, round, status, quality, epistemic, rule, action, reason, verdicts
		FROM evaluation_rounds WHERE evaluation_id = ? ORDER BY round`, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rounds: %w", err)
	}
	defer rows.Close()

	var rounds []models.RoundRecord
	for rows.Next() {
		var r models.RoundRecord
		var epistemic, reason, verdicts sql.NullString
		err := rows.Scan(&r.EvaluationID, &r.Round, &r.Status, &r.Quality, &epistemic,
			&r.Rule, &r.Action, &reason, &verdicts)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Epistemic = epistemic.String
		r.Reason = reason.String
		r.Verdicts = verdicts.String
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// ReasonTotals aggregates reason counts over every stored evaluation, most
// frequent first.
func (c *Client) ReasonTotals(ctx context.Context) ([]models.ReasonCount, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT reason, SUM(count) AS total FROM evaluation_reasons
		GROUP BY reason ORDER BY total DESC, reason`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate reasons: %w", err)
	}
	defer rows.Close()

	var totals []models.ReasonCount
	for rows.Next() {
		var rc models.ReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		totals = append(totals, rc)
	}
	return totals, rows.Err()
}

// DeleteBefore removes evaluations older than cutoff and returns how many went.
func (c *Client) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM evaluations WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete evaluations: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(row rowScanner) (*models.EvaluationRecord, error) {
	var r models.EvaluationRecord
	var epistemic, errText sql.NullString
	var createdAt int64

	err := row.Scan(&r.ID, &r.Mode, &r.QueryHash, &r.FinalStatus, &r.FinalQuality, &epistemic,
		&r.RoundsUsed, &r.DurationMS, &errText, &createdAt)
	if err != nil {
		return nil, err
	}
	r.Epistemic = epistemic.String
	r.Error = errText.String
	r.CreatedAt = time.Unix(createdAt, 0)
	return &r, nil
}

var _ audit.Sink = (*Client)(nil)
