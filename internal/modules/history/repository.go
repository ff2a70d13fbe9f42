// Package history records rebalance runs in history.db.
package history

import (
	"bytes"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Entry is a summary row of the history table
type Entry struct {
	ID               string           `json:"id"`
	PortfolioID      string           `json:"portfolioId"`
	ExecutedAt       time.Time        `json:"executedAt"`
	DryRun           bool             `json:"dryRun"`
	Trigger          domain.Trigger   `json:"trigger"`
	Status           domain.RunStatus `json:"status"`
	Success          bool             `json:"success"`
	TotalOrders      int              `json:"totalOrders"`
	SuccessfulOrders int              `json:"successfulOrders"`
	FailedOrders     int              `json:"failedOrders"`
	SkippedOrders    int              `json:"skippedOrders"`
	TotalValueTraded float64          `json:"totalValueTraded"`
	TotalFees        float64          `json:"totalFees"`
}

// Repository handles rebalance history.
// Rows are append-only; the full RebalanceResult is kept as a msgpack payload.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new history repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "history").Logger(),
	}
}

// Save appends a result
func (r *Repository) Save(result *domain.RebalanceResult) error {
	payload, err := encodeResult(result)
	if err != nil {
		return persistenceError("save", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO rebalance_history (
			id, portfolio_id, executed_at, dry_run, run_trigger, status, success,
			total_orders, successful_orders, failed_orders, skipped_orders,
			total_value_traded, total_fees, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.ID, result.PortfolioID, result.Timestamp.UnixMilli(), boolToInt(result.DryRun),
		string(result.Trigger), string(result.Status), boolToInt(result.Success),
		result.Summary.TotalOrders, result.Summary.SuccessfulOrders, result.Summary.FailedOrders, result.Summary.SkippedOrders,
		result.Summary.TotalValueTraded, result.Summary.TotalFees, payload,
	)
	if err != nil {
		return persistenceError("save", fmt.Errorf("failed to insert history %s: %w", result.ID, err))
	}
	return nil
}

// ListByPortfolio returns the newest entries for a portfolio, newest first
func (r *Repository) ListByPortfolio(portfolioID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := r.db.Query(`
		SELECT id, portfolio_id, executed_at, dry_run, run_trigger, status, success,
			total_orders, successful_orders, failed_orders, skipped_orders,
			total_value_traded, total_fees
		FROM rebalance_history
		WHERE portfolio_id = ?
		ORDER BY executed_at DESC, id
		LIMIT ?
	`, portfolioID, limit)
	if err != nil {
		return nil, persistenceError("list", fmt.Errorf("failed to query history: %w", err))
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e               Entry
			executedAt      int64
			dryRun, success int
			trigger, status string
		)
		if err := rows.Scan(
			&e.ID, &e.PortfolioID, &executedAt, &dryRun, &trigger, &status, &success,
			&e.TotalOrders, &e.SuccessfulOrders, &e.FailedOrders, &e.SkippedOrders,
			&e.TotalValueTraded, &e.TotalFees,
		); err != nil {
			return nil, persistenceError("list", fmt.Errorf("failed to scan history: %w", err))
		}
		e.ExecutedAt = time.UnixMilli(executedAt).UTC()
		e.DryRun = dryRun != 0
		e.Success = success != 0
		e.Trigger = domain.Trigger(trigger)
		e.Status = domain.RunStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list", err)
	}
	return out, nil
}

// GetByID returns the full stored result
func (r *Repository) GetByID(id string) (*domain.RebalanceResult, error) {
	var payload []byte
	err := r.db.QueryRow("SELECT payload FROM rebalance_history WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("rebalance", id)
	}
	if err != nil {
		return nil, persistenceError("get", fmt.Errorf("failed to get history %s: %w", id, err))
	}

	result, err := decodeResult(payload)
	if err != nil {
		return nil, persistenceError("get", err)
	}
	return result, nil
}

// DeleteOlderThan removes entries executed before cutoff and returns how many were removed
func (r *Repository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec("DELETE FROM rebalance_history WHERE executed_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, persistenceError("prune", fmt.Errorf("failed to prune history: %w", err))
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("Pruned rebalance history")
	}
	return n, nil
}

// Payloads reuse the json tags so stored results and API responses share field names
func encodeResult(result *domain.RebalanceResult) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.SetOmitEmpty(true)
	if err := enc.Encode(result); err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeResult(payload []byte) (*domain.RebalanceResult, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.SetCustomStructTag("json")
	var result domain.RebalanceResult
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &result, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func persistenceError(op string, err error) error {
	return domain.NewError(domain.KindPersistence, "history."+op, "", err)
}
