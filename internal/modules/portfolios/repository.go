// Package portfolios stores portfolio configuration in portfolios.db.
// The engine reads configuration through this repository and writes back
// lastRebalancedAt, nextRebalanceAt and the fee accumulator.
package portfolios

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// Repository handles portfolio database operations.
type Repository struct {
	db  *sql.DB        // portfolios.db - portfolios table
	log zerolog.Logger // Structured logger
}

// NewRepository creates a new portfolio repository.
//
// Parameters:
//   - db: Database connection to portfolios.db
//   - log: Structured logger
//
// Returns:
//   - *Repository: Initialized repository instance
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "portfolios").Logger(),
	}
}

const portfolioColumns = `id, owner_id, name, base_currency, target_weights, rebalance_threshold,
	rebalance_enabled, threshold_rebalance_enabled, threshold_percentage, max_orders_per_rebalance,
	order_type, smart_routing_enabled, check_frequency, scheduler_enabled,
	last_rebalanced_at, next_rebalance_at, total_fees_paid, created_at, updated_at`

// GetByID retrieves a portfolio.
//
// Returns:
//   - *domain.Portfolio: The portfolio
//   - error: a NotFound domain error when no portfolio has this id
func (r *Repository) GetByID(id string) (*domain.Portfolio, error) {
	row := r.db.QueryRow("SELECT "+portfolioColumns+" FROM portfolios WHERE id = ?", id)
	p, err := scanPortfolio(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("portfolio", id)
	}
	if err != nil {
		return nil, persistenceError("get", fmt.Errorf("failed to get portfolio %s: %w", id, err))
	}
	return p, nil
}

// List returns all portfolios ordered by id.
func (r *Repository) List() ([]domain.Portfolio, error) {
	return r.query("SELECT " + portfolioColumns + " FROM portfolios ORDER BY id")
}

// ListSchedulable returns portfolios the scheduler should keep a task for:
// scheduler enabled and at least one kind of rebalancing enabled.
func (r *Repository) ListSchedulable() ([]domain.Portfolio, error) {
	return r.query("SELECT " + portfolioColumns + ` FROM portfolios
		WHERE scheduler_enabled = 1
		AND (rebalance_enabled = 1 OR threshold_rebalance_enabled = 1)
		ORDER BY id`)
}

func (r *Repository) query(q string, args ...interface{}) ([]domain.Portfolio, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, persistenceError("list", fmt.Errorf("failed to query portfolios: %w", err))
	}
	defer rows.Close()

	var out []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, persistenceError("list", fmt.Errorf("failed to scan portfolio: %w", err))
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list", fmt.Errorf("error iterating portfolios: %w", err))
	}
	return out, nil
}

// Upsert validates and stores a portfolio's configuration.
// On update, the engine-owned fields (last rebalance, next rebalance, fees paid,
// created at) are preserved.
//
// Parameters:
//   - p: Portfolio to store
//
// Returns:
//   - error: ConfigurationError/ValidationError when p is invalid, PersistenceError on write failure
func (r *Repository) Upsert(p domain.Portfolio) error {
	if err := p.Validate(); err != nil {
		return err
	}

	weights, err := json.Marshal(p.TargetWeights)
	if err != nil {
		return fmt.Errorf("failed to encode target weights: %w", err)
	}

	orderType := p.OrderType
	if orderType == "" {
		orderType = domain.OrderTypeMarket
	}
	now := time.Now().Unix()

	_, err = r.db.Exec(`
		INSERT INTO portfolios (
			id, owner_id, name, base_currency, target_weights, rebalance_threshold,
			rebalance_enabled, threshold_rebalance_enabled, threshold_percentage, max_orders_per_rebalance,
			order_type, smart_routing_enabled, check_frequency, scheduler_enabled,
			total_fees_paid, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			base_currency = excluded.base_currency,
			target_weights = excluded.target_weights,
			rebalance_threshold = excluded.rebalance_threshold,
			rebalance_enabled = excluded.rebalance_enabled,
			threshold_rebalance_enabled = excluded.threshold_rebalance_enabled,
			threshold_percentage = excluded.threshold_percentage,
			max_orders_per_rebalance = excluded.max_orders_per_rebalance,
			order_type = excluded.order_type,
			smart_routing_enabled = excluded.smart_routing_enabled,
			check_frequency = excluded.check_frequency,
			scheduler_enabled = excluded.scheduler_enabled,
			updated_at = excluded.updated_at
	`,
		p.ID, p.OwnerID, p.Name, p.Quote(), string(weights), p.RebalanceThreshold,
		boolToInt(p.RebalanceEnabled), boolToInt(p.ThresholdRebalanceEnabled), p.ThresholdPercentage, p.MaxOrdersPerRebalance,
		string(orderType), boolToInt(p.SmartRoutingEnabled), string(p.CheckFrequency.OrDefault()), boolToInt(p.SchedulerEnabled),
		now, now,
	)
	if err != nil {
		return persistenceError("upsert", fmt.Errorf("failed to upsert portfolio %s: %w", p.ID, err))
	}

	r.log.Debug().Str("portfolio_id", p.ID).Msg("Portfolio stored")
	return nil
}

// Delete removes a portfolio. Deleting a missing portfolio returns NotFound.
func (r *Repository) Delete(id string) error {
	res, err := r.db.Exec("DELETE FROM portfolios WHERE id = ?", id)
	if err != nil {
		return persistenceError("delete", fmt.Errorf("failed to delete portfolio %s: %w", id, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("portfolio", id)
	}
	return nil
}

// RecordRebalance stamps a successful live run and adds its fees to the accumulator.
// Negative fees are ignored so the accumulator never decreases.
func (r *Repository) RecordRebalance(id string, at time.Time, fees float64) error {
	if fees < 0 {
		fees = 0
	}
	res, err := r.db.Exec(`
		UPDATE portfolios
		SET last_rebalanced_at = ?, total_fees_paid = total_fees_paid + ?, updated_at = ?
		WHERE id = ?
	`, at.Unix(), fees, time.Now().Unix(), id)
	if err != nil {
		return persistenceError("record_rebalance", fmt.Errorf("failed to record rebalance for %s: %w", id, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("portfolio", id)
	}
	return nil
}

// UpdateNextRebalance stores the scheduler's next fire time; nil clears it.
func (r *Repository) UpdateNextRebalance(id string, at *time.Time) error {
	var value interface{}
	if at != nil {
		value = at.Unix()
	}
	_, err := r.db.Exec("UPDATE portfolios SET next_rebalance_at = ? WHERE id = ?", value, id)
	if err != nil {
		return persistenceError("update_next_rebalance", fmt.Errorf("failed to update next rebalance for %s: %w", id, err))
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPortfolio(s scanner) (*domain.Portfolio, error) {
	var (
		p                                         domain.Portfolio
		weights, orderType, frequency             string
		rebalanceEnabled, thresholdEnabled, smart int
		schedulerEnabled                          int
		lastRebalancedAt, nextRebalanceAt         sql.NullInt64
		createdAt, updatedAt                      int64
	)

	err := s.Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.BaseCurrency, &weights, &p.RebalanceThreshold,
		&rebalanceEnabled, &thresholdEnabled, &p.ThresholdPercentage, &p.MaxOrdersPerRebalance,
		&orderType, &smart, &frequency, &schedulerEnabled,
		&lastRebalancedAt, &nextRebalanceAt, &p.TotalFeesPaid, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(weights), &p.TargetWeights); err != nil {
		return nil, fmt.Errorf("failed to decode target weights for %s: %w", p.ID, err)
	}
	p.RebalanceEnabled = rebalanceEnabled != 0
	p.ThresholdRebalanceEnabled = thresholdEnabled != 0
	p.SmartRoutingEnabled = smart != 0
	p.SchedulerEnabled = schedulerEnabled != 0
	p.OrderType = domain.OrderType(orderType)
	p.CheckFrequency = domain.CheckFrequency(frequency)
	p.LastRebalancedAt = unixPtr(lastRebalancedAt)
	p.NextRebalanceAt = unixPtr(nextRebalanceAt)
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &p, nil
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func persistenceError(op string, err error) error {
	return domain.NewError(domain.KindPersistence, "portfolios."+op, "", err)
}
