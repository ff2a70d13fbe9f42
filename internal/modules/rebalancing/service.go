// Package rebalancing implements the rebalancing engine: valuing a portfolio,
// checking its drift against target weights, planning orders, fitting buys to
// available capital and executing the plan.
package rebalancing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/events"
)

const eventModule = "rebalancing"

// PortfolioStore loads portfolios and records completed runs
type PortfolioStore interface {
	GetByID(id string) (*domain.Portfolio, error)
	RecordRebalance(id string, at time.Time, fees float64) error
}

// HistoryStore persists run results
type HistoryStore interface {
	Save(result *domain.RebalanceResult) error
}

// Config tunes the engine
type Config struct {
	FeeRate        float64 // Used when the exchange does not report a fee
	RecordPreviews bool    // Write dry runs to history
}

// Service is the rebalancing pipeline. Live runs for one portfolio are
// serialized through the lock manager.
type Service struct {
	portfolios PortfolioStore
	history    HistoryStore
	monitor    *Monitor
	executor   *Executor
	locks      *LockManager
	events     *events.Manager
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time
}

// NewService creates the rebalancing service
func NewService(
	portfolios PortfolioStore,
	history HistoryStore,
	gateway domain.ExchangeGateway,
	locks *LockManager,
	eventManager *events.Manager,
	cfg Config,
	log zerolog.Logger,
) *Service {
	if locks == nil {
		locks = NewLockManager()
	}
	return &Service{
		portfolios: portfolios,
		history:    history,
		monitor:    NewMonitor(gateway, log),
		executor:   NewExecutor(gateway, cfg.FeeRate, log),
		locks:      locks,
		events:     eventManager,
		cfg:        cfg,
		log:        log.With().Str("service", "rebalancing").Logger(),
		now:        time.Now,
	}
}

// Locks returns the per-portfolio lock manager
func (s *Service) Locks() *LockManager {
	return s.locks
}

// CheckThreshold reports how far a portfolio has drifted from its targets.
// With threshold rebalancing disabled it reports no breach without contacting the exchange.
func (s *Service) CheckThreshold(ctx context.Context, portfolioID string) (*domain.ThresholdReport, error) {
	p, err := s.load(portfolioID)
	if err != nil {
		return nil, err
	}

	if !p.ThresholdRebalanceEnabled {
		return &domain.ThresholdReport{
			PortfolioID:         p.ID,
			ThresholdPercentage: p.ThresholdPercentage,
			Deviations:          []domain.SymbolDeviation{},
			CheckedAt:           s.now(),
		}, nil
	}

	snapshot, err := s.monitor.Snapshot(ctx, p)
	if err != nil {
		return nil, err
	}
	report := evaluate(p, snapshot, s.now())
	if report.Breached {
		s.emitBreach(report)
	}
	return report, nil
}

// PreviewRebalance computes a full run without placing orders
func (s *Service) PreviewRebalance(ctx context.Context, portfolioID string, overrides *domain.Overrides) (*domain.RebalanceResult, error) {
	p, err := s.loadWithOverrides(portfolioID, overrides)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, runRequest{portfolio: p, dryRun: true, trigger: domain.TriggerAPI})
}

// ExecuteRebalance runs a live rebalance. It fails fast with a RunInProgress
// error when the portfolio is already being rebalanced.
func (s *Service) ExecuteRebalance(ctx context.Context, portfolioID string, overrides *domain.Overrides) (*domain.RebalanceResult, error) {
	if !s.locks.TryAcquire(portfolioID) {
		return nil, domain.ErrRunInProgress(portfolioID)
	}
	defer s.locks.Release(portfolioID)

	p, err := s.loadWithOverrides(portfolioID, overrides)
	if err != nil {
		return nil, err
	}
	return s.run(context.WithoutCancel(ctx), runRequest{portfolio: p, trigger: domain.TriggerAPI})
}

// RunScheduled is invoked when a portfolio's schedule fires. A fire that finds
// the portfolio locked is dropped. Portfolios with threshold rebalancing only
// trade on a breach; otherwise the run is a periodic rebalance.
func (s *Service) RunScheduled(ctx context.Context, portfolioID string) error {
	if !s.locks.TryAcquire(portfolioID) {
		s.log.Info().Str("portfolio_id", portfolioID).Msg("Rebalance already in progress, skipping scheduled run")
		return nil
	}
	defer s.locks.Release(portfolioID)

	p, err := s.load(portfolioID)
	if err != nil {
		return err
	}
	if !p.Schedulable() {
		s.log.Debug().Str("portfolio_id", portfolioID).Msg("Portfolio no longer schedulable, skipping")
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	if p.ThresholdRebalanceEnabled {
		return s.rebalanceOnBreach(ctx, p)
	}
	_, err = s.run(ctx, runRequest{portfolio: *p, trigger: domain.TriggerScheduled})
	return err
}

// RunManual forces a live rebalance outside the schedule
func (s *Service) RunManual(ctx context.Context, portfolioID string) error {
	if !s.locks.TryAcquire(portfolioID) {
		return domain.ErrRunInProgress(portfolioID)
	}
	defer s.locks.Release(portfolioID)

	p, err := s.load(portfolioID)
	if err != nil {
		return err
	}
	_, err = s.run(context.WithoutCancel(ctx), runRequest{portfolio: *p, trigger: domain.TriggerManual})
	return err
}

// RunCheck evaluates the threshold now and rebalances if it is breached
func (s *Service) RunCheck(ctx context.Context, portfolioID string) error {
	if !s.locks.TryAcquire(portfolioID) {
		return domain.ErrRunInProgress(portfolioID)
	}
	defer s.locks.Release(portfolioID)

	p, err := s.load(portfolioID)
	if err != nil {
		return err
	}
	if !p.ThresholdRebalanceEnabled {
		s.log.Debug().Str("portfolio_id", portfolioID).Msg("Threshold rebalancing disabled, nothing to check")
		return nil
	}
	return s.rebalanceOnBreach(context.WithoutCancel(ctx), p)
}

// rebalanceOnBreach values the portfolio once and reuses the snapshot for the
// run when the threshold is breached. The caller holds the lock.
func (s *Service) rebalanceOnBreach(ctx context.Context, p *domain.Portfolio) error {
	snapshot, err := s.monitor.Snapshot(ctx, p)
	if err != nil {
		s.emitFailure(p.ID, domain.TriggerThreshold, err)
		return err
	}

	report := evaluate(p, snapshot, s.now())
	if !report.Breached {
		s.log.Debug().
			Str("portfolio_id", p.ID).
			Float64("max_deviation", report.MaxDeviation).
			Float64("threshold", p.ThresholdPercentage).
			Msg("Threshold not breached")
		return nil
	}
	s.emitBreach(report)

	_, err = s.run(ctx, runRequest{
		portfolio: *p,
		trigger:   domain.TriggerThreshold,
		snapshot:  snapshot,
		threshold: report,
	})
	return err
}

type runRequest struct {
	portfolio domain.Portfolio
	dryRun    bool
	trigger   domain.Trigger

	// Reused from a threshold check in the same run
	snapshot  *domain.PortfolioSnapshot
	threshold *domain.ThresholdReport
}

// run is the pipeline: value, plan, allocate, execute, record. Errors before
// execution abort the run and return no result; anything after execution
// starts is reported inside the result.
func (s *Service) run(ctx context.Context, req runRequest) (*domain.RebalanceResult, error) {
	start := s.now()
	p := &req.portfolio

	s.emitTyped(&events.RebalanceStartedData{PortfolioID: p.ID, Trigger: string(req.trigger), DryRun: req.dryRun})

	snapshot := req.snapshot
	if snapshot == nil {
		var err error
		if snapshot, err = s.monitor.Snapshot(ctx, p); err != nil {
			s.emitFailure(p.ID, req.trigger, err)
			return nil, err
		}
	}

	minimums, err := s.monitor.LotMinimums(ctx, p)
	if err != nil {
		s.emitFailure(p.ID, req.trigger, err)
		return nil, err
	}
	snapshot.LotMinimums = minimums

	threshold := req.threshold
	if threshold == nil {
		threshold = evaluate(p, snapshot, start)
	}

	quote := p.Quote()
	weights := canonicalWeights(p)
	planned := PlanOrders(PlanInput{
		Weights:            weights,
		Snapshot:           snapshot,
		LotMinimums:        minimums,
		RebalanceThreshold: p.RebalanceThreshold,
		Quote:              quote,
	})

	var reserved float64
	if weight, ok := weights[quote]; ok {
		reserved = weight / 100 * snapshot.TotalValue
	}

	execution := s.executor.Execute(ctx, ExecutionInput{
		Portfolio:    p,
		Snapshot:     snapshot,
		Planned:      planned,
		DryRun:       req.dryRun,
		ReservedCash: reserved,
	})

	result := &domain.RebalanceResult{
		ID:             uuid.NewString(),
		PortfolioID:    p.ID,
		Timestamp:      start,
		DryRun:         req.dryRun,
		Trigger:        req.trigger,
		Status:         execution.Status,
		Success:        execution.Success,
		Portfolio:      *snapshot,
		Threshold:      threshold,
		OrdersPlanned:  nonNilOrders(planned),
		OrdersExecuted: nonNilOrders(execution.Executed),
		SkippedOrders:  nonNilOrders(execution.Skipped),
		Errors:         nonNilStrings(execution.Errors),
		Warnings:       []string{},
		FundAllocation: execution.FundAllocation,
		Summary:        execution.Summary,
	}

	if !req.dryRun && result.Success {
		if err := s.portfolios.RecordRebalance(p.ID, result.Timestamp, result.Summary.TotalFees); err != nil {
			s.log.Error().Err(err).Str("portfolio_id", p.ID).Msg("Failed to record rebalance on portfolio")
			result.Warnings = append(result.Warnings, fmt.Sprintf("portfolio not updated: %v", err))
		}
	}

	result.DurationMs = s.now().Sub(start).Milliseconds()

	if !req.dryRun || s.cfg.RecordPreviews {
		if err := s.history.Save(result); err != nil {
			s.log.Error().Err(err).Str("portfolio_id", p.ID).Str("result_id", result.ID).Msg("Failed to save rebalance history")
			result.Warnings = append(result.Warnings, fmt.Sprintf("history not saved: %v", err))
		}
	}

	s.log.Info().
		Str("portfolio_id", p.ID).
		Str("result_id", result.ID).
		Str("trigger", string(req.trigger)).
		Bool("dry_run", req.dryRun).
		Str("status", string(result.Status)).
		Int("planned", len(result.OrdersPlanned)).
		Int("executed", result.Summary.TotalOrders).
		Int("failed", result.Summary.FailedOrders).
		Int("skipped", result.Summary.SkippedOrders).
		Float64("fees", result.Summary.TotalFees).
		Int64("duration_ms", result.DurationMs).
		Msg("Rebalance finished")

	s.emitResult(result)
	return result, nil
}

func (s *Service) load(portfolioID string) (*domain.Portfolio, error) {
	p, err := s.portfolios.GetByID(portfolioID)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) loadWithOverrides(portfolioID string, overrides *domain.Overrides) (domain.Portfolio, error) {
	p, err := s.portfolios.GetByID(portfolioID)
	if err != nil {
		return domain.Portfolio{}, err
	}
	return overrides.Apply(*p)
}

func (s *Service) emitTyped(data events.EventData) {
	if s.events == nil {
		return
	}
	s.events.EmitTyped(eventModule, data)
}

func (s *Service) emitBreach(report *domain.ThresholdReport) {
	s.log.Info().
		Str("portfolio_id", report.PortfolioID).
		Float64("max_deviation", report.MaxDeviation).
		Float64("threshold", report.ThresholdPercentage).
		Msg("Threshold breached")
	s.emitTyped(&events.ThresholdBreachedData{
		PortfolioID:         report.PortfolioID,
		MaxDeviation:        report.MaxDeviation,
		ThresholdPercentage: report.ThresholdPercentage,
		TotalValue:          report.TotalValue,
	})
}

func (s *Service) emitFailure(portfolioID string, trigger domain.Trigger, err error) {
	s.log.Error().Err(err).Str("portfolio_id", portfolioID).Str("trigger", string(trigger)).Msg("Rebalance aborted")
	s.emitTyped(&events.RebalanceFailedData{
		PortfolioID: portfolioID,
		Trigger:     string(trigger),
		Kind:        string(domain.KindOf(err)),
		Error:       err.Error(),
	})
}

func (s *Service) emitResult(result *domain.RebalanceResult) {
	if !result.DryRun {
		for _, o := range result.OrdersExecuted {
			if o.Succeeded() {
				s.emitTyped(&events.OrderExecutedData{
					PortfolioID: result.PortfolioID,
					Symbol:      o.Symbol,
					Pair:        o.Pair,
					Side:        string(o.Side),
					Volume:      o.Volume,
					Price:       o.Price,
					OrderID:     o.OrderID,
					Status:      string(o.Status),
					Fee:         o.Fee,
				})
				continue
			}
			s.emitTyped(&events.OrderFailedData{
				PortfolioID: result.PortfolioID,
				Symbol:      o.Symbol,
				Pair:        o.Pair,
				Side:        string(o.Side),
				Volume:      o.Volume,
				Error:       o.Error,
			})
		}
	}

	s.emitTyped(&events.RebalanceCompletedData{
		PortfolioID:      result.PortfolioID,
		ResultID:         result.ID,
		Trigger:          string(result.Trigger),
		DryRun:           result.DryRun,
		Status:           string(result.Status),
		Success:          result.Success,
		TotalOrders:      result.Summary.TotalOrders,
		SuccessfulOrders: result.Summary.SuccessfulOrders,
		FailedOrders:     result.Summary.FailedOrders,
		SkippedOrders:    result.Summary.SkippedOrders,
		TotalValueTraded: result.Summary.TotalValueTraded,
		TotalFees:        result.Summary.TotalFees,
	})
}

func nonNilOrders(orders []domain.RebalanceOrder) []domain.RebalanceOrder {
	if orders == nil {
		return []domain.RebalanceOrder{}
	}
	return orders
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
