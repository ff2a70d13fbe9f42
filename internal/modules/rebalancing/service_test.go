package rebalancing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/modules/history"
	"github.com/aristath/rebalancer/internal/modules/portfolios"
	testutil "github.com/aristath/rebalancer/internal/testing"
)

type recordCall struct {
	id   string
	at   time.Time
	fees float64
}

type fakePortfolios struct {
	mu         sync.Mutex
	portfolios map[string]domain.Portfolio
	records    []recordCall
	recordErr  error
}

func newFakePortfolios(ps ...domain.Portfolio) *fakePortfolios {
	f := &fakePortfolios{portfolios: make(map[string]domain.Portfolio)}
	for _, p := range ps {
		f.portfolios[p.ID] = p
	}
	return f
}

func (f *fakePortfolios) GetByID(id string) (*domain.Portfolio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.portfolios[id]
	if !ok {
		return nil, domain.ErrNotFound("portfolio", id)
	}
	return &p, nil
}

func (f *fakePortfolios) RecordRebalance(id string, at time.Time, fees float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.records = append(f.records, recordCall{id: id, at: at, fees: fees})
	return nil
}

type fakeHistory struct {
	mu    sync.Mutex
	saved []*domain.RebalanceResult
	err   error
}

func (f *fakeHistory) Save(result *domain.RebalanceResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, result)
	return nil
}

type serviceFixture struct {
	service    *Service
	gateway    *testutil.MockGateway
	portfolios *fakePortfolios
	history    *fakeHistory
	bus        *events.Bus
}

func newServiceFixture(t *testing.T, p domain.Portfolio, cfg Config) *serviceFixture {
	t.Helper()
	gw := testutil.NewSkewedGatewayFixture()
	store := newFakePortfolios(p)
	hist := &fakeHistory{}
	bus := events.NewBus(zerolog.Nop())
	if cfg.FeeRate == 0 {
		cfg.FeeRate = 0.0026
	}
	svc := NewService(store, hist, gw, NewLockManager(), events.NewManager(bus, zerolog.Nop()), cfg, zerolog.Nop())
	return &serviceFixture{service: svc, gateway: gw, portfolios: store, history: hist, bus: bus}
}

func TestService_CheckThreshold(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})

	var breached []*events.Event
	f.bus.Subscribe(events.ThresholdBreached, func(e *events.Event) { breached = append(breached, e) })

	report, err := f.service.CheckThreshold(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, report.Enabled)
	assert.True(t, report.Breached)
	assert.InDelta(t, 10, report.MaxDeviation, 1e-9)
	assert.Equal(t, 10.0, report.ThresholdPercentage)
	assert.Len(t, report.Deviations, 3)
	assert.Len(t, breached, 1)
}

func TestService_CheckThreshold_DisabledSkipsGateway(t *testing.T) {
	p := testutil.NewPortfolioFixture("p1")
	p.ThresholdRebalanceEnabled = false
	f := newServiceFixture(t, p, Config{})

	report, err := f.service.CheckThreshold(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, report.Breached)
	assert.False(t, report.Enabled)
	assert.Equal(t, 0, f.gateway.BalanceCalls())
	assert.Equal(t, 0, f.gateway.PriceCalls())
}

func TestService_CheckThreshold_NotFound(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})

	_, err := f.service.CheckThreshold(context.Background(), "missing")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestService_ExecuteRebalance_Scenario(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})

	result, err := f.service.ExecuteRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)

	assert.False(t, result.DryRun)
	assert.Equal(t, domain.TriggerAPI, result.Trigger)
	assert.Equal(t, domain.RunCompleted, result.Status)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.ID)
	assert.InDelta(t, 10000, result.Portfolio.TotalValue, 1e-9)
	require.NotNil(t, result.Threshold)
	assert.True(t, result.Threshold.Breached)

	require.Len(t, result.OrdersPlanned, 2)
	require.Len(t, result.OrdersExecuted, 2)
	assert.Equal(t, domain.SideSell, result.OrdersExecuted[0].Side)
	assert.Equal(t, "BTC", result.OrdersExecuted[0].Symbol)
	assert.Equal(t, domain.OrderFilled, result.OrdersExecuted[0].Status)
	assert.Equal(t, "ETH", result.OrdersExecuted[1].Symbol)
	assert.InDelta(t, 0.5, result.OrdersExecuted[1].Volume, 1e-12)

	orders := f.gateway.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, domain.SideSell, orders[0].Side)
	assert.Equal(t, "XBTEUR", orders[0].Pair)
	assert.Equal(t, domain.SideBuy, orders[1].Side)
	assert.Equal(t, "ETHEUR", orders[1].Pair)

	assert.Equal(t, 2, result.Summary.TotalOrders)
	assert.Equal(t, 2, result.Summary.SuccessfulOrders)
	assert.InDelta(t, 2000, result.Summary.TotalValueTraded, 1e-6)
	assert.InDelta(t, 5.2, result.Summary.TotalFees, 1e-6)
	assert.Empty(t, result.Errors)

	require.Len(t, f.portfolios.records, 1)
	assert.Equal(t, "p1", f.portfolios.records[0].id)
	assert.InDelta(t, 5.2, f.portfolios.records[0].fees, 1e-6)
	require.Len(t, f.history.saved, 1)
	assert.Equal(t, result.ID, f.history.saved[0].ID)
	assert.False(t, f.service.Locks().IsLocked("p1"))
}

func TestService_PreviewMatchesLivePlan(t *testing.T) {
	preview := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})
	live := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})

	dry, err := preview.service.PreviewRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)
	executed, err := live.service.ExecuteRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)

	assert.Equal(t, dry.OrdersPlanned, executed.OrdersPlanned)
	assert.True(t, dry.DryRun)
	assert.Equal(t, domain.RunPreviewed, dry.Status)
	assert.True(t, dry.Success)
	assert.Empty(t, preview.gateway.Orders(), "a dry run never places orders")

	require.Len(t, dry.OrdersExecuted, 2)
	for _, o := range dry.OrdersExecuted {
		assert.Equal(t, domain.OrderAllocated, o.Status)
		assert.InDelta(t, o.Value()*0.0026, o.Fee, 1e-9)
	}
	assert.InDelta(t, executed.Summary.TotalFees, dry.Summary.TotalFees, 1e-6)

	assert.Empty(t, preview.portfolios.records, "dry runs do not touch the fee accumulator")
	assert.Empty(t, preview.history.saved, "previews are not recorded by default")
}

func TestService_PreviewRecordedWhenConfigured(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{RecordPreviews: true})

	result, err := f.service.PreviewRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)
	require.Len(t, f.history.saved, 1)
	assert.True(t, f.history.saved[0].DryRun)
	assert.Equal(t, result.ID, f.history.saved[0].ID)
}

func TestService_MaxOrdersPerRebalance(t *testing.T) {
	p := testutil.NewPortfolioFixture("p1")
	p.MaxOrdersPerRebalance = 1
	f := newServiceFixture(t, p, Config{})

	result, err := f.service.ExecuteRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)

	assert.Len(t, result.OrdersPlanned, 2, "the full plan is always reported")
	require.Len(t, result.OrdersExecuted, 1)
	assert.Equal(t, domain.SideSell, result.OrdersExecuted[0].Side)
	require.Len(t, result.SkippedOrders, 1)
	assert.Equal(t, "ETH", result.SkippedOrders[0].Symbol)
	assert.Equal(t, domain.SkipMaxOrders, result.SkippedOrders[0].SkipReason)
	assert.Equal(t, 1, result.Summary.SkippedOrders)
	assert.Len(t, f.gateway.Orders(), 1)
}

func TestService_SmartRoutingScalesBuysToRealizedProceeds(t *testing.T) {
	p := testutil.NewPortfolioFixture("p1")
	p.SmartRoutingEnabled = true
	f := newServiceFixture(t, p, Config{})

	result, err := f.service.ExecuteRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)

	assert.True(t, result.FundAllocation.Enabled)
	assert.Equal(t, domain.CapitalRealized, result.FundAllocation.Source)
	assert.InDelta(t, 997.4, result.FundAllocation.AvailableCapital, 1e-6)
	assert.InDelta(t, 1000, result.FundAllocation.TotalBuyDemand, 1e-6)
	assert.InDelta(t, 0.9974, result.FundAllocation.ScaleFactor, 1e-9)

	require.Len(t, result.OrdersExecuted, 2)
	ethBuy := result.OrdersExecuted[1]
	assert.InDelta(t, 0.4987, ethBuy.Volume, 1e-8)
	assert.LessOrEqual(t, ethBuy.Value(), result.FundAllocation.AvailableCapital+1e-9)
}

func TestService_SmartRoutingPreviewUsesEstimates(t *testing.T) {
	p := testutil.NewPortfolioFixture("p1")
	p.SmartRoutingEnabled = true
	f := newServiceFixture(t, p, Config{})

	result, err := f.service.PreviewRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.CapitalEstimated, result.FundAllocation.Source)
	assert.InDelta(t, 997.4, result.FundAllocation.AvailableCapital, 1e-6)
}

func TestService_SmartRoutingIgnoresRestingSells(t *testing.T) {
	p := testutil.NewPortfolioFixture("p1")
	p.SmartRoutingEnabled = true
	f := newServiceFixture(t, p, Config{})
	f.gateway.RestOrdersFor("XBTEUR", 0)

	result, err := f.service.ExecuteRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)

	require.Len(t, result.OrdersExecuted, 1)
	sell := result.OrdersExecuted[0]
	assert.Equal(t, domain.SideSell, sell.Side)
	assert.Equal(t, domain.OrderSubmitted, sell.Status)
	assert.Zero(t, sell.Cost)
	assert.Zero(t, sell.Fee, "nothing executed, nothing charged")

	assert.Zero(t, result.FundAllocation.AvailableCapital)
	assert.Zero(t, result.FundAllocation.ScaleFactor)
	require.Len(t, result.SkippedOrders, 1)
	assert.Equal(t, "ETH", result.SkippedOrders[0].Symbol)
	assert.Equal(t, domain.SkipInsufficientFunds, result.SkippedOrders[0].SkipReason)
	assert.Len(t, f.gateway.Orders(), 1, "no buy is funded by an unfilled sell")

	assert.Zero(t, result.Summary.TotalFees)
	assert.Zero(t, result.Summary.TotalValueTraded)
	require.Len(t, f.portfolios.records, 1)
	assert.Zero(t, f.portfolios.records[0].fees)
}

func TestService_SmartRoutingUsesPartialFills(t *testing.T) {
	p := testutil.NewPortfolioFixture("p1")
	p.SmartRoutingEnabled = true
	f := newServiceFixture(t, p, Config{})
	f.gateway.RestOrdersFor("XBTEUR", 0.5)

	result, err := f.service.ExecuteRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)

	require.Len(t, result.OrdersExecuted, 2)
	sell := result.OrdersExecuted[0]
	assert.Equal(t, domain.OrderSubmitted, sell.Status)
	assert.InDelta(t, 500, sell.Cost, 1e-6)
	assert.InDelta(t, 1.3, sell.Fee, 1e-9)

	assert.InDelta(t, 498.7, result.FundAllocation.AvailableCapital, 1e-6)
	assert.InDelta(t, 0.4987, result.FundAllocation.ScaleFactor, 1e-9)

	buy := result.OrdersExecuted[1]
	assert.InDelta(t, 0.24935, buy.Volume, 1e-8)
	assert.LessOrEqual(t, buy.Value(), result.FundAllocation.AvailableCapital+1e-9)
	assert.InDelta(t, 1.3+498.7*0.0026, result.Summary.TotalFees, 1e-6)
	require.Len(t, f.portfolios.records, 1)
	assert.InDelta(t, result.Summary.TotalFees, f.portfolios.records[0].fees, 1e-9)
}

func TestService_RestingBuyAccruesNoFee(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})
	f.gateway.RestOrdersFor("ETHEUR", 0)

	result, err := f.service.ExecuteRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)

	require.Len(t, result.OrdersExecuted, 2)
	assert.Equal(t, domain.OrderFilled, result.OrdersExecuted[0].Status)
	assert.Equal(t, domain.OrderSubmitted, result.OrdersExecuted[1].Status)
	assert.Zero(t, result.OrdersExecuted[1].Fee)
	assert.InDelta(t, 2.6, result.Summary.TotalFees, 1e-6)
	assert.InDelta(t, 1000, result.Summary.TotalValueTraded, 1e-6)
}

func TestService_PartialFailure(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})
	f.gateway.FailOrdersFor("ETHEUR", &domain.GatewayError{Code: domain.GatewayUnknown, Op: "AddOrder", Message: "EOrder:Insufficient funds"})

	var failed []*events.Event
	f.bus.Subscribe(events.OrderFailed, func(e *events.Event) { failed = append(failed, e) })

	result, err := f.service.ExecuteRebalance(context.Background(), "p1", nil)
	require.NoError(t, err, "order failures are reported in the result")

	assert.Equal(t, domain.RunPartiallyFailed, result.Status)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Summary.SuccessfulOrders)
	assert.Equal(t, 1, result.Summary.FailedOrders)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "ETH")
	assert.Equal(t, domain.OrderFilled, result.OrdersExecuted[0].Status)
	assert.Equal(t, domain.OrderFailed, result.OrdersExecuted[1].Status)
	assert.InDelta(t, 2.6, result.Summary.TotalFees, 1e-6)

	assert.Empty(t, f.portfolios.records, "failed runs do not update the portfolio")
	assert.Len(t, f.history.saved, 1, "failed runs are still recorded")
	assert.Len(t, failed, 1)
}

func TestService_AllOrdersFail(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})
	orderErr := &domain.GatewayError{Code: domain.GatewayUnknown, Op: "AddOrder"}
	f.gateway.FailOrdersFor("XBTEUR", orderErr)
	f.gateway.FailOrdersFor("ETHEUR", orderErr)

	result, err := f.service.ExecuteRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, result.Status)
	assert.Len(t, result.Errors, 2)
	assert.Len(t, f.gateway.Orders(), 2, "a failed sell does not stop the buy")
}

func TestService_LimitOrdersCarryTickerPrice(t *testing.T) {
	p := testutil.NewPortfolioFixture("p1")
	p.OrderType = domain.OrderTypeLimit
	f := newServiceFixture(t, p, Config{})

	_, err := f.service.ExecuteRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)

	orders := f.gateway.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, domain.OrderTypeLimit, orders[0].OrderType)
	assert.Equal(t, 60000.0, orders[0].LimitPrice)
	assert.Equal(t, 2000.0, orders[1].LimitPrice)
}

func TestService_ExecuteRebalance_RunInProgress(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})
	require.True(t, f.service.Locks().TryAcquire("p1"))

	result, err := f.service.ExecuteRebalance(context.Background(), "p1", nil)
	assert.Nil(t, result)
	assert.True(t, domain.IsKind(err, domain.KindRunInProgress))
	assert.Empty(t, f.gateway.Orders())
	assert.True(t, f.service.Locks().IsLocked("p1"), "the holder keeps its lock")
}

func TestService_LockHeldDuringExecution(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})

	var lockedDuringOrder bool
	var secondErr error
	f.gateway.OnPlaceOrder = func(domain.OrderRequest) {
		lockedDuringOrder = f.service.Locks().IsLocked("p1")
		if secondErr == nil {
			_, secondErr = f.service.ExecuteRebalance(context.Background(), "p1", nil)
		}
	}

	_, err := f.service.ExecuteRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.True(t, lockedDuringOrder)
	assert.True(t, domain.IsKind(secondErr, domain.KindRunInProgress))
	assert.False(t, f.service.Locks().IsLocked("p1"))
}

func TestService_PreExecutionGatewayError(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})
	f.gateway.SetBalanceError(&domain.GatewayError{Code: domain.GatewayCredentialsNotConfigured, Op: "Balance"})

	var aborted []*events.Event
	f.bus.Subscribe(events.RebalanceFailed, func(e *events.Event) { aborted = append(aborted, e) })

	result, err := f.service.ExecuteRebalance(context.Background(), "p1", nil)
	assert.Nil(t, result)
	assert.True(t, domain.IsKind(err, domain.KindGateway))
	assert.Empty(t, f.gateway.Orders())
	assert.Empty(t, f.history.saved)
	assert.False(t, f.service.Locks().IsLocked("p1"))
	require.Len(t, aborted, 1)
	assert.Equal(t, "gateway", aborted[0].Data["kind"])
}

func TestService_OverridesValidated(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})

	_, err := f.service.PreviewRebalance(context.Background(), "p1", &domain.Overrides{
		TargetWeights: map[string]float64{"BTC": 60, "ETH": 30},
	})
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
	assert.Equal(t, 0, f.gateway.BalanceCalls())
}

func TestService_OverridesApplyToOneRun(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})
	threshold := 5000.0

	result, err := f.service.PreviewRebalance(context.Background(), "p1", &domain.Overrides{RebalanceThreshold: &threshold})
	require.NoError(t, err)
	assert.Empty(t, result.OrdersPlanned)

	result, err = f.service.PreviewRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.Len(t, result.OrdersPlanned, 2)
}

func TestService_HistoryFailureIsWarning(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})
	f.history.err = domain.NewError(domain.KindPersistence, "history.save", "disk full", nil)

	result, err := f.service.ExecuteRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "history not saved")
	assert.Len(t, f.portfolios.records, 1)
}

func TestService_RunScheduled_OnlyTradesOnBreach(t *testing.T) {
	p := testutil.NewPortfolioFixture("p1")
	p.ThresholdPercentage = 15
	f := newServiceFixture(t, p, Config{})

	require.NoError(t, f.service.RunScheduled(context.Background(), "p1"))
	assert.Empty(t, f.gateway.Orders())
	assert.Empty(t, f.history.saved)

	p.ThresholdPercentage = 10
	f.portfolios.portfolios["p1"] = p
	require.NoError(t, f.service.RunScheduled(context.Background(), "p1"))
	assert.Len(t, f.gateway.Orders(), 2)
	require.Len(t, f.history.saved, 1)
	assert.Equal(t, domain.TriggerThreshold, f.history.saved[0].Trigger)
	assert.Equal(t, 2, f.gateway.BalanceCalls(), "the breach snapshot is reused")
}

func TestService_RunScheduled_PeriodicWithoutThreshold(t *testing.T) {
	p := testutil.NewPortfolioFixture("p1")
	p.ThresholdRebalanceEnabled = false
	f := newServiceFixture(t, p, Config{})

	require.NoError(t, f.service.RunScheduled(context.Background(), "p1"))
	require.Len(t, f.history.saved, 1)
	assert.Equal(t, domain.TriggerScheduled, f.history.saved[0].Trigger)
}

func TestService_RunScheduled_LockedIsNoOp(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})
	require.True(t, f.service.Locks().TryAcquire("p1"))

	assert.NoError(t, f.service.RunScheduled(context.Background(), "p1"))
	assert.Equal(t, 0, f.gateway.BalanceCalls())
}

func TestService_RunScheduled_NotSchedulable(t *testing.T) {
	p := testutil.NewPortfolioFixture("p1")
	p.SchedulerEnabled = false
	f := newServiceFixture(t, p, Config{})

	assert.NoError(t, f.service.RunScheduled(context.Background(), "p1"))
	assert.Equal(t, 0, f.gateway.BalanceCalls())
}

func TestService_RunManualAndCheck(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})

	require.NoError(t, f.service.RunManual(context.Background(), "p1"))
	require.Len(t, f.history.saved, 1)
	assert.Equal(t, domain.TriggerManual, f.history.saved[0].Trigger)

	require.True(t, f.service.Locks().TryAcquire("p1"))
	assert.True(t, domain.IsKind(f.service.RunManual(context.Background(), "p1"), domain.KindRunInProgress))
	assert.True(t, domain.IsKind(f.service.RunCheck(context.Background(), "p1"), domain.KindRunInProgress))
	f.service.Locks().Release("p1")

	require.NoError(t, f.service.RunCheck(context.Background(), "p1"))
	require.Len(t, f.history.saved, 2)
	assert.Equal(t, domain.TriggerThreshold, f.history.saved[1].Trigger)
}

func TestService_EmitsRunEvents(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})

	var types []events.EventType
	f.bus.SubscribeAll(func(e *events.Event) { types = append(types, e.Type) })

	_, err := f.service.ExecuteRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.RebalanceStarted,
		events.OrderExecuted,
		events.OrderExecuted,
		events.RebalanceCompleted,
	}, types)
}

func TestService_WithSQLiteRepositories(t *testing.T) {
	portfolioDB := testutil.NewTestDB(t, "portfolios")
	historyDB := testutil.NewTestDB(t, "history")
	portfolioRepo := portfolios.NewRepository(portfolioDB.Conn(), zerolog.Nop())
	historyRepo := history.NewRepository(historyDB.Conn(), zerolog.Nop())

	require.NoError(t, portfolioRepo.Upsert(testutil.NewPortfolioFixture("p1")))

	gw := testutil.NewSkewedGatewayFixture()
	svc := NewService(portfolioRepo, historyRepo, gw, nil, nil, Config{FeeRate: 0.0026}, zerolog.Nop())

	first, err := svc.ExecuteRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)
	second, err := svc.ExecuteRebalance(context.Background(), "p1", nil)
	require.NoError(t, err)

	p, err := portfolioRepo.GetByID("p1")
	require.NoError(t, err)
	require.NotNil(t, p.LastRebalancedAt)
	assert.InDelta(t, first.Summary.TotalFees+second.Summary.TotalFees, p.TotalFeesPaid, 1e-6)

	entries, err := historyRepo.ListByPortfolio("p1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	stored, err := historyRepo.GetByID(first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Summary.TotalOrders, stored.Summary.TotalOrders)
}

func TestService_UnknownPortfolio(t *testing.T) {
	f := newServiceFixture(t, testutil.NewPortfolioFixture("p1"), Config{})

	_, err := f.service.ExecuteRebalance(context.Background(), "nope", nil)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
	assert.False(t, f.service.Locks().IsLocked("nope"))

	err = f.service.RunScheduled(context.Background(), "nope")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}
