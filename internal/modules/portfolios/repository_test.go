package portfolios

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	testutil "github.com/aristath/rebalancer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	db := testutil.NewTestDB(t, "portfolios")
	return NewRepository(db.Conn(), zerolog.Nop())
}

func TestRepository_UpsertAndGet(t *testing.T) {
	repo := newRepo(t)
	p := testutil.NewPortfolioFixture("p1")
	p.SmartRoutingEnabled = true
	p.MaxOrdersPerRebalance = 3

	require.NoError(t, repo.Upsert(p))

	got, err := repo.GetByID("p1")
	require.NoError(t, err)
	assert.Equal(t, p.TargetWeights, got.TargetWeights)
	assert.Equal(t, "EUR", got.BaseCurrency)
	assert.True(t, got.SmartRoutingEnabled)
	assert.Equal(t, 3, got.MaxOrdersPerRebalance)
	assert.Equal(t, domain.FrequencyHourly, got.CheckFrequency)
	assert.Nil(t, got.LastRebalancedAt)
	assert.Zero(t, got.TotalFeesPaid)
}

func TestRepository_GetMissing(t *testing.T) {
	repo := newRepo(t)
	_, err := repo.GetByID("missing")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestRepository_UpsertRejectsInvalid(t *testing.T) {
	repo := newRepo(t)
	p := testutil.NewPortfolioFixture("p1")
	p.TargetWeights["SOL"] = 25

	err := repo.Upsert(p)
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
}

func TestRepository_RecordRebalanceAccumulatesFees(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.Upsert(testutil.NewPortfolioFixture("p1")))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordRebalance("p1", at, 2.5))
	require.NoError(t, repo.RecordRebalance("p1", at.Add(time.Hour), 1.25))
	require.NoError(t, repo.RecordRebalance("p1", at.Add(2*time.Hour), -4))

	got, err := repo.GetByID("p1")
	require.NoError(t, err)
	assert.InDelta(t, 3.75, got.TotalFeesPaid, 1e-9)
	require.NotNil(t, got.LastRebalancedAt)
	assert.Equal(t, at.Add(2*time.Hour), *got.LastRebalancedAt)

	// Config updates keep the engine-owned counters
	p := testutil.NewPortfolioFixture("p1")
	p.Name = "renamed"
	require.NoError(t, repo.Upsert(p))
	got, err = repo.GetByID("p1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.InDelta(t, 3.75, got.TotalFeesPaid, 1e-9)
	assert.NotNil(t, got.LastRebalancedAt)

	assert.True(t, domain.IsKind(repo.RecordRebalance("missing", at, 1), domain.KindNotFound))
}

func TestRepository_ListSchedulable(t *testing.T) {
	repo := newRepo(t)

	enabled := testutil.NewPortfolioFixture("a")
	disabled := testutil.NewPortfolioFixture("b")
	disabled.SchedulerEnabled = false
	nothingToDo := testutil.NewPortfolioFixture("c")
	nothingToDo.RebalanceEnabled = false
	nothingToDo.ThresholdRebalanceEnabled = false

	for _, p := range []domain.Portfolio{enabled, disabled, nothingToDo} {
		require.NoError(t, repo.Upsert(p))
	}

	all, err := repo.List()
	require.NoError(t, err)
	assert.Len(t, all, 3)

	schedulable, err := repo.ListSchedulable()
	require.NoError(t, err)
	require.Len(t, schedulable, 1)
	assert.Equal(t, "a", schedulable[0].ID)
}

func TestRepository_UpdateNextRebalanceAndDelete(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.Upsert(testutil.NewPortfolioFixture("p1")))

	next := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateNextRebalance("p1", &next))
	got, err := repo.GetByID("p1")
	require.NoError(t, err)
	require.NotNil(t, got.NextRebalanceAt)
	assert.Equal(t, next, *got.NextRebalanceAt)

	require.NoError(t, repo.UpdateNextRebalance("p1", nil))
	got, err = repo.GetByID("p1")
	require.NoError(t, err)
	assert.Nil(t, got.NextRebalanceAt)

	require.NoError(t, repo.Delete("p1"))
	assert.True(t, domain.IsKind(repo.Delete("p1"), domain.KindNotFound))
}

func TestImportSeed(t *testing.T) {
	repo := newRepo(t)
	path := filepath.Join(t.TempDir(), "portfolios.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
portfolios:
  - id: core
    name: Core
    baseCurrency: EUR
    targetWeights: {BTC: 50, ETH: 30, SOL: 20}
    rebalanceThreshold: 25
    rebalanceEnabled: true
    checkFrequency: daily
    schedulerEnabled: true
  - id: income
    targetWeights: {ETH: 100}
    thresholdRebalanceEnabled: true
    thresholdPercentage: 5
`), 0o644))

	n, err := repo.ImportSeed(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	core, err := repo.GetByID("core")
	require.NoError(t, err)
	assert.Equal(t, domain.FrequencyDaily, core.CheckFrequency)
	assert.Equal(t, 25.0, core.RebalanceThreshold)

	income, err := repo.GetByID("income")
	require.NoError(t, err)
	assert.Equal(t, domain.FrequencyHourly, income.CheckFrequency)
	assert.Equal(t, "EUR", income.BaseCurrency)
}

func TestLoadSeedFile_RejectsBadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
portfolios:
  - id: bad
    targetWeights: {BTC: 70}
`), 0o644))

	_, err := LoadSeedFile(path)
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
}
