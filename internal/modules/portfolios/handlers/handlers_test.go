package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/modules/history"
	"github.com/aristath/rebalancer/internal/modules/portfolios"
	testutil "github.com/aristath/rebalancer/internal/testing"
)

type countingReloader struct{ calls int }

func (c *countingReloader) Reload() error {
	c.calls++
	return nil
}

type fixture struct {
	router     http.Handler
	portfolios *portfolios.Repository
	history    *history.Repository
	reloader   *countingReloader
	events     []*events.Event
}

func setup(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()

	f := &fixture{
		portfolios: portfolios.NewRepository(testutil.NewTestDB(t, "portfolios").Conn(), log),
		history:    history.NewRepository(testutil.NewTestDB(t, "history").Conn(), log),
		reloader:   &countingReloader{},
	}

	bus := events.NewBus(log)
	bus.SubscribeAll(func(e *events.Event) { f.events = append(f.events, e) })

	r := chi.NewRouter()
	NewHandler(f.portfolios, f.history, events.NewManager(bus, log), f.reloader, log).RegisterRoutes(r)
	f.router = r
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func TestPutGetList(t *testing.T) {
	f := setup(t)

	body, err := json.Marshal(testutil.NewPortfolioFixture("ignored"))
	require.NoError(t, err)

	w := f.do(http.MethodPut, "/portfolios/p1", string(body))
	require.Equal(t, http.StatusOK, w.Code)

	var stored domain.Portfolio
	decodeData(t, w, &stored)
	assert.Equal(t, "p1", stored.ID)
	assert.Equal(t, 50.0, stored.TargetWeights["BTC"])

	w = f.do(http.MethodGet, "/portfolios/p1", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/portfolios", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []domain.Portfolio
	decodeData(t, w, &list)
	assert.Len(t, list, 1)

	assert.Equal(t, 1, f.reloader.calls)
	require.Len(t, f.events, 1)
	assert.Equal(t, events.PortfolioChanged, f.events[0].Type)
}

func TestPut_InvalidWeights(t *testing.T) {
	f := setup(t)

	p := testutil.NewPortfolioFixture("p1")
	p.TargetWeights = map[string]float64{"BTC": 60, "ETH": 30}
	body, err := json.Marshal(p)
	require.NoError(t, err)

	w := f.do(http.MethodPut, "/portfolios/p1", string(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "configuration")
	assert.Equal(t, 0, f.reloader.calls)
}

func TestPut_BadJSON(t *testing.T) {
	f := setup(t)
	w := f.do(http.MethodPut, "/portfolios/p1", "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDelete(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.portfolios.Upsert(testutil.NewPortfolioFixture("p1")))

	w := f.do(http.MethodDelete, "/portfolios/p1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, f.events, 1)
	assert.Equal(t, events.PortfolioDeleted, f.events[0].Type)

	w = f.do(http.MethodDelete, "/portfolios/p1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistory(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.portfolios.Upsert(testutil.NewPortfolioFixture("p1")))

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, f.history.Save(&domain.RebalanceResult{
			ID:          id,
			PortfolioID: "p1",
			Timestamp:   base.Add(time.Duration(i) * time.Hour),
			Status:      domain.RunCompleted,
			Success:     true,
			Trigger:     domain.TriggerScheduled,
		}))
	}

	w := f.do(http.MethodGet, "/portfolios/p1/history?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []history.Entry
	decodeData(t, w, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "r3", entries[0].ID)

	w = f.do(http.MethodGet, "/portfolios/p1/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/portfolios/missing/history", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/history/r2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var result domain.RebalanceResult
	decodeData(t, w, &result)
	assert.Equal(t, "r2", result.ID)
}
