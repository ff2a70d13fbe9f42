package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeAndEmit(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []*Event
	unsub := bus.Subscribe(OrderExecuted, func(e *Event) {
		got = append(got, e)
	})

	bus.Emit(OrderExecuted, "test", map[string]interface{}{"symbol": "BTC"})
	bus.Emit(OrderFailed, "test", nil)

	require.Len(t, got, 1)
	assert.Equal(t, OrderExecuted, got[0].Type)
	assert.Equal(t, "test", got[0].Module)
	assert.Equal(t, "BTC", got[0].Data["symbol"])
	assert.False(t, got[0].Timestamp.IsZero())

	unsub()
	bus.Emit(OrderExecuted, "test", nil)
	assert.Len(t, got, 1)
	assert.Equal(t, 0, bus.SubscriberCount(OrderExecuted))
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	seen := map[EventType]int{}
	unsub := bus.SubscribeAll(func(e *Event) { seen[e.Type]++ })

	for _, typ := range AllTypes() {
		bus.Emit(typ, "test", nil)
	}
	assert.Len(t, seen, len(AllTypes()))

	unsub()
	for _, typ := range AllTypes() {
		assert.Zero(t, bus.SubscriberCount(typ))
	}
}

func TestBus_HandlerPanicDoesNotStopOthers(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	called := false
	bus.Subscribe(ErrorOccurred, func(*Event) { panic("boom") })
	bus.Subscribe(ErrorOccurred, func(*Event) { called = true })

	assert.NotPanics(t, func() { bus.Emit(ErrorOccurred, "test", nil) })
	assert.True(t, called)
}

func TestBus_ConcurrentUse(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe(RebalanceCompleted, func(*Event) {
				mu.Lock()
				count++
				mu.Unlock()
			})
			bus.Emit(RebalanceCompleted, "test", nil)
			unsub()
		}()
	}
	wg.Wait()
	assert.Positive(t, count)
}

func TestManager_EmitTypedRoundTrip(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	m := NewManager(bus, zerolog.Nop())

	var got *Event
	bus.Subscribe(ThresholdBreached, func(e *Event) { got = e })

	m.EmitTyped("rebalancing", &ThresholdBreachedData{
		PortfolioID:         "p1",
		MaxDeviation:        12.5,
		ThresholdPercentage: 10,
		TotalValue:          10000,
	})

	require.NotNil(t, got)
	assert.Equal(t, "rebalancing", got.Module)
	assert.Equal(t, "p1", got.Data["portfolio_id"])

	typed, ok := got.GetTypedData().(*ThresholdBreachedData)
	require.True(t, ok)
	assert.Equal(t, 12.5, typed.MaxDeviation)
	assert.Equal(t, 10000.0, typed.TotalValue)
}

func TestManager_EmitError(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	m := NewManager(bus, zerolog.Nop())

	var got *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { got = e })

	m.EmitError("backup", errors.New("bucket missing"), map[string]interface{}{"bucket": "b"})

	require.NotNil(t, got)
	typed, ok := got.GetTypedData().(*ErrorEventData)
	require.True(t, ok)
	assert.Equal(t, "bucket missing", typed.Error)
	assert.Equal(t, "b", typed.Context["bucket"])
}

func TestPortfolioChangedData_EventType(t *testing.T) {
	assert.Equal(t, PortfolioChanged, (&PortfolioChangedData{PortfolioID: "p"}).EventType())
	assert.Equal(t, PortfolioDeleted, (&PortfolioChangedData{PortfolioID: "p", Deleted: true}).EventType())
}

func TestEvent_GetTypedData_UnknownType(t *testing.T) {
	e := &Event{Type: EventType("SOMETHING_ELSE"), Data: map[string]interface{}{"a": 1}}
	assert.Nil(t, e.GetTypedData())
	assert.Nil(t, (&Event{Type: OrderExecuted}).GetTypedData())
}
