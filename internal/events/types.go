// Package events provides the in-process event bus used to publish
// rebalancing activity to logs and streaming clients.
package events

import (
	"encoding/json"
	"time"
)

// EventType represents different event types
type EventType string

const (
	// Rebalancing runs
	RebalanceStarted   EventType = "REBALANCE_STARTED"
	RebalanceCompleted EventType = "REBALANCE_COMPLETED"
	RebalanceFailed    EventType = "REBALANCE_FAILED"
	OrderExecuted      EventType = "ORDER_EXECUTED"
	OrderFailed        EventType = "ORDER_FAILED"

	// Threshold monitor
	ThresholdBreached EventType = "THRESHOLD_BREACHED"

	// Configuration
	PortfolioChanged EventType = "PORTFOLIO_CHANGED"
	PortfolioDeleted EventType = "PORTFOLIO_DELETED"

	// System
	SchedulerStatusChanged EventType = "SCHEDULER_STATUS_CHANGED"
	BackupCompleted        EventType = "BACKUP_COMPLETED"
	ErrorOccurred          EventType = "ERROR_OCCURRED"
)

// AllTypes returns every event type, in a stable order
func AllTypes() []EventType {
	return []EventType{
		RebalanceStarted,
		RebalanceCompleted,
		RebalanceFailed,
		OrderExecuted,
		OrderFailed,
		ThresholdBreached,
		PortfolioChanged,
		PortfolioDeleted,
		SchedulerStatusChanged,
		BackupCompleted,
		ErrorOccurred,
	}
}

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// GetTypedData converts the Data map back to the typed payload for the event type.
// Returns nil when the type has no typed payload or conversion fails.
func (e *Event) GetTypedData() EventData {
	if e.Data == nil {
		return nil
	}
	factory, ok := typedData[e.Type]
	if !ok {
		return nil
	}
	data := factory()
	if err := convertMapToStruct(e.Data, data); err != nil {
		return nil
	}
	return data
}

var typedData = map[EventType]func() EventData{
	RebalanceStarted:       func() EventData { return &RebalanceStartedData{} },
	RebalanceCompleted:     func() EventData { return &RebalanceCompletedData{} },
	RebalanceFailed:        func() EventData { return &RebalanceFailedData{} },
	OrderExecuted:          func() EventData { return &OrderExecutedData{} },
	OrderFailed:            func() EventData { return &OrderFailedData{} },
	ThresholdBreached:      func() EventData { return &ThresholdBreachedData{} },
	PortfolioChanged:       func() EventData { return &PortfolioChangedData{} },
	PortfolioDeleted:       func() EventData { return &PortfolioChangedData{} },
	SchedulerStatusChanged: func() EventData { return &SchedulerStatusChangedData{} },
	BackupCompleted:        func() EventData { return &BackupCompletedData{} },
	ErrorOccurred:          func() EventData { return &ErrorEventData{} },
}

func convertMapToStruct(m map[string]interface{}, v interface{}) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, v)
}

func convertEventDataToMap(data EventData) map[string]interface{} {
	if data == nil {
		return nil
	}
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil
	}
	return result
}
