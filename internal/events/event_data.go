package events

// EventData is implemented by every typed event payload
type EventData interface {
	EventType() EventType
}

// RebalanceStartedData contains data for RebalanceStarted events
type RebalanceStartedData struct {
	PortfolioID string `json:"portfolio_id"`
	Trigger     string `json:"trigger"`
	DryRun      bool   `json:"dry_run"`
}

func (d *RebalanceStartedData) EventType() EventType { return RebalanceStarted }

// RebalanceCompletedData contains data for RebalanceCompleted events
type RebalanceCompletedData struct {
	PortfolioID      string  `json:"portfolio_id"`
	ResultID         string  `json:"result_id"`
	Trigger          string  `json:"trigger"`
	DryRun           bool    `json:"dry_run"`
	Status           string  `json:"status"`
	Success          bool    `json:"success"`
	TotalOrders      int     `json:"total_orders"`
	SuccessfulOrders int     `json:"successful_orders"`
	FailedOrders     int     `json:"failed_orders"`
	SkippedOrders    int     `json:"skipped_orders"`
	TotalValueTraded float64 `json:"total_value_traded"`
	TotalFees        float64 `json:"total_fees"`
}

func (d *RebalanceCompletedData) EventType() EventType { return RebalanceCompleted }

// RebalanceFailedData is emitted when a run aborts before producing a result
type RebalanceFailedData struct {
	PortfolioID string `json:"portfolio_id"`
	Trigger     string `json:"trigger"`
	Kind        string `json:"kind"`
	Error       string `json:"error"`
}

func (d *RebalanceFailedData) EventType() EventType { return RebalanceFailed }

// OrderExecutedData contains data for OrderExecuted events
type OrderExecutedData struct {
	PortfolioID string  `json:"portfolio_id"`
	Symbol      string  `json:"symbol"`
	Pair        string  `json:"pair"`
	Side        string  `json:"side"`
	Volume      float64 `json:"volume"`
	Price       float64 `json:"price"`
	OrderID     string  `json:"order_id,omitempty"`
	Status      string  `json:"status"`
	Fee         float64 `json:"fee"`
}

func (d *OrderExecutedData) EventType() EventType { return OrderExecuted }

// OrderFailedData contains data for OrderFailed events
type OrderFailedData struct {
	PortfolioID string  `json:"portfolio_id"`
	Symbol      string  `json:"symbol"`
	Pair        string  `json:"pair"`
	Side        string  `json:"side"`
	Volume      float64 `json:"volume"`
	Error       string  `json:"error"`
}

func (d *OrderFailedData) EventType() EventType { return OrderFailed }

// ThresholdBreachedData contains data for ThresholdBreached events
type ThresholdBreachedData struct {
	PortfolioID         string  `json:"portfolio_id"`
	MaxDeviation        float64 `json:"max_deviation"`
	ThresholdPercentage float64 `json:"threshold_percentage"`
	TotalValue          float64 `json:"total_value"`
}

func (d *ThresholdBreachedData) EventType() EventType { return ThresholdBreached }

// PortfolioChangedData is used for PortfolioChanged and PortfolioDeleted events
type PortfolioChangedData struct {
	PortfolioID string `json:"portfolio_id"`
	Deleted     bool   `json:"deleted,omitempty"`
}

func (d *PortfolioChangedData) EventType() EventType {
	if d.Deleted {
		return PortfolioDeleted
	}
	return PortfolioChanged
}

// SchedulerStatusChangedData contains data for SchedulerStatusChanged events
type SchedulerStatusChangedData struct {
	Running     bool `json:"running"`
	ActiveTasks int  `json:"active_tasks"`
}

func (d *SchedulerStatusChangedData) EventType() EventType { return SchedulerStatusChanged }

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Database  string `json:"database"`
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
}

func (d *BackupCompletedData) EventType() EventType { return BackupCompleted }

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (d *ErrorEventData) EventType() EventType { return ErrorOccurred }
