package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// slowOperation is the duration after which a timed operation is logged as a warning
const slowOperation = 30 * time.Second

// OperationTimer measures an operation and logs its duration when the returned
// function is called:
//
//	defer utils.OperationTimer("history_prune", log)()
func OperationTimer(operation string, log zerolog.Logger) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		duration := time.Since(start)
		event := log.Debug()
		if duration > slowOperation {
			event = log.Warn()
		}
		event.Str("operation", operation).Dur("duration", duration).Msg("Operation completed")
		return duration
	}
}
