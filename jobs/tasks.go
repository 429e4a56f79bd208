package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskValuationCalculate runs the monthly unit-value calculation.
	TaskValuationCalculate = "valuation:calculate"
)

// ValuationCalculatePayload selects the target period. An empty Period means
// "the previous calendar month at execution time", which is what the cron
// schedule enqueues.
type ValuationCalculatePayload struct {
	Period string `json:"period,omitempty"`
}

// NewValuationCalculateTask constructs the Asynq task.
func NewValuationCalculateTask(payload ValuationCalculatePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskValuationCalculate, data), nil
}
