package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskLedgerRecalculate rebuilds every account balance from the journal log.
	TaskLedgerRecalculate = "ledger:recalculate"
	// TaskStockRecalculate rebuilds every stock balance from the stock ledger.
	TaskStockRecalculate = "inventory:recalculate"
	// TaskStockRevaluation snapshots the stock valuation per location.
	TaskStockRevaluation = "inventory:revaluation"
	// TaskLedgerIntegrity verifies the trial balance, the accounting equation and stock signs.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskLedgerReconcile recalculates both ledgers and then runs the integrity check.
	TaskLedgerReconcile = "ledger:reconcile"
)

// TaskNames lists every maintenance task in a stable order.
var TaskNames = []string{
	TaskLedgerRecalculate,
	TaskStockRecalculate,
	TaskStockRevaluation,
	TaskLedgerIntegrity,
	TaskLedgerReconcile,
}

// Payload carries scheduling metadata shared by all maintenance tasks.
type Payload struct {
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// KnownTask reports whether name is a registered maintenance task.
func KnownTask(name string) bool {
	for _, n := range TaskNames {
		if n == name {
			return true
		}
	}
	return false
}

// NewTask constructs an Asynq task for a maintenance job.
func NewTask(name string, payload Payload) (*asynq.Task, error) {
	if !KnownTask(name) {
		return nil, fmt.Errorf("jobs: unsupported task %q", name)
	}
	if payload.RequestedAt.IsZero() {
		payload.RequestedAt = time.Now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(name, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

func decodePayload(t *asynq.Task) (Payload, error) {
	var payload Payload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("jobs: decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return payload, nil
}
