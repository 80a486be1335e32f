package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/wattshare/wattshare/internal/cycle"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAllocateCycle allocates a building bill to units in the background.
	TaskAllocateCycle = "billing:allocate_cycle"
	// JobAllocateCycle is the metrics label of the allocation job.
	JobAllocateCycle = "allocate_cycle"

	allocateMaxRetry = 3
)

// AllocateCyclePayload carries the usage rows of one allocation run.
type AllocateCyclePayload struct {
	BuildingBillID uuid.UUID        `json:"building_bill_id"`
	Rows           []cycle.UsageRow `json:"rows"`
	RequestedBy    string           `json:"requested_by,omitempty"`
}

// NewAllocateCycleTask constructs an Asynq task. The task ID is derived from
// the building bill so a second enqueue for the same bill is rejected.
func NewAllocateCycleTask(payload AllocateCyclePayload) (*asynq.Task, error) {
	if payload.BuildingBillID == uuid.Nil {
		return nil, fmt.Errorf("allocate cycle: building bill id required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAllocateCycle, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(allocateMaxRetry),
		asynq.TaskID(allocateTaskID(payload.BuildingBillID)),
	), nil
}

func allocateTaskID(buildingBillID uuid.UUID) string {
	return "allocate_cycle:" + buildingBillID.String()
}
