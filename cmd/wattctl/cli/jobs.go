package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/wattshare/wattshare/internal/cycle"
	"github.com/wattshare/wattshare/internal/usageimport"
	"github.com/wattshare/wattshare/jobs"
)

type allocationQueue interface {
	EnqueueAllocation(ctx context.Context, buildingBillID uuid.UUID, rows []cycle.UsageRow) (string, error)
	Close() error
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListRetryTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps operator helpers for the allocation queue.
type JobsCLI struct {
	queue     allocationQueue
	inspector queueInspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{queue: jobs.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.queue != nil {
		if closeErr := c.queue.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// EnqueueAllocationFile reads per-unit usage from an XLSX workbook and queues
// the cycle allocation for buildingBillID.
func (c *JobsCLI) EnqueueAllocationFile(ctx context.Context, buildingBillID uuid.UUID, path, sheet string) (string, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("jobs cli: open workbook: %w", err)
	}
	defer f.Close()
	return c.EnqueueAllocation(ctx, buildingBillID, f, sheet)
}

// EnqueueAllocation queues the allocation for the workbook in r and returns the
// task ID with the number of rows sent.
func (c *JobsCLI) EnqueueAllocation(ctx context.Context, buildingBillID uuid.UUID, r io.Reader, sheet string) (string, int, error) {
	if c == nil || c.queue == nil {
		return "", 0, errors.New("jobs cli: client not configured")
	}
	parsed, err := usageimport.ParseXLSX(r, usageimport.Options{Sheet: sheet})
	if err != nil {
		return "", 0, fmt.Errorf("jobs cli: %w", err)
	}
	rows := make([]cycle.UsageRow, len(parsed))
	for i, p := range parsed {
		rows[i] = cycle.UsageRow{UnitNumber: p.UnitNumber, Usage: p.Usage}
	}
	id, err := c.queue.EnqueueAllocation(ctx, buildingBillID, rows)
	if err != nil {
		return "", 0, err
	}
	return id, len(rows), nil
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// ListRetry returns allocations waiting for another attempt.
func (c *JobsCLI) ListRetry(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListRetryTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}
