package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/wattshare/wattshare/internal/billing"
	"github.com/wattshare/wattshare/internal/cycle"
	jobmetrics "github.com/wattshare/wattshare/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// CycleAllocator is the part of the cycle service the job drives.
type CycleAllocator interface {
	AllocateCycle(ctx context.Context, buildingBillID uuid.UUID, rows []cycle.UsageRow) (cycle.Allocation, error)
}

// AllocateCycleJob runs queued cycle allocations.
type AllocateCycleJob struct {
	Service CycleAllocator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAllocateCycleJob constructs the job handler.
func NewAllocateCycleJob(service CycleAllocator, logger *slog.Logger, metrics *jobmetrics.Metrics) *AllocateCycleJob {
	return &AllocateCycleJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes one allocation. Malformed payloads and billing errors that
// a retry cannot fix are not retried; transaction failures are.
func (j *AllocateCycleJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("allocate cycle: dependencies not configured")
	}
	var payload AllocateCyclePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		j.log().Error("decode payload", slog.Any("error", err))
		return fmt.Errorf("allocate cycle: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.BuildingBillID == uuid.Nil {
		return fmt.Errorf("allocate cycle: building bill id missing: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track(JobAllocateCycle)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	res, err := j.Service.AllocateCycle(ctx, payload.BuildingBillID, payload.Rows)
	if err != nil {
		j.log().Error("allocate cycle",
			slog.String("building_bill_id", payload.BuildingBillID.String()),
			slog.Any("error", err))
		if billing.IsDomainError(err) && !billing.IsTxFailure(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	byKind := map[billing.UnitBillKind]int{}
	for _, b := range res.Bills {
		byKind[b.Kind]++
	}
	for kind, n := range byKind {
		j.metrics().AddAllocatedUnits(string(kind), n)
	}
	j.log().Info("cycle allocated",
		slog.String("building_bill_id", payload.BuildingBillID.String()),
		slog.String("period", res.BuildingBill.Period().String()),
		slog.Int("units", len(res.Bills)),
		slog.String("residual", billing.FormatAmount(res.Residual)),
		slog.String("requested_by", payload.RequestedBy),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *AllocateCycleJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AllocateCycleJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAllocateCycle))
	}
	return slog.Default().With(slog.String("job", TaskAllocateCycle))
}
