package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const STATUS_LOG_JOB_KEY = "status_log"

// StatusLogJob logs a summary of the last tick on every run.
type StatusLogJob struct {
	rootContext *actor.RootContext
	target      *actor.PID
	logger      *zap.Logger
}

var _ quartz.Job = (*StatusLogJob)(nil)

func NewStatusLogJob(rootContext *actor.RootContext, target *actor.PID, logger *zap.Logger) *StatusLogJob {
	return &StatusLogJob{
		rootContext: rootContext,
		target:      target,
		logger:      logger.With(zap.String("job", STATUS_LOG_JOB_KEY)),
	}
}

func (j *StatusLogJob) Description() string {
	return "periodic status log"
}

func (j *StatusLogJob) Execute(ctx context.Context) error {
	res, err := j.rootContext.RequestFuture(j.target, domain.GetAggregatorStateRequest{}, 2*time.Second).Result()
	if err != nil {
		return err
	}
	resp, ok := res.(domain.GetAggregatorStateResponse)
	if !ok {
		return fmt.Errorf("unexpected response %T", res)
	}
	if resp.Last == nil {
		if resp.HasResponseError() {
			return resp.GetResponseError()
		}
		return errors.New("no tick completed yet")
	}
	j.logger.Info(StatusLine(*resp.Last))
	return nil
}

// StatusLine renders the limits and the state of a tick on one line.
func StatusLine(res domain.TickResult) string {
	agg := res.Aggregate
	soc := "n/a"
	if agg.Soc != nil {
		soc = fmt.Sprintf("%.1f%%", *agg.Soc)
	}
	dynamic := "off"
	if res.State.DynamicCVLActive {
		dynamic = "on"
	}
	return fmt.Sprintf("CVL %.2fV, CCL %.0fA, DCL %.0fA | %.2fV, %.1fA, SoC %s | balancing %s, last day %d | "+
		"max cell %.3fV (%s), min cell %.3fV (%s), diff %.3fV | dynamic CVL %s",
		res.Output.MaxChargeVoltage, res.Output.MaxChargeCurrent, res.Output.MaxDischargeCurrent,
		agg.Voltage, agg.Current, soc,
		res.State.BalancingPhase, res.State.LastBalancingDay,
		agg.MaxCellVoltage, agg.MaxCellId, agg.MinCellVoltage, agg.MinCellId, agg.CellSpread(),
		dynamic)
}

// ScheduleStatusLog starts a quartz scheduler running the status job every
// period. Stop the returned scheduler on shutdown.
func ScheduleStatusLog(ctx context.Context, job *StatusLogJob, period time.Duration) (quartz.Scheduler, error) {
	sched := quartz.NewStdScheduler()
	sched.Start(ctx)
	err := sched.ScheduleJob(quartz.NewJobDetail(job, quartz.NewJobKey(STATUS_LOG_JOB_KEY)), quartz.NewSimpleTrigger(period))
	if err != nil {
		sched.Stop()
		return nil, err
	}
	return sched, nil
}
