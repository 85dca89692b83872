package actor

import (
	"context"
	"time"

	"dyson2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// RefreshScheduler periodically asks every device session to re-request
// full state and environmental data. The periodic poll inside each session
// only covers telemetry, this sweep also repairs any state drift.
type RefreshScheduler struct {
	scheduler quartz.Scheduler
	interval  time.Duration
	job       *refreshJob
	logger    *zap.Logger
}

type refreshJob struct {
	system *actor.ActorSystem
	master *actor.PID
	logger *zap.Logger
}

func (j *refreshJob) Execute(ctx context.Context) error {
	j.logger.Debug("refresh: requesting full device state")
	j.system.Root.Send(j.master, domain.RefreshDeviceStateRequest{})
	return nil
}

func (j *refreshJob) Description() string {
	return "full device state refresh"
}

func NewRefreshScheduler(system *actor.ActorSystem, master *actor.PID, interval time.Duration, logger *zap.Logger) *RefreshScheduler {
	return &RefreshScheduler{
		scheduler: quartz.NewStdScheduler(),
		interval:  interval,
		job: &refreshJob{
			system: system,
			master: master,
			logger: logger.Named("refresh"),
		},
		logger: logger.Named("refresh"),
	}
}

func (s *RefreshScheduler) Start(ctx context.Context) error {
	s.scheduler.Start(ctx)
	detail := quartz.NewJobDetail(s.job, quartz.NewJobKey("deviceStateRefresh"))
	if err := s.scheduler.ScheduleJob(detail, quartz.NewSimpleTrigger(s.interval)); err != nil {
		return err
	}
	s.logger.Info("refresh: scheduled", zap.Duration("interval", s.interval))
	return nil
}

func (s *RefreshScheduler) Stop() {
	s.scheduler.Stop()
}
