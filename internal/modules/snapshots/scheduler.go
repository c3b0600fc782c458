package snapshots

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler drives Service.RunForAllClients on a cron expression, and
// exposes the same job as a manual trigger for an admin-initiated rerun.
type Scheduler struct {
	cron *cron.Cron
	svc  *Service
	log  zerolog.Logger
}

// NewScheduler constructs a Scheduler. Call Start to register the cron
// entry and begin running it.
func NewScheduler(svc *Service, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		svc:  svc,
		log:  log.With().Str("component", "snapshot_scheduler").Logger(),
	}
}

// Start registers expr (a 6-field cron.WithSeconds expression) and starts
// the scheduler's background goroutine.
func (s *Scheduler) Start(expr string) error {
	_, err := s.cron.AddFunc(expr, func() {
		s.log.Info().Msg("running scheduled portfolio snapshot rollup")
		if err := s.svc.RunForAllClients(time.Now()); err != nil {
			s.log.Error().Err(err).Msg("scheduled snapshot rollup failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// TriggerNow runs the rollup immediately, outside the cron schedule —
// the manual-trigger path.
func (s *Scheduler) TriggerNow() error {
	return s.svc.RunForAllClients(time.Now())
}
