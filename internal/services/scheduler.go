package services

import (
	"context"
	"sync"
	"time"

	"negotiation-engine/internal/domain"
	"negotiation-engine/pkg/logger"

	"github.com/robfig/cron/v3"
)

// CronResyncScheduler periodically asks every registered session to retry
// the re-fetches it could not complete.
type CronResyncScheduler struct {
	cron    *cron.Cron
	spec    string
	timeout time.Duration
	log     logger.Logger

	mu        sync.RWMutex
	resyncers map[string]domain.Resyncer
}

// specParser accepts standard five-field specs, six-field specs with a
// leading seconds field, and descriptors such as "@every 30s".
var specParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func NewCronResyncScheduler(spec string, timeout time.Duration, log logger.Logger) *CronResyncScheduler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CronResyncScheduler{
		cron:      cron.New(cron.WithParser(specParser)),
		spec:      spec,
		timeout:   timeout,
		log:       log,
		resyncers: make(map[string]domain.Resyncer),
	}
}

func (s *CronResyncScheduler) Register(name string, r domain.Resyncer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resyncers[name] = r
}

func (s *CronResyncScheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resyncers, name)
}

func (s *CronResyncScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting resync scheduler", "spec", s.spec)

	_, err := s.cron.AddFunc(s.spec, func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *CronResyncScheduler) Stop() error {
	s.log.Info("Stopping resync scheduler")
	<-s.cron.Stop().Done()
	return nil
}

// RunOnce resyncs every registered resyncer sequentially.
func (s *CronResyncScheduler) RunOnce(ctx context.Context) {
	s.mu.RLock()
	names := make([]string, 0, len(s.resyncers))
	targets := make([]domain.Resyncer, 0, len(s.resyncers))
	for name, r := range s.resyncers {
		names = append(names, name)
		targets = append(targets, r)
	}
	s.mu.RUnlock()

	for i, r := range targets {
		if ctx.Err() != nil {
			return
		}
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		if err := r.Resync(rctx); err != nil {
			s.log.Warn("Resync failed, will retry", "name", names[i], "error", err)
		}
		cancel()
	}
}
