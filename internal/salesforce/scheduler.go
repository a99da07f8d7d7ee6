package salesforce

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"trustcenter.dev/internal/obs"
)

// Scheduler runs a Syncer on a cron schedule, skipping a tick while the
// previous run is still going.
type Scheduler struct {
	cron    *cron.Cron
	syncer  *Syncer
	timeout time.Duration
	mu      sync.Mutex
	running bool
}

// NewScheduler accepts a six field cron spec or a descriptor such as
// "@every 6h".
func NewScheduler(spec string, syncer *Syncer) (*Scheduler, error) {
	s := &Scheduler{cron: cron.New(), syncer: syncer, timeout: 10 * time.Minute}
	if err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

func (s *Scheduler) Stop() { s.cron.Stop() }

func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		obs.Logger().Warn("salesforce_sync_skipped", zap.String("reason", "previous run still active"))
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, _ = s.syncer.Run(ctx)
}
