package governance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/store"
)

// Scheduler runs gate scans on a fixed interval in the background and
// prunes aged idempotency keys alongside them.
//
// Thread safety: Start and Stop are safe for concurrent use; the
// running state is mutex-protected.
type Scheduler struct {
	// interval between scan rounds.
	interval time.Duration

	// scanBudget bounds each round; on expiry the scan returns partial
	// results rather than overrunning the next round.
	scanBudget time.Duration

	// dedupRetention is how long processed event ids are kept.
	dedupRetention time.Duration

	service *Service
	store   *store.Store
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the time between scan rounds. Default one hour.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = interval }
}

// WithScanBudget bounds each scan round. Default five minutes.
func WithScanBudget(budget time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.scanBudget = budget }
}

// WithDedupRetention sets how long processed event ids are retained
// before pruning. Default seven days.
func WithDedupRetention(retention time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.dedupRetention = retention }
}

// NewScheduler creates a stopped scheduler; call Start to begin.
func NewScheduler(service *Service, st *store.Store, logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		interval:       time.Hour,
		scanBudget:     5 * time.Minute,
		dedupRetention: 7 * 24 * time.Hour,
		service:        service,
		store:          st,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins the background scan loop. Idempotent: starting a
// running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(s.stopCh, s.done)
	s.logger.Info("governance scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("scan_budget", s.scanBudget))
}

// Stop halts the loop and waits for an in-flight round to finish.
// Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("governance scheduler stopped")
}

func (s *Scheduler) run(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.runRound(stopCh)
		}
	}
}

// runRound executes one promotion scan, one demotion scan, and the
// idempotency-key prune. Each step's failure is logged and the round
// continues; governance must keep running through partial faults.
func (s *Scheduler) runRound(stopCh <-chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), s.scanBudget)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for _, scanType := range []ScanType{ScanPromotion, ScanDemotion} {
		report, err := s.service.Scan(ctx, ScanRequest{Type: scanType})
		if err != nil {
			s.logger.Error("scheduled scan failed",
				zap.String("type", string(scanType)), zap.Error(err))
			continue
		}
		if report.NotExamined > 0 {
			s.logger.Warn("scheduled scan hit its time budget",
				zap.String("type", string(scanType)),
				zap.Int("not_examined", report.NotExamined))
		}
	}

	horizon := time.Now().Add(-s.dedupRetention)
	if n, err := s.store.PruneProcessedEvents(ctx, horizon); err != nil {
		s.logger.Error("pruning processed events failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Debug("pruned processed events", zap.Int64("removed", n))
	}
}
