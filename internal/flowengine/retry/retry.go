// Package retry implements the Retry Service (spec §4.9): a ticker-driven
// sweep over flows paused for retry backoff, pacing resume dispatch with a
// token-bucket limiter and a bounded worker pool, generalized from the
// teacher's automation scheduler sweep combined with its rate limiter.
package retry

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/internal/flowengine/store"
	"github.com/R3E-Network/flowengine/pkg/logger"
	"github.com/R3E-Network/flowengine/pkg/metrics"
)

// Resumer is what the engine exposes to the Retry Service: resume one flow
// by id, bringing any step whose resumeAt has elapsed back to Pending and
// ticking the scheduler (spec §7: "a retry sweep resumes paused-for-backoff
// flows once their delay elapses").
type Resumer interface {
	Resume(ctx context.Context, flowID string) error
}

// Service sweeps the store on a ticker, finds flows paused for retry
// backoff whose resumeAt has elapsed, and resumes them with bounded,
// rate-limited concurrency.
type Service struct {
	store      store.DurableStore
	resumer    Resumer
	log        *logger.Logger
	interval   time.Duration
	limiter    *rate.Limiter
	maxWorkers int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a retry Service. maxConcurrent bounds both the worker pool and
// the token-bucket burst, mirroring infrastructure/ratelimit.RateLimiter's
// sizing convention (burst proportional to the steady-state rate).
func New(st store.DurableStore, resumer Resumer, log *logger.Logger, interval time.Duration, maxConcurrent int) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Service{
		store:      st,
		resumer:    resumer,
		log:        log,
		interval:   interval,
		limiter:    rate.NewLimiter(rate.Limit(maxConcurrent), maxConcurrent),
		maxWorkers: maxConcurrent,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop halts the sweep loop and waits for the in-flight sweep to finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep finds retry-backoff-paused flows ready to resume and dispatches
// them with bounded, rate-limited concurrency.
func (s *Service) sweep(ctx context.Context) {
	nonTerminal, err := s.store.ListNonTerminal(ctx)
	if err != nil {
		s.log.WithField("error", err).Warn("retry service: failed to list non-terminal flows")
		return
	}

	now := time.Now().UTC()
	var due []string
	for _, snap := range nonTerminal {
		if eligible(snap, now) {
			due = append(due, snap.FlowID)
		}
	}
	metrics.RetryBacklog.Set(float64(len(due)))
	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, s.maxWorkers)
	var wg sync.WaitGroup
	for _, flowID := range due {
		flowID := flowID
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.resumer.Resume(ctx, flowID); err != nil {
				s.log.WithField("flow_id", flowID).WithField("error", err).Warn("retry service: resume failed")
			}
		}()
	}
	wg.Wait()
}

// eligible reports whether a non-terminal flow is paused for retry backoff
// with a step whose resumeAt has elapsed.
func eligible(snap *flow.Snapshot, now time.Time) bool {
	if snap.Status != flow.StatusPaused || snap.PauseReason != flow.PauseReasonRetryBackoff {
		return false
	}
	for _, st := range snap.Steps {
		if st.Status == flow.StepPaused && st.ResumeAt != nil && !now.Before(*st.ResumeAt) {
			return true
		}
	}
	return false
}
