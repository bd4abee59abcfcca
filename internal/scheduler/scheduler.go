// Package scheduler drives the ingestion loop: one ticker per enabled
// source, a shared request rate limit across all of them, and a per-source
// run guard so a slow cycle is skipped over rather than piled onto.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/openwire/newswire/internal/config"
	"github.com/openwire/newswire/internal/feed"
	"github.com/openwire/newswire/internal/infra"
	"github.com/openwire/newswire/internal/pipeline"
	"github.com/openwire/newswire/internal/store"
	"github.com/openwire/newswire/pkg/models"
)

// Saver is the slice of the store the scheduler needs.
type Saver interface {
	SaveBatch(ctx context.Context, records []models.NewsRecord) models.SaveResult
}

var _ Saver = (*store.Store)(nil)

type sourceRunner struct {
	cfg     config.SourceConfig
	adapter feed.Adapter
	mu      sync.Mutex // held for the duration of a cycle; TryLock is the run guard
}

// Scheduler owns the fetch cycles for every enabled source.
type Scheduler struct {
	ingest   config.IngestConfig
	runners  []*sourceRunner
	saver    Saver
	sessions *feed.SessionManager
	limiter  *infra.Limiter
	workers  *semaphore.Weighted
	history  *History
}

// New builds adapters for every enabled source. Sources with an unknown
// kind fail construction rather than silently running a partial set.
func New(cfg *config.Config, saver Saver, sessions *feed.SessionManager) (*Scheduler, error) {
	parallel := cfg.Ingest.MaxParallel
	if parallel <= 0 {
		parallel = 4
	}
	s := &Scheduler{
		ingest:   cfg.Ingest,
		saver:    saver,
		sessions: sessions,
		limiter:  infra.NewLimiter(cfg.Ingest.RatePerSecond, time.Second),
		workers:  semaphore.NewWeighted(int64(parallel)),
		history:  NewHistory(cfg.Ingest.SummaryHistory),
	}
	for _, sc := range cfg.Sources {
		if !sc.Enabled {
			continue
		}
		adapter, err := feed.New(sc, sessions)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		s.runners = append(s.runners, &sourceRunner{cfg: sc, adapter: adapter})
	}
	if len(s.runners) == 0 {
		return nil, errors.New("no sources enabled")
	}
	return s, nil
}

// History exposes the run summary ring for the API layer.
func (s *Scheduler) History() *History { return s.history }

// Run starts every source loop plus the periodic session refresh and
// blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range s.runners {
		r := r
		g.Go(func() error {
			s.loop(ctx, r)
			return nil
		})
	}
	if s.ingest.SessionRefresh > 0 {
		g.Go(func() error {
			s.refreshLoop(ctx)
			return nil
		})
	}
	return g.Wait()
}

// errRunInProgress reports a dropped tick: the run guard found a cycle for
// the same source still in flight.
var errRunInProgress = errors.New("run already in progress")

// RunSource runs one named source's cycle once, for the fetch command.
func (s *Scheduler) RunSource(ctx context.Context, name string) (models.RunSummary, error) {
	for _, r := range s.runners {
		if r.cfg.Name == name {
			sum, err := s.runOnce(ctx, r)
			if err != nil {
				return models.RunSummary{}, fmt.Errorf("source %s: %w", name, err)
			}
			return sum, nil
		}
	}
	return models.RunSummary{}, fmt.Errorf("unknown source %q", name)
}

// Sources lists the names of the enabled sources.
func (s *Scheduler) Sources() []string {
	return lo.Map(s.runners, func(r *sourceRunner, _ int) string { return r.cfg.Name })
}

func (s *Scheduler) loop(ctx context.Context, r *sourceRunner) {
	// fire once at startup, then on cadence
	if _, err := s.runOnce(ctx, r); errors.Is(err, errRunInProgress) {
		log.Printf("scheduler: %s: initial run skipped, already running", r.cfg.Name)
	}
	ticker := time.NewTicker(r.cfg.Cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.runOnce(ctx, r); errors.Is(err, errRunInProgress) {
				log.Printf("scheduler: %s: previous run still in progress, skipping tick", r.cfg.Name)
			}
		}
	}
}

func (s *Scheduler) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.ingest.SessionRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := s.sessions.RefreshAll(rctx); err != nil {
				log.Printf("scheduler: session refresh: %v", err)
			}
			cancel()
		}
	}
}

// runOnce executes one full cycle for a source. It returns errRunInProgress
// when the run guard found a cycle already in flight; the tick is dropped,
// not queued, so a stalled source cannot build a backlog. Any other error
// means ctx ended while waiting for a worker slot.
func (s *Scheduler) runOnce(ctx context.Context, r *sourceRunner) (models.RunSummary, error) {
	if !r.mu.TryLock() {
		return models.RunSummary{}, errRunInProgress
	}
	defer r.mu.Unlock()

	if err := s.workers.Acquire(ctx, 1); err != nil {
		return models.RunSummary{}, err
	}
	defer s.workers.Release(1)

	sum := s.cycle(ctx, r)
	s.history.Add(sum)
	if sum.Err != "" {
		log.Printf("scheduler: %s: status=%s fetched=%d after_dedup=%d saved=%d duplicate=%d error=%d err=%q",
			sum.Source, sum.Status, sum.Fetched, sum.AfterDedup, sum.Saved, sum.Duplicate, sum.Error, sum.Err)
	} else {
		log.Printf("scheduler: %s: status=%s fetched=%d after_dedup=%d saved=%d duplicate=%d error=%d",
			sum.Source, sum.Status, sum.Fetched, sum.AfterDedup, sum.Saved, sum.Duplicate, sum.Error)
	}
	return sum, nil
}

func (s *Scheduler) cycle(ctx context.Context, r *sourceRunner) models.RunSummary {
	sum := models.RunSummary{Source: r.cfg.Name, Status: models.RunFailed, Timestamp: time.Now().UTC()}

	if err := s.limiter.Wait(ctx); err != nil {
		sum.Err = err.Error()
		return sum
	}

	fctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	items, fetchErr := r.adapter.Fetch(fctx, r.cfg.BatchSize)
	cancel()

	sum.Fetched = len(items)
	if fetchErr != nil {
		sum.Err = fetchErr.Error()
	}
	if len(items) == 0 {
		return sum
	}

	records := lo.Map(items, func(it models.RawItem, _ int) models.NewsRecord {
		return pipeline.Normalize(it)
	})
	records = pipeline.Dedup(records)
	sum.AfterDedup = len(records)

	res := s.saver.SaveBatch(ctx, records)
	sum.Saved = res.Saved
	sum.Duplicate = res.Duplicate
	sum.Error = res.Error

	switch {
	case fetchErr != nil:
		sum.Status = models.RunPartial
	case res.Error > 0:
		sum.Status = models.RunPartial
	default:
		sum.Status = models.RunSuccess
	}
	return sum
}
