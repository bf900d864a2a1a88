package jobs

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// StaleEvicter drops buffered job batches that never completed.
type StaleEvicter interface {
	EvictStale(maxAge time.Duration) int
}

// Sweeper removes expired cache entries.
type Sweeper interface {
	Sweep() int
}

// Scheduler runs the engine's periodic maintenance: evicting coordinator
// buffers whose jobs never delivered their declared outputs, and sweeping
// expired signed-URL entries from an in-process cache.
type Scheduler struct {
	cron      *cron.Cron
	evicter   StaleEvicter
	bufferTTL time.Duration
	sweeper   Sweeper
	log       zerolog.Logger
}

func NewScheduler(evicter StaleEvicter, bufferTTL time.Duration, sweeper Sweeper, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:      c,
		evicter:   evicter,
		bufferTTL: bufferTTL,
		sweeper:   sweeper,
		log:       log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 * * * * *", s.evictStaleBatches); err != nil {
		return err
	}
	if s.sweeper != nil {
		if _, err := s.cron.AddFunc("0 */5 * * * *", s.sweepCache); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for in-flight maintenance runs, bounded
// by a short timeout.
func (s *Scheduler) Stop() {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) evictStaleBatches() {
	if evicted := s.evicter.EvictStale(s.bufferTTL); evicted > 0 {
		s.log.Warn().Int("evicted", evicted).Msg("stale job buffers evicted")
	}
}

func (s *Scheduler) sweepCache() {
	if removed := s.sweeper.Sweep(); removed > 0 {
		s.log.Debug().Int("removed", removed).Msg("expired url cache entries swept")
	}
}
