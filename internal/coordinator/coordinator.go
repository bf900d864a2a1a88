package coordinator

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RevealFunc receives a job's complete output set exactly once.
type RevealFunc func(jobID string, assetIDs []string)

type buffer struct {
	declared  int
	ids       []string
	seen      map[string]struct{}
	firstSeen time.Time
}

// Coordinator buffers multi-output job completions until the declared output
// count is reached, then reveals all outputs together. No asset id is
// revealed before its batch is complete; this is what keeps a 4-up image
// batch from trickling into the workspace one tile at a time.
type Coordinator struct {
	mu      sync.Mutex
	buffers map[string]*buffer
	reveal  RevealFunc
	log     zerolog.Logger
	now     func() time.Time
}

func New(reveal RevealFunc, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		buffers: make(map[string]*buffer),
		reveal:  reveal,
		log:     log,
		now:     time.Now,
	}
}

// OnCompletion records one completed output for a job. Idempotent under
// duplicate delivery: push systems may redeliver the same asset id. A
// malformed declared total (<= 0) is treated as 1.
func (c *Coordinator) OnCompletion(jobID, assetID string, declaredTotal int) {
	if declaredTotal <= 0 {
		declaredTotal = 1
	}

	c.mu.Lock()

	buf, ok := c.buffers[jobID]
	if !ok {
		buf = &buffer{
			declared:  declaredTotal,
			seen:      make(map[string]struct{}),
			firstSeen: c.now(),
		}
		c.buffers[jobID] = buf
	}

	if _, dup := buf.seen[assetID]; dup {
		c.mu.Unlock()
		c.log.Debug().Str("job_id", jobID).Str("asset_id", assetID).Msg("duplicate completion ignored")
		return
	}
	buf.seen[assetID] = struct{}{}
	buf.ids = append(buf.ids, assetID)

	if len(buf.ids) < buf.declared {
		received, declared := len(buf.ids), buf.declared
		c.mu.Unlock()
		c.log.Debug().
			Str("job_id", jobID).
			Int("received", received).
			Int("declared", declared).
			Msg("batch partial")
		return
	}

	delete(c.buffers, jobID)
	ids := buf.ids
	c.mu.Unlock()

	c.reveal(jobID, ids)
}

// EvictStale drops buffers whose job never reached its declared output
// count within maxAge. Evicted outputs never reveal. Returns the number of
// jobs evicted.
func (c *Coordinator) EvictStale(maxAge time.Duration) int {
	cutoff := c.now().Add(-maxAge)

	c.mu.Lock()
	var evicted []struct {
		jobID    string
		received int
		declared int
	}
	for jobID, buf := range c.buffers {
		if buf.firstSeen.Before(cutoff) {
			evicted = append(evicted, struct {
				jobID    string
				received int
				declared int
			}{jobID, len(buf.ids), buf.declared})
			delete(c.buffers, jobID)
		}
	}
	c.mu.Unlock()

	for _, e := range evicted {
		c.log.Warn().
			Str("job_id", e.jobID).
			Int("received", e.received).
			Int("declared", e.declared).
			Msg("incomplete batch evicted")
	}
	return len(evicted)
}

// PendingJobs reports how many jobs are still buffering outputs.
func (c *Coordinator) PendingJobs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffers)
}
