package visibility

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DispatchFunc receives one batch of asset ids that entered the viewport.
type DispatchFunc func(ids []string)

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opObserve
)

type op struct {
	kind    opKind
	id      string
	visible bool
}

type Config struct {
	Debounce  time.Duration
	BatchSize int
	QueueSize int
}

func (c *Config) applyDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = 100 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// Oracle tracks which registered asset ids are on screen and coalesces enter
// events into batched dispatches. All state lives on one goroutine fed by a
// single channel, so there is one observation mechanism regardless of how
// many elements are registered. Lifecycle is explicit: Start before use,
// Stop when done.
type Oracle struct {
	cfg      Config
	dispatch DispatchFunc
	log      zerolog.Logger

	ops  chan op
	done chan struct{}
	wg   sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

func New(cfg Config, dispatch DispatchFunc, log zerolog.Logger) *Oracle {
	cfg.applyDefaults()
	return &Oracle{
		cfg:      cfg,
		dispatch: dispatch,
		log:      log,
		ops:      make(chan op, cfg.QueueSize),
		done:     make(chan struct{}),
	}
}

func (o *Oracle) Start() {
	o.startOnce.Do(func() {
		o.wg.Add(1)
		go o.run()
	})
}

func (o *Oracle) Stop() {
	o.stopOnce.Do(func() {
		close(o.done)
		o.wg.Wait()
	})
}

// Register starts visibility tracking for an asset id.
func (o *Oracle) Register(id string) {
	o.send(op{kind: opRegister, id: id})
}

// Unregister stops tracking and drops the id from the pending queue. A
// resolution already dispatched is not cancelled; its result is simply not
// rendered.
func (o *Oracle) Unregister(id string) {
	o.send(op{kind: opUnregister, id: id})
}

// Observe reports an enter (visible=true) or exit transition for an id.
func (o *Oracle) Observe(id string, visible bool) {
	o.send(op{kind: opObserve, id: id, visible: visible})
}

func (o *Oracle) send(msg op) {
	select {
	case o.ops <- msg:
	case <-o.done:
	}
}

func (o *Oracle) run() {
	defer o.wg.Done()

	tracked := make(map[string]bool) // id -> currently visible
	var pending []string             // FIFO of ids awaiting dispatch
	inPending := make(map[string]struct{})

	timer := time.NewTimer(o.cfg.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	timerArmed := false

	arm := func(d time.Duration) {
		if timerArmed {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		timer.Reset(d)
		timerArmed = true
	}

	flush := func() {
		timerArmed = false
		if len(pending) == 0 {
			return
		}

		n := len(pending)
		if n > o.cfg.BatchSize {
			n = o.cfg.BatchSize
		}
		batch := make([]string, n)
		copy(batch, pending[:n])
		pending = pending[n:]
		for _, id := range batch {
			delete(inPending, id)
		}

		o.log.Debug().Int("batch", len(batch)).Int("queued", len(pending)).Msg("visibility batch dispatched")
		go o.dispatch(batch)

		// Overflow drains FIFO, one batch per window.
		if len(pending) > 0 {
			arm(o.cfg.Debounce)
		}
	}

	for {
		select {
		case <-o.done:
			return
		case <-timer.C:
			flush()
		case msg := <-o.ops:
			switch msg.kind {
			case opRegister:
				if _, ok := tracked[msg.id]; !ok {
					tracked[msg.id] = false
				}
			case opUnregister:
				delete(tracked, msg.id)
				if _, queued := inPending[msg.id]; queued {
					delete(inPending, msg.id)
					for i, id := range pending {
						if id == msg.id {
							pending = append(pending[:i], pending[i+1:]...)
							break
						}
					}
				}
			case opObserve:
				visible, ok := tracked[msg.id]
				if !ok {
					continue
				}
				if msg.visible == visible {
					continue
				}
				tracked[msg.id] = msg.visible
				if !msg.visible {
					continue
				}
				if _, queued := inPending[msg.id]; queued {
					continue
				}
				pending = append(pending, msg.id)
				inPending[msg.id] = struct{}{}
				arm(o.cfg.Debounce)
			}
		}
	}
}
