package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/RNA4219/llm-generic-bot/pkg/metrics"
	"github.com/RNA4219/llm-generic-bot/pkg/send"
)

// Factory produces zero or more requests when a job's slot fires.
type Factory func(ctx context.Context) ([]send.Request, error)

// Job is one scheduled posting job. Multiple wall-clock slots collapse into
// a single record; the scheduler fires once per listed time per day.
type Job struct {
	Name    string
	Slots   []string // "HH:MM"
	Factory Factory

	schedules []cron.Schedule
}

// Processor consumes closed batches. The orchestrator implements it; the
// indirection keeps the scheduler free of a concrete dependency on it.
type Processor interface {
	Process(ctx context.Context, b *send.Batch)
}

// Config holds scheduler timing knobs.
type Config struct {
	Timezone      string
	JitterEnabled bool
	JitterMin     time.Duration
	JitterMax     time.Duration
	ShutdownGrace time.Duration
}

// Core fires job factories at their wall-clock slots, pushes the produced
// requests into the coalesce queue, and forwards closed batches to the
// processor with an optional jitter delay on the dispatch.
type Core struct {
	cfg       Config
	loc       *time.Location
	jobs      []*Job
	queue     *send.CoalesceQueue
	processor Processor
	observer  send.Observer
	log       *zap.Logger
	parser    cron.Parser

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	randF func() float64
}

// NewCore compiles the job slots and wires the loops. Slots must already be
// validated as HH:MM strings.
func NewCore(cfg Config, jobs []*Job, queue *send.CoalesceQueue, processor Processor, observer send.Observer, log *zap.Logger) (*Core, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("bad timezone %q: %w", cfg.Timezone, err)
		}
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}

	c := &Core{
		cfg:       cfg,
		loc:       loc,
		jobs:      jobs,
		queue:     queue,
		processor: processor,
		observer:  observer,
		log:       log,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:       time.Now,
		sleep:     sleepCtx,
		randF:     rand.Float64,
	}
	for _, job := range jobs {
		for _, slot := range job.Slots {
			t, err := time.Parse("15:04", slot)
			if err != nil {
				return nil, fmt.Errorf("job %s: bad slot %q: %w", job.Name, slot, err)
			}
			spec := fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour())
			sched, err := c.parser.Parse(spec)
			if err != nil {
				return nil, fmt.Errorf("job %s: %w", job.Name, err)
			}
			job.schedules = append(job.schedules, sched)
		}
	}
	return c, nil
}

// Run blocks until the context is cancelled, then drains opened batches for
// up to the grace window before abandoning the rest.
func (c *Core) Run(ctx context.Context) {
	// The worker outlives ctx so drained batches still go out at shutdown;
	// the grace timer below cuts in-flight retries at the next backoff
	// boundary once the window expires.
	workCtx, workCancel := context.WithCancel(context.Background())
	defer workCancel()

	work := make(chan *send.Batch)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		// Batches are processed sequentially so payload order within a
		// key is preserved.
		for b := range work {
			c.processor.Process(workCtx, b)
		}
	}()

	slotDone := make(chan struct{})
	go func() {
		defer close(slotDone)
		c.slotLoop(ctx)
	}()

	c.dispatchLoop(ctx, work)
	<-slotDone

	graceTimer := time.AfterFunc(c.cfg.ShutdownGrace, workCancel)
	c.drain(work)
	close(work)
	<-workerDone
	graceTimer.Stop()
	c.log.Info("scheduler stopped")
}

// slotLoop wakes at the earliest pending slot and invokes the due factories.
func (c *Core) slotLoop(ctx context.Context) {
	type pending struct {
		job   *Job
		sched cron.Schedule
		next  time.Time
	}
	var slots []*pending
	now := c.now().In(c.loc)
	for _, job := range c.jobs {
		for _, sched := range job.schedules {
			slots = append(slots, &pending{job: job, sched: sched, next: sched.Next(now)})
		}
	}
	if len(slots) == 0 {
		<-ctx.Done()
		return
	}

	for {
		earliest := slots[0].next
		for _, s := range slots[1:] {
			if s.next.Before(earliest) {
				earliest = s.next
			}
		}
		if err := c.sleep(ctx, earliest.Sub(c.now())); err != nil {
			return
		}

		now := c.now().In(c.loc)
		for _, s := range slots {
			if s.next.After(now) {
				continue
			}
			metrics.SchedulerLag.Observe(now.Sub(s.next).Seconds())
			c.fire(ctx, s.job)
			s.next = s.sched.Next(now)
		}
	}
}

// fire invokes the factory and pushes its requests. A factory error is
// recorded and the next slot proceeds; it never poisons future fires.
func (c *Core) fire(ctx context.Context, job *Job) {
	reqs, err := job.Factory(ctx)
	if err != nil {
		now := c.now()
		c.log.Warn(send.EventFactoryError,
			zap.String("event", send.EventFactoryError),
			zap.String("job", job.Name),
			zap.String("correlation_id", ""),
			zap.String("status", send.StatusFactoryError),
			zap.Error(err))
		metrics.FactoryErrors.WithLabelValues(job.Name).Inc()
		c.observer.CountOutcome(send.Outcome{
			Event: send.EventFactoryError, Job: job.Name,
			Status: send.StatusFactoryError, At: now,
		})
		return
	}
	now := c.now()
	for _, req := range reqs {
		c.queue.Push(req, now)
	}
	open, _ := c.queue.Depth()
	metrics.QueueOpenBatches.Set(float64(open))
}

// dispatchLoop polls the queue once per coalescing window and forwards
// closed batches. The jitter offset applies here, to the batch dispatch,
// never to the factory invocation. Delays run sequentially so FIFO order by
// opened_at survives them.
func (c *Core) dispatchLoop(ctx context.Context, work chan<- *send.Batch) {
	interval := c.queue.Window()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, b := range c.queue.PopReady(c.now()) {
				if err := c.sleep(ctx, c.jitterDelay()); err != nil {
					// Cancelled mid-jitter; drain handles the rest.
					c.requeue(b)
					return
				}
				metrics.RecordDispatch(c.now().Sub(b.OpenedAt).Seconds())
				select {
				case work <- b:
				case <-ctx.Done():
					c.requeue(b)
					return
				}
			}
		}
	}
}

// jitterDelay draws the dispatch offset uniformly from the configured range,
// boundaries included. Zero when jitter is disabled.
func (c *Core) jitterDelay() time.Duration {
	if !c.cfg.JitterEnabled {
		return 0
	}
	span := c.cfg.JitterMax - c.cfg.JitterMin
	if span <= 0 {
		return c.cfg.JitterMin
	}
	return c.cfg.JitterMin + time.Duration(c.randF()*float64(span+1))
}

func (c *Core) requeue(b *send.Batch) {
	// Returned to the pipeline through the shutdown drain.
	for _, req := range b.Requests {
		c.queue.Push(req, b.OpenedAt)
	}
}

// drain processes already-opened batches within the grace window, then
// abandons the remainder with a shutdown outcome.
func (c *Core) drain(work chan<- *send.Batch) {
	deadline := c.now().Add(c.cfg.ShutdownGrace)
	batches := c.queue.Flush()
	for i, b := range batches {
		if c.now().After(deadline) {
			abandoned := 0
			for _, rest := range batches[i:] {
				abandoned += rest.Len()
				for _, req := range rest.Requests {
					c.observer.CountOutcome(send.Outcome{
						Event: send.EventShutdownAbandoned, Job: req.Job,
						Platform: req.Platform, Channel: req.Channel,
						Status: send.StatusShutdown, At: c.now(),
					})
				}
			}
			metrics.ShutdownAbandoned.Add(float64(abandoned))
			c.log.Warn("shutdown grace expired",
				zap.Int("abandoned", abandoned))
			return
		}
		work <- b
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
