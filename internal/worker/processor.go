// Package worker consumes research jobs from the durable queue and executes
// them with the orchestration engine, checkpointing progress so another
// worker can pick up an interrupted task.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/inquestai/inquest/internal/checkpoint"
	"github.com/inquestai/inquest/internal/queue/streams"
	"github.com/inquestai/inquest/internal/relay"
	"github.com/inquestai/inquest/internal/research"
)

// Runner executes one task to a terminal state.
type Runner interface {
	Run(ctx context.Context, task research.Task) error
}

// Metrics are the processor's prometheus instruments.
type Metrics struct {
	JobsProcessed prometheus.Counter
	JobsFailed    prometheus.Counter
	JobsReclaimed prometheus.Counter
	QueueLag      prometheus.Gauge
}

// NewMetrics registers the processor instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "inquest_worker_jobs_processed_total",
			Help: "Research jobs executed to a terminal state.",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "inquest_worker_jobs_failed_total",
			Help: "Research jobs that terminated abnormally.",
		}),
		JobsReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "inquest_worker_jobs_reclaimed_total",
			Help: "Pending jobs reclaimed from dead consumers.",
		}),
		QueueLag: factory.NewGauge(prometheus.GaugeOpts{
			Name: "inquest_worker_queue_lag",
			Help: "Unacknowledged entries on the jobs stream.",
		}),
	}
}

// Processor is one worker process: it reads the jobs stream through a
// consumer group, watches each task's cancel channel while running it, and
// acknowledges the entry once the task reaches a terminal state.
type Processor struct {
	logger   *log.Logger
	runner   Runner
	store    checkpoint.Store
	consumer *streams.Consumer
	client   *redis.Client
	metrics  *Metrics

	// ClaimMinIdle is how long an entry may sit pending on a dead consumer
	// before this processor reclaims it.
	ClaimMinIdle time.Duration
	ReadBlock    time.Duration
	ReadCount    int64
}

func NewProcessor(logger *log.Logger, runner Runner, store checkpoint.Store, consumer *streams.Consumer, client *redis.Client, metrics *Metrics) *Processor {
	return &Processor{
		logger:       logger,
		runner:       runner,
		store:        store,
		consumer:     consumer,
		client:       client,
		metrics:      metrics,
		ClaimMinIdle: time.Minute,
		ReadBlock:    5 * time.Second,
		ReadCount:    16,
	}
}

// Start blocks, processing jobs until the context is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Printf("[WORKER] starting; consuming %s as group %s", streams.StreamResearchJobs, streams.GroupWorkers)
	if err := p.resumePending(ctx); err != nil {
		p.logger.Printf("[WORKER] resume pending tasks: %v", err)
	}

	claimCursor := "0-0"
	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("[WORKER] stopping: %v", ctx.Err())
			return nil
		default:
		}

		claimed, next, err := p.consumer.AutoClaim(ctx, streams.StreamResearchJobs, p.ClaimMinIdle, claimCursor, p.ReadCount)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Printf("[WORKER] autoclaim: %v", err)
		} else {
			claimCursor = next
			if claimCursor == "" {
				claimCursor = "0-0"
			}
			for _, msg := range claimed {
				if p.metrics != nil {
					p.metrics.JobsReclaimed.Inc()
				}
				p.handle(ctx, msg)
			}
		}

		msgs, err := p.consumer.Read(ctx, streams.StreamResearchJobs, streams.WithBlock(p.ReadBlock), streams.WithCount(p.ReadCount))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Printf("[WORKER] read stream: %v", err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			p.handle(ctx, msg)
		}
		p.observeLag(ctx)
	}
}

func (p *Processor) handle(ctx context.Context, msg streams.Message) {
	job, err := streams.DecodeResearchJob(msg.Envelope)
	if err != nil {
		p.logger.Printf("[WORKER] drop malformed job %s: %v", msg.ID, err)
		p.ack(ctx, msg.ID)
		return
	}

	task := research.Task{
		TaskID:        job.TaskID,
		ThreadID:      job.ThreadID,
		ThreadItemID:  job.ThreadItemID,
		Query:         job.Query,
		Mode:          job.Mode,
		MaxIterations: job.MaxIterations,
	}
	p.execute(ctx, task)
	// Terminal state reached (or ownership lost to a live execution); the
	// entry must not be redelivered either way.
	p.ack(ctx, msg.ID)
}

// execute runs one task while watching its cancel channel.
func (p *Processor) execute(ctx context.Context, task research.Task) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopWatch := p.watchCancel(runCtx, task.TaskID, cancel)
	defer stopWatch()

	err := p.runner.Run(runCtx, task)
	switch {
	case err == nil:
		if p.metrics != nil {
			p.metrics.JobsProcessed.Inc()
		}
	case errors.Is(err, research.ErrCancelled):
		p.logger.Printf("[WORKER] task=%s cancelled", task.TaskID)
		if p.metrics != nil {
			p.metrics.JobsProcessed.Inc()
		}
	case errors.Is(err, research.ErrConcurrentWriter):
		p.logger.Printf("[WORKER] task=%s owned elsewhere, skipping", task.TaskID)
	default:
		p.logger.Printf("[WORKER] task=%s failed: %v", task.TaskID, err)
		if p.metrics != nil {
			p.metrics.JobsFailed.Inc()
		}
	}
}

// watchCancel subscribes to the task's control channel and cancels the run
// context when a cancel request arrives.
func (p *Processor) watchCancel(ctx context.Context, taskID string, cancel context.CancelFunc) func() {
	sub := p.client.Subscribe(ctx, relay.CancelChannel(taskID))
	go func() {
		defer sub.Close()
		select {
		case _, ok := <-sub.Channel():
			if ok {
				p.logger.Printf("[WORKER] task=%s cancel requested", taskID)
				cancel()
			}
		case <-ctx.Done():
		}
	}()
	return func() { sub.Close() }
}

// resumePending re-runs tasks whose checkpoints were left non-terminal by a
// crashed worker. The checkpoint version check resolves races with a live
// owner: the loser stops at its first commit.
func (p *Processor) resumePending(ctx context.Context) error {
	pending, err := p.store.ListByStatus(ctx,
		string(research.StatusPlanning),
		string(research.StatusSearching),
		string(research.StatusSynthesizing),
		string(research.StatusCritiquing),
		string(research.StatusRefining),
	)
	if err != nil {
		return err
	}
	for _, snap := range pending {
		var st research.State
		if err := json.Unmarshal(snap.State, &st); err != nil {
			p.logger.Printf("[WORKER] skip undecodable checkpoint %s: %v", snap.TaskID, err)
			continue
		}
		p.logger.Printf("[WORKER] resuming task=%s from %s v%d", snap.TaskID, snap.Status, snap.Version)
		p.execute(ctx, research.Task{
			TaskID:        st.TaskID,
			ThreadID:      st.ThreadID,
			ThreadItemID:  st.ThreadItemID,
			Query:         st.Query,
			Mode:          st.Mode,
			MaxIterations: st.MaxIterations,
		})
	}
	return nil
}

func (p *Processor) ack(ctx context.Context, id string) {
	if err := p.consumer.Ack(ctx, streams.StreamResearchJobs, id); err != nil {
		p.logger.Printf("[WORKER] ack %s: %v", id, err)
	}
}

func (p *Processor) observeLag(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	lag, err := streams.GroupLag(ctx, p.client, streams.StreamResearchJobs, streams.GroupWorkers)
	if err != nil {
		return
	}
	p.metrics.QueueLag.Set(float64(lag.Lag + lag.Pending))
}
