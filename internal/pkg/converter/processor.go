package converter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/env"
	"github.com/ManuelReschke/PixelConvert/internal/pkg/metrics"
)

const (
	DefaultMaxWorkers = 3
	DefaultJobTTL     = 30 * time.Minute
	queueSize         = 100
	asyncJobTimeout   = 5 * time.Minute
)

var (
	ErrQueueFull        = errors.New("conversion queue is full")
	ErrProcessorStopped = errors.New("conversion processor is stopped")
	ErrJobNotReady      = errors.New("conversion job has not completed")
)

// Processor runs conversions on a bounded worker pool
type Processor struct {
	jobs            chan *job
	wg              sync.WaitGroup
	started         bool
	mutex           sync.RWMutex
	workers         int
	activeProcesses int32

	store   JobStore
	results ResultStore
	metrics *metrics.Metrics
	now     func() time.Time
}

type job struct {
	id    string
	owner string
	ctx   context.Context
	input []byte
	opts  Options
	done  chan outcome // nil for async jobs
}

type outcome struct {
	result *Result
	err    error
}

// NewProcessor creates and starts a processor with the given stores
func NewProcessor(workers int, store JobStore, results ResultStore, m *metrics.Metrics) *Processor {
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}
	p := &Processor{
		jobs:    make(chan *job, queueSize),
		workers: workers,
		store:   store,
		results: results,
		metrics: m,
		now:     time.Now,
	}
	p.Start()
	return p
}

// NewProcessorFromEnv wires job and result stores from the environment.
// Redis is used when reachable, S3 takes over results when S3_RESULTS_ENABLED is set.
func NewProcessorFromEnv(client *redis.Client, reachable bool, m *metrics.Metrics) (*Processor, error) {
	workers := env.GetEnvInt("CONVERT_MAX_WORKERS", DefaultMaxWorkers)
	ttl := time.Duration(env.GetEnvInt("CONVERT_JOB_TTL_MINUTES", int(DefaultJobTTL/time.Minute))) * time.Minute

	var store JobStore
	var results ResultStore
	if client != nil && reachable {
		rs := NewRedisJobStore(client, ttl)
		store, results = rs, rs.Results()
	} else {
		log.Warn("[Converter] Redis unavailable, keeping conversion jobs in memory")
		ms := NewMemoryJobStore(ttl)
		store, results = ms, ms.Results()
	}

	cfg, err := LoadS3Config()
	if err != nil {
		return nil, err
	}
	if cfg.IsEnabled() {
		cfg.ResultTTL = ttl
		s3Store, err := NewS3ResultStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to init S3 result store: %w", err)
		}
		results = s3Store
	}

	return NewProcessor(workers, store, results, m), nil
}

// Start initializes the worker pool
func (p *Processor) Start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Infof("[Converter] Started worker pool with %d workers", p.workers)
}

// Stop closes the queue and waits for running conversions to finish
func (p *Processor) Stop() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.started {
		return
	}
	close(p.jobs)
	p.wg.Wait()
	p.started = false
	p.jobs = make(chan *job, queueSize)
	log.Info("[Converter] Worker pool stopped")
}

// Active returns the number of conversions currently running
func (p *Processor) Active() int {
	return int(atomic.LoadInt32(&p.activeProcesses))
}

func (p *Processor) worker(id int) {
	defer p.wg.Done()

	for j := range p.jobs {
		atomic.AddInt32(&p.activeProcesses, 1)
		p.run(id, j)
		atomic.AddInt32(&p.activeProcesses, -1)
	}
}

func (p *Processor) run(worker int, j *job) {
	if err := j.ctx.Err(); err != nil {
		p.finish(j, nil, err)
		return
	}

	var progress ProgressFunc
	if j.done == nil {
		p.setState(j, STATUS_PROCESSING, 0, nil, nil)
		progress = func(percent int) {
			p.setState(j, STATUS_PROCESSING, percent, nil, nil)
		}
	}

	start := p.now()
	res, err := Convert(j.ctx, j.input, j.opts, progress)
	format := string(j.opts.Format)
	if res != nil {
		format = string(res.Format)
	}
	if err != nil {
		p.metrics.ObserveConversion(format, metrics.ResultError, 0)
		log.Warnf("[Converter] Worker %d failed job %s: %v", worker, j.id, err)
	} else {
		p.metrics.ObserveConversion(format, metrics.ResultSuccess, p.now().Sub(start))
	}
	p.finish(j, res, err)
}

func (p *Processor) finish(j *job, res *Result, err error) {
	if j.done != nil {
		j.done <- outcome{result: res, err: err}
		return
	}

	if err == nil {
		if putErr := p.results.Put(j.ctx, j.id, res.Data, res.ContentType()); putErr != nil {
			err = fmt.Errorf("failed to store result: %w", putErr)
		}
	}
	if err != nil {
		p.setState(j, STATUS_FAILED, 100, nil, err)
		return
	}
	p.setState(j, STATUS_COMPLETED, 100, res, nil)
}

func (p *Processor) setState(j *job, state string, progress int, res *Result, jobErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := p.store.Get(ctx, j.id)
	if err != nil {
		log.Errorf("[Converter] Failed to load status of job %s: %v", j.id, err)
		return
	}
	if st.State != state {
		p.metrics.JobStateChanged(st.State, state)
	}
	st.State = state
	st.Progress = progress
	st.UpdatedAt = p.now()
	if jobErr != nil {
		st.Error = jobErr.Error()
	}
	if res != nil {
		st.Format = res.Format
		st.ContentType = res.ContentType()
		st.Width = res.Width
		st.Height = res.Height
	}
	if err := p.store.Save(ctx, st); err != nil {
		log.Errorf("[Converter] Failed to save status of job %s: %v", j.id, err)
	}
}

func (p *Processor) enqueue(ctx context.Context, j *job, block bool) error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if !p.started {
		return ErrProcessorStopped
	}
	if !block {
		select {
		case p.jobs <- j:
			return nil
		default:
			return ErrQueueFull
		}
	}
	select {
	case p.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Convert runs one conversion through the pool and waits for it
func (p *Processor) Convert(ctx context.Context, input []byte, opts Options) (*Result, error) {
	j := &job{
		id:    uuid.NewString(),
		ctx:   ctx,
		input: input,
		opts:  opts,
		done:  make(chan outcome, 1),
	}
	if err := p.enqueue(ctx, j, true); err != nil {
		return nil, err
	}

	select {
	case out := <-j.done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit queues an async conversion owned by owner and returns its job ID
func (p *Processor) Submit(owner string, input []byte, opts Options) (string, error) {
	normalized, err := opts.Normalize()
	if err != nil {
		return "", err
	}
	outFormat, err := normalized.OutputFormat()
	if err != nil {
		return "", err
	}
	if _, err := DetectFormat(input); err != nil {
		return "", err
	}

	now := p.now()
	status := &JobStatus{
		ID:          uuid.NewString(),
		Owner:       owner,
		State:       STATUS_PENDING,
		Format:      outFormat,
		ContentType: outFormat.ContentType(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.Save(ctx, status); err != nil {
		return "", fmt.Errorf("failed to save job status: %w", err)
	}

	jobCtx, jobCancel := context.WithTimeout(context.Background(), asyncJobTimeout)
	j := &job{id: status.ID, owner: owner, ctx: jobCtx, input: input, opts: normalized}
	if err := p.enqueue(jobCtx, j, false); err != nil {
		jobCancel()
		status.State = STATUS_FAILED
		status.Error = err.Error()
		status.UpdatedAt = p.now()
		_ = p.store.Save(ctx, status)
		return "", err
	}
	p.metrics.JobStateChanged("", STATUS_PENDING)
	time.AfterFunc(asyncJobTimeout, jobCancel)

	log.Infof("[Converter] Enqueued job %s for %s", status.ID, owner)
	return status.ID, nil
}

// Status returns the current state of a job
func (p *Processor) Status(ctx context.Context, id string) (*JobStatus, error) {
	return p.store.Get(ctx, id)
}

// Result returns the bytes of a completed job
func (p *Processor) Result(ctx context.Context, id string) ([]byte, *JobStatus, error) {
	st, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if st.State != STATUS_COMPLETED {
		return nil, st, ErrJobNotReady
	}
	data, err := p.results.Get(ctx, id)
	if err != nil {
		return nil, st, err
	}
	return data, st, nil
}
