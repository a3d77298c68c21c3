// Package orchestrator drives a transfer schedule through a population of
// identities in bounded-concurrency batches.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/yhl125/op-soak/op-service/safemath"
	"github.com/yhl125/op-soak/op-soak/config"
	"github.com/yhl125/op-soak/op-soak/metrics"
	"github.com/yhl125/op-soak/op-soak/schedule"
)

var (
	ErrTooFewIdentities   = errors.New("need at least two identities")
	ErrInvalidConcurrency = errors.New("concurrency must be at least 1")
	ErrInvalidIterations  = errors.New("iterations must be at least 1")
)

// Identity submits transfers. Implementations must be safe for concurrent use.
type Identity interface {
	Address() common.Address
	Transfer(ctx context.Context, token common.Address, amount *uint256.Int, recipient common.Address) (common.Hash, error)
}

// Observer is notified of progress. JobDone is called concurrently.
type Observer interface {
	JobDone(job schedule.Job, tx common.Hash, err error)
	BatchDone(stat BatchStat, batches int)
}

type noopObserver struct{}

func (noopObserver) JobDone(schedule.Job, common.Hash, error) {}
func (noopObserver) BatchDone(BatchStat, int)                 {}

// JobError attaches the job to a failed transfer.
type JobError struct {
	Job schedule.Job
	Err error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %v", e.Job, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

type BatchStat struct {
	Index   int
	Size    int
	Success int
	Failure int
	Elapsed time.Duration
	// TPS is informational only, it does not influence scheduling.
	TPS float64
}

type Result struct {
	Success uint64
	Failure uint64
	Elapsed time.Duration
	Batches []BatchStat
}

func (r Result) Total() uint64 {
	return safemath.SaturatingAdd(r.Success, r.Failure)
}

// TPS is the number of completed submissions per second over the whole run.
func (r Result) TPS() float64 {
	return perSecond(r.Total(), r.Elapsed)
}

func perSecond[V int | uint64](n V, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

type Config struct {
	Network config.Network
	// Token is the ERC20 to transfer. The zero address transfers the native currency.
	Token common.Address
	// Amount is transferred by every job.
	Amount *uint256.Int
}

type Orchestrator struct {
	log      log.Logger
	m        metrics.Metricer
	cfg      Config
	observer Observer
}

type Option func(*Orchestrator)

func WithObserver(o Observer) Option {
	return func(orc *Orchestrator) {
		orc.observer = o
	}
}

func New(logger log.Logger, m metrics.Metricer, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Amount == nil {
		cfg.Amount = uint256.NewInt(1)
	}
	o := &Orchestrator{
		log:      logger,
		m:        m,
		cfg:      cfg,
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run transfers between identities for the given number of iterations, at
// most concurrency transfers at a time. Each batch of concurrency jobs must
// complete before the next one starts. Failed jobs are counted and never stop
// the run; an error is only returned for invalid arguments.
func (o *Orchestrator) Run(ctx context.Context, identities []Identity, concurrency, iterations int) (Result, error) {
	switch {
	case len(identities) < 2:
		return Result{}, ErrTooFewIdentities
	case concurrency < 1:
		return Result{}, ErrInvalidConcurrency
	case iterations < 1:
		return Result{}, ErrInvalidIterations
	}

	jobs := schedule.Transfers(len(identities), iterations)
	batches := schedule.Batches(jobs, concurrency)
	o.log.Info("Starting transfers", "chain", o.cfg.Network.ChainID, "identities", len(identities), "iterations", iterations,
		"jobs", len(jobs), "concurrency", concurrency, "batches", len(batches))

	res := Result{Batches: make([]BatchStat, 0, len(batches))}
	start := time.Now()
	for i, batch := range batches {
		o.log.Debug("Processing batch", "batch", i+1, "of", len(batches), "size", len(batch))
		stat := o.runBatch(ctx, identities, batch, concurrency)
		stat.Index = i
		res.Success = safemath.SaturatingAdd(res.Success, uint64(stat.Success))
		res.Failure = safemath.SaturatingAdd(res.Failure, uint64(stat.Failure))
		res.Batches = append(res.Batches, stat)

		o.m.RecordBatch(stat.Size, stat.Elapsed, stat.TPS)
		o.observer.BatchDone(stat, len(batches))
		o.log.Info("Batch done", "batch", i+1, "of", len(batches), "success", stat.Success,
			"size", stat.Size, "elapsed", stat.Elapsed, "tps", fmt.Sprintf("%.1f", stat.TPS))
	}
	res.Elapsed = time.Since(start)

	o.m.RecordRunResult(res.Success, res.Failure, res.TPS())
	o.log.Info("Transfers completed", "success", res.Success, "total", res.Total(),
		"elapsed", res.Elapsed, "tps", fmt.Sprintf("%.1f", res.TPS()))
	return res, nil
}

func (o *Orchestrator) runBatch(ctx context.Context, identities []Identity, batch []schedule.Job, concurrency int) BatchStat {
	var success, failure atomic.Int64
	var g errgroup.Group
	g.SetLimit(concurrency)

	start := time.Now()
	for _, job := range batch {
		g.Go(func() error {
			sender := identities[job.Sender]
			recipient := identities[job.Recipient].Address()
			tx, err := sender.Transfer(ctx, o.cfg.Token, o.cfg.Amount, recipient)
			if err != nil {
				failure.Add(1)
				err = &JobError{Job: job, Err: err}
				o.log.Warn("Transfer failed", "iteration", job.Iteration, "sender", job.Sender,
					"recipient", job.Recipient, "err", err)
			} else {
				success.Add(1)
				o.log.Debug("Transfer sent", "iteration", job.Iteration, "sender", job.Sender,
					"recipient", job.Recipient, "tx", tx)
			}
			o.observer.JobDone(job, tx, err)
			// Failures are counted, not propagated: they must not cancel siblings.
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	return BatchStat{
		Size:    len(batch),
		Success: int(success.Load()),
		Failure: int(failure.Load()),
		Elapsed: elapsed,
		TPS:     perSecond(len(batch), elapsed),
	}
}
