// Package jobs drives the asynchronous generation job lifecycle:
// submit to the provider queue, poll until a terminal state, publish
// state transitions.
package jobs

import (
	"context"
	"errors"
	"time"

	"assetgate/internal/logging"
	"assetgate/internal/metrics"
	"assetgate/internal/models"
	"assetgate/internal/provider"
)

var (
	ErrTimedOut   = errors.New("job timed out")
	ErrJobFailed  = errors.New("job failed at provider")
	ErrUnknownJob = errors.New("unknown job")
)

// Queue is the provider surface the job lifecycle depends on.
type Queue interface {
	Submit(ctx context.Context, model string, input map[string]any) (string, error)
	Status(ctx context.Context, model, requestID string) (*provider.StatusInfo, error)
	Result(ctx context.Context, model, requestID string) (string, error)
}

// Poller watches one queued request until it reaches a terminal state.
// Backoff doubles from Initial up to Max; the wall clock bounds the
// whole watch at Timeout.
type Poller struct {
	Queue   Queue
	Initial time.Duration
	Max     time.Duration
	Timeout time.Duration
	Log     logging.Logger
	Metrics metrics.Recorder

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func (p *Poller) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *Poller) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Await polls requestID until the provider reaches a terminal state and
// returns the asset URL. A job is never timed out before the full
// Timeout window has elapsed; transient provider errors keep the watch
// alive.
func (p *Poller) Await(ctx context.Context, model, requestID string, onState func(models.JobState)) (string, error) {
	started := p.clock()
	deadline := started.Add(p.Timeout)
	delay := p.Initial
	last := models.JobSubmitted

	emit := func(state models.JobState) {
		if state == last {
			return
		}
		last = state
		if onState != nil {
			onState(state)
		}
	}

	for {
		if p.clock().After(deadline) {
			emit(models.JobTimedOut)
			p.Metrics.IncCounter("job_timed_out", nil)
			p.Log.Warn("job watch exceeded ceiling", map[string]any{
				"request_id": requestID,
				"elapsed":    p.clock().Sub(started).String(),
			})
			return "", ErrTimedOut
		}

		info, err := p.Queue.Status(ctx, model, requestID)
		switch {
		case err != nil:
			// A flaky poll is not a failed job.
			p.Log.Warn("job status poll failed", map[string]any{
				"request_id": requestID,
				"error":      err.Error(),
			})
		case info.State == models.JobFailed:
			emit(models.JobFailed)
			p.Metrics.IncCounter("job_failed", nil)
			return "", ErrJobFailed
		case info.State == models.JobCompleted:
			url, err := p.Queue.Result(ctx, model, requestID)
			if err == nil {
				emit(models.JobCompleted)
				p.Metrics.ObserveLatency("job_duration", p.clock().Sub(started), nil)
				return url, nil
			}
			if !errors.Is(err, provider.ErrNotReady) {
				emit(models.JobFailed)
				return "", err
			}
			// Completed but the asset URL has not propagated yet.
		default:
			emit(info.State)
		}

		if err := p.wait(ctx, delay); err != nil {
			return "", err
		}
		delay *= 2
		if delay > p.Max {
			delay = p.Max
		}
	}
}
