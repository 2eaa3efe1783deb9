package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"assetgate/internal/logging"
	"assetgate/internal/metrics"
	"assetgate/internal/models"
)

// JobStore is the audit persistence surface the manager writes through.
type JobStore interface {
	UpsertJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, requestID string) (*models.Job, error)
}

// Manager owns the in-memory job registry keyed by provider request id
// and runs one poller goroutine per submitted job. The audit store row
// is updated on every state change but the registry is authoritative
// while the process lives.
type Manager struct {
	Queue   Queue
	Poller  *Poller
	Store   JobStore
	Models  map[models.ResourceKind]string
	Log     logging.Logger
	Metrics metrics.Recorder

	mu   sync.RWMutex
	jobs map[string]*models.Job
	subs map[string]map[chan models.JobState]struct{}
}

func NewManager(queue Queue, poller *Poller, st JobStore, modelByKind map[models.ResourceKind]string, log logging.Logger, rec metrics.Recorder) *Manager {
	return &Manager{
		Queue:   queue,
		Poller:  poller,
		Store:   st,
		Models:  modelByKind,
		Log:     log,
		Metrics: rec,
		jobs:    make(map[string]*models.Job),
		subs:    make(map[string]map[chan models.JobState]struct{}),
	}
}

// Start submits a generation job and begins watching it. The returned
// job carries the provider request id clients poll with.
func (m *Manager) Start(ctx context.Context, jobID string, kind models.ResourceKind, input map[string]any) (*models.Job, error) {
	model, ok := m.Models[kind]
	if !ok || model == "" {
		return nil, ErrUnknownJob
	}

	requestID, err := m.Queue.Submit(ctx, model, input)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &models.Job{
		RequestID: requestID,
		JobID:     jobID,
		Kind:      kind,
		State:     models.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.jobs[requestID] = job
	m.mu.Unlock()

	m.persist(job)
	m.Metrics.IncCounter("job_started", map[string]string{"kind": string(kind)})
	m.Log.Info("job started", map[string]any{
		"request_id": requestID,
		"job_id":     jobID,
		"kind":       string(kind),
	})

	go m.watch(model, requestID)
	return job, nil
}

// watch runs detached from the submitting request; the poller's own
// ceiling bounds its lifetime.
func (m *Manager) watch(model, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.Poller.Timeout+time.Minute)
	defer cancel()

	url, err := m.Poller.Await(ctx, model, requestID, func(state models.JobState) {
		m.setState(requestID, state, nil)
	})
	switch {
	case err == nil:
		m.setState(requestID, models.JobCompleted, &url)
	case errors.Is(err, ErrTimedOut):
		m.setState(requestID, models.JobTimedOut, nil)
	default:
		m.Log.Error("job watch ended in failure", map[string]any{
			"request_id": requestID,
			"error":      err.Error(),
		})
		m.setState(requestID, models.JobFailed, nil)
	}
}

// Get returns the current view of a job, falling back to the audit
// store for jobs started by an earlier process.
func (m *Manager) Get(ctx context.Context, requestID string) (*models.Job, error) {
	m.mu.RLock()
	job, ok := m.jobs[requestID]
	if ok {
		snapshot := *job
		m.mu.RUnlock()
		return &snapshot, nil
	}
	m.mu.RUnlock()

	if m.Store != nil {
		if job, err := m.Store.GetJob(ctx, requestID); err == nil {
			return job, nil
		}
	}
	return nil, ErrUnknownJob
}

// Result returns the asset URL for a completed job, or ErrNotReady via
// the provider if it is still running.
func (m *Manager) Result(ctx context.Context, requestID string) (string, error) {
	job, err := m.Get(ctx, requestID)
	if err != nil {
		return "", err
	}
	if job.State == models.JobCompleted && job.ResultURL != nil {
		return *job.ResultURL, nil
	}
	if job.State == models.JobFailed || job.State == models.JobTimedOut {
		return "", ErrJobFailed
	}

	model, ok := m.Models[job.Kind]
	if !ok {
		return "", ErrUnknownJob
	}
	url, err := m.Queue.Result(ctx, model, requestID)
	if err != nil {
		return "", err
	}
	// A job restored from the audit store is not in the registry yet;
	// adopt it so the state change and result URL stick.
	m.adopt(job)
	m.setState(requestID, models.JobCompleted, &url)
	return url, nil
}

func (m *Manager) adopt(job *models.Job) {
	m.mu.Lock()
	if _, ok := m.jobs[job.RequestID]; !ok {
		m.jobs[job.RequestID] = job
	}
	m.mu.Unlock()
}

// Subscribe registers for state transitions of one job. The returned
// cancel func must be called when the consumer goes away.
func (m *Manager) Subscribe(requestID string) (<-chan models.JobState, func()) {
	ch := make(chan models.JobState, 8)

	m.mu.Lock()
	if m.subs[requestID] == nil {
		m.subs[requestID] = make(map[chan models.JobState]struct{})
	}
	m.subs[requestID][ch] = struct{}{}
	// Deliver the current state so late subscribers see where the job is.
	if job, ok := m.jobs[requestID]; ok {
		ch <- job.State
	}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if set, ok := m.subs[requestID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(m.subs, requestID)
			}
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) setState(requestID string, state models.JobState, resultURL *string) {
	m.mu.Lock()
	job, ok := m.jobs[requestID]
	if !ok {
		m.mu.Unlock()
		return
	}
	// A terminal job only ever gains its result URL, never a new state.
	if job.State.Terminal() && resultURL == nil {
		m.mu.Unlock()
		return
	}
	changed := job.State != state
	job.State = state
	job.UpdatedAt = time.Now().UTC()
	if resultURL != nil {
		job.ResultURL = resultURL
	}
	snapshot := *job
	if changed {
		for ch := range m.subs[requestID] {
			select {
			case ch <- state:
			default:
			}
		}
	}
	m.mu.Unlock()

	m.persist(&snapshot)
}

func (m *Manager) persist(job *models.Job) {
	if m.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Store.UpsertJob(ctx, job); err != nil {
		m.Log.Warn("job audit upsert failed", map[string]any{
			"request_id": job.RequestID,
			"error":      err.Error(),
		})
	}
}
