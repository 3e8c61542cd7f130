package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"tasseo/internal/types"
)

// memStore is an in-memory JobStore with the same transition guards as the
// SQL repository.
type memStore struct {
	mu        sync.Mutex
	jobs      map[string]*types.Job
	order     []string
	insertErr error
	claimErr  error
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*types.Job)}
}

func (s *memStore) Insert(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	cp := *job
	cp.State = types.JobStateCreated
	s.jobs[job.ID] = &cp
	s.order = append(s.order, job.ID)
	return nil
}

func (s *memStore) Claim(_ context.Context, queue types.QueueName, limit int, now time.Time) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	var due []*types.Job
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Queue == queue && j.State == types.JobStateCreated && !j.StartAfter.After(now) {
			due = append(due, j)
		}
	}
	sort.SliceStable(due, func(a, b int) bool { return due[a].Priority > due[b].Priority })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]types.Job, 0, len(due))
	for _, j := range due {
		started := now
		j.State = types.JobStateActive
		j.StartedAt = &started
		out = append(out, *j)
	}
	return out, nil
}

func (s *memStore) finish(id string, state types.JobState, output *types.JobOutput, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.State != types.JobStateActive {
		return types.NewAppError(types.ErrCodeNotFoundJob, "no active job with this id", nil)
	}
	j.State = state
	j.CompletedAt = &now
	j.Output = encodeOutput(output)
	return nil
}

func (s *memStore) Complete(_ context.Context, id string, output *types.JobOutput, now time.Time) error {
	return s.finish(id, types.JobStateCompleted, output, now)
}

func (s *memStore) Fail(_ context.Context, id string, output *types.JobOutput, now time.Time) error {
	return s.finish(id, types.JobStateFailed, output, now)
}

func (s *memStore) Expire(_ context.Context, id string, output *types.JobOutput, now time.Time) error {
	return s.finish(id, types.JobStateExpired, output, now)
}

func (s *memStore) Retry(_ context.Context, id string, runAt time.Time, output *types.JobOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.State != types.JobStateActive {
		return errors.New("not active")
	}
	j.State = types.JobStateCreated
	j.RetryCount++
	j.StartAfter = runAt
	j.StartedAt = nil
	j.Output = encodeOutput(output)
	return nil
}

func (s *memStore) get(id string) types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func encodeOutput(o *types.JobOutput) []byte {
	if o == nil {
		return nil
	}
	b, _ := encodePayload(o)
	return b
}

// mutableClock is a settable types.Clock.
type mutableClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *mutableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []JobAlert
}

func (r *recordingAlerts) Publish(_ context.Context, a JobAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *recordingMetrics) JobFinished(_ context.Context, _ types.QueueName, o Outcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

type fakeLocker struct {
	mu    sync.Mutex
	held  map[string]string
	err   error
	calls []string
}

func (l *fakeLocker) Acquire(_ context.Context, lockID, workerID string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, lockID)
	if l.err != nil {
		return false, l.err
	}
	if l.held == nil {
		l.held = make(map[string]string)
	}
	if _, ok := l.held[lockID]; ok {
		return false, nil
	}
	l.held[lockID] = workerID
	return true, nil
}
