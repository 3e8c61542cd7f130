package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"tasseo/internal/types"
)

// Handler processes one job. Returning nil completes it; the returned error
// is classified with types.Classify to choose between retry and
// complete-with-error.
type Handler func(ctx context.Context, job *types.Job) error

// WorkerOptions tune the poll loop of one queue.
type WorkerOptions struct {
	BatchSize       int
	PollingInterval time.Duration
}

// Default worker options.
const (
	DefaultBatchSize       = 5
	DefaultPollingInterval = 2 * time.Second
)

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.PollingInterval <= 0 {
		o.PollingInterval = DefaultPollingInterval
	}
	return o
}

type registration struct {
	workerID string
	handler  Handler
	opts     WorkerOptions
}

// Registry maps queue names to their handlers. It is filled once at startup
// and read-only afterwards.
type Registry struct {
	entries map[types.QueueName]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[types.QueueName]registration)}
}

func (r *Registry) add(queue types.QueueName, reg registration) {
	r.entries[queue] = reg
}

func (r *Registry) lookup(queue types.QueueName) (registration, bool) {
	reg, ok := r.entries[queue]
	return reg, ok
}

// Has reports whether queue has a handler.
func (r *Registry) Has(queue types.QueueName) bool {
	_, ok := r.entries[queue]
	return ok
}

// Queues returns the registered queue names in lexical order.
func (r *Registry) Queues() []types.QueueName {
	out := make([]types.QueueName, 0, len(r.entries))
	for q := range r.entries {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate fails when any of required has no handler.
func (r *Registry) Validate(required []types.QueueName) error {
	var missing []string
	for _, q := range required {
		if !r.Has(q) {
			missing = append(missing, string(q))
		}
	}
	if len(missing) > 0 {
		return types.NewAppError(types.ErrCodeValidationQueue,
			fmt.Sprintf("no handler registered for queues: %s", strings.Join(missing, ", ")), nil)
	}
	return nil
}
