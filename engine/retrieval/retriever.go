// Package retrieval executes a query plan against the relational and vector
// stores concurrently and merges both result sets into one ranked list.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tethys-ocean/tethys/engine/domain"
	"github.com/tethys-ocean/tethys/engine/profiles"
	"github.com/tethys-ocean/tethys/pkg/fn"
	"github.com/tethys-ocean/tethys/pkg/metrics"
	"github.com/tethys-ocean/tethys/pkg/resilience"
)

// Store names used in errors, logs and metrics.
const (
	StoreRelational = "relational"
	StoreVector     = "vector"
)

// RelationalStore runs structured filters. *profiles.Store implements it.
type RelationalStore interface {
	Query(ctx context.Context, f domain.Filter, opts profiles.QueryOpts) ([]domain.FloatRecord, error)
}

// VectorStore runs nearest-neighbor searches. *semantic.VectorStore implements it.
type VectorStore interface {
	Search(ctx context.Context, embedding []float32, k int) ([]domain.Neighbor, error)
}

// filteredSearcher narrows a search to the plan's time range, region and
// floats when the store supports it.
type filteredSearcher interface {
	SearchFiltered(ctx context.Context, embedding []float32, k int, f domain.Filter) ([]domain.Neighbor, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Options configures a Retriever.
type Options struct {
	TopK             int
	RelationalLimit  int
	MaxItems         int
	StructuredWeight float64
	SemanticWeight   float64
	StoreTimeout     time.Duration
	Retry            fn.RetryOpts
	Breaker          resilience.BreakerOpts
}

// DefaultOptions returns the default caps, weights and retry policy.
func DefaultOptions() Options {
	return Options{
		TopK:             10,
		RelationalLimit:  profiles.DefaultLimit,
		MaxItems:         50,
		StructuredWeight: 0.5,
		SemanticWeight:   0.5,
		StoreTimeout:     5 * time.Second,
		Retry:            fn.DefaultRetry,
		Breaker:          resilience.DefaultBreakerOpts,
	}
}

// Retriever is safe for concurrent use; each call owns its result.
type Retriever struct {
	rel     RelationalStore
	vec     VectorStore
	embed   Embedder
	opts    Options
	log     *slog.Logger
	metrics *metrics.Registry

	relBreaker *resilience.Breaker
	vecBreaker *resilience.Breaker
}

// Option customizes a Retriever.
type Option func(*Retriever)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Retriever) { r.log = l } }

// WithMetrics records per-store latency and failures.
func WithMetrics(reg *metrics.Registry) Option { return func(r *Retriever) { r.metrics = reg } }

// New creates a Retriever. Any of the stores may be nil, in which case that
// side is never queried.
func New(rel RelationalStore, vec VectorStore, embed Embedder, opts Options, options ...Option) *Retriever {
	r := &Retriever{rel: rel, vec: vec, embed: embed, opts: opts, log: slog.Default()}
	for _, o := range options {
		o(r)
	}
	breaker := func(name string) *resilience.Breaker {
		b := opts.Breaker
		b.Name = name
		b.OnStateChange = func(name string, from, to resilience.State) {
			r.log.Warn("retrieval: breaker state change", "store", name, "from", from, "to", to)
		}
		return resilience.NewBreaker(b)
	}
	r.relBreaker = breaker(StoreRelational)
	r.vecBreaker = breaker(StoreVector)
	return r
}

type outcome struct {
	records   []domain.FloatRecord
	neighbors []domain.Neighbor
	ran       bool
	err       error
}

// Retrieve runs the plan. The relational side runs when the plan is
// structured, the vector side when the residual is non-empty. A store that
// stays down after retries marks the result degraded; an error is returned
// only when every store that ran failed, or when ctx was canceled.
func (r *Retriever) Retrieve(ctx context.Context, plan domain.Plan) (domain.Result, error) {
	out := fn.FanOut(
		func() outcome { return r.relational(ctx, plan) },
		func() outcome { return r.semantic(ctx, plan) },
	)
	rel, vec := out[0], out[1]

	if err := ctx.Err(); err != nil {
		return domain.Result{}, fmt.Errorf("retrieval: %w", err)
	}

	var res domain.Result
	for _, o := range out {
		if o.err != nil {
			res.Degraded = true
			res.Failures = append(res.Failures, o.err)
		}
	}
	res.Items = Merge(rel.records, vec.neighbors, plan.Order, r.opts)

	ranOK := (rel.ran && rel.err == nil) || (vec.ran && vec.err == nil)
	if len(res.Failures) > 0 && !ranOK {
		return res, errors.Join(res.Failures...)
	}
	if res.Degraded {
		r.log.Warn("retrieval: degraded result", "err", errors.Join(res.Failures...), "items", len(res.Items))
	}
	return res, nil
}

func (r *Retriever) relational(ctx context.Context, plan domain.Plan) outcome {
	if r.rel == nil || !plan.Structured() {
		return outcome{}
	}
	opts := profiles.QueryOpts{Order: plan.Order, Limit: r.opts.RelationalLimit}
	recs, err := fetch(ctx, r, r.relBreaker, func(ctx context.Context) ([]domain.FloatRecord, error) {
		return r.rel.Query(ctx, plan.Filter, opts)
	})
	return outcome{records: recs, ran: true, err: err}
}

func (r *Retriever) semantic(ctx context.Context, plan domain.Plan) outcome {
	if r.vec == nil || r.embed == nil || plan.Residual == "" {
		return outcome{}
	}
	hits, err := fetch(ctx, r, r.vecBreaker, func(ctx context.Context) ([]domain.Neighbor, error) {
		embs, err := r.embed.Embed(ctx, []string{plan.Residual})
		if err != nil {
			return nil, fmt.Errorf("embed residual: %w", err)
		}
		if len(embs) != 1 || len(embs[0]) == 0 {
			return nil, fmt.Errorf("embed residual: got %d vectors", len(embs))
		}
		if fs, ok := r.vec.(filteredSearcher); ok && !plan.Filter.Empty() {
			return fs.SearchFiltered(ctx, embs[0], r.opts.TopK, plan.Filter)
		}
		return r.vec.Search(ctx, embs[0], r.opts.TopK)
	})
	// Stores without payload filtering return unconstrained neighbors.
	kept := make([]domain.Neighbor, 0, len(hits))
	for _, n := range hits {
		if plan.Filter.Admits(n) {
			kept = append(kept, n)
		}
	}
	if dropped := len(hits) - len(kept); dropped > 0 {
		r.log.Debug("retrieval: dropped neighbors outside the plan filter", "dropped", dropped)
	}
	return outcome{neighbors: kept, ran: true, err: err}
}

// fetch runs f under the store breaker, a per-attempt timeout and the retry
// policy. An attempt that hits its own timeout counts against the breaker;
// caller cancellation does not. Exhausted retries become a
// StoreUnavailableError.
func fetch[T any](ctx context.Context, r *Retriever, br *resilience.Breaker, f func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	retry := r.opts.Retry
	retry.Retryable = func(err error) bool {
		return ctx.Err() == nil && !errors.Is(err, resilience.ErrCircuitOpen)
	}
	retry.OnRetry = func(attempt int, err error) {
		r.log.Warn("retrieval: store call failed, retrying", "store", br.Name(), "attempt", attempt, "err", err)
	}

	res, attempts := fn.RetryCount(ctx, retry, func(ctx context.Context) fn.Result[T] {
		var v T
		err := br.Call(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, r.opts.StoreTimeout)
			defer cancel()
			var err error
			v, err = f(callCtx)
			return err
		})
		return fn.FromPair(v, err)
	})
	v, err := res.Unwrap()

	if r.metrics != nil {
		r.metrics.Histogram(metrics.WithLabels("tethys_store_seconds", "store", br.Name()),
			"Store call latency including retries.", nil).Since(start)
		if err != nil {
			r.metrics.Counter(metrics.WithLabels("tethys_store_failures_total", "store", br.Name()),
				"Store calls that failed after retries.").Inc()
		}
	}
	if err != nil {
		return v, &domain.StoreUnavailableError{Store: br.Name(), Attempts: attempts, Err: err}
	}
	return v, nil
}
