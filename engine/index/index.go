// Package index builds the semantic side of the data: it walks the
// relational store profile by profile, writes a text summary of each,
// embeds the summaries in rate-limited batches and upserts them into the
// vector store with references back to the summarized records.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tethys-ocean/tethys/engine/domain"
	"github.com/tethys-ocean/tethys/engine/semantic"
	"github.com/tethys-ocean/tethys/pkg/fn"
)

// Source streams records ordered by platform, cycle and pressure.
// *profiles.Store implements it.
type Source interface {
	Scan(ctx context.Context, fn func(domain.FloatRecord) error) error
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Sink stores summary embeddings. *semantic.VectorStore implements it.
type Sink interface {
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
}

// collectionEnsurer is implemented by sinks that create their collection
// on demand once the embedding dimension is known.
type collectionEnsurer interface {
	EnsureCollection(ctx context.Context, dims int) error
}

// Options configures an Indexer.
type Options struct {
	BatchSize int
	// EmbedRPS caps embedding requests per second; <= 0 means unlimited.
	EmbedRPS float64
	// Dimension is the expected embedding width. When 0 the first batch
	// sets it.
	Dimension int
}

// ErrDimensionMismatch reports an embedding whose width differs from the
// configured or previously seen dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// DefaultOptions returns the default batch size and pacing.
func DefaultOptions() Options { return Options{BatchSize: 32, EmbedRPS: 10} }

// Stats summarizes a run.
type Stats struct {
	Records  int           `json:"records"`
	Profiles int           `json:"profiles"`
	Batches  int           `json:"batches"`
	Duration time.Duration `json:"duration"`
}

// Batch is a group of profiles embedded together.
type Batch struct {
	Profiles   []Profile
	Texts      []string
	Embeddings [][]float32
}

// Indexer is single-use per Run; runs must not overlap with query traffic
// that expects a consistent index.
type Indexer struct {
	src     Source
	embed   Embedder
	sink    Sink
	opts    Options
	limiter *rate.Limiter
	log     *slog.Logger
	stage   fn.Stage[Batch, int]
	ensured bool
}

// New creates an Indexer.
func New(src Source, embed Embedder, sink Sink, opts Options, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	limit := rate.Inf
	if opts.EmbedRPS > 0 {
		limit = rate.Limit(opts.EmbedRPS)
	}
	ix := &Indexer{src: src, embed: embed, sink: sink, opts: opts, limiter: rate.NewLimiter(limit, 1), log: log}
	embedSt := fn.Stage[Batch, Batch](ix.embedStage)
	store := fn.Stage[Batch, int](ix.storeStage)
	ix.stage = fn.TracedStage("index.batch", fn.Then(SummarizeStage, fn.Then(embedSt, store)))
	return ix
}

// SummarizeStage fills in the summary text of every profile in a batch.
var SummarizeStage fn.Stage[Batch, Batch] = func(_ context.Context, b Batch) fn.Result[Batch] {
	b.Texts = make([]string, len(b.Profiles))
	for i, p := range b.Profiles {
		b.Texts[i] = Summarize(p)
	}
	return fn.Ok(b)
}

func (ix *Indexer) embedStage(ctx context.Context, b Batch) fn.Result[Batch] {
	if err := ix.limiter.Wait(ctx); err != nil {
		return fn.Err[Batch](fmt.Errorf("embed wait: %w", err))
	}
	embs, err := ix.embed.Embed(ctx, b.Texts)
	if err != nil {
		return fn.Err[Batch](fmt.Errorf("embed batch: %w", err))
	}
	if len(embs) != len(b.Texts) {
		return fn.Err[Batch](fmt.Errorf("embed batch: got %d vectors for %d texts", len(embs), len(b.Texts)))
	}
	for i, e := range embs {
		if ix.opts.Dimension == 0 {
			ix.opts.Dimension = len(e)
		}
		if len(e) != ix.opts.Dimension {
			return fn.Err[Batch](fmt.Errorf("embed batch: profile %s: got %d, want %d: %w",
				b.Profiles[i].Key(), len(e), ix.opts.Dimension, ErrDimensionMismatch))
		}
	}
	b.Embeddings = embs
	return fn.Ok(b)
}

func (ix *Indexer) storeStage(ctx context.Context, b Batch) fn.Result[int] {
	if e, ok := ix.sink.(collectionEnsurer); ok && !ix.ensured && len(b.Embeddings) > 0 {
		if err := e.EnsureCollection(ctx, ix.opts.Dimension); err != nil {
			return fn.Err[int](err)
		}
		ix.ensured = true
	}
	recs := make([]semantic.VectorRecord, len(b.Profiles))
	for i, p := range b.Profiles {
		recs[i] = semantic.VectorRecord{
			ID:        PointID(p),
			Embedding: b.Embeddings[i],
			Text:      b.Texts[i],
			Refs:      p.Refs(),
			Platform:  p.Platform,
			Cycle:     p.Cycle,
			Time:      p.Time,
			Lat:       p.Lat,
			Lon:       p.Lon,
		}
	}
	if err := ix.sink.Upsert(ctx, recs); err != nil {
		return fn.Err[int](fmt.Errorf("vector upsert: %w", err))
	}
	return fn.Ok(len(recs))
}

// PointID is the deterministic vector id of a profile, so re-indexing
// overwrites instead of duplicating.
func PointID(p Profile) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("tethys/profile/"+p.Key())).String()
}

// Run indexes every profile in the source.
func (ix *Indexer) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	var (
		stats   Stats
		current *Profile
		pending []Profile
	)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		n, err := ix.stage(ctx, Batch{Profiles: pending}).Unwrap()
		if err != nil {
			return fmt.Errorf("index: batch %d: %w", stats.Batches+1, err)
		}
		stats.Batches++
		stats.Profiles += n
		ix.log.Info("index: batch stored", "batch", stats.Batches, "profiles", n, "total", stats.Profiles)
		pending = nil
		return nil
	}

	err := ix.src.Scan(ctx, func(r domain.FloatRecord) error {
		stats.Records++
		if current != nil && (current.Platform != r.Platform || current.Cycle != r.Cycle) {
			pending = append(pending, *current)
			current = nil
			if len(pending) >= ix.opts.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if current == nil {
			current = newProfile(r)
		}
		current.Levels = append(current.Levels, r)
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("index: scan: %w", err)
	}
	if current != nil {
		pending = append(pending, *current)
	}
	if err := flush(); err != nil {
		return stats, err
	}
	stats.Duration = time.Since(start)
	return stats, nil
}
