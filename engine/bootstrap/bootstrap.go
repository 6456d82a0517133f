// Package bootstrap builds the Tethys stack from configuration and owns the
// lifetime of every store handle it opens.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tethys-ocean/tethys/engine/catalog"
	"github.com/tethys-ocean/tethys/engine/compose"
	"github.com/tethys-ocean/tethys/engine/planner"
	"github.com/tethys-ocean/tethys/engine/profiles"
	"github.com/tethys-ocean/tethys/engine/rag"
	"github.com/tethys-ocean/tethys/engine/retrieval"
	"github.com/tethys-ocean/tethys/engine/semantic"
	"github.com/tethys-ocean/tethys/pkg/config"
	"github.com/tethys-ocean/tethys/pkg/fn"
	"github.com/tethys-ocean/tethys/pkg/metrics"
	"github.com/tethys-ocean/tethys/pkg/ollama"
	"github.com/tethys-ocean/tethys/pkg/openaicompat"
)

// Model embeds texts and answers chat prompts.
type Model interface {
	retrieval.Embedder
	compose.Chatter
}

// Stack holds the wired pipeline and the handles it was built from.
type Stack struct {
	Config    *config.Config
	Log       *slog.Logger
	Metrics   *metrics.Registry
	Profiles  *profiles.Store
	Vectors   *semantic.VectorStore
	Model     Model
	Catalog   *catalog.Catalog
	NATS      *nats.Conn
	Retriever *retrieval.Retriever
	Composer  *compose.Composer
	Service   *rag.Service

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// Option adjusts what Open builds.
type Option func(*buildOpts)

type buildOpts struct {
	readOnly   bool
	noVectors  bool
	noNATS     bool
	model      Model
	httpClient *http.Client
}

// ReadOnly opens the profiles database read-only.
func ReadOnly() Option { return func(o *buildOpts) { o.readOnly = true } }

// WithoutVectors skips the Qdrant connection; retrieval is relational only.
func WithoutVectors() Option { return func(o *buildOpts) { o.noVectors = true } }

// WithoutNATS skips the NATS connection even when it is enabled.
func WithoutNATS() Option { return func(o *buildOpts) { o.noNATS = true } }

// WithModel replaces the configured model provider.
func WithModel(m Model) Option { return func(o *buildOpts) { o.model = m } }

// Open connects everything cfg enables. On error, whatever was already
// opened is closed.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*Stack, error) {
	if log == nil {
		log = slog.Default()
	}
	o := buildOpts{httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Stack{Config: cfg, Log: log, Metrics: metrics.New()}
	if err := s.open(ctx, o); err != nil {
		return nil, errors.Join(err, s.Close())
	}
	return s, nil
}

func (s *Stack) open(ctx context.Context, o buildOpts) error {
	cfg := s.Config

	popts := []profiles.Option{profiles.WithLogger(s.Log)}
	if o.readOnly {
		popts = append(popts, profiles.ReadOnly())
	}
	store, err := profiles.Open(ctx, cfg.SQLite.Path, popts...)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	s.Profiles = store
	s.closers = append(s.closers, store.Close)

	s.Model = o.model
	if s.Model == nil {
		if s.Model, err = NewModel(cfg.Models, o.httpClient); err != nil {
			return err
		}
	}

	var vec retrieval.VectorStore
	if !o.noVectors {
		vs, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection, s.Log)
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		s.Vectors = vs
		s.closers = append(s.closers, vs.Close)
		vec = vs
	}

	if cfg.Neo4j.Enabled {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
		if err != nil {
			return fmt.Errorf("bootstrap: neo4j driver: %w", err)
		}
		s.closers = append(s.closers, func() error { return driver.Close(context.Background()) })
		s.Catalog = catalog.New(driver, catalog.WithDatabase(cfg.Neo4j.Database), catalog.WithLogger(s.Log))
	}

	if cfg.NATS.Enabled && !o.noNATS {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name(cfg.Server.ServiceName))
		if err != nil {
			return fmt.Errorf("bootstrap: nats connect: %w", err)
		}
		s.NATS = nc
		s.closers = append(s.closers, func() error { return nc.Drain() })
	}

	s.Retriever = retrieval.New(store, vec, s.Model, RetrievalOptions(cfg.Retrieval),
		retrieval.WithLogger(s.Log), retrieval.WithMetrics(s.Metrics))

	copts := compose.DefaultOptions()
	copts.ContextBudget = cfg.Compose.ContextBudget
	copts.Timeout = cfg.Compose.Timeout
	s.Composer = compose.New(compose.NewChatGenerator(s.Model), copts, s.Log)

	svcOpts := []rag.Option{rag.WithLogger(s.Log), rag.WithMetrics(s.Metrics)}
	if s.Catalog != nil {
		svcOpts = append(svcOpts, rag.WithCatalog(s.Catalog))
	}
	if s.NATS != nil {
		svcOpts = append(svcOpts, rag.WithPublisher(rag.NewNATSPublisher(s.NATS, cfg.NATS.EventSubject)))
	}
	s.Service = rag.New(planner.New(), s.Retriever, s.Composer, svcOpts...)
	return nil
}

// NewModel picks the embedding and generation client for cfg.Provider.
func NewModel(cfg config.ModelsConfig, httpClient *http.Client) (Model, error) {
	switch cfg.Provider {
	case "ollama":
		c, err := ollama.New(cfg.OllamaURL, cfg.EmbedModel, cfg.ChatModel, httpClient,
			ollama.WithTemperature(cfg.Temperature), ollama.WithMaxTokens(cfg.MaxTokens))
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		return c, nil
	case "openai":
		return openaicompat.New(openaicompat.Config{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			ChatModel:   cfg.ChatModel,
			EmbedModel:  cfg.EmbedModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			HTTPClient:  httpClient,
		}), nil
	}
	return nil, fmt.Errorf("bootstrap: unknown model provider %q", cfg.Provider)
}

// RetrievalOptions maps configuration onto retriever options.
func RetrievalOptions(cfg config.RetrievalConfig) retrieval.Options {
	opts := retrieval.DefaultOptions()
	opts.TopK = cfg.TopK
	opts.RelationalLimit = cfg.RelationalLimit
	opts.MaxItems = cfg.MaxItems
	opts.StructuredWeight = cfg.StructuredWeight
	opts.SemanticWeight = cfg.SemanticWeight
	opts.StoreTimeout = cfg.StoreTimeout
	opts.Retry = fn.DefaultRetry
	opts.Retry.MaxAttempts = cfg.MaxAttempts
	return opts
}

// Close releases handles in reverse open order. Only the first call does
// any work; later calls return the same error.
func (s *Stack) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		s.closers = nil
		if err := errors.Join(errs...); err != nil {
			s.closeErr = fmt.Errorf("bootstrap: close: %w", err)
		}
	})
	return s.closeErr
}
