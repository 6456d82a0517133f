// Package rag runs one question through the full pipeline: validate, plan,
// retrieve, enrich, compose. Each query owns a state tracker; every failure
// either degrades the response with a labeled warning or ends the query in
// FAILED with the state it reached.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tethys-ocean/tethys/engine/domain"
	"github.com/tethys-ocean/tethys/pkg/fn"
	"github.com/tethys-ocean/tethys/pkg/metrics"
)

const tracerName = "github.com/tethys-ocean/tethys/engine/rag"

// Planner turns a question into a plan.
type Planner interface {
	Plan(question string) (domain.Plan, error)
}

// Retriever executes a plan.
type Retriever interface {
	Retrieve(ctx context.Context, plan domain.Plan) (domain.Result, error)
}

// Composer produces the answer. A non-nil error with a usable answer means
// generation failed and the answer is a fallback.
type Composer interface {
	Compose(ctx context.Context, question string, res domain.Result) (domain.Answer, error)
}

// MissionLookup supplies float mission metadata. *catalog.Catalog
// implements it.
type MissionLookup interface {
	Missions(ctx context.Context, platforms []int) (map[int]domain.Mission, error)
}

// Response is what a caller gets back for one question.
type Response struct {
	QueryID  string              `json:"query_id"`
	Question string              `json:"question"`
	Plan     domain.Plan         `json:"plan"`
	Answer   domain.Answer       `json:"answer"`
	Items    []domain.Item       `json:"items"`
	Degraded bool                `json:"degraded"`
	Warnings []string            `json:"warnings,omitempty"`
	State    domain.State        `json:"state"`
	History  []domain.Transition `json:"history"`
	Took     time.Duration       `json:"took_ns"`
}

// Service is the query pipeline. It holds only read-only handles and is
// safe for concurrent use.
type Service struct {
	planner   Planner
	retriever Retriever
	composer  Composer
	catalog   MissionLookup
	publisher Publisher
	metrics   *metrics.Registry
	log       *slog.Logger
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithCatalog enables mission enrichment of retrieved records.
func WithCatalog(c MissionLookup) Option { return func(s *Service) { s.catalog = c } }

// WithPublisher emits a completion event per query.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithMetrics records query counts and latency.
func WithMetrics(reg *metrics.Registry) Option { return func(s *Service) { s.metrics = reg } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// New creates a Service.
func New(p Planner, r Retriever, c Composer, opts ...Option) *Service {
	s := &Service{planner: p, retriever: r, composer: c, log: slog.Default(), newID: uuid.NewString}
	for _, o := range opts {
		o(s)
	}
	return s
}

// query is the per-question state.
type query struct {
	id       string
	question string
	tracker  *domain.Tracker
	plan     domain.Plan
	result   domain.Result
	answer   domain.Answer
	warnings []string
	start    time.Time
}

func (q *query) warn(format string, args ...any) {
	q.warnings = append(q.warnings, fmt.Sprintf(format, args...))
}

// Ask answers question. Errors are *domain.PipelineFatalError carrying the
// last state reached; domain.KindOf reports why.
func (s *Service) Ask(ctx context.Context, question string) (resp *Response, err error) {
	q := &query{id: s.newID(), question: question, tracker: domain.NewTracker(), start: time.Now()}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rag.ask", trace.WithAttributes(attribute.String("query.id", q.id)))
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("rag: panic in pipeline", "query_id", q.id, "panic", rec)
			resp, err = nil, s.fail(q, domain.KindPipelineFatal, fmt.Errorf("panic: %v", rec))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.finish(ctx, q, err)
	}()

	if err := domain.ValidateQuestion(question); err != nil {
		return nil, s.fail(q, domain.KindValidation, err)
	}
	if err := s.plan(ctx, q); err != nil {
		return nil, err
	}
	if err := s.retrieve(ctx, q); err != nil {
		return nil, err
	}
	s.enrich(ctx, q)
	if err := s.compose(ctx, q); err != nil {
		return nil, err
	}
	if err := q.tracker.Advance(domain.StateDone); err != nil {
		return nil, s.fail(q, domain.KindPipelineFatal, err)
	}

	span.SetAttributes(
		attribute.Int("result.items", len(q.result.Items)),
		attribute.Bool("result.degraded", q.result.Degraded),
		attribute.Bool("answer.generated", q.answer.Generated),
	)
	return &Response{
		QueryID:  q.id,
		Question: question,
		Plan:     q.plan,
		Answer:   q.answer,
		Items:    q.result.Items,
		Degraded: q.result.Degraded,
		Warnings: q.warnings,
		State:    q.tracker.State(),
		History:  q.tracker.History(),
		Took:     time.Since(q.start),
	}, nil
}

// Plan runs only the planner, with the same unparseable recovery as Ask.
func (s *Service) Plan(question string) (domain.Plan, error) {
	return PlanQuestion(s.planner, question)
}

// PlanQuestion validates and plans a question. A question the planner cannot
// parse becomes a free-text search of the whole question.
func PlanQuestion(p Planner, question string) (domain.Plan, error) {
	if err := domain.ValidateQuestion(question); err != nil {
		return domain.Plan{}, err
	}
	plan, err := p.Plan(question)
	var unparse *domain.UnparseableQueryError
	if errors.As(err, &unparse) {
		return ResidualPlan(question), nil
	}
	return plan, err
}

// ResidualPlan searches the whole question as free text, newest first.
func ResidualPlan(question string) domain.Plan {
	return domain.Plan{Question: question, Order: domain.OrderRecency, Residual: question}
}

func (s *Service) plan(ctx context.Context, q *query) error {
	res := fn.TracedStage[string, domain.Plan]("rag.plan", func(_ context.Context, question string) fn.Result[domain.Plan] {
		plan, err := s.planner.Plan(question)
		return fn.FromPair(plan, err)
	})(ctx, q.question)

	plan, err := res.Unwrap()
	var unparse *domain.UnparseableQueryError
	switch {
	case errors.As(err, &unparse):
		q.warn("question could not be parsed, searching it as free text")
		plan = ResidualPlan(q.question)
	case err != nil:
		return s.fail(q, domain.KindOf(err), err)
	}
	q.plan = plan
	if err := q.tracker.Advance(domain.StatePlanned); err != nil {
		return s.fail(q, domain.KindPipelineFatal, err)
	}
	s.log.Debug("rag: planned", "query_id", q.id, "structured", plan.Structured(), "residual", plan.Residual)
	return nil
}

func (s *Service) retrieve(ctx context.Context, q *query) error {
	if err := q.tracker.Advance(domain.StateRetrieving); err != nil {
		return s.fail(q, domain.KindPipelineFatal, err)
	}
	res, err := fn.TracedStage[domain.Plan, domain.Result]("rag.retrieve", func(ctx context.Context, plan domain.Plan) fn.Result[domain.Result] {
		res, err := s.retriever.Retrieve(ctx, plan)
		if err != nil && domain.KindOf(err) == domain.KindStoreUnavailable {
			// every store failed; carry on with the labeled empty result
			res.Degraded = true
			if len(res.Failures) == 0 {
				res.Failures = []error{err}
			}
			return fn.Ok(res)
		}
		return fn.FromPair(res, err)
	})(ctx, q.plan).Unwrap()
	if err != nil {
		return s.fail(q, domain.KindOf(err), err)
	}
	for _, f := range res.Failures {
		q.warn("%v", f)
	}
	q.result = res
	return nil
}

// enrich fills mission metadata on record items. Failures become warnings.
func (s *Service) enrich(ctx context.Context, q *query) {
	if s.catalog == nil {
		return
	}
	records := fn.Filter(q.result.Items, func(it domain.Item) bool { return it.Record != nil })
	platforms := fn.UniqueBy(fn.Map(records, func(it domain.Item) int { return it.Record.Platform }),
		func(p int) int { return p })
	if len(platforms) == 0 {
		return
	}
	missions, err := s.catalog.Missions(ctx, platforms)
	if err != nil {
		s.log.Warn("rag: mission lookup failed", "query_id", q.id, "err", err)
		q.warn("mission catalog unavailable: %v", err)
		return
	}
	for _, it := range q.result.Items {
		if it.Record == nil {
			continue
		}
		m, ok := missions[it.Record.Platform]
		if !ok {
			continue
		}
		cur := &it.Record.Mission
		if cur.Project == "" {
			cur.Project = m.Project
		}
		if cur.PlatformType == "" {
			cur.PlatformType = m.PlatformType
		}
		if cur.DataMode == "" {
			cur.DataMode = m.DataMode
		}
		if cur.Status == "" {
			cur.Status = m.Status
		}
	}
}

func (s *Service) compose(ctx context.Context, q *query) error {
	if err := q.tracker.Advance(domain.StateComposing); err != nil {
		return s.fail(q, domain.KindPipelineFatal, err)
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rag.compose")
	defer span.End()

	ans, err := s.composer.Compose(ctx, q.question, q.result)
	switch kind := domain.KindOf(err); kind {
	case domain.KindNone:
	case domain.KindGenerationTimeout, domain.KindGenerationService:
		span.RecordError(err)
		q.warn("answer generation failed (%s), returning retrieved data", kind)
	default:
		return s.fail(q, kind, err)
	}
	q.answer = ans
	return nil
}

func (s *Service) fail(q *query, kind domain.ErrorKind, err error) error {
	if kind == domain.KindNone {
		kind = domain.KindPipelineFatal
	}
	from, ferr := q.tracker.Fail(kind)
	if ferr != nil {
		err = errors.Join(err, ferr)
	}
	return &domain.PipelineFatalError{State: from, Kind: kind, Err: err}
}

func (s *Service) finish(ctx context.Context, q *query, err error) {
	took := time.Since(q.start)
	state := q.tracker.State()
	kind := q.tracker.FailureKind()

	if err != nil {
		s.log.Warn("rag: query failed", "query_id", q.id, "kind", kind, "err", err, "took", took)
	} else {
		s.log.Info("rag: query done", "query_id", q.id, "items", len(q.result.Items),
			"degraded", q.result.Degraded, "generated", q.answer.Generated, "took", took)
	}

	if s.metrics != nil {
		s.metrics.Counter(metrics.WithLabels("tethys_queries_total", "state", string(state), "kind", string(kind)),
			"Queries by final state and failure kind.").Inc()
		s.metrics.Histogram("tethys_query_seconds", "End-to-end query latency.", nil).Observe(took.Seconds())
		if q.result.Degraded {
			s.metrics.Counter("tethys_queries_degraded_total", "Queries answered with a degraded result.").Inc()
		}
		if err == nil && !q.answer.Generated && len(q.result.Items) > 0 {
			s.metrics.Counter("tethys_answers_fallback_total", "Answers built without the generation service.").Inc()
		}
	}

	if s.publisher != nil {
		ev := Event{
			QueryID:   q.id,
			State:     state,
			Kind:      kind,
			Degraded:  q.result.Degraded,
			Generated: q.answer.Generated,
			Items:     len(q.result.Items),
			TookMS:    took.Milliseconds(),
			At:        time.Now().UTC(),
		}
		// the caller may be gone; the event still describes a finished query
		if perr := s.publisher.Publish(context.WithoutCancel(ctx), ev); perr != nil {
			s.log.Warn("rag: publish completion event", "query_id", q.id, "err", perr)
		}
	}
}
