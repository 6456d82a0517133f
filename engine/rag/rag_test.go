package rag

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/tethys-ocean/tethys/engine/compose"
	"github.com/tethys-ocean/tethys/engine/domain"
	"github.com/tethys-ocean/tethys/engine/planner"
	"github.com/tethys-ocean/tethys/engine/profiles"
	"github.com/tethys-ocean/tethys/engine/retrieval"
	"github.com/tethys-ocean/tethys/pkg/fn"
	"github.com/tethys-ocean/tethys/pkg/metrics"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func level(platform, cycle int, t time.Time, lat, lon, pres, temp float64) domain.FloatRecord {
	return domain.FloatRecord{
		ID: domain.RecordID(platform, cycle, pres), Platform: platform, Cycle: cycle, Time: t,
		Lat: lat, Lon: lon, Pressure: domain.F(pres), Temperature: domain.F(temp), Salinity: domain.F(34),
		TempQC: "1", PsalQC: "1", PresQC: "1",
	}
}

func seedStore(t *testing.T) *profiles.Store {
	t.Helper()
	ctx := context.Background()
	s, err := profiles.Open(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	_, err = s.Insert(ctx, []domain.FloatRecord{
		level(2902746, 1, day(2023, 3, 1), 15, 88, 5, 29.1),
		level(2902747, 4, day(2023, 9, 1), 12, 85, 5, 28.6),
		level(2902748, 2, day(2023, 6, 1), 18, 90, 5, 27.0),  // too cold
		level(2902749, 1, day(2022, 6, 1), 15, 88, 5, 29.5),  // wrong year
		level(2902750, 1, day(2023, 6, 1), 15, 65, 5, 29.9),  // Arabian Sea
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

type fakeVector struct{ err error }

func (f fakeVector) Search(context.Context, []float32, int) ([]domain.Neighbor, error) {
	return nil, f.err
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

var firstFloat = regexp.MustCompile(`float=(\d{7})`)

// echoGenerator cites the first float in its context.
type echoGenerator struct{ err error }

func (g echoGenerator) Generate(_ context.Context, _, contextText string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	m := firstFloat.FindStringSubmatch(contextText)
	if m == nil {
		return "No data.", nil
	}
	return "Float " + m[1] + " recorded the warmest recent water.", nil
}

func fastRetrieval() retrieval.Options {
	opts := retrieval.DefaultOptions()
	opts.StoreTimeout = 100 * time.Millisecond
	opts.Retry = fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}
	return opts
}

func newService(t *testing.T, vec retrieval.VectorStore, gen compose.Generator, opts ...Option) *Service {
	t.Helper()
	ret := retrieval.New(seedStore(t), vec, fakeEmbedder{}, fastRetrieval())
	comp := compose.New(gen, compose.DefaultOptions(), nil)
	clock := planner.WithClock(func() time.Time { return day(2024, 6, 1) })
	return New(planner.New(clock), ret, comp, opts...)
}

func TestAsk_EndToEnd(t *testing.T) {
	svc := newService(t, fakeVector{}, echoGenerator{})
	resp, err := svc.Ask(context.Background(), "floats in Bay of Bengal 2023 with temperature > 28")
	if err != nil {
		t.Fatal(err)
	}

	f := resp.Plan.Filter
	if f.Region == nil || f.Region.Name != "Bay of Bengal" || f.Time == nil || len(f.Predicates) != 1 {
		t.Fatalf("unexpected plan %+v", resp.Plan)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 matching records, got %d", len(resp.Items))
	}
	for _, it := range resp.Items {
		if it.Record == nil || !f.Match(*it.Record) {
			t.Fatalf("item does not satisfy the plan: %+v", it)
		}
	}
	if resp.Items[0].Record.Platform != 2902747 {
		t.Fatalf("expected most recent float first, got %d", resp.Items[0].Record.Platform)
	}

	matching := map[int]bool{2902746: true, 2902747: true}
	cited := false
	for _, id := range resp.Answer.Citations {
		cited = cited || matching[id]
	}
	if !resp.Answer.Generated || !cited {
		t.Fatalf("answer should cite a matching float: %+v", resp.Answer)
	}
	if resp.State != domain.StateDone || len(resp.History) != 4 || resp.Degraded {
		t.Fatalf("unexpected final state %s, %d transitions, degraded=%v", resp.State, len(resp.History), resp.Degraded)
	}
	if resp.QueryID == "" {
		t.Fatal("expected a query id")
	}
}

func TestAsk_GenerationFailureFallsBack(t *testing.T) {
	svc := newService(t, fakeVector{}, echoGenerator{err: errors.New("503")})
	resp, err := svc.Ask(context.Background(), "floats in Bay of Bengal 2023 with temperature > 28")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer.Generated || resp.Answer.FallbackKind != domain.KindGenerationService {
		t.Fatalf("expected fallback answer, got %+v", resp.Answer)
	}
	if !strings.Contains(resp.Answer.Text, "float=2902747") || len(resp.Warnings) != 1 {
		t.Fatalf("fallback should list retrieved floats: %q %v", resp.Answer.Text, resp.Warnings)
	}
	if resp.State != domain.StateDone {
		t.Fatalf("expected DONE, got %s", resp.State)
	}
}

func TestAsk_VectorDownIsDegraded(t *testing.T) {
	svc := newService(t, fakeVector{err: errors.New("qdrant down")}, echoGenerator{})
	resp, err := svc.Ask(context.Background(), "mixed layer eddies in Bay of Bengal 2023")
	if err != nil {
		t.Fatalf("vector outage alone must not fail the query: %v", err)
	}
	if !resp.Degraded || len(resp.Warnings) == 0 || len(resp.Items) == 0 {
		t.Fatalf("expected degraded response with relational items, got %+v", resp)
	}
}

type stubPlanner struct {
	plan domain.Plan
	err  error
}

func (p stubPlanner) Plan(string) (domain.Plan, error) { return p.plan, p.err }

type stubRetriever struct {
	res   domain.Result
	err   error
	panic bool
	got   domain.Plan
}

func (r *stubRetriever) Retrieve(_ context.Context, plan domain.Plan) (domain.Result, error) {
	r.got = plan
	if r.panic {
		panic("nil map write")
	}
	return r.res, r.err
}

type stubComposer struct{}

func (stubComposer) Compose(_ context.Context, _ string, res domain.Result) (domain.Answer, error) {
	return domain.Answer{Text: "ok", Generated: true}, nil
}

func TestAsk_UnparseableUsesWholeQuestion(t *testing.T) {
	ret := &stubRetriever{}
	q := "??? !!!"
	svc := New(stubPlanner{err: &domain.UnparseableQueryError{Question: q}}, ret, stubComposer{})
	resp, err := svc.Ask(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if ret.got.Residual != q || len(resp.Warnings) != 1 {
		t.Fatalf("expected whole question as residual, got %+v", ret.got)
	}
}

func TestAsk_ValidationFails(t *testing.T) {
	svc := New(stubPlanner{}, &stubRetriever{}, stubComposer{})
	_, err := svc.Ask(context.Background(), "a")
	var fatal *domain.PipelineFatalError
	if !errors.As(err, &fatal) || fatal.State != domain.StateReceived || fatal.Kind != domain.KindValidation {
		t.Fatalf("expected validation failure in RECEIVED, got %v", err)
	}
	if !errors.Is(err, domain.ErrQuestionTooShort) {
		t.Fatalf("expected cause to be kept, got %v", err)
	}
}

func TestAsk_PanicBecomesFatal(t *testing.T) {
	svc := New(stubPlanner{plan: domain.Plan{Residual: "x"}}, &stubRetriever{panic: true}, stubComposer{})
	resp, err := svc.Ask(context.Background(), "what is going on")
	var fatal *domain.PipelineFatalError
	if resp != nil || !errors.As(err, &fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if fatal.State != domain.StateRetrieving || fatal.Kind != domain.KindPipelineFatal {
		t.Fatalf("expected fatal in RETRIEVING, got %s/%s", fatal.State, fatal.Kind)
	}
}

func TestAsk_CanceledIsFatal(t *testing.T) {
	svc := New(stubPlanner{plan: domain.Plan{Residual: "x"}}, &stubRetriever{err: context.Canceled}, stubComposer{})
	_, err := svc.Ask(context.Background(), "what is going on")
	if domain.KindOf(err) != domain.KindCanceled {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestAsk_AllStoresDownStillAnswers(t *testing.T) {
	storeErr := &domain.StoreUnavailableError{Store: "relational", Attempts: 3, Err: errors.New("down")}
	ret := &stubRetriever{res: domain.Result{Degraded: true, Failures: []error{storeErr}}, err: storeErr}
	svc := New(stubPlanner{plan: domain.Plan{Residual: "x"}}, ret, stubComposer{})
	resp, err := svc.Ask(context.Background(), "what is going on")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Degraded || len(resp.Warnings) != 1 {
		t.Fatalf("expected labeled degraded response, got %+v", resp)
	}
}

type fakeCatalog struct {
	missions map[int]domain.Mission
	err      error
}

func (c fakeCatalog) Missions(context.Context, []int) (map[int]domain.Mission, error) {
	return c.missions, c.err
}

func TestAsk_CatalogEnrichment(t *testing.T) {
	rec := level(2902746, 1, day(2023, 3, 1), 15, 88, 5, 29.1)
	res := domain.Result{Items: []domain.Item{{Kind: domain.KindRecord, Record: &rec}}}
	cat := fakeCatalog{missions: map[int]domain.Mission{2902746: {Project: "INCOIS", Status: "ACTIVE"}}}

	svc := New(stubPlanner{plan: domain.Plan{Residual: "x"}}, &stubRetriever{res: res}, stubComposer{}, WithCatalog(cat))
	resp, err := svc.Ask(context.Background(), "what is going on")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Items[0].Record.Mission.Project != "INCOIS" {
		t.Fatalf("expected mission metadata, got %+v", resp.Items[0].Record.Mission)
	}

	svc = New(stubPlanner{plan: domain.Plan{Residual: "x"}}, &stubRetriever{res: res}, stubComposer{},
		WithCatalog(fakeCatalog{err: errors.New("neo4j down")}))
	resp, err = svc.Ask(context.Background(), "what is going on")
	if err != nil || len(resp.Warnings) != 1 {
		t.Fatalf("catalog failure should only warn: %v %v", err, resp)
	}
}

type recordingPublisher struct{ events []Event }

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.events = append(p.events, ev)
	return nil
}

func TestAsk_EventsAndMetrics(t *testing.T) {
	pub := &recordingPublisher{}
	reg := metrics.New()
	svc := New(stubPlanner{plan: domain.Plan{Residual: "x"}}, &stubRetriever{}, stubComposer{},
		WithPublisher(pub), WithMetrics(reg))

	if _, err := svc.Ask(context.Background(), "what is going on"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Ask(context.Background(), "a"); err == nil {
		t.Fatal("expected validation failure")
	}

	if len(pub.events) != 2 || pub.events[0].State != domain.StateDone || pub.events[1].Kind != domain.KindValidation {
		t.Fatalf("unexpected events %+v", pub.events)
	}
	out := reg.Render()
	for _, want := range []string{
		`tethys_queries_total{state="DONE",kind=""} 1`,
		`tethys_queries_total{state="FAILED",kind="validation"} 1`,
		`tethys_query_seconds_count 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics missing %q:\n%s", want, out)
		}
	}
}

func TestPlanRecoversUnparseable(t *testing.T) {
	svc := New(stubPlanner{err: &domain.UnparseableQueryError{Question: "???"}}, &stubRetriever{}, stubComposer{})
	plan, err := svc.Plan("???")
	if err != nil || plan.Residual != "???" {
		t.Fatalf("unexpected %+v %v", plan, err)
	}
}
