package bootstrap

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tethys-ocean/tethys/engine/domain"
	"github.com/tethys-ocean/tethys/pkg/config"
	"github.com/tethys-ocean/tethys/pkg/ollama"
	"github.com/tethys-ocean/tethys/pkg/openaicompat"
)

type fakeModel struct{}

func (fakeModel) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func (fakeModel) Chat(context.Context, string, string) (string, error) {
	return "Float 2902746 saw warm water.", nil
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "tethys.db")
	return cfg
}

func TestOpen_RelationalOnly(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, testConfig(t), nil, WithoutVectors(), WithModel(fakeModel{}))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if s.Vectors != nil || s.Catalog != nil || s.NATS != nil {
		t.Fatal("disabled components should stay nil")
	}
	_, err = s.Profiles.Insert(ctx, []domain.FloatRecord{{
		ID: domain.RecordID(2902746, 1, 5), Platform: 2902746, Cycle: 1,
		Time: time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), Lat: 15, Lon: 88,
		Pressure: domain.F(5), Temperature: domain.F(29), Salinity: domain.F(34),
		TempQC: "1", PsalQC: "1", PresQC: "1",
	}})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := s.Service.Ask(ctx, "temperature in Bay of Bengal 2023")
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Items) != 1 || !resp.Answer.Generated {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.Contains(s.Metrics.Render(), "tethys_queries_total") {
		t.Fatal("expected query metrics to be registered")
	}
}

func TestClose_Once(t *testing.T) {
	s, err := Open(context.Background(), testConfig(t), nil, WithoutVectors(), WithModel(fakeModel{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestNewModel(t *testing.T) {
	cfg := config.Default().Models
	m, err := NewModel(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.(*ollama.Client); !ok {
		t.Fatalf("expected ollama client, got %T", m)
	}

	cfg.Provider = "openai"
	cfg.BaseURL = "https://router.example.com/v1"
	if m, _ = NewModel(cfg, nil); m == nil {
		t.Fatal("expected openai client")
	}
	if _, ok := m.(*openaicompat.Client); !ok {
		t.Fatalf("expected openaicompat client, got %T", m)
	}

	cfg.Provider = "bedrock"
	if _, err := NewModel(cfg, nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRetrievalOptions(t *testing.T) {
	cfg := config.Default().Retrieval
	cfg.MaxAttempts = 5
	cfg.SemanticWeight = 0.7
	opts := RetrievalOptions(cfg)
	if opts.Retry.MaxAttempts != 5 || opts.SemanticWeight != 0.7 || opts.MaxItems != cfg.MaxItems {
		t.Fatalf("unexpected options %+v", opts)
	}
}
