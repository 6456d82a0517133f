package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type mockResult struct {
	records []*neo4j.Record
	idx     int
	err     error
}

func (m *mockResult) Next(context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }
func (m *mockResult) Err() error            { return m.err }

type mockRunner struct {
	result  *mockResult
	err     error
	cyphers []string
	params  []map[string]any
	writes  []bool
}

func (m *mockRunner) Run(_ context.Context, cypher string, params map[string]any) (Result, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &mockResult{}, nil
	}
	return m.result, nil
}

func (m *mockRunner) Close(context.Context) error { return nil }

type station struct {
	ID   string
	Name string
}

func record(id, name string) *neo4j.Record {
	return &neo4j.Record{Keys: []string{"n"}, Values: []any{map[string]any{"id": id, "name": name}}}
}

func newTestRepo(m *mockRunner) *Neo4jRepo[station, string] {
	return NewNeo4jRepo[station, string](
		nil, "Station",
		func(s station) map[string]any { return map[string]any{"id": s.ID, "name": s.Name} },
		func(rec *neo4j.Record) (station, error) {
			props, ok := rec.Values[0].(map[string]any)
			if !ok {
				return station{}, errors.New("bad node")
			}
			return station{ID: props["id"].(string), Name: props["name"].(string)}, nil
		},
		func(s station) string { return s.ID },
		WithSessionFactory[station, string](func(_ context.Context, write bool) Runner {
			m.writes = append(m.writes, write)
			return m
		}),
	)
}

func TestGet(t *testing.T) {
	m := &mockRunner{result: &mockResult{records: []*neo4j.Record{record("s1", "Alpha")}}}
	s, err := newTestRepo(m).Get(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "Alpha" {
		t.Fatalf("unexpected %+v", s)
	}
	if m.writes[0] {
		t.Fatal("Get should use a read session")
	}
}

func TestGetNotFound(t *testing.T) {
	_, err := newTestRepo(&mockRunner{}).Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetMany(t *testing.T) {
	m := &mockRunner{result: &mockResult{records: []*neo4j.Record{record("a", "A"), record("b", "B")}}}
	got, err := newTestRepo(m).GetMany(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["b"].Name != "B" {
		t.Fatalf("unexpected %v", got)
	}
	if !strings.Contains(m.cyphers[0], "IN $ids") {
		t.Fatalf("unexpected cypher %q", m.cyphers[0])
	}

	empty, err := newTestRepo(&mockRunner{}).GetMany(context.Background(), nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty map, got %v %v", empty, err)
	}
}

func TestListDefaultsLimit(t *testing.T) {
	m := &mockRunner{}
	if _, err := newTestRepo(m).List(context.Background(), ListOpts{}); err != nil {
		t.Fatal(err)
	}
	if m.params[0]["limit"] != 100 {
		t.Fatalf("expected default limit 100, got %v", m.params[0]["limit"])
	}
}

func TestUpsertUsesWriteSession(t *testing.T) {
	m := &mockRunner{}
	r := newTestRepo(m)
	if err := r.Upsert(context.Background()); err != nil || len(m.cyphers) != 0 {
		t.Fatal("empty upsert should not touch the database")
	}
	if err := r.Upsert(context.Background(), station{ID: "s1", Name: "A"}, station{ID: "s2", Name: "B"}); err != nil {
		t.Fatal(err)
	}
	if !m.writes[0] || !strings.HasPrefix(m.cyphers[0], "UNWIND $rows") {
		t.Fatalf("unexpected upsert %v %q", m.writes, m.cyphers[0])
	}
	if rows := m.params[0]["rows"].([]map[string]any); len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}

func TestErrorsWrapped(t *testing.T) {
	boom := errors.New("connection reset")
	r := newTestRepo(&mockRunner{err: boom})
	if _, err := r.List(context.Background(), ListOpts{}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if err := r.Delete(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	readErr := errors.New("stream broken")
	r = newTestRepo(&mockRunner{result: &mockResult{err: readErr}})
	if _, err := r.GetMany(context.Background(), []string{"a"}); !errors.Is(err, readErr) {
		t.Fatalf("expected stream error, got %v", err)
	}
}
