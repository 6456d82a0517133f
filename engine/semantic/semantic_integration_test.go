//go:build integration

package semantic

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestQdrantRoundTrip(t *testing.T) {
	addr := os.Getenv("QDRANT_ADDR")
	if addr == "" {
		addr = "localhost:6334"
	}
	vs, err := New(addr, "tethys_it_"+uuid.NewString()[:8], nil)
	if err != nil {
		t.Fatal(err)
	}
	defer vs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := vs.EnsureCollection(ctx, 3); err != nil {
		t.Fatal(err)
	}
	rec := VectorRecord{ID: uuid.NewString(), Embedding: []float32{1, 0, 0}, Text: "warm", Refs: []string{"1_1_5"}, Platform: 1, Cycle: 1, Time: time.Now()}
	if err := vs.Upsert(ctx, []VectorRecord{rec}); err != nil {
		t.Fatal(err)
	}
	got, err := vs.Search(ctx, []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Refs[0] != "1_1_5" {
		t.Fatalf("unexpected hits %+v", got)
	}
}
