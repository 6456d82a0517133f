package semantic

import (
	"context"
	"errors"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/tethys-ocean/tethys/engine/domain"
)

type mockPoints struct {
	upserted  *pb.UpsertPoints
	upsertErr error
	searched  *pb.SearchPoints
	search    *pb.SearchResponse
	searchErr error
	count     uint64
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserted = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searched = in
	return m.search, m.searchErr
}

func (m *mockPoints) Count(_ context.Context, _ *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	return &pb.CountResponse{Result: &pb.CountResult{Count: m.count}}, nil
}

type mockCollections struct {
	names   []string
	created *pb.CreateCollection
	listErr error
}

func (m *mockCollections) List(context.Context, *pb.ListCollectionsRequest, ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	resp := &pb.ListCollectionsResponse{}
	for _, n := range m.names {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func hit(id string, score float32, refs ...string) *pb.ScoredPoint {
	vals := make([]*pb.Value, len(refs))
	for i, r := range refs {
		vals[i] = stringValue(r)
	}
	return &pb.ScoredPoint{
		Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
		Score: score,
		Payload: map[string]*pb.Value{
			keyText:     stringValue("summary " + id),
			keyRefs:     {Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}},
			keyPlatform: intValue(2902746),
			keyCycle:    intValue(12),
			keyTime:     intValue(1685577600),
			keyLat:      doubleValue(15.25),
			keyLon:      doubleValue(88.5),
		},
	}
}

func TestEnsureCollection(t *testing.T) {
	cols := &mockCollections{names: []string{"argo_profiles"}}
	vs := NewWithClients(&mockPoints{}, cols, "argo_profiles", nil)
	if err := vs.EnsureCollection(context.Background(), 384); err != nil {
		t.Fatal(err)
	}
	if cols.created != nil {
		t.Fatal("existing collection should not be recreated")
	}

	cols = &mockCollections{}
	vs = NewWithClients(&mockPoints{}, cols, "argo_profiles", nil)
	if err := vs.EnsureCollection(context.Background(), 384); err != nil {
		t.Fatal(err)
	}
	p := cols.created.GetVectorsConfig().GetParams()
	if p.GetSize() != 384 || p.GetDistance() != pb.Distance_Cosine {
		t.Fatalf("unexpected params %v", p)
	}

	vs = NewWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("down")}, "c", nil)
	if err := vs.EnsureCollection(context.Background(), 3); err == nil {
		t.Fatal("expected list error")
	}
}

func TestUpsertPayload(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "c", nil)
	rec := VectorRecord{
		ID: "6f1c0a43-1b4c-5d0e-8f8a-1a2b3c4d5e6f", Embedding: []float32{0.1, 0.2},
		Text: "Argo float 2902746", Refs: []string{"2902746_12_5.5", "2902746_12_10"},
		Platform: 2902746, Cycle: 12, Time: time.Unix(1685577600, 0), Lat: 15.25, Lon: 88.5,
	}
	if err := vs.Upsert(context.Background(), []VectorRecord{rec}); err != nil {
		t.Fatal(err)
	}
	p := pts.upserted.GetPoints()[0].GetPayload()
	if len(p[keyRefs].GetListValue().GetValues()) != 2 || p[keyPlatform].GetIntegerValue() != 2902746 ||
		p[keyLat].GetDoubleValue() != 15.25 || p[keyLon].GetDoubleValue() != 88.5 {
		t.Fatalf("unexpected payload %v", p)
	}
	if !pts.upserted.GetWait() {
		t.Fatal("upsert should wait for the write")
	}

	rec.Refs = nil
	if err := vs.Upsert(context.Background(), []VectorRecord{rec}); err == nil {
		t.Fatal("expected error for record without refs")
	}
	if err := vs.Upsert(context.Background(), nil); err != nil {
		t.Fatal("empty upsert should be a no-op")
	}
}

func TestSearchDropsHitsWithoutRefs(t *testing.T) {
	pts := &mockPoints{search: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		hit("a", 0.9, "2902746_12_5.5"),
		hit("b", 0.8),
		hit("c", 0.7, "2902746_12_10", ""),
	}}}
	vs := NewWithClients(pts, &mockCollections{}, "c", nil)
	got, err := vs.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected neighbors %+v", got)
	}
	if len(got[1].Refs) != 1 {
		t.Fatalf("empty ref strings should be skipped: %v", got[1].Refs)
	}
	if got[0].Time.Year() != 2023 || got[0].Cycle != 12 || got[0].Lat == nil || *got[0].Lat != 15.25 {
		t.Fatalf("payload not decoded: %+v", got[0])
	}
	if pts.searched.GetLimit() != 5 || pts.searched.GetFilter() != nil {
		t.Fatalf("unexpected request %v", pts.searched)
	}
}

func TestSearchFilteredPlatforms(t *testing.T) {
	pts := &mockPoints{search: &pb.SearchResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "c", nil)
	if _, err := vs.SearchFiltered(context.Background(), []float32{1}, 3, domain.Filter{Platforms: []int{1900121}}); err != nil {
		t.Fatal(err)
	}
	m := pts.searched.GetFilter().GetMust()[0].GetField().GetMatch().GetIntegers().GetIntegers()
	if len(m) != 1 || m[0] != 1900121 {
		t.Fatalf("unexpected filter %v", pts.searched.GetFilter())
	}
}

func TestSearchFilteredTimeAndRegion(t *testing.T) {
	pts := &mockPoints{search: &pb.SearchResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "c", nil)
	f := domain.Filter{
		Region: &domain.Region{Name: "Bay of Bengal", MinLat: 5, MaxLat: 23, MinLon: 80, MaxLon: 95},
		Time: &domain.TimeRange{
			Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	if _, err := vs.SearchFiltered(context.Background(), []float32{1}, 3, f); err != nil {
		t.Fatal(err)
	}
	ranges := map[string]*pb.Range{}
	for _, c := range pts.searched.GetFilter().GetMust() {
		ranges[c.GetField().GetKey()] = c.GetField().GetRange()
	}
	if r := ranges[keyTime]; r.GetGte() != 1672531200 || r.GetLt() != 1675209600 {
		t.Fatalf("unexpected time range %v", r)
	}
	if r := ranges[keyLat]; r.GetGte() != 5 || r.GetLte() != 23 {
		t.Fatalf("unexpected lat range %v", r)
	}
	if r := ranges[keyLon]; r.GetGte() != 80 || r.GetLte() != 95 {
		t.Fatalf("unexpected lon range %v", r)
	}
}

func TestSearchFilteredAntimeridian(t *testing.T) {
	pts := &mockPoints{search: &pb.SearchResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "c", nil)
	f := domain.Filter{Region: &domain.Region{Name: "Pacific", MinLat: -10, MaxLat: 10, MinLon: 170, MaxLon: -170}}
	if _, err := vs.SearchFiltered(context.Background(), []float32{1}, 3, f); err != nil {
		t.Fatal(err)
	}
	must := pts.searched.GetFilter().GetMust()
	if len(must) != 2 || len(must[1].GetFilter().GetShould()) != 2 {
		t.Fatalf("expected lat range plus either-side lon, got %v", pts.searched.GetFilter())
	}
}

func TestSearchErrors(t *testing.T) {
	vs := NewWithClients(&mockPoints{searchErr: errors.New("unavailable")}, &mockCollections{}, "c", nil)
	if _, err := vs.Search(context.Background(), []float32{1}, 3); err == nil {
		t.Fatal("expected search error")
	}
	if _, err := vs.Search(context.Background(), nil, 3); err == nil {
		t.Fatal("expected error for empty vector")
	}
}

func TestCountAndClose(t *testing.T) {
	vs := NewWithClients(&mockPoints{count: 42}, &mockCollections{}, "c", nil)
	n, err := vs.Count(context.Background())
	if err != nil || n != 42 {
		t.Fatalf("unexpected count %d %v", n, err)
	}
	if err := vs.Close(); err != nil {
		t.Fatal(err)
	}
}
