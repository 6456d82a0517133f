// Package semantic is the vector store adapter: k-NN search and upsert of
// profile summary embeddings in Qdrant over gRPC.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tethys-ocean/tethys/engine/domain"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	log         *slog.Logger
}

// New connects to Qdrant at the given gRPC address.
func New(addr, collection string, log *slog.Logger) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, log)
	vs.conn = conn
	return vs, nil
}

// NewWithClients builds a store over existing clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string, log *slog.Logger) *VectorStore {
	if log == nil {
		log = slog.Default()
	}
	return &VectorStore{points: points, collections: collections, collection: collection, log: log}
}

// Close closes the gRPC connection, if the store owns one.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the cosine collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: uint64(dims), Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert stores summary embeddings. Records without refs are rejected.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		if len(r.Refs) == 0 {
			return fmt.Errorf("semantic: upsert %s: no record refs", r.ID)
		}
		refs := make([]*pb.Value, len(r.Refs))
		for j, ref := range r.Refs {
			refs[j] = stringValue(ref)
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}},
			},
			Payload: map[string]*pb.Value{
				keyText:     stringValue(r.Text),
				keyRefs:     {Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: refs}}},
				keyPlatform: intValue(int64(r.Platform)),
				keyCycle:    intValue(int64(r.Cycle)),
				keyTime:     intValue(r.Time.UTC().Unix()),
				keyLat:      doubleValue(r.Lat),
				keyLon:      doubleValue(r.Lon),
			},
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Search performs k-NN similarity search.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, k int) ([]domain.Neighbor, error) {
	return v.SearchFiltered(ctx, embedding, k, domain.Filter{})
}

// SearchFiltered restricts the search to points inside the filter's time
// range, region and floats. Hits whose payload has no record refs are
// dropped and logged.
func (v *VectorStore) SearchFiltered(ctx context.Context, embedding []float32, k int, f domain.Filter) ([]domain.Neighbor, error) {
	if len(embedding) == 0 {
		return nil, errors.New("semantic: search: empty query vector")
	}
	if k <= 0 {
		return nil, nil
	}
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		Filter:         payloadFilter(f),
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	out := make([]domain.Neighbor, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		p := r.GetPayload()
		n := domain.Neighbor{
			ID:       r.GetId().GetUuid(),
			Score:    float64(r.GetScore()),
			Text:     p[keyText].GetStringValue(),
			Platform: int(p[keyPlatform].GetIntegerValue()),
			Cycle:    int(p[keyCycle].GetIntegerValue()),
		}
		if ts := p[keyTime].GetIntegerValue(); ts != 0 {
			n.Time = time.Unix(ts, 0).UTC()
		}
		if lat, ok := p[keyLat]; ok {
			n.Lat = domain.F(lat.GetDoubleValue())
		}
		if lon, ok := p[keyLon]; ok {
			n.Lon = domain.F(lon.GetDoubleValue())
		}
		for _, ref := range p[keyRefs].GetListValue().GetValues() {
			if s := ref.GetStringValue(); s != "" {
				n.Refs = append(n.Refs, s)
			}
		}
		if len(n.Refs) == 0 {
			v.log.Warn("dropping vector hit without record refs", "id", n.ID, "collection", v.collection)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Count returns the number of stored points.
func (v *VectorStore) Count(ctx context.Context) (uint64, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{CollectionName: v.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}

// payloadFilter maps the plan filter onto payload conditions. Level
// predicates have no payload counterpart and are left to the relational side.
func payloadFilter(f domain.Filter) *pb.Filter {
	var must []*pb.Condition
	if len(f.Platforms) > 0 {
		ids := make([]int64, len(f.Platforms))
		for i, p := range f.Platforms {
			ids[i] = int64(p)
		}
		must = append(must, &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   keyPlatform,
			Match: &pb.Match{MatchValue: &pb.Match_Integers{Integers: &pb.RepeatedIntegers{Integers: ids}}},
		}}})
	}
	if f.Time != nil {
		must = append(must, rangeCond(keyTime, &pb.Range{
			Gte: ptr(float64(f.Time.Start.Unix())),
			Lt:  ptr(float64(f.Time.End.Unix())),
		}))
	}
	if r := f.Region; r != nil {
		must = append(must, rangeCond(keyLat, &pb.Range{Gte: ptr(r.MinLat), Lte: ptr(r.MaxLat)}))
		if r.MinLon <= r.MaxLon {
			must = append(must, rangeCond(keyLon, &pb.Range{Gte: ptr(r.MinLon), Lte: ptr(r.MaxLon)}))
		} else {
			// box crosses the antimeridian
			must = append(must, &pb.Condition{ConditionOneOf: &pb.Condition_Filter{Filter: &pb.Filter{
				Should: []*pb.Condition{
					rangeCond(keyLon, &pb.Range{Gte: ptr(r.MinLon)}),
					rangeCond(keyLon, &pb.Range{Lte: ptr(r.MaxLon)}),
				},
			}}})
		}
	}
	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

func rangeCond(key string, r *pb.Range) *pb.Condition {
	return &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{Key: key, Range: r}}}
}

func ptr(v float64) *float64 { return &v }

func doubleValue(v float64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: v}}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: n}}
}
