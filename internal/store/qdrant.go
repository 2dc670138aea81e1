package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
)

// QdrantConfig addresses a Qdrant server over gRPC.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantStore implements VectorStore on a Qdrant server.
type QdrantStore struct {
	client *qdrant.Client
	addr   string
}

// NewQdrantStore creates the gRPC client. No request is made until the
// first call.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	if err != nil {
		return nil, nxerrors.New(nxerrors.ErrCodeStoreConnection, "failed to create qdrant client", err).
			WithDetail("addr", addr)
	}
	return &QdrantStore{client: client, addr: addr}, nil
}

// CollectionExists reports whether the collection exists on the server.
func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, s.classify("collection_exists", err)
	}
	return exists, nil
}

// CreateCollection creates the collection and a keyword index per
// IndexedFields entry.
func (s *QdrantStore) CreateCollection(ctx context.Context, spec CollectionSpec) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(spec.VectorSize),
			Distance: qdrant.Distance_Cosine,
			OnDisk:   qdrant.PtrOf(spec.OnDisk),
		}),
		OnDiskPayload: qdrant.PtrOf(spec.OnDiskPayload),
	})
	if err != nil {
		return s.classify("create_collection", err)
	}

	for _, field := range spec.IndexedFields {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: spec.Name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return s.classify("create_field_index", err)
		}
	}
	return nil
}

// Upsert writes points and waits for the write to be applied.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := qdrant.TryValueMap(p.Payload)
		if err != nil {
			return nxerrors.New(nxerrors.ErrCodeStoreOperation, "unsupported payload value", err).
				WithDetail("point_id", fmt.Sprint(p.ID))
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return s.classify("upsert", err)
	}
	return nil
}

// Search runs a nearest-neighbour query with payloads.
func (s *QdrantStore) Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error) {
	if req.Limit <= 0 {
		return []ScoredPoint{}, nil
	}

	found, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(req.Vector...),
		Filter:         toQdrantFilter(req.Filter),
		Limit:          qdrant.PtrOf(uint64(req.Limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, s.classify("search", err)
	}

	hits := make([]ScoredPoint, 0, len(found))
	for _, sp := range found {
		hits = append(hits, ScoredPoint{
			ID:      sp.GetId().GetNum(),
			Score:   sp.GetScore(),
			Payload: fromQdrantPayload(sp.GetPayload()),
		})
	}
	return hits, nil
}

// Delete removes points matching filter.
func (s *QdrantStore) Delete(ctx context.Context, collection string, filter Filter) error {
	if filter.IsEmpty() {
		return nxerrors.ValidationError("refusing to delete with an empty filter", nil)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(toQdrantFilter(filter)),
	})
	if err != nil {
		return s.classify("delete", err)
	}
	return nil
}

// DeleteIDs removes points by ID.
func (s *QdrantStore) DeleteIDs(ctx context.Context, collection string, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pids = append(pids, qdrant.NewIDNum(id))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pids...),
	})
	if err != nil {
		return s.classify("delete_ids", err)
	}
	return nil
}

// Count returns the exact number of points in collection.
func (s *QdrantStore) Count(ctx context.Context, collection string) (uint64, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, s.classify("count", err)
	}
	return n, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// classify maps gRPC failures onto the store error taxonomy. Transport
// failures are connection errors and retryable; everything the server
// rejected is an operation error.
func (s *QdrantStore) classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code := nxerrors.ErrCodeStoreOperation
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		code = nxerrors.ErrCodeStoreConnection
	}
	return nxerrors.New(code, "qdrant "+op+" failed", err).WithDetail("addr", s.addr)
}

func toQdrantFilter(f Filter) *qdrant.Filter {
	if f.IsEmpty() {
		return nil
	}
	qf := &qdrant.Filter{}
	for _, m := range f.Must {
		qf.Must = append(qf.Must, qdrant.NewMatch(m.Key, m.Value))
	}
	for _, m := range f.Should {
		qf.Should = append(qf.Should, qdrant.NewMatch(m.Key, m.Value))
	}
	return qf
}

func fromQdrantPayload(in map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = kind.BoolValue
		}
	}
	return out
}

var _ VectorStore = (*QdrantStore)(nil)
