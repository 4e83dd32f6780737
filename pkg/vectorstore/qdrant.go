package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantConfig addresses a Qdrant gRPC endpoint.
type QdrantConfig struct {
	Addr       string
	APIKey     string
	UseTLS     bool
	Collection string
}

// QdrantStore stores points in one Qdrant collection.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	host, port := parseHostPort(cfg.Addr, "localhost", 6334)
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	return &QdrantStore{client: client, collection: collection}, nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func parseHostPort(addr, defaultHost string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		if addr = strings.TrimSpace(addr); addr != "" {
			return addr, defaultPort
		}
		return defaultHost, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}

// alreadyExists treats a lost create race as success.
func alreadyExists(err error) bool {
	if err == nil {
		return false
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.AlreadyExists {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, dim int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !alreadyExists(err) {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	for _, field := range []string{"user_id", "document_id"} {
		wait := true
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			Wait:           &wait,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil && !alreadyExists(err) {
			return fmt.Errorf("create %s index: %w", field, err)
		}
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		})
	}
	wait := true
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         structs,
	}); err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (s *QdrantStore) deleteMatching(ctx context.Context, key, value string) error {
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(key, value)},
		}),
	})
	if missingCollection(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("qdrant delete by %s: %w", key, err)
	}
	return nil
}

func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID string) error {
	return s.deleteMatching(ctx, "document_id", documentID)
}

func (s *QdrantStore) DeleteByUser(ctx context.Context, userID string) error {
	return s.deleteMatching(ctx, "user_id", userID)
}

func (s *QdrantStore) Search(ctx context.Context, userID string, vector []float32, k int) ([]Hit, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	if err := checkDim(0, vector); err != nil {
		return nil, err
	}
	limit := uint64(k)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("user_id", userID)},
		},
		Limit: &limit,
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if missingCollection(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{
			ID:      p.GetId().GetUuid(),
			Score:   p.GetScore(),
			Payload: fromQdrantPayload(p.GetPayload()),
		})
	}
	return hits, nil
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
