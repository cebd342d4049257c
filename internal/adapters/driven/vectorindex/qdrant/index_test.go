package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		endpoint  string
		want      string
		wantTLS   bool
		wantError bool
	}{
		{
			name:     "valid http endpoint",
			endpoint: "http://localhost:6334",
			want:     "localhost:6334",
		},
		{
			name:     "valid https endpoint",
			endpoint: "https://qdrant.example.com:6334",
			want:     "qdrant.example.com:6334",
			wantTLS:  true,
		},
		{
			name:     "default port",
			endpoint: "http://qdrant/",
			want:     "qdrant:6334",
		},
		{
			name:      "rejects empty string",
			endpoint:  "",
			wantError: true,
		},
		{
			name:      "rejects file scheme",
			endpoint:  "file:///etc/passwd",
			wantError: true,
		},
		{
			name:      "rejects no scheme",
			endpoint:  "localhost:6334",
			wantError: true,
		},
		{
			name:      "rejects bad port",
			endpoint:  "http://localhost:0",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEndpoint(tt.endpoint)
			if tt.wantError {
				if !errors.Is(err, domain.ErrInvalidConfig) {
					t.Errorf("parseEndpoint(%q) error = %v, want ErrInvalidConfig", tt.endpoint, err)
				}
				return
			}
			if err != nil {
				t.Errorf("parseEndpoint(%q) unexpected error: %v", tt.endpoint, err)
				return
			}
			if got.String() != tt.want || got.tls != tt.wantTLS {
				t.Errorf("parseEndpoint(%q) = %s tls=%v, want %s tls=%v", tt.endpoint, got, got.tls, tt.want, tt.wantTLS)
			}
		})
	}
}

// fakeState is the collection held by the in-process Qdrant server
type fakeState struct {
	mu      sync.Mutex
	size    uint64
	created bool
	points  map[string]*qdrant.PointStruct
	scores  map[string]float32
	limit   uint64
	apiKeys []string
}

func (f *fakeState) recordKey(ctx context.Context) {
	md, _ := metadata.FromIncomingContext(ctx)
	f.apiKeys = append(f.apiKeys, md.Get("api-key")...)
}

func missing() error {
	return status.Error(codes.NotFound, "Not found: Collection `docs` doesn't exist!")
}

type fakeCollections struct {
	qdrant.UnimplementedCollectionsServer
	*fakeState
}

func (f *fakeCollections) Get(ctx context.Context, req *qdrant.GetCollectionInfoRequest) (*qdrant.GetCollectionInfoResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordKey(ctx)
	if !f.created {
		return nil, missing()
	}
	return &qdrant.GetCollectionInfoResponse{Result: &qdrant.CollectionInfo{
		Config: &qdrant.CollectionConfig{Params: &qdrant.CollectionParams{
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: f.size, Distance: qdrant.Distance_Cosine}),
		}},
	}}, nil
}

func (f *fakeCollections) Create(ctx context.Context, req *qdrant.CreateCollection) (*qdrant.CollectionOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = true
	f.size = req.GetVectorsConfig().GetParams().GetSize()
	return &qdrant.CollectionOperationResponse{Result: true}, nil
}

type fakePoints struct {
	qdrant.UnimplementedPointsServer
	*fakeState
}

func (f *fakePoints) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created {
		return nil, missing()
	}
	for _, p := range req.GetPoints() {
		f.points[p.GetId().GetUuid()] = p
	}
	return &qdrant.PointsOperationResponse{Result: &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}}, nil
}

// Query scores each point by its content from the scores table
func (f *fakePoints) Query(ctx context.Context, req *qdrant.QueryPoints) (*qdrant.QueryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created {
		return nil, missing()
	}
	f.limit = req.GetLimit()
	hits := make([]*qdrant.ScoredPoint, 0, len(f.points))
	for _, p := range f.points {
		content := p.GetPayload()[payloadContent].GetStringValue()
		hits = append(hits, &qdrant.ScoredPoint{Id: p.GetId(), Payload: p.GetPayload(), Score: f.scores[content]})
	}
	return &qdrant.QueryResponse{Result: hits}, nil
}

func (f *fakePoints) Count(ctx context.Context, req *qdrant.CountPoints) (*qdrant.CountResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created {
		return nil, missing()
	}
	return &qdrant.CountResponse{Result: &qdrant.CountResult{Count: uint64(len(f.points))}}, nil
}

type fakeHealth struct {
	qdrant.UnimplementedQdrantServer
}

func (fakeHealth) HealthCheck(ctx context.Context, req *qdrant.HealthCheckRequest) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{Title: "qdrant", Version: "test"}, nil
}

// newFakeQdrant serves the gRPC services the index uses on a loopback port
func newFakeQdrant(t *testing.T) (*fakeState, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	f := &fakeState{points: make(map[string]*qdrant.PointStruct), scores: make(map[string]float32)}
	srv := grpc.NewServer()
	qdrant.RegisterCollectionsServer(srv, &fakeCollections{fakeState: f})
	qdrant.RegisterPointsServer(srv, &fakePoints{fakeState: f})
	qdrant.RegisterQdrantServer(srv, fakeHealth{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return f, "http://" + lis.Addr().String()
}

func newTestIndex(t *testing.T, url string) *Index {
	t.Helper()
	x, err := NewIndex(Config{URL: url, APIKey: "secret", Collection: "docs", Dimensions: 3, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	t.Cleanup(func() { _ = x.Close() })
	return x
}

func TestIndex_EnsureCollectionCreates(t *testing.T) {
	f, url := newFakeQdrant(t)
	x := newTestIndex(t, url)

	if err := x.HealthCheck(context.Background()); !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Errorf("HealthCheck before EnsureCollection = %v, want ErrIndexUnavailable", err)
	}
	if err := x.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	f.mu.Lock()
	created, size := f.created, f.size
	f.mu.Unlock()
	if !created || size != 3 {
		t.Errorf("collection created=%v size=%d, want true/3", created, size)
	}
	// second call finds the existing collection
	if err := x.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection again: %v", err)
	}
	if err := x.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.apiKeys) == 0 || f.apiKeys[0] != "secret" {
		t.Errorf("api-key header = %v, want secret", f.apiKeys)
	}
}

func TestIndex_EnsureCollectionDimensionMismatch(t *testing.T) {
	f, url := newFakeQdrant(t)
	f.mu.Lock()
	f.created = true
	f.size = 1536
	f.mu.Unlock()

	x := newTestIndex(t, url)
	if err := x.EnsureCollection(context.Background()); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("EnsureCollection = %v, want ErrDimensionMismatch", err)
	}
}

func TestIndex_UpsertQueryCount(t *testing.T) {
	ctx := context.Background()
	f, url := newFakeQdrant(t)
	x := newTestIndex(t, url)
	if err := x.EnsureCollection(ctx); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	entries := []*domain.IndexEntry{
		{Vector: []float32{1, 0, 0}, Content: "alpha", Metadata: map[string]string{domain.MetaSourceRef: "a.txt"}},
		{Vector: []float32{0, 1, 0}, Content: "beta"},
		{ID: "9f1c2d4e-0000-5000-8000-000000000001", Vector: []float32{0.8, 0.2, 0}, Content: "gamma"},
	}
	ids, err := x.Upsert(ctx, entries)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(ids) != 3 || ids[0] == "" || ids[2] != "9f1c2d4e-0000-5000-8000-000000000001" {
		t.Errorf("Upsert ids = %v", ids)
	}

	n, err := x.Count(ctx)
	if err != nil || n != 3 {
		t.Errorf("Count = %d, %v; want 3", n, err)
	}

	f.mu.Lock()
	f.scores = map[string]float32{"alpha": 1, "gamma": 0.97, "beta": 0}
	f.mu.Unlock()
	res, err := x.Query(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	f.mu.Lock()
	limit := f.limit
	f.mu.Unlock()
	if limit != 2 {
		t.Errorf("limit sent = %d, want 2", limit)
	}
	if len(res) != 3 {
		t.Fatalf("Query returned %d hits, want all 3 from the fake", len(res))
	}
	if res[0].Content != "alpha" || res[0].ID != ids[0] || res[0].SourceRef != "a.txt" || res[0].Metadata[domain.MetaSourceRef] != "a.txt" {
		t.Errorf("top hit = %+v", res[0])
	}
	if res[1].Content != "gamma" || res[2].Content != "beta" {
		t.Errorf("order = %q, %q; want gamma, beta", res[1].Content, res[2].Content)
	}
}

func TestIndex_QueryMissingCollection(t *testing.T) {
	_, url := newFakeQdrant(t)
	x := newTestIndex(t, url)

	res, err := x.Query(context.Background(), []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res == nil || len(res) != 0 {
		t.Errorf("Query = %v, want empty result", res)
	}
	if n, err := x.Count(context.Background()); err != nil || n != 0 {
		t.Errorf("Count = %d, %v; want 0", n, err)
	}
}

func TestIndex_Validation(t *testing.T) {
	_, url := newFakeQdrant(t)
	x := newTestIndex(t, url)
	ctx := context.Background()

	if _, err := x.Query(ctx, []float32{1, 0, 0}, 0); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("Query k=0 = %v, want ErrInvalidConfig", err)
	}
	if _, err := x.Query(ctx, []float32{1, 0}, 1); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("Query short vector = %v, want ErrDimensionMismatch", err)
	}
	if _, err := x.Upsert(ctx, []*domain.IndexEntry{{Vector: []float32{1}}}); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("Upsert short vector = %v, want ErrDimensionMismatch", err)
	}
	if _, err := x.Upsert(ctx, []*domain.IndexEntry{{ID: "chunk-1", Vector: []float32{1, 0, 0}}}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Upsert non-UUID id = %v, want ErrInvalidInput", err)
	}
	if _, err := NewIndex(Config{URL: "http://localhost:6334", Collection: "docs"}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("NewIndex without dimensions = %v, want ErrInvalidConfig", err)
	}
}

func TestIndex_Unreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	url := fmt.Sprintf("http://%s", lis.Addr())
	lis.Close()

	x := newTestIndex(t, url)
	if err := x.EnsureCollection(context.Background()); !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Errorf("EnsureCollection = %v, want ErrIndexUnavailable", err)
	}
	if err := x.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck on closed server should fail")
	}
}

func TestPointID(t *testing.T) {
	if got := pointID(qdrant.NewID("9f1c2d4e-0000-5000-8000-000000000001")); got != "9f1c2d4e-0000-5000-8000-000000000001" {
		t.Errorf("pointID uuid = %q", got)
	}
	if got := pointID(qdrant.NewIDNum(42)); got != "42" {
		t.Errorf("pointID number = %q", got)
	}
}
