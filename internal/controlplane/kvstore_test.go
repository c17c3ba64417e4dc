package controlplane

import (
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/marimax/cloudanchor/internal/storage/grpckv"
	"github.com/marimax/cloudanchor/internal/store"
)

func newAuditedGRPC(t *testing.T, service *Service) grpckv.KVClient {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	grpckv.RegisterKVServer(srv, &grpckv.Server{Store: service.KVStore()})
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	cc, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(func(ctx context.Context, s string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Failed to dial bufconn: %v", err)
	}
	t.Cleanup(func() { cc.Close() })
	return grpckv.NewKVClient(cc)
}

func kvStruct(t *testing.T, fields map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("Failed to build struct: %v", err)
	}
	return s
}

func TestAuditedKV_GRPCWritesAreAudited(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	client := newAuditedGRPC(t, s.service)

	if _, err := s.service.PutKV(ctx, "http-key", "v"); err != nil {
		t.Fatalf("PutKV failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := client.Put(ctx, kvStruct(t, map[string]interface{}{"key": "grpc-key", "value": "v"})); err != nil {
			t.Fatalf("gRPC Put failed: %v", err)
		}
	}

	// A stale create is rejected as a conflict and still audited.
	_, err := client.CompareAndSwap(ctx, kvStruct(t, map[string]interface{}{"key": "grpc-key", "expected": 0, "value": "x"}))
	if status.Code(err) != codes.Aborted {
		t.Fatalf("Expected Aborted for stale create, got %v", err)
	}

	entries, err := s.service.Audit(ctx, 50)
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("Expected 5 audit entries, got %d", len(entries))
	}
	puts, conflicts := 0, 0
	for _, e := range entries {
		switch {
		case e.Action == "kv.put" && e.Outcome == "success":
			puts++
		case e.Action == "kv.cas" && e.Outcome == "conflict":
			conflicts++
		}
	}
	if puts != 4 || conflicts != 1 {
		t.Errorf("Expected 4 puts and 1 conflict, got %d puts and %d conflicts", puts, conflicts)
	}
}

func TestAuditedKV_NotFound(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()
	client := newAuditedGRPC(t, s.service)

	_, err := client.Get(context.Background(), wrapperspb.String("missing"))
	if status.Code(err) != codes.NotFound {
		t.Errorf("Expected NotFound, got %v", err)
	}

	if _, err := s.service.KVStore().Get(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected store.ErrNotFound, got %v", err)
	}
}
