package generator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// startFakeGenerator serves ProposeMethod by echoing every candidate as
// present with the request guidance as reasoning.
func startFakeGenerator(t *testing.T) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		in := &structpb.Struct{}
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		guidance := in.GetFields()["guidance"].GetStringValue()
		var npcs []any
		for _, c := range in.GetFields()["candidates"].GetListValue().GetValues() {
			npcs = append(npcs, map[string]any{
				"character_id": c.GetStructValue().GetFields()["character_id"].GetStringValue(),
				"is_present":   true,
				"reasoning":    guidance,
			})
		}
		out, err := structpb.NewStruct(map[string]any{"npcs": npcs})
		if err != nil {
			return err
		}
		return stream.SendMsg(out)
	}))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := newClientFromConn(conn, 5*time.Second, nil)
	t.Cleanup(c.Close)
	return c
}

func TestClientGenerateRoundTrip(t *testing.T) {
	c := startFakeGenerator(t)
	ctx := context.Background()

	if err := c.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	candidates := []domain.RegionNpc{{Character: domain.Character{ID: mira, Name: "Mira"}}}
	got, err := c.Generate(ctx, domain.ProposalRequest{RegionID: tavern, Guidance: "make it spookier"}, candidates)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Mira" || got[0].Reasoning != "make it spookier" {
		t.Errorf("Generate = %+v", got)
	}
}
