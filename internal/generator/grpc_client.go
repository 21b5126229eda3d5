package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProposeMethod is the full gRPC method name of the remote generator. The
// request and response are google.protobuf.Struct documents.
const ProposeMethod = "/tablestage.generator.v1.StagingGenerator/Propose"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errServiceNotServing        = errors.New("generator not serving")
)

// ClientConfig holds configuration for the gRPC client.
type ClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultClientConfig returns default configuration for addr.
func DefaultClientConfig(addr string) ClientConfig {
	return ClientConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Client calls a remote generative staging service over gRPC.
type Client struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient connects to the generator and waits until the channel is ready.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to generator at %s: %w", cfg.Address, err)
	}

	// Fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("generator at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to staging generator", "address", cfg.Address)
	return newClientFromConn(conn, cfg.RequestTimeout, logger), nil
}

func newClientFromConn(conn *grpc.ClientConn, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		timeout: timeout,
		logger:  logger,
	}
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health checks the standard gRPC health service.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errServiceNotServing, resp.GetStatus())
	}
	return nil
}

// Generate asks the remote service which candidates are present. Only
// NPCs from candidates are accepted in the answer.
func (c *Client) Generate(ctx context.Context, req domain.ProposalRequest, candidates []domain.RegionNpc) ([]domain.NpcPresence, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	in, err := encodeRequest(req, candidates)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, ProposeMethod, in, out); err != nil {
		return nil, fmt.Errorf("propose request failed: %w", err)
	}
	return decodeResponse(out, candidates)
}

func encodeRequest(req domain.ProposalRequest, candidates []domain.RegionNpc) (*structpb.Struct, error) {
	list := make([]any, 0, len(candidates))
	for _, n := range candidates {
		list = append(list, map[string]any{
			"character_id": string(n.Character.ID),
			"name":         n.Character.Name,
			"relation":     n.Relation.Relation,
			"shift":        n.Relation.Shift,
			"frequency":    n.Relation.Frequency,
			"default_mood": n.Character.DefaultMood,
		})
	}
	s, err := structpb.NewStruct(map[string]any{
		"world_id":          string(req.WorldID),
		"region_id":         string(req.RegionID),
		"region_name":       req.RegionName,
		"location_id":       string(req.LocationID),
		"location_name":     req.LocationName,
		"game_time":         req.GameTime.UTC().Format(time.RFC3339),
		"default_ttl_hours": req.DefaultTTLHours,
		"guidance":          req.Guidance,
		"candidates":        list,
	})
	if err != nil {
		return nil, fmt.Errorf("encode propose request: %w", err)
	}
	return s, nil
}

func decodeResponse(out *structpb.Struct, candidates []domain.RegionNpc) ([]domain.NpcPresence, error) {
	known := make(map[domain.CharacterID]domain.Character, len(candidates))
	for _, n := range candidates {
		known[n.Character.ID] = n.Character
	}

	raw, ok := out.GetFields()["npcs"]
	if !ok {
		return nil, errors.New("propose response missing npcs")
	}
	var result []domain.NpcPresence
	for _, v := range raw.GetListValue().GetValues() {
		fields := v.GetStructValue().GetFields()
		id, err := domain.ParseCharacterID(fields["character_id"].GetStringValue())
		if err != nil {
			continue
		}
		ch, ok := known[id]
		if !ok {
			continue
		}
		mood := fields["mood"].GetStringValue()
		if mood == "" {
			mood = ch.DefaultMood
		}
		result = append(result, domain.NpcPresence{
			CharacterID:         ch.ID,
			Name:                ch.Name,
			SpriteAsset:         ch.SpriteAsset,
			PortraitAsset:       ch.PortraitAsset,
			IsPresent:           fields["is_present"].GetBoolValue(),
			IsHiddenFromPlayers: fields["is_hidden_from_players"].GetBoolValue(),
			Reasoning:           fields["reasoning"].GetStringValue(),
			Mood:                mood,
		})
	}
	return result, nil
}
