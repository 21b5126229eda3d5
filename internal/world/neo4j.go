package world

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jConfig holds graph database connection settings.
type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Database string
}

// Neo4jRepository reads the world graph from Neo4j.
//
// Expected graph shape:
//
//	(:World {id, name, start_time, default_ttl_hours})
//	(:Location {id, world_id, name, description, default_region_id})
//	(:Region {id, location_id, name, description, backdrop_asset})
//	(:Region)-[:CONNECTED_TO {description, locked, lock_reason}]->(:Region)
//	(:Region)-[:EXITS_TO {description, locked, lock_reason}]->(:Location)
//	(:Character {id, world_id, name, sprite_asset, portrait_asset, default_mood})
//	(:Character)-[:RELATES_TO {relation, shift, frequency}]->(:Region)
//	(:PlayerCharacter {id, world_id, user_id, name, location_id, region_id})
type Neo4jRepository struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewNeo4jRepository connects to Neo4j and verifies connectivity.
func NewNeo4jRepository(ctx context.Context, cfg Neo4jConfig, logger *slog.Logger) (*Neo4jRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver creation failed: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity test failed: %w", err)
	}
	db := cfg.Database
	if db == "" {
		db = "neo4j"
	}
	logger.Info("Connected to world graph", "uri", cfg.URI, "database", db)
	return &Neo4jRepository{driver: driver, database: db, logger: logger}, nil
}

func (n *Neo4jRepository) query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	result, err := neo4j.ExecuteQuery(ctx, n.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return nil, fmt.Errorf("neo4j query: %w", err)
	}
	rows := make([]map[string]any, 0, len(result.Records))
	for _, rec := range result.Records {
		rows = append(rows, rec.AsMap())
	}
	return rows, nil
}

func (n *Neo4jRepository) queryOne(ctx context.Context, cypher string, params map[string]any) (map[string]any, error) {
	rows, err := n.query(ctx, cypher, params)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// World implements Repository.
func (n *Neo4jRepository) World(ctx context.Context, id domain.WorldID) (*domain.World, error) {
	row, err := n.queryOne(ctx, `
		MATCH (w:World {id: $id})
		RETURN w.id AS id, w.name AS name, w.start_time AS start_time, w.default_ttl_hours AS default_ttl_hours`,
		map[string]any{"id": string(id)})
	if err != nil || row == nil {
		return nil, err
	}
	w := worldFromRow(row)
	return &w, nil
}

// Location implements Repository.
func (n *Neo4jRepository) Location(ctx context.Context, id domain.LocationID) (*domain.Location, error) {
	row, err := n.queryOne(ctx, `
		MATCH (l:Location {id: $id})
		RETURN l.id AS id, l.world_id AS world_id, l.name AS name, l.description AS description,
		       l.default_region_id AS default_region_id`,
		map[string]any{"id": string(id)})
	if err != nil || row == nil {
		return nil, err
	}
	l := locationFromRow(row)
	return &l, nil
}

// Region implements Repository.
func (n *Neo4jRepository) Region(ctx context.Context, id domain.RegionID) (*domain.Region, error) {
	row, err := n.queryOne(ctx, `
		MATCH (r:Region {id: $id})
		RETURN r.id AS id, r.location_id AS location_id, r.name AS name, r.description AS description,
		       r.backdrop_asset AS backdrop_asset`,
		map[string]any{"id": string(id)})
	if err != nil || row == nil {
		return nil, err
	}
	r := regionFromRow(row)
	return &r, nil
}

// Character implements Repository.
func (n *Neo4jRepository) Character(ctx context.Context, id domain.CharacterID) (*domain.Character, error) {
	row, err := n.queryOne(ctx, `
		MATCH (c:Character {id: $id})
		RETURN c.id AS id, c.world_id AS world_id, c.name AS name, c.sprite_asset AS sprite_asset,
		       c.portrait_asset AS portrait_asset, c.default_mood AS default_mood`,
		map[string]any{"id": string(id)})
	if err != nil || row == nil {
		return nil, err
	}
	c := characterFromRow(row)
	return &c, nil
}

// PlayerCharacter implements Repository.
func (n *Neo4jRepository) PlayerCharacter(ctx context.Context, id domain.PlayerCharacterID) (*domain.PlayerCharacter, error) {
	row, err := n.queryOne(ctx, `
		MATCH (p:PlayerCharacter {id: $id})
		RETURN p.id AS id, p.world_id AS world_id, p.user_id AS user_id, p.name AS name,
		       p.location_id AS location_id, p.region_id AS region_id`,
		map[string]any{"id": string(id)})
	if err != nil || row == nil {
		return nil, err
	}
	pc := domain.PlayerCharacter{
		ID:         domain.PlayerCharacterID(str(row, "id")),
		WorldID:    domain.WorldID(str(row, "world_id")),
		UserID:     str(row, "user_id"),
		Name:       str(row, "name"),
		LocationID: domain.LocationID(str(row, "location_id")),
		RegionID:   domain.RegionID(str(row, "region_id")),
	}
	return &pc, nil
}

// Connection implements Repository.
func (n *Neo4jRepository) Connection(ctx context.Context, from, to domain.RegionID) (*domain.RegionConnection, error) {
	row, err := n.queryOne(ctx, `
		MATCH (a:Region {id: $from})-[c:CONNECTED_TO]->(b:Region {id: $to})
		RETURN a.id AS from, b.id AS to, c.description AS description, c.locked AS locked, c.lock_reason AS lock_reason
		LIMIT 1`,
		map[string]any{"from": string(from), "to": string(to)})
	if err != nil || row == nil {
		return nil, err
	}
	conn := connectionFromRow(row)
	return &conn, nil
}

// RegionExits implements Repository.
func (n *Neo4jRepository) RegionExits(ctx context.Context, region domain.RegionID) ([]domain.RegionConnection, error) {
	rows, err := n.query(ctx, `
		MATCH (a:Region {id: $id})-[c:CONNECTED_TO]->(b:Region)
		RETURN a.id AS from, b.id AS to, c.description AS description, c.locked AS locked, c.lock_reason AS lock_reason
		ORDER BY b.name`,
		map[string]any{"id": string(region)})
	if err != nil {
		return nil, err
	}
	out := make([]domain.RegionConnection, 0, len(rows))
	for _, row := range rows {
		out = append(out, connectionFromRow(row))
	}
	return out, nil
}

// LocationExits implements Repository.
func (n *Neo4jRepository) LocationExits(ctx context.Context, region domain.RegionID) ([]domain.LocationExit, error) {
	rows, err := n.query(ctx, `
		MATCH (a:Region {id: $id})-[e:EXITS_TO]->(l:Location)
		RETURN a.id AS from_region, l.id AS to_location, e.description AS description,
		       e.locked AS locked, e.lock_reason AS lock_reason
		ORDER BY l.name`,
		map[string]any{"id": string(region)})
	if err != nil {
		return nil, err
	}
	out := make([]domain.LocationExit, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.LocationExit{
			FromRegion:  domain.RegionID(str(row, "from_region")),
			ToLocation:  domain.LocationID(str(row, "to_location")),
			Description: str(row, "description"),
			Locked:      boolean(row, "locked"),
			LockReason:  str(row, "lock_reason"),
		})
	}
	return out, nil
}

// RegionNpcs implements Repository.
func (n *Neo4jRepository) RegionNpcs(ctx context.Context, region domain.RegionID) ([]domain.RegionNpc, error) {
	rows, err := n.query(ctx, `
		MATCH (c:Character)-[rel:RELATES_TO]->(r:Region {id: $id})
		RETURN c.id AS id, c.world_id AS world_id, c.name AS name, c.sprite_asset AS sprite_asset,
		       c.portrait_asset AS portrait_asset, c.default_mood AS default_mood,
		       r.id AS region_id, rel.relation AS relation, rel.shift AS shift, rel.frequency AS frequency
		ORDER BY c.name`,
		map[string]any{"id": string(region)})
	if err != nil {
		return nil, err
	}
	out := make([]domain.RegionNpc, 0, len(rows))
	for _, row := range rows {
		ch := characterFromRow(row)
		out = append(out, domain.RegionNpc{
			Character: ch,
			Relation: domain.NpcRegionRelation{
				CharacterID: ch.ID,
				RegionID:    domain.RegionID(str(row, "region_id")),
				Relation:    str(row, "relation"),
				Shift:       str(row, "shift"),
				Frequency:   str(row, "frequency"),
			},
		})
	}
	return out, nil
}

// Close implements Repository.
func (n *Neo4jRepository) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}

func worldFromRow(row map[string]any) domain.World {
	w := domain.World{
		ID:              domain.WorldID(str(row, "id")),
		Name:            str(row, "name"),
		StartTime:       timestamp(row, "start_time"),
		DefaultTTLHours: integer(row, "default_ttl_hours"),
	}
	if w.DefaultTTLHours <= 0 {
		w.DefaultTTLHours = 3
	}
	return w
}

func locationFromRow(row map[string]any) domain.Location {
	return domain.Location{
		ID:              domain.LocationID(str(row, "id")),
		WorldID:         domain.WorldID(str(row, "world_id")),
		Name:            str(row, "name"),
		Description:     str(row, "description"),
		DefaultRegionID: domain.RegionID(str(row, "default_region_id")),
	}
}

func regionFromRow(row map[string]any) domain.Region {
	return domain.Region{
		ID:          domain.RegionID(str(row, "id")),
		LocationID:  domain.LocationID(str(row, "location_id")),
		Name:        str(row, "name"),
		Description: str(row, "description"),
		Backdrop:    str(row, "backdrop_asset"),
	}
}

func characterFromRow(row map[string]any) domain.Character {
	return domain.Character{
		ID:            domain.CharacterID(str(row, "id")),
		WorldID:       domain.WorldID(str(row, "world_id")),
		Name:          str(row, "name"),
		SpriteAsset:   str(row, "sprite_asset"),
		PortraitAsset: str(row, "portrait_asset"),
		DefaultMood:   str(row, "default_mood"),
	}
}

func connectionFromRow(row map[string]any) domain.RegionConnection {
	return domain.RegionConnection{
		From:        domain.RegionID(str(row, "from")),
		To:          domain.RegionID(str(row, "to")),
		Description: str(row, "description"),
		Locked:      boolean(row, "locked"),
		LockReason:  str(row, "lock_reason"),
	}
}

func str(row map[string]any, key string) string {
	if s, ok := row[key].(string); ok {
		return s
	}
	return ""
}

func boolean(row map[string]any, key string) bool {
	b, _ := row[key].(bool)
	return b
}

func integer(row map[string]any, key string) int {
	switch v := row[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// timestamp accepts native temporal values or RFC 3339 strings.
func timestamp(row map[string]any, key string) time.Time {
	switch v := row[key].(type) {
	case time.Time:
		return v.UTC()
	case neo4j.LocalDateTime:
		return v.Time().UTC()
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
