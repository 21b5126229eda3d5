package world

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/ashureev/tablestage/internal/domain"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk YAML layout.
type catalogFile struct {
	Worlds           []domain.World             `yaml:"worlds"`
	Locations        []domain.Location          `yaml:"locations"`
	Regions          []domain.Region            `yaml:"regions"`
	Connections      []catalogConnection        `yaml:"connections"`
	LocationExits    []domain.LocationExit      `yaml:"location_exits"`
	Characters       []domain.Character         `yaml:"characters"`
	PlayerCharacters []domain.PlayerCharacter   `yaml:"player_characters"`
	Relations        []domain.NpcRegionRelation `yaml:"npc_relations"`
}

// catalogConnection adds a bidirectional flag to a region edge.
type catalogConnection struct {
	domain.RegionConnection `yaml:",inline"`
	Bidirectional           bool `yaml:"bidirectional"`
}

// Catalog is an in-memory Repository loaded from YAML.
type Catalog struct {
	worlds      map[domain.WorldID]domain.World
	locations   map[domain.LocationID]domain.Location
	regions     map[domain.RegionID]domain.Region
	edges       map[domain.RegionID][]domain.RegionConnection
	exits       map[domain.RegionID][]domain.LocationExit
	characters  map[domain.CharacterID]domain.Character
	pcs         map[domain.PlayerCharacterID]domain.PlayerCharacter
	relations   map[domain.RegionID][]domain.NpcRegionRelation
	worldsOrder []domain.WorldID
}

// LoadCatalog reads a YAML world file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read world file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog builds a catalog from YAML bytes, canonicalizing and
// validating every identifier.
//
//nolint:gocognit // One pass per section keeps the error messages specific.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse world file: %w", err)
	}

	c := &Catalog{
		worlds:     make(map[domain.WorldID]domain.World),
		locations:  make(map[domain.LocationID]domain.Location),
		regions:    make(map[domain.RegionID]domain.Region),
		edges:      make(map[domain.RegionID][]domain.RegionConnection),
		exits:      make(map[domain.RegionID][]domain.LocationExit),
		characters: make(map[domain.CharacterID]domain.Character),
		pcs:        make(map[domain.PlayerCharacterID]domain.PlayerCharacter),
		relations:  make(map[domain.RegionID][]domain.NpcRegionRelation),
	}

	for _, w := range f.Worlds {
		id, err := domain.ParseWorldID(string(w.ID))
		if err != nil {
			return nil, fmt.Errorf("world %q: %w", w.Name, err)
		}
		w.ID = id
		if w.DefaultTTLHours <= 0 {
			w.DefaultTTLHours = 3
		}
		c.worlds[id] = w
		c.worldsOrder = append(c.worldsOrder, id)
	}
	for _, l := range f.Locations {
		var err error
		if l.ID, err = domain.ParseLocationID(string(l.ID)); err != nil {
			return nil, fmt.Errorf("location %q: %w", l.Name, err)
		}
		if l.WorldID, err = domain.ParseWorldID(string(l.WorldID)); err != nil {
			return nil, fmt.Errorf("location %q: %w", l.Name, err)
		}
		if l.DefaultRegionID != "" {
			if l.DefaultRegionID, err = domain.ParseRegionID(string(l.DefaultRegionID)); err != nil {
				return nil, fmt.Errorf("location %q: %w", l.Name, err)
			}
		}
		c.locations[l.ID] = l
	}
	for _, r := range f.Regions {
		var err error
		if r.ID, err = domain.ParseRegionID(string(r.ID)); err != nil {
			return nil, fmt.Errorf("region %q: %w", r.Name, err)
		}
		if r.LocationID, err = domain.ParseLocationID(string(r.LocationID)); err != nil {
			return nil, fmt.Errorf("region %q: %w", r.Name, err)
		}
		c.regions[r.ID] = r
	}
	for _, e := range f.Connections {
		conn := e.RegionConnection
		var err error
		if conn.From, err = domain.ParseRegionID(string(conn.From)); err != nil {
			return nil, fmt.Errorf("connection: %w", err)
		}
		if conn.To, err = domain.ParseRegionID(string(conn.To)); err != nil {
			return nil, fmt.Errorf("connection: %w", err)
		}
		c.edges[conn.From] = append(c.edges[conn.From], conn)
		if e.Bidirectional {
			back := conn
			back.From, back.To = conn.To, conn.From
			c.edges[back.From] = append(c.edges[back.From], back)
		}
	}
	for _, x := range f.LocationExits {
		var err error
		if x.FromRegion, err = domain.ParseRegionID(string(x.FromRegion)); err != nil {
			return nil, fmt.Errorf("location exit: %w", err)
		}
		if x.ToLocation, err = domain.ParseLocationID(string(x.ToLocation)); err != nil {
			return nil, fmt.Errorf("location exit: %w", err)
		}
		c.exits[x.FromRegion] = append(c.exits[x.FromRegion], x)
	}
	for _, ch := range f.Characters {
		var err error
		if ch.ID, err = domain.ParseCharacterID(string(ch.ID)); err != nil {
			return nil, fmt.Errorf("character %q: %w", ch.Name, err)
		}
		if ch.WorldID, err = domain.ParseWorldID(string(ch.WorldID)); err != nil {
			return nil, fmt.Errorf("character %q: %w", ch.Name, err)
		}
		c.characters[ch.ID] = ch
	}
	for _, pc := range f.PlayerCharacters {
		var err error
		if pc.ID, err = domain.ParsePlayerCharacterID(string(pc.ID)); err != nil {
			return nil, fmt.Errorf("player character %q: %w", pc.Name, err)
		}
		if pc.WorldID, err = domain.ParseWorldID(string(pc.WorldID)); err != nil {
			return nil, fmt.Errorf("player character %q: %w", pc.Name, err)
		}
		if pc.LocationID, err = domain.ParseLocationID(string(pc.LocationID)); err != nil {
			return nil, fmt.Errorf("player character %q: %w", pc.Name, err)
		}
		if pc.RegionID, err = domain.ParseRegionID(string(pc.RegionID)); err != nil {
			return nil, fmt.Errorf("player character %q: %w", pc.Name, err)
		}
		c.pcs[pc.ID] = pc
	}
	for _, rel := range f.Relations {
		var err error
		if rel.CharacterID, err = domain.ParseCharacterID(string(rel.CharacterID)); err != nil {
			return nil, fmt.Errorf("npc relation: %w", err)
		}
		if rel.RegionID, err = domain.ParseRegionID(string(rel.RegionID)); err != nil {
			return nil, fmt.Errorf("npc relation: %w", err)
		}
		if _, ok := c.characters[rel.CharacterID]; !ok {
			return nil, fmt.Errorf("npc relation references unknown character %s", rel.CharacterID)
		}
		c.relations[rel.RegionID] = append(c.relations[rel.RegionID], rel)
	}
	return c, nil
}

// Worlds lists world ids in file order.
func (c *Catalog) Worlds() []domain.WorldID {
	out := make([]domain.WorldID, len(c.worldsOrder))
	copy(out, c.worldsOrder)
	return out
}

// World implements Repository.
func (c *Catalog) World(_ context.Context, id domain.WorldID) (*domain.World, error) {
	if w, ok := c.worlds[id]; ok {
		return &w, nil
	}
	return nil, nil
}

// Location implements Repository.
func (c *Catalog) Location(_ context.Context, id domain.LocationID) (*domain.Location, error) {
	if l, ok := c.locations[id]; ok {
		return &l, nil
	}
	return nil, nil
}

// Region implements Repository.
func (c *Catalog) Region(_ context.Context, id domain.RegionID) (*domain.Region, error) {
	if r, ok := c.regions[id]; ok {
		return &r, nil
	}
	return nil, nil
}

// Character implements Repository.
func (c *Catalog) Character(_ context.Context, id domain.CharacterID) (*domain.Character, error) {
	if ch, ok := c.characters[id]; ok {
		return &ch, nil
	}
	return nil, nil
}

// PlayerCharacter implements Repository.
func (c *Catalog) PlayerCharacter(_ context.Context, id domain.PlayerCharacterID) (*domain.PlayerCharacter, error) {
	if pc, ok := c.pcs[id]; ok {
		return &pc, nil
	}
	return nil, nil
}

// Connection implements Repository.
func (c *Catalog) Connection(_ context.Context, from, to domain.RegionID) (*domain.RegionConnection, error) {
	for _, e := range c.edges[from] {
		if e.To == to {
			e := e
			return &e, nil
		}
	}
	return nil, nil
}

// RegionExits implements Repository.
func (c *Catalog) RegionExits(_ context.Context, region domain.RegionID) ([]domain.RegionConnection, error) {
	out := append([]domain.RegionConnection(nil), c.edges[region]...)
	return out, nil
}

// LocationExits implements Repository.
func (c *Catalog) LocationExits(_ context.Context, region domain.RegionID) ([]domain.LocationExit, error) {
	out := append([]domain.LocationExit(nil), c.exits[region]...)
	return out, nil
}

// RegionNpcs implements Repository.
func (c *Catalog) RegionNpcs(_ context.Context, region domain.RegionID) ([]domain.RegionNpc, error) {
	rels := c.relations[region]
	out := make([]domain.RegionNpc, 0, len(rels))
	for _, rel := range rels {
		out = append(out, domain.RegionNpc{Character: c.characters[rel.CharacterID], Relation: rel})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Character.Name < out[j].Character.Name })
	return out, nil
}

// Close implements Repository.
func (c *Catalog) Close(context.Context) error { return nil }
