package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"newsintel/internal/core"
	"newsintel/internal/entities"
)

// Club is a team with its curated nicknames.
type Club struct {
	Name    string
	Short   string
	Aliases []string
}

// AFLClubs are the 18 clubs of the competition.
var AFLClubs = []Club{
	{Name: "Adelaide", Short: "ADE", Aliases: []string{"Crows", "Adelaide Crows", "AFC"}},
	{Name: "Brisbane Lions", Short: "BRI", Aliases: []string{"Lions", "Brisbane", "BL"}},
	{Name: "Carlton", Short: "CAR", Aliases: []string{"Blues", "Carlton Blues", "CFC"}},
	{Name: "Collingwood", Short: "COL", Aliases: []string{"Magpies", "Pies", "Collingwood Magpies"}},
	{Name: "Essendon", Short: "ESS", Aliases: []string{"Bombers", "Dons", "Essendon Bombers", "EFC"}},
	{Name: "Fremantle", Short: "FRE", Aliases: []string{"Dockers", "Freo", "Fremantle Dockers", "FFC"}},
	{Name: "Geelong", Short: "GEE", Aliases: []string{"Cats", "Geelong Cats", "GFC"}},
	{Name: "Gold Coast", Short: "GCS", Aliases: []string{"Suns", "Gold Coast Suns", "GCFC"}},
	{Name: "GWS Giants", Short: "GWS", Aliases: []string{"Giants", "GWS", "Greater Western Sydney"}},
	{Name: "Hawthorn", Short: "HAW", Aliases: []string{"Hawks", "Hawthorn Hawks", "HFC"}},
	{Name: "Melbourne", Short: "MEL", Aliases: []string{"Demons", "Dees", "Melbourne Demons", "MFC"}},
	{Name: "North Melbourne", Short: "NME", Aliases: []string{"Kangaroos", "Roos", "Kangas", "North", "NMFC"}},
	{Name: "Port Adelaide", Short: "POR", Aliases: []string{"Power", "Port", "Port Adelaide Power", "PAFC"}},
	{Name: "Richmond", Short: "RIC", Aliases: []string{"Tigers", "Richmond Tigers", "RFC"}},
	{Name: "St Kilda", Short: "STK", Aliases: []string{"Saints", "St Kilda Saints", "SKFC"}},
	{Name: "Sydney", Short: "SYD", Aliases: []string{"Swans", "Sydney Swans", "SFC"}},
	{Name: "West Coast", Short: "WCE", Aliases: []string{"Eagles", "West Coast Eagles", "WCE"}},
	{Name: "Western Bulldogs", Short: "WBD", Aliases: []string{"Bulldogs", "Dogs", "Doggies", "Footscray"}},
}

// SeedResult counts what a seeding run wrote.
type SeedResult struct {
	Entities int
	Created  int
	Aliases  int
}

// SeedClubs creates the clubs as team entities with manual aliases at full
// confidence.
func SeedClubs(ctx context.Context, resolver *entities.Resolver, domain string, clubs []Club) (*SeedResult, error) {
	res := &SeedResult{}
	for _, club := range clubs {
		e, created, err := resolver.GetOrCreate(ctx, core.Entity{
			Domain:        domain,
			Type:          core.EntityTeam,
			CanonicalName: club.Name,
			ExternalID:    club.Short,
			Attributes:    map[string]any{"short_name": club.Short},
		})
		if err != nil {
			return res, fmt.Errorf("failed to seed club %s: %w", club.Name, err)
		}
		res.Entities++
		if created {
			res.Created++
		}
		for _, alias := range club.Aliases {
			inserted, err := resolver.AddAlias(ctx, e.ID, alias, 1, core.AliasManual)
			if err != nil {
				return res, fmt.Errorf("failed to add alias %q: %w", alias, err)
			}
			if inserted {
				res.Aliases++
			}
		}
	}
	return res, nil
}

// PlayerSeed is one entry of a players JSON file.
type PlayerSeed struct {
	Name       string   `json:"name"`
	Club       string   `json:"club"`
	Position   string   `json:"position,omitempty"`
	ExternalID string   `json:"external_id,omitempty"`
	Aliases    []string `json:"aliases,omitempty"`
}

// SeedPlayers reads a JSON array of players and creates them with their
// aliases.
func SeedPlayers(ctx context.Context, resolver *entities.Resolver, domain string, r io.Reader) (*SeedResult, error) {
	var players []PlayerSeed
	if err := json.NewDecoder(r).Decode(&players); err != nil {
		return nil, fmt.Errorf("failed to decode players: %w", err)
	}

	res := &SeedResult{}
	for i, p := range players {
		if strings.TrimSpace(p.Name) == "" {
			return res, fmt.Errorf("player %d has no name", i)
		}
		attrs := map[string]any{}
		if p.Club != "" {
			attrs["club"] = p.Club
		}
		if p.Position != "" {
			attrs["position"] = p.Position
		}
		e, created, err := resolver.GetOrCreate(ctx, core.Entity{
			Domain:        domain,
			Type:          core.EntityPlayer,
			CanonicalName: p.Name,
			ExternalID:    p.ExternalID,
			Attributes:    attrs,
		})
		if err != nil {
			return res, fmt.Errorf("failed to seed player %s: %w", p.Name, err)
		}
		res.Entities++
		if created {
			res.Created++
		}
		for _, alias := range p.Aliases {
			inserted, err := resolver.AddAlias(ctx, e.ID, alias, 1, core.AliasManual)
			if err != nil {
				return res, fmt.Errorf("failed to add alias %q: %w", alias, err)
			}
			if inserted {
				res.Aliases++
			}
		}
	}
	return res, nil
}
