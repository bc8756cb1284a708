// Package calendar maps timestamps onto the season and round calendar and
// seeds the fixture and club reference data.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
	_ "time/tzdata" // Round windows are defined in a named zone

	"newsintel/internal/core"
	"newsintel/internal/logger"
	"newsintel/internal/persistence"
)

const (
	dateLayout    = "2006-01-02"
	lockoutLayout = "2006-01-02 15:04"
)

// Calendar resolves rounds in a fixed timezone.
type Calendar struct {
	db  persistence.Database
	loc *time.Location
	log *slog.Logger
}

// New creates a calendar. A nil location means UTC.
func New(db persistence.Database, loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{db: db, loc: loc, log: logger.Get()}
}

// Location returns the timezone round dates are interpreted in.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Seed writes a season and its rounds. Existing rounds with the same number
// are updated in place, so seeding twice is harmless.
func (c *Calendar) Seed(ctx context.Context, f Fixture, current bool) (*core.Season, int, error) {
	season := &core.Season{Year: f.Year, Name: f.Name}
	if err := c.db.Calendar().UpsertSeason(ctx, season); err != nil {
		return nil, 0, fmt.Errorf("failed to upsert season %d: %w", f.Year, err)
	}

	for _, fr := range f.Rounds {
		round, err := fr.round(season.ID, c.loc)
		if err != nil {
			return nil, 0, err
		}
		if err := c.db.Calendar().UpsertRound(ctx, round); err != nil {
			return nil, 0, fmt.Errorf("failed to upsert round %d: %w", fr.Number, err)
		}
	}

	if current {
		if err := c.db.Calendar().SetCurrentSeason(ctx, season.ID); err != nil {
			return nil, 0, fmt.Errorf("failed to set current season: %w", err)
		}
		season.IsCurrent = true
	}
	c.log.Info("Seeded season", "year", f.Year, "rounds", len(f.Rounds), "current", current)
	return season, len(f.Rounds), nil
}

// Rounds lists the rounds of a season, or of the current season when
// seasonID is empty.
func (c *Calendar) Rounds(ctx context.Context, seasonID string) ([]core.Round, error) {
	if seasonID == "" {
		season, err := c.db.Calendar().CurrentSeason(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load current season: %w", err)
		}
		seasonID = season.ID
	}
	rounds, err := c.db.Calendar().ListRounds(ctx, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	sort.SliceStable(rounds, func(i, j int) bool { return rounds[i].StartDate.Before(rounds[j].StartDate) })
	return rounds, nil
}

// CurrentRound returns the current season's round containing now. Between
// rounds it is the latest round already started, and before the season the
// first round.
func (c *Calendar) CurrentRound(ctx context.Context, now time.Time) (*core.Round, error) {
	rounds, err := c.Rounds(ctx, "")
	if err != nil {
		return nil, err
	}
	if len(rounds) == 0 {
		return nil, fmt.Errorf("current season has no rounds: %w", core.ErrNotFound)
	}

	var latest *core.Round
	for i := range rounds {
		r := &rounds[i]
		if r.Contains(now) {
			return r, nil
		}
		if !r.StartDate.After(now) {
			latest = r
		}
	}
	if latest != nil {
		return latest, nil
	}
	return &rounds[0], nil
}

// RoundFor returns the round whose dates contain t, searching every season.
func (c *Calendar) RoundFor(ctx context.Context, t time.Time) (*core.Round, error) {
	seasons, err := c.db.Calendar().ListSeasons(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list seasons: %w", err)
	}
	year := t.In(c.loc).Year()
	// The matching year first; rounds rarely cross into another year.
	sort.SliceStable(seasons, func(i, j int) bool {
		return seasons[i].Year == year && seasons[j].Year != year
	})
	for _, s := range seasons {
		rounds, err := c.db.Calendar().ListRounds(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list rounds: %w", err)
		}
		for i := range rounds {
			if rounds[i].Contains(t) {
				return &rounds[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no round contains %s: %w", t.In(c.loc).Format(time.RFC3339), core.ErrNotFound)
}

// AssignArticle links an article to the round containing its publication
// time. Articles outside every round are left unassigned and "" is returned.
func (c *Calendar) AssignArticle(ctx context.Context, article *core.Article) (string, error) {
	round, err := c.RoundFor(ctx, article.EffectiveTime())
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if article.RoundID == round.ID {
		return round.ID, nil
	}
	if err := c.db.Articles().AssignRound(ctx, article.ID, round.ID); err != nil {
		return "", fmt.Errorf("failed to assign round: %w", err)
	}
	article.RoundID = round.ID
	return round.ID, nil
}
