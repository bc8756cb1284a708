// Package aggregation folds the extraction event log into weekly snapshots,
// rolling profiles and verdicts. Every derived row is a pure function of the
// events in a round's window, so re-running a round converges on identical
// rows.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"newsintel/internal/core"
	"newsintel/internal/logger"
	"newsintel/internal/persistence"
)

// State is the aggregation state of one (entity, round).
type State string

const (
	StateNotStarted      State = "not_started"
	StatePartialEvidence State = "partial_evidence"
	StateSnapshotted     State = "snapshotted"
	StateVerdicted       State = "verdicted"
)

const stageName = "aggregation"

// Tracker receives one record per aggregated round.
type Tracker interface {
	TrackAggregation(ctx context.Context, roundID string, entities, snapshots, verdicts, failures int, durationMs int64) error
}

// Options configures an Engine.
type Options struct {
	Domain  string
	Workers int
	Profile ProfileOptions
	Tracker Tracker
	Now     func() time.Time
}

// RunOptions narrows one aggregation run.
type RunOptions struct {
	EntityIDs []string // Empty means every player in the domain
	Force     bool     // Emit verdicts for entities without events before the round closes
}

// RoundResult summarises an aggregation run. Failures are per entity.
type RoundResult struct {
	RoundID   string  `json:"round_id"`
	Entities  int     `json:"entities"`
	Snapshots int     `json:"snapshots"`
	Profiles  int     `json:"profiles"`
	Verdicts  int     `json:"verdicts"`
	Skipped   int     `json:"skipped"` // Entities with no events in an open round
	Errors    []error `json:"-"`
}

// Engine runs aggregation passes.
type Engine struct {
	db   persistence.Database
	opts Options
	log  *slog.Logger
}

// NewEngine creates an aggregation engine.
func NewEngine(db persistence.Database, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	opts.Profile = opts.Profile.withDefaults()
	return &Engine{db: db, opts: opts, log: logger.Get()}
}

// RunRound aggregates every selected entity for the round. One entity failing
// never stops the others; its error is reported in the result.
func (e *Engine) RunRound(ctx context.Context, roundID string, run RunOptions) (*RoundResult, error) {
	start := time.Now()
	round, err := e.db.Calendar().GetRound(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load round %s: %w", roundID, err)
	}
	dims, err := e.dimensionTable(ctx)
	if err != nil {
		return nil, err
	}
	ents, err := e.entities(ctx, run.EntityIDs)
	if err != nil {
		return nil, err
	}
	closed := run.Force || round.Closed(e.opts.Now())

	result := &RoundResult{RoundID: round.ID, Entities: len(ents)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, ent := range ents {
		g.Go(func() error {
			out, err := e.aggregateEntity(gctx, ent, *round, dims, closed)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.log.Warn("Entity aggregation failed", "entity_id", ent.ID, "round_id", round.ID, "error", err)
				result.Errors = append(result.Errors, core.NewStageError(stageName, ent.ID, err))
				return nil
			}
			result.Snapshots += out.snapshots
			result.Profiles += out.profiles
			if out.verdict {
				result.Verdicts++
			}
			if out.skipped {
				result.Skipped++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].Error() < result.Errors[j].Error() })

	durationMs := time.Since(start).Milliseconds()
	if e.opts.Tracker != nil {
		_ = e.opts.Tracker.TrackAggregation(ctx, round.ID, result.Entities, result.Snapshots, result.Verdicts, len(result.Errors), durationMs)
	}
	e.log.Info("Round aggregated", "round_id", round.ID, "entities", result.Entities, "snapshots", result.Snapshots,
		"verdicts", result.Verdicts, "skipped", result.Skipped, "errors", len(result.Errors), "duration_ms", durationMs)
	return result, nil
}

type entityOutcome struct {
	snapshots int
	profiles  int
	verdict   bool
	skipped   bool
}

func (e *Engine) aggregateEntity(ctx context.Context, ent core.Entity, round core.Round, dims map[core.DimensionCode]core.Dimension, closed bool) (*entityOutcome, error) {
	events, err := e.db.Events().ListByEntity(ctx, ent.ID, round.StartDate, round.WindowEnd())
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	byDim := make(map[core.DimensionCode][]core.ExtractionEvent)
	degraded := 0
	for _, ev := range events {
		if ev.Degraded() {
			degraded++
			continue
		}
		if ev.Dimension == core.DimensionUnknown {
			continue
		}
		if _, ok := dims[ev.Dimension]; !ok {
			return nil, fmt.Errorf("%w: event %s references dimension %q", core.ErrAggregationInconsistency, ev.Fingerprint, ev.Dimension)
		}
		byDim[ev.Dimension] = append(byDim[ev.Dimension], ev)
	}

	out := &entityOutcome{}
	if len(events) == 0 && !closed {
		out.skipped = true
		return out, nil
	}

	codes := make([]core.DimensionCode, 0, len(byDim))
	for code := range byDim {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	snaps := make([]core.WeeklySnapshot, 0, len(codes))
	for _, code := range codes {
		snaps = append(snaps, BuildSnapshot(ent.ID, round.ID, code, byDim[code]))
	}
	if err := e.db.Snapshots().Replace(ctx, ent.ID, round.ID, snaps); err != nil {
		return nil, fmt.Errorf("failed to replace snapshots: %w", err)
	}
	out.snapshots = len(snaps)

	profiles, persisted, err := e.profilesAsOf(ctx, ent.ID, round)
	if err != nil {
		return nil, err
	}
	out.profiles = persisted

	verdict := BuildVerdict(VerdictInput{
		EntityID:      ent.ID,
		Round:         round,
		Snapshots:     snaps,
		Profiles:      profiles,
		EventCount:    len(events),
		DegradedCount: degraded,
	})
	if err := e.db.Verdicts().Upsert(ctx, &verdict); err != nil {
		return nil, fmt.Errorf("failed to upsert verdict: %w", err)
	}
	out.verdict = true
	return out, nil
}

// profilesAsOf builds each dimension's profile from the snapshots of rounds
// starting on or before round, so later rounds never leak into its verdict.
// A profile row is only written when no later round has been snapshotted.
func (e *Engine) profilesAsOf(ctx context.Context, entityID string, round core.Round) ([]core.RollingProfile, int, error) {
	var profiles []core.RollingProfile
	persisted := 0
	for _, code := range core.DimensionCodes() {
		history, err := e.snapshotHistory(ctx, entityID, code)
		if err != nil {
			return nil, 0, err
		}
		upTo := make([]RoundSnapshot, 0, len(history))
		for _, h := range history {
			if !h.Round.StartDate.After(round.StartDate) {
				upTo = append(upTo, h)
			}
		}

		profile, ok := BuildProfile(entityID, code, upTo, e.opts.Profile)
		if !ok {
			continue
		}
		profiles = append(profiles, profile)
		if len(upTo) != len(history) {
			continue
		}
		if err := e.db.Profiles().Upsert(ctx, &profile); err != nil {
			return nil, 0, fmt.Errorf("failed to upsert profile: %w", err)
		}
		persisted++
	}
	return profiles, persisted, nil
}

// snapshotHistory lists an (entity, dimension)'s snapshots in round order.
func (e *Engine) snapshotHistory(ctx context.Context, entityID string, dim core.DimensionCode) ([]RoundSnapshot, error) {
	snaps, err := e.db.Snapshots().ListByEntityDimension(ctx, entityID, dim)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot history: %w", err)
	}

	history := make([]RoundSnapshot, 0, len(snaps))
	for _, s := range snaps {
		r, err := e.db.Calendar().GetRound(ctx, s.RoundID)
		if err != nil {
			return nil, fmt.Errorf("%w: snapshot %s references round %s: %v", core.ErrAggregationInconsistency, s.ID, s.RoundID, err)
		}
		history = append(history, RoundSnapshot{Round: *r, Snapshot: s})
	}
	sort.Slice(history, func(i, j int) bool {
		a, b := history[i].Round, history[j].Round
		if !a.StartDate.Equal(b.StartDate) {
			return a.StartDate.Before(b.StartDate)
		}
		return a.ID < b.ID
	})
	return history, nil
}

// State reports how far aggregation has progressed for (entity, round).
func (e *Engine) State(ctx context.Context, entityID, roundID string) (State, error) {
	if _, err := e.db.Verdicts().Get(ctx, entityID, roundID); err == nil {
		return StateVerdicted, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return "", err
	}

	snaps, err := e.db.Snapshots().List(ctx, entityID, roundID)
	if err != nil {
		return "", err
	}
	if len(snaps) > 0 {
		return StateSnapshotted, nil
	}

	round, err := e.db.Calendar().GetRound(ctx, roundID)
	if err != nil {
		return "", err
	}
	events, err := e.db.Events().ListByEntity(ctx, entityID, round.StartDate, round.WindowEnd())
	if err != nil {
		return "", err
	}
	if len(events) > 0 {
		return StatePartialEvidence, nil
	}
	return StateNotStarted, nil
}

// endOfLog bounds event queries that cover the whole log.
var endOfLog = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// CurrentState summarises an entity from the event log, its latest injury
// snapshot and its latest verdict.
func (e *Engine) CurrentState(ctx context.Context, entityID string) (*core.EntityState, error) {
	state := &core.EntityState{EntityID: entityID}

	events, err := e.db.Events().ListByEntity(ctx, entityID, time.Time{}, endOfLog)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	state.EventCount = len(events)
	if n := len(events); n > 0 {
		last := events[n-1].PublishedAt
		state.LastMentionAt = &last
	}

	snaps, err := e.db.Snapshots().ListByEntityDimension(ctx, entityID, core.DimensionInjury)
	if err != nil {
		return nil, fmt.Errorf("failed to list injury snapshots: %w", err)
	}
	var latest *core.WeeklySnapshot
	for i := range snaps {
		if latest == nil || snaps[i].ComputedAt.After(latest.ComputedAt) {
			latest = &snaps[i]
		}
	}
	if latest != nil {
		state.InjuryStatus = latest.Summary
		state.InjurySignal = latest.SignalStrength
	}

	verdicts, err := e.db.Verdicts().List(ctx, persistence.VerdictFilter{EntityID: entityID})
	if err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}
	for i := range verdicts {
		if state.LatestVerdict == nil || verdicts[i].ComputedAt.After(state.LatestVerdict.ComputedAt) {
			state.LatestVerdict = &verdicts[i]
		}
	}
	return state, nil
}

func (e *Engine) dimensionTable(ctx context.Context) (map[core.DimensionCode]core.Dimension, error) {
	dims, err := e.db.Dimensions().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dimensions: %w", err)
	}
	out := make(map[core.DimensionCode]core.Dimension, len(dims))
	for _, d := range dims {
		out[d.Code] = d
	}
	return out, nil
}

func (e *Engine) entities(ctx context.Context, ids []string) ([]core.Entity, error) {
	if len(ids) == 0 {
		ents, err := e.db.Entities().List(ctx, persistence.EntityFilter{Domain: e.opts.Domain, Type: core.EntityPlayer})
		if err != nil {
			return nil, fmt.Errorf("failed to list entities: %w", err)
		}
		return ents, nil
	}
	out := make([]core.Entity, 0, len(ids))
	for _, id := range ids {
		ent, err := e.db.Entities().Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load entity %s: %w", id, err)
		}
		out = append(out, *ent)
	}
	return out, nil
}
