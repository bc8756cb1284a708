package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"newsintel/internal/core"
)

// postgresEventRepo implements EventRepository for PostgreSQL
type postgresEventRepo struct{ pgRepo }

const eventColumns = `id, fingerprint, article_id, mention_id, entity_id, related_entity_ids, domain, headline, source,
	source_url, published_at, event_type, dimension, sentiment, severity, confidence, summary, payload, status,
	failure_reason, model_version, prompt_fingerprint, input_tokens, output_tokens, created_at`

func (r *postgresEventRepo) Append(ctx context.Context, event *core.ExtractionEvent) (bool, error) {
	if event.Fingerprint == "" {
		return false, fmt.Errorf("event fingerprint is required")
	}
	event.ID = newID(event.ID)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	var payload interface{}
	if len(event.Payload) > 0 {
		payload = string(event.Payload)
	}

	query := `
		INSERT INTO extraction_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (fingerprint) DO NOTHING
	`
	res, err := r.query().ExecContext(ctx, query,
		event.ID, event.Fingerprint, event.ArticleID, event.MentionID, event.EntityID,
		stringArray(event.RelatedEntityIDs), event.Domain, event.Headline, event.Source, event.SourceURL,
		event.PublishedAt, event.EventType, string(event.Dimension), string(event.Sentiment), event.Severity,
		event.Confidence, event.Summary, payload, string(event.Status), event.FailureReason,
		event.ModelVersion, event.PromptFingerprint, event.InputTokens, event.OutputTokens, event.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to append event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *postgresEventRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*core.ExtractionEvent, error) {
	row := r.query().QueryRowContext(ctx, `SELECT `+eventColumns+` FROM extraction_events WHERE fingerprint = $1`, fingerprint)
	e, err := scanEvent(row)
	if err != nil {
		return nil, notFound(err, "event "+fingerprint)
	}
	return e, nil
}

func (r *postgresEventRepo) ListByArticle(ctx context.Context, articleID string) ([]core.ExtractionEvent, error) {
	return r.list(ctx, `SELECT `+eventColumns+` FROM extraction_events WHERE article_id = $1
		ORDER BY published_at, fingerprint`, articleID)
}

func (r *postgresEventRepo) ListByEntity(ctx context.Context, entityID string, from, to time.Time) ([]core.ExtractionEvent, error) {
	return r.list(ctx, `SELECT `+eventColumns+` FROM extraction_events
		WHERE entity_id = $1 AND published_at >= $2 AND published_at < $3
		ORDER BY published_at, fingerprint`, entityID, from, to)
}

func (r *postgresEventRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.query().QueryRowContext(ctx, `SELECT COUNT(*) FROM extraction_events`).Scan(&n)
	return n, err
}

func (r *postgresEventRepo) list(ctx context.Context, query string, args ...interface{}) ([]core.ExtractionEvent, error) {
	rows, err := r.query().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []core.ExtractionEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func scanEvent(s scanner) (*core.ExtractionEvent, error) {
	var e core.ExtractionEvent
	var related pq.StringArray
	var dimension, sentiment, status string
	var payload []byte
	err := s.Scan(&e.ID, &e.Fingerprint, &e.ArticleID, &e.MentionID, &e.EntityID, &related, &e.Domain,
		&e.Headline, &e.Source, &e.SourceURL, &e.PublishedAt, &e.EventType, &dimension, &sentiment,
		&e.Severity, &e.Confidence, &e.Summary, &payload, &status, &e.FailureReason, &e.ModelVersion,
		&e.PromptFingerprint, &e.InputTokens, &e.OutputTokens, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(related) > 0 {
		e.RelatedEntityIDs = []string(related)
	}
	e.Dimension = core.DimensionCode(dimension)
	e.Sentiment = core.Sentiment(sentiment)
	e.Status = core.EventStatus(status)
	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}
	return &e, nil
}

// postgresCacheRepo implements CacheRepository for PostgreSQL
type postgresCacheRepo struct{ pgRepo }

func (r *postgresCacheRepo) Get(ctx context.Context, key string, now time.Time) ([]byte, error) {
	var value []byte
	var expiresAt time.Time
	err := r.query().QueryRowContext(ctx,
		`SELECT value, expires_at FROM extraction_cache WHERE cache_key = $1`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	if !now.Before(expiresAt) {
		return nil, core.ErrCacheExpired
	}
	return value, nil
}

func (r *postgresCacheRepo) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	_, err := r.query().ExecContext(ctx, `
		INSERT INTO extraction_cache (cache_key, value, expires_at, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (cache_key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

func (r *postgresCacheRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.query().ExecContext(ctx, `DELETE FROM extraction_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// postgresDimensionRepo implements DimensionRepository for PostgreSQL
type postgresDimensionRepo struct{ pgRepo }

const dimensionColumns = `code, name, prefix, tier, keywords, guidance`

func (r *postgresDimensionRepo) Upsert(ctx context.Context, d core.Dimension) error {
	_, err := r.query().ExecContext(ctx, `
		INSERT INTO dimensions (`+dimensionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			prefix = EXCLUDED.prefix,
			tier = EXCLUDED.tier,
			keywords = EXCLUDED.keywords,
			guidance = EXCLUDED.guidance
	`, string(d.Code), d.Name, d.Prefix, d.Tier, stringArray(d.Keywords), d.Guidance)
	if err != nil {
		return fmt.Errorf("failed to upsert dimension: %w", err)
	}
	return nil
}

func (r *postgresDimensionRepo) Get(ctx context.Context, code core.DimensionCode) (*core.Dimension, error) {
	d, err := scanDimension(r.query().QueryRowContext(ctx, `SELECT `+dimensionColumns+` FROM dimensions WHERE code = $1`, string(code)))
	if err != nil {
		return nil, notFound(err, "dimension "+string(code))
	}
	return d, nil
}

func (r *postgresDimensionRepo) List(ctx context.Context) ([]core.Dimension, error) {
	rows, err := r.query().QueryContext(ctx, `SELECT `+dimensionColumns+` FROM dimensions ORDER BY tier, code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dimensions: %w", err)
	}
	defer rows.Close()

	var dims []core.Dimension
	for rows.Next() {
		d, err := scanDimension(rows)
		if err != nil {
			return nil, err
		}
		dims = append(dims, *d)
	}
	return dims, rows.Err()
}

func scanDimension(s scanner) (*core.Dimension, error) {
	var d core.Dimension
	var code string
	var keywords pq.StringArray
	if err := s.Scan(&code, &d.Name, &d.Prefix, &d.Tier, &keywords, &d.Guidance); err != nil {
		return nil, err
	}
	d.Code = core.DimensionCode(code)
	d.Keywords = []string(keywords)
	return &d, nil
}

// postgresCalendarRepo implements CalendarRepository for PostgreSQL
type postgresCalendarRepo struct{ pgRepo }

const roundColumns = `id, season_id, number, name, start_date, end_date, lockout, is_finals, is_bye`

func (r *postgresCalendarRepo) UpsertSeason(ctx context.Context, s *core.Season) error {
	err := r.query().QueryRowContext(ctx, `
		INSERT INTO seasons (id, year, name, is_current)
		VALUES ($1, $2, $3, FALSE)
		ON CONFLICT (year) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, is_current
	`, newID(s.ID), s.Year, s.Name).Scan(&s.ID, &s.IsCurrent)
	if err != nil {
		return fmt.Errorf("failed to upsert season: %w", err)
	}
	return nil
}

func (r *postgresCalendarRepo) SetCurrentSeason(ctx context.Context, seasonID string) error {
	return r.inTx(ctx, func(q queryer) error {
		if _, err := q.ExecContext(ctx, `UPDATE seasons SET is_current = FALSE WHERE is_current AND id <> $1`, seasonID); err != nil {
			return fmt.Errorf("failed to clear current season: %w", err)
		}
		res, err := q.ExecContext(ctx, `UPDATE seasons SET is_current = TRUE WHERE id = $1`, seasonID)
		if err != nil {
			return fmt.Errorf("failed to set current season: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("season %s: %w", seasonID, core.ErrNotFound)
		}
		return nil
	})
}

func (r *postgresCalendarRepo) CurrentSeason(ctx context.Context) (*core.Season, error) {
	var s core.Season
	err := r.query().QueryRowContext(ctx,
		`SELECT id, year, name, is_current FROM seasons WHERE is_current`,
	).Scan(&s.ID, &s.Year, &s.Name, &s.IsCurrent)
	if err != nil {
		return nil, notFound(err, "current season")
	}
	return &s, nil
}

func (r *postgresCalendarRepo) GetSeason(ctx context.Context, id string) (*core.Season, error) {
	var s core.Season
	err := r.query().QueryRowContext(ctx,
		`SELECT id, year, name, is_current FROM seasons WHERE id = $1`, id,
	).Scan(&s.ID, &s.Year, &s.Name, &s.IsCurrent)
	if err != nil {
		return nil, notFound(err, "season "+id)
	}
	return &s, nil
}

func (r *postgresCalendarRepo) ListSeasons(ctx context.Context) ([]core.Season, error) {
	rows, err := r.query().QueryContext(ctx, `SELECT id, year, name, is_current FROM seasons ORDER BY year`)
	if err != nil {
		return nil, fmt.Errorf("failed to list seasons: %w", err)
	}
	defer rows.Close()

	var seasons []core.Season
	for rows.Next() {
		var s core.Season
		if err := rows.Scan(&s.ID, &s.Year, &s.Name, &s.IsCurrent); err != nil {
			return nil, err
		}
		seasons = append(seasons, s)
	}
	return seasons, rows.Err()
}

func (r *postgresCalendarRepo) UpsertRound(ctx context.Context, round *core.Round) error {
	err := r.query().QueryRowContext(ctx, `
		INSERT INTO rounds (`+roundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (season_id, number) DO UPDATE SET
			name = EXCLUDED.name,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			lockout = EXCLUDED.lockout,
			is_finals = EXCLUDED.is_finals,
			is_bye = EXCLUDED.is_bye
		RETURNING id
	`, newID(round.ID), round.SeasonID, round.Number, round.Name, round.StartDate, round.EndDate,
		nullTime(round.Lockout), round.IsFinals, round.IsBye,
	).Scan(&round.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert round: %w", err)
	}
	return nil
}

func (r *postgresCalendarRepo) GetRound(ctx context.Context, id string) (*core.Round, error) {
	round, err := scanRound(r.query().QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "round "+id)
	}
	return round, nil
}

func (r *postgresCalendarRepo) ListRounds(ctx context.Context, seasonID string) ([]core.Round, error) {
	rows, err := r.query().QueryContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE season_id = $1 ORDER BY start_date, number`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []core.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *round)
	}
	return rounds, rows.Err()
}

func scanRound(s scanner) (*core.Round, error) {
	var round core.Round
	var lockout sql.NullTime
	if err := s.Scan(&round.ID, &round.SeasonID, &round.Number, &round.Name, &round.StartDate, &round.EndDate,
		&lockout, &round.IsFinals, &round.IsBye); err != nil {
		return nil, err
	}
	round.Lockout = timePtr(lockout)
	return &round, nil
}

// postgresSnapshotRepo implements SnapshotRepository for PostgreSQL
type postgresSnapshotRepo struct{ pgRepo }

const snapshotColumns = `id, entity_id, dimension, round_id, summary, sentiment, signal_strength, fantasy_impact,
	features, confidence, article_count, source_article_ids, model_version, computed_at`

func (r *postgresSnapshotRepo) Replace(ctx context.Context, entityID, roundID string, snaps []core.WeeklySnapshot) error {
	for _, s := range snaps {
		if s.EntityID != entityID || s.RoundID != roundID {
			return fmt.Errorf("snapshot for %s/%s does not belong to %s/%s", s.EntityID, s.RoundID, entityID, roundID)
		}
	}

	return r.inTx(ctx, func(q queryer) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM weekly_snapshots WHERE entity_id = $1 AND round_id = $2`, entityID, roundID); err != nil {
			return fmt.Errorf("failed to clear snapshots: %w", err)
		}
		for _, s := range snaps {
			features, err := jsonText(s.Features)
			if err != nil {
				return fmt.Errorf("failed to marshal snapshot features: %w", err)
			}
			_, err = q.ExecContext(ctx, `
				INSERT INTO weekly_snapshots (`+snapshotColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			`, newID(s.ID), s.EntityID, string(s.Dimension), s.RoundID, s.Summary, string(s.Sentiment),
				string(s.SignalStrength), s.FantasyImpact, features, s.Confidence, s.ArticleCount,
				stringArray(s.SourceArticleIDs), s.ModelVersion, s.ComputedAt)
			if err != nil {
				return fmt.Errorf("failed to insert snapshot %s: %w", s.Dimension, err)
			}
		}
		return nil
	})
}

func (r *postgresSnapshotRepo) List(ctx context.Context, entityID, roundID string) ([]core.WeeklySnapshot, error) {
	return r.list(ctx, `SELECT `+snapshotColumns+` FROM weekly_snapshots
		WHERE entity_id = $1 AND round_id = $2 ORDER BY dimension`, entityID, roundID)
}

func (r *postgresSnapshotRepo) ListByRound(ctx context.Context, roundID string) ([]core.WeeklySnapshot, error) {
	return r.list(ctx, `SELECT `+snapshotColumns+` FROM weekly_snapshots
		WHERE round_id = $1 ORDER BY entity_id, dimension`, roundID)
}

func (r *postgresSnapshotRepo) ListByEntityDimension(ctx context.Context, entityID string, dimension core.DimensionCode) ([]core.WeeklySnapshot, error) {
	return r.list(ctx, `SELECT `+snapshotColumns+` FROM weekly_snapshots
		WHERE entity_id = $1 AND dimension = $2 ORDER BY round_id`, entityID, string(dimension))
}

func (r *postgresSnapshotRepo) list(ctx context.Context, query string, args ...interface{}) ([]core.WeeklySnapshot, error) {
	rows, err := r.query().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []core.WeeklySnapshot
	for rows.Next() {
		var s core.WeeklySnapshot
		var dimension, sentiment, signal string
		var features []byte
		var sources pq.StringArray
		if err := rows.Scan(&s.ID, &s.EntityID, &dimension, &s.RoundID, &s.Summary, &sentiment, &signal,
			&s.FantasyImpact, &features, &s.Confidence, &s.ArticleCount, &sources, &s.ModelVersion,
			&s.ComputedAt); err != nil {
			return nil, err
		}
		s.Dimension = core.DimensionCode(dimension)
		s.Sentiment = core.Sentiment(sentiment)
		s.SignalStrength = core.SignalStrength(signal)
		s.SourceArticleIDs = []string(sources)
		if err := json.Unmarshal(features, &s.Features); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot features: %w", err)
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// postgresProfileRepo implements ProfileRepository for PostgreSQL
type postgresProfileRepo struct{ pgRepo }

const profileColumns = `id, entity_id, dimension, narrative, trend, trend_confidence, weeks_covered, round_ids,
	last_round_id, features, updated_at`

func (r *postgresProfileRepo) Upsert(ctx context.Context, p *core.RollingProfile) error {
	features, err := jsonText(p.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal profile features: %w", err)
	}
	_, err = r.query().ExecContext(ctx, `
		INSERT INTO rolling_profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (entity_id, dimension) DO UPDATE SET
			narrative = EXCLUDED.narrative,
			trend = EXCLUDED.trend,
			trend_confidence = EXCLUDED.trend_confidence,
			weeks_covered = EXCLUDED.weeks_covered,
			round_ids = EXCLUDED.round_ids,
			last_round_id = EXCLUDED.last_round_id,
			features = EXCLUDED.features,
			updated_at = EXCLUDED.updated_at
	`, newID(p.ID), p.EntityID, string(p.Dimension), p.Narrative, string(p.Trend), p.TrendConfidence,
		p.WeeksCovered, stringArray(p.RoundIDs), p.LastRoundID, features, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

func (r *postgresProfileRepo) Get(ctx context.Context, entityID string, dimension core.DimensionCode) (*core.RollingProfile, error) {
	rows, err := r.list(ctx, `SELECT `+profileColumns+` FROM rolling_profiles WHERE entity_id = $1 AND dimension = $2`,
		entityID, string(dimension))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("profile %s/%s: %w", entityID, dimension, core.ErrNotFound)
	}
	return &rows[0], nil
}

func (r *postgresProfileRepo) ListByEntity(ctx context.Context, entityID string) ([]core.RollingProfile, error) {
	return r.list(ctx, `SELECT `+profileColumns+` FROM rolling_profiles WHERE entity_id = $1 ORDER BY dimension`, entityID)
}

func (r *postgresProfileRepo) list(ctx context.Context, query string, args ...interface{}) ([]core.RollingProfile, error) {
	rows, err := r.query().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []core.RollingProfile
	for rows.Next() {
		var p core.RollingProfile
		var dimension, trend string
		var roundIDs pq.StringArray
		var features []byte
		if err := rows.Scan(&p.ID, &p.EntityID, &dimension, &p.Narrative, &trend, &p.TrendConfidence,
			&p.WeeksCovered, &roundIDs, &p.LastRoundID, &features, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Dimension = core.DimensionCode(dimension)
		p.Trend = core.Trend(trend)
		p.RoundIDs = []string(roundIDs)
		if err := json.Unmarshal(features, &p.Features); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile features: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// postgresVerdictRepo implements VerdictRepository for PostgreSQL
type postgresVerdictRepo struct{ pgRepo }

const verdictColumns = `id, entity_id, round_id, captain_rating, captain_reasoning, risk_level, risk_factors,
	trade_signal, trade_reasoning, signal_strength, confidence, low_confidence, features, dimensions_covered,
	event_count, computed_at`

func (r *postgresVerdictRepo) Upsert(ctx context.Context, v *core.WeeklyVerdict) error {
	features, err := jsonText(v.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict features: %w", err)
	}
	dims := make([]string, 0, len(v.DimensionsCovered))
	for _, d := range v.DimensionsCovered {
		dims = append(dims, string(d))
	}
	_, err = r.query().ExecContext(ctx, `
		INSERT INTO weekly_verdicts (`+verdictColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (entity_id, round_id) DO UPDATE SET
			captain_rating = EXCLUDED.captain_rating,
			captain_reasoning = EXCLUDED.captain_reasoning,
			risk_level = EXCLUDED.risk_level,
			risk_factors = EXCLUDED.risk_factors,
			trade_signal = EXCLUDED.trade_signal,
			trade_reasoning = EXCLUDED.trade_reasoning,
			signal_strength = EXCLUDED.signal_strength,
			confidence = EXCLUDED.confidence,
			low_confidence = EXCLUDED.low_confidence,
			features = EXCLUDED.features,
			dimensions_covered = EXCLUDED.dimensions_covered,
			event_count = EXCLUDED.event_count,
			computed_at = EXCLUDED.computed_at
	`, newID(v.ID), v.EntityID, v.RoundID, v.CaptainRating, v.CaptainReasoning, string(v.RiskLevel),
		stringArray(v.RiskFactors), string(v.TradeSignal), v.TradeReasoning, string(v.SignalStrength),
		v.Confidence, v.LowConfidence, features, stringArray(dims), v.EventCount, v.ComputedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert verdict: %w", err)
	}
	return nil
}

func (r *postgresVerdictRepo) Get(ctx context.Context, entityID, roundID string) (*core.WeeklyVerdict, error) {
	verdicts, err := r.List(ctx, VerdictFilter{EntityID: entityID, RoundID: roundID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(verdicts) == 0 {
		return nil, fmt.Errorf("verdict %s/%s: %w", entityID, roundID, core.ErrNotFound)
	}
	return &verdicts[0], nil
}

func (r *postgresVerdictRepo) List(ctx context.Context, filter VerdictFilter) ([]core.WeeklyVerdict, error) {
	query := `SELECT ` + verdictColumns + ` FROM weekly_verdicts WHERE 1=1`
	var args []interface{}
	if filter.RoundID != "" {
		args = append(args, filter.RoundID)
		query += fmt.Sprintf(" AND round_id = $%d", len(args))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		query += fmt.Sprintf(" AND entity_id = $%d", len(args))
	}
	query += " ORDER BY round_id, entity_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.query().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}
	defer rows.Close()

	var verdicts []core.WeeklyVerdict
	for rows.Next() {
		var v core.WeeklyVerdict
		var risk, trade, signal string
		var factors, dims pq.StringArray
		var features []byte
		if err := rows.Scan(&v.ID, &v.EntityID, &v.RoundID, &v.CaptainRating, &v.CaptainReasoning, &risk,
			&factors, &trade, &v.TradeReasoning, &signal, &v.Confidence, &v.LowConfidence, &features, &dims,
			&v.EventCount, &v.ComputedAt); err != nil {
			return nil, err
		}
		v.RiskLevel = core.RiskLevel(risk)
		v.TradeSignal = core.TradeSignal(trade)
		v.SignalStrength = core.SignalStrength(signal)
		v.RiskFactors = []string(factors)
		for _, d := range dims {
			v.DimensionsCovered = append(v.DimensionsCovered, core.DimensionCode(d))
		}
		if err := json.Unmarshal(features, &v.Features); err != nil {
			return nil, fmt.Errorf("failed to unmarshal verdict features: %w", err)
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, rows.Err()
}
