package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"newsintel/internal/core"
)

// PostgresDB implements the Database interface for PostgreSQL
type PostgresDB struct {
	db         *sql.DB
	entities   EntityRepository
	aliases    AliasRepository
	articles   ArticleRepository
	mentions   MentionRepository
	tags       TagRepository
	events     EventRepository
	cache      CacheRepository
	dimensions DimensionRepository
	calendar   CalendarRepository
	snapshots  SnapshotRepository
	profiles   ProfileRepository
	verdicts   VerdictRepository
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(connectionString string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	base := pgRepo{db: db}
	return &PostgresDB{
		db:         db,
		entities:   &postgresEntityRepo{base},
		aliases:    &postgresAliasRepo{base},
		articles:   &postgresArticleRepo{base},
		mentions:   &postgresMentionRepo{base},
		tags:       &postgresTagRepo{base},
		events:     &postgresEventRepo{base},
		cache:      &postgresCacheRepo{base},
		dimensions: &postgresDimensionRepo{base},
		calendar:   &postgresCalendarRepo{base},
		snapshots:  &postgresSnapshotRepo{base},
		profiles:   &postgresProfileRepo{base},
		verdicts:   &postgresVerdictRepo{base},
	}, nil
}

func (p *PostgresDB) Entities() EntityRepository      { return p.entities }
func (p *PostgresDB) Aliases() AliasRepository        { return p.aliases }
func (p *PostgresDB) Articles() ArticleRepository     { return p.articles }
func (p *PostgresDB) Mentions() MentionRepository     { return p.mentions }
func (p *PostgresDB) Tags() TagRepository             { return p.tags }
func (p *PostgresDB) Events() EventRepository         { return p.events }
func (p *PostgresDB) Cache() CacheRepository          { return p.cache }
func (p *PostgresDB) Dimensions() DimensionRepository { return p.dimensions }
func (p *PostgresDB) Calendar() CalendarRepository    { return p.calendar }
func (p *PostgresDB) Snapshots() SnapshotRepository   { return p.snapshots }
func (p *PostgresDB) Profiles() ProfileRepository     { return p.profiles }
func (p *PostgresDB) Verdicts() VerdictRepository     { return p.verdicts }

// SetPool overrides the connection pool limits. Zero values keep the defaults.
func (p *PostgresDB) SetPool(maxOpen, maxIdle int, lifetime time.Duration) {
	if maxOpen > 0 {
		p.db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		p.db.SetMaxIdleConns(maxIdle)
	}
	if lifetime > 0 {
		p.db.SetConnMaxLifetime(lifetime)
	}
}

func (p *PostgresDB) Close() error {
	return p.db.Close()
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// pgRepo is embedded by every repository; tx is set when the repository is
// bound to a transaction.
type pgRepo struct {
	db *sql.DB
	tx *sql.Tx
}

func (r pgRepo) query() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// inTx runs fn in a transaction, reusing the bound one if present.
func (r pgRepo) inTx(ctx context.Context, fn func(q queryer) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func stringArray(s []string) pq.StringArray {
	if s == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(s)
}

func jsonText(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// postgresEntityRepo implements EntityRepository for PostgreSQL
type postgresEntityRepo struct{ pgRepo }

const entityColumns = `id, domain, type, canonical_name, external_id, attributes, created_at, updated_at`

func (r *postgresEntityRepo) GetOrCreate(ctx context.Context, e *core.Entity) (*core.Entity, bool, error) {
	if e.CanonicalName == "" {
		return nil, false, fmt.Errorf("entity canonical name is required")
	}
	attrs := e.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrsJSON, err := jsonText(attrs)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	query := `
		INSERT INTO entities (id, domain, type, canonical_name, normalized_name, external_id, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (domain, type, normalized_name) DO NOTHING
		RETURNING ` + entityColumns
	row := r.query().QueryRowContext(ctx, query,
		newID(e.ID), strings.ToLower(e.Domain), string(e.Type), e.CanonicalName,
		core.NormalizeName(e.CanonicalName), e.ExternalID, attrsJSON, time.Now().UTC(),
	)
	created, err := scanEntity(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert entity: %w", err)
	}

	existing, err := r.GetByNaturalKey(ctx, e.Domain, e.Type, e.CanonicalName)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *postgresEntityRepo) Get(ctx context.Context, id string) (*core.Entity, error) {
	row := r.query().QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	e, err := scanEntity(row)
	if err != nil {
		return nil, notFound(err, "entity "+id)
	}
	return e, nil
}

func (r *postgresEntityRepo) GetByNaturalKey(ctx context.Context, domain string, entityType core.EntityType, canonicalName string) (*core.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE domain = $1 AND type = $2 AND normalized_name = $3`
	row := r.query().QueryRowContext(ctx, query, strings.ToLower(domain), string(entityType), core.NormalizeName(canonicalName))
	e, err := scanEntity(row)
	if err != nil {
		return nil, notFound(err, "entity "+canonicalName)
	}
	return e, nil
}

func (r *postgresEntityRepo) List(ctx context.Context, filter EntityFilter) ([]core.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE 1=1`
	var args []interface{}
	if filter.Domain != "" {
		args = append(args, strings.ToLower(filter.Domain))
		query += fmt.Sprintf(" AND domain = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.Query != "" {
		args = append(args, "%"+strings.ToLower(filter.Query)+"%")
		query += fmt.Sprintf(" AND LOWER(canonical_name) LIKE $%d", len(args))
	}
	query += " ORDER BY canonical_name, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.query().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []core.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

func (r *postgresEntityRepo) MergeAttributes(ctx context.Context, id string, attrs map[string]any) error {
	attrsJSON, err := jsonText(attrs)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	res, err := r.query().ExecContext(ctx,
		`UPDATE entities SET attributes = attributes || $2::jsonb, updated_at = NOW() WHERE id = $1`,
		id, attrsJSON)
	if err != nil {
		return fmt.Errorf("failed to merge attributes: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entity %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func scanEntity(s scanner) (*core.Entity, error) {
	var e core.Entity
	var entityType string
	var attrs []byte
	if err := s.Scan(&e.ID, &e.Domain, &entityType, &e.CanonicalName, &e.ExternalID, &attrs, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Type = core.EntityType(entityType)
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
		}
	}
	if len(e.Attributes) == 0 {
		e.Attributes = nil
	}
	return &e, nil
}

// postgresAliasRepo implements AliasRepository for PostgreSQL
type postgresAliasRepo struct{ pgRepo }

const aliasColumns = `id, entity_id, domain, entity_type, alias_text, normalized, confidence, provenance, created_at, last_used_at`

func (r *postgresAliasRepo) InsertIfAbsent(ctx context.Context, alias *core.Alias) (bool, error) {
	if alias.Normalized == "" {
		alias.Normalized = core.NormalizeName(alias.Text)
	}
	if alias.Normalized == "" || alias.EntityID == "" {
		return false, fmt.Errorf("alias text and entity are required")
	}
	alias.ID = newID(alias.ID)
	if alias.CreatedAt.IsZero() {
		alias.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO entity_aliases (` + aliasColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (normalized, entity_id) DO NOTHING
	`
	res, err := r.query().ExecContext(ctx, query,
		alias.ID, alias.EntityID, strings.ToLower(alias.Domain), string(alias.EntityType), alias.Text,
		alias.Normalized, alias.Confidence, string(alias.Provenance), alias.CreatedAt, alias.LastUsedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert alias: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *postgresAliasRepo) ListByDomain(ctx context.Context, domain string) ([]core.Alias, error) {
	return r.list(ctx, `SELECT `+aliasColumns+` FROM entity_aliases WHERE domain = $1 ORDER BY normalized, entity_id`, strings.ToLower(domain))
}

func (r *postgresAliasRepo) ListByEntity(ctx context.Context, entityID string) ([]core.Alias, error) {
	return r.list(ctx, `SELECT `+aliasColumns+` FROM entity_aliases WHERE entity_id = $1 ORDER BY normalized`, entityID)
}

func (r *postgresAliasRepo) list(ctx context.Context, query string, args ...interface{}) ([]core.Alias, error) {
	rows, err := r.query().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	defer rows.Close()

	var aliases []core.Alias
	for rows.Next() {
		var a core.Alias
		var entityType, provenance string
		if err := rows.Scan(&a.ID, &a.EntityID, &a.Domain, &entityType, &a.Text, &a.Normalized,
			&a.Confidence, &provenance, &a.CreatedAt, &a.LastUsedAt); err != nil {
			return nil, err
		}
		a.EntityType = core.EntityType(entityType)
		a.Provenance = core.AliasProvenance(provenance)
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

func (r *postgresAliasRepo) Touch(ctx context.Context, id string, usedAt time.Time) error {
	res, err := r.query().ExecContext(ctx,
		`UPDATE entity_aliases SET last_used_at = GREATEST(last_used_at, $2) WHERE id = $1`, id, usedAt)
	if err != nil {
		return fmt.Errorf("failed to touch alias: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alias %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// postgresArticleRepo implements ArticleRepository for PostgreSQL
type postgresArticleRepo struct{ pgRepo }

const articleColumns = `id, url, url_fingerprint, body_fingerprint, title, body, source, author, published_at,
	fetched_at, expires_at, round_id, duplicate_of, triage_status, analysis_status`

func (r *postgresArticleRepo) Insert(ctx context.Context, article *core.Article) error {
	article.ID = newID(article.ID)
	query := `
		INSERT INTO articles (` + articleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (url_fingerprint) DO NOTHING
	`
	res, err := r.query().ExecContext(ctx, query,
		article.ID, article.URL, article.URLFingerprint, article.BodyFingerprint, article.Title, article.Body,
		article.Source, article.Author, nullTime(article.PublishedAt), article.FetchedAt, article.ExpiresAt,
		nullString(article.RoundID), article.DuplicateOf, string(article.TriageStatus), string(article.AnalysisStatus),
	)
	if err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("article %s: %w", article.URL, core.ErrConflict)
	}
	return nil
}

func (r *postgresArticleRepo) Get(ctx context.Context, id string) (*core.Article, error) {
	return r.getOne(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = $1`, id, "article "+id)
}

func (r *postgresArticleRepo) GetByURLFingerprint(ctx context.Context, fingerprint string) (*core.Article, error) {
	return r.getOne(ctx, `SELECT `+articleColumns+` FROM articles WHERE url_fingerprint = $1`, fingerprint, "article url "+fingerprint)
}

func (r *postgresArticleRepo) GetByBodyFingerprint(ctx context.Context, fingerprint string) (*core.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles
		WHERE body_fingerprint = $1 AND duplicate_of = ''
		ORDER BY fetched_at LIMIT 1`
	return r.getOne(ctx, query, fingerprint, "article body "+fingerprint)
}

func (r *postgresArticleRepo) getOne(ctx context.Context, query, arg, what string) (*core.Article, error) {
	a, err := scanArticle(r.query().QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, notFound(err, what)
	}
	return a, nil
}

func (r *postgresArticleRepo) ListPending(ctx context.Context, stage Stage, now time.Time, limit int) ([]core.Article, error) {
	var cond string
	switch stage {
	case StageTriage:
		cond = `triage_status = 'pending'`
	case StageAnalysis:
		cond = `triage_status = 'done' AND analysis_status = 'pending'`
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + articleColumns + ` FROM articles
		WHERE duplicate_of = '' AND expires_at > $1 AND ` + cond + `
		ORDER BY fetched_at, id LIMIT $2`
	rows, err := r.query().QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending articles: %w", err)
	}
	defer rows.Close()

	var articles []core.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

func (r *postgresArticleRepo) SetStatus(ctx context.Context, id string, stage Stage, state core.ProcessingState) error {
	var column string
	switch stage {
	case StageTriage:
		column = "triage_status"
	case StageAnalysis:
		column = "analysis_status"
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
	res, err := r.query().ExecContext(ctx, `UPDATE articles SET `+column+` = $2 WHERE id = $1`, id, string(state))
	if err != nil {
		return fmt.Errorf("failed to update article status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("article %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *postgresArticleRepo) AssignRound(ctx context.Context, id, roundID string) error {
	res, err := r.query().ExecContext(ctx, `UPDATE articles SET round_id = $2 WHERE id = $1`, id, nullString(roundID))
	if err != nil {
		return fmt.Errorf("failed to assign round: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("article %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *postgresArticleRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.query().ExecContext(ctx, `DELETE FROM articles WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired articles: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *postgresArticleRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.query().QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&n)
	return n, err
}

func scanArticle(s scanner) (*core.Article, error) {
	var a core.Article
	var published sql.NullTime
	var roundID sql.NullString
	var triage, analysis string
	err := s.Scan(&a.ID, &a.URL, &a.URLFingerprint, &a.BodyFingerprint, &a.Title, &a.Body, &a.Source, &a.Author,
		&published, &a.FetchedAt, &a.ExpiresAt, &roundID, &a.DuplicateOf, &triage, &analysis)
	if err != nil {
		return nil, err
	}
	a.PublishedAt = timePtr(published)
	a.RoundID = roundID.String
	a.TriageStatus = core.ProcessingState(triage)
	a.AnalysisStatus = core.ProcessingState(analysis)
	return &a, nil
}

// postgresMentionRepo implements MentionRepository for PostgreSQL
type postgresMentionRepo struct{ pgRepo }

const mentionColumns = `id, article_id, entity_id, entity_type, mention_text, mention_count, first_offset, is_primary,
	in_headline, needs_deep_analysis, analysis_completed, context, match_text, resolved_by, created_at, updated_at`

func (r *postgresMentionRepo) Upsert(ctx context.Context, m *core.Mention) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO article_mentions (
			id, article_id, entity_id, entity_type, mention_text, normalized_text, mention_count, first_offset,
			is_primary, in_headline, needs_deep_analysis, analysis_completed, context, match_text, resolved_by,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		ON CONFLICT (article_id, normalized_text) DO UPDATE SET
			entity_id = COALESCE(EXCLUDED.entity_id, article_mentions.entity_id),
			entity_type = EXCLUDED.entity_type,
			mention_text = EXCLUDED.mention_text,
			mention_count = EXCLUDED.mention_count,
			first_offset = EXCLUDED.first_offset,
			is_primary = EXCLUDED.is_primary,
			in_headline = EXCLUDED.in_headline,
			needs_deep_analysis = EXCLUDED.needs_deep_analysis,
			analysis_completed = article_mentions.analysis_completed OR EXCLUDED.analysis_completed,
			context = EXCLUDED.context,
			match_text = EXCLUDED.match_text,
			resolved_by = CASE WHEN EXCLUDED.entity_id IS NULL THEN article_mentions.resolved_by ELSE EXCLUDED.resolved_by END,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + mentionColumns
	row := r.query().QueryRowContext(ctx, query,
		newID(m.ID), m.ArticleID, nullString(m.EntityID), string(m.EntityType), m.MentionText,
		core.NormalizeName(m.MentionText), m.MentionCount, m.FirstOffset, m.IsPrimary, m.InHeadline,
		m.NeedsDeepAnalysis, m.AnalysisCompleted, m.Context, m.MatchText, m.ResolvedBy, now,
	)
	stored, err := scanMention(row)
	if err != nil {
		return fmt.Errorf("failed to upsert mention: %w", err)
	}
	*m = *stored
	return nil
}

func (r *postgresMentionRepo) Get(ctx context.Context, id string) (*core.Mention, error) {
	m, err := scanMention(r.query().QueryRowContext(ctx, `SELECT `+mentionColumns+` FROM article_mentions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "mention "+id)
	}
	return m, nil
}

func (r *postgresMentionRepo) ListByArticle(ctx context.Context, articleID string) ([]core.Mention, error) {
	return r.list(ctx, `SELECT `+mentionColumns+` FROM article_mentions WHERE article_id = $1 ORDER BY mention_text`, articleID)
}

func (r *postgresMentionRepo) ListPendingAnalysis(ctx context.Context, limit int) ([]core.Mention, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + mentionColumns + ` FROM article_mentions
		WHERE entity_id IS NOT NULL AND needs_deep_analysis AND NOT analysis_completed
		ORDER BY article_id, mention_text LIMIT $1`
	return r.list(ctx, query, limit)
}

func (r *postgresMentionRepo) ListUnresolved(ctx context.Context, limit int) ([]core.Mention, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + mentionColumns + ` FROM article_mentions
		WHERE entity_id IS NULL ORDER BY article_id, mention_text LIMIT $1`
	return r.list(ctx, query, limit)
}

func (r *postgresMentionRepo) list(ctx context.Context, query string, args ...interface{}) ([]core.Mention, error) {
	rows, err := r.query().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mentions: %w", err)
	}
	defer rows.Close()

	var mentions []core.Mention
	for rows.Next() {
		m, err := scanMention(rows)
		if err != nil {
			return nil, err
		}
		mentions = append(mentions, *m)
	}
	return mentions, rows.Err()
}

func (r *postgresMentionRepo) Resolve(ctx context.Context, id, entityID string, needsDeepAnalysis bool, resolvedBy string) error {
	res, err := r.query().ExecContext(ctx, `
		UPDATE article_mentions
		SET entity_id = $2, needs_deep_analysis = $3, resolved_by = $4, updated_at = NOW()
		WHERE id = $1
	`, id, entityID, needsDeepAnalysis, resolvedBy)
	if err != nil {
		return fmt.Errorf("failed to resolve mention: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mention %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *postgresMentionRepo) MarkAnalyzed(ctx context.Context, id string) error {
	res, err := r.query().ExecContext(ctx,
		`UPDATE article_mentions SET analysis_completed = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark mention analyzed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mention %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func scanMention(s scanner) (*core.Mention, error) {
	var m core.Mention
	var entityID sql.NullString
	var entityType string
	err := s.Scan(&m.ID, &m.ArticleID, &entityID, &entityType, &m.MentionText, &m.MentionCount, &m.FirstOffset,
		&m.IsPrimary, &m.InHeadline, &m.NeedsDeepAnalysis, &m.AnalysisCompleted, &m.Context, &m.MatchText,
		&m.ResolvedBy, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.EntityID = entityID.String
	m.EntityType = core.EntityType(entityType)
	return &m, nil
}

// postgresTagRepo implements TagRepository for PostgreSQL
type postgresTagRepo struct{ pgRepo }

const tagColumns = `id, article_id, tag_type, tag_value, dimension, matched_text, match_count, in_headline, superseded, created_at, updated_at`

func (r *postgresTagRepo) Upsert(ctx context.Context, tag *core.ArticleTag) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO article_tags (` + tagColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (article_id, tag_type, tag_value) DO UPDATE SET
			dimension = EXCLUDED.dimension,
			matched_text = EXCLUDED.matched_text,
			match_count = EXCLUDED.match_count,
			in_headline = EXCLUDED.in_headline,
			superseded = EXCLUDED.superseded,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`
	err := r.query().QueryRowContext(ctx, query,
		newID(tag.ID), tag.ArticleID, string(tag.TagType), tag.TagValue, string(tag.Dimension),
		tag.MatchedText, tag.MatchCount, tag.InHeadline, tag.Superseded, now,
	).Scan(&tag.ID, &tag.CreatedAt, &tag.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert tag: %w", err)
	}
	return nil
}

func (r *postgresTagRepo) ListByArticle(ctx context.Context, articleID string) ([]core.ArticleTag, error) {
	return r.list(ctx, `SELECT `+tagColumns+` FROM article_tags WHERE article_id = $1 ORDER BY tag_type, tag_value`, articleID)
}

func (r *postgresTagRepo) ListByValue(ctx context.Context, tagType core.TagType, value string, limit int) ([]core.ArticleTag, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + tagColumns + ` FROM article_tags WHERE tag_type = $1 AND tag_value = $2
		ORDER BY article_id LIMIT $3`
	return r.list(ctx, query, string(tagType), value, limit)
}

func (r *postgresTagRepo) list(ctx context.Context, query string, args ...interface{}) ([]core.ArticleTag, error) {
	rows, err := r.query().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []core.ArticleTag
	for rows.Next() {
		var t core.ArticleTag
		var tagType, dimension string
		if err := rows.Scan(&t.ID, &t.ArticleID, &tagType, &t.TagValue, &dimension, &t.MatchedText,
			&t.MatchCount, &t.InHeadline, &t.Superseded, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.TagType = core.TagType(tagType)
		t.Dimension = core.DimensionCode(dimension)
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
