package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"driftwatch/internal/core"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// runner is satisfied by both *sql.DB and *sql.Tx.
type runner interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects, verifies the connection and applies the schema.
func NewPostgresStore(ctx context.Context, connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := NewMigrationManager(db).Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func exec(ctx context.Context, r runner, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.ExecContext(ctx, query, args...)
}

func query(ctx context.Context, r runner, b sq.Sqlizer) (*sql.Rows, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return r.QueryContext(ctx, q, args...)
}

// InsertArticles upserts articles. Ingestion lives outside this module; this
// is how it hands articles over.
func (p *PostgresStore) InsertArticles(ctx context.Context, articles ...core.Article) error {
	if len(articles) == 0 {
		return nil
	}
	b := psql.Insert("articles").
		Columns("id", "source_id", "published_at", "title", "raw_text", "language", "fingerprint").
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			raw_text = EXCLUDED.raw_text,
			language = EXCLUDED.language,
			fingerprint = EXCLUDED.fingerprint`)
	for _, a := range articles {
		b = b.Values(a.ID, a.SourceID, a.PublishedAt.UTC(), a.Title, a.RawText, a.Language, a.Fingerprint)
	}
	if _, err := exec(ctx, p.db, b); err != nil {
		return fmt.Errorf("insert articles: %w", err)
	}
	return nil
}

func (p *PostgresStore) ArticlesInWindow(ctx context.Context, w core.Window) ([]core.Article, error) {
	rows, err := query(ctx, p.db, psql.
		Select("id", "source_id", "published_at", "title", "raw_text", "language", "fingerprint",
			"embedding", "embedding_model", "embedding_generated_at", "summary_ref").
		From("articles").
		Where(sq.GtOrEq{"published_at": w.Start}).
		Where(sq.Lt{"published_at": w.End}).
		OrderBy("published_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("query articles in %s: %w", w.ID, err)
	}
	defer rows.Close()

	var out []core.Article
	for rows.Next() {
		var (
			a           core.Article
			vector      []byte
			model       sql.NullString
			generatedAt sql.NullTime
			summaryRef  sql.NullString
		)
		err := rows.Scan(&a.ID, &a.SourceID, &a.PublishedAt, &a.Title, &a.RawText, &a.Language, &a.Fingerprint,
			&vector, &model, &generatedAt, &summaryRef)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		if len(vector) > 0 {
			e := core.Embedding{ModelVersion: model.String, GeneratedAt: generatedAt.Time}
			if err := json.Unmarshal(vector, &e.Vector); err != nil {
				return nil, fmt.Errorf("decode embedding of %s: %w", a.ID, err)
			}
			a.Embedding = &e
		}
		a.SummaryRef = summaryRef.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AttachEmbedding(ctx context.Context, articleID string, e core.Embedding) error {
	vector, err := json.Marshal(e.Vector)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	res, err := exec(ctx, p.db, psql.Update("articles").
		Set("embedding", vector).
		Set("embedding_model", e.ModelVersion).
		Set("embedding_generated_at", e.GeneratedAt.UTC()).
		Where(sq.Eq{"id": articleID}))
	if err != nil {
		return fmt.Errorf("attach embedding to %s: %w", articleID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("article %s: %w", articleID, ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) AttachSummary(ctx context.Context, articleIDs []string, ref string) error {
	if len(articleIDs) == 0 {
		return nil
	}
	_, err := exec(ctx, p.db, psql.Update("articles").
		Set("summary_ref", ref).
		Where("id = ANY(?)", pq.Array(articleIDs)))
	if err != nil {
		return fmt.Errorf("attach summary: %w", err)
	}
	return nil
}

func (p *PostgresStore) LoadNarratives(ctx context.Context, ns core.Namespace) ([]*core.Narrative, error) {
	rows, err := query(ctx, p.db, psql.Select("state").
		From("narratives").
		Where(sq.Eq{"namespace": string(ns)}).
		OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("query narratives: %w", err)
	}
	defer rows.Close()

	var out []*core.Narrative
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("scan narrative: %w", err)
		}
		n := &core.Narrative{}
		if err := json.Unmarshal(state, n); err != nil {
			return nil, fmt.Errorf("decode narrative: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CommitWindow writes the window in a single transaction.
func (p *PostgresStore) CommitWindow(ctx context.Context, c WindowCommit) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit of %s: %w", c.Window.ID, err)
	}
	defer tx.Rollback()

	for _, n := range c.Narratives {
		if err := upsertNarrative(ctx, tx, n); err != nil {
			return err
		}
	}
	for _, e := range c.Events {
		if err := insertEvent(ctx, tx, e); err != nil {
			return err
		}
	}
	for _, r := range c.Reports {
		_, err := exec(ctx, tx, psql.Insert("weekly_reports").
			Columns("id", "narrative_id", "window_id", "window_start", "window_end", "summary", "model", "created_at").
			Values(r.ID, r.NarrativeID, r.Window.ID, r.Window.Start, r.Window.End, r.Summary, r.Model, r.CreatedAt.UTC()))
		if err != nil {
			return fmt.Errorf("insert report %s: %w", r.ID, err)
		}
	}
	if len(c.Statements) > 0 {
		b := psql.Insert("statements").
			Columns("id", "article_id", "source_id", "published_at", "actor", "action", "reason", "consequence",
				"full_text", "confidence", "fingerprint").
			Suffix("ON CONFLICT (id) DO NOTHING")
		for _, s := range c.Statements {
			b = b.Values(s.ID, s.ArticleID, s.SourceID, s.PublishedAt.UTC(), s.Actor, s.Action, s.Reason,
				s.Consequence, s.Text, s.Confidence, s.Fingerprint)
		}
		if _, err := exec(ctx, tx, b); err != nil {
			return fmt.Errorf("insert statements: %w", err)
		}
	}
	if !c.Settle {
		_, err = exec(ctx, tx, psql.Insert("processed_windows").
			Columns("window_id").
			Values(c.Window.ID).
			Suffix("ON CONFLICT (window_id) DO NOTHING"))
		if err != nil {
			return fmt.Errorf("mark window %s: %w", c.Window.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit window %s: %w", c.Window.ID, err)
	}
	return nil
}

func upsertNarrative(ctx context.Context, r runner, n *core.Narrative) error {
	state, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode narrative %s: %w", n.ID, err)
	}
	_, err = exec(ctx, r, psql.Insert("narratives").
		Columns("id", "namespace", "name", "status", "support_count", "unique_sources_count", "state",
			"created_at", "updated_at").
		Values(n.ID, string(n.Namespace), n.Name, string(n.Status), n.SupportCount, n.UniqueSourcesCount, state,
			n.CreatedAt.UTC(), n.UpdatedAt.UTC()).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			support_count = EXCLUDED.support_count,
			unique_sources_count = EXCLUDED.unique_sources_count,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`))
	if err != nil {
		return fmt.Errorf("upsert narrative %s: %w", n.ID, err)
	}
	return nil
}

func insertEvent(ctx context.Context, r runner, e core.TimelineEvent) error {
	linked, err := json.Marshal(e.LinkedItemIDs)
	if err != nil {
		return fmt.Errorf("encode linked items: %w", err)
	}
	_, err = exec(ctx, r, psql.Insert("timeline_events").
		Columns("id", "narrative_id", "namespace", "event_type", "window_id", "window_start", "window_end",
			"event_date", "significance", "description", "linked_item_ids").
		Values(e.ID, e.NarrativeID, string(e.Namespace), e.Type.String(), e.Window.ID, e.Window.Start, e.Window.End,
			e.EventDate.UTC(), e.Significance, e.Description, linked))
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

func (p *PostgresStore) WindowCommitted(ctx context.Context, w core.Window) (bool, error) {
	q, args, err := psql.Select("1").From("processed_windows").Where(sq.Eq{"window_id": w.ID}).ToSql()
	if err != nil {
		return false, err
	}
	var one int
	switch err := p.db.QueryRowContext(ctx, q, args...).Scan(&one); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, fmt.Errorf("check window %s: %w", w.ID, err)
	}
}

func (p *PostgresStore) Reports(ctx context.Context, narrativeID string) ([]core.WeeklyReport, error) {
	rows, err := query(ctx, p.db, psql.
		Select("id", "narrative_id", "window_id", "window_start", "window_end", "summary", "model", "created_at").
		From("weekly_reports").
		Where(sq.Eq{"narrative_id": narrativeID}).
		OrderBy("window_start", "created_at"))
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var out []core.WeeklyReport
	for rows.Next() {
		var r core.WeeklyReport
		if err := rows.Scan(&r.ID, &r.NarrativeID, &r.Window.ID, &r.Window.Start, &r.Window.End,
			&r.Summary, &r.Model, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Events(ctx context.Context, narrativeID string) ([]core.TimelineEvent, error) {
	rows, err := query(ctx, p.db, psql.
		Select("id", "narrative_id", "namespace", "event_type", "window_id", "window_start", "window_end",
			"event_date", "significance", "description", "linked_item_ids").
		From("timeline_events").
		Where(sq.Eq{"narrative_id": narrativeID}).
		OrderBy("window_start"))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []core.TimelineEvent
	for rows.Next() {
		var (
			e         core.TimelineEvent
			ns, typ   string
			linkedRaw []byte
		)
		if err := rows.Scan(&e.ID, &e.NarrativeID, &ns, &typ, &e.Window.ID, &e.Window.Start, &e.Window.End,
			&e.EventDate, &e.Significance, &e.Description, &linkedRaw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Namespace = core.Namespace(ns)
		if e.Type, err = core.ParseEventType(typ); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(linkedRaw, &e.LinkedItemIDs); err != nil {
			return nil, fmt.Errorf("decode linked items: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
