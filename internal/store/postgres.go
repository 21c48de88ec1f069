package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/mimosa-project/mimosa-sync/internal/db"
	"github.com/mimosa-project/mimosa-sync/internal/model"
)

// PostgresStore implements Store using pgxpool with JSONB document columns.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS features (
	id         TEXT PRIMARY KEY,
	profile    TEXT NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS similarities (
	id         TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS clustering (
	id         TEXT PRIMARY KEY,
	profile    TEXT NOT NULL,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS distance (
	profile    TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sample_logs (
	sample_id TEXT PRIMARY KEY,
	profile   TEXT NOT NULL,
	added_at  TIMESTAMPTZ NOT NULL,
	updates   JSONB NOT NULL DEFAULT '[]'::jsonb
);

CREATE INDEX IF NOT EXISTS idx_features_profile ON features(profile);
CREATE INDEX IF NOT EXISTS idx_clustering_profile ON clustering(profile, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetFeature(ctx context.Context, sampleID string) (*model.Feature, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM features WHERE id = $1`, sampleID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get feature %s", sampleID)
	}

	var f model.Feature
	if err := json.Unmarshal(doc, &f); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal feature %s", sampleID)
	}
	return &f, nil
}

func (s *PostgresStore) InsertFeature(ctx context.Context, profile string, f model.Feature) error {
	doc, err := json.Marshal(f)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal feature %s", f.Properties.ID)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO features (id, profile, doc, updated_at) VALUES ($1, $2, $3, now())`,
		f.Properties.ID, profile, doc,
	)
	return eris.Wrapf(err, "postgres: insert feature %s", f.Properties.ID)
}

func (s *PostgresStore) ReplaceFeature(ctx context.Context, profile string, f model.Feature) error {
	doc, err := json.Marshal(f)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal feature %s", f.Properties.ID)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE features SET profile = $1, doc = $2, updated_at = now() WHERE id = $3`,
		profile, doc, f.Properties.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: replace feature %s", f.Properties.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: feature %s not found", f.Properties.ID)
	}
	return nil
}

func (s *PostgresStore) ListFeatureIDs(ctx context.Context, profile string) ([]string, error) {
	query := `SELECT id FROM features ORDER BY id`
	args := []any{}
	if profile != "" {
		query = `SELECT id FROM features WHERE profile = $1 ORDER BY id`
		args = append(args, profile)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list feature ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feature id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list feature ids")
}

func (s *PostgresStore) DeleteFeature(ctx context.Context, sampleID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM features WHERE id = $1`, sampleID)
	return eris.Wrapf(err, "postgres: delete feature %s", sampleID)
}

func (s *PostgresStore) GetSimilarity(ctx context.Context, sampleID string) (*model.Similarity, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM similarities WHERE id = $1`, sampleID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get similarity %s", sampleID)
	}

	var rec model.Similarity
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal similarity %s", sampleID)
	}
	return &rec, nil
}

func (s *PostgresStore) ListSimilarities(ctx context.Context) ([]model.Similarity, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM similarities ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list similarities")
	}
	defer rows.Close()

	var out []model.Similarity
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan similarity")
		}
		var rec model.Similarity
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal similarity")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list similarities")
}

func (s *PostgresStore) ReplaceSimilarity(ctx context.Context, rec model.Similarity) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal similarity %s", rec.ID)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO similarities (id, doc, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, created_at = EXCLUDED.created_at`,
		rec.ID, doc, rec.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: replace similarity %s", rec.ID)
}

func (s *PostgresStore) DeleteSimilarity(ctx context.Context, sampleID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM similarities WHERE id = $1`, sampleID)
	return eris.Wrapf(err, "postgres: delete similarity %s", sampleID)
}

func (s *PostgresStore) InsertClustering(ctx context.Context, res model.ClusteringResult) error {
	doc, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal clustering")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO clustering (id, profile, doc, created_at) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), res.AnalysisProfile, doc, res.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert clustering")
}

func (s *PostgresStore) LatestClustering(ctx context.Context, profile string) (*model.ClusteringResult, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM clustering WHERE profile = $1 ORDER BY created_at DESC LIMIT 1`,
		profile,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest clustering %s", profile)
	}

	var res model.ClusteringResult
	if err := json.Unmarshal(doc, &res); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal clustering %s", profile)
	}
	return &res, nil
}

func (s *PostgresStore) ReplaceDistance(ctx context.Context, d model.Distance) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal distance %s", d.AnalysisProfile)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO distance (profile, doc, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (profile) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		d.AnalysisProfile, doc,
	)
	return eris.Wrapf(err, "postgres: replace distance %s", d.AnalysisProfile)
}

func (s *PostgresStore) GetDistance(ctx context.Context, profile string) (*model.Distance, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM distance WHERE profile = $1`, profile,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get distance %s", profile)
	}

	var d model.Distance
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal distance %s", profile)
	}
	return &d, nil
}

func (s *PostgresStore) GetSampleLog(ctx context.Context, sampleID string) (*model.SampleLog, error) {
	var (
		profile string
		addedAt time.Time
		updates []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT profile, added_at, updates FROM sample_logs WHERE sample_id = $1`, sampleID,
	).Scan(&profile, &addedAt, &updates)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get sample log %s", sampleID)
	}

	log := model.SampleLog{SampleID: sampleID, Profile: profile, AddedAt: addedAt}
	if err := json.Unmarshal(updates, &log.Updates); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal log updates %s", sampleID)
	}
	return &log, nil
}

func (s *PostgresStore) InsertSampleLog(ctx context.Context, log model.SampleLog) error {
	updates := log.Updates
	if updates == nil {
		updates = []model.UpdateEntry{}
	}
	doc, err := json.Marshal(updates)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal log updates %s", log.SampleID)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sample_logs (sample_id, profile, added_at, updates) VALUES ($1, $2, $3, $4)`,
		log.SampleID, log.Profile, log.AddedAt, doc,
	)
	return eris.Wrapf(err, "postgres: insert sample log %s", log.SampleID)
}

// AppendLogUpdate appends one entry to the JSONB updates array atomically.
func (s *PostgresStore) AppendLogUpdate(ctx context.Context, sampleID string, entry model.UpdateEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal log entry %s", sampleID)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sample_logs SET updates = updates || $1::jsonb WHERE sample_id = $2`,
		doc, sampleID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: append log update %s", sampleID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: no log document for %s", sampleID)
	}
	return nil
}

func (s *PostgresStore) DeleteSampleLog(ctx context.Context, sampleID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sample_logs WHERE sample_id = $1`, sampleID)
	return eris.Wrapf(err, "postgres: delete sample log %s", sampleID)
}

func (s *PostgresStore) Counts(ctx context.Context) (*Counts, error) {
	c := &Counts{ByProfile: map[string]int{}}

	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM features),
			(SELECT COUNT(*) FROM similarities),
			(SELECT COUNT(*) FROM clustering),
			(SELECT COUNT(*) FROM sample_logs)`,
	).Scan(&c.Features, &c.Similarities, &c.Clusterings, &c.Logs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: counts")
	}

	rows, err := s.pool.Query(ctx, `SELECT profile, COUNT(*) FROM features GROUP BY profile`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: profile counts")
	}
	defer rows.Close()
	for rows.Next() {
		var profile string
		var n int
		if err := rows.Scan(&profile, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan profile count")
		}
		c.ByProfile[profile] = n
	}
	return c, eris.Wrap(rows.Err(), "postgres: profile counts")
}
