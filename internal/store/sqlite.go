package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/mimosa-project/mimosa-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Documents are stored
// as JSON text keyed by sample ID, one table per collection.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS features (
	id         TEXT PRIMARY KEY,
	profile    TEXT NOT NULL,
	doc        TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS similarities (
	id         TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS clustering (
	id         TEXT PRIMARY KEY,
	profile    TEXT NOT NULL,
	doc        TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS distance (
	profile    TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sample_logs (
	sample_id TEXT PRIMARY KEY,
	profile   TEXT NOT NULL,
	added_at  DATETIME NOT NULL,
	updates   TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_features_profile ON features(profile);
CREATE INDEX IF NOT EXISTS idx_clustering_profile ON clustering(profile, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetFeature(ctx context.Context, sampleID string) (*model.Feature, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM features WHERE id = ?`, sampleID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get feature %s", sampleID)
	}

	var f model.Feature
	if err := json.Unmarshal([]byte(doc), &f); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal feature %s", sampleID)
	}
	return &f, nil
}

func (s *SQLiteStore) InsertFeature(ctx context.Context, profile string, f model.Feature) error {
	doc, err := json.Marshal(f)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal feature %s", f.Properties.ID)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO features (id, profile, doc, updated_at) VALUES (?, ?, ?, ?)`,
		f.Properties.ID, profile, string(doc), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert feature %s", f.Properties.ID)
}

func (s *SQLiteStore) ReplaceFeature(ctx context.Context, profile string, f model.Feature) error {
	doc, err := json.Marshal(f)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal feature %s", f.Properties.ID)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE features SET profile = ?, doc = ?, updated_at = ? WHERE id = ?`,
		profile, string(doc), time.Now().UTC(), f.Properties.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: replace feature %s", f.Properties.ID)
	}
	return checkRowsAffected(res, "feature", f.Properties.ID)
}

func (s *SQLiteStore) ListFeatureIDs(ctx context.Context, profile string) ([]string, error) {
	query := `SELECT id FROM features`
	args := []any{}
	if profile != "" {
		query += ` WHERE profile = ?`
		args = append(args, profile)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list feature ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feature id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list feature ids")
}

func (s *SQLiteStore) DeleteFeature(ctx context.Context, sampleID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM features WHERE id = ?`, sampleID)
	return eris.Wrapf(err, "sqlite: delete feature %s", sampleID)
}

func (s *SQLiteStore) GetSimilarity(ctx context.Context, sampleID string) (*model.Similarity, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM similarities WHERE id = ?`, sampleID,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get similarity %s", sampleID)
	}

	var rec model.Similarity
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal similarity %s", sampleID)
	}
	return &rec, nil
}

func (s *SQLiteStore) ListSimilarities(ctx context.Context) ([]model.Similarity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM similarities ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list similarities")
	}
	defer rows.Close()

	var out []model.Similarity
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan similarity")
		}
		var rec model.Similarity
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal similarity")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list similarities")
}

func (s *SQLiteStore) ReplaceSimilarity(ctx context.Context, rec model.Similarity) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal similarity %s", rec.ID)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO similarities (id, doc, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, created_at = excluded.created_at`,
		rec.ID, string(doc), rec.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: replace similarity %s", rec.ID)
}

func (s *SQLiteStore) DeleteSimilarity(ctx context.Context, sampleID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM similarities WHERE id = ?`, sampleID)
	return eris.Wrapf(err, "sqlite: delete similarity %s", sampleID)
}

func (s *SQLiteStore) InsertClustering(ctx context.Context, res model.ClusteringResult) error {
	doc, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal clustering")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clustering (id, profile, doc, created_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), res.AnalysisProfile, string(doc), res.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert clustering")
}

func (s *SQLiteStore) LatestClustering(ctx context.Context, profile string) (*model.ClusteringResult, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM clustering WHERE profile = ? ORDER BY created_at DESC LIMIT 1`,
		profile,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest clustering %s", profile)
	}

	var res model.ClusteringResult
	if err := json.Unmarshal([]byte(doc), &res); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal clustering %s", profile)
	}
	return &res, nil
}

func (s *SQLiteStore) ReplaceDistance(ctx context.Context, d model.Distance) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal distance %s", d.AnalysisProfile)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO distance (profile, doc, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(profile) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		d.AnalysisProfile, string(doc), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: replace distance %s", d.AnalysisProfile)
}

func (s *SQLiteStore) GetDistance(ctx context.Context, profile string) (*model.Distance, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM distance WHERE profile = ?`, profile,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get distance %s", profile)
	}

	var d model.Distance
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal distance %s", profile)
	}
	return &d, nil
}

func (s *SQLiteStore) GetSampleLog(ctx context.Context, sampleID string) (*model.SampleLog, error) {
	var (
		profile string
		addedAt time.Time
		updates string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT profile, added_at, updates FROM sample_logs WHERE sample_id = ?`, sampleID,
	).Scan(&profile, &addedAt, &updates)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get sample log %s", sampleID)
	}

	log := model.SampleLog{SampleID: sampleID, Profile: profile, AddedAt: addedAt}
	if err := json.Unmarshal([]byte(updates), &log.Updates); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal log updates %s", sampleID)
	}
	return &log, nil
}

func (s *SQLiteStore) InsertSampleLog(ctx context.Context, log model.SampleLog) error {
	updates := log.Updates
	if updates == nil {
		updates = []model.UpdateEntry{}
	}
	doc, err := json.Marshal(updates)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal log updates %s", log.SampleID)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sample_logs (sample_id, profile, added_at, updates) VALUES (?, ?, ?, ?)`,
		log.SampleID, log.Profile, log.AddedAt, string(doc),
	)
	return eris.Wrapf(err, "sqlite: insert sample log %s", log.SampleID)
}

// AppendLogUpdate appends one update entry to a sample's log inside a
// transaction. The log document must already exist.
func (s *SQLiteStore) AppendLogUpdate(ctx context.Context, sampleID string, entry model.UpdateEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append log")
	}
	defer tx.Rollback() //nolint:errcheck

	var updates string
	err = tx.QueryRowContext(ctx,
		`SELECT updates FROM sample_logs WHERE sample_id = ?`, sampleID,
	).Scan(&updates)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Errorf("sqlite: no log document for %s", sampleID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read log updates %s", sampleID)
	}

	var entries []model.UpdateEntry
	if err := json.Unmarshal([]byte(updates), &entries); err != nil {
		return eris.Wrapf(err, "sqlite: unmarshal log updates %s", sampleID)
	}
	entries = append(entries, entry)

	doc, err := json.Marshal(entries)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal log updates %s", sampleID)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sample_logs SET updates = ? WHERE sample_id = ?`,
		string(doc), sampleID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: append log update %s", sampleID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit append log")
}

func (s *SQLiteStore) DeleteSampleLog(ctx context.Context, sampleID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sample_logs WHERE sample_id = ?`, sampleID)
	return eris.Wrapf(err, "sqlite: delete sample log %s", sampleID)
}

func (s *SQLiteStore) Counts(ctx context.Context) (*Counts, error) {
	c := &Counts{ByProfile: map[string]int{}}

	for _, q := range []struct {
		sql  string
		dest *int
	}{
		{`SELECT COUNT(*) FROM features`, &c.Features},
		{`SELECT COUNT(*) FROM similarities`, &c.Similarities},
		{`SELECT COUNT(*) FROM clustering`, &c.Clusterings},
		{`SELECT COUNT(*) FROM sample_logs`, &c.Logs},
	} {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, eris.Wrap(err, "sqlite: counts")
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT profile, COUNT(*) FROM features GROUP BY profile`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: profile counts")
	}
	defer rows.Close()
	for rows.Next() {
		var profile string
		var n int
		if err := rows.Scan(&profile, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan profile count")
		}
		c.ByProfile[profile] = n
	}
	return c, eris.Wrap(rows.Err(), "sqlite: profile counts")
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return eris.Errorf("sqlite: %s %s not found", kind, id)
	}
	return nil
}
