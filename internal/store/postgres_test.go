package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimosa-project/mimosa-sync/internal/model"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestPostgres_GetFeature_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT doc FROM features`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}))

	f, err := s.GetFeature(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, f)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetFeature(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	doc, err := json.Marshal(testFeature("S1", "passed"))
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT doc FROM features`).
		WithArgs("S1").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))

	f, err := s.GetFeature(context.Background(), "S1")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "passed", f.Properties.QCStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceFeature_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE features SET`).
		WithArgs("p", pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.ReplaceFeature(context.Background(), "p", testFeature("ghost", "passed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceSimilarity_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO similarities .+ ON CONFLICT`).
		WithArgs("S1", pgxmock.AnyArg(), created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.ReplaceSimilarity(context.Background(), model.Similarity{
		ID:        "S1",
		Similar:   []model.Neighbor{{ID: "S2", Similarity: 0.9}},
		CreatedAt: created,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendLogUpdate_NoDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE sample_logs SET updates`).
		WithArgs(pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.AppendLogUpdate(context.Background(), "ghost", model.UpdateEntry{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no log document")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LatestClustering(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	res := model.ClusteringResult{
		AnalysisProfile: "staphylococcus_aureus",
		Results:         []model.ClusterAssignment{{ID: "S1", ClusterID: float64(2), Partition: "MST-9x1.0"}},
		CreatedAt:       time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	doc, err := json.Marshal(res)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT doc FROM clustering WHERE profile`).
		WithArgs("staphylococcus_aureus").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))

	got, err := s.LatestClustering(context.Background(), "staphylococcus_aureus")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "S1", got.Results[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Counts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnRows(pgxmock.NewRows([]string{"f", "s", "c", "l"}).AddRow(3, 2, 1, 3))
	mock.ExpectQuery(`SELECT profile, COUNT`).
		WillReturnRows(pgxmock.NewRows([]string{"profile", "count"}).
			AddRow("staphylococcus_aureus", 2).
			AddRow("klebsiella_pneumoniae", 1))

	c, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, c.Features)
	assert.Equal(t, 2, c.ByProfile["staphylococcus_aureus"])
	require.NoError(t, mock.ExpectationsWereMet())
}
