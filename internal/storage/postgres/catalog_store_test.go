package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-ingest/internal/audit"
	"github.com/JakeFAU/archive-ingest/internal/ingest"
)

func TestUpsertCatalogWritesEveryRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCatalogStoreWithPool(mock, "", "")
	require.NoError(t, err)

	records := []ingest.WorkRecord{
		{ID: "fest-00", Number: "00", Title: "Opening", Screenshots: []string{"/assets/screenshots/fest/00.png"}},
		{ID: "fest-u-extra", Title: "Extra"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO work_records").
		WithArgs("fest-00", "fest", "00", "Opening", "", "", "", "", "", "", "", "", "", "",
			[]string{"/assets/screenshots/fest/00.png"}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO work_records").
		WithArgs("fest-u-extra", "fest", "", "Extra", "", "", "", "", "", "", "", "", "", "", []string{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertCatalog(context.Background(), "fest", records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCatalogRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCatalogStoreWithPool(mock, "records", "runs")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO records").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err = store.UpsertCatalog(context.Background(), "fest", []ingest.WorkRecord{{ID: "fest-1", Number: "1"}})
	require.ErrorContains(t, err, "upsert record fest-1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCatalogStoreWithPool(mock, "", "")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	summary := audit.Summary{
		SourceID:   "fest",
		RunID:      "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Status:     audit.StatusOK,
		Totals:     audit.Totals{Entries: 3, Captured: 2, Errored: 1, AssetsStored: 7},
	}
	var noErr *string
	mock.ExpectExec("INSERT INTO ingest_runs").
		WithArgs("run-1", "fest", summary.StartedAt, summary.FinishedAt, audit.StatusOK, noErr, 3, 2, 1, 7).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), summary))
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, store.RecordRun(context.Background(), audit.Summary{}))
}

func TestNewCatalogStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewCatalogStoreWithPool(nil, "", "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewCatalogStoreWithPool(mock, "bad-name;", "")
	require.Error(t, err)

	_, err = NewCatalogStore(context.Background(), CatalogStoreConfig{})
	require.Error(t, err)
}
