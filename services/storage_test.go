package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"atmos/models"
)

func setupMockStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SensorStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	store := NewSensorStore(db, time.UTC, zap.NewNop())
	return db, mock, store
}

func TestLatest_Success(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	measuredAt := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "temperature", "humidity", "measured_at"}).
		AddRow(42, 27.5, 61.0, measuredAt)

	mock.ExpectQuery(`SELECT id, temperature, humidity, measured_at FROM readings ORDER BY measured_at DESC`).
		WillReturnRows(rows)

	r, err := store.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, int64(42), r.ID)
	assert.Equal(t, 27.5, r.Temperature)
	assert.Equal(t, 61.0, r.Humidity)
	assert.Equal(t, measuredAt, r.MeasuredAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatest_Empty(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, temperature, humidity, measured_at FROM readings`).
		WillReturnError(sql.ErrNoRows)

	r, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestList_Pagination(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM readings`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(25))

	rows := sqlmock.NewRows([]string{"id", "temperature", "humidity", "measured_at"}).
		AddRow(25, 27.5, 61.0, time.Now()).
		AddRow(24, 26.9, 60.0, time.Now())

	mock.ExpectQuery(`SELECT id, temperature, humidity, measured_at FROM readings ORDER BY measured_at DESC`).
		WithArgs(10, 10).
		WillReturnRows(rows)

	readings, total, err := store.List(context.Background(), 2, 10, "desc")
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)
	assert.Len(t, readings, 2)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_SanitizesParameters(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM readings`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	// bogus order collapses to DESC, page/limit to their defaults
	mock.ExpectQuery(`ORDER BY measured_at DESC`).
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "temperature", "humidity", "measured_at"}))

	_, _, err := store.List(context.Background(), -1, 0, "DROP TABLE")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSince_AscendingWindow(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	since := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "temperature", "humidity", "measured_at"}).
		AddRow(1, 25.0, 60.0, since.Add(time.Hour)).
		AddRow(2, 26.0, 59.0, since.Add(2*time.Hour))

	mock.ExpectQuery(`WHERE measured_at >= .+ ORDER BY measured_at ASC`).
		WithArgs(since).
		WillReturnRows(rows)

	readings, err := store.Since(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.True(t, readings[0].MeasuredAt.Before(readings[1].MeasuredAt))
}

func TestInsertBatch_Success(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO readings`)
	prep.ExpectExec().WithArgs(27.5, 61.0, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs(28.0, 62.0, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	batch := []*models.Reading{
		{Temperature: 27.5, Humidity: 61.0, MeasuredAt: time.Now()},
		{Temperature: 28.0, Humidity: 62.0, MeasuredAt: time.Now()},
	}
	require.NoError(t, store.insertBatch(batch))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_RollbackOnFailure(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO readings`)
	prep.ExpectExec().WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	batch := []*models.Reading{{Temperature: 27.5, Humidity: 61.0, MeasuredAt: time.Now()}}
	err := store.insertBatch(batch)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_BufferFull(t *testing.T) {
	db, _, store := setupMockStore(t)
	defer db.Close()

	store.writeCh = make(chan *models.Reading, 1)
	require.NoError(t, store.Append(&models.Reading{}))

	err := store.Append(&models.Reading{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write buffer full")
}

func TestSessionStart_LocalMidnight(t *testing.T) {
	db, _, store := setupMockStore(t)
	defer db.Close()

	at := time.Date(2026, 8, 28, 17, 45, 12, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), store.SessionStart(at))
}
