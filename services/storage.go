package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"atmos/config"
	"atmos/models"
)

const createReadingsTable = `
CREATE TABLE IF NOT EXISTS readings (
	id          BIGSERIAL PRIMARY KEY,
	temperature DOUBLE PRECISION NOT NULL,
	humidity    DOUBLE PRECISION NOT NULL,
	measured_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_readings_measured_at ON readings (measured_at);
`

// OpenPostgres opens the database connection pool and verifies it with a
// ping. A failed ping is returned to the caller but the pool stays usable,
// so the service can start degraded and recover when the store comes back.
func OpenPostgres(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return db, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// SensorStore persists readings to Postgres and serves the dashboard
// queries. Writes go through a buffered channel drained by Run, batching
// inserts so a slow store never stalls the ingestion pipeline.
type SensorStore struct {
	db        *sql.DB
	logger    *zap.Logger
	loc       *time.Location
	writeCh   chan *models.Reading
	available atomic.Bool

	maxBatchSize int
	batchTimeout time.Duration
}

func NewSensorStore(db *sql.DB, loc *time.Location, logger *zap.Logger) *SensorStore {
	s := &SensorStore{
		db:           db,
		logger:       logger,
		loc:          loc,
		writeCh:      make(chan *models.Reading, 1024),
		maxBatchSize: 50,
		batchTimeout: 2 * time.Second,
	}
	s.available.Store(true)
	return s
}

// EnsureSchema creates the readings table if it does not exist.
func (s *SensorStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createReadingsTable); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Append queues a reading for the async writer. It never blocks; when the
// buffer is full the reading is lost and an error returned, an accepted
// tradeoff favoring alert availability over durability.
func (s *SensorStore) Append(r *models.Reading) error {
	select {
	case s.writeCh <- r:
		return nil
	default:
		return fmt.Errorf("write buffer full, dropping reading (%d pending)", len(s.writeCh))
	}
}

// Run drains the write buffer, flushing batches by size or timeout. On
// shutdown it flushes whatever is buffered before returning.
func (s *SensorStore) Run(ctx context.Context) {
	s.logger.Info("Starting store writer",
		zap.Int("max_batch_size", s.maxBatchSize),
		zap.Duration("batch_timeout", s.batchTimeout))

	batch := make([]*models.Reading, 0, s.maxBatchSize)
	timer := time.NewTimer(s.batchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.flushBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			s.logger.Info("Store writer stopped")
			return

		case r := <-s.writeCh:
			batch = append(batch, r)
			if len(batch) >= s.maxBatchSize {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				flush()
				timer.Reset(s.batchTimeout)
			}

		case <-timer.C:
			flush()
			timer.Reset(s.batchTimeout)
		}
	}
}

// flushBatch inserts one batch with bounded retry. Persistent failure marks
// the store unavailable (surfaced on the health endpoint) and drops the
// batch; ingestion and alerting continue regardless.
func (s *SensorStore) flushBatch(batch []*models.Reading) {
	maxRetries := 3
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = s.insertBatch(batch)
		if err == nil {
			s.available.Store(true)
			s.logger.Debug("Flushed readings to store", zap.Int("batch_size", len(batch)))
			return
		}

		s.logger.Error("Failed to flush readings",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	s.available.Store(false)
	s.logger.Error("Dropping readings after all retries, store unavailable",
		zap.Int("batch_size", len(batch)),
		zap.Error(err))
}

func (s *SensorStore) insertBatch(batch []*models.Reading) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO readings (temperature, humidity, measured_at) VALUES ($1, $2, $3)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}

	for _, r := range batch {
		if _, err := stmt.Exec(r.Temperature, r.Humidity, r.MeasuredAt); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("failed to insert reading: %w", err)
		}
	}

	stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Latest returns the most recently measured reading.
func (s *SensorStore) Latest(ctx context.Context) (*models.Reading, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, temperature, humidity, measured_at FROM readings ORDER BY measured_at DESC, id DESC LIMIT 1`)

	var r models.Reading
	if err := row.Scan(&r.ID, &r.Temperature, &r.Humidity, &r.MeasuredAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest reading: %w", err)
	}
	return &r, nil
}

// List returns one page of readings ordered by measurement time, plus the
// total row count for pagination.
func (s *SensorStore) List(ctx context.Context, page, limit int, order string) ([]models.Reading, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 10
	}
	order = strings.ToUpper(order)
	if order != "ASC" {
		order = "DESC"
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count readings: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, temperature, humidity, measured_at FROM readings ORDER BY measured_at %s, id %s LIMIT $1 OFFSET $2`,
		order, order)

	rows, err := s.db.QueryContext(ctx, query, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings, err := scanReadings(rows)
	if err != nil {
		return nil, 0, err
	}
	return readings, total, nil
}

// Since returns all readings measured at or after the given time, ascending.
// The session window query uses local midnight as its lower bound.
func (s *SensorStore) Since(ctx context.Context, since time.Time) ([]models.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, temperature, humidity, measured_at FROM readings WHERE measured_at >= $1 ORDER BY measured_at ASC, id ASC`,
		since)
	if err != nil {
		return nil, fmt.Errorf("failed to query session readings: %w", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// Available reports whether the last write attempt succeeded.
func (s *SensorStore) Available() bool {
	return s.available.Load()
}

// SessionStart returns local midnight for the given instant.
func (s *SensorStore) SessionStart(at time.Time) time.Time {
	local := at.In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
}

func scanReadings(rows *sql.Rows) ([]models.Reading, error) {
	var readings []models.Reading
	for rows.Next() {
		var r models.Reading
		if err := rows.Scan(&r.ID, &r.Temperature, &r.Humidity, &r.MeasuredAt); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}
	return readings, nil
}
