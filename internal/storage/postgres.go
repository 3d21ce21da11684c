package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/busdash/bus-dashboard-service/internal/config"
	"github.com/busdash/bus-dashboard-service/internal/models"
)

// PostgreSQLStorage implements Storage using PostgreSQL.
type PostgreSQLStorage struct {
	db *sql.DB
}

// NewPostgreSQLStorage connects to PostgreSQL and ensures the schema exists.
func NewPostgreSQLStorage(cfg config.StorageConfig) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	storage := &PostgreSQLStorage{db: db}
	if err := storage.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema exists: %w", err)
	}

	return storage, nil
}

func (p *PostgreSQLStorage) ensureSchema() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS bus_records (
			id SERIAL PRIMARY KEY,
			destination TEXT NOT NULL,
			bus_number TEXT NOT NULL,
			stop_number TEXT,
			scheduled_departure_time TIMESTAMPTZ,
			predicted_departure_time TIMESTAMPTZ,
			scheduled_arrival_time TIMESTAMPTZ,
			predicted_arrival_time TIMESTAMPTZ,
			estimated_departure_minutes INT,
			is_next_bus BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_bus_records_active ON bus_records (destination, is_active, created_at DESC);
		CREATE TABLE IF NOT EXISTS fetch_status (
			id INT PRIMARY KEY DEFAULT 1,
			last_successful_run TIMESTAMPTZ,
			last_attempt TIMESTAMPTZ,
			status TEXT NOT NULL,
			error_message TEXT,
			records_written INT NOT NULL DEFAULT 0
		);`)
	return err
}

// DeactivateAll marks every active record inactive.
func (p *PostgreSQLStorage) DeactivateAll(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `UPDATE bus_records SET is_active = FALSE WHERE is_active`)
	if err != nil {
		return fmt.Errorf("failed to deactivate records: %w", err)
	}
	return nil
}

// InsertBatch writes all records inside one transaction.
func (p *PostgreSQLStorage) InsertBatch(ctx context.Context, records []models.BusRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bus_records (
			destination, bus_number, stop_number,
			scheduled_departure_time, predicted_departure_time,
			scheduled_arrival_time, predicted_arrival_time,
			estimated_departure_minutes, is_next_bus, is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err = stmt.ExecContext(ctx,
			r.Destination, r.BusNumber, r.StopNumber,
			nullTime(r.ScheduledDeparture), nullTime(r.PredictedDeparture),
			nullTime(r.ScheduledArrival), nullTime(r.PredictedArrival),
			nullInt(r.EstimatedMinutes), r.IsNextBus, r.IsActive, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert record for %s: %w", r.Destination, err)
		}
	}

	return tx.Commit()
}

// LatestActivePerDestination returns the most recently created active record
// for each destination. Ties on created_at resolve to the lowest id, which
// within one batch is the next-bus entry.
func (p *PostgreSQLStorage) LatestActivePerDestination(ctx context.Context, destinations []string) ([]models.BusRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT ON (destination)
			destination, bus_number, stop_number,
			scheduled_departure_time, predicted_departure_time,
			scheduled_arrival_time, predicted_arrival_time,
			estimated_departure_minutes, is_next_bus, is_active, created_at
		FROM bus_records
		WHERE is_active AND destination = ANY($1)
		ORDER BY destination, created_at DESC, id ASC`,
		pq.Array(destinations))
	if err != nil {
		return nil, fmt.Errorf("failed to query active records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	// Preserve the configured destination order in the response.
	byDestination := make(map[string]models.BusRecord, len(records))
	for _, r := range records {
		byDestination[r.Destination] = r
	}
	ordered := make([]models.BusRecord, 0, len(records))
	for _, d := range destinations {
		if r, ok := byDestination[d]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered, nil
}

// History returns records created at or after since, newest first.
func (p *PostgreSQLStorage) History(ctx context.Context, since time.Time) ([]models.BusRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT destination, bus_number, stop_number,
			scheduled_departure_time, predicted_departure_time,
			scheduled_arrival_time, predicted_arrival_time,
			estimated_departure_minutes, is_next_bus, is_active, created_at
		FROM bus_records
		WHERE created_at >= $1
		ORDER BY created_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// UpdateFetchStatus upserts the single fetch status row.
func (p *PostgreSQLStorage) UpdateFetchStatus(ctx context.Context, status models.FetchStatus) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO fetch_status (id, last_successful_run, last_attempt, status, error_message, records_written)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			last_successful_run = EXCLUDED.last_successful_run,
			last_attempt = EXCLUDED.last_attempt,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			records_written = EXCLUDED.records_written`,
		nullTime(status.LastSuccessfulRun), nullTime(status.LastAttempt),
		status.Status, status.ErrorMessage, status.RecordsWritten)
	if err != nil {
		return fmt.Errorf("failed to update fetch status: %w", err)
	}
	return nil
}

// GetFetchStatus returns the fetch status, or a never_run default.
func (p *PostgreSQLStorage) GetFetchStatus(ctx context.Context) (*models.FetchStatus, error) {
	var status models.FetchStatus
	var lastSuccess, lastAttempt sql.NullTime
	var errorMessage sql.NullString

	err := p.db.QueryRowContext(ctx, `
		SELECT last_successful_run, last_attempt, status, error_message, records_written
		FROM fetch_status WHERE id = 1`).
		Scan(&lastSuccess, &lastAttempt, &status.Status, &errorMessage, &status.RecordsWritten)
	if err == sql.ErrNoRows {
		return &models.FetchStatus{Status: "never_run"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fetch status: %w", err)
	}

	status.LastSuccessfulRun = lastSuccess.Time
	status.LastAttempt = lastAttempt.Time
	status.ErrorMessage = errorMessage.String
	return &status, nil
}

// Close closes the database connection.
func (p *PostgreSQLStorage) Close() error {
	return p.db.Close()
}

func scanRecords(rows *sql.Rows) ([]models.BusRecord, error) {
	var records []models.BusRecord
	for rows.Next() {
		var r models.BusRecord
		var schedDep, predDep, schedArr, predArr sql.NullTime
		var minutes sql.NullInt64
		var stop sql.NullString

		err := rows.Scan(&r.Destination, &r.BusNumber, &stop,
			&schedDep, &predDep, &schedArr, &predArr,
			&minutes, &r.IsNextBus, &r.IsActive, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		r.StopNumber = stop.String
		r.ScheduledDeparture = schedDep.Time
		r.PredictedDeparture = predDep.Time
		r.ScheduledArrival = schedArr.Time
		r.PredictedArrival = predArr.Time
		if minutes.Valid {
			m := int(minutes.Int64)
			r.EstimatedMinutes = &m
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
