package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Repository persists alerts for history that survives restart.
type Repository interface {
	Save(ctx context.Context, a Alert) error
	List(ctx context.Context, level Level, deviceID string, limit int) ([]Alert, error)
}

// SQLiteRepository stores alerts in the alert_history table. It also
// implements Handler so it can be registered as a pipeline sink.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates an alert history repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Name identifies the handler in pipeline error logs.
func (*SQLiteRepository) Name() string { return "sqlite" }

// Handle persists the alert, satisfying the pipeline Handler interface.
func (r *SQLiteRepository) Handle(ctx context.Context, a Alert) error {
	return r.Save(ctx, a)
}

// Save inserts one alert row.
func (r *SQLiteRepository) Save(ctx context.Context, a Alert) error {
	var detailsJSON *string
	if a.Details != nil {
		b, err := json.Marshal(a.Details)
		if err != nil {
			return fmt.Errorf("marshalling alert details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	var deviceID any
	if a.DeviceID != "" {
		deviceID = a.DeviceID
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alert_history (id, level, title, message, device_id, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Level), a.Title, a.Message, deviceID, detailsJSON,
		a.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// List returns persisted alerts, most recent first. limit <= 0
// defaults to 50, capped at 500.
func (r *SQLiteRepository) List(ctx context.Context, level Level, deviceID string, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	var conditions []string
	var args []any
	if level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, string(level))
	}
	if deviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, deviceID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(
		"SELECT id, level, title, message, device_id, details, created_at FROM alert_history %s ORDER BY created_at DESC LIMIT ?",
		where,
	)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		var a Alert
		var level string
		var devID, detailsJSON sql.NullString
		var createdAt string

		if err := rows.Scan(&a.ID, &level, &a.Title, &a.Message, &devID, &detailsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}

		a.Level = Level(level)
		if devID.Valid {
			a.DeviceID = devID.String
		}
		if detailsJSON.Valid && detailsJSON.String != "" {
			var details map[string]any
			if json.Unmarshal([]byte(detailsJSON.String), &details) == nil {
				a.Details = details
			}
		}

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing alert timestamp %q: %w", createdAt, err)
		}
		a.Timestamp = t

		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}

	return alerts, nil
}
