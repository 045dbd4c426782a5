package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists command history across restarts.
type Repository interface {
	Create(ctx context.Context, cmd *Command) error
	Update(ctx context.Context, cmd *Command) error
	GetByID(ctx context.Context, id string) (*Command, error)
	ListRecent(ctx context.Context, deviceID string, limit int) ([]*Command, error)
}

// SQLiteRepository stores commands in the command_history table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a command history repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts the command at enqueue time.
func (r *SQLiteRepository) Create(ctx context.Context, cmd *Command) error {
	paramsJSON, err := marshalParams(cmd.Params)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO command_history
		   (id, device_id, type, priority, status, attempts, output, error, params, enqueued_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cmd.ID, cmd.DeviceID, string(cmd.Type), cmd.Priority, string(cmd.Status),
		cmd.Attempts, nullable(cmd.Output), nullable(cmd.Error), paramsJSON,
		cmd.CreatedAt.UTC().Format(time.RFC3339), nullableTime(cmd.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}
	return nil
}

// Update rewrites the command's mutable fields, called when it reaches
// a terminal state.
func (r *SQLiteRepository) Update(ctx context.Context, cmd *Command) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE command_history
		 SET status = ?, attempts = ?, output = ?, error = ?, completed_at = ?
		 WHERE id = ?`,
		string(cmd.Status), cmd.Attempts, nullable(cmd.Output), nullable(cmd.Error),
		nullableTime(cmd.CompletedAt), cmd.ID,
	)
	if err != nil {
		return fmt.Errorf("updating command: %w", err)
	}
	return nil
}

// GetByID returns one command or ErrNotFound.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Command, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, device_id, type, priority, status, attempts, output, error, params, enqueued_at, completed_at
		 FROM command_history WHERE id = ?`, id)

	cmd, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying command %s: %w", id, err)
	}
	return cmd, nil
}

// ListRecent returns a device's commands, most recently enqueued first.
// limit <= 0 defaults to 20, capped at 200.
func (r *SQLiteRepository) ListRecent(ctx context.Context, deviceID string, limit int) ([]*Command, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, type, priority, status, attempts, output, error, params, enqueued_at, completed_at
		 FROM command_history WHERE device_id = ?
		 ORDER BY enqueued_at DESC LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying command history: %w", err)
	}
	defer rows.Close()

	commands := []*Command{}
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		commands = append(commands, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command history: %w", err)
	}

	return commands, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCommand(s scanner) (*Command, error) {
	var cmd Command
	var cmdType, status, enqueuedAt string
	var output, errText, paramsJSON, completedAt sql.NullString

	if err := s.Scan(&cmd.ID, &cmd.DeviceID, &cmdType, &cmd.Priority, &status,
		&cmd.Attempts, &output, &errText, &paramsJSON, &enqueuedAt, &completedAt); err != nil {
		return nil, err
	}

	cmd.Type = Type(cmdType)
	cmd.Status = Status(status)
	if output.Valid {
		cmd.Output = output.String
	}
	if errText.Valid {
		cmd.Error = errText.String
	}
	if paramsJSON.Valid && paramsJSON.String != "" {
		var params map[string]any
		if json.Unmarshal([]byte(paramsJSON.String), &params) == nil {
			cmd.Params = params
		}
	}

	t, err := time.Parse(time.RFC3339, enqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing enqueued_at %q: %w", enqueuedAt, err)
	}
	cmd.CreatedAt = t

	if completedAt.Valid && completedAt.String != "" {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at %q: %w", completedAt.String, err)
		}
		cmd.CompletedAt = &t
	}

	return &cmd, nil
}

func marshalParams(params map[string]any) (any, error) {
	if params == nil {
		return nil, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshalling command params: %w", err)
	}
	return string(b), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
