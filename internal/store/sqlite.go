package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/flowserve/pkg/model"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t := parseTime(*s)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Deployment CRUD ---

const deploymentColumns = `id, name, flow_name, schedule, is_schedule_active, parameters,
	description, tags, created_at, updated_at`

func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *model.Deployment) error {
	s.logger.Debug("sql", "op", "insert", "table", "deployments", "id", d.ID)

	scheduleJSON, err := json.Marshal(d.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	paramsJSON, err := marshalParams(d.Parameters)
	if err != nil {
		return err
	}
	tagsJSON, err := marshalTags(d.Tags)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deployments (`+deploymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.FlowName, string(scheduleJSON), boolToInt(d.IsScheduleActive),
		paramsJSON, d.Description, tagsJSON,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	return err
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	s.logger.Debug("sql", "op", "select", "table", "deployments", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, id)
	return scanDeployment(row)
}

func (s *SQLiteStore) GetDeploymentByName(ctx context.Context, flowName, name string) (*model.Deployment, error) {
	s.logger.Debug("sql", "op", "select_by_name", "table", "deployments", "flow_name", flowName, "name", name)

	row := s.db.QueryRowContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE flow_name = ? AND name = ?`, flowName, name)
	return scanDeployment(row)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, opts model.ListOptions) ([]*model.Deployment, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "deployments", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	where := ""
	var args []any
	if opts.FlowName != "" {
		where = " WHERE flow_name = ?"
		args = append(args, opts.FlowName)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deployments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments`+where+` ORDER BY flow_name, name LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	deps, err := scanDeployments(rows)
	return deps, total, err
}

// ListScheduledDeployments returns deployments whose schedule is set and active.
func (s *SQLiteStore) ListScheduledDeployments(ctx context.Context) ([]*model.Deployment, error) {
	s.logger.Debug("sql", "op", "list_scheduled", "table", "deployments")

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deploymentColumns+` FROM deployments
		 WHERE is_schedule_active = 1 AND schedule != '{}' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDeployments(rows)
}

func (s *SQLiteStore) UpdateDeployment(ctx context.Context, d *model.Deployment) error {
	s.logger.Debug("sql", "op", "update", "table", "deployments", "id", d.ID)

	scheduleJSON, err := json.Marshal(d.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	paramsJSON, err := marshalParams(d.Parameters)
	if err != nil {
		return err
	}
	tagsJSON, err := marshalTags(d.Tags)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET schedule = ?, is_schedule_active = ?, parameters = ?,
		 description = ?, tags = ?, updated_at = ? WHERE id = ?`,
		string(scheduleJSON), boolToInt(d.IsScheduleActive), paramsJSON,
		d.Description, tagsJSON, formatTime(d.UpdatedAt), d.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("deployment %s not found", d.ID)
	}
	return nil
}

// --- Flow run operations ---

const flowRunColumns = `id, name, deployment_id, flow_name, state_type, state_name, state_message,
	state_timestamp, parameters, runner_name, auto_scheduled, expected_start_time,
	start_time, end_time, created_at, updated_at`

func (s *SQLiteStore) insertFlowRun(ctx context.Context, verb string, fr *model.FlowRun) (sql.Result, error) {
	paramsJSON, err := marshalParams(fr.Parameters)
	if err != nil {
		return nil, err
	}
	return s.db.ExecContext(ctx,
		verb+` INTO flow_runs (`+flowRunColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fr.ID, fr.Name, fr.DeploymentID, fr.FlowName,
		string(fr.State.Type), fr.State.Name, fr.State.Message, formatTime(fr.State.Timestamp),
		paramsJSON, fr.RunnerName, boolToInt(fr.AutoScheduled), formatTime(fr.ExpectedStartTime),
		formatTimePtr(fr.StartTime), formatTimePtr(fr.EndTime),
		formatTime(fr.CreatedAt), formatTime(fr.UpdatedAt),
	)
}

func (s *SQLiteStore) CreateFlowRun(ctx context.Context, fr *model.FlowRun) error {
	s.logger.Debug("sql", "op", "insert", "table", "flow_runs", "id", fr.ID)
	_, err := s.insertFlowRun(ctx, "INSERT", fr)
	return err
}

func (s *SQLiteStore) CreateScheduledFlowRun(ctx context.Context, fr *model.FlowRun) (bool, error) {
	s.logger.Debug("sql", "op", "insert_scheduled", "table", "flow_runs",
		"deployment_id", fr.DeploymentID, "expected_start_time", fr.ExpectedStartTime)

	fr.AutoScheduled = true
	result, err := s.insertFlowRun(ctx, "INSERT OR IGNORE", fr)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) GetFlowRun(ctx context.Context, id string) (*model.FlowRun, error) {
	s.logger.Debug("sql", "op", "select", "table", "flow_runs", "id", id)

	row := s.db.QueryRowContext(ctx, `SELECT `+flowRunColumns+` FROM flow_runs WHERE id = ?`, id)
	return scanFlowRun(row)
}

func (s *SQLiteStore) ListFlowRuns(ctx context.Context, filter model.FlowRunFilter) ([]*model.FlowRun, error) {
	s.logger.Debug("sql", "op", "list", "table", "flow_runs",
		"deployments", len(filter.DeploymentIDs), "states", filter.States)

	var conds []string
	var args []any
	if len(filter.IDs) > 0 {
		conds = append(conds, "id IN ("+placeholders(len(filter.IDs))+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if len(filter.DeploymentIDs) > 0 {
		conds = append(conds, "deployment_id IN ("+placeholders(len(filter.DeploymentIDs))+")")
		for _, id := range filter.DeploymentIDs {
			args = append(args, id)
		}
	}
	if len(filter.States) > 0 {
		conds = append(conds, "state_type IN ("+placeholders(len(filter.States))+")")
		for _, st := range filter.States {
			args = append(args, string(st))
		}
	}
	if filter.ScheduledBefore != nil {
		conds = append(conds, "expected_start_time <= ?")
		args = append(args, formatTime(*filter.ScheduledBefore))
	}

	query := `SELECT ` + flowRunColumns + ` FROM flow_runs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY expected_start_time, created_at"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.FlowRun
	for rows.Next() {
		fr, err := scanFlowRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, fr)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) UpdateFlowRunState(ctx context.Context, fr *model.FlowRun, from model.StateType) (bool, error) {
	s.logger.Debug("sql", "op", "update_state", "table", "flow_runs", "id", fr.ID,
		"from", from, "to", fr.State.Type)

	result, err := s.db.ExecContext(ctx,
		`UPDATE flow_runs SET state_type = ?, state_name = ?, state_message = ?, state_timestamp = ?,
		 runner_name = ?, start_time = ?, end_time = ?, updated_at = ?
		 WHERE id = ? AND state_type = ?`,
		string(fr.State.Type), fr.State.Name, fr.State.Message, formatTime(fr.State.Timestamp),
		fr.RunnerName, formatTimePtr(fr.StartTime), formatTimePtr(fr.EndTime), formatTime(fr.UpdatedAt),
		fr.ID, string(from),
	)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// LatestScheduledTime returns the expected start of the newest auto-scheduled run, or nil.
func (s *SQLiteStore) LatestScheduledTime(ctx context.Context, deploymentID string) (*time.Time, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(expected_start_time) FROM flow_runs WHERE deployment_id = ? AND auto_scheduled = 1`,
		deploymentID,
	).Scan(&latest)
	if err != nil {
		return nil, err
	}
	if !latest.Valid {
		return nil, nil
	}
	t := parseTime(latest.String)
	return &t, nil
}

// DeleteScheduledFlowRuns removes auto-scheduled runs that are still SCHEDULED and never started.
func (s *SQLiteStore) DeleteScheduledFlowRuns(ctx context.Context, deploymentID string) (int64, error) {
	s.logger.Debug("sql", "op", "delete_scheduled", "table", "flow_runs", "deployment_id", deploymentID)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM flow_runs WHERE deployment_id = ? AND auto_scheduled = 1
		 AND state_type = 'SCHEDULED' AND start_time IS NULL`, deploymentID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- Variable operations ---

// PutVariable inserts v or replaces its value and tags, keeping created_at.
func (s *SQLiteStore) PutVariable(ctx context.Context, v *model.Variable) error {
	s.logger.Debug("sql", "op", "upsert", "table", "variables", "name", v.Name)

	valueJSON, err := json.Marshal(v.Value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	tagsJSON, err := marshalTags(v.Tags)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO variables (name, value, tags, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, tags = excluded.tags,
		 updated_at = excluded.updated_at`,
		v.Name, string(valueJSON), tagsJSON, formatTime(v.CreatedAt), formatTime(v.UpdatedAt),
	)
	return err
}

func (s *SQLiteStore) GetVariable(ctx context.Context, name string) (*model.Variable, error) {
	s.logger.Debug("sql", "op", "select", "table", "variables", "name", name)

	var v model.Variable
	var valueJSON, tagsJSON, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, value, tags, created_at, updated_at FROM variables WHERE name = ?`, name,
	).Scan(&v.Name, &valueJSON, &tagsJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(valueJSON), &v.Value); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	json.Unmarshal([]byte(tagsJSON), &v.Tags)
	v.CreatedAt = parseTime(createdAt)
	v.UpdatedAt = parseTime(updatedAt)
	return &v, nil
}

func (s *SQLiteStore) DeleteVariable(ctx context.Context, name string) (bool, error) {
	s.logger.Debug("sql", "op", "delete", "table", "variables", "name", name)

	result, err := s.db.ExecContext(ctx, `DELETE FROM variables WHERE name = ?`, name)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row scanner) (*model.Deployment, error) {
	var d model.Deployment
	var scheduleJSON, paramsJSON, tagsJSON, createdAt, updatedAt string
	var active int

	err := row.Scan(&d.ID, &d.Name, &d.FlowName, &scheduleJSON, &active, &paramsJSON,
		&d.Description, &tagsJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(scheduleJSON), &d.Schedule); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}
	json.Unmarshal([]byte(paramsJSON), &d.Parameters)
	json.Unmarshal([]byte(tagsJSON), &d.Tags)
	d.IsScheduleActive = active != 0
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

func scanDeployments(rows *sql.Rows) ([]*model.Deployment, error) {
	var deps []*model.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

func scanFlowRun(row scanner) (*model.FlowRun, error) {
	var fr model.FlowRun
	var stateType, stateTS, paramsJSON, expected, createdAt, updatedAt string
	var startTime, endTime *string
	var auto int

	err := row.Scan(
		&fr.ID, &fr.Name, &fr.DeploymentID, &fr.FlowName,
		&stateType, &fr.State.Name, &fr.State.Message, &stateTS,
		&paramsJSON, &fr.RunnerName, &auto, &expected,
		&startTime, &endTime, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fr.State.Type = model.StateType(stateType)
	fr.State.Timestamp = parseTime(stateTS)
	json.Unmarshal([]byte(paramsJSON), &fr.Parameters)
	fr.AutoScheduled = auto != 0
	fr.ExpectedStartTime = parseTime(expected)
	fr.StartTime = parseTimePtr(startTime)
	fr.EndTime = parseTimePtr(endTime)
	fr.CreatedAt = parseTime(createdAt)
	fr.UpdatedAt = parseTime(updatedAt)
	return &fr, nil
}

func marshalParams(p map[string]any) (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal parameters: %w", err)
	}
	return string(b), nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		return "[]", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(b), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
