package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

const driverLibsql = "libsql"

// LibsqlConfig describes how to reach the libsql/Turso database.
type LibsqlConfig struct {
	Path      string
	URL       string
	AuthToken string
}

// LibsqlStore is a durable Store and SettingsStore over libsql.
type LibsqlStore struct {
	DB *sql.DB
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS rate_windows (
		actor TEXT NOT NULL,
		kind TEXT NOT NULL,
		events TEXT NOT NULL,
		PRIMARY KEY (actor, kind)
	);`,
	`CREATE TABLE IF NOT EXISTS cooldowns (
		actor TEXT PRIMARY KEY,
		last_event INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS concurrency (
		actor TEXT PRIMARY KEY,
		inflight INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS circuits (
		actor TEXT NOT NULL,
		service TEXT NOT NULL,
		status TEXT NOT NULL,
		failure_count INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		last_failure INTEGER,
		PRIMARY KEY (actor, service)
	);`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
}

// OpenLibsql initializes a libsql-backed store and ensures its schema.
func OpenLibsql(ctx context.Context, cfg LibsqlConfig) (*LibsqlStore, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildLibsqlDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}

	store := &LibsqlStore{DB: db}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// CheckHealth verifies the database connection is alive.
func (s *LibsqlStore) CheckHealth(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	return s.DB.PingContext(ctx)
}

// Close releases database resources.
func (s *LibsqlStore) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *LibsqlStore) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}
	return nil
}

func (s *LibsqlStore) GetWindow(ctx context.Context, actor string, kind Kind) ([]time.Time, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	var payload string
	err := s.DB.QueryRowContext(ctx,
		`SELECT events FROM rate_windows WHERE actor = ? AND kind = ?`,
		actor, string(kind)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate window: %w", err)
	}

	var unix []int64
	if err := json.Unmarshal([]byte(payload), &unix); err != nil {
		return nil, fmt.Errorf("decode rate window: %w", err)
	}

	events := make([]time.Time, 0, len(unix))
	for _, ts := range unix {
		events = append(events, time.Unix(ts, 0).UTC())
	}
	return events, nil
}

func (s *LibsqlStore) PutWindow(ctx context.Context, actor string, kind Kind, events []time.Time) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if len(events) == 0 {
		_, err := s.DB.ExecContext(ctx,
			`DELETE FROM rate_windows WHERE actor = ? AND kind = ?`, actor, string(kind))
		if err != nil {
			return fmt.Errorf("clear rate window: %w", err)
		}
		return nil
	}

	unix := make([]int64, 0, len(events))
	for _, event := range events {
		unix = append(unix, event.UTC().Unix())
	}
	payload, err := json.Marshal(unix)
	if err != nil {
		return fmt.Errorf("encode rate window: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO rate_windows (actor, kind, events)
		VALUES (?, ?, ?)
		ON CONFLICT(actor, kind) DO UPDATE SET
			events = excluded.events
	`, actor, string(kind), string(payload))
	if err != nil {
		return fmt.Errorf("store rate window: %w", err)
	}

	return nil
}

func (s *LibsqlStore) GetCooldown(ctx context.Context, actor string) (time.Time, bool, error) {
	if s == nil || s.DB == nil {
		return time.Time{}, false, errors.New("store is not initialized")
	}

	var lastEvent int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT last_event FROM cooldowns WHERE actor = ?`, actor).Scan(&lastEvent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("fetch cooldown: %w", err)
	}

	return time.Unix(lastEvent, 0).UTC(), true, nil
}

func (s *LibsqlStore) PutCooldown(ctx context.Context, actor string, mark time.Time) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO cooldowns (actor, last_event)
		VALUES (?, ?)
		ON CONFLICT(actor) DO UPDATE SET
			last_event = excluded.last_event
	`, actor, mark.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store cooldown: %w", err)
	}

	return nil
}

func (s *LibsqlStore) GetConcurrency(ctx context.Context, actor string) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	var inflight int
	err := s.DB.QueryRowContext(ctx,
		`SELECT inflight FROM concurrency WHERE actor = ?`, actor).Scan(&inflight)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("fetch concurrency: %w", err)
	}

	return inflight, nil
}

func (s *LibsqlStore) PutConcurrency(ctx context.Context, actor string, count int) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if count <= 0 {
		_, err := s.DB.ExecContext(ctx, `DELETE FROM concurrency WHERE actor = ?`, actor)
		if err != nil {
			return fmt.Errorf("clear concurrency: %w", err)
		}
		return nil
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO concurrency (actor, inflight)
		VALUES (?, ?)
		ON CONFLICT(actor) DO UPDATE SET
			inflight = excluded.inflight
	`, actor, count)
	if err != nil {
		return fmt.Errorf("store concurrency: %w", err)
	}

	return nil
}

func (s *LibsqlStore) GetCircuit(ctx context.Context, actor, service string) (*CircuitRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	var (
		status       string
		failureCount int
		successCount int
		lastFailure  sql.NullInt64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT status, failure_count, success_count, last_failure
		FROM circuits
		WHERE actor = ? AND service = ?
	`, actor, service).Scan(&status, &failureCount, &successCount, &lastFailure)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch circuit: %w", err)
	}

	record := &CircuitRecord{
		Status:       CircuitStatus(status),
		FailureCount: failureCount,
		SuccessCount: successCount,
	}
	if lastFailure.Valid {
		record.LastFailure = time.Unix(lastFailure.Int64, 0).UTC()
	}
	return record, nil
}

func (s *LibsqlStore) PutCircuit(ctx context.Context, actor, service string, record *CircuitRecord) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if record == nil {
		_, err := s.DB.ExecContext(ctx,
			`DELETE FROM circuits WHERE actor = ? AND service = ?`, actor, service)
		if err != nil {
			return fmt.Errorf("clear circuit: %w", err)
		}
		return nil
	}

	var lastFailure sql.NullInt64
	if !record.LastFailure.IsZero() {
		lastFailure = sql.NullInt64{Int64: record.LastFailure.UTC().Unix(), Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO circuits (actor, service, status, failure_count, success_count, last_failure)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(actor, service) DO UPDATE SET
			status = excluded.status,
			failure_count = excluded.failure_count,
			success_count = excluded.success_count,
			last_failure = excluded.last_failure
	`, actor, service, string(record.Status), record.FailureCount, record.SuccessCount, lastFailure)
	if err != nil {
		return fmt.Errorf("store circuit: %w", err)
	}

	return nil
}

func (s *LibsqlStore) ListCircuits(ctx context.Context, actor string) (map[string]*CircuitRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT service, status, failure_count, success_count, last_failure
		FROM circuits
		WHERE actor = ?
	`, actor)
	if err != nil {
		return nil, fmt.Errorf("list circuits: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	out := make(map[string]*CircuitRecord)
	for rows.Next() {
		var (
			service      string
			status       string
			failureCount int
			successCount int
			lastFailure  sql.NullInt64
		)
		if err := rows.Scan(&service, &status, &failureCount, &successCount, &lastFailure); err != nil {
			return nil, fmt.Errorf("scan circuit: %w", err)
		}
		record := &CircuitRecord{
			Status:       CircuitStatus(status),
			FailureCount: failureCount,
			SuccessCount: successCount,
		}
		if lastFailure.Valid {
			record.LastFailure = time.Unix(lastFailure.Int64, 0).UTC()
		}
		out[service] = record
	}

	return out, rows.Err()
}

func (s *LibsqlStore) ResetActor(ctx context.Context, actor string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	statements := []string{
		`DELETE FROM rate_windows WHERE actor = ?`,
		`DELETE FROM cooldowns WHERE actor = ?`,
		`DELETE FROM concurrency WHERE actor = ?`,
		`DELETE FROM circuits WHERE actor = ?`,
	}
	for _, stmt := range statements {
		if _, err := s.DB.ExecContext(ctx, stmt, actor); err != nil {
			return fmt.Errorf("reset actor state: %w", err)
		}
	}

	return nil
}

func (s *LibsqlStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.DB == nil {
		return "", false, errors.New("store is not initialized")
	}

	var value string
	err := s.DB.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("fetch setting: %w", err)
	}

	return value, true, nil
}

func (s *LibsqlStore) SetSetting(ctx context.Context, key, value string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("store setting: %w", err)
	}

	return nil
}

func buildLibsqlDSN(cfg LibsqlConfig) (string, error) {
	if dsn := strings.TrimSpace(cfg.URL); dsn != "" {
		return addAuthToken(dsn, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("store path or url is required")
	}

	if path == ":memory:" {
		return path, nil
	}

	if strings.HasPrefix(path, "file:") || strings.HasPrefix(path, "libsql:") {
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create store directory: %w", err)
	}
	return "file:" + filepath.Clean(path), nil
}

func addAuthToken(dsn string, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}

	query := parsed.Query()
	query.Set("authToken", strings.TrimSpace(token))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
