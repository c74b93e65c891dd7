package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tibber-pricing/internal/sensor"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	ensureSchemaSQL = `CREATE TABLE IF NOT EXISTS sensor_states (
        entry       TEXT        NOT NULL,
        sensor_key  TEXT        NOT NULL,
        state       TEXT,
        available   BOOLEAN     NOT NULL,
        attributes  JSONB,
        observed_at TIMESTAMPTZ NOT NULL,
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (entry, sensor_key)
    );`

	upsertSensorStateSQL = `INSERT INTO sensor_states (
        entry,
        sensor_key,
        state,
        available,
        attributes,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (entry, sensor_key) DO UPDATE
    SET
        state       = EXCLUDED.state,
        available   = EXCLUDED.available,
        attributes  = EXCLUDED.attributes,
        observed_at = EXCLUDED.observed_at,
        updated_at  = now();`

	listSensorStatesSQL = `SELECT
        entry,
        sensor_key,
        state,
        available,
        attributes,
        observed_at,
        updated_at
    FROM sensor_states
    WHERE ($1 = '' OR entry = $1)
    ORDER BY entry, sensor_key;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// StateStore receives published sensor states.
type StateStore interface {
	UpsertReadings(ctx context.Context, readings []sensor.Reading) error
	ListSensorStates(ctx context.Context, entry string) ([]SensorState, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists the latest sensor states in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the sensor_states table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, ensureSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertReadings writes all readings of a publish round in one batch.
func (s *Store) UpsertReadings(ctx context.Context, readings []sensor.Reading) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range readings {
		args, err := upsertArgs(r)
		if err != nil {
			return err
		}
		batch.Queue(upsertSensorStateSQL, args...)
	}

	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert sensor states: %w", err)
	}
	return nil
}

func upsertArgs(r sensor.Reading) ([]any, error) {
	var state any
	if r.Available {
		state = r.State
	}

	var attrs any
	if r.Attributes != nil {
		raw, err := json.Marshal(r.Attributes)
		if err != nil {
			return nil, fmt.Errorf("marshal attributes of %s: %w", r.UniqueID, err)
		}
		attrs = raw
	}

	return []any{r.Entry, r.Key, state, r.Available, attrs, r.At}, nil
}

// ListSensorStates lists stored states, optionally filtered by entry.
func (s *Store) ListSensorStates(ctx context.Context, entry string) ([]SensorState, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSensorStatesSQL, entry)
	if queryErr != nil {
		return nil, fmt.Errorf("list sensor states: %w", queryErr)
	}
	defer rows.Close()

	states := make([]SensorState, 0, len(sensor.Descriptions))
	for rows.Next() {
		state, scanErr := scanSensorState(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		states = append(states, state)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return states, nil
}

func scanSensorState(rows pgx.Rows) (SensorState, error) {
	var (
		st    SensorState
		state sql.NullString
		attrs []byte
	)
	if err := rows.Scan(
		&st.Entry,
		&st.SensorKey,
		&state,
		&st.Available,
		&attrs,
		&st.ObservedAt,
		&st.UpdatedAt,
	); err != nil {
		return SensorState{}, err
	}
	if state.Valid {
		v := state.String
		st.State = &v
	}
	if len(attrs) > 0 {
		st.Attributes = json.RawMessage(attrs)
	}
	return st, nil
}

var (
	_ StateStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
