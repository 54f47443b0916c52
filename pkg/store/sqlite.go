// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/kaiba/pkg/core"

	_ "modernc.org/sqlite"
)

const (
	reiTable   = "reis"
	stateTable = "rei_states"
)

// SQLiteStore persists Reis and states in SQLite. It implements both repositories.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSQLiteSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func ensureSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			manifest_json TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`, reiTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			rei_id TEXT PRIMARY KEY,
			energy_level INTEGER NOT NULL CHECK (energy_level BETWEEN %d AND %d),
			token_budget INTEGER NOT NULL,
			tokens_used INTEGER NOT NULL,
			mood TEXT NOT NULL,
			energy_regen_per_hour INTEGER NOT NULL,
			last_active_at INTEGER,
			last_digest_at INTEGER,
			last_learn_at INTEGER,
			updated_at INTEGER NOT NULL
		);`, stateTable, core.MinEnergy, core.MaxEnergy),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*core.Rei, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, name, role, avatar_url, manifest_json, created_at, updated_at FROM %s ORDER BY created_at, name", reiTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*core.Rei
	for rows.Next() {
		r, err := scanRei(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*core.Rei, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, name, role, avatar_url, manifest_json, created_at, updated_at FROM %s WHERE id = ?", reiTable), id)
	r, err := scanRei(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rei %s: %w", id, ErrNotFound)
	}
	return r, err
}

// Save upserts rei and creates its default state on first save.
func (s *SQLiteStore) Save(ctx context.Context, rei *core.Rei) (*core.Rei, error) {
	if rei == nil {
		return nil, fmt.Errorf("rei is nil")
	}
	id := rei.ID
	if id == "" {
		id = uuid.NewString()
	}
	manifest, err := json.Marshal(rei.Manifest)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	created := rei.CreatedAt
	if created.IsZero() {
		created = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, name, role, avatar_url, manifest_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			avatar_url = excluded.avatar_url,
			manifest_json = excluded.manifest_json,
			updated_at = excluded.updated_at`, reiTable),
		id, rei.Name, rei.Role, rei.Avatar, string(manifest), created.UnixMilli(), now.UnixMilli())
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	def := core.NewResourceState(id)
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s
		(rei_id, energy_level, token_budget, tokens_used, mood, energy_regen_per_hour, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rei_id) DO NOTHING`, stateTable),
		id, def.EnergyLevel, def.TokenBudget, def.TokensUsed, def.Mood, def.EnergyRegenPerHour, now.UnixMilli())
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

const stateColumns = "rei_id, energy_level, token_budget, tokens_used, mood, energy_regen_per_hour, last_active_at, last_digest_at, last_learn_at, updated_at"

func (s *SQLiteStore) FindState(ctx context.Context, reiID string) (*core.ResourceState, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE rei_id = ?", stateColumns, stateTable), reiID)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("state of rei %s: %w", reiID, ErrNotFound)
	}
	return st, err
}

func (s *SQLiteStore) SaveState(ctx context.Context, state *core.ResourceState) error {
	if state == nil || state.ReiID == "" {
		return fmt.Errorf("state rei id is required")
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rei_id) DO UPDATE SET
			energy_level = excluded.energy_level,
			token_budget = excluded.token_budget,
			tokens_used = excluded.tokens_used,
			mood = excluded.mood,
			energy_regen_per_hour = excluded.energy_regen_per_hour,
			last_active_at = excluded.last_active_at,
			last_digest_at = excluded.last_digest_at,
			last_learn_at = excluded.last_learn_at,
			updated_at = excluded.updated_at`, stateTable, stateColumns),
		state.ReiID, core.ClampEnergy(state.EnergyLevel), state.TokenBudget, state.TokensUsed, state.Mood,
		state.EnergyRegenPerHour, nullMillis(state.LastActiveAt), nullMillis(state.LastDigestAt),
		nullMillis(state.LastLearnAt), time.Now().UTC().UnixMilli())
	return err
}

// clampedEnergy is the SQL expression adding a delta to energy_level within bounds.
var clampedEnergy = fmt.Sprintf("MAX(%d, MIN(%d, energy_level + ?))", core.MinEnergy, core.MaxEnergy)

func (s *SQLiteStore) RegenerateAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET energy_level = MIN(%d, energy_level + energy_regen_per_hour), updated_at = ? WHERE energy_regen_per_hour > 0",
		stateTable, core.MaxEnergy), time.Now().UTC().UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) ApplyEnergyDelta(ctx context.Context, reiID string, delta int) (EnergyChange, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return EnergyChange{}, err
	}
	var change EnergyChange
	err = tx.QueryRowContext(ctx, fmt.Sprintf("SELECT energy_level FROM %s WHERE rei_id = ?", stateTable), reiID).
		Scan(&change.Previous)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return EnergyChange{}, fmt.Errorf("state of rei %s: %w", reiID, ErrNotFound)
	}
	if err != nil {
		_ = tx.Rollback()
		return EnergyChange{}, err
	}
	err = tx.QueryRowContext(ctx, fmt.Sprintf(
		"UPDATE %s SET energy_level = %s, updated_at = ? WHERE rei_id = ? RETURNING energy_level", stateTable, clampedEnergy),
		delta, time.Now().UTC().UnixMilli(), reiID).Scan(&change.Current)
	if err != nil {
		_ = tx.Rollback()
		return EnergyChange{}, err
	}
	return change, tx.Commit()
}

func (s *SQLiteStore) MarkLearned(ctx context.Context, reiID string, energyDelta int, at time.Time) error {
	return s.mark(ctx, reiID, "last_learn_at", energyDelta, at)
}

func (s *SQLiteStore) MarkDigested(ctx context.Context, reiID string, energyDelta int, at time.Time) error {
	return s.mark(ctx, reiID, "last_digest_at", energyDelta, at)
}

func (s *SQLiteStore) mark(ctx context.Context, reiID, column string, energyDelta int, at time.Time) error {
	ms := at.UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET energy_level = %s, last_active_at = ?, %s = ?, updated_at = ? WHERE rei_id = ?",
		stateTable, clampedEnergy, column),
		energyDelta, ms, ms, time.Now().UTC().UnixMilli(), reiID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("state of rei %s: %w", reiID, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRei(s scanner) (*core.Rei, error) {
	var (
		r                  core.Rei
		manifest           string
		created, updatedAt int64
	)
	if err := s.Scan(&r.ID, &r.Name, &r.Role, &r.Avatar, &manifest, &created, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(manifest), &r.Manifest); err != nil {
		return nil, fmt.Errorf("decode manifest of rei %s: %w", r.ID, err)
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	r.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &r, nil
}

func scanState(s scanner) (*core.ResourceState, error) {
	var (
		st                      core.ResourceState
		active, digest, learned sql.NullInt64
		updated                 int64
	)
	if err := s.Scan(&st.ReiID, &st.EnergyLevel, &st.TokenBudget, &st.TokensUsed, &st.Mood,
		&st.EnergyRegenPerHour, &active, &digest, &learned, &updated); err != nil {
		return nil, err
	}
	st.LastActiveAt = fromMillis(active)
	st.LastDigestAt = fromMillis(digest)
	st.LastLearnAt = fromMillis(learned)
	st.UpdatedAt = time.UnixMilli(updated).UTC()
	return &st, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
