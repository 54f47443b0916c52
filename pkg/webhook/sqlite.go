// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const (
	webhookTable  = "rei_webhooks"
	deliveryTable = "webhook_deliveries"
)

// SQLiteRepository persists webhooks and deliveries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed repository and ensures schema.
func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSQLiteSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteRepository{db: db}, nil
}

func ensureSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			rei_id TEXT NOT NULL,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			events_json TEXT NOT NULL,
			headers_json TEXT NOT NULL,
			max_retries INTEGER NOT NULL,
			timeout_ms INTEGER NOT NULL,
			payload_format TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`, webhookTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_rei ON %s(rei_id);`, webhookTable, webhookTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			payload_json BLOB NOT NULL,
			status TEXT NOT NULL,
			status_code INTEGER,
			response_body TEXT,
			attempts INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		);`, deliveryTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_webhook ON %s(webhook_id, created_at);`, deliveryTable, deliveryTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status);`, deliveryTable, deliveryTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const webhookColumns = "id, rei_id, name, url, secret, enabled, events_json, headers_json, max_retries, timeout_ms, payload_format, created_at, updated_at"

func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*Webhook, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", webhookColumns, webhookTable), id)
	wh, err := scanWebhook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return wh, err
}

func (r *SQLiteRepository) FindByRei(ctx context.Context, reiID string) ([]*Webhook, error) {
	return r.queryWebhooks(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE rei_id = ? ORDER BY created_at DESC, id", webhookColumns, webhookTable), reiID)
}

func (r *SQLiteRepository) FindByReiAndEvent(ctx context.Context, reiID string, event EventType) ([]*Webhook, error) {
	candidates, err := r.queryWebhooks(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE rei_id = ? AND enabled = 1 ORDER BY created_at DESC, id", webhookColumns, webhookTable), reiID)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, wh := range candidates {
		if wh.ShouldReceive(event) {
			out = append(out, wh)
		}
	}
	return out, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, wh *Webhook) (*Webhook, error) {
	if wh == nil || wh.ID == "" {
		return nil, fmt.Errorf("webhook id is required")
	}
	events, err := json.Marshal(wh.Events)
	if err != nil {
		return nil, err
	}
	headers := wh.Headers
	if headers == nil {
		headers = map[string]any{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	created := wh.CreatedAt
	if created.IsZero() {
		created = now
	}
	var secret sql.NullString
	if wh.Secret != nil {
		secret = sql.NullString{String: *wh.Secret, Valid: true}
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			secret = excluded.secret,
			enabled = excluded.enabled,
			events_json = excluded.events_json,
			headers_json = excluded.headers_json,
			max_retries = excluded.max_retries,
			timeout_ms = excluded.timeout_ms,
			payload_format = excluded.payload_format,
			updated_at = excluded.updated_at`, webhookTable, webhookColumns),
		wh.ID, wh.ReiID, wh.Name, wh.URL, secret, boolToInt(wh.Enabled), string(events), string(headersJSON),
		wh.MaxRetries, wh.TimeoutMs, wh.PayloadFormat, created.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, wh.ID)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", webhookTable), id)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE webhook_id = ?", deliveryTable), id); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET enabled = ?, updated_at = ? WHERE id = ?", webhookTable),
		boolToInt(enabled), time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (r *SQLiteRepository) SaveDelivery(ctx context.Context, d *Delivery) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("delivery id is required")
	}
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return err
	}
	var (
		code      sql.NullInt64
		body      sql.NullString
		completed sql.NullInt64
	)
	if d.StatusCode != nil {
		code = sql.NullInt64{Int64: int64(*d.StatusCode), Valid: true}
	}
	if d.ResponseBody != nil {
		body = sql.NullString{String: *d.ResponseBody, Valid: true}
	}
	if d.CompletedAt != nil {
		completed = sql.NullInt64{Int64: d.CompletedAt.UnixMilli(), Valid: true}
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s
		(id, webhook_id, payload_json, status, status_code, response_body, attempts, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			status_code = excluded.status_code,
			response_body = excluded.response_body,
			attempts = excluded.attempts,
			completed_at = excluded.completed_at`, deliveryTable),
		d.ID, d.WebhookID, payload, string(d.Status), code, body, d.Attempts, d.CreatedAt.UnixMilli(), completed)
	return err
}

const deliveryColumns = "id, webhook_id, payload_json, status, status_code, response_body, attempts, created_at, completed_at"

func (r *SQLiteRepository) FindDeliveries(ctx context.Context, webhookID string, limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = DefaultDeliveryListLimit
	}
	return r.queryDeliveries(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE webhook_id = ? ORDER BY created_at DESC, id LIMIT ?", deliveryColumns, deliveryTable),
		webhookID, limit)
}

func (r *SQLiteRepository) FindPendingDeliveries(ctx context.Context) ([]*Delivery, error) {
	return r.queryDeliveries(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE status IN (?, ?) ORDER BY created_at ASC, id", deliveryColumns, deliveryTable),
		string(StatusPending), string(StatusRetrying))
}

func (r *SQLiteRepository) queryWebhooks(ctx context.Context, query string, args ...any) ([]*Webhook, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) queryDeliveries(ctx context.Context, query string, args ...any) ([]*Delivery, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWebhook(s scanner) (*Webhook, error) {
	var (
		wh                  Webhook
		secret              sql.NullString
		enabled             int
		events, headers     string
		createdAt, updateAt int64
	)
	if err := s.Scan(&wh.ID, &wh.ReiID, &wh.Name, &wh.URL, &secret, &enabled, &events, &headers,
		&wh.MaxRetries, &wh.TimeoutMs, &wh.PayloadFormat, &createdAt, &updateAt); err != nil {
		return nil, err
	}
	if secret.Valid {
		v := secret.String
		wh.Secret = &v
	}
	wh.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(events), &wh.Events); err != nil {
		return nil, fmt.Errorf("decode events of webhook %s: %w", wh.ID, err)
	}
	if err := json.Unmarshal([]byte(headers), &wh.Headers); err != nil {
		return nil, fmt.Errorf("decode headers of webhook %s: %w", wh.ID, err)
	}
	wh.CreatedAt = time.UnixMilli(createdAt).UTC()
	wh.UpdatedAt = time.UnixMilli(updateAt).UTC()
	return &wh, nil
}

func scanDelivery(s scanner) (*Delivery, error) {
	var (
		d         Delivery
		payload   []byte
		status    string
		code      sql.NullInt64
		body      sql.NullString
		createdAt int64
		completed sql.NullInt64
	)
	if err := s.Scan(&d.ID, &d.WebhookID, &payload, &status, &code, &body, &d.Attempts, &createdAt, &completed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &d.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of delivery %s: %w", d.ID, err)
	}
	d.Status = DeliveryStatus(status)
	if code.Valid {
		v := int(code.Int64)
		d.StatusCode = &v
	}
	if body.Valid {
		v := body.String
		d.ResponseBody = &v
	}
	d.CreatedAt = time.UnixMilli(createdAt).UTC()
	if completed.Valid {
		t := time.UnixMilli(completed.Int64).UTC()
		d.CompletedAt = &t
	}
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
