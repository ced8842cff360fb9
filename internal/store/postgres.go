package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gasroute/internal/model"
)

// Postgres stores route snapshots as JSONB documents. Planning output is read
// back whole on every access, so a document per route beats a wide relational
// split here; webhook deliveries get real columns because the worker queries
// them by due time.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// MigrateDir applies every .sql file in dir in lexical order. Statements are
// written to be re-runnable (CREATE TABLE IF NOT EXISTS), so there is no
// version bookkeeping.
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		sqlBytes, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) SaveRoute(ctx context.Context, detail RouteDetail) error {
	doc, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO routes (id, status, scheduled_date, detail)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, detail = EXCLUDED.detail, updated_at = now()`,
		detail.Route.ID, detail.Route.Status, detail.Route.ScheduledDate, doc)
	return err
}

func (p *Postgres) GetRoute(ctx context.Context, routeID string) (RouteDetail, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT detail FROM routes WHERE id = $1`, routeID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return RouteDetail{}, ErrNotFound
	}
	if err != nil {
		return RouteDetail{}, err
	}
	var detail RouteDetail
	if err := json.Unmarshal(doc, &detail); err != nil {
		return RouteDetail{}, fmt.Errorf("decode route %s: %w", routeID, err)
	}
	return detail, nil
}

func (p *Postgres) ListRoutes(ctx context.Context, status, cursor string, limit int) ([]model.Route, string, error) {
	if limit <= 0 {
		limit = 100
	}
	args := []any{}
	q := `SELECT detail FROM routes`
	var where []string
	if status != "" {
		args = append(args, status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if cursor != "" {
		var after time.Time
		err := p.db.QueryRowContext(ctx, `SELECT created_at FROM routes WHERE id = $1`, cursor).Scan(&after)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, "", err
		}
		if err == nil {
			args = append(args, after)
			where = append(where, fmt.Sprintf("created_at > $%d", len(args)))
		}
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit+1)
	q += fmt.Sprintf(" ORDER BY created_at, id LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := []model.Route{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, "", err
		}
		var detail RouteDetail
		if err := json.Unmarshal(doc, &detail); err != nil {
			return nil, "", err
		}
		out = append(out, detail.Route)
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[len(out)-1].ID
	}
	return out, next, rows.Err()
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	sub := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	events, err := json.Marshal(req.Events)
	if err != nil {
		return model.Subscription{}, err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, url, events, secret) VALUES ($1, $2, $3, $4)`,
		sub.ID, sub.URL, events, sub.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 {
		limit = 100
	}
	args := []any{}
	q := `SELECT id, url, events FROM subscriptions`
	if cursor != "" {
		var after time.Time
		err := p.db.QueryRowContext(ctx, `SELECT created_at FROM subscriptions WHERE id = $1`, cursor).Scan(&after)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, "", err
		}
		if err == nil {
			args = append(args, after)
			q += fmt.Sprintf(" WHERE created_at > $%d", len(args))
		}
	}
	args = append(args, limit+1)
	q += fmt.Sprintf(" ORDER BY created_at, id LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := []model.Subscription{}
	for rows.Next() {
		var sub model.Subscription
		var events []byte
		if err := rows.Scan(&sub.ID, &sub.URL, &events); err != nil {
			return nil, "", err
		}
		if err := json.Unmarshal(events, &sub.Events); err != nil {
			return nil, "", err
		}
		out = append(out, sub)
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[len(out)-1].ID
	}
	return out, next, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, url, events, secret FROM subscriptions
		WHERE events @> jsonb_build_array($1::text) OR events @> '["*"]'::jsonb
		ORDER BY created_at`, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		var events []byte
		if err := rows.Scan(&sub.ID, &sub.URL, &events, &sub.Secret); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(events, &sub.Events); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, subscriptionID, eventType, url, secret, payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

// FetchDueWebhookDeliveries claims due deliveries with SKIP LOCKED so multiple
// workers never double-send, bumping the attempt counter as part of the claim.
func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		UPDATE webhook_deliveries SET attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status = 'pending' AND next_attempt_at <= now()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, subscription_id, event_type, url, secret, payload, attempts`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WebhookDelivery
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivered(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET status = 'delivered', last_error = '' WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) RescheduleWebhook(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET next_attempt_at = $2, last_error = $3 WHERE id = $1`,
		id, nextAttemptAt, lastError)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) FailWebhook(ctx context.Context, id string, lastError string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET status = 'dead', last_error = $2 WHERE id = $1`,
		id, lastError)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *Postgres) Close() error                   { return p.db.Close() }
