// Package infra_pg_docstore stores one jsonb document per key and delivers
// change notifications over LISTEN/NOTIFY. Merges run under
// SELECT ... FOR UPDATE; the notify payload carries only the key, and each
// subscriber re-reads the current document on wakeup.
package infra_pg_docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rankparty/core/internal/store"
)

const notifyChannel = "room_docs_changes"

type Driver struct {
	db     *sqlx.DB
	dsn    string
	logger *slog.Logger

	listenOnce sync.Once
	listenErr  error

	mu     sync.Mutex
	subs   map[string]map[int]func(doc []byte)
	nextID int
}

type DriverOption func(*Driver)

func WithLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger
	}
}

func New(db *sqlx.DB, dsn string, opts ...DriverOption) *Driver {
	d := &Driver{
		db:     db,
		dsn:    dsn,
		logger: slog.Default(),
		subs:   make(map[string]map[int]func(doc []byte)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func MustMigrate(db *sqlx.DB) {
	const schema = `
		CREATE TABLE IF NOT EXISTS room_docs (
			key        TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	db.MustExec(schema)
}

func (d *Driver) Get(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := d.db.GetContext(ctx, &raw, `SELECT doc FROM room_docs WHERE key = $1`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return raw, nil
}

func (d *Driver) Set(ctx context.Context, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO room_docs (key, doc, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
	`
	if _, err := tx.ExecContext(ctx, query, key, raw); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, key); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *Driver) Update(ctx context.Context, key string, fields map[string]any) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current []byte
	err = tx.GetContext(ctx, &current, `SELECT doc FROM room_docs WHERE key = $1 FOR UPDATE`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	merged, err := store.MergeFields(current, fields)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE room_docs SET doc = $2, updated_at = now() WHERE key = $1`, key, merged); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, key); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *Driver) Subscribe(key string, fn func(doc []byte)) (func(), error) {
	if err := d.ensureListener(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.subs[key] == nil {
		d.subs[key] = make(map[int]func(doc []byte))
	}
	id := d.nextID
	d.nextID++
	d.subs[key][id] = fn
	d.mu.Unlock()

	if current, err := d.Get(context.Background(), key); err == nil {
		fn(current)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs[key], id)
			d.mu.Unlock()
		})
	}
	return release, nil
}

// ensureListener lazily starts the single shared pq listener that dispatches
// notifications to per-key subscribers.
func (d *Driver) ensureListener() error {
	d.listenOnce.Do(func() {
		listener := pq.NewListener(d.dsn, 10*time.Second, time.Minute, func(_ pq.ListenerEventType, err error) {
			if err != nil {
				d.logger.Error("listener event", slog.String("error", err.Error()))
			}
		})
		if err := listener.Listen(notifyChannel); err != nil {
			d.listenErr = err
			return
		}
		go d.dispatch(listener)
	})
	return d.listenErr
}

func (d *Driver) dispatch(listener *pq.Listener) {
	for notification := range listener.Notify {
		if notification == nil {
			// Connection loss; pq re-establishes LISTEN on its own, but
			// changes in between were missed. Re-read every watched key.
			d.redeliverAll()
			continue
		}
		d.deliver(notification.Extra)
	}
}

func (d *Driver) deliver(key string) {
	doc, err := d.Get(context.Background(), key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.logger.Error("failed to read notified document",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	d.mu.Lock()
	fns := make([]func(doc []byte), 0, len(d.subs[key]))
	for _, fn := range d.subs[key] {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(doc)
	}
}

func (d *Driver) redeliverAll() {
	d.mu.Lock()
	keys := make([]string, 0, len(d.subs))
	for key, fns := range d.subs {
		if len(fns) > 0 {
			keys = append(keys, key)
		}
	}
	d.mu.Unlock()

	for _, key := range keys {
		d.deliver(key)
	}
}
