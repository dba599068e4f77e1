// Package infra_redis_docstore keeps one JSON document per redis key and
// fans out changes over pub/sub. Merges run as optimistic WATCH/MULTI
// transactions so concurrent writers to different fields never lose a write.
package infra_redis_docstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/go-redis/redis"
	"github.com/rankparty/core/internal/store"
)

const mergeRetries = 5

type Driver struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

type DriverOption func(*Driver)

func WithLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger
	}
}

func New(client *redis.Client, prefix string, opts ...DriverOption) *Driver {
	d := &Driver{
		client: client,
		prefix: prefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Get(_ context.Context, key string) ([]byte, error) {
	raw, err := d.client.Get(d.fullKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return raw, nil
}

func (d *Driver) Set(_ context.Context, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return d.write(key, raw)
}

func (d *Driver) Update(_ context.Context, key string, fields map[string]any) error {
	fullKey := d.fullKey(key)

	for attempt := 0; attempt < mergeRetries; attempt++ {
		var merged []byte
		err := d.client.Watch(func(tx *redis.Tx) error {
			current, err := tx.Get(fullKey).Bytes()
			if err != nil {
				if err == redis.Nil {
					return store.ErrNotFound
				}
				return err
			}

			merged, err = store.MergeFields(current, fields)
			if err != nil {
				return err
			}

			_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
				pipe.Set(fullKey, merged, 0)
				pipe.Publish(d.channel(key), merged)
				return nil
			})
			return err
		}, fullKey)

		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return errors.New("update lost the optimistic race too many times")
}

// write replaces the document and publishes the new value in one MULTI/EXEC.
func (d *Driver) write(key string, raw []byte) error {
	_, err := d.client.TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.Set(d.fullKey(key), raw, 0)
		pipe.Publish(d.channel(key), raw)
		return nil
	})
	return err
}

func (d *Driver) Subscribe(key string, fn func(doc []byte)) (func(), error) {
	ps := d.client.Subscribe(d.channel(key))
	if _, err := ps.Receive(); err != nil {
		_ = ps.Close()
		return nil, err
	}

	var (
		mu     sync.Mutex
		closed bool
	)
	deliver := func(doc []byte) {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			fn(doc)
		}
	}

	// Initial snapshot, then pushed changes. A change racing the initial
	// read may be delivered twice; subscribers latch on content, not count.
	if current, err := d.Get(context.Background(), key); err == nil {
		deliver(current)
	}

	go func() {
		for msg := range ps.Channel() {
			deliver([]byte(msg.Payload))
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			mu.Lock()
			closed = true
			mu.Unlock()
			if err := ps.Close(); err != nil {
				d.logger.Error("failed to close subscription",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		})
	}
	return release, nil
}

func (d *Driver) fullKey(key string) string {
	if d.prefix == "" {
		return key
	}
	return d.prefix + ":" + key
}

func (d *Driver) channel(key string) string {
	return d.fullKey(key) + ":changes"
}
