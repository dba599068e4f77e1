// Package store_memory is an in-process Store used by tests and the
// "memory" backend in dev setups. Notifications are delivered synchronously
// on the writer's goroutine.
package store_memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rankparty/core/internal/store"
)

type Driver struct {
	mu     sync.Mutex
	docs   map[string][]byte
	subs   map[string]map[int]func(doc []byte)
	nextID int
}

func New() *Driver {
	return &Driver{
		docs: make(map[string][]byte),
		subs: make(map[string]map[int]func(doc []byte)),
	}
}

func (d *Driver) Get(_ context.Context, key string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, ok := d.docs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

func (d *Driver) Set(_ context.Context, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.docs[key] = raw
	fns := d.subscribers(key)
	d.mu.Unlock()

	notify(fns, raw)
	return nil
}

func (d *Driver) Update(_ context.Context, key string, fields map[string]any) error {
	d.mu.Lock()
	doc, ok := d.docs[key]
	if !ok {
		d.mu.Unlock()
		return store.ErrNotFound
	}
	merged, err := store.MergeFields(doc, fields)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.docs[key] = merged
	fns := d.subscribers(key)
	d.mu.Unlock()

	notify(fns, merged)
	return nil
}

func (d *Driver) Subscribe(key string, fn func(doc []byte)) (func(), error) {
	d.mu.Lock()
	if d.subs[key] == nil {
		d.subs[key] = make(map[int]func(doc []byte))
	}
	id := d.nextID
	d.nextID++
	d.subs[key][id] = fn
	current, exists := d.docs[key]
	d.mu.Unlock()

	if exists {
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

func (d *Driver) subscribers(key string) []func(doc []byte) {
	fns := make([]func(doc []byte), 0, len(d.subs[key]))
	for _, fn := range d.subs[key] {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(doc []byte), doc []byte) {
	for _, fn := range fns {
		fn(doc)
	}
}
