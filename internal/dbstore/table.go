// SPDX-License-Identifier: Apache-2.0

// Package dbstore is the boundary this repository draws around the
// Redis-like key/value store spec.md §1 names as an external collaborator
// ("the Redis-like key/value store and its table/subscriber abstraction").
// It defines the narrow Table/Subscriber/Client interfaces the rest of the
// daemon programs against, plus an in-memory reference Client used by
// tests and by any embedder with no real store available. A production
// deployment drops in a client backed by the real SONiC redis-backed
// swsscommon tables; nothing else in this repository changes.
package dbstore

import (
	"sort"
	"sync"
)

// Op distinguishes a field write from a whole-key deletion in a
// Subscriber notification.
type Op int

const (
	OpSet Op = iota
	OpDel
)

// Entry is one notification delivered to a Subscriber: a field of `Key`
// in `Table` was set to `Value` (OpSet), or `Key` was deleted wholesale
// (OpDel, Field/Value empty).
type Entry struct {
	Table string
	Key   string
	Field string
	Value string
	Op    Op
}

// Subscriber is a live feed of Entry notifications for one table.
type Subscriber interface {
	// C returns the channel notifications arrive on. It is closed when
	// Close is called.
	C() <-chan Entry
	Close()
}

// Table is a Redis hash-table handle: string keys, each holding a map of
// string fields to string values, per spec.md §6's hset/hget field model.
type Table interface {
	Name() string
	Get(key, field string) (string, bool)
	GetAll(key string) map[string]string
	Keys() []string
	Set(key, field, value string)
	DelField(key, field string)
	Del(key string)
	Subscribe() Subscriber
}

// Client opens named tables. CONFIG_DB/APPL_DB/STATE_DB distinctions live
// in the table name the caller asks for (e.g. "CONFIG_DB|MUX_CABLE"),
// matching how SONiC's swsscommon addresses them.
type Client interface {
	Table(name string) Table
}

// memClient is the in-memory reference Client. It is safe for concurrent
// use and is what `cmd/linkmgrd` wires up when no real store is
// configured, and what every dbstore/portactor test drives directly.
type memClient struct {
	mu     sync.Mutex
	tables map[string]*memTable
}

// NewMemClient constructs an in-memory reference Client.
func NewMemClient() Client {
	return &memClient{tables: make(map[string]*memTable)}
}

func (c *memClient) Table(name string) Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		t = &memTable{name: name, rows: make(map[string]map[string]string)}
		c.tables[name] = t
	}
	return t
}

type memTable struct {
	name string

	mu   sync.Mutex
	rows map[string]map[string]string
	subs []*memSubscriber
}

func (t *memTable) Name() string { return t.name }

func (t *memTable) Get(key, field string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[key]
	if !ok {
		return "", false
	}
	v, ok := row[field]
	return v, ok
}

func (t *memTable) GetAll(key string) map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[key]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func (t *memTable) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *memTable) Set(key, field, value string) {
	t.mu.Lock()
	row, ok := t.rows[key]
	if !ok {
		row = make(map[string]string)
		t.rows[key] = row
	}
	row[field] = value
	t.mu.Unlock()
	t.notify(Entry{Table: t.name, Key: key, Field: field, Value: value, Op: OpSet})
}

func (t *memTable) DelField(key, field string) {
	t.mu.Lock()
	if row, ok := t.rows[key]; ok {
		delete(row, field)
	}
	t.mu.Unlock()
	t.notify(Entry{Table: t.name, Key: key, Field: field, Op: OpDel})
}

func (t *memTable) Del(key string) {
	t.mu.Lock()
	delete(t.rows, key)
	t.mu.Unlock()
	t.notify(Entry{Table: t.name, Key: key, Op: OpDel})
}

func (t *memTable) Subscribe() Subscriber {
	s := &memSubscriber{ch: make(chan Entry, 256)}
	t.mu.Lock()
	t.subs = append(t.subs, s)
	t.mu.Unlock()
	return s
}

func (t *memTable) notify(e Entry) {
	t.mu.Lock()
	subs := make([]*memSubscriber, len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- e:
		default:
			// A slow subscriber drops the oldest-style overflow rather than
			// blocking the writer; the watcher re-derives state from the
			// next notification or from a future GetAll seed.
		}
	}
}

type memSubscriber struct {
	ch     chan Entry
	closed sync.Once
}

func (s *memSubscriber) C() <-chan Entry { return s.ch }
func (s *memSubscriber) Close()          { s.closed.Do(func() { close(s.ch) }) }
