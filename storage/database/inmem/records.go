// Package inmemdb is an in-memory backend for the sync engine, used for demos and tests.
package inmemdb

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
	"github.com/sylorafashion-deenora/Deenora-tech/core/offline"
	"github.com/sylorafashion-deenora/Deenora-tech/storage/database"
)

var (
	ErrUnreachable = errors.New("backend unreachable")
	ErrDuplicateID = errors.New("duplicate record id")
)

// Op is a write applied to the DB.
type Op struct {
	Kind  string // create | update | delete
	Table string
	ID    string
}

type DB struct {
	mu          sync.RWMutex
	allowed     []string
	tables      map[string]map[string]offline.Record
	ops         []Op
	pkCount     int
	unreachable bool
}

var _ offline.Backend = (*DB)(nil)

func NewDB(tables []string) *DB {
	return &DB{
		allowed: tables,
		tables:  make(map[string]map[string]offline.Record),
	}
}

// SetReachable simulates an outage: while unreachable every call fails with ErrUnreachable.
func (db *DB) SetReachable(reachable bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.unreachable = !reachable
}

func (db *DB) Ping(context.Context) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.unreachable {
		return ErrUnreachable
	}
	return nil
}

// table must be called with the lock held.
func (db *DB) table(name string) (map[string]offline.Record, error) {
	if db.unreachable {
		return nil, ErrUnreachable
	}
	if !core.ContainsString(db.allowed, name) {
		return nil, errors.Wrapf(database.ErrTableNotAllowed, "table %q", name)
	}
	t, ok := db.tables[name]
	if !ok {
		t = make(map[string]offline.Record)
		db.tables[name] = t
	}
	return t, nil
}

func copyRecord(r offline.Record) offline.Record {
	out := make(offline.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (db *DB) Create(_ context.Context, table string, record offline.Record) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	t, err := db.table(table)
	if err != nil {
		return err
	}
	rec := copyRecord(record)
	id, ok := rec["id"].(string)
	if !ok || id == "" {
		db.pkCount++
		id = strconv.Itoa(db.pkCount)
		rec["id"] = id
	}
	if _, exists := t[id]; exists {
		return errors.Wrapf(ErrDuplicateID, "%s %s", table, id)
	}
	t[id] = rec
	db.ops = append(db.ops, Op{Kind: "create", Table: table, ID: id})
	return nil
}

// lookup must be called with the lock held. A scoped key only matches records of its tenant.
func lookup(t map[string]offline.Record, key offline.Key) (offline.Record, bool) {
	rec, ok := t[key.ID]
	if !ok || (key.Tenant != "" && fmt.Sprint(rec[offline.TenantField]) != key.Tenant) {
		return nil, false
	}
	return rec, true
}

func (db *DB) Update(_ context.Context, table string, key offline.Key, patch offline.Record) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	t, err := db.table(table)
	if err != nil {
		return err
	}
	rec, ok := lookup(t, key)
	if !ok {
		return database.ErrRecordNotFound
	}
	for k, v := range patch {
		if k == "id" || (key.Tenant != "" && k == offline.TenantField) {
			continue
		}
		rec[k] = v
	}
	db.ops = append(db.ops, Op{Kind: "update", Table: table, ID: key.ID})
	return nil
}

func (db *DB) Delete(_ context.Context, table string, key offline.Key) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	t, err := db.table(table)
	if err != nil {
		return err
	}
	if _, ok := lookup(t, key); !ok {
		return database.ErrRecordNotFound
	}
	delete(t, key.ID)
	db.ops = append(db.ops, Op{Kind: "delete", Table: table, ID: key.ID})
	return nil
}

// Query returns the records of table matching filter. Values are compared by their text form.
func (db *DB) Query(_ context.Context, table string, filter database.Filter) ([]offline.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	t, err := db.table(table)
	if err != nil {
		return nil, err
	}

	records := make([]offline.Record, 0, len(t))
	for _, rec := range t {
		if matches(rec, filter.Eq) {
			records = append(records, copyRecord(rec))
		}
	}

	orderings := make([]core.DBOrdering, 0, len(filter.OrderBy)+1)
	orderings = append(orderings, filter.OrderBy...)
	orderings = append(orderings, core.DBOrdering{Field: "id", Ascending: true})
	sort.SliceStable(records, func(i, j int) bool {
		for _, ord := range orderings {
			a, b := fmt.Sprint(records[i][ord.Field]), fmt.Sprint(records[j][ord.Field])
			if a == b {
				continue
			}
			return (a < b) == ord.Ascending
		}
		return false
	})

	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

func matches(rec offline.Record, eq map[string]interface{}) bool {
	for k, v := range eq {
		if fmt.Sprint(rec[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

// Seed stores records as they are, without recording an Op.
func (db *DB) Seed(table string, records ...offline.Record) {
	db.mu.Lock()
	defer db.mu.Unlock()

	t, ok := db.tables[table]
	if !ok {
		t = make(map[string]offline.Record)
		db.tables[table] = t
	}
	for _, r := range records {
		id, _ := r["id"].(string)
		t[id] = copyRecord(r)
	}
}

func (db *DB) Get(table, id string) (offline.Record, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	rec, ok := db.tables[table][id]
	if !ok {
		return nil, false
	}
	return copyRecord(rec), true
}

// Ops returns the writes applied so far, oldest first.
func (db *DB) Ops() []Op {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]Op(nil), db.ops...)
}
