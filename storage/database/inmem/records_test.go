package inmemdb

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
	"github.com/sylorafashion-deenora/Deenora-tech/core/offline"
	"github.com/sylorafashion-deenora/Deenora-tech/storage/database"
)

func TestDB(t *testing.T) {
	ctx := context.Background()
	db := NewDB([]string{"students"})

	require.NoError(t, db.Create(ctx, "students", offline.Record{"name": "Ali"}))
	require.NoError(t, db.Create(ctx, "students", offline.Record{"id": "s9", "name": "Bilal"}))
	assert.Equal(t, ErrDuplicateID, errors.Cause(db.Create(ctx, "students", offline.Record{"id": "s9"})))

	rec, ok := db.Get("students", "1")
	require.True(t, ok)
	assert.Equal(t, offline.Record{"id": "1", "name": "Ali"}, rec)

	require.NoError(t, db.Update(ctx, "students", offline.Key{ID: "s9"}, offline.Record{"name": "Bilal H", "id": "x"}))
	rec, _ = db.Get("students", "s9")
	assert.Equal(t, offline.Record{"id": "s9", "name": "Bilal H"}, rec)

	assert.Equal(t, database.ErrRecordNotFound, db.Update(ctx, "students", offline.Key{ID: "s0"}, offline.Record{}))
	assert.Equal(t, database.ErrRecordNotFound, db.Delete(ctx, "students", offline.Key{ID: "s0"}))
	require.NoError(t, db.Delete(ctx, "students", offline.Key{ID: "s9"}))
	_, ok = db.Get("students", "s9")
	assert.False(t, ok)

	err := db.Create(ctx, "users", offline.Record{})
	assert.Equal(t, database.ErrTableNotAllowed, errors.Cause(err))

	assert.Equal(t, []Op{
		{Kind: "create", Table: "students", ID: "1"},
		{Kind: "create", Table: "students", ID: "s9"},
		{Kind: "update", Table: "students", ID: "s9"},
		{Kind: "delete", Table: "students", ID: "s9"},
	}, db.Ops())
}

func TestDB_tenantScope(t *testing.T) {
	ctx := context.Background()
	db := NewDB([]string{"students"})
	db.Seed("students",
		offline.Record{"id": "s1", "name": "Omar", "madrasah_id": "m1"},
		offline.Record{"id": "s2", "name": "Ali", "madrasah_id": "m2"},
	)

	tests := []struct {
		name    string
		write   func() error
		wantErr error
	}{
		{
			name:    "update of another madrasah",
			write:   func() error { return db.Update(ctx, "students", offline.Key{ID: "s2", Tenant: "m1"}, offline.Record{"name": "x"}) },
			wantErr: database.ErrRecordNotFound,
		},
		{
			name:    "delete of another madrasah",
			write:   func() error { return db.Delete(ctx, "students", offline.Key{ID: "s2", Tenant: "m1"}) },
			wantErr: database.ErrRecordNotFound,
		},
		{
			name: "update cannot move the record",
			write: func() error {
				return db.Update(ctx, "students", offline.Key{ID: "s1", Tenant: "m1"}, offline.Record{"name": "Omar F", "madrasah_id": "m2"})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.write(); errors.Cause(err) != tt.wantErr {
				t.Errorf("write() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	rec, _ := db.Get("students", "s1")
	assert.Equal(t, offline.Record{"id": "s1", "name": "Omar F", "madrasah_id": "m1"}, rec)
	rec, _ = db.Get("students", "s2")
	assert.Equal(t, offline.Record{"id": "s2", "name": "Ali", "madrasah_id": "m2"}, rec)
	assert.Len(t, db.Ops(), 1)
}

func TestDB_SetReachable(t *testing.T) {
	ctx := context.Background()
	db := NewDB([]string{"students"})
	db.Seed("students", offline.Record{"id": "s1"})

	db.SetReachable(false)
	assert.Equal(t, ErrUnreachable, db.Ping(ctx))
	assert.Equal(t, ErrUnreachable, db.Delete(ctx, "students", offline.Key{ID: "s1"}))

	db.SetReachable(true)
	assert.NoError(t, db.Ping(ctx))
	assert.NoError(t, db.Delete(ctx, "students", offline.Key{ID: "s1"}))
}

func TestDB_Query(t *testing.T) {
	ctx := context.Background()
	db := NewDB([]string{"students"})
	db.Seed("students",
		offline.Record{"id": "s1", "name": "Omar", "madrasah_id": "m1"},
		offline.Record{"id": "s2", "name": "Ali", "madrasah_id": "m1"},
		offline.Record{"id": "s3", "name": "Bilal", "madrasah_id": "m2"},
		offline.Record{"id": "s4", "name": "Ali", "madrasah_id": "m1"},
	)
	ids := func(records []offline.Record) []string {
		out := make([]string, 0, len(records))
		for _, r := range records {
			out = append(out, r["id"].(string))
		}
		return out
	}

	tests := []struct {
		name    string
		filter  database.Filter
		want    []string
		wantErr bool
	}{
		{name: "all", want: []string{"s1", "s2", "s3", "s4"}},
		{name: "eq", filter: database.Filter{Eq: map[string]interface{}{"madrasah_id": "m1"}}, want: []string{"s1", "s2", "s4"}},
		{
			name:   "ordering",
			filter: database.Filter{OrderBy: []core.DBOrdering{{Field: "name", Ascending: true}}},
			want:   []string{"s2", "s4", "s3", "s1"},
		},
		{
			name:   "descending with limit",
			filter: database.Filter{OrderBy: []core.DBOrdering{{Field: "name"}}, Limit: 2},
			want:   []string{"s1", "s3"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.Query(ctx, "students", tt.filter)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Query() error = %v, wantErr %v", err, tt.wantErr)
			}
			assert.Equal(t, tt.want, ids(got))
		})
	}

	_, err := db.Query(ctx, "users", database.Filter{})
	assert.Equal(t, database.ErrTableNotAllowed, errors.Cause(err))
}
