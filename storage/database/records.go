package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
	"github.com/sylorafashion-deenora/Deenora-tech/core/offline"
)

var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrTableNotAllowed = errors.New("table not allowed")
)

type identifierError string

func (e identifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q", string(e))
}

// Filter narrows a Query. Eq conditions are ANDed.
type Filter struct {
	Eq      map[string]interface{}
	OrderBy []core.DBOrdering
	Limit   int
}

// RecordStore reads and writes the tenant's record collections.
// It is the backend the sync queue is replayed against.
type RecordStore struct {
	db     core.DB
	tables map[string]bool
}

var _ offline.Backend = (*RecordStore)(nil)

func NewRecordStore(db core.DB, tables []string) *RecordStore {
	allowed := make(map[string]bool, len(tables))
	for _, t := range tables {
		allowed[t] = true
	}
	return &RecordStore{db: db, tables: allowed}
}

// Ping checks that the database is reachable.
func (s *RecordStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *RecordStore) table(name string) (string, error) {
	if !s.tables[name] || !core.IsIdentifier(name) {
		return "", errors.Wrap(ErrTableNotAllowed, name)
	}
	return pq.QuoteIdentifier(name), nil
}

func quoteColumn(name string) (string, error) {
	if !core.IsIdentifier(name) {
		return "", identifierError(name)
	}
	return pq.QuoteIdentifier(name), nil
}

// sortedColumns returns the keys of r, sorted so generated queries are stable.
func sortedColumns(r offline.Record) []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// columnValue converts a decoded JSON value to a query argument.
// Objects and arrays are stored as JSON.
func columnValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}, []interface{}, offline.Record:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case json.Number:
		return val.String(), nil
	default:
		return val, nil
	}
}

func buildInsert(table string, record offline.Record) (string, []interface{}, error) {
	if len(record) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", table), nil, nil
	}
	cols := sortedColumns(record)
	quoted := make([]string, 0, len(cols))
	params := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols))
	for i, c := range cols {
		q, err := quoteColumn(c)
		if err != nil {
			return "", nil, err
		}
		arg, err := columnValue(record[c])
		if err != nil {
			return "", nil, errors.Wrapf(err, "encoding %s", c)
		}
		quoted = append(quoted, q)
		params = append(params, fmt.Sprintf("$%d", i+1))
		args = append(args, arg)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(quoted, ", "), strings.Join(params, ", "))
	return query, args, nil
}

// keyCondition matches the record of key. Its placeholders are numbered from next.
func keyCondition(key offline.Key, next int) (string, []interface{}) {
	if key.Tenant == "" {
		return fmt.Sprintf(`"id" = $%d`, next), []interface{}{key.ID}
	}
	cond := fmt.Sprintf(`"id" = $%d AND %s = $%d`, next, pq.QuoteIdentifier(offline.TenantField), next+1)
	return cond, []interface{}{key.ID, key.Tenant}
}

// buildUpdate never patches the id, nor the tenant of a scoped key.
func buildUpdate(table string, key offline.Key, patch offline.Record) (string, []interface{}, error) {
	cols := sortedColumns(patch)
	sets := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols)+2)
	for _, c := range cols {
		if c == "id" || (key.Tenant != "" && c == offline.TenantField) {
			continue
		}
		q, err := quoteColumn(c)
		if err != nil {
			return "", nil, err
		}
		arg, err := columnValue(patch[c])
		if err != nil {
			return "", nil, errors.Wrapf(err, "encoding %s", c)
		}
		args = append(args, arg)
		sets = append(sets, fmt.Sprintf("%s = $%d", q, len(args)))
	}
	if len(sets) == 0 {
		// nothing to change: only check that the record exists
		sets = append(sets, `"id" = "id"`)
	}
	cond, keyArgs := keyCondition(key, len(args)+1)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s`, table, strings.Join(sets, ", "), cond)
	return query, append(args, keyArgs...), nil
}

func buildDelete(table string, key offline.Key) (string, []interface{}) {
	cond, args := keyCondition(key, 1)
	return fmt.Sprintf(`DELETE FROM %s WHERE %s`, table, cond), args
}

func buildSelect(table string, filter Filter) (string, []interface{}, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", table)

	var args []interface{}
	if len(filter.Eq) > 0 {
		conds := make([]string, 0, len(filter.Eq))
		for _, c := range sortedColumns(filter.Eq) {
			q, err := quoteColumn(c)
			if err != nil {
				return "", nil, err
			}
			arg, err := columnValue(filter.Eq[c])
			if err != nil {
				return "", nil, errors.Wrapf(err, "encoding %s", c)
			}
			args = append(args, arg)
			conds = append(conds, fmt.Sprintf("%s = $%d", q, len(args)))
		}
		fmt.Fprintf(&b, " WHERE %s", strings.Join(conds, " AND "))
	}

	if len(filter.OrderBy) > 0 {
		orders := make([]string, 0, len(filter.OrderBy))
		for _, ord := range filter.OrderBy {
			q, err := quoteColumn(ord.Field)
			if err != nil {
				return "", nil, err
			}
			orders = append(orders, core.DBOrdering{Field: q, Ascending: ord.Ascending}.String())
		}
		fmt.Fprintf(&b, " ORDER BY %s", strings.Join(orders, ", "))
	}

	if filter.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", filter.Limit)
	}
	return b.String(), args, nil
}

func (s *RecordStore) exec(ctx context.Context, query string, args []interface{}, mustAffect bool) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if !mustAffect {
		return nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *RecordStore) Create(ctx context.Context, table string, record offline.Record) error {
	t, err := s.table(table)
	if err != nil {
		return err
	}
	query, args, err := buildInsert(t, record)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.exec(ctx, query, args, false), "inserting into %s", table)
}

// Update patches the record of key. A key matching no record is ErrRecordNotFound.
func (s *RecordStore) Update(ctx context.Context, table string, key offline.Key, patch offline.Record) error {
	t, err := s.table(table)
	if err != nil {
		return err
	}
	query, args, err := buildUpdate(t, key, patch)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.exec(ctx, query, args, true), "updating %s %s", table, key.ID)
}

func (s *RecordStore) Delete(ctx context.Context, table string, key offline.Key) error {
	t, err := s.table(table)
	if err != nil {
		return err
	}
	query, args := buildDelete(t, key)
	return errors.Wrapf(s.exec(ctx, query, args, true), "deleting %s %s", table, key.ID)
}

// Query returns the records of table matching filter.
func (s *RecordStore) Query(ctx context.Context, table string, filter Filter) ([]offline.Record, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	query, args, err := buildSelect(t, filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s", table)
	}
	defer func() { _ = rows.Close() }()

	records := make([]offline.Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "scanning %s", table)
		}
		records = append(records, r)
	}
	return records, errors.Wrapf(rows.Err(), "querying %s", table)
}

func scanRecord(rows *sqlx.Rows) (offline.Record, error) {
	m := make(map[string]interface{})
	if err := rows.MapScan(m); err != nil {
		return nil, err
	}
	for k, v := range m {
		if b, ok := v.([]byte); ok {
			m[k] = bytesValue(b)
		}
	}
	return m, nil
}

// bytesValue decodes json and jsonb columns, other byte values become strings.
func bytesValue(b []byte) interface{} {
	if len(b) > 0 && (b[0] == '{' || b[0] == '[') && json.Valid(b) {
		return json.RawMessage(append([]byte(nil), b...))
	}
	return string(b)
}
