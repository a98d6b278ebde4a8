package offline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type MutationType string

const (
	MutationInsert MutationType = "INSERT"
	MutationUpdate MutationType = "UPDATE"
	MutationDelete MutationType = "DELETE"
)

func (t MutationType) Valid() bool {
	switch t {
	case MutationInsert, MutationUpdate, MutationDelete:
		return true
	}
	return false
}

// Record holds the fields of a backend record.
type Record map[string]interface{}

// TenantField is the column holding the madrasah a record belongs to.
const TenantField = "madrasah_id"

// Key identifies the record an UPDATE or DELETE applies to.
// A non-empty Tenant only matches records of that madrasah.
type Key struct {
	ID     string
	Tenant string
}

// withoutID returns a shallow copy of r without the id field.
func (r Record) withoutID() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if k != "id" {
			out[k] = v
		}
	}
	return out
}

// Payload is one of InsertPayload, UpdatePayload or DeletePayload.
type Payload interface {
	Type() MutationType
	fields() Record
}

type (
	// InsertPayload carries the full record to create.
	InsertPayload struct {
		Record Record
	}

	// UpdatePayload carries the primary key and the fields to patch.
	UpdatePayload struct {
		ID    string
		Patch Record
	}

	// DeletePayload carries the primary key of the record to delete.
	DeletePayload struct {
		ID string
	}
)

func (InsertPayload) Type() MutationType { return MutationInsert }
func (UpdatePayload) Type() MutationType { return MutationUpdate }
func (DeletePayload) Type() MutationType { return MutationDelete }

func (p InsertPayload) fields() Record { return p.Record }

func (p UpdatePayload) fields() Record {
	r := p.Patch.withoutID()
	r["id"] = p.ID
	return r
}

func (p DeletePayload) fields() Record { return Record{"id": p.ID} }

// NewPayload builds the typed payload of a mutation from flat record fields.
// UPDATE and DELETE fields must carry the record's primary key under "id".
func NewPayload(typ MutationType, fields Record) (Payload, error) {
	switch typ {
	case MutationInsert:
		if fields == nil {
			fields = Record{}
		}
		return InsertPayload{Record: fields}, nil
	case MutationUpdate:
		id, err := recordID(fields)
		if err != nil {
			return nil, err
		}
		return UpdatePayload{ID: id, Patch: fields.withoutID()}, nil
	case MutationDelete:
		id, err := recordID(fields)
		if err != nil {
			return nil, err
		}
		return DeletePayload{ID: id}, nil
	default:
		return nil, errors.Errorf("unknown mutation type %q", typ)
	}
}

var errMissingID = errors.New("payload has no id")

func recordID(fields Record) (string, error) {
	switch id := fields["id"].(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case json.Number:
		return id.String(), nil
	case int, int32, int64, float64:
		return fmt.Sprint(id), nil
	}
	return "", errMissingID
}

// Mutation is a pending write recorded while offline.
type Mutation struct {
	ID        string
	Table     string
	Tenant    string // scopes UPDATE and DELETE, empty when unscoped
	Payload   Payload
	Timestamp time.Time

	// replay bookkeeping
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
}

func (m Mutation) Type() MutationType {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.Type()
}

// due reports whether the mutation may be replayed at t.
func (m Mutation) due(t time.Time) bool {
	return m.NextAttemptAt.IsZero() || !m.NextAttemptAt.After(t)
}

type wireMutation struct {
	ID            string          `json:"id"`
	Table         string          `json:"table"`
	Tenant        string          `json:"tenant,omitempty"`
	Type          MutationType    `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     int64           `json:"timestamp"` // unix ms
	Attempts      int             `json:"attempts,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	NextAttemptAt int64           `json:"next_attempt_at,omitempty"` // unix ms
}

func (m Mutation) MarshalJSON() ([]byte, error) {
	if m.Payload == nil {
		return nil, errors.New("mutation has no payload")
	}
	payload, err := json.Marshal(m.Payload.fields())
	if err != nil {
		return nil, errors.Wrap(err, "encoding payload")
	}
	w := wireMutation{
		ID:        m.ID,
		Table:     m.Table,
		Tenant:    m.Tenant,
		Type:      m.Payload.Type(),
		Payload:   payload,
		Timestamp: m.Timestamp.UnixMilli(),
		Attempts:  m.Attempts,
		LastError: m.LastError,
	}
	if !m.NextAttemptAt.IsZero() {
		w.NextAttemptAt = m.NextAttemptAt.UnixMilli()
	}
	return json.Marshal(w)
}

func (m *Mutation) UnmarshalJSON(data []byte) error {
	var w wireMutation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var fields Record
	if len(w.Payload) > 0 {
		dec := json.NewDecoder(bytes.NewReader(w.Payload))
		dec.UseNumber()
		if err := dec.Decode(&fields); err != nil {
			return errors.Wrapf(err, "decoding payload of mutation %s", w.ID)
		}
	}
	payload, err := NewPayload(w.Type, fields)
	if err != nil {
		return errors.Wrapf(err, "mutation %s", w.ID)
	}

	*m = Mutation{
		ID:        w.ID,
		Table:     w.Table,
		Tenant:    w.Tenant,
		Payload:   payload,
		Timestamp: time.UnixMilli(w.Timestamp),
		Attempts:  w.Attempts,
		LastError: w.LastError,
	}
	if w.NextAttemptAt > 0 {
		m.NextAttemptAt = time.UnixMilli(w.NextAttemptAt)
	}
	return nil
}

func decodeMutations(raw string, ok bool) ([]Mutation, error) {
	if !ok || raw == "" {
		return nil, nil
	}
	var list []Mutation
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func encodeMutations(list []Mutation) (string, error) {
	if list == nil {
		list = []Mutation{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
