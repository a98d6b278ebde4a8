package offline

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
)

var (
	// errNoChange aborts a read-modify-write without rewriting the list.
	errNoChange = errors.New("no change")

	ErrMutationNotFound = errors.New("mutation not found")
)

// Queue is the durable FIFO of pending mutations.
// Every operation is a read-modify-write of the whole list stored under a single key.
type Queue struct {
	store   Store
	backend Backend
	policy  RetryPolicy
	logger  core.Logger

	mu       sync.Mutex // guards read-modify-writes of the stored lists
	replayMu sync.Mutex // held for the duration of a replay

	nowFunc func() time.Time // mockable
	newID   func() string    // mockable
}

func NewQueue(store Store, backend Backend, policy RetryPolicy, logger core.Logger) *Queue {
	return &Queue{
		store:   store,
		backend: backend,
		policy:  policy,
		logger:  logger,
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
}

func (q *Queue) load(key string) ([]Mutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	raw, ok, err := q.store.Get(key)
	if err != nil {
		return nil, &StoreError{Err: errors.Wrapf(err, "reading %s", key)}
	}
	list, err := decodeMutations(raw, ok)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", key)
	}
	return list, nil
}

// update rewrites the list stored under key with the result of fn.
// A list that cannot be decoded is never overwritten. Failures of the store itself are returned as a *StoreError.
func (q *Queue) update(key string, fn func([]Mutation) ([]Mutation, error)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var applyErr error
	apply := func(raw string, ok bool) (val string, err error) {
		defer func() { applyErr = err }()
		list, err := decodeMutations(raw, ok)
		if err != nil {
			return "", errors.Wrapf(err, "decoding %s", key)
		}
		if list, err = fn(list); err != nil {
			return "", err
		}
		return encodeMutations(list)
	}

	var err error
	if as, ok := q.store.(AtomicStore); ok {
		err = as.Update(key, apply)
	} else {
		var raw, val string
		var found bool
		if raw, found, err = q.store.Get(key); err == nil {
			if val, err = apply(raw, found); err == nil {
				err = q.store.Set(key, val)
			}
		}
	}
	switch {
	case err == nil, errors.Cause(err) == errNoChange:
		return nil
	case applyErr != nil:
		return err
	default:
		return &StoreError{Err: errors.Wrapf(err, "writing %s", key)}
	}
}

func (q *Queue) newMutation(tenant, table string, payload Payload) Mutation {
	return Mutation{
		ID:        q.newID(),
		Table:     table,
		Tenant:    tenant,
		Payload:   payload,
		Timestamp: q.nowFunc(),
	}
}

// Enqueue appends a mutation built from flat record fields.
// It never fails: a payload that cannot be typed or a store failure is logged, and the mutation is returned unsaved.
func (q *Queue) Enqueue(table string, typ MutationType, fields Record) Mutation {
	payload, err := NewPayload(typ, fields)
	if err != nil {
		q.logger.Error("queueing mutation: invalid payload", errors.Wrapf(err, "queueing %s on %s", typ, table))
		return Mutation{ID: q.newID(), Table: table, Timestamp: q.nowFunc()}
	}
	return q.Push(table, payload)
}

func (q *Queue) EnqueueInsert(table string, record Record) Mutation {
	return q.Push(table, InsertPayload{Record: record})
}

func (q *Queue) EnqueueUpdate(table, id string, patch Record) Mutation {
	return q.Push(table, UpdatePayload{ID: id, Patch: patch})
}

func (q *Queue) EnqueueDelete(table, id string) Mutation {
	return q.Push(table, DeletePayload{ID: id})
}

// Push appends a typed mutation to the tail of the queue. A store failure is logged.
func (q *Queue) Push(table string, payload Payload) Mutation {
	m, _ := q.Add("", table, payload)
	return m
}

// Add appends a mutation scoped to tenant and returns the error that kept it from being saved.
func (q *Queue) Add(tenant, table string, payload Payload) (Mutation, error) {
	m := q.newMutation(tenant, table, payload)
	err := q.update(queueKey, func(list []Mutation) ([]Mutation, error) {
		return append(list, m), nil
	})
	if err != nil {
		err = errors.Wrapf(err, "queueing %s on %s", payload.Type(), table)
		q.logger.Error("queueing mutation", err)
		return m, err
	}
	q.logger.Debug("mutation queued", map[string]interface{}{"id": m.ID, "table": table, "type": payload.Type()})
	return m, nil
}

// List returns the pending mutations, oldest first. A corrupt queue lists as empty.
func (q *Queue) List() []Mutation {
	list, err := q.load(queueKey)
	if err != nil {
		q.logger.Error("listing sync queue", err)
		return nil
	}
	return list
}

// Len returns the number of pending mutations.
func (q *Queue) Len() int {
	return len(q.List())
}

// Remove drops the mutation with the given id. Removing an unknown id is a no-op.
func (q *Queue) Remove(id string) {
	if err := q.update(queueKey, removeFunc(id)); err != nil {
		q.logger.Error("removing mutation", errors.Wrapf(err, "removing %s", id))
	}
}

func removeFunc(id string) func([]Mutation) ([]Mutation, error) {
	return func(list []Mutation) ([]Mutation, error) {
		for i, m := range list {
			if m.ID == id {
				return append(list[:i:i], list[i+1:]...), nil
			}
		}
		return nil, errNoChange
	}
}

// Reset drops every pending mutation, including an undecodable queue.
func (q *Queue) Reset() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return errors.Wrap(q.store.Remove(queueKey), "resetting sync queue")
}

// DeadLetters returns the mutations the retry policy gave up on.
func (q *Queue) DeadLetters() []Mutation {
	list, err := q.load(deadLetterKey)
	if err != nil {
		q.logger.Error("listing dead letters", err)
		return nil
	}
	return list
}

// Requeue moves a dead letter back to the tail of the queue with its attempts reset.
func (q *Queue) Requeue(id string) error {
	letters, err := q.load(deadLetterKey)
	if err != nil {
		return err
	}
	var m Mutation
	for _, l := range letters {
		if l.ID == id {
			m = l
			break
		}
	}
	if m.ID == "" {
		return ErrMutationNotFound
	}

	// the entry is copied to the queue before it leaves the dead letters
	m.Attempts, m.LastError, m.NextAttemptAt = 0, "", time.Time{}
	err = q.update(queueKey, func(list []Mutation) ([]Mutation, error) {
		for _, p := range list {
			if p.ID == m.ID {
				return nil, errNoChange
			}
		}
		return append(list, m), nil
	})
	if err != nil {
		return errors.Wrapf(err, "requeueing %s", id)
	}
	return errors.Wrapf(q.update(deadLetterKey, removeFunc(id)), "removing dead letter %s", id)
}

// PurgeDeadLetters drops every dead letter.
func (q *Queue) PurgeDeadLetters() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return errors.Wrap(q.store.Remove(deadLetterKey), "purging dead letters")
}
