package offline

import (
	"context"

	"github.com/pkg/errors"
)

// Connectivity reports whether the backend is believed reachable.
type Connectivity interface {
	IsOnline() bool
}

// Writer executes writes directly while online and queues them while offline.
type Writer struct {
	backend Backend
	queue   *Queue
	conn    Connectivity
}

func NewWriter(backend Backend, queue *Queue, conn Connectivity) *Writer {
	return &Writer{backend: backend, queue: queue, conn: conn}
}

// Insert creates a record. queued is true when the write was deferred to the sync queue.
// A direct write error is returned as-is and nothing is queued. So is the error of a queue that could not save the write.
func (w *Writer) Insert(ctx context.Context, table string, record Record) (queued bool, err error) {
	if !w.conn.IsOnline() {
		return w.enqueue("", table, InsertPayload{Record: record})
	}
	return false, errors.Wrapf(w.backend.Create(ctx, table, record), "creating %s record", table)
}

func (w *Writer) Update(ctx context.Context, table string, key Key, patch Record) (queued bool, err error) {
	if !w.conn.IsOnline() {
		return w.enqueue(key.Tenant, table, UpdatePayload{ID: key.ID, Patch: patch})
	}
	return false, errors.Wrapf(w.backend.Update(ctx, table, key, patch), "updating %s record %s", table, key.ID)
}

func (w *Writer) Delete(ctx context.Context, table string, key Key) (queued bool, err error) {
	if !w.conn.IsOnline() {
		return w.enqueue(key.Tenant, table, DeletePayload{ID: key.ID})
	}
	return false, errors.Wrapf(w.backend.Delete(ctx, table, key), "deleting %s record %s", table, key.ID)
}

func (w *Writer) enqueue(tenant, table string, payload Payload) (bool, error) {
	if _, err := w.queue.Add(tenant, table, payload); err != nil {
		return false, err
	}
	return true, nil
}
