package offline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	testutil "github.com/sylorafashion-deenora/Deenora-tech/tests"
)

var errStore = errors.New("store unavailable")

type memStore struct {
	mu      sync.Mutex
	data    map[string]string
	failGet bool
	failSet bool
	failKey string // when set, only writes of this key fail
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return "", false, errStore
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet && (s.failKey == "" || s.failKey == key) {
		return errStore
	}
	s.data[key] = value
	return nil
}

func (s *memStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

type atomicMemStore struct {
	*memStore
	updates int
}

func (s *atomicMemStore) Update(key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	old, ok := s.data[key]
	val, err := fn(old, ok)
	if err != nil {
		return err
	}
	s.data[key] = val
	return nil
}

type backendCall struct {
	Op     string
	Table  string
	ID     string
	Tenant string
	Data   Record
}

// fakeBackend fails every call whose record id is listed in failIDs.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []backendCall
	failIDs map[string]error
	panicID string
	block   chan struct{} // when set, every call waits on it
	entered chan struct{} // when set, signalled before waiting on block
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{failIDs: make(map[string]error)}
}

func (b *fakeBackend) record(call backendCall) error {
	if b.entered != nil {
		select {
		case b.entered <- struct{}{}:
		default:
		}
	}
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
	if call.ID != "" && call.ID == b.panicID {
		panic("boom")
	}
	return b.failIDs[call.ID]
}

func (b *fakeBackend) Create(_ context.Context, table string, record Record) error {
	id, _ := record["id"].(string)
	return b.record(backendCall{Op: "create", Table: table, ID: id, Data: record})
}

func (b *fakeBackend) Update(_ context.Context, table string, key Key, patch Record) error {
	return b.record(backendCall{Op: "update", Table: table, ID: key.ID, Tenant: key.Tenant, Data: patch})
}

func (b *fakeBackend) Delete(_ context.Context, table string, key Key) error {
	return b.record(backendCall{Op: "delete", Table: table, ID: key.ID, Tenant: key.Tenant})
}

func (b *fakeBackend) Calls() []backendCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backendCall(nil), b.calls...)
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestQueue(t *testing.T, store Store, backend Backend, policy RetryPolicy) (*Queue, *testutil.Logger, *testClock) {
	t.Helper()
	logger := testutil.NewLogger()
	clock := &testClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	q := NewQueue(store, backend, policy, logger)
	q.nowFunc = clock.Now
	var seq int
	q.newID = func() string {
		seq++
		return fmt.Sprintf("m%d", seq)
	}
	return q, logger, clock
}

func ids(list []Mutation) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	return out
}
