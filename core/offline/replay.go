package offline

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var ErrReplayInProgress = errors.New("replay already in progress")

type (
	MutationFailure struct {
		ID    string       `json:"id"`
		Table string       `json:"table"`
		Type  MutationType `json:"type"`
		Error string       `json:"error"`
	}

	// ReplayReport summarizes one pass over the queue.
	ReplayReport struct {
		Attempted    int               `json:"attempted"`
		Succeeded    int               `json:"succeeded"`
		Failed       []MutationFailure `json:"failed"`
		Deferred     int               `json:"deferred"`      // not yet due
		DeadLettered int               `json:"dead_lettered"` // failed for good
	}
)

// Replay sends the pending mutations to the backend, oldest first, one at a time.
// Successful mutations leave the queue. A failed mutation keeps its id and position
// and does not stop the pass. Cancelling ctx stops the pass before the next mutation.
func (q *Queue) Replay(ctx context.Context) (ReplayReport, error) {
	report := ReplayReport{Failed: []MutationFailure{}}
	if !q.replayMu.TryLock() {
		return report, ErrReplayInProgress
	}
	defer q.replayMu.Unlock()

	pending := q.List()
	if len(pending) == 0 {
		return report, nil
	}

	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !m.due(q.nowFunc()) {
			report.Deferred++
			continue
		}

		report.Attempted++
		if err := q.apply(ctx, m); err != nil {
			report.Failed = append(report.Failed, MutationFailure{
				ID:    m.ID,
				Table: m.Table,
				Type:  m.Type(),
				Error: err.Error(),
			})
			if q.fail(m, err) {
				report.DeadLettered++
			}
			continue
		}
		report.Succeeded++
		q.Remove(m.ID)
	}

	q.logger.Info("sync queue replayed", report)
	return report, nil
}

// apply executes a single mutation against the backend. Backend panics are returned as errors.
func (q *Queue) apply(ctx context.Context, m Mutation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("backend panic: %v", r)
		}
	}()

	switch p := m.Payload.(type) {
	case InsertPayload:
		return q.backend.Create(ctx, m.Table, p.Record)
	case UpdatePayload:
		return q.backend.Update(ctx, m.Table, Key{ID: p.ID, Tenant: m.Tenant}, p.Patch)
	case DeletePayload:
		return q.backend.Delete(ctx, m.Table, Key{ID: p.ID, Tenant: m.Tenant})
	default:
		return errors.Errorf("unsupported payload %T", m.Payload)
	}
}

// fail records a failed attempt on m. It reports whether m was moved to the dead letters.
// Only a replay modifies the bookkeeping of an entry, so m is the entry's current state.
func (q *Queue) fail(m Mutation, cause error) (deadLettered bool) {
	m.Attempts++
	m.LastError = cause.Error()
	m.NextAttemptAt = time.Time{}
	if d := q.policy.Backoff(m.Attempts); d > 0 {
		m.NextAttemptAt = q.nowFunc().Add(d)
	}

	if q.policy.giveUp(m.Attempts, cause) {
		// copy to the dead letters first so a store failure cannot lose the entry
		err := q.update(deadLetterKey, func(list []Mutation) ([]Mutation, error) {
			return append(list, m), nil
		})
		if err == nil {
			q.Remove(m.ID)
			q.logger.Error("mutation dead-lettered", errors.Wrapf(cause, "mutation %s on %s", m.ID, m.Table))
			return true
		}
		q.logger.Error("dead-lettering mutation", errors.Wrapf(err, "mutation %s", m.ID))
	}

	err := q.update(queueKey, func(list []Mutation) ([]Mutation, error) {
		for i := range list {
			if list[i].ID == m.ID {
				list[i].Attempts = m.Attempts
				list[i].LastError = m.LastError
				list[i].NextAttemptAt = m.NextAttemptAt
				return list, nil
			}
		}
		return nil, errNoChange // removed meanwhile
	})
	if err != nil {
		q.logger.Error("recording replay failure", errors.Wrapf(err, "mutation %s", m.ID))
	}
	q.logger.Warn("replaying mutation", errors.Wrapf(cause, "mutation %s on %s", m.ID, m.Table))
	return false
}
