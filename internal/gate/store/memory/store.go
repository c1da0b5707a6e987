// Package memory is an in-process gate store for tests and single-node
// development. Transactions are serialized by one store-wide lock and rolled
// back by restoring a snapshot, which gives the same observable isolation as a
// serializable database transaction without conflicts.
//
// The lock is held for the whole transaction, bcrypt token checks included,
// so concurrent requests queue behind each other. BeginSerializable gives up
// waiting when ctx is done.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"votegate/internal/gate/models"
	"votegate/internal/gate/ports"
	"votegate/pkg/platform/sentinel"
	"votegate/pkg/platform/tx"
)

type state struct {
	voters        map[int64]models.Voter
	messages      map[int64]models.Message
	colors        map[int64]models.ColorListEntry
	nextVoterID   int64
	nextMessageID int64
	nextColorID   int64
}

func newState() *state {
	return &state{
		voters:   make(map[int64]models.Voter),
		messages: make(map[int64]models.Message),
		colors:   make(map[int64]models.ColorListEntry),
	}
}

func (s *state) clone() *state {
	c := &state{
		voters:        make(map[int64]models.Voter, len(s.voters)),
		messages:      make(map[int64]models.Message, len(s.messages)),
		colors:        make(map[int64]models.ColorListEntry, len(s.colors)),
		nextVoterID:   s.nextVoterID,
		nextMessageID: s.nextMessageID,
		nextColorID:   s.nextColorID,
	}
	for k, v := range s.voters {
		if v.MessageID != nil {
			id := *v.MessageID
			v.MessageID = &id
		}
		c.voters[k] = v
	}
	for k, v := range s.messages {
		c.messages[k] = v
	}
	for k, v := range s.colors {
		c.colors[k] = v
	}
	return c
}

// Store implements ports.Store in memory.
type Store struct {
	txSem chan struct{}
	mu    sync.Mutex
	data  *state

	failCommits int
}

var _ ports.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: newState(), txSem: make(chan struct{}, 1)}
}

type handle struct {
	store    *Store
	snapshot *state
	done     bool
}

// BeginSerializable waits for the transaction lock and snapshots the data.
func (s *Store) BeginSerializable(ctx context.Context) (context.Context, tx.Handle, error) {
	if err := ctx.Err(); err != nil {
		return ctx, nil, err
	}
	select {
	case s.txSem <- struct{}{}:
	case <-ctx.Done():
		return ctx, nil, ctx.Err()
	}
	s.mu.Lock()
	snap := s.data.clone()
	s.mu.Unlock()
	return ctx, &handle{store: s, snapshot: snap}, nil
}

func (h *handle) Commit() error {
	if h.done {
		return fmt.Errorf("transaction already finished")
	}
	h.store.mu.Lock()
	if h.store.failCommits > 0 {
		h.store.failCommits--
		h.store.mu.Unlock()
		return tx.ErrSerialization
	}
	h.store.mu.Unlock()
	h.done = true
	<-h.store.txSem
	return nil
}

func (h *handle) Rollback() error {
	if h.done {
		return nil
	}
	h.store.mu.Lock()
	h.store.data = h.snapshot
	h.store.mu.Unlock()
	h.done = true
	<-h.store.txSem
	return nil
}

// FailNextCommits makes the next n commits report a serialization conflict.
func (s *Store) FailNextCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = n
}

func (s *Store) CreateVoter(_ context.Context, v *models.Voter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.nextVoterID++
	v.ID = s.data.nextVoterID
	s.data.voters[v.ID] = copyVoter(v)
	return nil
}

func (s *Store) UpdateVoter(_ context.Context, v *models.Voter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.voters[v.ID]; !ok {
		return fmt.Errorf("update voter %d: %w", v.ID, sentinel.ErrNotFound)
	}
	s.data.voters[v.ID] = copyVoter(v)
	return nil
}

func (s *Store) GetVoter(_ context.Context, id int64) (*models.Voter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data.voters[id]
	if !ok {
		return nil, fmt.Errorf("voter %d: %w", id, sentinel.ErrNotFound)
	}
	out := copyVoter(&v)
	return &out, nil
}

func (s *Store) GetVoterByMessage(_ context.Context, messageID int64) (*models.Voter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.data.voters {
		if v.MessageID != nil && *v.MessageID == messageID {
			out := copyVoter(&v)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("voter for message %d: %w", messageID, sentinel.ErrNotFound)
}

func (s *Store) FindActiveVoters(_ context.Context, q ports.VoterQuery) ([]*models.Voter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Voter
	for _, v := range s.data.voters {
		if !v.IsActive || !v.HasIdentity(q.ElectionID, q.Tlf, q.NationalID) {
			continue
		}
		if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, v.Status) {
			continue
		}
		c := copyVoter(&v)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID > out[j].ID
		}
		return out[i].Created.After(out[j].Created)
	})
	return out, nil
}

func (s *Store) CreateMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.nextMessageID++
	m.ID = s.data.nextMessageID
	s.data.messages[m.ID] = *m
	return nil
}

func (s *Store) UpdateMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.messages[m.ID]; !ok {
		return fmt.Errorf("update message %d: %w", m.ID, sentinel.ErrNotFound)
	}
	s.data.messages[m.ID] = *m
	return nil
}

func (s *Store) GetMessage(_ context.Context, id int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %d: %w", id, sentinel.ErrNotFound)
	}
	return &m, nil
}

func (s *Store) ListMessages(_ context.Context, q ports.MessageQuery) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Message
	for _, m := range s.data.messages {
		if q.Tlf != "" && m.Tlf != q.Tlf {
			continue
		}
		if q.IP != "" && m.IP != q.IP {
			continue
		}
		if q.Status != "" && m.Status != q.Status {
			continue
		}
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CountMessages(_ context.Context, f models.CountFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range s.data.messages {
		if f.Matches(&m) {
			count++
		}
	}
	return count, nil
}

func (s *Store) FindColorList(_ context.Context, f models.ColorListFilter) ([]*models.ColorListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ColorListEntry
	for _, e := range s.data.colors {
		if matchesColor(e, f) {
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddColorList(_ context.Context, e *models.ColorListEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.nextColorID++
	e.ID = s.data.nextColorID
	s.data.colors[e.ID] = *e
	return nil
}

func (s *Store) RemoveColorList(_ context.Context, f models.ColorListFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, e := range s.data.colors {
		if matchesColor(e, f) {
			delete(s.data.colors, id)
			removed++
		}
	}
	return removed, nil
}

func matchesColor(e models.ColorListEntry, f models.ColorListFilter) bool {
	if f.Dimension != "" && e.Dimension != f.Dimension {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Value != "" && e.Value != f.Value {
		return false
	}
	return true
}

func copyVoter(v *models.Voter) models.Voter {
	c := *v
	if v.MessageID != nil {
		id := *v.MessageID
		c.MessageID = &id
	}
	return c
}
