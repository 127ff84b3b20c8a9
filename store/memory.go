package store

import (
	"sync"

	"github.com/stevegt/chatbook/client"
)

// MemoryStore keeps sessions in process memory.  Everything is lost
// on exit.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]*Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemory() *MemoryStore {
	return &MemoryStore{recs: make(map[string]*Record)}
}

func (m *MemoryStore) Load(id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec), nil
}

func (m *MemoryStore) Append(id string, turns ...client.ChatMsg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := now()
	rec, ok := m.recs[id]
	if !ok {
		rec = &Record{ID: id, Created: t}
		m.recs[id] = rec
	}
	rec.Turns = append(rec.Turns, turns...)
	rec.Updated = t
	return nil
}

func (m *MemoryStore) Clear(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return ErrNotFound
	}
	rec.Turns = nil
	rec.Updated = now()
	return nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	return nil
}

func (m *MemoryStore) List() (recs []*Record, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.recs {
		recs = append(recs, clone(rec))
	}
	sortRecords(recs)
	return
}

func (m *MemoryStore) Close() error {
	return nil
}

func clone(rec *Record) *Record {
	cp := *rec
	cp.Turns = append([]client.ChatMsg(nil), rec.Turns...)
	return &cp
}
