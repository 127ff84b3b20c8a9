// Package store persists chat sessions.  A session's turns are only
// ever appended or cleared wholesale, so the backends don't support
// editing individual turns.
package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/stevegt/chatbook/client"
)

// ErrNotFound is returned by Load for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Record is one stored session.
type Record struct {
	ID      string           `json:"id"`
	Created time.Time        `json:"created"`
	Updated time.Time        `json:"updated"`
	Turns   []client.ChatMsg `json:"turns"`
}

// Store is implemented by every backend.
type Store interface {
	// Load returns the session, or ErrNotFound.
	Load(id string) (*Record, error)
	// Append adds turns to the end of the session, creating it if
	// needed.
	Append(id string, turns ...client.ChatMsg) error
	// Clear drops all turns but keeps the session.
	Clear(id string) error
	// Delete removes the session.  Unknown ids are not an error.
	Delete(id string) error
	// List returns all sessions, most recently updated first.
	List() ([]*Record, error)
	Close() error
}

// Backend names accepted by Open.
const (
	Memory = "memory"
	Bolt   = "bbolt"
	SQLite = "sqlite"
)

// Backends lists the accepted backend names.
var Backends = []string{Memory, Bolt, SQLite}

// Open opens the named backend.  path is ignored for Memory.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", Memory:
		return NewMemory(), nil
	case Bolt:
		bs, err := OpenBolt(path)
		if err != nil {
			return nil, err
		}
		return bs, nil
	case SQLite:
		ss, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return ss, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// sortRecords orders by Updated, newest first, with the id as a
// tie-breaker so listings are stable.
func sortRecords(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Updated.Equal(recs[j].Updated) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].Updated.After(recs[j].Updated)
	})
}

var now = func() time.Time { return time.Now().UTC() }
