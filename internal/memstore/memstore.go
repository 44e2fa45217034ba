// Package memstore keeps relay state in process memory. It backs tests and
// single-node development runs where no database is configured.
package memstore

import (
	"context"
	"maps"
	"sync"

	"github.com/stoik/cex/internal/models"
	"github.com/stoik/cex/internal/relay"
)

// Store is an in-memory relay.Store. Transactions are serialized and work
// on a copy of the state that replaces the live state only on commit.
type Store struct {
	mu       sync.Mutex
	state    *state
	failNext []error
	closed   bool
}

var _ relay.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

// FailNext makes the next n transactions fail with err before running.
func (s *Store) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failNext = append(s.failNext, err)
	}
}

func (s *Store) InTx(ctx context.Context, fn func(tx relay.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if len(s.failNext) > 0 {
		err := s.failNext[0]
		s.failNext = s.failNext[1:]
		return err
	}

	work := s.state.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return ctx.Err()
}

func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

type storeError string

func (e storeError) Error() string { return string(e) }

const errClosed = storeError("memstore: closed")

type permKey struct {
	conn     string
	human    models.HumanID
	category string
}

type readKey struct {
	announcement string
	agent        models.AgentID
}

type messageRow struct {
	models.Message
	seq int64
}

type announcementRow struct {
	models.Announcement
	seq int64
}

type state struct {
	seq           int64
	humans        map[models.HumanID]models.Human
	agents        map[models.AgentID]models.Agent
	invites       map[string]models.Invite
	connections   map[string]models.Connection
	permissions   map[permKey]models.Permission
	threads       map[string]models.Thread
	messages      map[string]messageRow
	announcements map[string]announcementRow
	reads         map[readKey]models.AnnouncementRead
}

func newState() *state {
	return &state{
		humans:        map[models.HumanID]models.Human{},
		agents:        map[models.AgentID]models.Agent{},
		invites:       map[string]models.Invite{},
		connections:   map[string]models.Connection{},
		permissions:   map[permKey]models.Permission{},
		threads:       map[string]models.Thread{},
		messages:      map[string]messageRow{},
		announcements: map[string]announcementRow{},
		reads:         map[readKey]models.AnnouncementRead{},
	}
}

func (st *state) clone() *state {
	return &state{
		seq:           st.seq,
		humans:        maps.Clone(st.humans),
		agents:        maps.Clone(st.agents),
		invites:       maps.Clone(st.invites),
		connections:   maps.Clone(st.connections),
		permissions:   maps.Clone(st.permissions),
		threads:       maps.Clone(st.threads),
		messages:      maps.Clone(st.messages),
		announcements: maps.Clone(st.announcements),
		reads:         maps.Clone(st.reads),
	}
}

func (st *state) next() int64 {
	st.seq++
	return st.seq
}
