// Package memstore: хранилище в памяти с семантикой Postgres-репозитория для тестов use-case слоя.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tg-insight-collector/internal/domain"
)

// Store реализует domain.Store в памяти. Транзакции применяются целиком или не применяются.
type Store struct {
	mu    sync.Mutex
	state *state

	// Fail позволяет тестам внедрить ошибку в именованную операцию.
	Fail map[string]error
}

type state struct {
	nextID   int64
	accounts map[int64]*domain.Account
	channels map[int64]*domain.Channel
	posts    map[int64]*domain.Post
	authors  map[int64]*domain.Author
	comments map[int64]*domain.Comment
	analyses map[int64]*domain.Analysis
	outbox   map[int64]*domain.OutboxEntry
}

var _ domain.Store = (*Store)(nil)

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{state: newState(), Fail: map[string]error{}}
}

func newState() *state {
	return &state{
		accounts: map[int64]*domain.Account{},
		channels: map[int64]*domain.Channel{},
		posts:    map[int64]*domain.Post{},
		authors:  map[int64]*domain.Author{},
		comments: map[int64]*domain.Comment{},
		analyses: map[int64]*domain.Analysis{},
		outbox:   map[int64]*domain.OutboxEntry{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for k, v := range s.accounts {
		cp := *v
		c.accounts[k] = &cp
	}
	for k, v := range s.channels {
		cp := *v
		c.channels[k] = &cp
	}
	for k, v := range s.posts {
		cp := *v
		c.posts[k] = &cp
	}
	for k, v := range s.authors {
		cp := *v
		c.authors[k] = &cp
	}
	for k, v := range s.comments {
		cp := *v
		c.comments[k] = &cp
	}
	for k, v := range s.analyses {
		cp := *v
		c.analyses[k] = &cp
	}
	for k, v := range s.outbox {
		cp := *v
		c.outbox[k] = &cp
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// view: репозиторий поверх конкретного состояния; вызывающий держит мьютекс.
type view struct {
	st   *state
	fail func(op string) error
}

var _ domain.Repository = (*view)(nil)

func (s *Store) view() *view {
	return &view{st: s.state, fail: s.fail}
}

func call[T any](s *Store, fn func(v *view) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.view())
}

func exec(s *Store, fn func(v *view) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.view())
}

// InTx выполняет fn над копией состояния и применяет её только при успехе.
// Транзакции выполняются строго по очереди.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InTx"); err != nil {
		return err
	}
	draft := s.state.clone()
	if err := fn(&view{st: draft, fail: s.fail}); err != nil {
		return err
	}
	if err := s.fail("Commit"); err != nil {
		return err
	}
	s.state = draft
	return nil
}

func (s *Store) fail(op string) error {
	if err, ok := s.Fail[op]; ok {
		return err
	}
	return nil
}

// Seed-хелперы для тестов.

// AddAccount добавляет аккаунт.
func (s *Store) AddAccount(a domain.Account) domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.state.id()
	cp := a
	s.state.accounts[a.ID] = &cp
	return a
}

// AddChannel добавляет канал.
func (s *Store) AddChannel(ch domain.Channel) domain.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch.ID = s.state.id()
	if ch.CollectionSchedule == "" {
		ch.CollectionSchedule = domain.DefaultCollectionSchedule
	}
	if ch.LastCollectionStatus == "" {
		ch.LastCollectionStatus = domain.CollectionStatusIdle
	}
	cp := ch
	s.state.channels[ch.ID] = &cp
	return ch
}

// AddPost добавляет пост.
func (s *Store) AddPost(p domain.Post) domain.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.state.id()
	cp := p
	s.state.posts[p.ID] = &cp
	return p
}

// AddAnalysis добавляет анализ.
func (s *Store) AddAnalysis(a domain.Analysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.state.id()
	cp := a
	s.state.analyses[a.ID] = &cp
}

// AddOutbox добавляет запись outbox с заданным временем создания.
func (s *Store) AddOutbox(e domain.OutboxEntry) domain.OutboxEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.state.id()
	if e.Status == "" {
		e.Status = domain.OutboxStatusPending
	}
	cp := e
	s.state.outbox[e.ID] = &cp
	return e
}

// Accounts возвращает снимок аккаунтов.
func (s *Store) Accounts() []domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return values(s.state.accounts)
}

// Posts возвращает снимок постов.
func (s *Store) Posts() []domain.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return values(s.state.posts)
}

// Comments возвращает снимок комментариев.
func (s *Store) Comments() []domain.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return values(s.state.comments)
}

// Authors возвращает снимок авторов.
func (s *Store) Authors() []domain.Author {
	s.mu.Lock()
	defer s.mu.Unlock()
	return values(s.state.authors)
}

// Analyses возвращает снимок анализов.
func (s *Store) Analyses() []domain.Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return values(s.state.analyses)
}

// Outbox возвращает снимок outbox.
func (s *Store) Outbox() []domain.OutboxEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return values(s.state.outbox)
}

// SetOutboxCreatedAt меняет время создания записи.
func (s *Store) SetOutboxCreatedAt(id int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.state.outbox[id]; ok {
		e.CreatedAt = at
	}
}

type identified interface {
	domain.Account | domain.Channel | domain.Post | domain.Author | domain.Comment | domain.Analysis | domain.OutboxEntry
}

func values[T identified](m map[int64]*T) []T {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]T, 0, len(m))
	for _, k := range keys {
		out = append(out, *m[k])
	}
	return out
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, domain.ErrNotFound)
}
