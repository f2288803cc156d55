// Package memory is an in-process store for progress, game states and the
// event ledger. It backs ENGINE_STORE=memory and the application tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/microlearn/gamification-engine/internal/domain/content"
	"github.com/microlearn/gamification-engine/internal/domain/gamestate"
	"github.com/microlearn/gamification-engine/internal/domain/ledger"
	"github.com/microlearn/gamification-engine/internal/domain/progress"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
	"github.com/microlearn/gamification-engine/internal/domain/uow"
)

// Store keeps all state in maps guarded by one RWMutex. Writers for a user
// are additionally serialized by a per-user mutex held for the whole unit of
// work, so reads never wait on a running transaction.
type Store struct {
	mu       sync.RWMutex
	progress map[string]map[string]*progress.Record // user -> lesson -> record
	states   map[string]*gamestate.GameState
	events   map[string]ledger.LearningEvent
	byUser   map[string][]string // user -> event ids in append order

	lessons map[string]content.Lesson
	users   map[string]bool // user -> active

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		progress: make(map[string]map[string]*progress.Record),
		states:   make(map[string]*gamestate.GameState),
		events:   make(map[string]ledger.LearningEvent),
		byUser:   make(map[string][]string),
		lessons:  make(map[string]content.Lesson),
		users:    make(map[string]bool),
		locks:    make(map[string]*sync.Mutex),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// AddLesson registers a lesson. The topic is normalized.
func (s *Store) AddLesson(id, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lessons[id] = content.Lesson{ID: id, Topic: shared.NormalizeTopic(topic)}
}

// AddUser registers an active user.
func (s *Store) AddUser(id string) {
	s.SetUserActive(id, true)
}

// SetUserActive toggles whether a user takes part in rankings.
func (s *Store) SetUserActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = active
}

// Lesson implements content.Catalog.
func (s *Store) Lesson(_ context.Context, lessonID string) (content.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lessons[lessonID]
	if !ok {
		return content.Lesson{}, shared.ErrLessonNotFound
	}
	return l, nil
}

// UserExists implements content.Catalog.
func (s *Store) UserExists(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userID], nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) userLock(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// Do implements uow.UnitOfWork. Writes are staged in a transaction and
// published to the store only when fn succeeds.
func (s *Store) Do(ctx context.Context, userID string, fn func(ctx context.Context, repos uow.Repositories) error) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &tx{
		store:    s,
		progress: make(map[string]*progress.Record),
		events:   make([]ledger.LearningEvent, 0, 1),
	}
	repos := uow.Repositories{
		Progress:  txProgress{tx},
		GameState: txGameState{tx},
		Ledger:    txLedger{tx},
	}
	if err := fn(ctx, repos); err != nil {
		return err
	}
	return tx.commit()
}

// tx holds staged writes for one unit of work.
type tx struct {
	store    *Store
	progress map[string]*progress.Record // lesson -> record
	state    *gamestate.GameState
	events   []ledger.LearningEvent
}

func (t *tx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range t.events {
		if _, dup := s.events[e.ID]; dup {
			return shared.ErrDuplicateEvent
		}
	}
	for _, e := range t.events {
		s.events[e.ID] = e
		s.byUser[e.UserID] = append(s.byUser[e.UserID], e.ID)
	}
	for _, rec := range t.progress {
		byLesson, ok := s.progress[rec.UserID]
		if !ok {
			byLesson = make(map[string]*progress.Record)
			s.progress[rec.UserID] = byLesson
		}
		byLesson[rec.LessonID] = rec
	}
	if t.state != nil {
		s.states[t.state.UserID] = t.state
	}
	return nil
}

type txProgress struct{ t *tx }

func (r txProgress) Get(ctx context.Context, userID, lessonID string) (*progress.Record, error) {
	if rec, ok := r.t.progress[lessonID]; ok && rec.UserID == userID {
		return rec.Clone(), nil
	}
	return r.t.store.GetProgress(ctx, userID, lessonID)
}

func (r txProgress) Save(_ context.Context, rec *progress.Record) error {
	r.t.progress[rec.LessonID] = rec.Clone()
	return nil
}

type txGameState struct{ t *tx }

func (r txGameState) Get(ctx context.Context, userID string) (*gamestate.GameState, error) {
	if r.t.state != nil && r.t.state.UserID == userID {
		return r.t.state.Clone(), nil
	}
	return r.t.store.GetGameState(ctx, userID)
}

func (r txGameState) Save(_ context.Context, gs *gamestate.GameState) error {
	r.t.state = gs.Clone()
	return nil
}

type txLedger struct{ t *tx }

func (r txLedger) Append(_ context.Context, e ledger.LearningEvent) error {
	r.t.store.mu.RLock()
	_, dup := r.t.store.events[e.ID]
	r.t.store.mu.RUnlock()
	if dup {
		return shared.ErrDuplicateEvent
	}
	for _, staged := range r.t.events {
		if staged.ID == e.ID {
			return shared.ErrDuplicateEvent
		}
	}
	r.t.events = append(r.t.events, e)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

// GetProgress returns a copy of a committed record.
func (s *Store) GetProgress(_ context.Context, userID, lessonID string) (*progress.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.progress[userID][lessonID]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	return rec.Clone(), nil
}

// GetGameState returns a copy of a committed game state.
func (s *Store) GetGameState(_ context.Context, userID string) (*gamestate.GameState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gs, ok := s.states[userID]
	if !ok {
		return nil, shared.ErrGameStateNotFound
	}
	return gs.Clone(), nil
}

// userRecords returns copies of the user's records, most recently accessed
// first. Callers hold at least the read lock.
func (s *Store) userRecords(userID string) []*progress.Record {
	out := make([]*progress.Record, 0, len(s.progress[userID]))
	for _, rec := range s.progress[userID] {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastAccessedAt.Equal(out[j].LastAccessedAt) {
			return out[i].LastAccessedAt.After(out[j].LastAccessedAt)
		}
		return out[i].LessonID < out[j].LessonID
	})
	return out
}

// ProgressReader adapts the store to progress.ReadRepository.
type ProgressReader struct{ s *Store }

// Progress returns the read-side progress repository.
func (s *Store) Progress() ProgressReader {
	return ProgressReader{s: s}
}

func (r ProgressReader) Get(ctx context.Context, userID, lessonID string) (*progress.Record, error) {
	return r.s.GetProgress(ctx, userID, lessonID)
}

func (r ProgressReader) ListByUser(_ context.Context, userID string, page shared.Pagination) ([]*progress.Record, int, error) {
	r.s.mu.RLock()
	all := r.s.userRecords(userID)
	r.s.mu.RUnlock()

	total := len(all)
	from := min(page.Offset(), total)
	to := min(from+page.Limit(), total)
	return all[from:to], total, nil
}

func (r ProgressReader) ListAccessedSince(_ context.Context, userID string, since time.Time) ([]*progress.Record, error) {
	r.s.mu.RLock()
	all := r.s.userRecords(userID)
	r.s.mu.RUnlock()

	out := make([]*progress.Record, 0, len(all))
	for _, rec := range all {
		if !rec.LastAccessedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r ProgressReader) Summarize(_ context.Context, userID string) (progress.Summary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return progress.Summarize(r.s.userRecords(userID)), nil
}

// GameStates adapts the store to a read-only gamestate lookup.
type GameStates struct{ s *Store }

// GameStates returns the read-side game state repository.
func (s *Store) GameStates() GameStates {
	return GameStates{s: s}
}

func (r GameStates) Get(ctx context.Context, userID string) (*gamestate.GameState, error) {
	return r.s.GetGameState(ctx, userID)
}

// ListByUser implements ledger.Reader.
func (s *Store) ListByUser(_ context.Context, userID string, since time.Time) ([]ledger.LearningEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.LearningEvent, 0, len(s.byUser[userID]))
	for _, id := range s.byUser[userID] {
		e := s.events[id]
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
