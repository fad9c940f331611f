// Package session keeps server-side sessions for cookie-authenticated browsers.
package session

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/auth"
	"github.com/trezcool/chuo/core/user"
)

const idBytes = 32

var (
	ErrNotFound = core.NewAuthenticationError("session not found")
	ErrExpired  = core.NewAuthenticationError("session expired")

	// ErrBackendNotFound is returned by backends for unknown ids.
	ErrBackendNotFound = errors.New("session not found in backend")

	nowFunc = time.Now // mockable
)

type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Role         user.Role `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	SourceIP     string    `json:"source_ip"`
}

func (s Session) Principal() auth.Principal {
	return auth.Principal{ID: s.UserID, Email: s.Email, Role: s.Role, SessionID: s.ID}
}

// Backend persists sessions.
type Backend interface {
	Load(ctx context.Context, id string) (Session, error)
	// Save stores s until ttl elapses.
	Save(ctx context.Context, s Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

func IsNotFound(err error) bool { return errors.Cause(err) == ErrBackendNotFound }

// Store manages sessions with an absolute lifetime of maxAge from creation.
type Store struct {
	backend Backend
	maxAge  time.Duration
}

var _ auth.SessionValidator = (*Store)(nil)

func NewStore(backend Backend, maxAge time.Duration) *Store {
	return &Store{backend: backend, maxAge: maxAge}
}

func (st *Store) MaxAge() time.Duration { return st.maxAge }

func newID() (string, error) {
	key := securecookie.GenerateRandomKey(idBytes)
	if key == nil {
		return "", errors.New("generating session id")
	}
	return hex.EncodeToString(key), nil
}

// Create starts a session for p.
func (st *Store) Create(ctx context.Context, p auth.Principal, sourceIP string) (Session, error) {
	id, err := newID()
	if err != nil {
		return Session{}, err
	}
	now := nowFunc()
	s := Session{
		ID:           id,
		UserID:       p.ID,
		Email:        p.Email,
		Role:         p.Role,
		CreatedAt:    now,
		LastActivity: now,
		SourceIP:     sourceIP,
	}
	if err = st.backend.Save(ctx, s, st.maxAge); err != nil {
		return Session{}, errors.Wrap(err, "saving session")
	}
	return s, nil
}

// Get returns the session id unless it does not exist or has expired.
// Expired sessions are deleted.
func (st *Store) Get(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, ErrNotFound
	}
	s, err := st.backend.Load(ctx, id)
	if IsNotFound(err) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, errors.Wrap(err, "loading session")
	}

	if !nowFunc().Before(s.CreatedAt.Add(st.maxAge)) {
		if err = st.backend.Delete(ctx, id); err != nil {
			return Session{}, errors.Wrap(err, "deleting expired session")
		}
		return Session{}, ErrExpired
	}
	return s, nil
}

// Validate returns the identity of session id and records the activity.
// The session still expires maxAge after its creation.
func (st *Store) Validate(ctx context.Context, id string) (auth.Principal, error) {
	s, err := st.Get(ctx, id)
	if err != nil {
		return auth.Principal{}, err
	}
	if err = st.touch(ctx, s); err != nil {
		return auth.Principal{}, err
	}
	return s.Principal(), nil
}

func (st *Store) touch(ctx context.Context, s Session) error {
	now := nowFunc()
	s.LastActivity = now
	ttl := s.CreatedAt.Add(st.maxAge).Sub(now)
	if ttl <= 0 {
		return nil
	}
	return errors.Wrap(st.backend.Save(ctx, s, ttl), "touching session")
}

// Destroy ends session id. Destroying an unknown session is not an error.
func (st *Store) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := st.backend.Delete(ctx, id); err != nil && !IsNotFound(err) {
		return errors.Wrap(err, "deleting session")
	}
	return nil
}

// Rotate moves session id to a new id, keeping its identity and lifetime.
func (st *Store) Rotate(ctx context.Context, id string) (Session, error) {
	s, err := st.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	newID, err := newID()
	if err != nil {
		return Session{}, err
	}
	old := s.ID
	s.ID = newID
	s.LastActivity = nowFunc()

	ttl := s.CreatedAt.Add(st.maxAge).Sub(s.LastActivity)
	if err = st.backend.Save(ctx, s, ttl); err != nil {
		return Session{}, errors.Wrap(err, "saving rotated session")
	}
	if err = st.Destroy(ctx, old); err != nil {
		return Session{}, err
	}
	return s, nil
}

// MemoryBackend keeps sessions in process memory. Each session is evicted by a
// timer once its ttl elapses, whether or not it is looked up again.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
	closed   bool
}

type memSession struct {
	s     Session
	timer *time.Timer
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]*memSession)}
}

func (mb *MemoryBackend) Load(_ context.Context, id string) (Session, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	ms, ok := mb.sessions[id]
	if !ok {
		return Session{}, ErrBackendNotFound
	}
	return ms.s, nil
}

func (mb *MemoryBackend) Save(_ context.Context, s Session, ttl time.Duration) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.remove(s.ID)
	ms := &memSession{s: s}
	mb.sessions[s.ID] = ms
	if ttl > 0 && !mb.closed {
		ms.timer = time.AfterFunc(ttl, func() { mb.evict(s.ID, ms) })
	}
	return nil
}

func (mb *MemoryBackend) Delete(_ context.Context, id string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.remove(id)
	return nil
}

// Close stops the eviction timers. Sessions saved afterwards are only expired lazily.
func (mb *MemoryBackend) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.closed = true
	for _, ms := range mb.sessions {
		if ms.timer != nil {
			ms.timer.Stop()
		}
	}
	return nil
}

// remove deletes id and stops its timer. mu must be held.
func (mb *MemoryBackend) remove(id string) {
	if ms, ok := mb.sessions[id]; ok {
		if ms.timer != nil {
			ms.timer.Stop()
		}
		delete(mb.sessions, id)
	}
}

func (mb *MemoryBackend) evict(id string, ms *memSession) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	// the session may have been saved again since the timer was armed
	if cur, ok := mb.sessions[id]; ok && cur == ms {
		delete(mb.sessions, id)
	}
}

// Len returns the number of stored sessions.
func (mb *MemoryBackend) Len() int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.sessions)
}
