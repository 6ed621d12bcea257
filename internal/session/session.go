package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dmorgan81/liblibstudio/internal/generate"
	"github.com/dmorgan81/liblibstudio/internal/liblib"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Mode string

const (
	ModeChat     Mode = "chat"
	ModeBasic    Mode = "basic"
	ModeAdvanced Mode = "advanced"
)

var Modes = []Mode{ModeChat, ModeBasic, ModeAdvanced}

func ParseMode(s string) (Mode, bool) {
	return lo.Find(Modes, func(m Mode) bool { return string(m) == s })
}

var (
	ErrNotFound = errors.New("session: not found")
	ErrNoName   = errors.New("session: name is required")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat bubble. ImageID is set for image messages.
type Message struct {
	Role    Role
	Text    string
	ImageID string
}

// Artifact is a generated image kept for display and download.
type Artifact struct {
	ID        string
	Mode      Mode
	Prompt    string
	PNG       []byte
	Thumb     []byte
	Elapsed   time.Duration
	CreatedAt time.Time
}

// Session is created at login and dropped at logout. Nothing in it is shared
// with other sessions.
type Session struct {
	ID          string
	Username    string
	Credentials liblib.Credentials
	Generator   generate.Generator
	CreatedAt   time.Time

	inflight  sync.Mutex
	mu        sync.RWMutex
	history   []Message
	latest    map[Mode]string
	artifacts map[string]*Artifact
}

const greeting = "您好！请输入提示词。"

func newSession(username string, creds liblib.Credentials, gen generate.Generator) *Session {
	return &Session{
		ID:          uuid.NewString(),
		Username:    username,
		Credentials: creds,
		Generator:   gen,
		CreatedAt:   time.Now(),
		history:     []Message{{Role: RoleAssistant, Text: greeting}},
		latest:      map[Mode]string{},
		artifacts:   map[string]*Artifact{},
	}
}

// Begin claims the session's single generation slot.
func (s *Session) Begin() bool {
	return s.inflight.TryLock()
}

func (s *Session) End() {
	s.inflight.Unlock()
}

func (s *Session) Append(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msgs...)
}

func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.history...)
}

// AddArtifact stores a and makes it the latest image of its mode.
func (s *Session) AddArtifact(a *Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	s.artifacts[a.ID] = a
	s.latest[a.Mode] = a.ID
}

func (s *Session) Artifact(id string) (*Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	return a, ok
}

func (s *Session) Latest(mode Mode) (*Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.latest[mode]
	if !ok {
		return nil, false
	}
	return s.artifacts[id], true
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	factory  generate.Factory
}

func NewStore(factory generate.Factory) *Store {
	return &Store{sessions: map[string]*Session{}, factory: factory}
}

func (s *Store) Create(username string, creds liblib.Credentials) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrNoName
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	sess := newSession(username, creds, s.factory(creds))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
