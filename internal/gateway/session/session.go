// Package session tracks server-held continuity state for gateway clients.
//
// A Session binds a canonicalized account identity across otherwise-stateless
// requests. Standard sessions are created on first reference to an unseen
// identity; game sessions are long-lived, handed over on the world control
// link when a webgame starts, and additionally carry the retained script
// execution context and the backing game-session record.
//
// Sessions are never expired by this layer: the table is bounded by account
// count and lives for the process lifetime.
package session

import (
	"io"
	"sync"

	"github.com/louisbranch/hollowgate/internal/gateway/storage"
)

// Kind discriminates session variants.
type Kind int

const (
	// Standard is a gateway-request session keyed by username.
	Standard Kind = iota
	// Game is a long-lived webgame session keyed by username and session ID.
	Game
)

// GameState is the variant-specific payload of a game session.
type GameState struct {
	// Record is the backing game-session record handed over by the account
	// manager.
	Record storage.GameSession

	// Runtime holds the retained script execution context. It is owned by
	// the script sandbox and never outlives this session.
	Runtime any
}

// Session is the server-held continuity object for one identity.
//
// All field mutation must happen while holding the request lock; the lock is
// held for the full duration of one logical request, which serializes
// requests against the same identity.
type Session struct {
	mu sync.Mutex

	Username      string
	Account       *storage.Account
	Challenge     string
	ClientAddress string

	kind Kind
	Game *GameState
}

// Lock acquires the session's request lock.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session's request lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// Kind returns the session variant.
func (s *Session) Kind() Kind { return s.kind }

// Reset clears the identity binding, forcing the client to restart
// authentication from nonce issuance. Callers must hold the request lock.
func (s *Session) Reset() {
	s.Username = ""
	s.Challenge = ""
	s.Account = nil
}

// Store is the process-wide session table.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	games    map[string]*Session
}

// NewStore creates an empty session table.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		games:    make(map[string]*Session),
	}
}

// GetOrCreate returns the session for an identity, creating a standard
// session on first reference. The table lock guards only lookup/insert and is
// never held during request processing.
func (s *Store) GetOrCreate(username, clientAddress string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[username]; ok {
		return existing
	}
	created := &Session{ClientAddress: clientAddress, kind: Standard}
	s.sessions[username] = created
	return created
}

// ResetMatching invalidates the standard session bound to the given username,
// if any. Used when an admin mutates or deletes an account out from under a
// logged-in session.
//
// The entry is dropped from the table without touching its request lock; a
// caller may hold its own session lock for the duration of a request, and
// taking a second session's lock here could deadlock two requests targeting
// each other. The next request for the identity starts from a fresh,
// unauthenticated session.
func (s *Store) ResetMatching(username string) {
	s.mu.Lock()
	delete(s.sessions, username)
	s.mu.Unlock()
}

func gameKey(username, sessionID string) string {
	return username + "\x00" + sessionID
}

// StartGameSession registers a pre-authenticated game session handed over on
// a world control link. The session arrives already bound to its account.
func (s *Store) StartGameSession(record storage.GameSession, account *storage.Account, clientAddress string) *Session {
	created := &Session{
		Username:      record.Username,
		Account:       account,
		ClientAddress: clientAddress,
		kind:          Game,
		Game:          &GameState{Record: record},
	}

	s.mu.Lock()
	s.games[gameKey(record.Username, record.ID)] = created
	s.mu.Unlock()
	return created
}

// LookupGameSession resolves a game session by username and session ID.
func (s *Store) LookupGameSession(username, sessionID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found, ok := s.games[gameKey(username, sessionID)]
	return found, ok
}

// EndGameSession removes a game session and closes its script runtime when
// it implements io.Closer. The runtime never outlives the session.
func (s *Store) EndGameSession(username, sessionID string) {
	s.mu.Lock()
	key := gameKey(username, sessionID)
	target, ok := s.games[key]
	if ok {
		delete(s.games, key)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	target.Lock()
	defer target.Unlock()
	if target.Game != nil {
		if closer, ok := target.Game.Runtime.(io.Closer); ok {
			_ = closer.Close()
		}
		target.Game.Runtime = nil
	}
}
