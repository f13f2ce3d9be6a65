package world

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/louisbranch/hollowgate/internal/gateway/session"
	"github.com/louisbranch/hollowgate/internal/gateway/storage"
)

// controlFrame is one JSON message on a world's control link. Worlds report
// account logins, logouts, and webgame session handovers; everything else
// flows the other way as binary relay packets.
type controlFrame struct {
	Event         string `json:"event"`
	Username      string `json:"username"`
	ChannelID     int32  `json:"channel_id"`
	SessionID     string `json:"session_id"`
	CharacterName string `json:"character_name"`
}

// AccountLoader resolves the account behind a game-session handover.
type AccountLoader interface {
	LoadAccountByUsername(ctx context.Context, username string) (storage.Account, error)
}

// GameSessions receives game-session handovers announced by world servers.
type GameSessions interface {
	StartGameSession(record storage.GameSession, account *storage.Account, clientAddress string) *session.Session
	EndGameSession(username, sessionID string)
}

// LinkServer accepts world server control connections. A world identifies
// itself with the world_id query parameter, stays registered for as long as
// the websocket lives, and feeds the login tracker and game-session table
// through control frames.
type LinkServer struct {
	registry *Registry
	tracker  *Tracker
	accounts AccountLoader
	games    GameSessions
	logf     func(format string, args ...any)
	upgrader websocket.Upgrader
}

// NewLinkServer creates a link server backed by the given registry, tracker,
// account loader, and game-session table.
func NewLinkServer(registry *Registry, tracker *Tracker, accounts AccountLoader, games GameSessions, logf func(format string, args ...any)) *LinkServer {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &LinkServer{
		registry: registry,
		tracker:  tracker,
		accounts: accounts,
		games:    games,
		logf:     logf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (s *LinkServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	worldID, err := strconv.Atoi(r.URL.Query().Get("world_id"))
	if err != nil || worldID <= 0 {
		http.Error(w, "invalid world_id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("world: upgrade link for world %d: %v", worldID, err)
		return
	}

	s.registry.Register(worldID, NewConnection(conn))
	s.logf("world: world %d connected from %s", worldID, r.RemoteAddr)

	s.readLoop(worldID, conn)

	// The link is gone, so every login it reported is stale.
	for _, username := range s.tracker.UsersInWorld(worldID) {
		s.tracker.SetLoggedOut(username)
	}
	s.registry.Unregister(worldID)
	s.logf("world: world %d disconnected", worldID)
}

func (s *LinkServer) readLoop(worldID int, conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame controlFrame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Username == "" {
			continue
		}
		username := strings.ToLower(frame.Username)

		switch frame.Event {
		case "login":
			s.tracker.SetLoggedIn(username, worldID, frame.ChannelID)
		case "logout":
			s.tracker.SetLoggedOut(username)
		case "game_start":
			s.startGame(worldID, username, frame, conn.RemoteAddr().String())
		case "game_end":
			if frame.SessionID != "" {
				s.games.EndGameSession(username, frame.SessionID)
			}
		}
	}
}

// startGame registers a webgame session announced by a world. The world owns
// the session ID; the gateway serves script requests against it until the
// matching game_end frame arrives.
func (s *LinkServer) startGame(worldID int, username string, frame controlFrame, remoteAddr string) {
	if frame.SessionID == "" || frame.CharacterName == "" {
		s.logf("world: world %d sent incomplete game_start for %q", worldID, username)
		return
	}

	account, err := s.accounts.LoadAccountByUsername(context.Background(), username)
	if err != nil {
		s.logf("world: world %d game_start for unknown account %q: %v", worldID, username, err)
		return
	}

	s.games.StartGameSession(storage.GameSession{
		ID:            frame.SessionID,
		Username:      username,
		CharacterName: frame.CharacterName,
		WorldID:       worldID,
	}, &account, remoteAddr)
	s.logf("world: world %d started game session %s for %q", worldID, frame.SessionID, username)
}
