// Package app composes and runs the gateway process boundary.
//
// It opens the SQLite store, loads server constants and script definitions,
// and hosts the request router plus the world control links on one HTTP
// listener so every cluster decision is made from a single source of truth.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/louisbranch/hollowgate/internal/gateway/api"
	"github.com/louisbranch/hollowgate/internal/gateway/audit"
	"github.com/louisbranch/hollowgate/internal/gateway/auth"
	"github.com/louisbranch/hollowgate/internal/gateway/constants"
	"github.com/louisbranch/hollowgate/internal/gateway/relay"
	"github.com/louisbranch/hollowgate/internal/gateway/script"
	"github.com/louisbranch/hollowgate/internal/gateway/session"
	"github.com/louisbranch/hollowgate/internal/gateway/storage/sqlite"
	"github.com/louisbranch/hollowgate/internal/gateway/world"
)

// Config carries everything the gateway process needs to start.
type Config struct {
	Addr          string
	DBPath        string
	ScriptDir     string
	ConstantsPath string
	AuditDir      string
	MaxPayload    int
	SessionKey    string
}

// Server hosts the gateway service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
	journal    *audit.Journal
	worlds     *world.Registry
}

// New creates a configured gateway server listening on the configured
// address.
func New(cfg Config) (*Server, error) {
	if cfg.SessionKey == "" {
		return nil, fmt.Errorf("session signing key is required")
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	consts, err := constants.Load(cfg.ConstantsPath)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	library, err := loadLibrary(cfg.ScriptDir)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	apps, games := library.Counts()
	log.Printf("gateway loaded %d webapp and %d webgame scripts", apps, games)

	sessions := session.NewStore()
	registry := world.NewRegistry()
	tracker := world.NewTracker()
	bridge := relay.New(registry, nil)
	engine := script.NewEngine(library, store, tracker, bridge)

	var journal *audit.Journal
	if cfg.AuditDir != "" {
		journal = audit.NewJournal(cfg.AuditDir)
	}

	router := api.New(api.Config{
		Store:      store,
		Sessions:   sessions,
		Constants:  consts,
		Scripts:    engine,
		Worlds:     registry,
		Tracker:    tracker,
		Bridge:     bridge,
		Tokens:     auth.NewTokenIssuer([]byte(cfg.SessionKey)),
		Journal:    journal,
		MaxPayload: cfg.MaxPayload,
	})

	mux := http.NewServeMux()
	mux.Handle("/worlds/link", world.NewLinkServer(registry, tracker, store, sessions, log.Printf))
	mux.Handle("/", router)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: mux},
		store:      store,
		journal:    journal,
		worlds:     registry,
	}, nil
}

func loadLibrary(dir string) (*script.Library, error) {
	if dir == "" {
		return script.NewLibrary()
	}
	return script.LoadDefinitions(dir)
}

// Addr returns the listener address for the gateway server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a gateway server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the gateway server and blocks until it stops or the context
// ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.close()

	log.Printf("gateway listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

func (s *Server) close() {
	for _, worldID := range s.worlds.IDs() {
		s.worlds.Unregister(worldID)
	}
	if err := s.journal.Close(); err != nil {
		log.Printf("close audit journal: %v", err)
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}
