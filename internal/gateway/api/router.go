// Package api implements the gateway's HTTP request router and built-in
// endpoint handlers.
//
// Every endpoint is a POST carrying a JSON object. Handlers return a bool:
// false means the request was malformed (HTTP 400), true means HTTP 200 with
// the response payload, even when the payload's error field carries a
// business failure. Transport-level failures map to dedicated status codes
// before any handler runs.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/hollowgate/internal/gateway/audit"
	"github.com/louisbranch/hollowgate/internal/gateway/auth"
	"github.com/louisbranch/hollowgate/internal/gateway/constants"
	"github.com/louisbranch/hollowgate/internal/gateway/relay"
	"github.com/louisbranch/hollowgate/internal/gateway/script"
	"github.com/louisbranch/hollowgate/internal/gateway/session"
	"github.com/louisbranch/hollowgate/internal/gateway/storage"
	"github.com/louisbranch/hollowgate/internal/gateway/world"
)

// DefaultMaxPayload caps request bodies when no explicit limit is
// configured.
const DefaultMaxPayload = 4096

// Endpoints whose bodies carry passwords and must never be logged or
// journaled beyond their metadata.
var sensitivePaths = map[string]bool{
	"/account/register":        true,
	"/account/change_password": true,
	"/admin/update_account":    true,
}

// Handler is one built-in endpoint. A false return maps to HTTP 400.
type Handler func(request, response map[string]any, sess *session.Session) bool

// WorldDirectory is the view of connected worlds the router consults.
type WorldDirectory interface {
	Has(worldID int) bool
	IDs() []int
}

// Config carries the router's collaborators.
type Config struct {
	Store      storage.Store
	Sessions   *session.Store
	Constants  constants.Constants
	Scripts    *script.Engine
	Worlds     WorldDirectory
	Tracker    *world.Tracker
	Bridge     *relay.Bridge
	Tokens     *auth.TokenIssuer
	Journal    *audit.Journal
	MaxPayload int
}

// Router dispatches gateway API requests.
type Router struct {
	store      storage.Store
	sessions   *session.Store
	constants  constants.Constants
	scripts    *script.Engine
	worlds     WorldDirectory
	tracker    *world.Tracker
	bridge     *relay.Bridge
	tokens     *auth.TokenIssuer
	journal    *audit.Journal
	maxPayload int

	clock    func() time.Time
	newID    func() (string, error)
	logf     func(format string, args ...any)
	handlers map[string]Handler
}

// New creates a router with its handler table registered.
func New(cfg Config) *Router {
	r := &Router{
		store:      cfg.Store,
		sessions:   cfg.Sessions,
		constants:  cfg.Constants,
		scripts:    cfg.Scripts,
		worlds:     cfg.Worlds,
		tracker:    cfg.Tracker,
		bridge:     cfg.Bridge,
		tokens:     cfg.Tokens,
		journal:    cfg.Journal,
		maxPayload: cfg.MaxPayload,
		clock:      time.Now,
		newID:      defaultNewID,
		logf:       log.Printf,
	}
	if r.maxPayload <= 0 {
		r.maxPayload = DefaultMaxPayload
	}

	r.handlers = map[string]Handler{
		"/auth/get_challenge":      r.authGetChallenge,
		"/account/get_cp":          r.accountGetCP,
		"/account/get_details":     r.accountGetDetails,
		"/account/change_password": r.accountChangePassword,
		"/account/client_login":    r.accountClientLogin,
		"/account/register":        r.accountRegister,
		"/admin/get_accounts":      r.adminGetAccounts,
		"/admin/get_account":       r.adminGetAccount,
		"/admin/delete_account":    r.adminDeleteAccount,
		"/admin/update_account":    r.adminUpdateAccount,
		"/admin/kick_player":       r.adminKickPlayer,
		"/admin/message_world":     r.adminMessageWorld,
		"/admin/online":            r.adminOnline,
		"/admin/post_items":        r.adminPostItems,
		"/admin/get_promos":        r.adminGetPromos,
		"/admin/create_promo":      r.adminCreatePromo,
		"/admin/delete_promo":      r.adminDeletePromo,
		"/webgame/get_coins":       r.webGameGetCoins,
		"/webgame/start":           r.webGameStart,
		"/webgame/update":          r.webGameUpdate,
	}
	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	path := req.URL.Path

	if req.Method != http.MethodPost {
		r.deny(w, req, http.StatusMethodNotAllowed)
		return
	}
	if req.ContentLength <= 0 {
		r.deny(w, req, http.StatusLengthRequired)
		return
	}
	if req.ContentLength > int64(r.maxPayload) {
		r.logf("api: payload size of %d bytes rejected", req.ContentLength)
		r.deny(w, req, http.StatusRequestEntityTooLarge)
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, int64(r.maxPayload)+1))
	if err != nil || len(body) > r.maxPayload {
		r.deny(w, req, http.StatusRequestEntityTooLarge)
		return
	}

	var request map[string]any
	if err := json.Unmarshal(body, &request); err != nil || request == nil {
		// Anything but a JSON object is rejected with a status that cannot
		// be mistaken for a routing failure.
		r.deny(w, req, http.StatusTeapot)
		return
	}

	if sensitivePaths[path] {
		r.logf("api: %s request received from %s", path, req.RemoteAddr)
	} else {
		r.logf("api: %s request received from %s: %s", path, req.RemoteAddr, body)
	}

	response := map[string]any{}

	if strings.HasPrefix(path, "/webgame/") {
		r.serveWebGame(w, req, path, request, response)
		return
	}

	identity := requestString(request, "session_username")
	if path == "/auth/get_challenge" || path == "/account/register" {
		identity = requestString(request, "username")
	}
	identity = strings.ToLower(identity)
	if identity == "" {
		r.logf("api: request without an identity is not authorized")
		r.deny(w, req, http.StatusUnauthorized)
		return
	}

	sess := r.sessions.GetOrCreate(identity, req.RemoteAddr)
	sess.Lock()
	defer sess.Unlock()

	bypass := path == "/auth/get_challenge" || path == "/account/register"
	if !bypass {
		if !auth.Authenticate(request, response, sess) || sess.Account == nil {
			r.deny(w, req, http.StatusUnauthorized)
			return
		}
		if strings.HasPrefix(path, "/admin/") && sess.Account.UserLevel < constants.DefaultAdminLevel {
			r.logf("api: account %q is not authorized", sess.Account.Username)
			r.deny(w, req, http.StatusUnauthorized)
			return
		}
	}

	if strings.HasPrefix(path, "/webapp/") {
		parts := strings.Split(strings.TrimPrefix(path, "/webapp/"), "/")
		if len(parts) != 2 || !r.scripts.RunApp(parts[0], parts[1], request, response, sess) {
			r.deny(w, req, http.StatusBadRequest)
			return
		}
		r.respond(w, req, response)
		return
	}

	handler, ok := r.handlers[path]
	if !ok {
		r.deny(w, req, http.StatusNotFound)
		return
	}
	if !handler(request, response, sess) {
		r.deny(w, req, http.StatusBadRequest)
		return
	}
	r.respond(w, req, response)
}

// serveWebGame resolves the long-lived game session addressed by username
// and session ID. Game sessions arrive pre-authenticated from the account
// manager, so there is no challenge exchange here.
func (r *Router) serveWebGame(w http.ResponseWriter, req *http.Request, path string, request, response map[string]any) {
	username := strings.ToLower(requestString(request, "username"))
	sessionID := requestString(request, "sessionid")

	sess, ok := r.sessions.LookupGameSession(username, sessionID)
	if !ok {
		r.logf("api: webgame session %q/%q is not authorized", username, sessionID)
		r.deny(w, req, http.StatusUnauthorized)
		return
	}

	sess.Lock()
	defer sess.Unlock()

	handler, ok := r.handlers[path]
	if !ok {
		r.deny(w, req, http.StatusNotFound)
		return
	}
	if !handler(request, response, sess) {
		r.deny(w, req, http.StatusBadRequest)
		return
	}
	r.respond(w, req, response)
}

func (r *Router) respond(w http.ResponseWriter, req *http.Request, response map[string]any) {
	payload, err := json.Marshal(response)
	if err != nil {
		r.logf("api: marshal response: %v", err)
		r.deny(w, req, http.StatusInternalServerError)
		return
	}
	r.record(req, http.StatusOK)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (r *Router) deny(w http.ResponseWriter, req *http.Request, status int) {
	r.record(req, status)
	w.WriteHeader(status)
}

func (r *Router) record(req *http.Request, status int) {
	if err := r.journal.Record(audit.Entry{
		Time:   r.clock().UTC(),
		Path:   req.URL.Path,
		Remote: req.RemoteAddr,
		Status: status,
	}); err != nil {
		r.logf("api: audit journal: %v", err)
	}
}

// requireUserLevel enforces an endpoint's minimum privilege rank.
func requireUserLevel(response map[string]any, sess *session.Session, required int) bool {
	level := 0
	if sess.Account != nil {
		level = sess.Account.UserLevel
	}
	if level >= required {
		return true
	}
	response["error"] = fmt.Sprintf(
		"Requested command requires a user level of at least %d. Session level is only %d.",
		required, level)
	return false
}

func requestString(request map[string]any, key string) string {
	value, _ := request[key].(string)
	return value
}

func requestInt(request map[string]any, key string) (int, bool) {
	switch value := request[key].(type) {
	case float64:
		return int(value), true
	case int:
		return value, true
	default:
		return 0, false
	}
}
