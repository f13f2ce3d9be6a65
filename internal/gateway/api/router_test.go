package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/hollowgate/internal/gateway/auth"
	"github.com/louisbranch/hollowgate/internal/gateway/constants"
	"github.com/louisbranch/hollowgate/internal/gateway/relay"
	"github.com/louisbranch/hollowgate/internal/gateway/script"
	"github.com/louisbranch/hollowgate/internal/gateway/session"
	"github.com/louisbranch/hollowgate/internal/gateway/storage"
	"github.com/louisbranch/hollowgate/internal/gateway/world"
)

type fakeStore struct {
	accounts   map[string]storage.Account
	characters map[string]storage.Character
	postItems  map[string][]storage.PostItem
	promos     []storage.Promo

	failUpdate bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:   make(map[string]storage.Account),
		characters: make(map[string]storage.Character),
		postItems:  make(map[string][]storage.PostItem),
	}
}

func (f *fakeStore) LoadAccountByUsername(_ context.Context, username string) (storage.Account, error) {
	account, ok := f.accounts[username]
	if !ok {
		return storage.Account{}, storage.ErrNotFound
	}
	return account, nil
}

func (f *fakeStore) LoadAccountByEmail(_ context.Context, email string) (storage.Account, error) {
	for _, account := range f.accounts {
		if account.Email == email {
			return account, nil
		}
	}
	return storage.Account{}, storage.ErrNotFound
}

func (f *fakeStore) LoadAllAccounts(_ context.Context) ([]storage.Account, error) {
	var accounts []storage.Account
	for _, account := range f.accounts {
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (f *fakeStore) InsertAccount(_ context.Context, account storage.Account) error {
	f.accounts[account.Username] = account
	return nil
}

func (f *fakeStore) UpdateAccount(_ context.Context, account storage.Account) error {
	if f.failUpdate {
		return errors.New("update failed")
	}
	f.accounts[account.Username] = account
	return nil
}

func (f *fakeStore) DeleteAccount(_ context.Context, username string) error {
	if _, ok := f.accounts[username]; !ok {
		return storage.ErrNotFound
	}
	delete(f.accounts, username)
	return nil
}

func (f *fakeStore) LoadCharacterByName(_ context.Context, name string) (storage.Character, error) {
	character, ok := f.characters[name]
	if !ok {
		return storage.Character{}, storage.ErrNotFound
	}
	return character, nil
}

func (f *fakeStore) LoadCharactersByAccount(_ context.Context, username string) ([]storage.Character, error) {
	var characters []storage.Character
	for _, character := range f.characters {
		if character.AccountUsername == username {
			characters = append(characters, character)
		}
	}
	return characters, nil
}

func (f *fakeStore) LoadPostItemsByAccount(_ context.Context, username string) ([]storage.PostItem, error) {
	return f.postItems[username], nil
}

func (f *fakeStore) LoadAllPromos(_ context.Context) ([]storage.Promo, error) {
	return f.promos, nil
}

func (f *fakeStore) LoadPromosByCode(_ context.Context, code string) ([]storage.Promo, error) {
	var matched []storage.Promo
	for _, promo := range f.promos {
		if promo.Code == code {
			matched = append(matched, promo)
		}
	}
	return matched, nil
}

func (f *fakeStore) InsertPromo(_ context.Context, promo storage.Promo) error {
	f.promos = append(f.promos, promo)
	return nil
}

func (f *fakeStore) DeletePromosByCode(_ context.Context, code string) (int, error) {
	var kept []storage.Promo
	deleted := 0
	for _, promo := range f.promos {
		if promo.Code == code {
			deleted++
			continue
		}
		kept = append(kept, promo)
	}
	f.promos = kept
	return deleted, nil
}

func (f *fakeStore) ProcessChangeSet(_ context.Context, changes *storage.ChangeSet) error {
	for _, op := range changes.Operations() {
		switch op.Kind {
		case storage.OpInsert:
			item, ok := op.Record.(storage.PostItem)
			if !ok {
				return errors.New("unsupported insert")
			}
			f.postItems[item.AccountUsername] = append(f.postItems[item.AccountUsername], item)
		case storage.OpExplicitUpdate:
			update := op.Update
			switch update.Table {
			case storage.TableAccounts:
				account, ok := f.accounts[update.Key]
				if !ok || account.CP != update.Expected {
					return storage.ErrConflict
				}
				account.CP = update.NewValue
				f.accounts[update.Key] = account
			case storage.TableCharacters:
				character, ok := f.characters[update.Key]
				if !ok || character.Coins != update.Expected {
					return storage.ErrConflict
				}
				character.Coins = update.NewValue
				f.characters[update.Key] = character
			default:
				return errors.New("unsupported table")
			}
		}
	}
	return nil
}

type fakeWorlds struct {
	ids map[int]bool
}

func (f *fakeWorlds) Has(worldID int) bool { return f.ids[worldID] }

func (f *fakeWorlds) IDs() []int {
	var ids []int
	for id := 1; id <= 16; id++ {
		if f.ids[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

type sentPacket struct {
	worldID int
	payload []byte
}

type fakeSender struct {
	packets []sentPacket
}

func (f *fakeSender) SendPacket(worldID int, payload []byte) error {
	f.packets = append(f.packets, sentPacket{worldID: worldID, payload: payload})
	return nil
}

type fakeNotifier struct {
	notices []string
}

func (f *fakeNotifier) RecordUpdated(kind, key string) {
	f.notices = append(f.notices, kind+":"+key)
}

type testRig struct {
	router   *Router
	store    *fakeStore
	sessions *session.Store
	tracker  *world.Tracker
	worlds   *fakeWorlds
	sender   *fakeSender
	notifier *fakeNotifier
}

func newTestRig(t *testing.T, library *script.Library) *testRig {
	t.Helper()

	store := newFakeStore()
	sessions := session.NewStore()
	tracker := world.NewTracker()
	worlds := &fakeWorlds{ids: make(map[int]bool)}
	sender := &fakeSender{}
	notifier := &fakeNotifier{}
	bridge := relay.New(sender, notifier)

	if library == nil {
		var err error
		library, err = script.NewLibrary()
		if err != nil {
			t.Fatalf("new library: %v", err)
		}
	}

	router := New(Config{
		Store:     store,
		Sessions:  sessions,
		Constants: constants.Defaults(),
		Scripts:   script.NewEngine(library, store, tracker, bridge),
		Worlds:    worlds,
		Tracker:   tracker,
		Bridge:    bridge,
		Tokens:    auth.NewTokenIssuer([]byte("test-signing-key")),
	})
	router.logf = func(string, ...any) {}
	router.clock = func() time.Time { return time.Unix(1700000000, 0) }

	return &testRig{
		router:   router,
		store:    store,
		sessions: sessions,
		tracker:  tracker,
		worlds:   worlds,
		sender:   sender,
		notifier: notifier,
	}
}

func (rig *testRig) seedAccount(t *testing.T, username, password string, level int) storage.Account {
	t.Helper()
	salt, err := auth.GenerateSalt()
	if err != nil {
		t.Fatalf("generate salt: %v", err)
	}
	account := storage.Account{
		Username:     username,
		DisplayName:  username,
		Email:        username + "@example.com",
		PasswordHash: auth.HashCredential(password, salt),
		Salt:         salt,
		CP:           0,
		UserLevel:    level,
		Enabled:      true,
	}
	rig.store.accounts[username] = account
	return account
}

func (rig *testRig) do(t *testing.T, path string, payload map[string]any) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	rig.router.ServeHTTP(w, req)

	response := map[string]any{}
	if w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
	}
	return w.Code, response
}

// authedClient drives the challenge handshake so tests can make a chain of
// authenticated calls.
type authedClient struct {
	rig       *testRig
	username  string
	hash      string
	challenge string
}

func (rig *testRig) login(t *testing.T, username, password string) *authedClient {
	t.Helper()
	status, response := rig.do(t, "/auth/get_challenge", map[string]any{"username": username})
	if status != http.StatusOK {
		t.Fatalf("get_challenge status = %d, want %d", status, http.StatusOK)
	}
	salt, _ := response["salt"].(string)
	challenge, _ := response["challenge"].(string)
	if salt == "" || challenge == "" {
		t.Fatalf("get_challenge response missing salt or challenge: %v", response)
	}
	return &authedClient{
		rig:       rig,
		username:  username,
		hash:      auth.HashCredential(password, salt),
		challenge: challenge,
	}
}

func (c *authedClient) do(t *testing.T, path string, payload map[string]any) (int, map[string]any) {
	t.Helper()
	if payload == nil {
		payload = map[string]any{}
	}
	payload["session_username"] = c.username
	payload["challenge"] = auth.ChallengeResponse(c.hash, c.challenge)

	status, response := c.rig.do(t, path, payload)
	if rotated, ok := response["challenge"].(string); ok {
		c.challenge = rotated
	}
	return status, response
}

func TestRouterTransportOutcomes(t *testing.T) {
	rig := newTestRig(t, nil)

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"rejects GET", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"rejects empty body", http.MethodPost, "", http.StatusLengthRequired},
		{"rejects oversized payload", http.MethodPost, `{"pad":"` + strings.Repeat("x", DefaultMaxPayload) + `"}`, http.StatusRequestEntityTooLarge},
		{"rejects non-object JSON", http.MethodPost, `[1,2,3]`, http.StatusTeapot},
		{"rejects JSON null", http.MethodPost, `null`, http.StatusTeapot},
		{"rejects missing identity", http.MethodPost, `{}`, http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var req *http.Request
			if tc.body == "" {
				req = httptest.NewRequest(tc.method, "/account/get_cp", nil)
			} else {
				req = httptest.NewRequest(tc.method, "/account/get_cp", strings.NewReader(tc.body))
			}
			w := httptest.NewRecorder()
			rig.router.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestChallengeHandshake(t *testing.T) {
	rig := newTestRig(t, nil)
	account := rig.seedAccount(t, "vess", "secret99", 0)
	account.CP = 42
	rig.store.accounts["vess"] = account

	client := rig.login(t, "vess", "secret99")

	status, response := client.do(t, "/account/get_cp", nil)
	if status != http.StatusOK {
		t.Fatalf("get_cp status = %d, want %d", status, http.StatusOK)
	}
	if cp, _ := response["cp"].(float64); cp != 42 {
		t.Fatalf("cp = %v, want 42", response["cp"])
	}
	if rotated, _ := response["challenge"].(string); rotated == "" {
		t.Fatal("authenticated response carries no rotated challenge")
	}

	// The rotated nonce keeps the chain alive.
	if status, _ = client.do(t, "/account/get_cp", nil); status != http.StatusOK {
		t.Fatalf("second get_cp status = %d, want %d", status, http.StatusOK)
	}
}

func TestChallengeFailureResetsSession(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.seedAccount(t, "vess", "secret99", 0)

	client := rig.login(t, "vess", "secret99")
	goodAnswer := auth.ChallengeResponse(client.hash, client.challenge)

	status, _ := rig.do(t, "/account/get_cp", map[string]any{
		"session_username": "vess",
		"challenge":        "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("bad answer status = %d, want %d", status, http.StatusUnauthorized)
	}

	// The failure reset the session, so the previously correct answer is
	// dead too.
	status, _ = rig.do(t, "/account/get_cp", map[string]any{
		"session_username": "vess",
		"challenge":        goodAnswer,
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("stale answer status = %d, want %d", status, http.StatusUnauthorized)
	}
}

func TestGetChallengeUnknownOrDisabledAccount(t *testing.T) {
	rig := newTestRig(t, nil)
	disabled := rig.seedAccount(t, "frozen", "secret99", 0)
	disabled.Enabled = false
	rig.store.accounts["frozen"] = disabled

	tests := []struct {
		name     string
		username string
	}{
		{"unknown account", "nobody"},
		{"disabled account", "frozen"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := rig.do(t, "/auth/get_challenge", map[string]any{"username": tc.username})
			if status != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", status, http.StatusBadRequest)
			}
		})
	}
}

func TestUnknownPathAuthenticated(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.seedAccount(t, "vess", "secret99", 0)
	client := rig.login(t, "vess", "secret99")

	status, _ := client.do(t, "/account/no_such_endpoint", nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", status, http.StatusNotFound)
	}
}

func TestRegister(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.seedAccount(t, "taken", "secret99", 0)

	tests := []struct {
		name      string
		payload   map[string]any
		status    int
		wantError string
	}{
		{
			name:      "success",
			payload:   map[string]any{"username": "newuser", "email": "new@example.com", "password": "secret99"},
			status:    http.StatusOK,
			wantError: "Success",
		},
		{
			name:      "duplicate username",
			payload:   map[string]any{"username": "taken", "email": "other@example.com", "password": "secret99"},
			status:    http.StatusOK,
			wantError: "Account exists",
		},
		{
			name:      "duplicate email",
			payload:   map[string]any{"username": "another", "email": "taken@example.com", "password": "secret99"},
			status:    http.StatusOK,
			wantError: "Account exists",
		},
		{
			name:      "bad username",
			payload:   map[string]any{"username": "1abc", "email": "a@example.com", "password": "secret99"},
			status:    http.StatusOK,
			wantError: "Bad username",
		},
		{
			name:      "bad password",
			payload:   map[string]any{"username": "valid", "email": "a@example.com", "password": "ab"},
			status:    http.StatusOK,
			wantError: "Bad password",
		},
		{
			name:      "bad email",
			payload:   map[string]any{"username": "valid", "email": "not-an-email", "password": "secret99"},
			status:    http.StatusOK,
			wantError: "Bad email",
		},
		{
			name:    "missing field",
			payload: map[string]any{"username": "valid", "password": "secret99"},
			status:  http.StatusBadRequest,
		},
		{
			name:    "non-string field",
			payload: map[string]any{"username": "valid", "email": 7, "password": "secret99"},
			status:  http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, response := rig.do(t, "/account/register", tc.payload)
			if status != tc.status {
				t.Fatalf("status = %d, want %d", status, tc.status)
			}
			if tc.wantError != "" && response["error"] != tc.wantError {
				t.Fatalf("error = %v, want %q", response["error"], tc.wantError)
			}
		})
	}

	created, ok := rig.store.accounts["newuser"]
	if !ok {
		t.Fatal("registered account was not stored")
	}
	defaults := constants.Defaults().Registration
	if created.TicketCount != defaults.TicketCount || created.Enabled != defaults.Enabled {
		t.Fatalf("account defaults = %+v, want registration defaults %+v", created, defaults)
	}
	if created.PasswordHash == "" || created.Salt == "" {
		t.Fatal("registered account has no stored credential")
	}
}

func TestChangePassword(t *testing.T) {
	rig := newTestRig(t, nil)
	before := rig.seedAccount(t, "vess", "secret99", 0)
	client := rig.login(t, "vess", "secret99")

	status, response := client.do(t, "/account/change_password", map[string]any{"password": "newpass1"})
	if status != http.StatusOK || response["error"] != "Success" {
		t.Fatalf("change_password = %d %v, want 200 Success", status, response["error"])
	}

	after := rig.store.accounts["vess"]
	if after.PasswordHash == before.PasswordHash || after.Salt == before.Salt {
		t.Fatal("stored credential was not rotated")
	}

	// The session was reset, so the old chain must re-authenticate.
	if status, _ = client.do(t, "/account/get_cp", nil); status != http.StatusUnauthorized {
		t.Fatalf("post-change status = %d, want %d", status, http.StatusUnauthorized)
	}

	client = rig.login(t, "vess", "newpass1")
	if status, _ = client.do(t, "/account/get_cp", nil); status != http.StatusOK {
		t.Fatalf("re-login status = %d, want %d", status, http.StatusOK)
	}
}

func TestClientLogin(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.seedAccount(t, "vess", "secret99", 0)

	t.Run("missing client version", func(t *testing.T) {
		client := rig.login(t, "vess", "secret99")
		_, response := client.do(t, "/account/client_login", nil)
		if code, _ := response["error_code"].(float64); code != float64(auth.CodeWrongClientVersion) {
			t.Fatalf("error_code = %v, want %d", response["error_code"], auth.CodeWrongClientVersion)
		}
	})

	t.Run("already logged in", func(t *testing.T) {
		rig.tracker.SetLoggedIn("vess", 1, 3)
		defer rig.tracker.SetLoggedOut("vess")

		client := rig.login(t, "vess", "secret99")
		_, response := client.do(t, "/account/client_login", map[string]any{"client_version": "1.666"})
		if code, _ := response["error_code"].(float64); code != float64(auth.CodeAccountStillLoggedIn) {
			t.Fatalf("error_code = %v, want %d", response["error_code"], auth.CodeAccountStillLoggedIn)
		}
	})

	t.Run("success", func(t *testing.T) {
		client := rig.login(t, "vess", "secret99")
		_, response := client.do(t, "/account/client_login", map[string]any{"client_version": "1.666"})
		if code, _ := response["error_code"].(float64); code != float64(auth.CodeSuccess) {
			t.Fatalf("error_code = %v, want %d", response["error_code"], auth.CodeSuccess)
		}
		sid1, _ := response["sid1"].(string)
		sid2, _ := response["sid2"].(string)
		if sid1 == "" || sid1 != sid2 {
			t.Fatalf("sid1 = %q, sid2 = %q, want matching non-empty identifiers", sid1, sid2)
		}
		if rig.store.accounts["vess"].LastLogin != 1700000000 {
			t.Fatalf("last login = %d, want 1700000000", rig.store.accounts["vess"].LastLogin)
		}
	})
}

func TestAdminEndpointsRequireRank(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.seedAccount(t, "pleb", "secret99", 0)
	client := rig.login(t, "pleb", "secret99")

	status, _ := client.do(t, "/admin/get_accounts", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", status, http.StatusUnauthorized)
	}
	if len(rig.store.postItems) != 0 || len(rig.sender.packets) != 0 {
		t.Fatal("denied admin call produced side effects")
	}
}

func TestRequireUserLevelMessage(t *testing.T) {
	response := map[string]any{}
	sess := &session.Session{}
	if requireUserLevel(response, sess, 1000) {
		t.Fatal("level 0 passed a level 1000 requirement")
	}
	want := "Requested command requires a user level of at least 1000. Session level is only 0."
	if response["error"] != want {
		t.Fatalf("error = %v, want %q", response["error"], want)
	}
}

func TestAdminUpdateAccount(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.seedAccount(t, "boss", "secret99", 1000)
	rig.seedAccount(t, "vess", "secret99", 0)
	admin := rig.login(t, "boss", "secret99")

	// Target holds an authenticated session that must be torn down by the
	// update.
	target := rig.login(t, "vess", "secret99")
	if status, _ := target.do(t, "/account/get_cp", nil); status != http.StatusOK {
		t.Fatalf("target warm-up failed")
	}

	_, response := admin.do(t, "/admin/update_account", map[string]any{
		"username": "vess",
		"cp":       150,
		"enabled":  true,
	})
	if response["error"] != "Success" {
		t.Fatalf("error = %v, want Success", response["error"])
	}
	if rig.store.accounts["vess"].CP != 150 {
		t.Fatalf("cp = %d, want 150", rig.store.accounts["vess"].CP)
	}
	if status, _ := target.do(t, "/account/get_cp", nil); status != http.StatusUnauthorized {
		t.Fatal("target session survived an admin update")
	}

	tests := []struct {
		name      string
		payload   map[string]any
		wantError string
	}{
		{"negative cp", map[string]any{"username": "vess", "cp": -1}, "CP must be a positive integer or zero."},
		{"negative tickets", map[string]any{"username": "vess", "ticket_count": -2}, "Ticket count must be a positive integer or zero."},
		{"level out of range", map[string]any{"username": "vess", "user_level": 1001}, "User level must be in the range [0, 1000]."},
		{"bad password", map[string]any{"username": "vess", "password": "ab"}, "Bad password"},
		{"missing username", map[string]any{}, "No username specified."},
		{"unknown account", map[string]any{"username": "ghost"}, "Account not found."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, response := admin.do(t, "/admin/update_account", tc.payload)
			if response["error"] != tc.wantError {
				t.Fatalf("error = %v, want %q", response["error"], tc.wantError)
			}
		})
	}
}

func TestAdminKickPlayer(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.seedAccount(t, "boss", "secret99", 1000)
	rig.seedAccount(t, "vess", "secret99", 0)
	rig.worlds.ids[1] = true
	admin := rig.login(t, "boss", "secret99")

	_, response := admin.do(t, "/admin/kick_player", map[string]any{"username": "vess"})
	if response["error"] != "Target account is not logged in." {
		t.Fatalf("error = %v, want not-logged-in message", response["error"])
	}

	rig.tracker.SetLoggedIn("vess", 2, 5)
	_, response = admin.do(t, "/admin/kick_player", map[string]any{"username": "vess"})
	if response["error"] != "Account (somehow) connected to invalid world." {
		t.Fatalf("error = %v, want invalid-world message", response["error"])
	}

	rig.tracker.SetLoggedIn("vess", 1, 5)
	_, response = admin.do(t, "/admin/kick_player", map[string]any{"username": "vess", "kick_level": 5})
	if response["error"] != "Invalid kick level specified." {
		t.Fatalf("error = %v, want invalid-kick-level message", response["error"])
	}

	_, response = admin.do(t, "/admin/kick_player", map[string]any{"username": "vess", "kick_level": 2})
	if response["error"] != "Success" {
		t.Fatalf("error = %v, want Success", response["error"])
	}
	if len(rig.sender.packets) != 1 || rig.sender.packets[0].worldID != 1 {
		t.Fatalf("packets = %+v, want one logout packet to world 1", rig.sender.packets)
	}
}

func TestAdminMessageWorld(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.seedAccount(t, "boss", "secret99", 1000)
	rig.worlds.ids[1] = true
	admin := rig.login(t, "boss", "secret99")

	tests := []struct {
		name      string
		payload   map[string]any
		wantError string
	}{
		{"missing world", map[string]any{"message": "hi"}, "No world specified."},
		{"unknown world", map[string]any{"world_id": 9, "message": "hi"}, "Invalid world specified."},
		{"missing message", map[string]any{"world_id": 1}, "No message specified."},
		{"bad type", map[string]any{"world_id": 1, "message": "hi", "type": "carrier-pigeon"}, "Invalid message type specified."},
		{"console", map[string]any{"world_id": 1, "message": "hi", "type": "console"}, "Success"},
		{"ticker", map[string]any{"world_id": 1, "message": "hi", "type": "ticker"}, "Success"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, response := admin.do(t, "/admin/message_world", tc.payload)
			if response["error"] != tc.wantError {
				t.Fatalf("error = %v, want %q", response["error"], tc.wantError)
			}
		})
	}
	if len(rig.sender.packets) != 2 {
		t.Fatalf("sent %d packets, want 2", len(rig.sender.packets))
	}
}

func TestAdminOnlineCounts(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.seedAccount(t, "boss", "secret99", 1000)
	rig.worlds.ids[1] = true
	rig.worlds.ids[2] = true
	rig.tracker.SetLoggedIn("vess", 1, 3)
	rig.tracker.SetLoggedIn("moira", 1, 4)
	rig.tracker.SetLoggedIn("quinn", 2, 1)
	admin := rig.login(t, "boss", "secret99")

	_, response := admin.do(t, "/admin/online", nil)
	if response["error"] != "Success" {
		t.Fatalf("error = %v, want Success", response["error"])
	}
	if total, _ := response["total"].(float64); total != 3 {
		t.Fatalf("total = %v, want 3", response["total"])
	}
	counts, _ := response["counts"].([]any)
	if len(counts) != 2 {
		t.Fatalf("counts = %v, want 2 worlds", response["counts"])
	}
}

func TestAdminOnlineTargets(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.seedAccount(t, "boss", "secret99", 1000)
	rig.seedAccount(t, "vess", "secret99", 0)
	rig.store.characters["Moira"] = storage.Character{Name: "Moira", AccountUsername: "vess", WorldID: 1}
	rig.tracker.SetLoggedIn("vess", 1, 3)
	admin := rig.login(t, "boss", "secret99")

	_, response := admin.do(t, "/admin/online", map[string]any{
		"targets": []any{
			map[string]any{"name": "vess", "type": "account"},
			map[string]any{"name": "Moira", "type": "character"},
		},
	})
	if response["error"] != "Success" {
		t.Fatalf("error = %v, want Success", response["error"])
	}
	results, _ := response["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("results = %v, want 2 entries", response["results"])
	}
	accountResult, _ := results[0].(map[string]any)
	if accountResult["status"] != "Online" || accountResult["character"] != "Moira" {
		t.Fatalf("account result = %v", accountResult)
	}
	characterResult, _ := results[1].(map[string]any)
	if characterResult["status"] != "Online" || characterResult["account"] != "vess" {
		t.Fatalf("character result = %v", characterResult)
	}

	_, response = admin.do(t, "/admin/online", map[string]any{
		"targets": []any{map[string]any{"name": "vess", "type": "starship"}},
	})
	if response["error"] != "Invalid target type specified." {
		t.Fatalf("error = %v, want invalid-target-type message", response["error"])
	}
}

func TestAdminPostItems(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.seedAccount(t, "boss", "secret99", 1000)
	target := rig.seedAccount(t, "vess", "secret99", 0)
	target.CP = 200
	rig.store.accounts["vess"] = target
	admin := rig.login(t, "boss", "secret99")

	tests := []struct {
		name      string
		payload   map[string]any
		wantError string
	}{
		{"negative cp", map[string]any{"username": "vess", "cp": -5, "products": []any{1}}, "Cannot add CP via post purchase."},
		{"insufficient cp", map[string]any{"username": "vess", "cp": 500, "products": []any{1}}, "Not enough CP."},
		{"no products", map[string]any{"username": "vess", "cp": 10}, "No product specified."},
		{"bad product", map[string]any{"username": "vess", "cp": 10, "products": []any{-3}}, "Invalid product."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, response := admin.do(t, "/admin/post_items", tc.payload)
			if response["error"] != tc.wantError {
				t.Fatalf("error = %v, want %q", response["error"], tc.wantError)
			}
		})
	}

	rig.tracker.SetLoggedIn("vess", 1, 7)
	_, response := admin.do(t, "/admin/post_items", map[string]any{
		"username": "vess",
		"cp":       50,
		"products": []any{101, 102},
	})
	if response["error"] != "Success" {
		t.Fatalf("error = %v, want Success", response["error"])
	}
	if cp, _ := response["cp"].(float64); cp != 150 {
		t.Fatalf("cp = %v, want 150", response["cp"])
	}
	if rig.store.accounts["vess"].CP != 150 {
		t.Fatalf("stored cp = %d, want 150", rig.store.accounts["vess"].CP)
	}
	items := rig.store.postItems["vess"]
	if len(items) != 2 || items[0].ProductID != 101 || items[1].ProductID != 102 {
		t.Fatalf("post items = %+v, want products 101 and 102", items)
	}
	if len(rig.sender.packets) != 1 {
		t.Fatalf("sent %d packets, want 1 balance update", len(rig.sender.packets))
	}
	if len(rig.notifier.notices) != 1 || rig.notifier.notices[0] != "account:vess" {
		t.Fatalf("notices = %v, want [account:vess]", rig.notifier.notices)
	}
}

func TestAdminPostItemsBoxLimit(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.seedAccount(t, "boss", "secret99", 1000)
	rig.seedAccount(t, "vess", "secret99", 0)
	admin := rig.login(t, "boss", "secret99")

	limit := constants.Defaults().MaxPostItems
	for i := 0; i < limit-1; i++ {
		rig.store.postItems["vess"] = append(rig.store.postItems["vess"], storage.PostItem{AccountUsername: "vess", ProductID: 1})
	}

	_, response := admin.do(t, "/admin/post_items", map[string]any{
		"username": "vess",
		"products": []any{101},
	})
	if response["error"] != "Maximum post item count exceeded." {
		t.Fatalf("error = %v, want box-limit message", response["error"])
	}
}

func TestAdminPromos(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.seedAccount(t, "boss", "secret99", 1000)
	admin := rig.login(t, "boss", "secret99")

	valid := map[string]any{
		"code":      "SUMMER",
		"startTime": 1000,
		"endTime":   2000,
		"useLimit":  5,
		"limitType": "account",
		"items":     []any{7, 8},
	}

	_, response := admin.do(t, "/admin/create_promo", valid)
	if response["error"] != "Success" {
		t.Fatalf("error = %v, want Success", response["error"])
	}
	if len(rig.store.promos) != 1 || rig.store.promos[0].Code != "SUMMER" {
		t.Fatalf("promos = %+v, want one SUMMER promo", rig.store.promos)
	}

	_, response = admin.do(t, "/admin/create_promo", valid)
	if response["error"] != "Promotion with that code already exists. Another will be made." {
		t.Fatalf("error = %v, want duplicate-code message", response["error"])
	}
	if len(rig.store.promos) != 2 {
		t.Fatalf("promos = %d, want 2", len(rig.store.promos))
	}

	invalid := func(overrides map[string]any) map[string]any {
		payload := map[string]any{}
		for k, v := range valid {
			payload[k] = v
		}
		for k, v := range overrides {
			payload[k] = v
		}
		return payload
	}

	tests := []struct {
		name      string
		payload   map[string]any
		wantError string
	}{
		{"malformed definition", invalid(map[string]any{"items": "7,8"}), "Invalid promo definition."},
		{"missing code", invalid(map[string]any{"code": ""}), "Invalid promo code."},
		{"bad timestamps", invalid(map[string]any{"endTime": 500}), "Invalid start or end timestamp."},
		{"bad use limit", invalid(map[string]any{"useLimit": 300}), "Invalid use limit."},
		{"bad limit type", invalid(map[string]any{"limitType": "galaxy"}), "Invalid limit type."},
		{"no items", invalid(map[string]any{"items": []any{}}), "Promo has no item."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, response := admin.do(t, "/admin/create_promo", tc.payload)
			if response["error"] != tc.wantError {
				t.Fatalf("error = %v, want %q", response["error"], tc.wantError)
			}
		})
	}

	_, response = admin.do(t, "/admin/get_promos", nil)
	promos, _ := response["promos"].([]any)
	if len(promos) != 2 {
		t.Fatalf("promos = %v, want 2", response["promos"])
	}

	_, response = admin.do(t, "/admin/delete_promo", map[string]any{"code": "SUMMER"})
	if response["error"] != "Deleted 2 promotions." {
		t.Fatalf("error = %v, want Deleted 2 promotions.", response["error"])
	}
	if len(rig.store.promos) != 0 {
		t.Fatalf("promos = %+v, want none", rig.store.promos)
	}
}

func TestAdminDeleteAccount(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.seedAccount(t, "boss", "secret99", 1000)
	rig.seedAccount(t, "vess", "secret99", 0)
	admin := rig.login(t, "boss", "secret99")

	status, _ := admin.do(t, "/admin/delete_account", map[string]any{"username": "vess"})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d", status, http.StatusOK)
	}
	if _, ok := rig.store.accounts["vess"]; ok {
		t.Fatal("account was not deleted")
	}

	status, _ = admin.do(t, "/admin/delete_account", map[string]any{"username": "vess"})
	if status != http.StatusBadRequest {
		t.Fatalf("repeat delete status = %d, want %d", status, http.StatusBadRequest)
	}
}

const routerGreetSource = `
function prepare(api, session, account, method, response)
	api:SetResponse(response, "prepared_for", method)
	return 0
end

function hello(api, session, account, world_id, fields, response)
	api:SetResponse(response, "greeting", "hello " .. account.username)
	api:SetResponse(response, "color", fields.color or "none")
	return 0
end
`

func TestWebAppDispatch(t *testing.T) {
	library, err := script.NewLibrary(script.Definition{
		Name:     "greet",
		Category: script.CategoryWebApp,
		Source:   routerGreetSource,
	})
	if err != nil {
		t.Fatalf("new library: %v", err)
	}
	rig := newTestRig(t, library)
	rig.seedAccount(t, "vess", "secret99", 0)
	client := rig.login(t, "vess", "secret99")

	status, response := client.do(t, "/webapp/greet/hello", map[string]any{"color": "teal"})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d", status, http.StatusOK)
	}
	if response["greeting"] != "hello vess" || response["color"] != "teal" {
		t.Fatalf("response = %v", response)
	}
	if response["error"] != "Success" {
		t.Fatalf("error = %v, want Success", response["error"])
	}

	status, _ = client.do(t, "/webapp/greet", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("short path status = %d, want %d", status, http.StatusBadRequest)
	}

	// A denied request discards the rotated nonce, so start a new chain.
	client = rig.login(t, "vess", "secret99")
	status, _ = client.do(t, "/webapp/nope/hello", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("unknown app status = %d, want %d", status, http.StatusBadRequest)
	}
}

func TestWebGameDispatch(t *testing.T) {
	rig := newTestRig(t, nil)
	account := rig.seedAccount(t, "vess", "secret99", 0)
	rig.store.characters["Moira"] = storage.Character{Name: "Moira", AccountUsername: "vess", WorldID: 1, Coins: 75}
	rig.sessions.StartGameSession(storage.GameSession{
		ID:            "game-1",
		Username:      "vess",
		CharacterName: "Moira",
		WorldID:       1,
	}, &account, "127.0.0.1")

	status, response := rig.do(t, "/webgame/get_coins", map[string]any{
		"username":  "vess",
		"sessionid": "game-1",
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d", status, http.StatusOK)
	}
	if response["error"] != "Success" || response["coins"] != "75" {
		t.Fatalf("response = %v, want Success with coins 75", response)
	}

	status, _ = rig.do(t, "/webgame/get_coins", map[string]any{
		"username":  "vess",
		"sessionid": "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("bad session status = %d, want %d", status, http.StatusUnauthorized)
	}

	status, response = rig.do(t, "/webgame/start", map[string]any{
		"username":  "vess",
		"sessionid": "game-1",
	})
	if status != http.StatusOK || response["error"] != "Game type was not specified" {
		t.Fatalf("start = %d %v, want missing-type message", status, response["error"])
	}
}
