package api

import (
	"context"
	"errors"
	"strings"

	"github.com/louisbranch/hollowgate/internal/gateway/auth"
	"github.com/louisbranch/hollowgate/internal/gateway/session"
	"github.com/louisbranch/hollowgate/internal/gateway/storage"
	"github.com/louisbranch/hollowgate/internal/id"
)

func defaultNewID() (string, error) {
	return id.NewID()
}

// authGetChallenge binds a username and a fresh nonce to the session. The
// client answers on its next request with hash(passwordHash, nonce).
func (r *Router) authGetChallenge(request, response map[string]any, sess *session.Session) bool {
	username := strings.ToLower(requestString(request, "username"))
	if username == "" {
		r.logf("api: get_challenge request missing a username")
		sess.Reset()
		return false
	}

	account, err := r.store.LoadAccountByUsername(context.Background(), username)
	if err != nil || !account.Enabled {
		r.logf("api: invalid account (is it disabled?): %s", username)
		sess.Reset()
		return false
	}

	challenge, err := auth.GenerateChallenge()
	if err != nil {
		sess.Reset()
		return false
	}

	sess.Username = username
	sess.Account = &account
	sess.Challenge = challenge

	response["challenge"] = challenge
	response["salt"] = account.Salt
	return true
}

func (r *Router) accountGetCP(request, response map[string]any, sess *session.Session) bool {
	account, err := r.store.LoadAccountByUsername(context.Background(), sess.Username)
	if err != nil {
		return false
	}
	response["cp"] = account.CP
	return true
}

func (r *Router) accountGetDetails(request, response map[string]any, sess *session.Session) bool {
	account, err := r.store.LoadAccountByUsername(context.Background(), sess.Username)
	if err != nil {
		return false
	}
	r.writeAccountDetails(response, account)
	return true
}

// writeAccountDetails fills the detail fields shared by the self-service and
// admin account queries.
func (r *Router) writeAccountDetails(target map[string]any, account storage.Account) {
	target["username"] = account.Username
	target["disp_name"] = account.DisplayName
	target["email"] = account.Email
	target["cp"] = account.CP
	target["ticket_count"] = account.TicketCount
	target["user_level"] = account.UserLevel
	target["enabled"] = account.Enabled
	target["last_login"] = account.LastLogin
	target["ban_reason"] = account.BanReason
	target["ban_initiator"] = account.BanInitiator

	characters, err := r.store.LoadCharactersByAccount(context.Background(), account.Username)
	if err != nil {
		r.logf("api: load characters for %s: %v", account.Username, err)
	}
	target["character_count"] = len(characters)
}

func (r *Router) accountChangePassword(request, response map[string]any, sess *session.Session) bool {
	account, err := r.store.LoadAccountByUsername(context.Background(), sess.Username)
	if err != nil {
		response["error"] = "Account not found."
		return true
	}

	password, ok := request["password"].(string)
	if !ok {
		response["error"] = "Password is missing."
		return true
	}
	if !validPassword(password) {
		response["error"] = "Bad password"
		return true
	}

	salt, err := auth.GenerateSalt()
	if err != nil {
		response["error"] = "Failed to update password."
		return true
	}
	account.Salt = salt
	account.PasswordHash = auth.HashCredential(password, salt)

	err = r.store.UpdateAccount(context.Background(), account)

	// Force re-authentication against the new credential.
	sess.Reset()

	if err != nil {
		response["error"] = "Failed to update password."
	} else {
		response["error"] = "Success"
	}
	return true
}

// accountClientLogin hands the client signed session identifiers that the
// world tier verifies offline.
func (r *Router) accountClientLogin(request, response map[string]any, sess *session.Session) bool {
	account, err := r.store.LoadAccountByUsername(context.Background(), sess.Username)
	if err != nil {
		auth.CodeBadUsernamePassword.Write(response)
		return true
	}

	if _, ok := request["client_version"]; !ok {
		auth.CodeWrongClientVersion.Write(response)
		return true
	}

	if _, _, loggedIn := r.tracker.IsLoggedIn(account.Username); loggedIn {
		auth.CodeAccountStillLoggedIn.Write(response)
		return true
	}

	token, err := r.tokens.IssueSessionID(account.Username)
	if err != nil {
		r.logf("api: issue session token for %s: %v", account.Username, err)
		auth.CodeSystemError.Write(response)
		return true
	}

	account.LastLogin = r.clock().Unix()
	if err := r.store.UpdateAccount(context.Background(), account); err != nil {
		auth.CodeSystemError.Write(response)
		return true
	}

	auth.CodeSuccess.Write(response)
	response["sid1"] = token
	response["sid2"] = token
	return true
}

func (r *Router) accountRegister(request, response map[string]any, sess *session.Session) bool {
	if err := validateRegisterPayload(request); err != nil {
		return false
	}

	username := strings.ToLower(requestString(request, "username"))
	email := requestString(request, "email")
	password := requestString(request, "password")
	if username == "" || email == "" || password == "" {
		return false
	}

	if !validUsername(username) {
		response["error"] = "Bad username"
		return true
	}
	if !validPassword(password) {
		response["error"] = "Bad password"
		return true
	}
	if !validEmail(email) {
		response["error"] = "Bad email"
		return true
	}

	ctx := context.Background()
	if _, err := r.store.LoadAccountByUsername(ctx, username); err == nil {
		response["error"] = "Account exists"
		return true
	} else if !errors.Is(err, storage.ErrNotFound) {
		response["error"] = "Failed to create account."
		return true
	}
	if _, err := r.store.LoadAccountByEmail(ctx, email); err == nil {
		response["error"] = "Account exists"
		return true
	} else if !errors.Is(err, storage.ErrNotFound) {
		response["error"] = "Failed to create account."
		return true
	}

	salt, err := auth.GenerateSalt()
	if err != nil {
		response["error"] = "Failed to create account."
		return true
	}

	registration := r.constants.Registration
	account := storage.Account{
		Username:     username,
		DisplayName:  username,
		Email:        email,
		PasswordHash: auth.HashCredential(password, salt),
		Salt:         salt,
		CP:           registration.CP,
		TicketCount:  registration.TicketCount,
		UserLevel:    registration.UserLevel,
		Enabled:      registration.Enabled,
	}

	if err := r.store.InsertAccount(ctx, account); err != nil {
		response["error"] = "Failed to create account."
	} else {
		response["error"] = "Success"
	}
	return true
}
