package api

import (
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registration validation rules shared with the legacy clients: usernames
// are lowercase alphanumerics starting with a letter, passwords draw from a
// fixed symbol set, emails follow a pragmatic RFC 5322 subset.
var (
	usernamePattern = regexp.MustCompile(`^[a-z][a-z0-9]{3,31}$`)
	passwordPattern = regexp.MustCompile("^[a-zA-Z0-9\\\\()\\[\\]/{}~`'\"<>.,_|!@#$%^&*+=-]{6,16}$")
	emailPattern    = regexp.MustCompile("^[a-z0-9!#$%&'*+/=?^_`{|}~-]+(?:\\.[a-z0-9!#$%&'*+/=?^_`{|}~-]+)*" +
		"@(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\\.)+[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$")
)

func validUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

func validPassword(password string) bool {
	return passwordPattern.MatchString(password)
}

func validEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// Structural payload schemas for the endpoints that create records. Value
// ranges are still checked in the handlers so their error messages match
// what operator tooling expects.
var (
	registerSchema = jsonschema.MustCompileString("register.json", `{
		"type": "object",
		"required": ["username", "email", "password"],
		"properties": {
			"username": {"type": "string"},
			"email": {"type": "string"},
			"password": {"type": "string"}
		}
	}`)

	createPromoSchema = jsonschema.MustCompileString("create_promo.json", `{
		"type": "object",
		"properties": {
			"code": {"type": "string"},
			"startTime": {"type": "integer"},
			"endTime": {"type": "integer"},
			"useLimit": {"type": "integer"},
			"limitType": {"type": "string"},
			"items": {"type": "array", "items": {"type": "integer"}}
		}
	}`)
)

func validateRegisterPayload(request map[string]any) error {
	return registerSchema.Validate(map[string]any(request))
}

func validateCreatePromoPayload(request map[string]any) error {
	return createPromoSchema.Validate(map[string]any(request))
}
