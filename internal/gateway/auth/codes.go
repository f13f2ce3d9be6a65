package auth

// Code is a numeric login-flow error code carried in the error_code field of
// login responses alongside the textual error.
type Code int

// Login-flow error codes.
const (
	CodeSuccess              Code = 0
	CodeBadUsernamePassword  Code = -1
	CodeAccountStillLoggedIn Code = -3
	CodeServerFull           Code = -4
	CodeWrongClientVersion   Code = -5
	CodeSystemError          Code = -6
	CodeNotAuthorized        Code = -8
)

var codeStrings = map[Code]string{
	CodeSuccess:              "Success",
	CodeBadUsernamePassword:  "Invalid username or password",
	CodeAccountStillLoggedIn: "Account is still logged in",
	CodeServerFull:           "Server is full",
	CodeWrongClientVersion:   "Client version is out of date",
	CodeSystemError:          "System error",
	CodeNotAuthorized:        "Not authorized",
}

// String returns the client-facing message for a code.
func (c Code) String() string {
	if message, ok := codeStrings[c]; ok {
		return message
	}
	return "Unknown error"
}

// Write stores the code and its message into a response payload.
func (c Code) Write(response map[string]any) {
	response["error"] = c.String()
	response["error_code"] = int(c)
}
