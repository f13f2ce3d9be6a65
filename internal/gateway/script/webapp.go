package script

import (
	"fmt"

	"github.com/Shopify/go-lua"
	"github.com/louisbranch/hollowgate/internal/gateway/session"
)

var webAppMethods = []lua.RegistryFunction{
	{Name: "SetResponse", Function: scriptSetResponse},
	{Name: "GetTimestamp", Function: scriptGetTimestamp},
	{Name: "GetLobbyStore", Function: appGetLobbyStore},
	{Name: "GetWorldStore", Function: appGetWorldStore},
}

func appGetLobbyStore(state *lua.State) int {
	env := checkHandler(state, webAppTypeName)
	pushStore(state, env.engine, -1)
	return 1
}

func appGetWorldStore(state *lua.State) int {
	env := checkHandler(state, webAppTypeName)
	worldID := lua.CheckInteger(state, 2)
	pushStore(state, env.engine, worldID)
	return 1
}

// RunApp executes a webapp request end to end: a fresh interpreter, the
// script's prepare hook, then the entry point named by the request method.
// It returns false only when no app with the given name exists; every other
// failure is reported through the response payload.
func (e *Engine) RunApp(appName, method string, request, response map[string]any, sess *session.Session) bool {
	definition, ok := e.library.App(appName)
	if !ok {
		return false
	}

	state := lua.NewState()
	lua.OpenLibraries(state)
	registerSharedTypes(state)
	registerHandlerType(state, webAppTypeName, webAppMethods)

	if err := lua.DoString(state, definition.Source); err != nil {
		response["error"] = "App could not be started"
		return true
	}

	env := &handlerEnv{engine: e, sess: sess}

	// The prepare hook runs first and may veto the request.
	state.Global("prepare")
	if state.TypeOf(-1) != lua.TypeFunction {
		state.Pop(1)
		response["error"] = "Failed to prepare web app"
		return true
	}
	pushHandler(state, webAppTypeName, env)
	pushSessionTable(state, sess.Username, sess.ClientAddress)
	pushAccountTable(state, sess.Account)
	state.PushString(method)
	pushResponse(state, response)
	if !callEntry(state, 5) {
		if _, ok := response["error"]; !ok {
			response["error"] = "Unknown error encountered while starting web app"
		}
		return true
	}

	worldID := -1
	if e.logins != nil && sess.Account != nil {
		if id, _, ok := e.logins.IsLoggedIn(sess.Account.Username); ok {
			worldID = id
		}
	}

	state.Global(method)
	if state.TypeOf(-1) != lua.TypeFunction {
		state.Pop(1)
		response["error"] = fmt.Sprintf("Invalid web app method supplied: %s", method)
		return true
	}
	pushHandler(state, webAppTypeName, env)
	pushSessionTable(state, sess.Username, sess.ClientAddress)
	pushAccountTable(state, sess.Account)
	state.PushInteger(worldID)
	pushStringMap(state, requestFields(request, "session_username", "username", "sessionid", "challenge"))
	pushResponse(state, response)
	if !callEntry(state, 6) {
		response["error"] = "Unknown error encountered"
		return true
	}

	if _, ok := response["error"]; !ok {
		response["error"] = "Success"
	}
	return true
}

// callEntry invokes the function sitting under argCount pushed arguments and
// reports whether it completed and returned zero.
func callEntry(state *lua.State, argCount int) bool {
	if err := state.ProtectedCall(argCount, 1, 0); err != nil {
		return false
	}
	defer state.Pop(1)
	result, ok := state.ToInteger(-1)
	return ok && result == 0
}
