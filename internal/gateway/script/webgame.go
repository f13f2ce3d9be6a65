package script

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Shopify/go-lua"
	"github.com/louisbranch/hollowgate/internal/gateway/session"
)

var webGameMethods = []lua.RegistryFunction{
	{Name: "SetResponse", Function: scriptSetResponse},
	{Name: "GetTimestamp", Function: scriptGetTimestamp},
	{Name: "GetSystemTime", Function: scriptGetSystemTime},
	{Name: "GetCoins", Function: gameGetCoins},
	{Name: "UpdateCoins", Function: gameUpdateCoins},
	{Name: "GetStore", Function: gameGetStore},
}

func gameGetCoins(state *lua.State) int {
	env := checkHandler(state, webGameTypeName)
	coins, err := env.engine.characterCoins(context.Background(), env.sess)
	if err != nil {
		state.PushInteger(-1)
		return 1
	}
	state.PushInteger(int(coins))
	return 1
}

func gameUpdateCoins(state *lua.State) int {
	env := checkHandler(state, webGameTypeName)
	amount := lua.CheckInteger(state, 3)
	adjust := state.ToBoolean(4)
	err := env.engine.updateCoins(context.Background(), env.sess, int64(amount), adjust)
	state.PushBoolean(err == nil)
	return 1
}

func gameGetStore(state *lua.State) int {
	env := checkHandler(state, webGameTypeName)
	if state.ToBoolean(3) {
		worldID := -1
		if env.sess.Game != nil {
			worldID = env.sess.Game.Record.WorldID
		}
		pushStore(state, env.engine, worldID)
		return 1
	}
	pushStore(state, env.engine, -1)
	return 1
}

// GameRuntime is the retained interpreter of one webgame session. It lives
// on the session's game state and is dropped when the session ends.
type GameRuntime struct {
	state *lua.State
	env   *handlerEnv
}

// Close releases the interpreter.
func (g *GameRuntime) Close() error {
	g.state = nil
	g.env = nil
	return nil
}

// CharacterCoins reads the current coin balance of the session's character,
// for the built-in coin query endpoint.
func (e *Engine) CharacterCoins(ctx context.Context, sess *session.Session) (int64, error) {
	return e.characterCoins(ctx, sess)
}

// StartGame builds the retained interpreter for a game session, runs the
// script's optional start hook, and reports the character name and balance.
// All failures travel in the response payload.
func (e *Engine) StartGame(ctx context.Context, gameType string, response map[string]any, sess *session.Session) {
	if sess.Game == nil {
		response["error"] = "Not a game session"
		return
	}
	if sess.Game.Runtime != nil {
		response["error"] = "Game has already been started"
		return
	}

	definition, ok := e.library.Game(gameType)
	if !ok {
		response["error"] = "Specified game type is not valid"
		return
	}

	state := lua.NewState()
	lua.OpenLibraries(state)
	registerSharedTypes(state)
	registerHandlerType(state, webGameTypeName, webGameMethods)

	if err := lua.DoString(state, definition.Source); err != nil {
		response["error"] = "Game could not be started"
		return
	}

	character, err := e.store.LoadCharacterByName(ctx, sess.Game.Record.CharacterName)
	if err != nil {
		response["error"] = "Character information could not be retrieved"
		return
	}

	runtime := &GameRuntime{
		state: state,
		env:   &handlerEnv{engine: e, sess: sess},
	}

	// The start hook is optional.
	state.Global("start")
	if state.TypeOf(-1) == lua.TypeFunction {
		pushHandler(state, webGameTypeName, runtime.env)
		pushCharacterTable(state, character)
		state.PushInteger(int(character.Coins))
		pushResponse(state, response)
		if !callEntry(state, 4) {
			response["error"] = "Unknown error encountered while starting game"
			return
		}
		if _, ok := response["error"]; !ok {
			response["error"] = "Success"
		}
	} else {
		state.Pop(1)
	}

	sess.Game.Record.Coins = character.Coins
	sess.Game.Runtime = runtime

	response["name"] = character.Name
	response["coins"] = strconv.FormatInt(character.Coins, 10)
}

// UpdateGame dispatches a request to the entry point named by its action
// field inside the session's retained interpreter.
func (e *Engine) UpdateGame(request, response map[string]any, sess *session.Session) {
	if sess.Game == nil {
		response["error"] = "Not a game session"
		return
	}
	runtime, ok := sess.Game.Runtime.(*GameRuntime)
	if !ok || runtime == nil || runtime.state == nil {
		response["error"] = "Game not started"
		return
	}

	action, ok := request["action"].(string)
	if !ok || action == "" {
		response["error"] = "No action specified"
		return
	}

	state := runtime.state
	state.Global(action)
	if state.TypeOf(-1) != lua.TypeFunction {
		state.Pop(1)
		response["error"] = fmt.Sprintf("Invalid action attempted: %s", action)
		return
	}

	pushHandler(state, webGameTypeName, runtime.env)
	pushSessionTable(state, sess.Username, sess.ClientAddress)
	pushStringMap(state, requestFields(request, "action", "session_username", "username", "sessionid"))
	pushResponse(state, response)
	if !callEntry(state, 4) {
		response["error"] = "Unknown error encountered"
		return
	}

	if _, ok := response["error"]; !ok {
		response["error"] = "Success"
	}
}
