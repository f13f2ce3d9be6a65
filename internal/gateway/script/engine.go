// Package script hosts the Lua extension sandbox for webapp and webgame
// endpoints.
//
// Webapp scripts run in a fresh interpreter per request and see only the
// capabilities bound here. Webgame scripts run in a single interpreter
// retained on the game session for its lifetime. Script failures never
// escape the sandbox: every entry point collapses to a request-level error
// in the response payload.
package script

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/Shopify/go-lua"
	"github.com/louisbranch/hollowgate/internal/gateway/session"
	"github.com/louisbranch/hollowgate/internal/gateway/storage"
)

const (
	webAppTypeName   = "webapp_api"
	webGameTypeName  = "webgame_api"
	responseTypeName = "api_response"
	storeTypeName    = "store_handle"
)

// GameStore is the storage surface script bindings read and mutate.
type GameStore interface {
	storage.CharacterStore
	storage.ChangeSetStore
	LoadPostItemsByAccount(ctx context.Context, username string) ([]storage.PostItem, error)
	LoadPromosByCode(ctx context.Context, code string) ([]storage.Promo, error)
}

// LoginChecker reports where an account is currently logged in.
type LoginChecker interface {
	IsLoggedIn(username string) (worldID int, channelID int32, ok bool)
}

// SyncNotifier receives record-update notices after webgame writes commit,
// so world servers eventually observe gateway-side mutations.
type SyncNotifier interface {
	SyncRecordUpdate(kind, key string)
}

// Engine executes webapp and webgame scripts against their bound
// capabilities.
type Engine struct {
	library *Library
	store   GameStore
	logins  LoginChecker
	sync    SyncNotifier
}

// NewEngine creates a script engine. logins and sync may be nil.
func NewEngine(library *Library, store GameStore, logins LoginChecker, sync SyncNotifier) *Engine {
	return &Engine{library: library, store: store, logins: logins, sync: sync}
}

// handlerEnv is the Go payload behind the api handler userdata passed as the
// first argument to every script entry point.
type handlerEnv struct {
	engine *Engine
	sess   *session.Session
}

// responseRef wraps the response payload so SetResponse writes land in the
// map the router serializes.
type responseRef struct {
	values map[string]any
}

// storeRef is a read-only store handle. WorldID -1 addresses the gateway's
// own store; a non-negative ID scopes lookups to one world's records.
type storeRef struct {
	engine  *Engine
	WorldID int
}

func registerSharedTypes(state *lua.State) {
	lua.NewMetaTable(state, responseTypeName)
	state.Pop(1)

	lua.NewMetaTable(state, storeTypeName)
	state.NewTable()
	lua.SetFunctions(state, storeMethods, 0)
	state.SetField(-2, "__index")
	state.Pop(1)

	state.NewTable()
	lua.SetFunctions(state, randomFunctions, 0)
	state.SetGlobal("Random")
}

func registerHandlerType(state *lua.State, typeName string, methods []lua.RegistryFunction) {
	lua.NewMetaTable(state, typeName)
	state.NewTable()
	lua.SetFunctions(state, methods, 0)
	state.SetField(-2, "__index")
	state.Pop(1)
}

func pushHandler(state *lua.State, typeName string, env *handlerEnv) {
	state.PushUserData(env)
	lua.SetMetaTableNamed(state, typeName)
}

func pushResponse(state *lua.State, response map[string]any) {
	state.PushUserData(&responseRef{values: response})
	lua.SetMetaTableNamed(state, responseTypeName)
}

func pushStore(state *lua.State, engine *Engine, worldID int) {
	state.PushUserData(&storeRef{engine: engine, WorldID: worldID})
	lua.SetMetaTableNamed(state, storeTypeName)
}

func checkHandler(state *lua.State, typeName string) *handlerEnv {
	ud := lua.CheckUserData(state, 1, typeName)
	if env, ok := ud.(*handlerEnv); ok && env != nil {
		return env
	}
	lua.ArgumentError(state, 1, "api handler expected")
	return nil
}

func checkResponse(state *lua.State, index int) *responseRef {
	ud := lua.CheckUserData(state, index, responseTypeName)
	if ref, ok := ud.(*responseRef); ok && ref != nil {
		return ref
	}
	lua.ArgumentError(state, index, "response expected")
	return nil
}

func checkStore(state *lua.State, index int) *storeRef {
	ud := lua.CheckUserData(state, index, storeTypeName)
	if ref, ok := ud.(*storeRef); ok && ref != nil {
		return ref
	}
	lua.ArgumentError(state, index, "store handle expected")
	return nil
}

var storeMethods = []lua.RegistryFunction{
	{Name: "GetCharacter", Function: storeGetCharacter},
	{Name: "GetPostItems", Function: storeGetPostItems},
	{Name: "GetPromos", Function: storeGetPromos},
}

func storeGetCharacter(state *lua.State) int {
	ref := checkStore(state, 1)
	name := lua.CheckString(state, 2)
	character, err := ref.engine.store.LoadCharacterByName(context.Background(), name)
	if err != nil || (ref.WorldID >= 0 && character.WorldID != ref.WorldID) {
		state.PushNil()
		return 1
	}
	pushCharacterTable(state, character)
	return 1
}

func storeGetPostItems(state *lua.State) int {
	ref := checkStore(state, 1)
	username := lua.CheckString(state, 2)

	// Post boxes live on the gateway store only.
	if ref.WorldID >= 0 {
		state.NewTable()
		return 1
	}
	items, err := ref.engine.store.LoadPostItemsByAccount(context.Background(), username)
	if err != nil {
		state.PushNil()
		return 1
	}
	pushPostItemsTable(state, items)
	return 1
}

func storeGetPromos(state *lua.State) int {
	ref := checkStore(state, 1)
	code := lua.CheckString(state, 2)

	// Promotions live on the gateway store only.
	if ref.WorldID >= 0 {
		state.NewTable()
		return 1
	}
	promos, err := ref.engine.store.LoadPromosByCode(context.Background(), code)
	if err != nil {
		state.PushNil()
		return 1
	}
	pushPromosTable(state, promos)
	return 1
}

var randomFunctions = []lua.RegistryFunction{
	{Name: "int", Function: randomInt},
	{Name: "range", Function: randomRange},
}

func randomInt(state *lua.State) int {
	limit := lua.CheckInteger(state, 1)
	if limit <= 0 {
		state.PushInteger(0)
		return 1
	}
	state.PushInteger(rand.IntN(limit))
	return 1
}

func randomRange(state *lua.State) int {
	low := lua.CheckInteger(state, 1)
	high := lua.CheckInteger(state, 2)
	if high <= low {
		state.PushInteger(low)
		return 1
	}
	state.PushInteger(low + rand.IntN(high-low+1))
	return 1
}

func scriptSetResponse(state *lua.State) int {
	ref := checkResponse(state, 2)
	key := lua.CheckString(state, 3)
	value := lua.CheckString(state, 4)
	ref.values[key] = value
	return 0
}

func scriptGetTimestamp(state *lua.State) int {
	state.PushInteger(int(time.Now().Unix()))
	return 1
}

func scriptGetSystemTime(state *lua.State) int {
	state.PushInteger(int(time.Now().UnixMicro()))
	return 1
}

// characterCoins loads the current coin balance of the session's character.
func (e *Engine) characterCoins(ctx context.Context, sess *session.Session) (int64, error) {
	if sess.Game == nil {
		return 0, fmt.Errorf("no game session")
	}
	character, err := e.store.LoadCharacterByName(ctx, sess.Game.Record.CharacterName)
	if err != nil {
		return 0, fmt.Errorf("load character: %w", err)
	}
	return character.Coins, nil
}

// updateCoins writes a new coin balance through an optimistic changeset.
// Negative results clamp to zero, and an unchanged balance skips the write.
func (e *Engine) updateCoins(ctx context.Context, sess *session.Session, amount int64, adjust bool) error {
	if sess.Game == nil {
		return fmt.Errorf("no game session")
	}
	character, err := e.store.LoadCharacterByName(ctx, sess.Game.Record.CharacterName)
	if err != nil {
		return fmt.Errorf("load character: %w", err)
	}

	current := character.Coins
	next := amount
	if adjust {
		next = current + amount
	}
	if next < 0 {
		next = 0
	}
	if next == current {
		sess.Game.Record.Coins = next
		return nil
	}

	changes := storage.NewChangeSet()
	changes.AddExplicitUpdate(storage.TableCharacters, character.Name, storage.FieldCoins, next, current)
	if err := e.store.ProcessChangeSet(ctx, changes); err != nil {
		return fmt.Errorf("commit coins: %w", err)
	}

	sess.Game.Record.Coins = next
	if e.sync != nil {
		e.sync.SyncRecordUpdate("character", character.Name)
	}
	return nil
}
