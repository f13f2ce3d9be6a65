package script

import (
	"sort"
	"strconv"

	"github.com/Shopify/go-lua"
	"github.com/louisbranch/hollowgate/internal/gateway/storage"
)

// requestFields extracts the script-visible fields of a request: everything
// except the named system parameters, with each value rendered as a string
// the way scripts expect.
func requestFields(request map[string]any, drop ...string) map[string]string {
	dropped := make(map[string]bool, len(drop))
	for _, key := range drop {
		dropped[key] = true
	}

	fields := make(map[string]string, len(request))
	for key, value := range request {
		if dropped[key] {
			continue
		}
		fields[key] = stringifyValue(value)
	}
	return fields
}

func stringifyValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func pushStringMap(state *lua.State, fields map[string]string) {
	state.NewTable()
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		state.PushString(fields[key])
		state.SetField(-2, key)
	}
}

func pushAccountTable(state *lua.State, account *storage.Account) {
	state.NewTable()
	if account == nil {
		return
	}
	state.PushString(account.Username)
	state.SetField(-2, "username")
	state.PushString(account.DisplayName)
	state.SetField(-2, "display_name")
	state.PushString(account.Email)
	state.SetField(-2, "email")
	state.PushInteger(int(account.CP))
	state.SetField(-2, "cp")
	state.PushInteger(account.TicketCount)
	state.SetField(-2, "ticket_count")
	state.PushInteger(account.UserLevel)
	state.SetField(-2, "user_level")
	state.PushBoolean(account.Enabled)
	state.SetField(-2, "enabled")
	state.PushInteger(int(account.LastLogin))
	state.SetField(-2, "last_login")
}

func pushSessionTable(state *lua.State, username, clientAddress string) {
	state.NewTable()
	state.PushString(username)
	state.SetField(-2, "username")
	state.PushString(clientAddress)
	state.SetField(-2, "client_address")
}

func pushCharacterTable(state *lua.State, character storage.Character) {
	state.NewTable()
	state.PushString(character.Name)
	state.SetField(-2, "name")
	state.PushString(character.AccountUsername)
	state.SetField(-2, "account")
	state.PushInteger(character.WorldID)
	state.SetField(-2, "world_id")
	state.PushInteger(int(character.Coins))
	state.SetField(-2, "coins")
}

func pushPostItemsTable(state *lua.State, items []storage.PostItem) {
	state.NewTable()
	for i, item := range items {
		state.NewTable()
		state.PushString(item.ID)
		state.SetField(-2, "id")
		state.PushInteger(int(item.ProductID))
		state.SetField(-2, "product")
		state.PushInteger(int(item.Timestamp))
		state.SetField(-2, "timestamp")
		state.RawSetInt(-2, i+1)
	}
}

func pushPromosTable(state *lua.State, promos []storage.Promo) {
	state.NewTable()
	for i, promo := range promos {
		state.NewTable()
		state.PushString(promo.Code)
		state.SetField(-2, "code")
		state.PushInteger(int(promo.StartTime))
		state.SetField(-2, "start_time")
		state.PushInteger(int(promo.EndTime))
		state.SetField(-2, "end_time")
		state.PushInteger(promo.UseLimit)
		state.SetField(-2, "use_limit")
		state.PushString(promo.LimitType)
		state.SetField(-2, "limit_type")
		state.NewTable()
		for j, productID := range promo.ProductIDs {
			state.PushInteger(int(productID))
			state.RawSetInt(-2, j+1)
		}
		state.SetField(-2, "items")
		state.RawSetInt(-2, i+1)
	}
}
