package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/hollowgate/internal/gateway/auth"
	"github.com/louisbranch/hollowgate/internal/gateway/relay"
	"github.com/louisbranch/hollowgate/internal/gateway/session"
	"github.com/louisbranch/hollowgate/internal/gateway/storage"
)

// adminLevel resolves the privilege rank required for one admin endpoint.
func (r *Router) adminLevel(path string) int {
	return r.constants.AdminLevel(path)
}

// targetAccount resolves the account named by a request's username field.
func (r *Router) targetAccount(request, response map[string]any) (storage.Account, bool) {
	username := strings.ToLower(requestString(request, "username"))
	if username == "" {
		response["error"] = "No username specified."
		return storage.Account{}, false
	}
	account, err := r.store.LoadAccountByUsername(context.Background(), username)
	if err != nil {
		response["error"] = "Account not found."
		return storage.Account{}, false
	}
	return account, true
}

// resetAccountSession forces re-authentication for a mutated account. The
// caller already holds its own session lock, so a self-targeting admin call
// resets in place instead of going through the table.
func (r *Router) resetAccountSession(sess *session.Session, username string) {
	if sess.Username == username {
		sess.Reset()
		return
	}
	r.sessions.ResetMatching(username)
}

func (r *Router) adminGetAccounts(request, response map[string]any, sess *session.Session) bool {
	if !requireUserLevel(response, sess, r.adminLevel("/admin/get_accounts")) {
		return true
	}

	accounts, err := r.store.LoadAllAccounts(context.Background())
	if err != nil {
		return false
	}

	list := make([]map[string]any, 0, len(accounts))
	for _, account := range accounts {
		details := map[string]any{}
		r.writeAccountDetails(details, account)
		list = append(list, details)
	}
	response["accounts"] = list
	return true
}

func (r *Router) adminGetAccount(request, response map[string]any, sess *session.Session) bool {
	if !requireUserLevel(response, sess, r.adminLevel("/admin/get_account")) {
		return true
	}

	username := strings.ToLower(requestString(request, "username"))
	if username == "" {
		return false
	}
	account, err := r.store.LoadAccountByUsername(context.Background(), username)
	if err != nil {
		return false
	}
	r.writeAccountDetails(response, account)
	return true
}

func (r *Router) adminDeleteAccount(request, response map[string]any, sess *session.Session) bool {
	if !requireUserLevel(response, sess, r.adminLevel("/admin/delete_account")) {
		return true
	}

	username := strings.ToLower(requestString(request, "username"))
	if username == "" {
		return false
	}
	if err := r.store.DeleteAccount(context.Background(), username); err != nil {
		return false
	}

	r.resetAccountSession(sess, username)
	return true
}

func (r *Router) adminUpdateAccount(request, response map[string]any, sess *session.Session) bool {
	if !requireUserLevel(response, sess, r.adminLevel("/admin/update_account")) {
		return true
	}

	account, ok := r.targetAccount(request, response)
	if !ok {
		return true
	}

	if password, present := request["password"].(string); present {
		if !validPassword(password) {
			response["error"] = "Bad password"
			return true
		}
		salt, err := auth.GenerateSalt()
		if err != nil {
			response["error"] = "Failed to update account."
			return true
		}
		account.Salt = salt
		account.PasswordHash = auth.HashCredential(password, salt)
	}

	if displayName, present := request["disp_name"].(string); present {
		account.DisplayName = displayName
	}

	if cp, present := requestInt(request, "cp"); present {
		if cp < 0 {
			response["error"] = "CP must be a positive integer or zero."
			return true
		}
		account.CP = int64(cp)
	}

	if tickets, present := requestInt(request, "ticket_count"); present {
		if tickets < 0 {
			response["error"] = "Ticket count must be a positive integer or zero."
			return true
		}
		account.TicketCount = tickets
	}

	if level, present := requestInt(request, "user_level"); present {
		if level < 0 || level > 1000 {
			response["error"] = "User level must be in the range [0, 1000]."
			return true
		}
		account.UserLevel = level
	}

	if enabled, present := request["enabled"].(bool); present {
		account.Enabled = enabled
	}

	err := r.store.UpdateAccount(context.Background(), account)

	r.resetAccountSession(sess, account.Username)

	if err != nil {
		response["error"] = "Failed to update account."
	} else {
		response["error"] = "Success"
	}
	return true
}

func (r *Router) adminKickPlayer(request, response map[string]any, sess *session.Session) bool {
	if !requireUserLevel(response, sess, r.adminLevel("/admin/kick_player")) {
		return true
	}

	account, ok := r.targetAccount(request, response)
	if !ok {
		return true
	}

	worldID, _, loggedIn := r.tracker.IsLoggedIn(account.Username)
	if !loggedIn {
		response["error"] = "Target account is not logged in."
		return true
	}
	if !r.worlds.Has(worldID) {
		response["error"] = "Account (somehow) connected to invalid world."
		return true
	}

	kickLevel := 1
	if level, present := requestInt(request, "kick_level"); present {
		kickLevel = level
	}
	if kickLevel < 1 || kickLevel > 3 {
		response["error"] = "Invalid kick level specified."
		return true
	}

	r.bridge.SendToWorld(worldID, relay.AccountLogoutPacket(account.Username, uint8(kickLevel)))
	response["error"] = "Success"
	return true
}

func (r *Router) adminMessageWorld(request, response map[string]any, sess *session.Session) bool {
	if !requireUserLevel(response, sess, r.adminLevel("/admin/message_world")) {
		return true
	}

	worldID, present := requestInt(request, "world_id")
	if !present {
		response["error"] = "No world specified."
		return true
	}
	if !r.worlds.Has(worldID) {
		response["error"] = "Invalid world specified."
		return true
	}

	message := requestString(request, "message")
	if message == "" {
		response["error"] = "No message specified."
		return true
	}

	messageType := strings.ToLower(requestString(request, "type"))
	switch messageType {
	case "console":
		r.bridge.SendToWorld(worldID, relay.WorldMessageBroadcast(message, false))
	case "ticker":
		r.bridge.SendToWorld(worldID, relay.WorldMessageBroadcast(message, true))
	default:
		response["error"] = "Invalid message type specified."
		return true
	}

	response["error"] = "Success"
	return true
}

func (r *Router) adminOnline(request, response map[string]any, sess *session.Session) bool {
	if !requireUserLevel(response, sess, r.adminLevel("/admin/online")) {
		return true
	}

	targets, _ := request["targets"].([]any)
	if len(targets) == 0 {
		counts := make([]map[string]any, 0)
		total := 0
		for _, worldID := range r.worlds.IDs() {
			users := r.tracker.UsersInWorld(worldID)
			counts = append(counts, map[string]any{
				"world_id":        worldID,
				"character_count": len(users),
			})
			total += len(users)
		}
		response["counts"] = counts
		response["total"] = total
		response["error"] = "Success"
		return true
	}

	results := make([]map[string]any, 0, len(targets))
	for _, raw := range targets {
		target, _ := raw.(map[string]any)
		name := requestString(target, "name")
		if name == "" {
			response["error"] = "Target name not specified."
			return true
		}
		targetType, present := target["type"].(string)
		if !present {
			response["error"] = "Target type not specified."
			return true
		}

		switch strings.ToLower(targetType) {
		case "account":
			results = append(results, r.onlineAccountStatus(strings.ToLower(name)))
		case "character":
			results = append(results, r.onlineCharacterStatus(name))
		default:
			response["error"] = "Invalid target type specified."
			return true
		}
	}
	response["results"] = results
	response["error"] = "Success"
	return true
}

func (r *Router) onlineAccountStatus(username string) map[string]any {
	result := map[string]any{"type": "Account"}

	worldID, _, loggedIn := r.tracker.IsLoggedIn(username)
	if !loggedIn {
		result["character"] = "None"
		result["status"] = "Offline"
		return result
	}

	result["status"] = "Online"
	result["world_id"] = worldID
	result["character"] = "Unknown"

	characters, err := r.store.LoadCharactersByAccount(context.Background(), username)
	if err == nil {
		for _, character := range characters {
			if character.WorldID == worldID {
				result["character"] = character.Name
				break
			}
		}
	}
	return result
}

func (r *Router) onlineCharacterStatus(name string) map[string]any {
	result := map[string]any{"type": "Character", "character": name}

	character, err := r.store.LoadCharacterByName(context.Background(), name)
	if err != nil {
		result["account"] = "Unknown"
		result["status"] = "Unknown"
		return result
	}

	result["account"] = character.AccountUsername
	if worldID, _, loggedIn := r.tracker.IsLoggedIn(character.AccountUsername); loggedIn {
		result["status"] = "Online"
		result["world_id"] = worldID
	} else {
		result["status"] = "Offline"
	}
	return result
}

func (r *Router) adminPostItems(request, response map[string]any, sess *session.Session) bool {
	if !requireUserLevel(response, sess, r.adminLevel("/admin/post_items")) {
		return true
	}

	account, ok := r.targetAccount(request, response)
	if !ok {
		return true
	}

	cpCost := 0
	if cp, present := requestInt(request, "cp"); present {
		cpCost = cp
	}
	if cpCost < 0 {
		response["error"] = "Cannot add CP via post purchase."
		return true
	}
	if int64(cpCost) > account.CP {
		response["error"] = "Not enough CP."
		return true
	}

	rawProducts, _ := request["products"].([]any)
	if len(rawProducts) == 0 {
		response["error"] = "No product specified."
		return true
	}
	productIDs := make([]uint32, 0, len(rawProducts))
	for _, raw := range rawProducts {
		product, present := raw.(float64)
		if !present || product <= 0 || product != float64(uint32(product)) {
			response["error"] = "Invalid product."
			return true
		}
		productIDs = append(productIDs, uint32(product))
	}

	ctx := context.Background()
	existing, err := r.store.LoadPostItemsByAccount(ctx, account.Username)
	if err != nil {
		response["error"] = "Purchase failed."
		return true
	}
	if len(existing)+len(productIDs) >= r.constants.MaxPostItems {
		response["error"] = "Maximum post item count exceeded."
		return true
	}

	now := r.clock().Unix()
	newCP := account.CP - int64(cpCost)

	changes := storage.NewChangeSet()
	if cpCost > 0 {
		changes.AddExplicitUpdate(storage.TableAccounts, account.Username, storage.FieldCP, newCP, account.CP)
	}
	for _, productID := range productIDs {
		itemID, err := r.newID()
		if err != nil {
			response["error"] = "Purchase failed."
			return true
		}
		changes.AddInsert(storage.PostItem{
			ID:              itemID,
			ProductID:       productID,
			AccountUsername: account.Username,
			Timestamp:       now,
		})
	}

	if err := r.store.ProcessChangeSet(ctx, changes); err != nil {
		response["error"] = "Purchase failed."
		return true
	}

	// A logged-in character sees its new balance immediately; the record
	// itself syncs through the eventual channel.
	if worldID, cid, loggedIn := r.tracker.IsLoggedIn(account.Username); loggedIn {
		r.bridge.SendToWorld(worldID, relay.CashBalancePacket(cid, newCP))
		r.bridge.SyncRecordUpdate("account", account.Username)
	}

	response["error"] = "Success"
	response["cp"] = newCP
	return true
}

func (r *Router) adminGetPromos(request, response map[string]any, sess *session.Session) bool {
	if !requireUserLevel(response, sess, r.adminLevel("/admin/get_promos")) {
		return true
	}

	promos, err := r.store.LoadAllPromos(context.Background())
	if err != nil {
		return false
	}

	list := make([]map[string]any, 0, len(promos))
	for _, promo := range promos {
		items := make([]uint32, 0, len(promo.ProductIDs))
		items = append(items, promo.ProductIDs...)
		list = append(list, map[string]any{
			"code":      promo.Code,
			"startTime": promo.StartTime,
			"endTime":   promo.EndTime,
			"useLimit":  promo.UseLimit,
			"limitType": promo.LimitType,
			"items":     items,
		})
	}
	response["promos"] = list
	return true
}

func (r *Router) adminCreatePromo(request, response map[string]any, sess *session.Session) bool {
	if !requireUserLevel(response, sess, r.adminLevel("/admin/create_promo")) {
		return true
	}

	if err := validateCreatePromoPayload(request); err != nil {
		response["error"] = "Invalid promo definition."
		return true
	}

	code := requestString(request, "code")
	if code == "" {
		response["error"] = "Invalid promo code."
		return true
	}

	startTime, _ := requestInt(request, "startTime")
	endTime, _ := requestInt(request, "endTime")
	if startTime == 0 || endTime == 0 || endTime < startTime {
		response["error"] = "Invalid start or end timestamp."
		return true
	}

	useLimit, _ := requestInt(request, "useLimit")
	if useLimit < 0 || useLimit > 255 {
		response["error"] = "Invalid use limit."
		return true
	}

	limitType := requestString(request, "limitType")
	switch limitType {
	case storage.PromoLimitAccount, storage.PromoLimitCharacter, storage.PromoLimitWorld:
	default:
		response["error"] = "Invalid limit type."
		return true
	}

	rawItems, _ := request["items"].([]any)
	if len(rawItems) == 0 {
		response["error"] = "Promo has no item."
		return true
	}
	items := make([]uint32, 0, len(rawItems))
	for _, raw := range rawItems {
		item, present := raw.(float64)
		if !present || item <= 0 || item != float64(uint32(item)) {
			response["error"] = "Invalid product."
			return true
		}
		items = append(items, uint32(item))
	}

	ctx := context.Background()
	existing, err := r.store.LoadPromosByCode(ctx, code)
	if err == nil && len(existing) > 0 {
		response["error"] = "Promotion with that code already exists. Another will be made."
	} else {
		response["error"] = "Success"
	}

	promo := storage.Promo{
		Code:       code,
		StartTime:  int64(startTime),
		EndTime:    int64(endTime),
		UseLimit:   useLimit,
		LimitType:  limitType,
		ProductIDs: items,
	}
	if err := r.store.InsertPromo(ctx, promo); err != nil {
		response["error"] = "Failed to create promotion."
	}
	return true
}

func (r *Router) adminDeletePromo(request, response map[string]any, sess *session.Session) bool {
	if !requireUserLevel(response, sess, r.adminLevel("/admin/delete_promo")) {
		return true
	}

	code := requestString(request, "code")
	if code == "" {
		response["error"] = "Invalid promo code."
		return true
	}

	deleted, err := r.store.DeletePromosByCode(context.Background(), code)
	if err != nil {
		response["error"] = "Failed to delete promo."
		return true
	}

	response["error"] = fmt.Sprintf("Deleted %d promotions.", deleted)
	return true
}
