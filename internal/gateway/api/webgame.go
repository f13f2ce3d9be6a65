package api

import (
	"context"
	"strconv"

	"github.com/louisbranch/hollowgate/internal/gateway/session"
)

func (r *Router) webGameGetCoins(request, response map[string]any, sess *session.Session) bool {
	coins, err := r.scripts.CharacterCoins(context.Background(), sess)
	if err != nil {
		response["error"] = "Failed to get coins"
		return true
	}
	response["error"] = "Success"
	response["coins"] = strconv.FormatInt(coins, 10)
	return true
}

func (r *Router) webGameStart(request, response map[string]any, sess *session.Session) bool {
	gameType, ok := request["type"].(string)
	if !ok || gameType == "" {
		response["error"] = "Game type was not specified"
		return true
	}
	r.scripts.StartGame(context.Background(), gameType, response, sess)
	return true
}

func (r *Router) webGameUpdate(request, response map[string]any, sess *session.Session) bool {
	r.scripts.UpdateGame(request, response, sess)
	return true
}
