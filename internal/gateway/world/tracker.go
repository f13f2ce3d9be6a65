package world

import (
	"sort"
	"sync"
)

type login struct {
	worldID   int
	channelID int32
}

// Tracker records which accounts are logged into which world. It is fed by
// the cluster's account manager traffic and consulted by admin endpoints and
// relay addressing.
type Tracker struct {
	mu     sync.Mutex
	logins map[string]login
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{logins: make(map[string]login)}
}

// SetLoggedIn records an account entering a world.
func (t *Tracker) SetLoggedIn(username string, worldID int, channelID int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logins[username] = login{worldID: worldID, channelID: channelID}
}

// SetLoggedOut clears an account's login record.
func (t *Tracker) SetLoggedOut(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.logins, username)
}

// IsLoggedIn reports where an account is logged in.
func (t *Tracker) IsLoggedIn(username string) (worldID int, channelID int32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.logins[username]
	return state.worldID, state.channelID, ok
}

// UsersInWorld returns the usernames logged into a world, sorted.
func (t *Tracker) UsersInWorld(worldID int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var users []string
	for username, state := range t.logins {
		if state.worldID == worldID {
			users = append(users, username)
		}
	}
	sort.Strings(users)
	return users
}

// Count returns how many accounts are logged in across all worlds.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.logins)
}
