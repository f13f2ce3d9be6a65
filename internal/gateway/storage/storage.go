// Package storage defines the persistence contracts for the gateway.
//
// It declares the record shapes shared across the cluster (accounts,
// characters, post items, promotions, game sessions) and the narrow store
// interfaces the gateway consumes. Implementations (e.g., SQLite) live in
// subpackages.
//
// # Error Types
//
//   - ErrNotFound: Indicates a requested record is missing.
//   - ErrConflict: Indicates an explicit-update precondition no longer holds.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrConflict indicates a changeset precondition no longer matched the
// stored value at commit time.
var ErrConflict = errors.New("changeset precondition conflict")

// Account is a player account record.
type Account struct {
	Username     string
	DisplayName  string
	Email        string
	PasswordHash string
	Salt         string
	CP           int64
	TicketCount  int
	UserLevel    int
	Enabled      bool
	LastLogin    int64
	BanReason    string
	BanInitiator string
}

// Character is a world-side character record visible to the gateway.
type Character struct {
	Name            string
	AccountUsername string
	WorldID         int
	Coins           int64
}

// PostItem is an undelivered item waiting in an account's post box.
type PostItem struct {
	ID              string
	ProductID       uint32
	AccountUsername string
	Timestamp       int64
}

// Promo limit types, matching the values accepted by /admin/create_promo.
const (
	PromoLimitAccount   = "account"
	PromoLimitCharacter = "character"
	PromoLimitWorld     = "world"
)

// Promo is a promotion code granting post items.
type Promo struct {
	Code       string
	StartTime  int64
	EndTime    int64
	UseLimit   int
	LimitType  string
	ProductIDs []uint32
}

// GameSession is the backing record for a long-lived webgame session.
type GameSession struct {
	ID            string
	Username      string
	CharacterName string
	WorldID       int
	Coins         int64
}

// AccountStore persists account records.
type AccountStore interface {
	LoadAccountByUsername(ctx context.Context, username string) (Account, error)
	LoadAccountByEmail(ctx context.Context, email string) (Account, error)
	LoadAllAccounts(ctx context.Context) ([]Account, error)
	InsertAccount(ctx context.Context, account Account) error
	UpdateAccount(ctx context.Context, account Account) error
	DeleteAccount(ctx context.Context, username string) error
}

// CharacterStore reads character records.
type CharacterStore interface {
	LoadCharacterByName(ctx context.Context, name string) (Character, error)
	LoadCharactersByAccount(ctx context.Context, username string) ([]Character, error)
}

// PostItemStore reads post-item records.
type PostItemStore interface {
	LoadPostItemsByAccount(ctx context.Context, username string) ([]PostItem, error)
}

// PromoStore persists promotion records.
type PromoStore interface {
	LoadAllPromos(ctx context.Context) ([]Promo, error)
	LoadPromosByCode(ctx context.Context, code string) ([]Promo, error)
	InsertPromo(ctx context.Context, promo Promo) error
	DeletePromosByCode(ctx context.Context, code string) (int, error)
}

// ChangeSetStore commits atomic multi-record mutation batches.
type ChangeSetStore interface {
	// ProcessChangeSet applies every operation in the changeset inside one
	// transaction. A failed precondition returns ErrConflict and leaves the
	// store untouched.
	ProcessChangeSet(ctx context.Context, changes *ChangeSet) error
}

// Store groups every contract the gateway consumes.
type Store interface {
	AccountStore
	CharacterStore
	PostItemStore
	PromoStore
	ChangeSetStore
}
