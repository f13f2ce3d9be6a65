// Package sqlite implements the gateway storage contracts over SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/louisbranch/hollowgate/internal/gateway/storage"
	"github.com/louisbranch/hollowgate/internal/gateway/storage/sqlite/migrations"
	"github.com/louisbranch/hollowgate/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// Store implements storage.Store over a single SQLite file.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a gateway SQLite store and applies bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const accountColumns = `username, display_name, email, password_hash, salt,
cp, ticket_count, user_level, enabled, last_login, ban_reason, ban_initiator`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (storage.Account, error) {
	var account storage.Account
	var enabled int
	err := row.Scan(
		&account.Username, &account.DisplayName, &account.Email,
		&account.PasswordHash, &account.Salt, &account.CP,
		&account.TicketCount, &account.UserLevel, &enabled,
		&account.LastLogin, &account.BanReason, &account.BanInitiator,
	)
	if err != nil {
		return storage.Account{}, err
	}
	account.Enabled = enabled != 0
	return account, nil
}

// LoadAccountByUsername returns the account with the given canonical username.
func (s *Store) LoadAccountByUsername(ctx context.Context, username string) (storage.Account, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE username = ?", username)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return storage.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Account{}, fmt.Errorf("load account %q: %w", username, err)
	}
	return account, nil
}

// LoadAccountByEmail returns the account registered with the given email.
func (s *Store) LoadAccountByEmail(ctx context.Context, email string) (storage.Account, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE email = ?", email)
	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return storage.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Account{}, fmt.Errorf("load account by email: %w", err)
	}
	return account, nil
}

// LoadAllAccounts returns every account ordered by username.
func (s *Store) LoadAllAccounts(ctx context.Context) ([]storage.Account, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()

	var accounts []storage.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

// InsertAccount stores a new account record.
func (s *Store) InsertAccount(ctx context.Context, account storage.Account) error {
	return insertAccount(ctx, s.sqlDB, account)
}

type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAccount(ctx context.Context, db execContexter, account storage.Account) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO accounts (`+accountColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.Username, account.DisplayName, account.Email,
		account.PasswordHash, account.Salt, account.CP,
		account.TicketCount, account.UserLevel, boolToInt(account.Enabled),
		account.LastLogin, account.BanReason, account.BanInitiator,
	)
	if err != nil {
		return fmt.Errorf("insert account %q: %w", account.Username, err)
	}
	return nil
}

// UpdateAccount overwrites an existing account record.
func (s *Store) UpdateAccount(ctx context.Context, account storage.Account) error {
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE accounts SET display_name = ?, email = ?, password_hash = ?, salt = ?,
cp = ?, ticket_count = ?, user_level = ?, enabled = ?, last_login = ?,
ban_reason = ?, ban_initiator = ?
WHERE username = ?`,
		account.DisplayName, account.Email, account.PasswordHash, account.Salt,
		account.CP, account.TicketCount, account.UserLevel, boolToInt(account.Enabled),
		account.LastLogin, account.BanReason, account.BanInitiator,
		account.Username,
	)
	if err != nil {
		return fmt.Errorf("update account %q: %w", account.Username, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account %q: %w", account.Username, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteAccount removes an account record.
func (s *Store) DeleteAccount(ctx context.Context, username string) error {
	result, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM accounts WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("delete account %q: %w", username, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete account %q: %w", username, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// LoadCharacterByName returns the character with the given name.
func (s *Store) LoadCharacterByName(ctx context.Context, name string) (storage.Character, error) {
	var character storage.Character
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT name, account_username, world_id, coins FROM characters WHERE name = ?", name,
	).Scan(&character.Name, &character.AccountUsername, &character.WorldID, &character.Coins)
	if err == sql.ErrNoRows {
		return storage.Character{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Character{}, fmt.Errorf("load character %q: %w", name, err)
	}
	return character, nil
}

// LoadCharactersByAccount returns the characters bound to an account.
func (s *Store) LoadCharactersByAccount(ctx context.Context, username string) ([]storage.Character, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT name, account_username, world_id, coins FROM characters WHERE account_username = ? ORDER BY name",
		username)
	if err != nil {
		return nil, fmt.Errorf("load characters for %q: %w", username, err)
	}
	defer rows.Close()

	var characters []storage.Character
	for rows.Next() {
		var character storage.Character
		if err := rows.Scan(&character.Name, &character.AccountUsername, &character.WorldID, &character.Coins); err != nil {
			return nil, fmt.Errorf("scan character: %w", err)
		}
		characters = append(characters, character)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate characters: %w", err)
	}
	return characters, nil
}

// LoadPostItemsByAccount returns the undelivered post items for an account.
func (s *Store) LoadPostItemsByAccount(ctx context.Context, username string) ([]storage.PostItem, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT id, product_id, account_username, created_at FROM post_items WHERE account_username = ? ORDER BY created_at",
		username)
	if err != nil {
		return nil, fmt.Errorf("load post items for %q: %w", username, err)
	}
	defer rows.Close()

	var items []storage.PostItem
	for rows.Next() {
		var item storage.PostItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.AccountUsername, &item.Timestamp); err != nil {
			return nil, fmt.Errorf("scan post item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post items: %w", err)
	}
	return items, nil
}

// LoadAllPromos returns every promotion record.
func (s *Store) LoadAllPromos(ctx context.Context) ([]storage.Promo, error) {
	return s.loadPromos(ctx,
		"SELECT code, start_time, end_time, use_limit, limit_type, product_ids FROM promos ORDER BY code")
}

// LoadPromosByCode returns the promotions registered under a code.
func (s *Store) LoadPromosByCode(ctx context.Context, code string) ([]storage.Promo, error) {
	return s.loadPromos(ctx,
		"SELECT code, start_time, end_time, use_limit, limit_type, product_ids FROM promos WHERE code = ?", code)
}

func (s *Store) loadPromos(ctx context.Context, query string, args ...any) ([]storage.Promo, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load promos: %w", err)
	}
	defer rows.Close()

	var promos []storage.Promo
	for rows.Next() {
		var promo storage.Promo
		var productIDs string
		if err := rows.Scan(&promo.Code, &promo.StartTime, &promo.EndTime,
			&promo.UseLimit, &promo.LimitType, &productIDs); err != nil {
			return nil, fmt.Errorf("scan promo: %w", err)
		}
		promo.ProductIDs, err = splitProductIDs(productIDs)
		if err != nil {
			return nil, fmt.Errorf("scan promo %q: %w", promo.Code, err)
		}
		promos = append(promos, promo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate promos: %w", err)
	}
	return promos, nil
}

// InsertPromo stores a new promotion record.
func (s *Store) InsertPromo(ctx context.Context, promo storage.Promo) error {
	return insertPromo(ctx, s.sqlDB, promo)
}

func insertPromo(ctx context.Context, db execContexter, promo storage.Promo) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO promos (code, start_time, end_time, use_limit, limit_type, product_ids)
VALUES (?, ?, ?, ?, ?, ?)`,
		promo.Code, promo.StartTime, promo.EndTime, promo.UseLimit,
		promo.LimitType, joinProductIDs(promo.ProductIDs),
	)
	if err != nil {
		return fmt.Errorf("insert promo %q: %w", promo.Code, err)
	}
	return nil
}

// DeletePromosByCode removes every promotion registered under a code and
// reports how many were removed.
func (s *Store) DeletePromosByCode(ctx context.Context, code string) (int, error) {
	result, err := s.sqlDB.ExecContext(ctx, "DELETE FROM promos WHERE code = ?", code)
	if err != nil {
		return 0, fmt.Errorf("delete promos %q: %w", code, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete promos %q: %w", code, err)
	}
	return int(affected), nil
}

func insertPostItem(ctx context.Context, db execContexter, item storage.PostItem) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO post_items (id, product_id, account_username, created_at)
VALUES (?, ?, ?, ?)`,
		item.ID, item.ProductID, item.AccountUsername, item.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert post item %q: %w", item.ID, err)
	}
	return nil
}

// changeSetKeyColumns maps changeset tables to their primary key column.
var changeSetKeyColumns = map[string]string{
	storage.TableAccounts:   "username",
	storage.TableCharacters: "name",
}

// changeSetFields whitelists the columns explicit updates may touch.
var changeSetFields = map[string]bool{
	storage.FieldCP:    true,
	storage.FieldCoins: true,
}

// ProcessChangeSet applies every operation inside one transaction. The whole
// batch is rolled back when any explicit update's expected prior value no
// longer matches the stored value.
func (s *Store) ProcessChangeSet(ctx context.Context, changes *storage.ChangeSet) error {
	if changes.Empty() {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin changeset: %w", err)
	}

	for _, op := range changes.Operations() {
		var opErr error
		switch op.Kind {
		case storage.OpInsert:
			opErr = applyInsert(ctx, tx, op.Record)
		case storage.OpExplicitUpdate:
			opErr = applyExplicitUpdate(ctx, tx, op.Update)
		default:
			opErr = fmt.Errorf("unknown changeset operation %d", op.Kind)
		}
		if opErr != nil {
			_ = tx.Rollback()
			return opErr
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit changeset: %w", err)
	}
	return nil
}

func applyInsert(ctx context.Context, tx *sql.Tx, record any) error {
	switch rec := record.(type) {
	case storage.Account:
		return insertAccount(ctx, tx, rec)
	case storage.PostItem:
		return insertPostItem(ctx, tx, rec)
	case storage.Promo:
		return insertPromo(ctx, tx, rec)
	default:
		return fmt.Errorf("unsupported changeset record type %T", record)
	}
}

func applyExplicitUpdate(ctx context.Context, tx *sql.Tx, update storage.ExplicitUpdate) error {
	keyColumn, ok := changeSetKeyColumns[update.Table]
	if !ok {
		return fmt.Errorf("unsupported changeset table %q", update.Table)
	}
	if !changeSetFields[update.Field] {
		return fmt.Errorf("unsupported changeset field %q", update.Field)
	}

	query := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ? AND %s = ?",
		update.Table, update.Field, keyColumn, update.Field)
	result, err := tx.ExecContext(ctx, query, update.NewValue, update.Key, update.Expected)
	if err != nil {
		return fmt.Errorf("explicit update %s.%s: %w", update.Table, update.Field, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("explicit update %s.%s: %w", update.Table, update.Field, err)
	}
	if affected != 1 {
		return storage.ErrConflict
	}
	return nil
}

// UpsertCharacter stores or replaces a character record. Character records
// are owned by world tiers; the gateway only writes them when seeding or when
// the sync channel reconciles them.
func (s *Store) UpsertCharacter(ctx context.Context, character storage.Character) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO characters (name, account_username, world_id, coins)
VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET account_username = excluded.account_username,
world_id = excluded.world_id, coins = excluded.coins`,
		character.Name, character.AccountUsername, character.WorldID, character.Coins,
	)
	if err != nil {
		return fmt.Errorf("upsert character %q: %w", character.Name, err)
	}
	return nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func joinProductIDs(ids []uint32) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatUint(uint64(id), 10))
	}
	return strings.Join(parts, ",")
}

func splitProductIDs(value string) ([]uint32, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	ids := make([]uint32, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse product id %q: %w", part, err)
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}
