package storage

// Tables addressable by explicit updates.
const (
	TableAccounts   = "accounts"
	TableCharacters = "characters"
)

// Fields addressable by explicit updates.
const (
	FieldCP    = "cp"
	FieldCoins = "coins"
)

// OperationKind discriminates changeset operations.
type OperationKind int

const (
	// OpInsert inserts a new record.
	OpInsert OperationKind = iota
	// OpExplicitUpdate updates one field guarded by an expected prior value.
	OpExplicitUpdate
)

// ExplicitUpdate updates a single field of an existing record. The update is
// rejected at commit time when the stored value no longer equals Expected,
// which guards against lost updates between racing requests.
type ExplicitUpdate struct {
	Table    string
	Key      string
	Field    string
	NewValue int64
	Expected int64
}

// Operation is one entry in a changeset: either an insert or an explicit
// update.
type Operation struct {
	Kind   OperationKind
	Record any
	Update ExplicitUpdate
}

// ChangeSet is an ordered batch of record operations committed atomically.
type ChangeSet struct {
	operations []Operation
}

// NewChangeSet begins an empty changeset.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{}
}

// AddInsert appends an insert of a new record. Supported record types are
// Account, PostItem, and Promo; game sessions are held in memory and never
// inserted through a changeset.
func (c *ChangeSet) AddInsert(record any) {
	c.operations = append(c.operations, Operation{Kind: OpInsert, Record: record})
}

// AddExplicitUpdate appends an update of one field carrying the value the
// caller believes is currently stored.
func (c *ChangeSet) AddExplicitUpdate(table, key, field string, newValue, expected int64) {
	c.operations = append(c.operations, Operation{
		Kind: OpExplicitUpdate,
		Update: ExplicitUpdate{
			Table:    table,
			Key:      key,
			Field:    field,
			NewValue: newValue,
			Expected: expected,
		},
	})
}

// Operations returns the ordered operation list.
func (c *ChangeSet) Operations() []Operation {
	if c == nil {
		return nil
	}
	return c.operations
}

// Empty reports whether the changeset carries no operations.
func (c *ChangeSet) Empty() bool {
	return c == nil || len(c.operations) == 0
}
