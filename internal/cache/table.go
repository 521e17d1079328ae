package cache

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
)

const (
	streamsTable = "streams"
	idIndex      = "id"
)

// Table is the in-memory working-stream cache.
type Table struct {
	db *memdb.MemDB
}

// NewTable creates an empty Table.
func NewTable() (*Table, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			streamsTable: {
				Name: streamsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ChannelID"},
					},
				},
			},
		},
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	return &Table{db: db}, nil
}

// Get returns the entry for id.
func (t *Table) Get(id string) (Entry, bool) {
	txn := t.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(streamsTable, idIndex, id)
	if err != nil || raw == nil {
		return Entry{}, false
	}
	return *raw.(*Entry), true
}

// All returns every entry ordered by channel ID.
func (t *Table) All() []Entry {
	txn := t.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(streamsTable, idIndex)
	if err != nil {
		return nil
	}
	var out []Entry
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, *raw.(*Entry))
	}
	return out
}

// Len returns the number of cached channels.
func (t *Table) Len() int {
	return len(t.All())
}

// Snapshot copies the current contents.
func (t *Table) Snapshot() Snapshot {
	all := t.All()
	snap := make(Snapshot, len(all))
	for _, e := range all {
		snap[e.ChannelID] = e
	}
	return snap
}

// Replace swaps the whole table for snap in a single transaction.
func (t *Table) Replace(snap Snapshot) error {
	txn := t.db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(streamsTable, idIndex); err != nil {
		return fmt.Errorf("clear streams: %w", err)
	}
	for id, e := range snap {
		e.ChannelID = id
		entry := e
		if err := txn.Insert(streamsTable, &entry); err != nil {
			return fmt.Errorf("insert %s: %w", id, err)
		}
	}
	txn.Commit()
	return nil
}

// Put inserts or overwrites one entry.
func (t *Table) Put(e Entry) error {
	if e.ChannelID == "" {
		return fmt.Errorf("entry channel id is required")
	}
	txn := t.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(streamsTable, &e); err != nil {
		return fmt.Errorf("insert %s: %w", e.ChannelID, err)
	}
	txn.Commit()
	return nil
}

// Delete removes the entry for id. Missing ids are not an error.
func (t *Table) Delete(id string) error {
	txn := t.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(streamsTable, idIndex, id)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", id, err)
	}
	if raw == nil {
		return nil
	}
	if err := txn.Delete(streamsTable, raw); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	txn.Commit()
	return nil
}
