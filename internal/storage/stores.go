package storage

import (
	"log"
)

// ChainStores holds the database and the stores built on it
type ChainStores struct {
	DB         *PebbleDB
	BlockStore *BlockStore
}

// Open opens the database at path and creates all stores on it
func Open(path string, o Options) (*ChainStores, error) {
	log.Printf("[STORE] Opening Pebble database at %s", path)
	db, err := NewPebbleDB(path, o)
	if err != nil {
		return nil, err
	}
	return NewChainStores(db), nil
}

// NewChainStores creates all stores using the given database
func NewChainStores(db *PebbleDB) *ChainStores {
	return &ChainStores{
		DB:         db,
		BlockStore: NewBlockStore(db),
	}
}

// Close flushes memtables and closes the database. Writes made with NoSync
// are on disk once Close returns.
func (cs *ChainStores) Close() error {
	if err := cs.DB.Flush(); err != nil {
		log.Printf("[STORE] Failed to flush Pebble database: %v", err)
		cs.DB.Close()
		return err
	}
	return cs.DB.Close()
}
