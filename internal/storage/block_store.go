package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/thanhnp/supplychain-ledger/internal/models"
)

var (
	// ErrOutOfOrder is returned when a block does not extend the stored tip
	ErrOutOfOrder = errors.New("storage: block does not extend tip")

	// ErrTipMismatch is returned when the stored tip disagrees with the stored blocks
	ErrTipMismatch = errors.New("storage: tip does not match stored blocks")
)

// tipKey holds the index of the last stored block in the meta column family
var tipKey = []byte("tip")

// BlockStore handles sealed block storage operations
type BlockStore struct {
	db *PebbleDB
	mu sync.Mutex
}

// NewBlockStore creates a new BlockStore
func NewBlockStore(db *PebbleDB) *BlockStore {
	return &BlockStore{db: db}
}

// blockKey creates a key for the blocks column family. Zero padding keeps
// iteration in index order.
func blockKey(index int64) []byte {
	return []byte(fmt.Sprintf("%012d", index))
}

// Append stores a block and advances the tip in one synced batch
func (s *BlockStore) Append(block *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tip, err := s.tip()
	if err != nil {
		return err
	}
	if block.Index != tip+1 {
		return fmt.Errorf("%w: tip %d, got block %d", ErrOutOfOrder, tip, block.Index)
	}

	data, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Destroy()

	if err := s.db.PutBatch(batch, CFBlocks, blockKey(block.Index), data); err != nil {
		return err
	}
	if err := s.db.PutBatch(batch, CFMeta, tipKey, []byte(strconv.FormatInt(block.Index, 10))); err != nil {
		return err
	}

	return s.db.WriteBatch(batch)
}

// Get retrieves a block by its 1-based index. A missing block returns nil, nil.
func (s *BlockStore) Get(index int64) (*models.Block, error) {
	data, err := s.db.Get(CFBlocks, blockKey(index))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var block models.Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}
	return &block, nil
}

// Tip returns the index of the last stored block, or 0 when empty
func (s *BlockStore) Tip() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tip()
}

func (s *BlockStore) tip() (int64, error) {
	data, err := s.db.Get(CFMeta, tipKey)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}

	tip, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse tip: %w", err)
	}
	return tip, nil
}

// Blocks returns every stored block in index order. Hash links are not
// checked here; the ledger re-verifies them on replay.
func (s *BlockStore) Blocks() ([]*models.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iter, err := s.db.NewIterator(CFBlocks)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var blocks []*models.Block
	for ; iter.Valid(); iter.Next() {
		var block models.Block
		if err := json.Unmarshal(iter.Value(), &block); err != nil {
			return nil, fmt.Errorf("failed to unmarshal block %s: %w", iter.Key(), err)
		}
		blocks = append(blocks, &block)
	}

	tip, err := s.tip()
	if err != nil {
		return nil, err
	}
	if tip != int64(len(blocks)) {
		return nil, fmt.Errorf("%w: tip %d, %d blocks stored", ErrTipMismatch, tip, len(blocks))
	}

	return blocks, nil
}
