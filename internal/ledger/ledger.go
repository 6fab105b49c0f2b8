// Package ledger implements the append-only, hash-linked custody ledger.
//
// A Ledger always holds at least the genesis block. Transactions are
// recorded into a pending buffer and moved into a new block by SealBlock,
// which links the block to its predecessor through the SHA-256 digest of
// the predecessor's canonical encoding. Sealed blocks are never mutated.
package ledger

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/thanhnp/supplychain-ledger/internal/models"
)

// DefaultGenesisProof is the proof stamped on the genesis block
const DefaultGenesisProof int64 = 100

// Store persists sealed blocks. Append must be durable before it returns.
type Store interface {
	Append(block *models.Block) error
	Blocks() ([]*models.Block, error)
}

// Observer receives ledger events, typically for metrics
type Observer interface {
	TransactionRecorded(pending int)
	BlockSealed(block *models.Block, chainLength int, elapsed time.Duration)
	SealFailed(reason string)
	IntegrityChecked(valid bool)
}

type nopObserver struct{}

func (nopObserver) TransactionRecorded(int) {}

func (nopObserver) BlockSealed(*models.Block, int, time.Duration) {}

func (nopObserver) SealFailed(string) {}

func (nopObserver) IntegrityChecked(bool) {}

// Option configures a Ledger
type Option func(*Ledger)

// WithStore makes every sealed block durable in s. When s already holds
// blocks, New replays and re-verifies them instead of creating a genesis block.
func WithStore(s Store) Option {
	return func(l *Ledger) { l.store = s }
}

// WithClock overrides the time source used for block timestamps
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithGenesisProof sets the proof of a freshly created genesis block
func WithGenesisProof(proof int64) Option {
	return func(l *Ledger) { l.genesisProof = proof }
}

// WithSealTimeout bounds how long SealBlock waits for the writer lock.
// Zero waits until the caller's context is done.
func WithSealTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.sealTimeout = d }
}

// WithObserver registers an event observer
func WithObserver(o Observer) Option {
	return func(l *Ledger) {
		if o != nil {
			l.observer = o
		}
	}
}

// Ledger is the append-only chain of blocks plus the pending buffer
type Ledger struct {
	mu      sync.RWMutex
	writer  *semaphore.Weighted
	chain   []*models.Block
	pending []models.Transaction

	store        Store
	now          func() time.Time
	genesisProof int64
	sealTimeout  time.Duration
	observer     Observer
}

func newLedger(opts []Option) *Ledger {
	l := &Ledger{
		writer:       semaphore.NewWeighted(1),
		now:          time.Now,
		genesisProof: DefaultGenesisProof,
		observer:     nopObserver{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// New creates a Ledger. Without a store, or with an empty one, it seals a
// genesis block with no transactions. With a non-empty store it replays the
// stored blocks and fails with ErrIntegrity if they do not form a valid chain.
func New(opts ...Option) (*Ledger, error) {
	l := newLedger(opts)

	if l.store != nil {
		blocks, err := l.store.Blocks()
		if err != nil {
			return nil, fmt.Errorf("failed to load blocks: %w", err)
		}
		if len(blocks) > 0 {
			if err := l.load(blocks); err != nil {
				return nil, err
			}
			log.Printf("[LEDGER] Replayed %d blocks from store", len(blocks))
			return l, nil
		}
	}

	genesis := &models.Block{
		Index:        1,
		Timestamp:    l.timestamp(),
		Transactions: []models.Transaction{},
		Proof:        l.genesisProof,
		PreviousHash: GenesisSentinel,
	}
	if err := l.persist(genesis); err != nil {
		return nil, err
	}
	l.chain = append(l.chain, genesis)
	log.Printf("[LEDGER] Sealed genesis block")

	return l, nil
}

// Replay reconstructs a Ledger from previously sealed blocks, re-verifying
// the hash chain. A store passed through opts must be empty; it is seeded
// with the replayed blocks so later seals continue from its tip.
func Replay(blocks []*models.Block, opts ...Option) (*Ledger, error) {
	l := newLedger(opts)
	if err := l.load(blocks); err != nil {
		return nil, err
	}
	if l.store == nil {
		return l, nil
	}

	stored, err := l.store.Blocks()
	if err != nil {
		return nil, fmt.Errorf("failed to load blocks: %w", err)
	}
	if len(stored) > 0 {
		return nil, fmt.Errorf("%w: holds %d blocks", ErrStoreNotEmpty, len(stored))
	}
	for _, b := range l.chain {
		if err := l.persist(b); err != nil {
			return nil, err
		}
	}
	log.Printf("[LEDGER] Imported %d replayed blocks into store", len(l.chain))

	return l, nil
}

func (l *Ledger) load(blocks []*models.Block) error {
	chain := make([]*models.Block, 0, len(blocks))
	for _, b := range blocks {
		c := b.Clone()
		if c != nil && c.Transactions == nil {
			c.Transactions = []models.Transaction{}
		}
		chain = append(chain, c)
	}

	if violations := verifyBlocks(chain); len(violations) > 0 {
		return fmt.Errorf("failed to replay chain: %w", &violations[0])
	}

	l.chain = chain
	return nil
}

// RecordTransaction appends a transaction to the pending buffer and returns
// the index of the block it will be sealed into.
func (l *Ledger) RecordTransaction(sender, recipient string, productID int64, action string) int64 {
	tx := sanitize(models.Transaction{
		Sender:    sender,
		Recipient: recipient,
		ProductID: productID,
		Action:    action,
	})

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = append(l.pending, tx)
	l.observer.TransactionRecorded(len(l.pending))

	return int64(len(l.chain)) + 1
}

// SealBlock moves the pending buffer into a new block linked to the current
// last block, appends it and returns a copy of it. If a store is configured
// the block is written durably first; on failure nothing changes.
func (l *Ledger) SealBlock(ctx context.Context, proof int64) (*models.Block, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.writer.Release(1)

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.sealLocked(proof)
}

// RecordAndSeal records one transaction and seals it into its own block in
// a single critical section, so concurrent callers never share a block.
func (l *Ledger) RecordAndSeal(ctx context.Context, tx models.Transaction, proof int64) (*models.Block, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.writer.Release(1)

	l.mu.Lock()
	defer l.mu.Unlock()

	// Anything recorded earlier stays pending for the next block.
	held := l.pending
	l.pending = []models.Transaction{sanitize(tx)}

	block, err := l.sealLocked(proof)
	l.pending = held
	if err != nil {
		return nil, err
	}
	l.observer.TransactionRecorded(len(l.pending))
	return block, nil
}

// sanitize replaces invalid UTF-8 so the stored value is exactly what the
// canonical encoding hashes.
func sanitize(tx models.Transaction) models.Transaction {
	tx.Sender = strings.ToValidUTF8(tx.Sender, "\uFFFD")
	tx.Recipient = strings.ToValidUTF8(tx.Recipient, "\uFFFD")
	tx.Action = strings.ToValidUTF8(tx.Action, "\uFFFD")
	return tx
}

func (l *Ledger) acquire(ctx context.Context) error {
	if l.sealTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.sealTimeout)
		defer cancel()
	}
	if err := l.writer.Acquire(ctx, 1); err != nil {
		l.observer.SealFailed("contention")
		return fmt.Errorf("%w: %v", ErrContention, err)
	}
	return nil
}

func (l *Ledger) sealLocked(proof int64) (*models.Block, error) {
	start := time.Now()
	last := l.chain[len(l.chain)-1]

	previousHash, err := Hash(last)
	if err != nil {
		l.observer.SealFailed("encoding")
		return nil, err
	}

	txs := l.pending
	if txs == nil {
		txs = []models.Transaction{}
	}

	block := &models.Block{
		Index:        int64(len(l.chain)) + 1,
		Timestamp:    l.timestamp(),
		Transactions: txs,
		Proof:        proof,
		PreviousHash: previousHash,
	}

	if err := l.persist(block); err != nil {
		l.observer.SealFailed("persist")
		return nil, err
	}

	l.chain = append(l.chain, block)
	l.pending = nil
	l.observer.BlockSealed(block, len(l.chain), time.Since(start))

	return block.Clone(), nil
}

func (l *Ledger) persist(block *models.Block) error {
	if l.store == nil {
		return nil
	}
	if err := l.store.Append(block); err != nil {
		log.Printf("[LEDGER] Failed to persist block %d: %v", block.Index, err)
		return fmt.Errorf("%w %d: %v", ErrPersist, block.Index, err)
	}
	return nil
}

// timestamp never goes backwards relative to the last block
func (l *Ledger) timestamp() time.Time {
	t := l.now().UTC().Round(0)
	if n := len(l.chain); n > 0 && t.Before(l.chain[n-1].Timestamp) {
		t = l.chain[n-1].Timestamp
	}
	return t
}

// Chain returns a copy of every sealed block from genesis to latest
func (l *Ledger) Chain() []*models.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*models.Block, len(l.chain))
	for i, b := range l.chain {
		out[i] = b.Clone()
	}
	return out
}

// LastBlock returns a copy of the most recently sealed block
func (l *Ledger) LastBlock() *models.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain[len(l.chain)-1].Clone()
}

// Length returns the number of sealed blocks
func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

// Block returns a copy of the block with the given 1-based index
func (l *Ledger) Block(index int64) (*models.Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index < 1 || index > int64(len(l.chain)) {
		return nil, false
	}
	return l.chain[index-1].Clone(), true
}

// Pending returns a copy of the transactions waiting to be sealed
func (l *Ledger) Pending() []models.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Transaction, len(l.pending))
	copy(out, l.pending)
	return out
}

// History returns every sealed event for a product in chain order
func (l *Ledger) History(productID int64) []models.ProductEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	events := []models.ProductEvent{}
	for _, b := range l.chain {
		for pos, tx := range b.Transactions {
			if tx.ProductID != productID {
				continue
			}
			events = append(events, models.ProductEvent{
				BlockIndex:  b.Index,
				Position:    pos,
				Transaction: tx,
				Timestamp:   b.Timestamp,
			})
		}
	}
	return events
}

// Verify walks the chain and returns every violated invariant
func (l *Ledger) Verify() []IntegrityError {
	l.mu.RLock()
	violations := verifyBlocks(l.chain)
	l.mu.RUnlock()

	l.observer.IntegrityChecked(len(violations) == 0)
	return violations
}

// VerifyChain returns the first violation as an error wrapping ErrIntegrity
func (l *Ledger) VerifyChain() error {
	if violations := l.Verify(); len(violations) > 0 {
		return &violations[0]
	}
	return nil
}

// VerifyBlocks checks an ordered block sequence without building a Ledger
func VerifyBlocks(blocks []*models.Block) []IntegrityError {
	return verifyBlocks(blocks)
}

func verifyBlocks(blocks []*models.Block) []IntegrityError {
	var violations []IntegrityError

	if len(blocks) == 0 {
		return append(violations, IntegrityError{Index: 0, Reason: "chain is empty"})
	}
	for i, b := range blocks {
		if b == nil {
			return append(violations, IntegrityError{Index: int64(i + 1), Reason: "missing block"})
		}
	}

	if blocks[0].PreviousHash != GenesisSentinel {
		violations = append(violations, IntegrityError{
			Index:  1,
			Reason: fmt.Sprintf("invalid genesis previous_hash: expected %q, got %q", GenesisSentinel, blocks[0].PreviousHash),
		})
	}

	for i, current := range blocks {
		expected := int64(i + 1)
		if current.Index != expected {
			violations = append(violations, IntegrityError{
				Index:  expected,
				Reason: fmt.Sprintf("invalid index: expected %d, got %d", expected, current.Index),
			})
		}
		if i == 0 {
			continue
		}

		previous := blocks[i-1]
		if current.Timestamp.Before(previous.Timestamp) {
			violations = append(violations, IntegrityError{
				Index:  expected,
				Reason: "timestamp precedes previous block",
			})
		}

		hash, err := Hash(previous)
		if err != nil {
			violations = append(violations, IntegrityError{Index: expected, Reason: err.Error()})
			continue
		}
		if current.PreviousHash != hash {
			violations = append(violations, IntegrityError{
				Index:  expected,
				Reason: fmt.Sprintf("invalid previous_hash: expected %s, got %s", hash, current.PreviousHash),
			})
		}
	}

	return violations
}
