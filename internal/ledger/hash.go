package ledger

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/thanhnp/supplychain-ledger/internal/models"
)

// GenesisSentinel is the previous_hash carried by the first block
const GenesisSentinel = "1"

// Field order below is the canonical order (alphabetical keys). Do not reorder.
type canonicalTx struct {
	Action    string `json:"action"`
	ProductID int64  `json:"product_id"`
	Recipient string `json:"recipient"`
	Sender    string `json:"sender"`
}

type canonicalBlock struct {
	Index        int64         `json:"index"`
	PreviousHash string        `json:"previous_hash"`
	Proof        int64         `json:"proof"`
	Timestamp    int64         `json:"timestamp"`
	Transactions []canonicalTx `json:"transactions"`
}

// Encode returns the canonical byte encoding of a block: compact JSON with
// keys in fixed alphabetical order and the timestamp as Unix nanoseconds.
// Strings are written without HTML escaping, so '<', '>' and '&' appear as
// raw bytes. U+2028 and U+2029 are always written as \u2028 and \u2029.
func Encode(b *models.Block) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil block", ErrEncoding)
	}

	cb := canonicalBlock{
		Index:        b.Index,
		PreviousHash: b.PreviousHash,
		Proof:        b.Proof,
		Timestamp:    b.Timestamp.UnixNano(),
		Transactions: make([]canonicalTx, 0, len(b.Transactions)),
	}
	if !utf8.ValidString(b.PreviousHash) {
		return nil, fmt.Errorf("%w: block %d previous_hash is not valid UTF-8", ErrEncoding, b.Index)
	}
	for i, tx := range b.Transactions {
		if !utf8.ValidString(tx.Sender) || !utf8.ValidString(tx.Recipient) || !utf8.ValidString(tx.Action) {
			return nil, fmt.Errorf("%w: block %d transaction %d is not valid UTF-8", ErrEncoding, b.Index, i)
		}
		cb.Transactions = append(cb.Transactions, canonicalTx{
			Action:    tx.Action,
			ProductID: tx.ProductID,
			Recipient: tx.Recipient,
			Sender:    tx.Sender,
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Hash returns the lowercase hex SHA-256 digest of the block's canonical encoding
func Hash(b *models.Block) (string, error) {
	data, err := Encode(b)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(chainhash.HashB(data)), nil
}
