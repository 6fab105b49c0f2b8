package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thanhnp/supplychain-ledger/internal/ledger"
)

// BlockHandler handles chain and block API requests
type BlockHandler struct {
	ledger       *ledger.Ledger
	defaultProof int64
}

// NewBlockHandler creates a new BlockHandler
func NewBlockHandler(l *ledger.Ledger, defaultProof int64) *BlockHandler {
	return &BlockHandler{
		ledger:       l,
		defaultProof: defaultProof,
	}
}

// SealRequest is the body of a seal request. Proof is optional.
type SealRequest struct {
	Proof *int64 `json:"proof"`
}

// GetChain returns the full chain
// GET /api/v1/chain
func (h *BlockHandler) GetChain(c *gin.Context) {
	chain := h.ledger.Chain()
	c.JSON(http.StatusOK, gin.H{
		"chain":  chain,
		"length": len(chain),
	})
}

// Verify runs the integrity check over the chain
// GET /api/v1/chain/verify
func (h *BlockHandler) Verify(c *gin.Context) {
	violations := h.ledger.Verify()
	if violations == nil {
		violations = []ledger.IntegrityError{}
	}

	status := http.StatusOK
	if len(violations) > 0 {
		status = http.StatusConflict
	}

	c.JSON(status, gin.H{
		"valid":      len(violations) == 0,
		"length":     h.ledger.Length(),
		"violations": violations,
	})
}

// GetLatest returns the latest block
// GET /api/v1/blocks/latest
func (h *BlockHandler) GetLatest(c *gin.Context) {
	c.JSON(http.StatusOK, h.ledger.LastBlock())
}

// GetByIndex returns a block by its index
// GET /api/v1/blocks/:index
func (h *BlockHandler) GetByIndex(c *gin.Context) {
	index := c.GetInt64("index")

	block, ok := h.ledger.Block(index)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Block not found"})
		return
	}

	c.JSON(http.StatusOK, block)
}

// Seal seals the pending transactions into a new block
// POST /api/v1/blocks
func (h *BlockHandler) Seal(c *gin.Context) {
	// An empty body, with or without a Content-Length, seals with the default proof
	var req SealRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	proof := h.defaultProof
	if req.Proof != nil {
		proof = *req.Proof
	}

	block, err := h.ledger.SealBlock(c.Request.Context(), proof)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusCreated, block)
}
