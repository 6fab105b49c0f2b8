package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thanhnp/supplychain-ledger/internal/ledger"
	"github.com/thanhnp/supplychain-ledger/internal/models"
)

// ProductHandler handles product custody API requests
type ProductHandler struct {
	ledger       *ledger.Ledger
	defaultProof int64
}

// NewProductHandler creates a new ProductHandler
func NewProductHandler(l *ledger.Ledger, defaultProof int64) *ProductHandler {
	return &ProductHandler{
		ledger:       l,
		defaultProof: defaultProof,
	}
}

// EventRequest is the body of a product event request
type EventRequest struct {
	Sender    string `json:"sender" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	Action    string `json:"action" binding:"required"`
	Proof     *int64 `json:"proof"`
}

// RecordEvent records a lifecycle event and seals it into its own block
// POST /api/v1/products/:id/events
func (h *ProductHandler) RecordEvent(c *gin.Context) {
	productID := c.GetInt64("id")

	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event: " + err.Error()})
		return
	}

	proof := h.defaultProof
	if req.Proof != nil {
		proof = *req.Proof
	}

	block, err := h.ledger.RecordAndSeal(c.Request.Context(), models.Transaction{
		Sender:    req.Sender,
		Recipient: req.Recipient,
		ProductID: productID,
		Action:    req.Action,
	}, proof)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":     req.Action + " recorded on the ledger",
		"block_index": block.Index,
		"block":       block,
	})
}

// GetHistory returns the custody events of a product
// GET /api/v1/products/:id/history
func (h *ProductHandler) GetHistory(c *gin.Context) {
	productID := c.GetInt64("id")
	events := h.ledger.History(productID)

	status := ""
	if n := len(events); n > 0 {
		status = events[n-1].Transaction.Action
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id": productID,
		"status":     status,
		"events":     events,
		"count":      len(events),
	})
}
