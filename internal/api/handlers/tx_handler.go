package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/thanhnp/supplychain-ledger/internal/ledger"
)

// TxHandler handles pending transaction API requests
type TxHandler struct {
	ledger *ledger.Ledger
}

// NewTxHandler creates a new TxHandler
func NewTxHandler(l *ledger.Ledger) *TxHandler {
	return &TxHandler{ledger: l}
}

// RecordRequest is the body of a record request
type RecordRequest struct {
	Sender    string `json:"sender" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
	ProductID *int64 `json:"product_id" binding:"required"`
	Action    string `json:"action" binding:"required"`
}

// Record appends a transaction to the pending buffer
// POST /api/v1/transactions
func (h *TxHandler) Record(c *gin.Context) {
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction: " + err.Error()})
		return
	}

	index := h.ledger.RecordTransaction(req.Sender, req.Recipient, *req.ProductID, req.Action)

	c.JSON(http.StatusAccepted, gin.H{
		"message":     "Transaction will be added to block " + strconv.FormatInt(index, 10),
		"block_index": index,
	})
}

// GetPending returns the transactions waiting to be sealed
// GET /api/v1/transactions/pending
func (h *TxHandler) GetPending(c *gin.Context) {
	pending := h.ledger.Pending()
	c.JSON(http.StatusOK, gin.H{
		"transactions": pending,
		"count":        len(pending),
	})
}
