package models

import (
	"time"
)

// Well-known lifecycle actions. The set is open-ended.
const (
	ActionCreated   = "Created"
	ActionShipped   = "Shipped"
	ActionReceived  = "Received"
	ActionDelivered = "Delivered"
)

// Transaction represents a single custody event for a product
type Transaction struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	ProductID int64  `json:"product_id"`
	Action    string `json:"action"`
}

// ProductEvent is a sealed transaction together with the block that holds it
type ProductEvent struct {
	BlockIndex  int64       `json:"block_index"`
	Position    int         `json:"position"`
	Transaction Transaction `json:"transaction"`
	Timestamp   time.Time   `json:"timestamp"`
}
