package types

import "time"

// Catalog event types.
const (
	EventProductCreated = "product.created"
	EventProductUpdated = "product.updated"
	EventProductDeleted = "product.deleted"
	EventLikeToggled    = "like.toggled"
)

// CatalogEvent is published after a catalog mutation has been committed.
type CatalogEvent struct {
	Type       string    `json:"type"`
	ProductID  int       `json:"product_id"`
	UserID     int       `json:"user_id"`
	Name       string    `json:"name,omitempty"`
	Price      float64   `json:"price,omitempty"`
	Liked      *bool     `json:"liked,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
