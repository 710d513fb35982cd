package types

import (
	"sort"
	"time"
)

// Product represents a listing in the shared catalog.
type Product struct {
	// ID is the unique identifier of the product.
	ID int `json:"id" db:"id"`

	// OwnerID identifies the user who listed the product.
	OwnerID int `json:"owner_id" db:"owner_id"`

	// Name is the display name of the product. Search matches against it.
	Name string `json:"name" db:"name"`

	// Price is the asking price. Always positive.
	Price float64 `json:"price" db:"price"`

	// ImageRef is the opaque asset reference returned by the configured
	// asset backend. Empty when the product has no photo.
	ImageRef string `json:"image_ref" db:"image_ref"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ProductSummary is a catalog card: a product plus its like state as seen
// by the requesting user.
type ProductSummary struct {
	Product

	// LikeCount is the number of users who liked the product.
	LikeCount int `json:"like_count"`

	// LikedByMe reports whether the requesting user is in the like-set.
	LikedByMe bool `json:"liked_by_me"`

	// OwnedByMe reports whether the requesting user listed the product.
	OwnedByMe bool `json:"owned_by_me"`
}

// ProductPage is one page of catalog results.
type ProductPage struct {
	Items      []ProductSummary `json:"items"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	Total      int              `json:"total"`
	TotalPages int              `json:"total_pages"`
}

// HasPrev reports whether a page precedes this one.
func (p ProductPage) HasPrev() bool {
	return p.Page > 1
}

// HasNext reports whether a page follows this one.
func (p ProductPage) HasNext() bool {
	return p.Page < p.TotalPages
}

// PrevPage returns the previous page number.
func (p ProductPage) PrevPage() int {
	return p.Page - 1
}

// NextPage returns the next page number.
func (p ProductPage) NextPage() int {
	return p.Page + 1
}

// LikeSet is the set of user IDs who liked a product.
type LikeSet map[int]struct{}

// NewLikeSet builds a set from user IDs. Duplicates collapse.
func NewLikeSet(userIDs ...int) LikeSet {
	s := make(LikeSet, len(userIDs))
	for _, id := range userIDs {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether userID is in the set.
func (s LikeSet) Has(userID int) bool {
	_, ok := s[userID]
	return ok
}

// Toggle flips membership of userID and reports whether it is now a member.
func (s LikeSet) Toggle(userID int) bool {
	if s.Has(userID) {
		delete(s, userID)
		return false
	}
	s[userID] = struct{}{}
	return true
}

// Len returns the number of members.
func (s LikeSet) Len() int {
	return len(s)
}

// IDs returns the members in ascending order.
func (s LikeSet) IDs() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
