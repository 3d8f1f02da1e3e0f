package models

import "time"

// Preferences are the per-user settings that survive restarts.
type Preferences struct {
	UserID    int64      `json:"user_id"`
	Theme     string     `json:"theme"`
	Filter    FilterSpec `json:"filter"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func DefaultPreferences(userID int64) *Preferences {
	return &Preferences{
		UserID:    userID,
		Filter:    DefaultFilterSpec(),
		UpdatedAt: time.Now(),
	}
}

type CartItem struct {
	Product  Product   `json:"product"`
	Quantity int       `json:"quantity"`
	AddedAt  time.Time `json:"added_at"`
}

func CartTotal(items []CartItem) float64 {
	var total float64
	for _, it := range items {
		total += it.Product.Price * float64(it.Quantity)
	}
	return total
}

func CartCount(items []CartItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}
