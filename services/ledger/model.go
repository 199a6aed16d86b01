package ledger

import (
	"time"

	"gorm.io/datatypes"
)

// Category partitions ledger entries by what earned the points.
type Category string

const (
	CategoryPurchase       Category = "purchase"
	CategoryFrequencyBonus Category = "frequency-bonus"
	CategoryRedemption     Category = "redemption"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryPurchase, CategoryFrequencyBonus, CategoryRedemption:
		return true
	}
	return false
}

// PointTTL is the fixed lifetime of earned points. It is an engine policy
// constant, not per-entry configuration: every current category expires.
const PointTTL = 90 * 24 * time.Hour

// Entry is an immutable point grant. The ledger is append-only:
// corrections are offsetting entries, expired rows are excluded at read
// time but never deleted.
type Entry struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	CustomerID  string         `gorm:"column:customer_id;index;not null" json:"customer_id"`
	Points      int64          `gorm:"column:points;not null" json:"points"`
	Category    string         `gorm:"column:category;type:varchar(30);not null" json:"category"`
	Description string         `gorm:"column:description;type:text" json:"description"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"created_at"`
	ExpiresAt   *time.Time     `gorm:"column:expires_at;index" json:"expires_at,omitempty"`
}

func (Entry) TableName() string { return "ledger_entries" }

// Expired reports whether the entry no longer counts toward the valid
// balance at the given instant. Expiry at exactly asOf counts as expired.
func (e *Entry) Expired(asOf time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(asOf)
}
