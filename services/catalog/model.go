package catalog

import "time"

// Product is a redeemable reward. Deactivation hides it from new
// redemptions without touching historical requests that reference it.
type Product struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Description string    `gorm:"column:description;type:text" json:"description,omitempty"`
	PointCost   int64     `gorm:"column:point_cost;not null" json:"point_cost"`
	Active      bool      `gorm:"column:active;default:true" json:"active"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Product) TableName() string { return "products" }
