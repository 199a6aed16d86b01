package customer

import (
	"time"

	"venue-loyalty/services/tier"
)

// Customer carries the derived loyalty state alongside identity. PointsTotal
// and Tier are caches of the ledger-derived values: they are refreshed on
// every settle and may lag between operations because expiry is evaluated
// lazily. BonusThreshold is the high-water mark of the frequency-bonus step
// the customer has already been paid for.
type Customer struct {
	ID             string     `gorm:"column:id;primaryKey" json:"id"`
	Name           string     `gorm:"column:name;not null" json:"name"`
	Phone          string     `gorm:"column:phone;uniqueIndex;not null" json:"phone"`
	Email          string     `gorm:"column:email" json:"email,omitempty"`
	PasswordHash   string     `gorm:"column:password_hash" json:"-"`
	RegisteredAt   time.Time  `gorm:"column:registered_at" json:"registered_at"`
	PointsTotal    int64      `gorm:"column:points_total" json:"points_total"`
	Tier           string     `gorm:"column:tier;type:varchar(10);default:red" json:"tier"`
	BonusThreshold int        `gorm:"column:bonus_threshold" json:"bonus_threshold"`
	LastVisit      *time.Time `gorm:"column:last_visit" json:"last_visit,omitempty"`
}

func (Customer) TableName() string { return "customers" }

func (c *Customer) CurrentTier() tier.Tier {
	if c.Tier == "" {
		return tier.Red
	}
	return tier.Tier(c.Tier)
}
