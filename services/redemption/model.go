package redemption

import "time"

// Status is the request lifecycle. Pending is the only state a decision
// can act on; approved and rejected are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Request captures the product cost at submission time, so a later price
// change never alters what an approval deducts.
type Request struct {
	ID          string     `gorm:"column:id;primaryKey" json:"id"`
	CustomerID  string     `gorm:"column:customer_id;index;not null" json:"customer_id"`
	ProductID   string     `gorm:"column:product_id;not null" json:"product_id"`
	ProductName string     `gorm:"column:product_name" json:"product_name"`
	Quantity    int64      `gorm:"column:quantity;not null" json:"quantity"`
	PointsTotal int64      `gorm:"column:points_total;not null" json:"points_total"`
	Status      string     `gorm:"column:status;type:varchar(10);default:pending;index" json:"status"`
	Note        string     `gorm:"column:note;type:text" json:"note,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at" json:"created_at"`
	DecidedAt   *time.Time `gorm:"column:decided_at" json:"decided_at,omitempty"`
	DecidedBy   string     `gorm:"column:decided_by" json:"decided_by,omitempty"`
}

func (Request) TableName() string { return "redemption_requests" }
