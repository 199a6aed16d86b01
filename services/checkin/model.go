package checkin

import "time"

// CheckIn records one visit. Day is the calendar date derived from the
// check-in's own timestamp (not wall-clock "today"), and the unique index
// on (customer_id, day) is what enforces one check-in per day even under
// concurrent inserts.
type CheckIn struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	CustomerID string    `gorm:"column:customer_id;uniqueIndex:idx_checkin_customer_day;not null" json:"customer_id"`
	Day        string    `gorm:"column:day;uniqueIndex:idx_checkin_customer_day;type:varchar(10);not null" json:"day"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null" json:"occurred_at"`
	Location   string    `gorm:"column:location;type:text" json:"location,omitempty"`
}

func (CheckIn) TableName() string { return "check_ins" }

// DayOf formats a timestamp as the calendar-date key used for dedup.
func DayOf(t time.Time) string {
	return t.Format("2006-01-02")
}

// BonusWindow is the trailing window over which distinct visit days are
// counted.
const BonusWindow = 30 * 24 * time.Hour

// bonusSteps maps distinct-day counts to bonus points, highest qualifying
// threshold first.
var bonusSteps = []struct {
	Days  int
	Bonus int64
}{
	{20, 100},
	{15, 75},
	{10, 50},
	{5, 25},
}

// BonusForDays returns the highest qualifying threshold and its bonus for
// a distinct-day count; (0, 0) below the lowest step.
func BonusForDays(days int) (threshold int, bonus int64) {
	for _, step := range bonusSteps {
		if days >= step.Days {
			return step.Days, step.Bonus
		}
	}
	return 0, 0
}

// BonusForThreshold returns the bonus value the table assigns to an exact
// threshold, used to compute the delta between two steps.
func BonusForThreshold(threshold int) int64 {
	for _, step := range bonusSteps {
		if threshold >= step.Days {
			return step.Bonus
		}
	}
	return 0
}
