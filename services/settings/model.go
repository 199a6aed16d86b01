package settings

import "time"

// Settings is the single venue-wide configuration row. There is exactly
// one; Get seeds it on first read.
type Settings struct {
	ID              string    `gorm:"column:id;primaryKey" json:"id"`
	VenueName       string    `gorm:"column:venue_name" json:"venue_name"`
	LogoPath        string    `gorm:"column:logo_path" json:"logo_path"`
	RedMin          int64     `gorm:"column:red_min" json:"red_min"`
	YellowMin       int64     `gorm:"column:yellow_min" json:"yellow_min"`
	GreenMin        int64     `gorm:"column:green_min" json:"green_min"`
	AdminCredential string    `gorm:"column:admin_credential" json:"-"`
	UpdatedAt       time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Settings) TableName() string { return "settings" }

// Snapshot is the immutable view handed to classification and profile
// reads. Callers fetch-then-pass it, so a concurrent settings update can
// never shift thresholds mid-operation.
type Snapshot struct {
	VenueName string `json:"venue_name"`
	LogoPath  string `json:"logo_path"`
	RedMin    int64  `json:"red_min"`
	YellowMin int64  `json:"yellow_min"`
	GreenMin  int64  `json:"green_min"`
}

func (s *Settings) Snapshot() *Snapshot {
	return &Snapshot{
		VenueName: s.VenueName,
		LogoPath:  s.LogoPath,
		RedMin:    s.RedMin,
		YellowMin: s.YellowMin,
		GreenMin:  s.GreenMin,
	}
}
