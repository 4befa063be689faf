package models

import "time"

// ChanceRecord is the persisted weight of a single user in the active giveaway.
// There is at most one record per user. The check constraint rejects sums
// that sqlite would otherwise promote to REAL on int64 overflow.
type ChanceRecord struct {
	UserID int64 `json:"userId" gorm:"column:user_id;primaryKey;autoIncrement:false"`
	Chance int64 `json:"chance" gorm:"column:chance;not null;check:chk_user_chances_chance_integer,typeof(chance) = 'integer'"`
}

// TableName keeps the table name stable regardless of gorm's naming strategy.
func (ChanceRecord) TableName() string {
	return "user_chances"
}

// DrawResult stores the outcome of a single draw.
type DrawResult struct {
	ID           string    `json:"id"`
	WinnerID     int64     `json:"winnerId"`
	WinnerChance int64     `json:"winnerChance"`
	TotalChance  int64     `json:"totalChance"`
	Participants int       `json:"participants"`
	DrawnAt      time.Time `json:"drawnAt"`
}
