package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Lottery is the lottery record a ticket pool belongs to.
// The winner fields stay empty until a winner is selected.
type Lottery struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Name         string     `json:"name"`
	EndDate      *time.Time `json:"end_date"`
	WinnerNumber *int       `json:"winner_number"`
	WinnerName   *string    `json:"winner_name"`
	WinnerPhone  *string    `json:"winner_phone"`
	WinnerUserID *string    `json:"winner_user_id"`
	WinnerPhoto  *string    `json:"winner_photo"`
}

func (Lottery) TableName() string { return "lotteries" }

// WinnerFields are written onto a lottery once its winner is known.
type WinnerFields struct {
	Number int
	Name   *string
	Phone  *string
	UserID *string
	Photo  *string
}

// Prize links a lottery to its winning ticket. At most one per lottery.
type Prize struct {
	ID              string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	LotteryID       string     `json:"lottery_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	LotteryName     string     `json:"lottery_name"`
	LotteryEndDate  *time.Time `json:"lottery_end_date"`
	WinningNumber   int        `json:"winning_number"`
	PurchasedNumber string     `json:"purchased_number"`
	WinnerReference string     `json:"winner_reference"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (Prize) TableName() string { return "prizes" }

func (p *Prize) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
