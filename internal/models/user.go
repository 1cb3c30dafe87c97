package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a registered buyer. Tickets reference it through Ticket.Owner.
type User struct {
	ID    string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Photo string `json:"photo"`
	Email string `json:"email"`
}

func (User) TableName() string { return "users" }

// UserPatch lists the user fields that can be updated. Nil fields are left untouched.
type UserPatch struct {
	Name  *string
	Phone *string
	Photo *string
	Email *string
}

// Purchase records a buyer's order of tickets.
type Purchase struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	LotteryID string    `json:"lottery_id" gorm:"type:varchar(64);index"`
	UserID    string    `json:"user_id" gorm:"type:varchar(64);index"`
	Numbers   string    `json:"numbers"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Purchase) TableName() string { return "purchases" }

func (p *Purchase) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// PurchasePatch lists the purchase fields that can be set. Nil fields are left untouched.
type PurchasePatch struct {
	LotteryID *string
	UserID    *string
	Numbers   *string
	Amount    *float64
	Status    *string
	Reference *string
}
