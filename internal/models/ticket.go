package models

import "time"

// TicketStatus is the reservation state of a ticket.
type TicketStatus string

const (
	StatusAvailable TicketStatus = "available"
	StatusReserved  TicketStatus = "reserved"
	StatusPaid      TicketStatus = "paid" // terminal
)

// Valid reports whether s is one of the known statuses.
func (s TicketStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusReserved, StatusPaid:
		return true
	}
	return false
}

// Ticket is one numbered unit of a lottery's pool.
// (LotteryID, Number) identifies it.
type Ticket struct {
	ID         uint         `json:"-" gorm:"primaryKey"`
	LotteryID  string       `json:"lottery_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_tickets_lottery_number,priority:1"`
	Number     int          `json:"number" gorm:"not null;uniqueIndex:ux_tickets_lottery_number,priority:2"`
	Status     TicketStatus `json:"status" gorm:"type:varchar(16);not null;default:available;index"`
	Owner      *string      `json:"owner"`
	OwnerName  *string      `json:"owner_name"`
	OwnerPhone *string      `json:"owner_phone"`
	Expiration *time.Time   `json:"expiration" gorm:"index"`
	Price      float64      `json:"price"`
}

func (Ticket) TableName() string { return "tickets" }

// Holder returns the identity currently holding the ticket: the owner id
// when present, otherwise the owner phone.
func (t *Ticket) Holder() string {
	if t.Owner != nil && *t.Owner != "" {
		return *t.Owner
	}
	if t.OwnerPhone != nil {
		return *t.OwnerPhone
	}
	return ""
}

// Live reports whether the ticket carries a reservation that has not expired at now.
func (t *Ticket) Live(now time.Time) bool {
	return t.Status == StatusReserved && t.Expiration != nil && t.Expiration.After(now)
}

// Lapsed reports whether the ticket is stored as reserved but its
// reservation no longer holds at now.
func (t *Ticket) Lapsed(now time.Time) bool {
	return t.Status == StatusReserved && !t.Live(now)
}

// Claimable reports whether the ticket is logically available at now.
func (t *Ticket) Claimable(now time.Time) bool {
	return t.Status == StatusAvailable || t.Lapsed(now)
}

// Release clears the reservation fields in memory, mirroring what a reclaim
// writes to the store.
func (t *Ticket) Release() {
	t.Status = StatusAvailable
	t.Owner = nil
	t.OwnerName = nil
	t.OwnerPhone = nil
	t.Expiration = nil
}

// TicketPatch is the full set of fields a transition writes.
// Nil pointers are written as NULL.
type TicketPatch struct {
	Status     TicketStatus
	Owner      *string
	OwnerName  *string
	OwnerPhone *string
	Expiration *time.Time
}
