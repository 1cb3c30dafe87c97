package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/logger"
	"gorm.io/gorm"

	"ticketpool/internal/models"
)

// insertBatchSize keeps one INSERT under SQLite's bound-parameter limit.
const insertBatchSize = 500

// TicketFilter narrows scans and counts.
type TicketFilter struct {
	// Status matches one status; empty matches every ticket.
	Status models.TicketStatus
	// At, when set together with StatusAvailable, also matches reserved
	// tickets whose reservation has lapsed at that instant.
	At time.Time
}

// Available matches tickets that are logically available at now.
func Available(now time.Time) TicketFilter {
	return TicketFilter{Status: models.StatusAvailable, At: now}
}

func (f TicketFilter) apply(q *gorm.DB) *gorm.DB {
	switch {
	case f.Status == models.StatusAvailable && !f.At.IsZero():
		return q.Where("(status = ? OR (status = ? AND (expiration IS NULL OR expiration <= ?)))",
			models.StatusAvailable, models.StatusReserved, f.At.UTC())
	case f.Status != "":
		return q.Where("status = ?", f.Status)
	}
	return q
}

// Guard is the condition a transition must satisfy at write time. The row
// must not be paid, and it must be available, carry no live reservation at
// At, or be held by Identity.
type Guard struct {
	Identity string
	At       time.Time
}

func (g Guard) apply(q *gorm.DB) *gorm.DB {
	q = q.Where("status <> ?", models.StatusPaid)
	if g.Identity == "" {
		return q.Where("(status = ? OR expiration IS NULL OR expiration <= ?)",
			models.StatusAvailable, g.At.UTC())
	}
	return q.Where("(status = ? OR expiration IS NULL OR expiration <= ? OR COALESCE(NULLIF(owner, ''), owner_phone, '') = ?)",
		models.StatusAvailable, g.At.UTC(), g.Identity)
}

func releasedColumns() map[string]any {
	return map[string]any{
		"status":      models.StatusAvailable,
		"owner":       nil,
		"owner_name":  nil,
		"owner_phone": nil,
		"expiration":  nil,
	}
}

func (s *Store) tickets(ctx context.Context, lotteryID string) *gorm.DB {
	return s.conn(ctx).Model(&models.Ticket{}).Where("lottery_id = ?", lotteryID)
}

// GetTicket returns the ticket (lotteryID, number) or ErrNotFound.
func (s *Store) GetTicket(ctx context.Context, lotteryID string, number int) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.conn(ctx).Where("lottery_id = ? AND number = ?", lotteryID, number).First(&ticket).Error
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.Errorf("Failed to get ticket %s/%d: %v", lotteryID, number, err)
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &ticket, nil
}

// ScanTickets returns one page of a lottery's tickets ordered by number.
func (s *Store) ScanTickets(ctx context.Context, lotteryID string, filter TicketFilter, offset, limit int) ([]models.Ticket, error) {
	var rows []models.Ticket
	err := filter.apply(s.tickets(ctx, lotteryID)).
		Order("number").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		logger.Errorf("Failed to scan tickets of %s at offset %d: %v", lotteryID, offset, err)
		return nil, fmt.Errorf("failed to scan tickets: %w", err)
	}
	return rows, nil
}

// CountTickets counts a lottery's tickets matching filter.
func (s *Store) CountTickets(ctx context.Context, lotteryID string, filter TicketFilter) (int64, error) {
	var count int64
	if err := filter.apply(s.tickets(ctx, lotteryID)).Count(&count).Error; err != nil {
		logger.Errorf("Failed to count tickets of %s: %v", lotteryID, err)
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return count, nil
}

// HasTickets reports whether the lottery has at least one ticket row.
func (s *Store) HasTickets(ctx context.Context, lotteryID string) (bool, error) {
	var ids []uint
	if err := s.tickets(ctx, lotteryID).Limit(1).Pluck("id", &ids).Error; err != nil {
		logger.Errorf("Failed to check tickets of %s: %v", lotteryID, err)
		return false, fmt.Errorf("failed to check tickets: %w", err)
	}
	return len(ids) > 0, nil
}

// InsertTickets inserts rows. A failure may leave part of rows inserted.
func (s *Store) InsertTickets(ctx context.Context, rows []models.Ticket) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.conn(ctx).CreateInBatches(&rows, insertBatchSize).Error; err != nil {
		logger.Errorf("Failed to insert %d tickets starting at %s/%d: %v",
			len(rows), rows[0].LotteryID, rows[0].Number, err)
		return fmt.Errorf("failed to insert tickets: %w", err)
	}
	return nil
}

// TransitionTicket writes patch to the ticket only if guard still holds.
// It returns ErrNotApplied when no row matched.
func (s *Store) TransitionTicket(ctx context.Context, lotteryID string, number int, patch models.TicketPatch, guard Guard) error {
	var expiration any
	if patch.Expiration != nil {
		expiration = patch.Expiration.UTC()
	}
	res := guard.apply(s.tickets(ctx, lotteryID).Where("number = ?", number)).
		Updates(map[string]any{
			"status":      patch.Status,
			"owner":       patch.Owner,
			"owner_name":  patch.OwnerName,
			"owner_phone": patch.OwnerPhone,
			"expiration":  expiration,
		})
	if res.Error != nil {
		logger.Errorf("Failed to update ticket %s/%d: %v", lotteryID, number, res.Error)
		return fmt.Errorf("failed to update ticket: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotApplied
	}
	return nil
}

// ReclaimLapsed releases the given tickets whose reservation has lapsed at
// now. Tickets that were re-reserved or paid in the meantime are skipped.
func (s *Store) ReclaimLapsed(ctx context.Context, lotteryID string, numbers []int, now time.Time) (int64, error) {
	if len(numbers) == 0 {
		return 0, nil
	}
	res := s.tickets(ctx, lotteryID).
		Where("number IN ?", numbers).
		Where("status = ? AND (expiration IS NULL OR expiration <= ?)", models.StatusReserved, now.UTC()).
		Updates(releasedColumns())
	if res.Error != nil {
		logger.Errorf("Failed to reclaim tickets of %s: %v", lotteryID, res.Error)
		return 0, fmt.Errorf("failed to reclaim tickets: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ReclaimAllLapsed releases every lapsed reservation in the database.
func (s *Store) ReclaimAllLapsed(ctx context.Context, now time.Time) (int64, error) {
	res := s.conn(ctx).Model(&models.Ticket{}).
		Where("status = ? AND (expiration IS NULL OR expiration <= ?)", models.StatusReserved, now.UTC()).
		Updates(releasedColumns())
	if res.Error != nil {
		logger.Errorf("Failed to reclaim lapsed tickets: %v", res.Error)
		return 0, fmt.Errorf("failed to reclaim lapsed tickets: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ResetTickets releases every ticket of the lottery that is not paid.
func (s *Store) ResetTickets(ctx context.Context, lotteryID string) (int64, error) {
	res := s.tickets(ctx, lotteryID).
		Where("status <> ?", models.StatusPaid).
		Updates(releasedColumns())
	if res.Error != nil {
		logger.Errorf("Failed to reset tickets of %s: %v", lotteryID, res.Error)
		return 0, fmt.Errorf("failed to reset tickets: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteTickets removes the whole pool of a lottery.
func (s *Store) DeleteTickets(ctx context.Context, lotteryID string) (int64, error) {
	res := s.conn(ctx).Where("lottery_id = ?", lotteryID).Delete(&models.Ticket{})
	if res.Error != nil {
		logger.Errorf("Failed to delete tickets of %s: %v", lotteryID, res.Error)
		return 0, fmt.Errorf("failed to delete tickets: %w", res.Error)
	}
	return res.RowsAffected, nil
}
