package store

import (
	"context"
	"fmt"

	"github.com/google/logger"
	"gorm.io/gorm/clause"

	"ticketpool/internal/models"
)

// GetLottery returns the lottery record or ErrNotFound.
func (s *Store) GetLottery(ctx context.Context, id string) (*models.Lottery, error) {
	var lottery models.Lottery
	err := s.conn(ctx).Where("id = ?", id).First(&lottery).Error
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.Errorf("Failed to get lottery %s: %v", id, err)
		return nil, fmt.Errorf("failed to get lottery: %w", err)
	}
	return &lottery, nil
}

// SaveLottery inserts or replaces a lottery record.
func (s *Store) SaveLottery(ctx context.Context, lottery *models.Lottery) error {
	if err := s.conn(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(lottery).Error; err != nil {
		logger.Errorf("Failed to save lottery %s: %v", lottery.ID, err)
		return fmt.Errorf("failed to save lottery: %w", err)
	}
	return nil
}

// SetLotteryWinner writes the winner fields onto the lottery only while it
// has no winner or already names the same number. It returns ErrNotApplied
// when another winner is recorded and ErrNotFound when the lottery is missing.
func (s *Store) SetLotteryWinner(ctx context.Context, id string, winner models.WinnerFields) error {
	res := s.conn(ctx).Model(&models.Lottery{}).
		Where("id = ?", id).
		Where("(winner_number IS NULL OR winner_number = ?)", winner.Number).
		Updates(map[string]any{
			"winner_number":  winner.Number,
			"winner_name":    winner.Name,
			"winner_phone":   winner.Phone,
			"winner_user_id": winner.UserID,
			"winner_photo":   winner.Photo,
		})
	if res.Error != nil {
		logger.Errorf("Failed to set winner of lottery %s: %v", id, res.Error)
		return fmt.Errorf("failed to set lottery winner: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := s.GetLottery(ctx, id); err != nil {
		return err
	}
	return ErrNotApplied
}

// HasPrize reports whether a prize record exists for the lottery.
func (s *Store) HasPrize(ctx context.Context, lotteryID string) (bool, error) {
	var count int64
	if err := s.conn(ctx).Model(&models.Prize{}).Where("lottery_id = ?", lotteryID).Count(&count).Error; err != nil {
		logger.Errorf("Failed to check prize of lottery %s: %v", lotteryID, err)
		return false, fmt.Errorf("failed to check prize: %w", err)
	}
	return count > 0, nil
}

// GetPrize returns the prize record of a lottery or ErrNotFound.
func (s *Store) GetPrize(ctx context.Context, lotteryID string) (*models.Prize, error) {
	var prize models.Prize
	err := s.conn(ctx).Where("lottery_id = ?", lotteryID).First(&prize).Error
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prize: %w", err)
	}
	return &prize, nil
}

// InsertPrize appends a prize record.
func (s *Store) InsertPrize(ctx context.Context, prize *models.Prize) error {
	if err := s.conn(ctx).Create(prize).Error; err != nil {
		logger.Errorf("Failed to insert prize for lottery %s: %v", prize.LotteryID, err)
		return fmt.Errorf("failed to insert prize: %w", err)
	}
	return nil
}

// GetUser returns the user or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.conn(ctx).Where("id = ?", id).First(&user).Error
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.Errorf("Failed to get user %s: %v", id, err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// SaveUser inserts or replaces a user.
func (s *Store) SaveUser(ctx context.Context, user *models.User) error {
	if err := s.conn(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(user).Error; err != nil {
		logger.Errorf("Failed to save user %s: %v", user.ID, err)
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// UpdateUser applies the non-nil fields of patch. ErrNotFound if the user does not exist.
func (s *Store) UpdateUser(ctx context.Context, id string, patch models.UserPatch) error {
	columns := map[string]any{}
	setIfPresent(columns, "name", patch.Name)
	setIfPresent(columns, "phone", patch.Phone)
	setIfPresent(columns, "photo", patch.Photo)
	setIfPresent(columns, "email", patch.Email)
	return s.updateByID(ctx, &models.User{}, "user", id, columns)
}

// GetPurchase returns the purchase or ErrNotFound.
func (s *Store) GetPurchase(ctx context.Context, id string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := s.conn(ctx).Where("id = ?", id).First(&purchase).Error
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.Errorf("Failed to get purchase %s: %v", id, err)
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	return &purchase, nil
}

// CreatePurchase inserts a purchase; its ID is generated when empty.
func (s *Store) CreatePurchase(ctx context.Context, purchase *models.Purchase) error {
	if err := s.conn(ctx).Create(purchase).Error; err != nil {
		logger.Errorf("Failed to create purchase: %v", err)
		return fmt.Errorf("failed to create purchase: %w", err)
	}
	return nil
}

// UpdatePurchase applies the non-nil fields of patch. ErrNotFound if the purchase does not exist.
func (s *Store) UpdatePurchase(ctx context.Context, id string, patch models.PurchasePatch) error {
	columns := map[string]any{}
	setIfPresent(columns, "lottery_id", patch.LotteryID)
	setIfPresent(columns, "user_id", patch.UserID)
	setIfPresent(columns, "numbers", patch.Numbers)
	setIfPresent(columns, "amount", patch.Amount)
	setIfPresent(columns, "status", patch.Status)
	setIfPresent(columns, "reference", patch.Reference)
	return s.updateByID(ctx, &models.Purchase{}, "purchase", id, columns)
}

// DeletePurchase removes a purchase. ErrNotFound if it does not exist.
func (s *Store) DeletePurchase(ctx context.Context, id string) error {
	res := s.conn(ctx).Where("id = ?", id).Delete(&models.Purchase{})
	if res.Error != nil {
		logger.Errorf("Failed to delete purchase %s: %v", id, res.Error)
		return fmt.Errorf("failed to delete purchase: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) updateByID(ctx context.Context, model any, kind, id string, columns map[string]any) error {
	if len(columns) == 0 {
		var count int64
		if err := s.conn(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check %s: %w", kind, err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return nil
	}
	res := s.conn(ctx).Model(model).Where("id = ?", id).Updates(columns)
	if res.Error != nil {
		logger.Errorf("Failed to update %s %s: %v", kind, id, res.Error)
		return fmt.Errorf("failed to update %s: %w", kind, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func setIfPresent[T any](columns map[string]any, name string, value *T) {
	if value != nil {
		columns[name] = *value
	}
}
