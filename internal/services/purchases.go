package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/logger"

	"ticketpool/internal/integrity"
	"ticketpool/internal/models"
	"ticketpool/internal/store"
)

const (
	opCreatePurchase = "create-compra"
	opUpdatePurchase = "update-compra"
	opDeletePurchase = "delete-compra"
)

var (
	purchaseCreateFields = []string{"lottery_id", "user_id", "numbers", "amount", "status", "reference"}
	purchaseUpdateFields = []string{"numbers", "amount", "status", "reference"}
)

// PurchaseCreateRequest creates a purchase from a field map.
type PurchaseCreateRequest struct {
	UpdateData map[string]any `json:"update_data"`
	Digest     string         `json:"digest"`
}

// PurchaseUpdateRequest patches a purchase. The lottery and user of a
// purchase cannot change after creation.
type PurchaseUpdateRequest struct {
	CompraID   string         `json:"compra_id"`
	UpdateData map[string]any `json:"update_data"`
	Digest     string         `json:"digest"`
}

// PurchaseDeleteRequest removes a purchase.
type PurchaseDeleteRequest struct {
	CompraID string `json:"compra_id"`
	Digest   string `json:"digest"`
}

// CreatePurchase stores a new purchase and returns it with its generated id.
func (s *TicketService) CreatePurchase(ctx context.Context, req PurchaseCreateRequest) (*models.Purchase, error) {
	patch, err := purchasePatch(req.UpdateData, purchaseCreateFields)
	if err != nil {
		return nil, err
	}
	if patch.LotteryID == nil || strings.TrimSpace(*patch.LotteryID) == "" {
		return nil, badRequest("lottery_id is required to create a purchase")
	}
	data, err := integrity.Map("update_data", req.UpdateData)
	if err != nil {
		return nil, badRequest("update_data cannot be serialized: %v", err)
	}
	if err := s.verify(opCreatePurchase, req.Digest, data); err != nil {
		return nil, err
	}

	purchase := &models.Purchase{LotteryID: *patch.LotteryID}
	if patch.UserID != nil {
		purchase.UserID = *patch.UserID
	}
	if patch.Numbers != nil {
		purchase.Numbers = *patch.Numbers
	}
	if patch.Amount != nil {
		purchase.Amount = *patch.Amount
	}
	if patch.Status != nil {
		purchase.Status = *patch.Status
	}
	if patch.Reference != nil {
		purchase.Reference = *patch.Reference
	}
	if err := s.store.CreatePurchase(ctx, purchase); err != nil {
		return nil, internal(err)
	}
	logger.Infof("Created purchase %s for lottery %s", purchase.ID, purchase.LotteryID)
	return purchase, nil
}

// UpdatePurchase applies the requested purchase fields.
func (s *TicketService) UpdatePurchase(ctx context.Context, req PurchaseUpdateRequest) error {
	if strings.TrimSpace(req.CompraID) == "" {
		return badRequest("the purchase id is required")
	}
	patch, err := purchasePatch(req.UpdateData, purchaseUpdateFields)
	if err != nil {
		return err
	}
	data, err := integrity.Map("update_data", req.UpdateData)
	if err != nil {
		return badRequest("update_data cannot be serialized: %v", err)
	}
	if err := s.verify(opUpdatePurchase, req.Digest, integrity.String("compra_id", req.CompraID), data); err != nil {
		return err
	}

	err = s.store.UpdatePurchase(ctx, req.CompraID, patch)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: purchase %s", ErrNotFound, req.CompraID)
	}
	if err != nil {
		return internal(err)
	}
	return nil
}

// DeletePurchase removes the purchase.
func (s *TicketService) DeletePurchase(ctx context.Context, req PurchaseDeleteRequest) error {
	if strings.TrimSpace(req.CompraID) == "" {
		return badRequest("the purchase id is required")
	}
	if err := s.verify(opDeletePurchase, req.Digest, integrity.String("compra_id", req.CompraID)); err != nil {
		return err
	}

	err := s.store.DeletePurchase(ctx, req.CompraID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: purchase %s", ErrNotFound, req.CompraID)
	}
	if err != nil {
		return internal(err)
	}
	logger.Infof("Deleted purchase %s", req.CompraID)
	return nil
}

func purchasePatch(data map[string]any, allowed []string) (models.PurchasePatch, error) {
	var patch models.PurchasePatch
	if len(data) == 0 {
		return patch, badRequest("update_data must contain at least one field")
	}
	if err := checkKeys(data, allowed); err != nil {
		return patch, err
	}
	textFields := map[string]**string{
		"lottery_id": &patch.LotteryID,
		"user_id":    &patch.UserID,
		"numbers":    &patch.Numbers,
		"status":     &patch.Status,
		"reference":  &patch.Reference,
	}
	for key, target := range textFields {
		v, err := stringField(data, key)
		if err != nil {
			return patch, err
		}
		*target = v
	}
	amount, err := numberField(data, "amount")
	if err != nil {
		return patch, err
	}
	if amount != nil && *amount < 0 {
		return patch, badRequest("amount must not be negative")
	}
	patch.Amount = amount
	return patch, nil
}
