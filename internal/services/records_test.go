package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketpool/internal/integrity"
	"ticketpool/internal/models"
)

func (h *harness) signMap(t *testing.T, op string, id *integrity.Field, data map[string]any) string {
	t.Helper()

	field, err := integrity.Map("update_data", data)
	require.NoError(t, err)
	if id == nil {
		return h.sign(op, field)
	}
	return h.sign(op, *id, field)
}

func TestTicketService_UpdateUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultOptions())
	require.NoError(t, h.store.SaveUser(ctx, &models.User{ID: "u1", Name: "Ana", Phone: "555"}))
	userID := integrity.String("user_id", "u1")

	t.Run("allowed fields", func(t *testing.T) {
		data := map[string]any{"phone": "777", "email": "ana@example.com"}
		req := UserUpdateRequest{UserID: "u1", UpdateData: data, Digest: h.signMap(t, opUpdateUser, &userID, data)}
		require.NoError(t, h.svc.UpdateUser(ctx, req))

		user, err := h.store.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Ana", user.Name)
		assert.Equal(t, "777", user.Phone)
		assert.Equal(t, "ana@example.com", user.Email)
	})

	t.Run("key order does not matter for the digest", func(t *testing.T) {
		signed := map[string]any{"name": "Ana María", "photo": "a.png"}
		sent := map[string]any{"photo": "a.png", "name": "Ana María"}
		req := UserUpdateRequest{UserID: "u1", UpdateData: sent, Digest: h.signMap(t, opUpdateUser, &userID, signed)}
		assert.NoError(t, h.svc.UpdateUser(ctx, req))
	})

	t.Run("url with a query string", func(t *testing.T) {
		data := map[string]any{"photo": "https://cdn.example/p.png?w=1&h=2"}
		digest := h.sign(opUpdateUser, userID,
			integrity.String("update_data", `{"photo":"https://cdn.example/p.png?w=1&h=2"}`))
		require.NoError(t, h.svc.UpdateUser(ctx, UserUpdateRequest{UserID: "u1", UpdateData: data, Digest: digest}))

		user, err := h.store.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example/p.png?w=1&h=2", user.Photo)
	})

	t.Run("rejected fields", func(t *testing.T) {
		for name, data := range map[string]map[string]any{
			"unknown key": {"name": "x", "role": "admin"},
			"wrong type":  {"phone": 555},
			"empty":       {},
		} {
			req := UserUpdateRequest{UserID: "u1", UpdateData: data, Digest: h.signMap(t, opUpdateUser, &userID, data)}
			assert.ErrorIs(t, h.svc.UpdateUser(ctx, req), ErrBadRequest, name)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		ghost := integrity.String("user_id", "ghost")
		data := map[string]any{"name": "x"}
		req := UserUpdateRequest{UserID: "ghost", UpdateData: data, Digest: h.signMap(t, opUpdateUser, &ghost, data)}
		assert.ErrorIs(t, h.svc.UpdateUser(ctx, req), ErrNotFound)
	})

	t.Run("tampered data", func(t *testing.T) {
		data := map[string]any{"name": "x"}
		req := UserUpdateRequest{UserID: "u1", UpdateData: map[string]any{"name": "y"}, Digest: h.signMap(t, opUpdateUser, &userID, data)}
		assert.ErrorIs(t, h.svc.UpdateUser(ctx, req), ErrUnauthorized)
	})
}

func TestTicketService_Purchases(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultOptions())

	data := map[string]any{"lottery_id": "L1", "user_id": "u1", "numbers": "3,7", "amount": 20.0, "status": "pending"}
	purchase, err := h.svc.CreatePurchase(ctx, PurchaseCreateRequest{UpdateData: data, Digest: h.signMap(t, opCreatePurchase, nil, data)})
	require.NoError(t, err)
	require.NotEmpty(t, purchase.ID)
	assert.Equal(t, 20.0, purchase.Amount)
	compraID := integrity.String("compra_id", purchase.ID)

	t.Run("create requires a lottery", func(t *testing.T) {
		data := map[string]any{"user_id": "u1"}
		_, err := h.svc.CreatePurchase(ctx, PurchaseCreateRequest{UpdateData: data, Digest: h.signMap(t, opCreatePurchase, nil, data)})
		assert.ErrorIs(t, err, ErrBadRequest)
	})

	t.Run("update", func(t *testing.T) {
		patch := map[string]any{"status": "paid", "reference": "TX-1"}
		req := PurchaseUpdateRequest{CompraID: purchase.ID, UpdateData: patch, Digest: h.signMap(t, opUpdatePurchase, &compraID, patch)}
		require.NoError(t, h.svc.UpdatePurchase(ctx, req))

		got, err := h.store.GetPurchase(ctx, purchase.ID)
		require.NoError(t, err)
		assert.Equal(t, "paid", got.Status)
		assert.Equal(t, "TX-1", got.Reference)
		assert.Equal(t, "L1", got.LotteryID)
	})

	t.Run("lottery and user are fixed after creation", func(t *testing.T) {
		patch := map[string]any{"user_id": "u2"}
		req := PurchaseUpdateRequest{CompraID: purchase.ID, UpdateData: patch, Digest: h.signMap(t, opUpdatePurchase, &compraID, patch)}
		assert.ErrorIs(t, h.svc.UpdatePurchase(ctx, req), ErrBadRequest)
	})

	t.Run("negative amount", func(t *testing.T) {
		patch := map[string]any{"amount": -1.0}
		req := PurchaseUpdateRequest{CompraID: purchase.ID, UpdateData: patch, Digest: h.signMap(t, opUpdatePurchase, &compraID, patch)}
		assert.ErrorIs(t, h.svc.UpdatePurchase(ctx, req), ErrBadRequest)
	})

	t.Run("delete", func(t *testing.T) {
		req := PurchaseDeleteRequest{CompraID: purchase.ID, Digest: h.sign(opDeletePurchase, compraID)}
		require.NoError(t, h.svc.DeletePurchase(ctx, req))
		assert.ErrorIs(t, h.svc.DeletePurchase(ctx, req), ErrNotFound)
	})
}
