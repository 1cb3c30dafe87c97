package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/google/logger"

	"ticketpool/internal/integrity"
	"ticketpool/internal/models"
	"ticketpool/internal/store"
)

const opUpdateUser = "update-user"

// UserUpdateRequest patches a user's profile. UpdateData may only carry the
// keys name, phone, photo and email, each a string.
type UserUpdateRequest struct {
	UserID     string         `json:"user_id"`
	UpdateData map[string]any `json:"update_data"`
	Digest     string         `json:"digest"`
}

var userFields = []string{"name", "phone", "photo", "email"}

// UpdateUser applies the requested profile fields.
func (s *TicketService) UpdateUser(ctx context.Context, req UserUpdateRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return badRequest("the user id is required")
	}
	patch, err := userPatch(req.UpdateData)
	if err != nil {
		return err
	}
	data, err := integrity.Map("update_data", req.UpdateData)
	if err != nil {
		return badRequest("update_data cannot be serialized: %v", err)
	}
	if err := s.verify(opUpdateUser, req.Digest, integrity.String("user_id", req.UserID), data); err != nil {
		return err
	}

	err = s.store.UpdateUser(ctx, req.UserID, patch)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: user %s", ErrNotFound, req.UserID)
	}
	if err != nil {
		return internal(err)
	}
	logger.Infof("Updated user %s", req.UserID)
	return nil
}

func userPatch(data map[string]any) (models.UserPatch, error) {
	var patch models.UserPatch
	if len(data) == 0 {
		return patch, badRequest("update_data must contain at least one field")
	}
	if err := checkKeys(data, userFields); err != nil {
		return patch, err
	}
	targets := map[string]**string{
		"name":  &patch.Name,
		"phone": &patch.Phone,
		"photo": &patch.Photo,
		"email": &patch.Email,
	}
	for key, target := range targets {
		v, err := stringField(data, key)
		if err != nil {
			return patch, err
		}
		*target = v
	}
	return patch, nil
}

// checkKeys rejects any key of data outside allowed.
func checkKeys(data map[string]any, allowed []string) error {
	var unknown []string
	for key := range data {
		if !slices.Contains(allowed, key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return badRequest("unknown fields %s, allowed fields are %s",
			strings.Join(unknown, ", "), strings.Join(allowed, ", "))
	}
	return nil
}

func stringField(data map[string]any, key string) (*string, error) {
	raw, ok := data[key]
	if !ok {
		return nil, nil
	}
	v, ok := raw.(string)
	if !ok {
		return nil, badRequest("%s must be a string", key)
	}
	return &v, nil
}

func numberField(data map[string]any, key string) (*float64, error) {
	raw, ok := data[key]
	if !ok {
		return nil, nil
	}
	switch v := raw.(type) {
	case float64:
		return &v, nil
	case int:
		f := float64(v)
		return &f, nil
	case int64:
		f := float64(v)
		return &f, nil
	}
	return nil, badRequest("%s must be a number", key)
}
