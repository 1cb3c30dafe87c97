package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/logger"

	"ticketpool/internal/fanout"
	"ticketpool/internal/integrity"
	"ticketpool/internal/models"
	"ticketpool/internal/store"
)

const (
	opUpdate        = "update"
	opReset         = "reset"
	opDelete        = "delete"
	opCount         = "count"
	opFindAvailable = "find-available"
)

// maxExpirationMinutes caps a reservation at 30 days.
const maxExpirationMinutes = 30 * 24 * 60

// LotteryRequest addresses a whole pool.
type LotteryRequest struct {
	LotteryID string `json:"lottery_id"`
	Digest    string `json:"digest"`
}

func (r LotteryRequest) validate() error {
	if strings.TrimSpace(r.LotteryID) == "" {
		return badRequest("the lottery id is required")
	}
	return nil
}

// TransitionRequest moves one ticket to a new status. Each request carries
// its own digest, even inside a batch.
type TransitionRequest struct {
	LotteryID         string              `json:"lottery_id"`
	Number            *int                `json:"number"`
	Status            models.TicketStatus `json:"status"`
	Owner             *string             `json:"owner"`
	OwnerName         *string             `json:"owner_name"`
	OwnerPhone        *string             `json:"owner_phone"`
	ExpirationMinutes *int                `json:"expiration_minutes"`
	Digest            string              `json:"digest"`
}

func (r TransitionRequest) fields() []integrity.Field {
	return []integrity.Field{
		integrity.String("lottery_id", r.LotteryID),
		integrity.OptionalInt("number", r.Number),
		integrity.String("status", string(r.Status)),
		integrity.OptionalString("owner", r.Owner),
		integrity.OptionalString("owner_name", r.OwnerName),
		integrity.OptionalString("owner_phone", r.OwnerPhone),
		integrity.OptionalInt("expiration_minutes", r.ExpirationMinutes),
	}
}

// identity is who is asking: the owner id when given, otherwise the phone.
func (r TransitionRequest) identity() string {
	if v := nonEmpty(r.Owner); v != nil {
		return *v
	}
	if v := nonEmpty(r.OwnerPhone); v != nil {
		return *v
	}
	return ""
}

func (r TransitionRequest) validate() error {
	if strings.TrimSpace(r.LotteryID) == "" {
		return badRequest("the lottery id is required")
	}
	if r.Number == nil || *r.Number < 0 {
		return badRequest("the ticket number is required and must not be negative")
	}
	if !r.Status.Valid() {
		return badRequest("the status is required and should be %s, %s or %s",
			models.StatusAvailable, models.StatusReserved, models.StatusPaid)
	}
	if r.ExpirationMinutes != nil && (*r.ExpirationMinutes <= 0 || *r.ExpirationMinutes > maxExpirationMinutes) {
		return badRequest("expiration_minutes must be between 1 and %d", maxExpirationMinutes)
	}
	if r.Status == models.StatusReserved {
		if r.ExpirationMinutes == nil {
			return badRequest("a reservation requires expiration_minutes")
		}
		if r.identity() == "" {
			return badRequest("a reservation requires an owner or an owner phone")
		}
	}
	return nil
}

// TicketFailure explains why one ticket of a batch was not updated.
type TicketFailure struct {
	Number int    `json:"number"`
	Reason string `json:"reason"`
}

// BatchResult lists the outcome of every element of a batch update.
type BatchResult struct {
	Message   string          `json:"message"`
	Succeeded []int           `json:"succeeded"`
	Failed    []int           `json:"failed"`
	Failures  []TicketFailure `json:"failures,omitempty"`
}

// UpdateTicket applies a single transition and reports its error directly.
func (s *TicketService) UpdateTicket(ctx context.Context, req TransitionRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	if err := s.verify(opUpdate, req.Digest, req.fields()...); err != nil {
		return err
	}
	return s.transition(ctx, req)
}

// UpdateTickets applies a batch of transitions. Every element is validated and
// its digest checked before any of them is attempted; after that, elements
// succeed or fail independently.
func (s *TicketService) UpdateTickets(ctx context.Context, reqs []TransitionRequest) (*BatchResult, error) {
	if len(reqs) == 0 {
		return nil, badRequest("at least one ticket is required")
	}
	for i, req := range reqs {
		if err := req.validate(); err != nil {
			return nil, fmt.Errorf("ticket at position %d: %w", i, err)
		}
		if err := s.verify(opUpdate, req.Digest, req.fields()...); err != nil {
			return nil, fmt.Errorf("ticket at position %d: %w", i, err)
		}
	}

	outcomes := make([]error, len(reqs))
	fanout.Each(ctx, len(reqs), s.opts.UpdateConcurrency, func(ctx context.Context, i int) {
		outcomes[i] = s.transition(ctx, reqs[i])
	})

	result := &BatchResult{Succeeded: []int{}, Failed: []int{}}
	for i, err := range outcomes {
		number := *reqs[i].Number
		if err != nil {
			result.Failed = append(result.Failed, number)
			result.Failures = append(result.Failures, TicketFailure{Number: number, Reason: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, number)
	}

	if len(result.Failed) == 0 {
		result.Message = "Tickets updated successfully"
	} else {
		result.Message = fmt.Sprintf("%d of %d tickets could not be updated", len(result.Failed), len(reqs))
		logger.Warningf("Batch update: %d of %d tickets failed", len(result.Failed), len(reqs))
	}
	return result, nil
}

// transition fetches the ticket to report precise errors, then writes with a
// conditional update so that a concurrent writer cannot be silently overwritten.
func (s *TicketService) transition(ctx context.Context, req TransitionRequest) error {
	number := *req.Number
	now := s.now()

	current, err := s.store.GetTicket(ctx, req.LotteryID, number)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: ticket %d of lottery %s", ErrNotFound, number, req.LotteryID)
	}
	if err != nil {
		return internal(err)
	}

	if current.Status == models.StatusPaid {
		return fmt.Errorf("%w: ticket %d is already paid", ErrConflict, number)
	}
	identity := req.identity()
	if current.Live(now) && current.Holder() != identity {
		return fmt.Errorf("%w: ticket %d is reserved by another buyer until %s",
			ErrConflict, number, current.Expiration.Format(time.RFC3339))
	}

	patch := models.TicketPatch{
		Status:     req.Status,
		Owner:      nonEmpty(req.Owner),
		OwnerName:  nonEmpty(req.OwnerName),
		OwnerPhone: nonEmpty(req.OwnerPhone),
	}
	if req.ExpirationMinutes != nil {
		expiration := now.Add(time.Duration(*req.ExpirationMinutes) * time.Minute)
		patch.Expiration = &expiration
	}

	err = s.store.TransitionTicket(ctx, req.LotteryID, number, patch, store.Guard{Identity: identity, At: now})
	if errors.Is(err, store.ErrNotApplied) {
		return fmt.Errorf("%w: ticket %d changed while it was being updated", ErrConflict, number)
	}
	if err != nil {
		return internal(err)
	}
	return nil
}

// Reset releases every non-paid ticket of the lottery. Paid tickets are never touched.
func (s *TicketService) Reset(ctx context.Context, req LotteryRequest) (int64, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}
	if err := s.verify(opReset, req.Digest, integrity.String("lottery_id", req.LotteryID)); err != nil {
		return 0, err
	}
	n, err := s.store.ResetTickets(ctx, req.LotteryID)
	if err != nil {
		return 0, internal(err)
	}
	logger.Infof("Reset %d tickets of lottery %s", n, req.LotteryID)
	return n, nil
}

// DeletePool removes the whole pool of the lottery.
func (s *TicketService) DeletePool(ctx context.Context, req LotteryRequest) (int64, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}
	if err := s.verify(opDelete, req.Digest, integrity.String("lottery_id", req.LotteryID)); err != nil {
		return 0, err
	}
	n, err := s.store.DeleteTickets(ctx, req.LotteryID)
	if err != nil {
		return 0, internal(err)
	}
	logger.Infof("Deleted %d tickets of lottery %s", n, req.LotteryID)
	return n, nil
}

// CountAvailable counts the tickets that are logically available now.
func (s *TicketService) CountAvailable(ctx context.Context, req LotteryRequest) (int64, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}
	if err := s.verify(opCount, req.Digest, integrity.String("lottery_id", req.LotteryID)); err != nil {
		return 0, err
	}
	n, err := s.store.CountTickets(ctx, req.LotteryID, store.Available(s.now()))
	if err != nil {
		return 0, internal(err)
	}
	return n, nil
}

// AvailabilityRequest asks whether one ticket can be claimed.
type AvailabilityRequest struct {
	LotteryID string `json:"lottery_id"`
	Number    *int   `json:"number"`
	Digest    string `json:"digest"`
}

// AvailabilityResult classifies the tickets of a batch availability check.
type AvailabilityResult struct {
	Message     string `json:"message"`
	Available   []int  `json:"available"`
	Unavailable []int  `json:"unavailable"`
	Failed      []int  `json:"failed"`
}

// CheckAvailability classifies each requested ticket as available (including
// lapsed reservations) or unavailable. Missing tickets are unavailable; store
// failures land in Failed without affecting the other elements.
func (s *TicketService) CheckAvailability(ctx context.Context, reqs []AvailabilityRequest) (*AvailabilityResult, error) {
	if len(reqs) == 0 {
		return nil, badRequest("at least one ticket is required")
	}
	for i, req := range reqs {
		if strings.TrimSpace(req.LotteryID) == "" || req.Number == nil {
			return nil, fmt.Errorf("ticket at position %d: %w", i, badRequest("the lottery id and number are required"))
		}
		err := s.verify(opFindAvailable, req.Digest,
			integrity.String("lottery_id", req.LotteryID),
			integrity.Int("number", *req.Number))
		if err != nil {
			return nil, fmt.Errorf("ticket at position %d: %w", i, err)
		}
	}

	const (
		available = iota
		unavailable
		failed
	)
	now := s.now()
	classes := make([]int, len(reqs))
	fanout.Each(ctx, len(reqs), s.opts.UpdateConcurrency, func(ctx context.Context, i int) {
		ticket, err := s.store.GetTicket(ctx, reqs[i].LotteryID, *reqs[i].Number)
		switch {
		case errors.Is(err, store.ErrNotFound):
			classes[i] = unavailable
		case err != nil:
			classes[i] = failed
		case ticket.Claimable(now):
			classes[i] = available
		default:
			classes[i] = unavailable
		}
	})

	result := &AvailabilityResult{Available: []int{}, Unavailable: []int{}, Failed: []int{}}
	for i, class := range classes {
		number := *reqs[i].Number
		switch class {
		case available:
			result.Available = append(result.Available, number)
		case unavailable:
			result.Unavailable = append(result.Unavailable, number)
		default:
			result.Failed = append(result.Failed, number)
		}
	}
	result.Message = "Tickets checked successfully"
	if len(result.Failed) > 0 {
		result.Message = fmt.Sprintf("%d tickets could not be checked", len(result.Failed))
	}
	return result, nil
}

func nonEmpty(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
