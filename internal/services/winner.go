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

const opWinner = "winner"

// WinnerRequest names the paid ticket that won the lottery.
type WinnerRequest struct {
	LotteryID string `json:"lottery_id"`
	Number    *int   `json:"number"`
	Digest    string `json:"digest"`
}

// WinnerResult is the lottery with its winner fields set and the prize written.
type WinnerResult struct {
	Message string          `json:"message"`
	Lottery *models.Lottery `json:"lottery"`
	Prize   *models.Prize   `json:"prize"`
}

// SelectWinner records the ticket as the lottery's winner. The steps run in
// order and are not atomic: a failure stops the sequence and is reported as a
// *WinnerStepError naming the step; earlier writes are kept. The winner
// fields are written conditionally, so a concurrent selection of another
// number fails at write-winner without touching them.
func (s *TicketService) SelectWinner(ctx context.Context, req WinnerRequest) (*WinnerResult, error) {
	if strings.TrimSpace(req.LotteryID) == "" || req.Number == nil || *req.Number < 0 {
		return nil, &WinnerStepError{Step: StepVerify, Err: badRequest("the lottery id and a ticket number are required")}
	}
	number := *req.Number
	err := s.verify(opWinner, req.Digest,
		integrity.String("lottery_id", req.LotteryID),
		integrity.Int("number", number))
	if err != nil {
		return nil, &WinnerStepError{Step: StepVerify, Err: err}
	}

	ticket, err := s.store.GetTicket(ctx, req.LotteryID, number)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, &WinnerStepError{Step: StepTicket, Err: fmt.Errorf("%w: ticket %d of lottery %s", ErrNotFound, number, req.LotteryID)}
	case err != nil:
		return nil, &WinnerStepError{Step: StepTicket, Err: internal(err)}
	case ticket.Status != models.StatusPaid:
		return nil, &WinnerStepError{Step: StepTicket, Err: fmt.Errorf("%w: ticket %d is %s, only a paid ticket can win", ErrConflict, number, ticket.Status)}
	}

	lottery, err := s.store.GetLottery(ctx, req.LotteryID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, &WinnerStepError{Step: StepLottery, Err: fmt.Errorf("%w: lottery %s", ErrNotFound, req.LotteryID)}
	case err != nil:
		return nil, &WinnerStepError{Step: StepLottery, Err: internal(err)}
	}
	exists, err := s.store.HasPrize(ctx, req.LotteryID)
	if err != nil {
		return nil, &WinnerStepError{Step: StepLottery, Err: internal(err)}
	}
	if exists {
		return nil, &WinnerStepError{Step: StepLottery, Err: fmt.Errorf("%w: lottery %s already has a winner", ErrConflict, req.LotteryID)}
	}

	winner, err := s.resolveWinner(ctx, ticket)
	if err != nil {
		return nil, &WinnerStepError{Step: StepOwner, Err: err}
	}

	if err := s.store.SetLotteryWinner(ctx, req.LotteryID, winner); err != nil {
		switch {
		case errors.Is(err, store.ErrNotApplied):
			err = fmt.Errorf("%w: lottery %s already has a winner", ErrConflict, req.LotteryID)
		case errors.Is(err, store.ErrNotFound):
			err = fmt.Errorf("%w: lottery %s disappeared before the winner was written", ErrNotFound, req.LotteryID)
		default:
			err = internal(err)
		}
		return nil, &WinnerStepError{Step: StepWriteWinner, Err: err}
	}
	lottery.WinnerNumber = &winner.Number
	lottery.WinnerName = winner.Name
	lottery.WinnerPhone = winner.Phone
	lottery.WinnerUserID = winner.UserID
	lottery.WinnerPhoto = winner.Photo

	width, err := s.numberWidth(ctx, req.LotteryID)
	if err != nil {
		return nil, &WinnerStepError{Step: StepInsertPrize, Err: fmt.Errorf("%w, the lottery winner fields were already written", err)}
	}
	prize := &models.Prize{
		LotteryID:       lottery.ID,
		LotteryName:     lottery.Name,
		LotteryEndDate:  lottery.EndDate,
		WinningNumber:   number,
		PurchasedNumber: fmt.Sprintf("%0*d", width, number),
		WinnerReference: winnerReference(winner),
	}
	if err := s.store.InsertPrize(ctx, prize); err != nil {
		logger.Errorf("Winner of lottery %s written but prize insert failed: %v", req.LotteryID, err)
		return nil, &WinnerStepError{Step: StepInsertPrize, Err: fmt.Errorf("%w, the lottery winner fields were already written", internal(err))}
	}

	logger.Infof("Ticket %d selected as winner of lottery %s", number, req.LotteryID)
	return &WinnerResult{Message: "Winner selected successfully", Lottery: lottery, Prize: prize}, nil
}

// resolveWinner prefers the registered user's profile. A ticket whose owner
// is not a known user gets empty winner fields; a ticket without an owner
// falls back to the name and phone captured on the ticket.
func (s *TicketService) resolveWinner(ctx context.Context, ticket *models.Ticket) (models.WinnerFields, error) {
	winner := models.WinnerFields{Number: ticket.Number}
	owner := nonEmpty(ticket.Owner)
	if owner == nil {
		winner.Name = ticket.OwnerName
		winner.Phone = ticket.OwnerPhone
		return winner, nil
	}

	user, err := s.store.GetUser(ctx, *owner)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warningf("Winner ticket %d of lottery %s is owned by unknown user %s", ticket.Number, ticket.LotteryID, *owner)
		return winner, nil
	}
	if err != nil {
		return winner, internal(err)
	}
	winner.UserID = &user.ID
	winner.Name = &user.Name
	winner.Phone = &user.Phone
	winner.Photo = &user.Photo
	return winner, nil
}

// numberWidth is the digit count of the highest ticket number of the pool.
func (s *TicketService) numberWidth(ctx context.Context, lotteryID string) (int, error) {
	count, err := s.store.CountTickets(ctx, lotteryID, store.TicketFilter{})
	if err != nil {
		return 0, internal(err)
	}
	return len(fmt.Sprint(max(count-1, 0))), nil
}

func winnerReference(w models.WinnerFields) string {
	for _, v := range []*string{w.UserID, w.Phone, w.Name} {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}
