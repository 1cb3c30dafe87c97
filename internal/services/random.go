package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ticketpool/internal/integrity"
	"ticketpool/internal/models"
	"ticketpool/internal/store"
)

const opRandom = "random"

// RandomRequest asks for Quantity available tickets picked at random.
type RandomRequest struct {
	LotteryID string `json:"lottery_id"`
	Quantity  int    `json:"quantity"`
	Digest    string `json:"digest"`
}

// PickRandom returns min(Quantity, available) distinct available tickets,
// chosen uniformly without replacement and sorted by number.
func (s *TicketService) PickRandom(ctx context.Context, req RandomRequest) ([]models.Ticket, error) {
	if strings.TrimSpace(req.LotteryID) == "" {
		return nil, badRequest("the lottery id is required")
	}
	if req.Quantity <= 0 {
		return nil, badRequest("quantity must be greater than 0")
	}
	err := s.verify(opRandom, req.Digest,
		integrity.String("lottery_id", req.LotteryID),
		integrity.Int("quantity", req.Quantity))
	if err != nil {
		return nil, err
	}

	pool, err := s.readAll(ctx, req.LotteryID, store.Available(s.now()))
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: no available tickets in lottery %s", ErrNotFound, req.LotteryID)
	}

	k := min(req.Quantity, len(pool))
	// Partial Fisher-Yates: after i steps pool[:i] is a uniform sample.
	for i := 0; i < k; i++ {
		j, err := s.randomInt(len(pool) - i)
		if err != nil {
			return nil, internal(err)
		}
		pool[i], pool[i+j] = pool[i+j], pool[i]
	}

	picked := pool[:k]
	sort.Slice(picked, func(a, b int) bool { return picked[a].Number < picked[b].Number })
	return picked, nil
}
