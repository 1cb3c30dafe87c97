package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/logger"

	"ticketpool/internal/fanout"
	"ticketpool/internal/integrity"
	"ticketpool/internal/models"
	"ticketpool/internal/store"
)

const (
	opCreate    = "create"
	opFind      = "find"
	opAllTicket = "all-tickets"
	opEndWith   = "end-with"
)

// reclaimChunkSize bounds the number list of one reclaim statement.
const reclaimChunkSize = 500

// readAll returns every ticket of the lottery matching filter, ordered by
// number. Pages are read in parallel; any failed page fails the whole read
// so that a caller never receives a silently truncated list. Lapsed
// reservations in the result are reclaimed before it is returned.
func (s *TicketService) readAll(ctx context.Context, lotteryID string, filter store.TicketFilter) ([]models.Ticket, error) {
	total, err := s.store.CountTickets(ctx, lotteryID, filter)
	if err != nil {
		return nil, internal(err)
	}

	pageSize := s.opts.PageSize
	pages := make([][]models.Ticket, fanout.Pages(int(total), pageSize))
	err = fanout.Run(ctx, len(pages), s.opts.ReadConcurrency, func(ctx context.Context, i int) error {
		rows, err := s.store.ScanTickets(ctx, lotteryID, filter, i*pageSize, pageSize)
		if err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}
		pages[i] = rows
		return nil
	})
	if err != nil {
		logger.Errorf("Partial read of lottery %s: %v", lotteryID, err)
		return nil, fmt.Errorf("%w: %v", ErrPartialFetch, err)
	}

	tickets := make([]models.Ticket, 0, total)
	for _, page := range pages {
		tickets = append(tickets, page...)
	}
	s.reclaim(ctx, lotteryID, tickets)
	return tickets, nil
}

// reclaim releases lapsed reservations found in tickets, both in the slice
// and in the store. Store failures are logged and otherwise ignored.
func (s *TicketService) reclaim(ctx context.Context, lotteryID string, tickets []models.Ticket) {
	now := s.now()
	var lapsed []int
	for i := range tickets {
		if tickets[i].Lapsed(now) {
			lapsed = append(lapsed, tickets[i].Number)
			tickets[i].Release()
		}
	}
	if len(lapsed) == 0 {
		return
	}

	chunks := fanout.Chunk(lapsed, reclaimChunkSize)
	fanout.Each(ctx, len(chunks), s.opts.UpdateConcurrency, func(ctx context.Context, i int) {
		if _, err := s.store.ReclaimLapsed(ctx, lotteryID, chunks[i], now); err != nil {
			logger.Warningf("Failed to reclaim %d lapsed tickets of lottery %s: %v", len(chunks[i]), lotteryID, err)
		}
	})
	logger.Infof("Reclaimed %d lapsed reservations of lottery %s", len(lapsed), lotteryID)
}

// ListAvailable returns every ticket that is logically available now,
// lapsed reservations included.
func (s *TicketService) ListAvailable(ctx context.Context, req LotteryRequest) ([]models.Ticket, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.verify(opFind, req.Digest, integrity.String("lottery_id", req.LotteryID)); err != nil {
		return nil, err
	}
	return s.readAll(ctx, req.LotteryID, store.Available(s.now()))
}

// ListAll returns the whole pool of the lottery.
func (s *TicketService) ListAll(ctx context.Context, req LotteryRequest) ([]models.Ticket, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.verify(opAllTicket, req.Digest, integrity.String("lottery_id", req.LotteryID)); err != nil {
		return nil, err
	}
	return s.readAll(ctx, req.LotteryID, store.TicketFilter{})
}

// SuffixRequest looks up available tickets by the trailing digits of their number.
type SuffixRequest struct {
	LotteryID string `json:"lottery_id"`
	Suffix    string `json:"suffix"`
	Digest    string `json:"digest"`
}

// FindBySuffix returns the available tickets whose decimal number ends with
// Suffix. The number is compared without padding.
func (s *TicketService) FindBySuffix(ctx context.Context, req SuffixRequest) ([]models.Ticket, error) {
	if strings.TrimSpace(req.LotteryID) == "" {
		return nil, badRequest("the lottery id is required")
	}
	if req.Suffix == "" || strings.TrimLeft(req.Suffix, "0123456789") != "" {
		return nil, badRequest("the suffix must be a non-empty string of digits")
	}
	err := s.verify(opEndWith, req.Digest,
		integrity.String("lottery_id", req.LotteryID),
		integrity.String("suffix", req.Suffix))
	if err != nil {
		return nil, err
	}

	available, err := s.readAll(ctx, req.LotteryID, store.Available(s.now()))
	if err != nil {
		return nil, err
	}
	matches := make([]models.Ticket, 0)
	for _, ticket := range available {
		if strings.HasSuffix(fmt.Sprint(ticket.Number), req.Suffix) {
			matches = append(matches, ticket)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no available ticket ends with %s", ErrNotFound, req.Suffix)
	}
	return matches, nil
}

// CreatePoolRequest asks for a pool numbered 0..Count-1.
type CreatePoolRequest struct {
	LotteryID string  `json:"lottery_id"`
	Count     int     `json:"count"`
	Price     float64 `json:"price"`
	Digest    string  `json:"digest"`
}

// CreateResult reports whether a create call inserted anything.
type CreateResult struct {
	Message string `json:"message"`
	Created bool   `json:"created"`
	Count   int    `json:"count"`
}

// CreatePool inserts Count available tickets for the lottery. It is a no-op
// when the lottery already has tickets. Rows are inserted in parallel chunks;
// when any chunk fails the pool may be left partially populated and the call
// reports ErrCreationFailed.
func (s *TicketService) CreatePool(ctx context.Context, req CreatePoolRequest) (*CreateResult, error) {
	if strings.TrimSpace(req.LotteryID) == "" {
		return nil, badRequest("the lottery id is required")
	}
	if req.Count <= 0 || req.Count > s.opts.MaxPoolSize {
		return nil, badRequest("count must be between 1 and %d", s.opts.MaxPoolSize)
	}
	if req.Price < 0 {
		return nil, badRequest("price must not be negative")
	}
	err := s.verify(opCreate, req.Digest,
		integrity.String("lottery_id", req.LotteryID),
		integrity.Int("count", req.Count),
		integrity.Float("price", req.Price))
	if err != nil {
		return nil, err
	}

	exists, err := s.store.HasTickets(ctx, req.LotteryID)
	if err != nil {
		return nil, internal(err)
	}
	if exists {
		return &CreateResult{Message: "Tickets already exist for this lottery"}, nil
	}

	rows := make([]models.Ticket, req.Count)
	for i := range rows {
		rows[i] = models.Ticket{
			LotteryID: req.LotteryID,
			Number:    i,
			Status:    models.StatusAvailable,
			Price:     req.Price,
		}
	}
	chunks := fanout.Chunk(rows, s.opts.InsertChunkSize)
	failures := make([]error, len(chunks))
	fanout.Each(ctx, len(chunks), s.opts.InsertConcurrency, func(ctx context.Context, i int) {
		failures[i] = s.store.InsertTickets(ctx, chunks[i])
	})

	if err := errors.Join(failures...); err != nil {
		failed := 0
		for _, f := range failures {
			if f != nil {
				failed++
			}
		}
		logger.Errorf("Creation of lottery %s failed in %d of %d chunks: %v", req.LotteryID, failed, len(chunks), err)
		return nil, fmt.Errorf("%w: %d of %d chunks failed, the pool may be partially populated: %v",
			ErrCreationFailed, failed, len(chunks), err)
	}

	logger.Infof("Created %d tickets for lottery %s", req.Count, req.LotteryID)
	return &CreateResult{
		Message: fmt.Sprintf("%d tickets created successfully", req.Count),
		Created: true,
		Count:   req.Count,
	}, nil
}
