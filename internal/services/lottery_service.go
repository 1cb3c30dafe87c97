package services

import (
	"context"
	crand "crypto/rand"
	"errors"
	"math/big"
	"time"

	"ticketpool/internal/integrity"
	"ticketpool/internal/models"
	"ticketpool/internal/store"
)

// TicketStore is what the reservation state machine needs from the row store.
// Every call is independent; there is no transaction across calls.
type TicketStore interface {
	GetTicket(ctx context.Context, lotteryID string, number int) (*models.Ticket, error)
	ScanTickets(ctx context.Context, lotteryID string, filter store.TicketFilter, offset, limit int) ([]models.Ticket, error)
	CountTickets(ctx context.Context, lotteryID string, filter store.TicketFilter) (int64, error)
	HasTickets(ctx context.Context, lotteryID string) (bool, error)
	InsertTickets(ctx context.Context, rows []models.Ticket) error
	TransitionTicket(ctx context.Context, lotteryID string, number int, patch models.TicketPatch, guard store.Guard) error
	ReclaimLapsed(ctx context.Context, lotteryID string, numbers []int, now time.Time) (int64, error)
	ReclaimAllLapsed(ctx context.Context, now time.Time) (int64, error)
	ResetTickets(ctx context.Context, lotteryID string) (int64, error)
	DeleteTickets(ctx context.Context, lotteryID string) (int64, error)
}

// RecordStore holds the records around a pool: lotteries, prizes, users and purchases.
type RecordStore interface {
	GetLottery(ctx context.Context, id string) (*models.Lottery, error)
	SetLotteryWinner(ctx context.Context, id string, winner models.WinnerFields) error
	HasPrize(ctx context.Context, lotteryID string) (bool, error)
	InsertPrize(ctx context.Context, prize *models.Prize) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, id string, patch models.UserPatch) error
	CreatePurchase(ctx context.Context, purchase *models.Purchase) error
	UpdatePurchase(ctx context.Context, id string, patch models.PurchasePatch) error
	DeletePurchase(ctx context.Context, id string) error
}

// Store is the full storage surface of a TicketService.
type Store interface {
	TicketStore
	RecordStore
}

// Options bounds the parallelism and sizes of bulk operations.
type Options struct {
	PageSize          int
	ReadConcurrency   int
	InsertChunkSize   int
	InsertConcurrency int
	UpdateConcurrency int
	MaxPoolSize       int
}

// DefaultOptions returns the limits used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		PageSize:          1000,
		ReadConcurrency:   10,
		InsertChunkSize:   1000,
		InsertConcurrency: 5,
		UpdateConcurrency: 10,
		MaxPoolSize:       100000,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PageSize <= 0 || o.PageSize > d.PageSize {
		o.PageSize = d.PageSize
	}
	if o.ReadConcurrency <= 0 {
		o.ReadConcurrency = d.ReadConcurrency
	}
	if o.InsertChunkSize <= 0 {
		o.InsertChunkSize = d.InsertChunkSize
	}
	if o.InsertConcurrency <= 0 {
		o.InsertConcurrency = d.InsertConcurrency
	}
	if o.UpdateConcurrency <= 0 {
		o.UpdateConcurrency = d.UpdateConcurrency
	}
	if o.MaxPoolSize <= 0 {
		o.MaxPoolSize = d.MaxPoolSize
	}
	return o
}

// TicketService runs the ticket pool operations of one tenant's store.
type TicketService struct {
	store    Store
	verifier *integrity.Verifier
	opts     Options

	now       func() time.Time
	randomInt func(max int) (int, error)
}

// NewTicketService creates a TicketService over st. Every mutating call is
// checked against verifier before st is touched.
func NewTicketService(st Store, verifier *integrity.Verifier, opts Options) *TicketService {
	return &TicketService{
		store:     st,
		verifier:  verifier,
		opts:      opts.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
		randomInt: secureRandomInt,
	}
}

// verify checks digest against fields, prefixed with the operation name.
func (s *TicketService) verify(op, digest string, fields ...integrity.Field) error {
	all := append([]integrity.Field{integrity.String("op", op)}, fields...)
	if err := s.verifier.Verify(digest, all...); err != nil {
		return unauthorized(err)
	}
	return nil
}

// ReclaimLapsed releases every lapsed reservation in the tenant's store.
func (s *TicketService) ReclaimLapsed(ctx context.Context) (int64, error) {
	n, err := s.store.ReclaimAllLapsed(ctx, s.now())
	if err != nil {
		return 0, internal(err)
	}
	return n, nil
}

func secureRandomInt(max int) (int, error) {
	if max <= 0 {
		return 0, errors.New("random bound must be positive")
	}
	n, err := crand.Int(crand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
