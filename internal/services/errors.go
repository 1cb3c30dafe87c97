package services

import (
	"errors"
	"fmt"
)

var (
	ErrBadRequest     = errors.New("bad request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrPartialFetch   = errors.New("partial fetch failure")
	ErrCreationFailed = errors.New("creation failed")
	ErrInternal       = errors.New("internal error")
)

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

func unauthorized(err error) error {
	return fmt.Errorf("%w: %v", ErrUnauthorized, err)
}

func internal(err error) error {
	return fmt.Errorf("%w: %v", ErrInternal, err)
}

// Winner selection steps, in order.
const (
	StepVerify      = "verify"
	StepTicket      = "ticket"
	StepLottery     = "lottery"
	StepOwner       = "owner"
	StepWriteWinner = "write-winner"
	StepInsertPrize = "insert-prize"
)

// WinnerStepError reports which step of winner selection failed. Steps after
// it did not run; steps before it are not undone.
type WinnerStepError struct {
	Step string
	Err  error
}

func (e *WinnerStepError) Error() string {
	return fmt.Sprintf("winner selection failed at step %q: %v", e.Step, e.Err)
}

func (e *WinnerStepError) Unwrap() error { return e.Err }
