package escrow

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"postage.org/internal/registry"
)

// MaxBatch bounds both the release sweep and batched refunds.
const MaxBatch = 50

var (
	ErrOnlyOrchestrator  = errors.New("escrow: only the settlement orchestrator may call this")
	ErrNotDepositor      = errors.New("escrow: caller is not the depositor")
	ErrDepositNotFound   = errors.New("escrow: deposit not found")
	ErrAlreadyResolved   = errors.New("escrow: deposit already resolved")
	ErrTimeoutNotExpired = errors.New("escrow: refund timeout not expired")
	ErrBatchTooLarge     = errors.New("escrow: batch too large")
	ErrZeroAmount        = errors.New("escrow: zero amount")
)

// DepositID is assigned in increasing order starting at 1.
type DepositID uint64

// Status is a deposit's position in its lifecycle. Pending moves to exactly
// one of Released or Refunded and never moves again.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusPending
	StatusReleased
	StatusRefunded
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*s = StatusPending
	case "released":
		*s = StatusReleased
	case "refunded":
		*s = StatusRefunded
	case "unknown":
		*s = StatusUnknown
	default:
		return fmt.Errorf("escrow: unknown status %q", text)
	}
	return nil
}

// Deposit is one escrowed fee. Deposits are never deleted.
type Deposit struct {
	ID          DepositID        `json:"id"`
	Topic       registry.TopicID `json:"topic"`
	Depositor   common.Address   `json:"depositor"`
	Primary     common.Address   `json:"primary"`
	Secondary   common.Address   `json:"secondary"`
	Asset       common.Address   `json:"asset"`
	Amount      *uint256.Int     `json:"amount"`
	DepositedAt time.Time        `json:"deposited_at"`
	Timeout     time.Duration    `json:"timeout"`
	Status      Status           `json:"status"`
	ResolvedAt  time.Time        `json:"resolved_at,omitempty"`
}

// RefundableAt is the earliest time the depositor may reclaim the deposit.
func (d Deposit) RefundableAt() time.Time {
	return d.DepositedAt.Add(d.Timeout)
}

// Clone returns a copy that shares no mutable state with d.
func (d Deposit) Clone() Deposit {
	if d.Amount != nil {
		d.Amount = d.Amount.Clone()
	}
	return d
}
