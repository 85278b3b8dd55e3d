package ledger

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"postage.org/internal/ids"
)

// Receipt records one executed transfer. Amounts are in the asset's smallest
// unit. No floats.
type Receipt struct {
	ID        string         `json:"id"`
	Sequence  uint64         `json:"sequence"` // monotonic sequence number
	Asset     common.Address `json:"asset"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Amount    *uint256.Int   `json:"amount"`
	CreatedAt time.Time      `json:"created_at"`
}

// Receiver is invoked after value lands on a registered address. Returning an
// error rejects the transfer. Receivers installed through the engine may read
// from it; state-changing calls back into it fail with guard.ErrReentrantCall.
type Receiver func(asset, from common.Address, amount *uint256.Int) error

var ErrInvalidAmount = errors.New("ledger: invalid amount")

type holding struct {
	asset common.Address
	owner common.Address
}

type grant struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

func newID(t time.Time) string {
	return ids.At(t)
}
