package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"postage.org/internal/escrow"
	"postage.org/internal/feeconfig"
	"postage.org/internal/ledger"
	"postage.org/internal/registry"
	"postage.org/internal/split"
)

// PlatformInfo is the engine-wide configuration as seen by readers.
type PlatformInfo struct {
	Admin    common.Address `json:"admin"`
	Treasury common.Address `json:"treasury"`
	Policy   split.Policy   `json:"policy"`
	Self     common.Address `json:"custody"`
}

func (e *Engine) Platform() PlatformInfo {
	defer e.rlock()()
	return PlatformInfo{
		Admin:    e.settings.Admin(),
		Treasury: e.settings.Treasury(),
		Policy:   e.settings.Policy(),
		Self:     e.self,
	}
}

func (e *Engine) Deposit(id escrow.DepositID) (escrow.Deposit, error) {
	defer e.rlock()()
	return e.escrow.Deposit(id)
}

func (e *Engine) DepositStatus(id escrow.DepositID) (escrow.Status, error) {
	defer e.rlock()()
	return e.escrow.DepositStatus(id)
}

func (e *Engine) PendingDeposits(topic registry.TopicID) []escrow.DepositID {
	defer e.rlock()()
	return e.escrow.PendingDeposits(topic)
}

func (e *Engine) CanClaimRefund(id escrow.DepositID) bool {
	defer e.rlock()()
	return e.escrow.CanClaimRefund(id)
}

func (e *Engine) CustodyBalance(a common.Address) *uint256.Int {
	defer e.rlock()()
	return e.escrow.CustodyBalance(a)
}

func (e *Engine) IsEscrowEnabled(topic registry.TopicID) bool {
	defer e.rlock()()
	return e.fees.IsEscrowEnabled(topic)
}

func (e *Engine) EscrowConfig(topic registry.TopicID) feeconfig.EscrowConfig {
	defer e.rlock()()
	return e.fees.Escrow(topic)
}

func (e *Engine) TopicMessageFee(topic registry.TopicID) feeconfig.Fee {
	defer e.rlock()()
	return e.fees.TopicMessageFee(topic)
}

func (e *Engine) AppTopicCreationFee(app registry.AppID) feeconfig.Fee {
	defer e.rlock()()
	return e.fees.AppTopicCreationFee(app)
}

func (e *Engine) Balance(a, owner common.Address) *uint256.Int {
	defer e.rlock()()
	return e.bank.BalanceOf(a, owner)
}

func (e *Engine) Allowance(token, owner common.Address) *uint256.Int {
	defer e.rlock()()
	return e.bank.Allowance(token, owner, e.self)
}

func (e *Engine) ListTransfers(limit int, afterSeq uint64) ([]ledger.Receipt, uint64) {
	defer e.rlock()()
	return e.bank.ListTransfers(limit, afterSeq)
}

func (e *Engine) Supply(a common.Address) *uint256.Int {
	defer e.rlock()()
	return e.bank.Supply(a)
}

func (e *Engine) PendingCount() int {
	defer e.rlock()()
	return e.escrow.PendingCount()
}
