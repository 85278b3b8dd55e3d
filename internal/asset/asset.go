// Package asset moves value of the two supported kinds between parties.
//
// Fungible tokens are pull-based: the payer keeps custody until the engine
// spends an allowance the payer granted it. Native currency is push-based: it
// arrives attached to the triggering action and any surplus must be returned
// to the sender within the same action.
package asset

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Native is the asset identifier reserved for the native currency.
var Native = common.Address{}

// Kind distinguishes the two transfer models.
type Kind int

const (
	KindToken Kind = iota
	KindNative
)

func (k Kind) String() string {
	if k == KindNative {
		return "native"
	}
	return "token"
}

// KindOf reports the transfer model of an asset identifier.
func KindOf(a common.Address) Kind {
	if a == Native {
		return KindNative
	}
	return KindToken
}

// IsNative reports whether a is the native currency sentinel.
func IsNative(a common.Address) bool { return a == Native }

var (
	ErrInsufficientBalance       = errors.New("asset: insufficient balance")
	ErrInsufficientAllowance     = errors.New("asset: insufficient allowance")
	ErrNativeTransferFailed      = errors.New("asset: native transfer failed")
	ErrTransferRejected          = errors.New("asset: transfer rejected by recipient")
	ErrInsufficientNativePayment = errors.New("asset: insufficient native payment")
	ErrNativeValueMismatch       = errors.New("asset: native value sent for token fee")
)

// Bank is the value ledger the mover drives. Transfer moves from's own funds;
// TransferFrom spends an allowance owner granted to spender.
type Bank interface {
	BalanceOf(asset, owner common.Address) *uint256.Int
	Allowance(token, owner, spender common.Address) *uint256.Int
	Transfer(asset, from, to common.Address, amount *uint256.Int) error
	TransferFrom(token, spender, owner, to common.Address, amount *uint256.Int) error
}

// Mover performs transfers on behalf of the engine identity self.
type Mover struct {
	bank Bank
	self common.Address
}

// NewMover binds a mover to a bank and the engine's own identity.
func NewMover(bank Bank, self common.Address) *Mover {
	return &Mover{bank: bank, self: self}
}

// Self returns the identity that custodies escrowed and attached funds.
func (m *Mover) Self() common.Address { return m.self }

// CheckPull verifies that from holds amount of token and has authorised the
// engine to spend at least that much.
func (m *Mover) CheckPull(token, from common.Address, amount *uint256.Int) error {
	if bal := m.bank.BalanceOf(token, from); bal.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal.Dec(), amount.Dec())
	}
	if allowed := m.bank.Allowance(token, from, m.self); allowed.Lt(amount) {
		return fmt.Errorf("%w: approved %s, need %s", ErrInsufficientAllowance, allowed.Dec(), amount.Dec())
	}
	return nil
}

// Pull spends the engine's allowance to move amount of token from one party
// to another. Zero amounts are skipped.
func (m *Mover) Pull(token, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if IsNative(token) {
		return fmt.Errorf("%w: native currency cannot be pulled", ErrNativeValueMismatch)
	}
	return m.bank.TransferFrom(token, m.self, from, to, amount)
}

// Receive takes custody of native value attached to an action by from.
func (m *Mover) Receive(from common.Address, sent *uint256.Int) error {
	if sent.IsZero() {
		return nil
	}
	if bal := m.bank.BalanceOf(Native, from); bal.Lt(sent) {
		return fmt.Errorf("%w: attached %s, have %s", ErrInsufficientBalance, sent.Dec(), bal.Dec())
	}
	return m.bank.Transfer(Native, from, m.self, sent)
}

// Pay sends amount of asset out of the engine's custody. A native transfer
// the recipient refuses surfaces as ErrNativeTransferFailed. Zero amounts are
// skipped.
func (m *Mover) Pay(a, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	err := m.bank.Transfer(a, m.self, to, amount)
	if err != nil && IsNative(a) {
		return fmt.Errorf("%w: to %s: %v", ErrNativeTransferFailed, to.Hex(), err)
	}
	return err
}

// Overpayment returns the native surplus to hand back after consuming
// consumed out of sent.
func Overpayment(sent, consumed *uint256.Int) (*uint256.Int, error) {
	if sent.Lt(consumed) {
		return nil, fmt.Errorf("%w: sent %s, fee %s", ErrInsufficientNativePayment, sent.Dec(), consumed.Dec())
	}
	return new(uint256.Int).Sub(sent, consumed), nil
}
