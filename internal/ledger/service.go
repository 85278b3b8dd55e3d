// Package ledger is the in-process value ledger the engine settles against:
// per-asset balances, token allowances, recipient hooks and a receipt log.
package ledger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"postage.org/internal/asset"
	"postage.org/internal/journal"
)

// Bank implements asset.Bank. It is not safe for concurrent use: the engine
// serialises every call and every mutation is journaled so that a failed
// operation leaves no trace.
type Bank struct {
	j         *journal.Journal
	now       func() time.Time
	balances  map[holding]*uint256.Int
	approvals map[grant]*uint256.Int
	receivers map[common.Address]Receiver
	seq       uint64
	receipts  []Receipt
}

var _ asset.Bank = (*Bank)(nil)

// NewBank creates an empty ledger recording undo actions into j.
func NewBank(j *journal.Journal, now func() time.Time) *Bank {
	if now == nil {
		now = time.Now
	}
	return &Bank{
		j:         j,
		now:       now,
		balances:  make(map[holding]*uint256.Int),
		approvals: make(map[grant]*uint256.Int),
		receivers: make(map[common.Address]Receiver),
	}
}

// BalanceOf returns a copy of owner's balance of a.
func (b *Bank) BalanceOf(a, owner common.Address) *uint256.Int {
	if v, ok := b.balances[holding{a, owner}]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// Allowance returns how much of token spender may move on owner's behalf.
func (b *Bank) Allowance(token, owner, spender common.Address) *uint256.Int {
	if v, ok := b.approvals[grant{token, owner, spender}]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// Mint credits amount of a to owner without a counterparty.
func (b *Bank) Mint(a, owner common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	cur := b.BalanceOf(a, owner)
	next, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}
	b.setBalance(holding{a, owner}, next)
	return nil
}

// Approve sets the amount of token spender may move on owner's behalf.
func (b *Bank) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	if asset.IsNative(token) {
		return fmt.Errorf("%w: native currency has no allowances", ErrInvalidAmount)
	}
	b.setApproval(grant{token, owner, spender}, amount.Clone())
	return nil
}

// OnReceive registers fn to run whenever value lands on addr. A nil fn
// removes the hook.
func (b *Bank) OnReceive(addr common.Address, fn Receiver) {
	if fn == nil {
		delete(b.receivers, addr)
		return
	}
	b.receivers[addr] = fn
}

// Transfer moves amount of a out of from's own balance. The recipient's hook,
// if any, runs after the balances move; if it fails the transfer is undone.
func (b *Bank) Transfer(a, from, to common.Address, amount *uint256.Int) error {
	return b.j.Atomic(func() error {
		return b.move(a, from, to, amount)
	})
}

// TransferFrom moves amount of token from owner to to, spending spender's
// allowance.
func (b *Bank) TransferFrom(token, spender, owner, to common.Address, amount *uint256.Int) error {
	if asset.IsNative(token) {
		return fmt.Errorf("%w: native currency has no allowances", ErrInvalidAmount)
	}
	return b.j.Atomic(func() error {
		g := grant{token, owner, spender}
		allowed := b.Allowance(token, owner, spender)
		if allowed.Lt(amount) {
			return fmt.Errorf("%w: approved %s, need %s", asset.ErrInsufficientAllowance, allowed.Dec(), amount.Dec())
		}
		b.setApproval(g, new(uint256.Int).Sub(allowed, amount))
		return b.move(token, owner, to, amount)
	})
}

func (b *Bank) move(a, from, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	src := b.BalanceOf(a, from)
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, need %s", asset.ErrInsufficientBalance, from.Hex(), src.Dec(), amount.Dec())
	}
	if from != to {
		dst := b.BalanceOf(a, to)
		b.setBalance(holding{a, from}, src.Sub(src, amount))
		b.setBalance(holding{a, to}, dst.Add(dst, amount))
	}
	b.record(a, from, to, amount)

	if hook, ok := b.receivers[to]; ok {
		if err := hook(a, from, amount.Clone()); err != nil {
			return fmt.Errorf("%w: %v", asset.ErrTransferRejected, err)
		}
	}
	return nil
}

func (b *Bank) record(a, from, to common.Address, amount *uint256.Int) {
	prevSeq, prevLen := b.seq, len(b.receipts)
	b.j.Append(func() {
		b.seq = prevSeq
		b.receipts = b.receipts[:prevLen]
	})
	b.seq++
	now := b.now().UTC()
	b.receipts = append(b.receipts, Receipt{
		ID:        newID(now),
		Sequence:  b.seq,
		Asset:     a,
		From:      from,
		To:        to,
		Amount:    amount.Clone(),
		CreatedAt: now,
	})
}

func (b *Bank) setBalance(k holding, v *uint256.Int) {
	prev, had := b.balances[k]
	b.j.Append(func() {
		if had {
			b.balances[k] = prev
		} else {
			delete(b.balances, k)
		}
	})
	b.balances[k] = v
}

func (b *Bank) setApproval(k grant, v *uint256.Int) {
	prev, had := b.approvals[k]
	b.j.Append(func() {
		if had {
			b.approvals[k] = prev
		} else {
			delete(b.approvals, k)
		}
	})
	b.approvals[k] = v
}

// ListTransfers returns up to limit receipts with a sequence above afterSeq,
// and the sequence of the last one returned.
func (b *Bank) ListTransfers(limit int, afterSeq uint64) ([]Receipt, uint64) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var res []Receipt
	var last uint64
	for _, r := range b.receipts {
		if r.Sequence <= afterSeq {
			continue
		}
		r.Amount = r.Amount.Clone()
		res = append(res, r)
		last = r.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last
}

// Supply returns the sum of every balance held in a.
func (b *Bank) Supply(a common.Address) *uint256.Int {
	total := new(uint256.Int)
	for k, v := range b.balances {
		if k.asset == a {
			total.Add(total, v)
		}
	}
	return total
}
