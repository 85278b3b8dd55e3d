// Package escrow custodies fees until the topic owner responds or the
// depositor reclaims them after the timeout.
package escrow

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"postage.org/internal/guard"
	"postage.org/internal/journal"
	"postage.org/internal/registry"
	"postage.org/internal/split"
)

// Payer moves funds out of the engine's custody.
type Payer interface {
	Pay(asset, to common.Address, amount *uint256.Int) error
}

// Policy supplies the split applied at release time.
type Policy interface {
	Treasury() common.Address
	Policy() split.Policy
}

// Timeouts supplies the per-topic timeout snapshotted into new deposits.
type Timeouts interface {
	EscrowTimeout(topic registry.TopicID) time.Duration
}

// Ledger is the deposit state machine. It is not safe for concurrent use;
// the engine serialises access. Every mutating entry point holds the
// execution lock for its whole duration, and every status change happens
// before the transfer it triggers.
type Ledger struct {
	j            *journal.Journal
	lock         guard.Lock
	orchestrator common.Address
	payer        Payer
	policy       Policy
	timeouts     Timeouts
	now          func() time.Time

	lastID   DepositID
	deposits map[DepositID]Deposit
	pending  map[registry.TopicID][]DepositID
	custody  map[common.Address]*uint256.Int
}

// Config wires a Ledger.
type Config struct {
	Journal      *journal.Journal
	Orchestrator common.Address
	Payer        Payer
	Policy       Policy
	Timeouts     Timeouts
	Now          func() time.Time
}

func New(cfg Config) *Ledger {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		j:            cfg.Journal,
		orchestrator: cfg.Orchestrator,
		payer:        cfg.Payer,
		policy:       cfg.Policy,
		timeouts:     cfg.Timeouts,
		now:          now,
		deposits:     make(map[DepositID]Deposit),
		pending:      make(map[registry.TopicID][]DepositID),
		custody:      make(map[common.Address]*uint256.Int),
	}
}

// RecordDeposit opens a Pending deposit for funds the orchestrator has
// already taken into custody. The topic's current escrow timeout is copied
// into the deposit.
func (l *Ledger) RecordDeposit(caller common.Address, topic registry.TopicID, depositor, asset common.Address, amount *uint256.Int, primary, secondary common.Address) (Deposit, error) {
	if caller != l.orchestrator {
		return Deposit{}, ErrOnlyOrchestrator
	}
	if amount == nil || amount.IsZero() {
		return Deposit{}, ErrZeroAmount
	}
	release, err := l.lock.Enter()
	if err != nil {
		return Deposit{}, err
	}
	defer release()

	var out Deposit
	err = l.j.Atomic(func() error {
		id := l.lastID + 1
		l.setLastID(id)
		d := Deposit{
			ID:          id,
			Topic:       topic,
			Depositor:   depositor,
			Primary:     primary,
			Secondary:   secondary,
			Asset:       asset,
			Amount:      amount.Clone(),
			DepositedAt: l.now().UTC(),
			Timeout:     l.timeouts.EscrowTimeout(topic),
			Status:      StatusPending,
		}
		l.putDeposit(d)
		l.setPending(topic, append(l.pendingCopy(topic), id))
		l.adjustCustody(asset, amount, true)
		out = d.Clone()
		return nil
	})
	return out, err
}

// ReleaseForTopic settles up to MaxBatch deposits from the front of the
// topic's pending index, oldest first, and removes the processed prefix.
// Entries that are no longer Pending are skipped. An empty index is a no-op.
func (l *Ledger) ReleaseForTopic(caller common.Address, topic registry.TopicID) ([]Deposit, error) {
	if caller != l.orchestrator {
		return nil, ErrOnlyOrchestrator
	}
	queue := l.pending[topic]
	if len(queue) == 0 {
		return nil, nil
	}
	release, err := l.lock.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	var released []Deposit
	err = l.j.Atomic(func() error {
		queue := l.pendingCopy(topic)
		n := min(len(queue), MaxBatch)
		for _, id := range queue[:n] {
			d, ok := l.deposits[id]
			if !ok || d.Status != StatusPending {
				continue
			}
			d.Status = StatusReleased
			d.ResolvedAt = l.now().UTC()
			l.putDeposit(d)
			l.adjustCustody(d.Asset, d.Amount, false)

			if err := l.settle(d); err != nil {
				return fmt.Errorf("release deposit %d: %w", d.ID, err)
			}
			released = append(released, d.Clone())
		}
		l.setPending(topic, queue[n:])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// ClaimRefund returns a timed-out Pending deposit to its depositor.
func (l *Ledger) ClaimRefund(caller common.Address, id DepositID) (Deposit, error) {
	release, err := l.lock.Enter()
	if err != nil {
		return Deposit{}, err
	}
	defer release()

	var out Deposit
	err = l.j.Atomic(func() error {
		d, err := l.refund(caller, id)
		out = d
		return err
	})
	return out, err
}

// BatchClaimRefunds refunds every listed deposit or none of them: the first
// failing id aborts the batch.
func (l *Ledger) BatchClaimRefunds(caller common.Address, ids []DepositID) ([]Deposit, error) {
	if len(ids) > MaxBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(ids), MaxBatch)
	}
	release, err := l.lock.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	out := make([]Deposit, 0, len(ids))
	err = l.j.Atomic(func() error {
		for _, id := range ids {
			d, err := l.refund(caller, id)
			if err != nil {
				return fmt.Errorf("refund deposit %d: %w", id, err)
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) refund(caller common.Address, id DepositID) (Deposit, error) {
	d, ok := l.deposits[id]
	if !ok {
		return Deposit{}, fmt.Errorf("%w: %d", ErrDepositNotFound, id)
	}
	if caller != d.Depositor {
		return Deposit{}, ErrNotDepositor
	}
	if d.Status != StatusPending {
		return Deposit{}, fmt.Errorf("%w: %d is %s", ErrAlreadyResolved, id, d.Status)
	}
	now := l.now().UTC()
	if now.Before(d.RefundableAt()) {
		return Deposit{}, fmt.Errorf("%w: refundable at %s", ErrTimeoutNotExpired, d.RefundableAt().Format(time.RFC3339))
	}

	d.Status = StatusRefunded
	d.ResolvedAt = now
	l.putDeposit(d)
	l.removePending(d.Topic, id)
	l.adjustCustody(d.Asset, d.Amount, false)

	if err := l.payer.Pay(d.Asset, d.Depositor, d.Amount); err != nil {
		return Deposit{}, err
	}
	return d.Clone(), nil
}

func (l *Ledger) settle(d Deposit) error {
	shares := l.policy.Policy().Apply(d.Amount)
	for _, p := range split.Payouts(shares, d.Primary, d.Secondary, l.policy.Treasury()) {
		if err := l.payer.Pay(d.Asset, p.To, p.Amount); err != nil {
			return err
		}
	}
	return nil
}

// Deposit returns a copy of the deposit with the given id.
func (l *Ledger) Deposit(id DepositID) (Deposit, error) {
	d, ok := l.deposits[id]
	if !ok {
		return Deposit{}, fmt.Errorf("%w: %d", ErrDepositNotFound, id)
	}
	return d.Clone(), nil
}

// DepositStatus returns StatusUnknown with ErrDepositNotFound for unknown ids.
func (l *Ledger) DepositStatus(id DepositID) (Status, error) {
	d, ok := l.deposits[id]
	if !ok {
		return StatusUnknown, fmt.Errorf("%w: %d", ErrDepositNotFound, id)
	}
	return d.Status, nil
}

// PendingDeposits returns the topic's pending index. Its order is insertion
// order only until a single refund swaps an entry out.
func (l *Ledger) PendingDeposits(topic registry.TopicID) []DepositID {
	return l.pendingCopy(topic)
}

// CanClaimRefund reports whether the deposit is Pending and past its
// snapshotted timeout.
func (l *Ledger) CanClaimRefund(id DepositID) bool {
	d, ok := l.deposits[id]
	if !ok || d.Status != StatusPending {
		return false
	}
	return !l.now().Before(d.RefundableAt())
}

// CustodyBalance is the amount of asset held for Pending deposits.
func (l *Ledger) CustodyBalance(asset common.Address) *uint256.Int {
	if v, ok := l.custody[asset]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// PendingCount is the number of Pending deposits across all topics.
func (l *Ledger) PendingCount() int {
	n := 0
	for _, q := range l.pending {
		n += len(q)
	}
	return n
}

// LastID is the most recently assigned deposit id, zero if none.
func (l *Ledger) LastID() DepositID {
	return l.lastID
}

func (l *Ledger) pendingCopy(topic registry.TopicID) []DepositID {
	q := l.pending[topic]
	out := make([]DepositID, len(q))
	copy(out, q)
	return out
}

func (l *Ledger) removePending(topic registry.TopicID, id DepositID) {
	q := l.pendingCopy(topic)
	for i, v := range q {
		if v == id {
			last := len(q) - 1
			q[i] = q[last]
			l.setPending(topic, q[:last])
			return
		}
	}
}

func (l *Ledger) setLastID(id DepositID) {
	prev := l.lastID
	l.j.Append(func() { l.lastID = prev })
	l.lastID = id
}

func (l *Ledger) putDeposit(d Deposit) {
	prev, had := l.deposits[d.ID]
	l.j.Append(func() {
		if had {
			l.deposits[d.ID] = prev
		} else {
			delete(l.deposits, d.ID)
		}
	})
	l.deposits[d.ID] = d
}

// setPending replaces the topic's index. q must not alias the stored slice.
func (l *Ledger) setPending(topic registry.TopicID, q []DepositID) {
	prev, had := l.pending[topic]
	l.j.Append(func() {
		if had {
			l.pending[topic] = prev
		} else {
			delete(l.pending, topic)
		}
	})
	if len(q) == 0 {
		delete(l.pending, topic)
		return
	}
	l.pending[topic] = q
}

func (l *Ledger) adjustCustody(asset common.Address, amount *uint256.Int, credit bool) {
	cur := l.CustodyBalance(asset)
	prev, had := l.custody[asset]
	l.j.Append(func() {
		if had {
			l.custody[asset] = prev
		} else {
			delete(l.custody, asset)
		}
	})
	if credit {
		cur.Add(cur, amount)
	} else {
		cur.Sub(cur, amount)
	}
	l.custody[asset] = cur
}
