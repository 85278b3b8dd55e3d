// Package engine is the single entry point to the settlement core. It admits
// one writer at a time, runs every operation as one all-or-nothing unit and
// hands committed events to the dispatcher.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"postage.org/internal/asset"
	"postage.org/internal/escrow"
	"postage.org/internal/events"
	"postage.org/internal/exemption"
	"postage.org/internal/feeconfig"
	"postage.org/internal/guard"
	"postage.org/internal/journal"
	"postage.org/internal/ledger"
	"postage.org/internal/obs"
	"postage.org/internal/platform"
	"postage.org/internal/registry"
	"postage.org/internal/settlement"
	"postage.org/internal/split"
)

// Config wires an Engine.
type Config struct {
	// Self is the identity that custodies escrowed and attached funds and
	// spends token allowances.
	Self common.Address
	// Orchestrator is the identity the escrow ledger accepts for deposits
	// and releases.
	Orchestrator common.Address
	Admin        common.Address
	Treasury     common.Address
	Policy       split.Policy
	Registry     registry.Reader
	Now          func() time.Time
	Dispatcher   *events.Dispatcher
	Logger       logrus.FieldLogger
}

// Engine is safe for concurrent use. Recipient hooks registered with
// OnReceive run inside the operation that paid them: state-changing calls
// made while a hook runs fail with guard.ErrReentrantCall, and queries see
// the operation's uncommitted state.
type Engine struct {
	mu sync.RWMutex
	// hook guards inHook. Queries that find mu taken by a running hook read
	// under hook.RLock, which keeps the operation parked in its hook.
	hook   sync.RWMutex
	inHook bool

	j   *journal.Journal
	now func() time.Time
	log logrus.FieldLogger

	self     common.Address
	bank     *ledger.Bank
	settings *platform.Settings
	fees     *feeconfig.Store
	escrow   *escrow.Ledger
	orch     *settlement.Orchestrator
	buf      *events.Buffer
	dispatch *events.Dispatcher
}

func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, errors.New("engine: registry is required")
	}
	if cfg.Self == (common.Address{}) || cfg.Orchestrator == (common.Address{}) {
		return nil, platform.ErrZeroAddress
	}
	if cfg.Self == cfg.Orchestrator {
		return nil, errors.New("engine: custody and orchestrator identities must differ")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = obs.Logger()
	}

	j := journal.New()
	settings, err := platform.New(j, cfg.Admin, cfg.Treasury, cfg.Policy, cfg.Self, cfg.Orchestrator)
	if err != nil {
		return nil, err
	}
	bank := ledger.NewBank(j, now)
	mover := asset.NewMover(bank, cfg.Self)
	fees := feeconfig.New(j, cfg.Registry)
	ledg := escrow.New(escrow.Config{
		Journal:      j,
		Orchestrator: cfg.Orchestrator,
		Payer:        mover,
		Policy:       settings,
		Timeouts:     fees,
		Now:          now,
	})
	orch := settlement.New(settlement.Config{
		ID:       cfg.Orchestrator,
		Journal:  j,
		Registry: cfg.Registry,
		Fees:     fees,
		Exempt:   exemption.New(cfg.Registry),
		Escrow:   ledg,
		Mover:    mover,
		Settings: settings,
	})

	return &Engine{
		j:        j,
		now:      now,
		log:      log,
		self:     cfg.Self,
		bank:     bank,
		settings: settings,
		fees:     fees,
		escrow:   ledg,
		orch:     orch,
		buf:      events.NewBuffer(j),
		dispatch: cfg.Dispatcher,
	}, nil
}

// Self is the engine's custody identity; token holders approve it.
func (e *Engine) Self() common.Address { return e.self }

// OnReceive installs a recipient hook on the value ledger; a nil fn removes it.
func (e *Engine) OnReceive(addr common.Address, fn ledger.Receiver) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	if fn == nil {
		e.bank.OnReceive(addr, nil)
		return nil
	}
	e.bank.OnReceive(addr, func(a, from common.Address, amount *uint256.Int) error {
		e.setInHook(true)
		defer e.setInHook(false)
		return fn(a, from, amount)
	})
	return nil
}

func (e *Engine) setInHook(v bool) {
	e.hook.Lock()
	e.inHook = v
	e.hook.Unlock()
}

// lock takes the writer lock. A call made from a recipient hook would wait on
// its own operation, so it is rejected instead.
func (e *Engine) lock() error {
	if e.mu.TryLock() {
		return nil
	}
	e.hook.RLock()
	reentrant := e.inHook
	e.hook.RUnlock()
	if reentrant {
		return guard.ErrReentrantCall
	}
	e.mu.Lock()
	return nil
}

// rlock takes read access and returns its release.
func (e *Engine) rlock() func() {
	if e.mu.TryRLock() {
		return e.mu.RUnlock
	}
	e.hook.RLock()
	if e.inHook {
		return e.hook.RUnlock
	}
	e.hook.RUnlock()
	e.mu.RLock()
	return e.mu.RUnlock
}

// do runs fn as one atomic unit under the writer lock. A context that is
// already done cancels the operation before it starts; once started it
// either commits in full or leaves no trace.
func (e *Engine) do(ctx context.Context, op string, fn func() error) error {
	if err := e.lock(); err != nil {
		obs.ObserveOperationError(op, string(Classify(err)))
		return err
	}
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.j.Atomic(fn); err != nil {
		class := Classify(err)
		obs.ObserveOperationError(op, string(class))
		entry := e.log.WithFields(logrus.Fields{"op": op, "class": class, "error": err.Error()})
		if class == ClassInternal {
			entry.Error("operation failed")
		} else {
			entry.Debug("operation rejected")
		}
		return err
	}

	batch := e.buf.Drain()
	for _, evt := range batch {
		observe(evt)
	}
	obs.SetPendingDeposits(e.escrow.PendingCount())
	if e.dispatch != nil {
		e.dispatch.Enqueue(batch)
	}
	e.log.WithFields(logrus.Fields{"op": op, "events": len(batch)}).Debug("operation committed")
	return nil
}

func (e *Engine) emit(evt events.Event) {
	if evt.At.IsZero() {
		evt.At = e.now().UTC()
	}
	e.buf.Add(evt)
}

func observe(evt events.Event) {
	switch evt.Type {
	case events.FeeSettled, events.FeeExempted:
		obs.ObserveSettlement("message", evt.Path)
	case events.CreationFeeSettled:
		obs.ObserveSettlement("topic_creation", evt.Path)
	case events.DepositRecorded:
		obs.ObserveDeposit("recorded", 1)
	case events.DepositReleased:
		obs.ObserveDeposit("released", 1)
	case events.DepositRefunded:
		obs.ObserveDeposit("refunded", 1)
	}
}
