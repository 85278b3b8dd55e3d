// Package settlement runs the two fee-bearing actions, sending a message and
// creating a topic: it decides who pays, how much, and whether the fee is
// split immediately or held in escrow until the topic owner responds.
package settlement

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"postage.org/internal/asset"
	"postage.org/internal/escrow"
	"postage.org/internal/exemption"
	"postage.org/internal/feeconfig"
	"postage.org/internal/guard"
	"postage.org/internal/journal"
	"postage.org/internal/registry"
	"postage.org/internal/split"
)

// Path says how a fee was handled.
type Path string

const (
	PathNoFee  Path = "no_fee"
	PathExempt Path = "exempt"
	PathDirect Path = "direct"
	PathEscrow Path = "escrow"
)

// Receipt describes one settled action.
type Receipt struct {
	Actor    common.Address   `json:"actor"`
	Topic    registry.TopicID `json:"topic,omitempty"`
	App      registry.AppID   `json:"app"`
	Path     Path             `json:"path"`
	Asset    common.Address   `json:"asset"`
	Sent     *uint256.Int     `json:"sent"`
	Consumed *uint256.Int     `json:"consumed"`
	Refunded *uint256.Int     `json:"refunded"`
	Payouts  []split.Payout   `json:"payouts,omitempty"`
	Deposit  *escrow.Deposit  `json:"deposit,omitempty"`
	Released []escrow.Deposit `json:"released,omitempty"`
}

// Fees is the read side of the fee configuration store.
type Fees interface {
	TopicMessageFee(topic registry.TopicID) feeconfig.Fee
	AppTopicCreationFee(app registry.AppID) feeconfig.Fee
	IsEscrowEnabled(topic registry.TopicID) bool
}

// Orchestrator is not safe for concurrent use; the engine serialises access.
type Orchestrator struct {
	id       common.Address
	lock     guard.Lock
	j        *journal.Journal
	reg      registry.Reader
	fees     Fees
	exempt   *exemption.Resolver
	escrow   *escrow.Ledger
	mover    *asset.Mover
	settings escrow.Policy
}

// Config wires an Orchestrator. ID must match the identity the escrow ledger
// accepts as its orchestrator.
type Config struct {
	ID       common.Address
	Journal  *journal.Journal
	Registry registry.Reader
	Fees     Fees
	Exempt   *exemption.Resolver
	Escrow   *escrow.Ledger
	Mover    *asset.Mover
	Settings escrow.Policy
}

func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		id:       cfg.ID,
		j:        cfg.Journal,
		reg:      cfg.Registry,
		fees:     cfg.Fees,
		exempt:   cfg.Exempt,
		escrow:   cfg.Escrow,
		mover:    cfg.Mover,
		settings: cfg.Settings,
	}
}

// ID is the identity the orchestrator presents to the escrow ledger.
func (o *Orchestrator) ID() common.Address { return o.id }

// SettleFee charges actor the message fee of topic. sent is the native value
// attached to the action; whatever is not consumed goes back to actor. When
// actor owns the topic, its pending deposits are released afterwards.
func (o *Orchestrator) SettleFee(ctx context.Context, actor common.Address, topic registry.TopicID, sent *uint256.Int) (Receipt, error) {
	release, err := o.lock.Enter()
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	var rc Receipt
	err = o.j.Atomic(func() error {
		owner, err := o.reg.TopicOwner(ctx, topic)
		if err != nil {
			return err
		}
		app, err := o.reg.TopicApplication(ctx, topic)
		if err != nil {
			return err
		}
		appOwner, err := o.reg.ApplicationOwner(ctx, app)
		if err != nil {
			return err
		}

		fee := o.fees.TopicMessageFee(topic)
		rc = newReceipt(actor, app, fee.Asset, sent)
		rc.Topic = topic
		if err := o.mover.Receive(actor, rc.Sent); err != nil {
			return err
		}

		path, err := o.classify(fee, func() (bool, error) { return o.exempt.IsExempt(ctx, actor, topic) })
		if err != nil {
			return err
		}
		if path == PathDirect && o.fees.IsEscrowEnabled(topic) {
			path = PathEscrow
		}
		rc.Path = path

		switch path {
		case PathEscrow:
			if err := o.custody(actor, fee, rc.Sent); err != nil {
				return err
			}
			d, err := o.escrow.RecordDeposit(o.id, topic, actor, fee.Asset, fee.Amount, owner, appOwner)
			if err != nil {
				return err
			}
			rc.Deposit = &d
			rc.Consumed = fee.Amount.Clone()
		case PathDirect:
			payouts, err := o.direct(actor, fee, rc.Sent, owner, appOwner)
			if err != nil {
				return err
			}
			rc.Payouts = payouts
			rc.Consumed = fee.Amount.Clone()
		}

		if err := o.refund(actor, &rc); err != nil {
			return err
		}

		if actor == owner {
			released, err := o.escrow.ReleaseForTopic(o.id, topic)
			if err != nil {
				return err
			}
			rc.Released = released
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return rc, nil
}

// SettleTopicCreation charges actor the topic-creation fee of app. Creation
// fees never go through escrow and both owner shares go to the application
// owner in one transfer.
func (o *Orchestrator) SettleTopicCreation(ctx context.Context, actor common.Address, app registry.AppID, sent *uint256.Int) (Receipt, error) {
	release, err := o.lock.Enter()
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	var rc Receipt
	err = o.j.Atomic(func() error {
		appOwner, err := o.reg.ApplicationOwner(ctx, app)
		if err != nil {
			return err
		}

		fee := o.fees.AppTopicCreationFee(app)
		rc = newReceipt(actor, app, fee.Asset, sent)
		if err := o.mover.Receive(actor, rc.Sent); err != nil {
			return err
		}

		path, err := o.classify(fee, func() (bool, error) { return o.exempt.IsExemptFromCreation(ctx, actor, app) })
		if err != nil {
			return err
		}
		rc.Path = path

		if path == PathDirect {
			payouts, err := o.direct(actor, fee, rc.Sent, appOwner, appOwner)
			if err != nil {
				return err
			}
			rc.Payouts = payouts
			rc.Consumed = fee.Amount.Clone()
		}
		return o.refund(actor, &rc)
	})
	if err != nil {
		return Receipt{}, err
	}
	return rc, nil
}

// classify decides whether a fee is charged at all. Charged fees come back as
// PathDirect; the caller upgrades them to escrow where enabled.
func (o *Orchestrator) classify(fee feeconfig.Fee, exempt func() (bool, error)) (Path, error) {
	if !fee.IsSet() {
		return PathNoFee, nil
	}
	ok, err := exempt()
	if err != nil {
		return "", err
	}
	if ok {
		return PathExempt, nil
	}
	return PathDirect, nil
}

// custody takes the full fee into the engine's keeping for escrow.
func (o *Orchestrator) custody(actor common.Address, fee feeconfig.Fee, sent *uint256.Int) error {
	if asset.IsNative(fee.Asset) {
		_, err := asset.Overpayment(sent, fee.Amount)
		return err
	}
	if !sent.IsZero() {
		return fmt.Errorf("%w: %s attached", asset.ErrNativeValueMismatch, sent.Dec())
	}
	if err := o.mover.CheckPull(fee.Asset, actor, fee.Amount); err != nil {
		return err
	}
	return o.mover.Pull(fee.Asset, actor, o.mover.Self(), fee.Amount)
}

// direct splits the fee and pays the beneficiaries right away.
func (o *Orchestrator) direct(actor common.Address, fee feeconfig.Fee, sent *uint256.Int, primary, secondary common.Address) ([]split.Payout, error) {
	native := asset.IsNative(fee.Asset)
	if native {
		if _, err := asset.Overpayment(sent, fee.Amount); err != nil {
			return nil, err
		}
	} else {
		if !sent.IsZero() {
			return nil, fmt.Errorf("%w: %s attached", asset.ErrNativeValueMismatch, sent.Dec())
		}
		if err := o.mover.CheckPull(fee.Asset, actor, fee.Amount); err != nil {
			return nil, err
		}
	}

	payouts := split.Payouts(o.settings.Policy().Apply(fee.Amount), primary, secondary, o.settings.Treasury())
	for _, p := range payouts {
		var err error
		if native {
			err = o.mover.Pay(asset.Native, p.To, p.Amount)
		} else {
			err = o.mover.Pull(fee.Asset, actor, p.To, p.Amount)
		}
		if err != nil {
			return nil, err
		}
	}
	return payouts, nil
}

// refund returns unconsumed native value to actor.
func (o *Orchestrator) refund(actor common.Address, rc *Receipt) error {
	consumed := new(uint256.Int)
	if asset.IsNative(rc.Asset) {
		consumed = rc.Consumed
	}
	surplus, err := asset.Overpayment(rc.Sent, consumed)
	if err != nil {
		return err
	}
	if err := o.mover.Pay(asset.Native, actor, surplus); err != nil {
		return err
	}
	rc.Refunded = surplus
	return nil
}

func newReceipt(actor common.Address, app registry.AppID, a common.Address, sent *uint256.Int) Receipt {
	if sent == nil {
		sent = new(uint256.Int)
	}
	return Receipt{
		Actor:    actor,
		App:      app,
		Path:     PathNoFee,
		Asset:    a,
		Sent:     sent.Clone(),
		Consumed: new(uint256.Int),
		Refunded: new(uint256.Int),
	}
}
