package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"postage.org/internal/escrow"
	"postage.org/internal/events"
	"postage.org/internal/registry"
	"postage.org/internal/settlement"
	"postage.org/internal/split"
)

func (e *Engine) SetTopicMessageFee(ctx context.Context, caller common.Address, topic registry.TopicID, a common.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: amount is required", ErrInvalidInput)
	}
	return e.do(ctx, "set_topic_message_fee", func() error {
		if err := e.fees.SetTopicMessageFee(ctx, caller, topic, a, amount); err != nil {
			return err
		}
		e.emit(events.Event{Type: events.ConfigChanged, Actor: caller, Topic: topic, Asset: a, Amount: amount.Dec(), Detail: "message_fee"})
		return nil
	})
}

func (e *Engine) SetTopicMessageFees(ctx context.Context, caller common.Address, topics []registry.TopicID, assets []common.Address, amounts []*uint256.Int) error {
	for i, amount := range amounts {
		if amount == nil {
			return fmt.Errorf("%w: amount %d is required", ErrInvalidInput, i)
		}
	}
	return e.do(ctx, "set_topic_message_fees", func() error {
		if err := e.fees.SetTopicMessageFees(ctx, caller, topics, assets, amounts); err != nil {
			return err
		}
		for i, topic := range topics {
			e.emit(events.Event{Type: events.ConfigChanged, Actor: caller, Topic: topic, Asset: assets[i], Amount: amounts[i].Dec(), Detail: "message_fee"})
		}
		return nil
	})
}

func (e *Engine) SetAppTopicCreationFee(ctx context.Context, caller common.Address, app registry.AppID, a common.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: amount is required", ErrInvalidInput)
	}
	return e.do(ctx, "set_app_topic_creation_fee", func() error {
		if err := e.fees.SetAppTopicCreationFee(ctx, caller, app, a, amount); err != nil {
			return err
		}
		e.emit(events.Event{Type: events.ConfigChanged, Actor: caller, App: app, Asset: a, Amount: amount.Dec(), Detail: "creation_fee"})
		return nil
	})
}

func (e *Engine) EnableEscrow(ctx context.Context, caller common.Address, topic registry.TopicID, timeout time.Duration) error {
	return e.do(ctx, "enable_escrow", func() error {
		if err := e.fees.EnableEscrow(ctx, caller, topic, timeout); err != nil {
			return err
		}
		e.emit(events.Event{Type: events.ConfigChanged, Actor: caller, Topic: topic, Detail: "escrow_enabled " + timeout.String()})
		return nil
	})
}

func (e *Engine) DisableEscrow(ctx context.Context, caller common.Address, topic registry.TopicID) error {
	return e.do(ctx, "disable_escrow", func() error {
		if err := e.fees.DisableEscrow(ctx, caller, topic); err != nil {
			return err
		}
		e.emit(events.Event{Type: events.ConfigChanged, Actor: caller, Topic: topic, Detail: "escrow_disabled"})
		return nil
	})
}

// SettleFee charges actor the message fee of topic, with sent native value
// attached to the action.
func (e *Engine) SettleFee(ctx context.Context, actor common.Address, topic registry.TopicID, sent *uint256.Int) (settlement.Receipt, error) {
	var rc settlement.Receipt
	err := e.do(ctx, "settle_fee", func() error {
		var err error
		rc, err = e.orch.SettleFee(ctx, actor, topic, sent)
		if err != nil {
			return err
		}
		t := events.FeeSettled
		if rc.Path == settlement.PathExempt {
			t = events.FeeExempted
		}
		e.emit(events.Event{Type: t, Actor: actor, Topic: topic, App: rc.App, Asset: rc.Asset, Amount: rc.Consumed.Dec(), Path: string(rc.Path)})
		at := e.now().UTC()
		if rc.Deposit != nil {
			e.emit(events.ForDeposit(events.DepositRecorded, actor, *rc.Deposit, at))
		}
		for _, d := range rc.Released {
			e.emit(events.ForDeposit(events.DepositReleased, actor, d, at))
		}
		return nil
	})
	return rc, err
}

// SettleTopicCreation charges actor the topic-creation fee of app.
func (e *Engine) SettleTopicCreation(ctx context.Context, actor common.Address, app registry.AppID, sent *uint256.Int) (settlement.Receipt, error) {
	var rc settlement.Receipt
	err := e.do(ctx, "settle_topic_creation", func() error {
		var err error
		rc, err = e.orch.SettleTopicCreation(ctx, actor, app, sent)
		if err != nil {
			return err
		}
		e.emit(events.Event{Type: events.CreationFeeSettled, Actor: actor, App: app, Asset: rc.Asset, Amount: rc.Consumed.Dec(), Path: string(rc.Path)})
		return nil
	})
	return rc, err
}

func (e *Engine) ClaimRefund(ctx context.Context, caller common.Address, id escrow.DepositID) (escrow.Deposit, error) {
	var d escrow.Deposit
	err := e.do(ctx, "claim_refund", func() error {
		var err error
		d, err = e.escrow.ClaimRefund(caller, id)
		if err != nil {
			return err
		}
		e.emit(events.ForDeposit(events.DepositRefunded, caller, d, e.now()))
		return nil
	})
	return d, err
}

func (e *Engine) BatchClaimRefunds(ctx context.Context, caller common.Address, ids []escrow.DepositID) ([]escrow.Deposit, error) {
	var out []escrow.Deposit
	err := e.do(ctx, "batch_claim_refunds", func() error {
		var err error
		out, err = e.escrow.BatchClaimRefunds(caller, ids)
		if err != nil {
			return err
		}
		at := e.now()
		for _, d := range out {
			e.emit(events.ForDeposit(events.DepositRefunded, caller, d, at))
		}
		return nil
	})
	return out, err
}

func (e *Engine) SetTreasury(ctx context.Context, caller, treasury common.Address) error {
	return e.do(ctx, "set_treasury", func() error {
		if err := e.settings.SetTreasury(caller, treasury); err != nil {
			return err
		}
		e.emit(events.Event{Type: events.ConfigChanged, Actor: caller, Detail: "treasury " + treasury.Hex()})
		return nil
	})
}

func (e *Engine) SetSplitPolicy(ctx context.Context, caller common.Address, policy split.Policy) error {
	return e.do(ctx, "set_split_policy", func() error {
		if err := e.settings.SetPolicy(caller, policy); err != nil {
			return err
		}
		e.emit(events.Event{Type: events.ConfigChanged, Actor: caller, Detail: fmt.Sprintf("split_policy %s %d/%d/%d",
			policy.Version, policy.PrimaryBps, policy.SecondaryBps, policy.PlatformBps)})
		return nil
	})
}

// Approve lets the engine spend up to amount of owner's token.
func (e *Engine) Approve(ctx context.Context, owner, token common.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: amount is required", ErrInvalidInput)
	}
	return e.do(ctx, "approve", func() error {
		return e.bank.Approve(token, owner, e.self, amount)
	})
}

// Fund credits to with amount of a. It seeds dev and test deployments; the
// HTTP API only routes to it in dev mode for operators.
func (e *Engine) Fund(ctx context.Context, a, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: amount is required", ErrInvalidInput)
	}
	return e.do(ctx, "fund", func() error {
		return e.bank.Mint(a, to, amount)
	})
}
