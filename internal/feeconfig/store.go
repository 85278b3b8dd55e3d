// Package feeconfig stores per-topic message fees, per-application topic
// creation fees and per-topic escrow settings. Writes are authorised against
// the registry.
package feeconfig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"postage.org/internal/journal"
	"postage.org/internal/registry"
)

const (
	MinEscrowTimeout = time.Minute
	MaxEscrowTimeout = 7 * 24 * time.Hour
	// MaxBatch bounds SetTopicMessageFees.
	MaxBatch = 50
)

var (
	ErrNotAuthorized       = errors.New("feeconfig: not authorized")
	ErrNotTopicOwner       = errors.New("feeconfig: not topic owner")
	ErrInvalidTimeout      = errors.New("feeconfig: invalid escrow timeout")
	ErrArrayLengthMismatch = errors.New("feeconfig: array length mismatch")
	ErrBatchTooLarge       = errors.New("feeconfig: batch too large")
)

// Fee is an (asset, amount) pair. A zero amount means no fee applies.
type Fee struct {
	Asset  common.Address `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
}

// IsSet reports whether the fee charges anything.
func (f Fee) IsSet() bool {
	return f.Amount != nil && !f.Amount.IsZero()
}

func (f Fee) clone() Fee {
	if f.Amount == nil {
		return Fee{Asset: f.Asset, Amount: new(uint256.Int)}
	}
	return Fee{Asset: f.Asset, Amount: f.Amount.Clone()}
}

// EscrowConfig is a topic's escrow setting. Disabling keeps the last timeout.
type EscrowConfig struct {
	Enabled bool          `json:"enabled"`
	Timeout time.Duration `json:"timeout"`
}

// Store is not safe for concurrent use; the engine serialises access.
type Store struct {
	j        *journal.Journal
	reg      registry.Reader
	message  map[registry.TopicID]Fee
	creation map[registry.AppID]Fee
	escrow   map[registry.TopicID]EscrowConfig
}

func New(j *journal.Journal, reg registry.Reader) *Store {
	return &Store{
		j:        j,
		reg:      reg,
		message:  make(map[registry.TopicID]Fee),
		creation: make(map[registry.AppID]Fee),
		escrow:   make(map[registry.TopicID]EscrowConfig),
	}
}

// SetTopicMessageFee sets the fee charged per message on topic. The caller
// must own the topic, hold admin permission on it, or be an admin of its
// application.
func (s *Store) SetTopicMessageFee(ctx context.Context, caller common.Address, topic registry.TopicID, asset common.Address, amount *uint256.Int) error {
	if err := s.authorizeTopic(ctx, caller, topic); err != nil {
		return err
	}
	s.putMessage(topic, Fee{Asset: asset, Amount: amount}.clone())
	return nil
}

// SetTopicMessageFees applies several message fees at once. Either every
// entry is applied or none is.
func (s *Store) SetTopicMessageFees(ctx context.Context, caller common.Address, topics []registry.TopicID, assets []common.Address, amounts []*uint256.Int) error {
	if len(topics) != len(assets) || len(topics) != len(amounts) {
		return fmt.Errorf("%w: %d topics, %d assets, %d amounts", ErrArrayLengthMismatch, len(topics), len(assets), len(amounts))
	}
	if len(topics) > MaxBatch {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(topics), MaxBatch)
	}
	return s.j.Atomic(func() error {
		for i, topic := range topics {
			if err := s.SetTopicMessageFee(ctx, caller, topic, assets[i], amounts[i]); err != nil {
				return fmt.Errorf("entry %d (topic %d): %w", i, topic, err)
			}
		}
		return nil
	})
}

// SetAppTopicCreationFee sets the fee charged for creating a topic in app.
// The caller must own the application or be one of its admins.
func (s *Store) SetAppTopicCreationFee(ctx context.Context, caller common.Address, app registry.AppID, asset common.Address, amount *uint256.Int) error {
	owner, err := s.reg.ApplicationOwner(ctx, app)
	if err != nil {
		return err
	}
	if caller != owner {
		admin, err := s.reg.HasAdminRole(ctx, app, caller)
		if err != nil {
			return err
		}
		if !admin {
			return ErrNotAuthorized
		}
	}
	s.putCreation(app, Fee{Asset: asset, Amount: amount}.clone())
	return nil
}

// EnableEscrow turns on escrow for topic with the given refund timeout. Only
// the topic owner may call it.
func (s *Store) EnableEscrow(ctx context.Context, caller common.Address, topic registry.TopicID, timeout time.Duration) error {
	if err := s.requireOwner(ctx, caller, topic); err != nil {
		return err
	}
	if timeout < MinEscrowTimeout || timeout > MaxEscrowTimeout {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrInvalidTimeout, timeout, MinEscrowTimeout, MaxEscrowTimeout)
	}
	s.putEscrow(topic, EscrowConfig{Enabled: true, Timeout: timeout})
	return nil
}

// DisableEscrow turns escrow off for topic. Deposits already recorded keep
// their own timeout and stay releasable and refundable.
func (s *Store) DisableEscrow(ctx context.Context, caller common.Address, topic registry.TopicID) error {
	if err := s.requireOwner(ctx, caller, topic); err != nil {
		return err
	}
	cfg := s.escrow[topic]
	cfg.Enabled = false
	s.putEscrow(topic, cfg)
	return nil
}

func (s *Store) TopicMessageFee(topic registry.TopicID) Fee {
	return s.message[topic].clone()
}

func (s *Store) AppTopicCreationFee(app registry.AppID) Fee {
	return s.creation[app].clone()
}

func (s *Store) Escrow(topic registry.TopicID) EscrowConfig {
	return s.escrow[topic]
}

func (s *Store) IsEscrowEnabled(topic registry.TopicID) bool {
	return s.escrow[topic].Enabled
}

// EscrowTimeout is the refund timeout a deposit recorded now would carry.
func (s *Store) EscrowTimeout(topic registry.TopicID) time.Duration {
	return s.escrow[topic].Timeout
}

func (s *Store) authorizeTopic(ctx context.Context, caller common.Address, topic registry.TopicID) error {
	owner, err := s.reg.TopicOwner(ctx, topic)
	if err != nil {
		return err
	}
	if caller == owner {
		return nil
	}
	perm, err := s.reg.TopicPermission(ctx, topic, caller)
	if err != nil {
		return err
	}
	if perm == registry.PermissionAdmin {
		return nil
	}
	app, err := s.reg.TopicApplication(ctx, topic)
	if err != nil {
		return err
	}
	admin, err := s.reg.HasAdminRole(ctx, app, caller)
	if err != nil {
		return err
	}
	if !admin {
		return ErrNotAuthorized
	}
	return nil
}

func (s *Store) requireOwner(ctx context.Context, caller common.Address, topic registry.TopicID) error {
	owner, err := s.reg.TopicOwner(ctx, topic)
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrNotTopicOwner
	}
	return nil
}

func (s *Store) putMessage(topic registry.TopicID, fee Fee) {
	prev, had := s.message[topic]
	s.j.Append(func() {
		if had {
			s.message[topic] = prev
		} else {
			delete(s.message, topic)
		}
	})
	s.message[topic] = fee
}

func (s *Store) putCreation(app registry.AppID, fee Fee) {
	prev, had := s.creation[app]
	s.j.Append(func() {
		if had {
			s.creation[app] = prev
		} else {
			delete(s.creation, app)
		}
	})
	s.creation[app] = fee
}

func (s *Store) putEscrow(topic registry.TopicID, cfg EscrowConfig) {
	prev, had := s.escrow[topic]
	s.j.Append(func() {
		if had {
			s.escrow[topic] = prev
		} else {
			delete(s.escrow, topic)
		}
	})
	s.escrow[topic] = cfg
}
