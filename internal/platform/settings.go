// Package platform holds the engine-wide configuration: the platform admin,
// the treasury that receives the platform share, and the active split policy.
// It is passed explicitly to the components that need it and only the admin
// may change it.
package platform

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"postage.org/internal/journal"
	"postage.org/internal/split"
)

var (
	ErrNotAdmin    = errors.New("platform: caller is not the platform admin")
	ErrZeroAddress = errors.New("platform: zero address")
	// ErrReservedTreasury rejects a treasury that is one of the engine's own
	// identities; funds sent there could never be withdrawn.
	ErrReservedTreasury = errors.New("platform: treasury is a reserved identity")
)

// Settings is not safe for concurrent use; the engine serialises access.
type Settings struct {
	j        *journal.Journal
	admin    common.Address
	treasury common.Address
	policy   split.Policy
	reserved []common.Address
}

// New validates and returns the initial settings. The treasury may never be
// set to any of the reserved addresses.
func New(j *journal.Journal, admin, treasury common.Address, policy split.Policy, reserved ...common.Address) (*Settings, error) {
	if admin == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	s := &Settings{j: j, admin: admin, policy: policy, reserved: reserved}
	if err := s.checkTreasury(treasury); err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	s.treasury = treasury
	return s, nil
}

func (s *Settings) checkTreasury(treasury common.Address) error {
	if treasury == (common.Address{}) {
		return ErrZeroAddress
	}
	for _, r := range s.reserved {
		if treasury == r {
			return fmt.Errorf("%w: %s", ErrReservedTreasury, treasury.Hex())
		}
	}
	return nil
}

func (s *Settings) Admin() common.Address    { return s.admin }
func (s *Settings) Treasury() common.Address { return s.treasury }
func (s *Settings) Policy() split.Policy     { return s.policy }

// SetTreasury rotates the address that receives the platform share.
func (s *Settings) SetTreasury(caller, treasury common.Address) error {
	if caller != s.admin {
		return ErrNotAdmin
	}
	if err := s.checkTreasury(treasury); err != nil {
		return err
	}
	prev := s.treasury
	s.j.Append(func() { s.treasury = prev })
	s.treasury = treasury
	return nil
}

// SetPolicy replaces the active split policy. Escrowed deposits are split
// under the policy active at release time.
func (s *Settings) SetPolicy(caller common.Address, policy split.Policy) error {
	if caller != s.admin {
		return ErrNotAdmin
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("set policy %q: %w", policy.Version, err)
	}
	prev := s.policy
	s.j.Append(func() { s.policy = prev })
	s.policy = policy
	return nil
}
