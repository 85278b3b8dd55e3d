package config

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"postage.org/internal/registry"
)

// Fixtures seed the in-memory registry and the value ledger so a single
// binary can run end to end without the external registry.
type Fixtures struct {
	Applications []ApplicationFixture `yaml:"applications"`
	Topics       []TopicFixture       `yaml:"topics"`
	Roles        []RoleFixture        `yaml:"roles"`
	Permissions  []PermissionFixture  `yaml:"permissions"`
	Balances     []BalanceFixture     `yaml:"balances"`
	Allowances   []AllowanceFixture   `yaml:"allowances"`
}

type ApplicationFixture struct {
	ID    uint64 `yaml:"id"`
	Owner string `yaml:"owner"`
}

type TopicFixture struct {
	ID    uint64 `yaml:"id"`
	App   uint64 `yaml:"app"`
	Owner string `yaml:"owner"`
}

type RoleFixture struct {
	App    uint64   `yaml:"app"`
	Member string   `yaml:"member"`
	Roles  []string `yaml:"roles"`
}

type PermissionFixture struct {
	Topic      uint64 `yaml:"topic"`
	Member     string `yaml:"member"`
	Permission string `yaml:"permission"`
}

// BalanceFixture credits Amount of Asset to Owner. An empty asset means
// the native currency.
type BalanceFixture struct {
	Asset  string `yaml:"asset"`
	Owner  string `yaml:"owner"`
	Amount string `yaml:"amount"`
}

// AllowanceFixture lets the engine spend Amount of Token on Owner's behalf.
type AllowanceFixture struct {
	Token  string `yaml:"token"`
	Owner  string `yaml:"owner"`
	Amount string `yaml:"amount"`
}

// Funder is the part of the engine fixtures are applied to.
type Funder interface {
	Fund(ctx context.Context, asset, to common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, owner, token common.Address, amount *uint256.Int) error
}

func (f Fixtures) validate() error {
	if _, err := f.Registry(); err != nil {
		return err
	}
	for i, b := range f.Balances {
		if _, err := parseAsset(b.Asset); err != nil {
			return fmt.Errorf("config: fixtures.balances[%d]: %w", i, err)
		}
		if _, err := ParseAddress(b.Owner); err != nil {
			return fmt.Errorf("config: fixtures.balances[%d]: %w", i, err)
		}
		if _, err := parseAmount(b.Amount); err != nil {
			return fmt.Errorf("config: fixtures.balances[%d]: %w", i, err)
		}
	}
	for i, a := range f.Allowances {
		if _, err := ParseAddress(a.Token); err != nil {
			return fmt.Errorf("config: fixtures.allowances[%d]: %w", i, err)
		}
		if _, err := ParseAddress(a.Owner); err != nil {
			return fmt.Errorf("config: fixtures.allowances[%d]: %w", i, err)
		}
		if _, err := parseAmount(a.Amount); err != nil {
			return fmt.Errorf("config: fixtures.allowances[%d]: %w", i, err)
		}
	}
	return nil
}

// Registry builds an in-memory registry holding the fixture records.
func (f Fixtures) Registry() (*registry.Memory, error) {
	mem := registry.NewMemory()
	for i, a := range f.Applications {
		owner, err := ParseAddress(a.Owner)
		if err != nil {
			return nil, fmt.Errorf("config: fixtures.applications[%d]: %w", i, err)
		}
		mem.PutApplication(registry.Application{ID: registry.AppID(a.ID), Owner: owner})
	}
	for i, t := range f.Topics {
		owner, err := ParseAddress(t.Owner)
		if err != nil {
			return nil, fmt.Errorf("config: fixtures.topics[%d]: %w", i, err)
		}
		if err := mem.PutTopic(registry.Topic{ID: registry.TopicID(t.ID), App: registry.AppID(t.App), Owner: owner}); err != nil {
			return nil, fmt.Errorf("config: fixtures.topics[%d]: %w", i, err)
		}
	}
	for i, r := range f.Roles {
		member, err := ParseAddress(r.Member)
		if err != nil {
			return nil, fmt.Errorf("config: fixtures.roles[%d]: %w", i, err)
		}
		var roles uint64
		for _, name := range r.Roles {
			switch name {
			case "admin":
				roles |= registry.RoleAdmin
			case "member":
				roles |= registry.RoleMember
			default:
				return nil, fmt.Errorf("config: fixtures.roles[%d]: unknown role %q", i, name)
			}
		}
		mem.SetRoles(registry.AppID(r.App), member, roles)
	}
	for i, p := range f.Permissions {
		member, err := ParseAddress(p.Member)
		if err != nil {
			return nil, fmt.Errorf("config: fixtures.permissions[%d]: %w", i, err)
		}
		perm, err := registry.ParsePermission(p.Permission)
		if err != nil {
			return nil, fmt.Errorf("config: fixtures.permissions[%d]: %w", i, err)
		}
		mem.SetPermission(registry.TopicID(p.Topic), member, perm)
	}
	return mem, nil
}

// Apply credits balances and grants allowances through eng.
func (f Fixtures) Apply(ctx context.Context, eng Funder) error {
	for i, b := range f.Balances {
		asset, _ := parseAsset(b.Asset)
		owner, _ := ParseAddress(b.Owner)
		amount, _ := parseAmount(b.Amount)
		if err := eng.Fund(ctx, asset, owner, amount); err != nil {
			return fmt.Errorf("fixtures.balances[%d]: %w", i, err)
		}
	}
	for i, a := range f.Allowances {
		token, _ := ParseAddress(a.Token)
		owner, _ := ParseAddress(a.Owner)
		amount, _ := parseAmount(a.Amount)
		if err := eng.Approve(ctx, owner, token, amount); err != nil {
			return fmt.Errorf("fixtures.allowances[%d]: %w", i, err)
		}
	}
	return nil
}

func parseAsset(raw string) (common.Address, error) {
	if raw == "" || raw == "native" {
		return common.Address{}, nil
	}
	return ParseAddress(raw)
}

func parseAmount(raw string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed amount %q: %w", raw, err)
	}
	return v, nil
}
