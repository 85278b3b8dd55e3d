// Package split divides a fee among the primary recipient, the secondary
// recipient and the platform treasury according to a basis-point policy.
//
// The platform and secondary shares are floored; the primary share is the
// remainder, so rounding always favours the primary recipient and the three
// shares always sum to the original amount.
package split

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TotalBps is the basis-point denominator.
const TotalBps = 10_000

var (
	// ErrInvalidPolicy is returned for policies whose shares do not sum to TotalBps.
	ErrInvalidPolicy = errors.New("split: invalid policy")

	totalBps = uint256.NewInt(TotalBps)
)

// Policy is a basis-point triple. Exactly one policy is active at a time; it
// is chosen by configuration rather than by code.
type Policy struct {
	Version      string `json:"version" yaml:"version"`
	PrimaryBps   uint16 `json:"primary_bps" yaml:"primary_bps"`
	SecondaryBps uint16 `json:"secondary_bps" yaml:"secondary_bps"`
	PlatformBps  uint16 `json:"platform_bps" yaml:"platform_bps"`
}

var (
	// LegacyTwoWay is the original owner/platform split.
	LegacyTwoWay = Policy{Version: "two-way", PrimaryBps: 9700, SecondaryBps: 0, PlatformBps: 300}
	// ThreeWay splits between topic owner, application owner and platform.
	ThreeWay = Policy{Version: "three-way", PrimaryBps: 9000, SecondaryBps: 500, PlatformBps: 500}
)

// Validate checks that the shares cover exactly TotalBps.
func (p Policy) Validate() error {
	sum := uint32(p.PrimaryBps) + uint32(p.SecondaryBps) + uint32(p.PlatformBps)
	if sum != TotalBps {
		return fmt.Errorf("%w: %d+%d+%d != %d", ErrInvalidPolicy, p.PrimaryBps, p.SecondaryBps, p.PlatformBps, TotalBps)
	}
	return nil
}

// Lookup returns a built-in policy by version name.
func Lookup(version string) (Policy, bool) {
	switch version {
	case LegacyTwoWay.Version:
		return LegacyTwoWay, true
	case ThreeWay.Version:
		return ThreeWay, true
	}
	return Policy{}, false
}

// Shares is the result of a split.
type Shares struct {
	Primary   *uint256.Int
	Secondary *uint256.Int
	Platform  *uint256.Int
}

// Total returns Primary+Secondary+Platform.
func (s Shares) Total() *uint256.Int {
	out := new(uint256.Int).Add(s.Primary, s.Secondary)
	return out.Add(out, s.Platform)
}

// Split divides amount using the primary and secondary basis points; the
// platform receives the rest of TotalBps. Rates beyond TotalBps saturate:
// primary is capped at TotalBps and secondary at what primary leaves, so the
// shares always sum to amount.
func Split(amount *uint256.Int, primaryBps, secondaryBps uint16) Shares {
	p := min(uint64(primaryBps), TotalBps)
	sec := min(uint64(secondaryBps), TotalBps-p)
	platformBps := TotalBps - p - sec

	platform := bpsOf(amount, platformBps)
	secondary := bpsOf(amount, sec)

	primary := new(uint256.Int).Sub(amount, platform)
	primary.Sub(primary, secondary)

	return Shares{Primary: primary, Secondary: secondary, Platform: platform}
}

// Apply splits amount under the policy.
func (p Policy) Apply(amount *uint256.Int) Shares {
	return Split(amount, p.PrimaryBps, p.SecondaryBps)
}

// bpsOf returns floor(amount*bps/TotalBps) using a 512-bit intermediate, so
// the product cannot overflow for any 256-bit amount.
func bpsOf(amount *uint256.Int, bps uint64) *uint256.Int {
	if bps == 0 || amount.IsZero() {
		return new(uint256.Int)
	}
	out, _ := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(bps), totalBps)
	return out
}

// Payout is one outgoing transfer of a settled fee.
type Payout struct {
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

// Payouts turns shares into transfers. When the primary and secondary
// recipients are the same identity their shares are combined into one
// transfer. Zero-value payouts are dropped.
func Payouts(s Shares, primary, secondary, platform common.Address) []Payout {
	out := make([]Payout, 0, 3)
	add := func(to common.Address, amount *uint256.Int) {
		if amount.IsZero() {
			return
		}
		out = append(out, Payout{To: to, Amount: amount.Clone()})
	}
	if primary == secondary {
		add(primary, new(uint256.Int).Add(s.Primary, s.Secondary))
	} else {
		add(primary, s.Primary)
		add(secondary, s.Secondary)
	}
	add(platform, s.Platform)
	return out
}
