package split

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestSplitExamples(t *testing.T) {
	cases := []struct {
		name                         string
		amount                       uint64
		primary, secondary, platform uint64
	}{
		{name: "two hundred", amount: 200, primary: 180, secondary: 10, platform: 10},
		{name: "one unit favours primary", amount: 1, primary: 1, secondary: 0, platform: 0},
		{name: "thousand", amount: 1000, primary: 900, secondary: 50, platform: 50},
		{name: "zero", amount: 0, primary: 0, secondary: 0, platform: 0},
		{name: "rounding remainder", amount: 39, primary: 37, secondary: 1, platform: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := ThreeWay.Apply(uint256.NewInt(tc.amount))
			if s.Primary.Uint64() != tc.primary || s.Secondary.Uint64() != tc.secondary || s.Platform.Uint64() != tc.platform {
				t.Fatalf("split(%d) = %s/%s/%s, want %d/%d/%d", tc.amount,
					s.Primary.Dec(), s.Secondary.Dec(), s.Platform.Dec(), tc.primary, tc.secondary, tc.platform)
			}
		})
	}
}

func TestSplitConservation(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	policies := []Policy{ThreeWay, LegacyTwoWay, {PrimaryBps: 1, SecondaryBps: 1, PlatformBps: 9998}, {PrimaryBps: 10000}}
	max := new(uint256.Int).SetAllOne()

	for _, p := range policies {
		for i := 0; i < 500; i++ {
			amount := new(uint256.Int).SetUint64(rnd.Uint64())
			if i%5 == 0 {
				amount.Lsh(amount, uint(rnd.Intn(190)))
			}
			if got := p.Apply(amount).Total(); !got.Eq(amount) {
				t.Fatalf("policy %+v: shares of %s sum to %s", p, amount.Dec(), got.Dec())
			}
		}
		if got := p.Apply(max).Total(); !got.Eq(max) {
			t.Fatalf("policy %+v: max amount not conserved", p)
		}
	}
}

func TestSplitSaturatesOutOfRangeRates(t *testing.T) {
	cases := []struct {
		name                         string
		primaryBps, secondaryBps     uint16
		primary, secondary, platform uint64
	}{
		{name: "secondary overflows", primaryBps: 9000, secondaryBps: 5000, primary: 900, secondary: 100, platform: 0},
		{name: "primary overflows", primaryBps: 12000, secondaryBps: 500, primary: 1000, secondary: 0, platform: 0},
		{name: "both at max", primaryBps: 65535, secondaryBps: 65535, primary: 1000, secondary: 0, platform: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Split(uint256.NewInt(1000), tc.primaryBps, tc.secondaryBps)
			if s.Primary.Uint64() != tc.primary || s.Secondary.Uint64() != tc.secondary || s.Platform.Uint64() != tc.platform {
				t.Fatalf("got %s/%s/%s, want %d/%d/%d",
					s.Primary.Dec(), s.Secondary.Dec(), s.Platform.Dec(), tc.primary, tc.secondary, tc.platform)
			}
		})
	}

	max := new(uint256.Int).SetAllOne()
	if got := Split(max, 9000, 5000).Total(); !got.Eq(max) {
		t.Fatalf("max amount not conserved: %s", got.Dec())
	}
}

func TestLegacyTwoWayHasNoSecondaryShare(t *testing.T) {
	s := LegacyTwoWay.Apply(uint256.NewInt(1000))
	if !s.Secondary.IsZero() || s.Platform.Uint64() != 30 || s.Primary.Uint64() != 970 {
		t.Fatalf("unexpected legacy split %s/%s/%s", s.Primary.Dec(), s.Secondary.Dec(), s.Platform.Dec())
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := ThreeWay.Validate(); err != nil {
		t.Fatalf("three-way should be valid: %v", err)
	}
	bad := Policy{PrimaryBps: 9000, SecondaryBps: 600, PlatformBps: 500}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	if p, ok := Lookup("three-way"); !ok || p != ThreeWay {
		t.Fatalf("lookup three-way failed: %+v %v", p, ok)
	}
	if _, ok := Lookup("four-way"); ok {
		t.Fatal("unexpected policy")
	}
}

func TestPayoutsCombineSameRecipient(t *testing.T) {
	owner := common.HexToAddress("0x1000000000000000000000000000000000000001")
	treasury := common.HexToAddress("0x7000000000000000000000000000000000000007")

	got := Payouts(ThreeWay.Apply(uint256.NewInt(1000)), owner, owner, treasury)
	if len(got) != 2 {
		t.Fatalf("expected 2 payouts, got %d", len(got))
	}
	if got[0].To != owner || got[0].Amount.Uint64() != 950 {
		t.Fatalf("unexpected combined payout %+v", got[0])
	}
	if got[1].To != treasury || got[1].Amount.Uint64() != 50 {
		t.Fatalf("unexpected platform payout %+v", got[1])
	}
}

func TestPayoutsDropZeroShares(t *testing.T) {
	a := common.HexToAddress("0xa")
	b := common.HexToAddress("0xb")
	c := common.HexToAddress("0xc")

	got := Payouts(ThreeWay.Apply(uint256.NewInt(1)), a, b, c)
	if len(got) != 1 || got[0].To != a || got[0].Amount.Uint64() != 1 {
		t.Fatalf("unexpected payouts %+v", got)
	}
}
