package asset_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"postage.org/internal/asset"
	"postage.org/internal/journal"
	"postage.org/internal/ledger"
)

var (
	engineID = common.HexToAddress("0xe000000000000000000000000000000000000000")
	token    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	payer    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	payee    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func setup(t *testing.T) (*asset.Mover, *ledger.Bank) {
	t.Helper()
	bank := ledger.NewBank(journal.New(), nil)
	if err := bank.Mint(token, payer, uint256.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if err := bank.Mint(asset.Native, payer, uint256.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	return asset.NewMover(bank, engineID), bank
}

func TestKindOf(t *testing.T) {
	if asset.KindOf(asset.Native) != asset.KindNative || asset.KindOf(token) != asset.KindToken {
		t.Fatal("unexpected asset kinds")
	}
	if asset.KindNative.String() != "native" || asset.KindToken.String() != "token" {
		t.Fatal("unexpected kind names")
	}
}

func TestCheckPull(t *testing.T) {
	m, bank := setup(t)

	if err := m.CheckPull(token, payer, uint256.NewInt(200)); !errors.Is(err, asset.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := m.CheckPull(token, payer, uint256.NewInt(50)); !errors.Is(err, asset.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := bank.Approve(token, payer, engineID, uint256.NewInt(50)); err != nil {
		t.Fatal(err)
	}
	if err := m.CheckPull(token, payer, uint256.NewInt(50)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPullSkipsZero(t *testing.T) {
	m, bank := setup(t)
	if err := m.Pull(token, payer, payee, new(uint256.Int)); err != nil {
		t.Fatal(err)
	}
	if recs, _ := bank.ListTransfers(10, 0); len(recs) != 0 {
		t.Fatalf("zero pull produced a transfer: %+v", recs)
	}
}

func TestReceiveAndPayNative(t *testing.T) {
	m, bank := setup(t)

	if err := m.Receive(payer, uint256.NewInt(60)); err != nil {
		t.Fatal(err)
	}
	if err := m.Pay(asset.Native, payee, uint256.NewInt(40)); err != nil {
		t.Fatal(err)
	}
	if got := bank.BalanceOf(asset.Native, engineID).Uint64(); got != 20 {
		t.Fatalf("unexpected custody %d", got)
	}
	if err := m.Receive(payer, uint256.NewInt(60)); !errors.Is(err, asset.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestPayNativeRejected(t *testing.T) {
	m, bank := setup(t)
	if err := m.Receive(payer, uint256.NewInt(10)); err != nil {
		t.Fatal(err)
	}
	bank.OnReceive(payee, func(_, _ common.Address, _ *uint256.Int) error {
		return errors.New("rejected")
	})

	if err := m.Pay(asset.Native, payee, uint256.NewInt(10)); !errors.Is(err, asset.ErrNativeTransferFailed) {
		t.Fatalf("expected ErrNativeTransferFailed, got %v", err)
	}
	if got := bank.BalanceOf(asset.Native, engineID).Uint64(); got != 10 {
		t.Fatalf("custody changed on failed push: %d", got)
	}
}

func TestOverpayment(t *testing.T) {
	got, err := asset.Overpayment(uint256.NewInt(250), uint256.NewInt(200))
	if err != nil || got.Uint64() != 50 {
		t.Fatalf("unexpected overpayment %v %v", got, err)
	}
	if _, err := asset.Overpayment(uint256.NewInt(199), uint256.NewInt(200)); !errors.Is(err, asset.ErrInsufficientNativePayment) {
		t.Fatalf("expected ErrInsufficientNativePayment, got %v", err)
	}
}
