package escrow

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postage.org/internal/asset"
	"postage.org/internal/guard"
	"postage.org/internal/journal"
	"postage.org/internal/ledger"
	"postage.org/internal/platform"
	"postage.org/internal/registry"
	"postage.org/internal/split"
)

var (
	engineID     = common.HexToAddress("0xe000000000000000000000000000000000000000")
	orchestrator = common.HexToAddress("0x0c00000000000000000000000000000000000000")
	admin        = common.HexToAddress("0xad00000000000000000000000000000000000000")
	treasury     = common.HexToAddress("0x7000000000000000000000000000000000000007")
	token        = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	owner        = common.HexToAddress("0x0100000000000000000000000000000000000001")
	appOwner     = common.HexToAddress("0x0200000000000000000000000000000000000002")
	sender       = common.HexToAddress("0x0500000000000000000000000000000000000005")
	other        = common.HexToAddress("0x0600000000000000000000000000000000000006")
)

const topic registry.TopicID = 7

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type timeouts map[registry.TopicID]time.Duration

func (t timeouts) EscrowTimeout(topic registry.TopicID) time.Duration { return t[topic] }

type harness struct {
	j        *journal.Journal
	bank     *ledger.Bank
	clock    *clock
	timeouts timeouts
	ledger   *Ledger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	j := journal.New()
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	bank := ledger.NewBank(j, c.now)
	settings, err := platform.New(j, admin, treasury, split.ThreeWay)
	require.NoError(t, err)
	tos := timeouts{topic: time.Hour}
	l := New(Config{
		Journal:      j,
		Orchestrator: orchestrator,
		Payer:        asset.NewMover(bank, engineID),
		Policy:       settings,
		Timeouts:     tos,
		Now:          c.now,
	})
	return &harness{j: j, bank: bank, clock: c, timeouts: tos, ledger: l}
}

// deposit mints the custodied funds to the engine and records the deposit,
// the way the orchestrator does after pulling them.
func (h *harness) deposit(t *testing.T, a common.Address, amount uint64) Deposit {
	t.Helper()
	require.NoError(t, h.bank.Mint(a, engineID, uint256.NewInt(amount)))
	d, err := h.ledger.RecordDeposit(orchestrator, topic, sender, a, uint256.NewInt(amount), owner, appOwner)
	require.NoError(t, err)
	return d
}

func (h *harness) balance(a, who common.Address) uint64 {
	return h.bank.BalanceOf(a, who).Uint64()
}

func TestRecordDeposit(t *testing.T) {
	h := newHarness(t)

	d := h.deposit(t, token, 200)
	assert.Equal(t, DepositID(1), d.ID)
	assert.Equal(t, StatusPending, d.Status)
	assert.Equal(t, time.Hour, d.Timeout)
	assert.Equal(t, []DepositID{1}, h.ledger.PendingDeposits(topic))
	assert.Equal(t, uint64(200), h.ledger.CustodyBalance(token).Uint64())

	d2 := h.deposit(t, token, 5)
	assert.Equal(t, DepositID(2), d2.ID)
	assert.Equal(t, DepositID(2), h.ledger.LastID())

	_, err := h.ledger.RecordDeposit(other, topic, sender, token, uint256.NewInt(1), owner, appOwner)
	require.ErrorIs(t, err, ErrOnlyOrchestrator)
	_, err = h.ledger.RecordDeposit(orchestrator, topic, sender, token, new(uint256.Int), owner, appOwner)
	require.ErrorIs(t, err, ErrZeroAmount)
}

func TestReleaseSplitsAndEmptiesIndex(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, token, 200)

	released, err := h.ledger.ReleaseForTopic(orchestrator, topic)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, StatusReleased, released[0].Status)

	assert.Equal(t, uint64(180), h.balance(token, owner))
	assert.Equal(t, uint64(10), h.balance(token, appOwner))
	assert.Equal(t, uint64(10), h.balance(token, treasury))
	assert.Empty(t, h.ledger.PendingDeposits(topic))
	assert.True(t, h.ledger.CustodyBalance(token).IsZero())

	status, err := h.ledger.DepositStatus(1)
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, status)

	again, err := h.ledger.ReleaseForTopic(orchestrator, topic)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, uint64(180), h.balance(token, owner))

	h.clock.advance(2 * time.Hour)
	_, err = h.ledger.ClaimRefund(sender, 1)
	require.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestReleaseRequiresOrchestrator(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, token, 200)
	_, err := h.ledger.ReleaseForTopic(owner, topic)
	require.ErrorIs(t, err, ErrOnlyOrchestrator)
}

func TestReleaseEmptyIndexIsNoop(t *testing.T) {
	h := newHarness(t)
	released, err := h.ledger.ReleaseForTopic(orchestrator, topic)
	require.NoError(t, err)
	assert.Empty(t, released)
}

func TestBatchDraining(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 52; i++ {
		h.deposit(t, token, 100)
	}

	released, err := h.ledger.ReleaseForTopic(orchestrator, topic)
	require.NoError(t, err)
	assert.Len(t, released, 50)
	assert.Equal(t, []DepositID{51, 52}, h.ledger.PendingDeposits(topic))

	released, err = h.ledger.ReleaseForTopic(orchestrator, topic)
	require.NoError(t, err)
	assert.Len(t, released, 2)
	assert.Empty(t, h.ledger.PendingDeposits(topic))
	assert.Equal(t, 0, h.ledger.PendingCount())
	assert.Equal(t, uint64(52*90), h.balance(token, owner))
}

func TestReleaseSkipsStaleEntries(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, token, 100)
	h.deposit(t, token, 100)
	h.clock.advance(time.Hour)
	_, err := h.ledger.ClaimRefund(sender, 1)
	require.NoError(t, err)

	// a stale id left behind in the index must not fail the sweep
	h.ledger.pending[topic] = []DepositID{1, 2}

	released, err := h.ledger.ReleaseForTopic(orchestrator, topic)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, DepositID(2), released[0].ID)
	assert.Empty(t, h.ledger.PendingDeposits(topic))
}

func TestRefundAfterTimeout(t *testing.T) {
	h := newHarness(t)
	h.timeouts[topic] = 60 * time.Second
	h.deposit(t, token, 200)

	_, err := h.ledger.ClaimRefund(sender, 1)
	require.ErrorIs(t, err, ErrTimeoutNotExpired)
	assert.False(t, h.ledger.CanClaimRefund(1))

	h.clock.advance(61 * time.Second)
	assert.True(t, h.ledger.CanClaimRefund(1))

	d, err := h.ledger.ClaimRefund(sender, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, d.Status)
	assert.Equal(t, uint64(200), h.balance(token, sender))
	assert.Empty(t, h.ledger.PendingDeposits(topic))
	assert.True(t, h.ledger.CustodyBalance(token).IsZero())

	_, err = h.ledger.ClaimRefund(sender, 1)
	require.ErrorIs(t, err, ErrAlreadyResolved)
	assert.False(t, h.ledger.CanClaimRefund(1))
}

func TestRefundAtExactDeadline(t *testing.T) {
	h := newHarness(t)
	h.timeouts[topic] = time.Minute
	h.deposit(t, token, 1)
	h.clock.advance(time.Minute)
	_, err := h.ledger.ClaimRefund(sender, 1)
	require.NoError(t, err)
}

func TestRefundCheckOrder(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, token, 200)

	_, err := h.ledger.ClaimRefund(sender, 99)
	require.ErrorIs(t, err, ErrDepositNotFound)

	_, err = h.ledger.ReleaseForTopic(orchestrator, topic)
	require.NoError(t, err)

	_, err = h.ledger.ClaimRefund(other, 1)
	require.ErrorIs(t, err, ErrNotDepositor)
	_, err = h.ledger.ClaimRefund(sender, 1)
	require.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestTimeoutSnapshotIsolation(t *testing.T) {
	h := newHarness(t)
	h.timeouts[topic] = time.Hour
	h.deposit(t, token, 10)

	h.timeouts[topic] = time.Minute
	h.clock.advance(2 * time.Minute)
	assert.False(t, h.ledger.CanClaimRefund(1))
	_, err := h.ledger.ClaimRefund(sender, 1)
	require.ErrorIs(t, err, ErrTimeoutNotExpired)

	d, err := h.ledger.Deposit(1)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d.Timeout)
}

func TestRefundSwapsWithLast(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 4; i++ {
		h.deposit(t, token, 10)
	}
	h.clock.advance(time.Hour)

	_, err := h.ledger.ClaimRefund(sender, 2)
	require.NoError(t, err)
	assert.Equal(t, []DepositID{1, 4, 3}, h.ledger.PendingDeposits(topic))
}

func TestBatchClaimRefundsAbortsOnFirstFailure(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.deposit(t, token, 10)
	}
	h.clock.advance(time.Hour)
	_, err := h.ledger.ClaimRefund(sender, 3)
	require.NoError(t, err)

	_, err = h.ledger.BatchClaimRefunds(sender, []DepositID{1, 2, 3})
	require.ErrorIs(t, err, ErrAlreadyResolved)
	for _, id := range []DepositID{1, 2} {
		status, err := h.ledger.DepositStatus(id)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, status, "deposit %d", id)
	}
	assert.Equal(t, uint64(10), h.balance(token, sender))
	assert.Equal(t, uint64(20), h.ledger.CustodyBalance(token).Uint64())

	refunded, err := h.ledger.BatchClaimRefunds(sender, []DepositID{1, 2})
	require.NoError(t, err)
	assert.Len(t, refunded, 2)
	assert.Equal(t, uint64(30), h.balance(token, sender))
	assert.Empty(t, h.ledger.PendingDeposits(topic))
}

func TestBatchClaimRefundsTooLarge(t *testing.T) {
	h := newHarness(t)
	_, err := h.ledger.BatchClaimRefunds(sender, make([]DepositID, MaxBatch+1))
	require.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestNativeRejectionRollsBackRelease(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, asset.Native, 200)
	h.bank.OnReceive(appOwner, func(_, _ common.Address, _ *uint256.Int) error {
		return errors.New("not accepting")
	})

	_, err := h.ledger.ReleaseForTopic(orchestrator, topic)
	require.ErrorIs(t, err, asset.ErrNativeTransferFailed)

	status, err := h.ledger.DepositStatus(1)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
	assert.Equal(t, []DepositID{1}, h.ledger.PendingDeposits(topic))
	assert.Equal(t, uint64(200), h.ledger.CustodyBalance(asset.Native).Uint64())
	assert.Zero(t, h.balance(asset.Native, owner))
	assert.Equal(t, uint64(200), h.balance(asset.Native, engineID))
}

func TestReentrantRefundDuringReleaseIsRejected(t *testing.T) {
	h := newHarness(t)
	h.timeouts[topic] = time.Minute
	h.deposit(t, asset.Native, 100)
	h.deposit(t, asset.Native, 100)
	h.clock.advance(time.Hour)

	var reentry error
	h.bank.OnReceive(owner, func(_, _ common.Address, _ *uint256.Int) error {
		_, reentry = h.ledger.ClaimRefund(sender, 2)
		return nil
	})

	released, err := h.ledger.ReleaseForTopic(orchestrator, topic)
	require.NoError(t, err)
	require.ErrorIs(t, reentry, guard.ErrReentrantCall)
	assert.Len(t, released, 2)
	assert.Zero(t, h.balance(asset.Native, sender))
}

func TestCustodyMatchesPendingDeposits(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, token, 70)
	h.deposit(t, asset.Native, 30)
	h.deposit(t, token, 5)
	h.clock.advance(time.Hour)
	_, err := h.ledger.ClaimRefund(sender, 1)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), h.ledger.CustodyBalance(token).Uint64())
	assert.Equal(t, uint64(30), h.ledger.CustodyBalance(asset.Native).Uint64())
	assert.Equal(t, 2, h.ledger.PendingCount())
}
