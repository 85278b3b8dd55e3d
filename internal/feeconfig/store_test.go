package feeconfig

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postage.org/internal/journal"
	"postage.org/internal/registry"
)

var (
	token      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	topicOwner = common.HexToAddress("0x0100000000000000000000000000000000000001")
	appOwner   = common.HexToAddress("0x0200000000000000000000000000000000000002")
	appAdmin   = common.HexToAddress("0x0300000000000000000000000000000000000003")
	topicAdmin = common.HexToAddress("0x0400000000000000000000000000000000000004")
	stranger   = common.HexToAddress("0x0600000000000000000000000000000000000006")
)

func newStore(t *testing.T) (*Store, *journal.Journal) {
	t.Helper()
	reg := registry.NewMemory()
	reg.PutApplication(registry.Application{ID: 1, Owner: appOwner})
	require.NoError(t, reg.PutTopic(registry.Topic{ID: 10, App: 1, Owner: topicOwner}))
	require.NoError(t, reg.PutTopic(registry.Topic{ID: 11, App: 1, Owner: topicOwner}))
	reg.SetRoles(1, appAdmin, registry.RoleAdmin)
	reg.SetPermission(10, topicAdmin, registry.PermissionAdmin)
	j := journal.New()
	return New(j, reg), j
}

func TestSetTopicMessageFeeAuthority(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	for _, caller := range []common.Address{topicOwner, topicAdmin, appAdmin} {
		require.NoError(t, s.SetTopicMessageFee(ctx, caller, 10, token, uint256.NewInt(200)), caller.Hex())
	}
	err := s.SetTopicMessageFee(ctx, stranger, 10, token, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrNotAuthorized)

	err = s.SetTopicMessageFee(ctx, topicOwner, 99, token, uint256.NewInt(1))
	require.ErrorIs(t, err, registry.ErrTopicNotFound)

	fee := s.TopicMessageFee(10)
	assert.True(t, fee.IsSet())
	assert.Equal(t, token, fee.Asset)
	assert.Equal(t, uint64(200), fee.Amount.Uint64())
}

func TestUnsetFee(t *testing.T) {
	s, _ := newStore(t)
	fee := s.TopicMessageFee(10)
	assert.False(t, fee.IsSet())
	assert.True(t, fee.Amount.IsZero())
	assert.False(t, s.AppTopicCreationFee(1).IsSet())
}

func TestStoredFeeIsIsolatedFromCaller(t *testing.T) {
	s, _ := newStore(t)
	amount := uint256.NewInt(200)
	require.NoError(t, s.SetTopicMessageFee(context.Background(), topicOwner, 10, token, amount))
	amount.SetUint64(1)

	got := s.TopicMessageFee(10)
	got.Amount.SetUint64(7)
	assert.Equal(t, uint64(200), s.TopicMessageFee(10).Amount.Uint64())
}

func TestSetTopicMessageFeesIsAllOrNothing(t *testing.T) {
	s, j := newStore(t)
	ctx := context.Background()

	err := s.SetTopicMessageFees(ctx, topicOwner,
		[]registry.TopicID{10, 11},
		[]common.Address{token},
		[]*uint256.Int{uint256.NewInt(1), uint256.NewInt(2)})
	require.ErrorIs(t, err, ErrArrayLengthMismatch)

	topics := make([]registry.TopicID, MaxBatch+1)
	assets := make([]common.Address, MaxBatch+1)
	amounts := make([]*uint256.Int, MaxBatch+1)
	err = s.SetTopicMessageFees(ctx, topicOwner, topics, assets, amounts)
	require.ErrorIs(t, err, ErrBatchTooLarge)

	err = j.Atomic(func() error {
		return s.SetTopicMessageFees(ctx, topicOwner,
			[]registry.TopicID{10, 11, 99},
			[]common.Address{token, token, token},
			[]*uint256.Int{uint256.NewInt(1), uint256.NewInt(2), uint256.NewInt(3)})
	})
	require.ErrorIs(t, err, registry.ErrTopicNotFound)
	assert.False(t, s.TopicMessageFee(10).IsSet())
	assert.False(t, s.TopicMessageFee(11).IsSet())

	require.NoError(t, s.SetTopicMessageFees(ctx, topicOwner,
		[]registry.TopicID{10, 11},
		[]common.Address{token, token},
		[]*uint256.Int{uint256.NewInt(1), uint256.NewInt(2)}))
	assert.Equal(t, uint64(2), s.TopicMessageFee(11).Amount.Uint64())
}

func TestSetAppTopicCreationFee(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetAppTopicCreationFee(ctx, appOwner, 1, token, uint256.NewInt(5)))
	require.NoError(t, s.SetAppTopicCreationFee(ctx, appAdmin, 1, token, uint256.NewInt(6)))
	require.ErrorIs(t, s.SetAppTopicCreationFee(ctx, topicOwner, 1, token, uint256.NewInt(7)), ErrNotAuthorized)
	require.ErrorIs(t, s.SetAppTopicCreationFee(ctx, appOwner, 2, token, uint256.NewInt(7)), registry.ErrApplicationNotFound)
	assert.Equal(t, uint64(6), s.AppTopicCreationFee(1).Amount.Uint64())
}

func TestEscrowSettings(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.ErrorIs(t, s.EnableEscrow(ctx, topicAdmin, 10, time.Hour), ErrNotTopicOwner)
	require.ErrorIs(t, s.EnableEscrow(ctx, topicOwner, 10, 59*time.Second), ErrInvalidTimeout)
	require.ErrorIs(t, s.EnableEscrow(ctx, topicOwner, 10, MaxEscrowTimeout+time.Second), ErrInvalidTimeout)

	require.NoError(t, s.EnableEscrow(ctx, topicOwner, 10, MinEscrowTimeout))
	require.NoError(t, s.EnableEscrow(ctx, topicOwner, 10, MaxEscrowTimeout))
	assert.True(t, s.IsEscrowEnabled(10))

	require.ErrorIs(t, s.DisableEscrow(ctx, stranger, 10), ErrNotTopicOwner)
	require.NoError(t, s.DisableEscrow(ctx, topicOwner, 10))
	assert.Equal(t, EscrowConfig{Enabled: false, Timeout: MaxEscrowTimeout}, s.Escrow(10))
}

func TestWritesRollBack(t *testing.T) {
	s, j := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := j.Atomic(func() error {
		require.NoError(t, s.EnableEscrow(ctx, topicOwner, 10, time.Hour))
		require.NoError(t, s.SetAppTopicCreationFee(ctx, appOwner, 1, token, uint256.NewInt(5)))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, s.IsEscrowEnabled(10))
	assert.False(t, s.AppTopicCreationFee(1).IsSet())
}
