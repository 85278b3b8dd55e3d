package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"postage.org/internal/asset"
	"postage.org/internal/escrow"
	"postage.org/internal/feeconfig"
	"postage.org/internal/guard"
	"postage.org/internal/platform"
	"postage.org/internal/registry"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err   error
		class Class
		code  string
	}{
		{feeconfig.ErrNotTopicOwner, ClassAuthorization, "NotTopicOwner"},
		{escrow.ErrOnlyOrchestrator, ClassAuthorization, "OnlyOrchestrator"},
		{fmt.Errorf("refund deposit 4: %w", escrow.ErrNotDepositor), ClassAuthorization, "NotDepositor"},
		{fmt.Errorf("%w: 9", registry.ErrTopicNotFound), ClassState, "TopicNotFound"},
		{escrow.ErrTimeoutNotExpired, ClassState, "TimeoutNotExpired"},
		{guard.ErrReentrantCall, ClassState, "ReentrantCall"},
		{escrow.ErrBatchTooLarge, ClassInput, "BatchTooLarge"},
		{feeconfig.ErrArrayLengthMismatch, ClassInput, "ArrayLengthMismatch"},
		{asset.ErrNativeValueMismatch, ClassInput, "NativeValueMismatch"},
		{fmt.Errorf("release deposit 1: %w", asset.ErrNativeTransferFailed), ClassTransfer, "NativeTransferFailed"},
		{asset.ErrInsufficientAllowance, ClassTransfer, "InsufficientAllowance"},
		{fmt.Errorf("set treasury: %w", platform.ErrReservedTreasury), ClassInput, "ReservedTreasury"},
		{errors.New("disk on fire"), ClassInternal, "Internal"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.class, Classify(tc.err), "Classify(%v)", tc.err)
		assert.Equal(t, tc.code, Code(tc.err), "Code(%v)", tc.err)
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("x: %w", escrow.ErrDepositNotFound)))
	assert.True(t, IsNotFound(registry.ErrApplicationNotFound))
	assert.False(t, IsNotFound(escrow.ErrAlreadyResolved), "AlreadyResolved is not a missing record")
}
