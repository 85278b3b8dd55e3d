package engine

import (
	"errors"

	"postage.org/internal/asset"
	"postage.org/internal/escrow"
	"postage.org/internal/feeconfig"
	"postage.org/internal/guard"
	"postage.org/internal/ledger"
	"postage.org/internal/platform"
	"postage.org/internal/registry"
	"postage.org/internal/split"
)

// Class groups errors for metrics and transport status codes.
type Class string

const (
	ClassAuthorization Class = "authorization"
	ClassState         Class = "state"
	ClassInput         Class = "input"
	ClassTransfer      Class = "transfer"
	ClassInternal      Class = "internal"
)

// ErrInvalidInput is returned for malformed arguments caught at the facade.
var ErrInvalidInput = errors.New("engine: invalid input")

type kind struct {
	err   error
	code  string
	class Class
}

var kinds = []kind{
	{feeconfig.ErrNotTopicOwner, "NotTopicOwner", ClassAuthorization},
	{feeconfig.ErrNotAuthorized, "NotAuthorized", ClassAuthorization},
	{escrow.ErrOnlyOrchestrator, "OnlyOrchestrator", ClassAuthorization},
	{escrow.ErrNotDepositor, "NotDepositor", ClassAuthorization},
	{platform.ErrNotAdmin, "NotAdmin", ClassAuthorization},

	{registry.ErrTopicNotFound, "TopicNotFound", ClassState},
	{registry.ErrApplicationNotFound, "ApplicationNotFound", ClassState},
	{escrow.ErrDepositNotFound, "DepositNotFound", ClassState},
	{escrow.ErrAlreadyResolved, "AlreadyResolved", ClassState},
	{escrow.ErrTimeoutNotExpired, "TimeoutNotExpired", ClassState},
	{guard.ErrReentrantCall, "ReentrantCall", ClassState},

	{feeconfig.ErrInvalidTimeout, "InvalidTimeout", ClassInput},
	{feeconfig.ErrBatchTooLarge, "BatchTooLarge", ClassInput},
	{escrow.ErrBatchTooLarge, "BatchTooLarge", ClassInput},
	{feeconfig.ErrArrayLengthMismatch, "ArrayLengthMismatch", ClassInput},
	{asset.ErrInsufficientNativePayment, "InsufficientNativePayment", ClassInput},
	{asset.ErrNativeValueMismatch, "NativeValueMismatch", ClassInput},
	{split.ErrInvalidPolicy, "InvalidPolicy", ClassInput},
	{platform.ErrZeroAddress, "ZeroAddress", ClassInput},
	{platform.ErrReservedTreasury, "ReservedTreasury", ClassInput},
	{escrow.ErrZeroAmount, "ZeroAmount", ClassInput},
	{ledger.ErrInvalidAmount, "InvalidAmount", ClassInput},
	{ErrInvalidInput, "InvalidInput", ClassInput},

	{asset.ErrNativeTransferFailed, "NativeTransferFailed", ClassTransfer},
	{asset.ErrInsufficientBalance, "InsufficientBalance", ClassTransfer},
	{asset.ErrInsufficientAllowance, "InsufficientAllowance", ClassTransfer},
	{asset.ErrTransferRejected, "TransferRejected", ClassTransfer},
}

func lookup(err error) (kind, bool) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k, true
		}
	}
	return kind{}, false
}

// Classify places err in the error taxonomy. Unrecognised errors are internal.
func Classify(err error) Class {
	if k, ok := lookup(err); ok {
		return k.class
	}
	return ClassInternal
}

// Code returns the stable error code clients match on.
func Code(err error) string {
	if k, ok := lookup(err); ok {
		return k.code
	}
	return "Internal"
}

// IsNotFound reports whether err means a referenced record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, registry.ErrTopicNotFound) ||
		errors.Is(err, registry.ErrApplicationNotFound) ||
		errors.Is(err, escrow.ErrDepositNotFound)
}
