package escrow

import "errors"

// The error strings below are part of the external contract: clients match on
// them verbatim, so they keep their exact wording regardless of local style.
var (
	// ErrOnlyDepositorFund rejects fund calls from anyone but the depositor.
	ErrOnlyDepositorFund = errors.New("Only depositor can fund")
	// ErrAlreadyFunded rejects a second successful fund call.
	ErrAlreadyFunded = errors.New("Already funded")
	// ErrZeroValue rejects funding with no attached value.
	ErrZeroValue = errors.New("Must send some Ether")

	// ErrNotFunded rejects release/reclaim before funding (or after the
	// deposit has been reclaimed to zero).
	ErrNotFunded = errors.New("Not funded")
	// ErrAlreadyReleased rejects a second resolution of the agreement.
	ErrAlreadyReleased = errors.New("Already released")
	// ErrDeadlineExpired rejects release once the deadline has passed.
	ErrDeadlineExpired = errors.New("Deadline has passed")
	// ErrAmountExceedsDeposit rejects release of more than was deposited.
	ErrAmountExceedsDeposit = errors.New("Amount exceeds deposit")
	// ErrInvalidSignatureLength rejects signatures that are not 65 bytes.
	ErrInvalidSignatureLength = errors.New("Invalid signature length")
	// ErrInvalidSignature rejects signatures not recovering to the depositor.
	ErrInvalidSignature = errors.New("Invalid signature")
	// ErrFeeTransferFailed surfaces a rejected fee-share transfer.
	ErrFeeTransferFailed = errors.New("Fee transfer failed")
	// ErrPayeeTransferFailed surfaces a rejected payout transfer.
	ErrPayeeTransferFailed = errors.New("Payee transfer failed")

	// ErrOnlyDepositorReclaim rejects reclaim calls from anyone else.
	ErrOnlyDepositorReclaim = errors.New("Only depositor can reclaim")
	// ErrDeadlineNotReached rejects reclaim at or before the deadline.
	ErrDeadlineNotReached = errors.New("Deadline not passed")
	// ErrReclaimTransferFailed surfaces a rejected refund transfer.
	ErrReclaimTransferFailed = errors.New("Transfer failed")

	// ErrNotEmpty rejects self-removal while the instance still holds value.
	ErrNotEmpty = errors.New("Contract must be empty")

	// ErrInvalidDepositor rejects creation with a zero depositor address.
	ErrInvalidDepositor = errors.New("Invalid Depositor")
	// ErrInvalidPayee rejects creation with a zero payee address.
	ErrInvalidPayee = errors.New("Invalid Payee")
	// ErrInvalidDeadline rejects creation with a deadline not in the future.
	ErrInvalidDeadline = errors.New("Invalid Deadline")
	// ErrDeploymentFailed rejects creation when the derived address is
	// already occupied (salt reuse with identical parameters).
	ErrDeploymentFailed = errors.New("Deployment failed")

	// ErrNoFees rejects fee withdrawal when the registry holds nothing.
	ErrNoFees = errors.New("No fees to withdraw")
	// ErrWithdrawalFailed surfaces a rejected fee-recipient transfer.
	ErrWithdrawalFailed = errors.New("Fee withdrawal failed")
	// ErrPaused gates new-agreement creation while the registry is paused.
	ErrPaused = errors.New("Registry is paused")
)

// Internal failures keep the module's own error convention.
var (
	errNilState             = errors.New("escrow engine: state not configured")
	errAgreementNotFound    = errors.New("escrow engine: agreement not found")
	errRegistryNotFound     = errors.New("escrow engine: registry not initialised")
	errReentrantCall        = errors.New("escrow engine: reentrant call")
	errNotOwner             = errors.New("escrow engine: caller is not the registry owner")
	errNotPendingOwner      = errors.New("escrow engine: caller is not the pending owner")
	errInvalidPendingOwner  = errors.New("escrow engine: pending owner must not be the zero address")
	errInsufficientBalance  = errors.New("escrow engine: insufficient balance")
	errNegativeTransfer     = errors.New("escrow engine: negative transfer amount")
	errRegistryFeeRecipient = errors.New("escrow engine: fee recipient must not be the zero address")
	errRegistryOwner        = errors.New("escrow engine: owner must not be the zero address")
)
