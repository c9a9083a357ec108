package errors

import stderrors "errors"

// Setup-time failures.
var (
	ErrDuplicateMember    = stderrors.New("bridge: duplicate committee member")
	ErrStakeMismatch      = stderrors.New("bridge: committee stake does not sum to total")
	ErrNotInitialized     = stderrors.New("bridge: committee not initialised")
	ErrAlreadyInitialized = stderrors.New("bridge: committee already initialised")
)

// Verification-time failures. The instruction is rejected with no state change.
var (
	ErrTypeMismatch      = stderrors.New("bridge: message type mismatch")
	ErrMalformedPayload  = stderrors.New("bridge: malformed payload")
	ErrDuplicateSigner   = stderrors.New("bridge: duplicate signer")
	ErrUnknownSigner     = stderrors.New("bridge: signer is not a committee member")
	ErrInsufficientStake = stderrors.New("bridge: insufficient stake")
)

// Sequencing-time failures.
var (
	ErrNonceMismatch    = stderrors.New("bridge: nonce mismatch")
	ErrAlreadyProcessed = stderrors.New("bridge: message already processed")
)

// Conversion-time failures.
var (
	ErrUnsupportedAsset  = stderrors.New("bridge: unsupported asset")
	ErrPrecisionInverted = stderrors.New("bridge: native precision below foreign precision")
	ErrAmountOverflow    = stderrors.New("bridge: amount overflow")
)

// Settlement and dispatch failures.
var (
	ErrSettlementFailed = stderrors.New("bridge: settlement failed")
	ErrBridgePaused     = stderrors.New("bridge: paused")
	ErrPauseUnchanged   = stderrors.New("bridge: pause state unchanged")
	ErrUnknownMember    = stderrors.New("bridge: blocklist references unknown member")
	ErrReentrant        = stderrors.New("bridge: re-entrant call")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrDuplicateMember, "DuplicateMember"},
	{ErrStakeMismatch, "StakeMismatch"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrTypeMismatch, "TypeMismatch"},
	{ErrMalformedPayload, "MalformedPayload"},
	{ErrDuplicateSigner, "DuplicateSigner"},
	{ErrUnknownSigner, "UnknownSigner"},
	{ErrInsufficientStake, "InsufficientStake"},
	{ErrNonceMismatch, "NonceMismatch"},
	{ErrAlreadyProcessed, "AlreadyProcessed"},
	{ErrUnsupportedAsset, "UnsupportedAsset"},
	{ErrPrecisionInverted, "PrecisionInverted"},
	{ErrAmountOverflow, "AmountOverflow"},
	// SettlementFailed is matched before the causes it wraps.
	{ErrSettlementFailed, "SettlementFailed"},
	{ErrBridgePaused, "BridgePaused"},
	{ErrPauseUnchanged, "PauseUnchanged"},
	{ErrUnknownMember, "UnknownMember"},
	{ErrReentrant, "Reentrant"},
}

// Kind returns the stable name of the taxonomy entry wrapped by err, "" for a
// nil error and "Internal" for anything outside the taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if stderrors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
