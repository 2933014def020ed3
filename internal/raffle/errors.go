package raffle

import "errors"

var (
	ErrInsufficientFee    = errors.New("insufficient entrance fee")
	ErrRoundNotOpen       = errors.New("round is not open")
	ErrUpkeepNotNeeded    = errors.New("upkeep not needed")
	ErrInvalidState       = errors.New("invalid round state")
	ErrUnknownRequest     = errors.New("unknown randomness request")
	ErrTransferFailed     = errors.New("payout transfer failed")
	ErrIndexOutOfRange    = errors.New("entry index out of range")
	ErrRequestFailed      = errors.New("randomness request failed")
	ErrInvalidRandomWord  = errors.New("invalid random word")
	ErrConfigMismatch     = errors.New("stored round does not match configuration")
	ErrPersistFailed      = errors.New("failed to persist round")
	ErrInvalidParticipant = errors.New("invalid participant")
	ErrPayoutNotPersisted = errors.New("payout sent but round not persisted")
	ErrEscrowOverflow     = errors.New("escrow balance overflow")
)
