package arena

import "errors"

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrMatchGone         = errors.New("match no longer exists")
	ErrNotParticipant    = errors.New("caller is not a participant of this match")
	ErrWrongRole         = errors.New("operation not allowed for this side")
	ErrInvalidState      = errors.New("operation not allowed in the current match status")
	ErrInvalidBet        = errors.New("invalid bet")
	ErrInvalidScore      = errors.New("invalid score")
	ErrInvitePending     = errors.New("an outbound invitation is still pending")
	ErrInvalidRecord     = errors.New("malformed record")
	ErrEscrowPending     = errors.New("another client is still escrowing this side")
)

// internal outcomes of an update function
var (
	errNoop   = errors.New("no change")
	errDelete = errors.New("delete record")
)
