package core

import "errors"

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// Game state machine errors. Every rejection is atomic: when one of these is
// returned no state has been mutated and no funds have moved, except for
// ErrIncorrectAnswer, which consumes the caller's commitment (a commitment
// is a single-use ticket, spent by the attempt that it adjudicates).
var (
	// ErrAlreadySolved rejects mutating calls after the game reached its
	// terminal state. Tile-key fulfillment is exempt on purpose.
	ErrAlreadySolved = errors.New("game already solved")

	// ErrInvalidPayment rejects a reveal request whose payment is not exactly
	// the game's tile price, and malformed construction-time vectors.
	ErrInvalidPayment = errors.New("invalid payment")

	// ErrInvalidTileIndex rejects tile indexes outside [0, tile_count).
	ErrInvalidTileIndex = errors.New("tile index out of range")

	// ErrTileAlreadyRevealed rejects a paid reveal request for a tile whose
	// key has already been published.
	ErrTileAlreadyRevealed = errors.New("tile already revealed")

	// ErrNoCommitment rejects a solve with no preceding live commitment.
	ErrNoCommitment = errors.New("no live commitment for caller")

	// ErrIncorrectAnswer reports that the self-consistency check or the
	// correctness check failed. The commitment has been consumed.
	ErrIncorrectAnswer = errors.New("incorrect answer")

	// ErrCommitTooFresh rejects a solve that arrives before the game's
	// minimum commit-to-solve delay has elapsed. The commitment survives.
	ErrCommitTooFresh = errors.New("commitment too fresh")
)
